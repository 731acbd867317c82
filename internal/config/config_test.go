package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OrsiniBr/DoTrust/internal/domain/apperr"
)

func validSettlementEnv(t *testing.T) {
	t.Helper()
	t.Setenv("RPC_URL", "http://localhost:8545")
	t.Setenv("LEDGER_ADDRESS", "0x9999999999999999999999999999999999999999")
	t.Setenv("AUTHORIZER_PRIVATE_KEY", "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318")
	t.Setenv("CHAIN_ID", "4202")
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DOTRUST_CONFIG", "")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("SCHEDULER_INTERVAL", "")
	t.Setenv("LOCK_BACKEND", "")
	t.Setenv("RELAYER_PRIVATE_KEY", "")
	validSettlementEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Contains(t, cfg.DatabaseURL, "postgres://")
	assert.Equal(t, "memory", cfg.LockBackend)
	assert.Equal(t, 5*time.Second, cfg.SchedulerInterval)
	assert.Equal(t, "gpt-4o-mini", cfg.OpenAIModel)
	assert.Equal(t, int64(4202), cfg.ChainID)
	assert.Equal(t, cfg.AuthorizerPrivateKey, cfg.RelayerPrivateKey, "relayer falls back to the authorizer key")
	assert.NoError(t, cfg.Validate())
}

func TestLoad_YAMLOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dotrust.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server_addr: "127.0.0.1:9000"
lock_backend: redis
scheduler_interval: 0s
moderation_workers: 8
openai_model: gpt-4o
`), 0o600))

	t.Setenv("DOTRUST_CONFIG", path)
	t.Setenv("SERVER_ADDR", "")
	t.Setenv("LOCK_BACKEND", "")
	t.Setenv("SCHEDULER_INTERVAL", "")
	t.Setenv("MODERATION_WORKERS", "")
	t.Setenv("OPENAI_MODEL", "gpt-4.1-mini")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.ServerAddr)
	assert.Equal(t, "redis", cfg.LockBackend)
	assert.Equal(t, time.Duration(0), cfg.SchedulerInterval)
	assert.Equal(t, 8, cfg.ModerationWorkers)
	assert.Equal(t, "gpt-4.1-mini", cfg.OpenAIModel, "environment wins over the file")
}

func TestLoad_BadChainID(t *testing.T) {
	t.Setenv("DOTRUST_CONFIG", "")
	t.Setenv("CHAIN_ID", "mainnet")

	_, err := Load()
	require.Error(t, err)
	assert.Equal(t, apperr.KindConfiguration, apperr.KindOf(err))
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			StoreBackend:         "postgres",
			LockBackend:          "memory",
			ModerationWorkers:    1,
			SettlementEnabled:    true,
			RPCURL:               "http://localhost:8545",
			ChainID:              4202,
			LedgerAddress:        "0x9999999999999999999999999999999999999999",
			AuthorizerPrivateKey: "abc",
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing ledger address", func(c *Config) { c.LedgerAddress = "" }},
		{"missing rpc", func(c *Config) { c.RPCURL = "" }},
		{"missing key", func(c *Config) { c.AuthorizerPrivateKey = "" }},
		{"missing chain", func(c *Config) { c.ChainID = 0 }},
		{"bad lock backend", func(c *Config) { c.LockBackend = "etcd" }},
		{"bad store backend", func(c *Config) { c.StoreBackend = "mongo" }},
		{"no workers", func(c *Config) { c.ModerationWorkers = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, apperr.IsKind(err, apperr.KindConfiguration))
		})
	}

	t.Run("settlement disabled skips ledger checks", func(t *testing.T) {
		cfg := base()
		cfg.SettlementEnabled = false
		cfg.LedgerAddress = ""
		assert.NoError(t, cfg.Validate())
	})
}
