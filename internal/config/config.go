package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/OrsiniBr/DoTrust/internal/domain/apperr"
)

// Config holds service configuration.
type Config struct {
	DatabaseURL string
	ServerAddr  string
	LogLevel    string
	AdminToken  string

	// Persistence: "postgres" or "memory".
	StoreBackend string
	// Locking: "memory" or "redis".
	LockBackend string
	RedisAddr   string
	LockTTL     time.Duration

	NATSURL string

	SchedulerInterval time.Duration
	SchedulerBatch    int

	ModerationWorkers   int
	ModerationQueueSize int
	ClassifierTimeout   time.Duration
	OpenAIAPIKey        string
	OpenAIBaseURL       string
	OpenAIModel         string

	SettlementEnabled    bool
	RPCURL               string
	ChainID              int64
	LedgerAddress        string
	AuthorizerPrivateKey string
	RelayerPrivateKey    string
	ConfirmationTimeout  time.Duration
}

// fileConfig is the optional YAML overlay. Empty fields are ignored.
type fileConfig struct {
	DatabaseURL       string `yaml:"database_url"`
	ServerAddr        string `yaml:"server_addr"`
	LogLevel          string `yaml:"log_level"`
	StoreBackend      string `yaml:"store_backend"`
	LockBackend       string `yaml:"lock_backend"`
	RedisAddr         string `yaml:"redis_addr"`
	NATSURL           string `yaml:"nats_url"`
	SchedulerInterval string `yaml:"scheduler_interval"`
	ModerationWorkers int    `yaml:"moderation_workers"`
	OpenAIBaseURL     string `yaml:"openai_base_url"`
	OpenAIModel       string `yaml:"openai_model"`
	RPCURL            string `yaml:"rpc_url"`
	ChainID           int64  `yaml:"chain_id"`
	LedgerAddress     string `yaml:"ledger_address"`
}

// Load reads configuration from an optional .env file, an optional YAML file
// named by DOTRUST_CONFIG, and the environment. Environment wins.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	var fc fileConfig
	if path := os.Getenv("DOTRUST_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	dsn := getenv("DATABASE_URL", fc.DatabaseURL)
	if dsn == "" {
		user := getenv("POSTGRES_USER", "dotrust")
		pass := getenv("POSTGRES_PASSWORD", "dotrust_pass")
		db := getenv("POSTGRES_DB", "dotrust")
		host := getenv("POSTGRES_HOST", "localhost")
		port := getenv("POSTGRES_PORT", "5432")
		sslmode := getenv("DATABASE_SSLMODE", "disable")
		dsn = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", user, pass, host, port, db, sslmode)
	}

	authorizer := os.Getenv("AUTHORIZER_PRIVATE_KEY")
	chainID := fc.ChainID
	if v := os.Getenv("CHAIN_ID"); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, apperr.Configuration("config.Load", "CHAIN_ID must be an integer")
		}
		chainID = parsed
	}

	cfg := &Config{
		DatabaseURL:  dsn,
		ServerAddr:   getenv("SERVER_ADDR", or(fc.ServerAddr, "0.0.0.0:8080")),
		LogLevel:     getenv("LOG_LEVEL", or(fc.LogLevel, "info")),
		AdminToken:   os.Getenv("ADMIN_TOKEN"),
		StoreBackend: strings.ToLower(getenv("STORE_BACKEND", or(fc.StoreBackend, "postgres"))),
		LockBackend:  strings.ToLower(getenv("LOCK_BACKEND", or(fc.LockBackend, "memory"))),
		RedisAddr:    getenv("REDIS_ADDR", or(fc.RedisAddr, "localhost:6379")),
		LockTTL:      parseDuration(os.Getenv("LOCK_TTL"), 10*time.Second),
		NATSURL:      getenv("NATS_URL", fc.NATSURL),

		SchedulerInterval: parseDuration(getenv("SCHEDULER_INTERVAL", or(fc.SchedulerInterval, "5s")), 5*time.Second),
		SchedulerBatch:    parseInt(os.Getenv("SCHEDULER_BATCH"), 100),

		ModerationWorkers:   parseInt(os.Getenv("MODERATION_WORKERS"), orInt(fc.ModerationWorkers, 4)),
		ModerationQueueSize: parseInt(os.Getenv("MODERATION_QUEUE_SIZE"), 1024),
		ClassifierTimeout:   parseDuration(os.Getenv("CLASSIFIER_TIMEOUT"), 15*time.Second),
		OpenAIAPIKey:        os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL:       getenv("OPENAI_BASE_URL", fc.OpenAIBaseURL),
		OpenAIModel:         getenv("OPENAI_MODEL", or(fc.OpenAIModel, "gpt-4o-mini")),

		SettlementEnabled:    parseBool(os.Getenv("SETTLEMENT_ENABLED"), true),
		RPCURL:               getenv("RPC_URL", fc.RPCURL),
		ChainID:              chainID,
		LedgerAddress:        getenv("LEDGER_ADDRESS", fc.LedgerAddress),
		AuthorizerPrivateKey: authorizer,
		RelayerPrivateKey:    getenv("RELAYER_PRIVATE_KEY", authorizer),
		ConfirmationTimeout:  parseDuration(os.Getenv("CONFIRMATION_TIMEOUT"), 2*time.Minute),
	}
	return cfg, nil
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case "postgres", "memory":
	default:
		return apperr.Configuration("config.Validate", "STORE_BACKEND must be postgres or memory")
	}
	switch c.LockBackend {
	case "memory", "redis":
	default:
		return apperr.Configuration("config.Validate", "LOCK_BACKEND must be memory or redis")
	}
	if c.ModerationWorkers < 1 {
		return apperr.Configuration("config.Validate", "MODERATION_WORKERS must be positive")
	}
	if !c.SettlementEnabled {
		return nil
	}
	if c.RPCURL == "" {
		return apperr.Configuration("config.Validate", "RPC_URL is required")
	}
	if c.LedgerAddress == "" {
		return apperr.Configuration("config.Validate", "LEDGER_ADDRESS is required")
	}
	if c.AuthorizerPrivateKey == "" {
		return apperr.Configuration("config.Validate", "AUTHORIZER_PRIVATE_KEY is required")
	}
	if c.ChainID <= 0 {
		return apperr.Configuration("config.Validate", "CHAIN_ID is required")
	}
	return nil
}

func getenv(key, def string) string {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	return val
}

func or(val, def string) string {
	if val == "" {
		return def
	}
	return val
}

func orInt(val, def int) int {
	if val == 0 {
		return def
	}
	return val
}

func parseDuration(val string, def time.Duration) time.Duration {
	if val == "" {
		return def
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return def
	}
	return d
}

func parseBool(val string, def bool) bool {
	if val == "" {
		return def
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return def
	}
	return b
}

func parseInt(val string, def int) int {
	if val == "" {
		return def
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return def
	}
	return n
}
