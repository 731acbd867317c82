package keystore

import (
	"context"
	"encoding/hex"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	hexKey := "0x" + hex.EncodeToString(crypto.FromECDSA(key))

	ks, err := New(hexKey, "")
	require.NoError(t, err)

	auth, err := ks.AuthorizerKey(context.Background())
	require.NoError(t, err)
	relayer, err := ks.RelayerKey(context.Background())
	require.NoError(t, err)
	assert.Equal(t, auth, relayer)
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), ks.AuthorizerAddress())
}

func TestNew_Errors(t *testing.T) {
	_, err := New("not-hex", "")
	assert.Error(t, err)

	ks, err := New("", "")
	require.NoError(t, err)
	_, err = ks.AuthorizerKey(context.Background())
	assert.ErrorIs(t, err, ErrKeyNotConfigured)
}
