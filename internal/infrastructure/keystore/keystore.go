package keystore

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var ErrKeyNotConfigured = errors.New("key not configured")

// StaticKeyStore holds the authorizer and relayer keys in memory.
// The authorizer signs payouts; the relayer pays gas for submissions.
type StaticKeyStore struct {
	authorizer *ecdsa.PrivateKey
	relayer    *ecdsa.PrivateKey
}

// New parses hex-encoded secp256k1 keys. An empty relayer key reuses the authorizer.
func New(authorizerHex, relayerHex string) (*StaticKeyStore, error) {
	ks := &StaticKeyStore{}
	if authorizerHex != "" {
		key, err := ParseKey(authorizerHex)
		if err != nil {
			return nil, fmt.Errorf("authorizer key: %w", err)
		}
		ks.authorizer = key
	}
	if relayerHex != "" {
		key, err := ParseKey(relayerHex)
		if err != nil {
			return nil, fmt.Errorf("relayer key: %w", err)
		}
		ks.relayer = key
	} else {
		ks.relayer = ks.authorizer
	}
	return ks, nil
}

// ParseKey accepts a 32-byte hex key with or without 0x.
func ParseKey(raw string) (*ecdsa.PrivateKey, error) {
	raw = strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	return crypto.HexToECDSA(raw)
}

func (s *StaticKeyStore) AuthorizerKey(ctx context.Context) (*ecdsa.PrivateKey, error) {
	_ = ctx
	if s.authorizer == nil {
		return nil, ErrKeyNotConfigured
	}
	return s.authorizer, nil
}

func (s *StaticKeyStore) RelayerKey(ctx context.Context) (*ecdsa.PrivateKey, error) {
	_ = ctx
	if s.relayer == nil {
		return nil, ErrKeyNotConfigured
	}
	return s.relayer, nil
}

// AuthorizerAddress returns the zero address when no key is configured.
func (s *StaticKeyStore) AuthorizerAddress() common.Address {
	if s.authorizer == nil {
		return common.Address{}
	}
	return crypto.PubkeyToAddress(s.authorizer.PublicKey)
}
