package settlement

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/sha3"
)

var stakeTag = []byte("STAKE")

const (
	wordSize      = 32
	signatureSize = 65
)

// Layout returns the tightly packed bytes the contract hashes:
// [STAKE] ‖ recipient(20) ‖ nonce(32) ‖ amount(32) ‖ contract(20) ‖ chainId(32).
func Layout(a *Authorization) ([]byte, error) {
	if a.Nonce == nil || a.Amount == nil || a.ChainID == nil {
		return nil, ErrIncompleteFields
	}
	buf := make([]byte, 0, len(stakeTag)+2*common.AddressLength+3*wordSize)
	switch a.Action {
	case ActionStake:
		buf = append(buf, stakeTag...)
	case ActionCompensate, ActionRefund:
	default:
		return nil, ErrUnknownAction
	}
	buf = append(buf, a.Recipient.Bytes()...)
	nonce, err := word(a.Nonce)
	if err != nil {
		return nil, err
	}
	amount, err := word(a.Amount)
	if err != nil {
		return nil, err
	}
	chainID, err := word(a.ChainID)
	if err != nil {
		return nil, err
	}
	buf = append(buf, nonce...)
	buf = append(buf, amount...)
	buf = append(buf, a.Contract.Bytes()...)
	buf = append(buf, chainID...)
	return buf, nil
}

// Digest is keccak256 of the layout.
func Digest(a *Authorization) ([]byte, error) {
	layout, err := Layout(a)
	if err != nil {
		return nil, err
	}
	return keccak256(layout), nil
}

// SignedDigest applies the personal-message prefix to the digest.
func SignedDigest(a *Authorization) ([]byte, error) {
	digest, err := Digest(a)
	if err != nil {
		return nil, err
	}
	return keccak256([]byte("\x19Ethereum Signed Message:\n32"), digest), nil
}

// Sign produces r ‖ s ‖ v with v in {27,28} and stores it on a.
func Sign(a *Authorization, key *ecdsa.PrivateKey) ([]byte, error) {
	hash, err := SignedDigest(a)
	if err != nil {
		return nil, err
	}
	sig, err := crypto.Sign(hash, key)
	if err != nil {
		return nil, fmt.Errorf("sign authorization: %w", err)
	}
	sig[64] += 27
	a.Signature = sig
	return sig, nil
}

// RecoverSigner returns the address that produced sig over a.
func RecoverSigner(a *Authorization, sig []byte) (common.Address, error) {
	if len(sig) != signatureSize {
		return common.Address{}, ErrBadSignature
	}
	hash, err := SignedDigest(a)
	if err != nil {
		return common.Address{}, err
	}
	normalized := make([]byte, signatureSize)
	copy(normalized, sig)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}
	if normalized[64] > 1 {
		return common.Address{}, ErrBadSignature
	}
	pub, err := crypto.SigToPub(hash, normalized)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// Verify reports whether sig over a was produced by expected.
func Verify(a *Authorization, sig []byte, expected common.Address) (bool, error) {
	signer, err := RecoverSigner(a, sig)
	if err != nil {
		return false, err
	}
	return signer == expected, nil
}

func word(v *big.Int) ([]byte, error) {
	if v.Sign() < 0 || v.BitLen() > 8*wordSize {
		return nil, ErrFieldOverflow
	}
	return common.LeftPadBytes(v.Bytes(), wordSize), nil
}

func keccak256(parts ...[]byte) []byte {
	h := sha3.NewLegacyKeccak256()
	for _, p := range parts {
		_, _ = h.Write(p)
	}
	return h.Sum(nil)
}
