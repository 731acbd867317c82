package settlement

//go:generate go run go.uber.org/mock/mockgen -destination=mocks/mock_ledger.go -package=mocks . Ledger,KeyStore

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Action is the contract entry point an authorization is valid for.
type Action string

const (
	ActionStake      Action = "stake"
	ActionCompensate Action = "compensate"
	ActionRefund     Action = "refund"
)

var (
	ErrUnknownAction    = errors.New("unknown settlement action")
	ErrIncompleteFields = errors.New("authorization is missing nonce, amount or chain id")
	ErrFieldOverflow    = errors.New("authorization field does not fit in 256 bits")
	ErrBadSignature     = errors.New("signature must be 65 bytes with v in {27,28}")
	ErrSignerMismatch   = errors.New("signature was not produced by the expected signer")
	ErrReverted         = errors.New("transaction reverted")
)

var ether = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// AmountFor returns the fixed amount in wei for an action.
func AmountFor(action Action) (*big.Int, error) {
	switch action {
	case ActionStake, ActionRefund:
		return new(big.Int).Mul(big.NewInt(3), ether), nil
	case ActionCompensate:
		return new(big.Int).Mul(big.NewInt(5), ether), nil
	}
	return nil, ErrUnknownAction
}

// Authorization is a signed instruction for the ledger contract. Ephemeral.
type Authorization struct {
	Action    Action         `json:"action"`
	Recipient common.Address `json:"recipient"`
	Nonce     *big.Int       `json:"nonce"`
	Amount    *big.Int       `json:"amount"`
	Contract  common.Address `json:"contract"`
	ChainID   *big.Int       `json:"chainId"`
	Signature []byte         `json:"signature,omitempty"`
}

// NewAuthorization fills in the fixed amount for action.
func NewAuthorization(action Action, recipient common.Address, nonce *big.Int, contract common.Address, chainID *big.Int) (*Authorization, error) {
	amount, err := AmountFor(action)
	if err != nil {
		return nil, err
	}
	return &Authorization{
		Action:    action,
		Recipient: recipient,
		Nonce:     new(big.Int).Set(nonce),
		Amount:    amount,
		Contract:  contract,
		ChainID:   new(big.Int).Set(chainID),
	}, nil
}

// Receipt is the confirmed outcome of a submitted authorization.
type Receipt struct {
	TxHash      string `json:"txHash"`
	BlockNumber uint64 `json:"blockNumber"`
	GasUsed     uint64 `json:"gasUsed"`
}

// Ledger is the settlement contract as reached through the relayer.
type Ledger interface {
	ChainID() *big.Int
	Contract() common.Address
	// Nonce reads the next unused nonce for addr.
	Nonce(ctx context.Context, addr common.Address) (*big.Int, error)
	// Submit sends the authorization and waits for confirmation.
	Submit(ctx context.Context, a *Authorization) (*Receipt, error)
}

// KeyStore holds the authorizer key used to sign payouts.
type KeyStore interface {
	AuthorizerKey(ctx context.Context) (*ecdsa.PrivateKey, error)
}
