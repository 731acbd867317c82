package ledger

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"

	"github.com/OrsiniBr/DoTrust/internal/domain/apperr"
	"github.com/OrsiniBr/DoTrust/internal/domain/settlement"
)

// ContractABI covers the entry points the engine uses.
const ContractABI = `[
	{"type":"function","name":"getNonce","stateMutability":"view",
	 "inputs":[{"name":"user","type":"address"}],
	 "outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"stakeViaRelayer","stateMutability":"nonpayable",
	 "inputs":[{"name":"user","type":"address"},{"name":"nonce","type":"uint256"},{"name":"signature","type":"bytes"}],
	 "outputs":[]},
	{"type":"function","name":"compensate","stateMutability":"nonpayable",
	 "inputs":[{"name":"recipient","type":"address"},{"name":"nonce","type":"uint256"},{"name":"signature","type":"bytes"}],
	 "outputs":[]},
	{"type":"function","name":"refund","stateMutability":"nonpayable",
	 "inputs":[{"name":"recipient","type":"address"},{"name":"nonce","type":"uint256"},{"name":"signature","type":"bytes"}],
	 "outputs":[]}
]`

// Backend is what the client needs from an Ethereum node.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
}

// Config holds ledger connection settings.
type Config struct {
	RPCURL              string
	Contract            common.Address
	ChainID             *big.Int
	ConfirmationTimeout time.Duration
}

// Client implements settlement.Ledger against the deployed contract.
type Client struct {
	backend  Backend
	contract *bind.BoundContract
	abi      abi.ABI
	address  common.Address
	chainID  *big.Int
	relayer  *ecdsa.PrivateKey
	timeout  time.Duration
	logger   zerolog.Logger

	// sendMu serializes relayer nonce assignment and broadcast.
	sendMu sync.Mutex
}

// Dial connects to the RPC endpoint.
func Dial(ctx context.Context, cfg Config, relayer *ecdsa.PrivateKey, logger zerolog.Logger) (*Client, error) {
	ec, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, apperr.ExternalService("ledger.Dial", err)
	}
	return NewClient(ec, cfg, relayer, logger)
}

// NewClient binds the contract on an existing backend.
func NewClient(backend Backend, cfg Config, relayer *ecdsa.PrivateKey, logger zerolog.Logger) (*Client, error) {
	parsed, err := abi.JSON(strings.NewReader(ContractABI))
	if err != nil {
		return nil, fmt.Errorf("parse contract abi: %w", err)
	}
	timeout := cfg.ConfirmationTimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Client{
		backend:  backend,
		contract: bind.NewBoundContract(cfg.Contract, parsed, backend, backend, backend),
		abi:      parsed,
		address:  cfg.Contract,
		chainID:  new(big.Int).Set(cfg.ChainID),
		relayer:  relayer,
		timeout:  timeout,
		logger:   logger.With().Str("component", "ledger").Logger(),
	}, nil
}

func (c *Client) ChainID() *big.Int {
	return new(big.Int).Set(c.chainID)
}

func (c *Client) Contract() common.Address {
	return c.address
}

func (c *Client) Nonce(ctx context.Context, addr common.Address) (*big.Int, error) {
	var out []interface{}
	if err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, "getNonce", addr); err != nil {
		return nil, ClassifyError("ledger.Nonce", err)
	}
	if len(out) != 1 {
		return nil, apperr.ExternalService("ledger.Nonce", errors.New("unexpected getNonce output"))
	}
	return abi.ConvertType(out[0], new(big.Int)).(*big.Int), nil
}

// Submit relays the authorization and waits for it to be mined.
func (c *Client) Submit(ctx context.Context, a *settlement.Authorization) (*settlement.Receipt, error) {
	op := "ledger.Submit"
	method, err := MethodFor(a.Action)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, op, err)
	}
	if c.relayer == nil {
		return nil, apperr.Configuration(op, "relayer key not configured")
	}

	tx, err := c.send(ctx, method, a)
	if err != nil {
		return nil, err
	}
	c.logger.Info().
		Str("tx", tx.Hash().Hex()).
		Str("method", method).
		Str("recipient", a.Recipient.Hex()).
		Str("nonce", a.Nonce.String()).
		Msg("transaction submitted")

	waitCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	receipt, err := bind.WaitMined(waitCtx, c.backend, tx)
	if err != nil {
		return nil, apperr.ExternalService(op, fmt.Errorf("wait for %s: %w", tx.Hash().Hex(), err))
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, apperr.AuthorizationRejected(op, fmt.Errorf("%w: %s", settlement.ErrReverted, tx.Hash().Hex()))
	}

	out := &settlement.Receipt{
		TxHash:  tx.Hash().Hex(),
		GasUsed: receipt.GasUsed,
	}
	if receipt.BlockNumber != nil {
		out.BlockNumber = receipt.BlockNumber.Uint64()
	}
	return out, nil
}

// send assigns the relayer's next account nonce and broadcasts the call. Concurrent
// submissions would otherwise read the same pending nonce and collide.
func (c *Client) send(ctx context.Context, method string, a *settlement.Authorization) (*types.Transaction, error) {
	op := "ledger.Submit"
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	from := crypto.PubkeyToAddress(c.relayer.PublicKey)
	nonce, err := c.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, apperr.ExternalService(op, fmt.Errorf("relayer nonce: %w", err))
	}

	opts, err := bind.NewKeyedTransactorWithChainID(c.relayer, c.chainID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindConfiguration, op, err)
	}
	opts.Context = ctx
	opts.Nonce = new(big.Int).SetUint64(nonce)

	tx, err := c.contract.Transact(opts, method, a.Recipient, a.Nonce, a.Signature)
	if err != nil {
		return nil, ClassifyError(op, err)
	}
	return tx, nil
}

// Pack encodes the call data for an authorization. Used by the CLI to print
// calldata for manual submission.
func (c *Client) Pack(a *settlement.Authorization) ([]byte, error) {
	method, err := MethodFor(a.Action)
	if err != nil {
		return nil, err
	}
	return c.abi.Pack(method, a.Recipient, a.Nonce, a.Signature)
}

// MethodFor maps an action to its contract function.
func MethodFor(action settlement.Action) (string, error) {
	switch action {
	case settlement.ActionStake:
		return "stakeViaRelayer", nil
	case settlement.ActionCompensate:
		return "compensate", nil
	case settlement.ActionRefund:
		return "refund", nil
	}
	return "", settlement.ErrUnknownAction
}

// ClassifyError sorts a node or contract error into an apperr kind by its text.
// Only contract reverts reject an authorization; node errors about the relayer's
// own account nonce are external failures.
func ClassifyError(op string, err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	switch {
	case revertedWith(msg, "signature already used", "invalid signature", "invalid nonce"):
		return apperr.AuthorizationRejected(op, err)
	case strings.Contains(msg, "insufficient funds"),
		strings.Contains(msg, "exceeds balance"):
		return apperr.InsufficientFunds(op, err)
	case strings.Contains(msg, "rejected"),
		strings.Contains(msg, "denied"):
		return apperr.UserDeclined(op, err)
	}
	return apperr.ExternalService(op, err)
}

func revertedWith(msg string, reasons ...string) bool {
	if !strings.Contains(msg, "revert") {
		return false
	}
	for _, r := range reasons {
		if strings.Contains(msg, r) {
			return true
		}
	}
	return false
}
