package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/OrsiniBr/DoTrust/internal/domain/settlement"
)

type options struct {
	contract  string
	chainID   int64
	action    string
	recipient string
	nonce     string
}

func Execute() error {
	return NewRootCmd().Execute()
}

// NewRootCmd builds the operator CLI. Each call returns an independent tree.
func NewRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:          "stakectl",
		Short:        "Operator tools for stake settlement authorizations",
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&opts.contract, "contract", "", "ledger contract address")
	root.PersistentFlags().Int64Var(&opts.chainID, "chain-id", 0, "chain id the contract is deployed on")

	root.AddCommand(signCmd(opts), recoverCmd(opts), nonceCmd(opts))
	return root
}

func addAuthorizationFlags(cmd *cobra.Command, opts *options) {
	cmd.Flags().StringVar(&opts.action, "action", string(settlement.ActionCompensate), "stake, compensate or refund")
	cmd.Flags().StringVar(&opts.recipient, "recipient", "", "recipient address")
	cmd.Flags().StringVar(&opts.nonce, "nonce", "0", "ledger nonce of the recipient")
}

// authorization assembles the unsigned authorization described by the flags.
func (o *options) authorization() (*settlement.Authorization, error) {
	if !common.IsHexAddress(o.contract) {
		return nil, fmt.Errorf("--contract must be a hex address")
	}
	if !common.IsHexAddress(o.recipient) {
		return nil, fmt.Errorf("--recipient must be a hex address")
	}
	if o.chainID <= 0 {
		return nil, fmt.Errorf("--chain-id is required")
	}
	nonce, ok := new(big.Int).SetString(o.nonce, 10)
	if !ok || nonce.Sign() < 0 {
		return nil, fmt.Errorf("--nonce must be a non-negative integer")
	}
	return settlement.NewAuthorization(
		settlement.Action(o.action),
		common.HexToAddress(o.recipient),
		nonce,
		common.HexToAddress(o.contract),
		big.NewInt(o.chainID),
	)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
