package commands

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/OrsiniBr/DoTrust/internal/infrastructure/ledger"
)

func nonceCmd(opts *options) *cobra.Command {
	var (
		rpcURL  string
		address string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "nonce",
		Short: "Read the ledger nonce of an address",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !common.IsHexAddress(address) {
				return fmt.Errorf("--address must be a hex address")
			}
			if !common.IsHexAddress(opts.contract) {
				return fmt.Errorf("--contract must be a hex address")
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			client, err := ledger.Dial(ctx, ledger.Config{
				RPCURL:   rpcURL,
				Contract: common.HexToAddress(opts.contract),
				ChainID:  big.NewInt(opts.chainID),
			}, nil, zerolog.Nop())
			if err != nil {
				return err
			}
			nonce, err := client.Nonce(ctx, common.HexToAddress(address))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), nonce.String())
			return nil
		},
	}
	cmd.Flags().StringVar(&rpcURL, "rpc", "http://127.0.0.1:8545", "JSON-RPC endpoint")
	cmd.Flags().StringVar(&address, "address", "", "address to query")
	cmd.Flags().DurationVar(&timeout, "timeout", 15*time.Second, "RPC timeout")
	return cmd
}
