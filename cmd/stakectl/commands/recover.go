package commands

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"

	"github.com/OrsiniBr/DoTrust/internal/domain/settlement"
)

func recoverCmd(opts *options) *cobra.Command {
	var signature string
	cmd := &cobra.Command{
		Use:   "recover",
		Short: "Print the address that signed an authorization",
		RunE: func(cmd *cobra.Command, args []string) error {
			sig, err := hexutil.Decode(signature)
			if err != nil {
				return fmt.Errorf("--signature must be 0x-prefixed hex: %w", err)
			}
			a, err := opts.authorization()
			if err != nil {
				return err
			}
			signer, err := settlement.RecoverSigner(a, sig)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), signer.Hex())
			return nil
		},
	}
	addAuthorizationFlags(cmd, opts)
	cmd.Flags().StringVar(&signature, "signature", "", "65-byte signature in hex")
	_ = cmd.MarkFlagRequired("signature")
	return cmd
}
