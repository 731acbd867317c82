package commands

import (
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"

	"github.com/OrsiniBr/DoTrust/internal/domain/settlement"
	"github.com/OrsiniBr/DoTrust/internal/infrastructure/keystore"
)

type signOutput struct {
	Action    settlement.Action `json:"action"`
	Recipient string            `json:"recipient"`
	Nonce     string            `json:"nonce"`
	Amount    string            `json:"amount"`
	Contract  string            `json:"contract"`
	ChainID   string            `json:"chainId"`
	Digest    string            `json:"digest"`
	Signer    string            `json:"signer"`
	Signature string            `json:"signature"`
}

func signCmd(opts *options) *cobra.Command {
	var keyHex string
	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Sign an authorization with a private key",
		Long:  "Sign an authorization. The key is read from --key or AUTHORIZER_PRIVATE_KEY.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if keyHex == "" {
				keyHex = os.Getenv("AUTHORIZER_PRIVATE_KEY")
			}
			if keyHex == "" {
				return fmt.Errorf("--key or AUTHORIZER_PRIVATE_KEY is required")
			}
			key, err := keystore.ParseKey(keyHex)
			if err != nil {
				return fmt.Errorf("parse key: %w", err)
			}
			a, err := opts.authorization()
			if err != nil {
				return err
			}
			digest, err := settlement.Digest(a)
			if err != nil {
				return err
			}
			sig, err := settlement.Sign(a, key)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), signOutput{
				Action:    a.Action,
				Recipient: a.Recipient.Hex(),
				Nonce:     a.Nonce.String(),
				Amount:    a.Amount.String(),
				Contract:  a.Contract.Hex(),
				ChainID:   a.ChainID.String(),
				Digest:    hexutil.Encode(digest),
				Signer:    crypto.PubkeyToAddress(key.PublicKey).Hex(),
				Signature: hexutil.Encode(sig),
			})
		},
	}
	addAuthorizationFlags(cmd, opts)
	cmd.Flags().StringVar(&keyHex, "key", "", "hex private key")
	return cmd
}
