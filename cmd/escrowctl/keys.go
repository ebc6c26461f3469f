package main

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/spf13/cobra"

	"earnescrow/cmd/internal/passphrase"
	"earnescrow/crypto"
	"earnescrow/native/earnings"
	"earnescrow/sdk/escrow"
)

func (a *app) keygenCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a key and store it in an encrypted keystore",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.keystore == "" {
				return fmt.Errorf("--keystore required")
			}
			pass, err := passphrase.NewSource(a.passEnv, "new").WithConfirmation().Get()
			if err != nil {
				return err
			}
			key, err := crypto.GeneratePrivateKey()
			if err != nil {
				return err
			}
			if err := crypto.SaveToKeystore(a.keystore, key, pass, force); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]string{
				"address":  key.Address().Hex(),
				"keystore": a.keystore,
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing keystore")
	return cmd
}

func (a *app) addressCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "address",
		Short: "Print the address of the signing key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := a.signingKey("wallet")
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), key.Address().Hex())
			return err
		},
	}
}

func (a *app) nonceCmd() *cobra.Command {
	var at string
	cmd := &cobra.Command{
		Use:   "nonce",
		Short: "Mint a time-ordered claim nonce",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			when := time.Now()
			if at != "" {
				parsed, err := time.Parse(time.RFC3339Nano, at)
				if err != nil {
					return fmt.Errorf("--at: %w", err)
				}
				when = parsed
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), earnings.NewNonce(when).String())
			return err
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "RFC3339 timestamp to embed (default now)")
	return cmd
}

// claimFlags collects the fields of a claim from the command line.
type claimFlags struct {
	escrow   string
	nonce    string
	parent   string
	wallet   string
	asset    string
	quantity string
}

func (f *claimFlags) register(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVar(&f.escrow, "escrow", "", "escrow instance address")
	flags.StringVar(&f.nonce, "nonce", "", "claim nonce (default: fresh nonce)")
	flags.StringVar(&f.parent, "parent", earnings.ZeroNonce.String(), "wallet's last accepted nonce")
	flags.StringVar(&f.wallet, "wallet", "", "recipient wallet")
	flags.StringVar(&f.asset, "asset", "native", "asset address, or native")
	flags.StringVar(&f.quantity, "quantity", "", "base-10 quantity")
	_ = cmd.MarkFlagRequired("escrow")
	_ = cmd.MarkFlagRequired("wallet")
	_ = cmd.MarkFlagRequired("quantity")
}

func (f *claimFlags) build() (common.Address, earnings.Claim, error) {
	escrowAddr, err := crypto.ParseAddress(f.escrow)
	if err != nil {
		return common.Address{}, earnings.Claim{}, fmt.Errorf("--escrow: %w", err)
	}
	nonce := earnings.NewNonce(time.Now())
	if f.nonce != "" {
		if nonce, err = earnings.ParseNonce(f.nonce); err != nil {
			return common.Address{}, earnings.Claim{}, fmt.Errorf("--nonce: %w", err)
		}
	}
	parent, err := earnings.ParseNonce(f.parent)
	if err != nil {
		return common.Address{}, earnings.Claim{}, fmt.Errorf("--parent: %w", err)
	}
	wallet, err := crypto.ParseAddress(f.wallet)
	if err != nil {
		return common.Address{}, earnings.Claim{}, fmt.Errorf("--wallet: %w", err)
	}
	asset := crypto.ZeroAddress
	if f.asset != "" && f.asset != "native" {
		if asset, err = crypto.ParseAddress(f.asset); err != nil {
			return common.Address{}, earnings.Claim{}, fmt.Errorf("--asset: %w", err)
		}
	}
	quantity, err := uint256.FromDecimal(f.quantity)
	if err != nil {
		return common.Address{}, earnings.Claim{}, fmt.Errorf("--quantity: %w", err)
	}
	return escrowAddr, earnings.Claim{
		Nonce:       nonce,
		ParentNonce: parent,
		Wallet:      wallet,
		Asset:       asset,
		Quantity:    quantity,
	}, nil
}

func (a *app) hashCmd() *cobra.Command {
	var f claimFlags
	cmd := &cobra.Command{
		Use:   "hash",
		Short: "Print the digest the exchange signs for a claim",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			escrowAddr, claim, err := f.build()
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]string{
				"nonce": claim.Nonce.String(),
				"hash":  earnings.ClaimHash(escrowAddr, claim).Hex(),
			})
		},
	}
	f.register(cmd)
	return cmd
}

func (a *app) signClaimCmd() *cobra.Command {
	var f claimFlags
	cmd := &cobra.Command{
		Use:   "sign-claim",
		Short: "Sign a claim with the exchange key",
		Long:  "Sign a claim with the exchange key and print the request body accepted by distribute.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			escrowAddr, claim, err := f.build()
			if err != nil {
				return err
			}
			key, err := a.signingKey("exchange")
			if err != nil {
				return err
			}
			req, err := escrow.SignClaim(key, escrowAddr, claim)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), req)
		},
	}
	f.register(cmd)
	return cmd
}
