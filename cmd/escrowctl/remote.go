package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/holiman/uint256"
	"github.com/spf13/cobra"

	"earnescrow/crypto"
	"earnescrow/sdk/escrow"
)

func (a *app) loginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Log in with the signing key and print a session token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := a.signingKey("wallet")
			if err != nil {
				return err
			}
			client, err := a.client()
			if err != nil {
				return err
			}
			session, err := client.Authenticate(cmd.Context(), key)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), session)
		},
	}
}

func (a *app) distributeCmd() *cobra.Command {
	var claimPath string
	cmd := &cobra.Command{
		Use:   "distribute",
		Short: "Submit a signed claim as the receiving wallet",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req, err := readClaim(cmd.InOrStdin(), claimPath)
			if err != nil {
				return err
			}
			client, err := a.session(cmd)
			if err != nil {
				return err
			}
			res, err := client.Distribute(cmd.Context(), req)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringVar(&claimPath, "claim", "-", "signed claim JSON file, or - for stdin")
	return cmd
}

func readClaim(stdin io.Reader, path string) (escrow.ClaimRequest, error) {
	var (
		data []byte
		err  error
	)
	if path == "" || path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return escrow.ClaimRequest{}, fmt.Errorf("read claim: %w", err)
	}
	var req escrow.ClaimRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return escrow.ClaimRequest{}, fmt.Errorf("decode claim: %w", err)
	}
	return req, nil
}

func quantityArg(raw string) (*uint256.Int, error) {
	q, err := escrow.ParseQuantity(raw)
	if err != nil {
		return nil, fmt.Errorf("quantity: %w", err)
	}
	return q, nil
}

func (a *app) depositCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deposit <quantity>",
		Short: "Move funds from the signing identity into the escrow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := quantityArg(args[0])
			if err != nil {
				return err
			}
			client, err := a.session(cmd)
			if err != nil {
				return err
			}
			res, err := client.Deposit(cmd.Context(), q)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
}

func (a *app) approveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "approve <quantity>",
		Short: "Allow the escrow to pull tokens for a deposit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := quantityArg(args[0])
			if err != nil {
				return err
			}
			client, err := a.session(cmd)
			if err != nil {
				return err
			}
			if err := client.Approve(cmd.Context(), q); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "approved %s\n", q.Dec())
			return err
		},
	}
}

func (a *app) withdrawCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "withdraw <quantity>",
		Short: "Return escrowed funds to the admin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := quantityArg(args[0])
			if err != nil {
				return err
			}
			client, err := a.session(cmd)
			if err != nil {
				return err
			}
			res, err := client.Withdraw(cmd.Context(), q)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
}

func (a *app) rolesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "roles",
		Short: "Show or change the admin and exchange",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := a.client()
			if err != nil {
				return err
			}
			res, err := client.Roles(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	for _, role := range []string{"admin", "exchange"} {
		cmd.AddCommand(a.setRoleCmd(role), a.removeRoleCmd(role))
	}
	return cmd
}

func (a *app) setRoleCmd(role string) *cobra.Command {
	return &cobra.Command{
		Use:   "set-" + role + " <address>",
		Short: "Replace the " + role,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := crypto.ParseAddress(args[0])
			if err != nil {
				return err
			}
			client, err := a.session(cmd)
			if err != nil {
				return err
			}
			var res *escrow.RolesResponse
			if role == "admin" {
				res, err = client.SetAdmin(cmd.Context(), addr)
			} else {
				res, err = client.SetExchange(cmd.Context(), addr)
			}
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
}

func (a *app) removeRoleCmd(role string) *cobra.Command {
	return &cobra.Command{
		Use:   "remove-" + role,
		Short: "Clear the " + role,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := a.session(cmd)
			if err != nil {
				return err
			}
			var res *escrow.RolesResponse
			if role == "admin" {
				res, err = client.RemoveAdmin(cmd.Context())
			} else {
				res, err = client.RemoveExchange(cmd.Context())
			}
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
}

func (a *app) walletCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "wallet <address>",
		Short: "Show a wallet's last nonce, total distributed and balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := crypto.ParseAddress(args[0])
			if err != nil {
				return err
			}
			client, err := a.client()
			if err != nil {
				return err
			}
			res, err := client.Wallet(cmd.Context(), addr)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
}

func (a *app) assetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "asset",
		Short: "Describe the escrow and its asset",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := a.client()
			if err != nil {
				return err
			}
			res, err := client.Asset(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
}

func (a *app) balanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "balance",
		Short: "Show the escrowed balance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := a.client()
			if err != nil {
				return err
			}
			res, err := client.EscrowBalance(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
}

func (a *app) eventsCmd() *cobra.Command {
	var q escrow.EventsQuery
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Page through the event journal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := a.client()
			if err != nil {
				return err
			}
			res, err := client.Events(cmd.Context(), q)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().Int64Var(&q.After, "after", 0, "return events after this sequence")
	cmd.Flags().StringVar(&q.Type, "type", "", "filter by event type")
	cmd.Flags().IntVar(&q.Limit, "limit", 0, "page size")
	return cmd
}
