package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"earnescrow/cmd/internal/passphrase"
	"earnescrow/crypto"
	"earnescrow/sdk/escrow"
)

const (
	defaultEndpoint = "http://127.0.0.1:7090"
	defaultPassEnv  = "ESCROWCTL_PASSPHRASE"
	keyEnv          = "ESCROWCTL_KEY"
	tokenEnv        = "ESCROWCTL_TOKEN"
)

// app carries the persistent flags shared by every subcommand.
type app struct {
	endpoint string
	keystore string
	keyHex   string
	passEnv  string
	token    string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "escrowctl",
		Short:         "Operate an earnings escrow",
		Long:          "Manage keys, sign distribution claims and call an escrowd endpoint.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	flags := root.PersistentFlags()
	flags.StringVar(&a.endpoint, "endpoint", envOr("ESCROWCTL_ENDPOINT", defaultEndpoint), "escrowd base URL")
	flags.StringVar(&a.keystore, "keystore", "", "path to the signing keystore")
	flags.StringVar(&a.keyHex, "key", "", "hex private key (overrides --keystore; also read from "+keyEnv+")")
	flags.StringVar(&a.passEnv, "pass-env", defaultPassEnv, "environment variable holding the keystore passphrase")
	flags.StringVar(&a.token, "token", "", "session token (also read from "+tokenEnv+"); skips login")

	root.AddCommand(
		a.keygenCmd(),
		a.addressCmd(),
		a.nonceCmd(),
		a.hashCmd(),
		a.signClaimCmd(),
		a.loginCmd(),
		a.distributeCmd(),
		a.depositCmd(),
		a.approveCmd(),
		a.withdrawCmd(),
		a.rolesCmd(),
		a.walletCmd(),
		a.assetCmd(),
		a.balanceCmd(),
		a.eventsCmd(),
	)
	return root
}

// signingKey resolves the key from --key, ESCROWCTL_KEY or the keystore.
func (a *app) signingKey(label string) (*crypto.PrivateKey, error) {
	raw := strings.TrimSpace(a.keyHex)
	if raw == "" {
		raw = strings.TrimSpace(os.Getenv(keyEnv))
	}
	if raw != "" {
		key, err := crypto.PrivateKeyFromHex(raw)
		if err != nil {
			return nil, fmt.Errorf("parse key: %w", err)
		}
		return key, nil
	}
	if strings.TrimSpace(a.keystore) == "" {
		return nil, fmt.Errorf("--keystore or --key required")
	}
	pass, err := passphrase.NewSource(a.passEnv, label).Get()
	if err != nil {
		return nil, err
	}
	return crypto.LoadFromKeystore(a.keystore, pass)
}

func (a *app) client() (*escrow.Client, error) {
	return escrow.New(a.endpoint)
}

// session returns a client holding a session token, logging in with the
// signing key when no token was supplied.
func (a *app) session(cmd *cobra.Command) (*escrow.Client, error) {
	token := strings.TrimSpace(a.token)
	if token == "" {
		token = strings.TrimSpace(os.Getenv(tokenEnv))
	}
	if token != "" {
		return escrow.New(a.endpoint, escrow.WithToken(token))
	}
	key, err := a.signingKey("wallet")
	if err != nil {
		return nil, err
	}
	client, err := a.client()
	if err != nil {
		return nil, err
	}
	if _, err := client.Authenticate(cmd.Context(), key); err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	return client, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOr(name, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		return v
	}
	return fallback
}
