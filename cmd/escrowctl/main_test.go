package main

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"earnescrow/crypto"
	"earnescrow/native/earnings"
	"earnescrow/sdk/escrow"
	"earnescrow/services/escrowd"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetIn(strings.NewReader(""))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func mustRun(t *testing.T, out any, args ...string) {
	t.Helper()
	stdout, err := run(t, args...)
	require.NoError(t, err, "escrowctl %s", strings.Join(args, " "))
	if out != nil {
		require.NoError(t, json.Unmarshal([]byte(stdout), out), stdout)
	}
}

func keyHex(key *crypto.PrivateKey) string {
	return hex.EncodeToString(key.Bytes())
}

func TestKeygenAndAddress(t *testing.T) {
	t.Setenv("ESCROWCTL_KEY", "")
	t.Setenv(defaultPassEnv, "keystore-pass")
	path := filepath.Join(t.TempDir(), "wallet.json")

	var created map[string]string
	mustRun(t, &created, "--keystore", path, "keygen")
	require.Equal(t, path, created["keystore"])

	out, err := run(t, "--keystore", path, "address")
	require.NoError(t, err)
	require.Equal(t, created["address"], strings.TrimSpace(out))

	_, err = run(t, "--keystore", path, "keygen")
	require.ErrorIs(t, err, crypto.ErrKeystoreExists)
}

func TestNonceEmbedsTimestamp(t *testing.T) {
	at := time.Date(2024, 3, 4, 5, 6, 7, 0, time.UTC)
	out, err := run(t, "nonce", "--at", at.Format(time.RFC3339))
	require.NoError(t, err)
	nonce, err := earnings.ParseNonce(strings.TrimSpace(out))
	require.NoError(t, err)
	ms, err := nonce.Timestamp()
	require.NoError(t, err)
	require.Equal(t, at.UnixMilli(), ms)

	_, err = run(t, "nonce", "--at", "yesterday")
	require.Error(t, err)
}

func TestSignClaimMatchesHash(t *testing.T) {
	exchange, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	nonce := earnings.NewNonce(time.Now()).String()
	claimArgs := []string{
		"--escrow", "0x00000000000000000000000000000000000000e5",
		"--wallet", "0x00000000000000000000000000000000000000f1",
		"--quantity", "42",
		"--nonce", nonce,
	}

	var digest map[string]string
	mustRun(t, &digest, append([]string{"hash"}, claimArgs...)...)
	require.Equal(t, nonce, digest["nonce"])

	var req escrow.ClaimRequest
	mustRun(t, &req, append([]string{"--key", keyHex(exchange), "sign-claim"}, claimArgs...)...)
	sc, err := req.SignedClaim()
	require.NoError(t, err)
	escrowAddr, err := crypto.ParseAddress("0x00000000000000000000000000000000000000e5")
	require.NoError(t, err)
	require.Equal(t, digest["hash"], earnings.ClaimHash(escrowAddr, sc.Claim).Hex())
	require.True(t, earnings.VerifyClaim(escrowAddr, exchange.Address(), sc))

	_, err = run(t, "hash", "--escrow", "0x00000000000000000000000000000000000000e5")
	require.Error(t, err, "wallet and quantity are required")
}

func TestRemoteCommandsAgainstDaemon(t *testing.T) {
	owner, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	exchange, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	wallet, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)

	daemon, err := escrowd.NewDaemon(escrowd.Config{
		DataDir: t.TempDir(),
		Escrow: escrowd.EscrowConfig{
			Owner:    owner.Address().Hex(),
			Exchange: exchange.Address().Hex(),
		},
		Genesis:   []escrowd.AllocationConfig{{Holder: owner.Address().Hex(), Amount: "10000"}},
		Auth:      escrowd.AuthConfig{HMACSecret: "0123456789abcdef0123456789abcdef"},
		RateLimit: escrowd.RateLimitConfig{RequestsPerMinute: 60_000, Burst: 1_000},
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	server := httptest.NewServer(daemon.Handler())
	t.Cleanup(func() {
		server.Close()
		_ = daemon.Close()
	})
	endpoint := []string{"--endpoint", server.URL}
	as := func(key *crypto.PrivateKey, args ...string) []string {
		return append(append(append([]string{}, endpoint...), "--key", keyHex(key)), args...)
	}

	var deposit escrow.DepositResponse
	mustRun(t, &deposit, as(owner, "deposit", "5000")...)
	require.Equal(t, "5000", deposit.Credited)

	var asset escrow.AssetResponse
	mustRun(t, &asset, append(endpoint, "asset")...)
	require.True(t, asset.Native)

	var claim escrow.ClaimRequest
	mustRun(t, &claim, as(exchange, "sign-claim",
		"--escrow", asset.Escrow,
		"--wallet", wallet.Address().Hex(),
		"--quantity", "700")...)
	claimPath := filepath.Join(t.TempDir(), "claim.json")
	data, err := json.Marshal(claim)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(claimPath, data, 0o600))

	var settled escrow.SettlementResponse
	mustRun(t, &settled, as(wallet, "distribute", "--claim", claimPath)...)
	require.Equal(t, "700", settled.TotalDistributed)
	require.Equal(t, "4300", settled.EscrowBalance)

	_, err = run(t, as(wallet, "distribute", "--claim", claimPath)...)
	var apiErr *escrow.APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, "nonce_chain_mismatch", apiErr.Code)

	var record escrow.WalletResponse
	mustRun(t, &record, append(endpoint, "wallet", wallet.Address().Hex())...)
	require.Equal(t, claim.Nonce, record.LastNonce)

	var session escrow.LoginResponse
	mustRun(t, &session, as(owner, "login")...)
	require.NotEmpty(t, session.Token)

	var roles escrow.RolesResponse
	mustRun(t, &roles, append(endpoint, "--token", session.Token, "roles", "set-exchange", wallet.Address().Hex())...)
	require.Equal(t, wallet.Address().Hex(), roles.Exchange)
	mustRun(t, &roles, append(endpoint, "--token", session.Token, "roles", "remove-exchange")...)
	require.Equal(t, crypto.ZeroAddress.Hex(), roles.Exchange)

	var withdrawal escrow.WithdrawalResponse
	mustRun(t, &withdrawal, as(owner, "withdraw", "300")...)
	require.Equal(t, "4000", withdrawal.NewEscrowBalance)

	var balance escrow.BalanceResponse
	mustRun(t, &balance, append(endpoint, "balance")...)
	require.Equal(t, "4000", balance.Balance)

	var page escrow.EventsResponse
	mustRun(t, &page, append(endpoint, "events", "--type", "escrow.role_changed")...)
	require.Len(t, page.Events, 2)
}
