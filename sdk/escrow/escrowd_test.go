package escrow_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"earnescrow/crypto"
	"earnescrow/native/earnings"
	"earnescrow/sdk/escrow"
	"earnescrow/services/escrowd"
)

func newKey(t *testing.T) *crypto.PrivateKey {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	return key
}

func TestClientAgainstDaemon(t *testing.T) {
	owner, exchange, wallet := newKey(t), newKey(t), newKey(t)
	daemon, err := escrowd.NewDaemon(escrowd.Config{
		DataDir: t.TempDir(),
		Escrow: escrowd.EscrowConfig{
			Owner:    owner.Address().Hex(),
			Asset:    "native",
			Exchange: exchange.Address().Hex(),
		},
		Genesis: []escrowd.AllocationConfig{
			{Holder: owner.Address().Hex(), Amount: "10000"},
		},
		Auth:      escrowd.AuthConfig{HMACSecret: "0123456789abcdef0123456789abcdef"},
		RateLimit: escrowd.RateLimitConfig{RequestsPerMinute: 60_000, Burst: 1_000},
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	server := httptest.NewServer(daemon.Handler())
	t.Cleanup(func() {
		server.Close()
		_ = daemon.Close()
	})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ownerClient, err := escrow.New(server.URL, escrow.WithHTTPClient(server.Client()))
	require.NoError(t, err)
	_, err = ownerClient.Authenticate(ctx, owner)
	require.NoError(t, err)
	require.NotEmpty(t, ownerClient.Token())

	asset, err := ownerClient.Asset(ctx)
	require.NoError(t, err)
	require.True(t, asset.Native)
	escrowAddr := common.HexToAddress(asset.Escrow)

	err = ownerClient.Approve(ctx, uint256.NewInt(1))
	var apiErr *escrow.APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, "allowance_unsupported", apiErr.Code)

	deposit, err := ownerClient.Deposit(ctx, uint256.NewInt(5000))
	require.NoError(t, err)
	require.Equal(t, "5000", deposit.Credited)

	walletClient, err := escrow.New(server.URL, escrow.WithHTTPClient(server.Client()))
	require.NoError(t, err)
	_, err = walletClient.Authenticate(ctx, wallet)
	require.NoError(t, err)

	claim, err := escrow.SignClaim(exchange, escrowAddr, earnings.Claim{
		Nonce:       earnings.NewNonce(time.Now()),
		ParentNonce: earnings.ZeroNonce,
		Wallet:      wallet.Address(),
		Asset:       common.Address{},
		Quantity:    uint256.NewInt(1200),
	})
	require.NoError(t, err)
	settled, err := walletClient.Distribute(ctx, claim)
	require.NoError(t, err)
	require.Equal(t, "1200", settled.TotalDistributed)
	require.Equal(t, "3800", settled.EscrowBalance)

	_, err = walletClient.Distribute(ctx, claim)
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, "nonce_chain_mismatch", apiErr.Code)

	record, err := walletClient.Wallet(ctx, wallet.Address())
	require.NoError(t, err)
	require.Equal(t, claim.Nonce, record.LastNonce)
	require.Equal(t, "1200", record.Balance)

	_, err = walletClient.Withdraw(ctx, uint256.NewInt(1))
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, "caller_not_admin", apiErr.Code)

	roles, err := ownerClient.SetExchange(ctx, wallet.Address())
	require.NoError(t, err)
	require.Equal(t, wallet.Address().Hex(), roles.Exchange)
	roles, err = ownerClient.RemoveExchange(ctx)
	require.NoError(t, err)
	require.Equal(t, common.Address{}.Hex(), roles.Exchange)

	withdrawal, err := ownerClient.Withdraw(ctx, uint256.NewInt(800))
	require.NoError(t, err)
	require.Equal(t, "3000", withdrawal.NewEscrowBalance)

	balance, err := ownerClient.EscrowBalance(ctx)
	require.NoError(t, err)
	require.Equal(t, "3000", balance.Balance)

	page, err := ownerClient.Events(ctx, escrow.EventsQuery{})
	require.NoError(t, err)
	types := make([]string, 0, len(page.Events))
	for _, evt := range page.Events {
		types = append(types, evt.Type)
	}
	require.Equal(t, []string{
		"escrow.native_escrowed",
		"escrow.assets_distributed",
		"escrow.role_changed",
		"escrow.role_changed",
		"escrow.withdrawn",
	}, types)

	next, err := ownerClient.Events(ctx, escrow.EventsQuery{After: page.Next})
	require.NoError(t, err)
	require.Empty(t, next.Events)
}
