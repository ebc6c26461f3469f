package earnings

import (
	"context"
	"errors"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestTotalsTrackAcceptedClaims checks that a wallet's total equals the sum of
// every accepted quantity and that no accepted claim can be replayed.
func TestTotalsTrackAcceptedClaims(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 25
	properties := gopter.NewProperties(parameters)

	properties.Property("total equals sum of accepted quantities", prop.ForAll(
		func(quantities []uint64) bool {
			f := newFixture(t, fixtureConfig{asset: tokenAddr})
			var funding uint64
			for _, q := range quantities {
				funding += q
			}
			f.fund(funding + 1)

			var (
				sum     uint64
				parent  = ZeroNonce
				claims  []SignedClaim
				ctx     = context.Background()
				lastSum uint64
			)
			for _, q := range quantities {
				sc := f.claim(parent, q)
				res, err := f.engine.Distribute(ctx, walletAddr, sc)
				if err != nil {
					return false
				}
				sum += q
				if res.TotalDistributed.Uint64() != sum || sum < lastSum {
					return false
				}
				lastSum = sum
				parent = sc.Nonce
				claims = append(claims, sc)
			}
			for _, sc := range claims {
				if _, err := f.engine.Distribute(ctx, walletAddr, sc); !errors.Is(err, ErrInvalidatedNonce) {
					return false
				}
			}
			return f.total(walletAddr) == sum && f.escrowBalance() == funding+1-sum
		},
		gen.SliceOfN(6, gen.UInt64Range(0, 1_000_000)),
	))

	properties.TestingRun(t)
}

// TestOverdrawnClaimsLeaveStateUntouched checks rollback for claims larger
// than the escrow balance.
func TestOverdrawnClaimsLeaveStateUntouched(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 25
	properties := gopter.NewProperties(parameters)

	properties.Property("overdrawn claims are rejected atomically", prop.ForAll(
		func(balance, excess uint64) bool {
			f := newFixture(t, fixtureConfig{asset: tokenAddr})
			f.fund(balance)
			_, err := f.engine.Distribute(context.Background(), walletAddr, f.claim(ZeroNonce, balance+excess))
			if !errors.Is(err, ErrInsufficientBalance) {
				return false
			}
			return f.escrowBalance() == balance && f.total(walletAddr) == 0 && f.lastNonce(walletAddr).IsZero()
		},
		gen.UInt64Range(1, 1_000_000),
		gen.UInt64Range(1, 1_000_000),
	))

	properties.TestingRun(t)
}
