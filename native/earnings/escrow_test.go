package earnings

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"earnescrow/core/events"
)

func TestWithdrawEscrowNative(t *testing.T) {
	f := newFixture(t, fixtureConfig{})
	ctx := context.Background()
	if _, err := f.engine.Deposit(ctx, funderAddr, uint256.NewInt(10_000_000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	res, err := f.engine.WithdrawEscrow(ctx, ownerAddr, uint256.NewInt(10_000_000))
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if res.Recipient != ownerAddr || !res.NewEscrowBalance.IsZero() {
		t.Fatalf("unexpected withdrawal: %+v", res)
	}
	bal, _ := f.bank.Balance(ownerAddr)
	if bal.Uint64() != 10_000_000 {
		t.Fatalf("owner received %s", bal)
	}
	withdrawn := f.recorder.OfType(events.TypeEscrowWithdrawn)
	if len(withdrawn) != 1 {
		t.Fatalf("expected one withdrawal event, got %d", len(withdrawn))
	}
	if evt := withdrawn[0].Event(); evt.Attr("quantity") != "10000000" || evt.Attr("newEscrowBalance") != "0" {
		t.Fatalf("unexpected withdrawal event: %+v", evt.Attributes)
	}
}

func TestWithdrawEscrowFungible(t *testing.T) {
	f := newFixture(t, fixtureConfig{asset: tokenAddr})
	f.fund(10_000_000)
	ctx := context.Background()

	if _, err := f.engine.WithdrawEscrow(ctx, walletAddr, uint256.NewInt(1)); !errors.Is(err, ErrCallerNotAdmin) {
		t.Fatalf("expected admin check, got %v", err)
	}
	if _, err := f.engine.WithdrawEscrow(ctx, ownerAddr, uint256.NewInt(10_000_001)); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
	res, err := f.engine.WithdrawEscrow(ctx, ownerAddr, uint256.NewInt(4_000_000))
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if res.NewEscrowBalance.Uint64() != 6_000_000 {
		t.Fatalf("unexpected remaining balance %s", res.NewEscrowBalance)
	}
	if len(f.recorder.OfType(events.TypeEscrowWithdrawn)) != 1 {
		t.Fatalf("failed withdrawals must not emit events")
	}
}

func TestWithdrawEscrowUsesAdminWhenSet(t *testing.T) {
	f := newFixture(t, fixtureConfig{asset: tokenAddr})
	f.fund(100)
	ctx := context.Background()
	admin := common.HexToAddress("0x00000000000000000000000000000000000000b5")
	if err := f.engine.SetAdmin(ctx, ownerAddr, admin); err != nil {
		t.Fatalf("set admin: %v", err)
	}
	if _, err := f.engine.WithdrawEscrow(ctx, ownerAddr, uint256.NewInt(10)); !errors.Is(err, ErrCallerNotAdmin) {
		t.Fatalf("owner must defer to the admin, got %v", err)
	}
	if _, err := f.engine.WithdrawEscrow(ctx, admin, uint256.NewInt(10)); err != nil {
		t.Fatalf("admin withdraw: %v", err)
	}
	contract, _ := f.tokens.Lookup(tokenAddr)
	bal, _ := contract.BalanceOf(admin)
	if bal.Uint64() != 10 {
		t.Fatalf("admin received %s", bal)
	}
}

func TestDepositFungibleRequiresAllowance(t *testing.T) {
	f := newFixture(t, fixtureConfig{asset: tokenAddr})
	ctx := context.Background()
	if _, err := f.engine.Deposit(ctx, funderAddr, uint256.NewInt(50)); !errors.Is(err, ErrTokenTransferFailed) {
		t.Fatalf("expected token transfer failure without allowance, got %v", err)
	}
	contract, _ := f.tokens.Lookup(tokenAddr)
	if err := contract.Approve(funderAddr, f.engine.Address(), uint256.NewInt(50)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	credited, err := f.engine.Deposit(ctx, funderAddr, uint256.NewInt(50))
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if credited.Uint64() != 50 || f.escrowBalance() != 50 {
		t.Fatalf("unexpected deposit result %s, balance %d", credited, f.escrowBalance())
	}
	if len(f.recorder.OfType(events.TypeNativeAssetEscrowed)) != 0 {
		t.Fatalf("token deposits are not announced by the instance")
	}
}

func TestDepositFeeTokenRejected(t *testing.T) {
	f := newFixture(t, fixtureConfig{asset: feeAddr, feeBps: 100})
	ctx := context.Background()
	contract, _ := f.tokens.Lookup(feeAddr)
	if err := contract.Approve(funderAddr, f.engine.Address(), uint256.NewInt(1_000)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if _, err := f.engine.Deposit(ctx, funderAddr, uint256.NewInt(1_000)); !errors.Is(err, ErrTransferEffectMismatch) {
		t.Fatalf("expected transfer effect mismatch, got %v", err)
	}
	if f.escrowBalance() != 0 {
		t.Fatalf("rejected deposit left funds in escrow")
	}
	allowance, _ := contract.Allowance(funderAddr, f.engine.Address())
	if allowance.Uint64() != 1_000 {
		t.Fatalf("rejected deposit consumed allowance: %s", allowance)
	}
}

func TestDepositNativeInsufficientFunds(t *testing.T) {
	f := newFixture(t, fixtureConfig{})
	if _, err := f.engine.Deposit(context.Background(), walletAddr, uint256.NewInt(1)); !errors.Is(err, ErrNativeTransferFailed) {
		t.Fatalf("expected native transfer failure, got %v", err)
	}
	if _, err := f.engine.Deposit(context.Background(), common.Address{}, uint256.NewInt(1)); !errors.Is(err, ErrInvalidWalletAddress) {
		t.Fatalf("expected invalid wallet address, got %v", err)
	}
}

func TestApproveDepositGrantsAllowance(t *testing.T) {
	f := newFixture(t, fixtureConfig{asset: tokenAddr})
	ctx := context.Background()
	if err := f.engine.ApproveDeposit(ctx, funderAddr, uint256.NewInt(75)); err != nil {
		t.Fatalf("approve deposit: %v", err)
	}
	if _, err := f.engine.Deposit(ctx, funderAddr, uint256.NewInt(75)); err != nil {
		t.Fatalf("deposit after approval: %v", err)
	}
	if got := f.escrowBalance(); got != 75 {
		t.Fatalf("unexpected escrow balance %d", got)
	}
	if err := f.engine.ApproveDeposit(ctx, common.Address{}, uint256.NewInt(1)); !errors.Is(err, ErrInvalidWalletAddress) {
		t.Fatalf("expected invalid wallet address, got %v", err)
	}
}

func TestApproveDepositNativeUnsupported(t *testing.T) {
	f := newFixture(t, fixtureConfig{})
	err := f.engine.ApproveDeposit(context.Background(), funderAddr, uint256.NewInt(1))
	if !errors.Is(err, ErrAllowanceUnsupported) {
		t.Fatalf("expected allowance unsupported, got %v", err)
	}
}
