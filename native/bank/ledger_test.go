package bank

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"earnescrow/core/state"
	"earnescrow/storage"
)

func TestLedgerTransfer(t *testing.T) {
	ledger := NewLedger(state.NewManager(storage.NewMemDB()))
	alice := common.HexToAddress("0x0a")
	bob := common.HexToAddress("0x0b")

	if err := ledger.Credit(alice, uint256.NewInt(100)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := ledger.Transfer(alice, bob, uint256.NewInt(60)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if err := ledger.Transfer(alice, bob, uint256.NewInt(41)); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	aBal, _ := ledger.Balance(alice)
	bBal, _ := ledger.Balance(bob)
	if aBal.Uint64() != 40 || bBal.Uint64() != 60 {
		t.Fatalf("unexpected balances alice=%s bob=%s", aBal, bBal)
	}
}

func TestLedgerSelfTransferKeepsBalance(t *testing.T) {
	ledger := NewLedger(state.NewManager(storage.NewMemDB()))
	alice := common.HexToAddress("0x0a")
	if err := ledger.Credit(alice, uint256.NewInt(5)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := ledger.Transfer(alice, alice, uint256.NewInt(5)); err != nil {
		t.Fatalf("self transfer: %v", err)
	}
	if err := ledger.Transfer(alice, alice, uint256.NewInt(6)); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	bal, _ := ledger.Balance(alice)
	if bal.Uint64() != 5 {
		t.Fatalf("self transfer must not change balance, got %s", bal)
	}
}

func TestLedgerWithoutState(t *testing.T) {
	var ledger *Ledger
	if _, err := ledger.Balance(common.Address{}); err == nil {
		t.Fatalf("expected error for nil ledger")
	}
}
