package bank

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"earnescrow/core/state"
)

var (
	// ErrInsufficientFunds is returned when the sender cannot cover a transfer.
	ErrInsufficientFunds = errors.New("bank: insufficient balance")
	errNilState          = errors.New("bank: state not configured")
)

// NativeAsset is the sentinel asset address of the native coin.
var NativeAsset = common.Address{}

// Ledger tracks native coin balances in the shared ledger state.
type Ledger struct {
	state *state.Manager
}

// NewLedger returns a native coin ledger backed by st.
func NewLedger(st *state.Manager) *Ledger {
	return &Ledger{state: st}
}

// Balance returns the native balance of addr.
func (l *Ledger) Balance(addr common.Address) (*uint256.Int, error) {
	if l == nil || l.state == nil {
		return nil, errNilState
	}
	return l.state.Balance(NativeAsset, addr)
}

// Credit mints amount into addr. It is used for genesis allocations.
func (l *Ledger) Credit(addr common.Address, amount *uint256.Int) error {
	if l == nil || l.state == nil {
		return errNilState
	}
	if amount == nil || amount.IsZero() {
		return nil
	}
	current, err := l.state.Balance(NativeAsset, addr)
	if err != nil {
		return err
	}
	next, overflow := new(uint256.Int).AddOverflow(current, amount)
	if overflow {
		return fmt.Errorf("bank: balance overflow")
	}
	return l.state.SetBalance(NativeAsset, addr, next)
}

// Transfer moves amount from one account to another.
func (l *Ledger) Transfer(from, to common.Address, amount *uint256.Int) error {
	if l == nil || l.state == nil {
		return errNilState
	}
	if amount == nil || amount.IsZero() {
		return nil
	}
	if from == to {
		bal, err := l.state.Balance(NativeAsset, from)
		if err != nil {
			return err
		}
		if bal.Lt(amount) {
			return ErrInsufficientFunds
		}
		return nil
	}
	fromBal, err := l.state.Balance(NativeAsset, from)
	if err != nil {
		return err
	}
	if fromBal.Lt(amount) {
		return ErrInsufficientFunds
	}
	toBal, err := l.state.Balance(NativeAsset, to)
	if err != nil {
		return err
	}
	credited, overflow := new(uint256.Int).AddOverflow(toBal, amount)
	if overflow {
		return fmt.Errorf("bank: balance overflow")
	}
	if err := l.state.SetBalance(NativeAsset, from, new(uint256.Int).Sub(fromBal, amount)); err != nil {
		return err
	}
	return l.state.SetBalance(NativeAsset, to, credited)
}
