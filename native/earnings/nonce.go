package earnings

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"earnescrow/core/state"
)

// NonceLedger tracks the last accepted nonce of every wallet. Each wallet's
// claims form a single chain: a claim is accepted only when its parent is the
// wallet's current last nonce.
type NonceLedger struct {
	state    *state.Manager
	instance common.Address
}

// NewNonceLedger binds a ledger to the instance address.
func NewNonceLedger(st *state.Manager, instance common.Address) *NonceLedger {
	return &NonceLedger{state: st, instance: instance}
}

func (l *NonceLedger) record(wallet common.Address) (*state.DistributionRecord, error) {
	if l == nil || l.state == nil {
		return nil, errNilState
	}
	rec, _, err := l.state.DistributionRecord(l.instance, wallet)
	return rec, err
}

// LastNonce returns the wallet's last accepted nonce, or the zero nonce.
func (l *NonceLedger) LastNonce(wallet common.Address) (Nonce, error) {
	rec, err := l.record(wallet)
	if err != nil {
		return Nonce{}, err
	}
	return Nonce(rec.LastNonce), nil
}

// TotalDistributed returns the cumulative quantity released to the wallet.
func (l *NonceLedger) TotalDistributed(wallet common.Address) (*uint256.Int, error) {
	rec, err := l.record(wallet)
	if err != nil {
		return nil, err
	}
	total, overflow := uint256.FromBig(rec.TotalDistributed)
	if overflow {
		return nil, ErrInvalidQuantity
	}
	return total, nil
}

// ValidateAndAdvance checks nonce against the wallet's chain and records it
// as the new last nonce. Checks run in order: distinct from parent, parent is
// the current last nonce, then nonce issued strictly after parent.
func (l *NonceLedger) ValidateAndAdvance(wallet common.Address, nonce, parent Nonce) error {
	if nonce == parent {
		return ErrNonceEqualsParent
	}
	rec, err := l.record(wallet)
	if err != nil {
		return err
	}
	if Nonce(rec.LastNonce) != parent {
		return ErrInvalidatedNonce
	}
	issued, err := nonce.Timestamp()
	if err != nil {
		return err
	}
	if !parent.IsZero() {
		parentIssued, err := parent.Timestamp()
		if err != nil {
			return err
		}
		if issued <= parentIssued {
			return ErrNonceNotAfterParent
		}
	}
	rec.LastNonce = nonce
	return l.state.PutDistributionRecord(l.instance, wallet, rec)
}

// addTotal increases the wallet's cumulative total and returns the new value.
func (l *NonceLedger) addTotal(wallet common.Address, quantity *uint256.Int) (*uint256.Int, error) {
	rec, err := l.record(wallet)
	if err != nil {
		return nil, err
	}
	next := new(big.Int).Add(rec.TotalDistributed, quantity.ToBig())
	total, overflow := uint256.FromBig(next)
	if overflow {
		return nil, ErrInvalidQuantity
	}
	rec.TotalDistributed = next
	if err := l.state.PutDistributionRecord(l.instance, wallet, rec); err != nil {
		return nil, err
	}
	return total, nil
}
