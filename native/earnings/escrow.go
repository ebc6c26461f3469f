package earnings

import (
	"context"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.opentelemetry.io/otel/attribute"

	"earnescrow/core/events"
)

// EscrowBalance returns the quantity currently held by the instance.
func (e *Engine) EscrowBalance() (*uint256.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.asset.BalanceOf(e.address)
}

// WithdrawEscrow releases surplus custodied funds to the caller. The caller
// must be the admin, or the owner while no admin is set.
func (e *Engine) WithdrawEscrow(ctx context.Context, caller common.Address, quantity *uint256.Int) (result *Withdrawal, err error) {
	_, finish := e.begin(ctx, "withdraw_escrow", attribute.String("caller", caller.Hex()))
	defer func() { finish(err) }()

	e.mu.Lock()
	defer e.mu.Unlock()

	err = e.atomically(func() ([]events.Event, error) {
		allowed, err := e.roles.IsAdminOrOwner(caller)
		if err != nil {
			return nil, err
		}
		if !allowed {
			return nil, ErrCallerNotAdmin
		}
		if quantity == nil {
			return nil, ErrInvalidQuantity
		}
		if err := e.transferOut(caller, quantity); err != nil {
			return nil, err
		}
		balance, err := e.asset.BalanceOf(e.address)
		if err != nil {
			return nil, err
		}
		result = &Withdrawal{
			Recipient:        caller,
			Quantity:         new(uint256.Int).Set(quantity),
			NewEscrowBalance: balance,
		}
		return []events.Event{events.EscrowWithdrawn{
			Escrow:           e.address,
			Quantity:         result.Quantity,
			NewEscrowBalance: balance,
		}}, nil
	})
	if err != nil {
		return nil, err
	}
	e.metrics.SetEscrowBalance(e.asset.Symbol(), result.NewEscrowBalance)
	e.logger.Info("escrow withdrawn",
		slog.String("recipient", caller.Hex()),
		slog.String("quantity", result.Quantity.Dec()),
		slog.String("balance", result.NewEscrowBalance.Dec()))
	return result, nil
}

// Deposit moves quantity from the caller into custody and returns the amount
// credited. Token deposits draw on the allowance granted to the instance.
// The instance balance must grow by exactly quantity.
func (e *Engine) Deposit(ctx context.Context, caller common.Address, quantity *uint256.Int) (credited *uint256.Int, err error) {
	_, finish := e.begin(ctx, "deposit", attribute.String("caller", caller.Hex()))
	defer func() { finish(err) }()

	e.mu.Lock()
	defer e.mu.Unlock()

	var balance *uint256.Int
	err = e.atomically(func() ([]events.Event, error) {
		if caller == (common.Address{}) {
			return nil, ErrInvalidWalletAddress
		}
		if quantity == nil {
			return nil, ErrInvalidQuantity
		}
		before, err := e.asset.BalanceOf(e.address)
		if err != nil {
			return nil, err
		}
		if err := e.asset.Receive(caller, quantity); err != nil {
			return nil, err
		}
		balance, err = e.asset.BalanceOf(e.address)
		if err != nil {
			return nil, err
		}
		if balance.Lt(before) {
			return nil, ErrTransferEffectMismatch
		}
		credited = new(uint256.Int).Sub(balance, before)
		if !credited.Eq(quantity) {
			return nil, ErrTransferEffectMismatch
		}
		if !e.asset.EmitsDeposit() {
			return nil, nil
		}
		return []events.Event{events.NativeAssetEscrowed{
			Escrow:   e.address,
			From:     caller,
			Quantity: credited,
		}}, nil
	})
	if err != nil {
		return nil, err
	}
	e.metrics.SetEscrowBalance(e.asset.Symbol(), balance)
	e.logger.Info("escrow funded",
		slog.String("from", caller.Hex()),
		slog.String("quantity", credited.Dec()))
	return credited, nil
}

// ApproveDeposit lets owner pre-authorise token deposits of up to quantity.
// Native escrows receive value directly and reject allowances.
func (e *Engine) ApproveDeposit(ctx context.Context, owner common.Address, quantity *uint256.Int) (err error) {
	_, finish := e.begin(ctx, "approve_deposit", attribute.String("caller", owner.Hex()))
	defer func() { finish(err) }()

	e.mu.Lock()
	defer e.mu.Unlock()

	return e.atomically(func() ([]events.Event, error) {
		if owner == (common.Address{}) {
			return nil, ErrInvalidWalletAddress
		}
		if quantity == nil {
			return nil, ErrInvalidQuantity
		}
		granter, ok := e.asset.(allowanceGranter)
		if !ok {
			return nil, ErrAllowanceUnsupported
		}
		return nil, granter.Grant(owner, quantity)
	})
}
