package earnings

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"earnescrow/core/state"
	"earnescrow/native/bank"
	"earnescrow/native/token"
)

// Asset is the single asset custodied by an escrow instance. Implementations
// move value between the instance and other identities; the engine never
// inspects which kind of asset it holds.
type Asset interface {
	Address() common.Address
	Symbol() string
	BalanceOf(holder common.Address) (*uint256.Int, error)
	// Send pushes quantity from the instance to the recipient.
	Send(to common.Address, quantity *uint256.Int) error
	// Receive pulls quantity from the sender into the instance.
	Receive(from common.Address, quantity *uint256.Int) error
	// EmitsDeposit reports whether receipts are announced by the instance.
	EmitsDeposit() bool
}

// NativeLedger is the coin ledger used by NativeAsset.
type NativeLedger interface {
	Balance(addr common.Address) (*uint256.Int, error)
	Transfer(from, to common.Address, amount *uint256.Int) error
}

// TokenContract is the fungible token surface used by FungibleAsset.
type TokenContract interface {
	Address() common.Address
	Metadata() state.TokenMetadata
	BalanceOf(holder common.Address) (*uint256.Int, error)
	Transfer(from, to common.Address, amount *uint256.Int) (bool, error)
	TransferFrom(spender, from, to common.Address, amount *uint256.Int) (bool, error)
	Approve(owner, spender common.Address, amount *uint256.Int) error
}

// allowanceGranter is implemented by assets that pull deposits through an
// allowance.
type allowanceGranter interface {
	Grant(owner common.Address, quantity *uint256.Int) error
}

// NativeAsset custodies the native coin. Its asset address is the zero
// address.
type NativeAsset struct {
	ledger NativeLedger
	escrow common.Address
}

// NewNativeAsset binds the coin ledger to the escrow instance.
func NewNativeAsset(ledger NativeLedger, escrow common.Address) *NativeAsset {
	return &NativeAsset{ledger: ledger, escrow: escrow}
}

func (a *NativeAsset) Address() common.Address { return bank.NativeAsset }

func (a *NativeAsset) Symbol() string { return "native" }

func (a *NativeAsset) EmitsDeposit() bool { return true }

func (a *NativeAsset) BalanceOf(holder common.Address) (*uint256.Int, error) {
	return a.ledger.Balance(holder)
}

func (a *NativeAsset) Send(to common.Address, quantity *uint256.Int) error {
	if err := a.ledger.Transfer(a.escrow, to, quantity); err != nil {
		if errors.Is(err, bank.ErrInsufficientFunds) {
			return fmt.Errorf("%w: %v", ErrInsufficientBalance, err)
		}
		return fmt.Errorf("%w: %v", ErrNativeTransferFailed, err)
	}
	return nil
}

func (a *NativeAsset) Receive(from common.Address, quantity *uint256.Int) error {
	if err := a.ledger.Transfer(from, a.escrow, quantity); err != nil {
		return fmt.Errorf("%w: %v", ErrNativeTransferFailed, err)
	}
	return nil
}

// FungibleAsset custodies a token contract.
type FungibleAsset struct {
	contract TokenContract
	escrow   common.Address
}

// NewFungibleAsset binds the token contract to the escrow instance.
func NewFungibleAsset(contract TokenContract, escrow common.Address) *FungibleAsset {
	return &FungibleAsset{contract: contract, escrow: escrow}
}

func (a *FungibleAsset) Address() common.Address { return a.contract.Address() }

func (a *FungibleAsset) Symbol() string { return a.contract.Metadata().Symbol }

func (a *FungibleAsset) EmitsDeposit() bool { return false }

func (a *FungibleAsset) BalanceOf(holder common.Address) (*uint256.Int, error) {
	return a.contract.BalanceOf(holder)
}

func (a *FungibleAsset) Send(to common.Address, quantity *uint256.Int) error {
	ok, err := a.contract.Transfer(a.escrow, to, quantity)
	return tokenResult(ok, err)
}

func (a *FungibleAsset) Receive(from common.Address, quantity *uint256.Int) error {
	ok, err := a.contract.TransferFrom(a.escrow, from, a.escrow, quantity)
	return tokenResult(ok, err)
}

// Grant sets the instance's allowance over owner's tokens.
func (a *FungibleAsset) Grant(owner common.Address, quantity *uint256.Int) error {
	if err := a.contract.Approve(owner, a.escrow, quantity); err != nil {
		return fmt.Errorf("%w: %v", ErrTokenTransferFailed, err)
	}
	return nil
}

func tokenResult(ok bool, err error) error {
	switch {
	case errors.Is(err, token.ErrInsufficientBalance):
		return fmt.Errorf("%w: %v", ErrInsufficientBalance, err)
	case err != nil:
		return fmt.Errorf("%w: %v", ErrTokenTransferFailed, err)
	case !ok:
		return ErrTokenTransferFailed
	}
	return nil
}

// ResolveAsset selects the asset implementation for assetAddr. The zero
// address denotes the native coin; any other address must host a registered
// token contract.
func ResolveAsset(st *state.Manager, escrow, assetAddr common.Address) (Asset, error) {
	if st == nil {
		return nil, errNilState
	}
	if assetAddr == bank.NativeAsset {
		return NewNativeAsset(bank.NewLedger(st), escrow), nil
	}
	contract, err := token.NewRegistry(st).Lookup(assetAddr)
	if err != nil {
		if errors.Is(err, token.ErrUnknownToken) {
			return nil, ErrInvalidAssetAddress
		}
		return nil, err
	}
	return NewFungibleAsset(contract, escrow), nil
}
