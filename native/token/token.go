package token

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"earnescrow/core/state"
)

var (
	ErrUnknownToken          = errors.New("token: no contract at address")
	ErrInsufficientBalance   = errors.New("token: transfer amount exceeds balance")
	ErrInsufficientAllowance = errors.New("token: transfer amount exceeds allowance")
	ErrUnauthorizedMint      = errors.New("token: caller is not the mint authority")
	errNilState              = errors.New("token: state not configured")
)

// Registry resolves token contracts registered in the ledger state.
type Registry struct {
	state *state.Manager
}

// NewRegistry returns a registry backed by st.
func NewRegistry(st *state.Manager) *Registry {
	return &Registry{state: st}
}

// Deploy registers a new token contract.
func (r *Registry) Deploy(meta state.TokenMetadata) (*Contract, error) {
	if r == nil || r.state == nil {
		return nil, errNilState
	}
	if err := r.state.RegisterToken(meta); err != nil {
		return nil, err
	}
	return r.Lookup(meta.Address)
}

// Lookup returns the contract at addr or ErrUnknownToken.
func (r *Registry) Lookup(addr common.Address) (*Contract, error) {
	if r == nil || r.state == nil {
		return nil, errNilState
	}
	meta, err := r.state.Token(addr)
	if err != nil {
		return nil, err
	}
	if meta == nil {
		return nil, ErrUnknownToken
	}
	return &Contract{state: r.state, meta: *meta}, nil
}

// Contract is a fungible token with optional transfer fees. Fees are withheld
// from the recipient and credited to the mint authority.
type Contract struct {
	state *state.Manager
	meta  state.TokenMetadata
}

// Address returns the contract address.
func (c *Contract) Address() common.Address { return c.meta.Address }

// Metadata returns the registered metadata.
func (c *Contract) Metadata() state.TokenMetadata { return c.meta }

// BalanceOf returns the balance of holder.
func (c *Contract) BalanceOf(holder common.Address) (*uint256.Int, error) {
	return c.state.Balance(c.meta.Address, holder)
}

// Allowance returns how much spender may pull from owner.
func (c *Contract) Allowance(owner, spender common.Address) (*uint256.Int, error) {
	return c.state.Allowance(c.meta.Address, owner, spender)
}

// Approve sets spender's allowance over owner's balance.
func (c *Contract) Approve(owner, spender common.Address, amount *uint256.Int) error {
	return c.state.SetAllowance(c.meta.Address, owner, spender, amount)
}

// Mint credits amount to the recipient. Only the mint authority may mint.
func (c *Contract) Mint(caller, to common.Address, amount *uint256.Int) error {
	if caller != c.meta.MintAuthority {
		return ErrUnauthorizedMint
	}
	return c.credit(to, amount)
}

// Transfer moves amount from one holder to another. The boolean mirrors the
// ERC-20 return value; it is true whenever no error is returned even if a fee
// reduced the amount delivered.
func (c *Contract) Transfer(from, to common.Address, amount *uint256.Int) (bool, error) {
	if err := c.move(from, to, amount); err != nil {
		return false, err
	}
	return true, nil
}

// TransferFrom moves amount from one holder to another on behalf of spender,
// consuming allowance.
func (c *Contract) TransferFrom(spender, from, to common.Address, amount *uint256.Int) (bool, error) {
	allowance, err := c.Allowance(from, spender)
	if err != nil {
		return false, err
	}
	if allowance.Lt(amount) {
		return false, ErrInsufficientAllowance
	}
	if err := c.move(from, to, amount); err != nil {
		return false, err
	}
	if err := c.Approve(from, spender, new(uint256.Int).Sub(allowance, amount)); err != nil {
		return false, err
	}
	return true, nil
}

func (c *Contract) fee(amount *uint256.Int) *uint256.Int {
	fee := new(uint256.Int)
	if c.meta.FeeBps > 0 {
		fee.Mul(amount, uint256.NewInt(uint64(c.meta.FeeBps)))
		fee.Div(fee, uint256.NewInt(10_000))
	}
	fee.Add(fee, uint256.NewInt(c.meta.FlatFee))
	if fee.Gt(amount) {
		fee.Set(amount)
	}
	return fee
}

func (c *Contract) move(from, to common.Address, amount *uint256.Int) error {
	if c == nil || c.state == nil {
		return errNilState
	}
	if amount == nil || amount.IsZero() {
		return nil
	}
	fromBal, err := c.BalanceOf(from)
	if err != nil {
		return err
	}
	if fromBal.Lt(amount) {
		return ErrInsufficientBalance
	}
	if err := c.state.SetBalance(c.meta.Address, from, new(uint256.Int).Sub(fromBal, amount)); err != nil {
		return err
	}
	fee := c.fee(amount)
	if err := c.credit(to, new(uint256.Int).Sub(amount, fee)); err != nil {
		return err
	}
	return c.credit(c.meta.MintAuthority, fee)
}

func (c *Contract) credit(to common.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return nil
	}
	current, err := c.BalanceOf(to)
	if err != nil {
		return err
	}
	next, overflow := new(uint256.Int).AddOverflow(current, amount)
	if overflow {
		return fmt.Errorf("token %s: balance overflow", c.meta.Symbol)
	}
	return c.state.SetBalance(c.meta.Address, to, next)
}
