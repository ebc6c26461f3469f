package token

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"earnescrow/core/state"
	"earnescrow/storage"
)

var (
	tokenAddr = common.HexToAddress("0x00000000000000000000000000000000000000f0")
	authority = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	alice     = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob       = common.HexToAddress("0x00000000000000000000000000000000000000b1")
)

func deploy(t *testing.T, meta state.TokenMetadata) *Contract {
	t.Helper()
	reg := NewRegistry(state.NewManager(storage.NewMemDB()))
	if meta.Address == (common.Address{}) {
		meta.Address = tokenAddr
	}
	if meta.Symbol == "" {
		meta.Symbol = "tst"
		meta.Name = "Test Token"
	}
	meta.MintAuthority = authority
	contract, err := reg.Deploy(meta)
	require.NoError(t, err)
	require.NoError(t, contract.Mint(authority, alice, uint256.NewInt(1_000)))
	return contract
}

func TestRegistryLookupUnknown(t *testing.T) {
	reg := NewRegistry(state.NewManager(storage.NewMemDB()))
	_, err := reg.Lookup(tokenAddr)
	require.ErrorIs(t, err, ErrUnknownToken)
}

func TestDeployNormalisesSymbol(t *testing.T) {
	contract := deploy(t, state.TokenMetadata{Symbol: " usdx ", Name: "USD X", Decimals: 6})
	require.Equal(t, "USDX", contract.Metadata().Symbol)
	require.Equal(t, uint8(6), contract.Metadata().Decimals)
}

func TestTransferWithoutFee(t *testing.T) {
	contract := deploy(t, state.TokenMetadata{})
	ok, err := contract.Transfer(alice, bob, uint256.NewInt(400))
	require.NoError(t, err)
	require.True(t, ok)

	aBal, _ := contract.BalanceOf(alice)
	bBal, _ := contract.BalanceOf(bob)
	require.Equal(t, uint64(600), aBal.Uint64())
	require.Equal(t, uint64(400), bBal.Uint64())
}

func TestTransferExceedsBalance(t *testing.T) {
	contract := deploy(t, state.TokenMetadata{})
	ok, err := contract.Transfer(alice, bob, uint256.NewInt(1_001))
	require.False(t, ok)
	require.True(t, errors.Is(err, ErrInsufficientBalance))
}

func TestTransferWithholdsFlatFee(t *testing.T) {
	contract := deploy(t, state.TokenMetadata{FlatFee: 1})
	ok, err := contract.Transfer(alice, bob, uint256.NewInt(100))
	require.NoError(t, err)
	require.True(t, ok)

	bBal, _ := contract.BalanceOf(bob)
	fee, _ := contract.BalanceOf(authority)
	require.Equal(t, uint64(99), bBal.Uint64())
	require.Equal(t, uint64(1), fee.Uint64())
}

func TestTransferWithBasisPointFee(t *testing.T) {
	contract := deploy(t, state.TokenMetadata{FeeBps: 250})
	_, err := contract.Transfer(alice, bob, uint256.NewInt(1_000))
	require.NoError(t, err)

	bBal, _ := contract.BalanceOf(bob)
	fee, _ := contract.BalanceOf(authority)
	require.Equal(t, uint64(975), bBal.Uint64())
	require.Equal(t, uint64(25), fee.Uint64())
}

func TestTransferFromConsumesAllowance(t *testing.T) {
	contract := deploy(t, state.TokenMetadata{})
	require.NoError(t, contract.Approve(alice, bob, uint256.NewInt(300)))

	_, err := contract.TransferFrom(bob, alice, bob, uint256.NewInt(301))
	require.ErrorIs(t, err, ErrInsufficientAllowance)

	ok, err := contract.TransferFrom(bob, alice, bob, uint256.NewInt(200))
	require.NoError(t, err)
	require.True(t, ok)

	remaining, _ := contract.Allowance(alice, bob)
	require.Equal(t, uint64(100), remaining.Uint64())
}

func TestMintRequiresAuthority(t *testing.T) {
	contract := deploy(t, state.TokenMetadata{})
	require.ErrorIs(t, contract.Mint(alice, alice, uint256.NewInt(1)), ErrUnauthorizedMint)
}
