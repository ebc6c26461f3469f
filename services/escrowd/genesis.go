package escrowd

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"earnescrow/core/state"
	"earnescrow/crypto"
	"earnescrow/native/bank"
	"earnescrow/native/token"
)

var genesisMarkerKey = []byte("escrowd/genesis")

// applyGenesis deploys configured tokens and credits allocations the first
// time a data directory is opened. Later starts leave the ledger untouched.
// The caller commits.
func applyGenesis(st *state.Manager, cfg Config) (bool, error) {
	var applied uint64
	found, err := st.KVGet(genesisMarkerKey, &applied)
	if err != nil {
		return false, fmt.Errorf("load genesis marker: %w", err)
	}
	if found {
		return false, nil
	}
	registry := token.NewRegistry(st)
	for i, tok := range cfg.Tokens {
		addr, err := crypto.ParseAddress(tok.Address)
		if err != nil {
			return false, fmt.Errorf("tokens[%d]: %w", i, err)
		}
		authority, err := parseOptionalAddress(tok.MintAuthority)
		if err != nil {
			return false, fmt.Errorf("tokens[%d] mint authority: %w", i, err)
		}
		if _, err := registry.Deploy(state.TokenMetadata{
			Address:       addr,
			Symbol:        tok.Symbol,
			Name:          tok.Name,
			Decimals:      tok.Decimals,
			FeeBps:        tok.FeeBps,
			FlatFee:       tok.FlatFee,
			MintAuthority: authority,
		}); err != nil {
			return false, fmt.Errorf("tokens[%d]: %w", i, err)
		}
	}
	ledger := bank.NewLedger(st)
	for i, alloc := range cfg.Genesis {
		holder, err := crypto.ParseAddress(alloc.Holder)
		if err != nil {
			return false, fmt.Errorf("genesis[%d]: %w", i, err)
		}
		asset, err := parseAsset(alloc.Asset)
		if err != nil {
			return false, fmt.Errorf("genesis[%d]: %w", i, err)
		}
		amount, err := parseQuantity(alloc.Amount)
		if err != nil {
			return false, fmt.Errorf("genesis[%d]: %w", i, err)
		}
		if asset == bank.NativeAsset {
			if err := ledger.Credit(holder, amount); err != nil {
				return false, fmt.Errorf("genesis[%d]: %w", i, err)
			}
			continue
		}
		contract, err := registry.Lookup(asset)
		if err != nil {
			return false, fmt.Errorf("genesis[%d]: %w", i, err)
		}
		if err := contract.Mint(contract.Metadata().MintAuthority, holder, amount); err != nil {
			return false, fmt.Errorf("genesis[%d]: %w", i, err)
		}
	}
	if err := st.KVPut(genesisMarkerKey, uint64(len(cfg.Genesis))); err != nil {
		return false, err
	}
	return true, nil
}

// parseAsset maps "native" or an empty string to the native coin.
func parseAsset(raw string) (common.Address, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || strings.EqualFold(trimmed, "native") {
		return bank.NativeAsset, nil
	}
	return crypto.ParseAddress(trimmed)
}

func parseOptionalAddress(raw string) (common.Address, error) {
	if strings.TrimSpace(raw) == "" {
		return common.Address{}, nil
	}
	return crypto.ParseAddress(raw)
}

func parseQuantity(raw string) (*uint256.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("quantity required")
	}
	value, err := uint256.FromDecimal(trimmed)
	if err != nil {
		return nil, fmt.Errorf("invalid quantity %q: %w", raw, err)
	}
	return value, nil
}
