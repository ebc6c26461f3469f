package events

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"earnescrow/core/types"
)

const (
	TypeRoleChanged         = "escrow.role_changed"
	TypeAssetsDistributed   = "escrow.assets_distributed"
	TypeEscrowWithdrawn     = "escrow.withdrawn"
	TypeNativeAssetEscrowed = "escrow.native_escrowed"
)

// Role kinds carried by RoleChanged.
const (
	RoleAdmin    = "admin"
	RoleExchange = "exchange"
)

type RoleChanged struct {
	Escrow   common.Address
	Kind     string
	Previous common.Address
	New      common.Address
}

func (RoleChanged) EventType() string { return TypeRoleChanged }

func (e RoleChanged) Event() *types.Event {
	return &types.Event{
		Type: TypeRoleChanged,
		Attributes: map[string]string{
			"escrow":        formatAddress(e.Escrow),
			"kind":          strings.ToLower(strings.TrimSpace(e.Kind)),
			"previousValue": formatAddress(e.Previous),
			"newValue":      formatAddress(e.New),
		},
	}
}

type AssetsDistributed struct {
	Escrow        common.Address
	Wallet        common.Address
	Quantity      *uint256.Int
	TotalQuantity *uint256.Int
}

func (AssetsDistributed) EventType() string { return TypeAssetsDistributed }

func (e AssetsDistributed) Event() *types.Event {
	return &types.Event{
		Type: TypeAssetsDistributed,
		Attributes: map[string]string{
			"escrow":        formatAddress(e.Escrow),
			"wallet":        formatAddress(e.Wallet),
			"quantity":      formatQuantity(e.Quantity),
			"totalQuantity": formatQuantity(e.TotalQuantity),
		},
	}
}

type EscrowWithdrawn struct {
	Escrow           common.Address
	Quantity         *uint256.Int
	NewEscrowBalance *uint256.Int
}

func (EscrowWithdrawn) EventType() string { return TypeEscrowWithdrawn }

func (e EscrowWithdrawn) Event() *types.Event {
	return &types.Event{
		Type: TypeEscrowWithdrawn,
		Attributes: map[string]string{
			"escrow":           formatAddress(e.Escrow),
			"quantity":         formatQuantity(e.Quantity),
			"newEscrowBalance": formatQuantity(e.NewEscrowBalance),
		},
	}
}

type NativeAssetEscrowed struct {
	Escrow   common.Address
	From     common.Address
	Quantity *uint256.Int
}

func (NativeAssetEscrowed) EventType() string { return TypeNativeAssetEscrowed }

func (e NativeAssetEscrowed) Event() *types.Event {
	return &types.Event{
		Type: TypeNativeAssetEscrowed,
		Attributes: map[string]string{
			"escrow":   formatAddress(e.Escrow),
			"from":     formatAddress(e.From),
			"quantity": formatQuantity(e.Quantity),
		},
	}
}

func formatAddress(addr common.Address) string {
	return addr.Hex()
}

func formatQuantity(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}
