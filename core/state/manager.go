package state

import (
	"bytes"
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"earnescrow/storage"
)

// Manager provides typed access to ledger state staged in an Overlay. All
// reads observe staged writes; nothing reaches the database until Commit.
type Manager struct {
	overlay *Overlay
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{overlay: NewOverlay(db)}
}

// TokenMetadata describes a fungible token contract known to the ledger.
type TokenMetadata struct {
	Address       common.Address
	Symbol        string
	Name          string
	Decimals      uint8
	FeeBps        uint32
	FlatFee       uint64
	MintAuthority common.Address
}

// DistributionRecord is the per-wallet state kept by an escrow instance.
type DistributionRecord struct {
	LastNonce        [16]byte
	TotalDistributed *big.Int
}

var (
	tokenPrefix        = []byte("token:")
	tokenListKey       = ethcrypto.Keccak256([]byte("token-list"))
	balancePrefix      = []byte("balance:")
	allowancePrefix    = []byte("allowance:")
	rolePrefix         = []byte("role:")
	distributionPrefix = []byte("distribution:")
)

func tokenMetadataKey(addr common.Address) []byte {
	return ethcrypto.Keccak256(tokenPrefix, addr.Bytes())
}

func balanceKey(asset, holder common.Address) []byte {
	return ethcrypto.Keccak256(balancePrefix, asset.Bytes(), []byte{':'}, holder.Bytes())
}

func allowanceKey(asset, owner, spender common.Address) []byte {
	return ethcrypto.Keccak256(allowancePrefix, asset.Bytes(), owner.Bytes(), spender.Bytes())
}

func roleKey(instance common.Address, role string) []byte {
	return ethcrypto.Keccak256(rolePrefix, instance.Bytes(), []byte(role))
}

func distributionKey(instance, wallet common.Address) []byte {
	return ethcrypto.Keccak256(distributionPrefix, instance.Bytes(), wallet.Bytes())
}

func kvKey(key []byte) []byte {
	return ethcrypto.Keccak256(key)
}

// Snapshot returns a revision identifier for the staged state.
func (m *Manager) Snapshot() int { return m.overlay.Snapshot() }

// RevertToSnapshot discards staged writes made after the revision.
func (m *Manager) RevertToSnapshot(id int) { m.overlay.RevertToSnapshot(id) }

// Commit flushes staged writes to the database atomically.
func (m *Manager) Commit() error { return m.overlay.Commit() }

// Discard drops all staged writes.
func (m *Manager) Discard() { m.overlay.Discard() }

func (m *Manager) get(key []byte, out interface{}) (bool, error) {
	data, err := m.overlay.Get(key)
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

func (m *Manager) put(key []byte, value interface{}) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	m.overlay.Put(key, encoded)
	return nil
}

func (m *Manager) loadTokenList() ([]common.Address, error) {
	var list []common.Address
	if _, err := m.get(tokenListKey, &list); err != nil {
		return nil, err
	}
	if list == nil {
		list = []common.Address{}
	}
	return list, nil
}

// RegisterToken stores the metadata for a token contract and records it in
// the token index.
func (m *Manager) RegisterToken(meta TokenMetadata) error {
	if meta.Address == (common.Address{}) {
		return fmt.Errorf("token address must not be zero")
	}
	meta.Symbol = strings.ToUpper(strings.TrimSpace(meta.Symbol))
	if meta.Symbol == "" {
		return fmt.Errorf("token symbol must not be empty")
	}
	if strings.TrimSpace(meta.Name) == "" {
		return fmt.Errorf("token %s: name must not be empty", meta.Symbol)
	}
	if meta.FeeBps > 10_000 {
		return fmt.Errorf("token %s: fee bps out of range", meta.Symbol)
	}
	if existing, err := m.Token(meta.Address); err != nil {
		return err
	} else if existing != nil {
		return fmt.Errorf("token %s already registered", meta.Address.Hex())
	}
	list, err := m.loadTokenList()
	if err != nil {
		return err
	}
	list = append(list, meta.Address)
	sort.Slice(list, func(i, j int) bool { return bytes.Compare(list[i].Bytes(), list[j].Bytes()) < 0 })
	if err := m.put(tokenListKey, list); err != nil {
		return err
	}
	return m.put(tokenMetadataKey(meta.Address), &meta)
}

// Token retrieves metadata for a registered token. A nil result means no
// token contract exists at the address.
func (m *Manager) Token(addr common.Address) (*TokenMetadata, error) {
	meta := new(TokenMetadata)
	ok, err := m.get(tokenMetadataKey(addr), meta)
	if err != nil || !ok {
		return nil, err
	}
	return meta, nil
}

// SetBalance stores the balance of holder in the supplied asset. The zero
// asset address denotes the native coin.
func (m *Manager) SetBalance(asset, holder common.Address, amount *uint256.Int) error {
	if amount == nil {
		amount = new(uint256.Int)
	}
	if amount.IsZero() {
		m.overlay.Delete(balanceKey(asset, holder))
		return nil
	}
	return m.put(balanceKey(asset, holder), amount.ToBig())
}

// Balance retrieves the balance of holder in the supplied asset.
func (m *Manager) Balance(asset, holder common.Address) (*uint256.Int, error) {
	amount := new(big.Int)
	ok, err := m.get(balanceKey(asset, holder), amount)
	if err != nil {
		return nil, err
	}
	if !ok {
		return new(uint256.Int), nil
	}
	out, overflow := uint256.FromBig(amount)
	if overflow {
		return nil, fmt.Errorf("balance overflows 256 bits")
	}
	return out, nil
}

// SetAllowance records how much spender may pull from owner's balance.
func (m *Manager) SetAllowance(asset, owner, spender common.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		m.overlay.Delete(allowanceKey(asset, owner, spender))
		return nil
	}
	return m.put(allowanceKey(asset, owner, spender), amount.ToBig())
}

// Allowance returns the remaining allowance of spender over owner's balance.
func (m *Manager) Allowance(asset, owner, spender common.Address) (*uint256.Int, error) {
	amount := new(big.Int)
	ok, err := m.get(allowanceKey(asset, owner, spender), amount)
	if err != nil {
		return nil, err
	}
	if !ok {
		return new(uint256.Int), nil
	}
	out, overflow := uint256.FromBig(amount)
	if overflow {
		return nil, fmt.Errorf("allowance overflows 256 bits")
	}
	return out, nil
}

// SetRole assigns addr to the single-holder role slot of an instance. The zero
// address clears the slot.
func (m *Manager) SetRole(instance common.Address, role string, addr common.Address) error {
	trimmed := strings.TrimSpace(role)
	if trimmed == "" {
		return fmt.Errorf("role must not be empty")
	}
	if addr == (common.Address{}) {
		m.overlay.Delete(roleKey(instance, trimmed))
		return nil
	}
	return m.put(roleKey(instance, trimmed), addr)
}

// Role returns the holder of the role slot or the zero address.
func (m *Manager) Role(instance common.Address, role string) (common.Address, error) {
	var addr common.Address
	if _, err := m.get(roleKey(instance, strings.TrimSpace(role)), &addr); err != nil {
		return common.Address{}, err
	}
	return addr, nil
}

// DistributionRecord loads the wallet record of an escrow instance. The
// boolean reports whether the record exists.
func (m *Manager) DistributionRecord(instance, wallet common.Address) (*DistributionRecord, bool, error) {
	rec := new(DistributionRecord)
	ok, err := m.get(distributionKey(instance, wallet), rec)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return &DistributionRecord{TotalDistributed: big.NewInt(0)}, false, nil
	}
	if rec.TotalDistributed == nil {
		rec.TotalDistributed = big.NewInt(0)
	}
	return rec, true, nil
}

// PutDistributionRecord stores the wallet record of an escrow instance.
func (m *Manager) PutDistributionRecord(instance, wallet common.Address, rec *DistributionRecord) error {
	if rec == nil {
		return fmt.Errorf("distribution record must not be nil")
	}
	if rec.TotalDistributed == nil {
		rec.TotalDistributed = big.NewInt(0)
	}
	if rec.TotalDistributed.Sign() < 0 {
		return fmt.Errorf("negative total not allowed")
	}
	return m.put(distributionKey(instance, wallet), rec)
}

// KVPut stores the provided value under the supplied key using RLP encoding.
// The key is hashed with keccak256.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	return m.put(kvKey(key), value)
}

// KVGet retrieves the value stored under the supplied key and decodes it into
// the provided destination. The boolean return value indicates whether the key
// existed in state.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	return m.get(kvKey(key), out)
}
