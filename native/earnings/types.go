package earnings

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// gregorianOffset is the number of 100ns intervals between the UUID epoch
// (1582-10-15) and the Unix epoch.
const gregorianOffset = 0x01B21DD213814000

// Nonce is a 128-bit claim identifier. Accepted nonces are version 1 UUIDs so
// that an issuance timestamp can be extracted and compared.
type Nonce [16]byte

// ZeroNonce is the parent of a wallet's first claim.
var ZeroNonce Nonce

// ParseNonce decodes a UUID string. Dashes are optional and a 0x prefix is
// tolerated so raw 128-bit hex values round-trip as well.
func ParseNonce(raw string) (Nonce, error) {
	trimmed := strings.TrimSpace(raw)
	trimmed = strings.TrimPrefix(strings.TrimPrefix(trimmed, "0x"), "0X")
	trimmed = strings.ReplaceAll(trimmed, "-", "")
	if len(trimmed) != 32 {
		return Nonce{}, fmt.Errorf("%w: %q", ErrInvalidNonce, raw)
	}
	var n Nonce
	if _, err := hex.Decode(n[:], []byte(trimmed)); err != nil {
		return Nonce{}, fmt.Errorf("%w: %q", ErrInvalidNonce, raw)
	}
	return n, nil
}

// MustParseNonce is ParseNonce for constants; it panics on malformed input.
func MustParseNonce(raw string) Nonce {
	n, err := ParseNonce(raw)
	if err != nil {
		panic(err)
	}
	return n
}

// String renders the canonical dashed UUID form.
func (n Nonce) String() string { return uuid.UUID(n).String() }

// IsZero reports whether n is the zero nonce.
func (n Nonce) IsZero() bool { return n == ZeroNonce }

// MarshalText implements encoding.TextMarshaler.
func (n Nonce) MarshalText() ([]byte, error) { return []byte(n.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (n *Nonce) UnmarshalText(text []byte) error {
	parsed, err := ParseNonce(string(text))
	if err != nil {
		return err
	}
	*n = parsed
	return nil
}

// Timestamp returns the embedded issuance time in Unix milliseconds. Only
// version 1 UUIDs carry a timestamp.
func (n Nonce) Timestamp() (int64, error) {
	id := uuid.UUID(n)
	if id.Version() != 1 {
		return 0, fmt.Errorf("%w: %s is not a time-based uuid", ErrInvalidNonce, id)
	}
	sec, nsec := id.Time().UnixTime()
	return sec*1000 + nsec/int64(time.Millisecond), nil
}

// NewNonce builds a version 1 UUID for the supplied instant. The clock
// sequence is random so nonces issued within the same tick stay distinct.
func NewNonce(at time.Time) Nonce {
	ticks := uint64(at.UnixNano()/100) + gregorianOffset
	var n Nonce
	binary.BigEndian.PutUint32(n[0:4], uint32(ticks))
	binary.BigEndian.PutUint16(n[4:6], uint16(ticks>>32))
	binary.BigEndian.PutUint16(n[6:8], uint16(ticks>>48)&0x0fff|0x1000)

	var seq [2]byte
	if _, err := rand.Read(seq[:]); err != nil {
		binary.BigEndian.PutUint16(seq[:], uint16(uuid.ClockSequence()))
	}
	n[8] = seq[0]&0x3f | 0x80
	n[9] = seq[1]
	copy(n[10:], uuid.NodeID())
	return n
}

// Claim is an unsigned request to release quantity of the escrowed asset to a
// wallet.
type Claim struct {
	Nonce       Nonce
	ParentNonce Nonce
	Wallet      common.Address
	Asset       common.Address
	Quantity    *uint256.Int
}

// SignedClaim carries the exchange signature over the claim hash.
type SignedClaim struct {
	Claim
	Signature []byte
}

// Settlement summarises an accepted distribution.
type Settlement struct {
	Wallet           common.Address
	Nonce            Nonce
	Quantity         *uint256.Int
	TotalDistributed *uint256.Int
	EscrowBalance    *uint256.Int
}

// Withdrawal summarises an escrow withdrawal.
type Withdrawal struct {
	Recipient        common.Address
	Quantity         *uint256.Int
	NewEscrowBalance *uint256.Int
}
