package earnings

import (
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

func TestParseNonceForms(t *testing.T) {
	want := MustParseNonce("6ba7b810-9dad-11d1-80b4-00c04fd430c8")
	for _, raw := range []string{
		"6ba7b810-9dad-11d1-80b4-00c04fd430c8",
		"6BA7B8109DAD11D180B400C04FD430C8",
		"0x6ba7b8109dad11d180b400c04fd430c8",
		"  6ba7b810-9dad-11d1-80b4-00c04fd430c8\n",
	} {
		got, err := ParseNonce(raw)
		if err != nil {
			t.Fatalf("parse %q: %v", raw, err)
		}
		if got != want {
			t.Fatalf("parse %q: got %s", raw, got)
		}
	}
	for _, raw := range []string{"", "1234", "zzzzzzzz-9dad-11d1-80b4-00c04fd430c8", "6ba7b810-9dad-11d1-80b4-00c04fd430c8ff"} {
		if _, err := ParseNonce(raw); !errors.Is(err, ErrInvalidNonce) {
			t.Fatalf("expected invalid nonce for %q, got %v", raw, err)
		}
	}
}

func TestNonceTimestamp(t *testing.T) {
	ts, err := MustParseNonce("6ba7b810-9dad-11d1-80b4-00c04fd430c8").Timestamp()
	if err != nil {
		t.Fatalf("timestamp: %v", err)
	}
	if ts != 886630433151 {
		t.Fatalf("unexpected timestamp %d", ts)
	}
	if _, err := MustParseNonce("6ba7b810-9dad-41d1-80b4-00c04fd430c8").Timestamp(); !errors.Is(err, ErrInvalidNonce) {
		t.Fatalf("expected version 4 uuid to be rejected, got %v", err)
	}
	if _, err := ZeroNonce.Timestamp(); err == nil {
		t.Fatalf("zero nonce has no timestamp")
	}
}

func TestNewNonceEmbedsTime(t *testing.T) {
	at := time.Date(2030, 7, 4, 8, 30, 15, 123_456_789, time.UTC)
	n := NewNonce(at)
	ts, err := n.Timestamp()
	if err != nil {
		t.Fatalf("timestamp: %v", err)
	}
	if ts != at.UnixMilli() {
		t.Fatalf("expected %d, got %d", at.UnixMilli(), ts)
	}
	if n[8]&0xc0 != 0x80 {
		t.Fatalf("unexpected variant bits %x", n[8])
	}
	if n.IsZero() {
		t.Fatalf("nonce must not be zero")
	}
	parsed, err := ParseNonce(n.String())
	if err != nil || parsed != n {
		t.Fatalf("string form does not round trip: %v", err)
	}
}

func TestNonceTextMarshalling(t *testing.T) {
	n := NewNonce(time.Unix(1_700_000_000, 0))
	text, err := n.MarshalText()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded Nonce
	if err := decoded.UnmarshalText(text); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded != n {
		t.Fatalf("decoded %s, want %s", decoded, n)
	}
}

func TestEncodeClaimLayout(t *testing.T) {
	escrow := common.HexToAddress("0x1111111111111111111111111111111111111111")
	claim := Claim{
		Nonce:       MustParseNonce("6ba7b810-9dad-11d1-80b4-00c04fd430c8"),
		ParentNonce: MustParseNonce("00000000-0000-0000-0000-000000000001"),
		Wallet:      common.HexToAddress("0x2222222222222222222222222222222222222222"),
		Asset:       common.HexToAddress("0x3333333333333333333333333333333333333333"),
		Quantity:    uint256.NewInt(10_000_000),
	}
	encoded := EncodeClaim(escrow, claim)
	if len(encoded) != encodedClaimLength {
		t.Fatalf("expected %d bytes, got %d", encodedClaimLength, len(encoded))
	}
	if common.BytesToAddress(encoded[0:20]) != escrow {
		t.Fatalf("escrow not at offset 0")
	}
	if nonceAt(encoded[20:36]) != claim.Nonce || nonceAt(encoded[36:52]) != claim.ParentNonce {
		t.Fatalf("nonces not packed as 128-bit values")
	}
	if common.BytesToAddress(encoded[52:72]) != claim.Wallet || common.BytesToAddress(encoded[72:92]) != claim.Asset {
		t.Fatalf("addresses misplaced")
	}
	if new(uint256.Int).SetBytes(encoded[92:]).Uint64() != 10_000_000 {
		t.Fatalf("quantity not packed as uint256")
	}
	if ClaimHash(escrow, claim) != ethcrypto.Keccak256Hash(encoded) {
		t.Fatalf("claim hash is not keccak256 of the encoding")
	}

	altered := claim
	altered.Quantity = uint256.NewInt(10_000_001)
	if ClaimHash(escrow, altered) == ClaimHash(escrow, claim) {
		t.Fatalf("quantity must be bound by the hash")
	}
	if ClaimHash(common.Address{}, claim) == ClaimHash(escrow, claim) {
		t.Fatalf("instance identity must be bound by the hash")
	}
}

func nonceAt(b []byte) (n Nonce) {
	copy(n[:], b)
	return n
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		kind Kind
		code string
	}{
		{nil, "", "ok"},
		{ErrInvalidCaller, KindAuthorization, "invalid_caller"},
		{ErrInvalidSignature, KindAuthorization, "invalid_exchange_signature"},
		{ErrInvalidatedNonce, KindValidation, "nonce_chain_mismatch"},
		{ErrNonceEqualsParent, KindValidation, "nonce_equals_parent"},
		{ErrInsufficientBalance, KindSettlement, "insufficient_balance"},
		{errors.Join(errors.New("context"), ErrNativeTransferFailed), KindSettlement, "native_transfer_failed"},
		{errors.New("disk on fire"), KindInternal, "internal"},
	}
	for _, tc := range cases {
		kind, code := Classify(tc.err)
		if kind != tc.kind || code != tc.code {
			t.Fatalf("classify %v: got (%s, %s), want (%s, %s)", tc.err, kind, code, tc.kind, tc.code)
		}
	}
}
