package escrow

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"

	"earnescrow/crypto"
	"earnescrow/native/earnings"
)

func TestWithdrawSendsBearerAndQuantity(t *testing.T) {
	t.Parallel()

	var captured struct {
		method string
		path   string
		auth   string
		body   QuantityRequest
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		captured.method = r.Method
		captured.path = r.URL.Path
		captured.auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&captured.body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"recipient":"0x00000000000000000000000000000000000000a1","quantity":"40","newEscrowBalance":"60"}`))
	}))
	defer server.Close()

	client, err := New(server.URL+"/escrow/", WithHTTPClient(server.Client()), WithToken("session"))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	resp, err := client.Withdraw(context.Background(), uint256.NewInt(40))
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if resp.NewEscrowBalance != "60" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if captured.method != http.MethodPost {
		t.Fatalf("expected POST, got %s", captured.method)
	}
	if captured.path != "/escrow/v1/escrow/withdraw" {
		t.Fatalf("unexpected path %s", captured.path)
	}
	if captured.auth != "Bearer session" {
		t.Fatalf("unexpected authorization header %q", captured.auth)
	}
	if captured.body.Quantity != "40" {
		t.Fatalf("unexpected quantity %q", captured.body.Quantity)
	}
}

func TestErrorResponseDecoded(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"code":"insufficient_balance","message":"earnings: insufficient escrow balance"}`))
	}))
	defer server.Close()

	client, err := New(server.URL, WithHTTPClient(server.Client()))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	_, err = client.Deposit(context.Background(), uint256.NewInt(1))
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Status != http.StatusConflict || apiErr.Code != "insufficient_balance" {
		t.Fatalf("unexpected error: %+v", apiErr)
	}
}

func TestEventsEncodesQuery(t *testing.T) {
	t.Parallel()

	var query string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.RawQuery
		if r.Header.Get("Authorization") != "" {
			t.Errorf("unexpected authorization header on anonymous client")
		}
		_, _ = io.WriteString(w, `{"events":[],"next":7}`)
	}))
	defer server.Close()

	client, err := New(server.URL, WithHTTPClient(server.Client()))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	resp, err := client.Events(context.Background(), EventsQuery{After: 7, Type: "escrow.withdrawn", Limit: 5})
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if resp.Next != 7 {
		t.Fatalf("unexpected cursor %d", resp.Next)
	}
	if query != "after=7&limit=5&type=escrow.withdrawn" {
		t.Fatalf("unexpected query %q", query)
	}
}

func TestNewRequiresBaseURL(t *testing.T) {
	if _, err := New("  "); err == nil {
		t.Fatalf("expected error for empty base URL")
	}
}

func TestClaimRequestRoundTrip(t *testing.T) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	escrowAddr := common.HexToAddress("0x00000000000000000000000000000000000000e5")
	claim := earnings.Claim{
		Nonce:       earnings.NewNonce(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)),
		ParentNonce: earnings.ZeroNonce,
		Wallet:      common.HexToAddress("0x00000000000000000000000000000000000000f1"),
		Asset:       common.HexToAddress("0x00000000000000000000000000000000000000c1"),
		Quantity:    uint256.NewInt(1234),
	}
	req, err := SignClaim(key, escrowAddr, claim)
	if err != nil {
		t.Fatalf("sign claim: %v", err)
	}
	if req.Quantity != "1234" {
		t.Fatalf("unexpected quantity %q", req.Quantity)
	}
	decoded, err := req.SignedClaim()
	if err != nil {
		t.Fatalf("decode claim: %v", err)
	}
	if !earnings.VerifyClaim(escrowAddr, key.Address(), decoded) {
		t.Fatalf("decoded claim does not verify against signer")
	}
	if decoded.Nonce != claim.Nonce || decoded.Wallet != claim.Wallet {
		t.Fatalf("decoded claim mismatch: %+v", decoded)
	}

	req.Quantity = "-"
	if _, err := req.SignedClaim(); err == nil {
		t.Fatalf("expected quantity error")
	}
}

func TestSignChallengeRecoversAddress(t *testing.T) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	sig, err := SignChallenge(key, "escrowd login challenge")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	raw, err := hexutil.Decode(sig)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	signer, ok := crypto.RecoverSigner(ChallengeDigest("escrowd login challenge"), raw)
	if !ok || signer != key.Address() {
		t.Fatalf("unexpected signer %s", signer.Hex())
	}
}
