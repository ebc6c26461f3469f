package escrow

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"

	"earnescrow/crypto"
	"earnescrow/native/earnings"
)

// ChallengeRequest mirrors POST /v1/auth/challenge.
type ChallengeRequest struct {
	Address string `json:"address"`
}

// ChallengeResponse carries the text the wallet must sign to log in.
type ChallengeResponse struct {
	Challenge string    `json:"challenge"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// LoginRequest mirrors POST /v1/auth/login.
type LoginRequest struct {
	Address   string `json:"address"`
	Challenge string `json:"challenge"`
	Signature string `json:"signature"`
}

// LoginResponse carries the session token.
type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// ClaimRequest is the JSON form of a signed claim. Quantities are decimal
// strings and the signature is 0x-prefixed hex.
type ClaimRequest struct {
	Nonce       string `json:"nonce"`
	ParentNonce string `json:"parentNonce"`
	Wallet      string `json:"wallet"`
	Asset       string `json:"asset"`
	Quantity    string `json:"quantity"`
	Signature   string `json:"signature"`
}

// NewClaimRequest encodes sc for transport.
func NewClaimRequest(sc earnings.SignedClaim) ClaimRequest {
	quantity := "0"
	if sc.Quantity != nil {
		quantity = sc.Quantity.Dec()
	}
	return ClaimRequest{
		Nonce:       sc.Nonce.String(),
		ParentNonce: sc.ParentNonce.String(),
		Wallet:      sc.Wallet.Hex(),
		Asset:       sc.Asset.Hex(),
		Quantity:    quantity,
		Signature:   hexutil.Encode(sc.Signature),
	}
}

// SignedClaim decodes the request.
func (r ClaimRequest) SignedClaim() (earnings.SignedClaim, error) {
	nonce, err := earnings.ParseNonce(r.Nonce)
	if err != nil {
		return earnings.SignedClaim{}, fmt.Errorf("nonce: %w", err)
	}
	parent := earnings.ZeroNonce
	if strings.TrimSpace(r.ParentNonce) != "" {
		if parent, err = earnings.ParseNonce(r.ParentNonce); err != nil {
			return earnings.SignedClaim{}, fmt.Errorf("parentNonce: %w", err)
		}
	}
	wallet, err := crypto.ParseAddress(r.Wallet)
	if err != nil {
		return earnings.SignedClaim{}, fmt.Errorf("wallet: %w", err)
	}
	asset := crypto.ZeroAddress
	if strings.TrimSpace(r.Asset) != "" {
		if asset, err = crypto.ParseAddress(r.Asset); err != nil {
			return earnings.SignedClaim{}, fmt.Errorf("asset: %w", err)
		}
	}
	quantity, err := ParseQuantity(r.Quantity)
	if err != nil {
		return earnings.SignedClaim{}, fmt.Errorf("quantity: %w", err)
	}
	sig, err := hexutil.Decode(strings.TrimSpace(r.Signature))
	if err != nil {
		return earnings.SignedClaim{}, fmt.Errorf("signature: %w", err)
	}
	return earnings.SignedClaim{
		Claim: earnings.Claim{
			Nonce:       nonce,
			ParentNonce: parent,
			Wallet:      wallet,
			Asset:       asset,
			Quantity:    quantity,
		},
		Signature: sig,
	}, nil
}

// ParseQuantity decodes a base-10 quantity.
func ParseQuantity(raw string) (*uint256.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("quantity required")
	}
	return uint256.FromDecimal(trimmed)
}

// SettlementResponse mirrors a successful POST /v1/distributions.
type SettlementResponse struct {
	Wallet           string `json:"wallet"`
	Nonce            string `json:"nonce"`
	Quantity         string `json:"quantity"`
	TotalDistributed string `json:"totalDistributed"`
	EscrowBalance    string `json:"escrowBalance"`
}

// QuantityRequest is the body of deposit, approve and withdraw calls.
type QuantityRequest struct {
	Quantity string `json:"quantity"`
}

// DepositResponse reports the amount credited to the escrow.
type DepositResponse struct {
	From     string `json:"from"`
	Credited string `json:"credited"`
}

// WithdrawalResponse mirrors POST /v1/escrow/withdraw.
type WithdrawalResponse struct {
	Recipient        string `json:"recipient"`
	Quantity         string `json:"quantity"`
	NewEscrowBalance string `json:"newEscrowBalance"`
}

// RoleRequest is the body of PUT /v1/roles/{role}.
type RoleRequest struct {
	Address string `json:"address"`
}

// RolesResponse lists the current role holders. Empty slots are the zero
// address.
type RolesResponse struct {
	Escrow   string `json:"escrow"`
	Owner    string `json:"owner"`
	Admin    string `json:"admin"`
	Exchange string `json:"exchange"`
}

// WalletResponse mirrors GET /v1/wallets/{address}.
type WalletResponse struct {
	Wallet           string `json:"wallet"`
	LastNonce        string `json:"lastNonce"`
	TotalDistributed string `json:"totalDistributed"`
	Balance          string `json:"balance"`
}

// AssetResponse mirrors GET /v1/asset.
type AssetResponse struct {
	Escrow string `json:"escrow"`
	Asset  string `json:"asset"`
	Symbol string `json:"symbol"`
	Native bool   `json:"native"`
}

// BalanceResponse mirrors GET /v1/escrow/balance.
type BalanceResponse struct {
	Escrow  string `json:"escrow"`
	Balance string `json:"balance"`
}

// Event is a journaled escrow event.
type Event struct {
	Sequence   int64             `json:"sequence"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	RecordedAt time.Time         `json:"recordedAt"`
}

// EventsResponse mirrors GET /v1/events. Next is the cursor for the
// following page.
type EventsResponse struct {
	Events []Event `json:"events"`
	Next   int64   `json:"next"`
}

// ErrorResponse is returned with every non-2xx status.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
