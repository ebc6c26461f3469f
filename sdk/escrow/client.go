package escrow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"earnescrow/crypto"
	"earnescrow/native/earnings"
)

// Client wraps the escrowd REST endpoints.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client

	mu    sync.RWMutex
	token string
}

// Option mutates the client configuration during construction.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client used for requests.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// WithToken seeds the client with an existing session token.
func WithToken(token string) Option {
	return func(c *Client) { c.token = strings.TrimSpace(token) }
}

// New constructs a client pointed at the supplied base URL.
func New(baseURL string, opts ...Option) (*Client, error) {
	trimmedURL := strings.TrimSpace(baseURL)
	if trimmedURL == "" {
		return nil, fmt.Errorf("baseURL required")
	}
	parsed, err := url.Parse(trimmedURL)
	if err != nil {
		return nil, fmt.Errorf("invalid baseURL: %w", err)
	}
	client := &Client{baseURL: parsed, httpClient: http.DefaultClient}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// APIError is returned for every non-2xx response.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("escrowd %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("escrowd %d %s: %s", e.Status, e.Code, e.Message)
}

// Token returns the current session token.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// SetToken replaces the session token.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = strings.TrimSpace(token)
	c.mu.Unlock()
}

// ChallengeDigest is the hash a wallet signs to answer a login challenge.
func ChallengeDigest(challenge string) common.Hash {
	return ethcrypto.Keccak256Hash([]byte(challenge))
}

// SignChallenge signs a login challenge with key.
func SignChallenge(key *crypto.PrivateKey, challenge string) (string, error) {
	sig, err := crypto.SignHash(key, ChallengeDigest(challenge))
	if err != nil {
		return "", err
	}
	return hexutil.Encode(sig), nil
}

// SignClaim binds claim to the escrow instance and signs it with the
// exchange key, returning the request ready for Distribute.
func SignClaim(exchange *crypto.PrivateKey, escrowAddr common.Address, claim earnings.Claim) (ClaimRequest, error) {
	sc, err := earnings.SignClaim(exchange, escrowAddr, claim)
	if err != nil {
		return ClaimRequest{}, err
	}
	return NewClaimRequest(sc), nil
}

// Challenge requests a login challenge for addr.
func (c *Client) Challenge(ctx context.Context, addr common.Address) (*ChallengeResponse, error) {
	var resp ChallengeResponse
	if err := c.do(ctx, http.MethodPost, "/v1/auth/challenge", nil, ChallengeRequest{Address: addr.Hex()}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Login exchanges a signed challenge for a session token. The token is
// retained for subsequent calls.
func (c *Client) Login(ctx context.Context, addr common.Address, challenge, signature string) (*LoginResponse, error) {
	var resp LoginResponse
	req := LoginRequest{Address: addr.Hex(), Challenge: challenge, Signature: signature}
	if err := c.do(ctx, http.MethodPost, "/v1/auth/login", nil, req, &resp); err != nil {
		return nil, err
	}
	c.SetToken(resp.Token)
	return &resp, nil
}

// Authenticate runs the challenge and login round trip for key.
func (c *Client) Authenticate(ctx context.Context, key *crypto.PrivateKey) (*LoginResponse, error) {
	if key == nil {
		return nil, fmt.Errorf("key required")
	}
	addr := key.Address()
	challenge, err := c.Challenge(ctx, addr)
	if err != nil {
		return nil, err
	}
	sig, err := SignChallenge(key, challenge.Challenge)
	if err != nil {
		return nil, fmt.Errorf("sign challenge: %w", err)
	}
	return c.Login(ctx, addr, challenge.Challenge, sig)
}

// Distribute submits a signed claim on behalf of the authenticated wallet.
func (c *Client) Distribute(ctx context.Context, claim ClaimRequest) (*SettlementResponse, error) {
	var resp SettlementResponse
	if err := c.do(ctx, http.MethodPost, "/v1/distributions", nil, claim, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Deposit moves quantity from the authenticated identity into custody.
func (c *Client) Deposit(ctx context.Context, quantity *uint256.Int) (*DepositResponse, error) {
	var resp DepositResponse
	if err := c.do(ctx, http.MethodPost, "/v1/escrow/deposit", nil, quantityRequest(quantity), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Approve grants the escrow an allowance over the caller's tokens.
func (c *Client) Approve(ctx context.Context, quantity *uint256.Int) error {
	return c.do(ctx, http.MethodPost, "/v1/escrow/approve", nil, quantityRequest(quantity), nil)
}

// Withdraw returns quantity from custody to the caller.
func (c *Client) Withdraw(ctx context.Context, quantity *uint256.Int) (*WithdrawalResponse, error) {
	var resp WithdrawalResponse
	if err := c.do(ctx, http.MethodPost, "/v1/escrow/withdraw", nil, quantityRequest(quantity), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SetAdmin replaces the admin.
func (c *Client) SetAdmin(ctx context.Context, admin common.Address) (*RolesResponse, error) {
	return c.roleCall(ctx, http.MethodPut, "/v1/roles/admin", &RoleRequest{Address: admin.Hex()})
}

// RemoveAdmin clears the admin.
func (c *Client) RemoveAdmin(ctx context.Context) (*RolesResponse, error) {
	return c.roleCall(ctx, http.MethodDelete, "/v1/roles/admin", nil)
}

// SetExchange replaces the exchange.
func (c *Client) SetExchange(ctx context.Context, exchange common.Address) (*RolesResponse, error) {
	return c.roleCall(ctx, http.MethodPut, "/v1/roles/exchange", &RoleRequest{Address: exchange.Hex()})
}

// RemoveExchange clears the exchange.
func (c *Client) RemoveExchange(ctx context.Context) (*RolesResponse, error) {
	return c.roleCall(ctx, http.MethodDelete, "/v1/roles/exchange", nil)
}

func (c *Client) roleCall(ctx context.Context, method, endpoint string, payload *RoleRequest) (*RolesResponse, error) {
	var resp RolesResponse
	var body any
	if payload != nil {
		body = payload
	}
	if err := c.do(ctx, method, endpoint, nil, body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Roles returns the current role holders.
func (c *Client) Roles(ctx context.Context) (*RolesResponse, error) {
	var resp RolesResponse
	if err := c.do(ctx, http.MethodGet, "/v1/roles", nil, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Wallet returns the distribution record and balance of wallet.
func (c *Client) Wallet(ctx context.Context, wallet common.Address) (*WalletResponse, error) {
	var resp WalletResponse
	if err := c.do(ctx, http.MethodGet, "/v1/wallets/"+wallet.Hex(), nil, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Asset describes the custodied asset.
func (c *Client) Asset(ctx context.Context) (*AssetResponse, error) {
	var resp AssetResponse
	if err := c.do(ctx, http.MethodGet, "/v1/asset", nil, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// EscrowBalance returns the quantity held in custody.
func (c *Client) EscrowBalance(ctx context.Context) (*BalanceResponse, error) {
	var resp BalanceResponse
	if err := c.do(ctx, http.MethodGet, "/v1/escrow/balance", nil, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// EventsQuery filters a journal page.
type EventsQuery struct {
	After int64
	Type  string
	Limit int
}

// Events pages through the event journal.
func (c *Client) Events(ctx context.Context, q EventsQuery) (*EventsResponse, error) {
	values := url.Values{}
	if q.After > 0 {
		values.Set("after", strconv.FormatInt(q.After, 10))
	}
	if t := strings.TrimSpace(q.Type); t != "" {
		values.Set("type", t)
	}
	if q.Limit > 0 {
		values.Set("limit", strconv.Itoa(q.Limit))
	}
	var resp EventsResponse
	if err := c.do(ctx, http.MethodGet, "/v1/events", values, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func quantityRequest(quantity *uint256.Int) QuantityRequest {
	if quantity == nil {
		return QuantityRequest{}
	}
	return QuantityRequest{Quantity: quantity.Dec()}
}

func (c *Client) do(ctx context.Context, method, endpoint string, query url.Values, payload any, out any) error {
	var reader io.Reader
	if payload != nil {
		body, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
		reader = bytes.NewReader(body)
	}
	rel := &url.URL{Path: strings.TrimSuffix(c.baseURL.Path, "/") + endpoint}
	if len(query) > 0 {
		rel.RawQuery = query.Encode()
	}
	target := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, target.String(), reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(bodyBytes))}
		var decoded ErrorResponse
		if json.Unmarshal(bodyBytes, &decoded) == nil && decoded.Code != "" {
			apiErr.Code = decoded.Code
			apiErr.Message = decoded.Message
		}
		return apiErr
	}
	if out == nil || len(bytes.TrimSpace(bodyBytes)) == 0 {
		return nil
	}
	if err := json.Unmarshal(bodyBytes, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
