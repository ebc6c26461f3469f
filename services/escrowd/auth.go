package escrowd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"earnescrow/crypto"
	"earnescrow/observability/logging"
	escrowsdk "earnescrow/sdk/escrow"
)

var (
	ErrUnknownChallenge = errors.New("auth: unknown or consumed challenge")
	ErrChallengeExpired = errors.New("auth: challenge expired")
	ErrSignerMismatch   = errors.New("auth: challenge not signed by address")
)

type contextKey string

const contextKeyCaller contextKey = "escrowd.caller"

// ChallengeHash is the digest a wallet signs (eth_sign style) to prove control
// of its address during login.
func ChallengeHash(challenge string) common.Hash {
	return escrowsdk.ChallengeDigest(challenge)
}

// maxPendingChallenges bounds outstanding login challenges across all
// addresses. When full the challenge closest to expiry is evicted.
const maxPendingChallenges = 10_000

type pendingChallenge struct {
	address common.Address
	expires time.Time
}

// Authenticator issues single-use login challenges and HMAC signed session
// tokens whose subject is the caller address.
type Authenticator struct {
	secret       []byte
	issuer       string
	tokenTTL     time.Duration
	challengeTTL time.Duration
	clockSkew    time.Duration
	logger       *slog.Logger
	now          func() time.Time

	mu         sync.Mutex
	challenges map[string]pendingChallenge
	byAddress  map[common.Address]string
	maxPending int
}

// NewAuthenticator constructs an authenticator from normalised config.
func NewAuthenticator(cfg AuthConfig, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Authenticator{
		secret:       []byte(cfg.HMACSecret),
		issuer:       cfg.Issuer,
		tokenTTL:     cfg.TokenTTL.Duration,
		challengeTTL: cfg.ChallengeTTL.Duration,
		clockSkew:    cfg.ClockSkew.Duration,
		logger:       logger.With(slog.String("component", "auth")),
		now:          time.Now,
		challenges:   make(map[string]pendingChallenge),
		byAddress:    make(map[common.Address]string),
		maxPending:   maxPendingChallenges,
	}
}

// IssueChallenge returns a fresh challenge bound to addr. An address holds at
// most one pending challenge; issuing a new one invalidates the previous.
func (a *Authenticator) IssueChallenge(addr common.Address) (string, time.Time) {
	now := a.now()
	expires := now.Add(a.challengeTTL)
	challenge := fmt.Sprintf("escrowd login %s %s", addr.Hex(), uuid.NewString())

	a.mu.Lock()
	defer a.mu.Unlock()
	for key, pending := range a.challenges {
		if now.After(pending.expires) {
			a.dropLocked(key)
		}
	}
	if previous, ok := a.byAddress[addr]; ok {
		a.dropLocked(previous)
	}
	for len(a.challenges) >= a.maxPending && len(a.challenges) > 0 {
		a.dropLocked(a.oldestLocked())
	}
	a.challenges[challenge] = pendingChallenge{address: addr, expires: expires}
	a.byAddress[addr] = challenge
	return challenge, expires
}

func (a *Authenticator) dropLocked(challenge string) {
	pending, ok := a.challenges[challenge]
	if !ok {
		return
	}
	delete(a.challenges, challenge)
	if a.byAddress[pending.address] == challenge {
		delete(a.byAddress, pending.address)
	}
}

func (a *Authenticator) oldestLocked() string {
	var (
		oldest  string
		expires time.Time
	)
	for key, pending := range a.challenges {
		if oldest == "" || pending.expires.Before(expires) {
			oldest, expires = key, pending.expires
		}
	}
	return oldest
}

// Login consumes challenge and, when sig recovers to addr, returns a session
// token with its expiry.
func (a *Authenticator) Login(addr common.Address, challenge string, sig []byte) (string, time.Time, error) {
	a.mu.Lock()
	pending, ok := a.challenges[challenge]
	if ok {
		a.dropLocked(challenge)
	}
	a.mu.Unlock()
	if !ok || pending.address != addr {
		return "", time.Time{}, ErrUnknownChallenge
	}
	now := a.now()
	if now.After(pending.expires) {
		return "", time.Time{}, ErrChallengeExpired
	}
	signer, ok := crypto.RecoverSigner(ChallengeHash(challenge), sig)
	if !ok || signer != addr {
		return "", time.Time{}, ErrSignerMismatch
	}
	return a.issueToken(addr, now)
}

func (a *Authenticator) issueToken(addr common.Address, now time.Time) (string, time.Time, error) {
	if len(a.secret) == 0 {
		return "", time.Time{}, errors.New("auth secret not configured")
	}
	expires := now.Add(a.tokenTTL)
	claims := jwt.RegisteredClaims{
		Subject:   addr.Hex(),
		Issuer:    a.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expires),
		ID:        uuid.NewString(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign session token: %w", err)
	}
	return signed, expires, nil
}

func (a *Authenticator) parseToken(tokenString string) (common.Address, error) {
	if len(a.secret) == 0 {
		return common.Address{}, errors.New("auth secret not configured")
	}
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	},
		jwt.WithLeeway(a.clockSkew),
		jwt.WithIssuer(a.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return common.Address{}, err
	}
	if !token.Valid {
		return common.Address{}, errors.New("token invalid")
	}
	return crypto.ParseAddress(claims.Subject)
}

// Middleware rejects requests without a valid session token and stores the
// authenticated caller in the request context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := extractBearer(r.Header.Get("Authorization"))
		if tokenString == "" {
			writeError(w, http.StatusUnauthorized, "unauthenticated", "missing bearer token")
			return
		}
		caller, err := a.parseToken(tokenString)
		if err != nil {
			a.logger.Warn("session token rejected",
				logging.MaskField("token", tokenString),
				slog.String("reason", err.Error()))
			writeError(w, http.StatusUnauthorized, "unauthenticated", "invalid token")
			return
		}
		ctx := context.WithValue(r.Context(), contextKeyCaller, caller)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// CallerFromContext returns the authenticated caller stored by Middleware.
func CallerFromContext(ctx context.Context) (common.Address, bool) {
	caller, ok := ctx.Value(contextKeyCaller).(common.Address)
	return caller, ok
}

func extractBearer(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
