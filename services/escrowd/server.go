package escrowd

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"nhooyr.io/websocket"

	"earnescrow/crypto"
	"earnescrow/native/bank"
	"earnescrow/native/earnings"
	"earnescrow/observability"
	escrowsdk "earnescrow/sdk/escrow"
)

const (
	maxBodyBytes   = 64 << 10
	wsWriteTimeout = 10 * time.Second
)

// Server exposes an escrow instance over HTTP.
type Server struct {
	engine  *earnings.Engine
	auth    *Authenticator
	limiter *RateLimiter
	journal *Journal
	logger  *slog.Logger
	origins []string
	router  chi.Router
}

// NewServer wires the HTTP routes. journal may be nil, in which case the
// event endpoints report 503.
func NewServer(engine *earnings.Engine, auth *Authenticator, limiter *RateLimiter, journal *Journal, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		engine:  engine,
		auth:    auth,
		limiter: limiter,
		journal: journal,
		logger:  logger.With(slog.String("component", "http")),
		origins: []string{"*"},
	}
	s.router = s.buildRouter()
	return s
}

// Handler returns the traced HTTP handler.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.router, "escrowd")
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(s.instrument)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(api chi.Router) {
		api.Group(func(public chi.Router) {
			public.Use(s.limiter.Middleware("auth"))
			public.Post("/auth/challenge", s.handleChallenge)
			public.Post("/auth/login", s.handleLogin)
		})
		api.Group(func(read chi.Router) {
			read.Use(s.limiter.Middleware("read"))
			read.Get("/roles", s.handleRoles)
			read.Get("/asset", s.handleAsset)
			read.Get("/escrow/balance", s.handleEscrowBalance)
			read.Get("/wallets/{address}", s.handleWallet)
			read.Get("/events", s.handleEvents)
			read.Get("/events/stream", s.handleEventStream)
		})
		api.Group(func(write chi.Router) {
			write.Use(s.auth.Middleware)
			write.Use(s.limiter.Middleware("write"))
			write.Post("/distributions", s.handleDistribute)
			write.Post("/escrow/deposit", s.handleDeposit)
			write.Post("/escrow/approve", s.handleApprove)
			write.Post("/escrow/withdraw", s.handleWithdraw)
			write.Put("/roles/admin", s.handleSetRole(s.engine.SetAdmin))
			write.Delete("/roles/admin", s.handleRemoveRole(s.engine.RemoveAdmin))
			write.Put("/roles/exchange", s.handleSetRole(s.engine.SetExchange))
			write.Delete("/roles/exchange", s.handleRemoveRole(s.engine.RemoveExchange))
		})
	})
	return r
}

// instrument records request metrics against the matched route pattern.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		observability.API().Observe(route, r.Method, status, time.Since(start))
		s.logger.Debug("request served",
			slog.String("route", route),
			slog.String("method", r.Method),
			slog.Int("status", status),
			slog.String("request_id", chimw.GetReqID(r.Context())))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleChallenge(w http.ResponseWriter, r *http.Request) {
	var req escrowsdk.ChallengeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	addr, err := crypto.ParseAddress(req.Address)
	if err != nil || crypto.IsZero(addr) {
		writeError(w, http.StatusBadRequest, "invalid_address", "address must be a non-zero hex address")
		return
	}
	challenge, expires := s.auth.IssueChallenge(addr)
	writeJSON(w, http.StatusOK, escrowsdk.ChallengeResponse{Challenge: challenge, ExpiresAt: expires})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req escrowsdk.LoginRequest
	if !decodeBody(w, r, &req) {
		return
	}
	addr, err := crypto.ParseAddress(req.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_address", err.Error())
		return
	}
	sig, err := hexutil.Decode(strings.TrimSpace(req.Signature))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_signature", "signature must be 0x-prefixed hex")
		return
	}
	token, expires, err := s.auth.Login(addr, req.Challenge, sig)
	if err != nil {
		switch {
		case errors.Is(err, ErrUnknownChallenge), errors.Is(err, ErrChallengeExpired), errors.Is(err, ErrSignerMismatch):
			writeError(w, http.StatusUnauthorized, "login_failed", err.Error())
		default:
			s.logger.Error("issue session token", slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "internal", "login failed")
		}
		return
	}
	writeJSON(w, http.StatusOK, escrowsdk.LoginResponse{Token: token, ExpiresAt: expires})
}

func (s *Server) handleDistribute(w http.ResponseWriter, r *http.Request) {
	caller, ok := CallerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated", "missing identity")
		return
	}
	var req escrowsdk.ClaimRequest
	if !decodeBody(w, r, &req) {
		return
	}
	claim, err := req.SignedClaim()
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_claim", err.Error())
		return
	}
	res, err := s.engine.Distribute(r.Context(), caller, claim)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, escrowsdk.SettlementResponse{
		Wallet:           res.Wallet.Hex(),
		Nonce:            res.Nonce.String(),
		Quantity:         res.Quantity.Dec(),
		TotalDistributed: res.TotalDistributed.Dec(),
		EscrowBalance:    res.EscrowBalance.Dec(),
	})
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	caller, quantity, ok := s.quantityRequest(w, r)
	if !ok {
		return
	}
	credited, err := s.engine.Deposit(r.Context(), caller, quantity)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, escrowsdk.DepositResponse{From: caller.Hex(), Credited: credited.Dec()})
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	caller, quantity, ok := s.quantityRequest(w, r)
	if !ok {
		return
	}
	if err := s.engine.ApproveDeposit(r.Context(), caller, quantity); err != nil {
		s.writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	caller, quantity, ok := s.quantityRequest(w, r)
	if !ok {
		return
	}
	res, err := s.engine.WithdrawEscrow(r.Context(), caller, quantity)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, escrowsdk.WithdrawalResponse{
		Recipient:        res.Recipient.Hex(),
		Quantity:         res.Quantity.Dec(),
		NewEscrowBalance: res.NewEscrowBalance.Dec(),
	})
}

func (s *Server) quantityRequest(w http.ResponseWriter, r *http.Request) (common.Address, *uint256.Int, bool) {
	caller, ok := CallerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated", "missing identity")
		return common.Address{}, nil, false
	}
	var req escrowsdk.QuantityRequest
	if !decodeBody(w, r, &req) {
		return common.Address{}, nil, false
	}
	quantity, err := escrowsdk.ParseQuantity(req.Quantity)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_quantity", err.Error())
		return common.Address{}, nil, false
	}
	return caller, quantity, true
}

func (s *Server) handleSetRole(set func(context.Context, common.Address, common.Address) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := CallerFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthenticated", "missing identity")
			return
		}
		var req escrowsdk.RoleRequest
		if !decodeBody(w, r, &req) {
			return
		}
		addr, err := crypto.ParseAddress(req.Address)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_address", err.Error())
			return
		}
		if err := set(r.Context(), caller, addr); err != nil {
			s.writeEngineError(w, err)
			return
		}
		s.handleRoles(w, r)
	}
}

func (s *Server) handleRemoveRole(remove func(context.Context, common.Address) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := CallerFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthenticated", "missing identity")
			return
		}
		if err := remove(r.Context(), caller); err != nil {
			s.writeEngineError(w, err)
			return
		}
		s.handleRoles(w, r)
	}
}

func (s *Server) handleRoles(w http.ResponseWriter, _ *http.Request) {
	roles, err := s.engine.LoadRoles()
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, escrowsdk.RolesResponse{
		Escrow:   s.engine.Address().Hex(),
		Owner:    roles.Owner.Hex(),
		Admin:    roles.Admin.Hex(),
		Exchange: roles.Exchange.Hex(),
	})
}

func (s *Server) handleAsset(w http.ResponseWriter, _ *http.Request) {
	asset := s.engine.AssetAddress()
	writeJSON(w, http.StatusOK, escrowsdk.AssetResponse{
		Escrow: s.engine.Address().Hex(),
		Asset:  asset.Hex(),
		Symbol: s.engine.Asset().Symbol(),
		Native: asset == bank.NativeAsset,
	})
}

func (s *Server) handleEscrowBalance(w http.ResponseWriter, _ *http.Request) {
	balance, err := s.engine.EscrowBalance()
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, escrowsdk.BalanceResponse{Escrow: s.engine.Address().Hex(), Balance: balance.Dec()})
}

func (s *Server) handleWallet(w http.ResponseWriter, r *http.Request) {
	wallet, err := crypto.ParseAddress(chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_address", err.Error())
		return
	}
	view, err := s.engine.LoadWallet(wallet)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, escrowsdk.WalletResponse{
		Wallet:           view.Wallet.Hex(),
		LastNonce:        view.LastNonce.String(),
		TotalDistributed: view.TotalDistributed.Dec(),
		Balance:          view.Balance.Dec(),
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeError(w, http.StatusServiceUnavailable, "journal_unavailable", "event journal not configured")
		return
	}
	query := r.URL.Query()
	after, err := parseCursor(query.Get("after"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_cursor", err.Error())
		return
	}
	limit := 0
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		if limit, err = strconv.Atoi(raw); err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be a non-negative integer")
			return
		}
	}
	entries, err := s.journal.List(r.Context(), after, query.Get("type"), limit)
	if err != nil {
		s.logger.Error("list events", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal", "list events failed")
		return
	}
	resp := escrowsdk.EventsResponse{Events: make([]escrowsdk.Event, 0, len(entries)), Next: after}
	for _, entry := range entries {
		resp.Events = append(resp.Events, toSDKEvent(entry))
		resp.Next = entry.Sequence
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeError(w, http.StatusServiceUnavailable, "journal_unavailable", "event journal not configured")
		return
	}
	after, err := parseCursor(r.URL.Query().Get("after"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_cursor", err.Error())
		return
	}
	eventType := strings.TrimSpace(r.URL.Query().Get("type"))
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.origins})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")
	ctx := conn.CloseRead(r.Context())
	if err := s.streamEvents(ctx, conn, after, eventType); err != nil {
		if status := websocket.CloseStatus(err); status == -1 && !errors.Is(err, context.Canceled) {
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

// streamEvents replays the journal after the cursor and then follows live
// entries. The subscription opens before the replay so nothing committed in
// between is missed; duplicates are skipped by sequence. When the live
// subscription is closed for lagging, the stream resubscribes and catches up
// from the journal.
func (s *Server) streamEvents(ctx context.Context, conn *websocket.Conn, after int64, eventType string) error {
	for {
		next, err := s.followEvents(ctx, conn, after, eventType)
		if err != nil {
			return err
		}
		after = next
	}
}

// followEvents runs one subscription. It returns the last delivered sequence
// once the subscription is closed by the journal.
func (s *Server) followEvents(ctx context.Context, conn *websocket.Conn, after int64, eventType string) (int64, error) {
	live, cancel := s.journal.Subscribe()
	defer cancel()

	for {
		backlog, err := s.journal.List(ctx, after, eventType, maxListLimit)
		if err != nil {
			return after, err
		}
		for _, entry := range backlog {
			if err := writeStreamEntry(ctx, conn, entry); err != nil {
				return after, err
			}
			after = entry.Sequence
		}
		if len(backlog) < maxListLimit {
			break
		}
	}

	for {
		select {
		case <-ctx.Done():
			return after, ctx.Err()
		case entry, ok := <-live:
			if !ok {
				return after, nil
			}
			if entry.Sequence <= after {
				continue
			}
			if eventType == "" || entry.Type == eventType {
				if err := writeStreamEntry(ctx, conn, entry); err != nil {
					return after, err
				}
			}
			after = entry.Sequence
		}
	}
}

func writeStreamEntry(ctx context.Context, conn *websocket.Conn, entry JournalEntry) error {
	data, err := json.Marshal(toSDKEvent(entry))
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}

func toSDKEvent(entry JournalEntry) escrowsdk.Event {
	return escrowsdk.Event{
		Sequence:   entry.Sequence,
		Type:       entry.Type,
		Attributes: entry.Attributes,
		RecordedAt: entry.RecordedAt,
	}
}

func parseCursor(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || value < 0 {
		return 0, errors.New("cursor must be a non-negative integer")
	}
	return value, nil
}

// statusForKind maps engine error kinds onto HTTP statuses.
func statusForKind(kind earnings.Kind) int {
	switch kind {
	case earnings.KindAuthorization:
		return http.StatusForbidden
	case earnings.KindValidation:
		return http.StatusBadRequest
	case earnings.KindSettlement:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	kind, code := earnings.Classify(err)
	status := statusForKind(kind)
	message := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Error("escrow operation failed", slog.String("error", err.Error()))
		message = "internal error"
	}
	writeError(w, status, code, message)
}

func decodeBody(w http.ResponseWriter, r *http.Request, out interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_payload", "invalid JSON payload")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, escrowsdk.ErrorResponse{Code: code, Message: message})
}
