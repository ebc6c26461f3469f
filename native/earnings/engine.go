package earnings

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"earnescrow/core/events"
	"earnescrow/core/state"
	"earnescrow/observability"
)

// Config describes an escrow instance.
type Config struct {
	// Address identifies the instance. Defaults to the first contract
	// address derived from Owner.
	Address common.Address
	Owner   common.Address
	// Asset is the custodied asset; the zero address selects the native coin.
	Asset common.Address
	// Admin defaults to Owner.
	Admin    common.Address
	Exchange common.Address
}

type instanceRecord struct {
	Owner common.Address
	Asset common.Address
}

func instanceKey(addr common.Address) []byte {
	return append([]byte("earnings/instance/"), addr.Bytes()...)
}

// Option customises an Engine.
type Option func(*Engine)

// WithEmitter configures where committed events are published.
func WithEmitter(emitter events.Emitter) Option {
	return func(e *Engine) {
		if emitter == nil {
			emitter = events.NoopEmitter{}
		}
		e.emitter = emitter
	}
}

// WithLogger overrides the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMetrics overrides the metrics registry. Passing nil disables metrics.
func WithMetrics(m *observability.EarningsMetrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithClock sets the function used to time operations.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) {
		if clock != nil {
			e.now = clock
		}
	}
}

// WithAsset replaces the asset resolved from state.
func WithAsset(asset Asset) Option {
	return func(e *Engine) { e.asset = asset }
}

// Engine settles signed distribution claims and administrative operations
// for one escrow instance. Every operation runs under the engine lock against
// a state snapshot; it either commits in full or reverts every staged write,
// asset movements included. Events are published only after commit.
type Engine struct {
	mu sync.Mutex

	state   *state.Manager
	address common.Address
	asset   Asset
	roles   *RoleRegistry
	nonces  *NonceLedger

	emitter events.Emitter
	logger  *slog.Logger
	metrics *observability.EarningsMetrics
	tracer  trace.Tracer
	now     func() time.Time
}

// NewEngine opens the escrow instance described by cfg. A fresh instance has
// its roles initialised and committed; a previously stored instance must
// match the configured owner and asset and keeps its persisted roles.
func NewEngine(st *state.Manager, cfg Config, opts ...Option) (*Engine, error) {
	if st == nil {
		return nil, errNilState
	}
	if cfg.Owner == (common.Address{}) {
		return nil, fmt.Errorf("earnings: owner required")
	}
	if cfg.Address == (common.Address{}) {
		cfg.Address = ethcrypto.CreateAddress(cfg.Owner, 0)
	}
	if cfg.Admin == (common.Address{}) {
		cfg.Admin = cfg.Owner
	}
	e := &Engine{
		state:   st,
		address: cfg.Address,
		roles:   NewRoleRegistry(st, cfg.Address),
		nonces:  NewNonceLedger(st, cfg.Address),
		emitter: events.NoopEmitter{},
		logger:  slog.Default(),
		metrics: observability.Earnings(),
		tracer:  otel.Tracer("earnescrow/native/earnings"),
		now:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	e.logger = e.logger.With(slog.String("component", "earnings"), slog.String("escrow", cfg.Address.Hex()))

	var stored instanceRecord
	found, err := st.KVGet(instanceKey(cfg.Address), &stored)
	if err != nil {
		return nil, fmt.Errorf("earnings: load instance: %w", err)
	}
	if found && (stored.Owner != cfg.Owner || stored.Asset != cfg.Asset) {
		return nil, ErrInstanceMismatch
	}
	if e.asset == nil {
		asset, err := ResolveAsset(st, cfg.Address, cfg.Asset)
		if err != nil {
			return nil, err
		}
		e.asset = asset
	} else if e.asset.Address() != cfg.Asset {
		return nil, ErrInvalidAssetAddress
	}
	if found {
		e.logger.Info("escrow instance reopened", slog.String("asset", cfg.Asset.Hex()))
		return e, nil
	}
	err = e.atomically(func() ([]events.Event, error) {
		if err := st.KVPut(instanceKey(cfg.Address), &instanceRecord{Owner: cfg.Owner, Asset: cfg.Asset}); err != nil {
			return nil, err
		}
		return nil, e.roles.initialise(cfg.Owner, cfg.Admin, cfg.Exchange)
	})
	if err != nil {
		return nil, fmt.Errorf("earnings: initialise instance: %w", err)
	}
	e.logger.Info("escrow instance created",
		slog.String("asset", cfg.Asset.Hex()),
		slog.String("owner", cfg.Owner.Hex()),
		slog.String("admin", cfg.Admin.Hex()),
		slog.String("exchange", cfg.Exchange.Hex()))
	return e, nil
}

// Address returns the instance identity that claims are bound to.
func (e *Engine) Address() common.Address { return e.address }

// AssetAddress returns the custodied asset address.
func (e *Engine) AssetAddress() common.Address { return e.asset.Address() }

// Asset returns the custodied asset.
func (e *Engine) Asset() Asset { return e.asset }

// Roles exposes read access to the role registry.
func (e *Engine) Roles() *RoleRegistry { return e.roles }

// atomically runs fn against a snapshot. On error every staged write since
// the snapshot is reverted; on success the state is committed and the
// returned events are published.
func (e *Engine) atomically(fn func() ([]events.Event, error)) error {
	snapshot := e.state.Snapshot()
	pending, err := fn()
	if err != nil {
		e.state.RevertToSnapshot(snapshot)
		return err
	}
	if err := e.state.Commit(); err != nil {
		e.state.Discard()
		return err
	}
	for _, evt := range pending {
		e.emitter.Emit(evt)
	}
	return nil
}

func (e *Engine) begin(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	start := e.now()
	ctx, span := e.tracer.Start(ctx, "earnings."+operation, trace.WithAttributes(attrs...))
	return ctx, func(err error) {
		kind, code := Classify(err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, code)
			e.logger.Warn("escrow operation rejected",
				slog.String("operation", operation),
				slog.String("kind", string(kind)),
				slog.String("reason", code),
				slog.Any("error", err))
		}
		span.End()
		e.metrics.ObserveOperation(operation, code, e.now().Sub(start))
	}
}

// Distribute settles a signed claim submitted by caller. Checks run in
// order: caller is the claimed wallet, asset matches, nonce chain, exchange
// signature, escrow balance, then the transfer and its exact recipient delta.
func (e *Engine) Distribute(ctx context.Context, caller common.Address, sc SignedClaim) (result *Settlement, err error) {
	_, finish := e.begin(ctx, "distribute",
		attribute.String("wallet", sc.Wallet.Hex()),
		attribute.String("nonce", sc.Nonce.String()))
	defer func() { finish(err) }()

	e.mu.Lock()
	defer e.mu.Unlock()

	err = e.atomically(func() ([]events.Event, error) {
		if caller != sc.Wallet {
			return nil, ErrInvalidCaller
		}
		if sc.Asset != e.asset.Address() {
			return nil, ErrInvalidAssetAddress
		}
		if sc.Quantity == nil {
			return nil, ErrInvalidQuantity
		}
		if err := e.nonces.ValidateAndAdvance(sc.Wallet, sc.Nonce, sc.ParentNonce); err != nil {
			return nil, err
		}
		exchange, err := e.roles.Exchange()
		if err != nil {
			return nil, err
		}
		if !VerifyClaim(e.address, exchange, sc) {
			return nil, ErrInvalidSignature
		}
		if err := e.transferOut(sc.Wallet, sc.Quantity); err != nil {
			return nil, err
		}
		total, err := e.nonces.addTotal(sc.Wallet, sc.Quantity)
		if err != nil {
			return nil, err
		}
		balance, err := e.asset.BalanceOf(e.address)
		if err != nil {
			return nil, err
		}
		result = &Settlement{
			Wallet:           sc.Wallet,
			Nonce:            sc.Nonce,
			Quantity:         new(uint256.Int).Set(sc.Quantity),
			TotalDistributed: total,
			EscrowBalance:    balance,
		}
		return []events.Event{events.AssetsDistributed{
			Escrow:        e.address,
			Wallet:        sc.Wallet,
			Quantity:      result.Quantity,
			TotalQuantity: total,
		}}, nil
	})
	if err != nil {
		return nil, err
	}
	e.metrics.RecordDistributed(e.asset.Symbol(), result.Quantity)
	e.metrics.SetEscrowBalance(e.asset.Symbol(), result.EscrowBalance)
	e.logger.Info("assets distributed",
		slog.String("wallet", result.Wallet.Hex()),
		slog.String("nonce", result.Nonce.String()),
		slog.String("quantity", result.Quantity.Dec()),
		slog.String("total", result.TotalDistributed.Dec()))
	return result, nil
}

// transferOut sends quantity to the recipient and requires the recipient's
// balance to grow by exactly quantity.
func (e *Engine) transferOut(to common.Address, quantity *uint256.Int) error {
	held, err := e.asset.BalanceOf(e.address)
	if err != nil {
		return err
	}
	if held.Lt(quantity) {
		return ErrInsufficientBalance
	}
	before, err := e.asset.BalanceOf(to)
	if err != nil {
		return err
	}
	if err := e.asset.Send(to, quantity); err != nil {
		return err
	}
	after, err := e.asset.BalanceOf(to)
	if err != nil {
		return err
	}
	if after.Lt(before) || !new(uint256.Int).Sub(after, before).Eq(quantity) {
		return ErrTransferEffectMismatch
	}
	return nil
}

// LoadTotalDistributed returns the cumulative quantity released to wallet.
func (e *Engine) LoadTotalDistributed(wallet common.Address) (*uint256.Int, error) {
	if wallet == (common.Address{}) {
		return nil, ErrInvalidWalletAddress
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.nonces.TotalDistributed(wallet)
}

// LoadLastNonce returns the wallet's last accepted nonce.
func (e *Engine) LoadLastNonce(wallet common.Address) (Nonce, error) {
	if wallet == (common.Address{}) {
		return Nonce{}, ErrInvalidWalletAddress
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.nonces.LastNonce(wallet)
}

// WalletView is a consistent read of one wallet's distribution record and
// its balance in the custodied asset.
type WalletView struct {
	Wallet           common.Address
	LastNonce        Nonce
	TotalDistributed *uint256.Int
	Balance          *uint256.Int
}

// LoadWallet reads the wallet's record and balance under a single lock so
// the view never straddles a settlement.
func (e *Engine) LoadWallet(wallet common.Address) (WalletView, error) {
	if wallet == (common.Address{}) {
		return WalletView{}, ErrInvalidWalletAddress
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	view := WalletView{Wallet: wallet}
	var err error
	if view.LastNonce, err = e.nonces.LastNonce(wallet); err != nil {
		return WalletView{}, err
	}
	if view.TotalDistributed, err = e.nonces.TotalDistributed(wallet); err != nil {
		return WalletView{}, err
	}
	if view.Balance, err = e.asset.BalanceOf(wallet); err != nil {
		return WalletView{}, err
	}
	return view, nil
}

func (e *Engine) changeRole(ctx context.Context, operation string, fn func() (*events.RoleChanged, error)) (err error) {
	_, finish := e.begin(ctx, operation)
	defer func() { finish(err) }()

	e.mu.Lock()
	defer e.mu.Unlock()

	var change *events.RoleChanged
	err = e.atomically(func() ([]events.Event, error) {
		var err error
		change, err = fn()
		if err != nil {
			return nil, err
		}
		return []events.Event{*change}, nil
	})
	if err != nil {
		return err
	}
	e.metrics.RecordRoleChange(change.Kind)
	e.logger.Info("escrow role changed",
		slog.String("kind", change.Kind),
		slog.String("previous", change.Previous.Hex()),
		slog.String("new", change.New.Hex()))
	return nil
}

// SetAdmin replaces the admin. Owner only.
func (e *Engine) SetAdmin(ctx context.Context, caller, admin common.Address) error {
	return e.changeRole(ctx, "set_admin", func() (*events.RoleChanged, error) {
		return e.roles.SetAdmin(caller, admin)
	})
}

// RemoveAdmin clears the admin. Owner only.
func (e *Engine) RemoveAdmin(ctx context.Context, caller common.Address) error {
	return e.changeRole(ctx, "remove_admin", func() (*events.RoleChanged, error) {
		return e.roles.RemoveAdmin(caller)
	})
}

// SetExchange replaces the exchange. Admin only.
func (e *Engine) SetExchange(ctx context.Context, caller, exchange common.Address) error {
	return e.changeRole(ctx, "set_exchange", func() (*events.RoleChanged, error) {
		return e.roles.SetExchange(caller, exchange)
	})
}

// RemoveExchange clears the exchange. Admin only.
func (e *Engine) RemoveExchange(ctx context.Context, caller common.Address) error {
	return e.changeRole(ctx, "remove_exchange", func() (*events.RoleChanged, error) {
		return e.roles.RemoveExchange(caller)
	})
}

// RoleSnapshot is a consistent view of the role slots.
type RoleSnapshot struct {
	Owner    common.Address
	Admin    common.Address
	Exchange common.Address
}

// LoadRoles returns the current role holders.
func (e *Engine) LoadRoles() (RoleSnapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var (
		snap RoleSnapshot
		err  error
	)
	if snap.Owner, err = e.roles.Owner(); err != nil {
		return RoleSnapshot{}, err
	}
	if snap.Admin, err = e.roles.Admin(); err != nil {
		return RoleSnapshot{}, err
	}
	if snap.Exchange, err = e.roles.Exchange(); err != nil {
		return RoleSnapshot{}, err
	}
	return snap, nil
}
