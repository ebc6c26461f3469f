package escrowd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"earnescrow/core/state"
	"earnescrow/native/earnings"
	"earnescrow/observability/logging"
	telemetry "earnescrow/observability/otel"
	"earnescrow/storage"
)

// Daemon bundles the persistent stores, the escrow engine and the HTTP
// server for one escrow instance.
type Daemon struct {
	db      *storage.LevelDB
	journal *Journal
	engine  *earnings.Engine
	server  *Server
	logger  *slog.Logger
}

// NewDaemon opens the data directory, applies genesis on first start and
// opens the configured escrow instance. Unset config fields take their
// defaults.
func NewDaemon(cfg Config, logger *slog.Logger) (*Daemon, error) {
	if logger == nil {
		logger = slog.Default()
	}
	applyDefaults(&cfg)
	escrowCfg, err := cfg.Escrow.engineConfig()
	if err != nil {
		return nil, fmt.Errorf("escrow: %w", err)
	}
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	if dir := filepath.Dir(cfg.JournalPath); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create journal dir: %w", err)
		}
	}
	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "state"))
	if err != nil {
		return nil, fmt.Errorf("open state: %w", err)
	}
	d := &Daemon{db: db, logger: logger}
	st := state.NewManager(db)
	applied, err := applyGenesis(st, cfg)
	if err != nil {
		st.Discard()
		_ = d.Close()
		return nil, fmt.Errorf("genesis: %w", err)
	}
	if applied {
		if err := st.Commit(); err != nil {
			_ = d.Close()
			return nil, fmt.Errorf("commit genesis: %w", err)
		}
		logger.Info("genesis applied", slog.Int("tokens", len(cfg.Tokens)), slog.Int("allocations", len(cfg.Genesis)))
	}
	d.journal, err = OpenJournal(cfg.JournalPath, logger)
	if err != nil {
		_ = d.Close()
		return nil, fmt.Errorf("open journal: %w", err)
	}
	d.engine, err = earnings.NewEngine(st, escrowCfg,
		earnings.WithEmitter(d.journal),
		earnings.WithLogger(logger))
	if err != nil {
		_ = d.Close()
		return nil, fmt.Errorf("open escrow: %w", err)
	}
	d.server = NewServer(d.engine, NewAuthenticator(cfg.Auth, logger), NewRateLimiter(cfg.RateLimit), d.journal, logger)
	return d, nil
}

// Engine exposes the escrow engine.
func (d *Daemon) Engine() *earnings.Engine { return d.engine }

// Handler returns the HTTP handler.
func (d *Daemon) Handler() http.Handler { return d.server.Handler() }

// Close releases the journal and the state database.
func (d *Daemon) Close() error {
	var errs []error
	if d.journal != nil {
		errs = append(errs, d.journal.Close())
	}
	if d.db != nil {
		errs = append(errs, d.db.Close())
	}
	return errors.Join(errs...)
}

func (e EscrowConfig) engineConfig() (earnings.Config, error) {
	owner, err := parseOptionalAddress(e.Owner)
	if err != nil {
		return earnings.Config{}, fmt.Errorf("owner: %w", err)
	}
	address, err := parseOptionalAddress(e.Address)
	if err != nil {
		return earnings.Config{}, fmt.Errorf("address: %w", err)
	}
	asset, err := parseAsset(e.Asset)
	if err != nil {
		return earnings.Config{}, fmt.Errorf("asset: %w", err)
	}
	admin, err := parseOptionalAddress(e.Admin)
	if err != nil {
		return earnings.Config{}, fmt.Errorf("admin: %w", err)
	}
	exchange, err := parseOptionalAddress(e.Exchange)
	if err != nil {
		return earnings.Config{}, fmt.Errorf("exchange: %w", err)
	}
	return earnings.Config{Address: address, Owner: owner, Asset: asset, Admin: admin, Exchange: exchange}, nil
}

func (l LogConfig) options() logging.Options {
	opts := logging.Options{Level: l.Level}
	if strings.TrimSpace(l.File) != "" {
		opts.File = &logging.FileOptions{
			Path:       l.File,
			MaxSizeMB:  l.MaxSizeMB,
			MaxBackups: l.MaxBackups,
			MaxAgeDays: l.MaxAgeDays,
			Compress:   l.Compress,
		}
	}
	return opts
}

// Main initialises and runs the escrow daemon.
func Main() error {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/escrowd/config.yaml", "path to escrowd configuration")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("ESCROWD_ENV"))
	cfg, err := LoadConfig(cfgPath)
	if err != nil {
		logging.Setup("escrowd", env)
		return fmt.Errorf("load config: %w", err)
	}
	logger := logging.SetupWithOptions("escrowd", env, cfg.Log.options())

	daemon, err := NewDaemon(cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = daemon.Close() }()

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.FromEnv("escrowd", env, daemon.engine.Address().Hex()))
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() { _ = shutdownTelemetry(context.Background()) }()

	// No write timeout: event streams are long-lived and bound each write
	// themselves.
	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           daemon.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	stopCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errs := make(chan error, 1)
	go func() {
		logger.Info("escrowd listening",
			slog.String("listen", cfg.ListenAddress),
			slog.String("escrow", daemon.Engine().Address().Hex()))
		errs <- httpServer.ListenAndServe()
	}()

	select {
	case <-stopCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			_ = httpServer.Close()
			return err
		}
		return nil
	case err := <-errs:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
