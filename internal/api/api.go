// Package api provides HTTP handlers and the main API server logic for
// funnelbot.
//
// It exposes the Twilio WhatsApp webhook plus operator endpoints for lead
// outreach, intake import, administrative actions, and the funnel dashboard.
// Run wires the store, messaging service, funnel engine, job runner, and
// intake poller together and serves until SIGINT/SIGTERM.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/glamlab/funnelbot/internal/cache"
	"github.com/glamlab/funnelbot/internal/funnel"
	"github.com/glamlab/funnelbot/internal/intake"
	"github.com/glamlab/funnelbot/internal/lockfile"
	"github.com/glamlab/funnelbot/internal/messaging"
	"github.com/glamlab/funnelbot/internal/scheduler"
	"github.com/glamlab/funnelbot/internal/store"
	"github.com/glamlab/funnelbot/internal/twiliowhatsapp"
)

// Defaults for server configuration.
const (
	// DefaultAddr is the default listen address.
	DefaultAddr = ":8080"
	// DefaultStateDir is the default directory for the SQLite database and
	// the instance lock file.
	DefaultStateDir = "/var/lib/funnelbot"
	// DefaultIntakeSchedule polls the intake queue every minute.
	DefaultIntakeSchedule = "* * * * *"
	// DefaultShutdownTimeout bounds graceful HTTP shutdown.
	DefaultShutdownTimeout = 10 * time.Second
)

// Opts holds configuration options for the API server.
type Opts struct {
	// Addr is the listen address (e.g. ":8080").
	Addr string
	// DSN selects the store backend: a Postgres URL/DSN or a SQLite file
	// path. Empty means SQLite in the state directory.
	DSN string
	// StateDir holds the SQLite database and the lock file.
	StateDir string
	// CheckoutURL is the payment page the checkout redirect points at.
	CheckoutURL string
	// FollowupDelay overrides the follow-up reminder delay.
	FollowupDelay time.Duration
	// IntakeSchedule is the cron expression for the intake poller.
	IntakeSchedule string
	// RedisAddr, when set, moves inbound dedup into Redis.
	RedisAddr string
	// Templates overrides the outbound content template set.
	Templates *funnel.Templates
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the HTTP listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithDSN sets the database DSN (Postgres URL or SQLite file path).
func WithDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithStateDir sets the state directory.
func WithStateDir(dir string) Option {
	return func(o *Opts) { o.StateDir = dir }
}

// WithCheckoutURL sets the payment page URL for checkout redirects.
func WithCheckoutURL(u string) Option {
	return func(o *Opts) { o.CheckoutURL = u }
}

// WithFollowupDelay sets the follow-up reminder delay.
func WithFollowupDelay(d time.Duration) Option {
	return func(o *Opts) { o.FollowupDelay = d }
}

// WithIntakeSchedule sets the intake poller cron expression.
func WithIntakeSchedule(expr string) Option {
	return func(o *Opts) { o.IntakeSchedule = expr }
}

// WithRedisAddr enables Redis-backed inbound dedup.
func WithRedisAddr(addr string) Option {
	return func(o *Opts) { o.RedisAddr = addr }
}

// WithTemplates overrides the outbound template set.
func WithTemplates(t funnel.Templates) Option {
	return func(o *Opts) { o.Templates = &t }
}

// Server bundles the dependencies the HTTP handlers need.
type Server struct {
	st          store.Store
	engine      *funnel.Engine
	msgService  *messaging.TwilioService
	checkoutURL string
}

// NewServer creates a Server with the given dependencies.
func NewServer(st store.Store, engine *funnel.Engine, msgService *messaging.TwilioService, checkoutURL string) *Server {
	return &Server{st: st, engine: engine, msgService: msgService, checkoutURL: checkoutURL}
}

// Run starts the funnelbot API server and blocks until SIGINT/SIGTERM or a
// fatal startup error.
func Run(opts ...Option) error {
	cfg := Opts{
		Addr:           DefaultAddr,
		StateDir:       DefaultStateDir,
		IntakeSchedule: DefaultIntakeSchedule,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	lock, err := lockfile.AcquireLock(cfg.StateDir)
	if err != nil {
		return fmt.Errorf("failed to acquire instance lock: %w", err)
	}
	defer func() {
		if relErr := lock.Release(); relErr != nil {
			slog.Warn("Run: failed to release instance lock", "error", relErr)
		}
	}()

	st, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			slog.Warn("Run: failed to close store", "error", closeErr)
		}
	}()

	client, err := twiliowhatsapp.NewClient()
	if err != nil {
		return fmt.Errorf("failed to create Twilio client: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msgService := messaging.NewTwilioService(client)
	if err := msgService.Start(ctx); err != nil {
		return fmt.Errorf("failed to start messaging service: %w", err)
	}
	defer func() {
		if stopErr := msgService.Stop(); stopErr != nil {
			slog.Warn("Run: failed to stop messaging service", "error", stopErr)
		}
	}()

	engineOpts := []funnel.Option{}
	if cfg.Templates != nil {
		engineOpts = append(engineOpts, funnel.WithTemplates(*cfg.Templates))
	}
	if cfg.FollowupDelay > 0 {
		engineOpts = append(engineOpts, funnel.WithFollowupDelay(cfg.FollowupDelay))
	}
	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if pingErr := rdb.Ping(ctx).Err(); pingErr != nil {
			rdb.Close()
			return fmt.Errorf("failed to connect to Redis at %s: %w", cfg.RedisAddr, pingErr)
		}
		defer rdb.Close()
		engineOpts = append(engineOpts, funnel.WithDedup(cache.NewRedisDedup(rdb)))
		slog.Info("Run: inbound dedup backed by Redis", "addr", cfg.RedisAddr)
	}

	engine := funnel.NewEngine(st, msgService, engineOpts...)

	runner := store.NewJobRunner(st, 0)
	engine.RegisterJobHandlers(runner)
	if err := runner.RecoverStaleJobs(); err != nil {
		slog.Warn("Run: failed to recover stale jobs", "error", err)
	}
	go runner.Run(ctx)

	sched := scheduler.NewScheduler()
	defer sched.Stop()
	poller := intake.NewPoller(st, engine)
	if err := sched.AddJob(cfg.IntakeSchedule, func() { poller.Run(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule intake poller: %w", err)
	}

	// Feed webhook-parsed inbound messages into the funnel engine. Receipts
	// are drained so sends never block on the channel.
	go consumeInbound(ctx, engine, msgService)
	go drainReceipts(msgService)

	server := NewServer(st, engine, msgService, cfg.CheckoutURL)
	mux := http.NewServeMux()
	server.registerRoutes(mux)

	httpServer := &http.Server{
		Addr:         cfg.Addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("funnelbot API server starting", "addr", cfg.Addr)
		if serveErr := httpServer.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			errCh <- serveErr
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		slog.Info("Run: shutdown signal received", "signal", sig.String())
	case serveErr := <-errCh:
		return fmt.Errorf("HTTP server failed: %w", serveErr)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("Run: HTTP server shutdown failed", "error", err)
		return fmt.Errorf("HTTP server shutdown failed: %w", err)
	}
	slog.Info("funnelbot API server stopped")
	return nil
}

// openStore selects the backend by DSN: Postgres URLs and key/value DSNs go
// to Postgres, everything else is a SQLite file path. An empty DSN falls
// back to a SQLite file in the state directory.
func openStore(cfg Opts) (store.Store, error) {
	dsn := cfg.DSN
	if dsn == "" {
		dsn = cfg.StateDir + "/funnelbot.db"
	}
	switch store.DetectDSNType(dsn) {
	case "postgres":
		slog.Debug("openStore: using PostgreSQL backend")
		return store.NewPostgresStore(store.WithPostgresDSN(dsn))
	default:
		slog.Debug("openStore: using SQLite backend", "path", dsn)
		return store.NewSQLiteStore(store.WithSQLiteDSN(dsn))
	}
}

// consumeInbound routes webhook messages into the engine until the channel
// closes or the context ends.
func consumeInbound(ctx context.Context, engine *funnel.Engine, msgService *messaging.TwilioService) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgService.Inbound():
			if !ok {
				return
			}
			if err := engine.HandleInbound(ctx, msg); err != nil {
				slog.Error("consumeInbound: failed to process inbound message", "error", err, "from", msg.From)
			}
		}
	}
}

// drainReceipts logs dispatch outcomes so the emit side never stalls.
func drainReceipts(msgService *messaging.TwilioService) {
	for receipt := range msgService.Receipts() {
		slog.Debug("drainReceipts: dispatch receipt", "to", receipt.To, "status", receipt.Status, "template", receipt.TemplateID)
	}
}
