// Package app wires the Padel Core subsystems into a running application.
//
// The App struct owns the full lifecycle: New builds every subsystem from the
// config and the providers created by main, Run serves the HTTP API until its
// context ends, and Shutdown tears everything down in order.
//
// For testing, pass mock providers and inject doubles via functional options.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/padelcore/padelcore/internal/api"
	"github.com/padelcore/padelcore/internal/capture"
	"github.com/padelcore/padelcore/internal/config"
	"github.com/padelcore/padelcore/internal/health"
	"github.com/padelcore/padelcore/internal/lab"
	"github.com/padelcore/padelcore/internal/observe"
	"github.com/padelcore/padelcore/internal/recording"
	"github.com/padelcore/padelcore/pkg/device"
	"github.com/padelcore/padelcore/pkg/device/null"
	"github.com/padelcore/padelcore/pkg/provider/live"
	"github.com/padelcore/padelcore/pkg/store"
	"github.com/padelcore/padelcore/pkg/store/memstore"
)

// ErrNoSession is returned by [SessionManager.Stop] when no session has
// been started.
var ErrNoSession = api.ErrNoSession

const (
	defaultListenAddr = ":8080"
	readHeaderTimeout = 10 * time.Second
)

// Providers holds one value per pluggable dependency. Nil Live or Lab
// disables sessions or the AI Lab; nil Devices and Store fall back to the
// null backend and the in-memory store. Populated by main via the config
// registry.
type Providers struct {
	Live    live.Provider
	Lab     lab.Provider
	Devices device.Backend
	Store   store.Store
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers

	metrics        *observe.Metrics
	metricsHandler http.Handler
	prompter       recording.TitlePrompter

	preview  *device.Preview
	bridge   *recording.Bridge
	sessions *SessionManager
	lab      *lab.Service
	server   *api.Server

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithMetrics records metrics on m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler serves h on GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithTitlePrompter names recordings through p instead of the title given
// over HTTP.
func WithTitlePrompter(p recording.TitlePrompter) Option {
	return func(a *App) { a.prompter = p }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: nil config")
	}
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
		preview:   &device.Preview{},
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Devices ───────────────────────────────────────────────────────
	if providers.Devices == nil {
		slog.Info("no device backend configured; using null devices")
		providers.Devices = null.New()
	}

	// ── 2. Recording store ───────────────────────────────────────────────
	if providers.Store == nil {
		slog.Warn("no recording store configured; recordings are kept in memory")
		providers.Store = memstore.New()
	}
	a.closers = append(a.closers, providers.Store.Close)
	a.bridge = recording.NewBridge(providers.Store, recording.WithMetrics(a.metrics))

	// ── 3. Sessions ──────────────────────────────────────────────────────
	a.sessions = NewSessionManager(SessionManagerConfig{
		Devices:  providers.Devices,
		Live:     providers.Live,
		Bridge:   a.bridge,
		Coach:    cfg.Coach,
		Capture:  captureConfig(cfg.Capture),
		Metrics:  a.metrics,
		Preview:  a.preview,
		Prompter: a.prompter,
	})

	// ── 4. AI Lab ────────────────────────────────────────────────────────
	if providers.Lab != nil {
		a.lab = lab.NewService(providers.Lab, lab.WithMetrics(a.metrics))
	}

	// ── 5. HTTP API ──────────────────────────────────────────────────────
	checks := []health.Checker{health.PingChecker("store", providers.Store)}
	a.server = api.New(api.Config{
		Sessions:       a.sessions,
		Store:          providers.Store,
		Lab:            a.lab,
		Preview:        a.preview,
		Health:         health.New(checks...),
		Metrics:        a.metrics,
		MetricsHandler: a.metricsHandler,
	})

	slog.Info("app initialised",
		"live", providers.Live != nil,
		"lab", a.lab != nil,
		"storage", cfg.Storage.Driver,
	)
	return a, nil
}

// captureConfig maps the YAML capture section onto the pipeline config.
func captureConfig(c config.CaptureConfig) capture.Config {
	return capture.Config{
		BlockSize:     c.BlockSize,
		FrameInterval: c.FrameInterval,
		MaxFrameWidth: c.MaxFrameWidth,
		JPEGQuality:   c.JPEGQuality,
		PendingLimit:  c.PendingLimit,
		ClampInput:    c.ClampInput,
	}
}

// Sessions returns the session manager.
func (a *App) Sessions() *SessionManager { return a.sessions }

// Lab returns the AI Lab service, or nil when no lab provider is configured.
func (a *App) Lab() *lab.Service { return a.lab }

// Store returns the recordings store.
func (a *App) Store() store.Store { return a.providers.Store }

// Handler returns the HTTP handler tree.
func (a *App) Handler() http.Handler { return a.server }

// ApplyConfig applies a hot-reloaded config change.
func (a *App) ApplyConfig(d config.ConfigDiff) {
	if d.CoachChanged {
		a.sessions.SetCoach(d.NewCoach)
		slog.Info("coach settings updated; applies to the next session")
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves the HTTP API on server.listen_addr and blocks until ctx is
// cancelled or the listener fails. On cancellation the server drains
// in-flight requests for up to 10 seconds.
func (a *App) Run(ctx context.Context) error {
	addr := a.cfg.Server.ListenAddr
	if addr == "" {
		addr = defaultListenAddr
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           a.server,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("http server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops a running session, letting it save its recording, then
// runs the closers in order. It respects the context deadline: if ctx
// expires first, the remaining closers are skipped and the context error is
// returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if err := a.sessions.Shutdown(ctx); err != nil {
			slog.Warn("session shutdown error", "err", err)
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
