// Package app wires all biofeedback subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates the capture source,
// the session manager and the HTTP surface, Run executes the server, the
// capture loop and the optional config watcher and vitals publisher, and
// Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithPublishConn,
// WithMetrics, etc.) and backends through the [config.Registry].
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/biofeedback/internal/config"
	"github.com/MrWong99/biofeedback/internal/health"
	"github.com/MrWong99/biofeedback/internal/live"
	"github.com/MrWong99/biofeedback/internal/observe"
	"github.com/MrWong99/biofeedback/internal/publish"
	"github.com/MrWong99/biofeedback/internal/resilience"
	"github.com/MrWong99/biofeedback/internal/session"
	"github.com/MrWong99/biofeedback/pkg/frame"
	"github.com/MrWong99/biofeedback/pkg/provider/capture"
	"github.com/MrWong99/biofeedback/pkg/provider/compute"
	"github.com/MrWong99/biofeedback/pkg/types"
)

// serverShutdownTimeout bounds the HTTP server drain when Run's context ends.
const serverShutdownTimeout = 5 * time.Second

// App owns all subsystem lifetimes.
type App struct {
	cfg     *config.Config
	reg     *config.Registry
	metrics *observe.Metrics
	level   *slog.LevelVar

	// Subsystems, initialised in New and torn down in Shutdown.
	capture     capture.Source
	sessions    *session.Manager
	handler     http.Handler
	server      *http.Server
	publisher   *publish.Publisher
	publishConn publish.Conn
	watcher     *config.Watcher
	configPath  string

	captureDone atomic.Bool

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithMetrics sets the metric instruments. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLevelVar lets a config reload change the log level of the handler
// built around lv.
func WithLevelVar(lv *slog.LevelVar) Option {
	return func(a *App) { a.level = lv }
}

// WithPublishConn injects the connection vitals are published on instead of
// dialling publish.nats_url.
func WithPublishConn(c publish.Conn) Option {
	return func(a *App) { a.publishConn = c }
}

// WithConfigWatch hot-reloads the config file at path while Run is active.
func WithConfigWatch(path string) Option {
	return func(a *App) { a.configPath = path }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App from cfg, resolving capture sources, inference
// providers and compute backends through reg. Nothing starts running until
// [App.Run].
func New(ctx context.Context, cfg *config.Config, reg *config.Registry, opts ...Option) (*App, error) {
	a := &App{
		cfg: cfg,
		reg: reg,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.level == nil {
		a.level = new(slog.LevelVar)
		a.level.Set(cfg.Server.LogLevel.SlogLevel())
	}

	// ── 1. Capture source ────────────────────────────────────────────────
	src, err := reg.CreateCapture(cfg.Capture)
	if err != nil {
		return nil, fmt.Errorf("app: create capture source: %w", err)
	}
	a.capture = src

	// ── 2. Session manager ───────────────────────────────────────────────
	a.sessions = session.NewManager(sessionConfig(cfg), a.buildSession)

	// ── 3. Vitals publisher ──────────────────────────────────────────────
	if err := a.initPublisher(); err != nil {
		return nil, fmt.Errorf("app: init publisher: %w", err)
	}

	// ── 4. Config watcher ────────────────────────────────────────────────
	if a.configPath != "" {
		w, err := config.NewWatcher(a.configPath, a.applyConfig)
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		a.watcher = w
	}

	// ── 5. HTTP surface ──────────────────────────────────────────────────
	a.initHTTP()

	slog.Info("app initialised",
		"capture", src.Name(),
		"inference", cfg.Inference.Provider,
		"compute", cfg.Compute.Backend,
		"fallback", cfg.Compute.Fallback,
	)
	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// buildSession resolves fresh backends for one session.
func (a *App) buildSession(scfg session.Config) (*session.Session, error) {
	inf, err := a.reg.CreateInference(a.cfg.Inference)
	if err != nil {
		return nil, fmt.Errorf("create inference provider: %w", err)
	}
	primary, err := a.reg.CreateCompute(a.cfg.Compute.Backend, a.cfg.Compute)
	if err != nil {
		return nil, fmt.Errorf("create compute backend: %w", err)
	}

	var fallback compute.Backend
	if name := a.cfg.Compute.Fallback; name != "" && name != a.cfg.Compute.Backend {
		fallback, err = a.reg.CreateCompute(name, a.cfg.Compute)
		if err != nil {
			return nil, fmt.Errorf("create fallback compute backend: %w", err)
		}
	}
	return session.New(scfg, inf, primary, fallback, session.WithMetrics(a.metrics)), nil
}

// initPublisher connects to NATS when configured or uses the injected conn.
func (a *App) initPublisher() error {
	pc := a.cfg.Publish
	if a.publishConn == nil && pc.NATSURL == "" {
		return nil
	}
	if a.publishConn == nil {
		nc, err := publish.Connect(pc.NATSURL, a.cfg.Telemetry.ServiceName)
		if err != nil {
			return err
		}
		a.publishConn = nc
		a.closers = append(a.closers, nc.Drain)
		slog.Info("connected to nats", "url", nc.ConnectedUrl())
	}
	a.publisher = publish.New(a.publishConn, pc.Subject, publish.WithInterval(pc.Interval))
	return nil
}

// initHTTP builds the mux: API routes, health probes and the metrics scrape
// endpoint, all behind the observability middleware.
func (a *App) initHTTP() {
	mux := http.NewServeMux()

	live.New(a.sessions, live.WithInterval(a.cfg.Server.LiveInterval)).Register(mux)

	health.New(
		health.ComputeChecker(a.computeStatus, a.cfg.Compute.Backend),
		health.FuncChecker("capture", func() error {
			if a.captureDone.Load() {
				return fmt.Errorf("capture source %s stopped", a.capture.Name())
			}
			return nil
		}),
	).Register(mux)

	mux.Handle("GET /metrics", promhttp.Handler())

	a.handler = observe.Middleware(a.metrics)(mux)
	a.server = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// computeStatus returns the active session's bridge. It returns an untyped
// nil without a session so the checker can tell the two apart.
func (a *App) computeStatus() health.ComputeStatus {
	if s := a.sessions.Current(); s != nil {
		return s.Bridge()
	}
	return nil
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Handler returns the HTTP handler served by Run.
func (a *App) Handler() http.Handler { return a.handler }

// Sessions returns the session manager.
func (a *App) Sessions() *session.Manager { return a.sessions }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP, feeds captured frames into the active session, and runs
// the config watcher and vitals publisher when configured. It blocks until
// ctx is cancelled or a subsystem fails, and returns ctx.Err() on
// cancellation.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	// ── HTTP server ──────────────────────────────────────────────────────
	g.Go(func() error {
		slog.Info("http server listening", "addr", a.server.Addr, "tls", a.cfg.Server.TLS != nil)
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.server.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = a.server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: http server: %w", err)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), serverShutdownTimeout)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})

	// ── Capture ──────────────────────────────────────────────────────────
	g.Go(func() error {
		err := a.capture.Run(gctx, sessionSink{a.sessions})
		a.captureDone.Store(true)
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("app: capture %s: %w", a.capture.Name(), err)
		}
		slog.Info("capture source stopped", "source", a.capture.Name())
		return nil
	})

	// ── Config watcher ───────────────────────────────────────────────────
	if a.watcher != nil {
		g.Go(func() error { return a.watcher.Run(gctx) })
	}

	// ── Vitals publisher ─────────────────────────────────────────────────
	if a.publisher != nil {
		g.Go(func() error {
			err := a.publisher.Run(gctx, a.snapshot)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	// ── Auto-start ───────────────────────────────────────────────────────
	if a.cfg.Capture.AutoStart {
		if info, err := a.sessions.Start(gctx); err != nil {
			slog.Error("auto-start session failed", "err", err)
		} else {
			slog.Info("session auto-started", "session_id", info.SessionID)
		}
	}

	slog.Info("app running")
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// snapshot feeds the publisher; ticks without a session are skipped.
func (a *App) snapshot(ctx context.Context) (types.Vitals, bool) {
	s := a.sessions.Current()
	if s == nil {
		return types.Vitals{}, false
	}
	return s.Snapshot(ctx), true
}

// applyConfig is the watcher callback. Hot-reloadable fields are applied
// in place; everything else is logged as needing a restart.
func (a *App) applyConfig(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.LogLevelChanged {
		a.level.Set(d.NewLogLevel.SlogLevel())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.SamplingRateChanged {
		if err := a.sessions.SetSamplingRate(d.NewSamplingRate); err != nil {
			slog.Warn("applying sampling rate failed", "rate", d.NewSamplingRate, "err", err)
		}
	}
	if d.AlphaChanged {
		a.sessions.SetAlpha(d.NewAlpha)
		slog.Info("facial smoothing changed", "alpha", d.NewAlpha)
	}
	for _, section := range d.RestartRequired {
		slog.Warn("config change requires restart", "section", section)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops the active session, then tears down the remaining
// subsystems. It respects the context deadline: if ctx expires before all
// closers finish, remaining closers are skipped and the context error is
// returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if err := a.sessions.Stop(ctx); err != nil && !errors.Is(err, session.ErrNoSession) {
			slog.Warn("session stop error", "err", err)
		}
		if a.watcher != nil {
			a.watcher.Stop()
		}
		if err := a.server.Shutdown(ctx); err != nil {
			slog.Warn("http server shutdown error", "err", err)
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

// ─── Helpers ─────────────────────────────────────────────────────────────────

// sessionSink routes captured frames to whichever session is active and
// releases them when none is.
type sessionSink struct {
	m *session.Manager
}

func (s sessionSink) PushFrame(f *frame.Frame) {
	if cur := s.m.Current(); cur != nil {
		cur.PushFrame(f)
		return
	}
	f.Release()
}

var _ capture.Sink = sessionSink{}

// sessionConfig converts the pipeline, facial and compute sections into the
// per-session tunables.
func sessionConfig(cfg *config.Config) session.Config {
	cb := cfg.Compute.CircuitBreaker
	return session.Config{
		SamplingRate:      cfg.Pipeline.SamplingRate,
		BatchSize:         cfg.Pipeline.BatchSize,
		PollInterval:      cfg.Pipeline.PollInterval,
		ThresholdRatio:    cfg.Pipeline.PeakThresholdRatio,
		HRVWindow:         cfg.Pipeline.HRVWindow,
		RespirationWindow: cfg.Pipeline.RespirationWindow,
		Alpha:             cfg.Facial.Alpha,
		HistorySize:       cfg.Facial.HistorySize,
		MetricsCapacity:   cfg.Facial.MetricsCapacity,
		CircuitBreaker: resilience.CircuitBreakerConfig{
			MaxFailures:  cb.MaxFailures,
			ResetTimeout: cb.ResetTimeout,
			HalfOpenMax:  cb.HalfOpenMax,
		},
	}
}
