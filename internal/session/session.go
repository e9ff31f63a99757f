// Package session ties the analysis components into one biofeedback session.
//
// A [Session] owns a fresh [buffer.SignalBuffer], a facial frame queue, a
// [facial.Extractor], a [pulse.Processor] and a [bridge.Bridge]. Captured
// frames enter through [Session.PushFrame], which hands one handle to the
// pulse path and a shared handle to the facial path, so each consumer
// releases its own copy. [Session.Snapshot] aggregates the latest derived
// values into a [types.Vitals] record for the view transports.
//
// A [Manager] enforces that at most one session is active at a time.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/biofeedback/internal/bridge"
	"github.com/MrWong99/biofeedback/internal/buffer"
	"github.com/MrWong99/biofeedback/internal/facial"
	"github.com/MrWong99/biofeedback/internal/observe"
	"github.com/MrWong99/biofeedback/internal/pulse"
	"github.com/MrWong99/biofeedback/internal/resilience"
	"github.com/MrWong99/biofeedback/pkg/dsp"
	"github.com/MrWong99/biofeedback/pkg/frame"
	"github.com/MrWong99/biofeedback/pkg/hrv"
	"github.com/MrWong99/biofeedback/pkg/provider/compute"
	"github.com/MrWong99/biofeedback/pkg/provider/inference"
	"github.com/MrWong99/biofeedback/pkg/types"
)

// DefaultRespirationWindow is the number of trailing waveform samples the
// respiratory rate is computed over.
const DefaultRespirationWindow = 600

var (
	// ErrAlreadyStarted is returned by [Session.Start] on a running session.
	ErrAlreadyStarted = errors.New("session: already started")

	// ErrStopped is returned by [Session.Start] after [Session.Stop].
	ErrStopped = errors.New("session: stopped")
)

// Config holds the tunables of one session. Zero values select the
// package defaults of the component they configure.
type Config struct {
	SamplingRate      float64
	BatchSize         int
	PollInterval      time.Duration
	ThresholdRatio    float64
	HRVWindow         int
	RespirationWindow int

	Alpha           float64
	HistorySize     int
	MetricsCapacity int

	CircuitBreaker resilience.CircuitBreakerConfig
}

// Option configures a [Session].
type Option func(*Session)

// WithMetrics sets the metric instruments. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// WithID overrides the generated session ID.
func WithID(id string) Option {
	return func(s *Session) { s.id = id }
}

// Session is one run of the analysis pipeline. All exported methods are safe
// for concurrent use.
type Session struct {
	id      string
	cfg     Config
	metrics *observe.Metrics

	buf       *buffer.SignalBuffer
	faces     *buffer.FrameQueue
	extractor *facial.Extractor
	pulse     *pulse.Processor
	bridge    *bridge.Bridge

	// pushMu orders PushFrame against Stop so no frame is enqueued after the
	// final reset.
	pushMu  sync.RWMutex
	stopped bool

	mu        sync.Mutex
	startedAt time.Time
	started   bool
	cancel    context.CancelFunc
	done      chan struct{}
	lastHRV   *hrv.Metrics
}

// New assembles a session around inf for waveform inference and the given
// compute backends. fallback may be nil. Nothing runs until [Session.Start].
func New(cfg Config, inf inference.Provider, primary, fallback compute.Backend, opts ...Option) *Session {
	s := &Session{cfg: cfg}
	for _, o := range opts {
		o(s)
	}
	if s.id == "" {
		s.id = uuid.NewString()
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if s.cfg.SamplingRate <= 0 {
		s.cfg.SamplingRate = dsp.DefaultSamplingRate
	}
	if s.cfg.RespirationWindow <= 0 {
		s.cfg.RespirationWindow = DefaultRespirationWindow
	}

	s.buf = buffer.New(buffer.WithFacialCapacity(cfg.MetricsCapacity))
	s.faces = buffer.NewFrameQueue("facial")
	s.extractor = facial.New(
		facial.WithAlpha(cfg.Alpha),
		facial.WithHistorySize(cfg.HistorySize),
		facial.WithMetrics(s.metrics),
	)
	s.pulse = pulse.New(inf,
		pulse.WithBatchSize(cfg.BatchSize),
		pulse.WithSamplingRate(s.cfg.SamplingRate),
		pulse.WithThresholdRatio(cfg.ThresholdRatio),
		pulse.WithMetrics(s.metrics),
	)
	s.bridge = bridge.New(primary, fallback,
		bridge.WithSamplingRate(s.cfg.SamplingRate),
		bridge.WithCircuitBreaker(cfg.CircuitBreaker),
		bridge.WithHRVWindow(cfg.HRVWindow),
		bridge.WithMetrics(s.metrics),
	)
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// StartedAt returns when Start succeeded, or the zero time.
func (s *Session) StartedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startedAt
}

// Bridge returns the session's compute bridge.
func (s *Session) Bridge() *bridge.Bridge { return s.bridge }

// Buffer returns the session's signal buffer.
func (s *Session) Buffer() *buffer.SignalBuffer { return s.buf }

// Start initialises the compute bridge and launches the pulse and facial
// loops. An unavailable compute backend is logged and tolerated: the
// session runs and HRV stays unknown until a backend answers. The loops
// outlive ctx; only [Session.Stop] ends them.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return ErrAlreadyStarted
	}
	s.pushMu.RLock()
	stopped := s.stopped
	s.pushMu.RUnlock()
	if stopped {
		return ErrStopped
	}

	if err := s.bridge.Initialize(ctx); err != nil {
		slog.Warn("session: compute bridge degraded",
			"session_id", s.id,
			"initialized", s.bridge.Initialized(),
			"err", err,
		)
	}

	runCtx, cancel := context.WithCancel(observe.WithSession(context.WithoutCancel(ctx), s.id))
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		return s.pulse.Run(gctx, s.buf, s.buf, s.cfg.PollInterval)
	})
	g.Go(func() error {
		return s.extractor.Run(gctx, s.faces, s.buf, s.cfg.PollInterval)
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("session: processing loop failed", "session_id", s.id, "err", err)
		}
	}()

	s.started = true
	s.startedAt = time.Now().UTC()
	s.cancel = cancel
	s.done = done
	s.metrics.ActiveSessions.Add(ctx, 1)

	slog.Info("session started",
		"session_id", s.id,
		"sampling_rate", s.cfg.SamplingRate,
		"backend", s.bridge.Active(),
	)
	return nil
}

// PushFrame accepts a captured frame and takes ownership of it. The pulse
// path gets f and the facial path a shared handle. After Stop the frame is
// released immediately.
func (s *Session) PushFrame(f *frame.Frame) {
	s.pushMu.RLock()
	defer s.pushMu.RUnlock()

	if s.stopped {
		f.Release()
		return
	}
	shared, err := f.Share()
	if err != nil {
		slog.Debug("session: dropping released frame", "session_id", s.id, "seq", f.Seq())
		return
	}
	s.buf.PushFrame(f)
	s.faces.Push(shared)
	s.metrics.FramesIngested.Add(context.Background(), 1)
}

// Snapshot returns the current vitals. HRV is recomputed through the bridge
// over the RR history and keeps its last value while data is insufficient.
func (s *Session) Snapshot(ctx context.Context) types.Vitals {
	ctx = observe.WithSession(ctx, s.id)
	v := types.Vitals{
		SessionID: s.id,
		Active:    s.Running(),
		At:        time.Now().UTC(),
		Backend:   s.bridge.Active(),
	}

	if hr, ok := s.buf.LatestHeartRate(); ok {
		v.HeartRate = &hr
	}

	s.mu.Lock()
	if m, ok := s.bridge.ComputeHRV(ctx, s.buf.RRIntervals()); ok {
		s.lastHRV = &m
	}
	if s.lastHRV != nil {
		m := *s.lastHRV
		stress := hrv.StressIndex(m)
		v.HRV = &m
		v.StressIndex = &stress
	}
	s.mu.Unlock()

	tail := s.buf.WaveformTail(s.cfg.RespirationWindow)
	if rr, ok := s.bridge.ComputeRespiratoryRate(ctx, tail, s.bridge.SamplingRate()); ok {
		v.RespiratoryRate = &rr
	}

	if fm, ok := s.buf.LatestFacialMetrics(); ok {
		score := facial.RelaxationScore(fm)
		v.Facial = &fm
		v.RelaxationScore = &score
		v.RelaxationLevel = facial.Level(score)
	}

	v.QueuedFrames = s.buf.QueuedFrames()
	v.WaveformSamples, v.RRIntervals, _, _ = s.buf.Counts()
	return v
}

// Facial returns the retained facial-metric history, oldest first.
func (s *Session) Facial() []types.FacialMetrics {
	return s.buf.FacialMetrics()
}

// FacialSummary aggregates the retained facial history at the session's
// sampling rate.
func (s *Session) FacialSummary() (facial.Summary, error) {
	return facial.Summarize(s.buf.FacialMetrics(), s.pulse.SamplingRate())
}

// SetSamplingRate applies a new sampling rate to the pulse processor and
// recreates the bridge's processing handles so no stale rate survives.
func (s *Session) SetSamplingRate(rate float64) error {
	if rate <= 0 {
		return fmt.Errorf("session: invalid sampling rate %v", rate)
	}
	s.pulse.SetSamplingRate(rate)
	if err := s.bridge.SetSamplingRate(rate); err != nil {
		return fmt.Errorf("session: %w", err)
	}
	return nil
}

// SetAlpha changes the facial smoothing factor for subsequent frames.
func (s *Session) SetAlpha(alpha float64) {
	s.extractor.SetAlpha(alpha)
}

// Running reports whether the loops have been started and not yet stopped.
func (s *Session) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started && s.cancel != nil
}

// Stop ends the loops, waits for them to return, then releases every queued
// frame and clears all accumulated state. It returns the number of frame
// handles released by the reset. Stop is idempotent.
func (s *Session) Stop(ctx context.Context) (int, error) {
	s.pushMu.Lock()
	if s.stopped {
		s.pushMu.Unlock()
		return 0, nil
	}
	s.stopped = true
	s.pushMu.Unlock()

	s.mu.Lock()
	cancel, done, started := s.cancel, s.done, s.started
	s.cancel = nil
	s.mu.Unlock()

	s.pulse.Stop()
	s.extractor.Stop()
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	released := s.buf.Reset() + s.faces.Drain()
	s.pulse.Reset()
	s.extractor.Reset()
	err := s.bridge.Close()

	s.mu.Lock()
	s.lastHRV = nil
	s.mu.Unlock()

	s.metrics.FramesReleased.Add(ctx, int64(released))
	if started {
		s.metrics.ActiveSessions.Add(ctx, -1)
	}

	slog.Info("session stopped", "session_id", s.id, "frames_released", released)
	if err != nil {
		return released, fmt.Errorf("session: close bridge: %w", err)
	}
	return released, nil
}
