// Package bridge exposes HRV and respiratory-rate computation over two
// interchangeable compute backends.
//
// A [Bridge] loads a preferred backend and a fallback (normally the local
// reference backend). When the preferred backend is unavailable the bridge
// keeps working through the fallback; when it fails at runtime a circuit
// breaker moves calls over to the fallback until it recovers.
//
// Every computation returns a value plus an ok flag instead of an error:
// insufficient data, an uninitialised bridge and backend failures all mean
// "no result this cycle" to the caller.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/biofeedback/internal/observe"
	"github.com/MrWong99/biofeedback/internal/resilience"
	"github.com/MrWong99/biofeedback/pkg/dsp"
	"github.com/MrWong99/biofeedback/pkg/hrv"
	"github.com/MrWong99/biofeedback/pkg/provider/compute"
)

// Call status labels recorded on the backend call counter.
const (
	statusOK           = "ok"
	statusError        = "error"
	statusInsufficient = "insufficient_data"
)

// Option is a functional option for [Bridge].
type Option func(*Bridge)

// WithSamplingRate sets the initial sampling rate in Hz.
func WithSamplingRate(rate float64) Option {
	return func(b *Bridge) {
		if rate > 0 {
			b.rate = rate
		}
	}
}

// WithCircuitBreaker configures the per-backend circuit breakers.
func WithCircuitBreaker(cfg resilience.CircuitBreakerConfig) Option {
	return func(b *Bridge) { b.breaker = cfg }
}

// WithMetrics records backend calls and vitals to m.
func WithMetrics(m *observe.Metrics) Option {
	return func(b *Bridge) { b.metrics = m }
}

// WithHRVWindow limits ComputeHRV to the most recent n intervals. Zero keeps
// every interval.
func WithHRVWindow(n int) Option {
	return func(b *Bridge) {
		if n >= 0 {
			b.window = n
		}
	}
}

// Bridge routes computations to the first healthy compute backend.
// All methods are safe for concurrent use.
type Bridge struct {
	primary  compute.Backend
	fallback compute.Backend
	breaker  resilience.CircuitBreakerConfig
	metrics  *observe.Metrics
	window   int

	mu     sync.RWMutex
	rate   float64
	loaded []compute.Backend
	proc   *resilience.ComputeFallback
}

// New creates a Bridge over primary with fallback as the backup. fallback may
// be nil, in which case an unavailable primary leaves the bridge unusable.
func New(primary, fallback compute.Backend, opts ...Option) *Bridge {
	b := &Bridge{
		primary:  primary,
		fallback: fallback,
		rate:     dsp.DefaultSamplingRate,
	}
	for _, o := range opts {
		o(b)
	}
	if b.metrics == nil {
		b.metrics = observe.DefaultMetrics()
	}
	return b
}

// Initialize loads the backends and creates processing handles at the
// current sampling rate. If the primary backend cannot be loaded the bridge
// still initialises through the fallback and Initialize returns an error
// wrapping [compute.ErrUnavailable]; [Bridge.Initialized] tells the caller
// whether computations will produce results. Calling Initialize again
// replaces the handles.
func (b *Bridge) Initialize(ctx context.Context) error {
	var loaded []compute.Backend
	var primaryErr error

	if err := b.primary.Load(ctx); err != nil {
		primaryErr = fmt.Errorf("bridge: load %s: %w", b.primary.Name(), err)
		if !errors.Is(err, compute.ErrUnavailable) {
			primaryErr = fmt.Errorf("%w: %w", compute.ErrUnavailable, primaryErr)
		}
		slog.Warn("compute backend unavailable, using fallback",
			"backend", b.primary.Name(), "err", err)
	} else {
		loaded = append(loaded, b.primary)
	}

	if b.fallback != nil && b.fallback.Name() != b.primary.Name() {
		if err := b.fallback.Load(ctx); err != nil {
			slog.Warn("fallback compute backend unavailable",
				"backend", b.fallback.Name(), "err", err)
		} else {
			loaded = append(loaded, b.fallback)
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.loaded = loaded
	if err := b.rebuildLocked(); err != nil {
		return errors.Join(primaryErr, err)
	}
	return primaryErr
}

// rebuildLocked replaces the handles with new ones at b.rate. b.mu must be
// held for writing.
func (b *Bridge) rebuildLocked() error {
	if b.proc != nil {
		if err := b.proc.Close(); err != nil {
			slog.Debug("closing compute handles", "err", err)
		}
		b.proc = nil
	}
	if len(b.loaded) == 0 {
		return fmt.Errorf("bridge: %w: no backend loaded", compute.ErrUnavailable)
	}

	breaker := b.breaker
	breaker.OnStateChange = b.recordTransition

	var fb *resilience.ComputeFallback
	for _, be := range b.loaded {
		p, err := be.NewProcessor(b.rate)
		if err != nil {
			slog.Warn("creating compute handle failed", "backend", be.Name(), "err", err)
			continue
		}
		if fb == nil {
			fb = resilience.NewComputeFallback(p, be.Name(), resilience.FallbackConfig{
				CircuitBreaker: breaker,
			})
			continue
		}
		fb.AddFallback(be.Name(), p)
	}
	if fb == nil {
		return fmt.Errorf("bridge: %w: no compute handle", compute.ErrUnavailable)
	}
	fb.OnAttempt(b.recordAttempt)
	b.proc = fb
	return nil
}

func (b *Bridge) recordAttempt(backend, op string, err error) {
	status := statusOK
	switch {
	case compute.IsInsufficientData(err):
		status = statusInsufficient
	case err != nil:
		status = statusError
	}
	b.metrics.RecordBackendCall(context.Background(), backend, op, status)
}

// recordTransition runs under the breaker's lock and must not call into it.
func (b *Bridge) recordTransition(backend string, _, to resilience.State) {
	b.metrics.BreakerTransitions.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("backend", backend),
		attribute.String("to", to.String()),
	))
}

// Initialized reports whether computations can produce results.
func (b *Bridge) Initialized() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.proc != nil
}

// Active returns the name of the backend currently answering calls, or ""
// when the bridge is not initialised.
func (b *Bridge) Active() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.proc == nil {
		return ""
	}
	return b.proc.Active()
}

// BackendStates returns the breaker state of every loaded backend.
func (b *Bridge) BackendStates() map[string]string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := map[string]string{}
	if b.proc == nil {
		return out
	}
	for name, s := range b.proc.States() {
		out[name] = s.String()
	}
	return out
}

// SamplingRate returns the rate handles are bound to.
func (b *Bridge) SamplingRate() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.rate
}

// SetSamplingRate rebinds the bridge to rate. Existing handles are closed and
// recreated, which drops intervals added through AddRRIntervals.
func (b *Bridge) SetSamplingRate(rate float64) error {
	if rate <= 0 {
		return fmt.Errorf("bridge: invalid sampling rate %v", rate)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.rate == rate {
		return nil
	}
	b.rate = rate
	if len(b.loaded) == 0 {
		return nil
	}
	slog.Info("compute sampling rate changed", "rate", rate)
	return b.rebuildLocked()
}

// ComputeHRV derives HRV metrics from rr, limited to the configured window.
// ok is false when the bridge is not initialised, rr has fewer than two
// intervals, or every backend failed.
func (b *Bridge) ComputeHRV(ctx context.Context, rr []float64) (hrv.Metrics, bool) {
	proc := b.handle()
	if proc == nil {
		slog.Debug("bridge not initialized, skipping HRV")
		return hrv.Metrics{}, false
	}
	if b.window > 0 && len(rr) > b.window {
		rr = rr[len(rr)-b.window:]
	}

	ctx, span := observe.StartSpan(ctx, "compute.hrv")
	defer span.End()

	start := time.Now()
	m, err := proc.ComputeHRV(rr)
	b.recordDuration(ctx, resilience.OpHRV, start)
	if err != nil {
		b.logSkip(ctx, resilience.OpHRV, err)
		return hrv.Metrics{}, false
	}
	b.metrics.RMSSD.Record(ctx, m.RMSSD)
	return m, true
}

// ComputeRespiratoryRate estimates breaths per minute from signal sampled at
// rate Hz. A non-positive rate means the bridge's rate.
func (b *Bridge) ComputeRespiratoryRate(ctx context.Context, signal []float64, rate float64) (float64, bool) {
	proc := b.handle()
	if proc == nil {
		slog.Debug("bridge not initialized, skipping respiratory rate")
		return 0, false
	}

	ctx, span := observe.StartSpan(ctx, "compute.respiration")
	defer span.End()

	start := time.Now()
	bpm, err := proc.ComputeRespiratoryRate(signal, rate)
	b.recordDuration(ctx, resilience.OpRespiration, start)
	if err != nil {
		b.logSkip(ctx, resilience.OpRespiration, err)
		return 0, false
	}
	b.metrics.RespiratoryRate.Record(ctx, bpm)
	return bpm, true
}

// AddRRIntervals appends to every handle's accumulator.
func (b *Bridge) AddRRIntervals(rr ...float64) {
	if proc := b.handle(); proc != nil {
		proc.AddRRIntervals(rr...)
	}
}

// ClearRRIntervals empties every handle's accumulator.
func (b *Bridge) ClearRRIntervals() {
	if proc := b.handle(); proc != nil {
		proc.ClearRRIntervals()
	}
}

// HRV computes metrics over the accumulated intervals.
func (b *Bridge) HRV(ctx context.Context) (hrv.Metrics, bool) {
	proc := b.handle()
	if proc == nil {
		return hrv.Metrics{}, false
	}
	m, err := proc.HRV()
	if err != nil {
		b.logSkip(ctx, resilience.OpHRV, err)
		return hrv.Metrics{}, false
	}
	return m, true
}

// Close releases the handles. The bridge can be initialised again afterwards.
func (b *Bridge) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.proc == nil {
		return nil
	}
	err := b.proc.Close()
	b.proc = nil
	b.loaded = nil
	return err
}

func (b *Bridge) handle() *resilience.ComputeFallback {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.proc
}

func (b *Bridge) recordDuration(ctx context.Context, op string, start time.Time) {
	b.metrics.BackendDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("op", op)))
}

func (b *Bridge) logSkip(ctx context.Context, op string, err error) {
	if compute.IsInsufficientData(err) {
		return
	}
	observe.Logger(ctx).Debug("compute skipped", "op", op, "err", err)
}
