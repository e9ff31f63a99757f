// Package facial converts raw video frames into smoothed facial-relaxation
// indicators.
//
// An [Extractor] keeps the previously processed frame and one bounded
// history per channel (tension, eye movement, blink, symmetry). Each call to
// [Extractor.Process] computes frame-local raw values, pushes them into the
// histories, and emits one [types.FacialMetrics] holding the exponentially
// smoothed value of every channel. [Extractor.Run] drives Process from a
// frame source until the context is cancelled or [Extractor.Stop] is called.
package facial

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/biofeedback/internal/observe"
	"github.com/MrWong99/biofeedback/pkg/dsp"
	"github.com/MrWong99/biofeedback/pkg/frame"
	"github.com/MrWong99/biofeedback/pkg/types"
)

// Scale factors applied to the raw per-frame values. They are visibility
// multipliers, not calibrated units.
const (
	tensionScale = 100
	eyeScale     = 10
	blinkScale   = 5

	// neutralSymmetry is reported until a previous frame is available.
	neutralSymmetry = 0.5
)

// DefaultHistorySize is the number of raw observations kept per channel.
const DefaultHistorySize = 30

// DefaultPollInterval is how long Run waits before retrying an empty source.
const DefaultPollInterval = 30 * time.Millisecond

// Source yields frames for processing. Pop must not block and transfers
// ownership of the returned frame to the caller.
type Source interface {
	Pop() (*frame.Frame, bool)
}

// Sink receives one metrics record per processed frame.
type Sink interface {
	AddFacialMetrics(m types.FacialMetrics)
}

// Option configures an [Extractor].
type Option func(*Extractor)

// WithAlpha sets the smoothing factor. Values outside (0, 1] are ignored.
func WithAlpha(alpha float64) Option {
	return func(e *Extractor) {
		if alpha > 0 && alpha <= 1 {
			e.alpha = alpha
		}
	}
}

// WithHistorySize sets the per-channel history capacity.
func WithHistorySize(n int) Option {
	return func(e *Extractor) {
		if n > 0 {
			e.historySize = n
		}
	}
}

// WithMetrics records extraction latency and frame counts to m.
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Extractor) { e.metrics = m }
}

// WithClock overrides the timestamp source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Extractor) { e.now = now }
}

// Extractor computes [types.FacialMetrics] from consecutive frames.
// All methods are safe for concurrent use.
type Extractor struct {
	alpha       float64
	historySize int
	metrics     *observe.Metrics
	now         func() time.Time

	processing atomic.Bool

	mu       sync.Mutex
	prev     *frame.Frame
	tension  *dsp.Window
	eye      *dsp.Window
	blink    *dsp.Window
	symmetry *dsp.Window
}

// New creates an Extractor with empty histories.
func New(opts ...Option) *Extractor {
	e := &Extractor{
		alpha:       dsp.DefaultAlpha,
		historySize: DefaultHistorySize,
		now:         time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	if e.metrics == nil {
		e.metrics = observe.DefaultMetrics()
	}
	e.tension = dsp.NewWindow(e.historySize)
	e.eye = dsp.NewWindow(e.historySize)
	e.blink = dsp.NewWindow(e.historySize)
	e.symmetry = dsp.NewWindow(e.historySize)
	return e
}

// SetAlpha changes the smoothing factor for subsequent records. Values
// outside (0, 1] are ignored.
func (e *Extractor) SetAlpha(alpha float64) {
	if alpha <= 0 || alpha > 1 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.alpha = alpha
}

// Process consumes f and returns the smoothed metrics for it. The extractor
// takes ownership of f: it is retained as the previous frame for the next
// call, and the frame it replaces is released. On error f is released and
// the extractor state is left unchanged.
func (e *Extractor) Process(ctx context.Context, f *frame.Frame) (types.FacialMetrics, error) {
	start := time.Now()

	cur, err := f.Tensor()
	if err != nil {
		return types.FacialMetrics{}, fmt.Errorf("facial: process frame %d: %w", f.Seq(), err)
	}
	if err := cur.Validate(); err != nil {
		f.Release()
		return types.FacialMetrics{}, fmt.Errorf("facial: process frame %d: %w", f.Seq(), err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	tension := cur.Variance() * tensionScale
	eye, blink, symmetry := 0.0, 0.0, neutralSymmetry
	if prev := e.previousTensor(cur); prev != nil {
		eye = cur.MeanAbsDiff(prev) * eyeScale
		blink = math.Abs(cur.Mean()-prev.Mean()) * blinkScale
		left, right := cur.HalfMeans()
		symmetry = 1 - math.Abs(left-right)
	}

	e.tension.Push(tension)
	e.eye.Push(eye)
	e.blink.Push(blink)
	e.symmetry.Push(symmetry)

	m := types.FacialMetrics{
		MuscleTension:  e.tension.Smoothed(e.alpha),
		EyeMovement:    e.eye.Smoothed(e.alpha),
		BlinkRate:      e.blink.Smoothed(e.alpha),
		FacialSymmetry: e.symmetry.Smoothed(e.alpha),
		Timestamp:      e.now().UnixMilli(),
	}

	if e.prev != nil {
		e.prev.Release()
	}
	e.prev = f

	e.metrics.FacialDuration.Record(ctx, time.Since(start).Seconds())
	e.metrics.RecordFrameProcessed(ctx, observe.StageFacial)
	return m, nil
}

// previousTensor returns the retained frame's tensor when it is comparable
// with cur. A shape change (capture reconfigured mid-session) is treated as
// if no previous frame existed. Caller must hold e.mu.
func (e *Extractor) previousTensor(cur *frame.Tensor) *frame.Tensor {
	if e.prev == nil {
		return nil
	}
	prev, err := e.prev.Tensor()
	if err != nil {
		return nil
	}
	if prev.Height != cur.Height || prev.Width != cur.Width || prev.Channels != cur.Channels {
		return nil
	}
	return prev
}

// HistoryLen returns the number of raw observations held per channel.
func (e *Extractor) HistoryLen() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tension.Len()
}

// HasPrevious reports whether a previous frame is retained.
func (e *Extractor) HasPrevious() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.prev != nil
}

// Processing reports whether Run is active.
func (e *Extractor) Processing() bool {
	return e.processing.Load()
}

// Stop asks a running Run loop to return at its next iteration. Run resets
// the extractor on its way out.
func (e *Extractor) Stop() {
	e.processing.Store(false)
}

// Reset releases the retained previous frame, clears every channel history
// and the processing flag. Safe to call repeatedly.
func (e *Extractor) Reset() {
	e.processing.Store(false)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.prev != nil {
		e.prev.Release()
		e.prev = nil
	}
	e.tension.Reset()
	e.eye.Reset()
	e.blink.Reset()
	e.symmetry.Reset()
}

// Run pulls frames from src and hands each resulting record to sink until
// ctx is cancelled or Stop is called. When src is empty it waits poll
// before retrying. Run resets the extractor before returning and returns
// nil after Stop or ctx.Err() after cancellation.
func (e *Extractor) Run(ctx context.Context, src Source, sink Sink, poll time.Duration) error {
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	e.processing.Store(true)
	defer e.Reset()

	timer := time.NewTimer(poll)
	defer timer.Stop()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !e.processing.Load() {
			return nil
		}

		f, ok := src.Pop()
		if !ok {
			timer.Reset(poll)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-timer.C:
			}
			continue
		}

		m, err := e.Process(ctx, f)
		if err != nil {
			slog.Warn("facial: skipping frame", "seq", f.Seq(), "err", err)
			continue
		}
		sink.AddFacialMetrics(m)
	}
}
