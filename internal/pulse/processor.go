// Package pulse implements the frame-draining loop: it pops captured frames
// from the signal buffer, groups them into batches, runs inference on each
// batch, and feeds the resulting waveform through peak detection. Waveform
// samples, heart rates and RR intervals are appended back to the buffer.
//
// Inference failures and batches with fewer than two peaks are not errors:
// the batch is skipped and the loop continues.
package pulse

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/biofeedback/internal/observe"
	"github.com/MrWong99/biofeedback/pkg/dsp"
	"github.com/MrWong99/biofeedback/pkg/frame"
	"github.com/MrWong99/biofeedback/pkg/provider/inference"
)

// DefaultBatchSize is the number of frames per inference batch: three
// seconds at 30 fps, enough to span several heartbeats.
const DefaultBatchSize = 90

// DefaultPollInterval is how long Run waits before retrying an empty source.
const DefaultPollInterval = 30 * time.Millisecond

// Source yields captured frames. PopFrame must not block and transfers
// ownership of the returned frame to the caller.
type Source interface {
	PopFrame() (*frame.Frame, bool)
	QueuedFrames() int
}

// Sink receives derived values in temporal order.
type Sink interface {
	AppendWaveform(samples ...float64)
	AppendRRInterval(ms float64)
	AppendHeartRate(bpm float64)
}

// Option configures a [Processor].
type Option func(*Processor)

// WithBatchSize sets the number of frames per inference batch.
func WithBatchSize(n int) Option {
	return func(p *Processor) {
		if n > 0 {
			p.batchSize = n
		}
	}
}

// WithSamplingRate sets the waveform sampling rate in Hz.
func WithSamplingRate(rate float64) Option {
	return func(p *Processor) { p.SetSamplingRate(rate) }
}

// WithThresholdRatio sets the peak threshold as a fraction of the batch
// maximum.
func WithThresholdRatio(ratio float64) Option {
	return func(p *Processor) {
		if ratio > 0 && ratio <= 1 {
			p.ratio = ratio
		}
	}
}

// WithMetrics records inference latency, errors and vitals to m.
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Processor) { p.metrics = m }
}

// Processor batches frames and turns them into pulse estimates.
type Processor struct {
	inferer   inference.Provider
	batchSize int
	ratio     float64
	metrics   *observe.Metrics

	rateBits   atomic.Uint64
	processing atomic.Bool

	mu      sync.Mutex
	pending frame.Batch
}

// New creates a Processor that runs inference through inf.
func New(inf inference.Provider, opts ...Option) *Processor {
	p := &Processor{
		inferer:   inf,
		batchSize: DefaultBatchSize,
		ratio:     dsp.DefaultThresholdRatio,
	}
	p.rateBits.Store(math.Float64bits(dsp.DefaultSamplingRate))
	for _, o := range opts {
		o(p)
	}
	if p.metrics == nil {
		p.metrics = observe.DefaultMetrics()
	}
	return p
}

// SetSamplingRate changes the rate used for the next batch. Non-positive
// rates are ignored.
func (p *Processor) SetSamplingRate(rate float64) {
	if rate > 0 {
		p.rateBits.Store(math.Float64bits(rate))
	}
}

// SamplingRate returns the rate in Hz.
func (p *Processor) SamplingRate() float64 {
	return math.Float64frombits(p.rateBits.Load())
}

// Pending returns the number of frames waiting for the next batch.
func (p *Processor) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pending.Len()
}

// Ingest copies f into the pending batch and releases it. When the batch
// is full it is flushed to sink. It reports whether a flush happened.
func (p *Processor) Ingest(ctx context.Context, f *frame.Frame, sink Sink) bool {
	t, err := f.Tensor()
	if err != nil {
		slog.Warn("pulse: dropping frame", "seq", f.Seq(), "err", err)
		return false
	}
	if err := t.Validate(); err != nil {
		f.Release()
		slog.Warn("pulse: dropping frame", "seq", f.Seq(), "err", err)
		return false
	}

	p.mu.Lock()
	p.pending.Append(t)
	f.Release()
	p.metrics.RecordFrameProcessed(ctx, observe.StagePulse)
	if p.pending.Len() < p.batchSize {
		p.mu.Unlock()
		return false
	}
	raw := p.pending
	p.pending = frame.Batch{}
	p.mu.Unlock()

	p.flush(ctx, &raw, sink)
	return true
}

// flush runs inference on raw and appends the results to sink.
func (p *Processor) flush(ctx context.Context, raw *frame.Batch, sink Sink) {
	rate := p.SamplingRate()

	ctx, span := observe.StartSpan(ctx, "pulse.batch",
		trace.WithAttributes(
			attribute.Int("frames", raw.Len()),
			attribute.String("provider", p.inferer.Name()),
		),
	)
	defer span.End()

	start := time.Now()
	wave, err := p.inferer.Infer(ctx, Normalize(raw), raw)
	p.metrics.InferenceDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil || len(wave) == 0 {
		span.SetStatus(codes.Error, "no inference output")
		p.metrics.InferenceErrors.Add(ctx, 1)
		slog.Warn("pulse: inference produced no output, skipping batch",
			"provider", p.inferer.Name(), "frames", raw.Len(), "err", err)
		return
	}

	sink.AppendWaveform(wave...)

	est := dsp.EstimatePulse(wave, rate, p.ratio)
	span.SetAttributes(attribute.Int("peaks", len(est.Peaks)))
	if !est.HasHeartRate {
		return
	}
	sink.AppendHeartRate(est.HeartRate)
	for _, rr := range est.RRIntervals {
		sink.AppendRRInterval(rr)
	}
	p.metrics.HeartRate.Record(ctx, est.HeartRate)
}

// Processing reports whether Run is active.
func (p *Processor) Processing() bool {
	return p.processing.Load()
}

// Stop asks a running Run loop to return at its next iteration.
func (p *Processor) Stop() {
	p.processing.Store(false)
}

// Reset discards the pending partial batch.
func (p *Processor) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending.Reset()
}

// Run drains src into batches until ctx is cancelled or Stop is called.
// When src is empty it waits poll before retrying. The pending partial
// batch is discarded on return. Run returns nil after Stop and ctx.Err()
// after cancellation.
func (p *Processor) Run(ctx context.Context, src Source, sink Sink, poll time.Duration) error {
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	p.processing.Store(true)
	defer func() {
		p.processing.Store(false)
		p.Reset()
	}()

	timer := time.NewTimer(poll)
	defer timer.Stop()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !p.processing.Load() {
			return nil
		}

		f, ok := src.PopFrame()
		if !ok {
			p.metrics.QueueDepth.Record(ctx, 0)
			timer.Reset(poll)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-timer.C:
			}
			continue
		}
		if p.Ingest(ctx, f, sink) {
			p.metrics.QueueDepth.Record(ctx, int64(src.QueuedFrames()))
		}
	}
}
