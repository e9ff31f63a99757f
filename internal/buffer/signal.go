// Package buffer implements the SignalBuffer: the single point of contact
// between the capture/inference boundary and the analysis components.
//
// A SignalBuffer owns the queue of captured frames (and is therefore the
// disposal authority for them until they are popped), plus append-only
// accumulators for derived waveform samples, RR intervals and heart rates,
// and a bounded ring of facial-metric records.
//
// Every operation takes the buffer's mutex, so one producer and any number
// of consumers may run on separate goroutines while FIFO order is kept.
package buffer

import (
	"slices"
	"sync"

	"github.com/MrWong99/biofeedback/pkg/frame"
	"github.com/MrWong99/biofeedback/pkg/types"
)

// DefaultFacialCapacity is the number of facial-metric records retained.
const DefaultFacialCapacity = 100

// SignalBuffer decouples capture from consumption. Construct with [New];
// one SignalBuffer belongs to exactly one session.
type SignalBuffer struct {
	frames *FrameQueue

	mu       sync.Mutex
	waveform []float64
	rr       []float64
	hr       []float64
	facial   *Ring[types.FacialMetrics]
}

// Option configures a [SignalBuffer].
type Option func(*SignalBuffer)

// WithFacialCapacity overrides the facial-metric ring capacity.
func WithFacialCapacity(n int) Option {
	return func(b *SignalBuffer) {
		if n > 0 {
			b.facial = NewRing[types.FacialMetrics](n)
		}
	}
}

// New returns an empty SignalBuffer.
func New(opts ...Option) *SignalBuffer {
	b := &SignalBuffer{
		frames: NewFrameQueue("signal"),
		facial: NewRing[types.FacialMetrics](DefaultFacialCapacity),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// PushFrame appends f to the frame queue. The buffer takes ownership.
func (b *SignalBuffer) PushFrame(f *frame.Frame) {
	b.frames.Push(f)
}

// PopFrame removes and returns the oldest queued frame; ownership moves to
// the caller. ok is false when no frame is queued. Never blocks.
func (b *SignalBuffer) PopFrame() (*frame.Frame, bool) {
	return b.frames.Pop()
}

// QueuedFrames returns the current frame-queue depth.
func (b *SignalBuffer) QueuedFrames() int {
	return b.frames.Len()
}

// AppendWaveform appends derived waveform samples in order.
func (b *SignalBuffer) AppendWaveform(samples ...float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.waveform = append(b.waveform, samples...)
}

// AppendRRInterval appends one RR interval in milliseconds.
func (b *SignalBuffer) AppendRRInterval(ms float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rr = append(b.rr, ms)
}

// AppendHeartRate appends one heart-rate value in beats per minute.
func (b *SignalBuffer) AppendHeartRate(bpm float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hr = append(b.hr, bpm)
}

// AddFacialMetrics inserts m into the facial ring, evicting the oldest
// record when the ring is full.
func (b *SignalBuffer) AddFacialMetrics(m types.FacialMetrics) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.facial.Push(m)
}

// LatestWaveform returns the most recent waveform sample.
func (b *SignalBuffer) LatestWaveform() (float64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return last(b.waveform)
}

// LatestRRInterval returns the most recent RR interval.
func (b *SignalBuffer) LatestRRInterval() (float64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return last(b.rr)
}

// LatestHeartRate returns the most recent heart rate.
func (b *SignalBuffer) LatestHeartRate() (float64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return last(b.hr)
}

// LatestFacialMetrics returns the most recent facial record.
func (b *SignalBuffer) LatestFacialMetrics() (types.FacialMetrics, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.facial.Last()
}

// Waveform returns a copy of all waveform samples.
func (b *SignalBuffer) Waveform() []float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.waveform)
}

// WaveformTail returns a copy of at most the last n waveform samples.
func (b *SignalBuffer) WaveformTail(n int) []float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n <= 0 || n >= len(b.waveform) {
		return slices.Clone(b.waveform)
	}
	return slices.Clone(b.waveform[len(b.waveform)-n:])
}

// RRIntervals returns a copy of all RR intervals.
func (b *SignalBuffer) RRIntervals() []float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.rr)
}

// HeartRates returns a copy of all heart rates.
func (b *SignalBuffer) HeartRates() []float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.hr)
}

// FacialMetrics returns the retained facial records, oldest first.
func (b *SignalBuffer) FacialMetrics() []types.FacialMetrics {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.facial.Slice()
}

// Counts reports the length of each accumulator.
func (b *SignalBuffer) Counts() (waveform, rr, hr, facial int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.waveform), len(b.rr), len(b.hr), b.facial.Len()
}

// Reset releases every queued frame, then clears all accumulators and the
// facial ring. It returns the number of frames released. Reset is
// idempotent and safe with an empty queue.
func (b *SignalBuffer) Reset() int {
	released := b.frames.Drain()

	b.mu.Lock()
	defer b.mu.Unlock()
	b.waveform = nil
	b.rr = nil
	b.hr = nil
	b.facial.Clear()
	return released
}

func last(s []float64) (float64, bool) {
	if len(s) == 0 {
		return 0, false
	}
	return s[len(s)-1], true
}
