// Package accelerated provides a vectorised compute backend built on gonum.
//
// Successive differences, sums of squares and cumulative sums run through
// gonum's floats kernels and the standard deviation through gonum/stat.
// The results are numerically equivalent to the local reference backend.
//
// Load runs a self-check against a fixed input and expected output; a
// backend that fails it reports compute.ErrUnavailable and must not be
// used.
package accelerated

import (
	"context"
	"fmt"
	"math"
	"slices"
	"sync"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/MrWong99/biofeedback/pkg/dsp"
	"github.com/MrWong99/biofeedback/pkg/hrv"
	"github.com/MrWong99/biofeedback/pkg/provider/compute"
)

// Name is the registry name of this backend.
const Name = "accelerated"

// Respiratory band edges in Hz, matching the local backend.
const (
	respLowHz  = 0.1
	respHighHz = 0.5
)

// selfCheckTolerance bounds the self-check comparison.
const selfCheckTolerance = 1e-9

var (
	_ compute.Backend   = (*Backend)(nil)
	_ compute.Processor = (*Processor)(nil)
)

// Option is a functional option for Backend.
type Option func(*Backend)

// WithLoadHook runs hook before the self-check in Load. A non-nil error
// makes the backend unavailable. Useful for gating the backend on
// deployment conditions and for tests.
func WithLoadHook(hook func(ctx context.Context) error) Option {
	return func(b *Backend) { b.hook = hook }
}

// Backend is the gonum compute backend.
type Backend struct {
	hook func(ctx context.Context) error

	mu      sync.Mutex
	loaded  bool
	loadErr error
}

// New returns an unloaded Backend.
func New(opts ...Option) *Backend {
	b := &Backend{}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Name returns "accelerated".
func (b *Backend) Name() string { return Name }

// Load runs the optional hook and the self-check once. Later calls return
// the first outcome.
func (b *Backend) Load(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.loaded || b.loadErr != nil {
		return b.loadErr
	}
	if b.hook != nil {
		if err := b.hook(ctx); err != nil {
			b.loadErr = fmt.Errorf("%w: %s: %v", compute.ErrUnavailable, Name, err)
			return b.loadErr
		}
	}
	if err := selfCheck(); err != nil {
		b.loadErr = fmt.Errorf("%w: %s: %v", compute.ErrUnavailable, Name, err)
		return b.loadErr
	}
	b.loaded = true
	return nil
}

// NewProcessor returns a handle for rate, or ErrUnavailable before Load
// has succeeded.
func (b *Backend) NewProcessor(rate float64) (compute.Processor, error) {
	b.mu.Lock()
	loaded := b.loaded
	b.mu.Unlock()
	if !loaded {
		return nil, fmt.Errorf("%w: %s not loaded", compute.ErrUnavailable, Name)
	}
	if rate <= 0 {
		return nil, fmt.Errorf("%s: invalid sampling rate %v", Name, rate)
	}
	return &Processor{rate: rate}, nil
}

// selfCheck compares the kernels against a known result.
func selfCheck() error {
	got, err := computeHRV([]float64{800, 810, 790, 805})
	if err != nil {
		return err
	}
	want := hrv.Metrics{RMSSD: math.Sqrt(725.0 / 3), SDNN: math.Sqrt(218.75 / 4), PNN50: 0}
	if math.Abs(got.RMSSD-want.RMSSD) > selfCheckTolerance ||
		math.Abs(got.SDNN-want.SDNN) > selfCheckTolerance ||
		got.PNN50 != want.PNN50 {
		return fmt.Errorf("self-check mismatch: got %+v, want %+v", got, want)
	}
	return nil
}

// Processor is the gonum compute handle.
type Processor struct {
	rate float64

	mu     sync.Mutex
	rr     []float64
	closed bool
}

// SamplingRate returns the handle's rate.
func (p *Processor) SamplingRate() float64 { return p.rate }

// ComputeHRV derives metrics from rr.
func (p *Processor) ComputeHRV(rr []float64) (hrv.Metrics, error) {
	if p.isClosed() {
		return hrv.Metrics{}, compute.ErrUnavailable
	}
	return computeHRV(rr)
}

// ComputeRespiratoryRate estimates breaths per minute from signal.
func (p *Processor) ComputeRespiratoryRate(signal []float64, rate float64) (float64, error) {
	if p.isClosed() {
		return 0, compute.ErrUnavailable
	}
	if rate <= 0 {
		rate = p.rate
	}
	return respiratoryRate(signal, rate)
}

// AddRRIntervals appends to the accumulator.
func (p *Processor) AddRRIntervals(rr ...float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rr = append(p.rr, rr...)
}

// ClearRRIntervals empties the accumulator.
func (p *Processor) ClearRRIntervals() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rr = nil
}

// HRV computes metrics over the accumulator.
func (p *Processor) HRV() (hrv.Metrics, error) {
	p.mu.Lock()
	rr, closed := slices.Clone(p.rr), p.closed
	p.mu.Unlock()
	if closed {
		return hrv.Metrics{}, compute.ErrUnavailable
	}
	return computeHRV(rr)
}

// Close marks the handle closed and drops the accumulator.
func (p *Processor) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.rr = nil
	return nil
}

func (p *Processor) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func computeHRV(rr []float64) (hrv.Metrics, error) {
	n := len(rr)
	if n < 2 {
		return hrv.Metrics{}, hrv.ErrInsufficientData
	}

	d := make([]float64, n-1)
	floats.SubTo(d, rr[1:], rr[:n-1])
	nn50 := 0
	for i, v := range d {
		d[i] = math.Abs(v)
		if d[i] > hrv.NN50Threshold {
			nn50++
		}
	}
	nDiff := float64(n - 1)

	_, sdnn := stat.PopMeanStdDev(rr, nil)
	return hrv.Metrics{
		RMSSD: math.Sqrt(floats.Dot(d, d) / nDiff),
		SDNN:  sdnn,
		PNN50: float64(nn50) / nDiff * 100,
	}, nil
}

func respiratoryRate(signal []float64, rate float64) (float64, error) {
	n := len(signal)
	if n < dsp.MinRespirationSamples {
		return 0, fmt.Errorf("%w: %d samples, need %d", dsp.ErrInsufficientData, n, dsp.MinRespirationSamples)
	}
	if rate <= 0 {
		return 0, fmt.Errorf("%s: invalid sampling rate %v", Name, rate)
	}

	w := int(rate / (respLowHz + respHighHz) * 2)
	w = max(w, 3)
	w = min(w, n/4)

	cum := make([]float64, n)
	floats.CumSum(cum, signal)
	filtered := make([]float64, n)
	for i := range n {
		start := max(i-w, 0)
		end := min(i+w+1, n)
		sum := cum[end-1]
		if start > 0 {
			sum -= cum[start-1]
		}
		filtered[i] = sum / float64(end-start)
	}

	peaks := dsp.FindPeaks(filtered, dsp.DefaultThresholdRatio)
	if len(peaks) < 2 {
		return 0, fmt.Errorf("%w: %d respiratory peaks", dsp.ErrInsufficientData, len(peaks))
	}
	span := float64(peaks[len(peaks)-1]-peaks[0]) / rate
	return 60 / (span / float64(len(peaks)-1)), nil
}
