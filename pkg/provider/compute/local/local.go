// Package local provides the in-process reference compute backend. It
// delegates to the pure functions in pkg/hrv and pkg/dsp and is always
// available.
package local

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/biofeedback/pkg/dsp"
	"github.com/MrWong99/biofeedback/pkg/hrv"
	"github.com/MrWong99/biofeedback/pkg/provider/compute"
)

// Name is the registry name of this backend.
const Name = "local"

var (
	_ compute.Backend   = (*Backend)(nil)
	_ compute.Processor = (*Processor)(nil)
)

// Backend is the local compute backend. The zero value is ready to use.
type Backend struct{}

// New returns a Backend.
func New() *Backend { return &Backend{} }

// Name returns "local".
func (b *Backend) Name() string { return Name }

// Load always succeeds.
func (b *Backend) Load(context.Context) error { return nil }

// NewProcessor returns a handle for rate.
func (b *Backend) NewProcessor(rate float64) (compute.Processor, error) {
	if rate <= 0 {
		return nil, fmt.Errorf("local: invalid sampling rate %v", rate)
	}
	return &Processor{rate: rate}, nil
}

// Processor is the local compute handle.
type Processor struct {
	rate float64

	mu     sync.Mutex
	rr     []float64
	closed bool
}

// SamplingRate returns the handle's rate.
func (p *Processor) SamplingRate() float64 { return p.rate }

// ComputeHRV delegates to hrv.Compute.
func (p *Processor) ComputeHRV(rr []float64) (hrv.Metrics, error) {
	if p.isClosed() {
		return hrv.Metrics{}, compute.ErrUnavailable
	}
	return hrv.Compute(rr)
}

// ComputeRespiratoryRate delegates to dsp.RespiratoryRate.
func (p *Processor) ComputeRespiratoryRate(signal []float64, rate float64) (float64, error) {
	if p.isClosed() {
		return 0, compute.ErrUnavailable
	}
	if rate <= 0 {
		rate = p.rate
	}
	return dsp.RespiratoryRate(signal, rate)
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
	return hrv.Compute(rr)
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
