// Package mock provides test doubles for the compute package interfaces.
//
// Backend returns a Processor configured by the test, or a fresh default
// Processor per NewProcessor call. Processor returns canned results and
// records every call.
//
// Example:
//
//	proc := &mock.Processor{HRVErr: errors.New("device lost")}
//	be := &mock.Backend{Processor: proc}
package mock

import (
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/biofeedback/pkg/hrv"
	"github.com/MrWong99/biofeedback/pkg/provider/compute"
)

// Backend is a mock implementation of compute.Backend.
type Backend struct {
	mu sync.Mutex

	// BackendName is returned by Name. Defaults to "mock".
	BackendName string

	// LoadErr, if non-nil, is returned by every Load call.
	LoadErr error

	// NewProcessorErr, if non-nil, is returned by NewProcessor.
	NewProcessorErr error

	// Processor is returned by NewProcessor. If nil, a new Processor bound
	// to the requested rate is returned.
	Processor *Processor

	// LoadCallCount is the number of times Load was called.
	LoadCallCount int

	// Rates records the rate of every NewProcessor call in order.
	Rates []float64
}

// Name returns BackendName or "mock".
func (b *Backend) Name() string {
	if b.BackendName == "" {
		return "mock"
	}
	return b.BackendName
}

// Load records the call and returns LoadErr.
func (b *Backend) Load(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.LoadCallCount++
	return b.LoadErr
}

// NewProcessor records the rate and returns Processor, NewProcessorErr.
func (b *Backend) NewProcessor(rate float64) (compute.Processor, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Rates = append(b.Rates, rate)
	if b.NewProcessorErr != nil {
		return nil, b.NewProcessorErr
	}
	if b.Processor != nil {
		return b.Processor, nil
	}
	return &Processor{Rate: rate}, nil
}

// Processor is a mock implementation of compute.Processor.
type Processor struct {
	mu sync.Mutex

	// Rate is returned by SamplingRate.
	Rate float64

	// HRVResult and HRVErr are returned by ComputeHRV and HRV.
	HRVResult hrv.Metrics
	HRVErr    error

	// RespResult and RespErr are returned by ComputeRespiratoryRate.
	RespResult float64
	RespErr    error

	// --- Call records ---

	// ComputeHRVCalls records the input of every ComputeHRV call.
	ComputeHRVCalls [][]float64

	// RespCallCount is the number of ComputeRespiratoryRate calls.
	RespCallCount int

	// Accumulated holds intervals passed to AddRRIntervals since the last
	// ClearRRIntervals.
	Accumulated []float64

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// SamplingRate returns Rate.
func (p *Processor) SamplingRate() float64 { return p.Rate }

// ComputeHRV records the call and returns HRVResult, HRVErr.
func (p *Processor) ComputeHRV(rr []float64) (hrv.Metrics, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ComputeHRVCalls = append(p.ComputeHRVCalls, slices.Clone(rr))
	return p.HRVResult, p.HRVErr
}

// ComputeRespiratoryRate records the call and returns RespResult, RespErr.
func (p *Processor) ComputeRespiratoryRate([]float64, float64) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.RespCallCount++
	return p.RespResult, p.RespErr
}

// AddRRIntervals appends to Accumulated.
func (p *Processor) AddRRIntervals(rr ...float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Accumulated = append(p.Accumulated, rr...)
}

// ClearRRIntervals empties Accumulated.
func (p *Processor) ClearRRIntervals() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Accumulated = nil
}

// HRV returns HRVResult, HRVErr.
func (p *Processor) HRV() (hrv.Metrics, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.HRVResult, p.HRVErr
}

// Close records the call.
func (p *Processor) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CloseCallCount++
	return nil
}

// Compile-time interface assertions.
var (
	_ compute.Backend   = (*Backend)(nil)
	_ compute.Processor = (*Processor)(nil)
)
