// Package mock provides a test double for the inference.Provider interface.
//
// Set Waveform to the samples every Infer call should return, or InferFunc
// for per-call behaviour. Calls are recorded for later inspection.
//
// Example:
//
//	p := &mock.Provider{Waveform: []float64{0, 1, 0, 1, 0}}
//	samples, _ := p.Infer(ctx, norm, raw)
package mock

import (
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/biofeedback/pkg/frame"
	"github.com/MrWong99/biofeedback/pkg/provider/inference"
)

// InferCall records a single invocation of Provider.Infer.
type InferCall struct {
	// Frames is the number of tensors in the raw batch.
	Frames int
}

// Provider is a mock implementation of inference.Provider.
type Provider struct {
	mu sync.Mutex

	// ProviderName is returned by Name. Defaults to "mock".
	ProviderName string

	// Waveform is returned (as a copy) by every Infer call when InferFunc is nil.
	Waveform []float64

	// InferErr, if non-nil, is returned as the error from Infer.
	InferErr error

	// InferFunc, if set, replaces the default behaviour.
	InferFunc func(ctx context.Context, normalized, raw *frame.Batch) ([]float64, error)

	// InferCalls records every call to Infer in order.
	InferCalls []InferCall
}

// Infer records the call and returns InferFunc's result, or Waveform, InferErr.
func (p *Provider) Infer(ctx context.Context, normalized, raw *frame.Batch) ([]float64, error) {
	p.mu.Lock()
	p.InferCalls = append(p.InferCalls, InferCall{Frames: raw.Len()})
	fn, wave, err := p.InferFunc, slices.Clone(p.Waveform), p.InferErr
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, normalized, raw)
	}
	if err != nil {
		return nil, err
	}
	return wave, nil
}

// Name returns ProviderName or "mock".
func (p *Provider) Name() string {
	if p.ProviderName == "" {
		return "mock"
	}
	return p.ProviderName
}

// Calls returns a copy of the recorded calls. Thread-safe.
func (p *Provider) Calls() []InferCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.InferCalls)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.InferCalls = nil
}

// Ensure Provider implements inference.Provider at compile time.
var _ inference.Provider = (*Provider)(nil)
