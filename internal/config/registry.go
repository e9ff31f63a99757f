package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/biofeedback/pkg/provider/capture"
	"github.com/MrWong99/biofeedback/pkg/provider/compute"
	"github.com/MrWong99/biofeedback/pkg/provider/inference"
)

// ErrNotRegistered is returned by Create* methods when no factory has been
// registered under the requested name.
var ErrNotRegistered = errors.New("config: backend not registered")

// Registry maps names to constructor functions for each pluggable kind:
// capture sources, inference providers and compute backends. It is safe for
// concurrent use.
type Registry struct {
	mu        sync.RWMutex
	capture   map[string]func(CaptureConfig) (capture.Source, error)
	inference map[string]func(InferenceConfig) (inference.Provider, error)
	compute   map[string]func(ComputeConfig) (compute.Backend, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		capture:   make(map[string]func(CaptureConfig) (capture.Source, error)),
		inference: make(map[string]func(InferenceConfig) (inference.Provider, error)),
		compute:   make(map[string]func(ComputeConfig) (compute.Backend, error)),
	}
}

// RegisterCapture registers a capture source factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterCapture(name string, factory func(CaptureConfig) (capture.Source, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.capture[name] = factory
}

// RegisterInference registers an inference provider factory under name.
func (r *Registry) RegisterInference(name string, factory func(InferenceConfig) (inference.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inference[name] = factory
}

// RegisterCompute registers a compute backend factory under name.
func (r *Registry) RegisterCompute(name string, factory func(ComputeConfig) (compute.Backend, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.compute[name] = factory
}

// CreateCapture instantiates the capture source named by cfg.Source.
// Returns [ErrNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateCapture(cfg CaptureConfig) (capture.Source, error) {
	r.mu.RLock()
	factory, ok := r.capture[cfg.Source]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: capture/%q", ErrNotRegistered, cfg.Source)
	}
	return factory(cfg)
}

// CreateInference instantiates the inference provider named by cfg.Provider.
func (r *Registry) CreateInference(cfg InferenceConfig) (inference.Provider, error) {
	r.mu.RLock()
	factory, ok := r.inference[cfg.Provider]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: inference/%q", ErrNotRegistered, cfg.Provider)
	}
	return factory(cfg)
}

// CreateCompute instantiates the compute backend registered under name. The
// whole compute section is passed so factories can read shared settings.
func (r *Registry) CreateCompute(name string, cfg ComputeConfig) (compute.Backend, error) {
	r.mu.RLock()
	factory, ok := r.compute[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: compute/%q", ErrNotRegistered, name)
	}
	return factory(cfg)
}

// ComputeNames returns the registered compute backend names, sorted.
func (r *Registry) ComputeNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.compute))
	for n := range r.compute {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}
