// Package compute defines the Backend interface for HRV and respiratory-rate
// compute backends.
//
// A backend is loaded once and then hands out stateful [Processor] handles,
// one per sampling rate. Every backend must produce numerically equivalent
// results for the same inputs; the local backend is the reference
// implementation and the others are checked against it.
//
// A backend that cannot be loaded reports [ErrUnavailable]. That is a
// recoverable condition: callers fall back to another backend.
package compute

import (
	"context"
	"errors"

	"github.com/MrWong99/biofeedback/pkg/dsp"
	"github.com/MrWong99/biofeedback/pkg/hrv"
)

// ErrUnavailable is returned when a backend failed to load or was never
// loaded.
var ErrUnavailable = errors.New("compute: backend unavailable")

// IsInsufficientData reports whether err means the input was too short.
// Such errors describe the data, not the backend, and must not trigger
// failover.
func IsInsufficientData(err error) bool {
	return errors.Is(err, hrv.ErrInsufficientData) || errors.Is(err, dsp.ErrInsufficientData)
}

// Processor is a stateful compute handle bound to one sampling rate.
// Implementations must be safe for concurrent use.
type Processor interface {
	// SamplingRate returns the rate the handle was created for, in Hz.
	SamplingRate() float64

	// ComputeHRV derives HRV metrics from rr (milliseconds). Returns an error
	// wrapping hrv.ErrInsufficientData for fewer than two intervals.
	ComputeHRV(rr []float64) (hrv.Metrics, error)

	// ComputeRespiratoryRate estimates breaths per minute from signal
	// sampled at rate Hz. A non-positive rate means the handle's rate.
	ComputeRespiratoryRate(signal []float64, rate float64) (float64, error)

	// AddRRIntervals appends intervals to the handle's accumulator.
	AddRRIntervals(rr ...float64)

	// ClearRRIntervals empties the accumulator.
	ClearRRIntervals()

	// HRV computes metrics over the accumulated intervals.
	HRV() (hrv.Metrics, error)

	// Close releases the handle. Calls after Close return ErrUnavailable.
	// Closing twice is safe.
	Close() error
}

// Backend is the factory for compute processors.
type Backend interface {
	// Name identifies the backend in logs and metrics.
	Name() string

	// Load prepares the backend. It returns an error wrapping ErrUnavailable
	// when the backend cannot be used. Load is idempotent.
	Load(ctx context.Context) error

	// NewProcessor creates a handle for rate. Returns ErrUnavailable if the
	// backend is not loaded.
	NewProcessor(rate float64) (Processor, error)
}
