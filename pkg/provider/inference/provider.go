// Package inference defines the Provider interface for rPPG inference
// backends.
//
// An inference provider turns one batch of captured frames into waveform
// samples: a blood-volume-pulse signal with one sample per frame. The
// provider receives both the normalised batch (what a neural model consumes)
// and the raw batch (what signal-level methods consume) so that either kind
// of backend can sit behind the same interface.
//
// Failures surface as an error for the whole batch. Callers treat that as
// "no output for this batch" and move on; nothing in the pipeline is fatal.
//
// Implementations must be safe for concurrent use.
package inference

import (
	"context"
	"errors"

	"github.com/MrWong99/biofeedback/pkg/frame"
)

// ErrEmptyBatch is returned when Infer is called with no frames.
var ErrEmptyBatch = errors.New("inference: empty batch")

// Provider is the abstraction over any rPPG inference backend.
type Provider interface {
	// Infer returns waveform samples for the batch, in frame order. normalized
	// and raw must hold the same number of tensors. Returns an error when the
	// batch cannot be processed or ctx is cancelled; partial output is never
	// returned.
	Infer(ctx context.Context, normalized, raw *frame.Batch) ([]float64, error)

	// Name identifies the backend in logs and metrics.
	Name() string
}
