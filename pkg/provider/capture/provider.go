// Package capture defines the Source interface for frame producers.
//
// A capture source stands in for the camera: it produces face-crop tensors
// at its native frame rate and hands each one, as an owned [frame.Frame],
// to a [Sink]. There is no backpressure; if the consumer falls behind,
// frames queue up downstream.
//
// Implementations must be safe for concurrent use.
package capture

import (
	"context"

	"github.com/MrWong99/biofeedback/pkg/frame"
)

// Sink receives captured frames. PushFrame takes ownership of f and must
// not block for longer than it takes to enqueue it.
type Sink interface {
	PushFrame(f *frame.Frame)
}

// Config describes the tensors a Source produces.
type Config struct {
	// FPS is the capture rate in frames per second.
	FPS float64

	// Height, Width and Channels give the tensor shape.
	Height   int
	Width    int
	Channels int
}

// Source is the abstraction over any frame producer.
type Source interface {
	// Run produces frames into sink until ctx is cancelled or the source is
	// exhausted. It returns nil when the source ends on its own and ctx.Err()
	// on cancellation.
	Run(ctx context.Context, sink Sink) error

	// Name identifies the source in logs.
	Name() string
}
