// Package mock provides a test double for the capture.Source interface.
//
// Source pushes Tensors to the sink in order, one frame per tensor, and
// counts how many of the resulting frames were released. After the last
// tensor it blocks until the context is cancelled unless Exhaust is set.
package mock

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/MrWong99/biofeedback/pkg/frame"
	"github.com/MrWong99/biofeedback/pkg/provider/capture"
)

// Source is a mock implementation of capture.Source.
type Source struct {
	mu sync.Mutex

	// Tensors are pushed in order, each wrapped in a new frame.
	Tensors []*frame.Tensor

	// Exhaust makes Run return nil after the last tensor instead of waiting
	// for cancellation.
	Exhaust bool

	// RunErr, if non-nil, is returned by Run before anything is pushed.
	RunErr error

	// RunCallCount is the number of times Run was called.
	RunCallCount int

	released atomic.Int32
	pushed   atomic.Int32
}

// Run records the call and pushes every tensor to sink.
func (s *Source) Run(ctx context.Context, sink capture.Sink) error {
	s.mu.Lock()
	s.RunCallCount++
	tensors, exhaust, err := s.Tensors, s.Exhaust, s.RunErr
	s.mu.Unlock()

	if err != nil {
		return err
	}
	for i, t := range tensors {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		sink.PushFrame(frame.New(t, uint64(i), func(*frame.Tensor) { s.released.Add(1) }))
		s.pushed.Add(1)
	}
	if exhaust {
		return nil
	}
	<-ctx.Done()
	return ctx.Err()
}

// Name returns "mock".
func (s *Source) Name() string { return "mock" }

// Pushed returns how many frames have been pushed.
func (s *Source) Pushed() int { return int(s.pushed.Load()) }

// Released returns how many pushed frames have been fully released.
func (s *Source) Released() int { return int(s.released.Load()) }

// Ensure Source implements capture.Source at compile time.
var _ capture.Source = (*Source)(nil)
