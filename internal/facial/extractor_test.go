package facial

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/MrWong99/biofeedback/internal/buffer"
	"github.com/MrWong99/biofeedback/pkg/frame"
	"github.com/MrWong99/biofeedback/pkg/types"
)

var fixedNow = time.UnixMilli(1_700_000_000_000)

func newTestExtractor(opts ...Option) *Extractor {
	return New(append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)...)
}

// newFrame builds a 1x2x2 frame and counts its release in released.
func newFrame(seq uint64, data []float32, released *atomic.Int32) *frame.Frame {
	t := &frame.Tensor{Data: data, Height: 1, Width: 2, Channels: 2}
	return frame.New(t, seq, func(*frame.Tensor) { released.Add(1) })
}

func TestProcess_FirstFrameUsesNeutralDefaults(t *testing.T) {
	t.Parallel()

	var released atomic.Int32
	e := newTestExtractor()
	got, err := e.Process(context.Background(), newFrame(1, []float32{0, 0, 0, 0}, &released))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	want := types.FacialMetrics{FacialSymmetry: 0.5, Timestamp: fixedNow.UnixMilli()}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("first record mismatch (-want +got):\n%s", diff)
	}
	if released.Load() != 0 {
		t.Error("first frame released while retained as previous")
	}
	if !e.HasPrevious() {
		t.Error("HasPrevious = false after first frame")
	}
}

func TestProcess_SecondFrameSmoothed(t *testing.T) {
	t.Parallel()

	var released atomic.Int32
	e := newTestExtractor()
	ctx := context.Background()
	if _, err := e.Process(ctx, newFrame(1, []float32{0, 0, 0, 0}, &released)); err != nil {
		t.Fatalf("Process(1): %v", err)
	}
	got, err := e.Process(ctx, newFrame(2, []float32{0.2, 0.4, 0.2, 0.4}, &released))
	if err != nil {
		t.Fatalf("Process(2): %v", err)
	}

	// Raw: tension 1.0, eye 3.0, blink 1.5, symmetry 0.8; each smoothed
	// against the first frame's values with alpha 0.3.
	want := types.FacialMetrics{
		MuscleTension:  0.3,
		EyeMovement:    0.9,
		BlinkRate:      0.45,
		FacialSymmetry: 0.59,
		Timestamp:      fixedNow.UnixMilli(),
	}
	if diff := cmp.Diff(want, got, cmpopts.EquateApprox(0, 1e-6)); diff != "" {
		t.Errorf("second record mismatch (-want +got):\n%s", diff)
	}
	if released.Load() != 1 {
		t.Errorf("released = %d, want 1 (replaced previous frame)", released.Load())
	}
}

func TestProcess_ReleasedFrame(t *testing.T) {
	t.Parallel()

	var released atomic.Int32
	f := newFrame(1, []float32{0, 0, 0, 0}, &released)
	f.Release()

	e := newTestExtractor()
	if _, err := e.Process(context.Background(), f); !errors.Is(err, frame.ErrReleased) {
		t.Fatalf("Process(released) err = %v, want ErrReleased", err)
	}
	if e.HistoryLen() != 0 {
		t.Errorf("HistoryLen = %d after rejected frame, want 0", e.HistoryLen())
	}
}

func TestProcess_InvalidShapeReleasesFrame(t *testing.T) {
	t.Parallel()

	var released atomic.Int32
	f := frame.New(&frame.Tensor{Data: []float32{1, 2, 3}, Height: 1, Width: 2, Channels: 2}, 1,
		func(*frame.Tensor) { released.Add(1) })

	e := newTestExtractor()
	if _, err := e.Process(context.Background(), f); err == nil {
		t.Fatal("Process accepted a malformed tensor")
	}
	if released.Load() != 1 {
		t.Errorf("released = %d, want 1", released.Load())
	}
}

func TestProcess_ShapeChangeActsAsFirstFrame(t *testing.T) {
	t.Parallel()

	var released atomic.Int32
	e := newTestExtractor(WithAlpha(1))
	ctx := context.Background()
	if _, err := e.Process(ctx, newFrame(1, []float32{0, 0, 0, 0}, &released)); err != nil {
		t.Fatal(err)
	}
	bigger := frame.New(&frame.Tensor{Data: make([]float32, 8), Height: 2, Width: 2, Channels: 2}, 2, nil)
	got, err := e.Process(ctx, bigger)
	if err != nil {
		t.Fatal(err)
	}
	if got.FacialSymmetry != 0.5 || got.EyeMovement != 0 {
		t.Errorf("got %+v, want neutral defaults after shape change", got)
	}
}

func TestReset_ReleasesPreviousAndClears(t *testing.T) {
	t.Parallel()

	var released atomic.Int32
	e := newTestExtractor()
	ctx := context.Background()
	for i := range uint64(3) {
		if _, err := e.Process(ctx, newFrame(i, []float32{0.1, 0.2, 0.3, 0.4}, &released)); err != nil {
			t.Fatal(err)
		}
	}

	e.Reset()
	e.Reset()

	if released.Load() != 3 {
		t.Errorf("released = %d, want 3", released.Load())
	}
	if e.HasPrevious() {
		t.Error("previous frame retained after Reset")
	}
	if e.HistoryLen() != 0 {
		t.Errorf("HistoryLen = %d after Reset, want 0", e.HistoryLen())
	}
	if e.Processing() {
		t.Error("Processing = true after Reset")
	}
}

func TestHistoryBounded(t *testing.T) {
	t.Parallel()

	e := newTestExtractor(WithHistorySize(5))
	ctx := context.Background()
	for i := range uint64(12) {
		f := frame.New(&frame.Tensor{Data: []float32{0, 1, 0, 1}, Height: 1, Width: 2, Channels: 2}, i, nil)
		if _, err := e.Process(ctx, f); err != nil {
			t.Fatal(err)
		}
	}
	if e.HistoryLen() != 5 {
		t.Errorf("HistoryLen = %d, want 5", e.HistoryLen())
	}
}

func TestRun_ProcessesUntilStopped(t *testing.T) {
	t.Parallel()

	var released atomic.Int32
	src := buffer.NewFrameQueue("facial-test")
	sink := buffer.New()
	for i := range uint64(3) {
		src.Push(newFrame(i, []float32{0.1, 0.2, 0.1, 0.2}, &released))
	}

	e := newTestExtractor()
	done := make(chan error, 1)
	go func() { done <- e.Run(context.Background(), src, sink, 5*time.Millisecond) }()

	deadline := time.Now().Add(2 * time.Second)
	for len(sink.FacialMetrics()) < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("only %d records after 2s", len(sink.FacialMetrics()))
		}
		time.Sleep(5 * time.Millisecond)
	}

	e.Stop()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() = %v, want nil after Stop", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Stop")
	}

	if released.Load() != 3 {
		t.Errorf("released = %d, want 3", released.Load())
	}
	if e.HasPrevious() {
		t.Error("previous frame retained after Run returned")
	}
}

func TestRun_ContextCancel(t *testing.T) {
	t.Parallel()

	e := newTestExtractor()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx, buffer.NewFrameQueue("empty"), buffer.New(), time.Millisecond) }()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run() = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
