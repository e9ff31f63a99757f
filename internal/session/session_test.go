package session_test

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/biofeedback/internal/session"
	"github.com/MrWong99/biofeedback/pkg/frame"
	"github.com/MrWong99/biofeedback/pkg/provider/compute"
	"github.com/MrWong99/biofeedback/pkg/provider/compute/accelerated"
	"github.com/MrWong99/biofeedback/pkg/provider/compute/local"
	inferencemock "github.com/MrWong99/biofeedback/pkg/provider/inference/mock"
)

// ── helpers ──────────────────────────────────────────────────────────────────

// referenceWave has peaks at indices 2 and 6: one RR interval of 4 samples
// (133.3 ms at 30 Hz) and a heart rate of 450 bpm per batch.
var referenceWave = []float64{0, 1, 5, 1, 0, 5, 9, 5, 0}

func testConfig() session.Config {
	return session.Config{
		SamplingRate: 30,
		BatchSize:    3,
		PollInterval: time.Millisecond,
		Alpha:        0.3,
	}
}

func newTestSession(t *testing.T, primary, fallback compute.Backend) *session.Session {
	t.Helper()
	inf := &inferencemock.Provider{Waveform: referenceWave}
	s := session.New(testConfig(), inf, primary, fallback, session.WithID("test-session"))
	t.Cleanup(func() { _, _ = s.Stop(context.Background()) })
	return s
}

func newFrame(seq uint64, released *atomic.Int32) *frame.Frame {
	t := &frame.Tensor{Data: []float32{0.2, 0.4, 0.3, 0.5}, Height: 1, Width: 2, Channels: 2}
	return frame.New(t, seq, func(*frame.Tensor) { released.Add(1) })
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

// ── Session ──────────────────────────────────────────────────────────────────

func TestSession_PipelineProducesVitals(t *testing.T) {
	t.Parallel()

	var released atomic.Int32
	s := newTestSession(t, local.New(), nil)
	ctx := context.Background()

	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	for i := range uint64(6) {
		s.PushFrame(newFrame(i, &released))
	}

	waitFor(t, "two RR intervals and six facial records", func() bool {
		_, rr, _, fm := s.Buffer().Counts()
		return rr == 2 && fm == 6
	})

	v := s.Snapshot(ctx)
	if !v.Active || v.SessionID != "test-session" {
		t.Errorf("snapshot header = %+v", v)
	}
	if v.Backend != local.Name {
		t.Errorf("Backend = %q, want %q", v.Backend, local.Name)
	}
	if v.HeartRate == nil || math.Abs(*v.HeartRate-450) > 1e-9 {
		t.Errorf("HeartRate = %v, want 450", v.HeartRate)
	}
	if v.HRV == nil {
		t.Fatal("HRV = nil, want metrics from two equal intervals")
	}
	if v.HRV.RMSSD != 0 || v.HRV.SDNN != 0 || v.HRV.PNN50 != 0 {
		t.Errorf("HRV = %+v, want all zero for identical intervals", *v.HRV)
	}
	if v.StressIndex == nil || *v.StressIndex != 100 {
		t.Errorf("StressIndex = %v, want 100", v.StressIndex)
	}
	if v.RespiratoryRate != nil {
		t.Errorf("RespiratoryRate = %v, want nil with only 18 samples", *v.RespiratoryRate)
	}
	if v.Facial == nil || v.RelaxationScore == nil || v.RelaxationLevel == "" {
		t.Errorf("facial view missing: %+v", v)
	}
	if v.WaveformSamples != 18 || v.RRIntervals != 2 {
		t.Errorf("depths = %d samples / %d RR, want 18 / 2", v.WaveformSamples, v.RRIntervals)
	}

	if _, err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if got := released.Load(); got != 6 {
		t.Errorf("released = %d, want every frame released exactly once", got)
	}
	if s.Running() {
		t.Error("Running = true after Stop")
	}
	if w, rr, hr, fm := s.Buffer().Counts(); w+rr+hr+fm != 0 {
		t.Errorf("counts after Stop = %d/%d/%d/%d, want all zero", w, rr, hr, fm)
	}
}

func TestSession_HRVKeepsLastValue(t *testing.T) {
	t.Parallel()

	s := newTestSession(t, local.New(), nil)
	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if v := s.Snapshot(ctx); v.HRV != nil || v.StressIndex != nil {
		t.Errorf("HRV before data = %+v, want unknown", v.HRV)
	}

	s.Buffer().AppendRRInterval(800)
	s.Buffer().AppendRRInterval(900)
	first := s.Snapshot(ctx)
	if first.HRV == nil || first.HRV.RMSSD != 100 {
		t.Fatalf("HRV = %+v, want RMSSD 100", first.HRV)
	}

	s.Buffer().Reset()
	s.Buffer().AppendRRInterval(850)
	second := s.Snapshot(ctx)
	if second.HRV == nil || second.HRV.RMSSD != 100 {
		t.Errorf("HRV with one interval = %+v, want last value kept", second.HRV)
	}
}

func TestSession_StopReleasesQueuedFrames(t *testing.T) {
	t.Parallel()

	var released atomic.Int32
	s := newTestSession(t, local.New(), nil)
	for i := range uint64(5) {
		s.PushFrame(newFrame(i, &released))
	}
	if q := s.Buffer().QueuedFrames(); q != 5 {
		t.Fatalf("QueuedFrames = %d, want 5", q)
	}

	n, err := s.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	// Each frame has one handle in the pulse queue and one in the facial queue.
	if n != 10 {
		t.Errorf("Stop released %d handles, want 10", n)
	}
	if got := released.Load(); got != 5 {
		t.Errorf("released = %d, want 5", got)
	}

	n, err = s.Stop(context.Background())
	if n != 0 || err != nil {
		t.Errorf("second Stop = (%d, %v), want (0, nil)", n, err)
	}
}

func TestSession_PushAfterStopReleases(t *testing.T) {
	t.Parallel()

	var released atomic.Int32
	s := newTestSession(t, local.New(), nil)
	if _, err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	s.PushFrame(newFrame(0, &released))
	if released.Load() != 1 {
		t.Errorf("released = %d, want frame released on push after Stop", released.Load())
	}
	if q := s.Buffer().QueuedFrames(); q != 0 {
		t.Errorf("QueuedFrames = %d, want 0", q)
	}
}

func TestSession_StartErrors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestSession(t, local.New(), nil)
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Start(ctx); !errors.Is(err, session.ErrAlreadyStarted) {
		t.Errorf("second Start err = %v, want ErrAlreadyStarted", err)
	}
	if _, err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	stopped := newTestSession(t, local.New(), nil)
	if _, err := stopped.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := stopped.Start(ctx); !errors.Is(err, session.ErrStopped) {
		t.Errorf("Start after Stop err = %v, want ErrStopped", err)
	}
}

func TestSession_UnavailablePrimaryFallsBack(t *testing.T) {
	t.Parallel()

	primary := accelerated.New(accelerated.WithLoadHook(func(context.Context) error {
		return errors.New("no device")
	}))
	s := newTestSession(t, primary, local.New())
	ctx := context.Background()

	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start = %v, want nil on recoverable unavailability", err)
	}
	if got := s.Bridge().Active(); got != local.Name {
		t.Errorf("Active = %q, want %q", got, local.Name)
	}
}

func TestSession_NoBackendStillRuns(t *testing.T) {
	t.Parallel()

	primary := accelerated.New(accelerated.WithLoadHook(func(context.Context) error {
		return errors.New("no device")
	}))
	s := newTestSession(t, primary, nil)
	ctx := context.Background()

	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	s.Buffer().AppendRRInterval(800)
	s.Buffer().AppendRRInterval(900)

	v := s.Snapshot(ctx)
	if v.HRV != nil || v.Backend != "" {
		t.Errorf("snapshot = %+v, want HRV unknown and no backend", v)
	}
	if !v.Active {
		t.Error("Active = false, want session running without a backend")
	}
}

func TestSession_SetSamplingRate(t *testing.T) {
	t.Parallel()

	s := newTestSession(t, local.New(), nil)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := s.SetSamplingRate(0); err == nil {
		t.Error("SetSamplingRate(0) = nil, want error")
	}
	if err := s.SetSamplingRate(60); err != nil {
		t.Fatalf("SetSamplingRate(60): %v", err)
	}
	if got := s.Bridge().SamplingRate(); got != 60 {
		t.Errorf("bridge rate = %v, want 60", got)
	}
}

func TestSession_FacialSummary(t *testing.T) {
	t.Parallel()

	var released atomic.Int32
	s := newTestSession(t, local.New(), nil)
	if _, err := s.FacialSummary(); err == nil {
		t.Error("FacialSummary with no history = nil error")
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	s.PushFrame(newFrame(0, &released))
	s.PushFrame(newFrame(1, &released))
	waitFor(t, "two facial records", func() bool { return len(s.Facial()) == 2 })

	sum, err := s.FacialSummary()
	if err != nil {
		t.Fatalf("FacialSummary: %v", err)
	}
	if sum.Samples != 2 {
		t.Errorf("Samples = %d, want 2", sum.Samples)
	}
}
