package publish_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/MrWong99/biofeedback/internal/publish"
	"github.com/MrWong99/biofeedback/pkg/hrv"
	"github.com/MrWong99/biofeedback/pkg/types"
)

type message struct {
	subject string
	data    []byte
}

type fakeConn struct {
	mu   sync.Mutex
	msgs []message
	err  error
}

func (c *fakeConn) Publish(subject string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.msgs = append(c.msgs, message{subject, data})
	return nil
}

func (c *fakeConn) messages() []message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]message(nil), c.msgs...)
}

func ptr[T any](v T) *T { return &v }

func TestEncode(t *testing.T) {
	t.Parallel()

	v := types.Vitals{
		SessionID:       "abc",
		Active:          true,
		At:              time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		HeartRate:       ptr(72.0),
		HRV:             &hrv.Metrics{RMSSD: 42, SDNN: 30, PNN50: 12.5},
		RelaxationLevel: "Relaxed",
		Backend:         "local",
	}
	data, err := publish.Encode(v)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	want := map[string]any{
		"session_id":       "abc",
		"active":           true,
		"at":               "2026-01-02T03:04:05Z",
		"heart_rate":       72.0,
		"hrv":              map[string]any{"rmssd": 42.0, "sdnn": 30.0, "pnn50": 12.5},
		"relaxation_level": "Relaxed",
		"backend":          "local",
		"queued_frames":    0.0,
		"waveform_samples": 0.0,
		"rr_intervals":     0.0,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("wire form mismatch (-want +got):\n%s", diff)
	}
}

func TestPublish(t *testing.T) {
	t.Parallel()

	conn := &fakeConn{}
	p := publish.New(conn, "biofeedback.vitals")
	if err := p.Publish(types.Vitals{SessionID: "s1"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	msgs := conn.messages()
	if len(msgs) != 1 || msgs[0].subject != "biofeedback.vitals" {
		t.Fatalf("messages = %+v", msgs)
	}

	conn.err = errors.New("nats: connection closed")
	if err := p.Publish(types.Vitals{}); err == nil {
		t.Error("Publish with failing conn = nil, want error")
	}
}

func TestRun_SkipsInactiveTicks(t *testing.T) {
	t.Parallel()

	conn := &fakeConn{}
	p := publish.New(conn, "vitals", publish.WithInterval(time.Millisecond))

	var (
		mu    sync.Mutex
		calls int
	)
	src := func(context.Context) (types.Vitals, bool) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		return types.Vitals{SessionID: "s1"}, calls%2 == 0
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx, src) }()

	deadline := time.Now().Add(2 * time.Second)
	for len(conn.messages()) < 3 {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for publishes")
		}
		time.Sleep(time.Millisecond)
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Run = %v, want context.Canceled", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if got := len(conn.messages()); got > calls/2 {
		t.Errorf("published %d of %d ticks, want only active ones", got, calls)
	}
}
