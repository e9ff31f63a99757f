package resilience

import (
	"errors"
	"sync"
	"testing"
	"time"
)

var errTest = errors.New("test error")

// fakeClock is a manually advanced clock for breaker tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// transitionLog records OnStateChange calls.
type transitionLog struct {
	mu    sync.Mutex
	steps []string
}

func (l *transitionLog) record(_ string, from, to State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.steps = append(l.steps, from.String()+"->"+to.String())
}

func (l *transitionLog) get() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.steps...)
}

func tripBreaker(cb *CircuitBreaker, n int) {
	for range n {
		_ = cb.Execute(func() error { return errTest })
	}
}

func TestNewCircuitBreaker_Defaults(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "local"})
	if cb.maxFailures != 5 {
		t.Errorf("maxFailures = %d, want 5", cb.maxFailures)
	}
	if cb.resetTimeout != 30*time.Second {
		t.Errorf("resetTimeout = %v, want 30s", cb.resetTimeout)
	}
	if cb.halfOpenMax != 3 {
		t.Errorf("halfOpenMax = %d, want 3", cb.halfOpenMax)
	}
	if cb.State() != StateClosed {
		t.Errorf("initial state = %v, want closed", cb.State())
	}
	if cb.Name() != "local" {
		t.Errorf("Name = %q, want local", cb.Name())
	}
}

func TestCircuitBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()

	var log transitionLog
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:          "accelerated",
		MaxFailures:   3,
		ResetTimeout:  time.Hour,
		OnStateChange: log.record,
	})

	tripBreaker(cb, 2)
	if cb.State() != StateClosed {
		t.Fatalf("state = %v after 2 failures, want closed", cb.State())
	}
	tripBreaker(cb, 1)
	if cb.State() != StateOpen {
		t.Fatalf("state = %v after 3 failures, want open", cb.State())
	}

	called := false
	err := cb.Execute(func() error { called = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if called {
		t.Error("fn ran while the breaker was open")
	}
	if got := log.get(); len(got) != 1 || got[0] != "closed->open" {
		t.Errorf("transitions = %v, want [closed->open]", got)
	}
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "local", MaxFailures: 3})

	tripBreaker(cb, 2)
	_ = cb.Execute(func() error { return nil })
	tripBreaker(cb, 2)

	if cb.State() != StateClosed {
		t.Fatalf("state = %v, want closed: a success must reset the counter", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenProbes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		probes    []error
		wantState State
		wantSteps []string
	}{
		{
			name:      "successful probes close",
			probes:    []error{nil, nil},
			wantState: StateClosed,
			wantSteps: []string{"closed->open", "open->half-open", "half-open->closed"},
		},
		{
			name:      "failed probe re-opens",
			probes:    []error{errTest},
			wantState: StateOpen,
			wantSteps: []string{"closed->open", "open->half-open", "half-open->open"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			clock := newFakeClock()
			var log transitionLog
			cb := NewCircuitBreaker(CircuitBreakerConfig{
				Name:          "accelerated",
				MaxFailures:   2,
				ResetTimeout:  time.Minute,
				HalfOpenMax:   2,
				OnStateChange: log.record,
				Now:           clock.Now,
			})

			tripBreaker(cb, 2)
			clock.Advance(59 * time.Second)
			if cb.State() != StateOpen {
				t.Fatalf("state = %v before timeout, want open", cb.State())
			}
			clock.Advance(time.Second)
			if cb.State() != StateHalfOpen {
				t.Fatalf("state = %v after timeout, want half-open", cb.State())
			}

			for i, probe := range tt.probes {
				if err := cb.Execute(func() error { return probe }); !errors.Is(err, probe) {
					t.Fatalf("probe %d: err = %v, want %v", i, err, probe)
				}
			}

			cb.mu.Lock()
			s := cb.state
			cb.mu.Unlock()
			if s != tt.wantState {
				t.Errorf("state = %v, want %v", s, tt.wantState)
			}
			got := log.get()
			if len(got) != len(tt.wantSteps) {
				t.Fatalf("transitions = %v, want %v", got, tt.wantSteps)
			}
			for i := range got {
				if got[i] != tt.wantSteps[i] {
					t.Errorf("transition %d = %q, want %q", i, got[i], tt.wantSteps[i])
				}
			}
		})
	}
}

func TestCircuitBreaker_HalfOpenLimitsProbes(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:         "accelerated",
		MaxFailures:  1,
		ResetTimeout: time.Second,
		HalfOpenMax:  1,
		Now:          clock.Now,
	})
	tripBreaker(cb, 1)
	clock.Advance(time.Second)

	entered := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- cb.Execute(func() error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	if err := cb.Execute(func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("second probe err = %v, want ErrCircuitOpen", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first probe err = %v", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("state = %v, want closed", cb.State())
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:         "local",
		MaxFailures:  2,
		ResetTimeout: time.Hour,
	})
	tripBreaker(cb, 2)
	if cb.State() != StateOpen {
		t.Fatal("expected open")
	}

	cb.Reset()
	if cb.State() != StateClosed {
		t.Fatalf("state = %v, want closed after reset", cb.State())
	}
	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatalf("unexpected error after reset: %v", err)
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()

	tests := []struct {
		state State
		want  string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
