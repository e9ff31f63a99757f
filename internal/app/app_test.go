package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/biofeedback/internal/app"
	"github.com/MrWong99/biofeedback/internal/config"
	"github.com/MrWong99/biofeedback/pkg/frame"
	"github.com/MrWong99/biofeedback/pkg/provider/capture"
	capturemock "github.com/MrWong99/biofeedback/pkg/provider/capture/mock"
	"github.com/MrWong99/biofeedback/pkg/provider/compute"
	"github.com/MrWong99/biofeedback/pkg/provider/compute/local"
	computemock "github.com/MrWong99/biofeedback/pkg/provider/compute/mock"
	"github.com/MrWong99/biofeedback/pkg/provider/inference"
	inferencemock "github.com/MrWong99/biofeedback/pkg/provider/inference/mock"
)

// ── helpers ──────────────────────────────────────────────────────────────────

// testConfig returns a defaulted config wired to the "mock" registrations.
func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Server.ListenAddr = "127.0.0.1:0"
	cfg.Pipeline.PollInterval = time.Millisecond
	cfg.Capture.Source = "mock"
	cfg.Inference.Provider = "mock"
	cfg.Compute.Backend = "mock"
	cfg.Compute.Fallback = local.Name
	return cfg
}

// testRegistry registers src, a mock inference provider, primary under
// "mock" and the real local backend.
func testRegistry(src capture.Source, primary *computemock.Backend) *config.Registry {
	reg := config.NewRegistry()
	reg.RegisterCapture("mock", func(config.CaptureConfig) (capture.Source, error) { return src, nil })
	reg.RegisterInference("mock", func(config.InferenceConfig) (inference.Provider, error) {
		return &inferencemock.Provider{}, nil
	})
	reg.RegisterCompute("mock", func(config.ComputeConfig) (compute.Backend, error) { return primary, nil })
	reg.RegisterCompute(local.Name, func(config.ComputeConfig) (compute.Backend, error) { return local.New(), nil })
	return reg
}

func newTestApp(t *testing.T, cfg *config.Config, reg *config.Registry, opts ...app.Option) *app.App {
	t.Helper()
	a, err := app.New(context.Background(), cfg, reg, opts...)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Shutdown(ctx)
	})
	return a
}

func get(t *testing.T, h http.Handler, path string) (int, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("GET %s: decode %q: %v", path, rec.Body.String(), err)
	}
	return rec.Code, body
}

type fakeConn struct {
	mu       sync.Mutex
	subjects []string
}

func (c *fakeConn) Publish(subject string, _ []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subjects = append(c.subjects, subject)
	return nil
}

func (c *fakeConn) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subjects)
}

// ── New ──────────────────────────────────────────────────────────────────────

func TestNew_UnknownCapture(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Capture.Source = "webcam"
	_, err := app.New(context.Background(), cfg, testRegistry(&capturemock.Source{}, &computemock.Backend{}))
	if !errors.Is(err, config.ErrNotRegistered) {
		t.Fatalf("New() err = %v, want ErrNotRegistered", err)
	}
}

func TestNew_SessionBuildError(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Inference.Provider = "onnx"
	a := newTestApp(t, cfg, testRegistry(&capturemock.Source{}, &computemock.Backend{}))

	if _, err := a.Sessions().Start(context.Background()); !errors.Is(err, config.ErrNotRegistered) {
		t.Errorf("Start err = %v, want ErrNotRegistered from the builder", err)
	}
}

// ── HTTP surface ─────────────────────────────────────────────────────────────

func TestHandler_HealthAndVitals(t *testing.T) {
	t.Parallel()

	a := newTestApp(t, testConfig(), testRegistry(&capturemock.Source{}, &computemock.Backend{BackendName: "mock"}))
	h := a.Handler()

	if code, body := get(t, h, "/healthz"); code != http.StatusOK || body["status"] != "ok" {
		t.Errorf("/healthz = %d %v", code, body)
	}
	if code, body := get(t, h, "/readyz"); code != http.StatusOK || body["status"] != "ok" {
		t.Errorf("/readyz without session = %d %v", code, body)
	}
	if code, body := get(t, h, "/api/vitals"); code != http.StatusOK || body["active"] != false {
		t.Errorf("/api/vitals = %d %v", code, body)
	}

	if _, err := a.Sessions().Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	code, body := get(t, h, "/api/vitals")
	if code != http.StatusOK || body["active"] != true || body["backend"] != "mock" {
		t.Errorf("/api/vitals with session = %d %v", code, body)
	}
	if code, body := get(t, h, "/readyz"); code != http.StatusOK || body["status"] != "ok" {
		t.Errorf("/readyz on preferred backend = %d %v", code, body)
	}
}

func TestHandler_ReadyzDegradedOnFallback(t *testing.T) {
	t.Parallel()

	primary := &computemock.Backend{BackendName: "mock", LoadErr: compute.ErrUnavailable}
	a := newTestApp(t, testConfig(), testRegistry(&capturemock.Source{}, primary))
	if _, err := a.Sessions().Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	code, body := get(t, a.Handler(), "/readyz")
	if code != http.StatusOK || body["status"] != "degraded" {
		t.Errorf("/readyz = %d %v, want 200 degraded", code, body)
	}
}

func TestHandler_ReadyzFailsWithoutBackend(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Compute.Fallback = "mock"
	primary := &computemock.Backend{BackendName: "mock", LoadErr: compute.ErrUnavailable}
	a := newTestApp(t, cfg, testRegistry(&capturemock.Source{}, primary))
	if _, err := a.Sessions().Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if code, body := get(t, a.Handler(), "/readyz"); code != http.StatusServiceUnavailable {
		t.Errorf("/readyz = %d %v, want 503", code, body)
	}
}

// ── Run ──────────────────────────────────────────────────────────────────────

func TestApp_RunAndShutdown(t *testing.T) {
	t.Parallel()

	src := &capturemock.Source{
		Tensors: []*frame.Tensor{
			{Data: []float32{0.1, 0.2, 0.3, 0.4}, Height: 1, Width: 2, Channels: 2},
			{Data: []float32{0.1, 0.2, 0.3, 0.4}, Height: 1, Width: 2, Channels: 2},
		},
	}
	a := newTestApp(t, testConfig(), testRegistry(src, &computemock.Backend{BackendName: "mock"}))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- a.Run(ctx) }()

	// Without a session every captured frame is released straight away.
	deadline := time.Now().Add(2 * time.Second)
	for src.Released() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("released = %d, want 2", src.Released())
		}
		time.Sleep(time.Millisecond)
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Fatalf("Run() returned unexpected error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return within 5s after context cancellation")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := a.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}
}

func TestApp_AutoStartPublishesVitals(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Capture.AutoStart = true
	cfg.Publish.Interval = 5 * time.Millisecond
	conn := &fakeConn{}
	a := newTestApp(t, cfg, testRegistry(&capturemock.Source{}, &computemock.Backend{BackendName: "mock"}),
		app.WithPublishConn(conn))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- a.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for conn.count() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("published %d snapshots, want at least 2", conn.count())
		}
		time.Sleep(time.Millisecond)
	}
	if !a.Sessions().IsActive() {
		t.Error("session not auto-started")
	}

	cancel()
	if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error: %v", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := a.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}
	if a.Sessions().IsActive() {
		t.Error("session still active after Shutdown")
	}
}
