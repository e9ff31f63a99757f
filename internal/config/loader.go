package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied by [ApplyDefaults] to zero-valued fields.
const (
	DefaultListenAddr        = ":8080"
	DefaultLiveInterval      = 500 * time.Millisecond
	DefaultSamplingRate      = 30.0
	DefaultBatchSize         = 90
	DefaultPollInterval      = 30 * time.Millisecond
	DefaultThresholdRatio    = 0.5
	DefaultRespirationWindow = 600
	DefaultAlpha             = 0.3
	DefaultHistorySize       = 30
	DefaultMetricsCapacity   = 100
	DefaultComputeBackend    = "accelerated"
	DefaultComputeFallback   = "local"
	DefaultCaptureSource     = "synthetic"
	DefaultInference         = "greenmean"
	DefaultSubject           = "biofeedback.vitals"
	DefaultPublishInterval   = time.Second
	DefaultServiceName       = "biofeedback"
	DefaultTraceSampleRatio  = 1.0
)

// ValidBackendNames lists known names per registry kind.
// Used by [Validate] to warn about unrecognised names.
var ValidBackendNames = map[string][]string{
	"compute":   {"accelerated", "local"},
	"capture":   {"synthetic"},
	"inference": {"greenmean"},
}

// Load reads the YAML configuration file at path and returns a validated [Config]
// with defaults applied. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and validates
// the result. An empty document yields the default configuration.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills zero-valued fields of cfg.
func ApplyDefaults(cfg *Config) {
	setDefault(&cfg.Server.ListenAddr, DefaultListenAddr)
	setDefault(&cfg.Server.LogLevel, LogInfo)
	setDefault(&cfg.Server.LiveInterval, DefaultLiveInterval)

	setDefault(&cfg.Pipeline.SamplingRate, DefaultSamplingRate)
	setDefault(&cfg.Pipeline.BatchSize, DefaultBatchSize)
	setDefault(&cfg.Pipeline.PollInterval, DefaultPollInterval)
	setDefault(&cfg.Pipeline.PeakThresholdRatio, DefaultThresholdRatio)
	setDefault(&cfg.Pipeline.RespirationWindow, DefaultRespirationWindow)

	setDefault(&cfg.Facial.Alpha, DefaultAlpha)
	setDefault(&cfg.Facial.HistorySize, DefaultHistorySize)
	setDefault(&cfg.Facial.MetricsCapacity, DefaultMetricsCapacity)

	setDefault(&cfg.Compute.Backend, DefaultComputeBackend)
	setDefault(&cfg.Compute.Fallback, DefaultComputeFallback)

	setDefault(&cfg.Capture.Source, DefaultCaptureSource)
	setDefault(&cfg.Capture.FPS, cfg.Pipeline.SamplingRate)

	setDefault(&cfg.Inference.Provider, DefaultInference)

	setDefault(&cfg.Publish.Subject, DefaultSubject)
	setDefault(&cfg.Publish.Interval, DefaultPublishInterval)

	setDefault(&cfg.Telemetry.ServiceName, DefaultServiceName)
	setDefault(&cfg.Telemetry.TraceSampleRatio, DefaultTraceSampleRatio)
}

func setDefault[T comparable](field *T, value T) {
	var zero T
	if *field == zero {
		*field = value
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}
	if cfg.Server.LiveInterval < 0 {
		errs = append(errs, fmt.Errorf("server.live_interval %v must not be negative", cfg.Server.LiveInterval))
	}

	// Pipeline
	p := cfg.Pipeline
	if p.SamplingRate < 0 {
		errs = append(errs, fmt.Errorf("pipeline.sampling_rate %v must be positive", p.SamplingRate))
	}
	if p.BatchSize < 0 {
		errs = append(errs, fmt.Errorf("pipeline.batch_size %d must be positive", p.BatchSize))
	}
	if p.PollInterval < 0 {
		errs = append(errs, fmt.Errorf("pipeline.poll_interval %v must not be negative", p.PollInterval))
	}
	if p.PeakThresholdRatio < 0 || p.PeakThresholdRatio > 1 {
		errs = append(errs, fmt.Errorf("pipeline.peak_threshold_ratio %.2f is out of range (0, 1]", p.PeakThresholdRatio))
	}
	if p.HRVWindow < 0 {
		errs = append(errs, fmt.Errorf("pipeline.hrv_window %d must not be negative", p.HRVWindow))
	}
	if p.HRVWindow == 1 {
		errs = append(errs, errors.New("pipeline.hrv_window must be 0 (unbounded) or at least 2"))
	}
	if p.RespirationWindow < 0 {
		errs = append(errs, fmt.Errorf("pipeline.respiration_window %d must not be negative", p.RespirationWindow))
	}
	if p.BatchSize > 0 && p.SamplingRate > 0 && float64(p.BatchSize)/p.SamplingRate < 1 {
		slog.Warn("pipeline.batch_size covers less than one second; heart rate will rarely be detected",
			"batch_size", p.BatchSize, "sampling_rate", p.SamplingRate)
	}

	// Facial
	if cfg.Facial.Alpha < 0 || cfg.Facial.Alpha > 1 {
		errs = append(errs, fmt.Errorf("facial.alpha %.2f is out of range (0, 1]", cfg.Facial.Alpha))
	}
	if cfg.Facial.HistorySize < 0 {
		errs = append(errs, fmt.Errorf("facial.history_size %d must be positive", cfg.Facial.HistorySize))
	}
	if cfg.Facial.MetricsCapacity < 0 {
		errs = append(errs, fmt.Errorf("facial.metrics_capacity %d must be positive", cfg.Facial.MetricsCapacity))
	}

	// Compute
	if cfg.Compute.Backend == "" {
		errs = append(errs, errors.New("compute.backend is required"))
	}
	validateBackendName("compute", cfg.Compute.Backend)
	validateBackendName("compute", cfg.Compute.Fallback)
	cb := cfg.Compute.CircuitBreaker
	if cb.MaxFailures < 0 || cb.HalfOpenMax < 0 || cb.ResetTimeout < 0 {
		errs = append(errs, errors.New("compute.circuit_breaker values must not be negative"))
	}

	// Capture
	validateBackendName("capture", cfg.Capture.Source)
	if cfg.Capture.FPS < 0 {
		errs = append(errs, fmt.Errorf("capture.fps %v must be positive", cfg.Capture.FPS))
	}
	if cfg.Capture.Width < 0 || cfg.Capture.Height < 0 || cfg.Capture.Channels < 0 {
		errs = append(errs, errors.New("capture.width, height and channels must not be negative"))
	}
	if cfg.Capture.FPS > 0 && cfg.Pipeline.SamplingRate > 0 && cfg.Capture.FPS != cfg.Pipeline.SamplingRate {
		slog.Warn("capture.fps differs from pipeline.sampling_rate; heart-rate estimates will be scaled",
			"fps", cfg.Capture.FPS, "sampling_rate", cfg.Pipeline.SamplingRate)
	}

	// Inference
	validateBackendName("inference", cfg.Inference.Provider)

	// Publish
	if cfg.Publish.NATSURL != "" && cfg.Publish.Subject == "" {
		errs = append(errs, errors.New("publish.subject is required when publish.nats_url is set"))
	}
	if cfg.Publish.Interval < 0 {
		errs = append(errs, fmt.Errorf("publish.interval %v must not be negative", cfg.Publish.Interval))
	}

	// Telemetry
	if r := cfg.Telemetry.TraceSampleRatio; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("telemetry.trace_sample_ratio %.2f is out of range (0, 1]", r))
	}

	return errors.Join(errs...)
}

// validateBackendName logs a warning if name is non-empty and not found in
// the [ValidBackendNames] list for the given kind.
func validateBackendName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidBackendNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown backend name, may be a typo or a third-party registration",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
