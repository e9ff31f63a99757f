// Package config provides the configuration schema, loader, hot-reload watcher
// and backend registry for the biofeedback server.
package config

import (
	"log/slog"
	"time"
)

// LogLevel controls log verbosity for the biofeedback server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// SlogLevel maps l to the matching [slog.Level]. Unknown values map to info.
func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Facial    FacialConfig    `yaml:"facial"`
	Compute   ComputeConfig   `yaml:"compute"`
	Capture   CaptureConfig   `yaml:"capture"`
	Inference InferenceConfig `yaml:"inference"`
	Publish   PublishConfig   `yaml:"publish"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the HTTP server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`

	// LiveInterval is how often the WebSocket feed pushes a vitals snapshot.
	LiveInterval time.Duration `yaml:"live_interval"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// PipelineConfig tunes the pulse pipeline.
type PipelineConfig struct {
	// SamplingRate is the waveform sampling rate in Hz, normally the camera
	// frame rate. Hot-reloadable.
	SamplingRate float64 `yaml:"sampling_rate"`

	// BatchSize is the number of frames per inference batch.
	BatchSize int `yaml:"batch_size"`

	// PollInterval is how long a processing loop waits on an empty buffer.
	PollInterval time.Duration `yaml:"poll_interval"`

	// PeakThresholdRatio is the peak threshold as a fraction of the batch
	// maximum, in (0, 1].
	PeakThresholdRatio float64 `yaml:"peak_threshold_ratio"`

	// HRVWindow limits how many of the most recent RR intervals feed HRV.
	// Zero means unbounded.
	HRVWindow int `yaml:"hrv_window"`

	// RespirationWindow is the number of trailing waveform samples used for
	// the respiratory rate.
	RespirationWindow int `yaml:"respiration_window"`
}

// FacialConfig tunes the facial metric extractor.
type FacialConfig struct {
	// Alpha is the smoothing factor in (0, 1]. Hot-reloadable.
	Alpha float64 `yaml:"alpha"`

	// HistorySize bounds each raw metric history.
	HistorySize int `yaml:"history_size"`

	// MetricsCapacity bounds the facial metrics kept per session.
	MetricsCapacity int `yaml:"metrics_capacity"`
}

// ComputeConfig selects the compute backends.
type ComputeConfig struct {
	// Backend is the preferred backend name (e.g., "accelerated").
	Backend string `yaml:"backend"`

	// Fallback is used when Backend is unavailable or failing. Setting it to
	// the same name as Backend disables failover.
	Fallback string `yaml:"fallback"`

	// CircuitBreaker tunes the per-backend breakers.
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// CircuitBreakerConfig mirrors the resilience breaker settings.
type CircuitBreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
	HalfOpenMax  int           `yaml:"half_open_max"`
}

// CaptureConfig selects and tunes the frame source.
type CaptureConfig struct {
	// Source selects the registered capture source (e.g., "synthetic").
	Source string `yaml:"source"`

	FPS      float64 `yaml:"fps"`
	Width    int     `yaml:"width"`
	Height   int     `yaml:"height"`
	Channels int     `yaml:"channels"`

	// HeartRate and BreathRate drive the synthetic source, per minute.
	HeartRate  float64 `yaml:"heart_rate"`
	BreathRate float64 `yaml:"breath_rate"`

	// Noise is the per-pixel noise amplitude of the synthetic source.
	Noise float64 `yaml:"noise"`

	// Seed seeds the synthetic noise generator.
	Seed uint64 `yaml:"seed"`

	// AutoStart starts a session as soon as the server is up.
	AutoStart bool `yaml:"auto_start"`
}

// InferenceConfig selects the inference provider.
type InferenceConfig struct {
	// Provider selects the registered inference provider (e.g., "greenmean").
	Provider string `yaml:"provider"`

	// Options holds provider-specific values.
	Options map[string]any `yaml:"options"`
}

// PublishConfig configures the NATS vitals publisher.
type PublishConfig struct {
	// NATSURL enables publishing when non-empty (e.g., "nats://localhost:4222").
	NATSURL string `yaml:"nats_url"`

	// Subject is the NATS subject vitals are published on.
	Subject string `yaml:"subject"`

	// Interval is how often a snapshot is published.
	Interval time.Duration `yaml:"interval"`
}

// TelemetryConfig configures OpenTelemetry.
type TelemetryConfig struct {
	// ServiceName is the resource service name.
	ServiceName string `yaml:"service_name"`

	// TraceSampleRatio is the fraction of root traces recorded, in (0, 1].
	// Child spans follow their parent's decision. Default: 1.
	TraceSampleRatio float64 `yaml:"trace_sample_ratio"`
}
