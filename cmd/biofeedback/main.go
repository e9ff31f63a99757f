// Command biofeedback is the main entry point for the biofeedback server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/biofeedback/internal/app"
	"github.com/MrWong99/biofeedback/internal/config"
	"github.com/MrWong99/biofeedback/internal/observe"
	"github.com/MrWong99/biofeedback/pkg/provider/capture"
	"github.com/MrWong99/biofeedback/pkg/provider/capture/synthetic"
	"github.com/MrWong99/biofeedback/pkg/provider/compute"
	"github.com/MrWong99/biofeedback/pkg/provider/compute/accelerated"
	"github.com/MrWong99/biofeedback/pkg/provider/compute/local"
	"github.com/MrWong99/biofeedback/pkg/provider/inference"
	"github.com/MrWong99/biofeedback/pkg/provider/inference/greenmean"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	watch := flag.Bool("watch", true, "reload hot-reloadable settings when the config file changes")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "biofeedback: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "biofeedback: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(cfg.Server.LogLevel.SlogLevel())
	slog.SetDefault(newLogger(level))

	slog.Info("biofeedback starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	// Must precede app.New so the default metrics bind to the Prometheus
	// meter provider.
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:      cfg.Telemetry.ServiceName,
		ServiceVersion:   version,
		CaptureSource:    cfg.Capture.Source,
		Inference:        cfg.Inference.Provider,
		ComputeBackend:   cfg.Compute.Backend,
		TraceSampleRatio: cfg.Telemetry.TraceSampleRatio,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}

	// ── Backend registry ──────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinBackends(reg)

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	opts := []app.Option{app.WithLevelVar(level)}
	if *watch {
		opts = append(opts, app.WithConfigWatch(*configPath))
	}
	application, err := app.New(ctx, cfg, reg, opts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("server ready, press Ctrl+C to shut down")

	exit := 0
	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		exit = 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		exit = 1
	}
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}
	slog.Info("goodbye")
	return exit
}

// ── Backend wiring ────────────────────────────────────────────────────────────

// builtinBackends maps backend kinds to the implementations that ship with
// the server. Used for startup logging.
var builtinBackends = map[string][]string{
	"capture":   {"synthetic"},
	"inference": {"greenmean"},
	"compute":   {accelerated.Name, local.Name},
}

// registerBuiltinBackends wires all built-in factories into reg.
func registerBuiltinBackends(reg *config.Registry) {
	// ── Capture ───────────────────────────────────────────────────────────────

	reg.RegisterCapture("synthetic", func(cc config.CaptureConfig) (capture.Source, error) {
		opts := []synthetic.Option{
			synthetic.WithHeartRate(cc.HeartRate),
			synthetic.WithBreathRate(cc.BreathRate),
		}
		if cc.Noise > 0 {
			opts = append(opts, synthetic.WithNoise(cc.Noise))
		}
		if cc.Seed != 0 {
			opts = append(opts, synthetic.WithSeed(cc.Seed))
		}
		return synthetic.New(capture.Config{
			FPS:      cc.FPS,
			Height:   cc.Height,
			Width:    cc.Width,
			Channels: cc.Channels,
		}, opts...), nil
	})

	// ── Inference ─────────────────────────────────────────────────────────────

	reg.RegisterInference("greenmean", func(ic config.InferenceConfig) (inference.Provider, error) {
		var opts []greenmean.Option
		if c, ok := optInt(ic.Options, "channel"); ok {
			opts = append(opts, greenmean.WithChannel(c))
		}
		return greenmean.New(opts...), nil
	})

	// ── Compute ───────────────────────────────────────────────────────────────

	reg.RegisterCompute(accelerated.Name, func(config.ComputeConfig) (compute.Backend, error) {
		return accelerated.New(), nil
	})
	reg.RegisterCompute(local.Name, func(config.ComputeConfig) (compute.Backend, error) {
		return local.New(), nil
	})

	for kind, names := range builtinBackends {
		for _, name := range names {
			slog.Debug("registered backend", "kind", kind, "name", name)
		}
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║      Biofeedback: startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Capture", cfg.Capture.Source)
	printRow("Inference", cfg.Inference.Provider)
	printRow("Compute", cfg.Compute.Backend+" / "+cfg.Compute.Fallback)
	printRow("Sampling rate", fmt.Sprintf("%g Hz", cfg.Pipeline.SamplingRate))
	printRow("Batch size", fmt.Sprintf("%d frames", cfg.Pipeline.BatchSize))
	if cfg.Publish.NATSURL != "" {
		printRow("NATS", cfg.Publish.Subject)
	} else {
		printRow("NATS", "(disabled)")
	}
	if cfg.Server.ListenAddr != "" {
		printRow("Listen addr", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(label, value string) {
	if value == "" {
		value = "(not configured)"
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-13s   : %-19s ║\n", label, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level slog.Leveler) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optInt extracts an integer value from an Options map[string]any. YAML
// decodes small integers as int; float64 is accepted for JSON-sourced maps.
func optInt(opts map[string]any, key string) (int, bool) {
	switch v := opts[key].(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}
