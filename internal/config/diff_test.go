package config_test

import (
	"slices"
	"testing"

	"github.com/MrWong99/biofeedback/internal/config"
)

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	d := config.Diff(cfg, cfg)
	if d.Changed() {
		t.Errorf("Changed() = true for identical configs: %+v", d)
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("RestartRequired = %v, want none", d.RestartRequired)
	}
}

func TestDiff_HotReloadableFields(t *testing.T) {
	t.Parallel()

	old := config.Default()
	new := config.Default()
	new.Server.LogLevel = config.LogDebug
	new.Pipeline.SamplingRate = 60
	new.Facial.Alpha = 0.5

	d := config.Diff(old, new)
	if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug {
		t.Errorf("log level: %+v", d)
	}
	if !d.SamplingRateChanged || d.NewSamplingRate != 60 {
		t.Errorf("sampling rate: %+v", d)
	}
	if !d.AlphaChanged || d.NewAlpha != 0.5 {
		t.Errorf("alpha: %+v", d)
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("RestartRequired = %v, want none for hot-reloadable changes", d.RestartRequired)
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()

	old := config.Default()
	new := config.Default()
	new.Pipeline.BatchSize = 45
	new.Compute.Backend = "local"
	new.Inference.Options = map[string]any{"channel": 2}

	d := config.Diff(old, new)
	if d.Changed() {
		t.Errorf("Changed() = true, want only restart-required changes: %+v", d)
	}
	want := []string{"pipeline", "compute", "inference"}
	if !slices.Equal(d.RestartRequired, want) {
		t.Errorf("RestartRequired = %v, want %v", d.RestartRequired, want)
	}
}
