package config

import "reflect"

// ConfigDiff describes what changed between two configs.
// Hot-reloadable fields are tracked individually; anything else is listed in
// RestartRequired by section name.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	SamplingRateChanged bool
	NewSamplingRate     float64

	AlphaChanged bool
	NewAlpha     float64

	// RestartRequired lists top-level sections that changed in ways the
	// running server cannot apply (e.g., "capture", "compute").
	RestartRequired []string
}

// Changed reports whether any hot-reloadable field changed.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.SamplingRateChanged || d.AlphaChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Pipeline.SamplingRate != new.Pipeline.SamplingRate {
		d.SamplingRateChanged = true
		d.NewSamplingRate = new.Pipeline.SamplingRate
	}
	if old.Facial.Alpha != new.Facial.Alpha {
		d.AlphaChanged = true
		d.NewAlpha = new.Facial.Alpha
	}

	// Compare the remaining fields with the hot-reloadable ones masked out.
	o, n := *old, *new
	o.Server.LogLevel, n.Server.LogLevel = "", ""
	o.Pipeline.SamplingRate, n.Pipeline.SamplingRate = 0, 0
	o.Facial.Alpha, n.Facial.Alpha = 0, 0

	sections := []struct {
		name     string
		old, new any
	}{
		{"server", o.Server, n.Server},
		{"pipeline", o.Pipeline, n.Pipeline},
		{"facial", o.Facial, n.Facial},
		{"compute", o.Compute, n.Compute},
		{"capture", o.Capture, n.Capture},
		{"inference", o.Inference, n.Inference},
		{"publish", o.Publish, n.Publish},
		{"telemetry", o.Telemetry, n.Telemetry},
	}
	for _, s := range sections {
		if !reflect.DeepEqual(s.old, s.new) {
			d.RestartRequired = append(d.RestartRequired, s.name)
		}
	}

	return d
}
