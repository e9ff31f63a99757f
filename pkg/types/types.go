// Package types defines the records shared across the biofeedback packages.
//
// These types form the lingua franca between the extractors, the signal
// buffer, the session, and the view transports. Each package keeps its own
// domain types; cross-cutting records live here to avoid circular imports.
package types

import (
	"time"

	"github.com/MrWong99/biofeedback/pkg/hrv"
)

// FacialMetrics is one smoothed facial-relaxation record, produced once per
// processed frame.
type FacialMetrics struct {
	// MuscleTension is the smoothed frame-variance indicator.
	MuscleTension float64 `json:"muscle_tension"`

	// EyeMovement is the smoothed mean inter-frame difference.
	EyeMovement float64 `json:"eye_movement"`

	// BlinkRate is the smoothed inter-frame brightness change.
	BlinkRate float64 `json:"blink_rate"`

	// FacialSymmetry is 1 - |mean(left) - mean(right)|, smoothed. 0.5 is
	// the neutral value reported before two frames have been seen.
	FacialSymmetry float64 `json:"facial_symmetry"`

	// Timestamp is when the record was computed, in Unix milliseconds.
	Timestamp int64 `json:"timestamp"`
}

// Time returns Timestamp as a [time.Time].
func (m FacialMetrics) Time() time.Time {
	return time.UnixMilli(m.Timestamp)
}

// Vitals is a point-in-time view of everything the pipeline has derived
// for the current session. Optional values are nil until enough data has
// arrived.
type Vitals struct {
	SessionID string    `json:"session_id"`
	Active    bool      `json:"active"`
	At        time.Time `json:"at"`

	HeartRate       *float64     `json:"heart_rate,omitempty"`
	HRV             *hrv.Metrics `json:"hrv,omitempty"`
	StressIndex     *float64     `json:"stress_index,omitempty"`
	RespiratoryRate *float64     `json:"respiratory_rate,omitempty"`

	Facial          *FacialMetrics `json:"facial,omitempty"`
	RelaxationScore *int           `json:"relaxation_score,omitempty"`
	RelaxationLevel string         `json:"relaxation_level,omitempty"`

	// Backend names the compute backend that produced HRV and respiration.
	Backend string `json:"backend,omitempty"`

	QueuedFrames    int `json:"queued_frames"`
	WaveformSamples int `json:"waveform_samples"`
	RRIntervals     int `json:"rr_intervals"`
}
