// Package dsp holds the pure signal-processing routines of the pipeline:
// exponential smoothing, peak detection, heart-rate and RR-interval
// estimation, and respiratory-rate estimation.
//
// Every function is deterministic and free of side effects. Functions that
// need a minimum amount of input report [ErrInsufficientData] (or ok=false)
// instead of returning NaN or panicking; callers are expected to skip the
// derived value for that cycle.
package dsp

import "errors"

// ErrInsufficientData is returned when an input is too short for the
// requested computation (for example fewer than two peaks).
var ErrInsufficientData = errors.New("dsp: insufficient data")

// DefaultAlpha is the smoothing factor used for facial metrics.
const DefaultAlpha = 0.3

// Smooth folds history through an exponential moving average and returns
// the final accumulator. The first element seeds the average; each later
// element x updates it as alpha*x + (1-alpha)*acc. An empty history yields 0.
func Smooth(history []float64, alpha float64) float64 {
	if len(history) == 0 {
		return 0
	}
	acc := history[0]
	for _, x := range history[1:] {
		acc = alpha*x + (1-alpha)*acc
	}
	return acc
}

// SmoothSeries returns every intermediate accumulator of [Smooth], so that
// SmoothSeries(h, a)[len(h)-1] == Smooth(h, a).
func SmoothSeries(history []float64, alpha float64) []float64 {
	if len(history) == 0 {
		return nil
	}
	out := make([]float64, len(history))
	out[0] = history[0]
	for i := 1; i < len(history); i++ {
		out[i] = alpha*history[i] + (1-alpha)*out[i-1]
	}
	return out
}

// Window is a bounded history of the most recent observations of one
// channel. Once full, each Push evicts the oldest value.
type Window struct {
	values []float64
	size   int
}

// NewWindow creates a Window holding at most size values. Non-positive
// sizes default to 30.
func NewWindow(size int) *Window {
	if size <= 0 {
		size = 30
	}
	return &Window{values: make([]float64, 0, size), size: size}
}

// Push appends v, evicting the oldest value when the window is full.
func (w *Window) Push(v float64) {
	if len(w.values) == w.size {
		copy(w.values, w.values[1:])
		w.values = w.values[:w.size-1]
	}
	w.values = append(w.values, v)
}

// Smoothed returns [Smooth] over the current contents.
func (w *Window) Smoothed(alpha float64) float64 {
	return Smooth(w.values, alpha)
}

// Values returns a copy of the current contents, oldest first.
func (w *Window) Values() []float64 {
	out := make([]float64, len(w.values))
	copy(out, w.values)
	return out
}

// Len returns the number of values held.
func (w *Window) Len() int { return len(w.values) }

// Cap returns the maximum number of values held.
func (w *Window) Cap() int { return w.size }

// Reset empties the window.
func (w *Window) Reset() {
	w.values = w.values[:0]
}
