package dsp

import "fmt"

// MinRespirationSamples is the shortest signal RespiratoryRate accepts.
const MinRespirationSamples = 100

// Respiratory band edges in Hz. They only size the smoothing window; the
// filter is a centred moving average, not a true band-pass.
const (
	respLowHz  = 0.1
	respHighHz = 0.5
)

// BandpassSmooth applies a centred moving average whose half-width is
// derived from the band edges: int(rate/(low+high)*2), at least 3 and at
// most len(signal)/4. Windows are truncated at the signal edges.
func BandpassSmooth(signal []float64, rate, low, high float64) []float64 {
	w := int(rate / (low + high) * 2)
	w = max(w, 3)
	w = min(w, len(signal)/4)

	// Prefix sums keep this O(n) for long signals.
	prefix := make([]float64, len(signal)+1)
	for i, v := range signal {
		prefix[i+1] = prefix[i] + v
	}

	out := make([]float64, len(signal))
	for i := range signal {
		start := max(i-w, 0)
		end := min(i+w+1, len(signal))
		out[i] = (prefix[end] - prefix[start]) / float64(end-start)
	}
	return out
}

// RespiratoryRate estimates breaths per minute from a pulse waveform
// sampled at rate Hz. The signal is smoothed with [BandpassSmooth], peaks
// are located with [FindPeaks] at [DefaultThresholdRatio], and the mean peak
// spacing is converted to a rate. It returns [ErrInsufficientData] for
// signals shorter than [MinRespirationSamples] or with fewer than two peaks.
func RespiratoryRate(signal []float64, rate float64) (float64, error) {
	if len(signal) < MinRespirationSamples {
		return 0, fmt.Errorf("%w: %d samples, need %d", ErrInsufficientData, len(signal), MinRespirationSamples)
	}
	if rate <= 0 {
		return 0, fmt.Errorf("dsp: invalid sampling rate %v", rate)
	}

	filtered := BandpassSmooth(signal, rate, respLowHz, respHighHz)
	peaks := FindPeaks(filtered, DefaultThresholdRatio)
	if len(peaks) < 2 {
		return 0, fmt.Errorf("%w: %d respiratory peaks", ErrInsufficientData, len(peaks))
	}

	var sum float64
	for i := 1; i < len(peaks); i++ {
		sum += float64(peaks[i]-peaks[i-1]) / rate
	}
	avg := sum / float64(len(peaks)-1)
	return 60 / avg, nil
}
