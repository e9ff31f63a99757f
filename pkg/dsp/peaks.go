package dsp

import "slices"

// DefaultSamplingRate is the camera frame rate assumed when none is
// configured, in Hz.
const DefaultSamplingRate = 30.0

// DefaultThresholdRatio is the fraction of the batch maximum a sample must
// exceed to count as a peak.
const DefaultThresholdRatio = 0.5

// FindPeaks returns the indices of local maxima in signal that exceed
// ratio*max(signal). Index i qualifies only if 1 <= i <= len-2 and
// signal[i] is strictly greater than both neighbours. The result is strictly
// increasing and never includes the first or last sample.
func FindPeaks(signal []float64, ratio float64) []int {
	if len(signal) < 3 {
		return nil
	}
	threshold := slices.Max(signal) * ratio

	var peaks []int
	for i := 1; i < len(signal)-1; i++ {
		if signal[i] > threshold && signal[i] > signal[i-1] && signal[i] > signal[i+1] {
			peaks = append(peaks, i)
		}
	}
	return peaks
}

// HeartRate converts peak indices into beats per minute:
// 60 / (mean(peak[i]-peak[i-1]) / rate). It reports false when fewer than
// two peaks are given or rate is not positive.
func HeartRate(peaks []int, rate float64) (float64, bool) {
	if len(peaks) < 2 || rate <= 0 {
		return 0, false
	}
	var sum float64
	for i := 1; i < len(peaks); i++ {
		sum += float64(peaks[i] - peaks[i-1])
	}
	avgInterval := sum / float64(len(peaks)-1)
	return 60 / (avgInterval / rate), true
}

// RRIntervals converts consecutive peak distances into milliseconds, in
// temporal order. It returns nil when fewer than two peaks are given or rate
// is not positive.
func RRIntervals(peaks []int, rate float64) []float64 {
	if len(peaks) < 2 || rate <= 0 {
		return nil
	}
	msPerSample := 1000 / rate
	out := make([]float64, 0, len(peaks)-1)
	for i := 1; i < len(peaks); i++ {
		out = append(out, float64(peaks[i]-peaks[i-1])*msPerSample)
	}
	return out
}

// Estimate is the result of running peak detection over one waveform batch.
type Estimate struct {
	// Peaks holds the detected peak indices.
	Peaks []int

	// HeartRate is in beats per minute; valid only when HasHeartRate is true.
	HeartRate    float64
	HasHeartRate bool

	// RRIntervals holds inter-peak durations in milliseconds; empty when
	// fewer than two peaks were found.
	RRIntervals []float64
}

// EstimatePulse runs [FindPeaks], [HeartRate] and [RRIntervals] over one
// batch of waveform samples.
func EstimatePulse(signal []float64, rate, ratio float64) Estimate {
	peaks := FindPeaks(signal, ratio)
	hr, ok := HeartRate(peaks, rate)
	return Estimate{
		Peaks:        peaks,
		HeartRate:    hr,
		HasHeartRate: ok,
		RRIntervals:  RRIntervals(peaks, rate),
	}
}
