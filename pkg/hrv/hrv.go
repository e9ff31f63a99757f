// Package hrv computes time-domain heart-rate-variability statistics from an
// ordered sequence of RR intervals in milliseconds.
//
// This is the single implementation of the RMSSD, SDNN and pNN50 formulas;
// every backend and view path derives its numbers from [Compute] or checks
// itself against it.
package hrv

import (
	"errors"
	"math"
)

// ErrInsufficientData is returned when fewer than two RR intervals are
// available.
var ErrInsufficientData = errors.New("hrv: need at least 2 RR intervals")

// NN50Threshold is the successive-difference threshold for pNN50, in ms.
const NN50Threshold = 50.0

// Metrics holds the time-domain HRV statistics.
type Metrics struct {
	// RMSSD is the root mean square of successive differences, in ms.
	RMSSD float64 `json:"rmssd"`

	// SDNN is the population standard deviation of the intervals, in ms.
	SDNN float64 `json:"sdnn"`

	// PNN50 is the percentage of successive differences above 50 ms, in [0, 100].
	PNN50 float64 `json:"pnn50"`
}

// Compute derives [Metrics] from rr. RMSSD and pNN50 share one array of
// absolute successive differences |rr[i+1]-rr[i]|; SDNN uses the
// population variance around the mean interval.
//
// It returns [ErrInsufficientData] when len(rr) < 2.
func Compute(rr []float64) (Metrics, error) {
	if len(rr) < 2 {
		return Metrics{}, ErrInsufficientData
	}

	var (
		sumSq float64
		nn50  int
		sum   float64
	)
	for i, v := range rr {
		sum += v
		if i == 0 {
			continue
		}
		d := math.Abs(v - rr[i-1])
		sumSq += d * d
		if d > NN50Threshold {
			nn50++
		}
	}
	nDiff := float64(len(rr) - 1)
	mean := sum / float64(len(rr))

	var variance float64
	for _, v := range rr {
		dev := v - mean
		variance += dev * dev
	}
	variance /= float64(len(rr))

	return Metrics{
		RMSSD: math.Sqrt(sumSq / nDiff),
		SDNN:  math.Sqrt(variance),
		PNN50: float64(nn50) / nDiff * 100,
	}, nil
}

// StressIndex maps RMSSD onto a coarse 0..100 stress indicator:
// max(0, 100 - rmssd/10). Higher variability means lower stress.
func StressIndex(m Metrics) float64 {
	return math.Max(0, 100-m.RMSSD/10)
}

// Tail returns the last n intervals of rr, or rr itself when n <= 0 or
// len(rr) <= n. The returned slice aliases rr.
func Tail(rr []float64, n int) []float64 {
	if n <= 0 || len(rr) <= n {
		return rr
	}
	return rr[len(rr)-n:]
}
