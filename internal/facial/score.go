package facial

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/MrWong99/biofeedback/pkg/types"
)

// ErrNoHistory is returned by [Summarize] when given no records.
var ErrNoHistory = errors.New("facial: no metrics history")

// eyeMovementDelta is the minimum change between consecutive eye-movement
// values counted as one movement by [Summarize].
const eyeMovementDelta = 0.1

// Relaxation levels returned by [Level].
const (
	LevelVeryRelaxed = "Very Relaxed"
	LevelRelaxed     = "Relaxed"
	LevelModerate    = "Moderate"
	LevelTense       = "Tense"
	LevelVeryTense   = "Very Tense"
)

// RelaxationScore maps one record onto 0..100, higher meaning more relaxed.
// Tension, eye movement and blink rate contribute max(0, 1-v); symmetry
// contributes as is. The mean of the four is scaled and rounded.
func RelaxationScore(m types.FacialMetrics) int {
	sum := math.Max(0, 1-m.MuscleTension) +
		math.Max(0, 1-m.EyeMovement) +
		math.Max(0, 1-m.BlinkRate) +
		m.FacialSymmetry
	return int(math.Round(sum / 4 * 100))
}

// Level names the band a relaxation score falls into.
func Level(score int) string {
	switch {
	case score > 80:
		return LevelVeryRelaxed
	case score > 60:
		return LevelRelaxed
	case score > 40:
		return LevelModerate
	case score > 20:
		return LevelTense
	default:
		return LevelVeryTense
	}
}

// Summary aggregates a facial-metrics history.
type Summary struct {
	Samples              int     `json:"samples"`
	AvgTension           float64 `json:"avg_tension"`
	TensionVariability   float64 `json:"tension_variability"`
	AvgEyeMovement       float64 `json:"avg_eye_movement"`
	EyeMovementFrequency float64 `json:"eye_movement_frequency"`
	AvgBlinkRate         float64 `json:"avg_blink_rate"`
	AvgSymmetry          float64 `json:"avg_symmetry"`
}

// Summarize aggregates history, which must be in insertion order. rate is
// the record rate in Hz used to turn the share of significant eye-movement
// changes into a per-second frequency. Tension variability is the
// population standard deviation.
func Summarize(history []types.FacialMetrics, rate float64) (Summary, error) {
	n := len(history)
	if n == 0 {
		return Summary{}, ErrNoHistory
	}

	tension := make([]float64, n)
	eye := make([]float64, n)
	blink := make([]float64, n)
	symmetry := make([]float64, n)
	for i, m := range history {
		tension[i] = m.MuscleTension
		eye[i] = m.EyeMovement
		blink[i] = m.BlinkRate
		symmetry[i] = m.FacialSymmetry
	}

	s := Summary{Samples: n}
	s.AvgTension, s.TensionVariability = stat.PopMeanStdDev(tension, nil)
	s.AvgEyeMovement = stat.Mean(eye, nil)
	s.AvgBlinkRate = stat.Mean(blink, nil)
	s.AvgSymmetry = stat.Mean(symmetry, nil)

	if n > 1 && rate > 0 {
		moves := 0
		for i := 1; i < n; i++ {
			if math.Abs(eye[i]-eye[i-1]) > eyeMovementDelta {
				moves++
			}
		}
		s.EyeMovementFrequency = float64(moves) / float64(n-1) * rate
	}
	return s, nil
}
