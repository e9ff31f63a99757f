package hrv

import (
	"errors"
	"math"
	"testing"
)

func approx(a, b, tol float64) bool { return math.Abs(a-b) <= tol }

func TestCompute_Reference(t *testing.T) {
	t.Parallel()

	m, err := Compute([]float64{800, 810, 790, 805})
	if err != nil {
		t.Fatalf("Compute error: %v", err)
	}

	wantRMSSD := math.Sqrt((100.0 + 400 + 225) / 3)
	if !approx(m.RMSSD, wantRMSSD, 1e-9) || !approx(m.RMSSD, 15.54, 0.01) {
		t.Errorf("RMSSD = %v, want %v", m.RMSSD, wantRMSSD)
	}

	mean := 801.25
	wantSDNN := math.Sqrt((math.Pow(800-mean, 2) + math.Pow(810-mean, 2) + math.Pow(790-mean, 2) + math.Pow(805-mean, 2)) / 4)
	// Population standard deviation: sqrt(218.75 / 4).
	if !approx(m.SDNN, wantSDNN, 1e-9) || !approx(m.SDNN, 7.395, 0.001) {
		t.Errorf("SDNN = %v, want %v", m.SDNN, wantSDNN)
	}

	if m.PNN50 != 0 {
		t.Errorf("PNN50 = %v, want 0", m.PNN50)
	}
}

func TestCompute_PNN50(t *testing.T) {
	t.Parallel()

	// Differences: 60, 10, 100 -> two of three exceed 50 ms.
	m, err := Compute([]float64{800, 860, 850, 750})
	if err != nil {
		t.Fatalf("Compute error: %v", err)
	}
	if !approx(m.PNN50, 200.0/3, 1e-9) {
		t.Errorf("PNN50 = %v, want %v", m.PNN50, 200.0/3)
	}
	if m.PNN50 < 0 || m.PNN50 > 100 {
		t.Errorf("PNN50 = %v out of [0, 100]", m.PNN50)
	}
}

func TestCompute_ExactlyFiftyIsNotCounted(t *testing.T) {
	t.Parallel()

	m, err := Compute([]float64{800, 850})
	if err != nil {
		t.Fatalf("Compute error: %v", err)
	}
	if m.PNN50 != 0 {
		t.Errorf("PNN50 = %v, want 0 for a difference of exactly 50", m.PNN50)
	}
	if m.RMSSD != 50 {
		t.Errorf("RMSSD = %v, want 50", m.RMSSD)
	}
}

func TestCompute_InsufficientData(t *testing.T) {
	t.Parallel()

	for _, rr := range [][]float64{nil, {}, {800}} {
		m, err := Compute(rr)
		if !errors.Is(err, ErrInsufficientData) {
			t.Errorf("Compute(%v) err = %v, want ErrInsufficientData", rr, err)
		}
		if math.IsNaN(m.RMSSD) || math.IsNaN(m.SDNN) || math.IsNaN(m.PNN50) {
			t.Errorf("Compute(%v) returned NaN: %+v", rr, m)
		}
	}
}

func TestStressIndex(t *testing.T) {
	t.Parallel()

	tests := []struct {
		rmssd float64
		want  float64
	}{
		{0, 100},
		{50, 95},
		{2000, 0},
	}
	for _, tc := range tests {
		if got := StressIndex(Metrics{RMSSD: tc.rmssd}); got != tc.want {
			t.Errorf("StressIndex(rmssd=%v) = %v, want %v", tc.rmssd, got, tc.want)
		}
	}
}

func TestTail(t *testing.T) {
	t.Parallel()

	rr := []float64{1, 2, 3, 4}
	if got := Tail(rr, 2); len(got) != 2 || got[0] != 3 {
		t.Errorf("Tail(rr, 2) = %v, want [3 4]", got)
	}
	if got := Tail(rr, 0); len(got) != 4 {
		t.Errorf("Tail(rr, 0) = %v, want all", got)
	}
}
