package pulse

import (
	"gonum.org/v1/gonum/stat"

	"github.com/MrWong99/biofeedback/pkg/frame"
)

// normEpsilon keeps the normalised difference finite on black pixels.
const normEpsilon = 1e-7

// Normalize returns the normalised-difference batch consumed by motion
// representation models: for consecutive tensors a and b each value is
// (b - a) / (b + a), and the whole batch is then divided by its standard
// deviation. The first tensor has no predecessor and is all zeros. raw is
// not modified. Tensors whose shape differs from their predecessor are
// treated like the first tensor.
func Normalize(raw *frame.Batch) *frame.Batch {
	out := &frame.Batch{Tensors: make([]*frame.Tensor, raw.Len())}
	var all []float64
	for i, t := range raw.Tensors {
		n := frame.NewTensor(t.Height, t.Width, t.Channels)
		if i > 0 && sameShape(raw.Tensors[i-1], t) {
			prev := raw.Tensors[i-1]
			for j, v := range t.Data {
				d := (float64(v) - float64(prev.Data[j])) / (float64(v) + float64(prev.Data[j]) + normEpsilon)
				n.Data[j] = float32(d)
				all = append(all, d)
			}
		}
		out.Tensors[i] = n
	}

	if len(all) < 2 {
		return out
	}
	sd := stat.StdDev(all, nil)
	if sd == 0 {
		return out
	}
	for _, t := range out.Tensors {
		for j := range t.Data {
			t.Data[j] = float32(float64(t.Data[j]) / sd)
		}
	}
	return out
}

func sameShape(a, b *frame.Tensor) bool {
	return a.Height == b.Height && a.Width == b.Width && a.Channels == b.Channels
}
