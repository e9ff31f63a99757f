package frame

import "math"

// Mean returns the arithmetic mean over all values in t.
func (t *Tensor) Mean() float64 {
	if len(t.Data) == 0 {
		return 0
	}
	var sum float64
	for _, v := range t.Data {
		sum += float64(v)
	}
	return sum / float64(len(t.Data))
}

// Variance returns the population variance over all values in t.
func (t *Tensor) Variance() float64 {
	n := len(t.Data)
	if n == 0 {
		return 0
	}
	mean := t.Mean()
	var acc float64
	for _, v := range t.Data {
		d := float64(v) - mean
		acc += d * d
	}
	return acc / float64(n)
}

// MeanAbsDiff returns mean(|t - other|). The tensors must have the same
// length; if they differ, only the common prefix is compared.
func (t *Tensor) MeanAbsDiff(other *Tensor) float64 {
	n := min(len(t.Data), len(other.Data))
	if n == 0 {
		return 0
	}
	var acc float64
	for i := range n {
		acc += math.Abs(float64(t.Data[i]) - float64(other.Data[i]))
	}
	return acc / float64(n)
}

// HalfMeans splits t into two halves along the channel axis and returns the
// mean of each. Channels [0, C/2) form the left half and [C/2, C) the right.
// Single-channel tensors are split along the width axis instead.
func (t *Tensor) HalfMeans() (left, right float64) {
	if t.Channels >= 2 {
		split := t.Channels / 2
		var ls, rs float64
		var ln, rn int
		for i, v := range t.Data {
			if i%t.Channels < split {
				ls += float64(v)
				ln++
			} else {
				rs += float64(v)
				rn++
			}
		}
		return safeDiv(ls, ln), safeDiv(rs, rn)
	}

	split := t.Width / 2
	var ls, rs float64
	var ln, rn int
	for y := range t.Height {
		for x := range t.Width {
			v := float64(t.Data[y*t.Width+x])
			if x < split {
				ls += v
				ln++
			} else {
				rs += v
				rn++
			}
		}
	}
	return safeDiv(ls, ln), safeDiv(rs, rn)
}

// ChannelMean returns the mean of a single channel.
func (t *Tensor) ChannelMean(c int) float64 {
	if c < 0 || c >= t.Channels || len(t.Data) == 0 {
		return 0
	}
	var sum float64
	var n int
	for i := c; i < len(t.Data); i += t.Channels {
		sum += float64(t.Data[i])
		n++
	}
	return safeDiv(sum, n)
}

func safeDiv(sum float64, n int) float64 {
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}
