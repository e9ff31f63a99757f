// Package greenmean provides a model-free rPPG inference provider.
//
// Blood volume changes under the skin modulate how much green light the
// face reflects, so the spatial mean of the green channel over a face crop
// tracks the pulse. For each batch the provider takes that mean per frame
// and removes the batch mean, yielding a zero-centred waveform with one
// sample per frame. It reads the raw batch only; the normalised batch is
// accepted for interface compatibility.
//
// Example usage:
//
//	p := greenmean.New()
//	samples, err := p.Infer(ctx, norm, raw)
package greenmean

import (
	"context"
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/MrWong99/biofeedback/pkg/frame"
	"github.com/MrWong99/biofeedback/pkg/provider/inference"
)

// Ensure Provider implements inference.Provider at compile time.
var _ inference.Provider = (*Provider)(nil)

// Option is a functional option for Provider.
type Option func(*Provider)

// WithChannel selects the channel to average. By default channel 1 is used
// for tensors with at least three channels (RGB order) and channel 0
// otherwise.
func WithChannel(c int) Option {
	return func(p *Provider) { p.channel = c }
}

// Provider implements inference.Provider with the green-channel mean method.
// It is stateless and safe for concurrent use.
type Provider struct {
	channel int // -1 selects per tensor
}

// New returns a Provider.
func New(opts ...Option) *Provider {
	p := &Provider{channel: -1}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Name returns "greenmean".
func (p *Provider) Name() string { return "greenmean" }

// Infer returns one zero-centred sample per tensor in raw.
func (p *Provider) Infer(ctx context.Context, _ *frame.Batch, raw *frame.Batch) ([]float64, error) {
	if raw == nil || raw.Len() == 0 {
		return nil, inference.ErrEmptyBatch
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make([]float64, raw.Len())
	for i, t := range raw.Tensors {
		c := p.channelFor(t)
		if c >= t.Channels {
			return nil, fmt.Errorf("greenmean: tensor %d has %d channels, want > %d", i, t.Channels, c)
		}
		out[i] = t.ChannelMean(c)
	}
	floats.AddConst(-stat.Mean(out, nil), out)
	return out, nil
}

func (p *Provider) channelFor(t *frame.Tensor) int {
	if p.channel >= 0 {
		return p.channel
	}
	if t.Channels >= 3 {
		return 1
	}
	return 0
}
