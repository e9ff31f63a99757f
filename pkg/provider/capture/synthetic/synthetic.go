// Package synthetic provides a capture source that renders a simulated face
// crop whose skin tone pulses with a configurable heart rate.
//
// Every frame has a fixed spatial pattern (a slight left/right shading and
// a vertical gradient) on top of a per-channel base tone. The green channel
// is modulated by a pulse waveform, all channels by a slower breathing
// component, and each pixel carries a little seeded noise. The output is
// not physiologically accurate; it exists to drive the pipeline end to end
// without a camera.
//
// Tensors are recycled through a pool: each frame's release callback hands
// its tensor back for reuse.
package synthetic

import (
	"context"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/MrWong99/biofeedback/pkg/frame"
	"github.com/MrWong99/biofeedback/pkg/provider/capture"
)

// Defaults used when the corresponding Config field is zero.
const (
	DefaultFPS        = 30.0
	DefaultSize       = 32
	DefaultChannels   = 3
	DefaultHeartRate  = 72.0
	DefaultBreathRate = 15.0
)

const (
	pulseAmplitude   = 0.01
	breathAmplitude  = 0.002
	defaultNoise     = 0.01
	shadingAmplitude = 0.02
)

// Ensure Source implements capture.Source at compile time.
var _ capture.Source = (*Source)(nil)

// Option is a functional option for Source.
type Option func(*Source)

// WithHeartRate sets the simulated heart rate in beats per minute.
func WithHeartRate(bpm float64) Option {
	return func(s *Source) {
		if bpm > 0 {
			s.heartRate = bpm
		}
	}
}

// WithBreathRate sets the simulated breathing rate in breaths per minute.
func WithBreathRate(bpm float64) Option {
	return func(s *Source) {
		if bpm > 0 {
			s.breathRate = bpm
		}
	}
}

// WithNoise sets the per-pixel noise amplitude. Zero disables noise.
func WithNoise(amplitude float64) Option {
	return func(s *Source) {
		if amplitude >= 0 {
			s.noise = amplitude
		}
	}
}

// WithSeed seeds the noise generator.
func WithSeed(seed uint64) Option {
	return func(s *Source) { s.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)) }
}

// Source renders synthetic frames. Run may only be active once at a time;
// Next is safe for concurrent use.
type Source struct {
	cfg        capture.Config
	heartRate  float64
	breathRate float64
	noise      float64

	mu  sync.Mutex
	rng *rand.Rand
	seq uint64

	pool sync.Pool
}

// New creates a Source. Zero fields in cfg take the package defaults.
func New(cfg capture.Config, opts ...Option) *Source {
	if cfg.FPS <= 0 {
		cfg.FPS = DefaultFPS
	}
	if cfg.Height <= 0 {
		cfg.Height = DefaultSize
	}
	if cfg.Width <= 0 {
		cfg.Width = DefaultSize
	}
	if cfg.Channels <= 0 {
		cfg.Channels = DefaultChannels
	}
	s := &Source{
		cfg:        cfg,
		heartRate:  DefaultHeartRate,
		breathRate: DefaultBreathRate,
		noise:      defaultNoise,
		rng:        rand.New(rand.NewPCG(1, 2)),
	}
	for _, o := range opts {
		o(s)
	}
	s.pool.New = func() any {
		return frame.NewTensor(s.cfg.Height, s.cfg.Width, s.cfg.Channels)
	}
	return s
}

// Name returns "synthetic".
func (s *Source) Name() string { return "synthetic" }

// Config returns the effective capture configuration.
func (s *Source) Config() capture.Config { return s.cfg }

// Next renders the next frame. The caller owns the returned frame; releasing
// it returns the tensor to the pool.
func (s *Source) Next() *frame.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.pool.Get().(*frame.Tensor)
	tsec := float64(s.seq) / s.cfg.FPS
	pulse := pulseAmplitude * pulseShape(math.Mod(tsec*s.heartRate/60, 1))
	breath := breathAmplitude * math.Sin(2*math.Pi*tsec*s.breathRate/60)

	green := 1
	if s.cfg.Channels < 3 {
		green = 0
	}
	for y := range t.Height {
		vertical := float64(y) / float64(t.Height) * shadingAmplitude
		for x := range t.Width {
			side := 0.0
			if x < t.Width/2 {
				side = shadingAmplitude / 2
			}
			for c := range t.Channels {
				v := baseTone(c) + vertical + side + breath
				if c == green {
					v += pulse
				}
				if s.noise > 0 {
					v += s.noise * (2*s.rng.Float64() - 1)
				}
				t.Data[(y*t.Width+x)*t.Channels+c] = float32(v)
			}
		}
	}

	f := frame.New(t, s.seq, s.recycle)
	s.seq++
	return f
}

func (s *Source) recycle(t *frame.Tensor) {
	s.pool.Put(t)
}

// Run pushes one frame per capture interval into sink until ctx is done.
func (s *Source) Run(ctx context.Context, sink capture.Sink) error {
	ticker := time.NewTicker(time.Duration(float64(time.Second) / s.cfg.FPS))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			sink.PushFrame(s.Next())
		}
	}
}

// pulseShape maps a cardiac phase in [0, 1) to a blood-volume pulse with a
// single maximum per cycle.
func pulseShape(phase float64) float64 {
	x := 2 * math.Pi * phase
	return math.Sin(x) + 0.3*math.Sin(2*x)
}

// baseTone is the resting skin tone per channel in [0, 1].
func baseTone(c int) float64 {
	switch c {
	case 0:
		return 0.62
	case 1:
		return 0.45
	case 2:
		return 0.38
	default:
		return 0.5
	}
}
