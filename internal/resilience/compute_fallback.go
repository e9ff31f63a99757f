package resilience

import (
	"errors"

	"github.com/MrWong99/biofeedback/pkg/hrv"
	"github.com/MrWong99/biofeedback/pkg/provider/compute"
)

// Operation labels passed to the attempt hook of a [ComputeFallback].
const (
	OpHRV         = "hrv"
	OpRespiration = "respiration"
)

// AttemptFunc observes a single call against one backend. err is nil on
// success.
type AttemptFunc func(backend, op string, err error)

// ComputeFallback implements [compute.Processor] with automatic failover across
// multiple compute handles. Each handle has its own circuit breaker; when the
// primary fails or its breaker is open, the next healthy fallback is tried.
//
// Insufficient-data errors are returned as-is and never trigger failover, unless
// cfg.Permanent overrides the classification.
//
// RR intervals added through [ComputeFallback.AddRRIntervals] reach every
// handle, so a fallback can take over with the same accumulated history.
type ComputeFallback struct {
	group     *FallbackGroup[compute.Processor]
	onAttempt AttemptFunc
}

// Compile-time interface assertion.
var _ compute.Processor = (*ComputeFallback)(nil)

// NewComputeFallback creates a [ComputeFallback] with primary as the preferred
// handle.
func NewComputeFallback(primary compute.Processor, primaryName string, cfg FallbackConfig) *ComputeFallback {
	if cfg.Permanent == nil {
		cfg.Permanent = compute.IsInsufficientData
	}
	return &ComputeFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional compute handle as a fallback.
func (f *ComputeFallback) AddFallback(name string, p compute.Processor) {
	f.group.AddFallback(name, p)
}

// OnAttempt installs fn as the attempt observer. It must be called before the
// fallback is used concurrently.
func (f *ComputeFallback) OnAttempt(fn AttemptFunc) {
	f.onAttempt = fn
}

// Names returns the handle names in failover order.
func (f *ComputeFallback) Names() []string { return f.group.Names() }

// States returns the breaker state per handle name.
func (f *ComputeFallback) States() map[string]State { return f.group.States() }

// Active returns the name of the first handle whose breaker is not open, or
// the last handle when every breaker is open.
func (f *ComputeFallback) Active() string {
	states := f.group.States()
	names := f.group.Names()
	for _, n := range names {
		if states[n] != StateOpen {
			return n
		}
	}
	return names[len(names)-1]
}

// SamplingRate returns the primary handle's rate.
func (f *ComputeFallback) SamplingRate() float64 {
	return f.group.entries[0].value.SamplingRate()
}

// ComputeHRV runs on the first healthy handle.
func (f *ComputeFallback) ComputeHRV(rr []float64) (hrv.Metrics, error) {
	return ExecuteNamed(f.group, func(name string, p compute.Processor) (hrv.Metrics, error) {
		m, err := p.ComputeHRV(rr)
		f.observe(name, OpHRV, err)
		return m, err
	})
}

// ComputeRespiratoryRate runs on the first healthy handle.
func (f *ComputeFallback) ComputeRespiratoryRate(signal []float64, rate float64) (float64, error) {
	return ExecuteNamed(f.group, func(name string, p compute.Processor) (float64, error) {
		bpm, err := p.ComputeRespiratoryRate(signal, rate)
		f.observe(name, OpRespiration, err)
		return bpm, err
	})
}

// HRV computes metrics over the accumulated intervals on the first healthy
// handle.
func (f *ComputeFallback) HRV() (hrv.Metrics, error) {
	return ExecuteNamed(f.group, func(name string, p compute.Processor) (hrv.Metrics, error) {
		m, err := p.HRV()
		f.observe(name, OpHRV, err)
		return m, err
	})
}

// AddRRIntervals appends rr to every handle.
func (f *ComputeFallback) AddRRIntervals(rr ...float64) {
	f.group.Each(func(_ string, p compute.Processor) { p.AddRRIntervals(rr...) })
}

// ClearRRIntervals empties every handle's accumulator.
func (f *ComputeFallback) ClearRRIntervals() {
	f.group.Each(func(_ string, p compute.Processor) { p.ClearRRIntervals() })
}

// Close closes every handle and joins their errors.
func (f *ComputeFallback) Close() error {
	var errs []error
	f.group.Each(func(_ string, p compute.Processor) {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	})
	return errors.Join(errs...)
}

func (f *ComputeFallback) observe(backend, op string, err error) {
	if f.onAttempt != nil {
		f.onAttempt(backend, op, err)
	}
}
