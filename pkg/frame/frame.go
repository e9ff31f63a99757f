// Package frame defines the pixel tensor that flows from capture into the
// analysis pipeline, and the owned [Frame] handle that guarantees the
// tensor's backing resource is released exactly once.
//
// Ownership is single-owner and moves with the handle: whoever holds a
// *Frame is responsible for calling [Frame.Release]. Queues hand frames out
// on pop and forget them, so a popped frame can never be released by the
// queue as well. When two consumers need the same pixels, [Frame.Share]
// returns a second handle; the underlying resource is freed once the last
// handle is released.
package frame

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// ErrReleased is returned when a frame's tensor is accessed through a handle
// that has already been released.
var ErrReleased = errors.New("frame: already released")

// Tensor is a dense height × width × channels block of pixel values stored
// in row-major order (channel fastest).
type Tensor struct {
	Data     []float32
	Height   int
	Width    int
	Channels int
}

// NewTensor allocates a zeroed tensor of the given shape.
func NewTensor(height, width, channels int) *Tensor {
	return &Tensor{
		Data:     make([]float32, height*width*channels),
		Height:   height,
		Width:    width,
		Channels: channels,
	}
}

// Len returns the number of values in the tensor.
func (t *Tensor) Len() int { return len(t.Data) }

// Validate reports whether the shape matches the data length.
func (t *Tensor) Validate() error {
	if t.Height <= 0 || t.Width <= 0 || t.Channels <= 0 {
		return fmt.Errorf("frame: invalid shape %dx%dx%d", t.Height, t.Width, t.Channels)
	}
	if want := t.Height * t.Width * t.Channels; len(t.Data) != want {
		return fmt.Errorf("frame: data length %d does not match shape %dx%dx%d", len(t.Data), t.Height, t.Width, t.Channels)
	}
	return nil
}

// At returns the value at (y, x, c).
func (t *Tensor) At(y, x, c int) float32 {
	return t.Data[(y*t.Width+x)*t.Channels+c]
}

// resource is the reference-counted backing store shared by every handle
// produced from one captured frame.
type resource struct {
	tensor  *Tensor
	refs    atomic.Int32
	release func(*Tensor)
}

func (r *resource) unref() {
	if r.refs.Add(-1) == 0 && r.release != nil {
		r.release(r.tensor)
	}
}

// Frame is an owned handle to a captured tensor. The zero value is not
// usable; construct frames with [New].
//
// Frame is safe for concurrent use, although by convention only one
// goroutine owns a handle at a time.
type Frame struct {
	res  atomic.Pointer[resource]
	once sync.Once
	seq  uint64
}

// New wraps t in an owned handle. release, if non-nil, is invoked exactly
// once when the last handle referring to t is released (for example to
// return the buffer to a pool).
func New(t *Tensor, seq uint64, release func(*Tensor)) *Frame {
	r := &resource{tensor: t, release: release}
	r.refs.Store(1)
	f := &Frame{seq: seq}
	f.res.Store(r)
	return f
}

// Seq returns the capture sequence number assigned by the producer.
func (f *Frame) Seq() uint64 { return f.seq }

// Tensor returns the pixel tensor, or [ErrReleased] if this handle has been
// released.
func (f *Frame) Tensor() (*Tensor, error) {
	r := f.res.Load()
	if r == nil {
		return nil, ErrReleased
	}
	return r.tensor, nil
}

// Share returns a new handle to the same tensor. Both handles must be
// released independently.
func (f *Frame) Share() (*Frame, error) {
	r := f.res.Load()
	if r == nil {
		return nil, ErrReleased
	}
	r.refs.Add(1)
	nf := &Frame{seq: f.seq}
	nf.res.Store(r)
	return nf, nil
}

// Release drops this handle's reference. It reports whether this call
// performed the release; subsequent calls are no-ops that return false.
func (f *Frame) Release() bool {
	released := false
	f.once.Do(func() {
		if r := f.res.Swap(nil); r != nil {
			r.unref()
			released = true
		}
	})
	return released
}

// Released reports whether this handle has been released.
func (f *Frame) Released() bool {
	return f.res.Load() == nil
}
