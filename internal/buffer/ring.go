package buffer

// Ring is a fixed-capacity FIFO. Once full, each Push evicts exactly the
// oldest element. Ring is not safe for concurrent use on its own.
type Ring[T any] struct {
	data []T
	head int // index of the oldest element
	n    int
}

// NewRing creates a Ring holding at most capacity elements. Non-positive
// capacities default to 1.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Ring[T]{data: make([]T, capacity)}
}

// Push appends v and reports whether an element was evicted to make room.
func (r *Ring[T]) Push(v T) (evicted bool) {
	if r.n == len(r.data) {
		r.data[r.head] = v
		r.head = (r.head + 1) % len(r.data)
		return true
	}
	r.data[(r.head+r.n)%len(r.data)] = v
	r.n++
	return false
}

// Last returns the most recently pushed element.
func (r *Ring[T]) Last() (T, bool) {
	var zero T
	if r.n == 0 {
		return zero, false
	}
	return r.data[(r.head+r.n-1)%len(r.data)], true
}

// Slice returns a copy of the contents in insertion order, oldest first.
func (r *Ring[T]) Slice() []T {
	out := make([]T, r.n)
	for i := range r.n {
		out[i] = r.data[(r.head+i)%len(r.data)]
	}
	return out
}

// Len returns the number of elements held.
func (r *Ring[T]) Len() int { return r.n }

// Cap returns the capacity.
func (r *Ring[T]) Cap() int { return len(r.data) }

// Clear empties the ring.
func (r *Ring[T]) Clear() {
	clear(r.data)
	r.head = 0
	r.n = 0
}
