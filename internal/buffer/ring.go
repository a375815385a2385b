// Package buffer provides the bounded, most-recent-first collections shared
// between the monitoring worker and its readers.
package buffer

// DefaultSize is used when a ring is created with a non-positive capacity.
const DefaultSize = 1000

// Ring is a fixed-capacity circular buffer. Once full, Push overwrites the
// oldest element. Ring does no locking of its own; the owner serializes access.
type Ring[T any] struct {
	items   []T
	size    int
	head    int // index of the next write
	count   int
	evicted uint64
}

// NewRing creates a Ring with the given capacity.
func NewRing[T any](size int) *Ring[T] {
	if size <= 0 {
		size = DefaultSize
	}
	return &Ring[T]{
		items: make([]T, size),
		size:  size,
	}
}

// Push inserts item as the newest element, evicting the oldest when full.
func (r *Ring[T]) Push(item T) {
	if r.count == r.size {
		r.evicted++
	} else {
		r.count++
	}
	r.items[r.head] = item
	r.head = (r.head + 1) % r.size
}

// Items returns a copy of the contents, newest first.
func (r *Ring[T]) Items() []T {
	return r.Newest(r.count)
}

// Newest returns up to n elements, newest first.
func (r *Ring[T]) Newest(n int) []T {
	if n > r.count {
		n = r.count
	}
	if n <= 0 {
		return []T{}
	}
	out := make([]T, 0, n)
	idx := r.head
	for i := 0; i < n; i++ {
		idx = (idx - 1 + r.size) % r.size
		out = append(out, r.items[idx])
	}
	return out
}

// Drain returns all elements newest first and empties the ring.
func (r *Ring[T]) Drain() []T {
	out := r.Items()
	var zero T
	for i := range r.items {
		r.items[i] = zero
	}
	r.head = 0
	r.count = 0
	return out
}

func (r *Ring[T]) Len() int { return r.count }

func (r *Ring[T]) Cap() int { return r.size }

// Evicted returns how many elements have been overwritten since creation.
func (r *Ring[T]) Evicted() uint64 { return r.evicted }
