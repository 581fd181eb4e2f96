package superposition

// ring is a bounded FIFO that drops the oldest entry when full.
// Not safe for concurrent use; the owning Superposition's lock guards it.
type ring[T any] struct {
	buf   []T
	start int
	limit int
}

func newRing[T any](limit int) *ring[T] {
	return &ring[T]{limit: limit}
}

func (r *ring[T]) push(v T) {
	if len(r.buf) < r.limit {
		r.buf = append(r.buf, v)
		return
	}
	r.buf[r.start] = v
	r.start = (r.start + 1) % r.limit
}

// items returns a copy, oldest first.
func (r *ring[T]) items() []T {
	out := make([]T, 0, len(r.buf))
	out = append(out, r.buf[r.start:]...)
	return append(out, r.buf[:r.start]...)
}

func (r *ring[T]) len() int {
	return len(r.buf)
}

// load replaces the contents, keeping only the newest limit entries.
func (r *ring[T]) load(entries []T) {
	if len(entries) > r.limit {
		entries = entries[len(entries)-r.limit:]
	}
	r.buf = append(make([]T, 0, len(entries)), entries...)
	r.start = 0
}
