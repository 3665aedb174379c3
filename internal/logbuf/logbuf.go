// Package logbuf keeps the most recent worker output lines in a fixed-size
// ring.
package logbuf

import "sync"

// DefaultCapacity is used when New is given a non-positive size.
const DefaultCapacity = 1000

// Ring is a thread-safe circular buffer of lines. Once full, each write
// evicts the oldest line.
type Ring struct {
	mu    sync.RWMutex
	lines []string
	head  int // oldest line
	count int
	total int64
}

// New returns a Ring holding at most capacity lines.
func New(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Ring{lines: make([]string, capacity)}
}

// Append adds line, evicting the oldest when the ring is full.
func (r *Ring) Append(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	size := len(r.lines)
	if r.count < size {
		r.lines[(r.head+r.count)%size] = line
		r.count++
	} else {
		r.lines[r.head] = line
		r.head = (r.head + 1) % size
	}
	r.total++
}

// Last returns up to n of the newest lines, oldest first. n <= 0 returns
// every buffered line.
func (r *Ring) Last(n int) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if n <= 0 || n > r.count {
		n = r.count
	}
	out := make([]string, n)
	start := r.count - n
	for i := range n {
		out[i] = r.lines[(r.head+start+i)%len(r.lines)]
	}
	return out
}

// All returns every buffered line, oldest first.
func (r *Ring) All() []string {
	return r.Last(0)
}

// Len returns the number of buffered lines.
func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}

// Cap returns the ring capacity.
func (r *Ring) Cap() int {
	return len(r.lines)
}

// Total returns how many lines were ever appended, including evicted ones.
func (r *Ring) Total() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.total
}
