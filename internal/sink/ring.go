package sink

import (
	"sync"

	"github.com/nerrad567/airsense/internal/telemetry"
)

// Ring keeps the most recent readings in memory.
type Ring struct {
	mu    sync.RWMutex
	buf   []telemetry.Reading
	next  int
	count int
}

// NewRing returns a ring holding up to capacity readings (at least 1).
func NewRing(capacity int) *Ring {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring{buf: make([]telemetry.Reading, capacity)}
}

// Consume implements Sink. The oldest reading is overwritten when full.
func (r *Ring) Consume(reading telemetry.Reading) {
	r.mu.Lock()
	r.buf[r.next] = reading
	r.next = (r.next + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
	}
	r.mu.Unlock()
}

// Latest returns the newest reading, or false when empty.
func (r *Ring) Latest() (telemetry.Reading, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.count == 0 {
		return telemetry.Reading{}, false
	}
	return r.buf[(r.next-1+len(r.buf))%len(r.buf)], true
}

// Recent returns up to n readings, oldest first. n <= 0 returns everything.
func (r *Ring) Recent(n int) []telemetry.Reading {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if n <= 0 || n > r.count {
		n = r.count
	}
	out := make([]telemetry.Reading, n)
	start := (r.next - n + len(r.buf)) % len(r.buf)
	for i := range n {
		out[i] = r.buf[(start+i)%len(r.buf)]
	}
	return out
}

// Len returns the number of readings held.
func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}

// Cap returns the ring capacity.
func (r *Ring) Cap() int {
	return len(r.buf)
}
