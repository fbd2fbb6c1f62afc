package softserial

import (
	"sync/atomic"

	"github.com/pkg/errors"
)

// DefaultQueueSize is the transmit queue capacity used by New and NewTimeslot.
const DefaultQueueSize = 80

var ErrQueueFull = errors.New("queue full")

// Ring is a fixed capacity byte FIFO safe for one producer and one consumer
// running concurrently. Positions run modulo twice the capacity so that a
// full ring can be told apart from an empty one without a lock.
type Ring struct {
	buf  []byte
	head atomic.Uint32 // written by the consumer only
	tail atomic.Uint32 // written by the producer only
}

func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		panic("softserial: ring capacity must be positive")
	}
	return &Ring{
		buf: make([]byte, capacity),
	}
}

func (r *Ring) next(pos uint32) uint32 {
	return (pos + 1) % (2 * uint32(len(r.buf)))
}

func (r *Ring) count(head, tail uint32) uint32 {
	n := 2 * uint32(len(r.buf))
	return (tail + n - head) % n
}

// Push appends b. A full ring is left untouched and ErrQueueFull returned.
func (r *Ring) Push(b byte) error {
	tail := r.tail.Load()
	if r.count(r.head.Load(), tail) == uint32(len(r.buf)) {
		return ErrQueueFull
	}
	r.buf[tail%uint32(len(r.buf))] = b
	r.tail.Store(r.next(tail))
	return nil
}

// Pop removes the oldest byte.
func (r *Ring) Pop() (byte, bool) {
	head := r.head.Load()
	if head == r.tail.Load() {
		return 0, false
	}
	b := r.buf[head%uint32(len(r.buf))]
	r.head.Store(r.next(head))
	return b, true
}

// Peek returns the oldest byte without removing it.
func (r *Ring) Peek() (byte, bool) {
	head := r.head.Load()
	if head == r.tail.Load() {
		return 0, false
	}
	return r.buf[head%uint32(len(r.buf))], true
}

func (r *Ring) Len() int {
	return int(r.count(r.head.Load(), r.tail.Load()))
}

func (r *Ring) Cap() int {
	return len(r.buf)
}

// Reset drops every queued byte. Consumer side only.
func (r *Ring) Reset() {
	r.head.Store(r.tail.Load())
}
