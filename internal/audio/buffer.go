package audio

import (
	"sync"
)

// RingBuffer is a thread-safe ring buffer for audio data. Once full, writes
// overwrite the oldest bytes, so it always holds the most recent audio. The
// recognizer uses it as pre-roll so the start of an utterance detected a
// few frames late is not lost.
type RingBuffer struct {
	buffer []byte
	size   int
	read   int
	count  int
	mu     sync.RWMutex
}

// NewRingBuffer creates a new ring buffer with the specified size
func NewRingBuffer(size int) *RingBuffer {
	if size <= 0 {
		size = 1
	}
	return &RingBuffer{
		buffer: make([]byte, size),
		size:   size,
	}
}

// Write appends data, discarding the oldest bytes when the buffer is full.
// Returns the number of bytes discarded.
func (rb *RingBuffer) Write(data []byte) int {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	dropped := 0
	if len(data) > rb.size {
		dropped = len(data) - rb.size
		data = data[dropped:]
	}

	for _, b := range data {
		write := (rb.read + rb.count) % rb.size
		rb.buffer[write] = b
		if rb.count == rb.size {
			rb.read = (rb.read + 1) % rb.size
			dropped++
		} else {
			rb.count++
		}
	}

	return dropped
}

// Drain returns everything buffered, oldest first, and empties the buffer
func (rb *RingBuffer) Drain() []byte {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	out := make([]byte, rb.count)
	for i := range out {
		out[i] = rb.buffer[(rb.read+i)%rb.size]
	}
	rb.read = 0
	rb.count = 0
	return out
}
