// Package audiocapture provides microphone capture through an external
// recorder that writes raw PCM to stdout.
package audiocapture

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrUnsupported is returned when no capture program is available.
	ErrUnsupported = errors.New("audiocapture: unsupported platform")
	// ErrRunning is returned when Start is called on a running capturer.
	ErrRunning = errors.New("audiocapture: already running")
	// ErrPermissionDenied is returned when the OS refuses microphone access.
	ErrPermissionDenied = errors.New("audiocapture: microphone permission denied")
	// ErrNoAudio is returned when the capture program starts but writes no
	// audio in time, e.g. while the OS is still asking for permission.
	ErrNoAudio = errors.New("audiocapture: no audio from microphone")
)

// AudioHandler receives mono float32 samples in [-1, 1].
// The slice is only valid for the duration of the call.
type AudioHandler func(samples []float32)

// Capturer is a microphone source.
type Capturer interface {
	// Start begins capture and returns once audio flows or ctx is done.
	// The handler is called from a capture goroutine.
	Start(ctx context.Context, handler AudioHandler) error
	// Stop ends capture. Safe to call multiple times.
	Stop() error
}

// RingBuffer is a thread-safe circular buffer for audio samples.
type RingBuffer struct {
	mu       sync.RWMutex
	data     []float32
	writePos int
	size     int
	filled   int
}

// NewRingBuffer creates a new ring buffer with the given capacity.
func NewRingBuffer(size int) *RingBuffer {
	if size <= 0 {
		size = 1
	}
	return &RingBuffer{
		data: make([]float32, size),
		size: size,
	}
}

// Write adds samples to the buffer, overwriting the oldest.
func (rb *RingBuffer) Write(samples []float32) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	for _, s := range samples {
		rb.data[rb.writePos] = s
		rb.writePos = (rb.writePos + 1) % rb.size
		if rb.filled < rb.size {
			rb.filled++
		}
	}
}

// Read returns the last n samples from the buffer.
func (rb *RingBuffer) Read(n int) []float32 {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	n = min(n, rb.filled)
	if n <= 0 {
		return nil
	}

	result := make([]float32, n)
	start := (rb.writePos - n + rb.size) % rb.size
	for i := range n {
		result[i] = rb.data[(start+i)%rb.size]
	}
	return result
}

// Clear empties the buffer.
func (rb *RingBuffer) Clear() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.writePos = 0
	rb.filled = 0
}

// Len returns the number of samples in the buffer.
func (rb *RingBuffer) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.filled
}
