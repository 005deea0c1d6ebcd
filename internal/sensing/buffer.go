package sensing

import "sync"

// FrameBuffer is a fixed-capacity rolling window over recent frames.
// Pushing into a full buffer evicts the oldest frame. It is safe for
// concurrent use.
type FrameBuffer struct {
	mu     sync.RWMutex
	frames []Frame
	head   int // index of the oldest frame
	size   int
}

// NewFrameBuffer creates a buffer holding up to capacity frames
func NewFrameBuffer(capacity int) *FrameBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &FrameBuffer{
		frames: make([]Frame, capacity),
	}
}

// Push stores a copy of frame, evicting the oldest one when full
func (b *FrameBuffer) Push(frame Frame) {
	b.mu.Lock()
	defer b.mu.Unlock()

	frame = frame.Clone()
	capacity := len(b.frames)

	if b.size < capacity {
		b.frames[(b.head+b.size)%capacity] = frame
		b.size++
		return
	}

	b.frames[b.head] = frame
	b.head = (b.head + 1) % capacity
}

// Len returns the number of buffered frames
func (b *FrameBuffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

// Cap returns the buffer capacity
func (b *FrameBuffer) Cap() int {
	return len(b.frames)
}

// Full reports whether the buffer is at capacity
func (b *FrameBuffer) Full() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size == len(b.frames)
}

// Frames returns copies of the buffered frames, oldest first
func (b *FrameBuffer) Frames() []Frame {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Frame, 0, b.size)
	for i := 0; i < b.size; i++ {
		out = append(out, b.frames[(b.head+i)%len(b.frames)].Clone())
	}
	return out
}

// Samples returns all buffered samples concatenated, oldest first
func (b *FrameBuffer) Samples() []float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()

	total := 0
	for i := 0; i < b.size; i++ {
		total += len(b.frames[(b.head+i)%len(b.frames)].Samples)
	}

	out := make([]float64, 0, total)
	for i := 0; i < b.size; i++ {
		out = append(out, b.frames[(b.head+i)%len(b.frames)].Samples...)
	}
	return out
}

// Reset drops all buffered frames
func (b *FrameBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i := range b.frames {
		b.frames[i] = Frame{}
	}
	b.head = 0
	b.size = 0
}
