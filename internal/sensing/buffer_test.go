package sensing

import (
	"sync"
	"testing"
)

func frameOf(seq uint64, samples ...float64) Frame {
	return Frame{Samples: samples, SampleRate: 16000, Channels: 1, Sequence: seq}
}

func TestFrameBuffer_Empty(t *testing.T) {
	b := NewFrameBuffer(4)

	if b.Len() != 0 {
		t.Errorf("expected empty buffer, got %d", b.Len())
	}
	if b.Cap() != 4 {
		t.Errorf("expected capacity 4, got %d", b.Cap())
	}
	if b.Full() || len(b.Frames()) != 0 {
		t.Error("expected no frames")
	}
	if len(b.Samples()) != 0 {
		t.Error("expected no samples")
	}
}

func TestFrameBuffer_Eviction(t *testing.T) {
	b := NewFrameBuffer(3)

	for i := uint64(1); i <= 5; i++ {
		b.Push(frameOf(i, float64(i)))
	}

	if !b.Full() {
		t.Error("expected buffer to be full")
	}

	frames := b.Frames()
	if len(frames) != 3 {
		t.Fatalf("expected 3 frames, got %d", len(frames))
	}

	for i, want := range []uint64{3, 4, 5} {
		if frames[i].Sequence != want {
			t.Errorf("frame %d: expected sequence %d, got %d", i, want, frames[i].Sequence)
		}
	}

	samples := b.Samples()
	if len(samples) != 3 || samples[0] != 3 || samples[2] != 5 {
		t.Errorf("unexpected samples %v", samples)
	}
}

func TestFrameBuffer_CopiesFrames(t *testing.T) {
	b := NewFrameBuffer(2)

	samples := []float64{1, 2, 3}
	b.Push(frameOf(1, samples...))
	samples[0] = 99

	frames := b.Frames()
	if frames[0].Samples[0] != 1 {
		t.Error("buffer must not alias caller-owned samples")
	}

	frames[0].Samples[1] = 42
	if again := b.Frames(); again[0].Samples[1] != 2 {
		t.Error("Frames must return copies")
	}
}

func TestFrameBuffer_Reset(t *testing.T) {
	b := NewFrameBuffer(2)
	b.Push(frameOf(1, 1))
	b.Push(frameOf(2, 2))

	b.Reset()

	if b.Len() != 0 {
		t.Errorf("expected empty buffer after reset, got %d", b.Len())
	}

	b.Push(frameOf(3, 3))
	frames := b.Frames()
	if len(frames) != 1 || frames[0].Sequence != 3 {
		t.Errorf("unexpected frames after reset: %+v", frames)
	}
}

func TestFrameBuffer_MinimumCapacity(t *testing.T) {
	b := NewFrameBuffer(0)
	if b.Cap() != 1 {
		t.Errorf("expected capacity clamped to 1, got %d", b.Cap())
	}
}

func TestFrameBuffer_Concurrent(t *testing.T) {
	b := NewFrameBuffer(8)

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				b.Push(frameOf(uint64(w*100+i), 0.1))
				b.Frames()
				b.Full()
			}
		}(w)
	}
	wg.Wait()

	if b.Len() != 8 {
		t.Errorf("expected full buffer, got %d", b.Len())
	}
}
