package sensing

import (
	"encoding/binary"
	"math"
	"time"
)

// Frame is one chunk of captured audio.
// Samples are interleaved when Channels > 1 and normalized to [-1, 1].
type Frame struct {
	Samples    []float64 `json:"-"`
	SampleRate int       `json:"sample_rate"`
	Channels   int       `json:"channels"`
	Sequence   uint64    `json:"sequence"`
	Timestamp  time.Time `json:"timestamp"`
}

// Len returns the number of samples in the frame
func (f Frame) Len() int {
	return len(f.Samples)
}

// Empty reports whether the frame carries no samples
func (f Frame) Empty() bool {
	return len(f.Samples) == 0
}

// Duration returns the wall-clock span covered by the frame
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	perChannel := len(f.Samples) / f.Channels
	return time.Duration(perChannel) * time.Second / time.Duration(f.SampleRate)
}

// Clone returns a deep copy that does not alias f.Samples
func (f Frame) Clone() Frame {
	out := f
	out.Samples = make([]float64, len(f.Samples))
	copy(out.Samples, f.Samples)
	return out
}

// DecodePCM16 converts little-endian signed 16-bit PCM to normalized samples.
// A trailing odd byte is ignored.
func DecodePCM16(data []byte, dst []float64) []float64 {
	n := len(data) / 2
	if cap(dst) < n {
		dst = make([]float64, n)
	}
	dst = dst[:n]
	for i := 0; i < n; i++ {
		s := int16(binary.LittleEndian.Uint16(data[i*2:]))
		dst[i] = float64(s) / 32768.0
	}
	return dst
}

// DecodeFloat32 converts little-endian IEEE-754 float32 samples.
func DecodeFloat32(data []byte, dst []float64) []float64 {
	n := len(data) / 4
	if cap(dst) < n {
		dst = make([]float64, n)
	}
	dst = dst[:n]
	for i := 0; i < n; i++ {
		dst[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:])))
	}
	return dst
}

// EncodePCM16 converts normalized samples to little-endian PCM16, clipping
// values outside [-1, 1].
func EncodePCM16(samples []float64) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := Clamp(s, -1, 1) * 32767
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(int16(math.Round(v))))
	}
	return buf
}
