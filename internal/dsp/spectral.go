// Package dsp provides the spectral analysis capability used by the
// analyzers. The capability is injected at construction time: Fourier is
// the gonum-backed implementation, Null is the fallback that reports
// sensing.ErrAnalysisUnavailable so callers degrade gracefully.
package dsp

import (
	"math"

	"github.com/teslashibe/go-echo/internal/sensing"
)

// Spectral provides frequency-domain views of a frame
type Spectral interface {
	// STFT returns the magnitude spectrogram of samples
	STFT(samples []float64, sampleRate int) (Spectrogram, error)

	// Envelope returns the magnitude of the analytic signal of samples
	Envelope(samples []float64) ([]float64, error)

	// Available reports whether the capability is backed by a real implementation
	Available() bool

	// Name returns the implementation name
	Name() string
}

// Spectrogram holds STFT magnitudes, one row per analysis window
type Spectrogram struct {
	Frames     [][]float64 // [window][bin], FFTSize/2+1 bins
	FFTSize    int
	SampleRate int
}

// Bins returns the number of frequency bins per window
func (s Spectrogram) Bins() int {
	return s.FFTSize/2 + 1
}

// BinWidth returns the frequency resolution in Hz
func (s Spectrogram) BinWidth() float64 {
	if s.FFTSize == 0 {
		return 0
	}
	return float64(s.SampleRate) / float64(s.FFTSize)
}

// BinFrequency returns the centre frequency of bin k in Hz
func (s Spectrogram) BinFrequency(k int) float64 {
	return float64(k) * s.BinWidth()
}

// MeanMagnitude averages each bin across all analysis windows
func (s Spectrogram) MeanMagnitude() []float64 {
	mean := make([]float64, s.Bins())
	if len(s.Frames) == 0 {
		return mean
	}
	for _, frame := range s.Frames {
		for k := range mean {
			mean[k] += frame[k]
		}
	}
	n := float64(len(s.Frames))
	for k := range mean {
		mean[k] /= n
	}
	return mean
}

// Centroid returns the spectral centroid in Hz of the first analysis
// window, the one centred on the start of the signal. A silent window
// yields zero.
func (s Spectrogram) Centroid() float64 {
	if len(s.Frames) == 0 {
		return 0
	}

	var weighted, sum float64
	for k, mag := range s.Frames[0] {
		weighted += s.BinFrequency(k) * mag
		sum += mag
	}
	if sum == 0 {
		return 0
	}
	return weighted / sum
}

// FirstWindow returns the samples covered by the first centred window of
// an fftSize STFT: the leading fftSize/2 samples.
func FirstWindow(samples []float64, fftSize int) []float64 {
	n := fftSize / 2
	if n <= 0 || n > len(samples) {
		return samples
	}
	return samples[:n]
}

// ZeroCrossingRate returns the fraction of adjacent sample pairs that
// change sign.
func ZeroCrossingRate(samples []float64) float64 {
	if len(samples) < 2 {
		return 0
	}

	crossings := 0
	for i := 1; i < len(samples); i++ {
		if math.Signbit(samples[i]) != math.Signbit(samples[i-1]) {
			crossings++
		}
	}
	return float64(crossings) / float64(len(samples)-1)
}

// Null is the fallback capability used when spectral analysis is disabled
// or unavailable.
type Null struct{}

// STFT always fails with sensing.ErrAnalysisUnavailable
func (Null) STFT([]float64, int) (Spectrogram, error) {
	return Spectrogram{}, sensing.ErrAnalysisUnavailable
}

// Envelope always fails with sensing.ErrAnalysisUnavailable
func (Null) Envelope([]float64) ([]float64, error) {
	return nil, sensing.ErrAnalysisUnavailable
}

// Available returns false
func (Null) Available() bool { return false }

// Name returns "null"
func (Null) Name() string { return "null" }

// New returns the Fourier capability when enabled, Null otherwise
func New(enabled bool, opts Options) Spectral {
	if !enabled {
		return Null{}
	}
	return NewFourier(opts)
}

var (
	_ Spectral = Null{}
	_ Spectral = (*Fourier)(nil)
)
