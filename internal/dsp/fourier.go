package dsp

import (
	"fmt"
	"math/cmplx"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"

	"github.com/teslashibe/go-echo/internal/sensing"
)

// Options configures the STFT
type Options struct {
	FFTSize int `mapstructure:"fft_size" json:"fft_size" validate:"gte=16"`
	HopSize int `mapstructure:"hop_size" json:"hop_size" validate:"gt=0"`
}

// DefaultOptions matches the common 2048/512 STFT layout
func DefaultOptions() Options {
	return Options{
		FFTSize: 2048,
		HopSize: 512,
	}
}

// Fourier implements Spectral with gonum's FFT.
// It is safe for concurrent use.
type Fourier struct {
	opts   Options
	window []float64
	ffts   sync.Pool // *fourier.FFT of size opts.FFTSize
}

// NewFourier creates a gonum-backed spectral capability
func NewFourier(opts Options) *Fourier {
	defaults := DefaultOptions()
	if opts.FFTSize < 16 {
		opts.FFTSize = defaults.FFTSize
	}
	if opts.HopSize <= 0 {
		opts.HopSize = opts.FFTSize / 4
	}

	ones := make([]float64, opts.FFTSize)
	for i := range ones {
		ones[i] = 1
	}

	f := &Fourier{
		opts:   opts,
		window: window.Hann(ones),
	}
	f.ffts.New = func() any {
		return fourier.NewFFT(opts.FFTSize)
	}
	return f
}

// Options returns the STFT configuration
func (f *Fourier) Options() Options {
	return f.opts
}

// STFT computes a centred, Hann-windowed short-time Fourier transform.
// The signal is zero-padded by FFTSize/2 on both sides so that frames
// shorter than the FFT still yield at least one full window.
func (f *Fourier) STFT(samples []float64, sampleRate int) (Spectrogram, error) {
	if len(samples) == 0 {
		return Spectrogram{}, fmt.Errorf("stft: %w", sensing.ErrInvalidFrame)
	}

	n := f.opts.FFTSize
	hop := f.opts.HopSize
	pad := n / 2

	padded := make([]float64, len(samples)+2*pad)
	copy(padded[pad:], samples)

	windows := 1 + (len(padded)-n)/hop

	fft := f.ffts.Get().(*fourier.FFT)
	defer f.ffts.Put(fft)

	seg := make([]float64, n)
	coeffs := make([]complex128, n/2+1)

	spectrum := Spectrogram{
		Frames:     make([][]float64, windows),
		FFTSize:    n,
		SampleRate: sampleRate,
	}

	for w := 0; w < windows; w++ {
		start := w * hop
		for i := 0; i < n; i++ {
			seg[i] = padded[start+i] * f.window[i]
		}

		coeffs = fft.Coefficients(coeffs, seg)

		mags := make([]float64, len(coeffs))
		for k, c := range coeffs {
			mags[k] = cmplx.Abs(c)
		}
		spectrum.Frames[w] = mags
	}

	return spectrum, nil
}

// Envelope returns |hilbert(samples)| computed with the FFT method: the
// negative-frequency half of the spectrum is zeroed and the positive half
// doubled before the inverse transform.
func (f *Fourier) Envelope(samples []float64) ([]float64, error) {
	n := len(samples)
	if n == 0 {
		return nil, fmt.Errorf("envelope: %w", sensing.ErrInvalidFrame)
	}

	fft := fourier.NewCmplxFFT(n)

	x := make([]complex128, n)
	for i, s := range samples {
		x[i] = complex(s, 0)
	}

	spectrum := fft.Coefficients(nil, x)

	half := n / 2
	for k := 1; k < n; k++ {
		switch {
		case n%2 == 0 && k == half:
			// Nyquist bin kept as-is
		case k <= (n-1)/2:
			spectrum[k] *= 2
		default:
			spectrum[k] = 0
		}
	}

	analytic := fft.Sequence(nil, spectrum)

	// gonum's inverse transform is unnormalized
	scale := float64(n)
	envelope := make([]float64, n)
	for i, z := range analytic {
		envelope[i] = cmplx.Abs(z) / scale
	}
	return envelope, nil
}

// Available returns true
func (f *Fourier) Available() bool { return true }

// Name returns "fourier"
func (f *Fourier) Name() string { return "fourier" }
