package dsp

import (
	"errors"
	"math"
	"testing"

	"github.com/teslashibe/go-echo/internal/sensing"
)

func sine(freq float64, sampleRate, n int, amplitude float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = amplitude * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate))
	}
	return out
}

func argmax(values []float64) int {
	best := 0
	for i, v := range values {
		if v > values[best] {
			best = i
		}
	}
	return best
}

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()

	if opts.FFTSize != 2048 {
		t.Errorf("expected fft_size 2048, got %d", opts.FFTSize)
	}
	if opts.HopSize != 512 {
		t.Errorf("expected hop_size 512, got %d", opts.HopSize)
	}
}

func TestNewFourier_FillsDefaults(t *testing.T) {
	f := NewFourier(Options{})

	if f.Options().FFTSize != 2048 {
		t.Errorf("expected default fft size, got %d", f.Options().FFTSize)
	}
	if f.Options().HopSize != 512 {
		t.Errorf("expected hop of fft/4, got %d", f.Options().HopSize)
	}
}

func TestFourier_STFT_DominantFrequency(t *testing.T) {
	tests := []struct {
		name       string
		freq       float64
		sampleRate int
		n          int
	}{
		{"1kHz at 16k", 1000, 16000, 1024},
		{"440Hz at 16k", 440, 16000, 1024},
		{"3kHz at 48k", 3000, 48000, 4096},
	}

	f := NewFourier(DefaultOptions())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spectrum, err := f.STFT(sine(tt.freq, tt.sampleRate, tt.n, 0.5), tt.sampleRate)
			if err != nil {
				t.Fatalf("STFT() error = %v", err)
			}

			if len(spectrum.Frames) == 0 {
				t.Fatal("expected at least one window")
			}
			if len(spectrum.Frames[0]) != spectrum.Bins() {
				t.Errorf("expected %d bins, got %d", spectrum.Bins(), len(spectrum.Frames[0]))
			}

			got := spectrum.BinFrequency(argmax(spectrum.MeanMagnitude()))
			if math.Abs(got-tt.freq) > spectrum.BinWidth() {
				t.Errorf("dominant frequency = %f, want %f ± %f", got, tt.freq, spectrum.BinWidth())
			}
		})
	}
}

func TestFourier_STFT_WindowCount(t *testing.T) {
	f := NewFourier(Options{FFTSize: 2048, HopSize: 512})

	spectrum, err := f.STFT(make([]float64, 1024), 16000)
	if err != nil {
		t.Fatalf("STFT() error = %v", err)
	}

	// 1024 + 2*1024 padding = 3072 samples -> 1 + (3072-2048)/512 windows
	if len(spectrum.Frames) != 3 {
		t.Errorf("expected 3 windows, got %d", len(spectrum.Frames))
	}
}

func TestFourier_STFT_Empty(t *testing.T) {
	f := NewFourier(DefaultOptions())

	_, err := f.STFT(nil, 16000)
	if !errors.Is(err, sensing.ErrInvalidFrame) {
		t.Errorf("expected ErrInvalidFrame, got %v", err)
	}
}

// taperedSine fades the tone in and out so frame edges add no leakage
func taperedSine(freq float64, sampleRate, n int, amplitude float64) []float64 {
	out := sine(freq, sampleRate, n, amplitude)
	for i := range out {
		out[i] *= 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(n-1)))
	}
	return out
}

func TestFourier_Centroid(t *testing.T) {
	f := NewFourier(DefaultOptions())

	low, _ := f.STFT(taperedSine(500, 16000, 1024, 0.5), 16000)
	high, _ := f.STFT(taperedSine(6000, 16000, 1024, 0.5), 16000)

	if c := low.Centroid(); math.Abs(c-500) > 100 {
		t.Errorf("expected centroid near 500Hz, got %f", c)
	}
	if c := high.Centroid(); math.Abs(c-6000) > 100 {
		t.Errorf("expected centroid near 6000Hz, got %f", c)
	}
}

func TestSpectrogram_CentroidSilence(t *testing.T) {
	f := NewFourier(DefaultOptions())

	spectrum, _ := f.STFT(make([]float64, 512), 16000)
	if c := spectrum.Centroid(); c != 0 {
		t.Errorf("expected zero centroid for silence, got %f", c)
	}
}

func TestSpectrogram_CentroidFirstWindow(t *testing.T) {
	// 1 Hz bins; the first window peaks at 1 Hz, the second at 2 Hz
	spectrum := Spectrogram{
		Frames:     [][]float64{{0, 1, 0}, {0, 0, 1}},
		FFTSize:    4,
		SampleRate: 4,
	}

	if c := spectrum.Centroid(); c != 1 {
		t.Errorf("expected first-window centroid 1Hz, got %f", c)
	}

	if c := (Spectrogram{FFTSize: 4, SampleRate: 4}).Centroid(); c != 0 {
		t.Errorf("expected zero centroid without windows, got %f", c)
	}
}

func TestFirstWindow(t *testing.T) {
	samples := make([]float64, 1024)

	tests := []struct {
		name    string
		samples []float64
		fftSize int
		want    int
	}{
		{"half fft", samples, 1024, 512},
		{"fft longer than frame", samples, 4096, 1024},
		{"zero fft", samples, 0, 1024},
		{"empty", nil, 2048, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := len(FirstWindow(tt.samples, tt.fftSize)); got != tt.want {
				t.Errorf("len(FirstWindow()) = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestFourier_Envelope(t *testing.T) {
	f := NewFourier(DefaultOptions())

	// 16 whole periods: the analytic envelope of a pure tone is flat
	samples := sine(250, 16000, 1024, 0.8)

	env, err := f.Envelope(samples)
	if err != nil {
		t.Fatalf("Envelope() error = %v", err)
	}
	if len(env) != len(samples) {
		t.Fatalf("expected %d values, got %d", len(samples), len(env))
	}

	for i, v := range env {
		if math.Abs(v-0.8) > 1e-6 {
			t.Fatalf("envelope[%d] = %f, want 0.8", i, v)
		}
	}
}

func TestFourier_EnvelopeOddLength(t *testing.T) {
	f := NewFourier(DefaultOptions())

	env, err := f.Envelope([]float64{0, 1, 0, -1, 0})
	if err != nil {
		t.Fatalf("Envelope() error = %v", err)
	}
	if len(env) != 5 {
		t.Errorf("expected 5 values, got %d", len(env))
	}
}

func TestFourier_EnvelopeImpulsePeak(t *testing.T) {
	f := NewFourier(DefaultOptions())

	samples := make([]float64, 256)
	samples[100] = 1

	env, _ := f.Envelope(samples)
	if argmax(env) != 100 {
		t.Errorf("expected envelope peak at 100, got %d", argmax(env))
	}
}

func TestZeroCrossingRate(t *testing.T) {
	tests := []struct {
		name    string
		samples []float64
		want    float64
	}{
		{"empty", nil, 0},
		{"single", []float64{1}, 0},
		{"constant", []float64{1, 1, 1, 1}, 0},
		{"alternating", []float64{1, -1, 1, -1, 1}, 1},
		{"one crossing", []float64{1, 1, -1}, 0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ZeroCrossingRate(tt.samples); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("ZeroCrossingRate() = %f, want %f", got, tt.want)
			}
		})
	}
}

func TestNull(t *testing.T) {
	var s Spectral = Null{}

	if s.Available() {
		t.Error("expected null capability to be unavailable")
	}
	if s.Name() != "null" {
		t.Errorf("expected name 'null', got %s", s.Name())
	}
	if _, err := s.STFT([]float64{1}, 16000); !errors.Is(err, sensing.ErrAnalysisUnavailable) {
		t.Errorf("expected ErrAnalysisUnavailable, got %v", err)
	}
	if _, err := s.Envelope([]float64{1}); !errors.Is(err, sensing.ErrAnalysisUnavailable) {
		t.Errorf("expected ErrAnalysisUnavailable, got %v", err)
	}
}

func TestNew(t *testing.T) {
	if New(false, DefaultOptions()).Available() {
		t.Error("expected Null when disabled")
	}
	if !New(true, DefaultOptions()).Available() {
		t.Error("expected Fourier when enabled")
	}
}
