// Package analysis implements the per-frame acoustic analyzers: sound
// event detection, direction estimation, echo-based obstacle detection and
// sound classification.
//
// Every analyzer is a pure function of its input frame. None keeps state
// across calls, so one instance may be shared by concurrent goroutines and
// the four analyzers may run in parallel on the same frame.
package analysis

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/teslashibe/go-echo/internal/sensing"
)

// Epsilon keeps logarithms and normalisations finite on silent input
const Epsilon = 1e-10

// SpeedOfSound in air at 20°C, m/s
const SpeedOfSound = 343.0

// PowerDB returns the RMS level of samples in dB full scale:
// 20·log10(sqrt(mean(x²)) + ε).
func PowerDB(samples []float64) float64 {
	if len(samples) == 0 {
		return 20 * math.Log10(Epsilon)
	}
	meanSquare := floats.Dot(samples, samples) / float64(len(samples))
	return 20 * math.Log10(math.Sqrt(meanSquare)+Epsilon)
}

// sampleRate prefers the rate stamped on the frame
func sampleRate(frame sensing.Frame, cfg sensing.Config) int {
	if frame.SampleRate > 0 {
		return frame.SampleRate
	}
	return cfg.SampleRate
}

func absolute(samples []float64) []float64 {
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = math.Abs(s)
	}
	return out
}
