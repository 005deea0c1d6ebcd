package analysis

import (
	"math"
	"math/rand/v2"
	"time"

	"github.com/teslashibe/go-echo/internal/sensing"
)

var testTime = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func frameOf(samples []float64, sampleRate int) sensing.Frame {
	return sensing.Frame{
		Samples:    samples,
		SampleRate: sampleRate,
		Channels:   1,
		Timestamp:  testTime,
	}
}

func sine(freq float64, sampleRate, n int, amplitude float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = amplitude * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate))
	}
	return out
}

// taperedSine fades the tone in and out so frame edges add no leakage
func taperedSine(freq float64, sampleRate, n int, amplitude float64) []float64 {
	out := sine(freq, sampleRate, n, amplitude)
	for i := range out {
		out[i] *= 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(n-1)))
	}
	return out
}

// echoFrame places a noise burst at the start of the frame and an
// attenuated copy of it lag samples later.
func echoFrame(n, burst, lag int, attenuation float64, seed uint64) []float64 {
	rng := rand.New(rand.NewPCG(seed, seed+1))
	out := make([]float64, n)
	for i := 0; i < burst; i++ {
		v := rng.Float64()*2 - 1
		out[i] = v
		out[i+lag] += attenuation * v
	}
	return out
}
