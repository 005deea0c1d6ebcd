package analysis

import (
	"gonum.org/v1/gonum/floats"

	"github.com/teslashibe/go-echo/internal/dsp"
	"github.com/teslashibe/go-echo/internal/sensing"
)

// EventDetector reports power events and dominant frequency tones
type EventDetector struct {
	cfg      sensing.Config
	spectral dsp.Spectral
}

// NewEventDetector creates a detector. A nil spectral capability selects
// power-only detection.
func NewEventDetector(cfg sensing.Config, spectral dsp.Spectral) *EventDetector {
	if spectral == nil {
		spectral = dsp.Null{}
	}
	return &EventDetector{cfg: cfg, spectral: spectral}
}

// Detect returns at most one power event and at most one frequency tone
func (d *EventDetector) Detect(frame sensing.Frame) []sensing.SoundEvent {
	if frame.Empty() {
		return nil
	}

	var events []sensing.SoundEvent

	threshold := d.cfg.Detection.NoiseThreshold
	powerDB := PowerDB(frame.Samples)

	if powerDB > threshold {
		events = append(events, sensing.SoundEvent{
			Kind:       sensing.KindPowerEvent,
			PowerDB:    powerDB,
			Confidence: sensing.Clamp((powerDB-threshold)/20, 0, 1),
			Timestamp:  frame.Timestamp,
		})
	}

	if tone, ok := d.dominantTone(frame, powerDB); ok {
		events = append(events, tone)
	}

	return events
}

func (d *EventDetector) dominantTone(frame sensing.Frame, powerDB float64) (sensing.SoundEvent, bool) {
	spectrum, err := d.spectral.STFT(frame.Samples, sampleRate(frame, d.cfg))
	if err != nil {
		return sensing.SoundEvent{}, false
	}

	mean := spectrum.MeanMagnitude()
	if len(mean) == 0 {
		return sensing.SoundEvent{}, false
	}

	bin := floats.MaxIdx(mean)
	if mean[bin] == 0 {
		return sensing.SoundEvent{}, false
	}
	freq := spectrum.BinFrequency(bin)

	if freq < d.cfg.Detection.MinFrequency || freq > d.cfg.Detection.MaxFrequency {
		return sensing.SoundEvent{}, false
	}

	// Share of spectral magnitude held by the dominant bin
	var share float64
	if total := floats.Sum(mean); total > 0 {
		share = mean[bin] / total
	}

	return sensing.SoundEvent{
		Kind:        sensing.KindFrequencyTone,
		PowerDB:     powerDB,
		FrequencyHz: freq,
		Confidence:  sensing.Clamp(share, 0, 1),
		Timestamp:   frame.Timestamp,
	}, true
}
