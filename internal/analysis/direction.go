package analysis

import (
	"math"
	"time"

	"gonum.org/v1/gonum/floats"

	"github.com/teslashibe/go-echo/internal/dsp"
	"github.com/teslashibe/go-echo/internal/sensing"
)

// MinDistance is the closest distance the estimator reports, in meters
const MinDistance = 0.5

// DirectionEstimator produces a coarse direction and distance estimate.
//
// This is a single-channel heuristic, not direction-of-arrival estimation:
// the angle is the position of the envelope peak within the frame mapped
// onto 360°, and the distance is inversely related to the peak amplitude.
// It runs regardless of the configured localization method tag and must
// stay behaviour-compatible with earlier releases; true array processing
// would be a separate estimator.
type DirectionEstimator struct {
	cfg      sensing.Config
	spectral dsp.Spectral
}

// NewDirectionEstimator creates an estimator. A nil spectral capability
// selects the |x| envelope.
func NewDirectionEstimator(cfg sensing.Config, spectral dsp.Spectral) *DirectionEstimator {
	if spectral == nil {
		spectral = dsp.Null{}
	}
	return &DirectionEstimator{cfg: cfg, spectral: spectral}
}

// Localize returns false when the frame is shorter than chunk_size
func (e *DirectionEstimator) Localize(frame sensing.Frame) (sensing.LocalizationEstimate, bool) {
	if frame.Empty() || frame.Len() < e.cfg.ChunkSize {
		return sensing.LocalizationEstimate{}, false
	}

	envelope, err := e.spectral.Envelope(frame.Samples)
	if err != nil || len(envelope) == 0 {
		envelope = absolute(frame.Samples)
	}

	return EstimateFromEnvelope(envelope, e.cfg.Localization.MaxRange, frame.Timestamp), true
}

// EstimateFromEnvelope applies the peak heuristic to a precomputed
// envelope. An empty envelope is treated as silence at Front.
func EstimateFromEnvelope(envelope []float64, maxRange float64, ts time.Time) sensing.LocalizationEstimate {
	var angle, strength float64
	if len(envelope) > 0 {
		peak := floats.MaxIdx(envelope)
		strength = envelope[peak]

		ratio := float64(peak) / float64(len(envelope))
		angle = math.Mod(ratio*360, 360)
	}

	return sensing.LocalizationEstimate{
		AngleDegrees:   angle,
		DistanceMeters: DistanceFromStrength(strength, maxRange),
		Confidence:     sensing.Clamp(strength, 0, 1),
		Direction:      sensing.DirectionFromAngle(angle),
		Timestamp:      ts,
	}
}

// DistanceFromStrength maps envelope peak amplitude to a distance in
// [MinDistance, maxRange]
func DistanceFromStrength(strength, maxRange float64) float64 {
	return sensing.Clamp(maxRange/(strength+0.1), MinDistance, maxRange)
}
