package analysis

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/teslashibe/go-echo/internal/sensing"
)

// EchoCorrelationThreshold is the autocorrelation above which a lag counts as an echo
const EchoCorrelationThreshold = 0.5

// EchoAnalyzer looks for delayed self-similar copies of the signal and
// converts their delay to a reflector distance.
type EchoAnalyzer struct {
	cfg sensing.Config
}

// NewEchoAnalyzer creates an echo analyzer
func NewEchoAnalyzer(cfg sensing.Config) *EchoAnalyzer {
	return &EchoAnalyzer{cfg: cfg}
}

// Detect returns one candidate per lag whose echo lies inside the warning
// distance. Candidates are not merged.
func (a *EchoAnalyzer) Detect(frame sensing.Frame) []sensing.ObstacleCandidate {
	if !a.cfg.Obstacles.Enabled || frame.Empty() {
		return nil
	}

	rate := sampleRate(frame, a.cfg)
	if rate <= 0 {
		return nil
	}

	n := frame.Len()
	peak := floats.Norm(frame.Samples, math.Inf(1))

	normalized := make([]float64, n)
	floats.ScaleTo(normalized, 1/(peak+Epsilon), frame.Samples)

	// ~10ms echo delay window, at most half the frame
	maxLag := min(rate/100, n/2)
	start := max(a.cfg.ChunkSize/8, 1)
	step := max(a.cfg.ChunkSize/16, 1)

	maxRange := a.cfg.Localization.MaxRange
	warning := a.cfg.Obstacles.WarningThreshold

	var candidates []sensing.ObstacleCandidate

	for lag := start; lag < maxLag; lag += step {
		if lag >= n {
			break
		}

		r := stat.Correlation(normalized[:n-lag], normalized[lag:], nil)
		if !(r > EchoCorrelationThreshold) {
			continue
		}

		distance := sensing.Clamp(EchoDistance(lag, rate), 0, maxRange)

		if distance < warning {
			candidates = append(candidates, sensing.ObstacleCandidate{
				DistanceMeters: distance,
				Confidence:     sensing.Clamp(r, 0, 1),
				LagSamples:     lag,
				IsWarning:      true,
				Timestamp:      frame.Timestamp,
			})
		}
	}

	return candidates
}

// EchoDistance converts an echo lag to the half round-trip distance
func EchoDistance(lag, sampleRate int) float64 {
	return float64(lag) / float64(sampleRate) * SpeedOfSound / 2
}
