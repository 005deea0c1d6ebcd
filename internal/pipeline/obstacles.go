package pipeline

import (
	"slices"

	"github.com/teslashibe/go-echo/internal/sensing"
)

// MergeObstacles collapses candidates whose distances lie within tolerance
// of the nearest member of their run. Neighbouring lags of one reflection
// correlate, so a single surface shows up as a run of candidates. Each run
// keeps one candidate: a warning over a non-warning, then the higher
// confidence. The result is sorted nearest first. A non-positive tolerance
// only sorts.
func MergeObstacles(candidates []sensing.ObstacleCandidate, tolerance float64) []sensing.ObstacleCandidate {
	if len(candidates) == 0 {
		return candidates
	}

	sorted := slices.Clone(candidates)
	slices.SortStableFunc(sorted, func(a, b sensing.ObstacleCandidate) int {
		switch {
		case a.DistanceMeters < b.DistanceMeters:
			return -1
		case a.DistanceMeters > b.DistanceMeters:
			return 1
		default:
			return 0
		}
	})

	if tolerance <= 0 {
		return sorted
	}

	merged := make([]sensing.ObstacleCandidate, 0, len(sorted))
	runStart := sorted[0].DistanceMeters
	best := sorted[0]

	for _, c := range sorted[1:] {
		if c.DistanceMeters-runStart <= tolerance {
			if preferred(c, best) {
				best = c
			}
			continue
		}

		merged = append(merged, best)
		runStart = c.DistanceMeters
		best = c
	}

	return append(merged, best)
}

func preferred(c, best sensing.ObstacleCandidate) bool {
	if c.IsWarning != best.IsWarning {
		return c.IsWarning
	}
	return c.Confidence > best.Confidence
}

// NearestWarning returns the closest candidate inside the warning distance
func NearestWarning(candidates []sensing.ObstacleCandidate) (sensing.ObstacleCandidate, bool) {
	var (
		nearest sensing.ObstacleCandidate
		found   bool
	)
	for _, c := range candidates {
		if !c.IsWarning {
			continue
		}
		if !found || c.DistanceMeters < nearest.DistanceMeters {
			nearest = c
			found = true
		}
	}
	return nearest, found
}
