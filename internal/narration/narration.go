// Package narration turns analyzer records into short sentences for a
// speech output collaborator. Every function is pure.
package narration

import (
	"fmt"
	"strings"

	"github.com/teslashibe/go-echo/internal/analysis"
	"github.com/teslashibe/go-echo/internal/sensing"
)

// Fixed phrases
const (
	NoSounds         = "No sounds detected."
	AudioDetected    = "Audio detected"
	QuietSound       = "Quiet sound detected"
	NoLocalization   = "Unable to localize sound"
	NoObstacles      = "No obstacles detected."
	NoClassification = "Unable to classify sound"
)

// DescribeEvents describes a frame's sound events in one line
func DescribeEvents(events []sensing.SoundEvent) string {
	if len(events) == 0 {
		return NoSounds
	}

	parts := make([]string, 0, len(events))
	for _, e := range events {
		switch e.Kind {
		case sensing.KindPowerEvent:
			if e.PowerDB > 0 {
				parts = append(parts, fmt.Sprintf("Loud sound detected (%.0f dB)", e.PowerDB))
			} else {
				parts = append(parts, QuietSound)
			}
		case sensing.KindFrequencyTone:
			parts = append(parts, fmt.Sprintf("Tone at %.0f Hertz", e.FrequencyHz))
		}
	}

	if len(parts) == 0 {
		return AudioDetected
	}
	return strings.Join(parts, " ")
}

// DescribeLocalization describes a direction estimate. A nil estimate
// yields NoLocalization.
func DescribeLocalization(est *sensing.LocalizationEstimate) string {
	if est == nil {
		return NoLocalization
	}
	return fmt.Sprintf("Sound detected %s at approximately %.1f meters (confidence: %s)",
		est.Direction, est.DistanceMeters, percent(est.Confidence))
}

// DescribeObstacles reports the nearest warning obstacle
func DescribeObstacles(obstacles []sensing.ObstacleCandidate) string {
	var (
		nearest  sensing.ObstacleCandidate
		warnings int
	)
	for _, o := range obstacles {
		if !o.IsWarning {
			continue
		}
		if warnings == 0 || o.DistanceMeters < nearest.DistanceMeters {
			nearest = o
		}
		warnings++
	}

	switch warnings {
	case 0:
		return NoObstacles
	case 1:
		return fmt.Sprintf("Obstacle at approximately %.1f meters", nearest.DistanceMeters)
	default:
		return fmt.Sprintf("%d obstacles, nearest at approximately %.1f meters", warnings, nearest.DistanceMeters)
	}
}

// DescribeClassification describes a sound-type guess
func DescribeClassification(cls *sensing.SoundClassification) string {
	if cls == nil {
		return NoClassification
	}
	if cls.PrimaryLabel == sensing.LabelUnknown {
		return "Unrecognized sound"
	}
	return fmt.Sprintf("Sounds like %s (confidence: %s)", cls.PrimaryLabel, percent(cls.Confidence))
}

// Summarize combines every non-empty part of a result into one line.
// Localization is only mentioned when something was heard, and obstacles
// only when one is within warning distance.
func Summarize(result analysis.Result) string {
	if len(result.Events) == 0 && !hasWarning(result.Obstacles) {
		return NoSounds
	}

	var parts []string

	if len(result.Events) > 0 {
		parts = append(parts, DescribeEvents(result.Events))
		if result.Localization != nil {
			parts = append(parts, DescribeLocalization(result.Localization))
		}
		if result.Classification != nil {
			parts = append(parts, DescribeClassification(result.Classification))
		}
	}

	if hasWarning(result.Obstacles) {
		parts = append(parts, DescribeObstacles(result.Obstacles))
	}

	return sentences(parts)
}

func hasWarning(obstacles []sensing.ObstacleCandidate) bool {
	for _, o := range obstacles {
		if o.IsWarning {
			return true
		}
	}
	return false
}

func percent(v float64) string {
	return fmt.Sprintf("%.0f%%", sensing.Clamp(v, 0, 1)*100)
}

func sentences(parts []string) string {
	var b strings.Builder
	for i, p := range parts {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(strings.TrimSuffix(p, "."))
		b.WriteByte('.')
	}
	return b.String()
}
