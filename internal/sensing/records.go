package sensing

import (
	"math"
	"time"
)

// EventKind identifies the type of a SoundEvent
type EventKind string

const (
	// KindPowerEvent is emitted when frame power exceeds the noise threshold.
	KindPowerEvent EventKind = "power_event"
	// KindFrequencyTone is emitted when the dominant frequency lies in the detection band.
	KindFrequencyTone EventKind = "frequency_tone"
)

// SoundEvent is a single detection from one frame
type SoundEvent struct {
	Kind        EventKind `json:"kind"`
	PowerDB     float64   `json:"power_db"`
	FrequencyHz float64   `json:"frequency_hz,omitempty"` // Only set for KindFrequencyTone
	Confidence  float64   `json:"confidence"`
	Timestamp   time.Time `json:"timestamp"`
}

// Direction is one of the 8 compass bins, relative to the listener
type Direction string

const (
	DirectionFront      Direction = "Front"
	DirectionFrontRight Direction = "Front-Right"
	DirectionRight      Direction = "Right"
	DirectionBackRight  Direction = "Back-Right"
	DirectionBack       Direction = "Back"
	DirectionBackLeft   Direction = "Back-Left"
	DirectionLeft       Direction = "Left"
	DirectionFrontLeft  Direction = "Front-Left"
)

// Directions lists the compass bins clockwise from Front
var Directions = [NumDirections]Direction{
	DirectionFront,
	DirectionFrontRight,
	DirectionRight,
	DirectionBackRight,
	DirectionBack,
	DirectionBackLeft,
	DirectionLeft,
	DirectionFrontLeft,
}

// DirectionFromAngle maps an angle in degrees to its 45° compass bin.
// Bins are centred on the compass points, so Front spans [-22.5, 22.5).
func DirectionFromAngle(angleDegrees float64) Direction {
	binSize := 360.0 / NumDirections
	idx := int(math.Floor((angleDegrees+binSize/2)/binSize)) % NumDirections
	if idx < 0 {
		idx += NumDirections
	}
	return Directions[idx]
}

// LocalizationEstimate is a coarse source direction and distance
type LocalizationEstimate struct {
	AngleDegrees   float64   `json:"angle_degrees"`
	DistanceMeters float64   `json:"distance_meters"`
	Confidence     float64   `json:"confidence"`
	Direction      Direction `json:"direction"`
	Timestamp      time.Time `json:"timestamp"`
}

// ObstacleCandidate is a reflection strong enough to suggest a nearby surface
type ObstacleCandidate struct {
	DistanceMeters float64   `json:"distance_meters"`
	Confidence     float64   `json:"confidence"` // Pearson correlation at the echo lag
	LagSamples     int       `json:"lag_samples"`
	IsWarning      bool      `json:"is_warning"`
	Timestamp      time.Time `json:"timestamp"`
}

// Sound labels produced by the classifier
const (
	LabelSpeech  = "speech"
	LabelDoor    = "door"
	LabelAlarm   = "alarm"
	LabelAmbient = "ambient"
	LabelOther   = "other"
	LabelUnknown = "unknown"
)

// SoundClassification is a rough sound-type guess for one frame
type SoundClassification struct {
	PrimaryLabel       string             `json:"primary_label"`
	Confidence         float64            `json:"confidence"`
	Scores             map[string]float64 `json:"scores"`
	PowerDB            float64            `json:"power_db"`
	SpectralCentroidHz float64            `json:"spectral_centroid_hz,omitempty"`
	ZeroCrossingRate   float64            `json:"zero_crossing_rate,omitempty"`
	Timestamp          time.Time          `json:"timestamp"`
}

// Clamp clamps a value to [min, max]. NaN maps to min.
func Clamp(value, min, max float64) float64 {
	if value < min || math.IsNaN(value) {
		return min
	}
	if value > max {
		return max
	}
	return value
}
