// Package sensing defines the data model shared by the acoustic sensing core:
// configuration, audio frames, detection records and the error taxonomy.
package sensing

// Localization method tags. Every tag runs the same single-channel
// envelope-peak heuristic; the others are reserved names kept for
// configuration compatibility.
const (
	MethodBeamforming  = "beamforming"
	MethodTDOA         = "tdoa"
	MethodEnvelopePeak = "envelope_peak"
)

// NumDirections is the fixed number of compass bins used for labels.
const NumDirections = 8

// Config is the immutable per-session sensing configuration
type Config struct {
	Enabled    bool `mapstructure:"enabled" json:"enabled"`
	SampleRate int  `mapstructure:"sample_rate" json:"sample_rate" validate:"gt=0"`
	ChunkSize  int  `mapstructure:"chunk_size" json:"chunk_size" validate:"gt=0"`
	Channels   int  `mapstructure:"channels" json:"channels" validate:"gt=0"`

	Detection      DetectionConfig      `mapstructure:"detection" json:"detection"`
	Localization   LocalizationConfig   `mapstructure:"localization" json:"localization"`
	Obstacles      ObstacleConfig       `mapstructure:"obstacles" json:"obstacles"`
	Classification ClassificationConfig `mapstructure:"audio_classification" json:"audio_classification"`
}

// DetectionConfig configures sound event detection
type DetectionConfig struct {
	MinFrequency     float64 `mapstructure:"min_frequency" json:"min_frequency" validate:"gte=0"`
	MaxFrequency     float64 `mapstructure:"max_frequency" json:"max_frequency" validate:"gt=0"`
	NoiseThreshold   float64 `mapstructure:"noise_threshold" json:"noise_threshold" validate:"lt=0"`
	SoundSensitivity float64 `mapstructure:"sound_sensitivity" json:"sound_sensitivity" validate:"gte=0,lte=1"`
}

// LocalizationConfig configures direction estimation
type LocalizationConfig struct {
	Method          string  `mapstructure:"method" json:"method" validate:"oneof=beamforming tdoa envelope_peak"`
	NumDirections   int     `mapstructure:"num_directions" json:"num_directions" validate:"eq=8"`
	AngleResolution float64 `mapstructure:"angle_resolution" json:"angle_resolution" validate:"gt=0,lte=360"`
	MaxRange        float64 `mapstructure:"max_range" json:"max_range" validate:"gte=0.5"`
}

// ObstacleConfig configures echo-based obstacle detection
type ObstacleConfig struct {
	Enabled          bool    `mapstructure:"enabled" json:"enabled"`
	WarningThreshold float64 `mapstructure:"warning_threshold" json:"warning_threshold" validate:"gt=0"`
}

// ClassificationConfig configures sound type classification
type ClassificationConfig struct {
	Enabled bool `mapstructure:"enabled" json:"enabled"`
}

// DefaultConfig returns the default sensing configuration
func DefaultConfig() Config {
	return Config{
		Enabled:    true,
		SampleRate: 16000,
		ChunkSize:  1024,
		Channels:   1,
		Detection: DetectionConfig{
			MinFrequency:     50,
			MaxFrequency:     8000,
			NoiseThreshold:   -40,
			SoundSensitivity: 0.5,
		},
		Localization: LocalizationConfig{
			Method:          MethodBeamforming,
			NumDirections:   NumDirections,
			AngleResolution: 45,
			MaxRange:        10,
		},
		Obstacles: ObstacleConfig{
			Enabled:          true,
			WarningThreshold: 2.0,
		},
		Classification: ClassificationConfig{
			Enabled: false,
		},
	}
}

// FrameLen returns the number of samples in a full frame
func (c Config) FrameLen() int {
	channels := c.Channels
	if channels < 1 {
		channels = 1
	}
	return c.ChunkSize * channels
}
