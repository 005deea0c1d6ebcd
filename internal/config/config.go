// Package config provides configuration management for go-echo
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/teslashibe/go-echo/internal/capture"
	"github.com/teslashibe/go-echo/internal/dsp"
	"github.com/teslashibe/go-echo/internal/pipeline"
	"github.com/teslashibe/go-echo/internal/sensing"
)

// EnvPrefix prefixes environment overrides, e.g. GOECHO_SERVER_PORT
const EnvPrefix = "GOECHO"

// Config is the root configuration structure
type Config struct {
	Server   ServerConfig    `mapstructure:"server" json:"server"`
	Sensing  sensing.Config  `mapstructure:"sensing" json:"sensing"`
	Analysis AnalysisConfig  `mapstructure:"analysis" json:"analysis"`
	Capture  capture.Options `mapstructure:"capture" json:"capture"`
	Pipeline pipeline.Config `mapstructure:"pipeline" json:"pipeline"`
	Logging  LoggingConfig   `mapstructure:"logging" json:"logging"`
}

// ServerConfig configures the HTTP server
type ServerConfig struct {
	Port            int           `mapstructure:"port" json:"port" validate:"gte=1,lte=65535"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" json:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" json:"write_timeout"`
	GracefulTimeout time.Duration `mapstructure:"graceful_timeout" json:"graceful_timeout" validate:"gt=0"`
	HealthInterval  time.Duration `mapstructure:"health_interval" json:"health_interval" validate:"gt=0"`
}

// AnalysisConfig selects the spectral capability
type AnalysisConfig struct {
	Spectral bool        `mapstructure:"spectral" json:"spectral"` // false selects the degraded time-domain path
	FFT      dsp.Options `mapstructure:"fft" json:"fft"`
}

// LoggingConfig configures logging
type LoggingConfig struct {
	Level  string `mapstructure:"level" json:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" json:"format" validate:"oneof=json text"`
}

// Default returns the default configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            9000,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			GracefulTimeout: 5 * time.Second,
			HealthInterval:  5 * time.Second,
		},
		Sensing: sensing.DefaultConfig(),
		Analysis: AnalysisConfig{
			Spectral: true,
			FFT:      dsp.DefaultOptions(),
		},
		Capture:  capture.DefaultOptions(),
		Pipeline: pipeline.DefaultConfig(),
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load loads configuration from file and environment. A missing file is
// not an error; the defaults apply.
func Load(path string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v, Default())

	// Config file
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")

		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to read config %s: %w", path, err)
			}
			slog.Warn("config file not found, using defaults", "path", path)
		}
	}

	// Environment variable overrides
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults registers every key so that environment overrides apply to
// keys absent from the file
func setDefaults(v *viper.Viper, d *Config) {
	// Server defaults
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.graceful_timeout", d.Server.GracefulTimeout)
	v.SetDefault("server.health_interval", d.Server.HealthInterval)

	// Sensing defaults
	v.SetDefault("sensing.enabled", d.Sensing.Enabled)
	v.SetDefault("sensing.sample_rate", d.Sensing.SampleRate)
	v.SetDefault("sensing.chunk_size", d.Sensing.ChunkSize)
	v.SetDefault("sensing.channels", d.Sensing.Channels)
	v.SetDefault("sensing.detection.min_frequency", d.Sensing.Detection.MinFrequency)
	v.SetDefault("sensing.detection.max_frequency", d.Sensing.Detection.MaxFrequency)
	v.SetDefault("sensing.detection.noise_threshold", d.Sensing.Detection.NoiseThreshold)
	v.SetDefault("sensing.detection.sound_sensitivity", d.Sensing.Detection.SoundSensitivity)
	v.SetDefault("sensing.localization.method", d.Sensing.Localization.Method)
	v.SetDefault("sensing.localization.num_directions", d.Sensing.Localization.NumDirections)
	v.SetDefault("sensing.localization.angle_resolution", d.Sensing.Localization.AngleResolution)
	v.SetDefault("sensing.localization.max_range", d.Sensing.Localization.MaxRange)
	v.SetDefault("sensing.obstacles.enabled", d.Sensing.Obstacles.Enabled)
	v.SetDefault("sensing.obstacles.warning_threshold", d.Sensing.Obstacles.WarningThreshold)
	v.SetDefault("sensing.audio_classification.enabled", d.Sensing.Classification.Enabled)

	// Analysis defaults
	v.SetDefault("analysis.spectral", d.Analysis.Spectral)
	v.SetDefault("analysis.fft.fft_size", d.Analysis.FFT.FFTSize)
	v.SetDefault("analysis.fft.hop_size", d.Analysis.FFT.HopSize)

	// Capture defaults
	v.SetDefault("capture.driver", d.Capture.Driver)
	v.SetDefault("capture.device", d.Capture.Device)
	v.SetDefault("capture.read_timeout", d.Capture.ReadTimeout)
	v.SetDefault("capture.buffer_frames", d.Capture.BufferFrames)
	v.SetDefault("capture.mock_fallback", d.Capture.MockFallback)
	v.SetDefault("capture.mock.signal", d.Capture.Mock.Signal)
	v.SetDefault("capture.mock.frequency", d.Capture.Mock.Frequency)
	v.SetDefault("capture.mock.amplitude", d.Capture.Mock.Amplitude)
	v.SetDefault("capture.mock.echo_lag", d.Capture.Mock.EchoLag)
	v.SetDefault("capture.mock.realtime", d.Capture.Mock.Realtime)
	v.SetDefault("capture.mock.seed", d.Capture.Mock.Seed)
	v.SetDefault("capture.command.path", d.Capture.Command.Path)
	v.SetDefault("capture.command.args", d.Capture.Command.Args)
	v.SetDefault("capture.usb.vendor_id", d.Capture.USB.VendorID)
	v.SetDefault("capture.usb.product_id", d.Capture.USB.ProductID)
	v.SetDefault("capture.usb.config", d.Capture.USB.Config)
	v.SetDefault("capture.usb.interface", d.Capture.USB.Interface)
	v.SetDefault("capture.usb.alt_setting", d.Capture.USB.AltSetting)
	v.SetDefault("capture.usb.endpoint", d.Capture.USB.Endpoint)
	v.SetDefault("capture.stream.url", d.Capture.Stream.URL)
	v.SetDefault("capture.stream.handshake_timeout", d.Capture.Stream.HandshakeTimeout)
	v.SetDefault("capture.stream.queue_chunks", d.Capture.Stream.QueueChunks)
	v.SetDefault("capture.stream.write_timeout", d.Capture.Stream.WriteTimeout)

	// Pipeline defaults
	v.SetDefault("pipeline.pull_timeout", d.Pipeline.PullTimeout)
	v.SetDefault("pipeline.window_frames", d.Pipeline.WindowFrames)
	v.SetDefault("pipeline.restart_backoff", d.Pipeline.RestartBackoff)
	v.SetDefault("pipeline.max_restart_backoff", d.Pipeline.MaxRestartBackoff)
	v.SetDefault("pipeline.merge_distance", d.Pipeline.MergeDistance)
	v.SetDefault("pipeline.narration_cooldown", d.Pipeline.NarrationCooldown)
	v.SetDefault("pipeline.subscriber_buffer", d.Pipeline.SubscriberBuffer)

	// Logging defaults
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	// Report config keys instead of struct field names
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("mapstructure"), ",", 2)[0]
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})
	return v
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}

		msgs := make([]string, 0, len(verrs))
		for _, e := range verrs {
			msgs = append(msgs, fmt.Sprintf("%s %s", fieldPath(e), formatValidationMessage(e)))
		}
		return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
	}

	det := c.Sensing.Detection
	if det.MinFrequency >= det.MaxFrequency {
		return fmt.Errorf("invalid config: sensing.detection.min_frequency (%g) must be below max_frequency (%g)",
			det.MinFrequency, det.MaxFrequency)
	}

	if nyquist := float64(c.Sensing.SampleRate) / 2; det.MaxFrequency > nyquist {
		return fmt.Errorf("invalid config: sensing.detection.max_frequency (%g) exceeds the Nyquist frequency %g",
			det.MaxFrequency, nyquist)
	}

	if c.Analysis.FFT.HopSize > c.Analysis.FFT.FFTSize {
		return fmt.Errorf("invalid config: analysis.fft.hop_size (%d) exceeds fft_size (%d)",
			c.Analysis.FFT.HopSize, c.Analysis.FFT.FFTSize)
	}

	if c.Capture.Driver == capture.DriverStream && c.Capture.Stream.URL == "" {
		return fmt.Errorf("invalid config: capture.stream.url is required for the stream driver")
	}

	return nil
}

// fieldPath renders the dotted config key, without the root type name
func fieldPath(e validator.FieldError) string {
	ns := e.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func formatValidationMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "gt":
		return fmt.Sprintf("must be greater than %s", e.Param())
	case "gte":
		return fmt.Sprintf("must be greater than or equal to %s", e.Param())
	case "lt":
		return fmt.Sprintf("must be less than %s", e.Param())
	case "lte":
		return fmt.Sprintf("must be less than or equal to %s", e.Param())
	case "eq":
		return fmt.Sprintf("must equal %s", e.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", e.Param())
	case "gtefield":
		return fmt.Sprintf("must be greater than or equal to %s", e.Param())
	default:
		return fmt.Sprintf("failed validation '%s'", e.Tag())
	}
}
