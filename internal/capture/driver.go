package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/teslashibe/go-echo/internal/sensing"
)

// Device is an opened capture backend. It is owned by one Session.
type Device interface {
	// Start begins streaming. Start after Stop resumes the same device.
	Start(ctx context.Context) error

	// Read fills buf with the next interleaved normalized samples. It blocks
	// until buf is full, the device fails or ctx ends.
	Read(ctx context.Context, buf []float64) error

	// Stop halts streaming. A blocked Read returns promptly.
	Stop() error

	// Close releases the device
	Close() error

	// Name returns the backend name
	Name() string
}

// Driver opens devices of one backend type
type Driver interface {
	// Name returns the backend name
	Name() string

	// Key identifies the physical device that Open would claim
	Key(opts Options) string

	// Available returns nil if Open can be expected to succeed
	Available(opts Options) error

	// Open opens the device without starting it
	Open(ctx context.Context, cfg sensing.Config, opts Options, logger *slog.Logger) (Device, error)
}

// NewDriver returns the driver named by opts.Driver.
// The auto driver probes USB first, then the capture command, then the
// mock source when opts.MockFallback is set.
func NewDriver(opts Options, logger *slog.Logger) (Driver, error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch opts.Driver {
	case DriverMock:
		return NewMockDriver(), nil
	case DriverCommand:
		return CommandDriver{}, nil
	case DriverUSB:
		return USBDriver{}, nil
	case DriverStream:
		return StreamDriver{}, nil
	case DriverAuto, "":
		return detectDriver(opts, logger, USBDriver{}, CommandDriver{})
	default:
		return nil, fmt.Errorf("%w: unknown driver %q", sensing.ErrDeviceUnavailable, opts.Driver)
	}
}

func detectDriver(opts Options, logger *slog.Logger, candidates ...Driver) (Driver, error) {
	var errs []error
	for _, d := range candidates {
		err := d.Available(opts)
		if err == nil {
			logger.Info("capture driver selected", "driver", d.Name())
			return d, nil
		}
		logger.Warn("capture driver unavailable",
			"driver", d.Name(),
			"error", err,
		)
		errs = append(errs, err)
	}

	if opts.MockFallback {
		logger.Warn("using mock capture driver - no hardware available")
		return NewMockDriver(), nil
	}

	return nil, fmt.Errorf("%w: no capture backend: %w", sensing.ErrDeviceUnavailable, errors.Join(errs...))
}

// unavailable wraps err with ErrDeviceUnavailable unless it already is one
func unavailable(err error) error {
	if err == nil || errors.Is(err, sensing.ErrDeviceUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", sensing.ErrDeviceUnavailable, err)
}
