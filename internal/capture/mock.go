package capture

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/teslashibe/go-echo/internal/sensing"
)

// Mock signal shapes
const (
	SignalSilence = "silence"
	SignalTone    = "tone"
	SignalNoise   = "noise"
	SignalEcho    = "echo"
)

// MockOptions configures the synthetic source
type MockOptions struct {
	Signal    string  `mapstructure:"signal" json:"signal" validate:"oneof=silence tone noise echo"`
	Frequency float64 `mapstructure:"frequency" json:"frequency" validate:"gte=0"`
	Amplitude float64 `mapstructure:"amplitude" json:"amplitude" validate:"gte=0,lte=1"`
	EchoLag   int     `mapstructure:"echo_lag" json:"echo_lag" validate:"gte=0"` // Samples between burst and reflection
	Realtime  bool    `mapstructure:"realtime" json:"realtime"`                   // Pace reads at the frame duration
	Seed      uint64  `mapstructure:"seed" json:"seed"`
}

// DefaultMockOptions returns a 1kHz tone paced in real time
func DefaultMockOptions() MockOptions {
	return MockOptions{
		Signal:    SignalTone,
		Frequency: 1000,
		Amplitude: 0.5,
		EchoLag:   128,
		Realtime:  true,
		Seed:      1,
	}
}

// errMockStopped is returned by Read on a stopped mock
var errMockStopped = errors.New("mock device stopped")

// MockDriver opens synthetic devices. The last opened device is kept for
// fault injection in tests.
type MockDriver struct {
	mu   sync.Mutex
	last *MockDevice
}

// NewMockDriver creates a mock driver
func NewMockDriver() *MockDriver {
	return &MockDriver{}
}

// Name returns "mock"
func (d *MockDriver) Name() string { return DriverMock }

// Key identifies the mock device by its configured name
func (d *MockDriver) Key(opts Options) string {
	return DriverMock + ":" + opts.deviceName()
}

// Available always succeeds
func (d *MockDriver) Available(Options) error { return nil }

// Open creates a synthetic device
func (d *MockDriver) Open(_ context.Context, cfg sensing.Config, opts Options, logger *slog.Logger) (Device, error) {
	dev := NewMockDevice(cfg, opts.Mock, logger)

	d.mu.Lock()
	d.last = dev
	d.mu.Unlock()

	return dev, nil
}

// Device returns the most recently opened device, or nil
func (d *MockDriver) Device() *MockDevice {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last
}

// MockDevice generates synthetic audio
type MockDevice struct {
	cfg    sensing.Config
	opts   MockOptions
	logger *slog.Logger

	mu       sync.Mutex
	rng      *rand.Rand
	phase    float64
	running  bool
	closed   bool
	stopped  chan struct{}
	failNext error
	stall    bool
	reads    int
}

// NewMockDevice creates a synthetic device
func NewMockDevice(cfg sensing.Config, opts MockOptions, logger *slog.Logger) *MockDevice {
	if logger == nil {
		logger = slog.Default()
	}
	return &MockDevice{
		cfg:     cfg,
		opts:    opts,
		logger:  logger,
		rng:     rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15)),
		stopped: make(chan struct{}),
	}
}

// Start begins generating audio
func (m *MockDevice) Start(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return sensing.ErrClosed
	}
	if m.running {
		return nil
	}

	m.running = true
	m.stopped = make(chan struct{})

	m.logger.Debug("mock capture started",
		"signal", m.opts.Signal,
		"frequency", m.opts.Frequency,
	)
	return nil
}

// Read generates one frame of audio
func (m *MockDevice) Read(ctx context.Context, buf []float64) error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return errMockStopped
	}
	if err := m.failNext; err != nil {
		m.failNext = nil
		m.mu.Unlock()
		return err
	}
	stall := m.stall
	stopped := m.stopped
	m.mu.Unlock()

	if stall {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stopped:
			return errMockStopped
		}
	}

	if m.opts.Realtime {
		timer := time.NewTimer(m.frameDuration(len(buf)))
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		case <-stopped:
			return errMockStopped
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.generate(buf)
	m.reads++
	return nil
}

func (m *MockDevice) frameDuration(samples int) time.Duration {
	channels := max(m.cfg.Channels, 1)
	if m.cfg.SampleRate <= 0 {
		return 0
	}
	return time.Duration(samples/channels) * time.Second / time.Duration(m.cfg.SampleRate)
}

// generate fills buf with the configured signal. Caller holds m.mu.
func (m *MockDevice) generate(buf []float64) {
	channels := max(m.cfg.Channels, 1)
	perChannel := len(buf) / channels
	amp := m.opts.Amplitude

	mono := make([]float64, perChannel)

	switch m.opts.Signal {
	case SignalTone:
		step := 2 * math.Pi * m.opts.Frequency / float64(m.cfg.SampleRate)
		for i := range mono {
			mono[i] = amp * math.Sin(m.phase)
			m.phase = math.Mod(m.phase+step, 2*math.Pi)
		}
	case SignalNoise:
		for i := range mono {
			mono[i] = amp * (m.rng.Float64()*2 - 1)
		}
	case SignalEcho:
		burst := min(64, perChannel)
		for i := 0; i < burst; i++ {
			v := amp * (m.rng.Float64()*2 - 1)
			mono[i] = v
			if j := i + m.opts.EchoLag; m.opts.EchoLag > 0 && j < perChannel {
				mono[j] += 0.6 * v
			}
		}
	}

	for i := 0; i < perChannel; i++ {
		for ch := 0; ch < channels; ch++ {
			buf[i*channels+ch] = mono[i]
		}
	}
}

// Stop halts generation and unblocks stalled reads
func (m *MockDevice) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return nil
	}
	m.running = false
	close(m.stopped)
	return nil
}

// Close releases resources
func (m *MockDevice) Close() error {
	m.Stop()

	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// Name returns "mock"
func (m *MockDevice) Name() string { return DriverMock }

// FailNext makes the next Read return err
func (m *MockDevice) FailNext(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = err
}

// SetStall makes reads block until the context ends or the device stops
func (m *MockDevice) SetStall(stall bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stall = stall
}

// Reads returns the number of completed reads
func (m *MockDevice) Reads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads
}

// Closed reports whether Close was called
func (m *MockDevice) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
