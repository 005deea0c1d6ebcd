// Package capture owns the audio input device. A Session holds exactly one
// Device for its lifetime, runs the blocking device read on a dedicated
// goroutine and hands frames to the caller through PullFrame.
package capture

import (
	"time"
)

// Driver names
const (
	DriverAuto    = "auto"
	DriverMock    = "mock"
	DriverCommand = "command"
	DriverUSB     = "usb"
	DriverStream  = "stream"
)

// Options configures how audio is captured
type Options struct {
	Driver       string        `mapstructure:"driver" json:"driver" validate:"oneof=auto mock command usb stream"`
	Device       string        `mapstructure:"device" json:"device"` // Driver specific device name
	ReadTimeout  time.Duration `mapstructure:"read_timeout" json:"read_timeout" validate:"gt=0"`
	BufferFrames int           `mapstructure:"buffer_frames" json:"buffer_frames" validate:"gte=1"`
	MockFallback bool          `mapstructure:"mock_fallback" json:"mock_fallback"`

	Mock    MockOptions    `mapstructure:"mock" json:"mock"`
	Command CommandOptions `mapstructure:"command" json:"command"`
	USB     USBOptions     `mapstructure:"usb" json:"usb"`
	Stream  StreamOptions  `mapstructure:"stream" json:"stream"`
}

// DefaultOptions returns sensible defaults
func DefaultOptions() Options {
	return Options{
		Driver:       DriverAuto,
		ReadTimeout:  time.Second,
		BufferFrames: 8,
		MockFallback: false,
		Mock:         DefaultMockOptions(),
		Command:      DefaultCommandOptions(),
		USB:          DefaultUSBOptions(),
		Stream:       DefaultStreamOptions(),
	}
}

func (o Options) readTimeout() time.Duration {
	if o.ReadTimeout <= 0 {
		return DefaultOptions().ReadTimeout
	}
	return o.ReadTimeout
}

func (o Options) bufferFrames() int {
	if o.BufferFrames < 1 {
		return 1
	}
	return o.BufferFrames
}

func (o Options) deviceName() string {
	if o.Device == "" {
		return "default"
	}
	return o.Device
}

// State is the lifecycle state of a Session
type State int32

const (
	StateClosed State = iota
	StateOpened
	StateListening
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpened:
		return "opened"
	case StateListening:
		return "listening"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// MarshalText renders the state name in JSON
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
