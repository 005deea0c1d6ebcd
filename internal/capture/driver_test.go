package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"

	"github.com/teslashibe/go-echo/internal/sensing"
)

func TestNewDriver(t *testing.T) {
	tests := []struct {
		driver string
		want   string
	}{
		{DriverMock, DriverMock},
		{DriverCommand, DriverCommand},
		{DriverUSB, DriverUSB},
		{DriverStream, DriverStream},
	}

	for _, tt := range tests {
		t.Run(tt.driver, func(t *testing.T) {
			d, err := NewDriver(Options{Driver: tt.driver}, nil)
			if err != nil {
				t.Fatalf("NewDriver() error = %v", err)
			}
			if d.Name() != tt.want {
				t.Errorf("expected %s, got %s", tt.want, d.Name())
			}
		})
	}

	if _, err := NewDriver(Options{Driver: "alsa"}, nil); !errors.Is(err, sensing.ErrDeviceUnavailable) {
		t.Errorf("expected ErrDeviceUnavailable for unknown driver, got %v", err)
	}
}

// stubDriver reports a fixed availability
type stubDriver struct {
	MockDriver
	name string
	err  error
}

func (d *stubDriver) Name() string { return d.name }
func (d *stubDriver) Available(Options) error { return d.err }

func TestDetectDriver(t *testing.T) {
	missing := errors.New("not plugged in")

	tests := []struct {
		name       string
		candidates []Driver
		fallback   bool
		want       string
		wantErr    bool
	}{
		{
			name: "first available wins",
			candidates: []Driver{
				&stubDriver{name: "usb", err: missing},
				&stubDriver{name: "command"},
			},
			want: "command",
		},
		{
			name: "mock fallback",
			candidates: []Driver{
				&stubDriver{name: "usb", err: missing},
			},
			fallback: true,
			want:     DriverMock,
		},
		{
			name: "nothing available",
			candidates: []Driver{
				&stubDriver{name: "usb", err: missing},
				&stubDriver{name: "command", err: missing},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := detectDriver(Options{MockFallback: tt.fallback}, slog.Default(), tt.candidates...)
			if tt.wantErr {
				if !errors.Is(err, sensing.ErrDeviceUnavailable) || !errors.Is(err, missing) {
					t.Errorf("expected ErrDeviceUnavailable wrapping the probe errors, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("detectDriver() error = %v", err)
			}
			if d.Name() != tt.want {
				t.Errorf("expected %s, got %s", tt.want, d.Name())
			}
		})
	}
}

func TestDriverKeys(t *testing.T) {
	opts := DefaultOptions()
	opts.Device = "hw:2"
	opts.Stream.URL = "ws://mic.local:9000/mic"

	tests := []struct {
		driver Driver
		want   string
	}{
		{NewMockDriver(), "mock:hw:2"},
		{CommandDriver{}, "command:hw:2"},
		{USBDriver{}, "usb:38fb:1001"},
		{StreamDriver{}, "stream:ws://mic.local:9000/mic"},
	}

	for _, tt := range tests {
		t.Run(tt.driver.Name(), func(t *testing.T) {
			if got := tt.driver.Key(opts); got != tt.want {
				t.Errorf("Key() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestUnavailable(t *testing.T) {
	if unavailable(nil) != nil {
		t.Error("expected nil to stay nil")
	}

	wrapped := fmt.Errorf("%w: probe", sensing.ErrDeviceUnavailable)
	if got := unavailable(wrapped); got != wrapped {
		t.Errorf("expected already wrapped error unchanged, got %v", got)
	}

	plain := errors.New("permission denied")
	got := unavailable(plain)
	if !errors.Is(got, sensing.ErrDeviceUnavailable) || !errors.Is(got, plain) {
		t.Errorf("expected both sentinels, got %v", got)
	}
}

func TestOpen_DriverInterface(t *testing.T) {
	var _ Driver = CommandDriver{}
	var _ Driver = USBDriver{}
	var _ Driver = StreamDriver{}
	var _ Device = (*CommandDevice)(nil)
	var _ Device = (*USBDevice)(nil)
	var _ Device = (*StreamDevice)(nil)

	// Options flow through to the device
	opts := testOptions(t.Name())
	opts.Mock.Signal = SignalSilence

	s, d := openMock(t, testConfig(), opts)
	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	frame, err := s.PullFrame(context.Background(), 0)
	if err != nil {
		t.Fatalf("PullFrame() error = %v", err)
	}
	for _, v := range frame.Samples {
		if v != 0 {
			t.Fatal("expected silence from configured mock signal")
		}
	}
	if d.Device().Reads() == 0 {
		t.Error("expected the mock device to be read")
	}
}
