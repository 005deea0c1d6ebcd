package capture

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/teslashibe/go-echo/internal/sensing"
)

func testConfig() sensing.Config {
	cfg := sensing.DefaultConfig()
	cfg.ChunkSize = 256
	return cfg
}

func testOptions(device string) Options {
	opts := DefaultOptions()
	opts.Driver = DriverMock
	opts.Device = device
	opts.ReadTimeout = 200 * time.Millisecond
	opts.Mock.Realtime = false
	return opts
}

func openMock(t *testing.T, cfg sensing.Config, opts Options) (*Session, *MockDriver) {
	t.Helper()

	driver := NewMockDriver()
	s, err := Open(context.Background(), cfg, opts, driver, nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })

	return s, driver
}

func TestSession_Lifecycle(t *testing.T) {
	cfg := testConfig()
	s, _ := openMock(t, cfg, testOptions(t.Name()))
	ctx := context.Background()

	if s.State() != StateOpened {
		t.Errorf("expected opened, got %s", s.State())
	}
	if s.ID() == "" {
		t.Error("expected a session id")
	}

	if _, err := s.PullFrame(ctx, 50*time.Millisecond); !errors.Is(err, sensing.ErrNotListening) {
		t.Errorf("expected ErrNotListening before Start, got %v", err)
	}

	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := s.Start(); err != nil {
		t.Errorf("second Start() error = %v", err)
	}
	if s.State() != StateListening {
		t.Errorf("expected listening, got %s", s.State())
	}

	frame, err := s.PullFrame(ctx, time.Second)
	if err != nil {
		t.Fatalf("PullFrame() error = %v", err)
	}
	if frame.Len() != cfg.FrameLen() {
		t.Errorf("expected %d samples, got %d", cfg.FrameLen(), frame.Len())
	}
	if frame.SampleRate != cfg.SampleRate || frame.Sequence == 0 || frame.Timestamp.IsZero() {
		t.Errorf("unexpected frame header %+v", frame)
	}

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Errorf("second Stop() error = %v", err)
	}
	if s.State() != StateStopped {
		t.Errorf("expected stopped, got %s", s.State())
	}
	if _, err := s.PullFrame(ctx, 50*time.Millisecond); !errors.Is(err, sensing.ErrNotListening) {
		t.Errorf("expected ErrNotListening after Stop, got %v", err)
	}

	// Stopped -> Listening without reopening
	if err := s.Start(); err != nil {
		t.Fatalf("restart error = %v", err)
	}
	next, err := s.PullFrame(ctx, time.Second)
	if err != nil {
		t.Fatalf("PullFrame() after restart error = %v", err)
	}
	if next.Sequence <= frame.Sequence {
		t.Errorf("expected sequence to advance, got %d after %d", next.Sequence, frame.Sequence)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if s.State() != StateClosed {
		t.Errorf("expected closed, got %s", s.State())
	}
	if _, err := s.PullFrame(ctx, 50*time.Millisecond); !errors.Is(err, sensing.ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	if err := s.Start(); !errors.Is(err, sensing.ErrClosed) {
		t.Errorf("expected ErrClosed from Start, got %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Errorf("Stop() after Close error = %v", err)
	}
}

func TestSession_DeviceBusy(t *testing.T) {
	cfg := testConfig()
	opts := testOptions(t.Name())

	first, _ := openMock(t, cfg, opts)

	_, err := Open(context.Background(), cfg, opts, NewMockDriver(), nil)
	if !errors.Is(err, sensing.ErrDeviceBusy) {
		t.Fatalf("expected ErrDeviceBusy, got %v", err)
	}

	// A different device is independent
	other, err := Open(context.Background(), cfg, testOptions(t.Name()+"-other"), NewMockDriver(), nil)
	if err != nil {
		t.Fatalf("Open() other device error = %v", err)
	}
	other.Close()

	first.Close()

	again, err := Open(context.Background(), cfg, opts, NewMockDriver(), nil)
	if err != nil {
		t.Fatalf("expected device to be free after Close, got %v", err)
	}
	again.Close()
}

func TestSession_ReadTimeout(t *testing.T) {
	s, driver := openMock(t, testConfig(), testOptions(t.Name()))
	driver.Device().SetStall(true)

	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	start := time.Now()
	_, err := s.PullFrame(context.Background(), 50*time.Millisecond)
	if !errors.Is(err, sensing.ErrReadTimeout) {
		t.Fatalf("expected ErrReadTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("PullFrame blocked for %s", elapsed)
	}

	if s.Stats().Timeouts != 1 {
		t.Errorf("expected 1 timeout, got %d", s.Stats().Timeouts)
	}
}

func TestSession_DefaultTimeout(t *testing.T) {
	opts := testOptions(t.Name())
	opts.ReadTimeout = 30 * time.Millisecond
	s, driver := openMock(t, testConfig(), opts)
	driver.Device().SetStall(true)
	s.Start()

	if _, err := s.PullFrame(context.Background(), 0); !errors.Is(err, sensing.ErrReadTimeout) {
		t.Errorf("expected ErrReadTimeout with default bound, got %v", err)
	}
}

func TestSession_StreamError(t *testing.T) {
	s, driver := openMock(t, testConfig(), testOptions(t.Name()))
	driver.Device().FailNext(errors.New("usb unplugged"))

	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	_, err := s.PullFrame(context.Background(), time.Second)
	if !errors.Is(err, sensing.ErrStream) {
		t.Fatalf("expected ErrStream, got %v", err)
	}
	if !strings.Contains(err.Error(), "usb unplugged") {
		t.Errorf("expected device error in %q", err)
	}

	// The reader has exited; later pulls report the same failure
	if _, err := s.PullFrame(context.Background(), time.Second); !errors.Is(err, sensing.ErrStream) {
		t.Errorf("expected ErrStream on second pull, got %v", err)
	}
	if s.Healthy() {
		t.Error("expected unhealthy session after stream error")
	}

	// Caller-driven recovery
	s.Stop()
	if err := s.Start(); err != nil {
		t.Fatalf("restart error = %v", err)
	}
	if _, err := s.PullFrame(context.Background(), time.Second); err != nil {
		t.Errorf("expected frames after restart, got %v", err)
	}
	if s.Stats().StreamErrors != 1 {
		t.Errorf("expected 1 stream error, got %d", s.Stats().StreamErrors)
	}
}

func TestSession_StartAfterStreamError(t *testing.T) {
	s, driver := openMock(t, testConfig(), testOptions(t.Name()))
	driver.Device().FailNext(errors.New("usb unplugged"))

	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	// Drain until the reader has exited
	for i := 0; i < 2; i++ {
		if _, err := s.PullFrame(context.Background(), time.Second); !errors.Is(err, sensing.ErrStream) {
			t.Fatalf("pull %d: expected ErrStream, got %v", i, err)
		}
	}
	if s.State() != StateListening || s.Healthy() {
		t.Fatalf("expected listening but unhealthy, got state=%s healthy=%v", s.State(), s.Healthy())
	}

	// Start alone recovers without a Stop
	if err := s.Start(); err != nil {
		t.Fatalf("Start() after stream error = %v", err)
	}
	if !s.Healthy() {
		t.Error("expected healthy session after restart")
	}
	if _, err := s.PullFrame(context.Background(), time.Second); err != nil {
		t.Errorf("expected frames after restart, got %v", err)
	}

	// A healthy session is left alone
	if err := s.Start(); err != nil {
		t.Errorf("Start() on healthy session = %v", err)
	}
	if s.Stats().StreamErrors != 1 {
		t.Errorf("expected 1 stream error, got %d", s.Stats().StreamErrors)
	}
}

func TestSession_CloseDuringPull(t *testing.T) {
	tests := []struct {
		name    string
		action  func(*Session) error
		wantErr error
	}{
		{"close", (*Session).Close, sensing.ErrClosed},
		{"stop", (*Session).Stop, sensing.ErrNotListening},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, driver := openMock(t, testConfig(), testOptions(t.Name()))
			driver.Device().SetStall(true)
			s.Start()

			errCh := make(chan error, 1)
			go func() {
				_, err := s.PullFrame(context.Background(), 5*time.Second)
				errCh <- err
			}()

			time.Sleep(50 * time.Millisecond)

			start := time.Now()
			if err := tt.action(s); err != nil {
				t.Fatalf("%s error = %v", tt.name, err)
			}

			select {
			case err := <-errCh:
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("expected %v, got %v", tt.wantErr, err)
				}
			case <-time.After(2 * time.Second):
				t.Fatal("in-flight PullFrame did not return")
			}

			if elapsed := time.Since(start); elapsed > time.Second {
				t.Errorf("%s took %s", tt.name, elapsed)
			}
		})
	}
}

func TestSession_CloseReleasesDevice(t *testing.T) {
	s, driver := openMock(t, testConfig(), testOptions(t.Name()))
	s.Start()
	s.Close()

	if !driver.Device().Closed() {
		t.Error("expected device to be closed")
	}
	if _, held := claims.holder(DriverMock + ":" + t.Name()); held {
		t.Error("expected claim to be released")
	}
}

func TestSession_DropsOldestFrame(t *testing.T) {
	opts := testOptions(t.Name())
	opts.BufferFrames = 2
	s, driver := openMock(t, testConfig(), opts)
	s.Start()

	deadline := time.Now().Add(2 * time.Second)
	for driver.Device().Reads() < 10 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	frame, err := s.PullFrame(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("PullFrame() error = %v", err)
	}
	if frame.Sequence <= 2 {
		t.Errorf("expected a recent frame, got sequence %d", frame.Sequence)
	}
	if s.Stats().DroppedFrames == 0 {
		t.Error("expected dropped frames")
	}
}

func TestSession_Multichannel(t *testing.T) {
	cfg := testConfig()
	cfg.Channels = 2
	s, _ := openMock(t, cfg, testOptions(t.Name()))
	s.Start()

	frame, err := s.PullFrame(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("PullFrame() error = %v", err)
	}
	if frame.Len() != cfg.ChunkSize*2 || frame.Channels != 2 {
		t.Fatalf("expected %d interleaved samples, got %d", cfg.ChunkSize*2, frame.Len())
	}
	for i := 0; i < frame.Len(); i += 2 {
		if frame.Samples[i] != frame.Samples[i+1] {
			t.Fatalf("channels differ at %d", i)
		}
	}
}

func TestSession_ContextCancel(t *testing.T) {
	s, driver := openMock(t, testConfig(), testOptions(t.Name()))
	driver.Device().SetStall(true)
	s.Start()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := s.PullFrame(ctx, time.Second); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

type failingDriver struct{ MockDriver }

func (failingDriver) Open(context.Context, sensing.Config, Options, *slog.Logger) (Device, error) {
	return nil, errors.New("no such device")
}

func TestOpen_Errors(t *testing.T) {
	if _, err := Open(context.Background(), testConfig(), testOptions(t.Name()), nil, nil); !errors.Is(err, sensing.ErrDeviceUnavailable) {
		t.Errorf("expected ErrDeviceUnavailable for nil driver, got %v", err)
	}

	opts := testOptions(t.Name())
	_, err := Open(context.Background(), testConfig(), opts, &failingDriver{}, nil)
	if !errors.Is(err, sensing.ErrDeviceUnavailable) {
		t.Errorf("expected ErrDeviceUnavailable, got %v", err)
	}
	if _, held := claims.holder(DriverMock + ":" + t.Name()); held {
		t.Error("expected claim to be released after failed open")
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateClosed, "closed"},
		{StateOpened, "opened"},
		{StateListening, "listening"},
		{StateStopped, "stopped"},
		{State(42), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %s, want %s", tt.state, got, tt.want)
		}
	}
}
