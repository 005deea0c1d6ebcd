package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-echo/internal/sensing"
)

// Session is an exclusive capture stream on one device.
//
// Lifecycle transitions (Start, Stop, Close) are serialized. PullFrame may
// be called from any goroutine and never blocks past its timeout, including
// while Stop or Close run concurrently.
type Session struct {
	id     string
	key    string
	cfg    sensing.Config
	opts   Options
	driver string
	device Device
	logger *slog.Logger

	mu    sync.Mutex // serializes transitions
	state atomic.Int32
	gen   atomic.Pointer[generation]

	seq atomic.Uint64

	// Stats
	openedAt     time.Time
	framesRead   atomic.Uint64
	dropped      atomic.Uint64
	timeouts     atomic.Uint64
	streamErrors atomic.Uint64
}

// generation is one Listening period with its own reader goroutine
type generation struct {
	ctx      context.Context
	cancel   context.CancelFunc
	frames   chan result
	finished chan struct{}
	err      error // set by the reader before frames is closed
}

// exited reports whether the reader goroutine has returned
func (g *generation) exited() bool {
	select {
	case <-g.finished:
		return true
	default:
		return false
	}
}

type result struct {
	frame sensing.Frame
	err   error
}

// Open claims and opens the device selected by driver.
// It fails with sensing.ErrDeviceBusy when another session holds the
// device and sensing.ErrDeviceUnavailable when the backend is missing.
func Open(ctx context.Context, cfg sensing.Config, opts Options, driver Driver, logger *slog.Logger) (*Session, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if driver == nil {
		return nil, fmt.Errorf("%w: no driver", sensing.ErrDeviceUnavailable)
	}

	s := &Session{
		id:     uuid.NewString(),
		key:    driver.Key(opts),
		cfg:    cfg,
		opts:   opts,
		driver: driver.Name(),
	}
	s.logger = logger.With("session", s.id, "driver", s.driver)

	if err := claims.acquire(s.key, s.id); err != nil {
		return nil, err
	}

	device, err := driver.Open(ctx, cfg, opts, s.logger)
	if err != nil {
		claims.release(s.key, s.id)
		return nil, unavailable(err)
	}

	s.device = device
	s.openedAt = time.Now()
	s.state.Store(int32(StateOpened))

	s.logger.Info("capture session opened",
		"device", s.key,
		"sample_rate", cfg.SampleRate,
		"chunk_size", cfg.ChunkSize,
		"channels", cfg.Channels,
	)

	return s, nil
}

// Start begins listening. Starting a healthy listening session is a
// no-op; a listening session whose reader exited on a stream error is
// restarted.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.State() {
	case StateClosed:
		return sensing.ErrClosed
	case StateListening:
		gen := s.gen.Load()
		if gen == nil || !gen.exited() {
			return nil
		}
		s.state.Store(int32(StateStopped))
		if err := s.halt(); err != nil {
			s.logger.Debug("device stop before restart", "error", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := s.device.Start(ctx); err != nil {
		cancel()
		s.streamErrors.Add(1)
		return fmt.Errorf("%w: start: %w", sensing.ErrStream, err)
	}

	gen := &generation{
		ctx:      ctx,
		cancel:   cancel,
		frames:   make(chan result, s.opts.bufferFrames()),
		finished: make(chan struct{}),
	}
	s.gen.Store(gen)
	s.state.Store(int32(StateListening))

	go s.readLoop(gen)

	s.logger.Info("capture started")
	return nil
}

// Stop stops listening. Stopping a session that is not listening is a no-op.
func (s *Session) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.State() != StateListening {
		return nil
	}

	s.state.Store(int32(StateStopped))
	err := s.halt()

	s.logger.Info("capture stopped")
	return err
}

// Close stops listening if needed, closes the device and releases the
// device claim. Closing a closed session is a no-op.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.State() == StateClosed {
		return nil
	}

	var errs []error
	listening := s.State() == StateListening
	s.state.Store(int32(StateClosed))
	if listening {
		errs = append(errs, s.halt())
	}

	errs = append(errs, s.device.Close())
	claims.release(s.key, s.id)

	s.logger.Info("capture session closed",
		"frames", s.framesRead.Load(),
		"timeouts", s.timeouts.Load(),
		"stream_errors", s.streamErrors.Load(),
	)

	return errors.Join(errs...)
}

// halt cancels the current generation and waits for its reader, bounded
// by the read timeout. Caller holds s.mu.
func (s *Session) halt() error {
	gen := s.gen.Load()
	if gen == nil {
		return nil
	}

	gen.cancel()
	err := s.device.Stop()

	select {
	case <-gen.finished:
	case <-time.After(s.opts.readTimeout()):
		s.logger.Warn("capture reader did not exit in time",
			"timeout", s.opts.readTimeout(),
		)
	}

	return err
}

func (s *Session) readLoop(gen *generation) {
	defer close(gen.frames)
	defer close(gen.finished)

	frameLen := s.cfg.FrameLen()

	for {
		buf := make([]float64, frameLen)
		err := s.device.Read(gen.ctx, buf)

		// Results read after Stop or Close are discarded
		if gen.ctx.Err() != nil {
			return
		}

		if err != nil {
			s.streamErrors.Add(1)
			gen.err = fmt.Errorf("%w: %w", sensing.ErrStream, err)
			s.logger.Warn("capture read failed", "error", err)
			s.deliver(gen, result{err: gen.err})
			return
		}

		s.framesRead.Add(1)
		s.deliver(gen, result{frame: sensing.Frame{
			Samples:    buf,
			SampleRate: s.cfg.SampleRate,
			Channels:   s.cfg.Channels,
			Sequence:   s.seq.Add(1),
			Timestamp:  time.Now(),
		}})
	}
}

// deliver queues r, dropping the oldest queued frame when the consumer
// falls behind so the device read never stalls on analysis.
func (s *Session) deliver(gen *generation, r result) {
	select {
	case gen.frames <- r:
		return
	default:
	}

	select {
	case <-gen.frames:
		s.dropped.Add(1)
	default:
	}

	select {
	case gen.frames <- r:
	case <-gen.ctx.Done():
	}
}

// PullFrame returns the next frame.
//
// It fails with sensing.ErrNotListening before Start or after Stop,
// sensing.ErrClosed after Close, sensing.ErrReadTimeout when no frame
// arrives within timeout and sensing.ErrStream when the device failed.
// A non-positive timeout selects the configured read timeout.
func (s *Session) PullFrame(ctx context.Context, timeout time.Duration) (sensing.Frame, error) {
	if err := s.notListening(); err != nil {
		return sensing.Frame{}, err
	}

	gen := s.gen.Load()
	if timeout <= 0 {
		timeout = s.opts.readTimeout()
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r, ok := <-gen.frames:
		if gen.ctx.Err() != nil {
			return sensing.Frame{}, s.stateError()
		}
		if !ok {
			return sensing.Frame{}, gen.err
		}
		if r.err != nil {
			return sensing.Frame{}, r.err
		}
		return r.frame, nil

	case <-gen.ctx.Done():
		return sensing.Frame{}, s.stateError()

	case <-timer.C:
		s.timeouts.Add(1)
		return sensing.Frame{}, fmt.Errorf("%w: no frame within %s", sensing.ErrReadTimeout, timeout)

	case <-ctx.Done():
		return sensing.Frame{}, ctx.Err()
	}
}

func (s *Session) notListening() error {
	if s.State() == StateListening {
		return nil
	}
	return s.stateError()
}

func (s *Session) stateError() error {
	if s.State() == StateClosed {
		return sensing.ErrClosed
	}
	return sensing.ErrNotListening
}

// State returns the current lifecycle state
func (s *Session) State() State {
	return State(s.state.Load())
}

// ID returns the unique session identifier
func (s *Session) ID() string {
	return s.id
}

// Config returns the sensing configuration the session captures with
func (s *Session) Config() sensing.Config {
	return s.cfg
}

// Healthy returns true while the session can deliver frames
func (s *Session) Healthy() bool {
	if s.State() != StateListening {
		return false
	}
	return !s.gen.Load().exited()
}

// SessionStats contains capture statistics
type SessionStats struct {
	ID            string    `json:"id"`
	Driver        string    `json:"driver"`
	Device        string    `json:"device"`
	State         State     `json:"state"`
	OpenedAt      time.Time `json:"opened_at"`
	FramesRead    uint64    `json:"frames_read"`
	DroppedFrames uint64    `json:"dropped_frames"`
	Timeouts      uint64    `json:"timeouts"`
	StreamErrors  uint64    `json:"stream_errors"`
}

// Stats returns session statistics
func (s *Session) Stats() SessionStats {
	return SessionStats{
		ID:            s.id,
		Driver:        s.driver,
		Device:        s.key,
		State:         s.State(),
		OpenedAt:      s.openedAt,
		FramesRead:    s.framesRead.Load(),
		DroppedFrames: s.dropped.Load(),
		Timeouts:      s.timeouts.Load(),
		StreamErrors:  s.streamErrors.Load(),
	}
}
