package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-echo/internal/protocol"
	"github.com/teslashibe/go-echo/internal/sensing"
)

// StreamOptions configures the networked microphone client
type StreamOptions struct {
	URL              string        `mapstructure:"url" json:"url"` // e.g. ws://mic.local:9000/mic
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout" json:"handshake_timeout"`
	QueueChunks      int           `mapstructure:"queue_chunks" json:"queue_chunks" validate:"gte=1"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout" json:"write_timeout"`
}

// DefaultStreamOptions returns sensible defaults
func DefaultStreamOptions() StreamOptions {
	return StreamOptions{
		URL:              "ws://localhost:9000/mic",
		HandshakeTimeout: 10 * time.Second,
		QueueChunks:      32,
		WriteTimeout:     5 * time.Second,
	}
}

var errStreamDisconnected = errors.New("mic stream disconnected")

// StreamDriver receives protocol mic messages from a WebSocket server
type StreamDriver struct{}

// Name returns "stream"
func (StreamDriver) Name() string { return DriverStream }

// Key identifies the stream by URL
func (StreamDriver) Key(opts Options) string {
	return DriverStream + ":" + opts.Stream.URL
}

// Available requires a configured URL; reachability is checked on Open
func (StreamDriver) Available(opts Options) error {
	if opts.Stream.URL == "" {
		return fmt.Errorf("%w: no stream url", sensing.ErrDeviceUnavailable)
	}
	return nil
}

// Open dials the stream
func (d StreamDriver) Open(ctx context.Context, cfg sensing.Config, opts Options, logger *slog.Logger) (Device, error) {
	if err := d.Available(opts); err != nil {
		return nil, err
	}

	s := &StreamDevice{
		cfg:    cfg,
		opts:   opts.Stream,
		logger: logger,
	}

	if err := s.connect(ctx); err != nil {
		return nil, fmt.Errorf("%w: %w", sensing.ErrDeviceUnavailable, err)
	}
	return s, nil
}

// StreamDevice turns a sequence of mic messages into fixed-size frames
type StreamDevice struct {
	cfg    sensing.Config
	opts   StreamOptions
	logger *slog.Logger

	mu      sync.Mutex
	conn    *streamConn
	pending []float64
	closed  bool

	running  atomic.Bool
	received atomic.Uint64
	skipped  atomic.Uint64
}

// streamConn is one WebSocket connection and its reader
type streamConn struct {
	ws     *websocket.Conn
	chunks chan []float64
	done   chan struct{}
	err    error // set before done is closed

	writeMu sync.Mutex
}

func (s *StreamDevice) connect(ctx context.Context) error {
	s.logger.Info("connecting to mic stream", "url", s.opts.URL)

	dialer := websocket.Dialer{
		HandshakeTimeout: s.opts.HandshakeTimeout,
	}

	ws, _, err := dialer.DialContext(ctx, s.opts.URL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	conn := &streamConn{
		ws:     ws,
		chunks: make(chan []float64, max(s.opts.QueueChunks, 1)),
		done:   make(chan struct{}),
	}
	s.conn = conn
	s.pending = s.pending[:0]

	go s.readLoop(conn)

	s.logger.Info("connected to mic stream")
	return nil
}

// readLoop reads messages until the connection fails
func (s *StreamDevice) readLoop(conn *streamConn) {
	defer close(conn.done)

	for {
		_, data, err := conn.ws.ReadMessage()
		if err != nil {
			conn.err = fmt.Errorf("%w: %w", errStreamDisconnected, err)
			return
		}

		msg, err := protocol.ParseMessage(data)
		if err != nil {
			s.logger.Debug("parse message error", "error", err)
			continue
		}

		switch msg.Type {
		case protocol.TypeMic:
			s.handleMic(conn, msg)

		case protocol.TypePing:
			s.send(conn, protocol.NewPong())
		}
	}
}

func (s *StreamDevice) handleMic(conn *streamConn, msg *protocol.Message) {
	mic, err := msg.GetMicData()
	if err != nil {
		s.logger.Debug("mic data error", "error", err)
		return
	}

	if mic.SampleRate != 0 && mic.SampleRate != s.cfg.SampleRate {
		s.skipped.Add(1)
		s.logger.Debug("mic sample rate mismatch",
			"got", mic.SampleRate,
			"want", s.cfg.SampleRate,
		)
		return
	}

	samples, err := mic.Samples(nil)
	if err != nil {
		s.logger.Debug("mic decode error", "error", err)
		return
	}

	s.received.Add(1)

	// Audio arriving while stopped is discarded
	if !s.running.Load() {
		return
	}

	select {
	case conn.chunks <- samples:
	default:
		s.skipped.Add(1)
	}
}

func (s *StreamDevice) send(conn *streamConn, msg *protocol.Message) {
	data, err := msg.Bytes()
	if err != nil {
		return
	}

	conn.writeMu.Lock()
	defer conn.writeMu.Unlock()

	conn.ws.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
	if err := conn.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		s.logger.Debug("send error", "error", err)
	}
}

// Start resumes delivery, reconnecting if the previous connection dropped
func (s *StreamDevice) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return sensing.ErrClosed
	}

	if s.conn != nil {
		select {
		case <-s.conn.done:
			s.conn.ws.Close()
			s.conn = nil
		default:
		}
	}

	if s.conn == nil {
		if err := s.connect(ctx); err != nil {
			return err
		}
	} else {
		s.drain()
	}

	s.running.Store(true)
	return nil
}

// drain drops audio queued before the last Stop. Caller holds s.mu.
func (s *StreamDevice) drain() {
	s.pending = s.pending[:0]
	for {
		select {
		case <-s.conn.chunks:
		default:
			return
		}
	}
}

// Read assembles one frame from queued chunks
func (s *StreamDevice) Read(ctx context.Context, buf []float64) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		return errStreamDisconnected
	}

	for len(s.pending) < len(buf) {
		select {
		case chunk := <-conn.chunks:
			s.pending = append(s.pending, chunk...)
		case <-conn.done:
			return conn.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	copy(buf, s.pending)
	s.pending = append(s.pending[:0], s.pending[len(buf):]...)
	return nil
}

// Stop pauses delivery; the connection stays open
func (s *StreamDevice) Stop() error {
	s.running.Store(false)
	return nil
}

// Close closes the connection
func (s *StreamDevice) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.running.Store(false)
	s.closed = true

	if s.conn == nil {
		return nil
	}

	conn := s.conn
	s.conn = nil

	conn.writeMu.Lock()
	conn.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	conn.writeMu.Unlock()

	err := conn.ws.Close()
	<-conn.done
	return err
}

// Name returns "stream"
func (s *StreamDevice) Name() string { return DriverStream }

// Received returns the number of mic messages decoded
func (s *StreamDevice) Received() uint64 {
	return s.received.Load()
}
