package capture

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-echo/internal/protocol"
	"github.com/teslashibe/go-echo/internal/sensing"
)

var upgrader = websocket.Upgrader{}

// micServer streams constant-valued mic chunks until the client leaves.
// chunks < 0 streams forever.
func micServer(t *testing.T, value float64, sampleRate, chunks int) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		samples := make([]float64, 128)
		for i := range samples {
			samples[i] = value
		}

		for seq := uint64(1); chunks < 0 || int(seq) <= chunks; seq++ {
			msg, _ := protocol.NewMicMessage(samples, sampleRate, 1, seq)
			data, _ := msg.Bytes()
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
			time.Sleep(time.Millisecond)
		}
	}))
	t.Cleanup(srv.Close)

	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func streamOptions(url string) Options {
	opts := DefaultOptions()
	opts.Driver = DriverStream
	opts.Stream.URL = url
	opts.Stream.HandshakeTimeout = time.Second
	opts.ReadTimeout = 2 * time.Second
	return opts
}

func TestStreamDevice_AssemblesFrames(t *testing.T) {
	srv := micServer(t, 0.25, 16000, -1)

	s, err := Open(context.Background(), testConfig(), streamOptions(wsURL(srv)), StreamDriver{}, nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer s.Close()

	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	frame, err := s.PullFrame(context.Background(), 2*time.Second)
	if err != nil {
		t.Fatalf("PullFrame() error = %v", err)
	}
	if frame.Len() != 256 {
		t.Fatalf("expected 256 samples, got %d", frame.Len())
	}
	for i, v := range frame.Samples {
		// PCM16 quantization of 0.25
		if d := v - 0.25; d > 1e-4 || d < -1e-4 {
			t.Fatalf("sample %d = %f, want 0.25", i, v)
		}
	}
}

func TestStreamDevice_SampleRateMismatch(t *testing.T) {
	srv := micServer(t, 0.25, 48000, -1)

	s, err := Open(context.Background(), testConfig(), streamOptions(wsURL(srv)), StreamDriver{}, nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer s.Close()
	s.Start()

	if _, err := s.PullFrame(context.Background(), 200*time.Millisecond); !errors.Is(err, sensing.ErrReadTimeout) {
		t.Errorf("expected mismatched chunks to be skipped, got %v", err)
	}
}

func TestStreamDevice_Disconnect(t *testing.T) {
	srv := micServer(t, 0.1, 16000, 1)

	s, err := Open(context.Background(), testConfig(), streamOptions(wsURL(srv)), StreamDriver{}, nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer s.Close()
	s.Start()

	if _, err := s.PullFrame(context.Background(), 2*time.Second); !errors.Is(err, sensing.ErrStream) {
		t.Errorf("expected ErrStream after server hangup, got %v", err)
	}
}

func TestStreamDriver_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := wsURL(srv)
	srv.Close()

	_, err := Open(context.Background(), testConfig(), streamOptions(url), StreamDriver{}, nil)
	if !errors.Is(err, sensing.ErrDeviceUnavailable) {
		t.Errorf("expected ErrDeviceUnavailable, got %v", err)
	}

	if err := (StreamDriver{}).Available(streamOptions("")); !errors.Is(err, sensing.ErrDeviceUnavailable) {
		t.Errorf("expected missing url to be unavailable, got %v", err)
	}
}

func TestStreamDevice_AnswersPing(t *testing.T) {
	pong := make(chan struct{}, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		ping, _ := protocol.NewMessage(protocol.TypePing, nil)
		data, _ := ping.Bytes()
		conn.WriteMessage(websocket.TextMessage, data)

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if msg, err := protocol.ParseMessage(data); err == nil && msg.Type == protocol.TypePong {
				pong <- struct{}{}
			}
		}
	}))
	defer srv.Close()

	s, err := Open(context.Background(), testConfig(), streamOptions(wsURL(srv)), StreamDriver{}, nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer s.Close()

	select {
	case <-pong:
	case <-time.After(2 * time.Second):
		t.Fatal("expected a pong")
	}
}
