package server

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/teslashibe/go-echo/internal/metrics"
	"github.com/teslashibe/go-echo/internal/pipeline"
	"github.com/teslashibe/go-echo/internal/protocol"
)

const clientWriteTimeout = 5 * time.Second

// WSHub manages WebSocket connections and broadcasts pipeline snapshots
type WSHub struct {
	pipeline *pipeline.Pipeline
	metrics  *metrics.Metrics
	logger   *slog.Logger

	mu      sync.RWMutex
	clients map[*websocket.Conn]*client

	lifeMu sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// client serializes writes to one connection; the hub broadcast and the
// command replies write from different goroutines
type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(clientWriteTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// NewWSHub creates a new WebSocket hub
func NewWSHub(p *pipeline.Pipeline, m *metrics.Metrics, logger *slog.Logger) *WSHub {
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.New()
	}
	return &WSHub{
		pipeline: p,
		metrics:  m,
		logger:   logger,
		clients:  make(map[*websocket.Conn]*client),
		done:     make(chan struct{}),
	}
}

// Run forwards pipeline snapshots to every client until ctx ends or the
// pipeline stops (blocking, use goroutine).
func (h *WSHub) Run(ctx context.Context) {
	h.lifeMu.Lock()
	ctx, h.cancel = context.WithCancel(ctx)
	h.lifeMu.Unlock()
	defer close(h.done)

	if h.pipeline == nil {
		<-ctx.Done()
		return
	}

	updates := h.pipeline.Subscribe()
	defer h.pipeline.Unsubscribe(updates)

	var warned bool

	h.logger.Info("websocket hub started")

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("websocket hub stopped")
			return
		case snap, ok := <-updates:
			if !ok {
				h.logger.Info("websocket hub stopped", "reason", "pipeline stopped")
				return
			}

			h.publish(protocol.TypeSnapshot, snap)

			if snap.Narrate {
				if msg, err := protocol.NewNarrationMessage(snap.Sequence, snap.Summary); err == nil {
					h.broadcast(msg)
				}
			}

			// Announce an obstacle once when it comes inside warning distance
			nearest, warning := pipeline.NearestWarning(snap.Obstacles)
			if warning && !warned {
				if msg, err := protocol.NewObstacleMessage(snap.Sequence, nearest); err == nil {
					h.broadcast(msg)
				}
				h.logger.Debug("obstacle warning",
					"distance_meters", nearest.DistanceMeters,
					"confidence", nearest.Confidence,
				)
			}
			warned = warning
		}
	}
}

func (h *WSHub) publish(msgType protocol.MessageType, data interface{}) {
	msg, err := protocol.NewMessage(msgType, data)
	if err != nil {
		h.logger.Warn("websocket marshal error", "error", err)
		return
	}
	h.broadcast(msg)
}

func (h *WSHub) broadcast(msg *protocol.Message) {
	data, err := msg.Bytes()
	if err != nil {
		h.logger.Warn("websocket marshal error", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, cl := range h.clients {
		if err := cl.send(data); err != nil {
			// Will be cleaned up when connection closes
			h.logger.Debug("websocket write error", "error", err)
		}
	}
}

// UpgradeHandler returns the WebSocket upgrade handler
func (h *WSHub) UpgradeHandler() fiber.Handler {
	// Middleware to check if request is a WebSocket upgrade
	return func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return websocket.New(h.handleConnection)(c)
		}

		return c.Status(fiber.StatusUpgradeRequired).JSON(fiber.Map{
			"error":   "WebSocket upgrade required",
			"message": "Connect via WebSocket to receive the sensing stream",
		})
	}
}

func (h *WSHub) handleConnection(c *websocket.Conn) {
	cl := &client{conn: c}

	h.mu.Lock()
	h.clients[c] = cl
	clientCount := len(h.clients)
	h.mu.Unlock()
	h.metrics.SetStreamClients(clientCount)

	h.logger.Info("websocket client connected",
		"remote_addr", c.RemoteAddr().String(),
		"clients", clientCount,
	)

	defer func() {
		h.mu.Lock()
		delete(h.clients, c)
		clientCount := len(h.clients)
		h.mu.Unlock()
		h.metrics.SetStreamClients(clientCount)

		h.logger.Info("websocket client disconnected",
			"remote_addr", c.RemoteAddr().String(),
			"clients", clientCount,
		)
	}()

	// Keep connection alive, read for close or commands
	for {
		_, msg, err := c.ReadMessage()
		if err != nil {
			// Connection closed
			break
		}

		h.handleCommand(cl, msg)
	}
}

func (h *WSHub) handleCommand(cl *client, raw []byte) {
	msg, err := protocol.ParseMessage(raw)
	if err != nil {
		return
	}

	var reply *protocol.Message
	switch msg.Type {
	case protocol.TypePing:
		reply = protocol.NewPong()
	case protocol.TypeGetStats:
		if h.pipeline == nil {
			return
		}
		if reply, err = protocol.NewMessage(protocol.TypeStats, h.pipeline.Stats()); err != nil {
			return
		}
	default:
		return
	}

	data, err := reply.Bytes()
	if err != nil {
		return
	}
	if err := cl.send(data); err != nil {
		h.logger.Debug("websocket write error", "error", err)
	}
}

// ClientCount returns the number of connected WebSocket clients
func (h *WSHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close shuts down the WebSocket hub
func (h *WSHub) Close() {
	h.lifeMu.Lock()
	cancel := h.cancel
	h.lifeMu.Unlock()

	if cancel != nil {
		cancel()
		<-h.done
	}

	// Close all client connections
	h.mu.Lock()
	for conn := range h.clients {
		conn.Close()
	}
	h.clients = make(map[*websocket.Conn]*client)
	h.mu.Unlock()
	h.metrics.SetStreamClients(0)
}
