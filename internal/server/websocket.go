package server

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/teslashibe/go-portal/internal/protocol"
)

// HubConfig configures the state stream
type HubConfig struct {
	Interval  time.Duration // Broadcast period
	SessionID string
	Version   string
}

// client serialises writes to one connection
type client struct {
	id   string
	conn *websocket.Conn
	mu   sync.Mutex
}

func (cl *client) send(msg *protocol.Message) error {
	data, err := msg.Bytes()
	if err != nil {
		return err
	}

	cl.mu.Lock()
	defer cl.mu.Unlock()
	return cl.conn.WriteMessage(websocket.TextMessage, data)
}

// WSHub manages WebSocket connections, streams tick state and accepts
// pointer and reset commands
type WSHub struct {
	portal Portal
	cfg    HubConfig
	logger *slog.Logger

	mu      sync.RWMutex
	clients map[*websocket.Conn]*client

	cancel context.CancelFunc
	done   chan struct{}
}

// NewWSHub creates a new WebSocket hub
func NewWSHub(p Portal, cfg HubConfig, logger *slog.Logger) *WSHub {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 100 * time.Millisecond
	}

	return &WSHub{
		portal:  p,
		cfg:     cfg,
		logger:  logger,
		clients: make(map[*websocket.Conn]*client),
		done:    make(chan struct{}),
	}
}

// Run starts the broadcast loop
func (h *WSHub) Run(ctx context.Context) {
	ctx, h.cancel = context.WithCancel(ctx)
	defer close(h.done)

	ticker := time.NewTicker(h.cfg.Interval)
	defer ticker.Stop()

	var lastTick uint64

	h.logger.Info("websocket hub started", "interval", h.cfg.Interval)

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("websocket hub stopped")
			return
		case <-ticker.C:
			st := h.portal.Snapshot()
			if st.Tick == lastTick {
				continue
			}
			lastTick = st.Tick

			msg, err := protocol.NewStateMessage(stateData(st))
			if err != nil {
				h.logger.Warn("websocket marshal error", "error", err)
				continue
			}
			h.broadcast(msg)
		}
	}
}

func (h *WSHub) broadcast(msg *protocol.Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, cl := range h.clients {
		if err := cl.send(msg); err != nil {
			// Will be cleaned up when connection closes
			h.logger.Debug("websocket write error", "client", cl.id, "error", err)
		}
	}
}

// UpgradeHandler returns the WebSocket upgrade handler
func (h *WSHub) UpgradeHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return websocket.New(h.handleConnection)(c)
		}

		return c.Status(fiber.StatusUpgradeRequired).JSON(fiber.Map{
			"error":   "WebSocket upgrade required",
			"message": "Connect via WebSocket to receive the state stream",
		})
	}
}

func (h *WSHub) handleConnection(c *websocket.Conn) {
	cl := &client{id: uuid.New().String(), conn: c}

	h.mu.Lock()
	h.clients[c] = cl
	clientCount := len(h.clients)
	h.mu.Unlock()

	h.logger.Info("websocket client connected",
		"client", cl.id,
		"remote_addr", c.RemoteAddr().String(),
		"clients", clientCount,
	)

	defer func() {
		h.mu.Lock()
		delete(h.clients, c)
		clientCount := len(h.clients)
		h.mu.Unlock()

		h.logger.Info("websocket client disconnected",
			"client", cl.id,
			"clients", clientCount,
		)
	}()

	hello, _ := protocol.NewMessage(protocol.TypeHello, protocol.HelloData{
		SessionID: h.cfg.SessionID,
		ClientID:  cl.id,
		Version:   h.cfg.Version,
	})
	if err := cl.send(hello); err != nil {
		return
	}

	if st := h.portal.Snapshot(); st.Tick > 0 {
		if msg, err := protocol.NewStateMessage(stateData(st)); err == nil {
			if err := cl.send(msg); err != nil {
				return
			}
		}
	}

	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			break
		}

		if reply := h.handleCommand(data); reply != nil {
			if err := cl.send(reply); err != nil {
				break
			}
		}
	}
}

// handleCommand applies a client command and returns the reply, if any
func (h *WSHub) handleCommand(data []byte) *protocol.Message {
	msg, err := protocol.ParseMessage(data)
	if err != nil {
		return protocol.NewErrorMessage("invalid message: %v", err)
	}

	switch msg.Type {
	case protocol.TypePing:
		pong, _ := protocol.NewMessage(protocol.TypePong, time.Now().Unix())
		return pong

	case protocol.TypeGetStats:
		stats, err := protocol.NewMessage(protocol.TypeStats, h.portal.Stats())
		if err != nil {
			return protocol.NewErrorMessage("stats: %v", err)
		}
		return stats

	case protocol.TypePointer:
		p, err := msg.GetPointerData()
		if err != nil {
			return protocol.NewErrorMessage("invalid pointer: %v", err)
		}
		if err := h.portal.QueuePointer(p.DX, p.DY); err != nil {
			return protocol.NewErrorMessage("pointer: %v", err)
		}
		return nil

	case protocol.TypeReset:
		h.portal.QueueReset()
		return nil

	default:
		return protocol.NewErrorMessage("unknown command %q", msg.Type)
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
	if h.cancel != nil {
		h.cancel()
		<-h.done
	}

	h.mu.Lock()
	for conn := range h.clients {
		conn.Close()
	}
	h.clients = make(map[*websocket.Conn]*client)
	h.mu.Unlock()
}
