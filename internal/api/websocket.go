package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nerrad567/pi-relay/internal/infrastructure/config"
	"github.com/nerrad567/pi-relay/internal/infrastructure/logging"
	"github.com/nerrad567/pi-relay/internal/registry"
	"github.com/nerrad567/pi-relay/internal/relay"
)

// wsSendBufferSize is the per-client outbound message buffer size.
const wsSendBufferSize = 256

// EventHandler receives channel lifecycle and inbound events.
type EventHandler interface {
	ChannelOpened(channelID string, sender registry.Sender)
	ChannelClosed(channelID string)
	HandleEvent(ctx context.Context, channelID, name string, payload json.RawMessage) error
}

// Hub manages WebSocket connections. Each client is one relay channel.
type Hub struct {
	cfg     config.WebSocketConfig
	logger  *logging.Logger
	handler EventHandler
	clients map[*WSClient]struct{}
	mu      sync.RWMutex
}

// WSClient represents a connected WebSocket client.
type WSClient struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// upgrader configures the WebSocket upgrader.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Origin checking is handled by CORS middleware
		return true
	},
}

// NewHub creates a new WebSocket hub.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger, handler EventHandler) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		handler: handler,
		clients: make(map[*WSClient]struct{}),
	}
}

// Run blocks until the context is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// Register adds a client to the hub and opens its relay channel.
func (h *Hub) Register(client *WSClient) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()
	h.handler.ChannelOpened(client.id, client)
	h.logger.Debug("websocket client connected", "channel_id", client.id, "clients", h.ClientCount())
}

// Unregister removes a client from the hub and closes its relay channel.
// Only the goroutine that successfully removes the client from the map
// closes the send channel, preventing double-close panics during shutdown.
func (h *Hub) Unregister(client *WSClient) {
	h.handler.ChannelClosed(client.id)

	h.mu.Lock()
	_, existed := h.clients[client]
	delete(h.clients, client)
	h.mu.Unlock()

	if existed {
		close(client.send)
	}
	h.logger.Debug("websocket client disconnected", "channel_id", client.id, "clients", h.ClientCount())
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// closeAll disconnects all clients and closes their send channels
// so writePump goroutines can exit cleanly.
func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		h.handler.ChannelClosed(client.id)
		close(client.send)
		if client.conn != nil {
			client.conn.Close()
		}
		delete(h.clients, client)
	}
}

// handleWebSocket upgrades the HTTP connection to a WebSocket connection.
// Both devices and dashboards connect here; devices identify themselves by
// sending a register_pi event.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &WSClient{
		id:   uuid.NewString(),
		hub:  s.hub,
		conn: conn,
		send: make(chan []byte, wsSendBufferSize),
	}
	s.logger.Info("channel connected", "channel_id", client.id, "client_ip", clientIP(r))

	s.hub.Register(client)

	go client.writePump(s.wsCfg)
	go client.readPump(s.wsCfg)
}

// readPump reads messages from the WebSocket connection.
func (c *WSClient) readPump(cfg config.WebSocketConfig) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	pongWait := time.Duration(cfg.PongTimeout) * time.Second
	//nolint:errcheck // Best-effort deadline on connection setup
	c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "channel_id", c.id, "error", err)
			} else {
				c.hub.logger.Debug("websocket closed", "channel_id", c.id, "error", err)
			}
			return
		}
		// Any client message resets the read deadline (keeps connection alive
		// even if the peer doesn't respond to protocol-level pings).
		//nolint:errcheck // Best-effort deadline reset
		c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
		c.handleMessage(message)
	}
}

// writePump writes messages to the WebSocket connection.
func (c *WSClient) writePump(cfg config.WebSocketConfig) {
	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	pongWait := time.Duration(cfg.PongTimeout) * time.Second

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				// Hub closed the channel
				//nolint:errcheck // Best-effort close message
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			//nolint:errcheck // Best-effort deadline; write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage processes an incoming WebSocket frame.
func (c *WSClient) handleMessage(data []byte) {
	var msg relay.Frame
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("", "invalid JSON message")
		return
	}

	switch msg.Type {
	case relay.FrameTypeEvent:
		if err := c.hub.handler.HandleEvent(context.Background(), c.id, msg.EventType, msg.Payload); err != nil {
			if !relay.IsValidationError(err) {
				c.hub.logger.Error("inbound event failed", "channel_id", c.id, "event", msg.EventType, "error", err)
				c.sendError(msg.ID, "internal error")
				return
			}
			c.hub.logger.Warn("inbound event rejected",
				"channel_id", c.id,
				"event", msg.EventType,
				"error", err,
			)
			c.sendError(msg.ID, err.Error())
		}
	case relay.FrameTypePing:
		c.sendResponse(msg.ID, relay.FrameTypePong, nil)
	default:
		c.sendError(msg.ID, "unknown message type: "+msg.Type)
	}
}

// Send queues a frame for delivery. It never blocks and reports false when
// the client is gone or its buffer is full.
func (c *WSClient) Send(data []byte) bool {
	return c.trySend(data)
}

// trySend attempts to send data to the client's send channel.
// It silently handles closed channels (client disconnected during broadcast)
// and full buffers (slow client).
func (c *WSClient) trySend(data []byte) (sent bool) {
	defer func() {
		if recover() != nil {
			sent = false
		}
	}()

	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// sendResponse sends a response frame to the client.
func (c *WSClient) sendResponse(id, frameType string, payload any) {
	data, err := relay.EncodeFrame(frameType, id, "", payload)
	if err != nil {
		return
	}
	c.trySend(data)
}

// sendError sends an error frame to the client.
func (c *WSClient) sendError(id, message string) {
	c.sendResponse(id, relay.FrameTypeError, map[string]string{"message": message})
}
