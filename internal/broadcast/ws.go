package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nerrad567/coldwatch-core/internal/infrastructure/config"
)

const (
	defaultMaxMessageSize = 8192
	defaultPingInterval   = 30 * time.Second
	defaultPongTimeout    = 10 * time.Second

	// requestTimeout bounds one hub call made on behalf of a client message.
	requestTimeout = 5 * time.Second
)

// WSConfig controls the WebSocket transport.
type WSConfig struct {
	MaxMessageSize int64
	PingInterval   time.Duration
	PongTimeout    time.Duration
}

// WSConfigFromApp converts the websocket section of config.yaml.
func WSConfigFromApp(c config.WebSocketConfig) WSConfig {
	return WSConfig{
		MaxMessageSize: int64(c.MaxMessageSize),
		PingInterval:   time.Duration(c.PingInterval) * time.Second,
		PongTimeout:    time.Duration(c.PongTimeout) * time.Second,
	}
}

func (c WSConfig) withDefaults() WSConfig {
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = defaultMaxMessageSize
	}
	if c.PingInterval <= 0 {
		c.PingInterval = defaultPingInterval
	}
	if c.PongTimeout <= 0 {
		c.PongTimeout = defaultPongTimeout
	}
	return c
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(_ *http.Request) bool {
		// Origin checking is handled by CORS middleware
		return true
	},
}

// Handler serves dashboard clients over WebSocket.
type Handler struct {
	hub    *Hub
	cfg    WSConfig
	logger Logger
}

// NewHandler creates a WebSocket handler for hub.
func NewHandler(hub *Hub, cfg WSConfig, logger Logger) *Handler {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Handler{hub: hub, cfg: cfg.withDefaults(), logger: logger}
}

// ServeHTTP upgrades the connection and serves the client until it
// disconnects or is evicted.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader has already written the error response.
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	clientID := uuid.NewString()
	closeConn := func() { _ = conn.Close() } //nolint:errcheck // The pumps see the resulting error
	send, err := h.hub.Attach(r.Context(), clientID, closeConn)
	if err != nil {
		h.logger.Warn("websocket attach failed", "error", err)
		conn.Close() //nolint:errcheck // Best effort on error path
		return
	}

	go h.writePump(conn, send)
	h.readPump(conn, clientID)
}

// readPump handles client requests until the connection closes, then
// detaches the client.
func (h *Handler) readPump(conn *websocket.Conn, clientID string) {
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		_ = h.hub.Detach(ctx, clientID) //nolint:errcheck // Hub may already be stopped
		conn.Close()                    //nolint:errcheck // Best effort
	}()

	conn.SetReadLimit(h.cfg.MaxMessageSize)
	deadline := h.cfg.PingInterval + h.cfg.PongTimeout
	_ = conn.SetReadDeadline(time.Now().Add(deadline)) //nolint:errcheck // Best-effort deadline
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(deadline))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket read error", "client_id", clientID, "error", err)
			}
			return
		}
		// Any client message counts as liveness.
		_ = conn.SetReadDeadline(time.Now().Add(deadline)) //nolint:errcheck // Best-effort deadline

		if err := h.handle(clientID, data); err != nil {
			if errors.Is(err, ErrStopped) || errors.Is(err, ErrUnknownClient) {
				return
			}
			h.logger.Debug("websocket request failed", "client_id", clientID, "error", err)
		}
	}
}

func (h *Handler) handle(clientID string, data []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return h.hub.Reply(ctx, clientID, Message{Type: TypeError, Error: "invalid JSON message"})
	}

	switch req.Type {
	case TypeSubscribe:
		subs, err := h.hub.Subscribe(ctx, clientID, req.DeviceIDs)
		if err != nil {
			return err
		}
		return h.hub.Reply(ctx, clientID, Message{Type: TypeSubscriptionConfirmed, DeviceIDs: subs})

	case TypeUnsubscribe:
		subs, err := h.hub.Unsubscribe(ctx, clientID, req.DeviceIDs)
		if err != nil {
			return err
		}
		return h.hub.Reply(ctx, clientID, Message{Type: TypeUnsubscriptionConfirmed, DeviceIDs: subs})

	case TypeGetData:
		if req.DeviceID == "" {
			return h.hub.Reply(ctx, clientID, Message{Type: TypeError, Error: "get_data requires device_id"})
		}
		readings, err := h.hub.GetRecent(ctx, req.DeviceID, req.Limit)
		if err != nil {
			return err
		}
		return h.hub.Reply(ctx, clientID, Message{Type: TypeDataResponse, DeviceID: req.DeviceID, Data: readings})

	case TypePing:
		return h.hub.Reply(ctx, clientID, Message{Type: TypePong})

	default:
		return h.hub.Reply(ctx, clientID, Message{Type: TypeError, Error: "unknown message type: " + req.Type})
	}
}

// writePump forwards queued messages and sends protocol pings.
func (h *Handler) writePump(conn *websocket.Conn, send <-chan []byte) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		conn.Close() //nolint:errcheck // Best effort
	}()

	for {
		select {
		case msg, ok := <-send:
			_ = conn.SetWriteDeadline(time.Now().Add(h.cfg.PongTimeout)) //nolint:errcheck // Write error caught below
			if !ok {
				// Hub closed the channel
				_ = conn.WriteMessage(websocket.CloseMessage, nil) //nolint:errcheck // Best-effort close message
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(h.cfg.PongTimeout)) //nolint:errcheck // Ping error caught below
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
