package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"lessonsync/internal/metrics"
	"lessonsync/pkg/types"
)

// Authenticator verifies the handshake request before upgrading
type Authenticator interface {
	Authenticate(r *http.Request) (types.Identity, error)
}

// Dispatcher receives the lifecycle and inbound events of every connection.
// Calls for one connection are made in order: Connect, Dispatch..., Disconnect.
type Dispatcher interface {
	Connect(sender types.Sender)
	Dispatch(ctx context.Context, sender types.Sender, envelope *types.Envelope)
	Disconnect(sender types.Sender)
}

// Handler upgrades authenticated requests to websockets and pumps their
// frames into the dispatcher.
type Handler struct {
	registry   *Registry
	auth       Authenticator
	dispatcher Dispatcher
	cfg        Config
	metrics    *metrics.Metrics
	logger     *slog.Logger
	upgrader   websocket.Upgrader
}

// NewHandler creates a websocket handler
func NewHandler(registry *Registry, auth Authenticator, dispatcher Dispatcher, cfg Config, m *metrics.Metrics, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		registry:   registry,
		auth:       auth,
		dispatcher: dispatcher,
		cfg:        cfg,
		metrics:    m,
		logger:     logger.With("component", "websocket_handler"),
		upgrader: websocket.Upgrader{
			CheckOrigin:      func(r *http.Request) bool { return true },
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

// ServeHTTP authenticates, upgrades and registers the connection.
// Unauthenticated requests are refused before the upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	identity, err := h.auth.Authenticate(r)
	if err != nil {
		h.metrics.AuthFailure()
		http.Error(w, "authentication failed", http.StatusUnauthorized)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "user_id", identity.ID, "error", err)
		return
	}

	conn := NewConnection(ws, identity, h.cfg, h.logger)
	if err := h.registry.Register(conn); err != nil {
		h.logger.Error("failed to register connection", "connection_id", conn.ID(), "error", err)
		conn.Close()
		return
	}
	h.metrics.ConnectionOpened()
	h.dispatcher.Connect(conn.Sender())

	go h.readPump(conn, ws)
}

func (h *Handler) readPump(conn *Connection, ws *websocket.Conn) {
	sender := conn.Sender()
	defer func() {
		h.registry.Unregister(conn)
		h.dispatcher.Disconnect(sender)
		conn.Close()
		h.metrics.ConnectionClosed()
	}()

	if h.cfg.MaxMessageSize > 0 {
		ws.SetReadLimit(h.cfg.MaxMessageSize)
	}
	if h.cfg.PongTimeout > 0 {
		_ = ws.SetReadDeadline(time.Now().Add(h.cfg.PongTimeout))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(h.cfg.PongTimeout))
		})
	}

	for {
		messageType, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				h.logger.Debug("connection read failed", "connection_id", sender.ConnectionID, "error", err)
			}
			return
		}

		if messageType != websocket.TextMessage {
			h.reject(conn, ErrBinaryFrame)
			continue
		}

		var envelope types.Envelope
		if err := json.Unmarshal(data, &envelope); err != nil {
			h.reject(conn, fmt.Errorf("%w: %v", ErrMalformedFrame, err))
			continue
		}
		if envelope.Event == "" {
			h.reject(conn, fmt.Errorf("%w: missing event", ErrMalformedFrame))
			continue
		}

		h.dispatcher.Dispatch(conn.Context(), sender, &envelope)
	}
}

// reject answers a frame that never reached the router
func (h *Handler) reject(conn *Connection, err error) {
	h.metrics.ProtocolError("malformed_frame")
	h.logger.Warn("frame rejected", "connection_id", conn.ID(), "error", err)
	h.registry.ToConnection(conn.ID(), types.NewOutbound(types.EventError, &types.ErrorPayload{
		Message: err.Error(),
	}))
}
