package websocket

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"lessonsync/pkg/types"
)

// Config tunes a single connection
type Config struct {
	SendBuffer     int           // outbound frames queued per connection
	WriteTimeout   time.Duration // deadline for each frame write
	PongTimeout    time.Duration // read deadline, extended by every pong
	PingInterval   time.Duration // must be shorter than PongTimeout
	MaxMessageSize int64         // largest inbound frame accepted
}

// DefaultConfig returns the settings used when nothing is configured
func DefaultConfig() Config {
	return Config{
		SendBuffer:     100,
		WriteTimeout:   5 * time.Second,
		PongTimeout:    60 * time.Second,
		PingInterval:   30 * time.Second,
		MaxMessageSize: 64 * 1024,
	}
}

// Connection wraps an authenticated websocket.
// All writes happen on a single writer goroutine; Send only enqueues.
type Connection struct {
	id       string
	conn     *websocket.Conn
	identity types.Identity
	cfg      Config
	sendCh   chan []byte
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	once     sync.Once
	logger   *slog.Logger
}

// NewConnection wraps conn for the identity and starts its writer
func NewConnection(conn *websocket.Conn, identity types.Identity, cfg Config, logger *slog.Logger) *Connection {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = DefaultConfig().SendBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		id:       uuid.NewString(),
		conn:     conn,
		identity: identity,
		cfg:      cfg,
		sendCh:   make(chan []byte, cfg.SendBuffer),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	c.logger = logger.With("connection_id", c.id, "user_id", identity.ID)

	go c.writeLoop()

	return c
}

// ID returns the server-assigned connection id
func (c *Connection) ID() string {
	return c.id
}

// Identity returns the principal verified at handshake
func (c *Connection) Identity() types.Identity {
	return c.identity
}

// Sender describes the connection to the router
func (c *Connection) Sender() types.Sender {
	return types.Sender{ConnectionID: c.id, Identity: c.identity}
}

// Context is cancelled once the connection starts closing
func (c *Connection) Context() context.Context {
	return c.ctx
}

// Done is closed when the writer has flushed and the socket is closed
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// Send enqueues an encoded frame without blocking
func (c *Connection) Send(data []byte) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	select {
	case c.sendCh <- data:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Close stops the connection. Frames already queued are still written
// before the close frame goes out.
func (c *Connection) Close() {
	c.once.Do(c.cancel)
}

func (c *Connection) writeLoop() {
	ticker := &time.Ticker{}
	if c.cfg.PingInterval > 0 {
		ticker = time.NewTicker(c.cfg.PingInterval)
		defer ticker.Stop()
	}

	defer func() {
		c.Close()
		_ = c.conn.Close()
		close(c.done)
	}()

	for {
		select {
		case data := <-c.sendCh:
			if err := c.write(websocket.TextMessage, data); err != nil {
				c.logger.Debug("write failed", "error", err)
				return
			}

		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, c.deadline()); err != nil {
				c.logger.Debug("ping failed", "error", err)
				return
			}

		case <-c.ctx.Done():
			c.drain()
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), c.deadline())
			return
		}
	}
}

// drain flushes whatever was queued before Close
func (c *Connection) drain() {
	for {
		select {
		case data := <-c.sendCh:
			if err := c.write(websocket.TextMessage, data); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *Connection) write(messageType int, data []byte) error {
	if err := c.conn.SetWriteDeadline(c.deadline()); err != nil {
		return err
	}
	return c.conn.WriteMessage(messageType, data)
}

func (c *Connection) deadline() time.Time {
	if c.cfg.WriteTimeout <= 0 {
		return time.Time{}
	}
	return time.Now().Add(c.cfg.WriteTimeout)
}
