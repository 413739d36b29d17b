// ABOUTME: Websocket connection wrapper with buffered outbound queue
// ABOUTME: Write pump owns the socket; events are dropped rather than block a slow client

package realtime

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// sendBufferSize is the outbound queue per connection.
	sendBufferSize = 64

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	maxFrameSize = 64 * 1024
)

// Conn is one live, authenticated websocket connection for a participant.
type Conn struct {
	id     string
	userID uint64
	sock   *websocket.Conn
	send   chan []byte
	logger *slog.Logger

	closeOnce sync.Once
	done      chan struct{}
}

// NewConn wraps an upgraded websocket for the given participant.
func NewConn(userID uint64, sock *websocket.Conn, logger *slog.Logger) *Conn {
	if logger == nil {
		logger = slog.Default()
	}
	id := uuid.New().String()
	return &Conn{
		id:     id,
		userID: userID,
		sock:   sock,
		send:   make(chan []byte, sendBufferSize),
		logger: logger.With("component", "realtime", "conn_id", id),
		done:   make(chan struct{}),
	}
}

// ID returns the connection's unique handle.
func (c *Conn) ID() string { return c.id }

// UserID returns the authenticated participant this connection belongs to.
func (c *Conn) UserID() uint64 { return c.userID }

// Done is closed when the connection shuts down.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Emit queues an event for delivery. Non-blocking: if the client cannot
// keep up the event is dropped; offline clients resynchronize over REST.
func (c *Conn) Emit(event Event) {
	data, err := event.Marshal()
	if err != nil {
		c.logger.Error("failed to marshal event", "error", err, "kind", event.Kind.String())
		return
	}
	c.enqueue(data)
}

// Send queues an arbitrary JSON payload on the same outbound queue as
// events, so acks and events reach the client in issuance order.
func (c *Conn) Send(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		c.logger.Error("failed to marshal payload", "error", err)
		return
	}
	c.enqueue(data)
}

// enqueue queues a raw frame, dropping it if the buffer is full or the
// connection is closing.
func (c *Conn) enqueue(data []byte) {
	select {
	case <-c.done:
	case c.send <- data:
	default:
		c.logger.Debug("dropped frame for slow connection", "user_id", c.userID)
	}
}

// Close shuts the connection down. Safe to call multiple times.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.sock != nil {
			_ = c.sock.Close()
		}
	})
}

// WritePump drains the send queue onto the socket and keeps the connection
// alive with pings. Runs until Close or a write error.
func (c *Conn) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.sock.WriteControl(websocket.CloseMessage, []byte{}, time.Now().Add(writeWait))
			return
		case data := <-c.send:
			_ = c.sock.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.sock.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.sock.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.sock.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ReadFrame blocks for the next client frame. Returns an error once the
// connection is gone.
func (c *Conn) ReadFrame() ([]byte, error) {
	_, data, err := c.sock.ReadMessage()
	return data, err
}

// PrepareRead configures read limits and the pong handler. Called once
// before the read loop starts.
func (c *Conn) PrepareRead() {
	c.sock.SetReadLimit(maxFrameSize)
	_ = c.sock.SetReadDeadline(time.Now().Add(pongWait))
	c.sock.SetPongHandler(func(string) error {
		return c.sock.SetReadDeadline(time.Now().Add(pongWait))
	})
}
