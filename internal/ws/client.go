// Package ws owns the WebSocket transport: the connection registry, the
// per-connection read/write pumps, the upgrade handler, and the liveness
// monitor.
package ws

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/blocq/blocq-server/internal/model"
)

const (
	// writeWait is the deadline for a single outbound write
	writeWait = 10 * time.Second
	// maxMessageSize bounds inbound frames; board snapshots are the
	// largest payload
	maxMessageSize = 1024 * 1024
	// sendBufferSize is the per-connection outbound queue depth
	sendBufferSize = 256
)

// Client is one live WebSocket connection. All writes go through the send
// channel so the write pump is the sole writer; ping control frames are the
// exception, which gorilla/websocket allows concurrently.
type Client struct {
	id     model.ConnectionID
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	closer sync.Once
	logger *slog.Logger
}

func newClient(id model.ConnectionID, conn *websocket.Conn, logger *slog.Logger) *Client {
	return &Client{
		id:     id,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		done:   make(chan struct{}),
		logger: logger.With(slog.String("conn_id", string(id))),
	}
}

// ID returns the connection's stable handle
func (c *Client) ID() model.ConnectionID {
	return c.id
}

// enqueue queues an outbound frame, dropping it if the client is closing or
// its buffer is full (a stalled reader must not block the coordinator)
func (c *Client) enqueue(data []byte) {
	select {
	case <-c.done:
	case c.send <- data:
	default:
		c.logger.Warn("send buffer full, dropping frame")
	}
}

// writePump drains the send channel onto the connection. It exits when the
// client is closed or a write fails, closing the connection either way.
func (c *Client) writePump() {
	defer c.Close()

	for {
		select {
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}
}

// Ping sends a transport-level probe. Safe to call concurrently with the
// write pump.
func (c *Client) Ping() error {
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// Close tears the connection down; the read pump then exits and runs the
// disconnect path. Idempotent.
func (c *Client) Close() {
	c.closer.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}
