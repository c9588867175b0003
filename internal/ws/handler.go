package ws

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/blocq/blocq-server/internal/model"
)

// pongWait is the read deadline extended on every pong. It spans two probe
// intervals so the monitor, not the deadline, is the primary eviction
// mechanism; the deadline is a backstop for dead TCP.
const pongWait = 2*DefaultProbeInterval + 15*time.Second

// FrameHandler consumes inbound frames and disconnects. The coordinator
// implements this.
type FrameHandler interface {
	HandleFrame(ctx context.Context, conn model.ConnectionID, raw []byte)
	HandleDisconnect(ctx context.Context, conn model.ConnectionID)
}

// Handler upgrades HTTP requests to WebSocket connections and runs one
// read pump per connection.
type Handler struct {
	registry *Registry
	frames   FrameHandler
	upgrader websocket.Upgrader
	logger   *slog.Logger
	nextConn atomic.Uint64
}

// NewHandler creates the upgrade handler
func NewHandler(registry *Registry, frames FrameHandler, logger *slog.Logger) *Handler {
	return &Handler{
		registry: registry,
		frames:   frames,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The game client is served from arbitrary origins in
			// development; the coordinator performs no origin checks
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger.With(slog.String("component", "ws")),
	}
}

// ServeHTTP upgrades the connection and blocks in the read pump until the
// peer goes away, then runs the disconnect path exactly once.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed",
			slog.String("remote", r.RemoteAddr),
			slog.String("error", err.Error()))
		return
	}

	id := model.ConnectionID(fmt.Sprintf("conn_%d_%d", time.Now().UnixMilli(), h.nextConn.Add(1)))
	client := newClient(id, conn, h.logger)
	h.registry.Add(client)
	h.logger.Info("client connected",
		slog.String("conn_id", string(id)),
		slog.String("remote", r.RemoteAddr))

	go client.writePump()
	h.readPump(client)

	// The request context may already be canceled; teardown must still run
	h.frames.HandleDisconnect(context.Background(), id)
	h.registry.Remove(id)
	client.Close()
	h.logger.Info("client disconnected", slog.String("conn_id", string(id)))
}

// readPump delivers inbound frames to the frame handler in arrival order,
// preserving per-connection FIFO.
func (h *Handler) readPump(client *Client) {
	conn := client.conn
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		h.registry.MarkConnected(client.ID())
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Info("read failed",
					slog.String("conn_id", string(client.ID())),
					slog.String("error", err.Error()))
			}
			return
		}
		h.frames.HandleFrame(context.Background(), client.ID(), raw)
	}
}
