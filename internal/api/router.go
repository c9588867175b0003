package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/blocq/blocq-server/internal/middleware"
	"github.com/blocq/blocq-server/internal/services/coordinator"
)

// RouterConfig holds configuration for the HTTP router
type RouterConfig struct {
	Logger      *slog.Logger
	Coordinator *coordinator.Coordinator
	// WSHandler serves the WebSocket upgrade endpoint
	WSHandler http.Handler
	// StaticDir is the directory of client assets served at /
	StaticDir string
}

// NewRouter creates the HTTP router: the WebSocket endpoint, the read-only
// status endpoint, and static client assets.
func NewRouter(cfg RouterConfig) http.Handler {
	r := mux.NewRouter()

	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(middleware.Logging(cfg.Logger))

	r.Handle("/ws", cfg.WSHandler)
	r.HandleFunc("/status", statusHandler(cfg.Coordinator, cfg.Logger)).Methods(http.MethodGet)

	if cfg.StaticDir != "" {
		r.PathPrefix("/").Handler(http.FileServer(http.Dir(cfg.StaticDir)))
	}

	return r
}

// statusResponse is the polled read-only status surface; clients use it
// for display only
type statusResponse struct {
	Status           string `json:"status"`
	Games            int    `json:"games"`
	WaitingPlayers   int    `json:"waitingPlayers"`
	ConnectedPlayers int    `json:"connectedPlayers"`
}

func statusHandler(c *coordinator.Coordinator, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, err := c.Status(r.Context())
		if err != nil {
			logger.Error("status query failed", slog.String("error", err.Error()))
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(statusResponse{
			Status:           "online",
			Games:            status.Games,
			WaitingPlayers:   status.WaitingPlayers,
			ConnectedPlayers: status.ConnectedPlayers,
		})
	}
}
