// Package factory wires the application components together.
package factory

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/blocq/blocq-server/internal/dependencies/clock"
	"github.com/blocq/blocq-server/internal/dependencies/random"
	"github.com/blocq/blocq-server/internal/services/coordinator"
	"github.com/blocq/blocq-server/internal/services/matchmaking"
	"github.com/blocq/blocq-server/internal/services/session"
	"github.com/blocq/blocq-server/internal/storage"
	"github.com/blocq/blocq-server/internal/storage/memory"
	redisstorage "github.com/blocq/blocq-server/internal/storage/redis"
	"github.com/blocq/blocq-server/internal/ws"
)

// Storage type constants
const (
	StorageTypeMemory = "memory"
	StorageTypeRedis  = "redis"
)

// App contains all wired application components
type App struct {
	// Storage
	Storage storage.Storage

	// External dependencies
	Clock  clock.Clock
	Random random.Random

	// Services
	Matchmaking *matchmaking.Service
	Sessions    *session.Manager
	Coordinator *coordinator.Coordinator

	// Transport
	Registry  *ws.Registry
	Monitor   *ws.Monitor
	WSHandler http.Handler
}

// Config holds configuration for the application factory
type Config struct {
	// Logger is the application logger (optional)
	// If nil, a no-op logger is used
	Logger *slog.Logger
	// StorageType selects the storage backend ("memory" or "redis")
	// If empty, defaults to "memory"
	StorageType string
	// RedisConfig is required when StorageType is "redis"
	RedisConfig *redisstorage.Config
	// Coordinator tuning; zero value takes coordinator defaults
	Coordinator coordinator.Config
	// ProbeInterval overrides the liveness probe interval (optional)
	ProbeInterval time.Duration
}

// New creates a fully wired application
func New(cfg Config) (*App, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}

	var store storage.Storage
	switch cfg.StorageType {
	case "", StorageTypeMemory:
		store = memory.New()
	case StorageTypeRedis:
		if cfg.RedisConfig == nil {
			return nil, errors.New("redis storage requires a redis config")
		}
		redisStore, err := redisstorage.New(*cfg.RedisConfig)
		if err != nil {
			return nil, err
		}
		store = redisStore
	default:
		return nil, errors.New("unknown storage type: " + cfg.StorageType)
	}

	coordCfg := cfg.Coordinator
	if coordCfg == (coordinator.Config{}) {
		coordCfg = coordinator.DefaultConfig()
	}

	clk := clock.New()
	rnd := random.New()

	registry := ws.NewRegistry(logger)
	sessions := session.NewManager(store, registry, clk, rnd, logger)
	queue := matchmaking.New(store, logger)
	coord := coordinator.New(queue, sessions, registry, clk, rnd, coordCfg, logger)

	return &App{
		Storage:     store,
		Clock:       clk,
		Random:      rnd,
		Matchmaking: queue,
		Sessions:    sessions,
		Coordinator: coord,
		Registry:    registry,
		Monitor:     ws.NewMonitor(registry, cfg.ProbeInterval, logger),
		WSHandler:   ws.NewHandler(registry, coord, logger),
	}, nil
}
