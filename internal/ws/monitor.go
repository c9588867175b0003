package ws

import (
	"context"
	"log/slog"
	"time"

	"github.com/blocq/blocq-server/internal/model"
)

// DefaultProbeInterval is how often the monitor sweeps open connections
const DefaultProbeInterval = 30 * time.Second

// Monitor periodically probes every open connection and evicts the ones
// that failed to answer the previous probe. Eviction closes the transport;
// the connection's read pump then exits and runs the ordinary disconnect
// path, so liveness loss and a clean close converge on the same teardown.
type Monitor struct {
	registry *Registry
	interval time.Duration
	logger   *slog.Logger
}

// NewMonitor creates a Monitor over the given registry
func NewMonitor(registry *Registry, interval time.Duration, logger *slog.Logger) *Monitor {
	if interval <= 0 {
		interval = DefaultProbeInterval
	}
	return &Monitor{
		registry: registry,
		interval: interval,
		logger:   logger.With(slog.String("component", "liveness")),
	}
}

// Run sweeps until the context is canceled
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

// Sweep performs one probe round: connections still marked probing missed
// the previous round's ping and are evicted; everyone else is marked
// probing and pinged, expected to answer before the next round.
func (m *Monitor) Sweep() {
	for _, client := range m.registry.Clients() {
		if m.registry.StatusOf(client.ID()) == model.StatusProbing {
			m.registry.MarkLost(client.ID())
			m.logger.Info("evicting unresponsive connection",
				slog.String("conn_id", string(client.ID())))
			client.Close()
			continue
		}

		m.registry.MarkProbing(client.ID())
		if err := client.Ping(); err != nil {
			m.registry.MarkLost(client.ID())
			m.logger.Info("probe write failed, closing connection",
				slog.String("conn_id", string(client.ID())),
				slog.String("error", err.Error()))
			client.Close()
		}
	}
}
