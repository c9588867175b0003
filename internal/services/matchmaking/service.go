// Package matchmaking implements the FIFO waiting queue that pairs
// participants into sessions.
package matchmaking

import (
	"context"
	"errors"
	"log/slog"

	"github.com/blocq/blocq-server/internal/model"
	"github.com/blocq/blocq-server/internal/storage"
)

// Result is the outcome of a join request: either an opponent was found
// (Opponent non-nil) or the participant was queued at Position (1-based).
type Result struct {
	Opponent *model.Participant
	Position int
}

// Matched reports whether an opponent was found
func (r *Result) Matched() bool {
	return r.Opponent != nil
}

// Service manages the waiting queue
type Service struct {
	storage storage.Storage
	logger  *slog.Logger
}

// New creates a new matchmaking Service
func New(storage storage.Storage, logger *slog.Logger) *Service {
	return &Service{
		storage: storage,
		logger:  logger.With(slog.String("component", "matchmaking")),
	}
}

// EnqueueOrMatch pairs the new arrival with the longest-waiting participant,
// or appends it to the queue when nobody is waiting. FIFO order bounds the
// worst-case wait by arrival order; there is no scoring heuristic.
func (s *Service) EnqueueOrMatch(ctx context.Context, p *model.Participant) (*Result, error) {
	opponent, err := s.storage.PopWaiting(ctx)
	if err != nil {
		if !errors.Is(err, model.ErrQueueEmpty) {
			return nil, err
		}

		position, err := s.storage.PushWaiting(ctx, p)
		if err != nil {
			return nil, err
		}
		s.logger.Info("participant queued",
			slog.String("player_id", string(p.ID)),
			slog.Int("position", position))
		return &Result{Position: position}, nil
	}

	s.logger.Info("participants matched",
		slog.String("player_id", string(p.ID)),
		slog.String("opponent_id", string(opponent.ID)))
	return &Result{Opponent: opponent}, nil
}

// Remove takes a participant out of the waiting queue. Removing an absent
// participant is a no-op; the disconnect path always attempts this
// regardless of whether the participant was already matched.
func (s *Service) Remove(ctx context.Context, id model.ParticipantID) error {
	return s.storage.RemoveWaiting(ctx, id)
}

// Len returns the number of participants currently waiting
func (s *Service) Len(ctx context.Context) (int, error) {
	return s.storage.WaitingCount(ctx)
}
