package storage

import (
	"context"

	"github.com/blocq/blocq-server/internal/model"
)

// Storage defines the interface for coordinator state persistence:
// the waiting queue and the active-session table. Live connections are
// never stored here; reachability is the connection registry's concern.
type Storage interface {
	// Waiting queue operations. The queue is strictly FIFO.

	// PushWaiting appends a participant and returns its 1-based position
	PushWaiting(ctx context.Context, p *model.Participant) (int, error)
	// PopWaiting removes and returns the longest-waiting participant.
	// Returns model.ErrQueueEmpty when nobody is waiting.
	PopWaiting(ctx context.Context) (*model.Participant, error)
	// RemoveWaiting removes a participant by ID; no-op if absent
	RemoveWaiting(ctx context.Context, id model.ParticipantID) error
	// WaitingCount returns the number of queued participants
	WaitingCount(ctx context.Context) (int, error)

	// Session operations

	SaveSession(ctx context.Context, session *model.Session) error
	// GetSession returns model.ErrSessionNotFound for unknown IDs
	GetSession(ctx context.Context, id model.SessionID) (*model.Session, error)
	// DeleteSession removes a session; no-op if absent
	DeleteSession(ctx context.Context, id model.SessionID) error
	SessionCount(ctx context.Context) (int, error)
	ListSessions(ctx context.Context) ([]*model.Session, error)
}
