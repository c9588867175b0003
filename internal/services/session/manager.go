// Package session implements the game-session lifecycle: formation, the
// ready handshake, the shared piece buffer, and teardown with win detection.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/blocq/blocq-server/internal/dependencies/clock"
	"github.com/blocq/blocq-server/internal/dependencies/random"
	"github.com/blocq/blocq-server/internal/model"
	"github.com/blocq/blocq-server/internal/storage"
)

// InitialPieceCount is the length of the piece sequence generated when a
// session activates
const InitialPieceCount = 7

// Presence reports whether a participant is currently reachable.
// The connection registry implements this.
type Presence interface {
	Connected(id model.ParticipantID) bool
}

// Manager owns the active-session table and drives state transitions
type Manager struct {
	storage  storage.Storage
	presence Presence
	clock    clock.Clock
	random   random.Random
	logger   *slog.Logger
}

// NewManager creates a new session Manager
func NewManager(
	storage storage.Storage,
	presence Presence,
	clock clock.Clock,
	random random.Random,
	logger *slog.Logger,
) *Manager {
	return &Manager{
		storage:  storage,
		presence: presence,
		clock:    clock,
		random:   random,
		logger:   logger.With(slog.String("component", "session")),
	}
}

// Create forms a new session from the matched participants, in match order
// (longest-waiting first). The session starts forming: not active until
// every member signals ready.
func (m *Manager) Create(ctx context.Context, players ...*model.Participant) (*model.Session, error) {
	now := m.clock.Now()
	for _, p := range players {
		p.Ready = false
		p.Finished = false
	}

	session := &model.Session{
		ID:        model.SessionID(fmt.Sprintf("game_%d_%04d", now.UnixMilli(), m.random.Intn(10000))),
		Players:   players,
		Active:    false,
		CreatedAt: now,
	}

	if err := m.storage.SaveSession(ctx, session); err != nil {
		return nil, err
	}

	m.logger.Info("session created",
		slog.String("game_id", string(session.ID)),
		slog.Int("players", len(players)))
	return session, nil
}

// Get retrieves a session by ID
func (m *Manager) Get(ctx context.Context, id model.SessionID) (*model.Session, error) {
	return m.storage.GetSession(ctx, id)
}

// Count returns the number of sessions in the active set
func (m *Manager) Count(ctx context.Context) (int, error) {
	return m.storage.SessionCount(ctx)
}

// ReadyResult describes the outcome of a ready signal
type ReadyResult struct {
	Session *model.Session
	// Activated is true only on the forming-to-active transition, which
	// happens at most once per session
	Activated bool
}

// MarkReady records a member's readiness. Re-signaling is idempotent: the
// flag is already set and the all-ready check cannot pass a second time
// because activation flips Active first.
func (m *Manager) MarkReady(ctx context.Context, id model.SessionID, playerID model.ParticipantID) (*ReadyResult, error) {
	session, err := m.storage.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}

	player := session.GetPlayer(playerID)
	if player == nil {
		return nil, model.ErrNotInSession
	}
	player.Ready = true

	activated := false
	if !session.Active && session.AllReady() {
		session.Active = true
		session.PieceQueue = m.generatePieces(InitialPieceCount)
		activated = true
		m.logger.Info("session activated",
			slog.String("game_id", string(session.ID)),
			slog.Int("players", len(session.Players)))
	}

	if err := m.storage.SaveSession(ctx, session); err != nil {
		return nil, err
	}
	return &ReadyResult{Session: session, Activated: activated}, nil
}

// AppendPiece appends a relayed piece to the session's shared buffer.
// The buffer is append-only; the server never truncates it. Returns
// model.ErrSessionNotActive while the session is still forming.
func (m *Manager) AppendPiece(ctx context.Context, id model.SessionID, piece model.PieceType) (*model.Session, error) {
	session, err := m.storage.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if !session.Active {
		return nil, model.ErrSessionNotActive
	}

	session.PieceQueue = append(session.PieceQueue, piece)
	if err := m.storage.SaveSession(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// Departure describes the result of a member leaving, disconnecting, or
// reporting game over.
type Departure struct {
	// Session is the post-evaluation state
	Session *model.Session
	// Others are the members owed a departure notice
	Others []*model.Participant
	// Winner is the sole remaining reachable member, nil if none
	Winner *model.Participant
	// Terminated is true when the session was removed from the active set
	Terminated bool
}

// RemoveMember takes a member out of the session (leave or disconnect) and
// evaluates termination. The member list only shrinks; it never grows back.
func (m *Manager) RemoveMember(ctx context.Context, id model.SessionID, playerID model.ParticipantID) (*Departure, error) {
	session, err := m.storage.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if !session.RemovePlayer(playerID) {
		return nil, model.ErrNotInSession
	}

	return m.evaluate(ctx, session, session.Players)
}

// MarkFinished records a self-reported game over. The reporter stays in the
// session and stays connected, but no longer counts as remaining for win
// detection.
func (m *Manager) MarkFinished(ctx context.Context, id model.SessionID, playerID model.ParticipantID) (*Departure, error) {
	session, err := m.storage.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}

	player := session.GetPlayer(playerID)
	if player == nil {
		return nil, model.ErrNotInSession
	}
	player.Finished = true

	return m.evaluate(ctx, session, session.Others(playerID))
}

// evaluate applies the termination rule: when at most one reachable,
// unfinished member remains, the session is removed from the active set and
// the survivor (if any) is the winner.
func (m *Manager) evaluate(ctx context.Context, session *model.Session, others []*model.Participant) (*Departure, error) {
	remaining := m.remaining(session)

	dep := &Departure{Session: session, Others: others}
	if len(remaining) > 1 {
		if err := m.storage.SaveSession(ctx, session); err != nil {
			return nil, err
		}
		return dep, nil
	}

	if len(remaining) == 1 {
		dep.Winner = remaining[0]
	}
	dep.Terminated = true

	if err := m.storage.DeleteSession(ctx, session.ID); err != nil {
		return nil, err
	}
	m.logger.Info("session terminated",
		slog.String("game_id", string(session.ID)),
		slog.Bool("has_winner", dep.Winner != nil))
	return dep, nil
}

// remaining returns the members still in contention: reachable and not
// self-reported finished.
func (m *Manager) remaining(session *model.Session) []*model.Participant {
	var alive []*model.Participant
	for _, p := range session.Players {
		if !p.Finished && m.presence.Connected(p.ID) {
			alive = append(alive, p)
		}
	}
	return alive
}

// ReapForming deletes sessions that have been forming for longer than the
// given age without activating and returns them so the caller can notify
// their members. A member that never readies up would otherwise leak the
// session indefinitely.
func (m *Manager) ReapForming(ctx context.Context, olderThan time.Duration) ([]*model.Session, error) {
	sessions, err := m.storage.ListSessions(ctx)
	if err != nil {
		return nil, err
	}

	cutoff := m.clock.Now().Add(-olderThan)
	var reaped []*model.Session
	for _, session := range sessions {
		if session.Active || !session.CreatedAt.Before(cutoff) {
			continue
		}
		if err := m.storage.DeleteSession(ctx, session.ID); err != nil {
			return reaped, err
		}
		m.logger.Info("forming session reaped",
			slog.String("game_id", string(session.ID)),
			slog.Time("created_at", session.CreatedAt))
		reaped = append(reaped, session)
	}
	return reaped, nil
}

// generatePieces draws count uniform-random piece types. A plain uniform
// draw, not a seven-bag: repeats are allowed.
func (m *Manager) generatePieces(count int) []model.PieceType {
	pieces := make([]model.PieceType, count)
	for i := range pieces {
		pieces[i] = model.PieceType(m.random.Intn(model.PieceTypeCount) + 1)
	}
	return pieces
}
