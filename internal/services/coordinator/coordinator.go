// Package coordinator routes inbound protocol frames to the matchmaking
// queue and session manager, and relays gameplay traffic between session
// members. It is the only component that talks to the connection registry
// for outbound sends.
package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/blocq/blocq-server/internal/dependencies/clock"
	"github.com/blocq/blocq-server/internal/dependencies/random"
	"github.com/blocq/blocq-server/internal/model"
	"github.com/blocq/blocq-server/internal/protocol"
	"github.com/blocq/blocq-server/internal/services/matchmaking"
	"github.com/blocq/blocq-server/internal/services/session"
)

// Registry is the coordinator's view of the connection layer. Sends to
// absent participants are silent no-ops; there is nobody left to notify.
type Registry interface {
	// Bind attaches a participant identity to a connection,
	// overwriting any prior binding (last-writer-wins)
	Bind(conn model.ConnectionID, id model.ParticipantID)
	// BindSession records which session a participant belongs to
	BindSession(id model.ParticipantID, sessionID model.SessionID)
	// ClearSession removes a participant's session binding
	ClearSession(id model.ParticipantID)
	// Binding resolves a connection to its participant and session;
	// ok is false when the connection never joined
	Binding(conn model.ConnectionID) (model.ParticipantID, model.SessionID, bool)
	// Connected reports whether the participant has a live connection
	Connected(id model.ParticipantID) bool
	// Send queues a message for a participant; no-op when unreachable
	Send(id model.ParticipantID, msg any)
	// Unregister removes a participant's bindings entirely
	Unregister(id model.ParticipantID)
	// ConnectedCount returns the number of bound participants
	ConnectedCount() int
}

// Config holds coordinator tuning
type Config struct {
	// FormingTimeout is how long a session may sit in the forming state
	// before being reaped. Zero disables reaping.
	FormingTimeout time.Duration
}

// DefaultConfig returns the default coordinator configuration
func DefaultConfig() Config {
	return Config{
		FormingTimeout: 10 * time.Minute,
	}
}

// Status is the read-only report served by the status endpoint
type Status struct {
	Games            int
	WaitingPlayers   int
	ConnectedPlayers int
}

// Coordinator dispatches protocol frames and owns the disconnect path.
// All state-mutating operations run under a single mutex so that
// enqueue/match, the ready check-and-transition, and session removal are
// each one atomic step, matching the single-threaded semantics the
// protocol assumes.
type Coordinator struct {
	mu          sync.Mutex
	matchmaking *matchmaking.Service
	sessions    *session.Manager
	registry    Registry
	clock       clock.Clock
	random      random.Random
	config      Config
	logger      *slog.Logger
}

// New creates a new Coordinator
func New(
	matchmaking *matchmaking.Service,
	sessions *session.Manager,
	registry Registry,
	clock clock.Clock,
	random random.Random,
	config Config,
	logger *slog.Logger,
) *Coordinator {
	return &Coordinator{
		matchmaking: matchmaking,
		sessions:    sessions,
		registry:    registry,
		clock:       clock,
		random:      random,
		config:      config,
		logger:      logger.With(slog.String("component", "coordinator")),
	}
}

// HandleFrame parses one inbound frame and dispatches it. Malformed frames
// and unknown types are logged and dropped; the connection stays open and
// no error is reported to the sender.
func (c *Coordinator) HandleFrame(ctx context.Context, conn model.ConnectionID, raw []byte) {
	msgType, err := protocol.MessageType(raw)
	if err != nil {
		c.logger.Warn("malformed frame dropped",
			slog.String("conn_id", string(conn)),
			slog.String("error", err.Error()))
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch msgType {
	case protocol.TypeJoinGame:
		c.handleJoin(ctx, conn, raw)
	case protocol.TypeLeaveGame:
		c.handleLeave(ctx, conn)
	case protocol.TypeReady:
		c.handleReady(ctx, conn)
	case protocol.TypeNextPiece:
		c.handleNextPiece(ctx, conn, raw)
	case protocol.TypeAttack:
		c.handleAttack(ctx, conn, raw)
	case protocol.TypeBoardUpdate:
		c.handleBoardUpdate(ctx, conn, raw)
	case protocol.TypeGameOver:
		c.handleGameOver(ctx, conn)
	default:
		c.logger.Warn("unknown message type dropped",
			slog.String("conn_id", string(conn)),
			slog.String("type", msgType))
	}
}

// HandleDisconnect runs the teardown path for a closed connection: removal
// from the waiting queue and from any session, with departure notices to
// the remaining members. Liveness eviction and transport-level closes both
// land here.
func (c *Coordinator) HandleDisconnect(ctx context.Context, conn model.ConnectionID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	playerID, sessionID, ok := c.registry.Binding(conn)
	if !ok {
		return
	}

	c.logger.Info("participant disconnected",
		slog.String("player_id", string(playerID)),
		slog.String("game_id", string(sessionID)))
	c.depart(ctx, playerID, sessionID, protocol.NewOpponentDisconnected(playerID))
}

// Status reports current session, queue, and connection counts
func (c *Coordinator) Status(ctx context.Context) (Status, error) {
	games, err := c.sessions.Count(ctx)
	if err != nil {
		return Status{}, err
	}
	waiting, err := c.matchmaking.Len(ctx)
	if err != nil {
		return Status{}, err
	}
	return Status{
		Games:            games,
		WaitingPlayers:   waiting,
		ConnectedPlayers: c.registry.ConnectedCount(),
	}, nil
}

// ReapFormingSessions tears down sessions stuck in the forming state past
// the configured timeout. Members are notified as if every other member
// had left.
func (c *Coordinator) ReapFormingSessions(ctx context.Context) error {
	if c.config.FormingTimeout <= 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	reaped, err := c.sessions.ReapForming(ctx, c.config.FormingTimeout)
	if err != nil {
		return err
	}

	for _, s := range reaped {
		for _, member := range s.Players {
			c.registry.ClearSession(member.ID)
			for _, other := range s.Players {
				if other.ID != member.ID {
					c.registry.Send(member.ID, protocol.NewOpponentLeft(other.ID))
				}
			}
		}
	}
	return nil
}

// handleJoin mints a participant identity for the connection, then either
// pairs it with the longest-waiting participant or queues it.
func (c *Coordinator) handleJoin(ctx context.Context, conn model.ConnectionID, raw []byte) {
	var msg protocol.JoinGame
	if err := unmarshalFrame(raw, &msg); err != nil {
		c.logger.Warn("malformed JOIN_GAME dropped", slog.String("error", err.Error()))
		return
	}

	now := c.clock.Now()
	player := &model.Participant{
		ID:       model.ParticipantID(fmt.Sprintf("player_%d_%06d", now.UnixMilli(), c.random.Intn(1000000))),
		Name:     model.SanitizeName(msg.PlayerName),
		JoinedAt: now,
	}
	c.registry.Bind(conn, player.ID)

	result, err := c.matchmaking.EnqueueOrMatch(ctx, player)
	if err != nil {
		c.logger.Error("enqueue failed", slog.String("error", err.Error()))
		return
	}

	if !result.Matched() {
		c.registry.Send(player.ID, protocol.NewWaiting(player.ID, result.Position))
		return
	}

	opponent := result.Opponent
	s, err := c.sessions.Create(ctx, opponent, player)
	if err != nil {
		c.logger.Error("session create failed", slog.String("error", err.Error()))
		return
	}

	c.registry.BindSession(opponent.ID, s.ID)
	c.registry.BindSession(player.ID, s.ID)

	players := []protocol.PlayerInfo{
		{ID: opponent.ID, Name: opponent.Name},
		{ID: player.ID, Name: player.Name},
	}
	c.registry.Send(opponent.ID, protocol.NewGameMatched(s.ID, opponent.ID, players))
	c.registry.Send(player.ID, protocol.NewGameMatched(s.ID, player.ID, players))
}

// handleLeave is the explicit counterpart of HandleDisconnect. The
// connection stays open; the participant identity is retired and the
// client may join again.
func (c *Coordinator) handleLeave(ctx context.Context, conn model.ConnectionID) {
	playerID, sessionID, ok := c.registry.Binding(conn)
	if !ok {
		return
	}

	c.logger.Info("participant left",
		slog.String("player_id", string(playerID)),
		slog.String("game_id", string(sessionID)))
	c.depart(ctx, playerID, sessionID, protocol.NewOpponentLeft(playerID))
}

// depart removes a participant from the queue and from any session, always
// attempting both; the two removals are independent and idempotent.
func (c *Coordinator) depart(ctx context.Context, playerID model.ParticipantID, sessionID model.SessionID, notice any) {
	if err := c.matchmaking.Remove(ctx, playerID); err != nil {
		c.logger.Error("queue removal failed", slog.String("error", err.Error()))
	}

	if sessionID != "" {
		dep, err := c.sessions.RemoveMember(ctx, sessionID, playerID)
		if err != nil {
			// Session already gone or membership already cleared
			c.logger.Debug("session removal skipped",
				slog.String("game_id", string(sessionID)),
				slog.String("error", err.Error()))
		} else {
			for _, other := range dep.Others {
				c.registry.Send(other.ID, notice)
			}
			c.finishTermination(ctx, playerID, dep)
		}
	}

	c.registry.Unregister(playerID)
}

// finishTermination delivers win and re-queue notices and clears session
// bindings once a session leaves the active set.
func (c *Coordinator) finishTermination(ctx context.Context, departed model.ParticipantID, dep *session.Departure) {
	if !dep.Terminated {
		return
	}

	c.registry.ClearSession(departed)
	for _, other := range dep.Others {
		c.registry.ClearSession(other.ID)
	}

	if dep.Winner == nil {
		return
	}
	c.registry.Send(dep.Winner.ID, protocol.NewGameWon())

	waiting, err := c.matchmaking.Len(ctx)
	if err != nil {
		c.logger.Error("queue length check failed", slog.String("error", err.Error()))
		return
	}
	if waiting > 0 {
		c.registry.Send(dep.Winner.ID, protocol.NewNewMatchAvailable())
	}
}

// handleReady records readiness and broadcasts handshake progress. Every
// READY re-broadcasts PLAYER_READY to all members including the signaler;
// activation happens exactly once, when the last member readies up.
func (c *Coordinator) handleReady(ctx context.Context, conn model.ConnectionID) {
	playerID, sessionID, ok := c.registry.Binding(conn)
	if !ok || sessionID == "" {
		return
	}

	result, err := c.sessions.MarkReady(ctx, sessionID, playerID)
	if err != nil {
		c.logger.Debug("ready ignored",
			slog.String("game_id", string(sessionID)),
			slog.String("error", err.Error()))
		return
	}

	for _, member := range result.Session.Players {
		c.registry.Send(member.ID, protocol.NewPlayerReady(playerID))
	}

	if result.Activated {
		start := protocol.NewGameStart(result.Session.PieceQueue)
		for _, member := range result.Session.Players {
			c.registry.Send(member.ID, start)
		}
	}
}

// handleNextPiece appends the piece to the shared buffer and relays it
// verbatim to every other member; the value is never validated. Ignored
// while the session is forming.
func (c *Coordinator) handleNextPiece(ctx context.Context, conn model.ConnectionID, raw []byte) {
	var msg protocol.NextPiece
	if err := unmarshalFrame(raw, &msg); err != nil {
		c.logger.Warn("malformed NEXT_PIECE dropped", slog.String("error", err.Error()))
		return
	}

	playerID, sessionID, ok := c.registry.Binding(conn)
	if !ok || sessionID == "" {
		return
	}

	s, err := c.sessions.AppendPiece(ctx, sessionID, msg.PieceType)
	if err != nil {
		return
	}

	relay := protocol.NewNextPiece(msg.PieceType)
	for _, other := range s.Others(playerID) {
		c.registry.Send(other.ID, relay)
	}
}

// handleAttack relays an attack verbatim to every other member. The server
// does not validate line counts; it is a pure forwarder.
func (c *Coordinator) handleAttack(ctx context.Context, conn model.ConnectionID, raw []byte) {
	var msg protocol.Attack
	if err := unmarshalFrame(raw, &msg); err != nil {
		c.logger.Warn("malformed ATTACK dropped", slog.String("error", err.Error()))
		return
	}

	playerID, s := c.activeSession(ctx, conn)
	if s == nil {
		return
	}

	relay := protocol.NewAttack(msg.From, msg.Lines)
	for _, other := range s.Others(playerID) {
		c.registry.Send(other.ID, relay)
	}
}

// handleBoardUpdate relays a board snapshot, tagged with the sender, to
// every other member. The payload is never inspected.
func (c *Coordinator) handleBoardUpdate(ctx context.Context, conn model.ConnectionID, raw []byte) {
	var msg protocol.BoardUpdate
	if err := unmarshalFrame(raw, &msg); err != nil {
		c.logger.Warn("malformed BOARD_UPDATE dropped", slog.String("error", err.Error()))
		return
	}

	playerID, s := c.activeSession(ctx, conn)
	if s == nil {
		return
	}

	relay := protocol.NewOpponentBoardUpdate(playerID, msg.Board)
	for _, other := range s.Others(playerID) {
		c.registry.Send(other.ID, relay)
	}
}

// handleGameOver relays the self-reported loss and evaluates termination
// the same way the disconnect path does. The reporter stays connected and
// keeps its registry binding.
func (c *Coordinator) handleGameOver(ctx context.Context, conn model.ConnectionID) {
	playerID, sessionID, ok := c.registry.Binding(conn)
	if !ok || sessionID == "" {
		return
	}

	dep, err := c.sessions.MarkFinished(ctx, sessionID, playerID)
	if err != nil {
		return
	}

	for _, other := range dep.Others {
		c.registry.Send(other.ID, protocol.NewOpponentGameOver(playerID))
	}
	c.finishTermination(ctx, playerID, dep)
}

// unmarshalFrame decodes a full typed frame after the type peek
func unmarshalFrame(raw []byte, v any) error {
	return json.Unmarshal(raw, v)
}

// activeSession resolves a connection to its active session, or nil when
// the routing context is stale or the session is still forming.
func (c *Coordinator) activeSession(ctx context.Context, conn model.ConnectionID) (model.ParticipantID, *model.Session) {
	playerID, sessionID, ok := c.registry.Binding(conn)
	if !ok || sessionID == "" {
		return "", nil
	}

	s, err := c.sessions.Get(ctx, sessionID)
	if err != nil || !s.Active {
		return "", nil
	}
	return playerID, s
}
