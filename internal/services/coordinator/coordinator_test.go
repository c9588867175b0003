package coordinator

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/blocq/blocq-server/internal/dependencies/mocks"
	"github.com/blocq/blocq-server/internal/model"
	"github.com/blocq/blocq-server/internal/protocol"
	"github.com/blocq/blocq-server/internal/services/matchmaking"
	"github.com/blocq/blocq-server/internal/services/session"
	"github.com/blocq/blocq-server/internal/storage/memory"
	"github.com/blocq/blocq-server/internal/testutil"
)

// sentMessage is one captured outbound send
type sentMessage struct {
	To  model.ParticipantID
	Msg any
}

type fakeBinding struct {
	participant model.ParticipantID
	session     model.SessionID
}

// fakeRegistry is an in-memory stand-in for the connection registry. It
// captures outbound sends instead of writing to sockets.
type fakeRegistry struct {
	bindings      map[model.ConnectionID]fakeBinding
	byParticipant map[model.ParticipantID]model.ConnectionID
	sent          []sentMessage
}

var _ Registry = (*fakeRegistry)(nil)
var _ session.Presence = (*fakeRegistry)(nil)

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{
		bindings:      make(map[model.ConnectionID]fakeBinding),
		byParticipant: make(map[model.ParticipantID]model.ConnectionID),
	}
}

func (r *fakeRegistry) Bind(conn model.ConnectionID, id model.ParticipantID) {
	if old, ok := r.bindings[conn]; ok && old.participant != "" {
		delete(r.byParticipant, old.participant)
	}
	b := r.bindings[conn]
	b.participant = id
	b.session = ""
	r.bindings[conn] = b
	r.byParticipant[id] = conn
}

func (r *fakeRegistry) BindSession(id model.ParticipantID, sessionID model.SessionID) {
	conn, ok := r.byParticipant[id]
	if !ok {
		return
	}
	b := r.bindings[conn]
	b.session = sessionID
	r.bindings[conn] = b
}

func (r *fakeRegistry) ClearSession(id model.ParticipantID) {
	conn, ok := r.byParticipant[id]
	if !ok {
		return
	}
	b := r.bindings[conn]
	b.session = ""
	r.bindings[conn] = b
}

func (r *fakeRegistry) Binding(conn model.ConnectionID) (model.ParticipantID, model.SessionID, bool) {
	b, ok := r.bindings[conn]
	if !ok || b.participant == "" {
		return "", "", false
	}
	return b.participant, b.session, true
}

func (r *fakeRegistry) Connected(id model.ParticipantID) bool {
	_, ok := r.byParticipant[id]
	return ok
}

func (r *fakeRegistry) Send(id model.ParticipantID, msg any) {
	if _, ok := r.byParticipant[id]; !ok {
		return
	}
	r.sent = append(r.sent, sentMessage{To: id, Msg: msg})
}

func (r *fakeRegistry) Unregister(id model.ParticipantID) {
	conn, ok := r.byParticipant[id]
	if !ok {
		return
	}
	delete(r.byParticipant, id)
	delete(r.bindings, conn)
}

func (r *fakeRegistry) ConnectedCount() int {
	return len(r.byParticipant)
}

// sentTo returns all captured messages for one participant
func (r *fakeRegistry) sentTo(id model.ParticipantID) []any {
	var msgs []any
	for _, m := range r.sent {
		if m.To == id {
			msgs = append(msgs, m.Msg)
		}
	}
	return msgs
}

func (r *fakeRegistry) reset() {
	r.sent = nil
}

type CoordinatorSuite struct {
	suite.Suite
	storage     *memory.Storage
	registry    *fakeRegistry
	clock       *mocks.MockClock
	random      *mocks.MockRandom
	coordinator *Coordinator
	ctx         context.Context
}

func TestCoordinatorSuite(t *testing.T) {
	suite.Run(t, new(CoordinatorSuite))
}

func (s *CoordinatorSuite) SetupTest() {
	s.storage = memory.New()
	s.registry = newFakeRegistry()
	s.clock = mocks.NewMockClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	s.random = mocks.NewMockRandom()
	logger := testutil.NopLogger()

	sessions := session.NewManager(s.storage, s.registry, s.clock, s.random, logger)
	queue := matchmaking.New(s.storage, logger)
	s.coordinator = New(queue, sessions, s.registry, s.clock, s.random, DefaultConfig(), logger)
	s.ctx = context.Background()
}

func (s *CoordinatorSuite) frame(conn model.ConnectionID, raw string) {
	s.coordinator.HandleFrame(s.ctx, conn, []byte(raw))
}

func (s *CoordinatorSuite) join(conn model.ConnectionID, name string) model.ParticipantID {
	s.frame(conn, fmt.Sprintf(`{"type":"JOIN_GAME","playerName":%q}`, name))
	id, _, ok := s.registry.Binding(conn)
	s.Require().True(ok, "join must bind the connection")
	return id
}

// matchPair joins two connections and clears the captured match traffic
func (s *CoordinatorSuite) matchPair() (model.ParticipantID, model.ParticipantID) {
	p1 := s.join("conn-1", "Alice")
	p2 := s.join("conn-2", "Bob")
	s.registry.reset()
	return p1, p2
}

// startGame runs the full ready handshake for a matched pair
func (s *CoordinatorSuite) startGame() (model.ParticipantID, model.ParticipantID) {
	p1, p2 := s.matchPair()
	s.frame("conn-1", `{"type":"READY"}`)
	s.frame("conn-2", `{"type":"READY"}`)
	s.registry.reset()
	return p1, p2
}

// lastOfType returns the last captured message of type M sent to id
func lastOfType[M any](msgs []any) (M, bool) {
	var found M
	ok := false
	for _, m := range msgs {
		if typed, isType := m.(M); isType {
			found = typed
			ok = true
		}
	}
	return found, ok
}

func countOfType[M any](msgs []any) int {
	n := 0
	for _, m := range msgs {
		if _, ok := m.(M); ok {
			n++
		}
	}
	return n
}

// Join and matchmaking

func (s *CoordinatorSuite) TestFirstJoinWaits() {
	p1 := s.join("conn-1", "Alice")

	waiting, ok := lastOfType[protocol.Waiting](s.registry.sentTo(p1))
	s.Require().True(ok)
	s.Equal(p1, waiting.PlayerID)
	s.Equal(1, waiting.Position)
}

func (s *CoordinatorSuite) TestSecondJoinMatches() {
	p1 := s.join("conn-1", "Alice")
	p2 := s.join("conn-2", "Bob")

	m1, ok := lastOfType[protocol.GameMatched](s.registry.sentTo(p1))
	s.Require().True(ok)
	m2, ok := lastOfType[protocol.GameMatched](s.registry.sentTo(p2))
	s.Require().True(ok)

	s.Equal(m1.GameID, m2.GameID)
	s.Equal(p1, m1.YourID)
	s.Equal(p2, m2.YourID)

	// Longest-waiting participant listed first in both announcements
	s.Require().Len(m1.Players, 2)
	s.Equal(p1, m1.Players[0].ID)
	s.Equal(p2, m1.Players[1].ID)
	s.Equal(m1.Players, m2.Players)

	// Both connections now carry the session binding
	_, sess1, _ := s.registry.Binding("conn-1")
	_, sess2, _ := s.registry.Binding("conn-2")
	s.Equal(m1.GameID, sess1)
	s.Equal(m1.GameID, sess2)
}

func (s *CoordinatorSuite) TestJoinSanitizesName() {
	p1 := s.join("conn-1", "   ")
	s.join("conn-2", "Bob")

	m, ok := lastOfType[protocol.GameMatched](s.registry.sentTo(p1))
	s.Require().True(ok)
	s.Equal(model.DefaultName, m.Players[0].Name)
}

// Ready handshake

func (s *CoordinatorSuite) TestReadyBroadcastsToAllMembers() {
	p1, p2 := s.matchPair()

	s.frame("conn-1", `{"type":"READY"}`)

	ready1, ok := lastOfType[protocol.PlayerReady](s.registry.sentTo(p1))
	s.Require().True(ok)
	s.Equal(p1, ready1.PlayerID)

	ready2, ok := lastOfType[protocol.PlayerReady](s.registry.sentTo(p2))
	s.Require().True(ok)
	s.Equal(p1, ready2.PlayerID)

	// Not all ready yet
	s.Equal(0, countOfType[protocol.GameStart](s.registry.sentTo(p1)))
	s.Equal(0, countOfType[protocol.GameStart](s.registry.sentTo(p2)))
}

func (s *CoordinatorSuite) TestLastReadyStartsGame() {
	p1, p2 := s.matchPair()
	s.random.QueueIntn(0, 1, 2, 3, 4, 5, 6)

	s.frame("conn-1", `{"type":"READY"}`)
	s.frame("conn-2", `{"type":"READY"}`)

	start1, ok := lastOfType[protocol.GameStart](s.registry.sentTo(p1))
	s.Require().True(ok)
	start2, ok := lastOfType[protocol.GameStart](s.registry.sentTo(p2))
	s.Require().True(ok)

	s.Equal([]model.PieceType{1, 2, 3, 4, 5, 6, 7}, start1.PieceQueue)
	s.Equal(start1.PieceQueue, start2.PieceQueue)
}

func (s *CoordinatorSuite) TestRepeatedReadyDoesNotRestart() {
	_, p2 := s.startGame()

	s.frame("conn-1", `{"type":"READY"}`)

	// The re-signal still broadcasts readiness but never re-starts
	s.Equal(0, countOfType[protocol.GameStart](s.registry.sentTo(p2)))
	s.Equal(1, countOfType[protocol.PlayerReady](s.registry.sentTo(p2)))
}

func (s *CoordinatorSuite) TestReadyWithoutSessionIgnored() {
	p1 := s.join("conn-1", "Alice")
	s.registry.reset()

	s.frame("conn-1", `{"type":"READY"}`)
	s.Empty(s.registry.sentTo(p1))
}

// Gameplay relays

func (s *CoordinatorSuite) TestNextPieceRelayedToOthersOnly() {
	p1, p2 := s.startGame()

	s.frame("conn-1", `{"type":"NEXT_PIECE","pieceType":4}`)

	piece, ok := lastOfType[protocol.NextPiece](s.registry.sentTo(p2))
	s.Require().True(ok)
	s.Equal(model.PieceType(4), piece.PieceType)

	s.Equal(0, countOfType[protocol.NextPiece](s.registry.sentTo(p1)))
}

func (s *CoordinatorSuite) TestNextPieceAppendsToSharedBuffer() {
	s.startGame()

	s.frame("conn-1", `{"type":"NEXT_PIECE","pieceType":4}`)

	_, sessionID, _ := s.registry.Binding("conn-1")
	stored, err := s.storage.GetSession(s.ctx, sessionID)
	s.Require().NoError(err)
	s.Len(stored.PieceQueue, session.InitialPieceCount+1)
}

func (s *CoordinatorSuite) TestNextPieceRelayedWithoutValidation() {
	_, p2 := s.startGame()

	// The relay is a pure forwarder: values outside the known piece
	// range pass through and land in the buffer like any other
	s.frame("conn-1", `{"type":"NEXT_PIECE","pieceType":9}`)

	piece, ok := lastOfType[protocol.NextPiece](s.registry.sentTo(p2))
	s.Require().True(ok)
	s.Equal(model.PieceType(9), piece.PieceType)

	_, sessionID, _ := s.registry.Binding("conn-1")
	stored, err := s.storage.GetSession(s.ctx, sessionID)
	s.Require().NoError(err)
	s.Equal(model.PieceType(9), stored.PieceQueue[len(stored.PieceQueue)-1])
}

func (s *CoordinatorSuite) TestNextPieceIgnoredWhileForming() {
	_, p2 := s.matchPair()

	s.frame("conn-1", `{"type":"NEXT_PIECE","pieceType":4}`)
	s.Equal(0, countOfType[protocol.NextPiece](s.registry.sentTo(p2)))
}

func (s *CoordinatorSuite) TestAttackRelayedVerbatim() {
	p1, p2 := s.startGame()

	s.frame("conn-1", fmt.Sprintf(`{"type":"ATTACK","from":%q,"lines":3}`, p1))

	attack, ok := lastOfType[protocol.Attack](s.registry.sentTo(p2))
	s.Require().True(ok)
	s.Equal(string(p1), attack.From)
	s.Equal(3, attack.Lines)
}

func (s *CoordinatorSuite) TestAttackIgnoredWhileForming() {
	_, p2 := s.matchPair()

	s.frame("conn-1", `{"type":"ATTACK","from":"x","lines":3}`)
	s.Equal(0, countOfType[protocol.Attack](s.registry.sentTo(p2)))
}

func (s *CoordinatorSuite) TestBoardUpdateTaggedWithSender() {
	p1, p2 := s.startGame()

	s.frame("conn-1", `{"type":"BOARD_UPDATE","board":{"grid":[[1,0]]}}`)

	update, ok := lastOfType[protocol.OpponentBoardUpdate](s.registry.sentTo(p2))
	s.Require().True(ok)
	s.Equal(p1, update.PlayerID)
	s.JSONEq(`{"grid":[[1,0]]}`, string(update.Board))
}

// Game over

func (s *CoordinatorSuite) TestGameOverDeclaresWinner() {
	p1, p2 := s.startGame()

	s.frame("conn-1", `{"type":"GAME_OVER"}`)

	over, ok := lastOfType[protocol.OpponentGameOver](s.registry.sentTo(p2))
	s.Require().True(ok)
	s.Equal(p1, over.PlayerID)

	_, won := lastOfType[protocol.GameWon](s.registry.sentTo(p2))
	s.True(won)

	// The reporter stays connected and bound
	s.True(s.registry.Connected(p1))
}

func (s *CoordinatorSuite) TestGameOverClearsSessionBindings() {
	s.startGame()

	s.frame("conn-1", `{"type":"GAME_OVER"}`)

	_, sess1, _ := s.registry.Binding("conn-1")
	_, sess2, _ := s.registry.Binding("conn-2")
	s.Empty(sess1)
	s.Empty(sess2)
}

func (s *CoordinatorSuite) TestNoRelayAfterTermination() {
	_, p2 := s.startGame()

	s.frame("conn-1", `{"type":"GAME_OVER"}`)
	s.registry.reset()

	s.frame("conn-1", `{"type":"NEXT_PIECE","pieceType":2}`)
	s.frame("conn-1", `{"type":"ATTACK","from":"x","lines":1}`)
	s.frame("conn-1", `{"type":"BOARD_UPDATE","board":{}}`)

	s.Empty(s.registry.sentTo(p2))
}

func (s *CoordinatorSuite) TestWinnerOfferedNewMatchWhenQueueOccupied() {
	_, p2 := s.startGame()
	s.join("conn-3", "Carol") // now waiting
	s.registry.reset()

	s.frame("conn-1", `{"type":"GAME_OVER"}`)

	_, offered := lastOfType[protocol.NewMatchAvailable](s.registry.sentTo(p2))
	s.True(offered)
}

func (s *CoordinatorSuite) TestWinnerNotOfferedNewMatchWhenQueueEmpty() {
	_, p2 := s.startGame()

	s.frame("conn-1", `{"type":"GAME_OVER"}`)

	_, offered := lastOfType[protocol.NewMatchAvailable](s.registry.sentTo(p2))
	s.False(offered)
}

// Leave and disconnect

func (s *CoordinatorSuite) TestLeaveNotifiesOpponentAndDeclaresWinner() {
	p1, p2 := s.startGame()

	s.frame("conn-1", `{"type":"LEAVE_GAME"}`)

	left, ok := lastOfType[protocol.OpponentLeft](s.registry.sentTo(p2))
	s.Require().True(ok)
	s.Equal(p1, left.PlayerID)

	_, won := lastOfType[protocol.GameWon](s.registry.sentTo(p2))
	s.True(won)

	// The leaver's identity is retired; the connection may join again
	s.False(s.registry.Connected(p1))
	_, _, bound := s.registry.Binding("conn-1")
	s.False(bound)
}

func (s *CoordinatorSuite) TestLeaveWhileWaitingDrainsQueue() {
	s.join("conn-1", "Alice")

	s.frame("conn-1", `{"type":"LEAVE_GAME"}`)

	status, err := s.coordinator.Status(s.ctx)
	s.Require().NoError(err)
	s.Equal(0, status.WaitingPlayers)

	// The next two arrivals match each other, not the leaver
	p2 := s.join("conn-2", "Bob")
	p3 := s.join("conn-3", "Carol")
	m, ok := lastOfType[protocol.GameMatched](s.registry.sentTo(p3))
	s.Require().True(ok)
	s.Equal(p2, m.Players[0].ID)
}

func (s *CoordinatorSuite) TestDisconnectNotifiesOpponent() {
	p1, p2 := s.startGame()

	s.coordinator.HandleDisconnect(s.ctx, "conn-1")

	gone, ok := lastOfType[protocol.OpponentDisconnected](s.registry.sentTo(p2))
	s.Require().True(ok)
	s.Equal(p1, gone.PlayerID)

	_, won := lastOfType[protocol.GameWon](s.registry.sentTo(p2))
	s.True(won)
}

func (s *CoordinatorSuite) TestDisconnectOfUnboundConnectionIsNoop() {
	s.coordinator.HandleDisconnect(s.ctx, "conn-99")
	s.Empty(s.registry.sent)
}

func (s *CoordinatorSuite) TestRejoinAfterWin() {
	_, p2 := s.startGame()

	s.frame("conn-1", `{"type":"GAME_OVER"}`)
	s.registry.reset()

	// The winner joins again on the same connection with a fresh identity
	s.frame("conn-2", `{"type":"JOIN_GAME","playerName":"Bob"}`)
	newID, _, ok := s.registry.Binding("conn-2")
	s.Require().True(ok)
	s.NotEqual(p2, newID)

	waiting, ok := lastOfType[protocol.Waiting](s.registry.sentTo(newID))
	s.Require().True(ok)
	s.Equal(1, waiting.Position)
}

// Malformed input

func (s *CoordinatorSuite) TestMalformedFrameDropped() {
	s.frame("conn-1", `this is not json`)
	s.frame("conn-1", `{"playerName":"NoType"}`)
	s.Empty(s.registry.sent)
}

func (s *CoordinatorSuite) TestUnknownTypeDropped() {
	s.frame("conn-1", `{"type":"TELEPORT"}`)
	s.Empty(s.registry.sent)
}

func (s *CoordinatorSuite) TestGameplayFrameFromUnjoinedConnectionIgnored() {
	s.frame("conn-1", `{"type":"NEXT_PIECE","pieceType":1}`)
	s.frame("conn-1", `{"type":"GAME_OVER"}`)
	s.Empty(s.registry.sent)
}

// Status

func (s *CoordinatorSuite) TestStatusCounts() {
	s.startGame()
	s.join("conn-3", "Carol")

	status, err := s.coordinator.Status(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, status.Games)
	s.Equal(1, status.WaitingPlayers)
	s.Equal(3, status.ConnectedPlayers)
}

// Forming-session reaping

func (s *CoordinatorSuite) TestReapFormingNotifiesMembers() {
	p1, p2 := s.matchPair()

	s.clock.Advance(11 * time.Minute)
	s.Require().NoError(s.coordinator.ReapFormingSessions(s.ctx))

	left1, ok := lastOfType[protocol.OpponentLeft](s.registry.sentTo(p1))
	s.Require().True(ok)
	s.Equal(p2, left1.PlayerID)

	left2, ok := lastOfType[protocol.OpponentLeft](s.registry.sentTo(p2))
	s.Require().True(ok)
	s.Equal(p1, left2.PlayerID)

	// Session bindings cleared, connections still bound to identities
	_, sess1, bound := s.registry.Binding("conn-1")
	s.True(bound)
	s.Empty(sess1)

	status, _ := s.coordinator.Status(s.ctx)
	s.Equal(0, status.Games)
}

func (s *CoordinatorSuite) TestReapFormingLeavesFreshSessions() {
	s.matchPair()

	s.Require().NoError(s.coordinator.ReapFormingSessions(s.ctx))

	status, _ := s.coordinator.Status(s.ctx)
	s.Equal(1, status.Games)
}
