package ws

import (
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/blocq/blocq-server/internal/model"
	"github.com/blocq/blocq-server/internal/protocol"
	"github.com/blocq/blocq-server/internal/testutil"
)

type RegistrySuite struct {
	suite.Suite
	registry *Registry
}

func TestRegistrySuite(t *testing.T) {
	suite.Run(t, new(RegistrySuite))
}

func (s *RegistrySuite) SetupTest() {
	s.registry = NewRegistry(testutil.NopLogger())
}

// addClient registers a client without a real socket. Tests only exercise
// the send queue, never the connection itself.
func (s *RegistrySuite) addClient(id model.ConnectionID) *Client {
	client := newClient(id, nil, testutil.NopLogger())
	s.registry.Add(client)
	return client
}

func (s *RegistrySuite) TestBindAndResolve() {
	s.addClient("conn-1")
	s.registry.Bind("conn-1", "p1")

	id, sessionID, ok := s.registry.Binding("conn-1")
	s.Require().True(ok)
	s.Equal(model.ParticipantID("p1"), id)
	s.Empty(sessionID)
	s.True(s.registry.Connected("p1"))
}

func (s *RegistrySuite) TestUnboundConnectionResolvesFalse() {
	s.addClient("conn-1")

	_, _, ok := s.registry.Binding("conn-1")
	s.False(ok)
}

func (s *RegistrySuite) TestRebindIsLastWriterWins() {
	s.addClient("conn-1")
	s.registry.Bind("conn-1", "p1")
	s.registry.Bind("conn-1", "p2")

	id, _, ok := s.registry.Binding("conn-1")
	s.Require().True(ok)
	s.Equal(model.ParticipantID("p2"), id)
	s.False(s.registry.Connected("p1"))
	s.True(s.registry.Connected("p2"))
}

func (s *RegistrySuite) TestBindSessionAndClear() {
	s.addClient("conn-1")
	s.registry.Bind("conn-1", "p1")

	s.registry.BindSession("p1", "game-1")
	_, sessionID, _ := s.registry.Binding("conn-1")
	s.Equal(model.SessionID("game-1"), sessionID)

	s.registry.ClearSession("p1")
	id, sessionID, ok := s.registry.Binding("conn-1")
	s.Require().True(ok)
	s.Equal(model.ParticipantID("p1"), id)
	s.Empty(sessionID)
}

func (s *RegistrySuite) TestBindSessionUnknownParticipantIsNoop() {
	s.registry.BindSession("ghost", "game-1")
	s.registry.ClearSession("ghost")
}

func (s *RegistrySuite) TestSendQueuesForBoundParticipant() {
	client := s.addClient("conn-1")
	s.registry.Bind("conn-1", "p1")

	s.registry.Send("p1", protocol.NewGameWon())

	select {
	case data := <-client.send:
		s.JSONEq(`{"type":"GAME_WON"}`, string(data))
	default:
		s.Fail("expected a queued frame")
	}
}

func (s *RegistrySuite) TestSendToUnknownParticipantIsNoop() {
	s.registry.Send("ghost", protocol.NewGameWon())
}

func (s *RegistrySuite) TestUnregisterRetiresIdentityKeepsConnection() {
	client := s.addClient("conn-1")
	s.registry.Bind("conn-1", "p1")

	s.registry.Unregister("p1")

	s.False(s.registry.Connected("p1"))
	_, _, ok := s.registry.Binding("conn-1")
	s.False(ok)

	// Connection still registered; a fresh join may rebind it
	s.Contains(s.registry.Clients(), client)
}

func (s *RegistrySuite) TestRemoveForgetsEverything() {
	s.addClient("conn-1")
	s.registry.Bind("conn-1", "p1")

	s.registry.Remove("conn-1")

	s.False(s.registry.Connected("p1"))
	_, _, ok := s.registry.Binding("conn-1")
	s.False(ok)
	s.Equal(0, s.registry.ConnectedCount())
}

func (s *RegistrySuite) TestConnectedCountTracksBoundParticipants() {
	s.addClient("conn-1")
	s.addClient("conn-2")
	s.Equal(0, s.registry.ConnectedCount())

	s.registry.Bind("conn-1", "p1")
	s.registry.Bind("conn-2", "p2")
	s.Equal(2, s.registry.ConnectedCount())

	s.registry.Unregister("p1")
	s.Equal(1, s.registry.ConnectedCount())
}

func (s *RegistrySuite) TestLivenessStatusTransitions() {
	s.addClient("conn-1")
	s.Equal(model.StatusConnected, s.registry.StatusOf("conn-1"))

	s.registry.MarkProbing("conn-1")
	s.Equal(model.StatusProbing, s.registry.StatusOf("conn-1"))

	s.registry.MarkConnected("conn-1")
	s.Equal(model.StatusConnected, s.registry.StatusOf("conn-1"))

	s.registry.MarkLost("conn-1")
	s.Equal(model.StatusLost, s.registry.StatusOf("conn-1"))
}

func (s *RegistrySuite) TestStatusIgnoredForUnknownConnection() {
	s.registry.MarkProbing("conn-99")
	s.Equal(model.ConnectionStatus(""), s.registry.StatusOf("conn-99"))
}
