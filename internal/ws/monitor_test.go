package ws

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/blocq/blocq-server/internal/model"
	"github.com/blocq/blocq-server/internal/testutil"
)

type MonitorSuite struct {
	suite.Suite
	registry *Registry
	monitor  *Monitor
}

func TestMonitorSuite(t *testing.T) {
	suite.Run(t, new(MonitorSuite))
}

func (s *MonitorSuite) SetupTest() {
	s.registry = NewRegistry(testutil.NopLogger())
	s.monitor = NewMonitor(s.registry, time.Second, testutil.NopLogger())
}

// dialPair upgrades one real connection and returns both ends
func (s *MonitorSuite) dialPair() (server, peer *websocket.Conn) {
	s.T().Helper()

	connCh := make(chan *websocket.Conn, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(s.T(), err)
		connCh <- conn
	}))
	s.T().Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	peer, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(s.T(), err)
	s.T().Cleanup(func() { _ = peer.Close() })

	server = <-connCh
	s.T().Cleanup(func() { _ = server.Close() })
	return server, peer
}

func (s *MonitorSuite) addClient(id model.ConnectionID) *Client {
	conn, _ := s.dialPair()
	client := newClient(id, conn, testutil.NopLogger())
	s.registry.Add(client)
	return client
}

func (s *MonitorSuite) TestSweepMarksHealthyConnectionsProbing() {
	s.addClient("conn-1")

	s.monitor.Sweep()

	s.Equal(model.StatusProbing, s.registry.StatusOf("conn-1"))
}

func (s *MonitorSuite) TestSweepEvictsConnectionStillProbing() {
	s.addClient("conn-1")

	// No pong between the two sweeps: the second one evicts
	s.monitor.Sweep()
	s.monitor.Sweep()

	s.Equal(model.StatusLost, s.registry.StatusOf("conn-1"))
}

func (s *MonitorSuite) TestAnsweredProbeResetsStatus() {
	s.addClient("conn-1")

	s.monitor.Sweep()
	s.registry.MarkConnected("conn-1")

	s.monitor.Sweep()
	s.Equal(model.StatusProbing, s.registry.StatusOf("conn-1"))
}

func (s *MonitorSuite) TestFailedProbeWriteMarksLost() {
	client := s.addClient("conn-1")

	// Kill the transport underneath the client so the ping write fails
	client.Close()

	s.monitor.Sweep()
	s.Equal(model.StatusLost, s.registry.StatusOf("conn-1"))
}
