package matchmaking

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/blocq/blocq-server/internal/model"
	"github.com/blocq/blocq-server/internal/storage/memory"
	"github.com/blocq/blocq-server/internal/testutil"
)

type ServiceSuite struct {
	suite.Suite
	storage *memory.Storage
	service *Service
	ctx     context.Context
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.storage = memory.New()
	s.service = New(s.storage, testutil.NopLogger())
	s.ctx = context.Background()
}

func (s *ServiceSuite) TestFirstArrivalQueuesAtPositionOne() {
	result, err := s.service.EnqueueOrMatch(s.ctx, &model.Participant{ID: "p1"})
	s.Require().NoError(err)

	s.False(result.Matched())
	s.Equal(1, result.Position)
}

func (s *ServiceSuite) TestSecondArrivalMatchesTheWaiter() {
	_, _ = s.service.EnqueueOrMatch(s.ctx, &model.Participant{ID: "p1"})

	result, err := s.service.EnqueueOrMatch(s.ctx, &model.Participant{ID: "p2"})
	s.Require().NoError(err)

	s.True(result.Matched())
	s.Equal(model.ParticipantID("p1"), result.Opponent.ID)

	// The queue is drained after the match
	count, _ := s.service.Len(s.ctx)
	s.Equal(0, count)
}

func (s *ServiceSuite) TestLongestWaiterMatchedFirst() {
	_, _ = s.service.EnqueueOrMatch(s.ctx, &model.Participant{ID: "p1"})
	// p1 matched away by p2; p3 then queues
	_, _ = s.service.EnqueueOrMatch(s.ctx, &model.Participant{ID: "p2"})
	_, _ = s.service.EnqueueOrMatch(s.ctx, &model.Participant{ID: "p3"})

	result, err := s.service.EnqueueOrMatch(s.ctx, &model.Participant{ID: "p4"})
	s.Require().NoError(err)
	s.Equal(model.ParticipantID("p3"), result.Opponent.ID)
}

func (s *ServiceSuite) TestQueuePositionGrows() {
	_, _ = s.storage.PushWaiting(s.ctx, &model.Participant{ID: "p1"})

	// Simulate a second queued participant without matching by pushing directly
	pos, err := s.storage.PushWaiting(s.ctx, &model.Participant{ID: "p2"})
	s.Require().NoError(err)
	s.Equal(2, pos)
}

func (s *ServiceSuite) TestRemoveWaiter() {
	_, _ = s.service.EnqueueOrMatch(s.ctx, &model.Participant{ID: "p1"})

	err := s.service.Remove(s.ctx, "p1")
	s.Require().NoError(err)

	count, _ := s.service.Len(s.ctx)
	s.Equal(0, count)
}

func (s *ServiceSuite) TestRemoveAbsentIsNoop() {
	s.NoError(s.service.Remove(s.ctx, "ghost"))
}
