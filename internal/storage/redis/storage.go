package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/blocq/blocq-server/internal/model"
	"github.com/blocq/blocq-server/internal/storage"
)

// Storage is a Redis-backed implementation of the storage interface.
// The waiting queue is a list of participant IDs with the participant
// bodies stored alongside; sessions are JSON values with a set index
// for counting and listing.
type Storage struct {
	client *redis.Client
	cfg    Config
}

// New creates a new Redis storage instance
func New(cfg Config) (*Storage, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, err
	}

	opts.PoolSize = cfg.PoolSize
	opts.MinIdleConns = cfg.MinIdleConns

	client := redis.NewClient(opts)

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &Storage{
		client: client,
		cfg:    cfg,
	}, nil
}

// NewWithClient creates a Redis storage with an existing client (for testing)
func NewWithClient(client *redis.Client, cfg Config) *Storage {
	return &Storage{
		client: client,
		cfg:    cfg,
	}
}

// Close closes the Redis connection
func (s *Storage) Close() error {
	return s.client.Close()
}

// Ensure Storage implements the interface
var _ storage.Storage = (*Storage)(nil)

// Waiting queue operations

func (s *Storage) PushWaiting(ctx context.Context, p *model.Participant) (int, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return 0, err
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, waitingPlayerKey(p.ID), data, s.cfg.WaitingTTL)
	length := pipe.RPush(ctx, waitingListKey(), string(p.ID))
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return int(length.Val()), nil
}

func (s *Storage) PopWaiting(ctx context.Context) (*model.Participant, error) {
	for {
		id, err := s.client.LPop(ctx, waitingListKey()).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return nil, model.ErrQueueEmpty
			}
			return nil, err
		}

		key := waitingPlayerKey(model.ParticipantID(id))
		data, err := s.client.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				// Body expired while the ID lingered in the list; skip it
				continue
			}
			return nil, err
		}
		_ = s.client.Del(ctx, key).Err()

		var p model.Participant
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return &p, nil
	}
}

func (s *Storage) RemoveWaiting(ctx context.Context, id model.ParticipantID) error {
	pipe := s.client.Pipeline()
	pipe.LRem(ctx, waitingListKey(), 0, string(id))
	pipe.Del(ctx, waitingPlayerKey(id))
	_, err := pipe.Exec(ctx)
	return err
}

func (s *Storage) WaitingCount(ctx context.Context) (int, error) {
	n, err := s.client.LLen(ctx, waitingListKey()).Result()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// Session operations

func (s *Storage) SaveSession(ctx context.Context, session *model.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return err
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, sessionKey(session.ID), data, s.cfg.SessionTTL)
	pipe.SAdd(ctx, sessionIndexKey(), string(session.ID))
	_, err = pipe.Exec(ctx)
	return err
}

func (s *Storage) GetSession(ctx context.Context, id model.SessionID) (*model.Session, error) {
	data, err := s.client.Get(ctx, sessionKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, model.ErrSessionNotFound
		}
		return nil, err
	}

	var session model.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

func (s *Storage) DeleteSession(ctx context.Context, id model.SessionID) error {
	pipe := s.client.Pipeline()
	pipe.Del(ctx, sessionKey(id))
	pipe.SRem(ctx, sessionIndexKey(), string(id))
	_, err := pipe.Exec(ctx)
	return err
}

func (s *Storage) SessionCount(ctx context.Context) (int, error) {
	n, err := s.client.SCard(ctx, sessionIndexKey()).Result()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (s *Storage) ListSessions(ctx context.Context) ([]*model.Session, error) {
	ids, err := s.client.SMembers(ctx, sessionIndexKey()).Result()
	if err != nil {
		return nil, err
	}

	var sessions []*model.Session
	for _, id := range ids {
		session, err := s.GetSession(ctx, model.SessionID(id))
		if err != nil {
			if errors.Is(err, model.ErrSessionNotFound) {
				// Expired body with a stale index entry; drop the entry
				_ = s.client.SRem(ctx, sessionIndexKey(), id).Err()
				continue
			}
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, nil
}
