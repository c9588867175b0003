package redis

import (
	"fmt"

	"github.com/blocq/blocq-server/internal/model"
)

// Key prefix for all coordinator data
const keyPrefix = "blocq"

// waitingListKey returns the Redis key for the FIFO waiting queue (list of IDs)
func waitingListKey() string {
	return fmt.Sprintf("%s:waiting", keyPrefix)
}

// waitingPlayerKey returns the Redis key for a queued participant's data
func waitingPlayerKey(id model.ParticipantID) string {
	return fmt.Sprintf("%s:waiting:player:%s", keyPrefix, id)
}

// sessionKey returns the Redis key for a session
func sessionKey(id model.SessionID) string {
	return fmt.Sprintf("%s:session:%s", keyPrefix, id)
}

// sessionIndexKey returns the Redis key for the SET of active session IDs
func sessionIndexKey() string {
	return fmt.Sprintf("%s:idx:sessions", keyPrefix)
}
