package model

import (
	"strings"
	"time"
)

// ParticipantID uniquely identifies a connected player across the system
type ParticipantID string

// DefaultName is used when a join request carries no usable display name
const DefaultName = "Player"

// MaxNameLength is the maximum number of runes kept from a display name
const MaxNameLength = 20

// Participant is one player occupying a seat in the matchmaking/session model.
// A participant lives in the waiting queue or in exactly one session, never both.
type Participant struct {
	ID       ParticipantID `json:"id"`
	Name     string        `json:"name"`
	Ready    bool          `json:"ready"`
	Finished bool          `json:"finished"` // set when the player self-reports game over
	JoinedAt time.Time     `json:"joined_at"`
}

// SanitizeName trims and truncates a user-supplied display name,
// falling back to DefaultName if nothing usable remains.
func SanitizeName(name string) string {
	name = strings.TrimSpace(name)
	runes := []rune(name)
	if len(runes) > MaxNameLength {
		name = string(runes[:MaxNameLength])
	}
	if name == "" {
		return DefaultName
	}
	return name
}
