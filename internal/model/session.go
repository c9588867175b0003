package model

import "time"

// SessionID uniquely identifies a matched game session
type SessionID string

// Session is a matched group of participants playing one round together.
// It starts forming (Active false) and activates once every member has
// signaled ready. The player list only shrinks after formation; the piece
// queue is append-only while the session is active.
type Session struct {
	ID         SessionID      `json:"id"`
	Players    []*Participant `json:"players"`
	Active     bool           `json:"active"`
	PieceQueue []PieceType    `json:"piece_queue"`
	CreatedAt  time.Time      `json:"created_at"`
}

// GetPlayer returns the member with the given ID, or nil if not present
func (s *Session) GetPlayer(id ParticipantID) *Participant {
	for _, p := range s.Players {
		if p.ID == id {
			return p
		}
	}
	return nil
}

// Others returns all members except the one with the given ID
func (s *Session) Others(id ParticipantID) []*Participant {
	var others []*Participant
	for _, p := range s.Players {
		if p.ID != id {
			others = append(others, p)
		}
	}
	return others
}

// RemovePlayer removes the member with the given ID.
// Returns false if the member was not present.
func (s *Session) RemovePlayer(id ParticipantID) bool {
	for i, p := range s.Players {
		if p.ID == id {
			s.Players = append(s.Players[:i], s.Players[i+1:]...)
			return true
		}
	}
	return false
}

// AllReady reports whether every current member has signaled ready
func (s *Session) AllReady() bool {
	for _, p := range s.Players {
		if !p.Ready {
			return false
		}
	}
	return len(s.Players) > 0
}
