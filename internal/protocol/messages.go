// Package protocol defines the wire message catalog exchanged with clients.
//
// Every frame is a single JSON object with a "type" discriminator and
// type-specific fields at the top level. The server treats gameplay payloads
// (boards, attacks, piece values) as opaque relay content.
package protocol

import (
	"encoding/json"
	"errors"

	"github.com/blocq/blocq-server/internal/model"
)

// Client-to-server message types
const (
	TypeJoinGame    = "JOIN_GAME"
	TypeLeaveGame   = "LEAVE_GAME"
	TypeReady       = "READY"
	TypeNextPiece   = "NEXT_PIECE"
	TypeAttack      = "ATTACK"
	TypeBoardUpdate = "BOARD_UPDATE"
	TypeGameOver    = "GAME_OVER"
)

// Server-to-client message types
const (
	TypeWaiting              = "WAITING"
	TypeGameMatched          = "GAME_MATCHED"
	TypePlayerReady          = "PLAYER_READY"
	TypeGameStart            = "GAME_START"
	TypeOpponentBoardUpdate  = "OPPONENT_BOARD_UPDATE"
	TypeOpponentGameOver     = "OPPONENT_GAME_OVER"
	TypeOpponentLeft         = "OPPONENT_LEFT"
	TypeOpponentDisconnected = "OPPONENT_DISCONNECTED"
	TypeGameWon              = "GAME_WON"
	TypeNewMatchAvailable    = "NEW_MATCH_AVAILABLE"
)

// ErrMissingType indicates a frame without a type discriminator
var ErrMissingType = errors.New("message has no type field")

// MessageType extracts the type discriminator from a raw frame
func MessageType(raw []byte) (string, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return "", err
	}
	if envelope.Type == "" {
		return "", ErrMissingType
	}
	return envelope.Type, nil
}

// Inbound messages

// JoinGame asks to be queued or matched
type JoinGame struct {
	Type       string `json:"type"`
	PlayerName string `json:"playerName"`
}

// LeaveGame announces an explicit departure from the queue or a session
type LeaveGame struct {
	Type string `json:"type"`
}

// Ready signals readiness within a forming session
type Ready struct {
	Type string `json:"type"`
}

// GameOver is a self-reported loss
type GameOver struct {
	Type string `json:"type"`
}

// NextPiece announces the sender's next piece draw (both directions)
type NextPiece struct {
	Type      string          `json:"type"`
	PieceType model.PieceType `json:"pieceType"`
}

// Attack carries garbage lines to the opponent (both directions).
// The server relays it verbatim without bounds checking.
type Attack struct {
	Type  string `json:"type"`
	From  string `json:"from"`
	Lines int    `json:"lines"`
}

// BoardUpdate is a full board snapshot from a client. The board payload
// is opaque to the server.
type BoardUpdate struct {
	Type  string          `json:"type"`
	Board json.RawMessage `json:"board"`
}

// Outbound messages

// PlayerInfo identifies one session member in a match announcement
type PlayerInfo struct {
	ID   model.ParticipantID `json:"id"`
	Name string              `json:"name"`
}

// Waiting reports queue admission with a 1-based position
type Waiting struct {
	Type     string              `json:"type"`
	PlayerID model.ParticipantID `json:"playerId"`
	Position int                 `json:"position"`
}

// GameMatched announces session formation to each member
type GameMatched struct {
	Type    string              `json:"type"`
	GameID  model.SessionID     `json:"gameId"`
	YourID  model.ParticipantID `json:"yourId"`
	Players []PlayerInfo        `json:"players"`
}

// PlayerReady names a member who signaled readiness
type PlayerReady struct {
	Type     string              `json:"type"`
	PlayerID model.ParticipantID `json:"playerId"`
}

// GameStart carries the initial shared piece sequence
type GameStart struct {
	Type       string            `json:"type"`
	PieceQueue []model.PieceType `json:"pieceQueue"`
}

// OpponentBoardUpdate relays a board snapshot tagged with its origin
type OpponentBoardUpdate struct {
	Type     string              `json:"type"`
	PlayerID model.ParticipantID `json:"playerId"`
	Board    json.RawMessage     `json:"board"`
}

// OpponentGameOver relays a self-reported loss
type OpponentGameOver struct {
	Type     string              `json:"type"`
	PlayerID model.ParticipantID `json:"playerId"`
}

// OpponentLeft announces an explicit departure
type OpponentLeft struct {
	Type     string              `json:"type"`
	PlayerID model.ParticipantID `json:"playerId"`
}

// OpponentDisconnected announces a departure detected by liveness loss
type OpponentDisconnected struct {
	Type     string              `json:"type"`
	PlayerID model.ParticipantID `json:"playerId"`
}

// GameWon tells the sole survivor they won
type GameWon struct {
	Type string `json:"type"`
}

// NewMatchAvailable offers immediate re-queuing after a win
type NewMatchAvailable struct {
	Type string `json:"type"`
}

// Constructors fill in the type discriminator so call sites cannot
// send a mistyped frame.

func NewWaiting(id model.ParticipantID, position int) Waiting {
	return Waiting{Type: TypeWaiting, PlayerID: id, Position: position}
}

func NewGameMatched(gameID model.SessionID, yourID model.ParticipantID, players []PlayerInfo) GameMatched {
	return GameMatched{Type: TypeGameMatched, GameID: gameID, YourID: yourID, Players: players}
}

func NewPlayerReady(id model.ParticipantID) PlayerReady {
	return PlayerReady{Type: TypePlayerReady, PlayerID: id}
}

func NewGameStart(pieces []model.PieceType) GameStart {
	return GameStart{Type: TypeGameStart, PieceQueue: pieces}
}

func NewNextPiece(piece model.PieceType) NextPiece {
	return NextPiece{Type: TypeNextPiece, PieceType: piece}
}

func NewAttack(from string, lines int) Attack {
	return Attack{Type: TypeAttack, From: from, Lines: lines}
}

func NewOpponentBoardUpdate(id model.ParticipantID, board json.RawMessage) OpponentBoardUpdate {
	return OpponentBoardUpdate{Type: TypeOpponentBoardUpdate, PlayerID: id, Board: board}
}

func NewOpponentGameOver(id model.ParticipantID) OpponentGameOver {
	return OpponentGameOver{Type: TypeOpponentGameOver, PlayerID: id}
}

func NewOpponentLeft(id model.ParticipantID) OpponentLeft {
	return OpponentLeft{Type: TypeOpponentLeft, PlayerID: id}
}

func NewOpponentDisconnected(id model.ParticipantID) OpponentDisconnected {
	return OpponentDisconnected{Type: TypeOpponentDisconnected, PlayerID: id}
}

func NewGameWon() GameWon {
	return GameWon{Type: TypeGameWon}
}

func NewNewMatchAvailable() NewMatchAvailable {
	return NewMatchAvailable{Type: TypeNewMatchAvailable}
}

func NewJoinGame(name string) JoinGame {
	return JoinGame{Type: TypeJoinGame, PlayerName: name}
}

func NewLeaveGame() LeaveGame {
	return LeaveGame{Type: TypeLeaveGame}
}

func NewReady() Ready {
	return Ready{Type: TypeReady}
}

func NewGameOver() GameOver {
	return GameOver{Type: TypeGameOver}
}

func NewBoardUpdate(board json.RawMessage) BoardUpdate {
	return BoardUpdate{Type: TypeBoardUpdate, Board: board}
}
