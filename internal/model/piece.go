package model

// PieceType is one of the seven tetromino shapes, numbered 1 through 7
// to match the client encoding. The server never interprets piece values;
// they are relay payload.
type PieceType int

const (
	PieceI PieceType = iota + 1
	PieceO
	PieceT
	PieceS
	PieceZ
	PieceJ
	PieceL
)

// PieceTypeCount is the number of distinct piece types
const PieceTypeCount = 7

// Valid reports whether the value is within the known piece range
func (p PieceType) Valid() bool {
	return p >= PieceI && p <= PieceL
}
