package game

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseMoveNotation_PlainMove(t *testing.T) {
	in := "queen (white, UUID: ab12) von d1 auf d8"
	assert.Equal(t, "queen von d1 auf d8", ParseMoveNotation(in))
}

func TestParseMoveNotation_Capture(t *testing.T) {
	in := "queen (white, UUID: ab12) schlägt rook (black, UUID: cd34) von d1 auf d8"
	assert.Equal(t, "queen von d1 schlägt rook auf d8", ParseMoveNotation(in))
}

func TestParseMoveNotation_EnPassant(t *testing.T) {
	in := "pawn (white, UUID: ef56) schlägt pawn (black, UUID: gh78) auf d5 en passant von e5 auf d6"
	assert.Equal(t, "en passant: pawn von e5 auf d6 schlägt pawn auf d5", ParseMoveNotation(in))
}

func TestParseMoveNotation_UnknownFormatPassesThrough(t *testing.T) {
	assert.Equal(t, "castled", ParseMoveNotation("castled"))
	assert.Equal(t, "", ParseMoveNotation(""))
}
