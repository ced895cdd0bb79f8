package game

import (
	"fmt"
	"regexp"
	"strings"
)

// The server records move history as verbose sentences with embedded figure
// metadata in parentheses, e.g.
//
//	queen (white, UUID: ab12) von d1 auf d8
//	queen (white, UUID: ab12) schlägt rook (black, UUID: cd34) von d1 auf d8
//	pawn (white, UUID: ef56) schlägt pawn (black, UUID: gh78) auf d5 en passant von e5 auf d6
//
// The three forms are distinguishable by fixed markers: "en passant" and
// "schlägt". This is display formatting only; move semantics come from
// game_state pushes.

var parenGroups = regexp.MustCompile(`\s*\([^)]*\)`)

// ParseMoveNotation condenses one history entry into a display line. Strings
// that do not match any known form pass through unchanged.
func ParseMoveNotation(move string) string {
	cleaned := strings.TrimSpace(parenGroups.ReplaceAllString(move, ""))
	parts := strings.Fields(cleaned)
	if len(parts) < 5 {
		return move
	}

	figure := parts[0]
	start := parts[len(parts)-3]
	end := parts[len(parts)-1]

	switch {
	case strings.Contains(move, "en passant"):
		if len(parts) < 7 {
			return move
		}
		capturedAt := parts[len(parts)-7]
		return fmt.Sprintf("en passant: %s von %s auf %s schlägt pawn auf %s", figure, start, end, capturedAt)
	case containsToken(parts, "schlägt"):
		captured := parts[2]
		return fmt.Sprintf("%s von %s schlägt %s auf %s", figure, start, captured, end)
	default:
		return fmt.Sprintf("%s von %s auf %s", figure, start, end)
	}
}

func containsToken(parts []string, token string) bool {
	for _, p := range parts {
		if p == token {
			return true
		}
	}
	return false
}
