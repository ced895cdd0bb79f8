package types

// Color of a player or figure.
type Color string

const (
	ColorWhite Color = "white"
	ColorBlack Color = "black"
)

// Opponent returns the other color.
func (c Color) Opponent() Color {
	if c == ColorWhite {
		return ColorBlack
	}
	return ColorWhite
}

// PlayerStatus is the lobby readiness of a player.
type PlayerStatus string

const (
	StatusReady    PlayerStatus = "ready"
	StatusNotReady PlayerStatus = "not_ready"
)

// GameStatus of a running or finished game.
type GameStatus string

const (
	GameRunning GameStatus = "running"
	GameEnded   GameStatus = "ended"
	GameAborted GameStatus = "aborted"
)

// CheckStatus accompanies a game_state push when the position is special.
type CheckStatus string

const (
	CheckStatusCheck     CheckStatus = "check"
	CheckStatusMate      CheckStatus = "mate"
	CheckStatusStalemate CheckStatus = "stalemate"
)

// Square is a board coordinate as the server sends it: [row, col], 0-based.
type Square [2]int

func (s Square) Row() int { return s[0] }
func (s Square) Col() int { return s[1] }

// Figure is an immutable piece snapshot. The client never infers legality
// from it.
type Figure struct {
	Name     string `json:"name"` // king, queen, rook, bishop, knight, pawn
	Color    Color  `json:"color"`
	Position Square `json:"position"`
}

// LobbyPlayer is one seat in a lobby. Color is nil until the player picks one.
type LobbyPlayer struct {
	UserID   string       `json:"user_id"`
	Username string       `json:"username"`
	Color    *Color       `json:"color"`
	Status   PlayerStatus `json:"status"`
}

// Lobby is the server-owned lobby snapshot. The client caches it and replaces
// it wholesale on every push.
type Lobby struct {
	GameID  string        `json:"game_id"`
	Players []LobbyPlayer `json:"players"`
}

// Player is a participant of a started game.
type Player struct {
	UserID          string   `json:"user_id"`
	Username        string   `json:"username"`
	Color           Color    `json:"color"`
	CapturedFigures []Figure `json:"captured_figures,omitempty"`
	MoveHistory     []string `json:"move_history,omitempty"`
}

// Board holds the 8x8 grid; empty squares are nil.
type Board struct {
	Squares [8][8]*Figure `json:"squares"`
}

// MoveRecord is the server's record of the most recent move.
type MoveRecord struct {
	Figure            *Figure `json:"figure"`
	Start             Square  `json:"start"`
	End               Square  `json:"end"`
	TwoSquarePawnMove bool    `json:"two_square_pawn_move"`
}

// GameState is the latest pushed game snapshot. The client never mutates the
// board or advances CurrentTurn locally; it waits for the next push.
type GameState struct {
	GameID         string       `json:"game_id"`
	TimeStampStart string       `json:"time_stamp_start,omitempty"`
	PlayerWhite    Player       `json:"player_white"`
	PlayerBlack    Player       `json:"player_black"`
	CurrentTurn    Color        `json:"current_turn"`
	Board          Board        `json:"board"`
	Status         GameStatus   `json:"status"`
	LastMove       *MoveRecord  `json:"last_move,omitempty"`
	CheckStatus    *CheckStatus `json:"check_status,omitempty"`
}

// Session is the authenticated identity. Owned exclusively by the session
// store; at most one exists per running client.
type Session struct {
	Token    string
	UserID   string
	Username string
}
