package types

// Client -> Server (game channel)
// move:
//   game_id: string
//   user_id: string
//   start_pos: [row, col]
//   end_pos: [row, col]
//
// Server -> Client (lobby channel)
// lobby_update:
//   game_id: string
//   players: LobbyPlayer[]
//
// game_start:
//   game_id: string   // id to dial the game channel with
//
// Server -> Client (game channel)
// game_state:
//   data: GameState
//
// error:
//   message: string   // e.g. illegal move; never alters cached state
//
// notification:
//   message: string   // one-shot, e.g. checkmate announcement

// MoveMessage is the single move-intent shape the client sends. Squares are
// always [row, col] pairs; algebraic strings are not part of the contract.
type MoveMessage struct {
	Action   string `json:"action"` // always "move"
	GameID   string `json:"game_id"`
	UserID   string `json:"user_id"`
	StartPos Square `json:"start_pos"`
	EndPos   Square `json:"end_pos"`
}

// LobbyUpdate is the payload of a lobby_update push. The lobby fields arrive
// flattened next to the discriminant, not nested under a data key.
type LobbyUpdate struct {
	GameID  string        `json:"game_id"`
	Players []LobbyPlayer `json:"players"`
}

// GameStart is the payload of a game_start push.
type GameStart struct {
	GameID string `json:"game_id"`
}

// GameStatePush is the payload of a game_state push.
type GameStatePush struct {
	Data GameState `json:"data"`
}

// ServerNotice is the payload of both error and notification pushes.
type ServerNotice struct {
	Message string `json:"message"`
}
