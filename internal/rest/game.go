package rest

import (
	"context"
	"fmt"
	"net/http"

	"chessclient/pkg/types"
)

// StartGame asks the server to start the game for a ready lobby. Only the
// lobby host may call it. The server confirms separately with a game_start
// push on the lobby channel; the returned state is the initial snapshot.
func (c *Client) StartGame(ctx context.Context, gameID, userID string) (types.GameState, error) {
	req, err := c.newBearerRequest(ctx, http.MethodPost,
		fmt.Sprintf("/game/start_game/%s/%s", gameID, userID), nil)
	if err != nil {
		return types.GameState{}, err
	}
	var state types.GameState
	if err := c.do(req, &state); err != nil {
		return types.GameState{}, asLobbyError(err)
	}
	return state, nil
}
