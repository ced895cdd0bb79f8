package rest

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"chessclient/pkg/types"
)

type lobbyListResponse struct {
	Lobbies []types.Lobby `json:"lobbies"`
}

// CreateLobby opens a new lobby with the caller as its first player and
// returns the server's lobby snapshot (the game id in particular).
func (c *Client) CreateLobby(ctx context.Context, userID, username string) (types.Lobby, error) {
	req, err := c.newBearerRequest(ctx, http.MethodPost, "/lobby/create", map[string]string{
		"user_id":  userID,
		"username": username,
	})
	if err != nil {
		return types.Lobby{}, err
	}
	var lobby types.Lobby
	if err := c.do(req, &lobby); err != nil {
		return types.Lobby{}, asLobbyError(err)
	}
	return lobby, nil
}

// ListLobbies fetches the full current snapshot of visible lobbies.
// Unauthenticated by the wire contract.
func (c *Client) ListLobbies(ctx context.Context) ([]types.Lobby, error) {
	req, err := c.newJSONRequest(ctx, http.MethodGet, "/lobby/list", nil)
	if err != nil {
		return nil, err
	}
	var resp lobbyListResponse
	if err := c.do(req, &resp); err != nil {
		return nil, asLobbyError(err)
	}
	return resp.Lobbies, nil
}

// JoinLobby enters an existing lobby and returns the server's updated
// snapshot. The caller needs it directly: the server broadcasts the join to
// sockets that are already open, which does not include the joiner's.
func (c *Client) JoinLobby(ctx context.Context, gameID, userID, username string) (types.Lobby, error) {
	req, err := c.newBearerRequest(ctx, http.MethodPost, "/lobby/join/"+gameID, map[string]string{
		"user_id":  userID,
		"username": username,
	})
	if err != nil {
		return types.Lobby{}, err
	}
	var lobby types.Lobby
	if err := c.do(req, &lobby); err != nil {
		return types.Lobby{}, asLobbyError(err)
	}
	return lobby, nil
}

func (c *Client) LeaveLobby(ctx context.Context, gameID, userID string) error {
	req, err := c.newBearerRequest(ctx, http.MethodPost,
		fmt.Sprintf("/lobby/leave/%s/%s", gameID, userID), nil)
	if err != nil {
		return err
	}
	return asLobbyError(c.do(req, nil))
}

// SetColor is fire-and-confirm: the authoritative result arrives via the
// next lobby_update push, not this response.
func (c *Client) SetColor(ctx context.Context, gameID, userID string, color types.Color) error {
	req, err := c.newBearerRequest(ctx, http.MethodPost,
		fmt.Sprintf("/lobby/set_color/%s/%s/%s", gameID, userID, color), nil)
	if err != nil {
		return err
	}
	return asLobbyError(c.do(req, nil))
}

// SetStatus is fire-and-confirm, like SetColor.
func (c *Client) SetStatus(ctx context.Context, gameID, userID string, status types.PlayerStatus) error {
	req, err := c.newBearerRequest(ctx, http.MethodPost,
		fmt.Sprintf("/lobby/set_status/%s/%s/%s", gameID, userID, status), nil)
	if err != nil {
		return err
	}
	return asLobbyError(c.do(req, nil))
}

// asLobbyError maps server rejections of lobby actions to LobbyError.
func asLobbyError(err error) error {
	var se *statusError
	if errors.As(err, &se) {
		if se.code == http.StatusUnauthorized {
			return &AuthError{Message: se.detail}
		}
		return &LobbyError{Message: se.detail}
	}
	return err
}
