package lobby

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"chessclient/internal/channel"
	"chessclient/internal/rest"
	"chessclient/pkg/types"
)

// Notify surfaces a one-shot user-visible message. It is not part of cached
// state and is shown exactly once per triggering event.
type Notify func(message string)

// Coordinator drives the lobby phase: the visible-lobby list, the lobby the
// user currently sits in, and the lobby-presence channel. The server owns
// every lobby; the coordinator only caches the latest pushed snapshot and
// replaces it wholesale, never merging fields.
type Coordinator struct {
	mu      sync.Mutex
	lobbies []types.Lobby
	current *types.Lobby

	api      *rest.Client
	channels *channel.Manager
	notify   Notify
	log      *zap.Logger

	// onGameStart is the single lobby-to-game transition point, invoked
	// when the server pushes game_start.
	onGameStart func(gameID string)
}

func NewCoordinator(api *rest.Client, channels *channel.Manager, notify Notify, log *zap.Logger) *Coordinator {
	if notify == nil {
		notify = func(string) {}
	}
	return &Coordinator{api: api, channels: channels, notify: notify, log: log}
}

// OnGameStart registers the handoff that opens the game channel. Without it
// a game_start push is logged and lost.
func (c *Coordinator) OnGameStart(fn func(gameID string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onGameStart = fn
}

// List fetches the current full lobby snapshot and replaces the cached list.
func (c *Coordinator) List(ctx context.Context) ([]types.Lobby, error) {
	lobbies, err := c.api.ListLobbies(ctx)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.lobbies = lobbies
	c.mu.Unlock()
	return lobbies, nil
}

// Lobbies returns the cached lobby list from the last successful List.
func (c *Coordinator) Lobbies() []types.Lobby {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]types.Lobby, len(c.lobbies))
	copy(out, c.lobbies)
	return out
}

// Current returns a copy of the lobby the user is in, or nil.
func (c *Coordinator) Current() *types.Lobby {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return nil
	}
	cp := *c.current
	cp.Players = append([]types.LobbyPlayer(nil), c.current.Players...)
	return &cp
}

// ChannelState reports the lobby channel state.
func (c *Coordinator) ChannelState() channel.State {
	return c.channels.State(channel.KindLobby)
}

// Create opens a new lobby and returns its game id. The lobby channel is
// opened before the list refresh so no push for the new lobby can be missed;
// refresh-then-open would leave a window where the first lobby_update is
// dropped.
func (c *Coordinator) Create(ctx context.Context, userID, username string) (string, error) {
	created, err := c.api.CreateLobby(ctx, userID, username)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.current = &created
	c.mu.Unlock()

	if err := c.openChannel(ctx, created.GameID); err != nil {
		c.clearCurrent()
		return "", err
	}
	c.refresh(ctx)
	return created.GameID, nil
}

// Join enters an existing lobby and opens its channel, symmetrically with
// Create. The join response seeds the cache directly: the server broadcasts
// the join before this client's channel is open, so waiting for a push would
// leave the lobby invisible until the other player acts.
func (c *Coordinator) Join(ctx context.Context, gameID, userID, username string) error {
	joined, err := c.api.JoinLobby(ctx, gameID, userID, username)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.current = &joined
	c.mu.Unlock()

	if err := c.openChannel(ctx, gameID); err != nil {
		c.clearCurrent()
		return err
	}
	c.refresh(ctx)
	return nil
}

// Leave exits the lobby and closes its channel.
func (c *Coordinator) Leave(ctx context.Context, gameID, userID string) error {
	if err := c.api.LeaveLobby(ctx, gameID, userID); err != nil {
		return err
	}
	c.channels.Close(channel.KindLobby)
	c.clearCurrent()
	c.refresh(ctx)
	return nil
}

func (c *Coordinator) clearCurrent() {
	c.mu.Lock()
	c.current = nil
	c.mu.Unlock()
}

// SetColor requests a color. Fire-and-confirm: the cached lobby reflects the
// change only once the next lobby_update arrives.
func (c *Coordinator) SetColor(ctx context.Context, gameID, userID string, color types.Color) error {
	return c.api.SetColor(ctx, gameID, userID, color)
}

// SetStatus requests ready/not-ready. Fire-and-confirm like SetColor.
func (c *Coordinator) SetStatus(ctx context.Context, gameID, userID string, status types.PlayerStatus) error {
	return c.api.SetStatus(ctx, gameID, userID, status)
}

// StartGame asks the server to start a ready lobby. The actual transition
// happens when the server confirms with a game_start push.
func (c *Coordinator) StartGame(ctx context.Context, gameID, userID string) error {
	_, err := c.api.StartGame(ctx, gameID, userID)
	return err
}

func (c *Coordinator) openChannel(ctx context.Context, gameID string) error {
	return c.channels.Open(ctx, channel.KindLobby, gameID, channel.Options{
		Handlers: map[string]channel.HandlerFunc{
			"lobby_update": c.handleLobbyUpdate,
			"game_start":   c.handleGameStart,
		},
		// game_start is the lobby channel's last push; the manager closes
		// the channel before dispatching it.
		CloseAfter: []string{"game_start"},
		OnClose: func(err error) {
			if err != nil {
				c.notify("Lobby connection lost.")
			}
		},
	})
}

// refresh re-fetches the lobby list after an action. Failure here must not
// fail the action that triggered it; it surfaces as a notification only.
func (c *Coordinator) refresh(ctx context.Context) {
	if _, err := c.List(ctx); err != nil {
		c.log.Warn("lobby list refresh failed", zap.Error(err))
		c.notify("Could not refresh lobby list.")
	}
}

func (c *Coordinator) handleLobbyUpdate(data json.RawMessage) {
	var update types.LobbyUpdate
	if err := json.Unmarshal(data, &update); err != nil {
		c.log.Warn("bad lobby_update payload", zap.Error(err))
		return
	}

	// Wholesale replace. Merging fields would reintroduce the ordering
	// bugs this design avoids.
	c.mu.Lock()
	c.current = &types.Lobby{GameID: update.GameID, Players: update.Players}
	c.mu.Unlock()
}

func (c *Coordinator) handleGameStart(data json.RawMessage) {
	var start types.GameStart
	if err := json.Unmarshal(data, &start); err != nil {
		c.log.Warn("bad game_start payload", zap.Error(err))
		return
	}

	c.mu.Lock()
	handoff := c.onGameStart
	c.mu.Unlock()

	// The lobby channel is already closed here, via CloseAfter.
	c.log.Info("game starting", zap.String("game_id", start.GameID))
	if handoff == nil {
		c.log.Warn("game_start received with no handoff registered",
			zap.String("game_id", start.GameID))
		return
	}
	handoff(start.GameID)
}

// ReadyToStart reports whether a lobby can begin: exactly two players, both
// with distinct assigned colors, both ready.
func ReadyToStart(l types.Lobby) bool {
	if len(l.Players) != 2 {
		return false
	}
	a, b := l.Players[0], l.Players[1]
	if a.Color == nil || b.Color == nil || *a.Color == *b.Color {
		return false
	}
	return a.Status == types.StatusReady && b.Status == types.StatusReady
}
