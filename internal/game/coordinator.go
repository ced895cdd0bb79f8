package game

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"chessclient/internal/channel"
	"chessclient/pkg/types"
)

// Notify surfaces a one-shot user-visible message.
type Notify func(message string)

// Coordinator holds the authoritative local copy of game state: the latest
// game_state push, nothing more. It never mutates the board speculatively
// and never advances the turn locally; after a move is sent it waits for the
// next push.
type Coordinator struct {
	mu    sync.Mutex
	state *types.GameState

	channels *channel.Manager
	notify   Notify
	log      *zap.Logger
}

func NewCoordinator(channels *channel.Manager, notify Notify, log *zap.Logger) *Coordinator {
	if notify == nil {
		notify = func(string) {}
	}
	return &Coordinator{channels: channels, notify: notify, log: log}
}

// Connect opens the game channel. The local state stays nil until the first
// game_state push arrives; consumers render a loading view, not a default
// board.
func (c *Coordinator) Connect(ctx context.Context, gameID string) error {
	c.mu.Lock()
	c.state = nil
	c.mu.Unlock()

	return c.channels.Open(ctx, channel.KindGame, gameID, channel.Options{
		Handlers: map[string]channel.HandlerFunc{
			"game_state":   c.handleGameState,
			"error":        c.handleError,
			"notification": c.handleNotification,
		},
		OnClose: func(err error) {
			if err != nil {
				c.notify("Game connection lost.")
			}
		},
	})
}

// Disconnect closes the game channel and drops the cached snapshot, e.g.
// when the user navigates away.
func (c *Coordinator) Disconnect() {
	c.channels.Close(channel.KindGame)
	c.mu.Lock()
	c.state = nil
	c.mu.Unlock()
}

// State returns a copy of the latest pushed snapshot, or nil before the
// first push.
func (c *Coordinator) State() *types.GameState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == nil {
		return nil
	}
	cp := *c.state
	return &cp
}

// ChannelState reports the game channel state.
func (c *Coordinator) ChannelState() channel.State {
	return c.channels.State(channel.KindGame)
}

// MakeMove sends a move intent. Legality is entirely the server's call; the
// sole source of truth for the outcome is the next game_state push. With no
// open channel this fails immediately with channel.ErrNotConnected and
// transmits nothing — queuing could replay a stale move against a board that
// has since changed.
func (c *Coordinator) MakeMove(ctx context.Context, gameID, userID string, start, end types.Square) error {
	return c.channels.Send(ctx, channel.KindGame, types.MoveMessage{
		Action:   "move",
		GameID:   gameID,
		UserID:   userID,
		StartPos: start,
		EndPos:   end,
	})
}

// handleGameState replaces the snapshot wholesale and surfaces any check
// status exactly once, on the push that carried it. Re-renders of the same
// state must not re-show it, which is why it rides on the push path and not
// on State().
func (c *Coordinator) handleGameState(data json.RawMessage) {
	var push types.GameStatePush
	if err := json.Unmarshal(data, &push); err != nil {
		c.log.Warn("bad game_state payload", zap.Error(err))
		return
	}

	c.mu.Lock()
	c.state = &push.Data
	c.mu.Unlock()

	if push.Data.CheckStatus != nil {
		switch *push.Data.CheckStatus {
		case types.CheckStatusCheck:
			c.notify("Check!")
		case types.CheckStatusMate:
			c.notify("Checkmate!")
		case types.CheckStatusStalemate:
			c.notify("Stalemate!")
		}
	}
	if push.Data.Status != types.GameRunning {
		c.log.Info("game over",
			zap.String("game_id", push.Data.GameID),
			zap.String("status", string(push.Data.Status)))
	}
}

// handleError is a server rejection on an otherwise-open channel, e.g. an
// illegal move. One-shot notification; no game_state accompanied it, so the
// board stays exactly as it was.
func (c *Coordinator) handleError(data json.RawMessage) {
	var notice types.ServerNotice
	if err := json.Unmarshal(data, &notice); err != nil {
		c.log.Warn("bad error payload", zap.Error(err))
		return
	}
	c.notify(notice.Message)
}

func (c *Coordinator) handleNotification(data json.RawMessage) {
	var notice types.ServerNotice
	if err := json.Unmarshal(data, &notice); err != nil {
		c.log.Warn("bad notification payload", zap.Error(err))
		return
	}
	c.notify(notice.Message)
}
