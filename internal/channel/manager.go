package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"
)

// Kind distinguishes the two live channels the client may hold.
type Kind string

const (
	KindLobby Kind = "lobby"
	KindGame  Kind = "game"
)

// ErrNotConnected is returned by Send when no channel of the kind is open.
// Sends are never queued while connecting: a queued stale message could be
// replayed against state that has since changed.
var ErrNotConnected = errors.New("channel not connected")

// State of a channel kind.
type State int

const (
	Disconnected State = iota
	Connecting
	Open
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	default:
		return "disconnected"
	}
}

// HandlerFunc receives the raw payload of one inbound push. Handlers for one
// channel are invoked sequentially in arrival order, on the channel's read
// pump goroutine.
type HandlerFunc func(data json.RawMessage)

// Options configure one Open call. Handlers is keyed by the envelope's type
// discriminant; pushes with an unregistered discriminant are logged and
// dropped. CloseAfter lists discriminants that are terminal for the channel:
// the manager closes the channel before dispatching such a push, so its
// handler runs exactly once and nothing follows it. OnClose fires when the
// connection drops on its own, not when the owner calls Close.
type Options struct {
	Handlers   map[string]HandlerFunc
	CloseAfter []string
	OnClose    func(err error)
}

type conn struct {
	kind   Kind
	gameID string
	gen    uint64
	state  State
	ws     *websocket.Conn
	cancel context.CancelFunc
	opts   Options

	// dispatchMu serializes handler dispatch against owner Close. Held by
	// the read pump across the liveness check and the handler call.
	dispatchMu sync.Mutex
}

func (c *conn) terminal(discriminant string) bool {
	for _, t := range c.opts.CloseAfter {
		if t == discriminant {
			return true
		}
	}
	return false
}

// Manager owns at most one lobby channel and at most one game channel.
// Opening a new channel of a kind closes the prior one first. There is no
// auto-reconnect; reconnection is a decision for the owning coordinator.
type Manager struct {
	mu     sync.Mutex
	wsBase string
	conns  map[Kind]*conn
	gen    uint64
	log    *zap.Logger
}

// NewManager derives the websocket base from the http(s) server URL, the
// same scheme swap the rest of the stack uses.
func NewManager(serverURL string, log *zap.Logger) *Manager {
	wsBase := strings.Replace(strings.TrimRight(serverURL, "/"), "http", "ws", 1)
	return &Manager{
		wsBase: wsBase,
		conns:  make(map[Kind]*conn),
		log:    log,
	}
}

func dialPath(kind Kind, gameID string) string {
	if kind == KindLobby {
		return "/lobby/ws/" + gameID
	}
	return "/game/ws/" + gameID
}

// Open establishes the channel for gameID. An already-open channel of the
// same kind is closed first. Until the dial completes the channel counts as
// connecting and Send is rejected.
func (m *Manager) Open(ctx context.Context, kind Kind, gameID string, opts Options) error {
	m.Close(kind)

	m.mu.Lock()
	m.gen++
	c := &conn{kind: kind, gameID: gameID, gen: m.gen, state: Connecting, opts: opts}
	m.conns[kind] = c
	m.mu.Unlock()

	url := m.wsBase + dialPath(kind, gameID)
	ws, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		m.mu.Lock()
		if m.conns[kind] == c {
			delete(m.conns, kind)
		}
		m.mu.Unlock()
		return fmt.Errorf("dial %s: %w", url, err)
	}

	pumpCtx, cancel := context.WithCancel(context.Background())

	m.mu.Lock()
	if m.conns[kind] != c {
		// Superseded while dialing. Drop the fresh connection.
		m.mu.Unlock()
		cancel()
		_ = ws.Close(websocket.StatusNormalClosure, "superseded")
		return nil
	}
	c.ws = ws
	c.cancel = cancel
	c.state = Open
	m.mu.Unlock()

	m.log.Info("channel open", zap.String("kind", string(kind)), zap.String("game_id", gameID))
	go m.readPump(pumpCtx, c)
	return nil
}

// Send serializes payload and transmits it on the open channel of the kind.
// Fails fast with ErrNotConnected so callers can surface it instead of
// silently dropping the action.
func (m *Manager) Send(ctx context.Context, kind Kind, payload any) error {
	m.mu.Lock()
	c := m.conns[kind]
	if c == nil || c.state != Open {
		m.mu.Unlock()
		return ErrNotConnected
	}
	ws := c.ws
	m.mu.Unlock()

	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	writeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return ws.Write(writeCtx, websocket.MessageText, data)
}

// Close tears down the channel of the kind. Idempotent; closing an absent
// channel is a no-op. After Close returns, no further handler of the closed
// channel is invoked: a dispatch already past its liveness check is waited
// out via the conn's dispatch mutex.
func (m *Manager) Close(kind Kind) {
	m.mu.Lock()
	c := m.conns[kind]
	if c == nil {
		m.mu.Unlock()
		return
	}
	delete(m.conns, kind)
	m.mu.Unlock()

	if c.cancel != nil {
		c.cancel()
	}
	if c.ws != nil {
		_ = c.ws.Close(websocket.StatusNormalClosure, "bye")
	}

	c.dispatchMu.Lock()
	c.dispatchMu.Unlock()
	m.log.Info("channel closed", zap.String("kind", string(kind)), zap.String("game_id", c.gameID))
}

// detach is the pump-side close for a terminal push. The pump already holds
// the conn's dispatch mutex, so this must not go through Close.
func (m *Manager) detach(c *conn) {
	m.mu.Lock()
	if m.conns[c.kind] == c {
		delete(m.conns, c.kind)
	}
	m.mu.Unlock()

	if c.cancel != nil {
		c.cancel()
	}
	_ = c.ws.Close(websocket.StatusNormalClosure, "final push")
	m.log.Info("channel closed",
		zap.String("kind", string(c.kind)), zap.String("game_id", c.gameID))
}

// State reports the channel state for the kind.
func (m *Manager) State(kind Kind) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c := m.conns[kind]; c != nil {
		return c.state
	}
	return Disconnected
}

// GameID returns the id the channel of the kind is scoped to, or "".
func (m *Manager) GameID(kind Kind) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c := m.conns[kind]; c != nil {
		return c.gameID
	}
	return ""
}

type envelope struct {
	Type string `json:"type"`
}

// readPump reads pushes until the connection dies or the channel is closed.
// Exactly one pump runs per live channel, which is what makes dispatch
// arrival-ordered.
func (m *Manager) readPump(ctx context.Context, c *conn) {
	for {
		_, data, err := c.ws.Read(ctx)
		if err != nil {
			m.pumpClosed(c, err)
			return
		}

		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			m.log.Warn("bad push envelope",
				zap.String("kind", string(c.kind)), zap.Error(err))
			continue
		}

		// Identity guard: dispatch only while this conn is still the live
		// one for its kind. A closed or superseded channel's remaining
		// reads are discarded. The guard and the handler call sit under
		// the dispatch mutex so an owner Close cannot slip between them.
		c.dispatchMu.Lock()
		m.mu.Lock()
		live := m.conns[c.kind] == c
		m.mu.Unlock()
		if !live {
			c.dispatchMu.Unlock()
			return
		}

		handler := c.opts.Handlers[env.Type]
		if handler == nil {
			m.log.Warn("unknown push type, dropping",
				zap.String("kind", string(c.kind)), zap.String("type", env.Type))
			c.dispatchMu.Unlock()
			continue
		}

		if c.terminal(env.Type) {
			// The channel's last push. Close before dispatch so the
			// handler already observes a closed channel, then stop.
			m.detach(c)
			handler(data)
			c.dispatchMu.Unlock()
			return
		}
		handler(data)
		c.dispatchMu.Unlock()
	}
}

// pumpClosed handles a connection that died on its own. If the owner already
// closed or replaced the channel, the error is irrelevant and OnClose must
// not fire.
func (m *Manager) pumpClosed(c *conn, err error) {
	m.mu.Lock()
	if m.conns[c.kind] != c {
		m.mu.Unlock()
		return
	}
	delete(m.conns, c.kind)
	m.mu.Unlock()

	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		err = nil
	}
	m.log.Info("channel dropped",
		zap.String("kind", string(c.kind)), zap.String("game_id", c.gameID), zap.Error(err))
	if c.opts.OnClose != nil {
		c.opts.OnClose(err)
	}
}
