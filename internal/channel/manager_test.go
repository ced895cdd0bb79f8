package channel

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"chessclient/internal/chesstest"
	"chessclient/pkg/types"
)

// waitFor polls a condition so tests never hang on a missing push.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within 2s")
}

// recorder collects dispatched payloads in arrival order.
type recorder struct {
	mu   sync.Mutex
	raws []json.RawMessage
}

func (r *recorder) handle(data json.RawMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.raws = append(r.raws, append(json.RawMessage(nil), data...))
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.raws)
}

func (r *recorder) at(i int) json.RawMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.raws[i]
}

func lobbyWith(gameID string, usernames ...string) types.Lobby {
	players := make([]types.LobbyPlayer, len(usernames))
	for i, name := range usernames {
		players[i] = types.LobbyPlayer{UserID: "u-" + name, Username: name, Status: types.StatusNotReady}
	}
	return types.Lobby{GameID: gameID, Players: players}
}

func TestSend_WithoutOpenChannel(t *testing.T) {
	m := NewManager("http://127.0.0.1:0", zaptest.NewLogger(t))
	err := m.Send(context.Background(), KindGame, types.MoveMessage{Action: "move"})
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Equal(t, Disconnected, m.State(KindGame))
}

func TestOpen_DispatchesInArrivalOrder(t *testing.T) {
	srv := chesstest.NewServer()
	defer srv.Close()
	m := NewManager(srv.URL(), zaptest.NewLogger(t))
	defer m.Close(KindLobby)

	rec := &recorder{}
	require.NoError(t, m.Open(context.Background(), KindLobby, "L1", Options{
		Handlers: map[string]HandlerFunc{"lobby_update": rec.handle},
	}))
	require.Equal(t, Open, m.State(KindLobby))
	require.Equal(t, "L1", m.GameID(KindLobby))

	for _, name := range []string{"first", "second", "third"} {
		require.NoError(t, srv.PushLobbyUpdate("L1", lobbyWith("L1", name)))
	}

	waitFor(t, func() bool { return rec.count() == 3 })
	for i, want := range []string{"first", "second", "third"} {
		var update types.LobbyUpdate
		require.NoError(t, json.Unmarshal(rec.at(i), &update))
		assert.Equal(t, want, update.Players[0].Username)
	}
}

func TestDispatch_UnknownDiscriminantDropped(t *testing.T) {
	srv := chesstest.NewServer()
	defer srv.Close()
	m := NewManager(srv.URL(), zaptest.NewLogger(t))
	defer m.Close(KindLobby)

	rec := &recorder{}
	require.NoError(t, m.Open(context.Background(), KindLobby, "L1", Options{
		Handlers: map[string]HandlerFunc{"lobby_update": rec.handle},
	}))

	require.NoError(t, srv.PushRaw("L1", map[string]any{"type": "mystery", "payload": 42}))
	require.NoError(t, srv.PushLobbyUpdate("L1", lobbyWith("L1", "alice")))

	// The unknown push arrived first; only the known one is dispatched.
	waitFor(t, func() bool { return rec.count() == 1 })
	var update types.LobbyUpdate
	require.NoError(t, json.Unmarshal(rec.at(0), &update))
	assert.Equal(t, "alice", update.Players[0].Username)
}

func TestOpen_ReplacesChannelOfSameKind(t *testing.T) {
	srv := chesstest.NewServer()
	defer srv.Close()
	m := NewManager(srv.URL(), zaptest.NewLogger(t))
	defer m.Close(KindLobby)

	first := &recorder{}
	require.NoError(t, m.Open(context.Background(), KindLobby, "L1", Options{
		Handlers: map[string]HandlerFunc{"lobby_update": first.handle},
	}))

	second := &recorder{}
	require.NoError(t, m.Open(context.Background(), KindLobby, "L2", Options{
		Handlers: map[string]HandlerFunc{"lobby_update": second.handle},
	}))

	assert.Equal(t, "L2", m.GameID(KindLobby))
	require.NoError(t, srv.PushLobbyUpdate("L2", lobbyWith("L2", "bob")))

	waitFor(t, func() bool { return second.count() == 1 })
	assert.Equal(t, 0, first.count(), "superseded channel must not dispatch")
}

func TestClose_Idempotent(t *testing.T) {
	srv := chesstest.NewServer()
	defer srv.Close()
	m := NewManager(srv.URL(), zaptest.NewLogger(t))

	require.NoError(t, m.Open(context.Background(), KindLobby, "L1", Options{}))
	m.Close(KindLobby)
	m.Close(KindLobby)
	m.Close(KindGame) // never opened
	assert.Equal(t, Disconnected, m.State(KindLobby))
	assert.Equal(t, "", m.GameID(KindLobby))
}

func TestClose_StopsDispatch(t *testing.T) {
	srv := chesstest.NewServer()
	defer srv.Close()
	m := NewManager(srv.URL(), zaptest.NewLogger(t))

	rec := &recorder{}
	require.NoError(t, m.Open(context.Background(), KindLobby, "L1", Options{
		Handlers: map[string]HandlerFunc{"lobby_update": rec.handle},
	}))
	m.Close(KindLobby)

	// Whether or not the push still reaches the dying socket, the closed
	// channel must not dispatch it.
	_ = srv.PushLobbyUpdate("L1", lobbyWith("L1", "late"))
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, 0, rec.count())
}

func TestClose_WaitsOutInFlightDispatch(t *testing.T) {
	srv := chesstest.NewServer()
	defer srv.Close()
	m := NewManager(srv.URL(), zaptest.NewLogger(t))

	rec := &recorder{}
	entered := make(chan struct{})
	gate := make(chan struct{})
	require.NoError(t, m.Open(context.Background(), KindLobby, "L1", Options{
		Handlers: map[string]HandlerFunc{"lobby_update": func(data json.RawMessage) {
			entered <- struct{}{}
			<-gate
			rec.handle(data)
		}},
	}))

	require.NoError(t, srv.PushLobbyUpdate("L1", lobbyWith("L1", "alice")))
	<-entered // handler is now mid-dispatch

	done := make(chan struct{})
	go func() {
		m.Close(KindLobby)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Close returned while a handler was still running")
	case <-time.After(100 * time.Millisecond):
	}

	close(gate)
	waitFor(t, func() bool {
		select {
		case <-done:
			return true
		default:
			return false
		}
	})
	assert.Equal(t, 1, rec.count())
	assert.Equal(t, Disconnected, m.State(KindLobby))
}

func TestCloseAfter_FinalPushClosesChannel(t *testing.T) {
	srv := chesstest.NewServer()
	defer srv.Close()
	m := NewManager(srv.URL(), zaptest.NewLogger(t))

	rec := &recorder{}
	stateDuring := make(chan State, 1)
	require.NoError(t, m.Open(context.Background(), KindLobby, "L1", Options{
		Handlers: map[string]HandlerFunc{"game_start": func(data json.RawMessage) {
			stateDuring <- m.State(KindLobby)
			rec.handle(data)
		}},
		CloseAfter: []string{"game_start"},
	}))

	require.NoError(t, srv.PushGameStart("L1", "G1"))
	waitFor(t, func() bool { return rec.count() == 1 })

	assert.Equal(t, Disconnected, <-stateDuring,
		"the channel is already closed when its final handler runs")
	assert.Equal(t, Disconnected, m.State(KindLobby))
	assert.Equal(t, "", m.GameID(KindLobby))
}

func TestOnClose_FiresOnServerDrop(t *testing.T) {
	srv := chesstest.NewServer()
	m := NewManager(srv.URL(), zaptest.NewLogger(t))
	defer m.Close(KindLobby)

	var mu sync.Mutex
	closed := false
	require.NoError(t, m.Open(context.Background(), KindLobby, "L1", Options{
		OnClose: func(err error) {
			mu.Lock()
			closed = true
			mu.Unlock()
		},
	}))

	srv.Close()
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return closed
	})
	assert.Equal(t, Disconnected, m.State(KindLobby))
}

func TestOnClose_DoesNotFireOnOwnerClose(t *testing.T) {
	srv := chesstest.NewServer()
	defer srv.Close()
	m := NewManager(srv.URL(), zaptest.NewLogger(t))

	var mu sync.Mutex
	closed := false
	require.NoError(t, m.Open(context.Background(), KindLobby, "L1", Options{
		OnClose: func(err error) {
			mu.Lock()
			closed = true
			mu.Unlock()
		},
	}))
	m.Close(KindLobby)

	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.False(t, closed, "owner-initiated close must not invoke OnClose")
}
