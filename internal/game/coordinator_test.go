package game

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"chessclient/internal/channel"
	"chessclient/internal/chesstest"
	"chessclient/pkg/types"
)

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

type noticeLog struct {
	mu   sync.Mutex
	msgs []string
}

func (n *noticeLog) add(msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, msg)
}

func (n *noticeLog) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.msgs)
}

func (n *noticeLog) last() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.msgs) == 0 {
		return ""
	}
	return n.msgs[len(n.msgs)-1]
}

func newGameHarness(t *testing.T) (*chesstest.Server, *Coordinator, *noticeLog) {
	t.Helper()
	srv := chesstest.NewServer()
	t.Cleanup(srv.Close)

	log := zaptest.NewLogger(t)
	channels := channel.NewManager(srv.URL(), log)
	t.Cleanup(func() { channels.Close(channel.KindGame) })

	notices := &noticeLog{}
	return srv, NewCoordinator(channels, notices.add, log), notices
}

func runningState(gameID string, turn types.Color) types.GameState {
	return types.GameState{
		GameID:      gameID,
		CurrentTurn: turn,
		Status:      types.GameRunning,
	}
}

func TestMakeMove_WithoutChannelTransmitsNothing(t *testing.T) {
	srv, games, _ := newGameHarness(t)

	err := games.MakeMove(context.Background(), "G1", "u1", types.Square{6, 4}, types.Square{4, 4})
	assert.ErrorIs(t, err, channel.ErrNotConnected)

	select {
	case move := <-srv.MoveIntents():
		t.Fatalf("move reached the server: %+v", move)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestMakeMove_RoundTrip(t *testing.T) {
	srv, games, _ := newGameHarness(t)
	ctx := context.Background()

	require.NoError(t, games.Connect(ctx, "G1"))
	require.Nil(t, games.State(), "no push yet, still loading")

	start, end := types.Square{6, 4}, types.Square{4, 4}
	require.NoError(t, games.MakeMove(ctx, "G1", "u1", start, end))

	select {
	case move := <-srv.MoveIntents():
		assert.Equal(t, "move", move.Action)
		assert.Equal(t, "G1", move.GameID)
		assert.Equal(t, "u1", move.UserID)
		assert.Equal(t, start, move.StartPos)
		assert.Equal(t, end, move.EndPos)
	case <-time.After(2 * time.Second):
		t.Fatal("move never reached the server")
	}

	// The outcome arrives as the next push, never as a local board edit.
	next := runningState("G1", types.ColorBlack)
	next.LastMove = &types.MoveRecord{
		Figure:            &types.Figure{Name: "pawn", Color: types.ColorWhite, Position: end},
		Start:             start,
		End:               end,
		TwoSquarePawnMove: true,
	}
	require.NoError(t, srv.PushGameState("G1", next))

	waitFor(t, func() bool {
		st := games.State()
		return st != nil && st.CurrentTurn == types.ColorBlack
	})
	st := games.State()
	require.NotNil(t, st.LastMove)
	assert.Equal(t, end, st.LastMove.End)
	assert.True(t, st.LastMove.TwoSquarePawnMove)
}

func TestErrorPush_NotifiesAndLeavesStateUntouched(t *testing.T) {
	srv, games, notices := newGameHarness(t)
	ctx := context.Background()

	require.NoError(t, games.Connect(ctx, "G1"))
	require.NoError(t, srv.PushGameState("G1", runningState("G1", types.ColorWhite)))
	waitFor(t, func() bool { return games.State() != nil })

	require.NoError(t, srv.PushGameError("G1", "move not allowed"))
	waitFor(t, func() bool { return notices.count() == 1 })
	assert.Equal(t, "move not allowed", notices.last())

	st := games.State()
	require.NotNil(t, st)
	assert.Equal(t, types.ColorWhite, st.CurrentTurn, "rejection must not touch the snapshot")
}

func TestCheckStatus_SurfacedOncePerPush(t *testing.T) {
	srv, games, notices := newGameHarness(t)
	ctx := context.Background()

	require.NoError(t, games.Connect(ctx, "G1"))

	check := types.CheckStatusCheck
	inCheck := runningState("G1", types.ColorBlack)
	inCheck.CheckStatus = &check
	require.NoError(t, srv.PushGameState("G1", inCheck))

	waitFor(t, func() bool { return notices.count() == 1 })
	assert.Equal(t, "Check!", notices.last())

	// Re-reading the cached state must not re-announce it.
	for i := 0; i < 3; i++ {
		_ = games.State()
	}
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, notices.count())

	// A fresh push carrying the status announces again.
	require.NoError(t, srv.PushGameState("G1", inCheck))
	waitFor(t, func() bool { return notices.count() == 2 })
}

func TestCheckmate_EndsGameWithNotice(t *testing.T) {
	srv, games, notices := newGameHarness(t)
	ctx := context.Background()

	require.NoError(t, games.Connect(ctx, "G1"))

	mate := types.CheckStatusMate
	final := runningState("G1", types.ColorBlack)
	final.Status = types.GameEnded
	final.CheckStatus = &mate
	require.NoError(t, srv.PushGameState("G1", final))

	waitFor(t, func() bool { return notices.count() == 1 })
	assert.Equal(t, "Checkmate!", notices.last())
	assert.Equal(t, types.GameEnded, games.State().Status)
}

func TestNotificationPush_IsSurfaced(t *testing.T) {
	srv, games, notices := newGameHarness(t)

	require.NoError(t, games.Connect(context.Background(), "G1"))
	require.NoError(t, srv.PushNotification("G1", "opponent disconnected"))

	waitFor(t, func() bool { return notices.count() == 1 })
	assert.Equal(t, "opponent disconnected", notices.last())
}

func TestDisconnect_DropsSnapshot(t *testing.T) {
	srv, games, _ := newGameHarness(t)
	ctx := context.Background()

	require.NoError(t, games.Connect(ctx, "G1"))
	require.NoError(t, srv.PushGameState("G1", runningState("G1", types.ColorWhite)))
	waitFor(t, func() bool { return games.State() != nil })

	games.Disconnect()
	assert.Nil(t, games.State())
	assert.Equal(t, channel.Disconnected, games.ChannelState())
}
