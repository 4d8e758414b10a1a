package slicearena

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/slicearena/slicearena/pricefeed"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(feed *pricefeed.StaticFeed) Manager {
	return NewManager(
		WithRoomOptions(newTestOptions()),
		WithManagerPriceFeed(feed),
	)
}

func TestManager_FindMatchFirstFit(t *testing.T) {
	feed := pricefeed.NewStaticFeedWithPrice(decimal.NewFromInt(100))
	m := newTestManager(feed)

	room, err := m.FindMatch(JoinSetting{PlayerID: "player-a", Name: "Alice"})
	require.Nil(t, err)
	assert.Nil(t, room)
	assert.Equal(t, 1, m.WaitingCount())

	room, err = m.FindMatch(JoinSetting{PlayerID: "player-b", Name: "Bob"})
	require.Nil(t, err)
	require.NotNil(t, room)
	assert.Equal(t, 0, m.WaitingCount())
	assert.Equal(t, 1, m.RoomCount())
	assert.Equal(t, 2, len(room.State.Players))

	// the earlier arrival holds slot 0
	assert.Equal(t, "player-a", room.State.Players[0].ID)
	assert.Equal(t, "player-b", room.State.Players[1].ID)

	engineA, err := m.GetPlayerRoomEngine("player-a")
	require.Nil(t, err)
	engineB, err := m.GetPlayerRoomEngine("player-b")
	require.Nil(t, err)
	assert.Equal(t, engineA, engineB)
}

func TestManager_FindMatchValidation(t *testing.T) {
	m := newTestManager(pricefeed.NewStaticFeed())

	_, err := m.FindMatch(JoinSetting{PlayerID: "", Name: "Alice"})
	assert.Equal(t, ErrManagerInvalidJoinSetting, err)

	_, err = m.FindMatch(JoinSetting{PlayerID: "player-a", Name: ""})
	assert.Equal(t, ErrManagerInvalidJoinSetting, err)
}

func TestManager_FindMatchIdempotentWhileWaiting(t *testing.T) {
	m := newTestManager(pricefeed.NewStaticFeed())

	_, err := m.FindMatch(JoinSetting{PlayerID: "player-a", Name: "Alice"})
	require.Nil(t, err)

	// asking again does not match the player against itself
	room, err := m.FindMatch(JoinSetting{PlayerID: "player-a", Name: "Alice"})
	require.Nil(t, err)
	assert.Nil(t, room)
	assert.Equal(t, 1, m.WaitingCount())
}

func TestManager_LeaveWaitingPool(t *testing.T) {
	m := newTestManager(pricefeed.NewStaticFeed())

	_, err := m.FindMatch(JoinSetting{PlayerID: "player-a", Name: "Alice"})
	require.Nil(t, err)

	m.LeaveWaitingPool("player-a")
	assert.Equal(t, 0, m.WaitingCount())
}

func TestManager_PoolSweepEvictsStaleEntries(t *testing.T) {
	feed := pricefeed.NewStaticFeed()
	m := newTestManager(feed).(*manager)

	_, err := m.FindMatch(JoinSetting{PlayerID: "player-a", Name: "Alice"})
	require.Nil(t, err)

	m.mu.Lock()
	m.pool["player-a"].JoinedAt = time.Now().Add(-time.Minute)
	m.mu.Unlock()

	m.sweepPool()
	assert.Equal(t, 0, m.WaitingCount())
}

func TestManager_PlayerActionsRequireRoom(t *testing.T) {
	m := newTestManager(pricefeed.NewStaticFeed())

	assert.Equal(t, ErrManagerPlayerNotInRoom, m.SliceCoin("player-x", "coin-1"))
	assert.Equal(t, ErrManagerPlayerNotInRoom, m.PlayerRoundReady("player-x"))
	assert.Equal(t, ErrManagerPlayerNotInRoom, m.PlayerReconnected("player-x"))

	// a disconnect for an unknown player only clears the pool
	assert.Nil(t, m.PlayerDisconnected("player-x"))
}

func TestManager_EmergencyShutdown(t *testing.T) {
	feed := pricefeed.NewStaticFeedWithPrice(decimal.NewFromInt(100))

	gameOver := make(chan *Room, 2)
	callbacks := NewRoomEngineCallbacks()
	callbacks.OnGameOver = func(r *Room) {
		gameOver <- r
	}

	m := NewManager(
		WithRoomOptions(newTestOptions()),
		WithManagerPriceFeed(feed),
		WithRoomCallbacks(callbacks),
	)

	_, err := m.FindMatch(JoinSetting{PlayerID: "player-a", Name: "Alice"})
	require.Nil(t, err)
	room, err := m.FindMatch(JoinSetting{PlayerID: "player-b", Name: "Bob"})
	require.Nil(t, err)
	require.NotNil(t, room)

	require.Nil(t, m.EmergencyShutdown())

	select {
	case r := <-gameOver:
		assert.Equal(t, GameOverReason_ServerShutdown, r.State.GameOver.Reason)
	case <-time.After(time.Second):
		t.Fatal("no game over emitted on shutdown")
	}

	assert.Equal(t, 0, m.RoomCount())
	assert.Equal(t, 0, m.WaitingCount())

	_, err = m.FindMatch(JoinSetting{PlayerID: "player-c", Name: "Carol"})
	assert.Equal(t, ErrManagerShutdown, err)
}
