package testcases

import (
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	slicearena "github.com/slicearena/slicearena"
	"github.com/slicearena/slicearena/pricefeed"
	"github.com/slicearena/slicearena/spawn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastOptions() *slicearena.RoomEngineOptions {
	options := slicearena.NewRoomEngineOptions()
	options.RoundDuration = 400 * time.Millisecond
	options.SpawnIntervalMin = 30 * time.Millisecond
	options.SpawnIntervalMax = 60 * time.Millisecond
	options.SettleDelay = 60 * time.Millisecond
	options.Intermission = 60 * time.Millisecond
	options.ReadyTimeout = time.Second
	options.DeleteAfterGameOver = 50 * time.Millisecond
	return options
}

// A full best-of-three with no slices: every round ties and the match ends
// after round three with no winner.
func TestMatch_AllTiesRunsThreeRounds(t *testing.T) {
	feed := pricefeed.NewStaticFeedWithPrice(decimal.NewFromInt(100))

	var mu sync.Mutex
	rounds := make([]*slicearena.RoundSummary, 0)
	gameOver := make(chan *slicearena.Room, 1)

	callbacks := slicearena.NewRoomEngineCallbacks()
	callbacks.OnRoundEnded = func(roomID string, summary *slicearena.RoundSummary) {
		mu.Lock()
		rounds = append(rounds, summary)
		mu.Unlock()
	}
	callbacks.OnGameOver = func(r *slicearena.Room) {
		gameOver <- r
	}

	m := slicearena.NewManager(
		slicearena.WithRoomOptions(fastOptions()),
		slicearena.WithManagerPriceFeed(feed),
		slicearena.WithRoomCallbacks(callbacks),
	)

	_, err := m.FindMatch(slicearena.JoinSetting{PlayerID: "player-a", Name: "Alice"})
	require.Nil(t, err)
	room, err := m.FindMatch(slicearena.JoinSetting{PlayerID: "player-b", Name: "Bob"})
	require.Nil(t, err)
	require.NotNil(t, room)

	require.Nil(t, m.PlayerRoundReady("player-a"))
	require.Nil(t, m.PlayerRoundReady("player-b"))

	select {
	case r := <-gameOver:
		assert.Equal(t, slicearena.GameOverReason_BestOfThree, r.State.GameOver.Reason)
		assert.Equal(t, "", r.State.GameOver.WinnerID)
		assert.Equal(t, 3, len(r.State.GameOver.History))
		assert.False(t, r.State.SuddenDeath)
		assert.True(t, r.TotalCash().Equal(decimal.NewFromInt(20)))
	case <-time.After(5 * time.Second):
		t.Fatal("match did not finish")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 3, len(rounds))
	for i, summary := range rounds {
		assert.Equal(t, i+1, summary.Round)
		assert.Equal(t, "", summary.WinnerID)
	}
}

// One player slices every favorable coin while the price moves its way; the
// match ends with that player ahead and the zero-sum floor intact.
func TestMatch_ActiveSlicerWinsFunds(t *testing.T) {
	feed := pricefeed.NewStaticFeedWithPrice(decimal.NewFromInt(100))

	settled := make(chan *slicearena.SettlementResult, 64)
	gameOver := make(chan *slicearena.Room, 1)

	// the price only ever rises, so every sliced call or whale settles in
	// player-a's favor
	var priceMu sync.Mutex
	price := decimal.NewFromInt(100)
	raisePrice := func() {
		priceMu.Lock()
		price = price.Add(decimal.NewFromInt(5))
		feed.SetPrice(price)
		priceMu.Unlock()
	}

	var m slicearena.Manager
	callbacks := slicearena.NewRoomEngineCallbacks()
	callbacks.OnCoinSpawned = func(roomID string, coin *slicearena.Coin) {
		if coin.Type != spawn.CoinType_Call && coin.Type != spawn.CoinType_Whale {
			return
		}
		// slicing re-enters the engine, hop off the event goroutine
		go func() {
			if m.SliceCoin("player-a", coin.ID) == nil {
				raisePrice()
			}
		}()
	}
	callbacks.OnOrderSettled = func(roomID string, result *slicearena.SettlementResult) {
		settled <- result
	}
	callbacks.OnGameOver = func(r *slicearena.Room) {
		gameOver <- r
	}

	m = slicearena.NewManager(
		slicearena.WithRoomOptions(fastOptions()),
		slicearena.WithManagerPriceFeed(feed),
		slicearena.WithRoomCallbacks(callbacks),
	)

	_, err := m.FindMatch(slicearena.JoinSetting{PlayerID: "player-a", Name: "Alice"})
	require.Nil(t, err)
	room, err := m.FindMatch(slicearena.JoinSetting{PlayerID: "player-b", Name: "Bob"})
	require.Nil(t, err)
	require.NotNil(t, room)

	require.Nil(t, m.PlayerRoundReady("player-a"))
	require.Nil(t, m.PlayerRoundReady("player-b"))

	var final *slicearena.Room
	select {
	case final = <-gameOver:
	case <-time.After(5 * time.Second):
		t.Fatal("match did not finish")
	}

	assert.NotEmpty(t, final.State.GameOver.History)

	// the total never exceeds the escrowed stakes
	assert.True(t, final.TotalCash().LessThanOrEqual(decimal.NewFromInt(20)))
	for _, p := range final.State.Players {
		assert.False(t, p.Cash.IsNegative())
	}

	// every settlement favored player-a
	time.Sleep(200 * time.Millisecond)
	count := 0
	for {
		var result *slicearena.SettlementResult
		select {
		case result = <-settled:
		default:
		}
		if result == nil {
			break
		}
		count++
		assert.Equal(t, "player-a", result.WinnerID)
	}
	if count > 0 {
		assert.Equal(t, "player-a", final.State.GameOver.WinnerID)
	}
}
