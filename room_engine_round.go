package slicearena

import (
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/slicearena/slicearena/spawn"
	"github.com/weedbox/timebank"
)

func (re *roomEngine) startRound() {
	re.lock.Lock()
	defer re.lock.Unlock()

	if re.room == nil || re.shutdown || re.room.State.Status == RoomStateStatus_GameOver {
		return
	}

	state := re.room.State
	state.Round++
	state.SuddenDeath = state.Round == 3 && re.winsTiedLocked()

	for _, p := range state.Players {
		state.RoundStartCash[p.ID] = p.Cash
	}
	state.Coins = make(map[string]*Coin)
	state.Status = RoomStateStatus_RoundStart
	re.room.RefreshUpdateAt()

	re.seq = spawn.NewSequenceGenerator(re.room.ID, state.Round, re.spawnCapacity())

	re.emitRoundStarted()

	state.Status = RoomStateStatus_RoundActive
	re.scheduleNextSpawnLocked()

	re.tbRound.Cancel()
	re.tbRound = timebank.NewTimeBank()
	_ = re.tbRound.NewTask(re.options.RoundDuration, func(isCancelled bool) {
		if isCancelled {
			return
		}
		re.endRound()
	})

	re.emitRoomUpdated()
}

// spawnCapacity sizes the pre-computed sequence to cover the round at the
// minimum spawn interval, plus slack.
func (re *roomEngine) spawnCapacity() int {
	return int(re.options.RoundDuration/re.options.SpawnIntervalMin) + 8
}

func (re *roomEngine) scheduleNextSpawnLocked() {
	window := int64(re.options.SpawnIntervalMax - re.options.SpawnIntervalMin)
	interval := re.options.SpawnIntervalMin
	if window > 0 {
		interval += time.Duration(rand.Int63n(window + 1))
	}

	_ = re.tbSpawn.NewTask(interval, func(isCancelled bool) {
		if isCancelled {
			return
		}
		re.spawnCoin()
	})
}

func (re *roomEngine) spawnCoin() {
	re.lock.Lock()
	defer re.lock.Unlock()

	if re.room == nil || re.shutdown || re.closing {
		return
	}
	if re.room.State.Status != RoomStateStatus_RoundActive {
		return
	}

	event, ok := re.seq.Next()
	if !ok {
		// sequence exhausted, the round runs out its clock without new coins
		return
	}

	coin := &Coin{
		ID:   uuid.New().String(),
		Type: event.Type,
		X:    event.X,
		Y:    event.Y,
	}
	re.room.State.Coins[coin.ID] = coin
	re.room.RefreshUpdateAt()

	re.emitCoinSpawned(coin)
	re.scheduleNextSpawnLocked()
}

func (re *roomEngine) endRound() {
	re.lock.Lock()
	defer re.lock.Unlock()

	re.endRoundLocked()
}

// endRoundLocked settles every outstanding order before the round winner is
// computed, so a knockout can still be reversed by orders in flight.
func (re *roomEngine) endRoundLocked() {
	if re.room == nil || re.shutdown {
		return
	}
	state := re.room.State
	if state.Status != RoomStateStatus_RoundActive {
		return
	}

	re.closing = true
	state.Status = RoomStateStatus_RoundSettling
	re.cancelRoundTimersLocked()
	re.settleAllPendingLocked()
	re.closing = false

	summary := re.buildRoundSummaryLocked()
	if summary.WinnerID != "" {
		state.Wins[summary.WinnerID]++
	}
	state.History = append(state.History, summary)
	state.Status = RoomStateStatus_RoundEnded
	re.room.RefreshUpdateAt()

	re.emitRoundEnded(summary)
	re.emitRoomUpdated()

	if knocked := re.knockedOutLocked(); knocked != nil {
		re.finalizeMatchLocked(re.cashLeaderLocked(), GameOverReason_Knockout)
		return
	}

	if re.gameEndedLocked() {
		re.finalizeMatchLocked(re.finalWinnerLocked(), GameOverReason_BestOfThree)
		return
	}

	// the final balances travel with the session close instead, one writer on
	// the ledger connection at a time
	go re.mirrorRoundBalances()

	state.Status = RoomStateStatus_NextRoundDelay
	re.tbRound = timebank.NewTimeBank()
	_ = re.tbRound.NewTask(re.options.Intermission, func(isCancelled bool) {
		if isCancelled {
			return
		}
		re.startRound()
	})
}

func (re *roomEngine) buildRoundSummaryLocked() *RoundSummary {
	state := re.room.State

	cash := make(map[string]decimal.Decimal)
	gain := make(map[string]decimal.Decimal)
	for _, p := range state.Players {
		cash[p.ID] = p.Cash
		gain[p.ID] = p.Cash.Sub(state.RoundStartCash[p.ID])
	}

	winnerID := ""
	loss := decimal.Zero
	p1, p2 := state.Players[0], state.Players[1]
	switch gain[p1.ID].Cmp(gain[p2.ID]) {
	case 1:
		winnerID = p1.ID
	case -1:
		winnerID = p2.ID
	}
	for _, g := range gain {
		if g.IsNegative() && g.Abs().GreaterThan(loss) {
			loss = g.Abs()
		}
	}

	return &RoundSummary{
		Round:    state.Round,
		WinnerID: winnerID,
		Cash:     cash,
		Gain:     gain,
		Loss:     loss,
	}
}

func (re *roomEngine) winsTiedLocked() bool {
	state := re.room.State
	return state.Wins[state.Players[0].ID] == 1 && state.Wins[state.Players[1].ID] == 1
}

func (re *roomEngine) knockedOutLocked() *Player {
	for _, p := range re.room.State.Players {
		if p.Cash.LessThanOrEqual(decimal.Zero) {
			return p
		}
	}
	return nil
}

// gameEndedLocked: the final round always ends the match, even on a tied
// sudden-death round. Before round three, two round wins decide it.
func (re *roomEngine) gameEndedLocked() bool {
	state := re.room.State
	if state.Round >= 3 {
		return true
	}
	if state.SuddenDeath {
		return state.Wins[state.Players[0].ID] != state.Wins[state.Players[1].ID]
	}
	for _, p := range state.Players {
		if state.Wins[p.ID] >= 2 {
			return true
		}
	}
	return false
}

// finalWinnerLocked breaks equal win counts by absolute cash. A full tie has
// no winner.
func (re *roomEngine) finalWinnerLocked() string {
	state := re.room.State
	p1, p2 := state.Players[0], state.Players[1]

	if state.Wins[p1.ID] > state.Wins[p2.ID] {
		return p1.ID
	}
	if state.Wins[p2.ID] > state.Wins[p1.ID] {
		return p2.ID
	}
	return re.cashLeaderLocked()
}

func (re *roomEngine) cashLeaderLocked() string {
	state := re.room.State
	p1, p2 := state.Players[0], state.Players[1]

	switch p1.Cash.Cmp(p2.Cash) {
	case 1:
		return p1.ID
	case -1:
		return p2.ID
	}
	return ""
}

func (re *roomEngine) finalizeMatchLocked(winnerID string, reason GameOverReason) {
	state := re.room.State

	state.Status = RoomStateStatus_GameOver
	state.GameOver = &GameOverResult{
		WinnerID: winnerID,
		Reason:   reason,
		History:  state.History,
	}
	re.room.RefreshUpdateAt()

	re.cancelRoundTimersLocked()
	re.rg.Stop()

	re.emitGameOver()

	go re.closeLedgerSession()

	re.tbRound = timebank.NewTimeBank()
	_ = re.tbRound.NewTask(re.options.DeleteAfterGameOver, func(isCancelled bool) {
		if isCancelled {
			return
		}
		re.destroyRoom()
	})
}

func (re *roomEngine) cancelRoundTimersLocked() {
	re.tbRound.Cancel()
	re.tbSpawn.Cancel()
	re.tbSpawn = timebank.NewTimeBank()
	for orderID, tb := range re.settleTimeBank {
		tb.Cancel()
		delete(re.settleTimeBank, orderID)
	}
}

func (re *roomEngine) destroyRoom() {
	re.lock.Lock()
	defer re.lock.Unlock()

	re.destroyRoomLocked()
}

// destroyRoomLocked stops every timer the room owns. The shutdown flag keeps
// any already-fired callback from touching state afterwards.
func (re *roomEngine) destroyRoomLocked() {
	if re.shutdown {
		return
	}
	re.shutdown = true

	re.cancelRoundTimersLocked()
	for playerID, tb := range re.graceTimeBank {
		tb.Cancel()
		delete(re.graceTimeBank, playerID)
	}
	re.rg.Stop()
}
