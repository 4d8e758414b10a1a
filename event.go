package slicearena

import (
	"github.com/slicearena/slicearena/ledgernet"
)

func (re *roomEngine) emitRoomUpdated() {
	re.onRoomUpdated(re.room)
}

func (re *roomEngine) emitErrorUpdated(err error) {
	re.log.Errorf("[room %s] %v", re.room.ID, err)
	re.onRoomErrorUpdated(re.room, err)
}

func (re *roomEngine) emitCoinSpawned(coin *Coin) {
	re.log.Tracef("[room %s] coin spawned: %s (%s)", re.room.ID, coin.ID, coin.Type)
	re.onCoinSpawned(re.room.ID, coin)
}

func (re *roomEngine) emitOrderPlaced(order *PendingOrder) {
	re.log.Debugf("[room %s] order placed: %s %s x%d @ %s", re.room.ID, order.PlayerID, order.CoinType, order.Multiplier, order.PriceAtCreation)
	re.onOrderPlaced(re.room.ID, order)
}

func (re *roomEngine) emitOrderSettled(result *SettlementResult) {
	re.log.Debugf("[room %s] order settled: %s winner=%s amount=%s", re.room.ID, result.OrderID, result.WinnerID, result.Amount)
	re.onOrderSettled(re.room.ID, result)
}

func (re *roomEngine) emitPowerUpActivated(playerID string, until int64) {
	re.onPowerUpActivated(re.room.ID, playerID, until)
}

func (re *roomEngine) emitRoundStarted() {
	re.log.Debugf("[room %s] round %d started (sudden death: %v)", re.room.ID, re.room.State.Round, re.room.State.SuddenDeath)
	re.onRoundStarted(re.room)
}

func (re *roomEngine) emitRoundEnded(summary *RoundSummary) {
	re.log.Debugf("[room %s] round %d ended, winner: %q", re.room.ID, summary.Round, summary.WinnerID)
	re.onRoundEnded(re.room.ID, summary)
}

func (re *roomEngine) emitGameOver() {
	result := re.room.State.GameOver
	re.log.Infof("[room %s] game over: winner=%q reason=%s", re.room.ID, result.WinnerID, result.Reason)
	re.onGameOver(re.room)
}

func (re *roomEngine) emitSignRequest(req *ledgernet.SignRequest) {
	re.onSignRequest(re.room.ID, req)
}

func (re *roomEngine) emitLedgerError(err error) {
	re.log.Warnf("[room %s] ledger operation failed: %v", re.room.ID, err)
	re.onLedgerError(re.room.ID, err)
}
