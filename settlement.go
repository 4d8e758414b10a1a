package slicearena

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/slicearena/slicearena/spawn"
	"github.com/weedbox/timebank"
)

// placeOrderLocked snapshots price, slot and multiplier at creation time and
// schedules the delayed settlement.
func (re *roomEngine) placeOrderLocked(player *Player, coinType spawn.CoinType) error {
	price, ok := re.feed.LatestPrice()
	if !ok {
		return ErrRoomNoPrice
	}

	now := time.Now()
	multiplier := int64(1)
	if player.PowerUpActive(now) {
		multiplier = 2
	}

	order := &PendingOrder{
		ID:              uuid.New().String(),
		PlayerID:        player.ID,
		CoinType:        coinType,
		PriceAtCreation: price,
		SettleAt:        now.Add(re.options.SettleDelay).UnixMilli(),
		SlotZero:        player.Slot == 0,
		Multiplier:      multiplier,
	}
	re.room.State.PendingOrders[order.ID] = order
	re.room.RefreshUpdateAt()

	tb := timebank.NewTimeBank()
	re.settleTimeBank[order.ID] = tb
	_ = tb.NewTask(re.options.SettleDelay, func(isCancelled bool) {
		if isCancelled {
			return
		}
		re.settleOrder(order.ID)
	})

	re.emitOrderPlaced(order)
	re.emitRoomUpdated()
	return nil
}

func (re *roomEngine) settleOrder(orderID string) {
	re.lock.Lock()
	defer re.lock.Unlock()

	if re.room == nil || re.shutdown {
		return
	}

	order, exists := re.room.State.PendingOrders[orderID]
	if !exists {
		return
	}
	re.settleOrderLocked(order)
	re.emitRoomUpdated()
}

// settleAllPendingLocked drains every outstanding order at the latest price.
func (re *roomEngine) settleAllPendingLocked() {
	for _, order := range re.room.State.PendingOrders {
		re.settleOrderLocked(order)
	}
}

// settleOrderLocked resolves one order. The guard makes concurrent
// invocations for the same order id mutate state at most once; the losers of
// that race see the order already removed and no-op.
func (re *roomEngine) settleOrderLocked(order *PendingOrder) {
	if !re.guard.TryAcquire(order.ID) {
		return
	}
	defer re.guard.Release(order.ID)

	state := re.room.State
	if _, exists := state.PendingOrders[order.ID]; !exists {
		return
	}
	delete(state.PendingOrders, order.ID)

	if tb, exists := re.settleTimeBank[order.ID]; exists {
		tb.Cancel()
		delete(re.settleTimeBank, order.ID)
	}

	owner := re.room.FindPlayer(order.PlayerID)
	opponent := re.room.Opponent(order.PlayerID)
	if owner == nil || opponent == nil {
		return
	}

	price, ok := re.feed.LatestPrice()
	if !ok {
		// the owner never wins against its own entry price
		price = order.PriceAtCreation
	}

	correct := false
	switch order.CoinType {
	case spawn.CoinType_Call, spawn.CoinType_Whale:
		correct = price.GreaterThan(order.PriceAtCreation)
	case spawn.CoinType_Put:
		correct = price.LessThan(order.PriceAtCreation)
	}

	winner, loser := owner, opponent
	if !correct {
		winner, loser = opponent, owner
	}

	amount := re.transferFundsLocked(winner, loser, decimal.NewFromInt(order.Multiplier))
	re.updateTugLocked(order.SlotZero == correct, amount)

	re.room.RefreshUpdateAt()
	re.emitOrderSettled(&SettlementResult{
		OrderID:           order.ID,
		PlayerID:          order.PlayerID,
		CoinType:          order.CoinType,
		Correct:           correct,
		PriceAtCreation:   order.PriceAtCreation,
		PriceAtSettlement: price,
		Amount:            amount,
		WinnerID:          winner.ID,
		LoserID:           loser.ID,
		Tug:               state.Tug,
	})

	re.checkKnockoutLocked()
}

// transferFundsLocked caps the transfer at the loser's balance. The excess is
// discarded, the total can only shrink, never grow, and no balance goes
// negative.
func (re *roomEngine) transferFundsLocked(winner *Player, loser *Player, amount decimal.Decimal) decimal.Decimal {
	actual := amount
	if loser.Cash.LessThan(actual) {
		actual = loser.Cash
	}
	loser.Cash = loser.Cash.Sub(actual)
	winner.Cash = winner.Cash.Add(actual)
	return actual
}

// updateTugLocked moves the tug-of-war indicator toward the winning side. The
// sign comes from the order's slot snapshot, not the live player record.
func (re *roomEngine) updateTugLocked(winnerSlotZero bool, amount decimal.Decimal) {
	state := re.room.State

	delta := amount.IntPart()
	if !winnerSlotZero {
		delta = -delta
	}
	state.Tug += delta
	if state.Tug > re.options.TugLimit {
		state.Tug = re.options.TugLimit
	}
	if state.Tug < -re.options.TugLimit {
		state.Tug = -re.options.TugLimit
	}
}

// applyGasPenaltyLocked charges the slicer immediately. Gas never enters the
// order pipeline; the penalty is burned, not transferred.
func (re *roomEngine) applyGasPenaltyLocked(player *Player) {
	penalty := re.options.GasPenalty
	if player.Cash.LessThan(penalty) {
		penalty = player.Cash
	}
	player.Cash = player.Cash.Sub(penalty)
	re.room.RefreshUpdateAt()

	re.emitRoomUpdated()
	re.checkKnockoutLocked()
}

func (re *roomEngine) activatePowerUpLocked(player *Player) {
	until := time.Now().Add(re.options.PowerUpDuration).UnixMilli()
	player.PowerUpUntil = until
	re.emitPowerUpActivated(player.ID, until)
}

// checkKnockoutLocked ends the round at once when a balance hits zero, unless
// round-end processing is already draining orders.
func (re *roomEngine) checkKnockoutLocked() {
	if re.closing || re.room.State.Status != RoomStateStatus_RoundActive {
		return
	}
	if re.knockedOutLocked() == nil {
		return
	}

	re.endRoundLocked()
}
