package slicearena

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/slicearena/slicearena/spawn"
)

type RoomStateStatus string

const (
	// RoomStateStatus: Room
	RoomStateStatus_RoomCreated RoomStateStatus = "room_created"
	RoomStateStatus_GameOver    RoomStateStatus = "game_over"

	// RoomStateStatus: Round
	RoomStateStatus_RoundStart     RoomStateStatus = "round_start"
	RoomStateStatus_RoundActive    RoomStateStatus = "round_active"
	RoomStateStatus_RoundSettling  RoomStateStatus = "round_settling"
	RoomStateStatus_RoundEnded     RoomStateStatus = "round_ended"
	RoomStateStatus_NextRoundDelay RoomStateStatus = "next_round_delay"
)

type GameOverReason string

const (
	GameOverReason_Knockout       GameOverReason = "knockout"
	GameOverReason_BestOfThree    GameOverReason = "best_of_three_complete"
	GameOverReason_ServerShutdown GameOverReason = "server_shutdown"
)

type Room struct {
	ID           string     `json:"id"`
	State        *RoomState `json:"state"`
	UpdateAt     int64      `json:"update_at"`
	UpdateSerial int64      `json:"update_serial"`
}

type RoomState struct {
	Status         RoomStateStatus            `json:"status"`
	Players        []*Player                  `json:"players"`
	Coins          map[string]*Coin           `json:"coins"`
	PendingOrders  map[string]*PendingOrder   `json:"pending_orders"`
	Round          int                        `json:"round"`
	Wins           map[string]int             `json:"wins"`
	RoundStartCash map[string]decimal.Decimal `json:"round_start_cash"`
	SuddenDeath    bool                       `json:"sudden_death"`
	Tug            int64                      `json:"tug"`
	History        []*RoundSummary            `json:"history"`
	GameOver       *GameOverResult            `json:"game_over,omitempty"`
	Ledger         *LedgerSessionState        `json:"ledger,omitempty"`
}

type Player struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Cash          decimal.Decimal `json:"cash"`
	WalletAddress string          `json:"wallet_address,omitempty"`
	Slot          int             `json:"slot"`
	PowerUpUntil  int64           `json:"power_up_until"` // UnixMilli, zero when no power-up window is open
	Viewport      Viewport        `json:"viewport"`
	Connected     bool            `json:"connected"`
}

// Viewport is the client's reported play area, carried so spawn coordinates
// can be projected onto each screen.
type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (p *Player) PowerUpActive(now time.Time) bool {
	return p.PowerUpUntil > 0 && now.UnixMilli() < p.PowerUpUntil
}

type Coin struct {
	ID   string         `json:"id"`
	Type spawn.CoinType `json:"type"`
	X    float64        `json:"x"`
	Y    float64        `json:"y"`
}

// PendingOrder snapshots slot and multiplier at creation time. Settlement
// never re-evaluates either, so a power-up expiring mid-flight cannot
// retroactively change an order already placed.
type PendingOrder struct {
	ID              string          `json:"id"`
	PlayerID        string          `json:"player_id"`
	CoinType        spawn.CoinType  `json:"coin_type"`
	PriceAtCreation decimal.Decimal `json:"price_at_creation"`
	SettleAt        int64           `json:"settle_at"` // UnixMilli
	SlotZero        bool            `json:"slot_zero"`
	Multiplier      int64           `json:"multiplier"`
}

type RoundSummary struct {
	Round    int                        `json:"round"`
	WinnerID string                     `json:"winner_id,omitempty"` // empty on a tie
	Cash     map[string]decimal.Decimal `json:"cash"`
	Gain     map[string]decimal.Decimal `json:"gain"`
	Loss     decimal.Decimal            `json:"loss"` // magnitude of the loser's negative gain
}

type GameOverResult struct {
	WinnerID      string          `json:"winner_id,omitempty"`
	Reason        GameOverReason  `json:"reason"`
	History       []*RoundSummary `json:"history"`
	LedgerSettled bool            `json:"ledger_settled"`
}

type LedgerSessionState struct {
	SessionID   string                     `json:"session_id"`
	Version     uint64                     `json:"version"`
	Allocations map[string]decimal.Decimal `json:"allocations"` // address -> amount
	Addresses   map[string]string          `json:"addresses"`   // address -> player id
}

type SettlementResult struct {
	OrderID           string          `json:"order_id"`
	PlayerID          string          `json:"player_id"`
	CoinType          spawn.CoinType  `json:"coin_type"`
	Correct           bool            `json:"correct"`
	PriceAtCreation   decimal.Decimal `json:"price_at_creation"`
	PriceAtSettlement decimal.Decimal `json:"price_at_settlement"`
	Amount            decimal.Decimal `json:"amount"` // actual transfer after the loser floor
	WinnerID          string          `json:"winner_id"`
	LoserID           string          `json:"loser_id"`
	Tug               int64           `json:"tug"`
}

// Setters
func (r *Room) RefreshUpdateAt() {
	r.UpdateAt = time.Now().Unix()
	r.UpdateSerial++
}

// Getters
func (r *Room) FindPlayer(playerID string) *Player {
	for _, p := range r.State.Players {
		if p.ID == playerID {
			return p
		}
	}
	return nil
}

func (r *Room) Opponent(playerID string) *Player {
	for _, p := range r.State.Players {
		if p.ID != playerID {
			return p
		}
	}
	return nil
}

// SortedAddresses returns participant wallet addresses in ascending order.
// Every ledger-facing array follows this ordering, never join order.
func (r *Room) SortedAddresses() []string {
	addresses := make([]string, 0, len(r.State.Players))
	for _, p := range r.State.Players {
		if p.WalletAddress != "" {
			addresses = append(addresses, p.WalletAddress)
		}
	}
	sort.Strings(addresses)
	return addresses
}

func (r *Room) TotalCash() decimal.Decimal {
	total := decimal.Zero
	for _, p := range r.State.Players {
		total = total.Add(p.Cash)
	}
	return total
}
