package slicearena

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/slicearena/slicearena/ledgernet"
)

type RoomEngineCallbacks struct {
	OnRoomUpdated      func(r *Room)
	OnRoomErrorUpdated func(r *Room, err error)
	OnCoinSpawned      func(roomID string, coin *Coin)
	OnOrderPlaced      func(roomID string, order *PendingOrder)
	OnOrderSettled     func(roomID string, result *SettlementResult)
	OnPowerUpActivated func(roomID string, playerID string, until int64)
	OnRoundStarted     func(r *Room)
	OnRoundEnded       func(roomID string, summary *RoundSummary)
	OnGameOver         func(r *Room)
	OnSignRequest      func(roomID string, req *ledgernet.SignRequest)
	OnLedgerError      func(roomID string, err error)
}

func NewRoomEngineCallbacks() *RoomEngineCallbacks {
	return &RoomEngineCallbacks{
		OnRoomUpdated:      func(*Room) {},
		OnRoomErrorUpdated: func(*Room, error) {},
		OnCoinSpawned:      func(string, *Coin) {},
		OnOrderPlaced:      func(string, *PendingOrder) {},
		OnOrderSettled:     func(string, *SettlementResult) {},
		OnPowerUpActivated: func(string, string, int64) {},
		OnRoundStarted:     func(*Room) {},
		OnRoundEnded:       func(string, *RoundSummary) {},
		OnGameOver:         func(*Room) {},
		OnSignRequest:      func(string, *ledgernet.SignRequest) {},
		OnLedgerError:      func(string, error) {},
	}
}

type RoomEngineOptions struct {
	StartingStake       decimal.Decimal
	RoundDuration       time.Duration
	SpawnIntervalMin    time.Duration
	SpawnIntervalMax    time.Duration
	SettleDelay         time.Duration
	Intermission        time.Duration
	PowerUpDuration     time.Duration
	GasPenalty          decimal.Decimal
	TugLimit            int64
	ReadyTimeout        time.Duration
	DeleteAfterGameOver time.Duration
	DisconnectGrace     time.Duration
	Asset               string
}

func NewRoomEngineOptions() *RoomEngineOptions {
	return &RoomEngineOptions{
		StartingStake:       decimal.NewFromInt(10),
		RoundDuration:       60 * time.Second,
		SpawnIntervalMin:    800 * time.Millisecond,
		SpawnIntervalMax:    1600 * time.Millisecond,
		SettleDelay:         5 * time.Second,
		Intermission:        5 * time.Second,
		PowerUpDuration:     10 * time.Second,
		GasPenalty:          decimal.NewFromInt(1),
		TugLimit:            100,
		ReadyTimeout:        15 * time.Second,
		DeleteAfterGameOver: time.Second,
		DisconnectGrace:     5 * time.Second,
		Asset:               "usdc",
	}
}
