package slicearena

import (
	"errors"
	"sync"

	"github.com/decred/slog"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/slicearena/slicearena/ledgernet"
	"github.com/slicearena/slicearena/pricefeed"
	"github.com/slicearena/slicearena/settleguard"
	"github.com/slicearena/slicearena/spawn"
	"github.com/weedbox/syncsaga"
	"github.com/weedbox/timebank"
)

var (
	ErrRoomInvalidCreateSetting = errors.New("room: invalid create room setting")
	ErrRoomPlayerNotFound       = errors.New("room: player not found")
	ErrRoomCoinNotFound         = errors.New("room: coin not found")
	ErrRoomInvalidCoinType      = errors.New("room: invalid coin type")
	ErrRoomNotActive            = errors.New("room: round is not active")
	ErrRoomNoPrice              = errors.New("room: no price available")
	ErrRoomClosed               = errors.New("room: room is closed")
	ErrRoomNoLedgerSession      = errors.New("room: no ledger session")
)

type RoomEngineOpt func(*roomEngine)

type RoomEngine interface {
	// Events
	OnRoomUpdated(fn func(*Room))
	OnRoomErrorUpdated(fn func(*Room, error))
	OnCoinSpawned(fn func(string, *Coin))
	OnOrderPlaced(fn func(string, *PendingOrder))
	OnOrderSettled(fn func(string, *SettlementResult))
	OnPowerUpActivated(fn func(string, string, int64))
	OnRoundStarted(fn func(*Room))
	OnRoundEnded(fn func(string, *RoundSummary))
	OnGameOver(fn func(*Room))
	OnSignRequest(fn func(string, *ledgernet.SignRequest))
	OnLedgerError(fn func(string, error))

	// Room Actions
	GetRoom() *Room
	CreateRoom(setting RoomSetting) (*Room, error)
	StartGame() error
	CloseRoom(reason GameOverReason) error
	ForceSettleAll() error

	// Player Actions
	PlayerRoundReady(playerID string) error
	SliceCoin(playerID string, coinID string) error
	CoinExpired(coinID string) error
	PlayerDisconnected(playerID string) error
	PlayerReconnected(playerID string) error
	SubmitSignature(method string, requestID uint64, playerID string, signature string) error
}

type RoomSetting struct {
	RoomID  string
	Players []RoomPlayerSetting
}

type RoomPlayerSetting struct {
	PlayerID      string
	Name          string
	WalletAddress string
	Viewport      Viewport
}

type roomEngine struct {
	lock           sync.Mutex
	options        *RoomEngineOptions
	room           *Room
	seq            *spawn.SequenceGenerator
	guard          *settleguard.Guard
	feed           pricefeed.Feed
	ledger         *ledgernet.Client
	signer         *ledgernet.Coordinator
	rg             *syncsaga.ReadyGroup
	tbRound        *timebank.TimeBank
	tbSpawn        *timebank.TimeBank
	graceTimeBank  map[string]*timebank.TimeBank
	settleTimeBank map[string]*timebank.TimeBank
	log            slog.Logger
	closing        bool
	shutdown       bool

	onRoomUpdated      func(*Room)
	onRoomErrorUpdated func(*Room, error)
	onCoinSpawned      func(string, *Coin)
	onOrderPlaced      func(string, *PendingOrder)
	onOrderSettled     func(string, *SettlementResult)
	onPowerUpActivated func(string, string, int64)
	onRoundStarted     func(*Room)
	onRoundEnded       func(string, *RoundSummary)
	onGameOver         func(*Room)
	onSignRequest      func(string, *ledgernet.SignRequest)
	onLedgerError      func(string, error)
}

func NewRoomEngine(options *RoomEngineOptions, opts ...RoomEngineOpt) RoomEngine {
	callbacks := NewRoomEngineCallbacks()
	re := &roomEngine{
		options:            options,
		guard:              settleguard.NewGuard(settleguard.NewGuardOptions()),
		feed:               pricefeed.NewStaticFeed(),
		rg:                 syncsaga.NewReadyGroup(),
		tbRound:            timebank.NewTimeBank(),
		tbSpawn:            timebank.NewTimeBank(),
		graceTimeBank:      make(map[string]*timebank.TimeBank),
		settleTimeBank:     make(map[string]*timebank.TimeBank),
		log:                slog.Disabled,
		onRoomUpdated:      callbacks.OnRoomUpdated,
		onRoomErrorUpdated: callbacks.OnRoomErrorUpdated,
		onCoinSpawned:      callbacks.OnCoinSpawned,
		onOrderPlaced:      callbacks.OnOrderPlaced,
		onOrderSettled:     callbacks.OnOrderSettled,
		onPowerUpActivated: callbacks.OnPowerUpActivated,
		onRoundStarted:     callbacks.OnRoundStarted,
		onRoundEnded:       callbacks.OnRoundEnded,
		onGameOver:         callbacks.OnGameOver,
		onSignRequest:      callbacks.OnSignRequest,
		onLedgerError:      callbacks.OnLedgerError,
	}

	for _, opt := range opts {
		opt(re)
	}

	if re.signer == nil {
		re.signer = ledgernet.NewCoordinator(nil)
	}
	re.signer.OnSignRequest(func(req *ledgernet.SignRequest) {
		if re.room != nil {
			re.emitSignRequest(req)
		}
	})

	return re
}

func WithSettlementGuard(guard *settleguard.Guard) RoomEngineOpt {
	return func(re *roomEngine) {
		re.guard = guard
	}
}

func WithPriceFeed(feed pricefeed.Feed) RoomEngineOpt {
	return func(re *roomEngine) {
		re.feed = feed
	}
}

func WithLedgerClient(client *ledgernet.Client) RoomEngineOpt {
	return func(re *roomEngine) {
		re.ledger = client
	}
}

func WithSignatureCoordinator(signer *ledgernet.Coordinator) RoomEngineOpt {
	return func(re *roomEngine) {
		re.signer = signer
	}
}

func WithLogger(log slog.Logger) RoomEngineOpt {
	return func(re *roomEngine) {
		re.log = log
	}
}

func (re *roomEngine) OnRoomUpdated(fn func(*Room)) {
	re.onRoomUpdated = fn
}

func (re *roomEngine) OnRoomErrorUpdated(fn func(*Room, error)) {
	re.onRoomErrorUpdated = fn
}

func (re *roomEngine) OnCoinSpawned(fn func(string, *Coin)) {
	re.onCoinSpawned = fn
}

func (re *roomEngine) OnOrderPlaced(fn func(string, *PendingOrder)) {
	re.onOrderPlaced = fn
}

func (re *roomEngine) OnOrderSettled(fn func(string, *SettlementResult)) {
	re.onOrderSettled = fn
}

func (re *roomEngine) OnPowerUpActivated(fn func(string, string, int64)) {
	re.onPowerUpActivated = fn
}

func (re *roomEngine) OnRoundStarted(fn func(*Room)) {
	re.onRoundStarted = fn
}

func (re *roomEngine) OnRoundEnded(fn func(string, *RoundSummary)) {
	re.onRoundEnded = fn
}

func (re *roomEngine) OnGameOver(fn func(*Room)) {
	re.onGameOver = fn
}

func (re *roomEngine) OnSignRequest(fn func(string, *ledgernet.SignRequest)) {
	re.onSignRequest = fn
}

func (re *roomEngine) OnLedgerError(fn func(string, error)) {
	re.onLedgerError = fn
}

func (re *roomEngine) GetRoom() *Room {
	return re.room
}

func (re *roomEngine) CreateRoom(setting RoomSetting) (*Room, error) {
	if len(setting.Players) != 2 {
		return nil, ErrRoomInvalidCreateSetting
	}
	for _, ps := range setting.Players {
		if ps.PlayerID == "" || ps.Name == "" {
			return nil, ErrRoomInvalidCreateSetting
		}
	}

	roomID := setting.RoomID
	if roomID == "" {
		roomID = uuid.New().String()
	}

	players := make([]*Player, 0, len(setting.Players))
	wins := make(map[string]int)
	for slot, ps := range setting.Players {
		players = append(players, &Player{
			ID:            ps.PlayerID,
			Name:          ps.Name,
			Cash:          re.options.StartingStake,
			WalletAddress: ps.WalletAddress,
			Slot:          slot,
			Viewport:      ps.Viewport,
			Connected:     true,
		})
		wins[ps.PlayerID] = 0
	}

	re.room = &Room{
		ID: roomID,
		State: &RoomState{
			Status:         RoomStateStatus_RoomCreated,
			Players:        players,
			Coins:          make(map[string]*Coin),
			PendingOrders:  make(map[string]*PendingOrder),
			Round:          0,
			Wins:           wins,
			RoundStartCash: make(map[string]decimal.Decimal),
			History:        make([]*RoundSummary, 0),
		},
	}
	re.room.RefreshUpdateAt()

	re.emitRoomUpdated()
	return re.room, nil
}

// StartGame opens the ledger session in the background, then waits for both
// players' round-ready acknowledgements before starting round one. Players
// that never acknowledge are readied automatically after ReadyTimeout.
func (re *roomEngine) StartGame() error {
	re.lock.Lock()
	if re.room == nil || re.shutdown {
		re.lock.Unlock()
		return ErrRoomClosed
	}

	go re.openLedgerSession()

	rg := syncsaga.NewReadyGroup(
		syncsaga.WithTimeout(int(re.options.ReadyTimeout.Seconds()), func(rg *syncsaga.ReadyGroup) {
			for idx, isReady := range rg.GetParticipantStates() {
				if !isReady {
					rg.Ready(idx)
				}
			}
		}),
	)
	rg.OnCompleted(func(rg *syncsaga.ReadyGroup) {
		re.startRound()
	})

	rg.ResetParticipants()
	for _, p := range re.room.State.Players {
		rg.Add(int64(p.Slot), false)
	}
	re.rg = rg
	re.lock.Unlock()

	rg.Start()
	return nil
}

func (re *roomEngine) PlayerRoundReady(playerID string) error {
	re.lock.Lock()
	if re.room == nil || re.shutdown {
		re.lock.Unlock()
		return ErrRoomClosed
	}

	player := re.room.FindPlayer(playerID)
	if player == nil {
		re.lock.Unlock()
		return ErrRoomPlayerNotFound
	}
	slot := int64(player.Slot)
	re.lock.Unlock()

	// Ready may complete the group and start the round on this goroutine
	re.rg.Ready(slot)
	return nil
}

func (re *roomEngine) SliceCoin(playerID string, coinID string) error {
	re.lock.Lock()
	defer re.lock.Unlock()

	if re.room == nil || re.shutdown {
		return ErrRoomClosed
	}
	if re.room.State.Status != RoomStateStatus_RoundActive {
		return ErrRoomNotActive
	}

	player := re.room.FindPlayer(playerID)
	if player == nil {
		return ErrRoomPlayerNotFound
	}

	coin, exists := re.room.State.Coins[coinID]
	if !exists {
		re.emitErrorUpdated(ErrRoomCoinNotFound)
		return ErrRoomCoinNotFound
	}
	delete(re.room.State.Coins, coinID)

	switch coin.Type {
	case spawn.CoinType_Gas:
		re.applyGasPenaltyLocked(player)
	case spawn.CoinType_Whale:
		re.activatePowerUpLocked(player)
		return re.placeOrderLocked(player, coin.Type)
	case spawn.CoinType_Call, spawn.CoinType_Put:
		return re.placeOrderLocked(player, coin.Type)
	default:
		re.emitErrorUpdated(ErrRoomInvalidCoinType)
		return ErrRoomInvalidCoinType
	}

	return nil
}

// CoinExpired removes a coin the clients reported as having left the screen
// unsliced. Unknown ids are ignored, both clients report the same expiries.
func (re *roomEngine) CoinExpired(coinID string) error {
	re.lock.Lock()
	defer re.lock.Unlock()

	if re.room == nil || re.shutdown {
		return ErrRoomClosed
	}

	delete(re.room.State.Coins, coinID)
	return nil
}

// PlayerDisconnected starts the reconnection grace window. The match is
// forfeited to the opponent only if the player is still gone when it expires.
// Each player gets its own grace timer, a connection blip on one side never
// touches the other side's pending forfeit.
func (re *roomEngine) PlayerDisconnected(playerID string) error {
	re.lock.Lock()
	defer re.lock.Unlock()

	if re.room == nil || re.shutdown {
		return ErrRoomClosed
	}

	player := re.room.FindPlayer(playerID)
	if player == nil {
		return ErrRoomPlayerNotFound
	}
	player.Connected = false

	if re.room.State.Status == RoomStateStatus_GameOver {
		return nil
	}

	if tb, exists := re.graceTimeBank[playerID]; exists {
		tb.Cancel()
	}
	tb := timebank.NewTimeBank()
	re.graceTimeBank[playerID] = tb
	return tb.NewTask(re.options.DisconnectGrace, func(isCancelled bool) {
		if isCancelled {
			return
		}
		re.forfeitMatch(playerID)
	})
}

func (re *roomEngine) PlayerReconnected(playerID string) error {
	re.lock.Lock()
	defer re.lock.Unlock()

	if re.room == nil || re.shutdown {
		return ErrRoomClosed
	}

	player := re.room.FindPlayer(playerID)
	if player == nil {
		return ErrRoomPlayerNotFound
	}
	player.Connected = true

	if tb, exists := re.graceTimeBank[playerID]; exists {
		tb.Cancel()
		delete(re.graceTimeBank, playerID)
	}
	return nil
}

// SubmitSignature forwards a player's signature for a pending ledger
// operation, translating the player identity to its wallet address.
func (re *roomEngine) SubmitSignature(method string, requestID uint64, playerID string, signature string) error {
	re.lock.Lock()
	if re.room == nil {
		re.lock.Unlock()
		return ErrRoomClosed
	}
	player := re.room.FindPlayer(playerID)
	re.lock.Unlock()

	if player == nil {
		return ErrRoomPlayerNotFound
	}
	if re.signer == nil {
		return ErrRoomNoLedgerSession
	}

	return re.signer.SubmitSignature(method, requestID, player.WalletAddress, signature)
}

// ForceSettleAll settles every pending order immediately at the latest price.
// Used on emergency shutdown so no stake is left unsettled.
func (re *roomEngine) ForceSettleAll() error {
	re.lock.Lock()
	defer re.lock.Unlock()

	if re.room == nil {
		return ErrRoomClosed
	}

	re.closing = true
	re.settleAllPendingLocked()
	re.closing = false
	re.emitRoomUpdated()
	return nil
}

func (re *roomEngine) CloseRoom(reason GameOverReason) error {
	re.lock.Lock()
	defer re.lock.Unlock()

	if re.room == nil || re.shutdown {
		return ErrRoomClosed
	}

	if re.room.State.Status != RoomStateStatus_GameOver {
		re.closing = true
		re.settleAllPendingLocked()
		re.closing = false
		re.finalizeMatchLocked("", reason)
	}

	re.destroyRoomLocked()
	return nil
}

func (re *roomEngine) forfeitMatch(playerID string) {
	re.lock.Lock()
	defer re.lock.Unlock()

	if re.room == nil || re.shutdown || re.room.State.Status == RoomStateStatus_GameOver {
		return
	}

	player := re.room.FindPlayer(playerID)
	if player == nil || player.Connected {
		return
	}

	// settle everything in flight before deciding, same rule as a knockout
	re.closing = true
	re.cancelRoundTimersLocked()
	re.settleAllPendingLocked()
	re.closing = false

	opponent := re.room.Opponent(playerID)
	winnerID := ""
	if opponent != nil {
		winnerID = opponent.ID
	}
	re.finalizeMatchLocked(winnerID, GameOverReason_Knockout)
}
