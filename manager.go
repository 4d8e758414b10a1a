package slicearena

import (
	"errors"
	"sync"
	"time"

	"github.com/decred/slog"
	"github.com/slicearena/slicearena/ledgernet"
	"github.com/slicearena/slicearena/pricefeed"
	"github.com/slicearena/slicearena/settleguard"
	"github.com/weedbox/timebank"
)

var (
	ErrManagerRoomNotFound       = errors.New("manager: room not found")
	ErrManagerPlayerNotInRoom    = errors.New("manager: player is not in a room")
	ErrManagerInvalidJoinSetting = errors.New("manager: invalid join setting")
	ErrManagerShutdown           = errors.New("manager: shut down")
)

const (
	poolStaleAfter    = 30 * time.Second
	poolSweepInterval = 10 * time.Second
)

type JoinSetting struct {
	PlayerID      string
	Name          string
	WalletAddress string
	Viewport      Viewport
}

type WaitingPlayer struct {
	PlayerID      string
	Name          string
	WalletAddress string
	Viewport      Viewport
	JoinedAt      time.Time
}

type ManagerOpt func(*manager)

type Manager interface {
	Reset()

	// Matchmaking
	FindMatch(setting JoinSetting) (*Room, error)
	LeaveWaitingPool(playerID string)
	WaitingCount() int

	// RoomEngine Actions
	GetRoomEngine(roomID string) (RoomEngine, error)
	GetPlayerRoomEngine(playerID string) (RoomEngine, error)
	CloseRoom(roomID string, reason GameOverReason) error
	RoomCount() int
	EmergencyShutdown() error

	// Player Actions
	PlayerRoundReady(playerID string) error
	SliceCoin(playerID string, coinID string) error
	CoinExpired(playerID string, coinID string) error
	PlayerDisconnected(playerID string) error
	PlayerReconnected(playerID string) error
	SubmitSignature(method string, requestID uint64, playerID string, signature string) error
}

type manager struct {
	mu          sync.Mutex
	roomEngines sync.Map
	pool        map[string]*WaitingPlayer
	playerRoom  map[string]string
	options     *RoomEngineOptions
	callbacks   *RoomEngineCallbacks
	guard       *settleguard.Guard
	feed        pricefeed.Feed
	ledger      *ledgernet.Client
	log         slog.Logger
	tbSweep     *timebank.TimeBank
	closed      bool
}

func NewManager(opts ...ManagerOpt) Manager {
	m := &manager{
		pool:       make(map[string]*WaitingPlayer),
		playerRoom: make(map[string]string),
		options:    NewRoomEngineOptions(),
		callbacks:  NewRoomEngineCallbacks(),
		guard:      settleguard.NewGuard(settleguard.NewGuardOptions()),
		feed:       pricefeed.NewStaticFeed(),
		log:        slog.Disabled,
		tbSweep:    timebank.NewTimeBank(),
	}

	for _, opt := range opts {
		opt(m)
	}

	m.scheduleSweep()
	return m
}

func WithRoomOptions(options *RoomEngineOptions) ManagerOpt {
	return func(m *manager) {
		m.options = options
	}
}

func WithRoomCallbacks(callbacks *RoomEngineCallbacks) ManagerOpt {
	return func(m *manager) {
		m.callbacks = callbacks
	}
}

func WithManagerPriceFeed(feed pricefeed.Feed) ManagerOpt {
	return func(m *manager) {
		m.feed = feed
	}
}

func WithManagerLedgerClient(client *ledgernet.Client) ManagerOpt {
	return func(m *manager) {
		m.ledger = client
	}
}

func WithManagerLogger(log slog.Logger) ManagerOpt {
	return func(m *manager) {
		m.log = log
	}
}

func (m *manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.roomEngines = sync.Map{}
	m.pool = make(map[string]*WaitingPlayer)
	m.playerRoom = make(map[string]string)
}

// FindMatch pairs the caller with any player already waiting, first fit, no
// ranking. With nobody waiting the caller joins the pool and the returned
// room is nil.
func (m *manager) FindMatch(setting JoinSetting) (*Room, error) {
	if setting.PlayerID == "" || setting.Name == "" {
		return nil, ErrManagerInvalidJoinSetting
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrManagerShutdown
	}
	if roomID, exists := m.playerRoom[setting.PlayerID]; exists {
		m.mu.Unlock()
		engine, err := m.GetRoomEngine(roomID)
		if err != nil {
			return nil, err
		}
		return engine.GetRoom(), nil
	}

	var opponent *WaitingPlayer
	for _, w := range m.pool {
		if w.PlayerID != setting.PlayerID {
			opponent = w
			break
		}
	}

	if opponent == nil {
		m.pool[setting.PlayerID] = &WaitingPlayer{
			PlayerID:      setting.PlayerID,
			Name:          setting.Name,
			WalletAddress: setting.WalletAddress,
			Viewport:      setting.Viewport,
			JoinedAt:      time.Now(),
		}
		m.mu.Unlock()
		return nil, nil
	}

	delete(m.pool, opponent.PlayerID)
	delete(m.pool, setting.PlayerID)
	m.mu.Unlock()

	return m.createRoom(opponent, setting)
}

func (m *manager) createRoom(waiting *WaitingPlayer, joined JoinSetting) (*Room, error) {
	engine := NewRoomEngine(m.options,
		WithSettlementGuard(m.guard),
		WithPriceFeed(m.feed),
		WithLedgerClient(m.ledger),
		WithLogger(m.log),
	)

	engine.OnRoomUpdated(m.callbacks.OnRoomUpdated)
	engine.OnRoomErrorUpdated(m.callbacks.OnRoomErrorUpdated)
	engine.OnCoinSpawned(m.callbacks.OnCoinSpawned)
	engine.OnOrderPlaced(m.callbacks.OnOrderPlaced)
	engine.OnOrderSettled(m.callbacks.OnOrderSettled)
	engine.OnPowerUpActivated(m.callbacks.OnPowerUpActivated)
	engine.OnRoundStarted(m.callbacks.OnRoundStarted)
	engine.OnRoundEnded(m.callbacks.OnRoundEnded)
	engine.OnSignRequest(m.callbacks.OnSignRequest)
	engine.OnLedgerError(m.callbacks.OnLedgerError)
	engine.OnGameOver(func(r *Room) {
		m.callbacks.OnGameOver(r)
		m.scheduleRoomCleanup(r)
	})

	// the earlier arrival takes slot 0
	room, err := engine.CreateRoom(RoomSetting{
		Players: []RoomPlayerSetting{
			{PlayerID: waiting.PlayerID, Name: waiting.Name, WalletAddress: waiting.WalletAddress, Viewport: waiting.Viewport},
			{PlayerID: joined.PlayerID, Name: joined.Name, WalletAddress: joined.WalletAddress, Viewport: joined.Viewport},
		},
	})
	if err != nil {
		return nil, err
	}

	m.roomEngines.Store(room.ID, engine)
	m.mu.Lock()
	m.playerRoom[waiting.PlayerID] = room.ID
	m.playerRoom[joined.PlayerID] = room.ID
	m.mu.Unlock()

	m.log.Infof("room %s created for %s vs %s", room.ID, waiting.PlayerID, joined.PlayerID)

	if err := engine.StartGame(); err != nil {
		return nil, err
	}
	return room, nil
}

func (m *manager) scheduleRoomCleanup(room *Room) {
	tb := timebank.NewTimeBank()
	_ = tb.NewTask(m.options.DeleteAfterGameOver, func(isCancelled bool) {
		if isCancelled {
			return
		}
		m.removeRoom(room)
	})
}

func (m *manager) removeRoom(room *Room) {
	m.roomEngines.Delete(room.ID)

	m.mu.Lock()
	for _, p := range room.State.Players {
		if m.playerRoom[p.ID] == room.ID {
			delete(m.playerRoom, p.ID)
		}
	}
	m.mu.Unlock()
}

func (m *manager) LeaveWaitingPool(playerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.pool, playerID)
}

func (m *manager) WaitingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.pool)
}

func (m *manager) scheduleSweep() {
	_ = m.tbSweep.NewTask(poolSweepInterval, func(isCancelled bool) {
		if isCancelled {
			return
		}
		m.sweepPool()
		m.scheduleSweep()
	})
}

// sweepPool drops waiting entries nobody matched within the stale window.
func (m *manager) sweepPool() {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-poolStaleAfter)
	for playerID, w := range m.pool {
		if w.JoinedAt.Before(cutoff) {
			delete(m.pool, playerID)
			m.log.Debugf("waiting pool entry %s expired", playerID)
		}
	}
}

func (m *manager) GetRoomEngine(roomID string) (RoomEngine, error) {
	roomEngine, exist := m.roomEngines.Load(roomID)
	if !exist {
		return nil, ErrManagerRoomNotFound
	}
	return roomEngine.(RoomEngine), nil
}

func (m *manager) GetPlayerRoomEngine(playerID string) (RoomEngine, error) {
	m.mu.Lock()
	roomID, exists := m.playerRoom[playerID]
	m.mu.Unlock()

	if !exists {
		return nil, ErrManagerPlayerNotInRoom
	}
	return m.GetRoomEngine(roomID)
}

func (m *manager) CloseRoom(roomID string, reason GameOverReason) error {
	roomEngine, err := m.GetRoomEngine(roomID)
	if err != nil {
		return ErrManagerRoomNotFound
	}

	if err := roomEngine.CloseRoom(reason); err != nil && !errors.Is(err, ErrRoomClosed) {
		return err
	}

	m.removeRoom(roomEngine.GetRoom())
	return nil
}

func (m *manager) RoomCount() int {
	count := 0
	m.roomEngines.Range(func(key, value interface{}) bool {
		count++
		return true
	})
	return count
}

// EmergencyShutdown force-settles every order in every room and ends each
// match with a synthetic game over, so no stake is left unsettled at process
// exit.
func (m *manager) EmergencyShutdown() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	m.tbSweep.Cancel()

	m.roomEngines.Range(func(key, value interface{}) bool {
		roomEngine := value.(RoomEngine)
		if err := roomEngine.ForceSettleAll(); err != nil && !errors.Is(err, ErrRoomClosed) {
			m.log.Errorf("force settle failed for room %v: %v", key, err)
		}
		if err := roomEngine.CloseRoom(GameOverReason_ServerShutdown); err != nil && !errors.Is(err, ErrRoomClosed) {
			m.log.Errorf("close failed for room %v: %v", key, err)
		}
		return true
	})

	m.Reset()
	m.guard.Stop()
	return nil
}

func (m *manager) PlayerRoundReady(playerID string) error {
	roomEngine, err := m.GetPlayerRoomEngine(playerID)
	if err != nil {
		return err
	}

	return roomEngine.PlayerRoundReady(playerID)
}

func (m *manager) SliceCoin(playerID string, coinID string) error {
	roomEngine, err := m.GetPlayerRoomEngine(playerID)
	if err != nil {
		return err
	}

	return roomEngine.SliceCoin(playerID, coinID)
}

func (m *manager) CoinExpired(playerID string, coinID string) error {
	roomEngine, err := m.GetPlayerRoomEngine(playerID)
	if err != nil {
		return err
	}

	return roomEngine.CoinExpired(coinID)
}

func (m *manager) PlayerDisconnected(playerID string) error {
	m.LeaveWaitingPool(playerID)

	roomEngine, err := m.GetPlayerRoomEngine(playerID)
	if err != nil {
		if errors.Is(err, ErrManagerPlayerNotInRoom) {
			return nil
		}
		return err
	}

	return roomEngine.PlayerDisconnected(playerID)
}

func (m *manager) PlayerReconnected(playerID string) error {
	roomEngine, err := m.GetPlayerRoomEngine(playerID)
	if err != nil {
		return err
	}

	return roomEngine.PlayerReconnected(playerID)
}

func (m *manager) SubmitSignature(method string, requestID uint64, playerID string, signature string) error {
	roomEngine, err := m.GetPlayerRoomEngine(playerID)
	if err != nil {
		return err
	}

	return roomEngine.SubmitSignature(method, requestID, playerID, signature)
}
