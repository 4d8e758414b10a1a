package pricefeed

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/decred/slog"
	"github.com/nats-io/nats.go"
	"github.com/shopspring/decimal"
)

var (
	ErrFeedInvalidConfig = errors.New("pricefeed: invalid feed config")
)

// TradeMessage is the wire form of one trade published on the stream subject.
type TradeMessage struct {
	Price     decimal.Decimal `json:"price"`
	Timestamp int64           `json:"ts"`
}

type NATSFeedConfig struct {
	URL     string
	Subject string
	Name    string
	Log     slog.Logger
}

// NATSFeed subscribes to a trade subject and keeps the most recent price.
// Reconnection is handled by the NATS client itself: the subscription
// survives disconnects and resumes on its own, so a feed outage never
// requires the consuming match to restart.
type NATSFeed struct {
	nc  *nats.Conn
	sub *nats.Subscription
	log slog.Logger

	mu       sync.RWMutex
	price    decimal.Decimal
	hasPrice bool
}

func NewNATSFeed(cfg NATSFeedConfig) (*NATSFeed, error) {
	if cfg.URL == "" || cfg.Subject == "" {
		return nil, ErrFeedInvalidConfig
	}
	if cfg.Name == "" {
		cfg.Name = "slicearena-pricefeed"
	}
	log := cfg.Log
	if log == nil {
		log = slog.Disabled
	}

	f := &NATSFeed{log: log}

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.Timeout(10 * time.Second),
		nats.ReconnectWait(2 * time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warnf("price feed disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Infof("price feed reconnected to %s", nc.ConnectedUrl())
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, err
	}
	f.nc = nc

	sub, err := nc.Subscribe(cfg.Subject, f.handleTrade)
	if err != nil {
		nc.Close()
		return nil, err
	}
	f.sub = sub

	return f, nil
}

func (f *NATSFeed) LatestPrice() (decimal.Decimal, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return f.price, f.hasPrice
}

func (f *NATSFeed) Close() {
	if f.sub != nil {
		_ = f.sub.Unsubscribe()
	}
	if f.nc != nil {
		f.nc.Close()
	}
}

func (f *NATSFeed) handleTrade(m *nats.Msg) {
	var trade TradeMessage
	if err := json.Unmarshal(m.Data, &trade); err != nil {
		f.log.Warnf("dropping malformed trade message: %v", err)
		return
	}

	f.mu.Lock()
	f.price = trade.Price
	f.hasPrice = true
	f.mu.Unlock()
}
