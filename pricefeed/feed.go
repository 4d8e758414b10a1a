package pricefeed

import (
	"sync"

	"github.com/shopspring/decimal"
)

// Feed exposes the latest price observed on an external trade stream. The
// second return value is false until the first trade has been received.
type Feed interface {
	LatestPrice() (decimal.Decimal, bool)
}

// StaticFeed is a Feed whose price is set by hand. Used by tests and fixtures
// to drive settlements deterministically.
type StaticFeed struct {
	mu       sync.RWMutex
	price    decimal.Decimal
	hasPrice bool
}

func NewStaticFeed() *StaticFeed {
	return &StaticFeed{}
}

func NewStaticFeedWithPrice(price decimal.Decimal) *StaticFeed {
	return &StaticFeed{
		price:    price,
		hasPrice: true,
	}
}

func (f *StaticFeed) SetPrice(price decimal.Decimal) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.price = price
	f.hasPrice = true
}

func (f *StaticFeed) LatestPrice() (decimal.Decimal, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return f.price, f.hasPrice
}
