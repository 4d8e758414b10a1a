package pricefeed

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestStaticFeed(t *testing.T) {
	f := NewStaticFeed()

	_, ok := f.LatestPrice()
	assert.False(t, ok, "no price before the first trade")

	f.SetPrice(decimal.RequireFromString("65000.5"))
	price, ok := f.LatestPrice()
	assert.True(t, ok)
	assert.True(t, price.Equal(decimal.RequireFromString("65000.5")))

	f.SetPrice(decimal.RequireFromString("64999.9"))
	price, _ = f.LatestPrice()
	assert.True(t, price.Equal(decimal.RequireFromString("64999.9")))
}

func TestStaticFeedWithPrice(t *testing.T) {
	f := NewStaticFeedWithPrice(decimal.NewFromInt(100))

	price, ok := f.LatestPrice()
	assert.True(t, ok)
	assert.True(t, price.Equal(decimal.NewFromInt(100)))
}

func TestTradeMessage_Decode(t *testing.T) {
	var trade TradeMessage
	err := json.Unmarshal([]byte(`{"price":"68123.45","ts":1700000000000}`), &trade)
	assert.Nil(t, err)
	assert.True(t, trade.Price.Equal(decimal.RequireFromString("68123.45")))
	assert.Equal(t, int64(1700000000000), trade.Timestamp)

	// Numeric prices are accepted as well.
	err = json.Unmarshal([]byte(`{"price":68123.45,"ts":1}`), &trade)
	assert.Nil(t, err)
	assert.True(t, trade.Price.Equal(decimal.RequireFromString("68123.45")))
}

func TestNATSFeed_InvalidConfig(t *testing.T) {
	_, err := NewNATSFeed(NATSFeedConfig{})
	assert.ErrorIs(t, err, ErrFeedInvalidConfig)

	_, err = NewNATSFeed(NATSFeedConfig{URL: "nats://localhost:4222"})
	assert.ErrorIs(t, err, ErrFeedInvalidConfig)
}
