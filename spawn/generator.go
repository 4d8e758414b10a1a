package spawn

import (
	"fmt"
	"hash/fnv"
)

type CoinType string

const (
	CoinType_Call  CoinType = "call"
	CoinType_Put   CoinType = "put"
	CoinType_Gas   CoinType = "gas"
	CoinType_Whale CoinType = "whale"
)

// Cumulative weights for the coin type distribution.
const (
	weightCall = 0.40
	weightPut  = 0.40
	weightGas  = 0.12
)

// Event is a single coin spawn drawn from the sequence. X and Y are the spawn
// position as fractions of the viewport, each in [0, 1).
type Event struct {
	Type CoinType `json:"type"`
	X    float64  `json:"x"`
	Y    float64  `json:"y"`
}

// SequenceGenerator produces a reproducible sequence of spawn events from a
// string seed. Both clients of a room replay the same sequence without the
// server transmitting the full schedule upfront.
//
// Determinism contract: the same seed always yields the identical sequence.
type SequenceGenerator struct {
	seed   string
	state  uint64
	events []Event
	cursor int
}

// NewSequenceGenerator builds the generator for one round of one room. The
// sequence is pre-computed with capacity entries, sized by the caller to cover
// the round duration at the minimum spawn interval plus slack.
func NewSequenceGenerator(roomID string, round int, capacity int) *SequenceGenerator {
	seed := fmt.Sprintf("%s-round%d", roomID, round)
	g := &SequenceGenerator{
		seed:   seed,
		state:  hashSeed(seed),
		events: make([]Event, 0, capacity),
	}

	for i := 0; i < capacity; i++ {
		g.events = append(g.events, Event{
			Type: pickCoinType(g.nextFloat()),
			X:    g.nextFloat(),
			Y:    g.nextFloat(),
		})
	}

	return g
}

// Next returns the next spawn event in the sequence. The second return value
// is false once the sequence is exhausted, which is a normal end-of-round
// condition rather than an error.
func (g *SequenceGenerator) Next() (Event, bool) {
	if g.cursor >= len(g.events) {
		return Event{}, false
	}

	event := g.events[g.cursor]
	g.cursor++
	return event, true
}

func (g *SequenceGenerator) Seed() string {
	return g.seed
}

func (g *SequenceGenerator) Remaining() int {
	return len(g.events) - g.cursor
}

// nextFloat advances the linear congruential state and maps it to [0, 1).
func (g *SequenceGenerator) nextFloat() float64 {
	g.state = (g.state*1103515245 + 12345) % (1 << 31)
	return float64(g.state) / float64(1<<31)
}

func pickCoinType(roll float64) CoinType {
	switch {
	case roll < weightCall:
		return CoinType_Call
	case roll < weightCall+weightPut:
		return CoinType_Put
	case roll < weightCall+weightPut+weightGas:
		return CoinType_Gas
	default:
		return CoinType_Whale
	}
}

func hashSeed(seed string) uint64 {
	h := fnv.New32a()
	h.Write([]byte(seed))
	return uint64(h.Sum32())
}
