package settleguard

import (
	"sync"
	"time"

	"github.com/weedbox/timebank"
)

// Guard is a process-wide mutual-exclusion registry keyed by order id. It
// gives settlement logic at-most-once execution: the first TryAcquire for an
// order id wins, every concurrent duplicate is rejected until Release.
//
// Holds carry a timestamp so that a settlement path that died between acquire
// and release cannot leave a permanent lock; a background sweep evicts any
// hold older than MaxHoldAge.
type Guard struct {
	mu      sync.Mutex
	holds   map[string]time.Time
	tb      *timebank.TimeBank
	options *GuardOptions
	stopped bool
}

type GuardOptions struct {
	SweepInterval time.Duration
	MaxHoldAge    time.Duration
}

func NewGuardOptions() *GuardOptions {
	return &GuardOptions{
		SweepInterval: 60 * time.Second,
		MaxHoldAge:    30 * time.Second,
	}
}

func NewGuard(options *GuardOptions) *Guard {
	if options == nil {
		options = NewGuardOptions()
	}

	g := &Guard{
		holds:   make(map[string]time.Time),
		tb:      timebank.NewTimeBank(),
		options: options,
	}
	g.scheduleSweep()

	return g
}

// TryAcquire marks the order id as held and returns true, or returns false
// when the id is already held by another settlement path.
func (g *Guard) TryAcquire(orderID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, held := g.holds[orderID]; held {
		return false
	}

	g.holds[orderID] = time.Now()
	return true
}

func (g *Guard) Release(orderID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	delete(g.holds, orderID)
}

func (g *Guard) HoldCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	return len(g.holds)
}

// Stop cancels the background sweep. Held entries are left to their owners.
func (g *Guard) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.stopped = true
	g.tb.Cancel()
}

func (g *Guard) scheduleSweep() {
	_ = g.tb.NewTask(g.options.SweepInterval, func(isCancelled bool) {
		if isCancelled {
			return
		}

		g.sweep()
		g.scheduleSweep()
	})
}

// sweep evicts stale holds left behind by a settlement path that never
// released, so a crash mid-settlement cannot lock an order forever.
func (g *Guard) sweep() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.stopped {
		return
	}

	deadline := time.Now().Add(-g.options.MaxHoldAge)
	for orderID, heldAt := range g.holds {
		if heldAt.Before(deadline) {
			delete(g.holds, orderID)
		}
	}
}
