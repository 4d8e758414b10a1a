package settleguard

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGuard_AcquireRelease(t *testing.T) {
	g := NewGuard(nil)
	defer g.Stop()

	assert.True(t, g.TryAcquire("order-1"))
	assert.False(t, g.TryAcquire("order-1"))

	// A different order id is unaffected.
	assert.True(t, g.TryAcquire("order-2"))

	g.Release("order-1")
	assert.True(t, g.TryAcquire("order-1"))
}

func TestGuard_AtMostOnceUnderConcurrency(t *testing.T) {
	g := NewGuard(nil)
	defer g.Stop()

	var acquired int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if g.TryAcquire("order-contended") {
				atomic.AddInt32(&acquired, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), acquired)
}

func TestGuard_SweepEvictsStaleHolds(t *testing.T) {
	g := NewGuard(&GuardOptions{
		SweepInterval: 20 * time.Millisecond,
		MaxHoldAge:    10 * time.Millisecond,
	})
	defer g.Stop()

	assert.True(t, g.TryAcquire("order-stale"))
	assert.False(t, g.TryAcquire("order-stale"))

	// The sweep runs after SweepInterval and evicts holds older than
	// MaxHoldAge, simulating a settlement path that died mid-flight.
	time.Sleep(100 * time.Millisecond)

	assert.Equal(t, 0, g.HoldCount())
	assert.True(t, g.TryAcquire("order-stale"))
}

func TestGuard_FreshHoldSurvivesSweep(t *testing.T) {
	g := NewGuard(&GuardOptions{
		SweepInterval: 10 * time.Millisecond,
		MaxHoldAge:    10 * time.Second,
	})
	defer g.Stop()

	assert.True(t, g.TryAcquire("order-fresh"))
	time.Sleep(50 * time.Millisecond)
	assert.False(t, g.TryAcquire("order-fresh"))
}
