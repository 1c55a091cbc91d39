package runtime

import (
	"sync"
	"time"
)

// Clock supplies the runtime timestamp in epoch milliseconds.
type Clock interface {
	NowMillis() int64
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) NowMillis() int64 { return time.Now().UnixMilli() }

// ManualClock is a settable clock for tests and replays.
type ManualClock struct {
	mu sync.Mutex
	ms int64
}

// NewManualClock returns a clock fixed at ms.
func NewManualClock(ms int64) *ManualClock {
	return &ManualClock{ms: ms}
}

func (c *ManualClock) NowMillis() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ms
}

// Set moves the clock to ms.
func (c *ManualClock) Set(ms int64) {
	c.mu.Lock()
	c.ms = ms
	c.mu.Unlock()
}

// Advance moves the clock forward by d.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.ms += d.Milliseconds()
	c.mu.Unlock()
}
