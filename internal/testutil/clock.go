package testutil

import (
	"sync"
	"time"
)

// Epoch is the first instant a DeterministicClock hands out.
var Epoch = time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)

// DeterministicClock hands out strictly increasing message timestamps,
// one millisecond apart, starting at Epoch.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type DeterministicClock struct {
	mu   sync.Mutex
	tick int64
}

// NewDeterministicClock creates a clock whose first Next() is Epoch + 1ms.
func NewDeterministicClock() *DeterministicClock {
	return &DeterministicClock{}
}

// Next advances the clock by one millisecond and returns the new time.
func (c *DeterministicClock) Next() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tick++
	return Epoch.Add(time.Duration(c.tick) * time.Millisecond)
}

// Current returns the last time handed out, or Epoch.
func (c *DeterministicClock) Current() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Epoch.Add(time.Duration(c.tick) * time.Millisecond)
}

// Reset rewinds the clock to Epoch.
func (c *DeterministicClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tick = 0
}
