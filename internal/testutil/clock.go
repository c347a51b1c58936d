// Package testutil provides deterministic fixtures shared by tests
// across packages.
package testutil

import "sync"

// Clock provides a thread-safe deterministic wall clock for tests.
// Each call to Now() advances time by one second, so consecutive writes
// receive strictly increasing timestamps without touching the real
// clock.
//
// Unlike crdt.WallClock, Clock can be reset for test reuse. This
// enables the same merge scenario to run multiple times with identical
// timestamps.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type Clock struct {
	mu  sync.Mutex
	now float64
}

// NewClock creates a new deterministic clock starting at 0.
//
// The first call to Now() returns 1.
func NewClock() *Clock {
	return &Clock{}
}

// Now advances the clock by one second and returns the new time.
//
// Monotonic: always returns now+1, never decreases.
func (c *Clock) Now() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now++
	return c.now
}

// Set pins the clock so the next call to Now() returns t+1.
func (c *Clock) Set(t float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// Reset resets the clock to 0.
//
// Used for test reuse. After Reset(), the next call to Now() returns 1.
func (c *Clock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = 0
}

// FixedClock always reports the same time. Useful for forcing
// timestamp ties in merge tests.
type FixedClock struct {
	Time float64
}

// Now returns the fixed time.
func (c FixedClock) Now() float64 {
	return c.Time
}
