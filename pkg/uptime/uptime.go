// Package uptime provides a monotonic millisecond clock that can be swapped
// for a manual one in tests.
package uptime

import (
	"sync"
	"time"
)

// Clock reports milliseconds elapsed since a fixed epoch.
type Clock interface {
	Millis() int64
}

var boot = time.Now()

// System measures time since process start using the runtime's monotonic
// clock reading, so wall clock adjustments do not affect it. Readings start
// at 1 so a stamped value is never confused with the zeroed state.
type System struct{}

func (System) Millis() int64 {
	return time.Since(boot).Milliseconds() + 1
}

// Manual is a clock that only moves when told to.
type Manual struct {
	mu sync.Mutex
	ms int64
}

// NewManual creates a Manual clock reading ms.
func NewManual(ms int64) *Manual {
	return &Manual{ms: ms}
}

func (m *Manual) Millis() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ms
}

// Set moves the clock to ms. Setting it backwards is allowed so callers can
// exercise monotonicity guards.
func (m *Manual) Set(ms int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ms = ms
}

// Advance moves the clock forward by d, truncated to whole milliseconds.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ms += d.Milliseconds()
}
