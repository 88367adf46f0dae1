// Package timer provides the microsecond clock the kernel reads for
// get_time and task accounting.
package timer

import (
	"sync/atomic"
	"time"
)

const (
	MicrosPerSec  = 1_000_000
	MicrosPerMsec = 1_000
)

// Clock is a monotonic microsecond counter starting at kernel boot.
type Clock interface {
	NowMicros() uint64
}

// Millis converts a clock reading to milliseconds.
func Millis(c Clock) uint64 {
	return c.NowMicros() / MicrosPerMsec
}

// Monotonic counts time elapsed since it was created.
type Monotonic struct {
	boot time.Time
}

// NewMonotonic starts a clock at zero.
func NewMonotonic() *Monotonic {
	return &Monotonic{boot: time.Now()}
}

// NowMicros implements Clock.
func (m *Monotonic) NowMicros() uint64 {
	return uint64(time.Since(m.boot).Microseconds())
}

// Manual is a clock that only moves when told to.
type Manual struct {
	now atomic.Uint64
}

// NewManual returns a clock reading start microseconds.
func NewManual(start uint64) *Manual {
	m := &Manual{}
	m.now.Store(start)
	return m
}

// NowMicros implements Clock.
func (m *Manual) NowMicros() uint64 {
	return m.now.Load()
}

// Advance moves the clock forward by d.
func (m *Manual) Advance(d time.Duration) {
	m.now.Add(uint64(d.Microseconds()))
}
