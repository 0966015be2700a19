package timex

import (
	"sync"
	"time"
)

// Precision is the resolution every persisted timestamp is truncated to.
// PostgreSQL and SQLite both keep microseconds.
const Precision = time.Microsecond

// Normalize returns t in UTC truncated to Precision, without a monotonic
// reading, so equal instants compare equal after a storage round trip.
func Normalize(t time.Time) time.Time {
	if t.IsZero() {
		return time.Time{}
	}
	return t.UTC().Truncate(Precision)
}

// FromMicros and Micros convert between stored integers and timestamps.
func FromMicros(us int64) time.Time {
	if us == 0 {
		return time.Time{}
	}
	return time.UnixMicro(us).UTC()
}

func Micros(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMicro()
}

// Clock is the time source for mutation stamps.
type Clock interface {
	Now() time.Time
}

// MonotonicClock never returns the same or an earlier instant twice, even
// when the wall clock steps backwards.
type MonotonicClock struct {
	mu   sync.Mutex
	last time.Time
	now  func() time.Time
}

func NewMonotonicClock() *MonotonicClock {
	return &MonotonicClock{now: time.Now}
}

// NewMonotonicClockFrom drives the clock from a custom source (tests).
func NewMonotonicClockFrom(now func() time.Time) *MonotonicClock {
	return &MonotonicClock{now: now}
}

func (c *MonotonicClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := Normalize(c.now())
	if !t.After(c.last) {
		t = c.last.Add(Precision)
	}
	c.last = t
	return t
}

// After returns the later of now and prev+Precision. Mutations use it so a
// record's UpdatedAt never moves backwards, even against a replicated
// timestamp from a device whose clock runs ahead.
func After(now, prev time.Time) time.Time {
	if now.After(prev) {
		return now
	}
	return prev.Add(Precision)
}
