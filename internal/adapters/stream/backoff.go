package stream

import (
	"sync"
	"time"
)

// Default reconnect timing.
const (
	DefaultFloor   = time.Second
	DefaultCeiling = 30 * time.Second
	DefaultFactor  = 2.0
)

// Backoff is an exponential delay: it starts at the floor, grows by the
// factor on every failure, stops at the ceiling and returns to the floor on
// Reset. After N consecutive calls to Next, Current is
// min(floor*factor^N, ceiling).
type Backoff struct {
	mu      sync.Mutex
	floor   time.Duration
	ceiling time.Duration
	factor  float64
	current time.Duration
}

// NewBackoff validates its arguments, falling back to the defaults for
// non-positive values and raising the ceiling to the floor if needed.
func NewBackoff(floor, ceiling time.Duration, factor float64) *Backoff {
	if floor <= 0 {
		floor = DefaultFloor
	}
	if ceiling <= 0 {
		ceiling = DefaultCeiling
	}
	if ceiling < floor {
		ceiling = floor
	}
	if factor <= 1 {
		factor = DefaultFactor
	}
	return &Backoff{floor: floor, ceiling: ceiling, factor: factor, current: floor}
}

// Current returns the delay the next failure will wait.
func (b *Backoff) Current() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// Next returns the delay to wait now and grows the following one.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	d := b.current
	grown := time.Duration(float64(b.current) * b.factor)
	if grown > b.ceiling || grown < b.current {
		grown = b.ceiling
	}
	b.current = grown
	return d
}

// Reset returns the delay to the floor.
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.current = b.floor
}

// Floor returns the minimum delay.
func (b *Backoff) Floor() time.Duration { return b.floor }

// Ceiling returns the maximum delay.
func (b *Backoff) Ceiling() time.Duration { return b.ceiling }
