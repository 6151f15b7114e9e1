package chat

import "time"

const (
	backoffMin = 2 * time.Second
	backoffMax = 60 * time.Second
)

// Backoff produces the reconnect delay sequence: min, then doubling after
// every failed attempt, capped at max. Reset returns it to min; the client
// resets on every successful connect.
type Backoff struct {
	min time.Duration
	max time.Duration
	cur time.Duration
}

// NewBackoff returns a Backoff starting at min.
func NewBackoff(min, max time.Duration) *Backoff {
	if min <= 0 {
		min = backoffMin
	}
	if max < min {
		max = min
	}
	return &Backoff{min: min, max: max, cur: min}
}

// Next returns the delay to wait before the next attempt and doubles the
// stored delay (capped at max).
func (b *Backoff) Next() time.Duration {
	d := b.cur
	b.cur *= 2
	if b.cur > b.max {
		b.cur = b.max
	}
	return d
}

// Reset returns the delay to min.
func (b *Backoff) Reset() { b.cur = b.min }

// Current reports the delay the next Next call would return.
func (b *Backoff) Current() time.Duration { return b.cur }
