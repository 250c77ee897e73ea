package transport

import "time"

// Default reconnect policy.
const (
	DefaultBackoffBase = time.Second
	DefaultBackoffMax  = 10 * time.Second
	DefaultMaxAttempts = 5
)

// Backoff is the reconnect schedule: attempt n waits min(Base*2^n, Max),
// and no more than MaxAttempts reconnects follow an unexpected close.
type Backoff struct {
	Base        time.Duration
	Max         time.Duration
	MaxAttempts int
}

// DefaultBackoff returns the 1s/10s/5 policy.
func DefaultBackoff() Backoff {
	return Backoff{Base: DefaultBackoffBase, Max: DefaultBackoffMax, MaxAttempts: DefaultMaxAttempts}
}

// Delay returns the wait before reconnect attempt n (zero-based).
func (b Backoff) Delay(attempt int) time.Duration {
	d := b.Base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= b.Max {
			return b.Max
		}
	}
	if d > b.Max {
		return b.Max
	}
	return d
}

func (b Backoff) withDefaults() Backoff {
	if b.Base <= 0 {
		b.Base = DefaultBackoffBase
	}
	if b.Max <= 0 {
		b.Max = DefaultBackoffMax
	}
	if b.MaxAttempts <= 0 {
		b.MaxAttempts = DefaultMaxAttempts
	}
	return b
}
