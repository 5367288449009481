package connection

import (
	"math/rand/v2"
	"time"
)

// Backoff computes reconnect delays: min(base * 2^attempt, max) plus a
// random jitter in [0, Jitter).
type Backoff struct {
	Base        time.Duration
	Max         time.Duration
	Jitter      time.Duration
	MaxAttempts int

	// rand returns a value in [0, n). Nil uses math/rand/v2.
	rand func(n int64) int64
}

// NewBackoff builds a Backoff from the manager config.
func NewBackoff(cfg ManagerConfig) *Backoff {
	return &Backoff{
		Base:        cfg.ReconnectBaseWait,
		Max:         cfg.ReconnectMaxWait,
		Jitter:      cfg.ReconnectJitter,
		MaxAttempts: cfg.MaxReconnectAttempts,
	}
}

// Delay returns the wait before the reconnect that follows attempt failures.
func (b *Backoff) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	delay := b.Max
	// Past 2^62 the shift overflows; anything that large is clamped anyway.
	if attempt < 62 {
		if grown := b.Base << uint(attempt); grown > 0 && grown < b.Max && grown>>uint(attempt) == b.Base {
			delay = grown
		}
	}

	return delay + b.jitter()
}

// Exhausted reports whether no further attempt may be scheduled.
func (b *Backoff) Exhausted(attempt int) bool {
	return attempt >= b.MaxAttempts
}

func (b *Backoff) jitter() time.Duration {
	if b.Jitter <= 0 {
		return 0
	}
	if b.rand != nil {
		return time.Duration(b.rand(int64(b.Jitter)))
	}
	return time.Duration(rand.Int64N(int64(b.Jitter)))
}
