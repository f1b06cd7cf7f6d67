package connection

import (
	"math"
	"math/rand/v2"
	"sync"
	"time"
)

// Reconnect delay defaults: 1s doubling up to 30s, spread by ±25%.
const (
	InitialBackoff    = 1 * time.Second
	MaxBackoff        = 30 * time.Second
	BackoffMultiplier = 2.0
	JitterFactor      = 0.25
)

// BackoffConfig shapes the reconnect delays. Zero Initial, Max and
// Multiplier fall back to the defaults above; zero Jitter means none.
type BackoffConfig struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	Jitter     float64
}

func (c BackoffConfig) withDefaults() BackoffConfig {
	if c.Initial <= 0 {
		c.Initial = InitialBackoff
	}
	if c.Max <= 0 {
		c.Max = MaxBackoff
	}
	if c.Max < c.Initial {
		c.Max = c.Initial
	}
	if c.Multiplier <= 1 {
		c.Multiplier = BackoffMultiplier
	}
	c.Jitter = min(max(c.Jitter, 0), 1)
	return c
}

// base returns the un-jittered delay before retry number attempt (0-based).
func (c BackoffConfig) base(attempt int) time.Duration {
	d := float64(c.Initial) * math.Pow(c.Multiplier, float64(attempt))
	if d >= float64(c.Max) || math.IsInf(d, 1) {
		return c.Max
	}
	return time.Duration(d)
}

// Schedule lists the un-jittered delays of the first n retries.
func (c BackoffConfig) Schedule(n int) []time.Duration {
	c = c.withDefaults()
	out := make([]time.Duration, n)
	for i := range out {
		out[i] = c.base(i)
	}
	return out
}

// Backoff hands out reconnect delays. The retry counter only grows until
// Reset, which the manager calls once a connection is established.
type Backoff struct {
	cfg BackoffConfig

	mu       sync.Mutex
	attempts int
}

// NewBackoff returns a Backoff with the default schedule and jitter.
func NewBackoff() *Backoff {
	return NewBackoffWithConfig(BackoffConfig{Jitter: JitterFactor})
}

// NewBackoffWithConfig returns a Backoff for cfg.
func NewBackoffWithConfig(cfg BackoffConfig) *Backoff {
	return &Backoff{cfg: cfg.withDefaults()}
}

// Next returns the delay before the next retry and counts the retry.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	d := b.cfg.base(b.attempts)
	b.attempts++
	b.mu.Unlock()
	return b.spread(d)
}

// Current returns the un-jittered delay Next would be based on.
func (b *Backoff) Current() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cfg.base(b.attempts)
}

// Attempts returns the retries handed out since the last Reset.
func (b *Backoff) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts
}

// Reset starts the schedule over.
func (b *Backoff) Reset() {
	b.mu.Lock()
	b.attempts = 0
	b.mu.Unlock()
}

// spread moves d by up to ±Jitter of itself.
func (b *Backoff) spread(d time.Duration) time.Duration {
	if b.cfg.Jitter == 0 {
		return d
	}
	f := 1 + b.cfg.Jitter*(2*rand.Float64()-1)
	return time.Duration(float64(d) * f)
}
