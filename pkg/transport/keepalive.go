package transport

import (
	"context"
	"encoding/binary"
	"sync"
	"time"
)

// Keep-alive defaults. With these a silent peer is dropped after at most
// 15s*2 + 10s = 40s.
const (
	DefaultPingInterval   = 15 * time.Second
	DefaultPongTimeout    = 10 * time.Second
	DefaultMaxMissedPongs = 2
)

// KeepAliveConfig configures websocket ping/pong monitoring.
type KeepAliveConfig struct {
	PingInterval   time.Duration
	PongTimeout    time.Duration
	MaxMissedPongs int
}

// DefaultKeepAliveConfig returns the default keep-alive configuration.
func DefaultKeepAliveConfig() KeepAliveConfig {
	return KeepAliveConfig{
		PingInterval:   DefaultPingInterval,
		PongTimeout:    DefaultPongTimeout,
		MaxMissedPongs: DefaultMaxMissedPongs,
	}
}

func (c KeepAliveConfig) withDefaults() KeepAliveConfig {
	if c.PingInterval <= 0 {
		c.PingInterval = DefaultPingInterval
	}
	if c.PongTimeout <= 0 {
		c.PongTimeout = DefaultPongTimeout
	}
	if c.MaxMissedPongs <= 0 {
		c.MaxMissedPongs = DefaultMaxMissedPongs
	}
	return c
}

// DetectionDelay is how long the peer may stay silent before the
// connection is declared dead.
func (c KeepAliveConfig) DetectionDelay() time.Duration {
	return c.PingInterval*time.Duration(c.MaxMissedPongs) + c.PongTimeout
}

// Ping payloads carry the send time so the pong alone yields the latency.
func encodePingTime(t time.Time) []byte {
	return binary.BigEndian.AppendUint64(nil, uint64(t.UnixNano()))
}

func decodePingTime(data []byte) (time.Time, bool) {
	if len(data) != 8 {
		return time.Time{}, false
	}
	return time.Unix(0, int64(binary.BigEndian.Uint64(data))), true
}

// KeepAliveStats is a snapshot of a KeepAlive.
type KeepAliveStats struct {
	PingsSent    int
	Unanswered   int
	LastPingTime time.Time
	LastPongTime time.Time
	LastLatency  time.Duration
}

// KeepAlive pings the peer every PingInterval and calls onDead once the
// peer has not answered for DetectionDelay. It stops itself after that.
type KeepAlive struct {
	cfg    KeepAliveConfig
	send   func(payload []byte) error
	onDead func()

	mu       sync.Mutex
	cancel   context.CancelFunc
	since    time.Time // start, or the last pong
	stats    KeepAliveStats
	finished chan struct{}
}

// NewKeepAlive returns a stopped monitor. send writes a ping control frame
// with the given payload. Zero config fields take the defaults.
func NewKeepAlive(cfg KeepAliveConfig, send func(payload []byte) error, onDead func()) *KeepAlive {
	return &KeepAlive{cfg: cfg.withDefaults(), send: send, onDead: onDead}
}

// Start launches the ping loop. It is a no-op while already running.
func (k *KeepAlive) Start(ctx context.Context) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.cancel != nil {
		return
	}
	ctx, k.cancel = context.WithCancel(ctx)
	k.since = time.Now()
	k.finished = make(chan struct{})
	go k.run(ctx, k.finished)
}

// Stop ends the ping loop and waits for it to exit.
func (k *KeepAlive) Stop() {
	k.mu.Lock()
	cancel, finished := k.cancel, k.finished
	k.cancel = nil
	k.mu.Unlock()

	if cancel != nil {
		cancel()
		<-finished
	}
}

// IsRunning reports whether the ping loop is active.
func (k *KeepAlive) IsRunning() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.cancel != nil
}

// Pong records a pong frame. Payloads that are not ours still count as a
// sign of life but give no latency.
func (k *KeepAlive) Pong(payload []byte) {
	now := time.Now()
	k.mu.Lock()
	defer k.mu.Unlock()
	k.since = now
	k.stats.LastPongTime = now
	k.stats.Unanswered = 0
	if sent, ok := decodePingTime(payload); ok {
		k.stats.LastLatency = now.Sub(sent)
	}
}

// Stats returns a snapshot of the counters.
func (k *KeepAlive) Stats() KeepAliveStats {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.stats
}

func (k *KeepAlive) run(ctx context.Context, finished chan struct{}) {
	defer close(finished)

	t := time.NewTicker(k.cfg.PingInterval)
	defer t.Stop()

	k.ping()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		if k.expired() {
			k.mu.Lock()
			k.cancel = nil
			k.mu.Unlock()
			if k.onDead != nil {
				k.onDead()
			}
			return
		}
		k.ping()
	}
}

func (k *KeepAlive) expired() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return time.Since(k.since) >= k.cfg.DetectionDelay()
}

// ping sends one ping. A failed send is not an error on its own: the
// missing pong will expire the connection.
func (k *KeepAlive) ping() {
	now := time.Now()
	k.mu.Lock()
	k.stats.PingsSent++
	k.stats.Unanswered++
	k.stats.LastPingTime = now
	k.mu.Unlock()

	_ = k.send(encodePingTime(now))
}

