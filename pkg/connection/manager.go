package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/opsboard/livehub-go/pkg/interaction"
	"github.com/opsboard/livehub-go/pkg/log"
	"github.com/opsboard/livehub-go/pkg/transport"
	"github.com/opsboard/livehub-go/pkg/wire"
)

// Manager errors.
var (
	ErrStopped           = errors.New("connection manager stopped")
	ErrRetriesExhausted  = errors.New("connect attempts exhausted")
	ErrHandlerRegistered = errors.New("message handler already registered")
	ErrNoDialer          = errors.New("no dialer configured")
)

// DefaultDialTimeout bounds a single connect attempt.
const DefaultDialTimeout = 10 * time.Second

// State represents the connection state.
type State uint8

const (
	// StateDisconnected means no connection and no attempt in progress.
	StateDisconnected State = iota

	// StateConnecting means the first connection is being established.
	StateConnecting

	// StateConnected means invocations can be sent.
	StateConnected

	// StateReconnecting means the connection dropped and is being re-established.
	StateReconnecting

	// StateFailed means a configured attempt limit was exhausted.
	StateFailed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateReconnecting:
		return "RECONNECTING"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// PushHandler receives server pushes one at a time, in arrival order.
type PushHandler func(target string, args []wire.Raw, codec wire.Codec)

// StateObserver is told about every state transition. Observers run on the
// manager's goroutine and must not block.
type StateObserver func(old, new State)

// Config configures a Manager.
type Config struct {
	// Endpoint is the hub URL.
	Endpoint string

	Dialer transport.Dialer

	Backoff BackoffConfig

	// InvokeTimeout bounds the wait for a completion (default: 10s).
	InvokeTimeout time.Duration

	// DialTimeout bounds one connect attempt (default: 10s).
	DialTimeout time.Duration

	// MaxAttempts stops retrying after this many consecutive failures and
	// enters StateFailed. Zero retries forever.
	MaxAttempts int

	Logger         *slog.Logger
	ProtocolLogger log.Logger
}

// run is one Start..Stop lifetime of the connect loop.
type run struct {
	cancel context.CancelFunc
	ready  chan struct{}
	done   chan struct{}

	once sync.Once
	err  error
}

// finish resolves everyone waiting in Start.
func (r *run) finish(err error) {
	r.once.Do(func() {
		r.err = err
		close(r.ready)
	})
}

// Manager owns the single connection to one hub endpoint.
type Manager struct {
	mu sync.RWMutex

	config  Config
	logger  *slog.Logger
	backoff *Backoff

	state        State
	retryAttempt int
	run          *run
	// stopping is a stopped run whose loop has not exited yet.
	stopping *run

	conn   transport.Conn
	client *interaction.Client

	pushHandler PushHandler

	observers    map[uint64]StateObserver
	observerIDs  []uint64
	nextObserver uint64

	// notifyMu keeps transitions and their notifications in order.
	notifyMu sync.Mutex
}

// NewManager creates a manager. Nothing is dialed until Start.
func NewManager(config Config) *Manager {
	if config.InvokeTimeout == 0 {
		config.InvokeTimeout = interaction.DefaultTimeout
	}
	if config.DialTimeout == 0 {
		config.DialTimeout = DefaultDialTimeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	config.ProtocolLogger = log.OrNoop(config.ProtocolLogger)

	return &Manager{
		config:    config,
		logger:    config.Logger.With("component", "connection", "endpoint", config.Endpoint),
		backoff:   NewBackoffWithConfig(config.Backoff),
		state:     StateDisconnected,
		observers: make(map[uint64]StateObserver),
	}
}

// Endpoint returns the hub URL.
func (m *Manager) Endpoint() string { return m.config.Endpoint }

// State returns the current state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// IsConnected returns true if invocations can be sent.
func (m *Manager) IsConnected() bool {
	return m.State() == StateConnected
}

// RetryAttempt returns the number of failed attempts since the last
// successful connect.
func (m *Manager) RetryAttempt() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.retryAttempt
}

// ConnectionID returns the ID of the live connection, or "".
func (m *Manager) ConnectionID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.conn == nil {
		return ""
	}
	return m.conn.ID()
}

// OnMessage registers the sole consumer of server pushes.
func (m *Manager) OnMessage(h PushHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pushHandler != nil {
		return ErrHandlerRegistered
	}
	m.pushHandler = h
	return nil
}

// OnStateChange registers an observer and returns a function that removes it.
// Observers are called in registration order.
func (m *Manager) OnStateChange(fn StateObserver) (remove func()) {
	m.mu.Lock()
	m.nextObserver++
	id := m.nextObserver
	m.observers[id] = fn
	m.observerIDs = append(m.observerIDs, id)
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.observers, id)
		for i, oid := range m.observerIDs {
			if oid == id {
				m.observerIDs = append(m.observerIDs[:i], m.observerIDs[i+1:]...)
				break
			}
		}
	}
}

// Start connects to the hub if no connect loop is running and waits until
// the first connection is up. Concurrent and repeated calls share the same
// attempt. Cancelling ctx abandons the wait, not the attempt.
func (m *Manager) Start(ctx context.Context) error {
	if m.config.Dialer == nil {
		return ErrNoDialer
	}

	m.mu.Lock()
	r := m.run
	for r == nil && m.stopping != nil {
		old := m.stopping
		m.mu.Unlock()
		select {
		case <-old.done:
		case <-ctx.Done():
			return ctx.Err()
		}
		m.mu.Lock()
		r = m.run
	}
	if r == nil {
		runCtx, cancel := context.WithCancel(context.Background())
		r = &run{
			cancel: cancel,
			ready:  make(chan struct{}),
			done:   make(chan struct{}),
		}
		m.run = r
		m.retryAttempt = 0
		m.backoff.Reset()
		go m.loop(runCtx, r)
	}
	m.mu.Unlock()

	select {
	case <-r.ready:
		return r.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop tears down the connection and ends reconnection. Pending invocations
// fail with a TransportDroppedError. The state ends in StateDisconnected.
// A Start issued before the teardown finishes waits for it.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	r := m.run
	m.run = nil
	if r != nil {
		m.stopping = r
	} else {
		r = m.stopping
	}
	m.mu.Unlock()

	if r == nil {
		if m.State() != StateDisconnected {
			m.transition(StateDisconnected, "stop")
		}
		return nil
	}

	r.cancel()

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the manager without a deadline.
func (m *Manager) Close() error {
	return m.Stop(context.Background())
}

// Invoke forwards an invocation to the hub. It fails with a
// NotConnectedError unless the state is StateConnected.
func (m *Manager) Invoke(ctx context.Context, target string, args ...any) (wire.Raw, error) {
	m.mu.RLock()
	state, client := m.state, m.client
	m.mu.RUnlock()

	if state != StateConnected || client == nil {
		return nil, &interaction.NotConnectedError{Target: target, State: state.String()}
	}
	return client.Invoke(ctx, target, args...)
}

// Codec returns the codec of the live connection, or nil.
func (m *Manager) Codec() wire.Codec {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.client == nil {
		return nil
	}
	return m.client.Codec()
}

// loop connects, serves the connection until it drops, and reconnects
// until the run is cancelled.
func (m *Manager) loop(ctx context.Context, r *run) {
	defer func() {
		m.mu.Lock()
		if m.stopping == r {
			m.stopping = nil
		}
		m.mu.Unlock()
		close(r.done)
	}()

	m.transition(StateConnecting, "start")
	waitFirst := false

	for {
		conn, err := m.connect(ctx, waitFirst)
		if err != nil {
			if ctx.Err() != nil {
				r.finish(ErrStopped)
				m.transition(StateDisconnected, "stop")
				return
			}
			m.mu.Lock()
			if m.run == r {
				m.run = nil
			}
			m.mu.Unlock()
			m.transition(StateFailed, err.Error())
			r.finish(err)
			return
		}

		client := m.install(conn)

		readDone := make(chan error, 1)
		go func() { readDone <- m.readLoop(ctx, conn, client) }()

		m.transition(StateConnected, "connected")
		r.finish(nil)

		cause := <-readDone
		m.uninstall(conn, client, cause)

		if ctx.Err() != nil {
			m.transition(StateDisconnected, "stop")
			return
		}

		m.logger.Warn("hub connection lost", "conn_id", conn.ID(), "error", cause)
		m.transition(StateReconnecting, cause.Error())
		waitFirst = true
	}
}

// connect dials until it succeeds, the context ends, or MaxAttempts is hit.
func (m *Manager) connect(ctx context.Context, waitFirst bool) (transport.Conn, error) {
	for {
		if waitFirst {
			delay := m.backoff.Next()
			m.logger.Debug("waiting before reconnect", "delay", delay, "attempt", m.backoff.Attempts())
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}
		waitFirst = true

		dctx, cancel := context.WithTimeout(ctx, m.config.DialTimeout)
		conn, err := m.config.Dialer.Dial(dctx, m.config.Endpoint)
		cancel()
		if err == nil {
			return conn, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		m.mu.Lock()
		m.retryAttempt++
		attempt := m.retryAttempt
		m.mu.Unlock()

		m.logger.Warn("hub connect failed", "attempt", attempt, "error", err)
		m.logError("connect", err)

		if m.config.MaxAttempts > 0 && attempt >= m.config.MaxAttempts {
			return nil, fmt.Errorf("%w after %d attempts: %v", ErrRetriesExhausted, attempt, err)
		}
	}
}

func (m *Manager) install(conn transport.Conn) *interaction.Client {
	client := interaction.NewClient(conn, conn.Codec(), interaction.ClientConfig{
		Timeout:        m.config.InvokeTimeout,
		ConnectionID:   conn.ID(),
		Endpoint:       m.config.Endpoint,
		ProtocolLogger: m.config.ProtocolLogger,
	})

	m.backoff.Reset()

	m.mu.Lock()
	m.conn = conn
	m.client = client
	m.retryAttempt = 0
	m.mu.Unlock()

	m.logger.Info("hub connected", "conn_id", conn.ID(), "codec", conn.Codec().Name())
	return client
}

func (m *Manager) uninstall(conn transport.Conn, client *interaction.Client, cause error) {
	m.mu.Lock()
	if m.conn == conn {
		m.conn = nil
		m.client = nil
	}
	m.mu.Unlock()

	client.Abort(cause)
	_ = conn.Close()
}

// readLoop handles inbound frames until the connection fails.
func (m *Manager) readLoop(ctx context.Context, conn transport.Conn, client *interaction.Client) error {
	codec := conn.Codec()
	for {
		data, err := conn.Receive(ctx)
		if err != nil {
			return err
		}

		f, err := wire.DecodeFrame(codec, data)
		if err != nil {
			m.logger.Warn("dropping undecodable frame", "conn_id", conn.ID(), "error", err)
			m.logError("decode", err)
			continue
		}

		switch f.Type {
		case wire.MessageTypeCompletion:
			if err := client.HandleCompletion(f); err != nil {
				m.logger.Debug("completion without pending invocation", "invocation_id", f.InvocationID)
			}
		case wire.MessageTypeInvocation:
			if !f.IsPush() {
				m.logger.Warn("ignoring server invocation", "target", f.Target)
				continue
			}
			m.logPush(conn.ID(), f)

			m.mu.RLock()
			h := m.pushHandler
			m.mu.RUnlock()
			if h != nil {
				h(f.Target, f.Arguments, codec)
			}
		case wire.MessageTypeClose:
			return fmt.Errorf("hub closed connection: %s", f.Error)
		case wire.MessageTypePing:
		}
	}
}

// transition moves to a new state and notifies observers in order.
func (m *Manager) transition(to State, reason string) {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	m.mu.Lock()
	from := m.state
	if from == to {
		m.mu.Unlock()
		return
	}
	m.state = to
	attempt := m.retryAttempt
	observers := make([]StateObserver, 0, len(m.observerIDs))
	for _, id := range m.observerIDs {
		observers = append(observers, m.observers[id])
	}
	m.mu.Unlock()

	m.logger.Info("connection state changed", "from", from.String(), "to", to.String(), "reason", reason)
	m.config.ProtocolLogger.Log(log.Event{
		Timestamp: time.Now(),
		Layer:     log.LayerClient,
		Category:  log.CategoryState,
		Endpoint:  m.config.Endpoint,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityConnection,
			OldState: from.String(),
			NewState: to.String(),
			Reason:   reason,
			Attempt:  attempt,
		},
	})

	for _, fn := range observers {
		fn(from, to)
	}
}

func (m *Manager) logPush(connID string, f *wire.Frame) {
	m.config.ProtocolLogger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: connID,
		Direction:    log.DirectionIn,
		Layer:        log.LayerWire,
		Category:     log.CategoryMessage,
		Endpoint:     m.config.Endpoint,
		Message: &log.MessageEvent{
			Type:          f.Type,
			Target:        f.Target,
			ArgumentCount: len(f.Arguments),
		},
	})
}

func (m *Manager) logError(op string, err error) {
	m.config.ProtocolLogger.Log(log.Event{
		Timestamp: time.Now(),
		Layer:     log.LayerClient,
		Category:  log.CategoryError,
		Endpoint:  m.config.Endpoint,
		Error: &log.ErrorEventData{
			Layer:   log.LayerClient,
			Message: err.Error(),
			Context: op,
		},
	})
}
