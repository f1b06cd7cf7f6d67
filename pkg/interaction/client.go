package interaction

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/xid"

	"github.com/opsboard/livehub-go/pkg/log"
	"github.com/opsboard/livehub-go/pkg/wire"
)

// Client errors.
var (
	ErrClientClosed    = errors.New("client is closed")
	ErrUnexpectedReply = errors.New("unexpected reply")
)

// DefaultTimeout bounds how long an invocation waits for its completion.
const DefaultTimeout = 10 * time.Second

// Sender writes encoded frames to the connection.
type Sender interface {
	Send(ctx context.Context, data []byte) error
}

// ClientConfig configures a Client.
type ClientConfig struct {
	// Timeout per invocation (default: DefaultTimeout).
	Timeout time.Duration

	// ConnectionID and Endpoint label protocol events.
	ConnectionID string
	Endpoint     string

	ProtocolLogger log.Logger
}

type pendingCall struct {
	target string
	sent   time.Time
	ch     chan *wire.Frame
}

// Client correlates invocations with their completions on one connection.
type Client struct {
	mu sync.RWMutex

	sender  Sender
	codec   wire.Codec
	config  ClientConfig
	timeout time.Duration

	pending   map[string]*pendingCall
	pendingMu sync.Mutex

	closed     bool
	abortCause error
}

// NewClient creates a client that sends through sender using codec.
func NewClient(sender Sender, codec wire.Codec, config ClientConfig) *Client {
	if config.Timeout == 0 {
		config.Timeout = DefaultTimeout
	}
	config.ProtocolLogger = log.OrNoop(config.ProtocolLogger)
	return &Client{
		sender:  sender,
		codec:   codec,
		config:  config,
		timeout: config.Timeout,
		pending: make(map[string]*pendingCall),
	}
}

// SetTimeout sets the invocation timeout.
func (c *Client) SetTimeout(timeout time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timeout = timeout
}

// Codec returns the codec frames are encoded with.
func (c *Client) Codec() wire.Codec { return c.codec }

// Pending returns the number of invocations awaiting completion.
func (c *Client) Pending() int {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	return len(c.pending)
}

// Abort fails every pending invocation with a TransportDroppedError wrapping
// cause and rejects further invocations.
func (c *Client) Abort(cause error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.abortCause = cause
	c.mu.Unlock()

	c.pendingMu.Lock()
	for id, p := range c.pending {
		close(p.ch)
		delete(c.pending, id)
	}
	c.pendingMu.Unlock()
}

// Close is Abort without a cause.
func (c *Client) Close() error {
	c.Abort(ErrClientClosed)
	return nil
}

// Invoke calls target on the hub and returns the raw result.
func (c *Client) Invoke(ctx context.Context, target string, args ...any) (wire.Raw, error) {
	c.mu.RLock()
	if c.closed {
		cause := c.abortCause
		c.mu.RUnlock()
		return nil, &TransportDroppedError{Target: target, Cause: cause}
	}
	timeout := c.timeout
	c.mu.RUnlock()

	id := xid.New().String()
	frame, err := wire.NewInvocation(c.codec, id, target, args...)
	if err != nil {
		return nil, err
	}
	data, err := wire.EncodeFrame(c.codec, frame)
	if err != nil {
		return nil, err
	}

	call := &pendingCall{target: target, sent: time.Now(), ch: make(chan *wire.Frame, 1)}

	c.pendingMu.Lock()
	c.mu.RLock()
	closed, cause := c.closed, c.abortCause
	c.mu.RUnlock()
	if closed {
		c.pendingMu.Unlock()
		return nil, &TransportDroppedError{Target: target, Cause: cause}
	}
	c.pending[id] = call
	c.pendingMu.Unlock()

	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	if err := c.sender.Send(ctx, data); err != nil {
		return nil, &TransportDroppedError{Target: target, Cause: err}
	}
	c.logFrame(log.DirectionOut, frame, nil)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, &HubTimeoutError{Target: target, InvocationID: id, Timeout: timeout}
	case resp, ok := <-call.ch:
		if !ok {
			c.mu.RLock()
			cause := c.abortCause
			c.mu.RUnlock()
			return nil, &TransportDroppedError{Target: target, Cause: cause}
		}
		if resp.Status.IsError() {
			return nil, &ServerRejectedError{Target: target, Status: resp.Status, Message: resp.Error}
		}
		return resp.Result, nil
	}
}

// HandleCompletion delivers a completion to the waiting invocation.
// Returns ErrUnexpectedReply if no invocation is waiting for it.
func (c *Client) HandleCompletion(f *wire.Frame) error {
	c.pendingMu.Lock()
	call, ok := c.pending[f.InvocationID]
	if ok {
		delete(c.pending, f.InvocationID)
	}
	c.pendingMu.Unlock()

	if !ok {
		return ErrUnexpectedReply
	}

	rtt := time.Since(call.sent)
	c.logFrame(log.DirectionIn, f, &rtt)

	call.ch <- f
	return nil
}

func (c *Client) logFrame(dir log.Direction, f *wire.Frame, rtt *time.Duration) {
	ev := &log.MessageEvent{
		Type:          f.Type,
		InvocationID:  f.InvocationID,
		Target:        f.Target,
		Error:         f.Error,
		ArgumentCount: len(f.Arguments),
		RoundTrip:     rtt,
	}
	if f.Type == wire.MessageTypeCompletion {
		status := f.Status
		ev.Status = &status
	}
	c.config.ProtocolLogger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.config.ConnectionID,
		Direction:    dir,
		Layer:        log.LayerWire,
		Category:     log.CategoryMessage,
		Endpoint:     c.config.Endpoint,
		Message:      ev,
	})
}
