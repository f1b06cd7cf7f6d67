// Package hubtest runs an in-memory hub for tests. The Dialer hands out
// pipe connections served by a hubsim.Hub, so tests exercise the real
// frame codec and invocation protocol without sockets.
package hubtest

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/opsboard/livehub-go/internal/hubsim"
	"github.com/opsboard/livehub-go/pkg/transport"
	"github.com/opsboard/livehub-go/pkg/wire"
)

// ErrDialRefused is the default error for scripted dial failures.
var ErrDialRefused = errors.New("hubtest: connection refused")

// Dialer connects to an in-memory hub.
type Dialer struct {
	Hub *hubsim.Hub

	codec wire.Codec

	mu       sync.Mutex
	dials    int
	failures []error
	conns    []*Conn
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewDialer creates a dialer for hub. Sessions are served until Close.
func NewDialer(hub *hubsim.Hub, codec wire.Codec) *Dialer {
	ctx, cancel := context.WithCancel(context.Background())
	return &Dialer{Hub: hub, codec: codec, ctx: ctx, cancel: cancel}
}

// New creates a hub and dialer for a test and closes them on cleanup.
func New(t testing.TB, style hubsim.PushStyle) (*hubsim.Hub, *Dialer) {
	t.Helper()
	hub := hubsim.New(hubsim.Config{Name: t.Name(), PushStyle: style})
	d := NewDialer(hub, wire.JSON)
	t.Cleanup(d.Close)
	return hub, d
}

// Dial opens a pipe and serves its far end on the hub.
func (d *Dialer) Dial(ctx context.Context, _ string) (transport.Conn, error) {
	d.mu.Lock()
	d.dials++
	if len(d.failures) > 0 {
		err := d.failures[0]
		d.failures = d.failures[1:]
		d.mu.Unlock()
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		d.mu.Unlock()
		return nil, err
	}

	client, server := Pipe(d.codec)
	d.conns = append(d.conns, client)
	d.wg.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.wg.Done()
		_ = d.Hub.Serve(d.ctx, server)
	}()
	return client, nil
}

// FailNext makes the next n dials fail with err (ErrDialRefused if nil).
func (d *Dialer) FailNext(n int, err error) {
	if err == nil {
		err = ErrDialRefused
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for range n {
		d.failures = append(d.failures, err)
	}
}

// Dials returns how many times Dial was called.
func (d *Dialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// Drop closes every connection handed out so far.
func (d *Dialer) Drop() {
	d.mu.Lock()
	conns := d.conns
	d.conns = nil
	d.mu.Unlock()

	for _, c := range conns {
		_ = c.Close()
	}
}

// Close drops all connections and waits for the hub sessions to end.
func (d *Dialer) Close() {
	d.Drop()
	d.cancel()
	d.wg.Wait()
}

var _ transport.Dialer = (*Dialer)(nil)
