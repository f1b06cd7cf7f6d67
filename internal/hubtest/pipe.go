package hubtest

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/opsboard/livehub-go/pkg/transport"
	"github.com/opsboard/livehub-go/pkg/wire"
)

const pipeBuffer = 256

// Conn is one end of an in-memory connection.
type Conn struct {
	id    string
	codec wire.Codec
	in    chan []byte
	peer  *Conn

	// Shared by both ends: closing either side closes the pair.
	done      chan struct{}
	closeOnce *sync.Once
}

// Pipe returns two connected ends. Both ends report the same ID, like the
// two sides of one websocket.
func Pipe(codec wire.Codec) (client, server *Conn) {
	id := uuid.NewString()
	done := make(chan struct{})
	once := &sync.Once{}

	client = &Conn{id: id, codec: codec, in: make(chan []byte, pipeBuffer), done: done, closeOnce: once}
	server = &Conn{id: id, codec: codec, in: make(chan []byte, pipeBuffer), done: done, closeOnce: once}
	client.peer = server
	server.peer = client
	return client, server
}

// ID returns the connection ID.
func (c *Conn) ID() string { return c.id }

// Codec returns the frame codec.
func (c *Conn) Codec() wire.Codec { return c.codec }

// Done is closed when either end closes.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Send delivers a copy of data to the peer.
func (c *Conn) Send(ctx context.Context, data []byte) error {
	select {
	case <-c.done:
		return transport.ErrConnectionClosed
	default:
	}

	buf := append([]byte(nil), data...)
	select {
	case c.peer.in <- buf:
		return nil
	case <-c.done:
		return transport.ErrConnectionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive returns the next message from the peer.
func (c *Conn) Receive(ctx context.Context) ([]byte, error) {
	// Prefer queued data over the closed signal.
	select {
	case data := <-c.in:
		return data, nil
	default:
	}

	select {
	case data := <-c.in:
		return data, nil
	case <-c.done:
		return nil, transport.ErrConnectionClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close closes both ends.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}

var _ transport.Conn = (*Conn)(nil)
