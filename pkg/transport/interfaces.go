package transport

import (
	"context"
	"errors"

	"github.com/opsboard/livehub-go/pkg/wire"
)

// Transport errors.
var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrMessageTooLarge  = errors.New("message exceeds maximum size")
	ErrNoCommonProtocol = errors.New("no common subprotocol")
)

// Conn is one open hub connection.
// Implemented by WSConn.
type Conn interface {
	// ID uniquely identifies this physical connection (UUID).
	ID() string

	// Codec is the frame codec negotiated for this connection.
	Codec() wire.Codec

	// Send writes one message. Safe for concurrent use.
	Send(ctx context.Context, data []byte) error

	// Receive blocks until the next message arrives, the context is done,
	// or the connection fails.
	Receive(ctx context.Context) ([]byte, error)

	// Done is closed once the connection is closed for any reason.
	Done() <-chan struct{}

	// Close closes the connection. Safe to call more than once.
	Close() error
}

// Dialer opens connections to a hub endpoint.
// Implemented by WebSocketDialer.
type Dialer interface {
	Dial(ctx context.Context, endpoint string) (Conn, error)
}

// Compile-time interface satisfaction checks.
var (
	_ Conn   = (*WSConn)(nil)
	_ Dialer = (*WebSocketDialer)(nil)
)
