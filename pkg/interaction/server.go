package interaction

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/opsboard/livehub-go/pkg/wire"
)

// Call is one invocation as seen by a server handler.
type Call struct {
	ConnectionID string
	Target       string
	Args         []wire.Raw

	codec wire.Codec
}

// Arg decodes argument i into v.
func (c *Call) Arg(i int, v any) error {
	if i >= len(c.Args) {
		return Errorf(wire.StatusInvalidArgument, "%s: missing argument %d", c.Target, i)
	}
	if err := c.Args[i].Decode(c.codec, v); err != nil {
		return Errorf(wire.StatusInvalidArgument, "%s: argument %d: %v", c.Target, i, err)
	}
	return nil
}

// StringArg decodes argument i as a non-empty string.
func (c *Call) StringArg(i int) (string, error) {
	var s string
	if err := c.Arg(i, &s); err != nil {
		return "", err
	}
	if s == "" {
		return "", Errorf(wire.StatusInvalidArgument, "%s: argument %d is empty", c.Target, i)
	}
	return s, nil
}

// HandlerFunc serves one hub method. The returned value becomes the
// completion result; a *StatusError selects the failure status.
type HandlerFunc func(ctx context.Context, call *Call) (any, error)

// Server dispatches invocations to registered handlers.
type Server struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// NewServer creates an empty server.
func NewServer() *Server {
	return &Server{handlers: make(map[string]HandlerFunc)}
}

// Handle registers fn for target, replacing any previous handler.
func (s *Server) Handle(target string, fn HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[target] = fn
}

// HandleInvocation runs the handler for f and returns the completion to send.
// Pushes (no invocation id) are not answered and return nil.
func (s *Server) HandleInvocation(ctx context.Context, codec wire.Codec, connID string, f *wire.Frame) *wire.Frame {
	if f.IsPush() {
		return nil
	}

	s.mu.RLock()
	fn, ok := s.handlers[f.Target]
	s.mu.RUnlock()

	if !ok {
		return wire.NewErrorCompletion(f.InvocationID, wire.StatusInvalidArgument, fmt.Sprintf("unknown method %q", f.Target))
	}

	result, err := fn(ctx, &Call{
		ConnectionID: connID,
		Target:       f.Target,
		Args:         f.Arguments,
		codec:        codec,
	})
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) {
			return wire.NewErrorCompletion(f.InvocationID, se.Status, se.Message)
		}
		return wire.NewErrorCompletion(f.InvocationID, wire.StatusInternal, err.Error())
	}

	reply, err := wire.NewCompletion(codec, f.InvocationID, result)
	if err != nil {
		return wire.NewErrorCompletion(f.InvocationID, wire.StatusInternal, err.Error())
	}
	return reply
}
