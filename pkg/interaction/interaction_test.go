package interaction

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsboard/livehub-go/pkg/wire"
)

// loopback decodes each sent frame, runs it through a Server and feeds the
// completion back into the client.
type loopback struct {
	mu      sync.Mutex
	server  *Server
	client  *Client
	sent    []*wire.Frame
	sendErr error
	silent  bool
}

func (l *loopback) Send(ctx context.Context, data []byte) error {
	if l.sendErr != nil {
		return l.sendErr
	}
	f, err := wire.DecodeFrame(wire.JSON, data)
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.sent = append(l.sent, f)
	silent := l.silent
	l.mu.Unlock()

	if silent {
		return nil
	}
	reply := l.server.HandleInvocation(ctx, wire.JSON, "conn-1", f)
	go func() {
		_ = l.client.HandleCompletion(reply)
	}()
	return nil
}

func newLoopback(t *testing.T) (*loopback, *Client) {
	t.Helper()
	lb := &loopback{server: NewServer()}
	lb.client = NewClient(lb, wire.JSON, ClientConfig{Timeout: time.Second})
	return lb, lb.client
}

func TestInvoke_ReturnsResult(t *testing.T) {
	lb, client := newLoopback(t)
	lb.server.Handle(wire.TargetGetSubscriberCount, func(ctx context.Context, call *Call) (any, error) {
		id, err := call.StringArg(0)
		if err != nil {
			return nil, err
		}
		assert.Equal(t, "machine-42", id)
		return 3, nil
	})

	raw, err := client.Invoke(context.Background(), wire.TargetGetSubscriberCount, "machine-42")
	require.NoError(t, err)

	var n int
	require.NoError(t, raw.Decode(wire.JSON, &n))
	assert.Equal(t, 3, n)
	assert.Equal(t, 0, client.Pending())

	require.Len(t, lb.sent, 1)
	assert.NotEmpty(t, lb.sent[0].InvocationID)
}

func TestInvoke_InvocationIDsAreUnique(t *testing.T) {
	lb, client := newLoopback(t)
	lb.server.Handle(wire.TargetSubscribe, func(context.Context, *Call) (any, error) { return nil, nil })

	for i := 0; i < 5; i++ {
		_, err := client.Invoke(context.Background(), wire.TargetSubscribe, "device-1")
		require.NoError(t, err)
	}

	seen := make(map[string]bool)
	for _, f := range lb.sent {
		assert.False(t, seen[f.InvocationID], "duplicate id %s", f.InvocationID)
		seen[f.InvocationID] = true
	}
}

func TestInvoke_ServerRejected(t *testing.T) {
	lb, client := newLoopback(t)
	lb.server.Handle(wire.TargetSubscribe, func(ctx context.Context, call *Call) (any, error) {
		return nil, Errorf(wire.StatusUnknownEntity, "no device %q", "device-9")
	})

	_, err := client.Invoke(context.Background(), wire.TargetSubscribe, "device-9")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrServerRejected)

	var rej *ServerRejectedError
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, wire.StatusUnknownEntity, rej.Status)
	assert.Equal(t, `no device "device-9"`, rej.Message)
	assert.False(t, rej.Temporary())

	annotated := rej.WithEntity("device-9")
	assert.Contains(t, annotated.Error(), "Subscribe(device-9)")
	assert.Empty(t, rej.EntityID, "WithEntity must not modify the original")
}

func TestInvoke_Timeout(t *testing.T) {
	lb, client := newLoopback(t)
	lb.silent = true
	client.SetTimeout(30 * time.Millisecond)

	start := time.Now()
	_, err := client.Invoke(context.Background(), wire.TargetSubscribe, "device-1")
	require.Error(t, err)

	assert.ErrorIs(t, err, ErrHubTimeout)
	var te *HubTimeoutError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, wire.TargetSubscribe, te.Target)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
	assert.Equal(t, 0, client.Pending())
}

func TestInvoke_AbortFailsPending(t *testing.T) {
	lb, client := newLoopback(t)
	lb.silent = true

	cause := errors.New("read: connection reset")
	errCh := make(chan error, 1)
	go func() {
		_, err := client.Invoke(context.Background(), wire.TargetSubscribe, "device-1")
		errCh <- err
	}()

	require.Eventually(t, func() bool { return client.Pending() == 1 }, time.Second, time.Millisecond)
	client.Abort(cause)

	err := <-errCh
	assert.ErrorIs(t, err, ErrTransportDropped)
	assert.ErrorIs(t, err, cause)

	_, err = client.Invoke(context.Background(), wire.TargetSubscribe, "device-1")
	assert.ErrorIs(t, err, ErrTransportDropped, "invocations after Abort fail fast")
}

func TestInvoke_SendFailure(t *testing.T) {
	lb, client := newLoopback(t)
	lb.sendErr = errors.New("broken pipe")

	_, err := client.Invoke(context.Background(), wire.TargetUnsubscribe, "device-1")
	assert.ErrorIs(t, err, ErrTransportDropped)
	assert.Equal(t, 0, client.Pending())
}

func TestInvoke_ContextCancelled(t *testing.T) {
	lb, client := newLoopback(t)
	lb.silent = true

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := client.Invoke(ctx, wire.TargetGetState, "device-1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestHandleCompletion_Unexpected(t *testing.T) {
	_, client := newLoopback(t)

	err := client.HandleCompletion(&wire.Frame{Type: wire.MessageTypeCompletion, InvocationID: "nope"})
	assert.ErrorIs(t, err, ErrUnexpectedReply)
}

func TestServer_UnknownMethod(t *testing.T) {
	srv := NewServer()
	reply := srv.HandleInvocation(context.Background(), wire.JSON, "c", &wire.Frame{
		Type: wire.MessageTypeInvocation, InvocationID: "1", Target: "Explode",
	})
	require.NotNil(t, reply)
	assert.Equal(t, wire.StatusInvalidArgument, reply.Status)
}

func TestServer_PlainErrorIsInternal(t *testing.T) {
	srv := NewServer()
	srv.Handle(wire.TargetGetState, func(context.Context, *Call) (any, error) {
		return nil, errors.New("database down")
	})

	reply := srv.HandleInvocation(context.Background(), wire.JSON, "c", &wire.Frame{
		Type: wire.MessageTypeInvocation, InvocationID: "1", Target: wire.TargetGetState,
	})
	assert.Equal(t, wire.StatusInternal, reply.Status)
	assert.Equal(t, "database down", reply.Error)
}

func TestServer_MissingArgument(t *testing.T) {
	srv := NewServer()
	srv.Handle(wire.TargetSubscribe, func(ctx context.Context, call *Call) (any, error) {
		_, err := call.StringArg(0)
		return nil, err
	})

	reply := srv.HandleInvocation(context.Background(), wire.JSON, "c", &wire.Frame{
		Type: wire.MessageTypeInvocation, InvocationID: "1", Target: wire.TargetSubscribe,
	})
	assert.Equal(t, wire.StatusInvalidArgument, reply.Status)
}

func TestServer_IgnoresPushes(t *testing.T) {
	srv := NewServer()
	reply := srv.HandleInvocation(context.Background(), wire.JSON, "c", &wire.Frame{
		Type: wire.MessageTypeInvocation, Target: wire.TargetStateUpdate,
	})
	assert.Nil(t, reply)
}

func TestErrorMessages(t *testing.T) {
	assert.Equal(t, "Subscribe: hub not connected (state RECONNECTING)",
		(&NotConnectedError{Target: "Subscribe", State: "RECONNECTING"}).Error())
	assert.Equal(t, "Unsubscribe: no acknowledgment within 10s",
		(&HubTimeoutError{Target: "Unsubscribe", Timeout: 10 * time.Second}).Error())
	assert.ErrorIs(t, &NotConnectedError{}, ErrNotConnected)
	assert.NotErrorIs(t, &NotConnectedError{}, ErrHubTimeout)
}
