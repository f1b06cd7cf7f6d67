package subscription

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/opsboard/livehub-go/pkg/connection"
	"github.com/opsboard/livehub-go/pkg/interaction"
	"github.com/opsboard/livehub-go/pkg/subscription/mocks"
	"github.com/opsboard/livehub-go/pkg/wire"
)

// fakeInvoker counts calls per target and entity. Calls to a gated target
// block until the gate is released.
type fakeInvoker struct {
	mu    sync.Mutex
	state connection.State
	calls map[string]int
	gates map[string]chan struct{}
}

func newFakeInvoker() *fakeInvoker {
	return &fakeInvoker{
		state: connection.StateConnected,
		calls: make(map[string]int),
		gates: make(map[string]chan struct{}),
	}
}

func (f *fakeInvoker) Invoke(ctx context.Context, target string, args ...any) (wire.Raw, error) {
	id, _ := args[0].(string)

	f.mu.Lock()
	if f.state != connection.StateConnected {
		st := f.state
		f.mu.Unlock()
		return nil, &interaction.NotConnectedError{Target: target, State: st.String()}
	}
	f.calls[target+"/"+id]++
	gate := f.gates[target]
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, nil
}

func (f *fakeInvoker) State() connection.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeInvoker) Codec() wire.Codec { return wire.JSON }

func (f *fakeInvoker) setState(s connection.State) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = s
}

func (f *fakeInvoker) gate(target string) (release func()) {
	ch := make(chan struct{})
	f.mu.Lock()
	f.gates[target] = ch
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		delete(f.gates, target)
		f.mu.Unlock()
		close(ch)
	}
}

func (f *fakeInvoker) count(target, entityID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[target+"/"+entityID]
}

func noop(Update) {}

func flush(t *testing.T, r *Registry) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, r.Flush(ctx))
}

func TestRegistry_FirstAddSubscribesOnce(t *testing.T) {
	inv := mocks.NewMockInvoker(t)
	inv.EXPECT().State().Return(connection.StateConnected).Maybe()
	inv.EXPECT().Invoke(mock.Anything, wire.TargetSubscribe, "device-1").Return(nil, nil).Once()

	r := NewRegistry(inv, Config{})
	ctx := context.Background()

	id1, err := r.Add(ctx, "device-1", Listener{OnUpdate: noop})
	require.NoError(t, err)
	id2, err := r.Add(ctx, "device-1", Listener{OnUpdate: noop})
	require.NoError(t, err)

	assert.NotEqual(t, id1, id2)
	assert.Equal(t, 2, r.RefCount("device-1"))
	assert.True(t, r.IsSubscribed("device-1"))
	assert.Equal(t, []string{"device-1"}, r.Entities())
	assert.Equal(t, 2, r.Len())
}

func TestRegistry_LastRemoveUnsubscribes(t *testing.T) {
	inv := mocks.NewMockInvoker(t)
	inv.EXPECT().State().Return(connection.StateConnected).Maybe()
	inv.EXPECT().Invoke(mock.Anything, wire.TargetSubscribe, "device-1").Return(nil, nil).Once()
	inv.EXPECT().Invoke(mock.Anything, wire.TargetUnsubscribe, "device-1").Return(nil, nil).Once()

	r := NewRegistry(inv, Config{})
	ctx := context.Background()

	id1, err := r.Add(ctx, "device-1", Listener{OnUpdate: noop})
	require.NoError(t, err)
	id2, err := r.Add(ctx, "device-1", Listener{OnUpdate: noop})
	require.NoError(t, err)

	require.NoError(t, r.Remove(ctx, "device-1", id1))
	assert.True(t, r.IsSubscribed("device-1"))

	require.NoError(t, r.Remove(ctx, "device-1", id2))
	assert.False(t, r.IsSubscribed("device-1"))
	assert.Zero(t, r.RefCount("device-1"))
	assert.Empty(t, r.Entities())

	assert.ErrorIs(t, r.Remove(ctx, "device-1", id2), ErrListenerNotFound)
}

func TestRegistry_Validation(t *testing.T) {
	r := NewRegistry(newFakeInvoker(), Config{})

	_, err := r.Add(context.Background(), "", Listener{OnUpdate: noop})
	assert.ErrorIs(t, err, ErrEmptyEntityID)

	_, err = r.Add(context.Background(), "device-1", Listener{})
	assert.ErrorIs(t, err, ErrNilListener)

	assert.NoError(t, r.RemoveAll(context.Background(), "never-added"))
}

func TestRegistry_ListenersInRegistrationOrder(t *testing.T) {
	r := NewRegistry(newFakeInvoker(), Config{})

	var got []int
	for i := range 3 {
		_, err := r.Add(context.Background(), "device-1", Listener{OnUpdate: func(Update) { got = append(got, i) }})
		require.NoError(t, err)
	}

	for _, l := range r.Listeners("device-1") {
		l.OnUpdate(Update{})
	}
	assert.Equal(t, []int{0, 1, 2}, got)
	assert.Nil(t, r.Listeners("device-2"))
}

func TestRegistry_AddWhileDisconnectedIsPending(t *testing.T) {
	inv := newFakeInvoker()
	inv.setState(connection.StateConnecting)
	r := NewRegistry(inv, Config{})

	_, err := r.Add(context.Background(), "device-1", Listener{OnUpdate: noop})
	require.NoError(t, err)
	assert.Zero(t, inv.count(wire.TargetSubscribe, "device-1"))
	assert.False(t, r.IsSubscribed("device-1"))

	inv.setState(connection.StateConnected)
	r.HandleStateChange(connection.StateConnecting, connection.StateConnected)
	flush(t, r)

	assert.Equal(t, 1, inv.count(wire.TargetSubscribe, "device-1"))
	assert.True(t, r.IsSubscribed("device-1"))
}

func TestRegistry_ReplaysOncePerEntity(t *testing.T) {
	inv := newFakeInvoker()
	r := NewRegistry(inv, Config{})
	ctx := context.Background()

	for _, id := range []string{"machine-42", "machine-42", "machine-7"} {
		_, err := r.Add(ctx, id, Listener{OnUpdate: noop})
		require.NoError(t, err)
	}

	inv.setState(connection.StateReconnecting)
	r.HandleStateChange(connection.StateConnected, connection.StateReconnecting)
	assert.False(t, r.IsSubscribed("machine-42"))
	assert.False(t, r.IsSubscribed("machine-7"))

	inv.setState(connection.StateConnected)
	r.HandleStateChange(connection.StateReconnecting, connection.StateConnected)
	flush(t, r)

	assert.Equal(t, 2, inv.count(wire.TargetSubscribe, "machine-42"))
	assert.Equal(t, 2, inv.count(wire.TargetSubscribe, "machine-7"))
	assert.True(t, r.IsSubscribed("machine-42"))
}

func TestRegistry_SubscribeAcknowledgedAfterDropIsNotTrusted(t *testing.T) {
	inv := newFakeInvoker()
	r := NewRegistry(inv, Config{})
	release := inv.gate(wire.TargetSubscribe)

	done := make(chan error, 1)
	go func() {
		_, err := r.Add(context.Background(), "device-1", Listener{OnUpdate: noop})
		done <- err
	}()
	require.Eventually(t, func() bool { return inv.count(wire.TargetSubscribe, "device-1") == 1 }, time.Second, time.Millisecond)

	// The connection bounces while Subscribe is in flight.
	r.HandleStateChange(connection.StateConnected, connection.StateReconnecting)
	r.HandleStateChange(connection.StateReconnecting, connection.StateConnected)
	release()
	require.NoError(t, <-done)
	flush(t, r)

	assert.Equal(t, 2, inv.count(wire.TargetSubscribe, "device-1"))
	assert.True(t, r.IsSubscribed("device-1"))
}

func TestRegistry_RemoveWhileSubscribeInFlight(t *testing.T) {
	inv := newFakeInvoker()
	r := NewRegistry(inv, Config{})
	release := inv.gate(wire.TargetSubscribe)

	added := make(chan ListenerID, 1)
	go func() {
		id, _ := r.Add(context.Background(), "device-1", Listener{OnUpdate: noop})
		added <- id
	}()
	require.Eventually(t, func() bool { return inv.count(wire.TargetSubscribe, "device-1") == 1 }, time.Second, time.Millisecond)

	removed := make(chan error, 1)
	go func() { removed <- r.RemoveAll(context.Background(), "device-1") }()

	// Membership changes at submission time.
	require.Eventually(t, func() bool { return r.RefCount("device-1") == 0 }, time.Second, time.Millisecond)
	assert.Empty(t, r.Listeners("device-1"))

	release()
	<-added
	require.NoError(t, <-removed)

	assert.Equal(t, 1, inv.count(wire.TargetSubscribe, "device-1"))
	assert.Equal(t, 1, inv.count(wire.TargetUnsubscribe, "device-1"))
	assert.False(t, r.IsSubscribed("device-1"))
	assert.Empty(t, r.Entities())
}

func TestRegistry_AddThenRemoveBeforeRunSendsNothing(t *testing.T) {
	inv := newFakeInvoker()
	r := NewRegistry(inv, Config{})
	ctx := context.Background()

	id, err := r.Add(ctx, "device-1", Listener{OnUpdate: noop})
	require.NoError(t, err)

	// Hold the chain on an in-flight Unsubscribe.
	release := inv.gate(wire.TargetUnsubscribe)
	removed := make(chan error, 1)
	go func() { removed <- r.Remove(ctx, "device-1", id) }()
	require.Eventually(t, func() bool { return inv.count(wire.TargetUnsubscribe, "device-1") == 1 }, time.Second, time.Millisecond)

	// Mount and unmount again while the chain is held.
	added := make(chan error, 1)
	go func() {
		_, err := r.Add(ctx, "device-1", Listener{OnUpdate: noop})
		added <- err
	}()
	require.Eventually(t, func() bool { return r.RefCount("device-1") == 1 }, time.Second, time.Millisecond)
	require.NoError(t, r.RemoveAll(ctx, "device-1"))
	release()

	require.NoError(t, <-removed)
	require.NoError(t, <-added)

	assert.Equal(t, 1, inv.count(wire.TargetSubscribe, "device-1"), "only the first mount subscribed")
	assert.Equal(t, 1, inv.count(wire.TargetUnsubscribe, "device-1"))
	assert.False(t, r.IsSubscribed("device-1"))
}

func TestRegistry_RejectionDropsEntity(t *testing.T) {
	rejection := &interaction.ServerRejectedError{Target: wire.TargetSubscribe, Status: wire.StatusUnknownEntity, Message: "no such device"}

	block := make(chan struct{})
	inv := mocks.NewMockInvoker(t)
	inv.EXPECT().State().Return(connection.StateConnected).Maybe()
	inv.EXPECT().Invoke(mock.Anything, wire.TargetSubscribe, "device-x").
		RunAndReturn(func(context.Context, string, ...interface{}) (wire.Raw, error) {
			<-block
			return nil, rejection
		}).Once()

	r := NewRegistry(inv, Config{})
	ctx := context.Background()

	type result struct {
		id  ListenerID
		err error
	}
	first := make(chan result, 1)
	go func() {
		id, err := r.Add(ctx, "device-x", Listener{OnUpdate: noop, OnError: func(error) { t.Error("caller must get the error as return value") }})
		first <- result{id, err}
	}()
	require.Eventually(t, func() bool { return r.RefCount("device-x") == 1 }, time.Second, time.Millisecond)

	var mu sync.Mutex
	var notified []error
	second := make(chan result, 1)
	go func() {
		id, err := r.Add(ctx, "device-x", Listener{OnUpdate: noop, OnError: func(err error) {
			mu.Lock()
			notified = append(notified, err)
			mu.Unlock()
		}})
		second <- result{id, err}
	}()
	require.Eventually(t, func() bool { return r.RefCount("device-x") == 2 }, time.Second, time.Millisecond)

	close(block)

	res := <-first
	assert.Zero(t, res.id)
	require.ErrorIs(t, res.err, interaction.ErrServerRejected)
	var rej *interaction.ServerRejectedError
	require.ErrorAs(t, res.err, &rej)
	assert.Equal(t, "device-x", rej.EntityID)

	res = <-second
	assert.Zero(t, res.id)
	assert.ErrorIs(t, res.err, interaction.ErrServerRejected)

	mu.Lock()
	assert.Empty(t, notified, "a queued Add gets the rejection as its return value only")
	mu.Unlock()

	assert.Zero(t, r.RefCount("device-x"))
	assert.Empty(t, r.Entities())
}

func TestRegistry_RejectionNotifiesSettledListenersOnce(t *testing.T) {
	rejection := &interaction.ServerRejectedError{Target: wire.TargetSubscribe, Status: wire.StatusUnknownEntity}

	inv := mocks.NewMockInvoker(t)
	inv.EXPECT().State().Return(connection.StateConnected).Maybe()
	inv.EXPECT().Invoke(mock.Anything, wire.TargetSubscribe, "device-x").
		Return(nil, &interaction.HubTimeoutError{Target: wire.TargetSubscribe, Timeout: time.Second}).Once()
	inv.EXPECT().Invoke(mock.Anything, wire.TargetSubscribe, "device-x").Return(nil, rejection).Once()

	r := NewRegistry(inv, Config{})
	ctx := context.Background()

	var mu sync.Mutex
	var notified []error
	settled, err := r.Add(ctx, "device-x", Listener{OnUpdate: noop, OnError: func(err error) {
		mu.Lock()
		notified = append(notified, err)
		mu.Unlock()
	}})
	require.ErrorIs(t, err, interaction.ErrHubTimeout)
	require.NotZero(t, settled)

	id, err := r.Add(ctx, "device-x", Listener{OnUpdate: noop, OnError: func(error) { t.Error("caller must get the error as return value") }})
	assert.Zero(t, id)
	require.ErrorIs(t, err, interaction.ErrServerRejected)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, notified, 1)
	assert.ErrorIs(t, notified[0], interaction.ErrServerRejected)
	assert.Zero(t, r.RefCount("device-x"))
}

func TestRegistry_TransientFailureRetriedOnceAfterReconnect(t *testing.T) {
	inv := mocks.NewMockInvoker(t)
	inv.EXPECT().State().Return(connection.StateConnected).Maybe()
	inv.EXPECT().Invoke(mock.Anything, wire.TargetSubscribe, "device-1").
		Return(nil, &interaction.HubTimeoutError{Target: wire.TargetSubscribe, Timeout: time.Second}).Twice()

	r := NewRegistry(inv, Config{})

	id, err := r.Add(context.Background(), "device-1", Listener{OnUpdate: noop})
	require.ErrorIs(t, err, interaction.ErrHubTimeout)
	require.NotZero(t, id)

	for range 3 {
		r.HandleStateChange(connection.StateConnected, connection.StateReconnecting)
		r.HandleStateChange(connection.StateReconnecting, connection.StateConnected)
		flush(t, r)
	}

	inv.AssertNumberOfCalls(t, "Invoke", 2)
	assert.False(t, r.IsSubscribed("device-1"))
	assert.Equal(t, 1, r.RefCount("device-1"), "the listener stays registered")

	// A new listener starts a fresh attempt.
	inv.EXPECT().Invoke(mock.Anything, wire.TargetSubscribe, "device-1").Return(nil, nil).Once()
	_, err = r.Add(context.Background(), "device-1", Listener{OnUpdate: noop})
	require.NoError(t, err)
	assert.True(t, r.IsSubscribed("device-1"))
}

func TestRegistry_TransientErrorKeepsListener(t *testing.T) {
	inv := mocks.NewMockInvoker(t)
	inv.EXPECT().State().Return(connection.StateConnected).Maybe()
	inv.EXPECT().Invoke(mock.Anything, wire.TargetSubscribe, "device-1").
		Return(nil, &interaction.HubTimeoutError{Target: wire.TargetSubscribe, Timeout: 10 * time.Second}).Once()
	inv.EXPECT().Invoke(mock.Anything, wire.TargetSubscribe, "device-1").Return(nil, nil).Once()

	r := NewRegistry(inv, Config{})

	id, err := r.Add(context.Background(), "device-1", Listener{OnUpdate: noop})
	require.ErrorIs(t, err, interaction.ErrHubTimeout)
	assert.NotZero(t, id)
	assert.Equal(t, 1, r.RefCount("device-1"))
	assert.False(t, r.IsSubscribed("device-1"))

	r.HandleStateChange(connection.StateConnected, connection.StateReconnecting)
	r.HandleStateChange(connection.StateReconnecting, connection.StateConnected)
	flush(t, r)
	assert.True(t, r.IsSubscribed("device-1"))
}

func TestRegistry_TemporaryRejectionIsTransient(t *testing.T) {
	inv := mocks.NewMockInvoker(t)
	inv.EXPECT().State().Return(connection.StateConnected).Maybe()
	inv.EXPECT().Invoke(mock.Anything, wire.TargetSubscribe, "device-1").
		Return(nil, &interaction.ServerRejectedError{Target: wire.TargetSubscribe, Status: wire.StatusUnavailable}).Once()

	r := NewRegistry(inv, Config{})

	id, err := r.Add(context.Background(), "device-1", Listener{OnUpdate: noop})
	require.ErrorIs(t, err, interaction.ErrServerRejected)
	assert.NotZero(t, id)
	assert.Equal(t, 1, r.RefCount("device-1"))
}

func TestRegistry_UnsubscribeErrorStillRemoves(t *testing.T) {
	inv := mocks.NewMockInvoker(t)
	inv.EXPECT().State().Return(connection.StateConnected).Maybe()
	inv.EXPECT().Invoke(mock.Anything, wire.TargetSubscribe, "device-1").Return(nil, nil).Once()
	inv.EXPECT().Invoke(mock.Anything, wire.TargetUnsubscribe, "device-1").
		Return(nil, &interaction.TransportDroppedError{Target: wire.TargetUnsubscribe, Cause: errors.New("reset")}).Once()

	r := NewRegistry(inv, Config{})
	id, err := r.Add(context.Background(), "device-1", Listener{OnUpdate: noop})
	require.NoError(t, err)

	err = r.Remove(context.Background(), "device-1", id)
	assert.ErrorIs(t, err, interaction.ErrTransportDropped)
	assert.False(t, r.IsSubscribed("device-1"))
	assert.Empty(t, r.Entities())
}

type evictRecorder struct {
	mu  sync.Mutex
	ids []string
}

func (e *evictRecorder) Evict(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ids = append(e.ids, id)
}

func TestRegistry_EvictOnRemove(t *testing.T) {
	ctx := context.Background()

	t.Run("Enabled", func(t *testing.T) {
		ev := &evictRecorder{}
		r := NewRegistry(newFakeInvoker(), Config{EvictOnRemove: true, Evictor: ev})
		id, err := r.Add(ctx, "device-1", Listener{OnUpdate: noop})
		require.NoError(t, err)
		require.NoError(t, r.Remove(ctx, "device-1", id))
		assert.Equal(t, []string{"device-1"}, ev.ids)
	})

	t.Run("DisabledByDefault", func(t *testing.T) {
		ev := &evictRecorder{}
		r := NewRegistry(newFakeInvoker(), Config{Evictor: ev})
		id, err := r.Add(ctx, "device-1", Listener{OnUpdate: noop})
		require.NoError(t, err)
		require.NoError(t, r.Remove(ctx, "device-1", id))
		assert.Empty(t, ev.ids)
	})
}

func TestRegistry_SubscriberCount(t *testing.T) {
	inv := mocks.NewMockInvoker(t)
	inv.EXPECT().State().Return(connection.StateConnected).Once()
	inv.EXPECT().Codec().Return(wire.JSON)
	inv.EXPECT().Invoke(mock.Anything, wire.TargetGetSubscriberCount, "machine-42").Return(wire.Raw("3"), nil).Once()

	r := NewRegistry(inv, Config{})
	n, err := r.SubscriberCount(context.Background(), "machine-42")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	inv.EXPECT().State().Return(connection.StateReconnecting).Once()
	_, err = r.SubscriberCount(context.Background(), "machine-42")
	assert.ErrorIs(t, err, interaction.ErrNotConnected)
}

func TestRegistry_CloseRejectsAdds(t *testing.T) {
	r := NewRegistry(newFakeInvoker(), Config{})
	_, err := r.Add(context.Background(), "device-1", Listener{OnUpdate: noop})
	require.NoError(t, err)

	r.Close()
	assert.Zero(t, r.Len())

	_, err = r.Add(context.Background(), "device-1", Listener{OnUpdate: noop})
	assert.ErrorIs(t, err, ErrRegistryClosed)
}

func TestRegistry_RefCountProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50

	properties := gopter.NewProperties(parameters)

	properties.Property("n adds then n removes in any order subscribe and unsubscribe once", prop.ForAll(
		func(n int, seed uint64) bool {
			inv := newFakeInvoker()
			r := NewRegistry(inv, Config{})
			ctx := context.Background()

			ids := make([]ListenerID, 0, n)
			for range n {
				id, err := r.Add(ctx, "device-1", Listener{OnUpdate: noop})
				if err != nil {
					return false
				}
				ids = append(ids, id)
			}
			if r.RefCount("device-1") != n || !r.IsSubscribed("device-1") {
				return false
			}

			rng := rand.New(rand.NewPCG(seed, seed>>1))
			rng.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })
			for i, id := range ids {
				if err := r.Remove(ctx, "device-1", id); err != nil {
					return false
				}
				if i < len(ids)-1 && !r.IsSubscribed("device-1") {
					return false
				}
			}

			return inv.count(wire.TargetSubscribe, "device-1") == 1 &&
				inv.count(wire.TargetUnsubscribe, "device-1") == 1 &&
				r.RefCount("device-1") == 0
		},
		gen.IntRange(1, 8),
		gen.UInt64(),
	))

	properties.TestingRun(t)
}
