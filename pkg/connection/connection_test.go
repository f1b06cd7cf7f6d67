package connection

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/opsboard/livehub-go/internal/hubsim"
	"github.com/opsboard/livehub-go/internal/hubtest"
	"github.com/opsboard/livehub-go/pkg/interaction"
	"github.com/opsboard/livehub-go/pkg/transport"
	"github.com/opsboard/livehub-go/pkg/transport/mocks"
	"github.com/opsboard/livehub-go/pkg/wire"
)

func TestBackoff(t *testing.T) {
	t.Run("DefaultSchedule", func(t *testing.T) {
		b := NewBackoff()

		expected := []time.Duration{
			1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second,
			16 * time.Second, 30 * time.Second, 30 * time.Second, 30 * time.Second,
		}
		assert.Equal(t, expected, BackoffConfig{}.Schedule(len(expected)))

		for i, exp := range expected {
			assert.Equal(t, exp, b.Current(), "attempt %d", i)
			_ = b.Next()
		}
		assert.Equal(t, len(expected), b.Attempts())
	})

	t.Run("JitterStaysWithinQuarter", func(t *testing.T) {
		b := NewBackoff()

		seen := map[time.Duration]bool{}
		for i := 0; i < 20; i++ {
			b.Reset()
			d := b.Next()
			assert.GreaterOrEqual(t, d, 750*time.Millisecond)
			assert.LessOrEqual(t, d, 1250*time.Millisecond)
			seen[d] = true
		}
		assert.Greater(t, len(seen), 1, "jittered delays are all identical")
	})

	t.Run("Reset", func(t *testing.T) {
		b := NewBackoff()
		for i := 0; i < 5; i++ {
			b.Next()
		}
		require.Greater(t, b.Current(), InitialBackoff)

		b.Reset()

		assert.Equal(t, InitialBackoff, b.Current())
		assert.Zero(t, b.Attempts())
	})

	t.Run("CustomConfig", func(t *testing.T) {
		b := NewBackoffWithConfig(BackoffConfig{
			Initial:    100 * time.Millisecond,
			Max:        500 * time.Millisecond,
			Multiplier: 2.0,
		})

		expected := []time.Duration{
			100 * time.Millisecond,
			200 * time.Millisecond,
			400 * time.Millisecond,
			500 * time.Millisecond,
			500 * time.Millisecond,
		}
		for i, exp := range expected {
			assert.Equal(t, exp, b.Next(), "attempt %d", i)
		}
	})

	t.Run("ZeroConfigTakesDefaults", func(t *testing.T) {
		b := NewBackoffWithConfig(BackoffConfig{})
		assert.Equal(t, InitialBackoff, b.Next())
	})

	t.Run("MaxBelowInitial", func(t *testing.T) {
		b := NewBackoffWithConfig(BackoffConfig{Initial: time.Second, Max: time.Millisecond})
		assert.Equal(t, time.Second, b.Next())
		assert.Equal(t, time.Second, b.Next())
	})

	t.Run("LongOutageStaysCapped", func(t *testing.T) {
		b := NewBackoffWithConfig(BackoffConfig{})
		for i := 0; i < 5000; i++ {
			b.Next()
		}
		assert.Equal(t, MaxBackoff, b.Current())
	})
}

func TestBackoff_ScheduleProperty(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("delays never shrink and never pass the cap", prop.ForAll(
		func(initialMS, maxMS int, mult float64) bool {
			cfg := BackoffConfig{
				Initial:    time.Duration(initialMS) * time.Millisecond,
				Max:        time.Duration(maxMS) * time.Millisecond,
				Multiplier: mult,
			}
			sched := cfg.Schedule(40)
			limit := max(cfg.Max, cfg.Initial)
			for i, d := range sched {
				if d > limit || (i > 0 && d < sched[i-1]) {
					return false
				}
			}
			return sched[len(sched)-1] == limit
		},
		gen.IntRange(1, 2000),
		gen.IntRange(1, 60000),
		gen.Float64Range(1.1, 4),
	))

	properties.TestingRun(t)
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateDisconnected, "DISCONNECTED"},
		{StateConnecting, "CONNECTING"},
		{StateConnected, "CONNECTED"},
		{StateReconnecting, "RECONNECTING"},
		{StateFailed, "FAILED"},
		{State(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

// transitions records state changes.
type transitions struct {
	mu  sync.Mutex
	got []State
}

func (r *transitions) observe(_, to State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, to)
}

func (r *transitions) states() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]State(nil), r.got...)
}

var fastBackoff = BackoffConfig{Initial: 5 * time.Millisecond, Max: 20 * time.Millisecond}

func newTestManager(t *testing.T, dialer transport.Dialer, mutate ...func(*Config)) *Manager {
	t.Helper()
	cfg := Config{
		Endpoint:      "ws://hub.test/hubs/devices",
		Dialer:        dialer,
		Backoff:       fastBackoff,
		InvokeTimeout: time.Second,
	}
	for _, fn := range mutate {
		fn(&cfg)
	}
	m := NewManager(cfg)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestManager_StartConnects(t *testing.T) {
	hub, dialer := hubtest.New(t, hubsim.PushKeyed)
	m := newTestManager(t, dialer)

	assert.Equal(t, StateDisconnected, m.State())
	assert.Empty(t, m.ConnectionID())

	require.NoError(t, m.Start(context.Background()))
	assert.Equal(t, StateConnected, m.State())
	assert.True(t, m.IsConnected())
	assert.NotEmpty(t, m.ConnectionID())
	assert.Equal(t, wire.JSON, m.Codec())

	raw, err := m.Invoke(context.Background(), wire.TargetGetSubscriberCount, "device-1")
	require.NoError(t, err)
	var n int
	require.NoError(t, raw.Decode(m.Codec(), &n))
	assert.Zero(t, n)
	assert.Equal(t, 1, hub.CallCount(wire.TargetGetSubscriberCount, "device-1"))
}

func TestManager_ConcurrentStartSharesOneDial(t *testing.T) {
	_, dialer := hubtest.New(t, hubsim.PushKeyed)
	m := newTestManager(t, dialer)

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- m.Start(context.Background())
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 1, dialer.Dials())

	require.NoError(t, m.Start(context.Background()))
	assert.Equal(t, 1, dialer.Dials())
}

func TestManager_InvokeNotConnected(t *testing.T) {
	_, dialer := hubtest.New(t, hubsim.PushKeyed)
	m := newTestManager(t, dialer)

	_, err := m.Invoke(context.Background(), wire.TargetSubscribe, "device-1")
	require.ErrorIs(t, err, interaction.ErrNotConnected)

	var nce *interaction.NotConnectedError
	require.ErrorAs(t, err, &nce)
	assert.Equal(t, wire.TargetSubscribe, nce.Target)
	assert.Equal(t, "DISCONNECTED", nce.State)
}

func TestManager_RetriesInitialConnect(t *testing.T) {
	_, dialer := hubtest.New(t, hubsim.PushKeyed)
	dialer.FailNext(2, nil)
	m := newTestManager(t, dialer)

	rec := &transitions{}
	m.OnStateChange(rec.observe)

	require.NoError(t, m.Start(context.Background()))
	assert.Equal(t, 3, dialer.Dials())
	assert.Zero(t, m.RetryAttempt())
	assert.Equal(t, []State{StateConnecting, StateConnected}, rec.states())
}

func TestManager_StartWaiterCanGiveUp(t *testing.T) {
	_, dialer := hubtest.New(t, hubsim.PushKeyed)
	dialer.FailNext(3, nil)
	m := newTestManager(t, dialer, func(c *Config) {
		c.Backoff = BackoffConfig{Initial: 30 * time.Millisecond, Max: 30 * time.Millisecond}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	err := m.Start(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// The run continues without the waiter.
	require.Eventually(t, m.IsConnected, 2*time.Second, 5*time.Millisecond)
}

func TestManager_MaxAttemptsFails(t *testing.T) {
	_, dialer := hubtest.New(t, hubsim.PushKeyed)
	dialer.FailNext(5, nil)
	m := newTestManager(t, dialer, func(c *Config) { c.MaxAttempts = 2 })

	err := m.Start(context.Background())
	require.ErrorIs(t, err, ErrRetriesExhausted)
	assert.Equal(t, StateFailed, m.State())
	assert.Equal(t, 2, dialer.Dials())

	// Stop resets a failed manager.
	require.NoError(t, m.Stop(context.Background()))
	assert.Equal(t, StateDisconnected, m.State())

	// A later Start begins a new run; the queued failures drain first.
	require.Eventually(t, func() bool {
		return m.Start(context.Background()) == nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestManager_ReconnectsAfterDrop(t *testing.T) {
	_, dialer := hubtest.New(t, hubsim.PushKeyed)
	m := newTestManager(t, dialer)

	rec := &transitions{}
	m.OnStateChange(rec.observe)

	require.NoError(t, m.Start(context.Background()))
	first := m.ConnectionID()

	dialer.Drop()

	require.Eventually(t, func() bool {
		return m.IsConnected() && m.ConnectionID() != first
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, []State{StateConnecting, StateConnected, StateReconnecting, StateConnected}, rec.states())
	assert.Equal(t, 2, dialer.Dials())
}

func TestManager_StopFailsPendingInvocations(t *testing.T) {
	hub := hubsim.New(hubsim.Config{Name: "slow", Latency: 500 * time.Millisecond})
	dialer := hubtest.NewDialer(hub, wire.JSON)
	t.Cleanup(dialer.Close)
	m := newTestManager(t, dialer)

	require.NoError(t, m.Start(context.Background()))

	errc := make(chan error, 1)
	go func() {
		_, err := m.Invoke(context.Background(), wire.TargetSubscribe, "device-1")
		errc <- err
	}()

	require.Eventually(t, func() bool { return hub.CallCount(wire.TargetSubscribe, "device-1") == 1 }, time.Second, time.Millisecond)
	require.NoError(t, m.Stop(context.Background()))

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, interaction.ErrTransportDropped)
	case <-time.After(time.Second):
		t.Fatal("pending invocation was not failed by Stop")
	}

	assert.Equal(t, StateDisconnected, m.State())
	require.NoError(t, m.Stop(context.Background()), "Stop is idempotent")
}

func TestManager_OnMessage(t *testing.T) {
	hub, dialer := hubtest.New(t, hubsim.PushKeyed)
	m := newTestManager(t, dialer)

	type push struct {
		target string
		args   []wire.Raw
	}
	pushes := make(chan push, 1)
	require.NoError(t, m.OnMessage(func(target string, args []wire.Raw, _ wire.Codec) {
		pushes <- push{target, args}
	}))
	assert.ErrorIs(t, m.OnMessage(func(string, []wire.Raw, wire.Codec) {}), ErrHandlerRegistered)

	require.NoError(t, m.Start(context.Background()))
	require.Eventually(t, func() bool { return hub.Sessions() == 1 }, time.Second, time.Millisecond)

	_, err := hub.Broadcast(context.Background(), "device-1", map[string]string{"currentState": "Online"})
	require.NoError(t, err)

	select {
	case p := <-pushes:
		assert.Equal(t, wire.TargetStateUpdate, p.target)
		require.Len(t, p.args, 2)
		var id string
		require.NoError(t, p.args[0].Decode(wire.JSON, &id))
		assert.Equal(t, "device-1", id)
	case <-time.After(time.Second):
		t.Fatal("push not delivered")
	}
}

func TestManager_OnStateChangeRemove(t *testing.T) {
	_, dialer := hubtest.New(t, hubsim.PushKeyed)
	m := newTestManager(t, dialer)

	kept, removed := &transitions{}, &transitions{}
	m.OnStateChange(kept.observe)
	remove := m.OnStateChange(removed.observe)
	remove()

	require.NoError(t, m.Start(context.Background()))
	assert.Len(t, kept.states(), 2)
	assert.Empty(t, removed.states())
}

func TestManager_NoDialer(t *testing.T) {
	m := NewManager(Config{Endpoint: "ws://hub.test"})
	assert.ErrorIs(t, m.Start(context.Background()), ErrNoDialer)
}

func TestManager_DialsConfiguredEndpoint(t *testing.T) {
	dialer := mocks.NewMockDialer(t)
	dialer.EXPECT().Dial(mock.Anything, "ws://hub.test/hubs/machines").
		Return(nil, errors.New("refused")).Once()

	m := newTestManager(t, dialer, func(c *Config) {
		c.Endpoint = "ws://hub.test/hubs/machines"
		c.MaxAttempts = 1
	})

	err := m.Start(context.Background())
	require.ErrorIs(t, err, ErrRetriesExhausted)
	assert.ErrorContains(t, err, "refused")
	assert.Equal(t, 1, m.RetryAttempt())
}

func TestManager_CloseFrameIsDrop(t *testing.T) {
	closeFrame, err := wire.EncodeFrame(wire.JSON, &wire.Frame{Type: wire.MessageTypeClose, Error: "hub shutting down"})
	require.NoError(t, err)

	conn := mocks.NewMockConn(t)
	conn.EXPECT().ID().Return("conn-1")
	conn.EXPECT().Codec().Return(wire.JSON)
	conn.EXPECT().Receive(mock.Anything).Return(closeFrame, nil).Once()
	conn.EXPECT().Close().Return(nil)

	dialer := mocks.NewMockDialer(t)
	dialer.EXPECT().Dial(mock.Anything, mock.Anything).Return(conn, nil).Once()
	dialer.EXPECT().Dial(mock.Anything, mock.Anything).Return(nil, errors.New("refused"))

	m := newTestManager(t, dialer, func(c *Config) { c.MaxAttempts = 1 })
	rec := &transitions{}
	m.OnStateChange(rec.observe)

	require.NoError(t, m.Start(context.Background()))

	require.Eventually(t, func() bool { return m.State() == StateFailed }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []State{StateConnecting, StateConnected, StateReconnecting, StateFailed}, rec.states())
}

func TestManager_StartDuringStopWaitsForTeardown(t *testing.T) {
	var firstGone, overlapped atomic.Bool

	slowConn := func(id string, onReturn func()) *mocks.MockConn {
		conn := mocks.NewMockConn(t)
		conn.EXPECT().ID().Return(id).Maybe()
		conn.EXPECT().Codec().Return(wire.JSON).Maybe()
		conn.EXPECT().Receive(mock.Anything).RunAndReturn(func(ctx context.Context) ([]byte, error) {
			<-ctx.Done()
			time.Sleep(100 * time.Millisecond)
			onReturn()
			return nil, ctx.Err()
		}).Maybe()
		conn.EXPECT().Close().Return(nil).Maybe()
		return conn
	}
	first := slowConn("conn-1", func() { firstGone.Store(true) })
	second := slowConn("conn-2", func() {})

	var dials atomic.Int32
	dialer := mocks.NewMockDialer(t)
	dialer.EXPECT().Dial(mock.Anything, mock.Anything).RunAndReturn(func(context.Context, string) (transport.Conn, error) {
		if dials.Add(1) == 1 {
			return first, nil
		}
		if !firstGone.Load() {
			overlapped.Store(true)
		}
		return second, nil
	})

	m := newTestManager(t, dialer)
	rec := &transitions{}
	m.OnStateChange(rec.observe)

	require.NoError(t, m.Start(context.Background()))
	assert.Equal(t, "conn-1", m.ConnectionID())

	stopped := make(chan error, 1)
	go func() { stopped <- m.Stop(context.Background()) }()
	require.Eventually(t, func() bool {
		m.mu.RLock()
		defer m.mu.RUnlock()
		return m.run == nil
	}, time.Second, time.Millisecond)

	require.NoError(t, m.Start(context.Background()))
	require.NoError(t, <-stopped)

	assert.False(t, overlapped.Load(), "second transport dialed while the first was open")
	assert.Equal(t, StateConnected, m.State())
	assert.Equal(t, "conn-2", m.ConnectionID())
	assert.Equal(t, []State{StateConnecting, StateConnected, StateDisconnected, StateConnecting, StateConnected}, rec.states())
	assert.Equal(t, int32(2), dials.Load())
}
