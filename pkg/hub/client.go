package hub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/opsboard/livehub-go/pkg/connection"
	"github.com/opsboard/livehub-go/pkg/dispatch"
	"github.com/opsboard/livehub-go/pkg/log"
	"github.com/opsboard/livehub-go/pkg/model"
	"github.com/opsboard/livehub-go/pkg/statecache"
	"github.com/opsboard/livehub-go/pkg/subscription"
	"github.com/opsboard/livehub-go/pkg/wire"
)

// Status is the connection state as seen by the UI.
type Status = connection.State

// Update is one decoded push.
type Update[T any] struct {
	EntityID   string
	Value      T
	ReceivedAt time.Time
}

// State is the last known snapshot of an entity.
type State[T any] struct {
	EntityID   string
	Value      T
	ReceivedAt time.Time
}

// Client is the facade for one entity kind.
type Client[T any] struct {
	conn     *connection.Manager
	kind     Kind[T]
	logger   *slog.Logger
	cache    *statecache.Cache
	registry *subscription.Registry
	router   *dispatch.Router

	removeObserver func()
	closed         atomic.Bool
}

// DeviceHub is the device facade.
type DeviceHub = Client[model.DeviceState]

// MachineHub is the machine facade.
type MachineHub = Client[model.MachineOEE]

// NewDeviceHub creates a device facade on conn.
func NewDeviceHub(conn *connection.Manager, opts ...Option) (*DeviceHub, error) {
	return New(conn, DeviceKind, opts...)
}

// NewMachineHub creates a machine facade on conn.
func NewMachineHub(conn *connection.Manager, opts ...Option) (*MachineHub, error) {
	return New(conn, MachineKind, opts...)
}

// New creates a facade that owns the pushes of conn. A manager serves a
// single facade; a second New on the same manager fails with
// connection.ErrHandlerRegistered.
func New[T any](conn *connection.Manager, kind Kind[T], opts ...Option) (*Client[T], error) {
	if kind.Key == nil {
		return nil, fmt.Errorf("%s hub: kind has no key function", kind.Name)
	}

	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	o.protocolLogger = log.OrNoop(o.protocolLogger)
	if o.cache == nil {
		o.cache = statecache.New()
	}

	logger := o.logger.With("kind", kind.Name)
	registry := subscription.NewRegistry(conn, subscription.Config{
		EvictOnRemove:  o.evictOnRemove,
		Evictor:        o.cache,
		Logger:         logger,
		ProtocolLogger: o.protocolLogger,
	})
	router := dispatch.NewRouter(dispatch.Config{
		Key:            kind.Key,
		Cache:          o.cache,
		Listeners:      registry,
		Logger:         logger,
		ProtocolLogger: o.protocolLogger,
	})

	if err := conn.OnMessage(router.HandlePush); err != nil {
		return nil, fmt.Errorf("%s hub: %w", kind.Name, err)
	}

	c := &Client[T]{
		conn:     conn,
		kind:     kind,
		logger:   logger.With("component", "hub"),
		cache:    o.cache,
		registry: registry,
		router:   router,
	}
	c.removeObserver = conn.OnStateChange(registry.HandleStateChange)
	return c, nil
}

// Connect starts the connection without subscribing to anything.
func (c *Client[T]) Connect(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClientClosed
	}
	return c.conn.Start(ctx)
}

// Subscribe starts the connection if needed and registers onUpdate for
// entityID.
//
// For the first listener of an entity it returns once the hub acknowledged
// Subscribe. When the attempt fails with a timeout or a dropped connection
// the returned Subscription is live and err is set; the subscribe is retried
// after the next reconnect. When the hub rejects the entity, or ctx ends
// before the subscribe completed, it returns nil and the error.
func (c *Client[T]) Subscribe(ctx context.Context, entityID string, onUpdate func(Update[T]), opts ...SubscribeOption) (*Subscription[T], error) {
	if onUpdate == nil {
		return nil, ErrNilCallback
	}
	if entityID == "" {
		return nil, subscription.ErrEmptyEntityID
	}
	if c.closed.Load() {
		return nil, ErrClientClosed
	}

	so := subscribeOptions{}
	for _, opt := range opts {
		opt(&so)
	}

	if err := c.conn.Start(ctx); err != nil {
		return nil, err
	}

	l := subscription.Listener{
		OnUpdate: func(u subscription.Update) {
			v, err := c.decode(u.Payload, u.Codec)
			if err != nil {
				c.logger.Warn("skipping undecodable update", "entity_id", u.EntityID, "error", err)
				return
			}
			onUpdate(Update[T]{EntityID: u.EntityID, Value: v, ReceivedAt: u.ReceivedAt})
		},
		OnError: so.onError,
	}

	id, err := c.registry.Add(ctx, entityID, l)
	if id == 0 {
		return nil, err
	}
	if err != nil && ctx.Err() != nil {
		// The caller is gone. The listener goes now; the Unsubscribe
		// queues behind the subscribe.
		res, derr := c.registry.Detach(context.WithoutCancel(ctx), entityID, id)
		if derr != nil {
			if !errors.Is(derr, subscription.ErrListenerNotFound) {
				c.logger.Warn("rollback of abandoned subscribe failed", "entity_id", entityID, "error", derr)
			}
			return nil, err
		}
		go func() {
			if rerr := <-res; rerr != nil {
				c.logger.Warn("rollback of abandoned subscribe failed", "entity_id", entityID, "error", rerr)
			}
		}()
		return nil, err
	}
	if err != nil {
		c.logger.Warn("subscribe failed, will retry after reconnect", "entity_id", entityID, "error", err)
	}

	return &Subscription[T]{client: c, entityID: entityID, id: id}, err
}

// Unsubscribe removes sub. A nil sub removes every local listener of
// entityID, for callers that did not keep their Subscription.
func (c *Client[T]) Unsubscribe(ctx context.Context, entityID string, sub *Subscription[T]) error {
	if sub == nil {
		return c.registry.RemoveAll(ctx, entityID)
	}
	if sub.client != c || sub.entityID != entityID {
		return ErrWrongEntity
	}
	return sub.Unsubscribe(ctx)
}

// GetState returns the cached snapshot of entityID, or asks the hub if
// nothing is cached. It returns nil, nil when the hub has no state either.
// A push that arrives while the query is in flight wins over the query
// result.
func (c *Client[T]) GetState(ctx context.Context, entityID string) (*State[T], error) {
	if entityID == "" {
		return nil, subscription.ErrEmptyEntityID
	}
	if e, ok := c.cache.Get(entityID); ok {
		return c.stateFrom(e)
	}

	raw, err := c.conn.Invoke(ctx, wire.TargetGetState, entityID)
	if err != nil {
		return nil, err
	}
	if raw.IsNull() {
		return nil, nil
	}
	codec := c.conn.Codec()
	if codec == nil {
		return nil, &NotConnectedError{Target: wire.TargetGetState, State: c.conn.State().String()}
	}

	c.cache.PutIfAbsent(entityID, raw, codec, time.Now())
	e, ok := c.cache.Get(entityID)
	if !ok {
		e = statecache.Entry{EntityID: entityID, Payload: raw, Codec: codec, ReceivedAt: time.Now()}
	}
	return c.stateFrom(e)
}

// SubscriberCount asks the hub how many clients watch entityID.
func (c *Client[T]) SubscriberCount(ctx context.Context, entityID string) (int, error) {
	return c.registry.SubscriberCount(ctx, entityID)
}

// Status returns the connection state.
func (c *Client[T]) Status() Status {
	return c.conn.State()
}

// OnStatusChange registers fn for connection transitions and returns a
// function that removes it.
func (c *Client[T]) OnStatusChange(fn func(old, new Status)) (remove func()) {
	return c.conn.OnStateChange(fn)
}

// Entities returns the entity IDs with local listeners.
func (c *Client[T]) Entities() []string {
	return c.registry.Entities()
}

// RefCount returns the number of local listeners of entityID.
func (c *Client[T]) RefCount(entityID string) int {
	return c.registry.RefCount(entityID)
}

// Cache returns the state cache. Entries are copies; use it for snapshots.
func (c *Client[T]) Cache() *statecache.Cache {
	return c.cache
}

// Stats returns the push routing counters.
func (c *Client[T]) Stats() dispatch.Stats {
	return c.router.Stats()
}

// Stop stops the connection once no listeners remain.
func (c *Client[T]) Stop(ctx context.Context) error {
	if n := c.registry.Len(); n > 0 {
		return fmt.Errorf("%w: %d listeners", ErrSubscriptionsActive, n)
	}
	return c.conn.Stop(ctx)
}

// Close drops every listener without unsubscribing and stops the
// connection.
func (c *Client[T]) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.registry.Close()
	c.removeObserver()
	return c.conn.Close()
}

func (c *Client[T]) decode(raw wire.Raw, codec wire.Codec) (T, error) {
	var v T
	if err := raw.Decode(codec, &v); err != nil {
		return v, fmt.Errorf("decode %s state: %w", c.kind.Name, err)
	}
	if c.kind.Validate != nil {
		if err := c.kind.Validate(&v); err != nil {
			return v, fmt.Errorf("invalid %s state: %w", c.kind.Name, err)
		}
	}
	return v, nil
}

func (c *Client[T]) stateFrom(e statecache.Entry) (*State[T], error) {
	v, err := c.decode(e.Payload, e.Codec)
	if err != nil {
		return nil, err
	}
	return &State[T]{EntityID: e.EntityID, Value: v, ReceivedAt: e.ReceivedAt}, nil
}
