package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/opsboard/livehub-go/pkg/connection"
	"github.com/opsboard/livehub-go/pkg/interaction"
	"github.com/opsboard/livehub-go/pkg/log"
	"github.com/opsboard/livehub-go/pkg/wire"
)

// maxTransientFailures is how many transient Subscribe failures in a row an
// entity may have before reconnects stop replaying it. The first failure
// gets one retry after the next reconnect.
const maxTransientFailures = 2

// Registry errors.
var (
	ErrNilListener      = errors.New("listener has no update callback")
	ErrListenerNotFound = errors.New("listener not found")
	ErrEmptyEntityID    = errors.New("entity id is empty")
	ErrRegistryClosed   = errors.New("registry is closed")
)

// Invoker is the part of the connection manager the registry uses.
type Invoker interface {
	Invoke(ctx context.Context, target string, args ...any) (wire.Raw, error)
	State() connection.State
	Codec() wire.Codec
}

// Update is one push delivered to a listener.
type Update struct {
	EntityID   string
	Payload    wire.Raw
	Codec      wire.Codec
	ReceivedAt time.Time
}

// Listener receives the pushes for one entity.
type Listener struct {
	// OnUpdate is called for every push, in order. Required.
	OnUpdate func(Update)

	// OnError is called once if the hub rejects the entity. Optional.
	OnError func(error)
}

// ListenerID identifies a registered listener.
type ListenerID uint64

// Evictor drops cached state for an entity.
type Evictor interface {
	Evict(entityID string)
}

// Config configures a Registry.
type Config struct {
	// EvictOnRemove evicts cached state through Evictor once an entity has
	// no listeners left and its server subscription is gone.
	EvictOnRemove bool
	Evictor       Evictor

	Logger         *slog.Logger
	ProtocolLogger log.Logger
}

type registered struct {
	id       ListenerID
	listener Listener
}

type entry struct {
	id         string
	listeners  []registered
	subscribed bool
	rejected   error
	// failures counts transient Subscribe failures since the last success.
	failures int
	// waiting holds listeners whose Add has not returned; they learn about a
	// rejection from Add, not OnError.
	waiting map[ListenerID]struct{}

	// tail is closed when the most recently queued operation finishes.
	tail    chan struct{}
	pending int
}

// Registry maps entity IDs to listeners and reconciles server subscriptions.
type Registry struct {
	invoker Invoker
	config  Config
	logger  *slog.Logger

	mu      sync.Mutex
	entries map[string]*entry
	nextID  ListenerID
	epoch   uint64
	closed  bool
}

// NewRegistry creates a registry that subscribes through invoker.
func NewRegistry(invoker Invoker, config Config) *Registry {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	config.ProtocolLogger = log.OrNoop(config.ProtocolLogger)
	return &Registry{
		invoker: invoker,
		config:  config,
		logger:  config.Logger.With("component", "subscription"),
		entries: make(map[string]*entry),
	}
}

// Add registers l for entityID. For the first listener it waits until the
// hub acknowledges Subscribe; while disconnected the subscription stays
// pending and Add returns at once.
//
// The returned ListenerID is valid whenever it is non-zero, even alongside
// an error: timeouts and dropped connections leave the listener registered
// for retry after reconnect. A non-temporary rejection returns a zero ID.
func (r *Registry) Add(ctx context.Context, entityID string, l Listener) (ListenerID, error) {
	if entityID == "" {
		return 0, ErrEmptyEntityID
	}
	if l.OnUpdate == nil {
		return 0, ErrNilListener
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return 0, ErrRegistryClosed
	}
	e, ok := r.entries[entityID]
	if !ok {
		e = &entry{id: entityID}
		r.entries[entityID] = e
	}
	r.nextID++
	lid := r.nextID
	e.listeners = append(e.listeners, registered{id: lid, listener: l})

	if e.subscribed && e.pending == 0 {
		r.mu.Unlock()
		return lid, nil
	}
	if e.waiting == nil {
		e.waiting = make(map[ListenerID]struct{})
	}
	e.waiting[lid] = struct{}{}
	e.failures = 0
	res := r.enqueueLocked(ctx, e, lid)
	r.mu.Unlock()

	err := wait(ctx, res)
	var rej *interaction.ServerRejectedError
	if errors.As(err, &rej) && !rej.Temporary() {
		return 0, err
	}
	return lid, err
}

// Remove unregisters one listener. If it was the last one, Remove waits
// until the hub acknowledges Unsubscribe. Local state is removed even if
// Unsubscribe fails.
func (r *Registry) Remove(ctx context.Context, entityID string, id ListenerID) error {
	res, err := r.Detach(ctx, entityID, id)
	if err != nil {
		return err
	}
	return wait(ctx, res)
}

// Detach unregisters one listener before returning, so no later push
// reaches it, and queues the Unsubscribe if it was the last one. The
// channel yields the result of that Unsubscribe, or nil when none was
// needed.
func (r *Registry) Detach(ctx context.Context, entityID string, id ListenerID) (<-chan error, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[entityID]
	if !ok {
		return nil, ErrListenerNotFound
	}
	i := slices.IndexFunc(e.listeners, func(reg registered) bool { return reg.id == id })
	if i < 0 {
		return nil, ErrListenerNotFound
	}
	e.listeners = slices.Delete(e.listeners, i, i+1)

	if len(e.listeners) > 0 {
		res := make(chan error, 1)
		res <- nil
		return res, nil
	}
	return r.enqueueLocked(ctx, e, 0), nil
}

// RemoveAll unregisters every listener for entityID. Removing an entity
// with no listeners is not an error.
func (r *Registry) RemoveAll(ctx context.Context, entityID string) error {
	r.mu.Lock()
	e, ok := r.entries[entityID]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	e.listeners = nil
	res := r.enqueueLocked(ctx, e, 0)
	r.mu.Unlock()

	return wait(ctx, res)
}

// SubscriberCount asks the hub how many clients watch entityID. It does not
// look at local listeners.
func (r *Registry) SubscriberCount(ctx context.Context, entityID string) (int, error) {
	if entityID == "" {
		return 0, ErrEmptyEntityID
	}
	if st := r.invoker.State(); st != connection.StateConnected {
		return 0, &interaction.NotConnectedError{Target: wire.TargetGetSubscriberCount, State: st.String()}
	}
	raw, err := r.invoker.Invoke(ctx, wire.TargetGetSubscriberCount, entityID)
	if err != nil {
		return 0, err
	}
	var n int
	if err := raw.Decode(r.invoker.Codec(), &n); err != nil {
		return 0, fmt.Errorf("decode subscriber count for %s: %w", entityID, err)
	}
	return n, nil
}

// Listeners returns the listeners for entityID in registration order.
func (r *Registry) Listeners(entityID string) []Listener {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[entityID]
	if !ok || len(e.listeners) == 0 {
		return nil
	}
	out := make([]Listener, len(e.listeners))
	for i, reg := range e.listeners {
		out[i] = reg.listener
	}
	return out
}

// RefCount returns the number of local listeners for entityID.
func (r *Registry) RefCount(entityID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[entityID]; ok {
		return len(e.listeners)
	}
	return 0
}

// IsSubscribed reports whether the hub acknowledged Subscribe for entityID
// on the current connection.
func (r *Registry) IsSubscribed(entityID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[entityID]
	return ok && e.subscribed
}

// Entities returns the IDs with at least one listener, sorted.
func (r *Registry) Entities() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.entries))
	for id, e := range r.entries {
		if len(e.listeners) > 0 {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Len returns the total number of listeners.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.entries {
		n += len(e.listeners)
	}
	return n
}

// HandleStateChange follows connection transitions. Register it with
// connection.Manager.OnStateChange.
func (r *Registry) HandleStateChange(old, new connection.State) {
	switch {
	case new == connection.StateConnected:
		r.mu.Lock()
		r.epoch++
		if r.closed {
			r.mu.Unlock()
			return
		}
		replayed := 0
		for _, e := range r.entries {
			if len(e.listeners) > 0 && !e.subscribed && e.failures < maxTransientFailures {
				r.enqueueLocked(context.Background(), e, 0)
				replayed++
			}
		}
		r.mu.Unlock()
		if replayed > 0 {
			r.logger.Info("replaying subscriptions", "entities", replayed)
		}

	case old == connection.StateConnected:
		r.mu.Lock()
		r.epoch++
		for _, e := range r.entries {
			e.subscribed = false
		}
		r.mu.Unlock()
	}
}

// Flush waits until every queued operation has finished.
func (r *Registry) Flush(ctx context.Context) error {
	r.mu.Lock()
	var tails []chan struct{}
	for _, e := range r.entries {
		if e.tail != nil {
			tails = append(tails, e.tail)
		}
	}
	r.mu.Unlock()

	for _, t := range tails {
		select {
		case <-t:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Close forgets every listener without contacting the hub and rejects
// further Adds. Used when the connection is being torn down anyway.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	for _, e := range r.entries {
		e.listeners = nil
		e.subscribed = false
	}
}

// enqueueLocked appends a reconcile operation to the entity's chain.
// r.mu must be held.
func (r *Registry) enqueueLocked(ctx context.Context, e *entry, caller ListenerID) <-chan error {
	prev := e.tail
	done := make(chan struct{})
	e.tail = done
	e.pending++

	res := make(chan error, 1)
	ctx = context.WithoutCancel(ctx)
	go func() {
		defer close(done)
		if prev != nil {
			<-prev
		}
		err := r.reconcile(ctx, e, caller)
		if caller != 0 {
			r.mu.Lock()
			delete(e.waiting, caller)
			r.mu.Unlock()
		}
		res <- err
	}()
	return res
}

// reconcile brings the server subscription for e in line with its
// listeners as they are now.
func (r *Registry) reconcile(ctx context.Context, e *entry, caller ListenerID) error {
	connected := r.invoker.State() == connection.StateConnected

	r.mu.Lock()
	epoch := r.epoch
	want := len(e.listeners) > 0 && connected
	have := e.subscribed
	rejected := e.rejected
	dropped := caller != 0 && !slices.ContainsFunc(e.listeners, func(reg registered) bool { return reg.id == caller })
	r.mu.Unlock()

	if dropped && rejected != nil {
		// An earlier operation had the entity rejected while this caller
		// was queued.
		r.finish(e)
		return rejected
	}

	var err error
	switch {
	case want && !have:
		_, err = r.invoker.Invoke(ctx, wire.TargetSubscribe, e.id)
		if err == nil {
			r.mu.Lock()
			if r.epoch == epoch {
				e.subscribed = true
			}
			e.rejected = nil
			e.failures = 0
			r.mu.Unlock()
			r.logTransition(e.id, "UNSUBSCRIBED", "SUBSCRIBED")
		} else {
			err = r.subscribeFailed(e, caller, err)
		}

	case !want && have:
		if connected {
			_, err = r.invoker.Invoke(ctx, wire.TargetUnsubscribe, e.id)
			if err != nil {
				r.logger.Warn("unsubscribe failed", "entity_id", e.id, "error", err)
			}
		}
		r.mu.Lock()
		e.subscribed = false
		r.mu.Unlock()
		r.logTransition(e.id, "SUBSCRIBED", "UNSUBSCRIBED")
	}

	r.finish(e)
	return err
}

// subscribeFailed applies the failure policy and returns the error for the
// submitting caller.
func (r *Registry) subscribeFailed(e *entry, caller ListenerID, err error) error {
	if errors.Is(err, interaction.ErrNotConnected) {
		// Lost the connection between the state check and the send; the
		// next Connected transition replays it.
		return nil
	}

	var rej *interaction.ServerRejectedError
	if !errors.As(err, &rej) || rej.Temporary() {
		r.mu.Lock()
		e.failures++
		failures := e.failures
		r.mu.Unlock()
		switch {
		case failures >= maxTransientFailures:
			r.logger.Error("subscribe failed again after reconnect, no further retries", "entity_id", e.id, "failures", failures, "error", err)
		case caller == 0:
			r.logger.Warn("resubscribe failed, retrying after next reconnect", "entity_id", e.id, "error", err)
		}
		return err
	}

	err = rej.WithEntity(e.id)

	r.mu.Lock()
	var notify []func(error)
	for _, reg := range e.listeners {
		if _, waiting := e.waiting[reg.id]; waiting || reg.id == caller {
			continue
		}
		if reg.listener.OnError != nil {
			notify = append(notify, reg.listener.OnError)
		}
	}
	e.listeners = nil
	e.rejected = err
	r.mu.Unlock()

	r.logger.Warn("hub rejected subscription, dropping entity", "entity_id", e.id, "status", rej.Status.String())
	r.logTransition(e.id, "PENDING", "REJECTED")

	for _, fn := range notify {
		r.safeCall(e.id, fn, err)
	}
	return err
}

// finish retires one operation and deletes the entry once it is idle.
func (r *Registry) finish(e *entry) {
	r.mu.Lock()
	e.pending--
	idle := e.pending == 0 && len(e.listeners) == 0 && !e.subscribed
	if idle && r.entries[e.id] == e {
		delete(r.entries, e.id)
	} else {
		idle = false
	}
	r.mu.Unlock()

	if idle && r.config.EvictOnRemove && r.config.Evictor != nil {
		r.config.Evictor.Evict(e.id)
	}
}

func (r *Registry) safeCall(entityID string, fn func(error), err error) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("listener error callback panicked", "entity_id", entityID, "panic", p)
		}
	}()
	fn(err)
}

func (r *Registry) logTransition(entityID, from, to string) {
	r.config.ProtocolLogger.Log(log.Event{
		Timestamp: time.Now(),
		Layer:     log.LayerClient,
		Category:  log.CategoryState,
		EntityID:  entityID,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntitySubscription,
			OldState: from,
			NewState: to,
		},
	})
}

func wait(ctx context.Context, res <-chan error) error {
	select {
	case err := <-res:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
