package interactive

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/opsboard/livehub-go/pkg/dispatch"
	"github.com/opsboard/livehub-go/pkg/hub"
)

// target is one hub as seen by the shell, independent of its payload type.
type target interface {
	name() string
	subscribe(ctx context.Context, id string, out io.Writer) error
	unsubscribe(ctx context.Context, id string) (int, error)
	state(ctx context.Context, id string, out io.Writer) error
	count(ctx context.Context, id string) (int, error)
	status() hub.Status
	entities() []string
	refCount(id string) int
	cached() int
	stats() dispatch.Stats
}

// binding adapts a hub.Client and keeps the shell's own subscriptions so
// they can be released by entity.
type binding[T any] struct {
	kind   string
	client *hub.Client[T]
	format func(T) string

	mu   sync.Mutex
	subs map[string][]*hub.Subscription[T]
}

func bind[T any](kind string, client *hub.Client[T], format func(T) string) *binding[T] {
	return &binding[T]{
		kind:   kind,
		client: client,
		format: format,
		subs:   make(map[string][]*hub.Subscription[T]),
	}
}

func (b *binding[T]) name() string { return b.kind }

func (b *binding[T]) subscribe(ctx context.Context, id string, out io.Writer) error {
	onUpdate := func(u hub.Update[T]) {
		fmt.Fprintf(out, "[%s] %s %s: %s\n", u.ReceivedAt.Format(time.TimeOnly), b.kind, u.EntityID, b.format(u.Value))
	}
	onError := func(err error) {
		fmt.Fprintf(out, "[%s] %s %s: dropped: %v\n", time.Now().Format(time.TimeOnly), b.kind, id, err)
		b.forget(id)
	}

	sub, err := b.client.Subscribe(ctx, id, onUpdate, hub.WithErrorHandler(onError))
	if sub != nil {
		b.mu.Lock()
		b.subs[id] = append(b.subs[id], sub)
		b.mu.Unlock()
	}
	return err
}

// unsubscribe releases every subscription the shell holds for id and
// returns how many there were.
func (b *binding[T]) unsubscribe(ctx context.Context, id string) (int, error) {
	b.mu.Lock()
	subs := b.subs[id]
	delete(b.subs, id)
	b.mu.Unlock()

	for i, sub := range subs {
		if err := sub.Unsubscribe(ctx); err != nil {
			b.mu.Lock()
			b.subs[id] = append(b.subs[id], subs[i+1:]...)
			b.mu.Unlock()
			return i, err
		}
	}
	return len(subs), nil
}

func (b *binding[T]) forget(id string) {
	b.mu.Lock()
	delete(b.subs, id)
	b.mu.Unlock()
}

// state and count connect first; the facade does not connect for queries.
func (b *binding[T]) state(ctx context.Context, id string, out io.Writer) error {
	if err := b.client.Connect(ctx); err != nil {
		return err
	}
	st, err := b.client.GetState(ctx, id)
	if err != nil {
		return err
	}
	if st == nil {
		fmt.Fprintf(out, "%s %s: no state\n", b.kind, id)
		return nil
	}
	fmt.Fprintf(out, "%s %s: %s (received %s)\n", b.kind, id, b.format(st.Value), st.ReceivedAt.Format(time.DateTime))
	return nil
}

func (b *binding[T]) count(ctx context.Context, id string) (int, error) {
	if err := b.client.Connect(ctx); err != nil {
		return 0, err
	}
	return b.client.SubscriberCount(ctx, id)
}

func (b *binding[T]) status() hub.Status { return b.client.Status() }
func (b *binding[T]) entities() []string { return b.client.Entities() }
func (b *binding[T]) refCount(id string) int { return b.client.RefCount(id) }
func (b *binding[T]) cached() int { return b.client.Cache().Len() }
func (b *binding[T]) stats() dispatch.Stats { return b.client.Stats() }
