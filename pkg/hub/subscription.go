package hub

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/opsboard/livehub-go/pkg/subscription"
)

// Subscription is one listener registration.
type Subscription[T any] struct {
	client   *Client[T]
	entityID string
	id       subscription.ListenerID
	done     atomic.Bool
}

// EntityID returns the subscribed entity.
func (s *Subscription[T]) EntityID() string { return s.entityID }

// Unsubscribe removes the listener. If it was the last one for the entity,
// it waits for the hub to acknowledge Unsubscribe. Calling it again, or
// after the listener was dropped by a rejection, is a no-op.
func (s *Subscription[T]) Unsubscribe(ctx context.Context) error {
	if s.done.Swap(true) {
		return nil
	}
	err := s.client.registry.Remove(ctx, s.entityID, s.id)
	if errors.Is(err, subscription.ErrListenerNotFound) {
		return nil
	}
	return err
}
