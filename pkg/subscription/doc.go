// Package subscription tracks which local listeners are interested in which
// entities and keeps the hub's server-side subscriptions in line with them.
//
// # Reference Counting
//
// Each entity has an ordered list of listeners. The hub is sent Subscribe
// when the first listener arrives and Unsubscribe when the last one leaves;
// listeners in between cost nothing on the wire.
//
// # Ordering
//
// Listener membership changes immediately when Add or Remove is called.
// The server side is reconciled afterwards by operations queued per entity
// and run strictly in submission order. Each operation compares the current
// membership with the server state at the moment it runs, so:
//
//   - N awaited adds followed by N removes send one Subscribe and one
//     Unsubscribe.
//   - A remove submitted before the preceding add has started sends nothing.
//   - A remove submitted while a Subscribe is in flight waits for it and
//     then sends Unsubscribe.
//
// Different entities never wait on each other.
//
// # Reconnection
//
// Server subscriptions do not survive the connection. Leaving Connected
// marks every entity unsubscribed; entering Connected queues one reconcile
// per entity with listeners, which re-sends Subscribe exactly once.
//
// # Errors
//
// A non-temporary rejection of Subscribe is terminal for the entity: its
// listeners are dropped and each one except the caller's is told through
// OnError. Timeouts, dropped transports and temporary rejections leave the
// listeners in place to be retried after the next reconnect.
package subscription
