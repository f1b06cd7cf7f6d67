// Package dispatch routes hub pushes to the state cache and to the listeners
// registered for the pushed entity.
//
// A Router is installed as the connection manager's push handler. For each
// StateUpdate it extracts the entity key, replaces the cached snapshot and
// then calls every listener for that entity in registration order. Pushes
// for entities nobody listens to still update the cache.
package dispatch
