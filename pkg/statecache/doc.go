// Package statecache holds the last snapshot pushed by a hub for each entity.
//
// Every push is a complete snapshot, so Put replaces the stored payload
// instead of merging it. Readers get copies; nothing outside the cache can
// modify a stored payload.
//
// A Store persists a cache snapshot to a file so a restarted client can show
// the last known state before the hub answers.
package statecache
