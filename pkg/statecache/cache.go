package statecache

import (
	"sort"
	"sync"
	"time"

	"github.com/opsboard/livehub-go/pkg/wire"
)

// Entry is one cached snapshot.
type Entry struct {
	EntityID   string
	Payload    wire.Raw
	Codec      wire.Codec
	ReceivedAt time.Time
}

func (e Entry) clone() Entry {
	e.Payload = e.Payload.Clone()
	return e
}

// Cache maps entity IDs to their most recent snapshot.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// New creates an empty cache.
func New() *Cache {
	return &Cache{entries: make(map[string]Entry)}
}

// Put stores payload as the current snapshot for entityID, replacing
// whatever was there.
func (c *Cache) Put(entityID string, payload wire.Raw, codec wire.Codec, receivedAt time.Time) {
	e := Entry{EntityID: entityID, Payload: payload.Clone(), Codec: codec, ReceivedAt: receivedAt}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[entityID] = e
}

// PutIfAbsent stores payload only if entityID has no snapshot yet. It
// reports whether the payload was stored.
func (c *Cache) PutIfAbsent(entityID string, payload wire.Raw, codec wire.Codec, receivedAt time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[entityID]; ok {
		return false
	}
	c.entries[entityID] = Entry{EntityID: entityID, Payload: payload.Clone(), Codec: codec, ReceivedAt: receivedAt}
	return true
}

// Get returns a copy of the snapshot for entityID.
func (c *Cache) Get(entityID string) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[entityID]
	if !ok {
		return Entry{}, false
	}
	return e.clone(), true
}

// Evict removes the snapshot for entityID.
func (c *Cache) Evict(entityID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, entityID)
}

// Len returns the number of cached entities.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Snapshot returns copies of all entries ordered by entity ID.
func (c *Cache) Snapshot() []Entry {
	c.mu.RLock()
	out := make([]Entry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e.clone())
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].EntityID < out[j].EntityID })
	return out
}

// Restore loads entries without overwriting snapshots that are already
// present. It returns the number of entries stored.
func (c *Cache) Restore(entries []Entry) int {
	n := 0
	for _, e := range entries {
		if c.PutIfAbsent(e.EntityID, e.Payload, e.Codec, e.ReceivedAt) {
			n++
		}
	}
	return n
}
