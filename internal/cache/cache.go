package cache

import (
	"sort"
	"time"

	"github.com/matheus3301/wacrm/internal/store"
)

const (
	DefaultTTL      = 30 * time.Second
	DefaultCapacity = 10
)

// Entry is the cached message thread of one conversation.
type Entry struct {
	ConversationID string
	Thread         *store.Thread
	FetchedAt      time.Time
	// Loaded is false until the first successful fetch. Entries created by
	// push or send producers start unloaded.
	Loaded bool

	putSeq uint64
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithTTL sets the staleness window.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithCapacity sets the maximum number of entries kept.
func WithCapacity(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.capacity = n
		}
	}
}

// Cache keeps message threads keyed by conversation identity, bounded in age
// (staleness only) and count (eviction). It is not safe for concurrent use.
type Cache struct {
	entries  map[string]*Entry
	selected string
	ttl      time.Duration
	capacity int
	now      func() time.Time
	seq      uint64
}

// New creates an empty cache.
func New(opts ...Option) *Cache {
	c := &Cache{
		entries:  make(map[string]*Entry),
		ttl:      DefaultTTL,
		capacity: DefaultCapacity,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the entry for id, if cached.
func (c *Cache) Get(id string) (*Entry, bool) {
	e, ok := c.entries[id]
	return e, ok
}

// Ensure returns the entry for id, creating an unloaded one if needed.
func (c *Cache) Ensure(id string) *Entry {
	if e, ok := c.entries[id]; ok {
		return e
	}
	c.seq++
	e := &Entry{ConversationID: id, Thread: store.NewThread(id), putSeq: c.seq}
	c.entries[id] = e
	c.evict(id)
	return e
}

// Put merges fetched messages into the entry for id and stamps it fresh.
// Optimistic entries already in the thread survive the merge.
func (c *Cache) Put(id string, msgs []store.Message) *Entry {
	e, ok := c.entries[id]
	if !ok {
		e = &Entry{ConversationID: id, Thread: store.NewThread(id)}
		c.entries[id] = e
	}
	for _, m := range msgs {
		e.Thread.InsertOrMerge(m)
	}
	c.seq++
	e.putSeq = c.seq
	e.FetchedAt = c.now()
	e.Loaded = true
	c.evict(id)
	return e
}

// IsStale reports whether the entry needs a refresh.
func (c *Cache) IsStale(e *Entry) bool {
	if e == nil || e.FetchedAt.IsZero() {
		return true
	}
	return c.now().Sub(e.FetchedAt) > c.ttl
}

// Invalidate marks the entry stale without dropping its content.
func (c *Cache) Invalidate(id string) {
	if e, ok := c.entries[id]; ok {
		e.FetchedAt = time.Time{}
	}
}

// SetSelected records the conversation whose entry must never be evicted.
// An empty id clears the selection.
func (c *Cache) SetSelected(id string) {
	c.selected = id
}

// TouchEviction drops the least recently stored entries until the cache is
// within capacity. The selected conversation is skipped.
func (c *Cache) TouchEviction() []string {
	return c.evict("")
}

// evict is TouchEviction that also spares keep, the entry just stored. The
// cache may stay over capacity when only spared entries remain.
func (c *Cache) evict(keep string) []string {
	var evicted []string
	for len(c.entries) > c.capacity {
		var victim *Entry
		for id, e := range c.entries {
			if id == c.selected || id == keep {
				continue
			}
			if victim == nil || e.putSeq < victim.putSeq {
				victim = e
			}
		}
		if victim == nil {
			break
		}
		delete(c.entries, victim.ConversationID)
		evicted = append(evicted, victim.ConversationID)
	}
	return evicted
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	return len(c.entries)
}

// Keys returns the cached conversation ids, sorted.
func (c *Cache) Keys() []string {
	keys := make([]string, 0, len(c.entries))
	for id := range c.entries {
		keys = append(keys, id)
	}
	sort.Strings(keys)
	return keys
}
