// Package cache provides a session-scoped TTL cache with in-flight request
// collapsing, used for course and lecture lookups that back conversation
// context labels. The cache is an explicit object with a lifecycle
// (constructed at session start, cleared at logout) rather than ambient
// package state.
package cache

import (
	"context"
	"sync"
	"time"
)

// DefaultTTL is how long a lookup result is served before it is refetched.
const DefaultTTL = 30 * time.Minute

// entry is one cached value with the time it was stored.
type entry struct {
	data      any
	timestamp time.Time
}

// call tracks a fetch in progress so concurrent requests for the same key
// collapse to a single upstream call.
type call struct {
	done chan struct{}
	val  any
	err  error
}

// Cache is a goroutine-safe TTL cache keyed by string.
type Cache struct {
	mu       sync.Mutex
	entries  map[string]entry
	inflight map[string]*call
	ttl      time.Duration
	gen      uint64 // bumped on Clear so settled fetches from before the clear are not stored

	now func() time.Time // injectable for tests
}

// New creates an empty cache whose entries expire after ttl. A ttl of 0
// uses DefaultTTL.
func New(ttl time.Duration) *Cache {
	if ttl == 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		entries:  make(map[string]entry),
		inflight: make(map[string]*call),
		ttl:      ttl,
		now:      time.Now,
	}
}

// GetOrFetch returns the cached value for key if it is still fresh.
// Otherwise it runs fetch, stores a successful result, and returns it.
// Concurrent callers for the same key share one fetch; latecomers block
// until it settles or their context is cancelled. Errors are not cached.
func (c *Cache) GetOrFetch(ctx context.Context, key string, fetch func(ctx context.Context) (any, error)) (any, error) {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok && c.now().Sub(e.timestamp) < c.ttl {
		c.mu.Unlock()
		return e.data, nil
	}
	if cl, ok := c.inflight[key]; ok {
		c.mu.Unlock()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-cl.done:
			return cl.val, cl.err
		}
	}
	cl := &call{done: make(chan struct{})}
	c.inflight[key] = cl
	gen := c.gen
	c.mu.Unlock()

	cl.val, cl.err = fetch(ctx)

	c.mu.Lock()
	if c.inflight[key] == cl {
		delete(c.inflight, key)
	}
	if cl.err == nil && gen == c.gen {
		c.entries[key] = entry{data: cl.val, timestamp: c.now()}
	}
	c.mu.Unlock()
	close(cl.done)

	return cl.val, cl.err
}

// Peek returns the cached value for key without fetching. The second
// return reports whether a fresh entry existed.
func (c *Cache) Peek(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || c.now().Sub(e.timestamp) >= c.ttl {
		return nil, false
	}
	return e.data, true
}

// Len returns the number of stored entries, fresh or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Clear drops every entry. Called at logout. Fetches already in flight
// settle and are delivered to their waiters, but are not stored.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry)
	c.inflight = make(map[string]*call)
	c.gen++
}
