// Package evidence implements the Evidence Cache: a bounded, TTL-expiring
// store of Probe Results keyed by the exact probe command string, shared
// across concurrent requests so identical probes within the TTL window are
// not re-executed.
package evidence

import (
	"container/list"
	"sync"
	"time"

	"github.com/jjgarcianorway/anna/internal/clock"
	"github.com/jjgarcianorway/anna/internal/protocol"
)

// DefaultTTL and DefaultMaxEntries mirror spec.md §6's configuration
// defaults (cache_ttl_secs=60, cache_entries_max=256).
const (
	DefaultTTL        = 60 * time.Second
	DefaultMaxEntries = 256
)

type entry struct {
	key      string
	result   protocol.ProbeResult
	storedAt time.Time
	elem     *list.Element
}

// Cache is a size-capped, TTL-expiring probe result cache with singleflight
// admission: concurrent callers asking for the same key while a fetch is in
// flight block on that one fetch rather than racing duplicate subprocesses.
//
// The locking discipline (one mutex guarding both the map and an
// insertion-ordered list for eviction) follows the teacher's bookkeeping
// style in internal/scheduler, generalized from "next runnable job" order
// to "oldest inserted" order for LRU-by-insertion-time eviction.
type Cache struct {
	mu         sync.Mutex
	clock      clock.Clock
	ttl        time.Duration
	maxEntries int
	entries    map[string]*entry
	order      *list.List // oldest-first; front = oldest
	inflight   map[string]*sync.WaitGroup
}

// New builds a Cache with the given TTL and size cap. A zero ttl or
// maxEntries falls back to the package defaults.
func New(c clock.Clock, ttl time.Duration, maxEntries int) *Cache {
	if c == nil {
		c = clock.System{}
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Cache{
		clock:      c,
		ttl:        ttl,
		maxEntries: maxEntries,
		entries:    make(map[string]*entry),
		order:      list.New(),
		inflight:   make(map[string]*sync.WaitGroup),
	}
}

// Fetch returns the cached result for key if present and not expired;
// otherwise it calls miss() exactly once per key even under concurrent
// callers and returns whatever it produces. Only a successful result
// (exit code 0) is cached; a failing result is never persisted, so a
// subsequent Fetch for the same key re-runs miss().  miss() is never
// called while the cache's lock is held.
func (c *Cache) Fetch(key string, miss func() protocol.ProbeResult) protocol.ProbeResult {
	for {
		c.mu.Lock()
		if e, ok := c.lockedGet(key); ok {
			c.mu.Unlock()
			return e.result
		}
		if wg, inFlight := c.inflight[key]; inFlight {
			c.mu.Unlock()
			wg.Wait()
			continue
		}
		wg := &sync.WaitGroup{}
		wg.Add(1)
		c.inflight[key] = wg
		c.mu.Unlock()

		result := miss()

		c.mu.Lock()
		if result.ExitCode == 0 {
			c.lockedPut(key, result)
		}
		delete(c.inflight, key)
		c.mu.Unlock()
		wg.Done()
		return result
	}
}

// lockedGet reads the cache, lazily evicting the entry if it has expired.
// Caller must hold c.mu.
func (c *Cache) lockedGet(key string) (*entry, bool) {
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.clock.Now().Sub(e.storedAt) > c.ttl {
		c.order.Remove(e.elem)
		delete(c.entries, key)
		return nil, false
	}
	return e, true
}

// lockedPut inserts or replaces an entry, evicting the oldest entries past
// the size cap. Caller must hold c.mu.
func (c *Cache) lockedPut(key string, result protocol.ProbeResult) {
	if old, ok := c.entries[key]; ok {
		c.order.Remove(old.elem)
		delete(c.entries, key)
	}
	e := &entry{key: key, result: result, storedAt: c.clock.Now()}
	e.elem = c.order.PushBack(e)
	c.entries[key] = e

	for len(c.entries) > c.maxEntries {
		oldest := c.order.Front()
		if oldest == nil {
			break
		}
		oe := oldest.Value.(*entry)
		c.order.Remove(oldest)
		delete(c.entries, oe.key)
	}
}

// Invalidate clears every cached entry. The Mutation Engine calls this on
// every COMMITTED/ROLLED_BACK transition since a mutation may have changed
// what any cached probe output would now report.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry)
	c.order = list.New()
}

// Len returns the number of live (non-expired) entries currently cached.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
