// Package matchcache keeps each viewer's ranked candidate queue in memory.
//
// An entry holds the ranked list, a cursor separating consumed candidates
// from unconsumed ones, the time of the last fetch and a prefetch flag.
// Entries are independent; each has its own lock so a viewer's requests are
// serialized without blocking other viewers.
package matchcache

import (
	"sync"
	"time"

	"github.com/oggyb/studymatch/internal/ranking"
	"github.com/oggyb/studymatch/internal/telemetry"
)

const (
	DefaultTTL       = 30 * time.Minute
	DefaultThreshold = 5
	DefaultBatchSize = 30
)

// CachedMatch is a ranked candidate. It is never modified after Set.
type CachedMatch struct {
	UserID    uint64
	Score     int
	Reasoning string
	Profile   *ranking.Profile
}

type Options struct {
	// TTL bounds the age of an entry, measured from its last Set.
	TTL time.Duration
	// Threshold is the remaining count at or below which a refill is signaled.
	Threshold int
	// BatchSize is how many candidates a fetch or refill should provide.
	BatchSize int
	Now       func() time.Time
}

type entry struct {
	mu        sync.Mutex
	matches   []CachedMatch
	cursor    int
	lastFetch time.Time
	prefetch  bool
	// dead is set once the entry left the map; holders must look it up again.
	dead bool
}

func (e *entry) remaining() int { return len(e.matches) - e.cursor }

// signal arms the prefetch flag when the low water mark is reached. It
// reports true only for the call that armed it.
func (e *entry) signal(threshold int) bool {
	if e.prefetch || e.remaining() > threshold {
		return false
	}
	e.prefetch = true
	return true
}

// Cache is a keyed store of per-viewer match queues. The zero value is not
// usable; call New.
type Cache struct {
	mu      sync.RWMutex
	entries map[uint64]*entry

	ttl       time.Duration
	threshold int
	batchSize int
	now       func() time.Time
}

func New(opts Options) *Cache {
	c := &Cache{
		entries:   make(map[uint64]*entry),
		ttl:       opts.TTL,
		threshold: opts.Threshold,
		batchSize: opts.BatchSize,
		now:       opts.Now,
	}
	if c.ttl <= 0 {
		c.ttl = DefaultTTL
	}
	if c.threshold <= 0 {
		c.threshold = DefaultThreshold
	}
	if c.batchSize <= 0 {
		c.batchSize = DefaultBatchSize
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

func (c *Cache) BatchSize() int { return c.batchSize }
func (c *Cache) Threshold() int { return c.threshold }

func (c *Cache) expired(e *entry, now time.Time) bool {
	return now.Sub(e.lastFetch) > c.ttl
}

// acquire returns the viewer's live entry, locked, or nil. Expired entries
// are evicted on the way.
func (c *Cache) acquire(userID uint64) *entry {
	for {
		c.mu.RLock()
		e := c.entries[userID]
		c.mu.RUnlock()
		if e == nil {
			return nil
		}

		e.mu.Lock()
		if e.dead {
			e.mu.Unlock()
			continue
		}
		if c.expired(e, c.now()) {
			e.mu.Unlock()
			c.evict(userID, e)
			telemetry.MatchCacheLookups.WithLabelValues("expired").Inc()
			return nil
		}
		return e
	}
}

func (c *Cache) evict(userID uint64, e *entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entries[userID] != e {
		return
	}
	e.mu.Lock()
	if c.expired(e, c.now()) {
		e.dead = true
		delete(c.entries, userID)
		telemetry.MatchCacheEvictions.Inc()
		telemetry.MatchCacheEntries.Set(float64(len(c.entries)))
	}
	e.mu.Unlock()
}

// Get returns a copy of the unconsumed candidates, or nil when the viewer has
// no live entry.
func (c *Cache) Get(userID uint64) []CachedMatch {
	e := c.acquire(userID)
	if e == nil {
		telemetry.MatchCacheLookups.WithLabelValues("miss").Inc()
		return nil
	}
	defer e.mu.Unlock()

	telemetry.MatchCacheLookups.WithLabelValues("hit").Inc()
	out := make([]CachedMatch, e.remaining())
	copy(out, e.matches[e.cursor:])
	return out
}

// Set stores matches for the viewer. With appendMode and a live entry the
// matches are added after the existing ones and the prefetch flag is cleared;
// cursor and consumed entries are left alone. Otherwise the entry is replaced
// with cursor 0. Both paths stamp the fetch time.
//
// An empty append keeps the prefetch flag armed, so an exhausted candidate
// pool does not trigger a refill on every pop.
func (c *Cache) Set(userID uint64, matches []CachedMatch, appendMode bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if old := c.entries[userID]; old != nil {
		old.mu.Lock()
		if appendMode && !c.expired(old, now) {
			old.matches = append(old.matches, matches...)
			if len(matches) > 0 {
				old.prefetch = false
			}
			old.lastFetch = now
			old.mu.Unlock()
			return
		}
		old.dead = true
		old.mu.Unlock()
	}

	c.entries[userID] = &entry{
		matches:   append([]CachedMatch(nil), matches...),
		lastFetch: now,
	}
	telemetry.MatchCacheEntries.Set(float64(len(c.entries)))
}

// Pop consumes the candidate at the cursor. prefetch is true when this pop
// brought the remaining count to the threshold or below and no refill has
// been signaled since the last append.
// The check is "at or below" rather than "equal" so an append that leaves
// the queue already under the threshold still signals on the next pop.
func (c *Cache) Pop(userID uint64) (m CachedMatch, ok bool, prefetch bool) {
	e := c.acquire(userID)
	if e == nil {
		return CachedMatch{}, false, false
	}
	defer e.mu.Unlock()

	if e.cursor >= len(e.matches) {
		return CachedMatch{}, false, false
	}
	m = e.matches[e.cursor]
	e.cursor++
	return m, true, e.signal(c.threshold)
}

// PopFor consumes a specific unconsumed candidate. The candidate is moved to
// the cursor position before it is consumed, so the ranked order of the rest
// is preserved. ok is false if targetID is not waiting in the queue.
func (c *Cache) PopFor(userID, targetID uint64) (ok bool, prefetch bool) {
	e := c.acquire(userID)
	if e == nil {
		return false, false
	}
	defer e.mu.Unlock()

	idx := -1
	for i := e.cursor; i < len(e.matches); i++ {
		if e.matches[i].UserID == targetID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false, false
	}

	target := e.matches[idx]
	copy(e.matches[e.cursor+1:idx+1], e.matches[e.cursor:idx])
	e.matches[e.cursor] = target
	e.cursor++
	return true, e.signal(c.threshold)
}

// MarkPrefetch arms the prefetch flag from the read path. It reports true if
// the entry is at or below the threshold and had not been signaled yet.
func (c *Cache) MarkPrefetch(userID uint64) bool {
	e := c.acquire(userID)
	if e == nil {
		return false
	}
	defer e.mu.Unlock()
	return e.signal(c.threshold)
}

// ResetPrefetch re-arms the low water mark after a refill failed.
func (c *Cache) ResetPrefetch(userID uint64) {
	if e := c.acquire(userID); e != nil {
		e.prefetch = false
		e.mu.Unlock()
	}
}

func (c *Cache) RemainingCount(userID uint64) int {
	e := c.acquire(userID)
	if e == nil {
		return 0
	}
	defer e.mu.Unlock()
	return e.remaining()
}

// ProcessedUserIDs lists the consumed candidates, oldest first.
func (c *Cache) ProcessedUserIDs(userID uint64) []uint64 {
	e := c.acquire(userID)
	if e == nil {
		return nil
	}
	defer e.mu.Unlock()
	return ids(e.matches[:e.cursor])
}

// CachedUserIDs lists the candidates still waiting to be served.
func (c *Cache) CachedUserIDs(userID uint64) []uint64 {
	e := c.acquire(userID)
	if e == nil {
		return nil
	}
	defer e.mu.Unlock()
	return ids(e.matches[e.cursor:])
}

func (c *Cache) Clear(userID uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e := c.entries[userID]; e != nil {
		e.mu.Lock()
		e.dead = true
		e.mu.Unlock()
		delete(c.entries, userID)
		telemetry.MatchCacheEntries.Set(float64(len(c.entries)))
	}
}

// Sweep evicts every expired entry and returns how many were removed.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for id, e := range c.entries {
		e.mu.Lock()
		if c.expired(e, now) {
			e.dead = true
			delete(c.entries, id)
			removed++
		}
		e.mu.Unlock()
	}
	if removed > 0 {
		telemetry.MatchCacheEvictions.Add(float64(removed))
	}
	telemetry.MatchCacheEntries.Set(float64(len(c.entries)))
	return removed
}

// Len is the number of entries, expired or not.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func ids(ms []CachedMatch) []uint64 {
	out := make([]uint64, len(ms))
	for i, m := range ms {
		out[i] = m.UserID
	}
	return out
}
