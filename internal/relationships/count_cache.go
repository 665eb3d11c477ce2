package relationships

import (
	"context"
	"sync"
	"time"
)

type countKey struct {
	kind   Kind
	userID string
}

type countEntry struct {
	count   int
	expires time.Time
}

// CachingCounter wraps an EdgeCounter with a TTL cache. Entries are dropped
// early when Observe sees a change involving the user.
type CachingCounter struct {
	base EdgeCounter
	ttl  time.Duration
	now  func() time.Time

	mu    sync.RWMutex
	items map[countKey]countEntry
}

// NewCachingCounter returns a counter that caches results for ttl.
func NewCachingCounter(base EdgeCounter, ttl time.Duration) *CachingCounter {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &CachingCounter{
		base:  base,
		ttl:   ttl,
		now:   time.Now,
		items: make(map[countKey]countEntry),
	}
}

// CountEdges returns a cached count when fresh, otherwise it asks the base counter.
func (c *CachingCounter) CountEdges(ctx context.Context, kind Kind, userID string) (int, error) {
	key := countKey{kind: kind, userID: userID}
	now := c.now()

	c.mu.RLock()
	entry, ok := c.items[key]
	c.mu.RUnlock()
	if ok && now.Before(entry.expires) {
		return entry.count, nil
	}

	count, err := c.base.CountEdges(ctx, kind, userID)
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	c.items[key] = countEntry{count: count, expires: now.Add(c.ttl)}
	c.mu.Unlock()

	return count, nil
}

// Invalidate drops the cached counts of the given users.
func (c *CachingCounter) Invalidate(kind Kind, userIDs ...string) {
	c.mu.Lock()
	for _, id := range userIDs {
		delete(c.items, countKey{kind: kind, userID: id})
	}
	c.mu.Unlock()
}

// Observe invalidates both participants of a change that touched an edge.
func (c *CachingCounter) Observe(change Change) {
	switch change.Transition {
	case TransitionRequestAccepted, TransitionEdgeRemoved:
		c.Invalidate(change.Kind, change.Users[0], change.Users[1])
	}
}
