package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/OrlandoBitencourt/pennant/pkg/domain"
)

type lruEntry struct {
	provider     string
	snapshot     domain.ProviderSnapshot
	lastAccessed time.Time
}

// LRUCache is a bounded in-memory FlagsCache. Loading an entry promotes it;
// saving a new provider at capacity evicts the least recently used one.
// Load also enforces the snapshot's own TTL: an expired entry is evicted
// and counted as a miss.
type LRUCache struct {
	mu       sync.Mutex
	maxSize  int
	items    map[string]*list.Element
	eviction *list.List
	now      func() time.Time

	hits      int64
	misses    int64
	evictions int64
}

// LRUOption configures an LRUCache.
type LRUOption func(*LRUCache)

// WithClock overrides time.Now for TTL checks.
func WithClock(now func() time.Time) LRUOption {
	return func(c *LRUCache) {
		if now != nil {
			c.now = now
		}
	}
}

// NewLRUCache returns a cache holding at most maxSize providers. maxSize
// below 1 is treated as 1.
func NewLRUCache(maxSize int, opts ...LRUOption) *LRUCache {
	if maxSize < 1 {
		maxSize = 1
	}
	c := &LRUCache{
		maxSize:  maxSize,
		items:    make(map[string]*list.Element),
		eviction: list.New(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *LRUCache) Save(ctx context.Context, provider string, snapshot domain.ProviderSnapshot) error {
	if err := checkContext(ctx, "save", provider); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[provider]; ok {
		entry := elem.Value.(*lruEntry)
		entry.snapshot = snapshot
		entry.lastAccessed = c.now()
		c.eviction.MoveToFront(elem)
		return nil
	}

	elem := c.eviction.PushFront(&lruEntry{
		provider:     provider,
		snapshot:     snapshot,
		lastAccessed: c.now(),
	})
	c.items[provider] = elem

	for c.eviction.Len() > c.maxSize {
		c.removeElement(c.eviction.Back())
		c.evictions++
	}
	return nil
}

func (c *LRUCache) Load(ctx context.Context, provider string) (*domain.ProviderSnapshot, error) {
	if err := checkContext(ctx, "load", provider); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[provider]
	if !ok {
		c.misses++
		return nil, nil
	}

	entry := elem.Value.(*lruEntry)
	now := c.now()
	if expired(entry.snapshot, now) {
		c.removeElement(elem)
		c.misses++
		return nil, nil
	}

	entry.lastAccessed = now
	c.eviction.MoveToFront(elem)
	c.hits++

	s := entry.snapshot
	return &s, nil
}

func (c *LRUCache) Clear(ctx context.Context, provider string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[provider]; ok {
		c.removeElement(elem)
	}
	return nil
}

func (c *LRUCache) ClearAll(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*list.Element)
	c.eviction.Init()
	return nil
}

// RemoveExpired drops every expired entry and returns how many were removed.
// It does not touch the hit and miss counters.
func (c *LRUCache) RemoveExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for elem := c.eviction.Back(); elem != nil; {
		prev := elem.Prev()
		if expired(elem.Value.(*lruEntry).snapshot, now) {
			c.removeElement(elem)
			removed++
		}
		elem = prev
	}
	return removed
}

// HitRate returns hits/(hits+misses), or 0 before any access.
func (c *LRUCache) HitRate() float64 {
	return c.Stats().HitRate()
}

func (c *LRUCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Stats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Size:      c.eviction.Len(),
	}
}

func (c *LRUCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.eviction.Len()
}

// Must be called with lock held.
func (c *LRUCache) removeElement(elem *list.Element) {
	c.eviction.Remove(elem)
	delete(c.items, elem.Value.(*lruEntry).provider)
}
