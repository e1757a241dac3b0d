package cache

import (
	"context"
	"sync"

	"github.com/dgraph-io/ristretto"

	"github.com/OrlandoBitencourt/pennant/pkg/domain"
)

// MemoryConfig sizes the ristretto store behind MemoryCache.
type MemoryConfig struct {
	NumCounters int64
	MaxCost     int64
	BufferItems int64
}

// DefaultMemoryConfig fits a few hundred providers.
func DefaultMemoryConfig() MemoryConfig {
	return MemoryConfig{
		NumCounters: 1e4,
		MaxCost:     1 << 20,
		BufferItems: 64,
	}
}

// MemoryCache is an unbounded-by-count FlagsCache on top of ristretto. It
// does not enforce snapshot TTLs; use LRUCache for that.
type MemoryCache struct {
	store *ristretto.Cache

	// names backs Keys; ristretto cannot enumerate.
	mu    sync.RWMutex
	names map[string]struct{}
}

// NewMemoryCache creates a new memory cache
func NewMemoryCache(cfg MemoryConfig) (*MemoryCache, error) {
	def := DefaultMemoryConfig()
	if cfg.NumCounters <= 0 {
		cfg.NumCounters = def.NumCounters
	}
	if cfg.MaxCost <= 0 {
		cfg.MaxCost = def.MaxCost
	}
	if cfg.BufferItems <= 0 {
		cfg.BufferItems = def.BufferItems
	}

	store, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: cfg.BufferItems,
	})
	if err != nil {
		return nil, domain.NewCacheError("init", "", err)
	}

	return &MemoryCache{store: store, names: make(map[string]struct{})}, nil
}

func (m *MemoryCache) Save(ctx context.Context, provider string, snapshot domain.ProviderSnapshot) error {
	if err := checkContext(ctx, "save", provider); err != nil {
		return err
	}

	if !m.store.Set(provider, snapshot, 1) {
		return domain.NewCacheError("save", provider, errDropped)
	}
	// Set is buffered; wait so an immediate Load observes the write.
	m.store.Wait()

	m.mu.Lock()
	m.names[provider] = struct{}{}
	m.mu.Unlock()
	return nil
}

func (m *MemoryCache) Load(ctx context.Context, provider string) (*domain.ProviderSnapshot, error) {
	if err := checkContext(ctx, "load", provider); err != nil {
		return nil, err
	}

	value, found := m.store.Get(provider)
	if !found {
		return nil, nil
	}
	s, ok := value.(domain.ProviderSnapshot)
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (m *MemoryCache) Clear(ctx context.Context, provider string) error {
	m.store.Del(provider)

	m.mu.Lock()
	delete(m.names, provider)
	m.mu.Unlock()
	return nil
}

func (m *MemoryCache) ClearAll(ctx context.Context) error {
	m.store.Clear()

	m.mu.Lock()
	m.names = make(map[string]struct{})
	m.mu.Unlock()
	return nil
}

// Keys lists the provider names saved and not cleared. Entries ristretto
// evicted on its own may still be listed.
func (m *MemoryCache) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.names))
	for k := range m.names {
		keys = append(keys, k)
	}
	return keys
}

// Close releases ristretto's goroutines.
func (m *MemoryCache) Close() {
	m.store.Close()
}
