package cache

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/OrlandoBitencourt/pennant/pkg/codec"
	"github.com/OrlandoBitencourt/pennant/pkg/domain"
)

// DefaultRedisPrefix namespaces snapshot keys.
const DefaultRedisPrefix = "pennant:snapshot:"

// RedisCache shares provider snapshots between processes. Like DiskCache
// it ignores snapshot TTLs; keys never expire on the server.
type RedisCache struct {
	db            redis.UniversalClient
	prefix        string
	opts          persistOptions
	scanBatchSize int64
}

// NewRedisCache wraps client. An empty prefix selects DefaultRedisPrefix.
func NewRedisCache(client redis.UniversalClient, prefix string, opts ...Option) *RedisCache {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisCache{
		db:            client,
		prefix:        prefix,
		opts:          applyOptions(opts),
		scanBatchSize: 100,
	}
}

func (r *RedisCache) key(provider string) string {
	return r.prefix + provider
}

func (r *RedisCache) Save(ctx context.Context, provider string, snapshot domain.ProviderSnapshot) error {
	data, err := codec.Seal(r.opts.serializer, r.opts.signer, snapshot)
	if err != nil {
		return domain.NewCacheError("save", provider, err)
	}
	if err := r.db.Set(ctx, r.key(provider), data, 0).Err(); err != nil {
		return domain.NewCacheError("save", provider, err)
	}
	return nil
}

// Load returns nil for missing values (redis.Nil becomes a miss).
func (r *RedisCache) Load(ctx context.Context, provider string) (*domain.ProviderSnapshot, error) {
	data, err := r.db.Get(ctx, r.key(provider)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, domain.NewCacheError("load", provider, err)
	}

	s, err := codec.Open(r.opts.serializer, r.opts.verifier, data)
	if err != nil {
		return nil, domain.NewCacheError("load", provider, err)
	}
	return &s, nil
}

func (r *RedisCache) Clear(ctx context.Context, provider string) error {
	if err := r.db.Del(ctx, r.key(provider)).Err(); err != nil {
		return domain.NewCacheError("clear", provider, err)
	}
	return nil
}

// ClearAll deletes every key under the prefix using SCAN so the server is
// never blocked by KEYS.
func (r *RedisCache) ClearAll(ctx context.Context) error {
	var cursor uint64
	for {
		batch, next, err := r.db.Scan(ctx, cursor, r.prefix+"*", r.scanBatchSize).Result()
		if err != nil {
			return domain.NewCacheError("clear_all", r.prefix, err)
		}
		if len(batch) > 0 {
			if err := r.db.Del(ctx, batch...).Err(); err != nil {
				return domain.NewCacheError("clear_all", r.prefix, err)
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

// Ping reports whether the server is reachable.
func (r *RedisCache) Ping(ctx context.Context) error {
	if err := r.db.Ping(ctx).Err(); err != nil {
		return domain.NewCacheError("ping", "", err)
	}
	return nil
}
