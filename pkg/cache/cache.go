// Package cache stores the last snapshot seen from each provider, keyed by
// provider name.
//
// Every implementation reports a miss as (nil, nil). Backend failures are
// returned as *domain.CacheError; callers treat them as misses.
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/OrlandoBitencourt/pennant/pkg/domain"
)

// FlagsCache is the storage contract shared by every backend.
type FlagsCache interface {
	Save(ctx context.Context, provider string, snapshot domain.ProviderSnapshot) error
	Load(ctx context.Context, provider string) (*domain.ProviderSnapshot, error)
	Clear(ctx context.Context, provider string) error
	ClearAll(ctx context.Context) error
}

// Stats is a point-in-time view of cache activity.
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Size      int
}

// HitRate returns hits/(hits+misses), or 0 before any access.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

func checkContext(ctx context.Context, op, key string) error {
	if err := ctx.Err(); err != nil {
		return domain.NewCacheError(op, key, err)
	}
	return nil
}

func expired(s domain.ProviderSnapshot, now time.Time) bool {
	return s.TTLMs != nil && now.UnixMilli()-s.FetchedAtMs > *s.TTLMs
}

var errDropped = errors.New("write dropped by admission policy")
