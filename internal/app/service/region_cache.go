package service

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/gowikimark/gowikimark/internal/app/service/cache"
	"github.com/gowikimark/gowikimark/internal/domain/value"
)

// regionCache is one cache region as used by the parser: a store with an
// enable flag, a TTL and hit accounting. Backend failures count as misses.
type regionCache struct {
	region  value.CacheRegion
	store   cache.Store
	ttl     time.Duration
	enabled bool
	counted bool
	logger  *zap.Logger

	hits   atomic.Int64
	misses atomic.Int64
	sets   atomic.Int64
}

func newRegionCache(region value.CacheRegion, store cache.Store, cfg value.RegionConfig, counted bool, logger *zap.Logger) *regionCache {
	return &regionCache{
		region:  region,
		store:   store,
		ttl:     cfg.TTL,
		enabled: cfg.Enabled && store != nil,
		counted: counted,
		logger:  logger,
	}
}

// Get implements handlers.ResultCache.
func (rc *regionCache) Get(ctx context.Context, key string) (string, bool) {
	if !rc.enabled {
		return "", false
	}
	v, ok, err := rc.store.Get(ctx, key)
	if err != nil {
		rc.logger.Warn("cache read failed", zap.String("region", string(rc.region)), zap.Error(err))
		ok = false
	}
	if rc.counted {
		if ok {
			rc.hits.Add(1)
		} else {
			rc.misses.Add(1)
		}
	}
	return v, ok
}

// Set implements handlers.ResultCache.
func (rc *regionCache) Set(ctx context.Context, key, val string) {
	if !rc.enabled {
		return
	}
	if err := rc.store.Set(ctx, key, val, rc.ttl); err != nil {
		rc.logger.Warn("cache write failed", zap.String("region", string(rc.region)), zap.Error(err))
		return
	}
	if rc.counted {
		rc.sets.Add(1)
	}
}

func (rc *regionCache) Clear(ctx context.Context) error {
	if rc.store == nil {
		return nil
	}
	return rc.store.Clear(ctx)
}

func (rc *regionCache) Stats() value.RegionStats {
	s := value.RegionStats{
		Enabled: rc.enabled,
		Hits:    rc.hits.Load(),
		Misses:  rc.misses.Load(),
		Sets:    rc.sets.Load(),
	}
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRatio = float64(s.Hits) / float64(total)
	}
	return s
}

func (rc *regionCache) ResetStats() {
	rc.hits.Store(0)
	rc.misses.Store(0)
	rc.sets.Store(0)
}
