// Package cache provides the storage behind the pipeline's cache regions.
package cache

import (
	"context"
	"time"
)

// Store is a string cache with per-entry TTL. A miss is ("", false, nil).
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
}

// Backend names.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendBolt   = "bolt"
)
