package cache

import (
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/gowikimark/gowikimark/internal/domain/value"
	"github.com/gowikimark/gowikimark/internal/shared/utils"
)

// Manager opens the configured backend and hands out one Store per region.
type Manager struct {
	backend string
	stores  map[value.CacheRegion]Store

	redisClient *redis.Client
	boltDB      *bolt.DB
	logger      *zap.Logger
}

// NewManager opens the backend named in cfg. Unknown backends are an error.
func NewManager(cfg value.CacheConfig, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		backend: cfg.Backend,
		stores:  make(map[value.CacheRegion]Store),
		logger:  logger,
	}

	switch cfg.Backend {
	case "", BackendMemory:
		m.backend = BackendMemory
		for _, region := range value.AllCacheRegions() {
			m.stores[region] = NewMemoryStore(cfg.Regions[region].MaxSize)
		}

	case BackendRedis:
		m.redisClient = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, DB: cfg.Redis.DB})
		for _, region := range value.AllCacheRegions() {
			m.stores[region] = NewRedisStore(m.redisClient, cfg.Redis.Prefix+":"+string(region))
		}

	case BackendBolt:
		path := cfg.Bolt.Path
		if path == "" {
			var err error
			if path, err = utils.CacheFile("gowikimark", "cache.db"); err != nil {
				return nil, fmt.Errorf("failed to resolve bolt cache path: %w", err)
			}
		}
		db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
		if err != nil {
			return nil, fmt.Errorf("failed to open bolt cache %s: %w", path, err)
		}
		m.boltDB = db
		for _, region := range value.AllCacheRegions() {
			store, err := NewBoltStore(db, string(region))
			if err != nil {
				_ = db.Close()
				return nil, err
			}
			m.stores[region] = store
		}

	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}

	logger.Debug("cache backend ready", zap.String("backend", m.backend))
	return m, nil
}

// Backend is the name of the opened backend.
func (m *Manager) Backend() string { return m.backend }

// Region returns the store for r.
func (m *Manager) Region(r value.CacheRegion) Store {
	return m.stores[r]
}

// Close releases the backend connection.
func (m *Manager) Close() error {
	if m.redisClient != nil {
		return m.redisClient.Close()
	}
	if m.boltDB != nil {
		return m.boltDB.Close()
	}
	return nil
}
