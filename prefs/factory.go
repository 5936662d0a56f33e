package prefs

import (
	"fmt"
	"time"

	"github.com/creastat/console"
)

// StoreType represents the type of preference store.
type StoreType string

const (
	StoreTypeMemory StoreType = "memory"
	StoreTypeRedis  StoreType = "redis"
	StoreTypeSQLite StoreType = "sqlite"
)

// Default TTL for Redis preference keys.
const defaultTTL = 30 * 24 * time.Hour

// NewStore creates a new Store based on the given type.
// For Redis, requires WithRedisClient. For SQLite, requires WithSQLitePath
// or WithGormDB.
func NewStore(storeType StoreType, opts ...StoreOption) (Store, error) {
	config := &storeConfig{}

	// Apply options
	for _, opt := range opts {
		opt(config)
	}

	switch storeType {
	case StoreTypeMemory:
		return NewMemoryStore(), nil

	case StoreTypeRedis:
		if config.redisClient == nil {
			return nil, fmt.Errorf("%w: redis store requires a client", console.ErrInvalidConfig)
		}
		return NewRedisStore(config.redisClient, config.redisTTL), nil

	case StoreTypeSQLite:
		if config.db != nil {
			return NewSQLiteStoreFromDB(config.db)
		}
		if config.sqlitePath == "" {
			return nil, fmt.Errorf("%w: sqlite store requires a path", console.ErrInvalidConfig)
		}
		return OpenSQLiteStore(config.sqlitePath)

	default:
		return nil, fmt.Errorf("%w: %q", console.ErrInvalidStoreType, storeType)
	}
}
