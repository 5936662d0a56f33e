package prefs

import (
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// StoreOption is a functional option for configuring a preference store.
type StoreOption func(*storeConfig)

// storeConfig holds configuration for preference stores.
type storeConfig struct {
	redisClient *redis.Client
	redisTTL    time.Duration
	sqlitePath  string
	db          *gorm.DB
}

// WithRedisClient sets the Redis client for the Redis store.
func WithRedisClient(client *redis.Client) StoreOption {
	return func(c *storeConfig) {
		c.redisClient = client
	}
}

// WithRedisTTL sets the TTL for Redis keys.
func WithRedisTTL(ttl time.Duration) StoreOption {
	return func(c *storeConfig) {
		c.redisTTL = ttl
	}
}

// WithSQLitePath sets the database file for the SQLite store.
func WithSQLitePath(path string) StoreOption {
	return func(c *storeConfig) {
		c.sqlitePath = path
	}
}

// WithGormDB uses an already opened database for the SQLite store.
func WithGormDB(db *gorm.DB) StoreOption {
	return func(c *storeConfig) {
		c.db = db
	}
}
