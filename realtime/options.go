package realtime

import (
	"github.com/creastat/console/logging"
	"github.com/redis/go-redis/v9"
)

// BrokerOption is a functional option for configuring a broker.
type BrokerOption func(*brokerConfig)

// brokerConfig holds configuration for brokers.
type brokerConfig struct {
	redisClient *redis.Client
	bufferSize  int
	logger      *logging.Logger
}

// WithRedisClient sets the Redis client for the Redis broker.
func WithRedisClient(client *redis.Client) BrokerOption {
	return func(c *brokerConfig) {
		c.redisClient = client
	}
}

// WithBufferSize sets the per-subscription delivery buffer.
func WithBufferSize(n int) BrokerOption {
	return func(c *brokerConfig) {
		c.bufferSize = n
	}
}

// WithLogger sets the broker logger.
func WithLogger(l *logging.Logger) BrokerOption {
	return func(c *brokerConfig) {
		c.logger = l
	}
}
