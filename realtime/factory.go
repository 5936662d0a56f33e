package realtime

import (
	"fmt"

	"github.com/creastat/console"
	"github.com/creastat/console/logging"
)

// BrokerType represents the type of realtime broker.
type BrokerType string

const (
	BrokerTypeMemory BrokerType = "memory"
	BrokerTypeRedis  BrokerType = "redis"
)

const defaultBufferSize = 64

// NewBroker creates a Broker of the given type.
// For Redis, requires WithRedisClient option.
func NewBroker(brokerType BrokerType, opts ...BrokerOption) (Broker, error) {
	config := &brokerConfig{}
	for _, opt := range opts {
		opt(config)
	}
	if config.bufferSize <= 0 {
		config.bufferSize = defaultBufferSize
	}
	logger := logging.OrNop(config.logger).Named("realtime")

	switch brokerType {
	case BrokerTypeMemory:
		return NewMemoryBroker(config.bufferSize), nil

	case BrokerTypeRedis:
		if config.redisClient == nil {
			return nil, fmt.Errorf("%w: redis broker requires a client", console.ErrInvalidConfig)
		}
		return NewRedisBroker(config.redisClient, config.bufferSize, logger), nil

	default:
		return nil, fmt.Errorf("%w: %q", console.ErrInvalidStoreType, brokerType)
	}
}
