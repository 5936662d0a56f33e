package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/creastat/console"
	"github.com/creastat/console/logging"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisBroker implements Broker over Redis pub/sub. The client is owned by
// the caller and is not closed by the broker.
type RedisBroker struct {
	client     *redis.Client
	bufferSize int
	logger     *logging.Logger
}

// NewRedisBroker creates a Redis-backed broker.
func NewRedisBroker(client *redis.Client, bufferSize int, logger *logging.Logger) *RedisBroker {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	return &RedisBroker{
		client:     client,
		bufferSize: bufferSize,
		logger:     logging.OrNop(logger),
	}
}

// Subscribe implements Broker. It waits for Redis to confirm the
// subscription before returning.
func (b *RedisBroker) Subscribe(ctx context.Context, sessionID string) (Subscription, error) {
	ps := b.client.Subscribe(ctx, Channel(sessionID))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("%w: subscribe %s: %v", console.ErrRemote, sessionID, err)
	}

	sub := &redisSubscription{
		sessionID: sessionID,
		pubsub:    ps,
		out:       make(chan console.Message, b.bufferSize),
		done:      make(chan struct{}),
		logger:    b.logger.With(zap.String("session_id", sessionID)),
	}
	sub.wg.Add(1)
	go sub.run()
	return sub, nil
}

// Publish implements Broker.
func (b *RedisBroker) Publish(ctx context.Context, sessionID string, msg console.Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	if err := b.client.Publish(ctx, Channel(sessionID), payload).Err(); err != nil {
		return fmt.Errorf("%w: publish %s: %v", console.ErrRemote, sessionID, err)
	}
	return nil
}

// Close implements Broker.
func (b *RedisBroker) Close() error {
	return nil
}

type redisSubscription struct {
	sessionID string
	pubsub    *redis.PubSub
	out       chan console.Message
	done      chan struct{}
	logger    *logging.Logger

	wg   sync.WaitGroup
	once sync.Once
	err  error
}

func (s *redisSubscription) SessionID() string { return s.sessionID }

func (s *redisSubscription) Messages() <-chan console.Message { return s.out }

func (s *redisSubscription) Unsubscribe() error {
	s.once.Do(func() {
		close(s.done)
		s.err = s.pubsub.Close()
		s.wg.Wait()
		close(s.out)
	})
	return s.err
}

func (s *redisSubscription) run() {
	defer s.wg.Done()
	in := s.pubsub.Channel()
	for {
		select {
		case <-s.done:
			return
		case m, ok := <-in:
			if !ok {
				return
			}
			var msg console.Message
			if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
				s.logger.Warn(context.Background(), "dropping malformed realtime payload", zap.Error(err))
				continue
			}
			select {
			case s.out <- msg:
			case <-s.done:
				return
			}
		}
	}
}

var _ Broker = (*RedisBroker)(nil)
