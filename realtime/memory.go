package realtime

import (
	"context"
	"errors"
	"sync"

	"github.com/creastat/console"
)

// ErrClosed is returned by operations on a closed broker.
var ErrClosed = errors.New("realtime: broker closed")

// MemoryBroker implements Broker in process.
type MemoryBroker struct {
	mu         sync.RWMutex
	subs       map[string]map[*memorySubscription]struct{}
	bufferSize int
	closed     bool
}

// NewMemoryBroker creates an in-process broker.
func NewMemoryBroker(bufferSize int) *MemoryBroker {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	return &MemoryBroker{
		subs:       make(map[string]map[*memorySubscription]struct{}),
		bufferSize: bufferSize,
	}
}

// Subscribe implements Broker.
func (b *MemoryBroker) Subscribe(ctx context.Context, sessionID string) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}

	sub := &memorySubscription{
		broker:    b,
		sessionID: sessionID,
		ch:        make(chan console.Message, b.bufferSize),
		done:      make(chan struct{}),
	}
	if b.subs[sessionID] == nil {
		b.subs[sessionID] = make(map[*memorySubscription]struct{})
	}
	b.subs[sessionID][sub] = struct{}{}
	return sub, nil
}

// Publish implements Broker. It blocks while a subscriber's buffer is full.
func (b *MemoryBroker) Publish(ctx context.Context, sessionID string, msg console.Message) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrClosed
	}
	targets := make([]*memorySubscription, 0, len(b.subs[sessionID]))
	for sub := range b.subs[sessionID] {
		targets = append(targets, sub)
	}
	b.mu.RUnlock()

	for _, sub := range targets {
		if err := sub.deliver(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

// Close implements Broker. Open subscriptions are released.
func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	var all []*memorySubscription
	for _, set := range b.subs {
		for sub := range set {
			all = append(all, sub)
		}
	}
	b.subs = make(map[string]map[*memorySubscription]struct{})
	b.mu.Unlock()

	for _, sub := range all {
		sub.release()
	}
	return nil
}

func (b *MemoryBroker) remove(sub *memorySubscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if set, ok := b.subs[sub.sessionID]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(b.subs, sub.sessionID)
		}
	}
}

type memorySubscription struct {
	broker    *MemoryBroker
	sessionID string
	ch        chan console.Message
	done      chan struct{}

	// mu guards closing ch against in-flight deliveries.
	mu       sync.RWMutex
	released bool
	once     sync.Once
}

func (s *memorySubscription) SessionID() string { return s.sessionID }

func (s *memorySubscription) Messages() <-chan console.Message { return s.ch }

func (s *memorySubscription) Unsubscribe() error {
	s.broker.remove(s)
	s.release()
	return nil
}

func (s *memorySubscription) release() {
	s.once.Do(func() {
		close(s.done)
		s.mu.Lock()
		s.released = true
		close(s.ch)
		s.mu.Unlock()
	})
}

func (s *memorySubscription) deliver(ctx context.Context, msg console.Message) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.released {
		return nil
	}
	select {
	case s.ch <- msg:
		return nil
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var _ Broker = (*MemoryBroker)(nil)
