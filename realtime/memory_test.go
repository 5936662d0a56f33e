package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/creastat/console"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBroker(t *testing.T) {
	b, err := NewBroker(BrokerTypeMemory)
	require.NoError(t, err)
	assert.IsType(t, &MemoryBroker{}, b)

	_, err = NewBroker(BrokerTypeRedis)
	assert.ErrorIs(t, err, console.ErrInvalidConfig)

	_, err = NewBroker("kafka")
	assert.ErrorIs(t, err, console.ErrInvalidStoreType)
}

func TestMemoryBroker_PublishSubscribe(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBroker(4)
	defer b.Close()

	sub, err := b.Subscribe(ctx, "s1")
	require.NoError(t, err)
	other, err := b.Subscribe(ctx, "s2")
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, "s1", console.Message{ID: "m1", ConversationID: "s1"}))

	select {
	case msg := <-sub.Messages():
		assert.Equal(t, "m1", msg.ID)
	case <-time.After(time.Second):
		t.Fatal("message not delivered")
	}

	select {
	case msg := <-other.Messages():
		t.Fatalf("unexpected delivery to other session: %+v", msg)
	default:
	}
}

func TestMemoryBroker_Unsubscribe(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBroker(1)

	sub, err := b.Subscribe(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "s1", sub.SessionID())

	require.NoError(t, sub.Unsubscribe())
	require.NoError(t, sub.Unsubscribe())

	_, ok := <-sub.Messages()
	assert.False(t, ok, "channel should be closed")

	// Publishing after unsubscribe is a no-op.
	require.NoError(t, b.Publish(ctx, "s1", console.Message{ID: "m1"}))
}

func TestMemoryBroker_PublishRespectsContext(t *testing.T) {
	b := NewMemoryBroker(1)
	defer b.Close()

	_, err := b.Subscribe(context.Background(), "s1")
	require.NoError(t, err)
	require.NoError(t, b.Publish(context.Background(), "s1", console.Message{ID: "fill"}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = b.Publish(ctx, "s1", console.Message{ID: "blocked"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMemoryBroker_Close(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBroker(1)

	sub, err := b.Subscribe(ctx, "s1")
	require.NoError(t, err)
	require.NoError(t, b.Close())

	_, ok := <-sub.Messages()
	assert.False(t, ok)

	_, err = b.Subscribe(ctx, "s1")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, b.Publish(ctx, "s1", console.Message{}), ErrClosed)
}
