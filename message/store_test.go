package message

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/creastat/console"
	"github.com/creastat/console/notify"
	"github.com/creastat/console/realtime"
	"github.com/creastat/console/supabase"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gatedTable blocks InsertMessage until a result is released, so tests can
// observe the pending state.
type gatedTable struct {
	entered chan console.Message
	results chan error
}

func newGatedTable() *gatedTable {
	return &gatedTable{entered: make(chan console.Message, 1), results: make(chan error, 1)}
}

func (g *gatedTable) ListMessages(context.Context, string) ([]console.Message, error) {
	return nil, nil
}

func (g *gatedTable) InsertMessage(_ context.Context, msg console.Message) (*console.Message, error) {
	g.entered <- msg
	if err := <-g.results; err != nil {
		return nil, err
	}
	return &msg, nil
}

// renamingTable assigns server ids.
type renamingTable struct {
	*supabase.MemoryStore
	mu sync.Mutex
	n  int
}

func (r *renamingTable) InsertMessage(ctx context.Context, msg console.Message) (*console.Message, error) {
	r.mu.Lock()
	r.n++
	msg.ID = fmt.Sprintf("srv-%d", r.n)
	r.mu.Unlock()
	return r.MemoryStore.InsertMessage(ctx, msg)
}

type usageRecorder struct {
	mu     sync.Mutex
	tokens map[string]int
}

func (u *usageRecorder) RecordUsage(_ context.Context, id string, tokens int) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.tokens == nil {
		u.tokens = make(map[string]int)
	}
	u.tokens[id] += tokens
	return nil
}

func TestStore_SendOrderAndStatus(t *testing.T) {
	ctx := context.Background()
	backend := supabase.NewMemoryStore()
	s := New(backend)

	var ids []string
	for _, text := range []string{"one", "two", "three"} {
		id, err := s.Send(ctx, text, "s1", console.RoleUser)
		require.NoError(t, err)
		ids = append(ids, id)
	}

	msgs := s.Messages()
	require.Len(t, msgs, 3)
	for i, m := range msgs {
		assert.Equal(t, ids[i], m.ID)
		assert.Equal(t, console.StatusSent, m.Status)
	}
	assert.Equal(t, "one", msgs[0].Content)
	assert.Equal(t, "three", msgs[2].Content)

	stored, err := backend.ListMessages(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, stored, 3)
}

func TestStore_SendPendingThenSingleTransition(t *testing.T) {
	ctx := context.Background()
	table := newGatedTable()
	s := New(table)

	type result struct {
		id  string
		err error
	}
	done := make(chan result, 1)
	go func() {
		id, err := s.Send(ctx, "hello", "s1", console.RoleUser)
		done <- result{id, err}
	}()

	<-table.entered
	msgs := s.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, console.StatusPending, msgs[0].Status)

	table.results <- errors.New("network down")
	r := <-done
	require.Error(t, r.err)

	msgs = s.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, r.id, msgs[0].ID)
	assert.Equal(t, console.StatusFailed, msgs[0].Status)

	// Retry: pending again for the new attempt, then sent.
	go func() {
		id, err := s.Retry(ctx, r.id)
		done <- result{id, err}
	}()
	attempt := <-table.entered
	assert.NotEqual(t, r.id, attempt.ID, "retry is a fresh attempt")
	assert.Equal(t, 1, attempt.RetryCount)
	assert.Equal(t, console.StatusPending, s.Messages()[0].Status)

	table.results <- nil
	r2 := <-done
	require.NoError(t, r2.err)
	assert.Equal(t, attempt.ID, r2.id)

	msgs = s.Messages()
	require.Len(t, msgs, 1, "stale failed record removed")
	assert.Equal(t, attempt.ID, msgs[0].ID)
	assert.Equal(t, console.StatusSent, msgs[0].Status)
	assert.Equal(t, 1, msgs[0].RetryCount)
}

func TestStore_SendFailureScenario(t *testing.T) {
	ctx := context.Background()
	backend := supabase.NewMemoryStore()
	queue := notify.NewQueue(0)
	s := New(backend, WithNotifier(queue))

	backend.SetError("InsertMessage", errors.New("503"))
	id, err := s.Send(ctx, "hello", "s1", console.RoleUser)
	require.Error(t, err)
	assert.ErrorIs(t, err, console.ErrRemote)
	require.Len(t, s.Messages(), 1)
	assert.Equal(t, console.StatusFailed, s.Messages()[0].Status)
	assert.Len(t, queue.All(), 1)

	// Retry while the backend is still down keeps a single failed entry.
	_, err = s.Retry(ctx, id)
	require.Error(t, err)
	msgs := s.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, id, msgs[0].ID)
	assert.Equal(t, console.StatusFailed, msgs[0].Status)
	assert.Equal(t, 1, msgs[0].RetryCount)

	backend.SetError("InsertMessage", nil)
	newID, err := s.Retry(ctx, id)
	require.NoError(t, err)
	msgs = s.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, newID, msgs[0].ID)
	assert.Equal(t, 2, msgs[0].RetryCount)
}

func TestStore_RetryNonFailedIsNoop(t *testing.T) {
	ctx := context.Background()
	backend := supabase.NewMemoryStore()
	s := New(backend)

	id, err := s.Send(ctx, "hello", "s1", console.RoleUser)
	require.NoError(t, err)
	calls := backend.Calls("InsertMessage")
	before := s.Messages()

	got, err := s.Retry(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, got)
	assert.Equal(t, calls, backend.Calls("InsertMessage"))
	assert.Equal(t, before, s.Messages())

	_, err = s.Retry(ctx, "unknown")
	assert.ErrorIs(t, err, console.ErrNotFound)
}

func TestStore_SendValidation(t *testing.T) {
	ctx := context.Background()
	backend := supabase.NewMemoryStore()
	s := New(backend)

	tests := []struct {
		name      string
		content   string
		sessionID string
		role      console.Role
	}{
		{"empty content", "   ", "s1", console.RoleUser},
		{"missing session", "hi", "", console.RoleUser},
		{"unknown role", "hi", "s1", "robot"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Send(ctx, tt.content, tt.sessionID, tt.role)
			assert.ErrorIs(t, err, console.ErrValidation)
		})
	}
	assert.Zero(t, backend.Calls("InsertMessage"))
	assert.Empty(t, s.Messages())
}

func TestStore_ServerAssignedID(t *testing.T) {
	ctx := context.Background()
	table := &renamingTable{MemoryStore: supabase.NewMemoryStore()}
	s := New(table, WithIDGenerator(func() string { return "local" }))

	id, err := s.Send(ctx, "hello", "s1", console.RoleUser)
	require.NoError(t, err)
	assert.Equal(t, "srv-1", id)
	msgs := s.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "srv-1", msgs[0].ID)
}

func TestStore_Fetch(t *testing.T) {
	ctx := context.Background()
	backend := supabase.NewMemoryStore()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err := backend.InsertMessage(ctx, console.Message{ID: "b", ConversationID: "s1", CreatedAt: base.Add(time.Minute)})
	require.NoError(t, err)
	_, err = backend.InsertMessage(ctx, console.Message{ID: "a", ConversationID: "s1", CreatedAt: base})
	require.NoError(t, err)

	s := New(backend)
	require.NoError(t, s.Fetch(ctx, "s1"))
	msgs := s.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "a", msgs[0].ID)
	assert.Equal(t, "s1", s.SessionID())

	backend.SetError("ListMessages", errors.New("down"))
	require.Error(t, s.Fetch(ctx, "s2"))
	assert.Len(t, s.Messages(), 2, "failed fetch leaves state untouched")
	assert.False(t, s.Loading())

	s.Clear()
	assert.Empty(t, s.Messages())
	assert.Empty(t, s.SessionID())
}

func TestStore_WatchRealtime(t *testing.T) {
	ctx := context.Background()
	broker := realtime.NewMemoryBroker(8)
	defer broker.Close()
	s := New(supabase.NewMemoryStore(), WithBroker(broker))
	defer s.Close()

	require.NoError(t, s.Watch(ctx, "s1"))
	assert.Equal(t, "s1", s.Watching())

	pushed := console.Message{ID: "p1", ConversationID: "s1", Role: console.RoleAssistant, Content: "hi"}
	require.NoError(t, broker.Publish(ctx, "s1", pushed))
	require.NoError(t, broker.Publish(ctx, "s1", pushed))
	require.NoError(t, broker.Publish(ctx, "s1", console.Message{ID: "x", ConversationID: "s9"}))
	require.NoError(t, broker.Publish(ctx, "s1", console.Message{ID: "p2", ConversationID: "s1"}))

	require.Eventually(t, func() bool { return len(s.Messages()) == 2 }, time.Second, 5*time.Millisecond)
	msgs := s.Messages()
	assert.Equal(t, "p1", msgs[0].ID)
	assert.Equal(t, console.StatusDelivered, msgs[0].Status)
	assert.Equal(t, "p2", msgs[1].ID)

	// Rebinding tears down the old subscription.
	require.NoError(t, s.Watch(ctx, "s2"))
	assert.Equal(t, "s2", s.Watching())
	assert.Empty(t, s.Messages())
	require.NoError(t, broker.Publish(ctx, "s1", console.Message{ID: "late", ConversationID: "s1"}))
	require.NoError(t, broker.Publish(ctx, "s2", console.Message{ID: "q1", ConversationID: "s2"}))
	require.Eventually(t, func() bool { return len(s.Messages()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "q1", s.Messages()[0].ID)

	require.NoError(t, s.Close())
	assert.Empty(t, s.Watching())
}

func TestStore_SendPublishesToOtherClients(t *testing.T) {
	ctx := context.Background()
	broker := realtime.NewMemoryBroker(8)
	defer broker.Close()
	backend := supabase.NewMemoryStore()
	usage := &usageRecorder{}

	sender := New(backend, WithBroker(broker), WithUsageRecorder(usage))
	defer sender.Close()
	viewer := New(backend, WithBroker(broker))
	defer viewer.Close()

	require.NoError(t, sender.Watch(ctx, "s1"))
	require.NoError(t, viewer.Watch(ctx, "s1"))

	id, err := sender.Send(ctx, "hello", "s1", console.RoleUser)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(viewer.Messages()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, id, viewer.Messages()[0].ID)

	// The sender's own echo is ignored by id.
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, sender.Messages(), 1)

	usage.mu.Lock()
	assert.Equal(t, console.EstimateTokens("hello"), usage.tokens["s1"])
	usage.mu.Unlock()
}

func TestStore_Complete(t *testing.T) {
	ctx := context.Background()
	backend := supabase.NewMemoryStore()

	var got struct {
		SessionID string `json:"session_id"`
		Messages  []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	backend.HandleFunction("chat-completion", func(_ context.Context, body json.RawMessage) (any, error) {
		if err := json.Unmarshal(body, &got); err != nil {
			return nil, err
		}
		return map[string]any{"data": map[string]string{"content": "Hi there"}}, nil
	})

	s := New(backend, WithFunctions(backend), WithHistoryLimits(0, 2))
	for _, text := range []string{"first", "second", "third"} {
		_, err := s.Send(ctx, text, "s1", console.RoleUser)
		require.NoError(t, err)
	}

	id, err := s.Complete(ctx, "s1")
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	assert.Equal(t, "s1", got.SessionID)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "second", got.Messages[0].Content)

	msgs := s.Messages()
	require.Len(t, msgs, 4)
	assert.Equal(t, console.RoleAssistant, msgs[3].Role)
	assert.Equal(t, "Hi there", msgs[3].Content)
	assert.Equal(t, console.StatusSent, msgs[3].Status)
}

func TestStore_CompleteFailure(t *testing.T) {
	ctx := context.Background()
	backend := supabase.NewMemoryStore()
	backend.HandleFunction("chat-completion", func(context.Context, json.RawMessage) (any, error) {
		return map[string]any{"error": "model overloaded"}, nil
	})
	queue := notify.NewQueue(0)
	s := New(backend, WithFunctions(backend), WithNotifier(queue))

	_, err := s.Complete(ctx, "s1")
	assert.ErrorIs(t, err, console.ErrValidation)

	_, err = s.Send(ctx, "hello", "s1", console.RoleUser)
	require.NoError(t, err)
	_, err = s.Complete(ctx, "s1")
	assert.ErrorIs(t, err, console.ErrRemote)
	assert.Len(t, s.Messages(), 1)
	assert.Len(t, queue.All(), 1)

	_, err = New(backend).Complete(ctx, "s1")
	assert.ErrorIs(t, err, ErrNoCompletion)
}
