package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/creastat/console"
	"github.com/creastat/console/auth"
	"github.com/creastat/console/logging"
	"github.com/creastat/console/notify"
	"github.com/creastat/console/supabase"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

// fakeMessages records how the session store drives the message store.
type fakeMessages struct {
	mu       sync.Mutex
	fetched  []string
	watched  []string
	cleared  int
	fetchErr error
}

func (f *fakeMessages) Fetch(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetched = append(f.fetched, id)
	return f.fetchErr
}

func (f *fakeMessages) Watch(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.watched = append(f.watched, id)
	return nil
}

func (f *fakeMessages) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared++
}

type fixture struct {
	backend  *supabase.MemoryStore
	messages *fakeMessages
	queue    *notify.Queue
	logger   *logging.TestLogger
	store    *Store
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		backend:  supabase.NewMemoryStore(),
		messages: &fakeMessages{},
		queue:    notify.NewQueue(0),
		logger:   logging.NewTestLogger(),
		now:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	f.store = New(f.backend, auth.Static("u1"),
		WithMessages(f.messages),
		WithNotifier(f.queue),
		WithLogger(f.logger.Logger),
		WithClock(func() time.Time { return f.now }),
		WithRetention(30*24*time.Hour),
	)
	return f
}

func (f *fixture) seed(t *testing.T, id string, lastAccessed time.Time) {
	t.Helper()
	_, err := f.backend.InsertSession(context.Background(), console.Session{
		ID: id, UserID: "u1", Title: id, Mode: console.ModeChat, LastAccessed: lastAccessed,
	})
	require.NoError(t, err)
}

func TestStore_Create(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	id, err := f.store.Create(ctx, CreateParams{Mode: console.ModeChat})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	current, ok := f.store.Current()
	require.True(t, ok)
	assert.Equal(t, id, current.ID)
	assert.Equal(t, "New Chat", current.Title)
	assert.Equal(t, "u1", current.UserID)
	assert.Equal(t, f.now, current.LastAccessed)
	assert.Len(t, f.store.Sessions(), 1)

	_, stored := f.backend.Session(id)
	assert.True(t, stored)
	assert.Equal(t, []string{id}, f.messages.watched)
	assert.Empty(t, f.messages.fetched, "new session needs no fetch")
}

func TestStore_CreateRemoteFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.backend.SetError("InsertSession", errors.New("connection refused"))

	_, err := f.store.Create(ctx, CreateParams{Title: "Plans"})
	require.Error(t, err)
	assert.ErrorIs(t, err, console.ErrRemote)

	assert.Empty(t, f.store.Sessions())
	assert.Empty(t, f.store.CurrentID())
	require.Len(t, f.queue.All(), 1)
	assert.Equal(t, notify.LevelError, f.queue.All()[0].Level)
	f.logger.AssertLogged(t, zapcore.ErrorLevel, "create session failed")
}

func TestStore_CreateValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.store.Create(ctx, CreateParams{Mode: "karaoke"})
	assert.ErrorIs(t, err, console.ErrValidation)
	assert.Equal(t, 0, f.backend.Calls("InsertSession"))

	anon := New(f.backend, auth.Static(""))
	_, err = anon.Create(ctx, CreateParams{})
	assert.ErrorIs(t, err, console.ErrUnauthenticated)
}

func TestStore_Load(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed(t, "older", f.now.Add(-2*time.Hour))
	f.seed(t, "newer", f.now.Add(-time.Hour))

	require.NoError(t, f.store.Load(ctx))
	sessions := f.store.Sessions()
	require.Len(t, sessions, 2)
	assert.Equal(t, "newer", sessions[0].ID)
	assert.False(t, f.store.Loading())
}

func TestStore_SwitchToCurrentIsNoop(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed(t, "a", f.now.Add(-time.Hour))
	require.NoError(t, f.store.Load(ctx))

	require.NoError(t, f.store.Switch(ctx, "a"))
	require.Len(t, f.messages.fetched, 1)
	updates := f.backend.Calls("UpdateSession")

	for i := 0; i < 3; i++ {
		require.NoError(t, f.store.Switch(ctx, "a"))
	}
	assert.Len(t, f.messages.fetched, 1, "switching to the current session must not refetch")
	assert.Equal(t, updates, f.backend.Calls("UpdateSession"))
}

func TestStore_Switch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed(t, "a", f.now.Add(-time.Hour))
	f.seed(t, "b", f.now.Add(-2*time.Hour))
	require.NoError(t, f.store.Load(ctx))

	require.NoError(t, f.store.Switch(ctx, "b"))
	assert.Equal(t, "b", f.store.CurrentID())
	assert.Equal(t, []string{"b"}, f.messages.fetched)
	assert.Equal(t, []string{"b"}, f.messages.watched)

	stored, _ := f.backend.Session("b")
	assert.True(t, stored.LastAccessed.Equal(f.now))

	err := f.store.Switch(ctx, "missing")
	assert.ErrorIs(t, err, console.ErrNotFound)
	assert.Equal(t, "b", f.store.CurrentID())
}

func TestStore_SwitchLastAccessedBestEffort(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed(t, "a", f.now.Add(-time.Hour))
	require.NoError(t, f.store.Load(ctx))
	f.backend.SetError("UpdateSession", errors.New("timeout"))

	require.NoError(t, f.store.Switch(ctx, "a"))
	assert.Equal(t, "a", f.store.CurrentID())
	assert.Empty(t, f.queue.All(), "last-accessed failure is not surfaced")
	f.logger.AssertLogged(t, zapcore.WarnLevel, "failed to update last accessed")
}

func TestStore_SwitchFetchFailureKeepsCurrent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed(t, "a", f.now.Add(-time.Hour))
	f.seed(t, "b", f.now.Add(-2*time.Hour))
	require.NoError(t, f.store.Load(ctx))
	require.NoError(t, f.store.Switch(ctx, "a"))

	f.messages.fetchErr = errors.New("fetch failed")
	err := f.store.Switch(ctx, "b")
	require.Error(t, err)
	assert.Equal(t, "a", f.store.CurrentID())
	assert.False(t, f.store.Loading())
	assert.Empty(t, f.queue.All(), "fetch failures are reported by the message store")
}

func TestStore_Delete(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	id, err := f.store.Create(ctx, CreateParams{})
	require.NoError(t, err)
	cleared := f.messages.cleared

	require.NoError(t, f.store.Delete(ctx, id))
	assert.Empty(t, f.store.Sessions())
	assert.Empty(t, f.store.CurrentID())
	assert.Equal(t, cleared+1, f.messages.cleared)

	f.seed(t, "x", f.now)
	require.NoError(t, f.store.Load(ctx))
	f.backend.SetError("DeleteSession", errors.New("denied"))
	require.Error(t, f.store.Delete(ctx, "x"))
	assert.Len(t, f.store.Sessions(), 1)
}

func TestStore_CleanupInactiveKeepsCurrent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	// The current session is created in the past and never touched again.
	f.now = f.now.Add(-60 * 24 * time.Hour)
	currentID, err := f.store.Create(ctx, CreateParams{Title: "stale but current"})
	require.NoError(t, err)
	f.now = f.now.Add(60 * 24 * time.Hour)

	f.seed(t, "stale-1", f.now.Add(-45*24*time.Hour))
	f.seed(t, "stale-2", f.now.Add(-31*24*time.Hour))
	f.seed(t, "fresh", f.now.Add(-29*24*time.Hour))
	require.NoError(t, f.store.Load(ctx))
	require.Equal(t, currentID, f.store.CurrentID())

	n, err := f.store.CleanupInactive(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	var ids []string
	for _, s := range f.store.Sessions() {
		ids = append(ids, s.ID)
	}
	assert.ElementsMatch(t, []string{currentID, "fresh"}, ids)
	_, ok := f.backend.Session(currentID)
	assert.True(t, ok)

	n, err = f.store.CleanupInactive(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestStore_CleanupInactivePartialFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed(t, "stale", f.now.Add(-40*24*time.Hour))
	require.NoError(t, f.store.Load(ctx))
	f.backend.SetError("DeleteSession", errors.New("rls denied"))

	n, err := f.store.CleanupInactive(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, console.ErrRemote)
	assert.Zero(t, n)
	assert.Len(t, f.store.Sessions(), 1, "failed deletes stay local")
}

func TestStore_Clear(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed(t, "a", f.now)
	f.seed(t, "b", f.now)
	require.NoError(t, f.store.Load(ctx))
	require.NoError(t, f.store.Switch(ctx, "a"))

	require.NoError(t, f.store.Clear(ctx, true))
	sessions := f.store.Sessions()
	require.Len(t, sessions, 1)
	assert.Equal(t, "a", sessions[0].ID)

	require.NoError(t, f.store.Clear(ctx, false))
	assert.Empty(t, f.store.Sessions())
	assert.Empty(t, f.store.CurrentID())
}

func TestStore_RenameArchiveUsage(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id, err := f.store.Create(ctx, CreateParams{})
	require.NoError(t, err)

	require.NoError(t, f.store.Rename(ctx, id, "  Roadmap  "))
	assert.ErrorIs(t, f.store.Rename(ctx, id, " "), console.ErrValidation)
	require.NoError(t, f.store.Archive(ctx, id, true))
	require.NoError(t, f.store.RecordUsage(ctx, id, 12))
	require.NoError(t, f.store.RecordUsage(ctx, id, 3))

	current, _ := f.store.Current()
	assert.Equal(t, "Roadmap", current.Title)
	assert.True(t, current.Archived)
	assert.Equal(t, 15, current.TokensUsed)
	assert.Equal(t, 2, current.MessageCount)

	stored, _ := f.backend.Session(id)
	assert.Equal(t, 15, stored.TokensUsed)

	assert.ErrorIs(t, f.store.RecordUsage(ctx, "nope", 1), console.ErrNotFound)
}

func TestStore_Reset(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.store.Create(ctx, CreateParams{})
	require.NoError(t, err)

	f.store.Reset()
	assert.Empty(t, f.store.Sessions())
	_, ok := f.store.Current()
	assert.False(t, ok)
}
