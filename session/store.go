// Package session owns the chat session list and the current-session pointer.
//
// The Store is the single session owner. The message store is bound to it
// through MessageBinder and follows whatever session is current.
package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/creastat/console"
	"github.com/creastat/console/auth"
	"github.com/creastat/console/logging"
	"github.com/creastat/console/notify"
	"github.com/creastat/console/supabase"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultTitle              = "New Chat"
	defaultRetention          = 30 * 24 * time.Hour
	defaultCleanupConcurrency = 4
)

// MessageBinder is the part of the message store driven by session changes.
type MessageBinder interface {
	// Fetch replaces the message list with the session's messages.
	Fetch(ctx context.Context, sessionID string) error
	// Watch binds the realtime subscription to the session.
	Watch(ctx context.Context, sessionID string) error
	// Clear drops messages and releases the subscription.
	Clear()
}

// CreateParams describes a new session.
type CreateParams struct {
	Title      string
	Mode       console.Mode
	ProviderID *string
	Metadata   map[string]any
}

// Store holds the user's sessions.
type Store struct {
	table       supabase.SessionTable
	identity    auth.Source
	messages    MessageBinder
	notifier    notify.Notifier
	logger      *logging.Logger
	now         func() time.Time
	retention   time.Duration
	concurrency int

	mu       sync.RWMutex
	sessions []console.Session
	current  string
	loading  bool
}

// Option configures a Store.
type Option func(*Store)

// WithMessages binds the message store that follows the current session.
func WithMessages(m MessageBinder) Option {
	return func(s *Store) { s.messages = m }
}

// WithNotifier sets where user-facing failures are reported.
func WithNotifier(n notify.Notifier) Option {
	return func(s *Store) { s.notifier = n }
}

// WithLogger sets the store logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithRetention sets how long an untouched session survives CleanupInactive.
func WithRetention(d time.Duration) Option {
	return func(s *Store) { s.retention = d }
}

// WithCleanupConcurrency bounds parallel deletes.
func WithCleanupConcurrency(n int) Option {
	return func(s *Store) { s.concurrency = n }
}

// New creates a session store.
func New(table supabase.SessionTable, identity auth.Source, opts ...Option) *Store {
	s := &Store{
		table:       table,
		identity:    identity,
		notifier:    notify.Nop{},
		now:         time.Now,
		retention:   defaultRetention,
		concurrency: defaultCleanupConcurrency,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.OrNop(s.logger).Named("session")
	if s.retention <= 0 {
		s.retention = defaultRetention
	}
	if s.concurrency <= 0 {
		s.concurrency = defaultCleanupConcurrency
	}
	return s
}

// Load fetches the user's sessions, most recently accessed first.
func (s *Store) Load(ctx context.Context) error {
	userID, err := s.identity.UserID()
	if err != nil {
		return err
	}

	s.setLoading(true)
	sessions, err := s.table.ListSessions(ctx, userID)
	s.setLoading(false)
	if err != nil {
		return s.fail(ctx, "Could not load sessions", "load sessions", err)
	}
	sortByAccess(sessions)

	s.mu.Lock()
	s.sessions = sessions
	if s.indexLocked(s.current) < 0 {
		s.current = ""
	}
	s.mu.Unlock()

	s.logger.Debug(ctx, "sessions loaded", zap.Int("count", len(sessions)))
	return nil
}

// Create persists a new session and makes it current. On failure nothing
// changes locally.
func (s *Store) Create(ctx context.Context, params CreateParams) (string, error) {
	if params.Mode == "" {
		params.Mode = console.ModeChat
	}
	if !params.Mode.Valid() {
		return "", fmt.Errorf("%w: unknown mode %q", console.ErrValidation, params.Mode)
	}
	userID, err := s.identity.UserID()
	if err != nil {
		return "", err
	}

	title := strings.TrimSpace(params.Title)
	if title == "" {
		title = defaultTitle
	}
	now := s.now().UTC()
	sess := console.Session{
		ID:           uuid.NewString(),
		Title:        title,
		UserID:       userID,
		Mode:         params.Mode,
		ProviderID:   params.ProviderID,
		CreatedAt:    now,
		LastAccessed: now,
		Metadata:     params.Metadata,
	}

	stored, err := s.table.InsertSession(ctx, sess)
	if err != nil {
		return "", s.fail(ctx, "Could not create session", "create session", err)
	}

	s.mu.Lock()
	s.sessions = append([]console.Session{*stored}, s.sessions...)
	s.current = stored.ID
	s.mu.Unlock()

	if s.messages != nil {
		s.messages.Clear()
		s.watch(ctx, stored.ID)
	}

	s.logger.Info(ctx, "session created", zap.String("session_id", stored.ID), zap.String("mode", string(stored.Mode)))
	return stored.ID, nil
}

// Switch makes id the current session. Switching to the current session is
// a no-op and does not refetch messages.
func (s *Store) Switch(ctx context.Context, id string) error {
	s.mu.Lock()
	if id == s.current {
		s.mu.Unlock()
		return nil
	}
	if s.indexLocked(id) < 0 {
		s.mu.Unlock()
		return fmt.Errorf("session %s: %w", id, console.ErrNotFound)
	}
	s.loading = true
	s.mu.Unlock()

	if s.messages != nil {
		// The message store reports fetch failures to the user itself.
		if err := s.messages.Fetch(ctx, id); err != nil {
			s.setLoading(false)
			s.logger.Warn(ctx, "switch session failed", zap.String("session_id", id), zap.Error(err))
			return fmt.Errorf("switch session: %w", err)
		}
	}

	now := s.now().UTC()
	s.mu.Lock()
	s.current = id
	s.loading = false
	if i := s.indexLocked(id); i >= 0 {
		s.sessions[i].LastAccessed = now
	}
	s.mu.Unlock()

	if err := s.table.UpdateSession(ctx, id, supabase.SessionUpdate{LastAccessed: &now}); err != nil {
		s.logger.Warn(ctx, "failed to update last accessed", zap.String("session_id", id), zap.Error(err))
	}
	s.watch(ctx, id)
	return nil
}

// Delete removes a session. Deleting the current session unbinds messages.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.table.DeleteSession(ctx, id); err != nil {
		return s.fail(ctx, "Could not delete session", "delete session", err)
	}
	s.removeLocal(id)
	s.logger.Info(ctx, "session deleted", zap.String("session_id", id))
	return nil
}

// Clear deletes every session, keeping the current one when preserveCurrent
// is set. Sessions whose delete failed are kept locally.
func (s *Store) Clear(ctx context.Context, preserveCurrent bool) error {
	s.mu.RLock()
	var ids []string
	for _, sess := range s.sessions {
		if preserveCurrent && sess.ID == s.current {
			continue
		}
		ids = append(ids, sess.ID)
	}
	s.mu.RUnlock()

	deleted, err := s.deleteAll(ctx, ids)
	s.removeLocal(deleted...)
	if err != nil {
		return s.fail(ctx, "Some sessions could not be deleted", "clear sessions", err)
	}
	return nil
}

// CleanupInactive deletes sessions not accessed within the retention window
// and returns how many were removed. The current session is never deleted.
func (s *Store) CleanupInactive(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.retention)

	s.mu.RLock()
	var ids []string
	for _, sess := range s.sessions {
		if sess.ID != s.current && sess.LastAccessed.Before(cutoff) {
			ids = append(ids, sess.ID)
		}
	}
	s.mu.RUnlock()

	if len(ids) == 0 {
		return 0, nil
	}

	deleted, err := s.deleteAll(ctx, ids)
	s.removeLocal(deleted...)
	s.logger.Info(ctx, "inactive sessions cleaned up",
		zap.Int("deleted", len(deleted)),
		zap.Int("candidates", len(ids)),
		zap.Duration("retention", s.retention))
	if err != nil {
		return len(deleted), s.fail(ctx, "Cleanup incomplete", "cleanup sessions", err)
	}
	return len(deleted), nil
}

// Archive sets the archived flag of a session.
func (s *Store) Archive(ctx context.Context, id string, archived bool) error {
	if err := s.table.UpdateSession(ctx, id, supabase.SessionUpdate{Archived: &archived}); err != nil {
		return s.fail(ctx, "Could not archive session", "archive session", err)
	}
	s.update(id, func(sess *console.Session) { sess.Archived = archived })
	return nil
}

// Rename changes a session title.
func (s *Store) Rename(ctx context.Context, id, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return fmt.Errorf("%w: title is required", console.ErrValidation)
	}
	if err := s.table.UpdateSession(ctx, id, supabase.SessionUpdate{Title: &title}); err != nil {
		return s.fail(ctx, "Could not rename session", "rename session", err)
	}
	s.update(id, func(sess *console.Session) { sess.Title = title })
	return nil
}

// RecordUsage adds tokens and one message to a session's counters.
func (s *Store) RecordUsage(ctx context.Context, id string, tokens int) error {
	s.mu.RLock()
	i := s.indexLocked(id)
	if i < 0 {
		s.mu.RUnlock()
		return fmt.Errorf("session %s: %w", id, console.ErrNotFound)
	}
	total := s.sessions[i].TokensUsed + tokens
	count := s.sessions[i].MessageCount + 1
	s.mu.RUnlock()

	if err := s.table.UpdateSession(ctx, id, supabase.SessionUpdate{TokensUsed: &total, MessageCount: &count}); err != nil {
		return fmt.Errorf("record usage: %w", err)
	}
	s.update(id, func(sess *console.Session) {
		sess.TokensUsed = total
		sess.MessageCount = count
	})
	return nil
}

// Current returns the current session.
func (s *Store) Current() (console.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.indexLocked(s.current); i >= 0 {
		return s.sessions[i], true
	}
	return console.Session{}, false
}

// CurrentID returns the current session id or "".
func (s *Store) CurrentID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Sessions returns a snapshot of the session list.
func (s *Store) Sessions() []console.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.sessions)
}

// Loading reports whether a load or switch is in flight.
func (s *Store) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading
}

// Reset drops all local state. Used on logout.
func (s *Store) Reset() {
	s.mu.Lock()
	s.sessions = nil
	s.current = ""
	s.loading = false
	s.mu.Unlock()
	if s.messages != nil {
		s.messages.Clear()
	}
}

// deleteAll deletes ids remotely with bounded concurrency and returns the ids
// that were deleted. Failures are joined; they do not stop other deletes.
func (s *Store) deleteAll(ctx context.Context, ids []string) ([]string, error) {
	var (
		mu      sync.Mutex
		deleted []string
		errs    []error
	)

	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for _, id := range ids {
		g.Go(func() error {
			err := s.table.DeleteSession(ctx, id)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, fmt.Errorf("session %s: %w", id, err))
				return nil
			}
			deleted = append(deleted, id)
			return nil
		})
	}
	_ = g.Wait()

	return deleted, errors.Join(errs...)
}

func (s *Store) removeLocal(ids ...string) {
	if len(ids) == 0 {
		return
	}
	s.mu.Lock()
	unbind := false
	s.sessions = slices.DeleteFunc(s.sessions, func(sess console.Session) bool {
		return slices.Contains(ids, sess.ID)
	})
	if slices.Contains(ids, s.current) {
		s.current = ""
		unbind = true
	}
	s.mu.Unlock()

	if unbind && s.messages != nil {
		s.messages.Clear()
	}
}

func (s *Store) update(id string, fn func(*console.Session)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexLocked(id); i >= 0 {
		fn(&s.sessions[i])
	}
}

func (s *Store) watch(ctx context.Context, id string) {
	if s.messages == nil {
		return
	}
	if err := s.messages.Watch(ctx, id); err != nil {
		s.logger.Warn(ctx, "realtime subscription failed", zap.String("session_id", id), zap.Error(err))
	}
}

func (s *Store) setLoading(v bool) {
	s.mu.Lock()
	s.loading = v
	s.mu.Unlock()
}

func (s *Store) indexLocked(id string) int {
	if id == "" {
		return -1
	}
	return slices.IndexFunc(s.sessions, func(sess console.Session) bool { return sess.ID == id })
}

func (s *Store) fail(ctx context.Context, title, op string, err error) error {
	s.logger.Error(ctx, op+" failed", zap.Error(err))
	notify.Error(ctx, s.notifier, title, err)
	return fmt.Errorf("%s: %w", op, err)
}

func sortByAccess(sessions []console.Session) {
	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].LastAccessed.After(sessions[j].LastAccessed)
	})
}
