// Package message holds the message list of the current session.
package message

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
	"github.com/creastat/console/logging"
	"github.com/creastat/console/notify"
	"github.com/creastat/console/realtime"
	"github.com/creastat/console/supabase"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrNoCompletion is returned by Complete when no function backend is set.
var ErrNoCompletion = errors.New("chat completion not configured")

const (
	typeText = "text"

	defaultHistoryTokens   = 8000
	defaultHistoryMessages = 50
)

// UsageRecorder receives token accounting for delivered messages.
type UsageRecorder interface {
	RecordUsage(ctx context.Context, sessionID string, tokens int) error
}

// Store holds the messages of one session.
type Store struct {
	table     supabase.MessageTable
	functions supabase.Functions
	broker    realtime.Broker
	usage     UsageRecorder
	notifier  notify.Notifier
	logger    *logging.Logger
	now       func() time.Time
	newID     func() string

	historyTokens   int
	historyMessages int

	mu        sync.RWMutex
	sessionID string
	messages  []console.Message
	loading   bool

	// subMu serialises Watch, Clear and Close.
	subMu   sync.Mutex
	sub     realtime.Subscription
	subDone chan struct{}
}

// Option configures a Store.
type Option func(*Store)

// WithFunctions enables Complete through Edge Functions.
func WithFunctions(f supabase.Functions) Option {
	return func(s *Store) { s.functions = f }
}

// WithBroker enables realtime Watch and publishing of sent messages.
func WithBroker(b realtime.Broker) Option {
	return func(s *Store) { s.broker = b }
}

// WithUsageRecorder reports token usage of delivered messages.
func WithUsageRecorder(u UsageRecorder) Option {
	return func(s *Store) { s.usage = u }
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

// WithIDGenerator overrides message id generation.
func WithIDGenerator(fn func() string) Option {
	return func(s *Store) { s.newID = fn }
}

// WithHistoryLimits bounds the history sent to Complete.
func WithHistoryLimits(tokens, messages int) Option {
	return func(s *Store) {
		s.historyTokens = tokens
		s.historyMessages = messages
	}
}

// New creates a message store.
func New(table supabase.MessageTable, opts ...Option) *Store {
	s := &Store{
		table:           table,
		notifier:        notify.Nop{},
		now:             time.Now,
		newID:           uuid.NewString,
		historyTokens:   defaultHistoryTokens,
		historyMessages: defaultHistoryMessages,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.OrNop(s.logger).Named("message")
	return s
}

// Send appends content optimistically as pending and persists it. The
// returned id is the backend id on success and the local id on failure, in
// which case the message is left failed for Retry.
//
// Only messages for the loaded session are tracked locally; messages for
// another session are persisted without an optimistic entry.
func (s *Store) Send(ctx context.Context, content, sessionID string, role console.Role) (string, error) {
	content = strings.TrimSpace(content)
	switch {
	case content == "":
		return "", fmt.Errorf("%w: message content is empty", console.ErrValidation)
	case sessionID == "":
		return "", fmt.Errorf("%w: no session selected", console.ErrValidation)
	case !role.Valid():
		return "", fmt.Errorf("%w: unknown role %q", console.ErrValidation, role)
	}

	msg := console.Message{
		ID:             s.newID(),
		ConversationID: sessionID,
		Role:           role,
		Content:        content,
		Type:           typeText,
		Status:         console.StatusPending,
		CreatedAt:      s.now().UTC(),
	}

	s.mu.Lock()
	if s.sessionID == "" {
		s.sessionID = sessionID
	}
	tracked := s.sessionID == sessionID
	if tracked {
		s.messages = append(s.messages, msg)
	}
	s.mu.Unlock()

	return s.deliver(ctx, msg.ID, msg, tracked)
}

// Retry resends a failed message as a fresh attempt. Messages in any other
// state are left alone and their id is returned unchanged.
func (s *Store) Retry(ctx context.Context, id string) (string, error) {
	s.mu.Lock()
	i := s.indexLocked(id)
	if i < 0 {
		s.mu.Unlock()
		return "", fmt.Errorf("message %s: %w", id, console.ErrNotFound)
	}
	if s.messages[i].Status != console.StatusFailed {
		s.mu.Unlock()
		return id, nil
	}
	s.messages[i].Status = console.StatusPending
	s.messages[i].RetryCount++
	attempt := s.messages[i]
	s.mu.Unlock()

	attempt.ID = s.newID()
	attempt.CreatedAt = s.now().UTC()
	retriesTotal.Inc()
	s.logger.Info(ctx, "retrying message",
		zap.String("message_id", id),
		zap.Int("retry_count", attempt.RetryCount))

	return s.deliver(ctx, id, attempt, true)
}

// deliver persists one attempt. localID names the tracked entry, which moves
// from pending to exactly one of sent or failed.
func (s *Store) deliver(ctx context.Context, localID string, attempt console.Message, tracked bool) (string, error) {
	stored, err := s.table.InsertMessage(ctx, attempt)
	if err != nil {
		sendsTotal.WithLabelValues("failed").Inc()
		if tracked {
			s.settle(localID, func(m *console.Message) { m.Status = console.StatusFailed })
		}
		s.logger.Error(ctx, "send message failed",
			zap.String("message_id", localID),
			zap.String("session_id", attempt.ConversationID),
			zap.Error(err))
		notify.Error(ctx, s.notifier, "Message not sent", err)
		return localID, fmt.Errorf("send message: %w", err)
	}

	sent := *stored
	sent.Status = console.StatusSent
	sent.RetryCount = attempt.RetryCount
	if sent.ID == "" {
		sent.ID = attempt.ID
	}
	if sent.CreatedAt.IsZero() {
		sent.CreatedAt = attempt.CreatedAt
	}
	sendsTotal.WithLabelValues("sent").Inc()

	if tracked {
		s.replace(localID, sent)
	}

	if s.broker != nil {
		if err := s.broker.Publish(ctx, sent.ConversationID, sent); err != nil {
			s.logger.Warn(ctx, "publish message failed", zap.String("message_id", sent.ID), zap.Error(err))
		}
	}
	if s.usage != nil {
		if err := s.usage.RecordUsage(ctx, sent.ConversationID, console.EstimateTokens(sent.Content)); err != nil {
			s.logger.Warn(ctx, "record usage failed", zap.String("session_id", sent.ConversationID), zap.Error(err))
		}
	}
	return sent.ID, nil
}

// settle applies fn to the entry if it is still pending.
func (s *Store) settle(id string, fn func(*console.Message)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexLocked(id); i >= 0 && s.messages[i].Status == console.StatusPending {
		fn(&s.messages[i])
	}
}

// replace swaps the pending entry for the stored row. A row already pushed by
// realtime under the new id wins and the pending entry is dropped.
func (s *Store) replace(localID string, sent console.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexLocked(localID)
	if i < 0 || s.messages[i].Status != console.StatusPending {
		return
	}
	if sent.ID != localID {
		if j := s.indexLocked(sent.ID); j >= 0 {
			s.messages[j].Status = console.StatusSent
			s.messages = slices.Delete(s.messages, i, i+1)
			return
		}
	}
	s.messages[i] = sent
}

// Fetch replaces the list with the session's messages. On failure the list
// is left unchanged.
func (s *Store) Fetch(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("%w: no session selected", console.ErrValidation)
	}
	s.setLoading(true)
	msgs, err := s.table.ListMessages(ctx, sessionID)
	s.setLoading(false)
	if err != nil {
		s.logger.Error(ctx, "fetch messages failed", zap.String("session_id", sessionID), zap.Error(err))
		notify.Error(ctx, s.notifier, "Could not load messages", err)
		return fmt.Errorf("fetch messages: %w", err)
	}
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})

	s.mu.Lock()
	s.sessionID = sessionID
	s.messages = msgs
	s.mu.Unlock()
	return nil
}

// Watch binds the realtime subscription to sessionID, tearing down the
// previous one first.
func (s *Store) Watch(ctx context.Context, sessionID string) error {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	s.releaseLocked()

	s.mu.Lock()
	if s.sessionID != sessionID {
		s.sessionID = sessionID
		s.messages = nil
	}
	s.mu.Unlock()

	if s.broker == nil {
		return nil
	}
	sub, err := s.broker.Subscribe(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("watch session %s: %w", sessionID, err)
	}

	done := make(chan struct{})
	s.sub = sub
	s.subDone = done
	go func() {
		defer close(done)
		for msg := range sub.Messages() {
			s.receive(msg)
		}
	}()
	return nil
}

// receive applies a pushed message. Duplicates by id and messages for other
// sessions are ignored.
func (s *Store) receive(msg console.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if msg.ConversationID != s.sessionID {
		pushedTotal.WithLabelValues("foreign").Inc()
		return
	}
	if s.indexLocked(msg.ID) >= 0 {
		pushedTotal.WithLabelValues("duplicate").Inc()
		return
	}
	if msg.Status == "" {
		msg.Status = console.StatusDelivered
	}
	s.messages = append(s.messages, msg)
	pushedTotal.WithLabelValues("applied").Inc()
}

// Complete asks the chat-completion function for an assistant reply to the
// session's history and appends it.
func (s *Store) Complete(ctx context.Context, sessionID string) (string, error) {
	if s.functions == nil {
		return "", ErrNoCompletion
	}
	if sessionID == "" {
		return "", fmt.Errorf("%w: no session selected", console.ErrValidation)
	}

	history := console.TruncateHistory(s.sessionMessages(sessionID), s.historyTokens, s.historyMessages)
	if len(history) == 0 {
		return "", fmt.Errorf("%w: nothing to complete", console.ErrValidation)
	}

	type turn struct {
		Role    console.Role `json:"role"`
		Content string       `json:"content"`
	}
	body := struct {
		SessionID string `json:"session_id"`
		Messages  []turn `json:"messages"`
	}{SessionID: sessionID}
	for _, m := range history {
		body.Messages = append(body.Messages, turn{Role: m.Role, Content: m.Content})
	}

	var reply struct {
		Content   string `json:"content"`
		MessageID string `json:"message_id"`
	}
	if err := s.functions.Invoke(ctx, "chat-completion", body, &reply); err != nil {
		s.logger.Error(ctx, "chat completion failed", zap.String("session_id", sessionID), zap.Error(err))
		notify.Error(ctx, s.notifier, "Assistant did not respond", err)
		return "", fmt.Errorf("complete: %w", err)
	}

	// The function persisted the reply itself.
	if reply.MessageID != "" {
		s.receive(console.Message{
			ID:             reply.MessageID,
			ConversationID: sessionID,
			Role:           console.RoleAssistant,
			Content:        reply.Content,
			Type:           typeText,
			Status:         console.StatusSent,
			CreatedAt:      s.now().UTC(),
		})
		return reply.MessageID, nil
	}
	return s.Send(ctx, reply.Content, sessionID, console.RoleAssistant)
}

// Clear drops all messages and releases the subscription.
func (s *Store) Clear() {
	s.subMu.Lock()
	s.releaseLocked()
	s.subMu.Unlock()

	s.mu.Lock()
	s.sessionID = ""
	s.messages = nil
	s.loading = false
	s.mu.Unlock()
}

// Close releases the realtime subscription.
func (s *Store) Close() error {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	return s.releaseLocked()
}

// releaseLocked unsubscribes and joins the reader. Callers hold subMu.
func (s *Store) releaseLocked() error {
	if s.sub == nil {
		return nil
	}
	err := s.sub.Unsubscribe()
	<-s.subDone
	s.sub = nil
	s.subDone = nil
	return err
}

// Messages returns a snapshot of the list.
func (s *Store) Messages() []console.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.messages)
}

// SessionID returns the session whose messages are loaded.
func (s *Store) SessionID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessionID
}

// Loading reports whether a fetch is in flight.
func (s *Store) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading
}

// Watching returns the session of the live subscription, or "".
func (s *Store) Watching() string {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	if s.sub == nil {
		return ""
	}
	return s.sub.SessionID()
}

func (s *Store) sessionMessages(sessionID string) []console.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.sessionID != sessionID {
		return nil
	}
	return slices.Clone(s.messages)
}

func (s *Store) setLoading(v bool) {
	s.mu.Lock()
	s.loading = v
	s.mu.Unlock()
}

func (s *Store) indexLocked(id string) int {
	return slices.IndexFunc(s.messages, func(m console.Message) bool { return m.ID == id })
}
