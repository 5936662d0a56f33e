// Package notify carries user-visible notifications (toasts) out of the stores.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/creastat/console/logging"
	"go.uber.org/zap"
)

// Level is the severity shown to the user.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notification is a transient message for the user.
type Notification struct {
	Level   Level     `json:"level"`
	Title   string    `json:"title"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Notifier delivers notifications. Implementations must not block.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// Error sends an error notification for err.
func Error(ctx context.Context, n Notifier, title string, err error) {
	if n == nil {
		return
	}
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	n.Notify(ctx, Notification{Level: LevelError, Title: title, Message: msg, At: time.Now()})
}

// Success sends a success notification.
func Success(ctx context.Context, n Notifier, title, message string) {
	if n == nil {
		return
	}
	n.Notify(ctx, Notification{Level: LevelSuccess, Title: title, Message: message, At: time.Now()})
}

// Queue records notifications in memory, dropping the oldest above its limit.
type Queue struct {
	mu    sync.Mutex
	items []Notification
	limit int
}

// NewQueue creates a queue holding at most limit notifications (0 means 100).
func NewQueue(limit int) *Queue {
	if limit <= 0 {
		limit = 100
	}
	return &Queue{limit: limit}
}

func (q *Queue) Notify(_ context.Context, n Notification) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, n)
	if over := len(q.items) - q.limit; over > 0 {
		q.items = q.items[over:]
	}
}

// All returns a copy of the queued notifications.
func (q *Queue) All() []Notification {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Notification, len(q.items))
	copy(out, q.items)
	return out
}

// Drain returns and removes all queued notifications.
func (q *Queue) Drain() []Notification {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	q.items = nil
	return out
}

// LogNotifier writes notifications to a logger. Used by the CLI.
type LogNotifier struct {
	logger *logging.Logger
}

func NewLogNotifier(l *logging.Logger) *LogNotifier {
	return &LogNotifier{logger: logging.OrNop(l).Named("notify")}
}

func (l *LogNotifier) Notify(ctx context.Context, n Notification) {
	fields := []zap.Field{zap.String("title", n.Title), zap.String("level", string(n.Level))}
	switch n.Level {
	case LevelError:
		l.logger.Error(ctx, n.Message, fields...)
	case LevelWarning:
		l.logger.Warn(ctx, n.Message, fields...)
	default:
		l.logger.Info(ctx, n.Message, fields...)
	}
}

// Nop discards notifications.
type Nop struct{}

func (Nop) Notify(context.Context, Notification) {}

var (
	_ Notifier = (*Queue)(nil)
	_ Notifier = (*LogNotifier)(nil)
	_ Notifier = Nop{}
)
