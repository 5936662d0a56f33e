// Package realtime delivers chat messages pushed to a session channel.
package realtime

import (
	"context"

	"github.com/creastat/console"
)

// Broker publishes messages to per-session channels and hands out
// subscriptions to them.
type Broker interface {
	// Subscribe opens a subscription to the session's channel. The returned
	// subscription is live when Subscribe returns.
	Subscribe(ctx context.Context, sessionID string) (Subscription, error)

	// Publish delivers msg to every subscriber of the session's channel.
	Publish(ctx context.Context, sessionID string, msg console.Message) error

	// Close shuts down the broker and releases any resources.
	Close() error
}

// Subscription is a live binding to one session channel.
type Subscription interface {
	// SessionID returns the session the subscription is bound to.
	SessionID() string

	// Messages returns the delivery channel. It is closed once Unsubscribe
	// returns.
	Messages() <-chan console.Message

	// Unsubscribe releases the subscription and waits for its reader to
	// stop. It is safe to call more than once.
	Unsubscribe() error
}

// Channel returns the channel name for a session.
func Channel(sessionID string) string {
	return channelPrefix + sessionID
}

const channelPrefix = "console:messages:"
