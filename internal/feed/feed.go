// Package feed is the client side of the shared, append-only message feed.
// Every backend assigns keys that sort in feed order and delivers
// ChildAdded events in that order: first the entries present when the
// subscription starts, then every entry appended afterwards.
package feed

import (
	"context"
	"errors"

	"github.com/friendlychat/chat-app/internal/chat"
)

var (
	// ErrClosed is returned by operations on a closed feed connection.
	ErrClosed = errors.New("feed: closed")

	// ErrRejected is returned when the backend refuses a write.
	ErrRejected = errors.New("feed: write rejected")

	// ErrRateLimited is returned when the backend throttled the writer.
	ErrRateLimited = errors.New("feed: rate limited")

	// ErrBusy is returned by backends that carry a single subscription when a
	// second one is requested.
	ErrBusy = errors.New("feed: subscription already active")
)

// Listener receives subscription events on a backend goroutine. Calls for a
// single subscription never overlap. A Cancelled event is the last one.
type Listener func(chat.Event)

// Service is an ordered feed of messages.
type Service interface {
	// Append stores m at the end of the feed and returns its key.
	Append(ctx context.Context, m chat.Message) (string, error)

	// Subscribe starts delivery to l. ctx bounds only the setup.
	Subscribe(ctx context.Context, l Listener) (Subscription, error)
}

// Subscription is a live registration on a feed.
type Subscription interface {
	// Close stops future deliveries. Events already handed to the listener's
	// goroutine may still arrive. Close is idempotent.
	Close() error
}

// subscriptionFunc adapts a function to Subscription.
type subscriptionFunc func() error

func (f subscriptionFunc) Close() error { return f() }
