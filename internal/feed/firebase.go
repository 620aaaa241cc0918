package feed

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"firebase.google.com/go/v4/db"

	"github.com/friendlychat/chat-app/internal/chat"
	"github.com/friendlychat/chat-app/internal/protocol"
)

const (
	// DefaultMessagesPath is the Realtime Database node holding the feed.
	DefaultMessagesPath = "messages"

	// DefaultPollInterval is how often a Firebase subscription looks for new
	// children.
	DefaultPollInterval = time.Second
)

// FirebaseFeed stores the feed under a Realtime Database node. Push IDs are
// the keys; they sort in creation order.
type FirebaseFeed struct {
	ref      *db.Ref
	interval time.Duration
}

// NewFirebaseFeed returns a feed on path. The admin SDK has no streaming
// listener, so subscriptions poll ordered by key.
func NewFirebaseFeed(client *db.Client, path string, interval time.Duration) *FirebaseFeed {
	if path == "" {
		path = DefaultMessagesPath
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &FirebaseFeed{ref: client.NewRef(path), interval: interval}
}

// Append pushes a new child and returns its push ID.
func (f *FirebaseFeed) Append(ctx context.Context, m chat.Message) (string, error) {
	child, err := f.ref.Push(ctx, protocol.RecordFields(m))
	if err != nil {
		return "", fmt.Errorf("feed: firebase push: %w: %v", ErrRejected, err)
	}
	return child.Key, nil
}

// Subscribe polls the node for children after the last delivered key. A
// failed query (typically a permission error) cancels the subscription.
func (f *FirebaseFeed) Subscribe(ctx context.Context, l Listener) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	go f.poll(runCtx, l)

	var once sync.Once
	return subscriptionFunc(func() error {
		once.Do(cancel)
		return nil
	}), nil
}

func (f *FirebaseFeed) poll(ctx context.Context, l Listener) {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	last := ""
	for {
		q := f.ref.OrderByKey()
		if last != "" {
			q = q.StartAt(last)
		}

		nodes, err := q.GetOrdered(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			log.Printf("[feed] firebase query %s: %v", f.ref.Path, err)
			l(chat.Event{Kind: chat.Cancelled, Err: fmt.Errorf("feed: firebase query: %w", err)})
			return
		}

		for _, node := range nodes {
			key := node.Key()
			// StartAt is inclusive.
			if key == last {
				continue
			}
			last = key
			if ctx.Err() != nil {
				return
			}

			var fields map[string]interface{}
			if err := node.Unmarshal(&fields); err != nil {
				log.Printf("[feed] firebase decode %s: %v", key, err)
			}
			l(chat.Event{Kind: chat.ChildAdded, Message: protocol.FromFields(key, fields)})
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
