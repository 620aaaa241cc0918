package feed

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/friendlychat/chat-app/internal/chat"
	"github.com/friendlychat/chat-app/internal/protocol"
)

const (
	// DefaultStream is the Redis stream holding the feed.
	DefaultStream = "friendlychat:messages"

	redisReadBlock = 2 * time.Second
	redisReadCount = 100
)

// RedisFeed stores the feed in a Redis stream. Stream IDs are the keys.
type RedisFeed struct {
	client *redis.Client
	stream string
}

// NewRedisFeed returns a feed on stream. The caller owns client and is
// expected to have checked the connection.
func NewRedisFeed(client *redis.Client, stream string) *RedisFeed {
	if stream == "" {
		stream = DefaultStream
	}
	return &RedisFeed{client: client, stream: stream}
}

// Append adds m with XADD and returns the assigned stream ID.
func (f *RedisFeed) Append(ctx context.Context, m chat.Message) (string, error) {
	id, err := f.client.XAdd(ctx, &redis.XAddArgs{
		Stream: f.stream,
		Values: protocol.RecordFields(m),
	}).Result()
	if err != nil {
		return "", fmt.Errorf("feed: xadd: %w: %v", ErrRejected, err)
	}
	return id, nil
}

// Subscribe reads the stream from the beginning with blocking XREAD calls.
// A read error other than shutdown cancels the subscription.
func (f *RedisFeed) Subscribe(ctx context.Context, l Listener) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	go f.follow(runCtx, l)

	var once sync.Once
	return subscriptionFunc(func() error {
		once.Do(cancel)
		return nil
	}), nil
}

func (f *RedisFeed) follow(ctx context.Context, l Listener) {
	last := "0-0"
	for {
		streams, err := f.client.XRead(ctx, &redis.XReadArgs{
			Streams: []string{f.stream, last},
			Count:   redisReadCount,
			Block:   redisReadBlock,
		}).Result()

		if ctx.Err() != nil {
			return
		}
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			log.Printf("[feed] redis read %s: %v", f.stream, err)
			l(chat.Event{Kind: chat.Cancelled, Err: fmt.Errorf("feed: xread: %w", err)})
			return
		}

		for _, s := range streams {
			for _, msg := range s.Messages {
				last = msg.ID
				if ctx.Err() != nil {
					return
				}
				l(chat.Event{Kind: chat.ChildAdded, Message: protocol.FromFields(msg.ID, msg.Values)})
			}
		}
	}
}
