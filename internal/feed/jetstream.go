package feed

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/friendlychat/chat-app/internal/chat"
	"github.com/friendlychat/chat-app/internal/messaging"
	"github.com/friendlychat/chat-app/internal/protocol"
)

// DefaultFeedName is the feed subject suffix used when none is configured.
const DefaultFeedName = "messages"

// JetStreamFeed stores the feed in the JetStream stream. Keys are the stream
// sequence numbers, zero-padded so they sort as strings.
type JetStreamFeed struct {
	client  *messaging.Client
	subject string
}

// NewJetStreamFeed returns a feed published on messaging.FeedSubject(name).
func NewJetStreamFeed(client *messaging.Client, name string) *JetStreamFeed {
	if name == "" {
		name = DefaultFeedName
	}
	return &JetStreamFeed{client: client, subject: messaging.FeedSubject(name)}
}

// SequenceKey formats a stream sequence as a feed key.
func SequenceKey(seq uint64) string {
	return fmt.Sprintf("%020d", seq)
}

// Append publishes m and waits for the stream acknowledgement.
func (f *JetStreamFeed) Append(ctx context.Context, m chat.Message) (string, error) {
	data, err := protocol.EncodeRecord(m)
	if err != nil {
		return "", err
	}

	ack, err := f.client.JetStream().Publish(f.subject, data, nats.Context(ctx))
	if err != nil {
		return "", fmt.Errorf("feed: jetstream publish: %w: %v", ErrRejected, err)
	}
	return SequenceKey(ack.Sequence), nil
}

// Subscribe creates an ordered push consumer delivering the whole subject
// from the first sequence.
func (f *JetStreamFeed) Subscribe(ctx context.Context, l Listener) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s := &jetStreamSub{client: f.client, id: "feed:" + uuid.NewString(), listener: l}

	sub, err := f.client.JetStream().Subscribe(f.subject, s.handle,
		nats.OrderedConsumer(),
		nats.DeliverAll(),
	)
	if err != nil {
		return nil, fmt.Errorf("feed: jetstream subscribe %s: %w", f.subject, err)
	}
	f.client.Track(s.id, sub)

	go s.watch(sub.StatusChanged(nats.SubscriptionClosed))
	return s, nil
}

type jetStreamSub struct {
	client   *messaging.Client
	id       string
	listener Listener

	mu     sync.Mutex // serializes listener calls
	closed atomic.Bool
}

func (s *jetStreamSub) handle(msg *nats.Msg) {
	meta, err := msg.Metadata()
	if err != nil {
		log.Printf("[feed] jetstream metadata: %v", err)
		return
	}
	key := SequenceKey(meta.Sequence.Stream)

	m, err := protocol.DecodeRecord(key, msg.Data)
	if err != nil {
		// The subscriber validates and drops it.
		log.Printf("[feed] %v", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return
	}
	s.listener(chat.Event{Kind: chat.ChildAdded, Message: m})
}

// watch reports a subscription closed underneath us, for example by a
// connection shutdown or a deleted stream.
func (s *jetStreamSub) watch(status <-chan nats.SubStatus) {
	if _, ok := <-status; !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	s.listener(chat.Event{Kind: chat.Cancelled, Err: fmt.Errorf("feed: jetstream subscription closed: %w", ErrClosed)})
}

func (s *jetStreamSub) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.client.Untrack(s.id)
}
