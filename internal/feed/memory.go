package feed

import (
	"context"
	"fmt"
	"sync"

	"github.com/friendlychat/chat-app/internal/chat"
)

// MemoryFeed keeps the feed in process. It backs local runs and tests.
type MemoryFeed struct {
	mu      sync.Mutex
	seq     uint64
	entries []chat.Message
	subs    map[*memorySub]struct{}
}

// NewMemoryFeed creates an empty in-process feed.
func NewMemoryFeed() *MemoryFeed {
	return &MemoryFeed{subs: make(map[*memorySub]struct{})}
}

// Append assigns the next zero-padded sequence key and wakes subscribers.
func (f *MemoryFeed) Append(ctx context.Context, m chat.Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.seq++
	key := fmt.Sprintf("%020d", f.seq)
	f.entries = append(f.entries, m.WithKey(key))

	for s := range f.subs {
		s.signal()
	}
	return key, nil
}

// Subscribe starts a delivery goroutine that replays the feed from the
// beginning and then follows appends.
func (f *MemoryFeed) Subscribe(ctx context.Context, l Listener) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s := &memorySub{
		feed:     f,
		listener: l,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}

	f.mu.Lock()
	f.subs[s] = struct{}{}
	f.mu.Unlock()

	go s.run()
	return s, nil
}

// Revoke cancels every live subscription with err, the way a backend reports
// lost read permission.
func (f *MemoryFeed) Revoke(err error) {
	f.mu.Lock()
	subs := make([]*memorySub, 0, len(f.subs))
	for s := range f.subs {
		subs = append(subs, s)
		delete(f.subs, s)
	}
	f.mu.Unlock()

	for _, s := range subs {
		s.cancel(err)
	}
}

// Len returns the number of stored entries.
func (f *MemoryFeed) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries)
}

// Entries returns a copy of the stored entries in key order.
func (f *MemoryFeed) Entries() []chat.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]chat.Message, len(f.entries))
	copy(out, f.entries)
	return out
}

// Subscribers returns the number of live subscriptions.
func (f *MemoryFeed) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

type memorySub struct {
	feed      *MemoryFeed
	listener  Listener
	wake      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	cancelErr error
}

func (s *memorySub) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *memorySub) run() {
	next := 0
	for {
		s.feed.mu.Lock()
		batch := append([]chat.Message(nil), s.feed.entries[next:]...)
		s.feed.mu.Unlock()

		for _, m := range batch {
			select {
			case <-s.done:
				s.finish()
				return
			default:
			}
			s.listener(chat.Event{Kind: chat.ChildAdded, Message: m})
			next++
		}

		select {
		case <-s.done:
			s.finish()
			return
		case <-s.wake:
		}
	}
}

// finish delivers the cancellation event, if any, from the delivery
// goroutine so it stays the last event.
func (s *memorySub) finish() {
	if s.cancelErr != nil {
		s.listener(chat.Event{Kind: chat.Cancelled, Err: s.cancelErr})
	}
}

func (s *memorySub) cancel(err error) {
	s.closeOnce.Do(func() {
		s.cancelErr = err
		close(s.done)
	})
}

func (s *memorySub) Close() error {
	s.feed.mu.Lock()
	delete(s.feed.subs, s)
	s.feed.mu.Unlock()

	s.closeOnce.Do(func() { close(s.done) })
	return nil
}
