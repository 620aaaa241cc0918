package feed

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/friendlychat/chat-app/internal/chat"
)

// collector buffers listener events for assertions.
type collector struct {
	events chan chat.Event
}

func newCollector() *collector {
	return &collector{events: make(chan chat.Event, 64)}
}

func (c *collector) listen(ev chat.Event) {
	c.events <- ev
}

func (c *collector) next(t *testing.T) chat.Event {
	t.Helper()
	select {
	case ev := <-c.events:
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return chat.Event{}
}

func (c *collector) expectNone(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case ev := <-c.events:
		t.Fatalf("unexpected event %s key=%s", ev.Kind, ev.Message.Key)
	case <-time.After(wait):
	}
}

// exerciseService runs the ordering contract every backend must satisfy.
func exerciseService(t *testing.T, svc Service) {
	t.Helper()
	ctx := context.Background()

	var keys []string
	for i := 0; i < 3; i++ {
		key, err := svc.Append(ctx, chat.NewText(fmt.Sprintf("before-%d", i), "Alice"))
		if err != nil {
			t.Fatalf("Append() error: %v", err)
		}
		keys = append(keys, key)
	}
	for i := 1; i < len(keys); i++ {
		if keys[i] <= keys[i-1] {
			t.Fatalf("keys not increasing: %q then %q", keys[i-1], keys[i])
		}
	}

	c := newCollector()
	sub, err := svc.Subscribe(ctx, c.listen)
	if err != nil {
		t.Fatalf("Subscribe() error: %v", err)
	}
	defer sub.Close()

	for i, want := range keys {
		ev := c.next(t)
		if ev.Kind != chat.ChildAdded {
			t.Fatalf("event %d: expected child_added, got %s", i, ev.Kind)
		}
		if ev.Message.Key != want {
			t.Errorf("event %d: expected key %q, got %q", i, want, ev.Message.Key)
		}
		if got := ev.Message.Body(); got != fmt.Sprintf("before-%d", i) {
			t.Errorf("event %d: expected body before-%d, got %q", i, i, got)
		}
	}

	key, err := svc.Append(ctx, chat.NewPhoto("chat_photos/cat.jpg", chat.Anonymous))
	if err != nil {
		t.Fatalf("Append() error: %v", err)
	}
	ev := c.next(t)
	if ev.Message.Key != key || !ev.Message.IsPhoto() || ev.Message.Name != chat.Anonymous {
		t.Errorf("unexpected live event: %+v", ev.Message)
	}
	if ev.Message.Text != nil {
		t.Errorf("photo message should have nil text, got %q", *ev.Message.Text)
	}

	if err := sub.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if err := sub.Close(); err != nil {
		t.Fatalf("second Close() error: %v", err)
	}
}

func TestMemoryFeed_OrderedDelivery(t *testing.T) {
	exerciseService(t, NewMemoryFeed())
}

func TestMemoryFeed_CloseStopsDelivery(t *testing.T) {
	f := NewMemoryFeed()
	ctx := context.Background()

	c := newCollector()
	sub, err := f.Subscribe(ctx, c.listen)
	if err != nil {
		t.Fatalf("Subscribe() error: %v", err)
	}
	sub.Close()

	if _, err := f.Append(ctx, chat.NewText("late", "Bob")); err != nil {
		t.Fatalf("Append() error: %v", err)
	}
	c.expectNone(t, 100*time.Millisecond)

	if n := f.Subscribers(); n != 0 {
		t.Errorf("expected 0 subscribers, got %d", n)
	}
}

func TestMemoryFeed_ResubscribeReplays(t *testing.T) {
	f := NewMemoryFeed()
	ctx := context.Background()
	f.Append(ctx, chat.NewText("one", "Alice"))
	f.Append(ctx, chat.NewText("two", "Alice"))

	for round := 0; round < 2; round++ {
		c := newCollector()
		sub, err := f.Subscribe(ctx, c.listen)
		if err != nil {
			t.Fatalf("Subscribe() error: %v", err)
		}
		if got := c.next(t).Message.Body(); got != "one" {
			t.Errorf("round %d: expected first entry one, got %q", round, got)
		}
		if got := c.next(t).Message.Body(); got != "two" {
			t.Errorf("round %d: expected second entry two, got %q", round, got)
		}
		sub.Close()
	}
}

func TestMemoryFeed_Revoke(t *testing.T) {
	f := NewMemoryFeed()
	ctx := context.Background()

	c := newCollector()
	if _, err := f.Subscribe(ctx, c.listen); err != nil {
		t.Fatalf("Subscribe() error: %v", err)
	}

	denied := errors.New("permission denied")
	f.Revoke(denied)

	ev := c.next(t)
	if ev.Kind != chat.Cancelled {
		t.Fatalf("expected cancelled, got %s", ev.Kind)
	}
	if !errors.Is(ev.Err, denied) {
		t.Errorf("expected revoke error, got %v", ev.Err)
	}

	f.Append(ctx, chat.NewText("after", "Alice"))
	c.expectNone(t, 100*time.Millisecond)
}

func TestMemoryFeed_AppendHonoursContext(t *testing.T) {
	f := NewMemoryFeed()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := f.Append(ctx, chat.NewText("x", "Alice")); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if f.Len() != 0 {
		t.Errorf("expected empty feed, got %d entries", f.Len())
	}
}

func TestSequenceKey_SortsNumerically(t *testing.T) {
	if !(SequenceKey(9) < SequenceKey(10)) {
		t.Errorf("expected %q < %q", SequenceKey(9), SequenceKey(10))
	}
	if got := SequenceKey(42); got != "00000000000000000042" {
		t.Errorf("unexpected key %q", got)
	}
}
