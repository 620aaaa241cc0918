package viewmodel

import (
	"fmt"
	"testing"

	"github.com/friendlychat/chat-app/internal/chat"
)

func TestAppendKeepsInsertionOrder(t *testing.T) {
	l := New()
	l.Append(chat.NewText("hello", "a"))
	l.Append(chat.NewText("hi", "b"))
	l.Append(chat.NewText("how are you?", "a"))

	items := l.Items()
	if len(items) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(items))
	}
	for i, want := range []string{"hello", "hi", "how are you?"} {
		if items[i].Body() != want {
			t.Errorf("index %d: expected %q, got %q", i, want, items[i].Body())
		}
	}
}

func TestClear(t *testing.T) {
	l := New()
	for i := 0; i < 5; i++ {
		l.Append(chat.NewText(fmt.Sprintf("msg-%d", i), "a"))
	}
	l.Clear()

	if l.Len() != 0 {
		t.Fatalf("expected empty list, got %d", l.Len())
	}
	if items := l.Items(); items == nil || len(items) != 0 {
		t.Fatalf("expected non-nil empty slice, got %#v", items)
	}
}

func TestItemsIsSnapshot(t *testing.T) {
	l := New()
	l.Append(chat.NewText("one", "a"))
	snap := l.Items()
	l.Append(chat.NewText("two", "a"))

	if len(snap) != 1 {
		t.Fatalf("snapshot changed after append: %d", len(snap))
	}
	l.Clear()
	if snap[0].Body() != "one" {
		t.Errorf("snapshot changed after clear: %q", snap[0].Body())
	}
}

func TestListenersNotified(t *testing.T) {
	l := New()
	var lengths []int
	l.OnChange(func(n int) { lengths = append(lengths, n) })

	l.Append(chat.NewText("one", "a"))
	l.Append(chat.NewText("two", "a"))
	l.Clear()
	l.Clear()

	want := []int{1, 2, 0, 0}
	if len(lengths) != len(want) {
		t.Fatalf("expected %d notifications, got %v", len(want), lengths)
	}
	for i := range want {
		if lengths[i] != want[i] {
			t.Errorf("notification %d: expected %d, got %d", i, want[i], lengths[i])
		}
	}
}
