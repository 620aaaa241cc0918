// Package viewmodel holds the local, insertion-ordered cache of delivered
// messages that feeds the rendering surface.
package viewmodel

import "github.com/friendlychat/chat-app/internal/chat"

// Listener is notified after every mutation with the new list length.
type Listener func(length int)

// List is an append-only ordered list of messages with bulk clear. It is not
// goroutine-safe: the owning event loop performs every call.
type List struct {
	items     []chat.Message
	listeners []Listener
}

// New creates an empty List.
func New() *List {
	return &List{items: []chat.Message{}}
}

// OnChange registers a listener for refresh notifications.
func (l *List) OnChange(fn Listener) {
	l.listeners = append(l.listeners, fn)
}

// Append adds a message to the end of the list.
func (l *List) Append(m chat.Message) {
	l.items = append(l.items, m)
	l.notify()
}

// Clear empties the list. Listeners are notified even if it was already
// empty.
func (l *List) Clear() {
	l.items = l.items[:0:0]
	l.notify()
}

// Len returns the number of messages held.
func (l *List) Len() int {
	return len(l.items)
}

// Items returns a copy of the messages in insertion order.
func (l *List) Items() []chat.Message {
	out := make([]chat.Message, len(l.items))
	copy(out, l.items)
	return out
}

// At returns the message at index i.
func (l *List) At(i int) chat.Message {
	return l.items[i]
}

func (l *List) notify() {
	n := len(l.items)
	for _, fn := range l.listeners {
		fn(n)
	}
}
