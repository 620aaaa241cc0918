// Package subscription owns the client's single live registration on the
// feed. Attach and Detach move an explicit state between None and
// Active(handle, generation); every backend event is marshalled onto the
// event loop and dropped there if it belongs to an older generation.
package subscription

import (
	"context"
	"fmt"
	"log"

	"github.com/friendlychat/chat-app/internal/chat"
	"github.com/friendlychat/chat-app/internal/feed"
	"github.com/friendlychat/chat-app/internal/metrics"
)

// Poster queues work on the goroutine that owns the manager.
type Poster interface {
	Post(fn func()) bool
}

// State is the subscription state.
type State int

const (
	None State = iota
	Active
)

func (s State) String() string {
	if s == Active {
		return "active"
	}
	return "none"
}

// Manager is not goroutine-safe. All methods, and the callbacks it invokes,
// run on the event loop.
type Manager struct {
	feed  feed.Service
	loop  Poster
	onAdd func(chat.Message)

	onCancel func(error)

	state      State
	handle     feed.Subscription
	generation uint64

	malformed int
	stale     int
}

// New creates a manager in state None. onAdd receives every valid record in
// key order.
func New(svc feed.Service, loop Poster, onAdd func(chat.Message)) *Manager {
	return &Manager{feed: svc, loop: loop, onAdd: onAdd}
}

// OnCancel registers fn to run once when the backend ends the active
// subscription.
func (m *Manager) OnCancel(fn func(error)) {
	m.onCancel = fn
}

// Attach subscribes if no subscription is active. It is a no-op otherwise.
func (m *Manager) Attach(ctx context.Context) error {
	if m.state == Active {
		return nil
	}

	gen := m.generation + 1
	handle, err := m.feed.Subscribe(ctx, func(ev chat.Event) {
		m.loop.Post(func() { m.dispatch(gen, ev) })
	})
	if err != nil {
		return fmt.Errorf("subscription: attach: %w", err)
	}

	m.generation = gen
	m.handle = handle
	m.state = Active
	metrics.SubscriptionsActive.Inc()
	log.Printf("[subscription] attached generation=%d", gen)
	return nil
}

// Detach closes the active subscription. It is a no-op in state None.
func (m *Manager) Detach() {
	if m.state != Active {
		return
	}
	m.release()
	log.Printf("[subscription] detached generation=%d", m.generation)
}

// State returns the current state.
func (m *Manager) State() State {
	return m.state
}

// Generation returns the generation of the current or most recent
// subscription.
func (m *Manager) Generation() uint64 {
	return m.generation
}

// Malformed returns how many records failed validation.
func (m *Manager) Malformed() int {
	return m.malformed
}

// Stale returns how many events arrived for a detached generation.
func (m *Manager) Stale() int {
	return m.stale
}

func (m *Manager) release() {
	if err := m.handle.Close(); err != nil {
		log.Printf("[subscription] close generation=%d: %v", m.generation, err)
	}
	m.handle = nil
	m.state = None
	metrics.SubscriptionsActive.Dec()
}

func (m *Manager) dispatch(gen uint64, ev chat.Event) {
	if m.state != Active || gen != m.generation {
		m.stale++
		metrics.RecordsDropped.WithLabelValues("stale").Inc()
		return
	}

	switch ev.Kind {
	case chat.ChildAdded:
		if err := ev.Message.Validate(); err != nil {
			m.malformed++
			metrics.RecordsDropped.WithLabelValues("malformed").Inc()
			log.Printf("[subscription] dropping record: %v", err)
			return
		}
		metrics.MessagesTotal.WithLabelValues("delivered").Inc()
		m.onAdd(ev.Message)

	case chat.ChildChanged, chat.ChildRemoved, chat.ChildMoved:
		// Records are immutable once appended.

	case chat.Cancelled:
		log.Printf("[subscription] cancelled generation=%d: %v", gen, ev.Err)
		metrics.SubscriptionsCancelled.Inc()
		m.release()
		if m.onCancel != nil {
			m.onCancel(ev.Err)
		}
	}
}
