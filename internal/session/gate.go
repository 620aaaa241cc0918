package session

import (
	"context"
	"fmt"
	"log"

	"github.com/friendlychat/chat-app/internal/chat"
	"github.com/friendlychat/chat-app/internal/identity"
)

// Poster queues work on the event loop.
type Poster interface {
	Post(fn func()) bool
}

// Subscriber is the feed subscription the gate attaches and detaches.
type Subscriber interface {
	Attach(ctx context.Context) error
	Detach()
}

// Clearer is the local list the gate resets.
type Clearer interface {
	Clear()
}

// Gate drives the subscription and the view model from identity changes.
// Apart from SignOut, its methods must run on the event loop.
type Gate struct {
	loop     Poster
	provider identity.Provider
	sub      Subscriber
	view     Clearer

	session   Session
	watchID   uint64
	stopWatch func()

	onTransition func(prev, next Session)
}

// NewGate returns a gate in the signed-out state. It does not observe the
// provider until Resume is called.
func NewGate(loop Poster, provider identity.Provider, sub Subscriber, view Clearer) *Gate {
	return &Gate{
		loop:     loop,
		provider: provider,
		sub:      sub,
		view:     view,
		session:  SignedOut(),
	}
}

// OnTransition registers fn to run after every handled auth event.
func (g *Gate) OnTransition(fn func(prev, next Session)) {
	g.onTransition = fn
}

// Session returns the current session.
func (g *Gate) Session() Session {
	return g.session
}

// DisplayName returns the name used to stamp outgoing messages.
func (g *Gate) DisplayName() string {
	return g.session.DisplayName
}

// HandleAuthState applies one identity event. A signed-in user attaches the
// subscription; a signed-out state resets the name and clears the list but
// leaves the subscription alone.
func (g *Gate) HandleAuthState(st identity.State) {
	prev := g.session

	if st.SignedIn {
		g.session = Session{SignedIn: true, DisplayName: st.DisplayName}
		if g.session.DisplayName == "" {
			g.session.DisplayName = chat.Anonymous
		}
		if err := g.sub.Attach(context.Background()); err != nil {
			log.Printf("[session] attach: %v", err)
		}
	} else {
		g.session = SignedOut()
		g.view.Clear()
	}

	if prev != g.session {
		log.Printf("[session] %s -> %s", describe(prev), describe(g.session))
	}
	if g.onTransition != nil {
		g.onTransition(prev, g.session)
	}
}

// Resume starts observing the provider. The provider replays its current
// state, which may fire a transition. Calling Resume while already observing
// is a no-op.
func (g *Gate) Resume() {
	if g.stopWatch != nil {
		return
	}

	g.watchID++
	id := g.watchID
	g.stopWatch = g.provider.Watch(func(st identity.State) {
		g.loop.Post(func() {
			// Events posted before the last Pause are discarded.
			if g.stopWatch == nil || id != g.watchID {
				return
			}
			g.HandleAuthState(st)
		})
	})
}

// Pause stops observing identity, detaches the subscription and clears the
// list, whatever the current state.
func (g *Gate) Pause() {
	if g.stopWatch != nil {
		g.stopWatch()
		g.stopWatch = nil
	}
	g.sub.Detach()
	g.view.Clear()
}

// Observing reports whether the gate is watching the provider.
func (g *Gate) Observing() bool {
	return g.stopWatch != nil
}

// SignOut forwards to the provider. The resulting signed-out event drives
// the transition. It may be called from any goroutine.
func (g *Gate) SignOut(ctx context.Context) error {
	if err := g.provider.SignOut(ctx); err != nil {
		return fmt.Errorf("session: sign out: %w", err)
	}
	return nil
}

func describe(s Session) string {
	if s.SignedIn {
		return "signed_in(" + s.DisplayName + ")"
	}
	return "signed_out"
}
