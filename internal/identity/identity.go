// Package identity tracks who is signed in. Providers push the current state
// to every watcher as soon as it registers and again on every change.
package identity

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrSignInFailed is returned when credentials could not be verified.
	ErrSignInFailed = errors.New("identity: sign-in failed")

	// ErrNotSignedIn is returned by operations that need a signed-in user.
	ErrNotSignedIn = errors.New("identity: not signed in")
)

// State is a snapshot of the authentication state.
type State struct {
	SignedIn    bool
	UID         string
	DisplayName string
}

// Provider is the identity service seen by the session gate.
type Provider interface {
	// Watch calls fn with the current state immediately and after every
	// change until stop is called. fn may run on any goroutine.
	Watch(fn func(State)) (stop func())

	// SignOut ends the session. Watchers observe the signed-out state.
	SignOut(ctx context.Context) error

	// Current returns the latest state.
	Current() State
}

// watchers is the registry shared by the providers in this package. Every
// state carries a version; a watcher never sees a version older than one it
// has already been given, so a replay racing a change cannot land last.
type watchers struct {
	mu      sync.Mutex
	nextID  int
	fns     map[int]*watcher
	state   State
	version uint64
}

type watcher struct {
	mu        sync.Mutex
	fn        func(State)
	delivered bool
	seen      uint64
}

// deliver calls fn unless a newer version was already delivered. fn runs
// under the watcher's lock, so deliveries to one watcher are serialized.
func (wt *watcher) deliver(version uint64, st State) {
	wt.mu.Lock()
	defer wt.mu.Unlock()
	if wt.delivered && version <= wt.seen {
		return
	}
	wt.delivered = true
	wt.seen = version
	wt.fn(st)
}

func (w *watchers) watch(fn func(State)) func() {
	wt := &watcher{fn: fn}

	w.mu.Lock()
	if w.fns == nil {
		w.fns = make(map[int]*watcher)
	}
	id := w.nextID
	w.nextID++
	w.fns[id] = wt
	st, version := w.state, w.version
	w.mu.Unlock()

	wt.deliver(version, st)

	var once sync.Once
	return func() {
		once.Do(func() {
			w.mu.Lock()
			delete(w.fns, id)
			w.mu.Unlock()
		})
	}
}

func (w *watchers) current() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *watchers) set(st State) {
	w.mu.Lock()
	w.version++
	w.state = st
	version := w.version
	wts := make([]*watcher, 0, len(w.fns))
	for _, wt := range w.fns {
		wts = append(wts, wt)
	}
	w.mu.Unlock()

	for _, wt := range wts {
		wt.deliver(version, st)
	}
}
