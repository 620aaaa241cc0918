// Package eventloop serializes state mutations onto one logical thread.
// Backend completions (feed deliveries, uploads, auth changes, config
// fetches) arrive on arbitrary goroutines and are posted here, so the gate,
// the subscription state and the view model never see concurrent mutation.
package eventloop

import (
	"context"
	"errors"
	"log"
	"sync"
)

// ErrStopped is returned by Call once the loop has stopped.
var ErrStopped = errors.New("eventloop: stopped")

// DefaultQueueSize is the initial capacity of the pending queue.
const DefaultQueueSize = 256

// Loop runs posted tasks one at a time, in post order. The pending queue is
// unbounded: Post never blocks, so tasks running on the loop may post more
// tasks.
type Loop struct {
	mu       sync.Mutex
	pending  []func()
	wake     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// New creates a Loop whose queue starts with room for queueSize tasks. It
// does nothing until Run is called.
func New(queueSize int) *Loop {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Loop{
		pending: make([]func(), 0, queueSize),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// Post queues fn for execution on the loop. It returns false if the loop has
// stopped, in which case fn will never run.
func (l *Loop) Post(fn func()) bool {
	select {
	case <-l.done:
		return false
	default:
	}

	l.mu.Lock()
	l.pending = append(l.pending, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Call runs fn on the loop and waits for it to finish.
func (l *Loop) Call(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrStopped
	}

	select {
	case <-finished:
		return nil
	case <-l.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run executes tasks until ctx is cancelled or Stop is called. Tasks still
// queued at that point are dropped. A panicking task is logged and does not
// stop the loop.
func (l *Loop) Run(ctx context.Context) {
	defer l.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.done:
			return
		case <-l.wake:
		}

		for {
			l.mu.Lock()
			batch := l.pending
			l.pending = nil
			l.mu.Unlock()
			if len(batch) == 0 {
				break
			}

			for _, fn := range batch {
				select {
				case <-ctx.Done():
					return
				case <-l.done:
					return
				default:
				}
				l.run(fn)
			}
		}
	}
}

// Stop ends the loop. It is safe to call multiple times.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() { close(l.done) })
}

// Done is closed once the loop has stopped.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

func (l *Loop) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[eventloop] task panicked: %v", r)
		}
	}()
	fn()
}
