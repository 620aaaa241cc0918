// Package app wires the feed core into a line-oriented terminal client.
// Typed lines are sent as text; lines starting with "/" are commands.
package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/friendlychat/chat-app/internal/chat"
	"github.com/friendlychat/chat-app/internal/eventloop"
	"github.com/friendlychat/chat-app/internal/feed"
	"github.com/friendlychat/chat-app/internal/identity"
	"github.com/friendlychat/chat-app/internal/remoteconfig"
	"github.com/friendlychat/chat-app/internal/sender"
	"github.com/friendlychat/chat-app/internal/session"
	"github.com/friendlychat/chat-app/internal/storage"
	"github.com/friendlychat/chat-app/internal/subscription"
	"github.com/friendlychat/chat-app/internal/viewmodel"
)

// ErrSignInUnsupported is returned by /signin when no sign-in flow is wired.
var ErrSignInUnsupported = errors.New("app: sign-in not supported by this identity provider")

// stopTimeout bounds how long shutdown waits for in-flight sends.
const stopTimeout = 5 * time.Second

// Options wires the client to its backends.
type Options struct {
	Feed     feed.Service
	Objects  storage.ObjectStore // nil disables /photo
	Identity identity.Provider

	// SignIn runs the provider's sign-in flow with a display name or an ID
	// token, depending on the provider.
	SignIn     func(ctx context.Context, credential string) error
	Credential string // signs in at startup when set

	RemoteConfig  *remoteconfig.Config
	DeveloperMode bool
	SenderOptions []sender.Option

	In  io.Reader
	Out io.Writer
}

// App is the terminal client. The gate, subscription state and view model
// are owned by its event loop; sends, sign-in and sign-out run on their own
// goroutines and report back through the loop.
type App struct {
	opts    Options
	loop    *eventloop.Loop
	view    *viewmodel.List
	manager *subscription.Manager
	gate    *session.Gate
	sender  *sender.Sender

	outMu sync.Mutex
	shown int // rows printed since the last clear; loop only

	inflight   sync.WaitGroup
	fatal      chan error
	loopExited chan struct{}
}

// New assembles the client. Nothing runs until Run.
func New(opts Options) *App {
	loop := eventloop.New(eventloop.DefaultQueueSize)
	view := viewmodel.New()

	a := &App{
		opts:       opts,
		loop:       loop,
		view:       view,
		fatal:      make(chan error, 1),
		loopExited: make(chan struct{}),
	}

	a.manager = subscription.New(opts.Feed, loop, view.Append)
	a.manager.OnCancel(func(err error) {
		a.notice("Feed unavailable: %v", err)
	})

	a.gate = session.NewGate(loop, opts.Identity, a.manager, view)
	a.gate.OnTransition(a.onTransition)
	view.OnChange(a.render)

	var sendOpts []sender.Option
	if opts.RemoteConfig != nil {
		sendOpts = append(sendOpts, sender.WithLengthLimit(opts.RemoteConfig))
	}
	sendOpts = append(sendOpts, opts.SenderOptions...)
	a.sender = sender.New(opts.Feed, opts.Objects, sendOpts...)

	return a
}

// Run drives the client until /quit, end of input, a fatal sign-in failure
// or ctx cancellation.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	log.Printf("[app] create")
	go func() {
		defer close(a.loopExited)
		a.loop.Run(ctx)
	}()
	a.fetchConfig(ctx)

	if a.opts.Credential != "" {
		if err := a.signIn(ctx, a.opts.Credential); err != nil {
			a.stop()
			return err
		}
	}
	a.start()

	lines := make(chan string)
	go readLines(a.opts.In, lines)

	for {
		select {
		case <-ctx.Done():
			a.stop()
			return ctx.Err()
		case err := <-a.fatal:
			a.stop()
			return err
		case line, ok := <-lines:
			if !ok || a.handle(ctx, line) {
				a.stop()
				return nil
			}
		}
	}
}

func readLines(r io.Reader, out chan<- string) {
	defer close(out)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		out <- scanner.Text()
	}
}

// handle processes one input line and reports whether the client should
// exit.
func (a *App) handle(ctx context.Context, line string) bool {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "/") {
		if chat.CanSend(line) {
			a.sendText(ctx, line)
		}
		return false
	}

	cmd, arg, _ := strings.Cut(trimmed, " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "/photo":
		if arg == "" {
			a.notice("Usage: /photo PATH")
			return false
		}
		a.sendPhoto(ctx, arg)
	case "/signin":
		a.goSignIn(ctx, arg)
	case "/signout":
		a.signOut(ctx)
	case "/pause":
		a.pause()
	case "/resume":
		a.start()
	case "/quit":
		return true
	default:
		a.notice("Unknown command %s", cmd)
	}
	return false
}

// -----------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------

func (a *App) start() {
	a.loop.Post(func() {
		log.Printf("[app] start")
		a.gate.Resume()
	})
}

func (a *App) pause() {
	a.loop.Post(func() {
		a.gate.Pause()
		log.Printf("[app] stop")
	})
}

// stop waits briefly for in-flight sends, detaches and stops the loop. When
// the loop is already gone, as after cancellation, the gate is paused here
// once the loop goroutine has exited.
func (a *App) stop() {
	done := make(chan struct{})
	go func() {
		a.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(stopTimeout):
		log.Printf("[app] gave up waiting for in-flight sends")
	}

	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	paused := false
	err := a.loop.Call(ctx, func() {
		a.gate.Pause()
		paused = true
		log.Printf("[app] stop")
	})
	a.loop.Stop()
	if err == nil {
		return
	}

	select {
	case <-a.loopExited:
		if !paused {
			a.gate.Pause()
			log.Printf("[app] stop")
		}
	case <-time.After(stopTimeout):
		log.Printf("[app] loop did not exit, subscription left open: %v", err)
	}
}

func (a *App) fetchConfig(ctx context.Context) {
	rc := a.opts.RemoteConfig
	if rc == nil {
		return
	}
	go func() {
		if err := rc.Fetch(ctx, remoteconfig.CacheExpiration(a.opts.DeveloperMode)); err != nil {
			log.Printf("[app] remote config: %v (limit stays %d)", err, rc.MaxMessageLength())
			return
		}
		log.Printf("[app] message length limit %d", rc.MaxMessageLength())
	}()
}

// -----------------------------------------------------------------------
// Identity
// -----------------------------------------------------------------------

func (a *App) signIn(ctx context.Context, credential string) error {
	if a.opts.SignIn == nil {
		a.notice("Sign in failed")
		return ErrSignInUnsupported
	}
	if err := a.opts.SignIn(ctx, credential); err != nil {
		a.notice("Sign in failed")
		return fmt.Errorf("app: sign in: %w", err)
	}
	return nil
}

// goSignIn runs the sign-in flow off the input loop. Failure ends the client.
func (a *App) goSignIn(ctx context.Context, credential string) {
	go func() {
		if err := a.signIn(ctx, credential); err != nil {
			select {
			case a.fatal <- err:
			default:
			}
		}
	}()
}

func (a *App) signOut(ctx context.Context) {
	go func() {
		if err := a.gate.SignOut(ctx); err != nil {
			a.notice("Sign out failed: %v", err)
			return
		}
		a.notice("Come back soon")
	}()
}

func (a *App) onTransition(prev, next session.Session) {
	if next.SignedIn && !prev.SignedIn {
		a.notice("%s signed in!", next.DisplayName)
	}
}

// -----------------------------------------------------------------------
// Sending
// -----------------------------------------------------------------------

// displayName reads the current name from the loop.
func (a *App) displayName(ctx context.Context) string {
	name := chat.Anonymous
	_ = a.loop.Call(ctx, func() { name = a.gate.DisplayName() })
	return name
}

func (a *App) sendText(ctx context.Context, body string) {
	name := a.displayName(ctx)
	a.inflight.Add(1)
	go func() {
		defer a.inflight.Done()
		key, err := a.sender.SendText(ctx, body, name)
		a.report("message", key, err)
	}()
}

func (a *App) sendPhoto(ctx context.Context, path string) {
	name := a.displayName(ctx)
	a.inflight.Add(1)
	go func() {
		defer a.inflight.Done()
		key, err := a.sender.SendPhoto(ctx, path, name)
		a.report("photo", key, err)
	}()
}

func (a *App) report(what, key string, err error) {
	a.loop.Post(func() {
		switch {
		case err == nil:
			log.Printf("[app] %s appended key=%s", what, key)
		case errors.Is(err, sender.ErrRateLimited):
			a.notice("Slow down, %s not sent", what)
		case errors.Is(err, chat.ErrTooLong):
			a.notice("Message too long, the limit is %d characters", a.limit())
		default:
			a.notice("Could not send %s: %v", what, err)
		}
	})
}

func (a *App) limit() int {
	if a.opts.RemoteConfig == nil {
		return chat.DefaultMaxLength
	}
	return a.opts.RemoteConfig.MaxMessageLength()
}

// -----------------------------------------------------------------------
// Rendering
// -----------------------------------------------------------------------

// render runs on the loop after every view model change.
func (a *App) render(n int) {
	if n == 0 {
		if a.shown > 0 {
			a.println("-- cleared --")
		}
		a.shown = 0
		return
	}
	for ; a.shown < n; a.shown++ {
		a.println(Format(a.view.At(a.shown)))
	}
}

// Format renders one message as a terminal row.
func Format(m chat.Message) string {
	if m.IsPhoto() {
		return fmt.Sprintf("%s: [photo] %s", m.Name, *m.PhotoURL)
	}
	return fmt.Sprintf("%s: %s", m.Name, m.Body())
}

func (a *App) notice(format string, args ...interface{}) {
	a.println("* " + fmt.Sprintf(format, args...))
}

func (a *App) println(s string) {
	if a.opts.Out == nil {
		return
	}
	a.outMu.Lock()
	defer a.outMu.Unlock()
	fmt.Fprintln(a.opts.Out, s)
}
