package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/friendlychat/chat-app/internal/chat"
	"github.com/friendlychat/chat-app/internal/feed"
	"github.com/friendlychat/chat-app/internal/identity"
	"github.com/friendlychat/chat-app/internal/remoteconfig"
)

// syncBuffer is a goroutine-safe output sink.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

type harness struct {
	mem  *feed.MemoryFeed
	out  *syncBuffer
	in   *io.PipeWriter
	errc chan error
}

func startApp(t *testing.T, opts Options) *harness {
	t.Helper()
	r, w := io.Pipe()
	h := &harness{out: &syncBuffer{}, in: w, errc: make(chan error, 1)}

	if opts.Feed == nil {
		h.mem = feed.NewMemoryFeed()
		opts.Feed = h.mem
	}
	if opts.Identity == nil {
		p := identity.NewLocalProvider()
		opts.Identity = p
		opts.SignIn = p.SignIn
	}
	opts.In = r
	opts.Out = h.out

	a := New(opts)
	go func() { h.errc <- a.Run(context.Background()) }()
	t.Cleanup(func() { w.Close() })
	return h
}

func (h *harness) typeLine(t *testing.T, line string) {
	t.Helper()
	if _, err := fmt.Fprintln(h.in, line); err != nil {
		t.Fatalf("write input: %v", err)
	}
}

func (h *harness) waitOutput(t *testing.T, want string) {
	t.Helper()
	waitFor(t, fmt.Sprintf("output %q", want), func() bool {
		return strings.Contains(h.out.String(), want)
	})
}

func (h *harness) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-h.errc:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
	return nil
}

func TestApp_SignInSendSignOut(t *testing.T) {
	mem := feed.NewMemoryFeed()
	mem.Append(context.Background(), chat.NewText("welcome", "Bob"))

	h := startApp(t, Options{Feed: mem, Credential: "Alice"})

	h.waitOutput(t, "Alice signed in!")
	h.waitOutput(t, "Bob: welcome")

	h.typeLine(t, "hi")
	h.waitOutput(t, "Alice: hi")
	if mem.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", mem.Len())
	}

	// Blank lines are never sent.
	h.typeLine(t, "   ")

	h.typeLine(t, "/signout")
	h.waitOutput(t, "Come back soon")
	h.waitOutput(t, "-- cleared --")

	// Signed out users post as anonymous.
	h.typeLine(t, "after")
	waitFor(t, "anonymous append", func() bool { return mem.Len() == 3 })
	if got := mem.Entries()[2].Name; got != chat.Anonymous {
		t.Errorf("expected %q, got %q", chat.Anonymous, got)
	}

	h.typeLine(t, "/quit")
	if err := h.wait(t); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
}

func TestApp_CancelClosesSubscription(t *testing.T) {
	mem := feed.NewMemoryFeed()
	p := identity.NewLocalProvider()
	out := &syncBuffer{}
	r, w := io.Pipe()
	t.Cleanup(func() { w.Close() })

	a := New(Options{Feed: mem, Identity: p, SignIn: p.SignIn, Credential: "Alice", In: r, Out: out})
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- a.Run(ctx) }()

	waitFor(t, "subscription", func() bool { return mem.Subscribers() == 1 })
	cancel()

	select {
	case err := <-errc:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
	if n := mem.Subscribers(); n != 0 {
		t.Fatalf("expected subscription closed on cancel, %d still open", n)
	}
}

func TestApp_SignInFailureExits(t *testing.T) {
	errDenied := errors.New("denied")
	h := startApp(t, Options{
		Identity:   identity.NewLocalProvider(),
		SignIn:     func(context.Context, string) error { return errDenied },
		Credential: "token",
	})

	err := h.wait(t)
	if !errors.Is(err, errDenied) {
		t.Fatalf("expected sign-in error, got %v", err)
	}
	if !strings.Contains(h.out.String(), "Sign in failed") {
		t.Errorf("expected failure notice, got %q", h.out.String())
	}
}

func TestApp_SignInCommandFailureExits(t *testing.T) {
	h := startApp(t, Options{})

	h.typeLine(t, "/signin   ")
	if err := h.wait(t); !errors.Is(err, identity.ErrSignInFailed) {
		t.Fatalf("expected ErrSignInFailed, got %v", err)
	}
}

func TestApp_PauseResume(t *testing.T) {
	h := startApp(t, Options{Credential: "Alice"})
	h.waitOutput(t, "Alice signed in!")
	waitFor(t, "subscription", func() bool { return h.mem.Subscribers() == 1 })

	h.typeLine(t, "hello")
	h.waitOutput(t, "Alice: hello")

	h.typeLine(t, "/pause")
	h.waitOutput(t, "-- cleared --")
	waitFor(t, "detach", func() bool { return h.mem.Subscribers() == 0 })

	h.typeLine(t, "/resume")
	waitFor(t, "reattach", func() bool { return h.mem.Subscribers() == 1 })
	waitFor(t, "redelivery", func() bool {
		return strings.Count(h.out.String(), "Alice: hello") == 2
	})

	h.in.Close()
	if err := h.wait(t); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
}

func TestApp_RemoteLengthLimit(t *testing.T) {
	rc := remoteconfig.New(remoteconfig.SourceFunc(func(context.Context) (map[string]string, error) {
		return map[string]string{chat.LengthKey: "5"}, nil
	}), remoteconfig.Defaults())

	h := startApp(t, Options{Credential: "Alice", RemoteConfig: rc})
	waitFor(t, "config fetch", func() bool { return rc.MaxMessageLength() == 5 })

	h.typeLine(t, "too long for five")
	h.waitOutput(t, "Message too long, the limit is 5 characters")
	if h.mem.Len() != 0 {
		t.Errorf("expected nothing appended, got %d", h.mem.Len())
	}

	h.typeLine(t, "/quit")
	h.wait(t)
}

func TestApp_UnknownCommandAndMissingPhotoStore(t *testing.T) {
	h := startApp(t, Options{})

	h.typeLine(t, "/dance")
	h.waitOutput(t, "Unknown command /dance")

	h.typeLine(t, "/photo cat.jpg")
	h.waitOutput(t, "Could not send photo")

	h.typeLine(t, "/quit")
	h.wait(t)
}

func TestFormat(t *testing.T) {
	if got := Format(chat.NewText("hi", "Alice")); got != "Alice: hi" {
		t.Errorf("text: got %q", got)
	}
	if got := Format(chat.NewPhoto("https://example.com/cat.jpg", chat.Anonymous)); got != "anonymous: [photo] https://example.com/cat.jpg" {
		t.Errorf("photo: got %q", got)
	}
}
