package sender

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/friendlychat/chat-app/internal/chat"
	"github.com/friendlychat/chat-app/internal/feed"
	"github.com/friendlychat/chat-app/internal/orphan"
	"github.com/friendlychat/chat-app/internal/ratelimit"
)

// flakyFeed is a memory feed whose appends can be made to fail.
type flakyFeed struct {
	*feed.MemoryFeed
	err error
}

func (f *flakyFeed) Append(ctx context.Context, m chat.Message) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.MemoryFeed.Append(ctx, m)
}

// memObjects is an in-memory object store.
type memObjects struct {
	mu        sync.Mutex
	objects   map[string][]byte
	uploadErr error
	deleteErr error
}

func newMemObjects() *memObjects {
	return &memObjects{objects: make(map[string][]byte)}
}

func (o *memObjects) Upload(ctx context.Context, name, contentType string, r io.Reader) (string, error) {
	if o.uploadErr != nil {
		return "", o.uploadErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	o.mu.Lock()
	o.objects[name] = data
	o.mu.Unlock()
	return "mem://" + name, nil
}

func (o *memObjects) Delete(ctx context.Context, name string) error {
	if o.deleteErr != nil {
		return o.deleteErr
	}
	o.mu.Lock()
	delete(o.objects, name)
	o.mu.Unlock()
	return nil
}

func (o *memObjects) has(name string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.objects[name]
	return ok
}

// names returns the stored object names ending in suffix.
func (o *memObjects) names(suffix string) []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []string
	for name := range o.objects {
		if strings.HasSuffix(name, suffix) {
			out = append(out, name)
		}
	}
	return out
}

type fixedLimit int

func (l fixedLimit) MaxMessageLength() int { return int(l) }

func writePhoto(t *testing.T) string {
	t.Helper()
	return writePhotoAt(t, t.TempDir(), "cat.png")
}

func writePhotoAt(t *testing.T, dir, base string) string {
	t.Helper()
	var buf bytes.Buffer
	png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 8, 8)))
	p := filepath.Join(dir, base)
	if err := os.WriteFile(p, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write photo: %v", err)
	}
	return p
}

func TestSendText_AliceSaysHi(t *testing.T) {
	f := feed.NewMemoryFeed()
	s := New(f, nil)

	key, err := s.SendText(context.Background(), "hi", "Alice")
	if err != nil {
		t.Fatalf("SendText() error: %v", err)
	}

	entries := f.Entries()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	m := entries[0]
	if m.Key != key || m.Text == nil || *m.Text != "hi" || m.PhotoURL != nil || m.Name != "Alice" {
		t.Errorf("unexpected record %+v", m)
	}
}

func TestSendText_Validation(t *testing.T) {
	f := feed.NewMemoryFeed()
	s := New(f, nil, WithLengthLimit(fixedLimit(5)))
	ctx := context.Background()

	if _, err := s.SendText(ctx, "   ", "Alice"); !errors.Is(err, chat.ErrEmptyText) {
		t.Errorf("expected ErrEmptyText, got %v", err)
	}
	if _, err := s.SendText(ctx, "toolong", "Alice"); !errors.Is(err, chat.ErrTooLong) {
		t.Errorf("expected ErrTooLong, got %v", err)
	}
	if _, err := s.SendText(ctx, "héllo", "Alice"); err != nil {
		t.Errorf("expected 5 runes to fit, got %v", err)
	}
	if f.Len() != 1 {
		t.Errorf("expected only the valid message appended, got %d", f.Len())
	}
}

func TestSendText_WriteRejected(t *testing.T) {
	f := &flakyFeed{MemoryFeed: feed.NewMemoryFeed(), err: errors.New("permission denied")}
	s := New(f, nil)

	_, err := s.SendText(context.Background(), "hi", "Alice")
	if !errors.Is(err, ErrWriteRejected) {
		t.Fatalf("expected ErrWriteRejected, got %v", err)
	}
	if f.Len() != 0 {
		t.Errorf("expected nothing appended, got %d", f.Len())
	}
}

func TestSendText_RateLimited(t *testing.T) {
	f := feed.NewMemoryFeed()
	rule := ratelimit.Rule{Key: "rl:append:", Limit: 2, Window: time.Minute}
	s := New(f, nil, WithRateLimit(ratelimit.NewLocalLimiter(), rule))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := s.SendText(ctx, "hi", "Alice"); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}
	_, err := s.SendText(ctx, "hi", "Alice")
	if !errors.Is(err, ErrRateLimited) || !errors.Is(err, ErrWriteRejected) {
		t.Fatalf("expected rate-limited write rejection, got %v", err)
	}
	if f.Len() != 2 {
		t.Errorf("expected 2 entries, got %d", f.Len())
	}
}

func TestSendText_BackendRateLimit(t *testing.T) {
	f := &flakyFeed{MemoryFeed: feed.NewMemoryFeed(), err: feed.ErrRateLimited}
	s := New(f, nil)

	if _, err := s.SendText(context.Background(), "hi", "Alice"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

func TestSendPhoto_AnonymousUploadSuccess(t *testing.T) {
	f := feed.NewMemoryFeed()
	objects := newMemObjects()
	s := New(f, objects)

	key, err := s.SendPhoto(context.Background(), writePhoto(t), chat.Anonymous)
	if err != nil {
		t.Fatalf("SendPhoto() error: %v", err)
	}

	names := objects.names("-cat.png")
	if len(names) != 1 || !strings.HasPrefix(names[0], "chat_photos/") {
		t.Fatalf("expected one chat_photos/<id>-cat.png object, got %v", names)
	}
	entries := f.Entries()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	m := entries[0]
	if m.Key != key || m.Text != nil || m.PhotoURL == nil || *m.PhotoURL != "mem://"+names[0] || m.Name != chat.Anonymous {
		t.Errorf("unexpected record %+v", m)
	}
}

func TestSendPhoto_UploadFailureAppendsNothing(t *testing.T) {
	f := feed.NewMemoryFeed()
	objects := newMemObjects()
	objects.uploadErr = errors.New("quota exceeded")
	s := New(f, objects)

	_, err := s.SendPhoto(context.Background(), writePhoto(t), chat.Anonymous)
	if !errors.Is(err, ErrUploadFailed) {
		t.Fatalf("expected ErrUploadFailed, got %v", err)
	}
	if f.Len() != 0 {
		t.Errorf("expected nothing appended, got %d", f.Len())
	}
}

func TestSendPhoto_NotAnImage(t *testing.T) {
	p := filepath.Join(t.TempDir(), "notes.txt")
	os.WriteFile(p, []byte("plain text"), 0o644)
	s := New(feed.NewMemoryFeed(), newMemObjects())

	if _, err := s.SendPhoto(context.Background(), p, "Alice"); !errors.Is(err, ErrUploadFailed) {
		t.Fatalf("expected ErrUploadFailed, got %v", err)
	}
}

func TestSendPhoto_AppendFailureDeletesObject(t *testing.T) {
	f := &flakyFeed{MemoryFeed: feed.NewMemoryFeed(), err: errors.New("permission denied")}
	objects := newMemObjects()
	s := New(f, objects)

	_, err := s.SendPhoto(context.Background(), writePhoto(t), "Alice")
	if !errors.Is(err, ErrWriteRejected) {
		t.Fatalf("expected ErrWriteRejected, got %v", err)
	}
	if names := objects.names("-cat.png"); len(names) != 0 {
		t.Errorf("expected compensating delete of the uploaded object, still have %v", names)
	}
}

func TestSendPhoto_FailedSendKeepsEarlierPhotoWithSameBaseName(t *testing.T) {
	f := &flakyFeed{MemoryFeed: feed.NewMemoryFeed()}
	objects := newMemObjects()
	s := New(f, objects)
	ctx := context.Background()

	if _, err := s.SendPhoto(ctx, writePhotoAt(t, t.TempDir(), "IMG_0001.png"), "Alice"); err != nil {
		t.Fatalf("SendPhoto(Alice) error: %v", err)
	}
	entries := f.Entries()
	if len(entries) != 1 || entries[0].PhotoURL == nil {
		t.Fatalf("expected Alice's photo message, got %+v", entries)
	}
	alice := strings.TrimPrefix(*entries[0].PhotoURL, "mem://")

	f.err = errors.New("permission denied")
	if _, err := s.SendPhoto(ctx, writePhotoAt(t, t.TempDir(), "IMG_0001.png"), "Bob"); !errors.Is(err, ErrWriteRejected) {
		t.Fatalf("expected ErrWriteRejected, got %v", err)
	}

	if !objects.has(alice) {
		t.Fatalf("expected %s to survive Bob's failed send", alice)
	}
	if names := objects.names("-IMG_0001.png"); len(names) != 1 {
		t.Errorf("expected only Alice's object left, got %v", names)
	}
}

func TestSendPhoto_OrphanRecordedWhenDeleteFails(t *testing.T) {
	f := &flakyFeed{MemoryFeed: feed.NewMemoryFeed(), err: errors.New("permission denied")}
	objects := newMemObjects()
	objects.deleteErr = errors.New("object store unavailable")

	ledger, err := orphan.NewSQLite(filepath.Join(t.TempDir(), "orphans.db"))
	if err != nil {
		t.Fatalf("NewSQLite() error: %v", err)
	}
	defer ledger.Close()

	s := New(f, objects, WithOrphanLedger(ledger))
	if _, err := s.SendPhoto(context.Background(), writePhoto(t), "Alice"); !errors.Is(err, ErrWriteRejected) {
		t.Fatalf("expected ErrWriteRejected, got %v", err)
	}

	pending, err := ledger.Pending(context.Background(), 10)
	if err != nil {
		t.Fatalf("Pending() error: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected 1 orphan, got %d", len(pending))
	}
	e := pending[0]
	if !strings.HasPrefix(e.ObjectName, "chat_photos/") || !strings.HasSuffix(e.ObjectName, "-cat.png") || e.Sender != "Alice" || e.Location != "mem://"+e.ObjectName {
		t.Errorf("unexpected orphan %+v", pending[0])
	}
}

func TestSendPhoto_NoObjectStore(t *testing.T) {
	s := New(feed.NewMemoryFeed(), nil)
	if _, err := s.SendPhoto(context.Background(), writePhoto(t), "Alice"); !errors.Is(err, ErrUploadFailed) {
		t.Fatalf("expected ErrUploadFailed, got %v", err)
	}
}
