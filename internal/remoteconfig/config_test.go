package remoteconfig

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/friendlychat/chat-app/internal/chat"
)

func countingSource(values map[string]string, err error, calls *int) Source {
	return SourceFunc(func(ctx context.Context) (map[string]string, error) {
		*calls++
		return values, err
	})
}

func TestDefaults(t *testing.T) {
	c := New(nil, Defaults())
	if got := c.Int(chat.LengthKey); got != 1000 {
		t.Fatalf("expected default 1000, got %d", got)
	}
	if got := c.MaxMessageLength(); got != 1000 {
		t.Errorf("expected 1000, got %d", got)
	}
	if err := c.Fetch(context.Background(), CacheTTL); err != nil {
		t.Errorf("Fetch() without source error: %v", err)
	}
}

func TestFetchFailureKeepsDefault(t *testing.T) {
	calls := 0
	c := New(countingSource(nil, errors.New("network unreachable"), &calls), Defaults())

	err := c.Fetch(context.Background(), CacheTTL)
	if !errors.Is(err, ErrFetchFailed) {
		t.Fatalf("expected ErrFetchFailed, got %v", err)
	}
	if got := c.Int(chat.LengthKey); got != 1000 {
		t.Errorf("expected 1000 after failed fetch, got %d", got)
	}
}

func TestFetchActivatesAndCaches(t *testing.T) {
	calls := 0
	c := New(countingSource(map[string]string{chat.LengthKey: "10"}, nil, &calls), Defaults())
	now := time.Unix(1_700_000_000, 0)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	if err := c.Fetch(ctx, CacheTTL); err != nil {
		t.Fatalf("Fetch() error: %v", err)
	}
	if got := c.Int(chat.LengthKey); got != 10 {
		t.Errorf("expected fetched 10, got %d", got)
	}

	now = now.Add(30 * time.Minute)
	c.Fetch(ctx, CacheTTL)
	if calls != 1 {
		t.Errorf("expected cached fetch, source called %d times", calls)
	}

	c.Fetch(ctx, CacheExpiration(true))
	if calls != 2 {
		t.Errorf("expected developer mode to bypass cache, source called %d times", calls)
	}

	now = now.Add(time.Hour)
	c.Fetch(ctx, CacheTTL)
	if calls != 3 {
		t.Errorf("expected refetch after expiry, source called %d times", calls)
	}
}

func TestIntFallsBackOnGarbage(t *testing.T) {
	calls := 0
	c := New(countingSource(map[string]string{chat.LengthKey: "lots"}, nil, &calls), Defaults())
	c.Fetch(context.Background(), 0)

	if got := c.Int(chat.LengthKey); got != 1000 {
		t.Errorf("expected default for unparsable value, got %d", got)
	}
	if got := c.String(chat.LengthKey); got != "lots" {
		t.Errorf("expected raw value, got %q", got)
	}
	if got := c.Int("unknown_key"); got != 0 {
		t.Errorf("expected 0 for unknown key, got %d", got)
	}
}

func TestFileSource(t *testing.T) {
	p := filepath.Join(t.TempDir(), "remote.yaml")
	os.WriteFile(p, []byte("friendly_msg_length: 140\nnested:\n  a: 1\n"), 0o644)

	values, err := NewFileSource(p).Values(context.Background())
	if err != nil {
		t.Fatalf("Values() error: %v", err)
	}
	if values[chat.LengthKey] != "140" {
		t.Errorf("expected 140, got %q", values[chat.LengthKey])
	}
	if _, ok := values["nested"]; ok {
		t.Error("expected nested mappings to be skipped")
	}

	if _, err := NewFileSource(filepath.Join(t.TempDir(), "missing.yaml")).Values(context.Background()); err == nil {
		t.Error("expected error for missing file")
	}
}
