package session

import (
	"context"
	"testing"

	"github.com/redis/go-redis/v9"
)

// newTestStore requires a running Redis on localhost:6379.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	store, err := NewStore(client, "test-gateway")
	if err != nil {
		client.Close()
		t.Skipf("redis not available: %v", err)
	}
	ctx := context.Background()
	t.Cleanup(func() {
		iter := client.Scan(ctx, 0, SessionPrefix+"test_*", 100).Iterator()
		for iter.Next(ctx) {
			client.Del(ctx, iter.Val())
		}
		client.Close()
	})
	return store
}

func TestStore_Lifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	id := "test_session_1"

	if err := store.Create(ctx, id, "Alice", "u1"); err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if err := store.UpdateStatus(ctx, id, StatusSubscribed); err != nil {
		t.Fatalf("UpdateStatus() error: %v", err)
	}
	if err := store.RecordAppend(ctx, id); err != nil {
		t.Fatalf("RecordAppend() error: %v", err)
	}

	rec, err := store.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if rec == nil {
		t.Fatal("expected record, got nil")
	}
	if rec.Name != "Alice" || rec.Status != StatusSubscribed || rec.Appends != 1 || rec.Server != "test-gateway" {
		t.Errorf("unexpected record %+v", rec)
	}

	if err := store.Delete(ctx, id); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	rec, err = store.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get() after delete error: %v", err)
	}
	if rec != nil {
		t.Errorf("expected nil after delete, got %+v", rec)
	}
}
