package orphan

import (
	"context"
	"log"
	"time"

	"github.com/friendlychat/chat-app/internal/metrics"
)

const (
	// DefaultSweepInterval is how often the sweeper retries deletes.
	DefaultSweepInterval = 5 * time.Minute

	// DefaultSweepBatch bounds the deletes attempted per pass.
	DefaultSweepBatch = 50
)

// Deleter removes objects from the object store.
type Deleter interface {
	Delete(ctx context.Context, name string) error
}

// Sweeper retries deletes for recorded orphans.
type Sweeper struct {
	store    Store
	objects  Deleter
	interval time.Duration
	batch    int
}

// NewSweeper returns a sweeper with default interval and batch size.
func NewSweeper(store Store, objects Deleter) *Sweeper {
	return &Sweeper{store: store, objects: objects, interval: DefaultSweepInterval, batch: DefaultSweepBatch}
}

// WithInterval overrides the sweep interval.
func (s *Sweeper) WithInterval(d time.Duration) *Sweeper {
	if d > 0 {
		s.interval = d
	}
	return s
}

// Run sweeps once immediately and then on every tick until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
			log.Printf("[orphan] sweep: %v", err)
		}

		select {
		case <-ctx.Done():
			log.Println("[orphan] sweeper stopped")
			return
		case <-ticker.C:
		}
	}
}

// SweepOnce attempts to delete one batch of pending orphans and returns how
// many were removed.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	entries, err := s.store.Pending(ctx, s.batch)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, e := range entries {
		if err := s.objects.Delete(ctx, e.ObjectName); err != nil {
			log.Printf("[orphan] delete %s (attempt %d): %v", e.ObjectName, e.Attempts+1, err)
			if err := s.store.MarkFailed(ctx, e.ID, err.Error()); err != nil {
				return removed, err
			}
			continue
		}
		if err := s.store.MarkSwept(ctx, e.ID); err != nil {
			return removed, err
		}
		removed++
		metrics.OrphanedObjects.WithLabelValues("swept").Inc()
	}

	if removed > 0 {
		log.Printf("[orphan] swept %d objects", removed)
	}
	return removed, nil
}
