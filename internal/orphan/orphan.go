// Package orphan records photos that were uploaded but never made it into
// the feed. The photo sender deletes such an object straight away; only when
// that delete fails too is the object written here, for the sweeper to retry.
package orphan

import (
	"context"
	"errors"
	"time"
)

// ErrInvalidEntry is returned when an entry has no object name.
var ErrInvalidEntry = errors.New("orphan: object name is required")

// Entry is one orphaned object.
type Entry struct {
	ID         int64
	ObjectName string
	Location   string
	Sender     string
	Reason     string
	Attempts   int
	CreatedAt  time.Time
}

// Store is the orphan ledger. Both the SQLite and PostgreSQL backends
// satisfy it.
type Store interface {
	// Record adds an entry. Recording the same object twice keeps one row.
	Record(ctx context.Context, e Entry) error

	// Pending returns unswept entries, oldest first.
	Pending(ctx context.Context, limit int) ([]Entry, error)

	// MarkSwept flags the entry as deleted from the object store.
	MarkSwept(ctx context.Context, id int64) error

	// MarkFailed counts a failed delete attempt.
	MarkFailed(ctx context.Context, id int64, reason string) error

	Close() error
}

func validate(e Entry) error {
	if e.ObjectName == "" {
		return ErrInvalidEntry
	}
	return nil
}
