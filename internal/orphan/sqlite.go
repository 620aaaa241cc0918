package orphan

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps the ledger in a local SQLite file. It backs the terminal
// client, which has no server-side database.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLite opens or creates the ledger at path.
func NewSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("orphan: open sqlite: %w", err)
	}
	// A single writer avoids SQLITE_BUSY between the sender and the sweeper.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("orphan: set wal mode: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("orphan: migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS orphaned_objects (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		object_name TEXT NOT NULL UNIQUE,
		location TEXT NOT NULL DEFAULT '',
		sender TEXT NOT NULL DEFAULT '',
		reason TEXT NOT NULL DEFAULT '',
		attempts INTEGER NOT NULL DEFAULT 0,
		swept_at DATETIME,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_orphaned_objects_created ON orphaned_objects(created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Record implements Store.
func (s *SQLiteStore) Record(ctx context.Context, e Entry) error {
	if err := validate(e); err != nil {
		return err
	}

	const query = `
		INSERT INTO orphaned_objects (object_name, location, sender, reason)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(object_name) DO UPDATE
		SET reason = excluded.reason, swept_at = NULL`

	if _, err := s.db.ExecContext(ctx, query, e.ObjectName, e.Location, e.Sender, e.Reason); err != nil {
		return fmt.Errorf("orphan: insert: %w", err)
	}
	return nil
}

// Pending implements Store.
func (s *SQLiteStore) Pending(ctx context.Context, limit int) ([]Entry, error) {
	const query = `
		SELECT id, object_name, location, sender, reason, attempts, created_at
		FROM orphaned_objects
		WHERE swept_at IS NULL
		ORDER BY created_at, id
		LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("orphan: pending: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// MarkSwept implements Store.
func (s *SQLiteStore) MarkSwept(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE orphaned_objects SET swept_at = CURRENT_TIMESTAMP WHERE id = ?`, id); err != nil {
		return fmt.Errorf("orphan: mark swept: %w", err)
	}
	return nil
}

// MarkFailed implements Store.
func (s *SQLiteStore) MarkFailed(ctx context.Context, id int64, reason string) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE orphaned_objects SET attempts = attempts + 1, reason = ? WHERE id = ?`, reason, id); err != nil {
		return fmt.Errorf("orphan: mark failed: %w", err)
	}
	return nil
}

// Close closes the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
