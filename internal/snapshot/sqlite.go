package snapshot

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tengjizhang/rss2maildir/internal/model"
)

// SQLiteStore keeps one row per feed. Each Save is a single upsert, so a
// concurrent Load sees either the old or the new payload.
type SQLiteStore struct {
	db *sql.DB
}

func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := openDB(path)
	if err != nil {
		return nil, fmt.Errorf("open snapshot db: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Load(ctx context.Context, feedName string) (*model.Snapshot, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM snapshots WHERE feed_name = ?`, feedName).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot %s: %w", feedName, err)
	}
	return decodeRecord(feedName, payload)
}

func (s *SQLiteStore) Peek(ctx context.Context, feedName string) (*model.Snapshot, error) {
	return s.Load(ctx, feedName)
}

func (s *SQLiteStore) Save(ctx context.Context, feedName string, snap model.Snapshot) error {
	payload, err := encodeRecord(feedName, snap)
	if err != nil {
		return fmt.Errorf("encode snapshot %s: %w", feedName, err)
	}
	savedAt := snap.SavedAt
	if savedAt.IsZero() {
		savedAt = time.Now()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO snapshots(feed_name, version, payload, saved_at, entry_count)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(feed_name) DO UPDATE SET
			version = excluded.version,
			payload = excluded.payload,
			saved_at = excluded.saved_at,
			entry_count = excluded.entry_count
	`, feedName, recordVersion, payload, savedAt.UTC().Format(time.RFC3339Nano), len(snap.Entries))
	if err != nil {
		return fmt.Errorf("write snapshot %s: %w", feedName, err)
	}
	return nil
}

func (s *SQLiteStore) Flush(context.Context) error { return nil }

func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
