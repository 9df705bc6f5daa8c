// Package snapshot persists, per feed, the entry list seen on the last
// successful run.
package snapshot

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/tengjizhang/rss2maildir/internal/config"
	"github.com/tengjizhang/rss2maildir/internal/model"
)

var (
	// ErrCorrupt marks a stored snapshot that cannot be decoded. Callers treat
	// it like a missing snapshot.
	ErrCorrupt = errors.New("snapshot corrupt")
)

// Store is implemented by every snapshot backend. Load returns (nil, nil)
// when no snapshot exists for the feed yet.
type Store interface {
	Load(ctx context.Context, feedName string) (*model.Snapshot, error)
	Save(ctx context.Context, feedName string, snap model.Snapshot) error
	// Flush makes every Save of the pass durable. It is called once after
	// all feeds were processed.
	Flush(ctx context.Context) error
	Close() error
}

// Peeker reads a snapshot without consuming it, so a later Load still sees it.
type Peeker interface {
	Peek(ctx context.Context, feedName string) (*model.Snapshot, error)
}

// Open builds the backend selected by cfg.
func Open(cfg config.Config, log *zap.Logger) (Store, error) {
	switch cfg.SnapshotBackend {
	case config.BackendFile, "":
		return NewFileStore(cfg.CacheDir)
	case config.BackendMaildir:
		return NewMaildirStore(cfg.MaildirCache, cfg.Sender, cfg.Recipient, log)
	case config.BackendSQLite:
		return OpenSQLiteStore(cfg.SQLitePath())
	default:
		return nil, fmt.Errorf("%w: unknown snapshot backend %q", config.ErrInvalidConfig, cfg.SnapshotBackend)
	}
}
