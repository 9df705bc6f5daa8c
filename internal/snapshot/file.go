package snapshot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/tengjizhang/rss2maildir/internal/model"
)

// FileStore keeps one JSON record per feed in a directory. Writes go to a
// temp file that is renamed over the old record, so readers see either the
// old or the new snapshot.
type FileStore struct {
	dir  string
	lock *flock.Flock
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create snapshot dir: %w", err)
	}
	return &FileStore{
		dir:  dir,
		lock: flock.New(filepath.Join(dir, ".lock")),
	}, nil
}

func (s *FileStore) path(feedName string) string {
	return filepath.Join(s.dir, feedName+".json")
}

func (s *FileStore) Load(ctx context.Context, feedName string) (*model.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var data []byte
	err := s.withLock(func() error {
		var readErr error
		data, readErr = os.ReadFile(s.path(feedName))
		return readErr
	})
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot %s: %w", feedName, err)
	}
	return decodeRecord(feedName, data)
}

func (s *FileStore) Peek(ctx context.Context, feedName string) (*model.Snapshot, error) {
	return s.Load(ctx, feedName)
}

func (s *FileStore) Save(ctx context.Context, feedName string, snap model.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := encodeRecord(feedName, snap)
	if err != nil {
		return fmt.Errorf("encode snapshot %s: %w", feedName, err)
	}
	return s.withLock(func() error {
		return writeFileAtomic(s.dir, s.path(feedName), data)
	})
}

func (s *FileStore) Flush(context.Context) error { return nil }

func (s *FileStore) Close() error { return nil }

func (s *FileStore) withLock(fn func() error) error {
	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("lock snapshot dir: %w", err)
	}
	defer func() {
		_ = s.lock.Unlock()
	}()
	return fn()
}

func writeFileAtomic(dir, target string, data []byte) (err error) {
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(target)+".*.tmp")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()
	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), target)
}
