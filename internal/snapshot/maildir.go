package snapshot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/emersion/go-message/mail"
	"go.uber.org/zap"

	"github.com/tengjizhang/rss2maildir/internal/maildir"
	"github.com/tengjizhang/rss2maildir/internal/model"
)

// MaildirStore keeps snapshots as messages in a dedicated maildir folder, one
// message per feed with the feed name as Subject.
//
// Records are single use: Load removes every record of the feed it reads.
// Saves are buffered and appended by Flush. Feeds that were loaded but not
// saved again (for example because their fetch failed) get their previous
// snapshot appended back on Flush, so a baseline is never dropped.
type MaildirStore struct {
	folder    *maildir.Folder
	sender    string
	recipient string
	log       *zap.Logger
	now       func() time.Time
	remove    func(key string) error

	mu       sync.Mutex
	consumed map[string]model.Snapshot
	pending  map[string]model.Snapshot
}

func NewMaildirStore(path, sender, recipient string, log *zap.Logger) (*MaildirStore, error) {
	if log == nil {
		log = zap.NewNop()
	}
	folder, err := maildir.OpenFolder(path)
	if err != nil {
		return nil, fmt.Errorf("open snapshot folder: %w", err)
	}
	return &MaildirStore{
		folder:    folder,
		remove:    folder.Remove,
		sender:    sender,
		recipient: recipient,
		log:       log,
		now:       time.Now,
		consumed:  make(map[string]model.Snapshot),
		pending:   make(map[string]model.Snapshot),
	}, nil
}

type taggedRecord struct {
	key  string
	snap *model.Snapshot
	err  error
}

func (s *MaildirStore) Load(ctx context.Context, feedName string) (*model.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var found []taggedRecord
	err := s.folder.WithLock(func() error {
		var scanErr error
		found, scanErr = s.scan(feedName)
		if scanErr != nil {
			return scanErr
		}
		for _, r := range found {
			if err := s.remove(r.key); err != nil {
				return fmt.Errorf("remove consumed record: %w", err)
			}
			// Removed records are restored by Flush unless the feed is saved again.
			if r.snap != nil {
				if prev, ok := s.consumed[feedName]; !ok || r.snap.SavedAt.After(prev.SavedAt) {
					s.consumed[feedName] = *r.snap
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load snapshot %s: %w", feedName, err)
	}

	newest, corrupt := pickNewest(found)
	if newest == nil {
		if corrupt != nil {
			return nil, corrupt
		}
		return nil, nil
	}
	if len(found) > 1 {
		s.log.Warn("multiple snapshot records for feed; kept the newest",
			zap.String("feed", feedName),
			zap.Int("records", len(found)),
		)
	}
	return newest, nil
}

// Peek reads the newest record of feedName without consuming it. Listing the
// folder still moves messages from new/ to cur/, which leaves the records
// themselves untouched.
func (s *MaildirStore) Peek(ctx context.Context, feedName string) (*model.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var found []taggedRecord
	err := s.folder.WithLock(func() error {
		var scanErr error
		found, scanErr = s.scan(feedName)
		return scanErr
	})
	if err != nil {
		return nil, err
	}
	newest, corrupt := pickNewest(found)
	if newest == nil {
		return nil, corrupt
	}
	return newest, nil
}

func (s *MaildirStore) Save(ctx context.Context, feedName string, snap model.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[feedName] = snap
	delete(s.consumed, feedName)
	return nil
}

// Flush appends one record per saved or consumed-but-unsaved feed.
func (s *MaildirStore) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	toWrite := make(map[string]model.Snapshot, len(s.pending)+len(s.consumed))
	for name, snap := range s.consumed {
		toWrite[name] = snap
	}
	for name, snap := range s.pending {
		toWrite[name] = snap
	}
	if len(toWrite) == 0 {
		return nil
	}
	names := make([]string, 0, len(toWrite))
	for name := range toWrite {
		names = append(names, name)
	}
	sort.Strings(names)

	var errs []error
	err := s.folder.WithLock(func() error {
		for _, name := range names {
			if err := ctx.Err(); err != nil {
				errs = append(errs, err)
				return nil
			}
			if err := s.appendRecord(name, toWrite[name]); err != nil {
				errs = append(errs, fmt.Errorf("save snapshot %s: %w", name, err))
				continue
			}
			delete(s.pending, name)
			delete(s.consumed, name)
		}
		return nil
	})
	if err != nil {
		return err
	}
	return errors.Join(errs...)
}

func (s *MaildirStore) Close() error {
	return s.Flush(context.Background())
}

func (s *MaildirStore) appendRecord(feedName string, snap model.Snapshot) error {
	payload, err := encodeRecord(feedName, snap)
	if err != nil {
		return err
	}
	raw, err := maildir.Message{
		From:        s.sender,
		To:          s.recipient,
		Subject:     feedName,
		Date:        s.now(),
		Body:        string(payload),
		ContentType: "application/json",
	}.Render()
	if err != nil {
		return err
	}
	return s.folder.Append(raw)
}

// scan returns every record tagged with feedName. Callers hold the lock.
func (s *MaildirStore) scan(feedName string) ([]taggedRecord, error) {
	keys, err := s.folder.Keys()
	if err != nil {
		return nil, err
	}
	var out []taggedRecord
	for _, key := range keys {
		entity, err := s.folder.Read(key)
		if err != nil {
			s.log.Warn("skipping unreadable message in snapshot folder", zap.String("key", key), zap.Error(err))
			continue
		}
		h := mail.Header{Header: entity.Header}
		subject, err := h.Subject()
		if err != nil || subject != feedName {
			continue
		}
		body, err := io.ReadAll(entity.Body)
		if err != nil {
			out = append(out, taggedRecord{key: key, err: fmt.Errorf("%w: %s: %v", ErrCorrupt, feedName, err)})
			continue
		}
		snap, err := decodeRecord(feedName, body)
		out = append(out, taggedRecord{key: key, snap: snap, err: err})
	}
	return out, nil
}

func pickNewest(records []taggedRecord) (*model.Snapshot, error) {
	var newest *model.Snapshot
	var firstErr error
	for _, r := range records {
		if r.err != nil {
			if firstErr == nil {
				firstErr = r.err
			}
			continue
		}
		if newest == nil || r.snap.SavedAt.After(newest.SavedAt) {
			newest = r.snap
		}
	}
	return newest, firstErr
}
