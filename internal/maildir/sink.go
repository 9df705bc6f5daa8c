package maildir

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tengjizhang/rss2maildir/internal/identity"
	"github.com/tengjizhang/rss2maildir/internal/model"
)

// Sink turns entries into messages and appends them to folders. Appends from
// one Sink are serialized, and each append also holds the folder lock so
// concurrent runs sharing a folder do not interleave.
type Sink struct {
	recipient string
	log       *zap.Logger
	now       func() time.Time

	mu      sync.Mutex
	folders map[string]*Folder
}

func NewSink(recipient string, log *zap.Logger) *Sink {
	if log == nil {
		log = zap.NewNop()
	}
	return &Sink{
		recipient: recipient,
		log:       log,
		now:       time.Now,
		folders:   make(map[string]*Folder),
	}
}

// Deliver appends one message for e to the folder at path. origin becomes the
// From header. Either the whole message lands in new/ or nothing does.
func (s *Sink) Deliver(path string, e model.Entry, origin string) error {
	date, source := ResolveDate(e, s.now())
	raw, err := Message{
		From:    origin,
		To:      s.recipient,
		Subject: e.Title,
		Date:    date,
		Body:    e.Link + "\n" + e.Summary,
	}.Render()
	if err != nil {
		return fmt.Errorf("%w: render %s: %v", ErrDelivery, identity.Describe(e), err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	folder, err := s.folder(path)
	if err != nil {
		return fmt.Errorf("%w: %s: %s: %v", ErrDelivery, path, identity.Describe(e), err)
	}
	if err := folder.WithLock(func() error { return folder.Append(raw) }); err != nil {
		return fmt.Errorf("%w: %s: %s: %v", ErrDelivery, path, identity.Describe(e), err)
	}
	s.log.Debug("delivered entry",
		zap.String("folder", path),
		zap.String("identity", identity.Describe(e)),
		zap.String("date_source", string(source)),
	)
	return nil
}

func (s *Sink) folder(path string) (*Folder, error) {
	if f, ok := s.folders[path]; ok {
		return f, nil
	}
	f, err := OpenFolder(path)
	if err != nil {
		return nil, err
	}
	s.folders[path] = f
	return f, nil
}
