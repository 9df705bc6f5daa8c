// Package maildir delivers feed entries as messages into maildir folders.
package maildir

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	gomaildir "github.com/emersion/go-maildir"
	"github.com/emersion/go-message"
	"github.com/gofrs/flock"
)

// ErrDelivery wraps every failure to add a message to a folder.
var ErrDelivery = errors.New("delivery failed")

// Folder is one maildir directory guarded by an exclusive lock file that sits
// next to it. The lock is advisory and only coordinates rss2maildir processes.
type Folder struct {
	dir  gomaildir.Dir
	lock *flock.Flock
}

// OpenFolder returns the folder at path, creating the maildir layout if it
// does not exist yet.
func OpenFolder(path string) (*Folder, error) {
	path = filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dir := gomaildir.Dir(path)
	if err := dir.Init(); err != nil {
		return nil, fmt.Errorf("init maildir %s: %w", path, err)
	}
	return &Folder{
		dir:  dir,
		lock: flock.New(path + ".lock"),
	}, nil
}

func (f *Folder) Path() string {
	return string(f.dir)
}

// WithLock runs fn while holding the folder lock. The lock is released on
// every path out of fn.
func (f *Folder) WithLock(fn func() error) error {
	if err := f.lock.Lock(); err != nil {
		return fmt.Errorf("lock %s: %w", f.Path(), err)
	}
	defer func() {
		_ = f.lock.Unlock()
	}()
	return fn()
}

// Append adds raw as a new message. The message is written under tmp/ and
// only linked into new/ once fully written, so a failed append leaves nothing
// visible. Callers must hold the lock.
func (f *Folder) Append(raw []byte) error {
	d, err := gomaildir.NewDelivery(f.Path())
	if err != nil {
		return err
	}
	if _, err := io.Copy(d, bytes.NewReader(raw)); err != nil {
		_ = d.Abort()
		return err
	}
	return d.Close()
}

// Keys lists every message in the folder, moving unseen messages from new/ to
// cur/ first. Callers must hold the lock.
func (f *Folder) Keys() ([]string, error) {
	if _, err := f.dir.Unseen(); err != nil {
		return nil, err
	}
	return f.dir.Keys()
}

// Read parses the message stored under key.
func (f *Folder) Read(key string) (*message.Entity, error) {
	rc, err := f.dir.Open(key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	raw, err := io.ReadAll(rc)
	if err != nil {
		return nil, err
	}
	entity, err := message.Read(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) && !message.IsUnknownEncoding(err) {
		return nil, err
	}
	return entity, nil
}

func (f *Folder) Remove(key string) error {
	return f.dir.Remove(key)
}
