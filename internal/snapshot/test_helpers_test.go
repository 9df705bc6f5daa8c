package snapshot

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/tengjizhang/rss2maildir/internal/model"
)

type backendCase struct {
	name string
	open func(t *testing.T) Store
}

func backends() []backendCase {
	return []backendCase{
		{name: "file", open: func(t *testing.T) Store {
			s, err := NewFileStore(filepath.Join(t.TempDir(), "cache"))
			if err != nil {
				t.Fatalf("new file store: %v", err)
			}
			return s
		}},
		{name: "maildir", open: func(t *testing.T) Store {
			s, err := NewMaildirStore(filepath.Join(t.TempDir(), "cachedir"), "rss2maildir", "me@localhost", nil)
			if err != nil {
				t.Fatalf("new maildir store: %v", err)
			}
			return s
		}},
		{name: "sqlite", open: func(t *testing.T) Store {
			s, err := OpenSQLiteStore(filepath.Join(t.TempDir(), "snapshots.db"))
			if err != nil {
				t.Fatalf("open sqlite store: %v", err)
			}
			t.Cleanup(func() { _ = s.Close() })
			return s
		}},
	}
}

func sampleSnapshot(name string, links ...string) model.Snapshot {
	snap := model.Snapshot{
		FeedName: name,
		Title:    "Feed " + name,
		SavedAt:  time.Date(2026, 10, 1, 8, 0, 0, 0, time.UTC),
	}
	for _, l := range links {
		snap.Entries = append(snap.Entries, model.Entry{
			Title:        "title " + l,
			Link:         l,
			Summary:      "summary " + l,
			PublishedRaw: "Sun, 31 May 2015 17:57:15 GMT",
		})
	}
	return snap
}

func entryLinks(snap *model.Snapshot) []string {
	out := make([]string, 0, len(snap.Entries))
	for _, e := range snap.Entries {
		out = append(out, e.Link)
	}
	return out
}
