package snapshot

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/tengjizhang/rss2maildir/internal/identity"
	"github.com/tengjizhang/rss2maildir/internal/model"
)

const recordVersion = 1

// record is the durable snapshot schema. Bump recordVersion on any
// incompatible change; older records then load as corrupt and the feed
// starts over with a fresh baseline.
type record struct {
	Version int           `json:"version"`
	Feed    string        `json:"feed"`
	Title   string        `json:"title,omitempty"`
	SavedAt time.Time     `json:"saved_at"`
	Entries []recordEntry `json:"entries"`
}

type recordEntry struct {
	Identity  string `json:"identity,omitempty"`
	Title     string `json:"title,omitempty"`
	Link      string `json:"link,omitempty"`
	Summary   string `json:"summary,omitempty"`
	Published string `json:"published,omitempty"`
	Updated   string `json:"updated,omitempty"`
}

func encodeRecord(feedName string, snap model.Snapshot) ([]byte, error) {
	rec := record{
		Version: recordVersion,
		Feed:    feedName,
		Title:   snap.Title,
		SavedAt: snap.SavedAt.UTC(),
		Entries: make([]recordEntry, 0, len(snap.Entries)),
	}
	if rec.SavedAt.IsZero() {
		rec.SavedAt = time.Now().UTC()
	}
	for _, e := range snap.Entries {
		key, _ := identity.Of(e)
		rec.Entries = append(rec.Entries, recordEntry{
			Identity:  string(key),
			Title:     e.Title,
			Link:      e.Link,
			Summary:   e.Summary,
			Published: e.PublishedRaw,
			Updated:   e.UpdatedRaw,
		})
	}
	return json.MarshalIndent(rec, "", " ")
}

func decodeRecord(feedName string, data []byte) (*model.Snapshot, error) {
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, feedName, err)
	}
	if rec.Version != recordVersion {
		return nil, fmt.Errorf("%w: %s: unsupported version %d", ErrCorrupt, feedName, rec.Version)
	}
	if rec.Feed != feedName {
		return nil, fmt.Errorf("%w: %s: record belongs to feed %q", ErrCorrupt, feedName, rec.Feed)
	}
	snap := &model.Snapshot{
		FeedName: rec.Feed,
		Title:    rec.Title,
		SavedAt:  rec.SavedAt,
		Entries:  make([]model.Entry, 0, len(rec.Entries)),
	}
	for _, e := range rec.Entries {
		snap.Entries = append(snap.Entries, model.Entry{
			Title:        e.Title,
			Link:         e.Link,
			Summary:      e.Summary,
			PublishedRaw: e.Published,
			UpdatedRaw:   e.Updated,
		})
	}
	return snap, nil
}
