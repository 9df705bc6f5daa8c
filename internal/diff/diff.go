// Package diff computes the entries of a fresh fetch that were not part of the
// previously persisted snapshot.
package diff

import (
	"github.com/tengjizhang/rss2maildir/internal/identity"
	"github.com/tengjizhang/rss2maildir/internal/model"
)

// NewEntries returns the entries of fresh whose identity does not occur in
// cached, in the order they appear in fresh.
//
// A nil cached snapshot means the feed has never completed a run: nothing is
// new, and the caller persists fresh as the baseline.
func NewEntries(fresh []model.Entry, cached *model.Snapshot) []model.Entry {
	out := make([]model.Entry, 0)
	if cached == nil {
		return out
	}

	seen := make(map[identity.Key]struct{}, len(cached.Entries))
	for _, e := range cached.Entries {
		if key, ok := identity.Of(e); ok {
			seen[key] = struct{}{}
		}
	}
	for _, e := range fresh {
		key, ok := identity.Of(e)
		if ok {
			if _, dup := seen[key]; dup {
				continue
			}
		}
		out = append(out, e)
	}
	return out
}
