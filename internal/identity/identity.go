// Package identity decides whether two entries observed in different runs are
// the same logical item.
//
// Two entries are the same item iff their links are byte-equal. An entry
// without a link has no key and never matches anything, so it is treated as
// new on every run. Feeds that publish link-less items will redeliver them;
// preferring a permanent item id when present is a known followup.
package identity

import "github.com/tengjizhang/rss2maildir/internal/model"

type Key string

// Of returns the identity key of e. ok is false when e has no link.
func Of(e model.Entry) (key Key, ok bool) {
	if e.Link == "" {
		return "", false
	}
	return Key(e.Link), true
}

// Same reports whether a and b are the same item.
func Same(a, b model.Entry) bool {
	ka, ok := Of(a)
	if !ok {
		return false
	}
	kb, ok := Of(b)
	return ok && ka == kb
}

// Describe returns a printable identifier for log fields.
func Describe(e model.Entry) string {
	if key, ok := Of(e); ok {
		return string(key)
	}
	if e.Title != "" {
		return "(no link) " + e.Title
	}
	return "(no link)"
}
