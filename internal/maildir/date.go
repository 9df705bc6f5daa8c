package maildir

import (
	"regexp"
	"strings"
	"time"

	"github.com/tengjizhang/rss2maildir/internal/model"
)

type DateSource string

const (
	DatePublished DateSource = "published"
	DateUpdated   DateSource = "updated"
	DateNow       DateSource = "now"
)

var publishedLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 MST",
	time.RFC822Z,
	time.RFC822,
}

// Matches a trailing numeric offset written with a colon, e.g. "+02:00".
var colonOffsetRegexp = regexp.MustCompile(`([+-]\d{2}):(\d{2})$`)

const updatedLayout = "2006-01-02T15:04:05Z0700"

// ResolveDate picks the message date for e: the published date, then the
// updated date, then now. Unparseable strings fall through to the next rule,
// so resolution never fails.
func ResolveDate(e model.Entry, now time.Time) (time.Time, DateSource) {
	if e.PublishedRaw != "" {
		if t, ok := parsePublished(e.PublishedRaw); ok {
			return t, DatePublished
		}
	}
	if e.PublishedAt != nil && !e.PublishedAt.IsZero() {
		return *e.PublishedAt, DatePublished
	}
	if e.UpdatedRaw != "" {
		if t, ok := ParseUpdated(e.UpdatedRaw); ok {
			return t, DateUpdated
		}
	}
	if e.UpdatedAt != nil && !e.UpdatedAt.IsZero() {
		return *e.UpdatedAt, DateUpdated
	}
	return now, DateNow
}

func parsePublished(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	for _, layout := range publishedLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// ParseUpdated parses ISO-8601 timestamps with a "Z", "+hhmm" or "+hh:mm"
// offset. Fractional seconds are accepted.
func ParseUpdated(raw string) (time.Time, bool) {
	raw = colonOffsetRegexp.ReplaceAllString(strings.TrimSpace(raw), "$1$2")
	t, err := time.Parse(updatedLayout, raw)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
