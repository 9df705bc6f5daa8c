package model

import "time"

type OutputFormat string

const (
	OutputTable OutputFormat = "table"
	OutputJSON  OutputFormat = "json"
)

// Entry is one syndication item as normalized by the fetcher. Optional dates
// are nil when the source did not supply them; the raw strings are kept for
// date resolution at delivery time and for diagnostics.
type Entry struct {
	Title        string     `json:"title,omitempty"`
	Link         string     `json:"link,omitempty"`
	Summary      string     `json:"summary,omitempty"`
	PublishedRaw string     `json:"published_raw,omitempty"`
	UpdatedRaw   string     `json:"updated_raw,omitempty"`
	PublishedAt  *time.Time `json:"published_at,omitempty"`
	UpdatedAt    *time.Time `json:"updated_at,omitempty"`
}

// FetchedFeed is the result of one successful fetch of a feed document.
type FetchedFeed struct {
	Title   string  `json:"title"`
	Entries []Entry `json:"entries"`
}

// Snapshot is the full entry list observed for a feed at the end of a run.
type Snapshot struct {
	FeedName string    `json:"feed_name"`
	Title    string    `json:"title"`
	SavedAt  time.Time `json:"saved_at"`
	Entries  []Entry   `json:"entries"`
}

type FeedResult struct {
	Feed          string `json:"feed"`
	Folder        string `json:"folder"`
	Fetched       int    `json:"fetched"`
	New           int    `json:"new"`
	Delivered     int    `json:"delivered"`
	Failed        int    `json:"failed"`
	FirstRun      bool   `json:"first_run"`
	SnapshotSaved bool   `json:"snapshot_saved"`
	Error         string `json:"error,omitempty"`
}

type RunReport struct {
	StartedAt time.Time    `json:"started_at"`
	EndedAt   time.Time    `json:"ended_at"`
	DryRun    bool         `json:"dry_run,omitempty"`
	Results   []FeedResult `json:"results"`
	Warnings  []string     `json:"warnings,omitempty"`
}

// FeedStatus describes a configured feed for listing purposes.
type FeedStatus struct {
	Name        string     `json:"name"`
	URL         string     `json:"url"`
	Folder      string     `json:"folder"`
	HasSnapshot bool       `json:"has_snapshot"`
	Entries     int        `json:"entries"`
	SavedAt     *time.Time `json:"saved_at,omitempty"`
}
