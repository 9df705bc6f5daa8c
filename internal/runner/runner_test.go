package runner

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/tengjizhang/rss2maildir/internal/config"
	"github.com/tengjizhang/rss2maildir/internal/model"
	"github.com/tengjizhang/rss2maildir/internal/snapshot"
)

type fakeFetcher struct {
	mu    sync.Mutex
	feeds map[string]model.FetchedFeed
	errs  map[string]error
	calls []string
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) (model.FetchedFeed, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, url)
	if err := f.errs[url]; err != nil {
		return model.FetchedFeed{}, err
	}
	feed, ok := f.feeds[url]
	if !ok {
		return model.FetchedFeed{}, fmt.Errorf("no such feed %s", url)
	}
	return feed, nil
}

type delivery struct {
	folder string
	link   string
	origin string
}

type fakeSink struct {
	delivered []delivery
	failLinks map[string]bool
}

func (s *fakeSink) Deliver(folder string, e model.Entry, origin string) error {
	if s.failLinks[e.Link] {
		return errors.New("disk full")
	}
	s.delivered = append(s.delivered, delivery{folder: folder, link: e.Link, origin: origin})
	return nil
}

// corruptStore reports every snapshot as undecodable and records saves.
type corruptStore struct {
	saved map[string]model.Snapshot
}

func (s *corruptStore) Load(context.Context, string) (*model.Snapshot, error) {
	return nil, fmt.Errorf("%w: bad json", snapshot.ErrCorrupt)
}

func (s *corruptStore) Save(_ context.Context, name string, snap model.Snapshot) error {
	if s.saved == nil {
		s.saved = map[string]model.Snapshot{}
	}
	s.saved[name] = snap
	return nil
}

func (s *corruptStore) Flush(context.Context) error { return nil }
func (s *corruptStore) Close() error                { return nil }

func testConfig(t *testing.T, feeds ...config.FeedConfig) config.Config {
	t.Helper()
	return config.Config{
		MaildirRoot:      filepath.Join(t.TempDir(), "mail"),
		CacheDir:         filepath.Join(t.TempDir(), "cache"),
		FetchConcurrency: 2,
		Feeds:            feeds,
	}
}

func newFileStore(t *testing.T, cfg config.Config) snapshot.Store {
	t.Helper()
	store, err := snapshot.NewFileStore(cfg.CacheDir)
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	return store
}

func feedOf(title string, links ...string) model.FetchedFeed {
	feed := model.FetchedFeed{Title: title}
	for _, l := range links {
		feed.Entries = append(feed.Entries, model.Entry{Title: "entry " + l, Link: l})
	}
	return feed
}

func TestFirstRunDeliversNothingAndSavesSnapshot(t *testing.T) {
	cfg := testConfig(t, config.FeedConfig{Name: "golem", URL: "https://golem.example/rss"})
	store := newFileStore(t, cfg)
	fetcher := &fakeFetcher{feeds: map[string]model.FetchedFeed{
		"https://golem.example/rss": feedOf("Golem", "A", "B", "C"),
	}}
	sink := &fakeSink{}

	report := New(cfg, store, fetcher, sink, nil, Options{}).Run(context.Background())

	if len(sink.delivered) != 0 {
		t.Fatalf("expected no deliveries on first run, got %+v", sink.delivered)
	}
	res := report.Results[0]
	if !res.FirstRun || !res.SnapshotSaved || res.Fetched != 3 || res.New != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
	snap, err := store.Load(context.Background(), "golem")
	if err != nil || snap == nil {
		t.Fatalf("expected saved snapshot, got %v %v", snap, err)
	}
	if len(snap.Entries) != 3 || snap.Title != "Golem" {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

func TestSecondRunDeliversOnlyNewEntries(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, config.FeedConfig{Name: "golem", URL: "https://golem.example/rss"})
	store := newFileStore(t, cfg)
	fetcher := &fakeFetcher{feeds: map[string]model.FetchedFeed{
		"https://golem.example/rss": feedOf("Golem", "A", "B", "C"),
	}}
	sink := &fakeSink{}

	New(cfg, store, fetcher, sink, nil, Options{}).Run(ctx)
	fetcher.feeds["https://golem.example/rss"] = feedOf("Golem", "D", "A", "B", "C")
	report := New(cfg, store, fetcher, sink, nil, Options{}).Run(ctx)

	if len(sink.delivered) != 1 || sink.delivered[0].link != "D" {
		t.Fatalf("expected only D delivered, got %+v", sink.delivered)
	}
	want := filepath.Join(cfg.MaildirRoot, ".golem")
	if sink.delivered[0].folder != want || sink.delivered[0].origin != "Golem" {
		t.Fatalf("unexpected delivery: %+v", sink.delivered[0])
	}
	if res := report.Results[0]; res.Delivered != 1 || res.FirstRun {
		t.Fatalf("unexpected result: %+v", res)
	}

	// Same document again: nothing new.
	New(cfg, store, fetcher, sink, nil, Options{}).Run(ctx)
	if len(sink.delivered) != 1 {
		t.Fatalf("expected idempotent rerun, got %+v", sink.delivered)
	}
	snap, _ := store.Load(ctx, "golem")
	if len(snap.Entries) != 4 {
		t.Fatalf("expected 4 entries in snapshot, got %d", len(snap.Entries))
	}
}

func TestDeliveryFailureStillSavesSnapshot(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, config.FeedConfig{Name: "heise", URL: "https://heise.example/atom"})
	store := newFileStore(t, cfg)
	fetcher := &fakeFetcher{feeds: map[string]model.FetchedFeed{
		"https://heise.example/atom": feedOf("heise", "A"),
	}}
	sink := &fakeSink{failLinks: map[string]bool{"X": true}}

	New(cfg, store, fetcher, sink, nil, Options{}).Run(ctx)
	fetcher.feeds["https://heise.example/atom"] = feedOf("heise", "X", "Y", "A")
	report := New(cfg, store, fetcher, sink, nil, Options{}).Run(ctx)

	res := report.Results[0]
	if res.Delivered != 1 || res.Failed != 1 || !res.SnapshotSaved {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(sink.delivered) != 1 || sink.delivered[0].link != "Y" {
		t.Fatalf("expected Y delivered after X failed, got %+v", sink.delivered)
	}

	// The failed entry is part of the snapshot and is not retried.
	New(cfg, store, fetcher, sink, nil, Options{}).Run(ctx)
	if len(sink.delivered) != 1 {
		t.Fatalf("expected no redelivery, got %+v", sink.delivered)
	}
}

func TestFetchFailureKeepsSnapshotAndContinues(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t,
		config.FeedConfig{Name: "broken", URL: "https://broken.example/rss"},
		config.FeedConfig{Name: "nourl"},
		config.FeedConfig{Name: "ok", URL: "https://ok.example/rss"},
	)
	store := newFileStore(t, cfg)
	if err := store.Save(ctx, "broken", model.Snapshot{FeedName: "broken", Entries: feedOf("", "old").Entries}); err != nil {
		t.Fatalf("seed snapshot: %v", err)
	}
	fetcher := &fakeFetcher{
		feeds: map[string]model.FetchedFeed{"https://ok.example/rss": feedOf("OK", "A")},
		errs:  map[string]error{"https://broken.example/rss": errors.New("connection refused")},
	}

	report := New(cfg, store, fetcher, &fakeSink{}, nil, Options{}).Run(ctx)

	if len(report.Results) != 3 {
		t.Fatalf("expected three results, got %d", len(report.Results))
	}
	if res := report.Results[0]; res.Error == "" || res.SnapshotSaved {
		t.Fatalf("expected broken feed to fail without saving: %+v", res)
	}
	if res := report.Results[1]; res.Error == "" || res.SnapshotSaved {
		t.Fatalf("expected feed without url to fail: %+v", res)
	}
	if res := report.Results[2]; res.Error != "" || !res.SnapshotSaved {
		t.Fatalf("expected ok feed to succeed: %+v", res)
	}
	snap, _ := store.Load(ctx, "broken")
	if snap == nil || len(snap.Entries) != 1 || snap.Entries[0].Link != "old" {
		t.Fatalf("expected previous snapshot untouched, got %+v", snap)
	}
	for _, url := range fetcher.calls {
		if url == "" {
			t.Fatalf("feed without url must not be fetched")
		}
	}
}

func TestCorruptSnapshotTreatedAsFirstRun(t *testing.T) {
	cfg := testConfig(t, config.FeedConfig{Name: "golem", URL: "https://golem.example/rss"})
	store := &corruptStore{}
	fetcher := &fakeFetcher{feeds: map[string]model.FetchedFeed{
		"https://golem.example/rss": feedOf("Golem", "A", "B"),
	}}
	sink := &fakeSink{}

	report := New(cfg, store, fetcher, sink, nil, Options{}).Run(context.Background())

	if len(sink.delivered) != 0 {
		t.Fatalf("expected no deliveries, got %+v", sink.delivered)
	}
	if res := report.Results[0]; !res.FirstRun || !res.SnapshotSaved {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(store.saved["golem"].Entries) != 2 {
		t.Fatalf("expected snapshot overwritten, got %+v", store.saved)
	}
}

func TestSharedAndExplicitFolders(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t,
		config.FeedConfig{Name: "shared", URL: "https://shared.example/rss", UsesSharedFolder: true},
		config.FeedConfig{Name: "custom", URL: "https://custom.example/rss", Folder: "/tmp/custom-box"},
	)
	store := newFileStore(t, cfg)
	fetcher := &fakeFetcher{feeds: map[string]model.FetchedFeed{
		"https://shared.example/rss": feedOf("", "A"),
		"https://custom.example/rss": feedOf("Custom", "B"),
	}}
	sink := &fakeSink{}

	New(cfg, store, fetcher, sink, nil, Options{}).Run(ctx)
	fetcher.feeds["https://shared.example/rss"] = feedOf("", "A2", "A")
	fetcher.feeds["https://custom.example/rss"] = feedOf("Custom", "B2", "B")
	New(cfg, store, fetcher, sink, nil, Options{}).Run(ctx)

	if len(sink.delivered) != 2 {
		t.Fatalf("expected two deliveries, got %+v", sink.delivered)
	}
	if d := sink.delivered[0]; d.folder != cfg.MaildirRoot || d.origin != "shared" {
		t.Fatalf("unexpected shared delivery: %+v", d)
	}
	if d := sink.delivered[1]; d.folder != "/tmp/custom-box" || d.origin != "Custom" {
		t.Fatalf("unexpected custom delivery: %+v", d)
	}
}

func TestDryRunNeitherDeliversNorSaves(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, config.FeedConfig{Name: "golem", URL: "https://golem.example/rss"})
	store := newFileStore(t, cfg)
	if err := store.Save(ctx, "golem", model.Snapshot{FeedName: "golem", Entries: feedOf("", "A").Entries}); err != nil {
		t.Fatalf("seed snapshot: %v", err)
	}
	fetcher := &fakeFetcher{feeds: map[string]model.FetchedFeed{
		"https://golem.example/rss": feedOf("Golem", "B", "A"),
	}}
	sink := &fakeSink{}

	report := New(cfg, store, fetcher, sink, nil, Options{DryRun: true}).Run(ctx)

	if !report.DryRun || report.Results[0].New != 1 || report.Results[0].SnapshotSaved {
		t.Fatalf("unexpected report: %+v", report)
	}
	if len(sink.delivered) != 0 {
		t.Fatalf("dry run must not deliver, got %+v", sink.delivered)
	}
	snap, _ := store.Load(ctx, "golem")
	if len(snap.Entries) != 1 {
		t.Fatalf("dry run must not save, got %+v", snap)
	}
}
