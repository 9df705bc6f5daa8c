// Package runner drives one pass over all configured feeds: load the previous
// snapshot, fetch, diff, deliver new entries, save the fresh snapshot.
package runner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tengjizhang/rss2maildir/internal/config"
	"github.com/tengjizhang/rss2maildir/internal/diff"
	"github.com/tengjizhang/rss2maildir/internal/identity"
	"github.com/tengjizhang/rss2maildir/internal/model"
	"github.com/tengjizhang/rss2maildir/internal/snapshot"
)

type Fetcher interface {
	Fetch(ctx context.Context, url string) (model.FetchedFeed, error)
}

type Sink interface {
	Deliver(folder string, e model.Entry, origin string) error
}

type Options struct {
	// DryRun fetches and diffs but neither delivers nor saves snapshots.
	DryRun bool
}

type Runner struct {
	cfg     config.Config
	store   snapshot.Store
	fetcher Fetcher
	sink    Sink
	log     *zap.Logger
	opts    Options
	now     func() time.Time
}

func New(cfg config.Config, store snapshot.Store, fetcher Fetcher, sink Sink, log *zap.Logger, opts Options) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{
		cfg:     cfg,
		store:   store,
		fetcher: fetcher,
		sink:    sink,
		log:     log,
		opts:    opts,
		now:     time.Now,
	}
}

type fetchOutcome struct {
	feed model.FetchedFeed
	err  error
}

// Run processes every configured feed. Failures are isolated per feed and
// per entry and reported in the result; Run itself never fails.
func (r *Runner) Run(ctx context.Context) model.RunReport {
	report := model.RunReport{
		StartedAt: r.now(),
		DryRun:    r.opts.DryRun,
		Results:   make([]model.FeedResult, 0, len(r.cfg.Feeds)),
	}

	outcomes := r.fetchAll(ctx, r.cfg.Feeds)
	for i, fc := range r.cfg.Feeds {
		report.Results = append(report.Results, r.runFeed(ctx, fc, outcomes[i]))
	}

	if err := r.store.Flush(ctx); err != nil {
		r.log.Error("flushing snapshots failed", zap.Error(err))
		report.Warnings = append(report.Warnings, fmt.Sprintf("flush snapshots: %v", err))
	}
	report.EndedAt = r.now()
	return report
}

// fetchAll fetches feeds with up to FetchConcurrency requests in flight.
// Outcomes are indexed like feeds so delivery keeps config order.
func (r *Runner) fetchAll(ctx context.Context, feeds []config.FeedConfig) []fetchOutcome {
	outcomes := make([]fetchOutcome, len(feeds))
	concurrency := r.cfg.FetchConcurrency
	if concurrency < 1 {
		concurrency = 1
	}
	if concurrency > len(feeds) {
		concurrency = len(feeds)
	}

	jobs := make(chan int)
	wg := sync.WaitGroup{}
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				outcomes[idx] = r.fetchOne(ctx, feeds[idx])
			}
		}()
	}
	for i := range feeds {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
	return outcomes
}

func (r *Runner) fetchOne(ctx context.Context, fc config.FeedConfig) fetchOutcome {
	if strings.TrimSpace(fc.URL) == "" {
		return fetchOutcome{err: errors.New("no viable url")}
	}
	r.log.Debug("downloading feed", zap.String("feed", fc.Name), zap.String("url", fc.URL))
	feed, err := r.fetcher.Fetch(ctx, fc.URL)
	return fetchOutcome{feed: feed, err: err}
}

func (r *Runner) runFeed(ctx context.Context, fc config.FeedConfig, fetched fetchOutcome) model.FeedResult {
	log := r.log.With(zap.String("feed", fc.Name))
	result := model.FeedResult{
		Feed:   fc.Name,
		Folder: r.cfg.TargetFolder(fc),
	}
	if err := ctx.Err(); err != nil {
		result.Error = err.Error()
		return result
	}

	cached, err := r.store.Load(ctx, fc.Name)
	switch {
	case errors.Is(err, snapshot.ErrCorrupt):
		log.Warn("stored snapshot is unreadable; treating feed as new", zap.Error(err))
		cached = nil
	case err != nil:
		log.Error("loading snapshot failed; skipping feed", zap.Error(err))
		result.Error = err.Error()
		return result
	}

	if fetched.err != nil {
		log.Warn("fetch failed; keeping previous snapshot", zap.String("url", fc.URL), zap.Error(fetched.err))
		result.Error = fetched.err.Error()
		return result
	}

	entries := fetched.feed.Entries
	result.Fetched = len(entries)
	result.FirstRun = cached == nil
	newEntries := diff.NewEntries(entries, cached)
	result.New = len(newEntries)

	origin := firstNonEmpty(fetched.feed.Title, cachedTitle(cached), fc.Name)
	for _, e := range newEntries {
		entryLog := log.With(zap.String("identity", identity.Describe(e)))
		if r.opts.DryRun {
			entryLog.Info("new entry (dry run)", zap.String("title", e.Title))
			continue
		}
		if err := r.sink.Deliver(result.Folder, e, origin); err != nil {
			result.Failed++
			entryLog.Error("delivery failed", zap.Error(err))
			continue
		}
		result.Delivered++
		entryLog.Info("new entry", zap.String("title", e.Title))
	}
	if len(newEntries) == 0 {
		log.Debug("no new messages", zap.Bool("first_run", result.FirstRun))
	}
	if r.opts.DryRun {
		return result
	}

	// The fetched list is saved regardless of delivery failures so a failed
	// entry is not redelivered as new on the next run.
	snap := model.Snapshot{
		FeedName: fc.Name,
		Title:    fetched.feed.Title,
		SavedAt:  r.now(),
		Entries:  entries,
	}
	if err := r.store.Save(ctx, fc.Name, snap); err != nil {
		log.Error("saving snapshot failed", zap.Error(err))
		result.Error = err.Error()
		return result
	}
	result.SnapshotSaved = true
	return result
}

func cachedTitle(s *model.Snapshot) string {
	if s == nil {
		return ""
	}
	return s.Title
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
