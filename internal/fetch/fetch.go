package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/tengjizhang/rss2maildir/internal/config"
	"github.com/tengjizhang/rss2maildir/internal/model"
)

// ErrFetch wraps every failure to download or parse a feed document.
var ErrFetch = errors.New("fetch failed")

const maxFeedBytes = 16 << 20

type Fetcher struct {
	cfg      config.Config
	renderer *Renderer
	client   *http.Client
}

func NewFetcher(cfg config.Config) *Fetcher {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:   true,
		MaxIdleConns:        50,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     30 * time.Second,
	}

	return &Fetcher{
		cfg:      cfg,
		renderer: NewRenderer(),
		client: &http.Client{
			Timeout:   cfg.HTTPTimeout,
			Transport: transport,
		},
	}
}

// Fetch downloads and parses the feed at url. Items missing a link, summary
// or dates are returned with those fields empty.
func (f *Fetcher) Fetch(ctx context.Context, url string) (model.FetchedFeed, error) {
	if strings.TrimSpace(url) == "" {
		return model.FetchedFeed{}, fmt.Errorf("%w: no url", ErrFetch)
	}

	req, err := f.newFeedRequest(ctx, url)
	if err != nil {
		return model.FetchedFeed{}, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return model.FetchedFeed{}, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return model.FetchedFeed{}, fmt.Errorf("%w: http %d", ErrFetch, resp.StatusCode)
	}

	parsed, err := parseFeedResponse(resp.Body)
	if err != nil {
		return model.FetchedFeed{}, fmt.Errorf("%w: parse: %v", ErrFetch, err)
	}
	return f.normalize(parsed), nil
}

func (f *Fetcher) newFeedRequest(ctx context.Context, url string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	req.Header.Set("Accept", "application/xml, application/atom+xml, application/rss+xml, application/feed+json, text/xml, */*;q=0.8")
	return req, nil
}

func parseFeedResponse(body io.Reader) (*gofeed.Feed, error) {
	data, err := io.ReadAll(io.LimitReader(body, maxFeedBytes))
	if err != nil {
		return nil, err
	}
	return gofeed.NewParser().Parse(bytes.NewReader(data))
}

func (f *Fetcher) normalize(parsed *gofeed.Feed) model.FetchedFeed {
	out := model.FetchedFeed{
		Title:   strings.TrimSpace(parsed.Title),
		Entries: make([]model.Entry, 0, len(parsed.Items)),
	}
	for _, item := range parsed.Items {
		if item == nil {
			continue
		}
		summary := firstNonEmpty(item.Description, item.Content)
		if f.cfg.SummaryFormat == config.SummaryMarkdown {
			summary = f.renderer.HTMLToMarkdown(summary)
		}
		out.Entries = append(out.Entries, model.Entry{
			Title:        strings.TrimSpace(item.Title),
			Link:         strings.TrimSpace(item.Link),
			Summary:      summary,
			PublishedRaw: strings.TrimSpace(item.Published),
			UpdatedRaw:   strings.TrimSpace(item.Updated),
			PublishedAt:  item.PublishedParsed,
			UpdatedAt:    item.UpdatedParsed,
		})
	}
	return out
}
