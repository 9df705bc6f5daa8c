package fetch

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tengjizhang/rss2maildir/internal/config"
)

func newTestFetcher(format config.SummaryFormat) *Fetcher {
	return NewFetcher(config.Config{
		HTTPTimeout:   5 * time.Second,
		UserAgent:     "rss2maildir-test/1.0",
		SummaryFormat: format,
	})
}

func serveFeed(t *testing.T, contentType, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", contentType)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}
