package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/tengjizhang/rss2maildir/internal/config"
)

func unsetEnvForTest(t *testing.T, key string) {
	t.Helper()
	old, had := os.LookupEnv(key)
	if err := os.Unsetenv(key); err != nil {
		t.Fatalf("unset env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if had {
			_ = os.Setenv(key, old)
		} else {
			_ = os.Unsetenv(key)
		}
	})
}

func clearConfigEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"XDG_CONFIG_HOME",
		"RSS2MAILDIR_CONFIG",
		"RSS2MAILDIR_MAILDIR",
		"RSS2MAILDIR_CACHE",
		"RSS2MAILDIR_RECIPIENT",
		"RSS2MAILDIR_LOG_LEVEL",
	} {
		unsetEnvForTest(t, key)
	}
}

type feedServer struct {
	mu   sync.Mutex
	body string
}

func (s *feedServer) set(body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.body = body
}

func (s *feedServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/feed.xml" {
		http.NotFound(w, r)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	w.Header().Set("Content-Type", "application/rss+xml")
	_, _ = w.Write([]byte(s.body))
}

func rssDocument(items ...string) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0"?><rss version="2.0"><channel><title>Golem</title><link>https://golem.example</link>`)
	for _, id := range items {
		b.WriteString(`<item><title>Entry ` + id + `</title><link>https://golem.example/` + id + `</link>`)
		b.WriteString(`<description>about ` + id + `</description><pubDate>Sun, 31 May 2015 17:57:15 +0200</pubDate></item>`)
	}
	b.WriteString(`</channel></rss>`)
	return b.String()
}

func writeTestConfig(t *testing.T, feedURL string) (cfgPath, mailRoot string) {
	t.Helper()
	dir := t.TempDir()
	mailRoot = filepath.Join(dir, "mail")
	cfgPath = filepath.Join(dir, "config.toml")
	body := "[general]\n" +
		`maildir = "` + mailRoot + `"` + "\n" +
		`cache = "` + filepath.Join(dir, "cache") + `"` + "\n" +
		`recipient = "me@localhost"` + "\n" +
		`log_level = "error"` + "\n\n" +
		"[[feeds]]\n" +
		`name = "golem"` + "\n" +
		`url = "` + feedURL + `"` + "\n"
	if err := os.WriteFile(cfgPath, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return cfgPath, mailRoot
}

func runRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args)
	err := root.Execute()
	return stdout.String(), err
}

func countNew(t *testing.T, folder string) int {
	t.Helper()
	entries, err := os.ReadDir(filepath.Join(folder, "new"))
	if err != nil {
		t.Fatalf("read %s/new: %v", folder, err)
	}
	return len(entries)
}

func TestRootCommandDeliversOnlyNewEntries(t *testing.T) {
	clearConfigEnv(t)
	srv := &feedServer{}
	srv.set(rssDocument("a", "b", "c"))
	ts := httptest.NewServer(srv)
	defer ts.Close()

	cfgPath, mailRoot := writeTestConfig(t, ts.URL+"/feed.xml")

	out, err := runRoot(t, "-c", cfgPath, "-o", "json")
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	var rep RunReport
	if err := json.Unmarshal([]byte(out), &rep); err != nil {
		t.Fatalf("decode report: %v (%s)", err, out)
	}
	if len(rep.Results) != 1 || !rep.Results[0].FirstRun || rep.Results[0].Delivered != 0 {
		t.Fatalf("unexpected first run report: %+v", rep)
	}

	srv.set(rssDocument("d", "a", "b", "c"))
	out, err = runRoot(t, "-c", cfgPath, "-o", "json")
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	rep = RunReport{}
	if err := json.Unmarshal([]byte(out), &rep); err != nil {
		t.Fatalf("decode report: %v (%s)", err, out)
	}
	if rep.Results[0].Delivered != 1 || rep.Results[0].Error != "" {
		t.Fatalf("unexpected second run report: %+v", rep)
	}
	folder := filepath.Join(mailRoot, ".golem")
	if got := countNew(t, folder); got != 1 {
		t.Fatalf("expected 1 message in %s, got %d", folder, got)
	}

	if _, err := runRoot(t, "-c", cfgPath); err != nil {
		t.Fatalf("third run: %v", err)
	}
	if got := countNew(t, folder); got != 1 {
		t.Fatalf("expected rerun to deliver nothing, got %d messages", got)
	}
}

func TestRootCommandFetchFailureIsNotFatal(t *testing.T) {
	clearConfigEnv(t)
	ts := httptest.NewServer(http.NotFoundHandler())
	defer ts.Close()
	cfgPath, _ := writeTestConfig(t, ts.URL+"/feed.xml")

	out, err := runRoot(t, "-c", cfgPath)
	if err != nil {
		t.Fatalf("fetch failures must not fail the run: %v", err)
	}
	if !strings.Contains(out, "golem") || !strings.Contains(out, "404") {
		t.Fatalf("expected table to report the failed feed, got:\n%s", out)
	}
}

func TestFeedsCommandReportsSnapshotState(t *testing.T) {
	clearConfigEnv(t)
	srv := &feedServer{}
	srv.set(rssDocument("a", "b"))
	ts := httptest.NewServer(srv)
	defer ts.Close()
	cfgPath, mailRoot := writeTestConfig(t, ts.URL+"/feed.xml")

	out, err := runRoot(t, "-c", cfgPath, "feeds", "-o", "json")
	if err != nil {
		t.Fatalf("feeds before run: %v", err)
	}
	var statuses []FeedStatus
	if err := json.Unmarshal([]byte(out), &statuses); err != nil {
		t.Fatalf("decode feeds: %v (%s)", err, out)
	}
	if len(statuses) != 1 || statuses[0].HasSnapshot {
		t.Fatalf("expected one feed without snapshot, got %+v", statuses)
	}
	if statuses[0].Folder != filepath.Join(mailRoot, ".golem") {
		t.Fatalf("unexpected folder %q", statuses[0].Folder)
	}

	if _, err := runRoot(t, "-c", cfgPath); err != nil {
		t.Fatalf("run: %v", err)
	}
	out, err = runRoot(t, "-c", cfgPath, "feeds", "-o", "json")
	if err != nil {
		t.Fatalf("feeds after run: %v", err)
	}
	statuses = nil
	if err := json.Unmarshal([]byte(out), &statuses); err != nil {
		t.Fatalf("decode feeds: %v (%s)", err, out)
	}
	if !statuses[0].HasSnapshot || statuses[0].Entries != 2 || statuses[0].SavedAt == nil {
		t.Fatalf("expected snapshot with 2 entries, got %+v", statuses[0])
	}
}

func TestRootCommandConfigErrors(t *testing.T) {
	clearConfigEnv(t)
	missing := filepath.Join(t.TempDir(), "nope.toml")
	_, err := runRoot(t, "-c", missing)
	if !errors.Is(err, config.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
	if code := ErrorExitCode(err); code != 2 {
		t.Fatalf("exit code = %d, want 2", code)
	}

	bad := filepath.Join(t.TempDir(), "bad.toml")
	if err := os.WriteFile(bad, []byte("[general]\nmaildir = 3\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	_, err = runRoot(t, "-c", bad)
	if code := ErrorExitCode(err); code != 2 {
		t.Fatalf("malformed config exit code = %d, want 2 (%v)", code, err)
	}
	if !strings.HasPrefix(FormatError(err), "Error [config]:") {
		t.Fatalf("unexpected formatted error: %s", FormatError(err))
	}
}

func TestRootCommandHelpNeedsNoConfig(t *testing.T) {
	clearConfigEnv(t)
	out, err := runRoot(t, "--help")
	if err != nil {
		t.Fatalf("help: %v", err)
	}
	for _, flag := range []string{"--config", "--cache", "--dry-run"} {
		if !strings.Contains(out, flag) {
			t.Fatalf("help output missing %s:\n%s", flag, out)
		}
	}
	if _, err := runRoot(t, "-o", "xml", "--help"); err != nil {
		t.Fatalf("help with bad output flag: %v", err)
	}
}

func TestErrorExitCode(t *testing.T) {
	if code := ErrorExitCode(nil); code != 0 {
		t.Fatalf("nil exit code = %d", code)
	}
	if code := ErrorExitCode(errors.New("boom")); code != 1 {
		t.Fatalf("internal exit code = %d", code)
	}
	if _, err := parseOutputFormat("xml"); ErrorExitCode(err) != 2 {
		t.Fatalf("invalid output format should map to 2")
	}
}

func TestRequiresApp(t *testing.T) {
	root := NewRootCmd()
	feeds, _, err := root.Find([]string{"feeds"})
	if err != nil {
		t.Fatalf("find feeds: %v", err)
	}
	if !requiresApp(feeds) || !requiresApp(root) {
		t.Fatalf("run and feeds require the app")
	}
	root.InitDefaultHelpCmd()
	help, _, err := root.Find([]string{"help"})
	if err != nil {
		t.Fatalf("find help: %v", err)
	}
	if requiresApp(help) {
		t.Fatalf("help must not require the app")
	}
}
