package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/user"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/tengjizhang/rss2maildir/internal/opml"
)

const (
	defaultFetchConcurrent = 4
	defaultHTTPTimeoutSec  = 20
)

const (
	defaultUserAgent  = "rss2maildir/0.2"
	defaultSender     = "rss2maildir"
	configFolderName  = "rss2maildir"
	configFileName    = "config.toml"
	configPathEnvName = "XDG_CONFIG_HOME"
)

var nameRegexp = regexp.MustCompile(`[^a-z0-9]+`)

// ErrInvalidConfig marks every error that prevents a run from starting.
var ErrInvalidConfig = errors.New("invalid config")

type SnapshotBackend string

const (
	BackendFile    SnapshotBackend = "file"
	BackendMaildir SnapshotBackend = "maildir"
	BackendSQLite  SnapshotBackend = "sqlite"
)

type SummaryFormat string

const (
	SummaryRaw      SummaryFormat = "raw"
	SummaryMarkdown SummaryFormat = "markdown"
)

type FeedConfig struct {
	Name string
	URL  string
	// Folder is an explicit delivery folder; empty means derived from the
	// global settings.
	Folder           string
	UsesSharedFolder bool
}

// Config is built once by Load and passed by value afterwards.
type Config struct {
	ConfigPath       string
	MaildirRoot      string
	CacheDir         string
	MaildirCache     string
	Sender           string
	Recipient        string
	UseSharedFolder  bool
	SnapshotBackend  SnapshotBackend
	SummaryFormat    SummaryFormat
	FetchConcurrency int
	HTTPTimeout      time.Duration
	UserAgent        string
	LogLevel         string
	LogFile          string
	Feeds            []FeedConfig
}

// Options carries command-line overrides; they win over env and file values.
// CacheDir relocates whichever snapshot storage is active: the cache
// directory, or the snapshot maildir folder when that backend is selected.
type Options struct {
	ConfigPath string
	CacheDir   string
	LogLevel   string
}

// TargetFolder resolves the maildir folder that receives f's messages.
func (c Config) TargetFolder(f FeedConfig) string {
	if f.Folder != "" {
		return f.Folder
	}
	if f.UsesSharedFolder {
		return c.MaildirRoot
	}
	return filepath.Join(c.MaildirRoot, "."+f.Name)
}

// SQLitePath is where the sqlite snapshot backend keeps its database.
func (c Config) SQLitePath() string {
	return filepath.Join(c.CacheDir, "snapshots.db")
}

func Load(opts Options) (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		MaildirRoot:      filepath.Join(home, ".mail", "rss"),
		CacheDir:         filepath.Join(home, ".cache", "rss2maildir"),
		MaildirCache:     filepath.Join(home, ".mail", "rss", "rss2maildircache"),
		Sender:           defaultSender,
		Recipient:        defaultRecipient(),
		SnapshotBackend:  BackendFile,
		SummaryFormat:    SummaryRaw,
		FetchConcurrency: defaultFetchConcurrent,
		HTTPTimeout:      defaultHTTPTimeoutSec * time.Second,
		UserAgent:        defaultUserAgent,
		LogLevel:         "info",
	}

	configPath := strings.TrimSpace(opts.ConfigPath)
	if configPath == "" {
		configPath = strings.TrimSpace(os.Getenv("RSS2MAILDIR_CONFIG"))
	}
	if configPath == "" {
		found, ok, err := findConfigPath(home)
		if err != nil {
			return Config{}, err
		}
		if !ok {
			return Config{}, fmt.Errorf("%w: no config file found (looked in $%s/%s and ~/.config/%s)", ErrInvalidConfig, configPathEnvName, configFolderName, configFolderName)
		}
		configPath = found
	}
	configPath = expandHome(configPath, home)
	cfg.ConfigPath = configPath

	fileCfg, err := loadFileConfig(configPath)
	if err != nil {
		return Config{}, err
	}
	if err := applyFileConfig(&cfg, fileCfg, home); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg, home)
	if v := strings.TrimSpace(opts.CacheDir); v != "" {
		cfg.CacheDir = expandHome(v, home)
		if cfg.SnapshotBackend == BackendMaildir {
			cfg.MaildirCache = cfg.CacheDir
		}
	}
	if v := strings.TrimSpace(opts.LogLevel); v != "" {
		cfg.LogLevel = v
	}

	if cfg.FetchConcurrency < 1 {
		cfg.FetchConcurrency = defaultFetchConcurrent
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = defaultHTTPTimeoutSec * time.Second
	}

	if fileCfg.General.OPML != nil {
		if err := appendOPMLFeeds(&cfg, expandHome(*fileCfg.General.OPML, home)); err != nil {
			return Config{}, err
		}
	}
	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type fileConfig struct {
	General generalSection `toml:"general" yaml:"general" json:"general"`
	Feeds   []feedSection  `toml:"feeds" yaml:"feeds" json:"feeds"`
}

type generalSection struct {
	Maildir            *string `toml:"maildir" yaml:"maildir" json:"maildir"`
	Cache              *string `toml:"cache" yaml:"cache" json:"cache"`
	MaildirCache       *string `toml:"maildir_cache" yaml:"maildir_cache" json:"maildir_cache"`
	Sender             *string `toml:"sender" yaml:"sender" json:"sender"`
	Recipient          *string `toml:"recipient" yaml:"recipient" json:"recipient"`
	UseSingleMaildir   *bool   `toml:"use_single_maildir" yaml:"use_single_maildir" json:"use_single_maildir"`
	UseMaildirCache    *bool   `toml:"use_maildir_cache" yaml:"use_maildir_cache" json:"use_maildir_cache"`
	SnapshotBackend    *string `toml:"snapshot_backend" yaml:"snapshot_backend" json:"snapshot_backend"`
	SummaryFormat      *string `toml:"summary_format" yaml:"summary_format" json:"summary_format"`
	FetchConcurrency   *int    `toml:"fetch_concurrency" yaml:"fetch_concurrency" json:"fetch_concurrency"`
	HTTPTimeoutSeconds *int    `toml:"http_timeout_seconds" yaml:"http_timeout_seconds" json:"http_timeout_seconds"`
	UserAgent          *string `toml:"user_agent" yaml:"user_agent" json:"user_agent"`
	LogLevel           *string `toml:"log_level" yaml:"log_level" json:"log_level"`
	LogFile            *string `toml:"log_file" yaml:"log_file" json:"log_file"`
	OPML               *string `toml:"opml" yaml:"opml" json:"opml"`
}

type feedSection struct {
	Name    string `toml:"name" yaml:"name" json:"name"`
	URL     string `toml:"url" yaml:"url" json:"url"`
	Maildir string `toml:"maildir" yaml:"maildir" json:"maildir"`
}

func findConfigPath(home string) (string, bool, error) {
	candidates := make([]string, 0, 2)
	if xdgConfigHome := strings.TrimSpace(os.Getenv(configPathEnvName)); xdgConfigHome != "" {
		candidates = append(candidates, filepath.Join(xdgConfigHome, configFolderName, configFileName))
	}
	candidates = append(candidates, filepath.Join(home, ".config", configFolderName, configFileName))

	for _, candidate := range candidates {
		info, err := os.Stat(candidate)
		if err == nil {
			if info.IsDir() {
				return "", false, fmt.Errorf("%w: config path %q is a directory; expected a file", ErrInvalidConfig, candidate)
			}
			return candidate, true, nil
		}
		if os.IsNotExist(err) {
			continue
		}
		return "", false, fmt.Errorf("failed to read config path %q: %w", candidate, err)
	}
	return "", false, nil
}

func loadFileConfig(path string) (fileConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fileConfig{}, fmt.Errorf("%w: config file %q does not exist", ErrInvalidConfig, path)
		}
		return fileConfig{}, fmt.Errorf("failed to read config file %q: %w", path, err)
	}
	defer f.Close()

	var cfg fileConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = decodeYAML(f, &cfg)
	case ".json":
		err = decodeJSON(f, &cfg)
	default:
		err = decodeTOML(f, &cfg)
	}
	if err != nil {
		return fileConfig{}, fmt.Errorf("%w: %q: %v", ErrInvalidConfig, path, err)
	}
	return cfg, nil
}

func decodeTOML(r io.Reader, cfg *fileConfig) error {
	meta, err := toml.NewDecoder(r).Decode(cfg)
	if err != nil {
		return err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		unknown := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			unknown = append(unknown, key.String())
		}
		sort.Strings(unknown)
		return fmt.Errorf("unknown key(s): %s", strings.Join(unknown, ", "))
	}
	return nil
}

func decodeYAML(r io.Reader, cfg *fileConfig) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func decodeJSON(r io.Reader, cfg *fileConfig) error {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	return dec.Decode(cfg)
}

func applyFileConfig(cfg *Config, fileCfg fileConfig, home string) error {
	g := fileCfg.General
	if g.Maildir != nil {
		cfg.MaildirRoot = expandHome(*g.Maildir, home)
	}
	if g.Cache != nil {
		cfg.CacheDir = expandHome(*g.Cache, home)
	}
	if g.MaildirCache != nil {
		cfg.MaildirCache = expandHome(*g.MaildirCache, home)
	}
	if g.Sender != nil {
		cfg.Sender = *g.Sender
	}
	if g.Recipient != nil {
		cfg.Recipient = *g.Recipient
	}
	if g.UseSingleMaildir != nil {
		cfg.UseSharedFolder = *g.UseSingleMaildir
	}
	if g.SummaryFormat != nil {
		cfg.SummaryFormat = SummaryFormat(strings.ToLower(strings.TrimSpace(*g.SummaryFormat)))
	}
	if g.FetchConcurrency != nil {
		if *g.FetchConcurrency < 1 {
			return fmt.Errorf("%w: fetch_concurrency must be >= 1", ErrInvalidConfig)
		}
		cfg.FetchConcurrency = *g.FetchConcurrency
	}
	if g.HTTPTimeoutSeconds != nil {
		if *g.HTTPTimeoutSeconds <= 0 {
			return fmt.Errorf("%w: http_timeout_seconds must be > 0", ErrInvalidConfig)
		}
		cfg.HTTPTimeout = time.Duration(*g.HTTPTimeoutSeconds) * time.Second
	}
	if g.UserAgent != nil && strings.TrimSpace(*g.UserAgent) != "" {
		cfg.UserAgent = *g.UserAgent
	}
	if g.LogLevel != nil {
		cfg.LogLevel = *g.LogLevel
	}
	if g.LogFile != nil {
		cfg.LogFile = expandHome(*g.LogFile, home)
	}

	backend, err := resolveBackend(g.SnapshotBackend, g.UseMaildirCache)
	if err != nil {
		return err
	}
	cfg.SnapshotBackend = backend

	feeds := make([]FeedConfig, 0, len(fileCfg.Feeds))
	for i, f := range fileCfg.Feeds {
		name := strings.TrimSpace(f.Name)
		feedURL := strings.TrimSpace(f.URL)
		if name == "" {
			return fmt.Errorf("%w: feeds[%d]: missing feed name", ErrInvalidConfig, i)
		}
		if feedURL == "" {
			return fmt.Errorf("%w: feed %q: missing feed url", ErrInvalidConfig, name)
		}
		fc := FeedConfig{
			Name:             name,
			URL:              feedURL,
			UsesSharedFolder: cfg.UseSharedFolder,
		}
		if v := strings.TrimSpace(f.Maildir); v != "" {
			fc.Folder = expandHome(v, home)
		}
		feeds = append(feeds, fc)
	}
	cfg.Feeds = feeds
	return nil
}

func resolveBackend(explicit *string, useMaildirCache *bool) (SnapshotBackend, error) {
	backend := BackendFile
	if useMaildirCache != nil && *useMaildirCache {
		backend = BackendMaildir
	}
	if explicit == nil {
		return backend, nil
	}
	v := SnapshotBackend(strings.ToLower(strings.TrimSpace(*explicit)))
	switch v {
	case BackendFile, BackendMaildir, BackendSQLite:
	default:
		return "", fmt.Errorf("%w: snapshot_backend must be one of file, maildir, sqlite (got %q)", ErrInvalidConfig, *explicit)
	}
	if useMaildirCache != nil && *useMaildirCache && v != BackendMaildir {
		return "", fmt.Errorf("%w: use_maildir_cache = true conflicts with snapshot_backend = %q", ErrInvalidConfig, v)
	}
	return v, nil
}

func applyEnvOverrides(cfg *Config, home string) {
	if v, ok := os.LookupEnv("RSS2MAILDIR_MAILDIR"); ok && v != "" {
		cfg.MaildirRoot = expandHome(v, home)
	}
	if v, ok := os.LookupEnv("RSS2MAILDIR_CACHE"); ok && v != "" {
		cfg.CacheDir = expandHome(v, home)
	}
	if v, ok := os.LookupEnv("RSS2MAILDIR_RECIPIENT"); ok && v != "" {
		cfg.Recipient = v
	}
	if v, ok := os.LookupEnv("RSS2MAILDIR_LOG_LEVEL"); ok && v != "" {
		cfg.LogLevel = v
	}
}

func appendOPMLFeeds(cfg *Config, path string) error {
	outlines, err := opml.ReadFeeds(path)
	if err != nil {
		return fmt.Errorf("%w: opml %q: %v", ErrInvalidConfig, path, err)
	}
	taken := make(map[string]struct{}, len(cfg.Feeds))
	for _, f := range cfg.Feeds {
		taken[f.Name] = struct{}{}
	}
	for _, o := range outlines {
		name := uniqueName(FeedName(o.Title, o.URL), taken)
		taken[name] = struct{}{}
		cfg.Feeds = append(cfg.Feeds, FeedConfig{
			Name:             name,
			URL:              o.URL,
			UsesSharedFolder: cfg.UseSharedFolder,
		})
	}
	return nil
}

func uniqueName(base string, taken map[string]struct{}) string {
	if _, ok := taken[base]; !ok {
		return base
	}
	for i := 2; ; i++ {
		candidate := fmt.Sprintf("%s-%d", base, i)
		if _, ok := taken[candidate]; !ok {
			return candidate
		}
	}
}

func validate(cfg Config) error {
	if len(cfg.Feeds) == 0 {
		return fmt.Errorf("%w: %q defines no feeds", ErrInvalidConfig, cfg.ConfigPath)
	}
	switch cfg.SummaryFormat {
	case SummaryRaw, SummaryMarkdown:
	default:
		return fmt.Errorf("%w: summary_format must be raw or markdown (got %q)", ErrInvalidConfig, cfg.SummaryFormat)
	}
	if strings.TrimSpace(cfg.MaildirRoot) == "" {
		return fmt.Errorf("%w: maildir must be non-empty", ErrInvalidConfig)
	}
	if strings.TrimSpace(cfg.CacheDir) == "" {
		return fmt.Errorf("%w: cache must be non-empty", ErrInvalidConfig)
	}
	if cfg.SnapshotBackend == BackendMaildir && strings.TrimSpace(cfg.MaildirCache) == "" {
		return fmt.Errorf("%w: maildir_cache must be non-empty", ErrInvalidConfig)
	}
	seen := make(map[string]struct{}, len(cfg.Feeds))
	for _, f := range cfg.Feeds {
		if err := validateFeedName(f.Name); err != nil {
			return err
		}
		if _, dup := seen[f.Name]; dup {
			return fmt.Errorf("%w: duplicate feed name %q", ErrInvalidConfig, f.Name)
		}
		seen[f.Name] = struct{}{}
	}
	return nil
}

func validateFeedName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: missing feed name", ErrInvalidConfig)
	}
	if name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: feed name %q must not contain path separators", ErrInvalidConfig, name)
	}
	return nil
}

func defaultRecipient() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username + "@localhost"
	}
	if v := os.Getenv("USER"); v != "" {
		return v + "@localhost"
	}
	return "root@localhost"
}

func expandHome(path, home string) string {
	path = strings.TrimSpace(path)
	if path == "~" {
		return home
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	return path
}

// FeedName derives a storage-safe feed name from an outline title, falling
// back to the feed host.
func FeedName(title, rawURL string) string {
	base := strings.ToLower(strings.TrimSpace(title))
	if base == "" {
		if u, err := url.Parse(strings.TrimSpace(rawURL)); err == nil {
			base = strings.ToLower(u.Hostname())
		}
	}
	base = strings.Trim(nameRegexp.ReplaceAllString(base, "-"), "-")
	if base == "" {
		return "feed"
	}
	return base
}
