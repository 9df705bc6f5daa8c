package cli

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/tengjizhang/rss2maildir/internal/config"
	"github.com/tengjizhang/rss2maildir/internal/fetch"
	"github.com/tengjizhang/rss2maildir/internal/logger"
	"github.com/tengjizhang/rss2maildir/internal/maildir"
	"github.com/tengjizhang/rss2maildir/internal/runner"
	"github.com/tengjizhang/rss2maildir/internal/snapshot"
)

type App struct {
	cfg      config.Config
	log      *zap.Logger
	closeLog func()
	store    snapshot.Store
	fetcher  *fetch.Fetcher
	sink     *maildir.Sink
}

func NewApp(cfg config.Config) (*App, error) {
	log, closeLog, err := logger.New(logger.Config{Level: cfg.LogLevel, File: cfg.LogFile})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
	}
	s, err := snapshot.Open(cfg, log)
	if err != nil {
		closeLog()
		return nil, err
	}
	log.Debug("configuration loaded",
		zap.String("config", cfg.ConfigPath),
		zap.String("backend", string(cfg.SnapshotBackend)),
		zap.Int("feeds", len(cfg.Feeds)),
	)

	return &App{
		cfg:      cfg,
		log:      log,
		closeLog: closeLog,
		store:    s,
		fetcher:  fetch.NewFetcher(cfg),
		sink:     maildir.NewSink(cfg.Recipient, log),
	}, nil
}

func (a *App) Runner(opts runner.Options) *runner.Runner {
	return runner.New(a.cfg, a.store, a.fetcher, a.sink, a.log, opts)
}

func (a *App) Close() error {
	var err error
	if a.store != nil {
		err = a.store.Close()
	}
	if a.closeLog != nil {
		a.closeLog()
	}
	return err
}
