package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dshills/repodex/internal/config"
	"github.com/dshills/repodex/internal/discovery"
	"github.com/dshills/repodex/internal/indexer"
	"github.com/dshills/repodex/internal/logging"
	"github.com/dshills/repodex/internal/storage"
	"github.com/dshills/repodex/internal/vcs"
)

// newVCSClient builds the git client used by sync and repos. Tests replace it.
var newVCSClient = func(cfg *config.Config) vcs.Client {
	return vcs.NewGit(cfg.Sync.PullTimeout)
}

// app bundles what a command needs after flags and config are resolved.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	walker *discovery.Walker
	close  func() error
}

// loadApp reads the config, applies flag overrides and builds the logger.
// Callers must defer a.close().
func loadApp(opts *rootOptions) (*app, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if opts.dbPath != "" {
		if cfg.DBPath, err = config.ExpandHome(opts.dbPath); err != nil {
			return nil, fmt.Errorf("db path: %w", err)
		}
	}
	if opts.logLevel != "" {
		cfg.LogLevel = opts.logLevel
	}
	if opts.logFile != "" {
		cfg.LogFile = opts.logFile
	}

	logger, closer := logging.New(cfg.LogLevel, cfg.LogFile)
	return &app{
		cfg:    cfg,
		logger: logger,
		walker: discovery.New(discovery.Options{
			ExcludeDirs:  cfg.ExcludeDirs,
			ExcludeGlobs: cfg.ExcludeGlobs,
			Logger:       logger,
		}),
		close: closer,
	}, nil
}

func (a *app) openStore(ctx context.Context) (*storage.SQLiteStorage, error) {
	store, err := storage.Open(ctx, a.cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", a.cfg.DBPath, err)
	}
	return store, nil
}

func (a *app) newIndexer(store storage.Storage, force bool) *indexer.Indexer {
	return indexer.New(store, &indexer.Config{
		BatchSize:         a.cfg.Index.BatchSize,
		WarnThreshold:     a.cfg.Index.WarnThreshold,
		ParallelThreshold: a.cfg.Index.ParallelThreshold,
		Workers:           a.cfg.Index.Workers,
		Force:             force,
		Walker:            a.walker,
		Logger:            a.logger,
	})
}

// roots returns args, or the configured roots when args is empty.
func (a *app) roots(args []string) ([]string, error) {
	if len(args) > 0 {
		return args, nil
	}
	if len(a.cfg.Roots) == 0 {
		return nil, fmt.Errorf("no paths given and no roots configured in %s", config.DefaultPath())
	}
	return a.cfg.Roots, nil
}

// discover returns the sorted, de-duplicated checkouts below roots.
// Unreadable roots are logged and skipped.
func (a *app) discover(ctx context.Context, roots []string) []string {
	var paths []string
	seen := map[string]bool{}
	for _, root := range roots {
		found, err := a.walker.FindRepositories(ctx, root)
		if err != nil {
			a.logger.Warn("skipping unreadable root", "root", root, "error", err)
			continue
		}
		for _, p := range found {
			if !seen[p] {
				seen[p] = true
				paths = append(paths, p)
			}
		}
	}
	return paths
}
