package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dshills/repodex/internal/repocache"
	"github.com/dshills/repodex/internal/scheduler"
	"github.com/dshills/repodex/internal/vcs"
)

type syncOptions struct {
	reindex   bool
	schedule  string
	scheduled bool
	batchSize int
}

func newSyncCmd(opts *rootOptions) *cobra.Command {
	so := &syncOptions{}

	cmd := &cobra.Command{
		Use:   "sync [path...]",
		Short: "Pull every checkout below the given paths or configured roots",
		Long: `Runs "git pull --ff-only" on every discovered checkout, a batch at a time.
Checkouts that are blacklisted, have no remote, or were attempted within the
cooldown window are skipped. With --schedule (or --scheduled to use
sync.schedule from the config file) the pass repeats on a cron schedule until
interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd, opts, so, args)
		},
	}

	cmd.Flags().BoolVar(&so.reindex, "index", false, "reindex checkouts that pulled successfully")
	cmd.Flags().StringVar(&so.schedule, "schedule", "", `repeat on this 5-field cron schedule (e.g. "*/30 * * * *")`)
	cmd.Flags().BoolVar(&so.scheduled, "scheduled", false, "repeat on the sync.schedule from the config file")
	cmd.Flags().IntVar(&so.batchSize, "batch-size", 0, "concurrent pulls per batch (default from config)")
	return cmd
}

func runSync(cmd *cobra.Command, opts *rootOptions, so *syncOptions, args []string) error {
	a, err := loadApp(opts)
	if err != nil {
		return err
	}
	defer a.close()
	out := cmd.OutOrStdout()

	if so.batchSize < 0 {
		return fmt.Errorf("--batch-size must not be negative")
	}
	if so.batchSize > 0 {
		a.cfg.Sync.BatchSize = so.batchSize
	}
	roots, err := a.roots(args)
	if err != nil {
		return err
	}

	expr := so.schedule
	if expr == "" && so.scheduled {
		if a.cfg.Sync.Schedule == "" {
			return fmt.Errorf("--scheduled given but sync.schedule is not set in the config file")
		}
		expr = a.cfg.Sync.Schedule
	}

	client := newVCSClient(a.cfg)

	if expr == "" {
		summary, err := syncOnce(cmd.Context(), a, client, roots, so.reindex, out)
		if err != nil {
			return err
		}
		if summary.Failed > 0 {
			return fmt.Errorf("%d of %d pulls failed", summary.Failed, summary.Attempted())
		}
		return nil
	}

	if _, err := scheduler.ParseSchedule(expr); err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Fprintf(out, "Syncing on schedule %q; press Ctrl-C to stop.\n", expr)
	return scheduler.RunScheduled(ctx, expr, a.logger, func(ctx context.Context) {
		if _, err := syncOnce(ctx, a, client, roots, so.reindex, out); err != nil {
			a.logger.Error("scheduled sync failed", "error", err)
		}
	})
}

// syncOnce runs one full pass: discover, pull, and optionally reindex.
func syncOnce(ctx context.Context, a *app, client vcs.Client, roots []string, reindex bool, out io.Writer) (scheduler.Summary, error) {
	paths := a.discover(ctx, roots)
	repos := vcs.DescribeAll(ctx, client, paths, a.logger)

	store, err := a.openStore(ctx)
	if err != nil {
		return scheduler.Summary{}, err
	}
	defer store.Close()

	cache, err := repocache.New(store.DB(), repocache.Options{
		Cooldown: a.cfg.Sync.Cooldown,
		Logger:   a.logger,
	})
	if err != nil {
		return scheduler.Summary{}, err
	}

	printer := scheduler.NewPrinter(out)
	var pulled []string
	sched := scheduler.New(client, cache, &scheduler.Config{
		BatchSize: a.cfg.Sync.BatchSize,
		Blacklist: a.cfg.Blacklist,
		Logger:    a.logger,
		Handler: func(ev scheduler.Event) {
			printer.Handle(ev)
			if ev.Kind == scheduler.EventCompleted && ev.Success {
				pulled = append(pulled, ev.Path)
			}
		},
	})

	summary, err := sched.Run(ctx, repos)
	printer.PrintSummary(summary)
	if err != nil {
		return summary, err
	}

	if reindex && len(pulled) > 0 {
		idx := a.newIndexer(store, false)
		for _, r := range idx.IndexRepositories(ctx, pulled) {
			fmt.Fprintf(out, "index %s: %d indexed, %d unchanged, %d failed\n",
				r.Repository, r.Indexed, r.Unchanged, r.Failed)
		}
	}
	return summary, nil
}
