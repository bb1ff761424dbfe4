package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/repodex/internal/indexer"
)

func newIndexCmd(opts *rootOptions) *cobra.Command {
	var (
		force bool
		prune bool
	)

	cmd := &cobra.Command{
		Use:   "index [path...]",
		Short: "Index Terraform and PowerShell files",
		Long: `Indexes every git checkout found below the given paths, or below the
configured roots when no path is given. Files whose modification time has not
advanced since the last run are left alone unless --force is set.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIndex(cmd, opts, args, force, prune)
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "reindex every file regardless of modification time")
	cmd.Flags().BoolVar(&prune, "prune", false, "drop indexed files that no longer exist on disk")
	return cmd
}

func runIndex(cmd *cobra.Command, opts *rootOptions, args []string, force, prune bool) error {
	a, err := loadApp(opts)
	if err != nil {
		return err
	}
	defer a.close()
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	roots, err := a.roots(args)
	if err != nil {
		return err
	}
	repos := a.discover(ctx, roots)
	if len(repos) == 0 {
		return fmt.Errorf("no git repositories found below %v", roots)
	}

	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	idx := a.newIndexer(store, force)
	reports := idx.IndexRepositories(ctx, repos)

	var total indexer.Report
	failedRepos := 0
	for _, r := range reports {
		fmt.Fprintf(out, "%s: %d indexed, %d unchanged, %d empty, %d failed (%s)\n",
			r.Repository, r.Indexed, r.Unchanged, r.SkippedEmpty, r.Failed, r.Duration.Round(time.Millisecond))
		for _, msg := range r.Errors {
			fmt.Fprintf(out, "  error: %s\n", msg)
		}
		if r.Candidates == 0 && len(r.Errors) > 0 {
			failedRepos++
		}
		total.Indexed += r.Indexed
		total.Unchanged += r.Unchanged
		total.SkippedEmpty += r.SkippedEmpty
		total.Failed += r.Failed
		total.Postings += r.Postings
	}

	if prune {
		removed, err := idx.PruneMissing(ctx)
		if err != nil {
			return fmt.Errorf("prune: %w", err)
		}
		fmt.Fprintf(out, "Pruned %d missing files\n", removed)
	}

	fmt.Fprintf(out, "\n%d repositories: %d files indexed, %d unchanged, %d empty, %d failed, %s postings\n",
		len(reports), total.Indexed, total.Unchanged, total.SkippedEmpty, total.Failed, formatCount(int64(total.Postings)))

	if failedRepos > 0 {
		return fmt.Errorf("%d of %d repositories could not be indexed", failedRepos, len(reports))
	}
	return nil
}
