package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/repodex/internal/repocache"
	"github.com/dshills/repodex/internal/scheduler"
	"github.com/dshills/repodex/internal/vcs"
)

func newReposCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repos [path...]",
		Short: "List discovered checkouts and their sync state",
		Long: `Lists every git checkout below the given paths or configured roots with its
primary remote, last pull attempt, last successful pull, and whether the next
sync would pull it.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRepos(cmd, opts, args)
		},
	}
	return cmd
}

func runRepos(cmd *cobra.Command, opts *rootOptions, args []string) error {
	a, err := loadApp(opts)
	if err != nil {
		return err
	}
	defer a.close()
	ctx := cmd.Context()

	roots, err := a.roots(args)
	if err != nil {
		return err
	}
	repos := vcs.DescribeAll(ctx, newVCSClient(a.cfg), a.discover(ctx, roots), a.logger)

	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	cache, err := repocache.New(store.DB(), repocache.Options{
		Cooldown: a.cfg.Sync.Cooldown,
		Logger:   a.logger,
	})
	if err != nil {
		return err
	}

	now := time.Now()
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tREMOTE\tLAST ATTEMPT\tLAST SUCCESS\tNEXT SYNC\tPATH")
	for _, repo := range repos {
		row, err := cache.Get(ctx, repo.Path)
		if err != nil {
			return err
		}
		var attempt, success *time.Time
		if row != nil {
			attempt, success = row.LastPullAttempt, row.LastSuccessfulPull
		}

		next := "pull"
		switch {
		case scheduler.Blacklisted(repo, a.cfg.Blacklist):
			next = "skip: " + scheduler.ReasonBlacklisted
		case !repo.HasRemote():
			next = "skip: " + scheduler.ReasonNoRemote
		case !cache.ShouldAttemptPull(attempt):
			next = fmt.Sprintf("after %s", attempt.Add(cache.Cooldown()).Local().Format("15:04"))
		}

		remote := repo.RemoteURL
		if remote == "" {
			remote = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			repo.Name, truncatePath(remote, 48), formatAgo(attempt, now), formatAgo(success, now), next, repo.Path)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "\n%d repositories\n", len(repos))
	return nil
}
