package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dshills/repodex/internal/repocache"
)

func newMaintCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "maint",
		Short: "Database maintenance commands",
	}

	cmd.AddCommand(newMaintPruneCmd(opts))
	cmd.AddCommand(newMaintOrphansCmd(opts))
	cmd.AddCommand(newMaintVacuumCmd(opts))
	cmd.AddCommand(newMaintClearCacheCmd(opts))
	return cmd
}

func newMaintPruneCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Drop indexed files that no longer exist on disk",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(opts)
			if err != nil {
				return err
			}
			defer a.close()

			store, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			removed, err := a.newIndexer(store, false).PruneMissing(cmd.Context())
			if err != nil {
				return fmt.Errorf("prune: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d missing files\n", removed)
			return nil
		},
	}
}

func newMaintOrphansCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "orphans",
		Short: "Delete postings that reference no indexed file",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(opts)
			if err != nil {
				return err
			}
			defer a.close()

			store, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			removed, err := store.DeleteOrphanPostings(cmd.Context())
			if err != nil {
				return fmt.Errorf("orphans: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s orphaned postings\n", formatCount(removed))
			return nil
		},
	}
}

func newMaintVacuumCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "vacuum",
		Short: "Compact the database file",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(opts)
			if err != nil {
				return err
			}
			defer a.close()

			store, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.Vacuum(cmd.Context()); err != nil {
				return fmt.Errorf("vacuum: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Database compacted")
			return nil
		},
	}
}

func newMaintClearCacheCmd(opts *rootOptions) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "clear-cache",
		Short: "Forget every recorded pull attempt",
		Long:  "Deletes the repository sync cache so the next sync pulls every checkout regardless of cooldown.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to clear the sync cache without --yes")
			}
			a, err := loadApp(opts)
			if err != nil {
				return err
			}
			defer a.close()

			store, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			cache, err := repocache.New(store.DB(), repocache.Options{Logger: a.logger})
			if err != nil {
				return err
			}
			removed, err := cache.Clear(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d cached repositories\n", removed)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "confirm clearing the cache")
	return cmd
}
