package main

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/repodex/internal/storage"
)

func newStatusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show index statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd, opts)
		},
	}
}

func runStatus(cmd *cobra.Command, opts *rootOptions) error {
	a, err := loadApp(opts)
	if err != nil {
		return err
	}
	defer a.close()
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	status, err := store.GetStatus(ctx)
	if err != nil {
		return fmt.Errorf("status: %w", err)
	}

	fmt.Fprintf(out, "Database:      %s (%.2f MB, schema %s, %s)\n", a.cfg.DBPath, status.SizeMB, status.SchemaVersion, storage.BuildMode)
	fmt.Fprintf(out, "Repositories:  %d indexed, %d in sync cache\n", status.Repositories, status.CachedRepos)
	fmt.Fprintf(out, "Files:         %s\n", formatCount(int64(status.FilesCount)))

	types := make([]string, 0, len(status.FilesByType))
	for t := range status.FilesByType {
		types = append(types, t)
	}
	sort.Strings(types)
	for _, t := range types {
		fmt.Fprintf(out, "  %-12s %s\n", t, formatCount(int64(status.FilesByType[t])))
	}

	fmt.Fprintf(out, "Postings:      %s\n", formatCount(int64(status.PostingsCount)))
	if status.LastIndexedAt.IsZero() {
		fmt.Fprintln(out, "Last indexed:  never")
	} else {
		last := status.LastIndexedAt
		fmt.Fprintf(out, "Last indexed:  %s (%s)\n", last.Local().Format(time.DateTime), formatAgo(&last, time.Now()))
	}
	return nil
}
