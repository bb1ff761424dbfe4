package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/repodex/internal/filetype"
	"github.com/dshills/repodex/internal/searcher"
)

func newSearchCmd(opts *rootOptions) *cobra.Command {
	var (
		repo     string
		fileType string
		limit    int
		verify   bool
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search indexed files",
		Long: `Lists indexed files containing every trigram of the query, ignoring case.
Queries shorter than three characters match nothing. Without --verify a file
can match when it holds all of the query's trigrams but not the query itself.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd, opts, args[0], repo, fileType, limit, verify)
		},
	}

	cmd.Flags().StringVarP(&repo, "repo", "r", "", "only files in this repository or below this directory")
	cmd.Flags().StringVarP(&fileType, "type", "t", "", "only files of this type (terraform|powershell)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "maximum number of results (0 for no limit)")
	cmd.Flags().BoolVar(&verify, "verify", false, "drop files that do not contain the literal query")
	return cmd
}

func runSearch(cmd *cobra.Command, opts *rootOptions, query, repo, fileType string, limit int, verify bool) error {
	if fileType != "" && !filetype.Type(fileType).Valid() {
		return fmt.Errorf("invalid --type %q: want %s or %s", fileType, filetype.Terraform, filetype.PowerShell)
	}
	if limit < 0 {
		return fmt.Errorf("--limit must not be negative")
	}
	if repo != "" {
		abs, err := filepath.Abs(repo)
		if err != nil {
			return fmt.Errorf("resolve --repo: %w", err)
		}
		repo = abs
	}

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

	srch := searcher.NewSearcher(store, &searcher.Options{Logger: a.logger})
	resp := srch.Search(ctx, searcher.SearchRequest{
		Query:    query,
		RepoPath: repo,
		FileType: fileType,
		Limit:    limit,
		Verify:   verify,
	})
	if resp.Err != nil {
		return resp.Err
	}
	if resp.Reason == searcher.ReasonQueryTooShort {
		fmt.Fprintf(out, "Query %q is shorter than %d characters; nothing to search.\n", query, searcher.MinQueryLength)
		return nil
	}

	for _, r := range resp.Results {
		path := filepath.Join(r.RepoPath, filepath.FromSlash(r.FilePath))
		if r.Line > 0 {
			fmt.Fprintf(out, "%s:%d: %s\n", path, r.Line, r.Snippet)
		} else {
			fmt.Fprintln(out, path)
		}
	}
	fmt.Fprintf(out, "\n%d files (%s)\n", resp.TotalResults, resp.Duration.Round(time.Microsecond))
	return nil
}
