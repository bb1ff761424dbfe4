package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/repodex/internal/filetype"
	"github.com/dshills/repodex/internal/indexer"
	"github.com/dshills/repodex/internal/repocache"
	"github.com/dshills/repodex/internal/scheduler"
	"github.com/dshills/repodex/internal/searcher"
	"github.com/dshills/repodex/internal/storage"
	"github.com/dshills/repodex/internal/vcs"
)

// MCP error codes
const (
	ErrorCodeInvalidParams      = -32602 // Invalid method parameters
	ErrorCodeInternalError      = -32603 // Internal JSON-RPC error
	ErrorCodeNoRepositories     = -32001 // Specified path contains no git repository
	ErrorCodeIndexingInProgress = -32002 // Another indexing operation is already running
	ErrorCodeSyncInProgress     = -32003 // Another sync operation is already running
	ErrorCodeEmptyQuery         = -32004 // Query parameter is empty
)

const (
	// DefaultSearchLimit is used when search_files has no limit
	DefaultSearchLimit = 20
	// MaxSearchLimit caps search_files results
	MaxSearchLimit = 500

	maxReportedErrors = 5
	timeFormat        = "2006-01-02T15:04:05Z07:00"
)

// handleIndexRepository handles the index_repository tool invocation
func (s *Server) handleIndexRepository(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	// Extract and validate parameters
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	path, ok := args["path"].(string)
	if !ok || path == "" {
		return nil, newMCPError(ErrorCodeInvalidParams, "path parameter is required", map[string]interface{}{
			"param":  "path",
			"reason": "missing or empty",
		})
	}

	// Validate path exists and is accessible
	if err := validatePath(path); err != nil {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid path", map[string]interface{}{
			"param":  "path",
			"reason": err.Error(),
		})
	}

	force := getBoolDefault(args, "force", false)

	repos, err := s.walker.FindRepositories(ctx, path)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "repository discovery failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
	if len(repos) == 0 {
		return nil, newMCPError(ErrorCodeNoRepositories, "no git repositories found", map[string]interface{}{
			"path": path,
		})
	}

	if !s.indexLock.TryAcquire() {
		return nil, newMCPError(ErrorCodeIndexingInProgress, indexer.ErrIndexInProgress.Error(), nil)
	}
	defer s.indexLock.Release()

	reports, err := s.indexRepositories(ctx, repos, force)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "indexing failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	response := map[string]interface{}{
		"indexed":      true,
		"repositories": formatReports(reports),
	}
	totals := map[string]int{}
	for _, r := range reports {
		totals["files_indexed"] += r.Indexed
		totals["files_unchanged"] += r.Unchanged
		totals["files_skipped_empty"] += r.SkippedEmpty
		totals["files_failed"] += r.Failed
		totals["postings"] += r.Postings
	}
	response["totals"] = totals

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// indexRepositories indexes repos against a store opened for this call.
// The caller holds indexLock.
func (s *Server) indexRepositories(ctx context.Context, repos []string, force bool) ([]*indexer.Report, error) {
	store, err := s.openStore(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = store.Close() }()

	idx := indexer.New(store, &indexer.Config{
		BatchSize:         s.cfg.Index.BatchSize,
		WarnThreshold:     s.cfg.Index.WarnThreshold,
		ParallelThreshold: s.cfg.Index.ParallelThreshold,
		Workers:           s.cfg.Index.Workers,
		Force:             force,
		Walker:            s.walker,
		Logger:            s.logger,
	})
	reports := idx.IndexRepositories(ctx, repos)

	for _, r := range reports {
		if r.Mutated() {
			s.cache.Purge()
			break
		}
	}
	return reports, nil
}

// handleSearchFiles handles the search_files tool invocation
func (s *Server) handleSearchFiles(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	query, ok := args["query"].(string)
	if !ok || query == "" {
		return nil, newMCPError(ErrorCodeEmptyQuery, "query parameter is required and cannot be empty", map[string]interface{}{
			"param":  "query",
			"reason": "missing or empty",
		})
	}

	limit := getIntDefault(args, "limit", DefaultSearchLimit)
	if limit < 1 || limit > MaxSearchLimit {
		return nil, newMCPError(ErrorCodeInvalidParams, fmt.Sprintf("limit must be between 1 and %d", MaxSearchLimit), map[string]interface{}{
			"param": "limit",
			"value": limit,
		})
	}

	fileType := getStringDefault(args, "file_type", "")
	if fileType != "" && !filetype.Type(fileType).Valid() {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid file_type", map[string]interface{}{
			"param":   "file_type",
			"value":   fileType,
			"allowed": []filetype.Type{filetype.Terraform, filetype.PowerShell},
		})
	}

	repoPath := getStringDefault(args, "repo_path", "")
	if repoPath != "" {
		if !filepath.IsAbs(repoPath) {
			return nil, newMCPError(ErrorCodeInvalidParams, "invalid repo_path", map[string]interface{}{
				"param":  "repo_path",
				"reason": ErrPathNotAbsolute.Error(),
			})
		}
		repoPath = filepath.Clean(repoPath)
	}

	store, err := s.openStore(ctx)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to open index", map[string]interface{}{
			"error": err.Error(),
		})
	}
	defer func() { _ = store.Close() }()

	srch := searcher.NewSearcher(store, &searcher.Options{Cache: s.cache, Logger: s.logger})
	resp := srch.Search(ctx, searcher.SearchRequest{
		Query:    query,
		RepoPath: repoPath,
		FileType: fileType,
		Limit:    limit,
		Verify:   getBoolDefault(args, "verify", false),
		UseCache: true,
	})
	if resp.Err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "search failed", map[string]interface{}{
			"error": resp.Err.Error(),
		})
	}

	results := make([]map[string]interface{}, 0, len(resp.Results))
	for _, r := range resp.Results {
		item := map[string]interface{}{
			"repo_path":     r.RepoPath,
			"file_path":     r.FilePath,
			"file_type":     r.FileType,
			"size_bytes":    r.SizeBytes,
			"last_modified": r.LastModified.Format(timeFormat),
		}
		if r.Line > 0 {
			item["line"] = r.Line
			item["snippet"] = r.Snippet
		}
		results = append(results, item)
	}

	response := map[string]interface{}{
		"query":         resp.Query,
		"results":       results,
		"total_results": resp.TotalResults,
		"trigrams":      resp.Trigrams,
		"cache_hit":     resp.CacheHit,
		"duration_ms":   resp.Duration.Milliseconds(),
	}
	if resp.Reason != "" {
		response["reason"] = resp.Reason
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleSyncRepositories handles the sync_repositories tool invocation
func (s *Server) handleSyncRepositories(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		args = map[string]interface{}{}
	}

	roots := s.cfg.Roots
	if path := getStringDefault(args, "path", ""); path != "" {
		if err := validatePath(path); err != nil {
			return nil, newMCPError(ErrorCodeInvalidParams, "invalid path", map[string]interface{}{
				"param":  "path",
				"reason": err.Error(),
			})
		}
		roots = []string{path}
	}
	if len(roots) == 0 {
		return nil, newMCPError(ErrorCodeInvalidParams, "no path given and no roots configured", map[string]interface{}{
			"param":  "path",
			"reason": "missing",
		})
	}
	reindex := getBoolDefault(args, "reindex", false)

	if !s.syncing.CompareAndSwap(false, true) {
		return nil, newMCPError(ErrorCodeSyncInProgress, scheduler.ErrSyncInProgress.Error(), nil)
	}
	defer s.syncing.Store(false)

	var paths []string
	seen := map[string]bool{}
	for _, root := range roots {
		found, err := s.walker.FindRepositories(ctx, root)
		if err != nil {
			s.logger.Warn("skipping unreadable root", "root", root, "error", err)
			continue
		}
		for _, p := range found {
			if !seen[p] {
				seen[p] = true
				paths = append(paths, p)
			}
		}
	}
	repos := vcs.DescribeAll(ctx, s.git, paths, s.logger)

	summary, events, err := s.runSync(ctx, repos)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "sync failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	response := map[string]interface{}{
		"summary": map[string]interface{}{
			"succeeded":   summary.Succeeded,
			"failed":      summary.Failed,
			"skipped":     summary.Skipped,
			"attempted":   summary.Attempted(),
			"total":       summary.Total(),
			"batches":     summary.Batches,
			"duration_ms": summary.Duration.Milliseconds(),
		},
		"events": events,
	}

	if reindex {
		var pulled []string
		for _, ev := range events {
			if ev["event"] == scheduler.EventCompleted.String() && ev["success"] == true {
				pulled = append(pulled, ev["path"].(string))
			}
		}
		switch {
		case len(pulled) == 0:
			response["reindexed"] = []map[string]interface{}{}
		case !s.indexLock.TryAcquire():
			response["reindex_error"] = indexer.ErrIndexInProgress.Error()
		default:
			reports, err := s.indexRepositories(ctx, pulled, false)
			s.indexLock.Release()
			if err != nil {
				response["reindex_error"] = err.Error()
			} else {
				response["reindexed"] = formatReports(reports)
			}
		}
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// runSync runs one scheduler pass and collects its events in order.
func (s *Server) runSync(ctx context.Context, repos []vcs.Repository) (scheduler.Summary, []map[string]interface{}, error) {
	store, err := s.openStore(ctx)
	if err != nil {
		return scheduler.Summary{}, nil, err
	}
	defer func() { _ = store.Close() }()

	cache, err := repocache.New(store.DB(), repocache.Options{
		Cooldown: s.cfg.Sync.Cooldown,
		Logger:   s.logger,
	})
	if err != nil {
		return scheduler.Summary{}, nil, err
	}

	events := make([]map[string]interface{}, 0, len(repos)*2)
	sched := scheduler.New(s.git, cache, &scheduler.Config{
		BatchSize: s.cfg.Sync.BatchSize,
		Blacklist: s.cfg.Blacklist,
		Logger:    s.logger,
		Handler: func(ev scheduler.Event) {
			events = append(events, formatEvent(ev))
		},
	})

	summary, err := sched.Run(ctx, repos)
	if err != nil && !errors.Is(err, context.Canceled) {
		return summary, events, err
	}
	return summary, events, nil
}

// handleGetStatus handles the get_status tool invocation
func (s *Server) handleGetStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		args = map[string]interface{}{}
	}

	store, err := s.openStore(ctx)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to open index", map[string]interface{}{
			"error": err.Error(),
		})
	}
	defer func() { _ = store.Close() }()

	status, err := store.GetStatus(ctx)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to get status", map[string]interface{}{
			"error": err.Error(),
		})
	}

	lastIndexed := ""
	if !status.LastIndexedAt.IsZero() {
		lastIndexed = status.LastIndexedAt.Format(timeFormat)
	}

	response := map[string]interface{}{
		"database": map[string]interface{}{
			"path":           s.cfg.DBPath,
			"schema_version": status.SchemaVersion,
			"driver":         storage.BuildMode,
			"size_mb":        fmt.Sprintf("%.2f", status.SizeMB),
		},
		"statistics": map[string]interface{}{
			"repositories":    status.Repositories,
			"files_count":     status.FilesCount,
			"postings_count":  status.PostingsCount,
			"files_by_type":   status.FilesByType,
			"cached_repos":    status.CachedRepos,
			"last_indexed_at": lastIndexed,
		},
		"activity": map[string]interface{}{
			"indexing": s.indexLock.Held(),
			"syncing":  s.syncing.Load(),
		},
	}

	if getBoolDefault(args, "include_repos", false) {
		cache, err := repocache.New(store.DB(), repocache.Options{
			Cooldown: s.cfg.Sync.Cooldown,
			Logger:   s.logger,
		})
		if err != nil {
			return nil, newMCPError(ErrorCodeInternalError, "failed to open repository cache", map[string]interface{}{
				"error": err.Error(),
			})
		}
		rows, err := cache.List(ctx)
		if err != nil {
			return nil, newMCPError(ErrorCodeInternalError, "failed to list repository cache", map[string]interface{}{
				"error": err.Error(),
			})
		}
		repos := make([]map[string]interface{}, 0, len(rows))
		for _, row := range rows {
			repos = append(repos, map[string]interface{}{
				"path":                 row.Path,
				"name":                 row.RepoName,
				"url":                  row.RepoURL,
				"last_pull_attempt":    formatTimePtr(row.LastPullAttempt),
				"last_successful_pull": formatTimePtr(row.LastSuccessfulPull),
				"eligible":             cache.ShouldAttemptPull(row.LastPullAttempt),
			})
		}
		response["repositories"] = repos
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// Helper functions

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	// MCP errors are returned as regular errors, the framework handles encoding
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// validatePath checks if a path is an absolute, readable directory
func validatePath(path string) error {
	if path == "" {
		return ErrPathRequired
	}

	// Check if path is absolute
	if !filepath.IsAbs(path) {
		return ErrPathNotAbsolute
	}

	// Check if path exists
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return ErrPathNotFound
	}
	if err != nil {
		return ErrPathNotReadable
	}

	// Check if it's a directory
	if !info.IsDir() {
		return ErrNotDirectory
	}

	// Check if directory is readable
	f, err := os.Open(path)
	if err != nil {
		return ErrPathNotReadable
	}
	_ = f.Close()

	return nil
}

func formatReports(reports []*indexer.Report) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(reports))
	for _, r := range reports {
		item := map[string]interface{}{
			"path":          r.Repository,
			"candidates":    r.Candidates,
			"indexed":       r.Indexed,
			"unchanged":     r.Unchanged,
			"skipped_empty": r.SkippedEmpty,
			"failed":        r.Failed,
			"postings":      r.Postings,
			"duration_ms":   r.Duration.Milliseconds(),
		}
		if len(r.Errors) > 0 {
			// Include first few errors
			if len(r.Errors) > maxReportedErrors {
				item["errors"] = r.Errors[:maxReportedErrors]
				item["error_count"] = len(r.Errors)
			} else {
				item["errors"] = r.Errors
			}
		}
		out = append(out, item)
	}
	return out
}

func formatEvent(ev scheduler.Event) map[string]interface{} {
	item := map[string]interface{}{
		"event": ev.Kind.String(),
		"name":  ev.RepoName,
		"path":  ev.Path,
		"time":  ev.Time.Format(timeFormat),
	}
	switch ev.Kind {
	case scheduler.EventCompleted:
		item["success"] = ev.Success
		if ev.Message != "" {
			item["message"] = ev.Message
		}
	case scheduler.EventSkipped:
		item["reason"] = ev.Reason
	}
	return item
}

func formatTimePtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.Format(timeFormat)
}

// formatJSON formats a map as indented JSON
func formatJSON(data map[string]interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// getBoolDefault extracts a boolean parameter with a default value
func getBoolDefault(args map[string]interface{}, key string, defaultValue bool) bool {
	if val, ok := args[key].(bool); ok {
		return val
	}
	return defaultValue
}

// getIntDefault extracts an integer parameter with a default value
func getIntDefault(args map[string]interface{}, key string, defaultValue int) int {
	if val, ok := args[key].(float64); ok {
		return int(val)
	}
	if val, ok := args[key].(int); ok {
		return val
	}
	return defaultValue
}

// getStringDefault extracts a string parameter with a default value
func getStringDefault(args map[string]interface{}, key string, defaultValue string) string {
	if val, ok := args[key].(string); ok {
		return val
	}
	return defaultValue
}

// Validation helpers

var (
	ErrPathRequired    = errors.New("path is required")
	ErrPathNotAbsolute = errors.New("path must be absolute")
	ErrPathNotFound    = errors.New("path does not exist")
	ErrPathNotReadable = errors.New("path is not readable")
	ErrNotDirectory    = errors.New("path is not a directory")
)
