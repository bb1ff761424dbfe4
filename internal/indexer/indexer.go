package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dshills/repodex/internal/discovery"
	"github.com/dshills/repodex/internal/logging"
	"github.com/dshills/repodex/internal/storage"
	"github.com/dshills/repodex/internal/trigram"
)

const (
	// DefaultBatchSize is the number of postings inserted per transaction.
	DefaultBatchSize = 1000
	// DefaultWarnThreshold is the posting count above which a file is
	// reported as unusually large.
	DefaultWarnThreshold = 5000
	// DefaultFileWorkers bounds how many files are read and tokenized at once.
	DefaultFileWorkers = 4
)

// ErrIndexInProgress is returned when a run is already active on this Indexer.
var ErrIndexInProgress = errors.New("indexing already in progress")

// Outcome classifies what happened to one file.
type Outcome string

const (
	OutcomeIndexed      Outcome = "indexed"
	OutcomeUnchanged    Outcome = "unchanged"
	OutcomeSkippedEmpty Outcome = "skipped_empty"
	OutcomeFailed       Outcome = "failed"
)

// FileResult is the result of indexing one candidate.
type FileResult struct {
	RepoPath string
	FilePath string
	Outcome  Outcome
	Trigrams int   // postings written; 0 unless Outcome is indexed
	Err      error // set when Outcome is failed
}

// Report aggregates file results of one run.
type Report struct {
	Repository   string
	Candidates   int
	Indexed      int
	Unchanged    int
	SkippedEmpty int
	Failed       int
	Postings     int
	Errors       []string
	Files        []FileResult
	Duration     time.Duration
}

// Mutated reports whether the run changed the store.
func (r *Report) Mutated() bool {
	return r.Indexed > 0
}

func (r *Report) add(res FileResult) {
	r.Files = append(r.Files, res)
	switch res.Outcome {
	case OutcomeIndexed:
		r.Indexed++
		r.Postings += res.Trigrams
	case OutcomeUnchanged:
		r.Unchanged++
	case OutcomeSkippedEmpty:
		r.SkippedEmpty++
	case OutcomeFailed:
		r.Failed++
		r.Errors = append(r.Errors, fmt.Sprintf("%s: %v", res.FilePath, res.Err))
	}
}

// Config contains configuration for the indexer
type Config struct {
	BatchSize         int  // Postings per insert transaction (default: 1000)
	WarnThreshold     int  // Posting count that triggers a size warning (default: 5000)
	ParallelThreshold int  // Rune count above which trigram generation is parallel (default: 10000)
	Workers           int  // Goroutines for parallel trigram generation (default: 4)
	FileWorkers       int  // Files processed concurrently (default: 4)
	Force             bool // Reindex even when the modification time is unchanged

	Walker *discovery.Walker // used by IndexRepository; default discovery.New
	Logger *slog.Logger
}

// Indexer keeps the content store and trigram index in step with the files
// on disk.
type Indexer struct {
	storage storage.Storage
	walker  *discovery.Walker
	gen     trigram.Generator
	config  Config
	logger  *slog.Logger
	lock    IndexLock
}

// New creates a new Indexer instance
func New(store storage.Storage, config *Config) *Indexer {
	cfg := Config{}
	if config != nil {
		cfg = *config
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.WarnThreshold <= 0 {
		cfg.WarnThreshold = DefaultWarnThreshold
	}
	if cfg.FileWorkers <= 0 {
		cfg.FileWorkers = DefaultFileWorkers
	}
	logger := logging.OrDiscard(cfg.Logger)
	walker := cfg.Walker
	if walker == nil {
		walker = discovery.New(discovery.Options{Logger: logger})
	}
	return &Indexer{
		storage: store,
		walker:  walker,
		gen:     trigram.NewGenerator(cfg.ParallelThreshold, cfg.Workers),
		config:  cfg,
		logger:  logger,
	}
}

// IndexRepository discovers the eligible files of repoRoot and indexes them.
// Per-file failures are recorded in the report; an error is returned only
// when the repository cannot be walked or a run is already active.
func (idx *Indexer) IndexRepository(ctx context.Context, repoRoot string) (*Report, error) {
	if !idx.lock.TryAcquire() {
		return nil, ErrIndexInProgress
	}
	defer idx.lock.Release()

	start := time.Now()
	candidates, err := idx.walker.Candidates(ctx, repoRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to discover files: %w", err)
	}

	report := idx.indexCandidates(ctx, candidates)
	report.Repository = repoRoot
	report.Duration = time.Since(start)

	idx.logger.Info("indexed repository",
		"repo", repoRoot,
		"candidates", report.Candidates,
		"indexed", report.Indexed,
		"unchanged", report.Unchanged,
		"skipped_empty", report.SkippedEmpty,
		"failed", report.Failed,
		"duration", report.Duration)
	return report, nil
}

// IndexFiles indexes an explicit list of candidates.
func (idx *Indexer) IndexFiles(ctx context.Context, candidates []discovery.Candidate) *Report {
	start := time.Now()
	report := idx.indexCandidates(ctx, candidates)
	report.Duration = time.Since(start)
	return report
}

// indexCandidates processes files concurrently. Results are sorted by
// repository and path so reports are deterministic.
func (idx *Indexer) indexCandidates(ctx context.Context, candidates []discovery.Candidate) *Report {
	report := &Report{Candidates: len(candidates), Errors: make([]string, 0)}
	results := make([]FileResult, len(candidates))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(idx.config.FileWorkers)
	for i := range candidates {
		g.Go(func() error {
			results[i] = idx.IndexFile(gctx, candidates[i])
			return nil
		})
	}
	_ = g.Wait()

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].RepoPath != results[j].RepoPath {
			return results[i].RepoPath < results[j].RepoPath
		}
		return results[i].FilePath < results[j].FilePath
	})
	for _, res := range results {
		report.add(res)
	}
	return report
}

// IndexFile brings one file's row and postings up to date. It never panics
// or returns an error; failures are reported through the result.
func (idx *Indexer) IndexFile(ctx context.Context, c discovery.Candidate) FileResult {
	res := FileResult{RepoPath: c.RepoRoot, FilePath: c.FilePath}
	fail := func(err error) FileResult {
		res.Outcome = OutcomeFailed
		res.Err = err
		idx.logger.Warn("failed to index file", "repo", c.RepoRoot, "file", c.FilePath, "error", err)
		return res
	}

	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	info, err := os.Stat(c.AbsPath())
	if err != nil {
		return fail(err)
	}
	if info.Size() == 0 {
		idx.logger.Info("skipping empty file", "repo", c.RepoRoot, "file", c.FilePath)
		res.Outcome = OutcomeSkippedEmpty
		return res
	}
	modTime := info.ModTime().UTC()

	if !idx.config.Force {
		changed, err := idx.needsIndexing(ctx, c, modTime)
		if err != nil {
			return fail(err)
		}
		if !changed {
			res.Outcome = OutcomeUnchanged
			return res
		}
	}

	content, err := os.ReadFile(c.AbsPath())
	if err != nil {
		return fail(err)
	}
	if len(content) == 0 {
		idx.logger.Info("skipping empty file", "repo", c.RepoRoot, "file", c.FilePath)
		res.Outcome = OutcomeSkippedEmpty
		return res
	}

	set, err := idx.gen.Generate(ctx, string(content))
	if err != nil {
		return fail(fmt.Errorf("failed to generate trigrams: %w", err))
	}
	postings := toPostings(set)
	if len(postings) > idx.config.WarnThreshold {
		idx.logger.Warn("large posting set",
			"repo", c.RepoRoot, "file", c.FilePath, "postings", len(postings))
	}

	file := &storage.IndexedFile{
		RepoPath:     c.RepoRoot,
		FilePath:     c.FilePath,
		FileType:     string(c.FileType),
		Content:      string(content),
		LastModified: modTime,
		SizeBytes:    int64(len(content)),
	}
	if err := idx.writeFile(ctx, file, postings); err != nil {
		return fail(err)
	}

	idx.logger.Debug("indexed file", "repo", c.RepoRoot, "file", c.FilePath, "postings", len(postings))
	res.Outcome = OutcomeIndexed
	res.Trigrams = len(postings)
	return res
}

// needsIndexing reports whether no row exists for c or modTime is strictly
// newer than the stored modification time.
func (idx *Indexer) needsIndexing(ctx context.Context, c discovery.Candidate, modTime time.Time) (bool, error) {
	existing, err := idx.storage.GetFile(ctx, c.RepoRoot, c.FilePath)
	if errors.Is(err, storage.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to look up file: %w", err)
	}
	return modTime.After(existing.LastModified), nil
}

// writeFile upserts the row and replaces its postings. The upsert, the
// delete of old postings and the first batch share one transaction; each
// further batch commits on its own. If a later batch fails the row is
// removed so the next run starts from scratch.
func (idx *Indexer) writeFile(ctx context.Context, file *storage.IndexedFile, postings []storage.Posting) error {
	batchSize := idx.config.BatchSize
	first := postings
	if len(first) > batchSize {
		first = first[:batchSize]
	}

	tx, err := idx.storage.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := tx.UpsertFile(ctx, file); err != nil {
		_ = tx.Rollback()
		return err
	}
	if _, err := tx.DeletePostings(ctx, file.ID); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.InsertPostings(ctx, file.ID, first); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	for start := len(first); start < len(postings); start += batchSize {
		end := start + batchSize
		if end > len(postings) {
			end = len(postings)
		}
		if err := idx.insertBatch(ctx, file.ID, postings[start:end]); err != nil {
			if delErr := idx.storage.DeleteFile(context.WithoutCancel(ctx), file.ID); delErr != nil {
				idx.logger.Error("failed to remove partially indexed file",
					"repo", file.RepoPath, "file", file.FilePath, "error", delErr)
			}
			return err
		}
	}
	return nil
}

func (idx *Indexer) insertBatch(ctx context.Context, fileID int64, batch []storage.Posting) error {
	tx, err := idx.storage.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := tx.InsertPostings(ctx, fileID, batch); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func toPostings(set trigram.Set) []storage.Posting {
	sorted := set.Sorted()
	out := make([]storage.Posting, len(sorted))
	for i, tg := range sorted {
		out[i] = storage.Posting{Trigram: tg.Text, Position: tg.Position}
	}
	return out
}

// PruneMissing deletes rows whose file is gone from disk or no longer
// eligible. Postings cascade.
func (idx *Indexer) PruneMissing(ctx context.Context) (int, error) {
	filter := idx.walker.Filter()
	return idx.storage.PruneMissingFiles(ctx, func(repoPath, filePath string) bool {
		if _, ok := filter.Eligible(filePath); !ok {
			return false
		}
		c := discovery.Candidate{RepoRoot: repoPath, FilePath: filePath}
		info, err := os.Stat(c.AbsPath())
		return err == nil && info.Mode().IsRegular()
	})
}

// RunLocked reports whether a repository run is active.
func (idx *Indexer) RunLocked() bool {
	return idx.lock.Held()
}

// IndexRepositories indexes several repositories in order. Repositories
// that cannot be walked are logged and reported with a single error entry.
func (idx *Indexer) IndexRepositories(ctx context.Context, roots []string) []*Report {
	reports := make([]*Report, 0, len(roots))
	for _, root := range roots {
		if ctx.Err() != nil {
			break
		}
		report, err := idx.IndexRepository(ctx, root)
		if err != nil {
			idx.logger.Error("failed to index repository", "repo", root, "error", err)
			report = &Report{Repository: root, Errors: []string{err.Error()}}
		}
		reports = append(reports, report)
	}
	return reports
}
