// Package discovery finds git checkouts under a set of roots and lists the
// files inside each checkout that the indexer should consider.
package discovery

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
	gitignore "github.com/denormal/go-gitignore"

	"github.com/dshills/repodex/internal/filetype"
	"github.com/dshills/repodex/internal/logging"
)

// Candidate is a file the indexer may index.
type Candidate struct {
	RepoRoot string        // absolute repository root
	FilePath string        // slash-separated, relative to RepoRoot
	FileType filetype.Type // resolved from the extension
}

// AbsPath returns the candidate's location on disk.
func (c Candidate) AbsPath() string {
	return filepath.Join(c.RepoRoot, filepath.FromSlash(c.FilePath))
}

// Options configures a Walker.
type Options struct {
	ExcludeDirs  []string // directory names added to filetype.DefaultExcludedDirs
	ExcludeGlobs []string // doublestar patterns matched against repo-relative paths
	Logger       *slog.Logger
}

// Walker walks the filesystem on behalf of the indexer and scheduler.
type Walker struct {
	filter *filetype.Filter
	globs  []string
	logger *slog.Logger
}

// New creates a Walker. Invalid glob patterns are dropped with a warning.
func New(opts Options) *Walker {
	logger := logging.OrDiscard(opts.Logger)
	globs := make([]string, 0, len(opts.ExcludeGlobs))
	for _, g := range opts.ExcludeGlobs {
		if !doublestar.ValidatePattern(g) {
			logger.Warn("ignoring invalid exclude glob", "pattern", g)
			continue
		}
		globs = append(globs, g)
	}
	return &Walker{
		filter: filetype.NewFilter(opts.ExcludeDirs...),
		globs:  globs,
		logger: logger,
	}
}

// Filter exposes the walker's eligibility filter.
func (w *Walker) Filter() *filetype.Filter {
	return w.filter
}

// FindRepositories returns every directory under root that contains a .git
// entry, sorted. Nested checkouts below a repository root are not reported.
func (w *Walker) FindRepositories(ctx context.Context, root string) ([]string, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("discovery: resolve %s: %w", root, err)
	}
	if _, err := os.Stat(root); err != nil {
		return nil, fmt.Errorf("discovery: %w", err)
	}

	var repos []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			w.logger.Debug("discovery: unreadable path", "path", path, "error", err)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && w.filter.ExcludedDir(d.Name()) {
			return filepath.SkipDir
		}
		if isRepository(path) {
			repos = append(repos, path)
			return filepath.SkipDir
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("discovery: walk %s: %w", root, err)
	}
	sort.Strings(repos)
	return repos, nil
}

// Candidates lists the eligible files of one repository, sorted by path.
// The repository's top-level .gitignore is honored.
func (w *Walker) Candidates(ctx context.Context, repoRoot string) ([]Candidate, error) {
	repoRoot, err := filepath.Abs(repoRoot)
	if err != nil {
		return nil, fmt.Errorf("discovery: resolve %s: %w", repoRoot, err)
	}
	if _, err := os.Stat(repoRoot); err != nil {
		return nil, fmt.Errorf("discovery: %w", err)
	}
	ignore := loadIgnoreFile(filepath.Join(repoRoot, ".gitignore"), repoRoot)

	var out []Candidate
	err = filepath.WalkDir(repoRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			w.logger.Debug("discovery: unreadable path", "path", path, "error", err)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if path == repoRoot {
			return nil
		}
		rel, relErr := filepath.Rel(repoRoot, path)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if w.filter.ExcludedDir(d.Name()) || w.ignored(ignore, rel, true) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		ft, ok := w.filter.Eligible(rel)
		if !ok || w.ignored(ignore, rel, false) {
			return nil
		}
		out = append(out, Candidate{RepoRoot: repoRoot, FilePath: rel, FileType: ft})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("discovery: walk %s: %w", repoRoot, err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FilePath < out[j].FilePath })
	return out, nil
}

func (w *Walker) ignored(gi gitignore.GitIgnore, rel string, isDir bool) bool {
	for _, g := range w.globs {
		if ok, _ := doublestar.Match(g, rel); ok {
			return true
		}
	}
	if gi != nil {
		if m := gi.Relative(rel, isDir); m != nil && m.Ignore() {
			return true
		}
	}
	return false
}

// isRepository reports whether dir holds a .git directory or a .git file
// (worktrees and submodules use the latter).
func isRepository(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, ".git"))
	return err == nil
}

// loadIgnoreFile reads a .gitignore; a missing file yields nil.
func loadIgnoreFile(path, baseDir string) gitignore.GitIgnore {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()
	return gitignore.New(f, baseDir, nil)
}
