// Package scheduler pulls many repositories with bounded concurrency,
// gated by the repository cache cooldown, and reports progress as events.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/repodex/internal/logging"
	"github.com/dshills/repodex/internal/vcs"
)

// DefaultBatchSize is the number of pulls running at once.
const DefaultBatchSize = 5

// ErrSyncInProgress is returned when Run is called while another run of the
// same Scheduler is active.
var ErrSyncInProgress = errors.New("sync already in progress")

// Cache is the subset of the repository cache the scheduler needs.
type Cache interface {
	Eligible(ctx context.Context, path string) (bool, error)
	RecordAttempt(ctx context.Context, repo vcs.Repository) error
	RecordSuccess(ctx context.Context, path string) error
}

// Config configures a Scheduler.
type Config struct {
	BatchSize int
	Blacklist []string // substrings of name or path, or doublestar patterns
	Handler   Handler
	Logger    *slog.Logger
}

// Scheduler runs sync passes.
type Scheduler struct {
	client    vcs.Client
	cache     Cache
	batchSize int
	blacklist []string
	handler   Handler
	logger    *slog.Logger
	running   atomic.Bool
}

// New creates a Scheduler.
func New(client vcs.Client, cache Cache, cfg *Config) *Scheduler {
	c := Config{}
	if cfg != nil {
		c = *cfg
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.Handler == nil {
		c.Handler = func(Event) {}
	}
	return &Scheduler{
		client:    client,
		cache:     cache,
		batchSize: c.BatchSize,
		blacklist: c.Blacklist,
		handler:   c.Handler,
		logger:    logging.OrDiscard(c.Logger),
	}
}

// Run filters repos, then pulls the eligible ones batch by batch. Batches
// run strictly one after another; inside a batch every pull is concurrent.
// Per-repository failures are counted in the summary, never returned. The
// returned error is ErrSyncInProgress or the context error when ctx ends
// between batches.
func (s *Scheduler) Run(ctx context.Context, repos []vcs.Repository) (Summary, error) {
	if !s.running.CompareAndSwap(false, true) {
		return Summary{}, ErrSyncInProgress
	}
	defer s.running.Store(false)

	start := time.Now()
	summary := Summary{Failures: make(map[string]string)}

	eligible := s.filter(ctx, repos, &summary)
	for _, batch := range Partition(eligible, s.batchSize) {
		if err := ctx.Err(); err != nil {
			summary.Duration = time.Since(start)
			return summary, err
		}
		summary.Batches++
		s.runBatch(ctx, batch, &summary)
	}

	summary.Duration = time.Since(start)
	s.logger.Info("sync finished",
		"attempted", summary.Attempted(),
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"skipped", summary.Skipped,
		"batches", summary.Batches,
		"duration", summary.Duration)
	return summary, nil
}

// Running reports whether a run is active.
func (s *Scheduler) Running() bool {
	return s.running.Load()
}

// filter is the sequential pass that emits a skip event for every excluded
// repository as soon as it is excluded.
func (s *Scheduler) filter(ctx context.Context, repos []vcs.Repository, summary *Summary) []vcs.Repository {
	eligible := make([]vcs.Repository, 0, len(repos))
	for _, repo := range repos {
		reason := ""
		switch {
		case s.blacklisted(repo):
			reason = ReasonBlacklisted
		case !repo.HasRemote():
			reason = ReasonNoRemote
		default:
			ok, err := s.cache.Eligible(ctx, repo.Path)
			if err != nil {
				reason = ReasonCacheError
			} else if !ok {
				reason = ReasonCooldown
			}
		}
		if reason != "" {
			summary.Skipped++
			s.logger.Debug("skipping repository", "repo", repo.Name, "path", repo.Path, "reason", reason)
			s.handler(skipped(repo.Name, repo.Path, reason))
			continue
		}
		eligible = append(eligible, repo)
	}
	return eligible
}

func (s *Scheduler) blacklisted(repo vcs.Repository) bool {
	return Blacklisted(repo, s.blacklist)
}

// Blacklisted reports whether repo matches any entry, ignoring case. Entries
// containing glob metacharacters are doublestar patterns matched against the
// name and the path; other entries match as substrings of either.
func Blacklisted(repo vcs.Repository, entries []string) bool {
	name := strings.ToLower(repo.Name)
	path := strings.ToLower(repo.Path)
	for _, entry := range entries {
		e := strings.ToLower(strings.TrimSpace(entry))
		if e == "" {
			continue
		}
		if strings.ContainsAny(e, "*?[{") {
			if ok, _ := doublestar.Match(e, name); ok {
				return true
			}
			if ok, _ := doublestar.Match(e, strings.TrimPrefix(path, "/")); ok {
				return true
			}
			continue
		}
		if strings.Contains(name, e) || strings.Contains(path, e) {
			return true
		}
	}
	return false
}

// runBatch dispatches one goroutine per repository and drains their events
// on the calling goroutine. The channel is closed once every task has
// returned, which ends the drain.
func (s *Scheduler) runBatch(ctx context.Context, batch []vcs.Repository, summary *Summary) {
	events := make(chan Event)

	var g errgroup.Group
	for _, repo := range batch {
		g.Go(func() error {
			s.pull(ctx, repo, events)
			return nil
		})
	}
	go func() {
		_ = g.Wait()
		close(events)
	}()

	for ev := range events {
		if ev.Kind == EventCompleted {
			if ev.Success {
				summary.Succeeded++
			} else {
				summary.Failed++
				summary.Failures[ev.Path] = ev.Message
			}
		}
		s.handler(ev)
	}
}

// pull is the per-repository task.
func (s *Scheduler) pull(ctx context.Context, repo vcs.Repository, events chan<- Event) {
	events <- started(repo.Name, repo.Path)

	result := func() (ev Event) {
		defer func() {
			if r := recover(); r != nil {
				ev = completed(repo.Name, repo.Path, false, fmt.Sprintf("panic: %v", r))
			}
		}()

		if err := s.cache.RecordAttempt(ctx, repo); err != nil {
			s.logger.Warn("failed to record pull attempt", "repo", repo.Name, "error", err)
		}

		ok, output := s.client.Pull(ctx, repo.Path)
		if !ok {
			s.logger.Warn("pull failed", "repo", repo.Name, "path", repo.Path, "output", output)
			return completed(repo.Name, repo.Path, false, output)
		}
		if err := s.cache.RecordSuccess(ctx, repo.Path); err != nil {
			s.logger.Warn("failed to record pull success", "repo", repo.Name, "error", err)
		}
		return completed(repo.Name, repo.Path, true, output)
	}()

	events <- result
}

// Partition splits repos into consecutive groups of at most size.
func Partition(repos []vcs.Repository, size int) [][]vcs.Repository {
	if size <= 0 {
		size = DefaultBatchSize
	}
	var out [][]vcs.Repository
	for i := 0; i < len(repos); i += size {
		end := i + size
		if end > len(repos) {
			end = len(repos)
		}
		out = append(out, repos[i:end])
	}
	return out
}
