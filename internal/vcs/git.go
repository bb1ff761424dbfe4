// Package vcs wraps the git command line for the sync scheduler: pulling
// with a timeout and inspecting remotes and branches.
package vcs

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// DefaultPullTimeout bounds one git pull.
const DefaultPullTimeout = 30 * time.Second

// Direction of a remote URL as printed by `git remote -v`.
type Direction string

const (
	Fetch Direction = "fetch"
	Push  Direction = "push"
)

// Remote is one line of `git remote -v`.
type Remote struct {
	Name      string
	URL       string
	Direction Direction
}

// Repository is a discovered checkout with its remotes resolved.
type Repository struct {
	Name      string
	Path      string
	RemoteURL string // fetch URL of origin, or of the first remote; empty if none
	Remotes   []Remote
}

// HasRemote reports whether the repository has a remote to pull from.
func (r Repository) HasRemote() bool {
	return r.RemoteURL != ""
}

// Client is the version-control adapter consumed by the scheduler.
type Client interface {
	// Pull updates the checkout at path. ok is false on any failure, with
	// output describing it; a pull that exceeds the timeout is killed.
	Pull(ctx context.Context, path string) (ok bool, output string)
	Remotes(ctx context.Context, path string) ([]Remote, error)
	CurrentBranch(ctx context.Context, path string) (string, error)
}

// Git implements Client by shelling out to the git binary.
type Git struct {
	Binary      string        // default "git"
	PullTimeout time.Duration // default DefaultPullTimeout
}

// NewGit creates a Git client with the given pull timeout.
func NewGit(pullTimeout time.Duration) *Git {
	if pullTimeout <= 0 {
		pullTimeout = DefaultPullTimeout
	}
	return &Git{Binary: "git", PullTimeout: pullTimeout}
}

func (g *Git) binary() string {
	if g.Binary == "" {
		return "git"
	}
	return g.Binary
}

func (g *Git) command(ctx context.Context, dir string, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, g.binary(), args...)
	cmd.Dir = dir
	// Never block on a credential prompt.
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	return cmd
}

// Pull runs `git pull --ff-only` with the configured timeout.
func (g *Git) Pull(ctx context.Context, path string) (bool, string) {
	if path == "" {
		return false, "vcs: repo directory is required"
	}
	timeout := g.PullTimeout
	if timeout <= 0 {
		timeout = DefaultPullTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, err := g.command(ctx, path, "pull", "--ff-only").CombinedOutput()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return false, fmt.Sprintf("timed out after %s", timeout)
	}
	if err != nil {
		msg := strings.TrimSpace(string(out))
		if msg == "" {
			msg = err.Error()
		}
		return false, msg
	}
	return true, strings.TrimSpace(string(out))
}

// Remotes runs `git remote -v`.
func (g *Git) Remotes(ctx context.Context, path string) ([]Remote, error) {
	out, err := g.command(ctx, path, "remote", "-v").CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("vcs: remote -v in %s: %s", path, strings.TrimSpace(string(out)))
	}
	return ParseRemotes(string(out)), nil
}

// CurrentBranch returns the checked out branch name ("HEAD" when detached).
func (g *Git) CurrentBranch(ctx context.Context, path string) (string, error) {
	out, err := g.command(ctx, path, "rev-parse", "--abbrev-ref", "HEAD").CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("vcs: current branch in %s: %s", path, strings.TrimSpace(string(out)))
	}
	return strings.TrimSpace(string(out)), nil
}

// ParseRemotes parses the output of `git remote -v`. Malformed lines are
// skipped.
func ParseRemotes(output string) []Remote {
	var remotes []Remote
	sc := bufio.NewScanner(strings.NewReader(output))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 2 {
			continue
		}
		r := Remote{Name: fields[0], URL: fields[1]}
		if len(fields) >= 3 {
			r.Direction = Direction(strings.Trim(fields[2], "()"))
		}
		remotes = append(remotes, r)
	}
	return remotes
}

// PrimaryURL picks the fetch URL of origin, falling back to the first
// fetch remote, then to any remote.
func PrimaryURL(remotes []Remote) string {
	var firstFetch, first string
	for _, r := range remotes {
		if first == "" {
			first = r.URL
		}
		if r.Direction == Fetch || r.Direction == "" {
			if r.Name == "origin" {
				return r.URL
			}
			if firstFetch == "" {
				firstFetch = r.URL
			}
		}
	}
	if firstFetch != "" {
		return firstFetch
	}
	return first
}

// Describe resolves a checkout's name and remotes. A failure to list remotes
// yields a repository without a remote.
func Describe(ctx context.Context, c Client, path string) (Repository, error) {
	repo := Repository{Name: filepath.Base(path), Path: path}
	remotes, err := c.Remotes(ctx, path)
	if err != nil {
		return repo, err
	}
	repo.Remotes = remotes
	repo.RemoteURL = PrimaryURL(remotes)
	return repo, nil
}

// DescribeAll describes every path. Paths whose remotes cannot be listed are
// kept without a remote so the scheduler reports them as skipped.
func DescribeAll(ctx context.Context, c Client, paths []string, logger *slog.Logger) []Repository {
	out := make([]Repository, 0, len(paths))
	for _, p := range paths {
		repo, err := Describe(ctx, c, p)
		if err != nil && logger != nil {
			logger.Warn("failed to list remotes", "path", p, "error", err)
		}
		out = append(out, repo)
	}
	return out
}
