package indexer

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/repodex/internal/discovery"
	"github.com/dshills/repodex/internal/filetype"
	"github.com/dshills/repodex/internal/storage"
	"github.com/dshills/repodex/internal/trigram"
)

// setupTestStorage creates an in-memory SQLite database for testing
func setupTestStorage(t testing.TB) *storage.SQLiteStorage {
	t.Helper()

	store, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err, "Failed to create test storage")
	t.Cleanup(func() { _ = store.Close() })

	return store
}

// createTestFile writes a file below dir and returns its path
func createTestFile(t testing.TB, dir, name, content string) string {
	t.Helper()

	filePath := filepath.Join(dir, name)
	err := os.MkdirAll(filepath.Dir(filePath), 0755)
	require.NoError(t, err)

	err = os.WriteFile(filePath, []byte(content), 0644)
	require.NoError(t, err)

	return filePath
}

// touch moves a file's modification time by d
func touch(t testing.TB, path string, d time.Duration) {
	t.Helper()
	info, err := os.Stat(path)
	require.NoError(t, err)
	mt := info.ModTime().Add(d)
	require.NoError(t, os.Chtimes(path, mt, mt))
}

func newRepo(t testing.TB) string {
	t.Helper()
	repo := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(repo, ".git"), 0755))
	return repo
}

func candidate(repo, rel string) discovery.Candidate {
	ft, _ := filetype.Detect(rel)
	return discovery.Candidate{RepoRoot: repo, FilePath: rel, FileType: ft}
}

func storedTrigrams(t *testing.T, store storage.Storage, repo, rel string) []string {
	t.Helper()
	file, err := store.GetFile(context.Background(), repo, rel)
	require.NoError(t, err)
	tgs, err := store.ListTrigrams(context.Background(), file.ID)
	require.NoError(t, err)
	return tgs
}

func TestNew_Defaults(t *testing.T) {
	store := setupTestStorage(t)
	idx := New(store, nil)

	require.NotNil(t, idx)
	assert.Equal(t, DefaultBatchSize, idx.config.BatchSize)
	assert.Equal(t, DefaultWarnThreshold, idx.config.WarnThreshold)
	assert.Equal(t, trigram.DefaultParallelThreshold, idx.gen.ParallelThreshold)
	assert.NotNil(t, idx.walker)
}

func TestIndexRepository_Success(t *testing.T) {
	store := setupTestStorage(t)
	repo := newRepo(t)
	createTestFile(t, repo, "main.tf", `resource "aws_s3_bucket" "logs" {}`)
	createTestFile(t, repo, "scripts/Deploy.ps1", "Write-Host 'Deploying'")
	createTestFile(t, repo, "README.md", "not indexed")
	createTestFile(t, repo, "node_modules/x/main.tf", "excluded")

	idx := New(store, nil)
	report, err := idx.IndexRepository(context.Background(), repo)
	require.NoError(t, err)

	assert.Equal(t, repo, report.Repository)
	assert.Equal(t, 2, report.Candidates)
	assert.Equal(t, 2, report.Indexed)
	assert.Equal(t, 0, report.Failed)
	assert.True(t, report.Mutated())
	assert.Empty(t, report.Errors)

	files, err := store.ListFiles(context.Background(), repo)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "main.tf", files[0].FilePath)
	assert.Equal(t, "terraform", files[0].FileType)
	assert.Equal(t, "scripts/Deploy.ps1", files[1].FilePath)
	assert.Equal(t, "powershell", files[1].FileType)
}

func TestIndexRepository_RoundTrip(t *testing.T) {
	store := setupTestStorage(t)
	repo := newRepo(t)
	content := `Variable "Region" { default = "eu-west-1" }`
	createTestFile(t, repo, "vars.tf", content)

	_, err := New(store, nil).IndexRepository(context.Background(), repo)
	require.NoError(t, err)

	lower := []rune(strings.ToLower(content))
	ctx := context.Background()
	for i := 0; i+3 <= len(lower); i += 5 {
		for _, n := range []int{3, 6} {
			if i+n > len(lower) {
				continue
			}
			q := string(lower[i : i+n])
			files, err := store.FindByTrigrams(ctx, trigram.Generate(q).Texts(), nil)
			require.NoError(t, err)
			require.Len(t, files, 1, "query %q", q)
			assert.Equal(t, "vars.tf", files[0].FilePath)
		}
	}
}

func TestIndexRepository_Idempotent(t *testing.T) {
	store := setupTestStorage(t)
	repo := newRepo(t)
	createTestFile(t, repo, "main.tf", "resource abc {}")
	idx := New(store, nil)
	ctx := context.Background()

	first, err := idx.IndexRepository(ctx, repo)
	require.NoError(t, err)
	require.Equal(t, 1, first.Indexed)
	before, err := store.GetFile(ctx, repo, "main.tf")
	require.NoError(t, err)
	statusBefore, err := store.GetStatus(ctx)
	require.NoError(t, err)

	second, err := idx.IndexRepository(ctx, repo)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Indexed)
	assert.Equal(t, 1, second.Unchanged)
	assert.False(t, second.Mutated())

	after, err := store.GetFile(ctx, repo, "main.tf")
	require.NoError(t, err)
	assert.Equal(t, before.ID, after.ID)
	assert.Equal(t, before.IndexedAt, after.IndexedAt, "row must not be rewritten")

	statusAfter, err := store.GetStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, statusBefore.FilesCount, statusAfter.FilesCount)
	assert.Equal(t, statusBefore.PostingsCount, statusAfter.PostingsCount)
}

func TestIndexRepository_ReindexReplacesPostings(t *testing.T) {
	store := setupTestStorage(t)
	repo := newRepo(t)
	path := createTestFile(t, repo, "main.tf", "alpha bravo charlie")
	idx := New(store, nil)
	ctx := context.Background()

	_, err := idx.IndexRepository(ctx, repo)
	require.NoError(t, err)

	newContent := "delta echo foxtrot"
	require.NoError(t, os.WriteFile(path, []byte(newContent), 0644))
	touch(t, path, time.Minute)

	report, err := idx.IndexRepository(ctx, repo)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Indexed)

	assert.Equal(t, trigram.Generate(newContent).Texts(), storedTrigrams(t, store, repo, "main.tf"))

	file, err := store.GetFile(ctx, repo, "main.tf")
	require.NoError(t, err)
	assert.Equal(t, newContent, file.Content)
	assert.Equal(t, int64(len(newContent)), file.SizeBytes)
}

func TestIndexRepository_OlderMtimeNotReindexed(t *testing.T) {
	store := setupTestStorage(t)
	repo := newRepo(t)
	path := createTestFile(t, repo, "main.tf", "original content")
	idx := New(store, nil)
	ctx := context.Background()

	_, err := idx.IndexRepository(ctx, repo)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("rewritten content"), 0644))
	touch(t, path, -time.Hour)

	report, err := idx.IndexRepository(ctx, repo)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Unchanged)

	file, err := store.GetFile(ctx, repo, "main.tf")
	require.NoError(t, err)
	assert.Equal(t, "original content", file.Content)
}

func TestIndexRepository_Force(t *testing.T) {
	store := setupTestStorage(t)
	repo := newRepo(t)
	createTestFile(t, repo, "main.tf", "resource abc {}")
	ctx := context.Background()

	_, err := New(store, nil).IndexRepository(ctx, repo)
	require.NoError(t, err)

	report, err := New(store, &Config{Force: true}).IndexRepository(ctx, repo)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Indexed)

	status, err := store.GetStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, status.FilesCount)
	assert.Equal(t, len(trigram.Generate("resource abc {}")), status.PostingsCount)
}

func TestIndexRepository_SkipsEmptyFiles(t *testing.T) {
	store := setupTestStorage(t)
	repo := newRepo(t)
	createTestFile(t, repo, "empty.tf", "")
	createTestFile(t, repo, "full.tf", "abc")

	report, err := New(store, nil).IndexRepository(context.Background(), repo)
	require.NoError(t, err)
	assert.Equal(t, 1, report.SkippedEmpty)
	assert.Equal(t, 1, report.Indexed)
	assert.Equal(t, 0, report.Failed)

	_, err = store.GetFile(context.Background(), repo, "empty.tf")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestIndexRepository_ShortContent(t *testing.T) {
	store := setupTestStorage(t)
	repo := newRepo(t)
	createTestFile(t, repo, "tiny.tf", "x")

	report, err := New(store, nil).IndexRepository(context.Background(), repo)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Indexed)
	assert.Empty(t, storedTrigrams(t, store, repo, "tiny.tf"))
}

func TestIndexFiles_FailureIsolated(t *testing.T) {
	store := setupTestStorage(t)
	repo := newRepo(t)
	createTestFile(t, repo, "a.tf", "first file")
	createTestFile(t, repo, "c.tf", "third file")

	report := New(store, nil).IndexFiles(context.Background(), []discovery.Candidate{
		candidate(repo, "a.tf"),
		candidate(repo, "b.tf"), // missing on disk
		candidate(repo, "c.tf"),
	})

	assert.Equal(t, 2, report.Indexed)
	assert.Equal(t, 1, report.Failed)
	require.Len(t, report.Errors, 1)
	assert.Contains(t, report.Errors[0], "b.tf")
	require.Len(t, report.Files, 3)
	assert.Equal(t, OutcomeFailed, report.Files[1].Outcome)
	assert.Error(t, report.Files[1].Err)
}

func TestIndexFile_BatchedInsert(t *testing.T) {
	store := setupTestStorage(t)
	repo := newRepo(t)
	var sb strings.Builder
	for i := 0; i < 200; i++ {
		fmt.Fprintf(&sb, "resource_%03d ", i)
	}
	content := sb.String()
	createTestFile(t, repo, "big.tf", content)

	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	idx := New(store, &Config{BatchSize: 10, WarnThreshold: 50, Logger: logger})

	res := idx.IndexFile(context.Background(), candidate(repo, "big.tf"))
	require.Equal(t, OutcomeIndexed, res.Outcome, "%v", res.Err)

	want := trigram.Generate(content).Texts()
	assert.Greater(t, len(want), 50)
	assert.Equal(t, len(want), res.Trigrams)
	assert.Equal(t, want, storedTrigrams(t, store, repo, "big.tf"))
	assert.Contains(t, logs.String(), "large posting set")
}

func TestIndexFile_ParallelGenerationMatchesSequential(t *testing.T) {
	store := setupTestStorage(t)
	repo := newRepo(t)
	content := strings.Repeat("Get-ChildItem -Path C:\\Temp | Remove-Item; ", 40)
	createTestFile(t, repo, "clean.ps1", content)

	idx := New(store, &Config{ParallelThreshold: 100, Workers: 4})
	res := idx.IndexFile(context.Background(), candidate(repo, "clean.ps1"))
	require.Equal(t, OutcomeIndexed, res.Outcome, "%v", res.Err)

	assert.Equal(t, trigram.Generate(content).Texts(), storedTrigrams(t, store, repo, "clean.ps1"))
}

func TestIndexFile_Cancelled(t *testing.T) {
	store := setupTestStorage(t)
	repo := newRepo(t)
	createTestFile(t, repo, "main.tf", "abc")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := New(store, nil).IndexFile(ctx, candidate(repo, "main.tf"))
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.ErrorIs(t, res.Err, context.Canceled)
}

func TestIndexRepository_InProgress(t *testing.T) {
	store := setupTestStorage(t)
	idx := New(store, nil)
	require.True(t, idx.lock.TryAcquire())
	defer idx.lock.Release()

	_, err := idx.IndexRepository(context.Background(), newRepo(t))
	assert.ErrorIs(t, err, ErrIndexInProgress)
	assert.True(t, idx.RunLocked())
}

func TestIndexRepository_MissingRoot(t *testing.T) {
	store := setupTestStorage(t)
	_, err := New(store, nil).IndexRepository(context.Background(), filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestIndexRepositories(t *testing.T) {
	store := setupTestStorage(t)
	a := newRepo(t)
	b := newRepo(t)
	createTestFile(t, a, "a.tf", "aaa")
	createTestFile(t, b, "b.ps1", "bbb")
	missing := filepath.Join(t.TempDir(), "missing")

	reports := New(store, nil).IndexRepositories(context.Background(), []string{a, missing, b})
	require.Len(t, reports, 3)
	assert.Equal(t, 1, reports[0].Indexed)
	assert.NotEmpty(t, reports[1].Errors)
	assert.Equal(t, 1, reports[2].Indexed)
}

func TestPruneMissing(t *testing.T) {
	store := setupTestStorage(t)
	repo := newRepo(t)
	createTestFile(t, repo, "keep.tf", "keep me")
	gone := createTestFile(t, repo, "gone.tf", "remove me")
	idx := New(store, nil)
	ctx := context.Background()

	_, err := idx.IndexRepository(ctx, repo)
	require.NoError(t, err)
	require.NoError(t, os.Remove(gone))

	n, err := idx.PruneMissing(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	files, err := store.ListFiles(ctx, repo)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "keep.tf", files[0].FilePath)
}

func TestIndexLock(t *testing.T) {
	var l IndexLock
	assert.True(t, l.TryAcquire())
	assert.False(t, l.TryAcquire())
	assert.True(t, l.Held())
	l.Release()
	assert.False(t, l.Held())
	assert.True(t, l.TryAcquire())
}
