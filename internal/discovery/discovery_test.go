package discovery

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/repodex/internal/filetype"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func makeRepo(t *testing.T, dir string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".git"), 0o755))
}

func TestFindRepositories(t *testing.T) {
	root := t.TempDir()
	makeRepo(t, filepath.Join(root, "infra"))
	makeRepo(t, filepath.Join(root, "team", "scripts"))
	makeRepo(t, filepath.Join(root, "infra", "nested")) // below a repo root, not reported
	makeRepo(t, filepath.Join(root, "node_modules", "dep"))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "plain"), 0o755))
	// worktree-style .git file
	writeFile(t, filepath.Join(root, "worktree", ".git"), "gitdir: /elsewhere\n")

	w := New(Options{})
	repos, err := w.FindRepositories(context.Background(), root)
	require.NoError(t, err)

	assert.Equal(t, []string{
		filepath.Join(root, "infra"),
		filepath.Join(root, "team", "scripts"),
		filepath.Join(root, "worktree"),
	}, repos)
}

func TestFindRepositories_MissingRoot(t *testing.T) {
	w := New(Options{})
	_, err := w.FindRepositories(context.Background(), filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestCandidates(t *testing.T) {
	repo := t.TempDir()
	makeRepo(t, repo)
	writeFile(t, filepath.Join(repo, "main.tf"), "resource {}")
	writeFile(t, filepath.Join(repo, "env", "prod.tfvars"), "region = \"eu\"")
	writeFile(t, filepath.Join(repo, "scripts", "deploy.ps1"), "Write-Host hi")
	writeFile(t, filepath.Join(repo, "README.md"), "# readme")
	writeFile(t, filepath.Join(repo, ".terraform", "modules", "m", "main.tf"), "x")
	writeFile(t, filepath.Join(repo, "bin", "tool.ps1"), "x")
	writeFile(t, filepath.Join(repo, "generated", "out.tf"), "x")
	writeFile(t, filepath.Join(repo, "test", "fixtures", "a.tf"), "x")
	writeFile(t, filepath.Join(repo, ".gitignore"), "generated/\n")

	w := New(Options{ExcludeGlobs: []string{"**/fixtures/**", "[invalid"}})
	got, err := w.Candidates(context.Background(), repo)
	require.NoError(t, err)

	paths := make([]string, 0, len(got))
	for _, c := range got {
		paths = append(paths, c.FilePath)
		assert.Equal(t, repo, c.RepoRoot)
		assert.FileExists(t, c.AbsPath())
	}
	assert.Equal(t, []string{"env/prod.tfvars", "main.tf", "scripts/deploy.ps1"}, paths)
	assert.Equal(t, filetype.Terraform, got[0].FileType)
	assert.Equal(t, filetype.PowerShell, got[2].FileType)
}

func TestCandidates_Cancelled(t *testing.T) {
	repo := t.TempDir()
	writeFile(t, filepath.Join(repo, "main.tf"), "x")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	w := New(Options{})
	_, err := w.Candidates(ctx, repo)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCandidates_MissingRoot(t *testing.T) {
	w := New(Options{})
	_, err := w.Candidates(context.Background(), filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}
