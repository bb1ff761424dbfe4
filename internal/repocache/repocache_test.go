package repocache

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/repodex/internal/storage"
	"github.com/dshills/repodex/internal/vcs"
)

type fakeClock struct{ t time.Time }

func (f *fakeClock) Now() time.Time { return f.t }

func setupCache(t *testing.T, clock *fakeClock) (*Cache, *storage.SQLiteStorage) {
	t.Helper()
	store, err := storage.Open(context.Background(), filepath.Join(t.TempDir(), "repodex.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	c, err := New(store.DB(), Options{Now: clock.Now})
	require.NoError(t, err)
	return c, store
}

func TestShouldAttemptPull(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	at := func(d time.Duration) *time.Time {
		v := now.Add(-d)
		return &v
	}

	tests := []struct {
		name string
		last *time.Time
		want bool
	}{
		{"never attempted", nil, true},
		{"29 minutes ago", at(29 * time.Minute), false},
		{"exactly 30 minutes ago", at(30 * time.Minute), true},
		{"31 minutes ago", at(31 * time.Minute), true},
		{"just now", at(0), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ShouldAttemptPull(tt.last, now, DefaultCooldown))
		})
	}
}

func TestRecordAttemptThenSuccess(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	c, _ := setupCache(t, clock)
	ctx := context.Background()
	repo := vcs.Repository{Name: "infra", Path: "/src/infra", RemoteURL: "git@example.com:infra.git"}

	require.NoError(t, c.RecordAttempt(ctx, repo))

	row, err := c.Get(ctx, repo.Path)
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, "infra", row.RepoName)
	assert.Equal(t, repo.RemoteURL, row.RepoURL)
	require.NotNil(t, row.LastPullAttempt)
	assert.True(t, row.LastPullAttempt.Equal(clock.t))
	assert.Nil(t, row.LastSuccessfulPull)

	clock.t = clock.t.Add(5 * time.Second)
	require.NoError(t, c.RecordSuccess(ctx, repo.Path))

	row, err = c.Get(ctx, repo.Path)
	require.NoError(t, err)
	require.NotNil(t, row.LastSuccessfulPull)
	assert.False(t, row.LastSuccessfulPull.Before(*row.LastPullAttempt))
}

func TestRecordAttempt_UpdatesExistingRow(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	c, _ := setupCache(t, clock)
	ctx := context.Background()
	repo := vcs.Repository{Name: "infra", Path: "/src/infra", RemoteURL: "old"}

	require.NoError(t, c.RecordAttempt(ctx, repo))
	require.NoError(t, c.RecordSuccess(ctx, repo.Path))

	clock.t = clock.t.Add(time.Hour)
	repo.RemoteURL = "new"
	require.NoError(t, c.RecordAttempt(ctx, repo))

	rows, err := c.List(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "new", rows[0].RepoURL)
	assert.True(t, rows[0].LastPullAttempt.Equal(clock.t))
	// A new attempt leaves the previous success untouched.
	require.NotNil(t, rows[0].LastSuccessfulPull)
	assert.True(t, rows[0].LastSuccessfulPull.Equal(clock.t.Add(-time.Hour)))
}

func TestRecordSuccess_WithoutAttempt(t *testing.T) {
	c, _ := setupCache(t, &fakeClock{t: time.Now()})
	err := c.RecordSuccess(context.Background(), "/missing")
	assert.Error(t, err)
}

func TestEligible(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	c, _ := setupCache(t, clock)
	ctx := context.Background()
	repo := vcs.Repository{Name: "infra", Path: "/src/infra", RemoteURL: "u"}

	ok, err := c.Eligible(ctx, repo.Path)
	require.NoError(t, err)
	assert.True(t, ok, "unknown repository is eligible")

	require.NoError(t, c.RecordAttempt(ctx, repo))

	clock.t = clock.t.Add(29 * time.Minute)
	ok, err = c.Eligible(ctx, repo.Path)
	require.NoError(t, err)
	assert.False(t, ok)

	clock.t = clock.t.Add(2 * time.Minute)
	ok, err = c.Eligible(ctx, repo.Path)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEligible_StoreFailure(t *testing.T) {
	c, store := setupCache(t, &fakeClock{t: time.Now()})
	require.NoError(t, store.Close())

	ok, err := c.Eligible(context.Background(), "/src/infra")
	assert.Error(t, err)
	assert.False(t, ok)

	rows, err := c.List(context.Background())
	assert.Error(t, err)
	assert.Empty(t, rows)
}

func TestClear(t *testing.T) {
	c, store := setupCache(t, &fakeClock{t: time.Now()})
	ctx := context.Background()
	for _, name := range []string{"a", "b", "c"} {
		require.NoError(t, c.RecordAttempt(ctx, vcs.Repository{Name: name, Path: "/src/" + name}))
	}

	n, err := c.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	status, err := store.GetStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, status.CachedRepos)
}
