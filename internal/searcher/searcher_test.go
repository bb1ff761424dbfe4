package searcher

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/repodex/internal/storage"
	"github.com/dshills/repodex/internal/trigram"
)

// setupTestSearcher creates a searcher over an in-memory store
func setupTestSearcher(t *testing.T) (*Searcher, *storage.SQLiteStorage) {
	t.Helper()
	store, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return NewSearcher(store, nil), store
}

// addFile stores a file with the postings the indexer would write
func addFile(t *testing.T, store storage.Storage, repo, path, fileType, content string) {
	t.Helper()
	ctx := context.Background()
	file := &storage.IndexedFile{
		RepoPath:     repo,
		FilePath:     path,
		FileType:     fileType,
		Content:      content,
		LastModified: time.Now().UTC(),
		SizeBytes:    int64(len(content)),
	}
	require.NoError(t, store.UpsertFile(ctx, file))
	var postings []storage.Posting
	for _, tg := range trigram.Generate(content).Sorted() {
		postings = append(postings, storage.Posting{Trigram: tg.Text, Position: tg.Position})
	}
	require.NoError(t, store.InsertPostings(ctx, file.ID, postings))
}

func paths(resp *SearchResponse) []string {
	out := make([]string, 0, len(resp.Results))
	for _, r := range resp.Results {
		out = append(out, r.RepoPath+"/"+r.FilePath)
	}
	return out
}

func TestNewSearcher(t *testing.T) {
	s, _ := setupTestSearcher(t)
	assert.NotNil(t, s.cache)
	assert.NotNil(t, s.logger)
	assert.Equal(t, 0, s.CacheLen())
}

func TestSearch_QueryTooShort(t *testing.T) {
	s, store := setupTestSearcher(t)
	addFile(t, store, "/r", "a.tf", "terraform", "abc")

	for _, q := range []string{"", "a", "ab", "é!"} {
		resp := s.Search(context.Background(), SearchRequest{Query: q})
		assert.Equal(t, ReasonQueryTooShort, resp.Reason, q)
		assert.Empty(t, resp.Results)
		assert.NoError(t, resp.Err)
	}
}

func TestSearch_SingleTrigram(t *testing.T) {
	s, store := setupTestSearcher(t)
	addFile(t, store, "/r", "hit.tf", "terraform", "xabcx")
	addFile(t, store, "/r", "miss.tf", "terraform", "ab c")

	resp := s.Search(context.Background(), SearchRequest{Query: "abc"})
	require.NoError(t, resp.Err)
	assert.Equal(t, []string{"/r/hit.tf"}, paths(resp))
	assert.Equal(t, 1, resp.Trigrams)
}

func TestSearch_CaseInsensitive(t *testing.T) {
	s, store := setupTestSearcher(t)
	addFile(t, store, "/r", "a.ps1", "powershell", "Get-ChildItem -Recurse")

	resp := s.Search(context.Background(), SearchRequest{Query: "CHILDitem"})
	require.Len(t, resp.Results, 1)
	assert.Equal(t, 1, resp.Results[0].Line)
	assert.Equal(t, "Get-ChildItem -Recurse", resp.Results[0].Snippet)
}

func TestSearch_ApproximateMatch(t *testing.T) {
	s, store := setupTestSearcher(t)
	addFile(t, store, "/r", "a.tf", "terraform", "bcdabc")

	resp := s.Search(context.Background(), SearchRequest{Query: "abcd"})
	require.NoError(t, resp.Err)
	assert.Equal(t, 2, resp.Trigrams)
	require.Equal(t, []string{"/r/a.tf"}, paths(resp))
	assert.Equal(t, 0, resp.Results[0].Line, "literal text is absent")
}

func TestSearch_Verify(t *testing.T) {
	s, store := setupTestSearcher(t)
	addFile(t, store, "/r", "false.tf", "terraform", "bcdabc")
	addFile(t, store, "/r", "true.tf", "terraform", "line one\nxxABCDxx")

	resp := s.Search(context.Background(), SearchRequest{Query: "abcd", Verify: true})
	require.Equal(t, []string{"/r/true.tf"}, paths(resp))
	assert.Equal(t, 2, resp.Results[0].Line)
	assert.Equal(t, "xxABCDxx", resp.Results[0].Snippet)
}

func TestSearch_VerifyAppliesLimitAfterFiltering(t *testing.T) {
	s, store := setupTestSearcher(t)
	addFile(t, store, "/a", "false.tf", "terraform", "bcdabc")
	addFile(t, store, "/b", "true.tf", "terraform", "abcd")
	addFile(t, store, "/c", "true.tf", "terraform", "abcd")

	resp := s.Search(context.Background(), SearchRequest{Query: "abcd", Verify: true, Limit: 1})
	assert.Equal(t, []string{"/b/true.tf"}, paths(resp))
}

func TestSearch_OrderingAndFilters(t *testing.T) {
	s, store := setupTestSearcher(t)
	addFile(t, store, "/src/b", "z.tf", "terraform", "module vpc")
	addFile(t, store, "/src/a", "y.ps1", "powershell", "# module vpc")
	addFile(t, store, "/src/a", "x.tf", "terraform", "module vpc {}")
	addFile(t, store, "/other", "w.tf", "terraform", "module vpc")

	ctx := context.Background()
	resp := s.Search(ctx, SearchRequest{Query: "module"})
	assert.Equal(t, []string{"/other/w.tf", "/src/a/x.tf", "/src/a/y.ps1", "/src/b/z.tf"}, paths(resp))
	assert.Equal(t, 4, resp.TotalResults)

	resp = s.Search(ctx, SearchRequest{Query: "module", RepoPath: "/src"})
	assert.Equal(t, []string{"/src/a/x.tf", "/src/a/y.ps1", "/src/b/z.tf"}, paths(resp))

	resp = s.Search(ctx, SearchRequest{Query: "module", FileType: "powershell"})
	assert.Equal(t, []string{"/src/a/y.ps1"}, paths(resp))

	resp = s.Search(ctx, SearchRequest{Query: "module", Limit: 2})
	assert.Equal(t, []string{"/other/w.tf", "/src/a/x.tf"}, paths(resp))
}

func TestSearch_NoMatch(t *testing.T) {
	s, store := setupTestSearcher(t)
	addFile(t, store, "/r", "a.tf", "terraform", "resource")

	resp := s.Search(context.Background(), SearchRequest{Query: "zzz"})
	assert.NoError(t, resp.Err)
	assert.Empty(t, resp.Results)
	assert.Empty(t, resp.Reason)
}

func TestSearch_Cache(t *testing.T) {
	s, store := setupTestSearcher(t)
	addFile(t, store, "/r", "a.tf", "terraform", "resource")
	ctx := context.Background()

	first := s.Search(ctx, SearchRequest{Query: "source", UseCache: true})
	assert.False(t, first.CacheHit)
	assert.Equal(t, 1, s.CacheLen())

	second := s.Search(ctx, SearchRequest{Query: "SOURCE", UseCache: true})
	assert.True(t, second.CacheHit)
	assert.Len(t, second.Results, 1)

	// Mutating a cached copy must not leak into the cache.
	second.Results[0].FilePath = "changed"
	third := s.Search(ctx, SearchRequest{Query: "source", UseCache: true})
	assert.True(t, third.CacheHit)
	assert.Equal(t, []string{"/r/a.tf"}, paths(third))

	s.Invalidate()
	assert.Equal(t, 0, s.CacheLen())
}

func TestSearch_CacheMissesAfterIndexChange(t *testing.T) {
	s, store := setupTestSearcher(t)
	ctx := context.Background()
	addFile(t, store, "/r", "a.tf", "terraform", "resource")

	first := s.Search(ctx, SearchRequest{Query: "resource", UseCache: true})
	require.Len(t, first.Results, 1)

	// A write that bypasses this searcher entirely.
	addFile(t, store, "/r", "b.tf", "terraform", "resource")

	second := s.Search(ctx, SearchRequest{Query: "resource", UseCache: true})
	assert.False(t, second.CacheHit)
	assert.Equal(t, []string{"/r/a.tf", "/r/b.tf"}, paths(second))

	f, err := store.GetFile(ctx, "/r", "a.tf")
	require.NoError(t, err)
	require.NoError(t, store.DeleteFile(ctx, f.ID))

	third := s.Search(ctx, SearchRequest{Query: "resource", UseCache: true})
	assert.False(t, third.CacheHit)
	assert.Equal(t, []string{"/r/b.tf"}, paths(third))
}

func TestSearch_StoreFailure(t *testing.T) {
	s, store := setupTestSearcher(t)
	require.NoError(t, store.Close())

	resp := s.Search(context.Background(), SearchRequest{Query: "abc"})
	assert.Error(t, resp.Err)
	assert.Empty(t, resp.Results)
}

func TestFindLine(t *testing.T) {
	line, snippet := findLine("first\n  second MATCH here  \nthird match", "match")
	assert.Equal(t, 2, line)
	assert.Equal(t, "second MATCH here", snippet)

	line, snippet = findLine("nothing", "match")
	assert.Equal(t, 0, line)
	assert.Empty(t, snippet)
}

func TestComputeQueryHash(t *testing.T) {
	gen := storage.Generation{Files: 1, MaxID: 1, LastIndexed: 100}
	a := computeQueryHash(SearchRequest{Query: "Module"}, gen)
	b := computeQueryHash(SearchRequest{Query: "module"}, gen)
	c := computeQueryHash(SearchRequest{Query: "module", Verify: true}, gen)
	d := computeQueryHash(SearchRequest{Query: "module"}, storage.Generation{Files: 1, MaxID: 1, LastIndexed: 101})
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.NotEqual(t, a, d)
}

func TestSearch_SharedCacheOutlivesStore(t *testing.T) {
	cache := NewCache(8)
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "repodex.db")

	store, err := storage.Open(ctx, dbPath)
	require.NoError(t, err)
	addFile(t, store, "/r", "a.tf", "terraform", "resource")
	first := NewSearcher(store, &Options{Cache: cache}).Search(ctx, SearchRequest{Query: "resource", UseCache: true})
	require.Len(t, first.Results, 1)
	require.NoError(t, store.Close())

	reopened, err := storage.Open(ctx, dbPath)
	require.NoError(t, err)
	defer reopened.Close()

	second := NewSearcher(reopened, &Options{Cache: cache}).Search(ctx, SearchRequest{Query: "resource", UseCache: true})
	assert.True(t, second.CacheHit)
	assert.Len(t, second.Results, 1)
	assert.Equal(t, 1, cache.Len())
}
