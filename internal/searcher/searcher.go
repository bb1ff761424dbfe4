package searcher

import (
	"bufio"
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dshills/repodex/internal/logging"
	"github.com/dshills/repodex/internal/storage"
	"github.com/dshills/repodex/internal/trigram"
)

const (
	// MinQueryLength is the shortest query, in runes, that can be answered.
	MinQueryLength = trigram.Size

	// DefaultCacheSize is the number of responses kept in the LRU cache.
	DefaultCacheSize = 256

	// ReasonQueryTooShort marks a response rejected for length.
	ReasonQueryTooShort = "query_too_short"

	maxSnippetLen = 200
)

// SearchRequest represents a search query with filters
type SearchRequest struct {
	Query    string
	RepoPath string // repository path or a parent directory
	FileType string // "terraform" or "powershell"
	Limit    int    // 0 means unlimited
	Verify   bool   // drop files that do not contain the literal query
	UseCache bool
}

// Result is one matching file.
type Result struct {
	RepoPath     string
	FilePath     string
	FileType     string
	SizeBytes    int64
	LastModified time.Time
	Line         int    // first line containing the literal query; 0 if none
	Snippet      string // that line, trimmed
}

// SearchResponse contains search results and metadata
type SearchResponse struct {
	Query        string
	Results      []Result
	TotalResults int
	Trigrams     int    // distinct query trigrams
	Reason       string // set when the query was rejected
	CacheHit     bool
	Duration     time.Duration
	Err          error // store failure; Results is empty when set
}

// Cache holds search responses. It is safe for concurrent use and may
// outlive the store a Searcher was built on.
type Cache struct {
	lru *lru.Cache[[32]byte, *SearchResponse]
}

// NewCache creates a Cache holding up to size responses.
func NewCache(size int) *Cache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	c, err := lru.New[[32]byte, *SearchResponse](size)
	if err != nil {
		// Only fails for a non-positive size
		panic(fmt.Sprintf("failed to create LRU cache: %v", err))
	}
	return &Cache{lru: c}
}

// Purge drops every entry.
func (c *Cache) Purge() {
	c.lru.Purge()
}

// Len returns the number of entries.
func (c *Cache) Len() int {
	return c.lru.Len()
}

// Options configures a Searcher.
type Options struct {
	Cache     *Cache // shared cache; a private one of CacheSize is created when nil
	CacheSize int
	Logger    *slog.Logger
}

// Searcher answers substring queries from the trigram index.
type Searcher struct {
	storage storage.Storage
	cache   *Cache
	logger  *slog.Logger
}

// NewSearcher creates a new Searcher instance
func NewSearcher(store storage.Storage, opts *Options) *Searcher {
	o := Options{}
	if opts != nil {
		o = *opts
	}
	cache := o.Cache
	if cache == nil {
		cache = NewCache(o.CacheSize)
	}
	return &Searcher{
		storage: store,
		cache:   cache,
		logger:  logging.OrDiscard(o.Logger),
	}
}

// Search returns the files whose trigram postings cover every trigram of the
// query, ordered by repository path then file path.
//
// Without Verify a multi-trigram query may return files that contain each
// trigram but not the contiguous query text. A query shorter than
// MinQueryLength yields an empty response with Reason set. Store failures
// are logged and reported through Err with an empty result list.
func (s *Searcher) Search(ctx context.Context, req SearchRequest) *SearchResponse {
	startTime := time.Now()
	resp := &SearchResponse{Query: req.Query, Results: []Result{}}

	if utf8.RuneCountInString(req.Query) < MinQueryLength {
		s.logger.Warn("search query too short", "query", req.Query, "min", MinQueryLength)
		resp.Reason = ReasonQueryTooShort
		resp.Duration = time.Since(startTime)
		return resp
	}

	// Keys include the index generation; a write from any process misses.
	useCache := req.UseCache
	var key [32]byte
	if useCache {
		gen, err := s.storage.Generation(ctx)
		if err != nil {
			s.logger.Warn("search cache bypassed", "error", err)
			useCache = false
		}
		key = computeQueryHash(req, gen)
	}
	if useCache {
		if cached, ok := s.cache.lru.Get(key); ok {
			out := copySearchResponse(cached)
			out.CacheHit = true
			out.Duration = time.Since(startTime)
			return out
		}
	}

	trigrams := trigram.Generate(req.Query).Texts()
	resp.Trigrams = len(trigrams)

	filters := &storage.SearchFilters{RepoPath: req.RepoPath, FileType: req.FileType, Limit: req.Limit}
	if req.Verify {
		// Verification may drop rows, so the limit is applied afterwards.
		filters.Limit = 0
	}

	files, err := s.storage.FindByTrigrams(ctx, trigrams, filters)
	if err != nil {
		s.logger.Error("search failed", "query", req.Query, "error", err)
		resp.Err = fmt.Errorf("search: %w", err)
		resp.Duration = time.Since(startTime)
		return resp
	}

	needle := trigram.Normalize(req.Query)
	for _, f := range files {
		line, snippet := findLine(f.Content, needle)
		if req.Verify && line == 0 {
			continue
		}
		resp.Results = append(resp.Results, Result{
			RepoPath:     f.RepoPath,
			FilePath:     f.FilePath,
			FileType:     f.FileType,
			SizeBytes:    f.SizeBytes,
			LastModified: f.LastModified,
			Line:         line,
			Snippet:      snippet,
		})
		if req.Limit > 0 && len(resp.Results) >= req.Limit {
			break
		}
	}
	resp.TotalResults = len(resp.Results)
	resp.Duration = time.Since(startTime)

	if useCache {
		s.cache.lru.Add(key, copySearchResponse(resp))
	}
	return resp
}

// Invalidate drops every cached response. Call it after the index changes.
func (s *Searcher) Invalidate() {
	s.cache.Purge()
}

// CacheLen returns the number of cached responses.
func (s *Searcher) CacheLen() int {
	return s.cache.Len()
}

// findLine returns the 1-based number and trimmed text of the first line
// containing needle (already normalized), or 0 when no line does. A query
// spanning a line break is found by the index but not here.
func findLine(content, needle string) (int, string) {
	sc := bufio.NewScanner(strings.NewReader(content))
	sc.Buffer(make([]byte, 0, 64*1024), len(content)+1)
	n := 0
	for sc.Scan() {
		n++
		line := sc.Text()
		if strings.Contains(trigram.Normalize(line), needle) {
			return n, truncate(strings.TrimSpace(line), maxSnippetLen)
		}
	}
	return 0, ""
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max]) + "..."
}

// copySearchResponse creates a copy whose Results slice is not shared
func copySearchResponse(src *SearchResponse) *SearchResponse {
	if src == nil {
		return nil
	}
	dst := *src
	dst.Results = make([]Result, len(src.Results))
	copy(dst.Results, src.Results)
	return &dst
}

// computeQueryHash computes a unique hash for a search request against one
// index generation
func computeQueryHash(req SearchRequest, gen storage.Generation) [32]byte {
	var data strings.Builder
	data.WriteString(trigram.Normalize(req.Query))
	data.WriteString("|")
	data.WriteString(req.RepoPath)
	data.WriteString("|")
	data.WriteString(req.FileType)
	data.WriteString("|")
	data.WriteString(fmt.Sprintf("%d|%t|", req.Limit, req.Verify))
	data.WriteString(fmt.Sprintf("%d/%d/%d", gen.Files, gen.MaxID, gen.LastIndexed))
	return sha256.Sum256([]byte(data.String()))
}
