package storage

import (
	"context"
	"database/sql"
	"time"
)

// Storage defines the interface for persisting and querying indexed files,
// their trigram postings and the repository cache table.
type Storage interface {
	// File operations
	UpsertFile(ctx context.Context, file *IndexedFile) error
	GetFile(ctx context.Context, repoPath, filePath string) (*IndexedFile, error)
	GetFileByID(ctx context.Context, fileID int64) (*IndexedFile, error)
	ListFiles(ctx context.Context, repoPath string) ([]*IndexedFile, error)
	DeleteFile(ctx context.Context, fileID int64) error
	DeleteRepository(ctx context.Context, repoPath string) (int64, error)

	// Posting operations
	DeletePostings(ctx context.Context, fileID int64) (int64, error)
	InsertPostings(ctx context.Context, fileID int64, postings []Posting) error
	ListTrigrams(ctx context.Context, fileID int64) ([]string, error)

	// Search operations
	FindByTrigrams(ctx context.Context, trigrams []string, filters *SearchFilters) ([]*IndexedFile, error)

	// Maintenance operations
	DeleteOrphanPostings(ctx context.Context) (int64, error)
	PruneMissingFiles(ctx context.Context, exists func(repoPath, filePath string) bool) (int, error)
	Vacuum(ctx context.Context) error

	// Status operations
	GetStatus(ctx context.Context) (*Status, error)
	Generation(ctx context.Context) (Generation, error)

	// Database operations
	DB() *sql.DB
	Close() error
	BeginTx(ctx context.Context) (Tx, error)
}

// Tx represents a database transaction over the write path of a single file.
type Tx interface {
	Commit() error
	Rollback() error

	UpsertFile(ctx context.Context, file *IndexedFile) error
	DeletePostings(ctx context.Context, fileID int64) (int64, error)
	InsertPostings(ctx context.Context, fileID int64, postings []Posting) error
}

// IndexedFile represents one indexed Terraform or PowerShell file.
type IndexedFile struct {
	ID           int64
	RepoPath     string
	FilePath     string // Relative to RepoPath, slash separated
	FileType     string
	Content      string
	LastModified time.Time // UTC
	SizeBytes    int64
	IndexedAt    time.Time
}

// Posting records that a trigram occurs in a file.
type Posting struct {
	Trigram  string
	Position int
}

// SearchFilters narrows FindByTrigrams.
type SearchFilters struct {
	RepoPath string // exact repository path or a parent directory of it
	FileType string
	Limit    int // 0 means unlimited
}

// Status contains statistics about the whole store.
type Status struct {
	Repositories  int
	FilesCount    int
	PostingsCount int
	FilesByType   map[string]int
	CachedRepos   int
	LastIndexedAt time.Time
	SchemaVersion string
	SizeMB        float64
}

// Generation identifies the state of the indexed_files table. Any insert,
// reindex or delete of a file row, from any process, changes it.
type Generation struct {
	Files       int64
	MaxID       int64
	LastIndexed int64 // unix nanoseconds
}
