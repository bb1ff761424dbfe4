package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when a requested entity doesn't exist
	ErrNotFound = errors.New("not found")
	// ErrInvalidFile is returned when a file row violates the model invariants
	ErrInvalidFile = errors.New("invalid indexed file")
)

// busyTimeoutMS is how long a connection waits on another writer's lock.
const busyTimeoutMS = 5000

// SQLiteStorage implements the Storage interface using SQLite
type SQLiteStorage struct {
	db *sql.DB
}

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// Set connection pool settings
	db.SetMaxOpenConns(1) // SQLite benefits from single writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Wait on concurrent writers instead of failing with SQLITE_BUSY
	if _, err := db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d", busyTimeoutMS)); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

// Open opens the store at dbPath, creating the parent directory and applying
// migrations. Callers open a store per logical operation and close it after.
func Open(ctx context.Context, dbPath string) (*SQLiteStorage, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Apply migrations
	if err := ApplyMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

// NewSQLiteStorage opens the store with a background context.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	return Open(context.Background(), dbPath)
}

// DB exposes the underlying handle for components layered on the same file.
func (s *SQLiteStorage) DB() *sql.DB {
	return s.db
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// BeginTx starts a new transaction
func (s *SQLiteStorage) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &sqliteTx{tx: tx}, nil
}

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
}

// sqliteTx wraps a SQL transaction
type sqliteTx struct {
	tx *sql.Tx
}

func (t *sqliteTx) Commit() error {
	return t.tx.Commit()
}

func (t *sqliteTx) Rollback() error {
	return t.tx.Rollback()
}

func (t *sqliteTx) UpsertFile(ctx context.Context, file *IndexedFile) error {
	return upsertFileWithQuerier(ctx, t.tx, file)
}

func (t *sqliteTx) DeletePostings(ctx context.Context, fileID int64) (int64, error) {
	return deletePostingsWithQuerier(ctx, t.tx, fileID)
}

func (t *sqliteTx) InsertPostings(ctx context.Context, fileID int64, postings []Posting) error {
	return insertPostingsWithQuerier(ctx, t.tx, fileID, postings)
}

// File operations

const fileColumns = `id, repo_path, file_path, file_type, content, last_modified, file_size, indexed_at`

// upsertFileWithQuerier inserts or updates the row for (repo_path, file_path)
// in one statement and stores the resolved id on file.
func upsertFileWithQuerier(ctx context.Context, q querier, file *IndexedFile) error {
	if file.SizeBytes <= 0 || file.RepoPath == "" || file.FilePath == "" {
		return fmt.Errorf("%w: %s/%s size=%d", ErrInvalidFile, file.RepoPath, file.FilePath, file.SizeBytes)
	}
	query := `
		INSERT INTO indexed_files (repo_path, file_path, file_type, content, last_modified, file_size, indexed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(repo_path, file_path) DO UPDATE SET
			file_type = excluded.file_type,
			content = excluded.content,
			last_modified = excluded.last_modified,
			file_size = excluded.file_size,
			indexed_at = excluded.indexed_at
		RETURNING id
	`
	now := time.Now().UTC()
	err := q.QueryRowContext(ctx, query,
		file.RepoPath, file.FilePath, file.FileType, file.Content,
		file.LastModified.UTC().UnixNano(), file.SizeBytes, now.UnixNano()).Scan(&file.ID)
	if err != nil {
		return fmt.Errorf("failed to upsert file: %w", err)
	}
	file.IndexedAt = now
	return nil
}

func (s *SQLiteStorage) UpsertFile(ctx context.Context, file *IndexedFile) error {
	return upsertFileWithQuerier(ctx, s.db, file)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanFile(row rowScanner) (*IndexedFile, error) {
	var file IndexedFile
	var modified, indexed int64
	err := row.Scan(&file.ID, &file.RepoPath, &file.FilePath, &file.FileType,
		&file.Content, &modified, &file.SizeBytes, &indexed)
	if err != nil {
		return nil, err
	}
	file.LastModified = time.Unix(0, modified).UTC()
	file.IndexedAt = time.Unix(0, indexed).UTC()
	return &file, nil
}

func (s *SQLiteStorage) GetFile(ctx context.Context, repoPath, filePath string) (*IndexedFile, error) {
	query := `SELECT ` + fileColumns + ` FROM indexed_files WHERE repo_path = ? AND file_path = ?`
	file, err := scanFile(s.db.QueryRowContext(ctx, query, repoPath, filePath))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return file, nil
}

func (s *SQLiteStorage) GetFileByID(ctx context.Context, fileID int64) (*IndexedFile, error) {
	query := `SELECT ` + fileColumns + ` FROM indexed_files WHERE id = ?`
	file, err := scanFile(s.db.QueryRowContext(ctx, query, fileID))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return file, nil
}

// ListFiles returns the files of one repository, or of every repository when
// repoPath is empty, ordered by repository then file path.
func (s *SQLiteStorage) ListFiles(ctx context.Context, repoPath string) ([]*IndexedFile, error) {
	query := `SELECT ` + fileColumns + ` FROM indexed_files`
	var args []interface{}
	if repoPath != "" {
		query += ` WHERE repo_path = ?`
		args = append(args, repoPath)
	}
	query += ` ORDER BY repo_path, file_path`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	files := make([]*IndexedFile, 0)
	for rows.Next() {
		file, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, file)
	}
	return files, rows.Err()
}

func (s *SQLiteStorage) DeleteFile(ctx context.Context, fileID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM indexed_files WHERE id = ?`, fileID)
	return err
}

// DeleteRepository removes every file of a repository; postings cascade.
func (s *SQLiteStorage) DeleteRepository(ctx context.Context, repoPath string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM indexed_files WHERE repo_path = ?`, repoPath)
	if err != nil {
		return 0, fmt.Errorf("failed to delete repository files: %w", err)
	}
	return res.RowsAffected()
}

// Posting operations

func deletePostingsWithQuerier(ctx context.Context, q querier, fileID int64) (int64, error) {
	res, err := q.ExecContext(ctx, `DELETE FROM trigrams WHERE file_id = ?`, fileID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete postings: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLiteStorage) DeletePostings(ctx context.Context, fileID int64) (int64, error) {
	return deletePostingsWithQuerier(ctx, s.db, fileID)
}

// insertPostingsWithQuerier inserts postings with one prepared statement.
func insertPostingsWithQuerier(ctx context.Context, q querier, fileID int64, postings []Posting) error {
	if len(postings) == 0 {
		return nil
	}
	stmt, err := q.PrepareContext(ctx, `INSERT INTO trigrams (trigram, file_id, position) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare posting insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, p := range postings {
		if _, err := stmt.ExecContext(ctx, p.Trigram, fileID, p.Position); err != nil {
			return fmt.Errorf("failed to insert posting %q: %w", p.Trigram, err)
		}
	}
	return nil
}

func (s *SQLiteStorage) InsertPostings(ctx context.Context, fileID int64, postings []Posting) error {
	return insertPostingsWithQuerier(ctx, s.db, fileID, postings)
}

// ListTrigrams returns the distinct trigrams recorded for a file, sorted.
func (s *SQLiteStorage) ListTrigrams(ctx context.Context, fileID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT trigram FROM trigrams WHERE file_id = ? ORDER BY trigram`, fileID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make([]string, 0)
	for rows.Next() {
		var tg string
		if err := rows.Scan(&tg); err != nil {
			return nil, err
		}
		out = append(out, tg)
	}
	return out, rows.Err()
}

// Search operations

// FindByTrigrams returns the files whose postings cover every given trigram,
// ordered by repository path then file path.
func (s *SQLiteStorage) FindByTrigrams(ctx context.Context, trigrams []string, filters *SearchFilters) ([]*IndexedFile, error) {
	distinct := dedupe(trigrams)
	if len(distinct) == 0 {
		return []*IndexedFile{}, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(distinct)), ",")
	args := make([]interface{}, 0, len(distinct)+6)
	for _, tg := range distinct {
		args = append(args, tg)
	}
	args = append(args, len(distinct))

	query := `
		SELECT f.id, f.repo_path, f.file_path, f.file_type, f.content, f.last_modified, f.file_size, f.indexed_at
		FROM indexed_files f
		JOIN (
			SELECT file_id
			FROM trigrams
			WHERE trigram IN (` + placeholders + `)
			GROUP BY file_id
			HAVING COUNT(DISTINCT trigram) = ?
		) m ON m.file_id = f.id
		WHERE 1 = 1`

	if filters != nil && filters.RepoPath != "" {
		repo := strings.TrimSuffix(filters.RepoPath, "/")
		query += ` AND (f.repo_path = ? OR f.repo_path LIKE ? ESCAPE '\')`
		args = append(args, repo, escapeLike(repo)+"/%")
	}
	if filters != nil && filters.FileType != "" {
		query += ` AND f.file_type = ?`
		args = append(args, filters.FileType)
	}
	query += ` ORDER BY f.repo_path, f.file_path`
	if filters != nil && filters.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filters.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search trigrams: %w", err)
	}
	defer func() { _ = rows.Close() }()

	files := make([]*IndexedFile, 0)
	for rows.Next() {
		file, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, file)
	}
	return files, rows.Err()
}

// Maintenance operations

// DeleteOrphanPostings removes postings whose file row no longer exists.
// Cascading deletes keep this at zero unless foreign keys were off.
func (s *SQLiteStorage) DeleteOrphanPostings(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM trigrams WHERE file_id NOT IN (SELECT id FROM indexed_files)`)
	if err != nil {
		return 0, fmt.Errorf("failed to delete orphan postings: %w", err)
	}
	return res.RowsAffected()
}

// PruneMissingFiles deletes rows for which exists reports false.
func (s *SQLiteStorage) PruneMissingFiles(ctx context.Context, exists func(repoPath, filePath string) bool) (int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, repo_path, file_path FROM indexed_files`)
	if err != nil {
		return 0, err
	}
	var missing []int64
	for rows.Next() {
		var id int64
		var repo, file string
		if err := rows.Scan(&id, &repo, &file); err != nil {
			_ = rows.Close()
			return 0, err
		}
		if !exists(repo, file) {
			missing = append(missing, id)
		}
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return 0, err
	}
	_ = rows.Close()

	for _, id := range missing {
		if err := s.DeleteFile(ctx, id); err != nil {
			return 0, fmt.Errorf("failed to delete missing file %d: %w", id, err)
		}
	}
	return len(missing), nil
}

// Vacuum reclaims free pages.
func (s *SQLiteStorage) Vacuum(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "VACUUM"); err != nil {
		return fmt.Errorf("failed to vacuum: %w", err)
	}
	return nil
}

// Status operations

func (s *SQLiteStorage) GetStatus(ctx context.Context) (*Status, error) {
	status := &Status{FilesByType: make(map[string]int)}

	var lastIndexed int64
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*), COUNT(DISTINCT repo_path), COALESCE(MAX(indexed_at), 0) FROM indexed_files",
	).Scan(&status.FilesCount, &status.Repositories, &lastIndexed)
	if err != nil {
		return nil, err
	}
	if lastIndexed > 0 {
		status.LastIndexedAt = time.Unix(0, lastIndexed).UTC()
	}

	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM trigrams").Scan(&status.PostingsCount); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, "SELECT file_type, COUNT(*) FROM indexed_files GROUP BY file_type")
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var ft string
		var n int
		if err := rows.Scan(&ft, &n); err != nil {
			_ = rows.Close()
			return nil, err
		}
		status.FilesByType[ft] = n
	}
	_ = rows.Close()

	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM repo_cache").Scan(&status.CachedRepos); err != nil {
		return nil, err
	}

	status.SchemaVersion, _ = currentVersion(ctx, s.db)

	// Calculate database size
	var pageCount, pageSize int
	err = s.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount)
	if err == nil {
		_ = s.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize)
		status.SizeMB = float64(pageCount*pageSize) / (1024 * 1024)
	}

	return status, nil
}

// Generation reads the current Generation marker.
func (s *SQLiteStorage) Generation(ctx context.Context) (Generation, error) {
	var g Generation
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*), COALESCE(MAX(id), 0), COALESCE(MAX(indexed_at), 0) FROM indexed_files",
	).Scan(&g.Files, &g.MaxID, &g.LastIndexed)
	if err != nil {
		return Generation{}, fmt.Errorf("failed to read index generation: %w", err)
	}
	return g, nil
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
