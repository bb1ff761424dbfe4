// Package storage provides SQLite-based persistence for the content store
// and the trigram index.
//
// The storage layer manages:
//   - Indexed Terraform and PowerShell files with their content
//   - Trigram postings per file
//   - The repo_cache table used by the sync scheduler
//
// # Database Schema
//
// Tables:
//   - indexed_files: one row per (repo_path, file_path); file_size > 0
//   - trigrams: postings, cascade-deleted with their file
//   - repo_cache: last pull attempt and last successful pull per repository
//   - schema_version: applied migrations
//
// Timestamps in indexed_files are stored as unix nanoseconds in UTC.
//
// # Basic Usage
//
// The store is opened per logical operation and closed afterwards; SQLite's
// own locking (WAL plus busy_timeout) serializes concurrent writers.
//
//	store, err := storage.Open(ctx, "~/.repodex/repodex.db")
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	file := &storage.IndexedFile{
//	    RepoPath:     "/src/infra",
//	    FilePath:     "modules/vpc/main.tf",
//	    FileType:     "terraform",
//	    Content:      content,
//	    LastModified: info.ModTime(),
//	    SizeBytes:    info.Size(),
//	}
//	if err := store.UpsertFile(ctx, file); err != nil {
//	    return err
//	}
//
// # Transactions
//
// Posting replacement runs in explicit transactions:
//
//	tx, err := store.BeginTx(ctx)
//	if err != nil {
//	    return err
//	}
//	defer tx.Rollback()
//
//	if _, err := tx.DeletePostings(ctx, file.ID); err != nil {
//	    return err
//	}
//	if err := tx.InsertPostings(ctx, file.ID, postings); err != nil {
//	    return err
//	}
//	return tx.Commit()
//
// # Search
//
// FindByTrigrams returns files whose distinct postings cover every query
// trigram, ordered by repository path then file path:
//
//	files, err := store.FindByTrigrams(ctx, []string{"abc", "bcd"}, &storage.SearchFilters{
//	    FileType: "terraform",
//	    Limit:    50,
//	})
//
// # Build Tags
//
// Pure Go Build (default):
//
//   - Uses modernc.org/sqlite driver
//
//   - No C compiler needed
//
//     CGO_ENABLED=0 go build ./...
//
// CGO Build (sqlite_cgo tag):
//
//   - Uses github.com/mattn/go-sqlite3 driver
//
//   - Requires C compiler
//
//     CGO_ENABLED=1 go build -tags "sqlite_cgo" ./...
package storage
