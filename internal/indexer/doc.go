// Package indexer keeps the content store and trigram index consistent with
// the Terraform and PowerShell files of each repository.
//
// # Basic Usage
//
//	idx := indexer.New(store, &indexer.Config{Logger: logger})
//
//	report, err := idx.IndexRepository(ctx, "/src/infra")
//	if err != nil {
//	    return err
//	}
//	fmt.Printf("indexed %d, unchanged %d, failed %d\n",
//	    report.Indexed, report.Unchanged, report.Failed)
//
// # Incremental Indexing
//
// A file is reindexed when no row exists for (repo, path) or its
// modification time is strictly newer than the stored one. Config.Force
// bypasses the comparison. Zero-byte files are skipped.
//
// # Write Path
//
// The file row upsert, the removal of the previous postings and the first
// BatchSize postings commit in one transaction. Remaining postings commit in
// further transactions of BatchSize rows each. Files with more than
// WarnThreshold postings are logged as a warning.
//
// # Failure Isolation
//
// Every file yields a FileResult. Failures are logged and counted in the
// Report; one bad file never stops a repository scan.
package indexer
