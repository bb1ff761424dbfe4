// Package searcher answers "which indexed files contain this text" from the
// trigram index.
//
// The query is normalized and decomposed with the same trigram function the
// indexer uses. A file matches when its postings cover every distinct query
// trigram; results are ordered by repository path then file path, without
// ranking.
//
//	s := searcher.NewSearcher(store, nil)
//	resp := s.Search(ctx, searcher.SearchRequest{Query: "aws_s3_bucket"})
//	for _, r := range resp.Results {
//	    fmt.Printf("%s/%s:%d %s\n", r.RepoPath, r.FilePath, r.Line, r.Snippet)
//	}
//
// Matching is approximate for queries of four or more characters: a file
// containing "abc" and "bcd" separately matches "abcd". Set Verify to drop
// such files by checking the stored content for the literal query.
//
// Responses can be cached in an LRU keyed by the normalized request;
// Invalidate clears it after reindexing.
package searcher
