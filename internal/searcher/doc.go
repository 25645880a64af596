// Package searcher answers natural language queries against the live index.
//
// A query is embedded with the same provider that embedded the chunks, the
// index returns the nearest live ordinals, and each match comes back with
// its chunk text and the path of the file that owns it.
//
// # Basic Usage
//
//	s := searcher.NewSearcher(engine, emb)
//	resp, err := s.Search(ctx, searcher.Request{
//	    Query:       "open the metadata database",
//	    Limit:       5,
//	    FilePattern: "*.go",
//	})
//	for _, r := range resp.Results {
//	    fmt.Printf("%d. %s (%.3f)\n", r.Rank, r.Path, r.Score)
//	}
//
// # Ranking
//
// Results come back in the index's similarity order and Score is the cosine
// similarity of the chunk to the query. Filters remove matches but never
// reorder them.
//
// # Filters
//
// FilePattern and MinScore are applied to the index matches. Filtered
// queries ask the index for several times Limit candidates so that filtering
// still leaves enough results.
//
// # Caching
//
// With UseCache set, responses are kept in an LRU cache for CacheTTL. The
// key includes the index revision, so a cached response is never served
// after the index has changed.
package searcher
