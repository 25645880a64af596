// Package indexer keeps a vector index of a project tree in step with the
// files on disk.
//
// The Engine is the single writer over three pieces of state: the ordinal
// space that hands out chunk identities, the proximity graph that answers
// similarity queries, and the metadata store that maps each file to the
// ordinals computed from its content.
//
// # Basic Usage
//
//	e, err := indexer.Open(ctx, indexer.Options{
//	    Root:     "/path/to/project",
//	    StateDir: "/var/lib/codelocal/project-1a2b3c4d",
//	    Embedder: emb,
//	})
//	defer e.Close(ctx)
//
//	stats, err := e.Scan(ctx)
//	fmt.Printf("indexed %d files in %v\n", stats.FilesIndexed, stats.Duration)
//
//	matches, err := e.Search(ctx, queryVector, 10)
//
// # File Events
//
// Hosts report file system mutations as types.Event values, either
// synchronously with Apply or through the queue drained by Run:
//
//	go e.Run(ctx)
//	e.Submit(ctx, types.Event{Kind: types.EventMoved, OldPath: "a.go", Path: "b.go"})
//
// A content change re-reads the whole file. When its SHA-256 digest matches
// the record nothing happens and no embeddings are requested. Otherwise the
// file is chunked and embedded without the lock, and the result is committed
// under it: the old ordinals are tombstoned and fresh ones allocated. A file
// that changed again meanwhile is recomputed.
//
// Moves rewrite the record key and keep ordinals and digest. Deletes drop
// the record and tombstone its ordinals. Directory paths apply to every
// record beneath them.
//
// # Partial Failures
//
// A chunk whose embedding fails is left out and the record gets the zero
// digest, so the next event or scan for that file indexes it again.
//
// # Persistence
//
// Flush compacts tombstones out of the graph, writes the graph snapshot
// atomically and commits the metadata changes in one transaction. A failed
// flush keeps the changes queued and the engine dirty. On Open the two are
// restored and reconciled: records naming ordinals missing from the graph
// are dropped, and graph ordinals without a record are tombstoned.
//
// # Invariant Violations
//
// Errors wrapping types.ErrInvariant mean memory state can no longer be
// trusted. The session is aborted: every later operation, flushes included,
// returns ErrSessionAborted.
package indexer
