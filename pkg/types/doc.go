// Package types provides shared type definitions for the codelocal index.
//
// This package defines domain types used across multiple components,
// including ordinals, chunks, file records, file events, declarations and search
// matches.
//
// # Core Types
//
// Ordinal is the stable identity of one indexed chunk. Ordinals are handed
// out in increasing order and are never reused, even after the chunk they
// name has been tombstoned and compacted away:
//
//	var next types.Ordinal
//	o := next
//	next++
//
// Chunk pairs a fragment of source text with its embedding vector:
//
//	chunk := types.Chunk{
//	    Ordinal:   o,
//	    Text:      functionBody,
//	    Embedding: vector,
//	}
//
// FileRecord links a tracked file to the ordinals it owns and the digest of
// the content they were computed from:
//
//	rec := types.FileRecord{
//	    Path:     "internal/server/server.go",
//	    Ordinals: []types.Ordinal{4, 5, 6},
//	    Hash:     digest,
//	}
//
// # File Events
//
// Event is the unit of work consumed by the index engine. Hosts translate
// their own change notifications into events:
//
//	types.Event{Kind: types.EventCreated, Path: "main.go"}
//	types.Event{Kind: types.EventMoved, OldPath: "a.go", Path: "b.go"}
//
// # Search Matches
//
// Match is a single live ordinal returned by a similarity query, resolved back
// to its chunk text and owning file. Scores are similarities, higher is better.
package types
