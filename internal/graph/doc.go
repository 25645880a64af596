// Package graph implements the approximate nearest neighbor index over chunk
// embeddings: a hierarchical navigable small world (HNSW) graph addressed by
// types.Ordinal.
//
// # Basic Usage
//
//	space := ordinal.New(dim)
//	g := graph.New(space, graph.DefaultOptions())
//
//	ord, _ := space.Allocate(vec)
//	if err := g.Insert(ord); err != nil {
//	    // only invariant violations fail here
//	}
//
//	hits, _ := g.Search(query, 10)
//
// # Deletion
//
// Nodes cannot be removed in place without breaking connectivity, so
// Tombstone only marks an ordinal deleted. Search never returns tombstoned
// ordinals but still routes through them. Compact rewrites the graph without
// the tombstoned nodes, repairing the neighbor lists of nodes that lost
// links, and releases their vectors from the ordinal.Space. It is expensive
// and is meant to run before each snapshot, not after each mutation.
//
// # Snapshots
//
// Save writes the nodes, their vectors, their links and the tombstone set
// (a roaring bitmap) in a binary format guarded by a CRC32 of the payload.
// The payload is compressed with zstd, lz4 or stored as is. Load returns
// ErrCorruptSnapshot for anything it cannot decode; the caller is expected
// to start from an empty graph in that case.
//
// Inserting an ordinal twice or tombstoning an ordinal that has no node
// returns an error wrapping types.ErrInvariant.
package graph
