// Package storage holds the index metadata: chunk text by ordinal, file
// records by path, and the reverse ownership map.
//
// Store keeps the maps in memory and is the source of truth while the index
// is running. Each mutation records its key in a journal. On flush the
// engine calls Capture to take the journaled keys with their current values
// as a Changeset, and hands it to a Backend, which writes it in one
// transaction. If the write fails the changeset goes back through Requeue
// and nothing in memory is rolled back.
//
// # Database Schema
//
// SQLiteStorage is the Backend. Tables:
//   - chunks: ordinal, text
//   - files: path, content_hash (empty for a partially indexed file)
//   - file_ordinals: path, position, ordinal (unique per ordinal)
//   - meta: key/value, holds the flush generation
//   - schema_version: applied migrations, ordered with semver
//
// # Basic Usage
//
//	backend, err := storage.NewSQLiteStorage(filepath.Join(dir, "map.db"))
//	if err != nil {
//	    return err
//	}
//	defer backend.Close()
//
//	state, err := backend.Load(ctx)
//	store := storage.NewStore()
//	store.Restore(state)
//
//	_ = store.PutChunk(ord, text)
//	_ = store.PutFile(types.FileRecord{Path: "main.go", Ordinals: ords, Hash: h})
//
//	cs := store.Capture(generation)
//	if err := backend.Apply(ctx, cs); err != nil {
//	    store.Requeue(cs)
//	}
//
// # Build Modes
//
// The default build uses modernc.org/sqlite and needs no C toolchain.
// Building with -tags sqlite_cgo switches to github.com/mattn/go-sqlite3.
//
// # Invariants
//
// A file record may only name ordinals that have chunk text, and each
// ordinal has at most one owner. Violations return errors wrapping
// types.ErrInvariant and leave the store unchanged.
package storage
