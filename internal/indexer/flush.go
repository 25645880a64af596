package indexer

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/dshills/codelocal/internal/persistence"
	"github.com/dshills/codelocal/internal/storage"
)

// Flush persists the index if it is dirty: compact the graph, encode the
// snapshot and capture the metadata changes under the lock, then write the
// snapshot file and commit the metadata without it. On failure the captured
// changes are requeued and the index stays dirty; in-memory state is never
// rolled back. Concurrent calls are serialized.
func (e *Engine) Flush(ctx context.Context) error {
	e.flushMu.Lock()
	defer e.flushMu.Unlock()

	start := time.Now()

	e.mu.Lock()
	if err := e.abortedErr(); err != nil {
		e.mu.Unlock()
		return err
	}
	if e.version == e.flushedVersion {
		e.mu.Unlock()
		return nil
	}

	removed := e.graph.Compact()
	for _, ord := range removed {
		if err := e.store.DeleteChunk(ord); err != nil {
			err = e.abort(err)
			e.mu.Unlock()
			return err
		}
	}

	generation := e.generation + 1
	var buf bytes.Buffer
	info, err := e.graph.Save(&buf, e.compression, generation)
	if err != nil {
		e.mu.Unlock()
		return e.flushFailed(fmt.Errorf("encode snapshot: %w", err), nil)
	}
	cs := e.store.Capture(generation)
	cs.NextOrdinal = e.graph.Space().Next()
	version := e.version
	e.mu.Unlock()

	e.logger.Debug("flush begin",
		"generation", generation,
		"nodes", info.Nodes,
		"compacted", len(removed),
		"changes", cs.Size())

	if err := persistence.WriteBytes(e.snapshotPath, buf.Bytes()); err != nil {
		return e.flushFailed(fmt.Errorf("write snapshot: %w", err), cs)
	}
	if err := e.backend.Apply(ctx, cs); err != nil {
		return e.flushFailed(fmt.Errorf("commit metadata: %w", err), cs)
	}

	e.mu.Lock()
	e.generation = generation
	e.flushedVersion = version
	e.lastFlush = time.Now()
	e.lastFlushErr = nil
	e.mu.Unlock()

	e.logger.Info("index flushed",
		"generation", generation,
		"nodes", info.Nodes,
		"bytes", info.Bytes,
		"compression", info.Compression.String(),
		"duration", time.Since(start))
	return nil
}

// flushFailed requeues the captured changes and records the error
func (e *Engine) flushFailed(err error, cs *storage.Changeset) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.store.Requeue(cs)
	e.lastFlushErr = err
	e.logger.Error("flush failed, index stays dirty", "error", err)
	return err
}
