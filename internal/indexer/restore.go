package indexer

import (
	"context"

	"github.com/dshills/codelocal/internal/graph"
	"github.com/dshills/codelocal/internal/ordinal"
	"github.com/dshills/codelocal/internal/persistence"
	"github.com/dshills/codelocal/internal/storage"
	"github.com/dshills/codelocal/pkg/types"
)

// RestoreReport describes what startup recovered and repaired
type RestoreReport struct {
	SnapshotLoaded     bool
	MetadataLoaded     bool
	SnapshotGeneration uint64
	MetadataGeneration uint64
	DroppedFiles       int // Records referencing ordinals missing from the graph
	OrphanOrdinals     int // Live graph ordinals owned by no record, now tombstoned
	DeletedChunks      int // Chunk texts of ordinals absent from the graph
}

// restore loads metadata and snapshot and repairs any divergence between
// them. It never fails: unreadable state is logged and replaced by an empty index.
func (e *Engine) restore(ctx context.Context, gopts graph.Options) {
	store := storage.NewStore()
	var (
		report     RestoreReport
		storedNext types.Ordinal
	)

	state, err := e.backend.Load(ctx)
	if err != nil {
		e.logger.Warn("metadata unreadable, starting empty", "error", err)
		store.Reset()
	} else {
		report.MetadataLoaded = true
		report.MetadataGeneration = state.Generation
		storedNext = state.NextOrdinal
		if rejected := store.Restore(state); len(rejected) > 0 {
			e.logger.Warn("dropped inconsistent file records", "count", len(rejected))
			report.DroppedFiles += len(rejected)
		}
	}

	dim := e.emb.Dimension()
	g := e.loadSnapshot(dim, gopts, &report)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.store = store
	e.graph = g
	e.reconcile(&report)
	// ordinals compacted away before the last commit stay retired even
	// when the snapshot that recorded them is lost
	g.Space().Advance(storedNext)

	e.generation = max(report.SnapshotGeneration, report.MetadataGeneration)
	if report.SnapshotLoaded && report.MetadataLoaded && report.SnapshotGeneration != report.MetadataGeneration {
		e.logger.Warn("snapshot and metadata generations differ, repaired",
			"snapshot", report.SnapshotGeneration,
			"metadata", report.MetadataGeneration)
	}
	if store.Dirty() || report.OrphanOrdinals > 0 {
		e.version++
	}
	e.lastRestore = report

	e.logger.Info("index restored",
		"files", store.FileCount(),
		"live", g.LiveCount(),
		"generation", e.generation,
		"dropped_files", report.DroppedFiles,
		"orphans", report.OrphanOrdinals)
}

func (e *Engine) loadSnapshot(dim int, gopts graph.Options, report *RestoreReport) *graph.Graph {
	empty := func() *graph.Graph { return graph.New(ordinal.New(dim), gopts) }

	f, err := persistence.OpenIfExists(e.snapshotPath)
	if err != nil {
		e.logger.Warn("graph snapshot unreadable, starting empty", "error", err)
		return empty()
	}
	if f == nil {
		return empty()
	}
	defer func() { _ = f.Close() }()

	g, info, err := graph.Load(f, dim, gopts)
	if err != nil {
		e.logger.Warn("graph snapshot rejected, starting empty", "path", e.snapshotPath, "error", err)
		return empty()
	}
	report.SnapshotLoaded = true
	report.SnapshotGeneration = info.Generation
	return g
}

// reconcile makes the store and graph agree; mu must be held.
//
//   - a record naming an ordinal that is not live in the graph is dropped
//     and its other ordinals tombstoned, so the next scan re-indexes it
//   - a live ordinal owned by no record is tombstoned
//   - chunk text of an ordinal the graph does not contain is deleted
//   - the allocation cursor is moved past every ordinal seen anywhere
func (e *Engine) reconcile(report *RestoreReport) {
	var highest types.Ordinal
	seen := false
	note := func(ord types.Ordinal) {
		if !seen || ord > highest {
			highest, seen = ord, true
		}
	}
	for _, ord := range e.store.ChunkOrdinals() {
		note(ord)
	}

	for _, p := range e.store.Files() {
		rec, _ := e.store.File(p)
		intact := true
		for _, ord := range rec.Ordinals {
			note(ord)
			if !e.graph.IsLive(ord) {
				intact = false
			}
		}
		if intact {
			continue
		}
		e.store.DeleteFile(p)
		for _, ord := range rec.Ordinals {
			if e.graph.IsLive(ord) {
				_ = e.graph.Tombstone(ord)
			}
		}
		report.DroppedFiles++
	}

	for _, ord := range e.graph.Ordinals() {
		if !e.graph.IsLive(ord) {
			continue
		}
		if _, owned := e.store.Owner(ord); !owned {
			_ = e.graph.Tombstone(ord)
			report.OrphanOrdinals++
		}
	}

	for _, ord := range e.store.ChunkOrdinals() {
		if e.graph.Contains(ord) {
			continue
		}
		if err := e.store.DeleteChunk(ord); err == nil {
			report.DeletedChunks++
		}
	}

	if seen {
		e.graph.Space().Advance(highest + 1)
	}
}

// LastRestore returns what the startup restore recovered and repaired
func (e *Engine) LastRestore() RestoreReport {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastRestore
}
