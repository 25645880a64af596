package indexer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/dshills/codelocal/internal/chunker"
	"github.com/dshills/codelocal/internal/embedder"
	"github.com/dshills/codelocal/internal/graph"
	"github.com/dshills/codelocal/internal/storage"
	"github.com/dshills/codelocal/pkg/types"
)

const (
	// MetadataFile is the name of the metadata database inside the state directory
	MetadataFile = "map.db"
	// SnapshotFile is the name of the graph snapshot inside the state directory
	SnapshotFile = "graph.idx"

	defaultQueueSize = 1024
)

var (
	// ErrSessionAborted is returned by every operation after an invariant
	// violation. It wraps the violation that caused it.
	ErrSessionAborted = errors.New("index session aborted")
	// ErrScanInProgress is returned when a full scan is already running
	ErrScanInProgress = errors.New("scan already in progress")
	// ErrClosed is returned by operations on a closed engine
	ErrClosed = errors.New("index engine closed")
	// ErrOutsideRoot is returned for paths that do not resolve inside the project root
	ErrOutsideRoot = errors.New("path outside project root")
)

// Options configures an Engine
type Options struct {
	Root     string            // Project root directory
	StateDir string            // Holds the metadata database and graph snapshot
	Embedder embedder.Embedder // Required
	Chunker  *chunker.Chunker  // nil selects chunker.New(0)
	Policy   *Policy           // nil selects NewPolicy(nil)
	Graph    graph.Options
	// Compression of the graph snapshot
	Compression graph.Compression
	// Backend overrides the SQLite database in StateDir
	Backend   storage.Backend
	Workers   int // Parallel files during a scan, default runtime.NumCPU()
	BatchSize int // Texts per embedding request, default embedder.DefaultBatchSize
	QueueSize int // Buffered events, default 1024
	Logger    *slog.Logger
}

// Engine is the single writer over the graph, the ordinal space and the
// metadata store. Every mutation runs its slow part (reading, chunking,
// embedding) without the lock and commits under it.
type Engine struct {
	root         string
	snapshotPath string
	compression  graph.Compression
	emb          embedder.Embedder
	chunker      *chunker.Chunker
	policy       Policy
	backend      storage.Backend
	workers      int
	batchSize    int
	logger       *slog.Logger

	mu             sync.RWMutex
	store          *storage.Store
	graph          *graph.Graph
	version        uint64 // bumped by every committed mutation
	flushedVersion uint64
	generation     uint64
	aborted        error
	lastFlush      time.Time
	lastFlushErr   error
	lastRestore    RestoreReport

	flushMu  sync.Mutex
	scanLock IndexLock

	queue     chan types.Event
	done      chan struct{}
	closeOnce sync.Once
}

// Open creates an engine, restoring any state persisted in opts.StateDir.
// A missing or corrupt snapshot or database content is logged and leaves
// the engine empty; only an unusable state directory is an error.
func Open(ctx context.Context, opts Options) (*Engine, error) {
	if opts.Embedder == nil {
		return nil, errors.New("embedder is required")
	}
	if opts.Root == "" {
		return nil, errors.New("project root is required")
	}
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	if opts.StateDir == "" {
		return nil, errors.New("state directory is required")
	}
	if err := os.MkdirAll(opts.StateDir, 0o755); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}

	e := &Engine{
		root:         root,
		snapshotPath: filepath.Join(opts.StateDir, SnapshotFile),
		compression:  opts.Compression,
		emb:          opts.Embedder,
		chunker:      opts.Chunker,
		backend:      opts.Backend,
		workers:      opts.Workers,
		batchSize:    opts.BatchSize,
		logger:       opts.Logger,
		done:         make(chan struct{}),
	}
	if e.chunker == nil {
		e.chunker = chunker.New(0)
	}
	if opts.Policy != nil {
		e.policy = *opts.Policy
	} else {
		e.policy = NewPolicy(nil)
	}
	if e.workers <= 0 {
		e.workers = runtime.NumCPU()
	}
	if e.batchSize <= 0 {
		e.batchSize = embedder.DefaultBatchSize
	}
	if e.logger == nil {
		e.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	queueSize := opts.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	e.queue = make(chan types.Event, queueSize)

	if e.backend == nil {
		db, err := storage.NewSQLiteStorage(filepath.Join(opts.StateDir, MetadataFile))
		if err != nil {
			return nil, fmt.Errorf("open metadata: %w", err)
		}
		e.backend = db
	}

	e.restore(ctx, opts.Graph)
	return e, nil
}

// Root returns the absolute project root
func (e *Engine) Root() string {
	return e.root
}

// Policy returns the indexable-path policy
func (e *Engine) Policy() Policy {
	return e.policy
}

// Dirty reports whether state has changed since the last successful flush
func (e *Engine) Dirty() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.version != e.flushedVersion
}

// Revision returns a counter that changes with every committed mutation
func (e *Engine) Revision() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.version
}

// Scanning reports whether a full scan is running
func (e *Engine) Scanning() bool {
	return e.scanLock.Held()
}

// Err returns the invariant violation that aborted the session, if any
func (e *Engine) Err() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.abortedErr()
}

// abortedErr must be called with mu held
func (e *Engine) abortedErr() error {
	if e.aborted == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrSessionAborted, e.aborted)
}

// abort records an invariant violation; mu must be held for writing.
// Errors that are not invariant violations are returned unchanged.
func (e *Engine) abort(err error) error {
	if !errors.Is(err, types.ErrInvariant) {
		return err
	}
	if e.aborted == nil {
		e.aborted = err
		e.logger.Error("index invariant violated, session aborted", "error", err)
	}
	return e.abortedErr()
}

// Status returns a snapshot of the engine counters
func (e *Engine) Status() types.Status {
	e.mu.RLock()
	defer e.mu.RUnlock()

	st := types.Status{
		ProjectRoot:    e.root,
		TrackedFiles:   e.store.FileCount(),
		LiveOrdinals:   e.graph.LiveCount(),
		Tombstoned:     e.graph.TombstoneCount(),
		NextOrdinal:    e.graph.Space().Next(),
		Dirty:          e.version != e.flushedVersion,
		Generation:     e.generation,
		LastFlush:      e.lastFlush,
		EmbeddingModel: e.emb.Model(),
		EmbeddingDim:   e.emb.Dimension(),
		PendingEvents:  len(e.queue),
	}
	if e.lastFlushErr != nil {
		st.LastFlushError = e.lastFlushErr.Error()
	}
	if e.aborted != nil {
		st.Aborted = true
		st.AbortReason = e.aborted.Error()
	}
	return st
}

// File returns the record tracked for path
func (e *Engine) File(path string) (types.FileRecord, bool) {
	rel, err := e.rel(path)
	if err != nil {
		return types.FileRecord{}, false
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.store.File(rel)
}

// Files returns every tracked path, sorted
func (e *Engine) Files() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.store.Files()
}

// ChunkText returns the stored text of an ordinal
func (e *Engine) ChunkText(ord types.Ordinal) (string, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.store.Chunk(ord)
}

// IsLive reports whether ord is a live node of the graph
func (e *Engine) IsLive(ord types.Ordinal) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.graph.IsLive(ord)
}

// IsTombstoned reports whether ord is tombstoned and awaiting compaction
func (e *Engine) IsTombstoned(ord types.Ordinal) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.graph.IsTombstoned(ord)
}

// Search returns up to k live ordinals ranked by similarity to vector, each
// resolved to its chunk text and owning path
func (e *Engine) Search(ctx context.Context, vector []float32, k int) ([]types.Match, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, nil
	}

	matches, err := e.search(vector, k)
	if errors.Is(err, types.ErrInvariant) {
		e.mu.Lock()
		err = e.abort(err)
		e.mu.Unlock()
	}
	return matches, err
}

func (e *Engine) search(vector []float32, k int) ([]types.Match, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if err := e.abortedErr(); err != nil {
		return nil, err
	}

	hits, err := e.graph.Search(vector, k)
	if err != nil {
		return nil, err
	}

	matches := make([]types.Match, 0, len(hits))
	for _, h := range hits {
		text, ok := e.store.Chunk(h.Ordinal)
		if !ok {
			return nil, fmt.Errorf("%w: live ordinal %d has no chunk", types.ErrInvariant, h.Ordinal)
		}
		owner, ok := e.store.Owner(h.Ordinal)
		if !ok {
			return nil, fmt.Errorf("%w: live ordinal %d has no owner", types.ErrInvariant, h.Ordinal)
		}
		matches = append(matches, types.Match{
			Ordinal: h.Ordinal,
			Score:   h.Score,
			Path:    owner,
			Text:    text,
		})
	}
	return matches, nil
}

// Close stops event processing, runs a final flush and closes the backend.
// The embedder belongs to the caller and is left open.
func (e *Engine) Close(ctx context.Context) error {
	var err error
	e.closeOnce.Do(func() {
		close(e.done)

		var flushErr error
		if e.Err() == nil && e.Dirty() {
			flushErr = e.Flush(ctx)
		}
		err = errors.Join(flushErr, e.backend.Close())
	})
	return err
}

// rel converts an absolute or root-relative path to a clean slash path
// relative to the root
func (e *Engine) rel(p string) (string, error) {
	if p == "" {
		return "", types.ErrEventPathRequired
	}
	native := filepath.FromSlash(p)
	if filepath.IsAbs(native) {
		r, err := filepath.Rel(e.root, native)
		if err != nil {
			return "", fmt.Errorf("%w: %s", ErrOutsideRoot, p)
		}
		native = r
	}
	rel := filepath.ToSlash(filepath.Clean(native))
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, p)
	}
	if rel == "." {
		rel = ""
	}
	return rel, nil
}

// abs returns the on-disk path of a root-relative slash path
func (e *Engine) abs(rel string) string {
	return filepath.Join(e.root, filepath.FromSlash(rel))
}
