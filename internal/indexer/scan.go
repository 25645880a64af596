package indexer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// maxErrorMessages caps the per-file errors kept in Statistics
const maxErrorMessages = 20

// Statistics contains statistics about a full scan
type Statistics struct {
	FilesVisited   int // Indexable files found on disk
	FilesIndexed   int // Re-indexed because new or changed
	FilesUnchanged int // Skipped because the content hash matched
	FilesFailed    int
	FilesRemoved   int // Records pruned because the file is gone
	ChunksEmbedded int
	ChunksFailed   int
	Duration       time.Duration
	FlushError     string
	ErrorMessages  []string
}

// collector accumulates statistics from concurrent workers
type collector struct {
	mu    sync.Mutex
	stats Statistics
}

func (c *collector) add(path string, res result, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case err != nil:
		c.stats.FilesFailed++
		if len(c.stats.ErrorMessages) < maxErrorMessages {
			c.stats.ErrorMessages = append(c.stats.ErrorMessages, fmt.Sprintf("%s: %v", path, err))
		}
	case res.unchanged:
		c.stats.FilesUnchanged++
	case res.changed:
		c.stats.FilesIndexed++
	}
	c.stats.ChunksEmbedded += res.embedded
	c.stats.ChunksFailed += res.failedChunks
}

// Scan re-indexes every indexable file under roots (the project root when
// none are given), removes records of files that no longer exist there and
// flushes once at the end. Only one scan runs at a time.
func (e *Engine) Scan(ctx context.Context, roots ...string) (*Statistics, error) {
	if !e.scanLock.TryAcquire() {
		return nil, ErrScanInProgress
	}
	defer e.scanLock.Release()

	if e.closed() {
		return nil, ErrClosed
	}
	if err := e.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	rels, err := e.scanRoots(roots)
	if err != nil {
		return nil, err
	}

	col := &collector{}
	seen := make(map[string]struct{})
	for _, root := range rels {
		files, err := e.discover(ctx, root)
		if err != nil {
			return nil, fmt.Errorf("discover %s: %w", root, err)
		}
		for _, f := range files {
			seen[f] = struct{}{}
		}
		col.stats.FilesVisited += len(files)

		if err := e.indexFiles(ctx, files, col); err != nil {
			col.stats.Duration = time.Since(start)
			return &col.stats, err
		}
	}

	removed, err := e.prune(rels, seen)
	col.stats.FilesRemoved = removed
	if err != nil {
		col.stats.Duration = time.Since(start)
		return &col.stats, err
	}

	if err := e.Flush(ctx); err != nil {
		if errors.Is(err, ErrSessionAborted) {
			col.stats.Duration = time.Since(start)
			return &col.stats, err
		}
		col.stats.FlushError = err.Error()
	}

	col.stats.Duration = time.Since(start)
	e.logger.Info("scan complete",
		"visited", col.stats.FilesVisited,
		"indexed", col.stats.FilesIndexed,
		"unchanged", col.stats.FilesUnchanged,
		"failed", col.stats.FilesFailed,
		"removed", col.stats.FilesRemoved,
		"duration", col.stats.Duration)
	return &col.stats, nil
}

func (e *Engine) scanRoots(roots []string) ([]string, error) {
	if len(roots) == 0 {
		return []string{""}, nil
	}
	rels := make([]string, 0, len(roots))
	for _, r := range roots {
		rel, err := e.rel(r)
		if err != nil {
			return nil, err
		}
		rels = append(rels, rel)
	}
	return rels, nil
}

// indexFiles re-indexes files with up to e.workers files in flight. Per-file
// failures are counted, not returned; cancellation and an aborted session stop the scan.
func (e *Engine) indexFiles(ctx context.Context, files []string, col *collector) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)

	for _, f := range files {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			res, err := e.reindex(gctx, f)
			if err != nil && (errors.Is(err, ErrSessionAborted) || errors.Is(err, ErrClosed) || gctx.Err() != nil) {
				return err
			}
			col.add(f, res, err)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// discover lists the indexable files under the root-relative directory dir
func (e *Engine) discover(ctx context.Context, dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(e.abs(dir), func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == e.abs(dir) {
				return err
			}
			e.logger.Warn("skipping unreadable path", "path", path, "error", err)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		rel, rerr := e.rel(path)
		if rerr != nil {
			return rerr
		}
		if d.IsDir() {
			if rel != dir && e.policy.SkipDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() && e.policy.Indexable(rel) {
			files = append(files, rel)
		}
		return nil
	})
	return files, err
}

// prune deletes records under the scanned roots whose files were not seen
// and are gone from disk. A file created after discovery may already have
// been indexed by an event; its record survives.
func (e *Engine) prune(roots []string, seen map[string]struct{}) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.abortedErr(); err != nil {
		return 0, err
	}

	removed := 0
	for _, root := range roots {
		candidates := e.store.FilesUnder(root)
		if _, ok := e.store.File(root); ok {
			candidates = append(candidates, root)
		}
		for _, p := range candidates {
			if _, ok := seen[p]; ok || e.present(p) {
				continue
			}
			ok, err := e.deleteLocked(p)
			if err != nil {
				return removed, err
			}
			if ok {
				removed++
			}
		}
	}
	return removed, nil
}

// present reports whether rel is still an indexable regular file on disk.
// Errors other than a missing file keep the record.
func (e *Engine) present(rel string) bool {
	if !e.policy.Indexable(rel) {
		return false
	}
	info, err := os.Stat(e.abs(rel))
	if err != nil {
		return !errors.Is(err, fs.ErrNotExist)
	}
	return info.Mode().IsRegular()
}

// ScanTask is a full scan running in the background
type ScanTask struct {
	cancel context.CancelFunc
	done   chan struct{}
	stats  *Statistics
	err    error
}

// StartScan runs Scan in a new goroutine. Cancelling the task leaves every
// file either fully re-indexed or untouched.
func (e *Engine) StartScan(ctx context.Context, roots ...string) *ScanTask {
	ctx, cancel := context.WithCancel(ctx)
	t := &ScanTask{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(t.done)
		defer cancel()
		t.stats, t.err = e.Scan(ctx, roots...)
	}()
	return t
}

// Cancel stops the scan; Wait still has to be called to collect the result
func (t *ScanTask) Cancel() {
	t.cancel()
}

// Done is closed when the scan has finished
func (t *ScanTask) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the scan finishes and returns its result
func (t *ScanTask) Wait() (*Statistics, error) {
	<-t.done
	return t.stats, t.err
}
