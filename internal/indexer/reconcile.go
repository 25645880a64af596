package indexer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/dshills/codelocal/internal/embedder"
	"github.com/dshills/codelocal/internal/hasher"
	"github.com/dshills/codelocal/pkg/types"
)

// maxStaleRetries bounds how often a re-index recomputes because the file
// changed on disk while its embeddings were being computed
const maxStaleRetries = 3

var (
	// ErrStale is returned when a file kept changing while it was being indexed
	ErrStale = errors.New("file changed during indexing")
	// ErrNotOwned is returned when an ordinal about to be tombstoned is not
	// owned by the record being replaced or removed
	ErrNotOwned = fmt.Errorf("%w: ordinal not owned by the file", types.ErrInvariant)
)

// result describes what one re-index did
type result struct {
	changed      bool
	unchanged    bool // content hash matched, nothing done
	ignored      bool // path is not indexable
	embedded     int
	failedChunks int
}

// computed is the lock-free half of a re-index
type computed struct {
	digest  types.Digest
	texts   []string
	vectors [][]float32 // nil where the embedding failed
	failed  int
}

func (e *Engine) closed() bool {
	select {
	case <-e.done:
		return true
	default:
		return false
	}
}

// Reindex brings the record of one file in line with its content on disk.
// It reports whether index state changed.
func (e *Engine) Reindex(ctx context.Context, path string) (bool, error) {
	rel, err := e.rel(path)
	if err != nil {
		return false, err
	}
	res, err := e.reindex(ctx, rel)
	return res.changed, err
}

func (e *Engine) reindex(ctx context.Context, rel string) (result, error) {
	if e.closed() {
		return result{}, ErrClosed
	}
	if err := e.Err(); err != nil {
		return result{}, err
	}
	if !e.policy.Indexable(rel) {
		return result{ignored: true}, nil
	}

	for attempt := 0; attempt < maxStaleRetries; attempt++ {
		content, digest, err := hasher.ReadFile(e.abs(rel))
		if err != nil {
			e.logger.Warn("skipping unreadable file", "path", rel, "error", err)
			return result{}, err
		}

		if rec, ok := e.File(rel); ok && rec.Hash == digest {
			return result{unchanged: true}, nil
		}

		c, err := e.compute(ctx, rel, content, digest)
		if err != nil {
			return result{}, err
		}

		res, stale, err := e.commit(rel, c)
		if err != nil || !stale {
			return res, err
		}
		e.logger.Debug("file changed while indexing, recomputing", "path", rel, "attempt", attempt+1)
	}
	return result{}, fmt.Errorf("%w: %s", ErrStale, rel)
}

// compute chunks and embeds content. It holds no lock. Cancellation returns
// an error and leaves nothing to commit.
func (e *Engine) compute(ctx context.Context, rel string, content []byte, digest types.Digest) (*computed, error) {
	texts := e.chunker.Chunk(rel, content)
	c := &computed{
		digest:  digest,
		texts:   texts,
		vectors: make([][]float32, len(texts)),
	}

	for start := 0; start < len(texts); start += e.batchSize {
		end := min(start+e.batchSize, len(texts))
		e.embedBatch(ctx, rel, texts[start:end], c.vectors[start:end], start)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	for _, v := range c.vectors {
		if v == nil {
			c.failed++
		}
	}
	return c, nil
}

// embedBatch fills out with vectors for texts. A failed batch falls back to
// one request per text so a single bad chunk does not lose its neighbours.
func (e *Engine) embedBatch(ctx context.Context, rel string, texts []string, out [][]float32, offset int) {
	want := e.emb.Dimension()

	resp, err := e.emb.GenerateBatch(ctx, embedder.BatchEmbeddingRequest{Texts: texts})
	if err == nil && len(resp.Embeddings) == len(texts) {
		ok := true
		for _, emb := range resp.Embeddings {
			if embedder.CheckDimension(emb, want) != nil {
				ok = false
				break
			}
		}
		if ok {
			for i, emb := range resp.Embeddings {
				out[i] = emb.Vector
			}
			return
		}
	}
	if ctx.Err() != nil {
		return
	}

	for i, text := range texts {
		emb, err := e.emb.GenerateEmbedding(ctx, embedder.EmbeddingRequest{Text: text})
		if err == nil {
			err = embedder.CheckDimension(emb, want)
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			e.logger.Warn("chunk embedding failed", "path", rel, "chunk", offset+i, "error", err)
			continue
		}
		out[i] = emb.Vector
	}
}

// commit applies a computed re-index under the lock. stale reports that the
// file no longer has the content that was computed.
//
// The file is hashed before the lock is taken; under the lock only its size
// and modification time are compared against the hashed version.
func (e *Engine) commit(rel string, c *computed) (res result, stale bool, err error) {
	path := e.abs(rel)
	before, err := os.Stat(path)
	if err != nil {
		return missing(err)
	}
	current, err := hasher.File(path)
	if err != nil {
		return missing(err)
	}
	if current != c.digest {
		return result{}, true, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.abortedErr(); err != nil {
		return result{}, false, err
	}
	after, err := os.Stat(path)
	if err != nil {
		return missing(err)
	}
	if after.Size() != before.Size() || !after.ModTime().Equal(before.ModTime()) {
		return result{}, true, nil
	}

	old, tracked := e.store.File(rel)
	if tracked && old.Hash == c.digest {
		return result{unchanged: true}, false, nil
	}

	if tracked {
		if err := e.tombstoneOwned(rel, old.Ordinals); err != nil {
			return result{}, false, e.abort(err)
		}
	}

	space := e.graph.Space()
	rec := types.FileRecord{Path: rel, Hash: c.digest}
	for i, vec := range c.vectors {
		if vec == nil {
			continue
		}
		ord, err := space.Allocate(vec)
		if err != nil {
			return result{}, false, e.abort(fmt.Errorf("%w: allocate: %w", types.ErrInvariant, err))
		}
		if err := e.store.PutChunk(ord, c.texts[i]); err != nil {
			return result{}, false, e.abort(err)
		}
		if err := e.graph.Insert(ord); err != nil {
			return result{}, false, e.abort(err)
		}
		rec.Ordinals = append(rec.Ordinals, ord)
	}
	if c.failed > 0 {
		// incomplete: the zero digest forces the next event or scan to retry
		rec.Hash = types.Digest{}
	}
	if err := e.store.PutFile(rec); err != nil {
		return result{}, false, e.abort(err)
	}
	e.version++

	e.logger.Debug("file indexed", "path", rel, "chunks", len(rec.Ordinals), "failed", c.failed)
	return result{changed: true, embedded: len(rec.Ordinals), failedChunks: c.failed}, false, nil
}

// missing turns a stat or read failure at commit time into a commit result.
// A file deleted meanwhile commits nothing: its delete event owns the cleanup.
func missing(err error) (result, bool, error) {
	if errors.Is(err, fs.ErrNotExist) {
		return result{}, false, nil
	}
	return result{}, false, err
}

// tombstoneOwned tombstones the ordinals of the record at rel while the
// store still lists rel as their owner; mu must be held
func (e *Engine) tombstoneOwned(rel string, ords []types.Ordinal) error {
	for _, ord := range ords {
		if owner, ok := e.store.Owner(ord); !ok || owner != rel {
			return fmt.Errorf("%w: ordinal %d", ErrNotOwned, ord)
		}
	}
	for _, ord := range ords {
		if err := e.graph.Tombstone(ord); err != nil {
			return err
		}
	}
	return nil
}

// Delete removes the record of path, or of every file under path if it
// names a directory, and tombstones their ordinals
func (e *Engine) Delete(path string) (bool, error) {
	rel, err := e.rel(path)
	if err != nil {
		return false, err
	}
	if e.closed() {
		return false, ErrClosed
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.abortedErr(); err != nil {
		return false, err
	}

	paths := []string{rel}
	if _, ok := e.store.File(rel); !ok {
		paths = e.store.FilesUnder(rel)
	}

	changed := false
	for _, p := range paths {
		ok, err := e.deleteLocked(p)
		if err != nil {
			return changed, err
		}
		changed = changed || ok
	}
	return changed, nil
}

// deleteLocked removes one record; mu must be held
func (e *Engine) deleteLocked(rel string) (bool, error) {
	rec, ok := e.store.File(rel)
	if !ok {
		return false, nil
	}
	if err := e.tombstoneOwned(rel, rec.Ordinals); err != nil {
		return false, e.abort(err)
	}
	e.store.DeleteFile(rel)
	e.version++
	e.logger.Debug("file removed", "path", rel, "ordinals", len(rec.Ordinals))
	return true, nil
}

// Move rewrites the key of a record, or of every record under a directory.
// Ordinals and hashes are untouched. A move from an untracked path indexes
// the destination; a move to a path that is not indexable deletes the record.
func (e *Engine) Move(ctx context.Context, oldPath, newPath string) (bool, error) {
	oldRel, err := e.rel(oldPath)
	if err != nil {
		return false, err
	}
	newRel, err := e.rel(newPath)
	if err != nil {
		return false, err
	}
	if e.closed() {
		return false, ErrClosed
	}

	moved, changed, err := e.moveTracked(oldRel, newRel)
	if err != nil || moved {
		return changed, err
	}

	// nothing was tracked at the source: treat the destination as new
	return e.indexPath(ctx, newRel)
}

// moveTracked moves the records under oldRel. moved is false when nothing
// was tracked there.
func (e *Engine) moveTracked(oldRel, newRel string) (moved, changed bool, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.abortedErr(); err != nil {
		return false, false, err
	}
	if oldRel == newRel {
		_, ok := e.store.File(oldRel)
		return ok, false, nil
	}

	type pair struct{ from, to string }
	var pairs []pair
	if _, ok := e.store.File(oldRel); ok {
		pairs = append(pairs, pair{oldRel, newRel})
	} else {
		for _, p := range e.store.FilesUnder(oldRel) {
			suffix := p[len(oldRel):]
			if oldRel == "" {
				suffix = "/" + p
			}
			pairs = append(pairs, pair{p, newRel + suffix})
		}
	}
	if len(pairs) == 0 {
		return false, false, nil
	}

	for _, mv := range pairs {
		if !e.policy.Indexable(mv.to) {
			if _, err := e.deleteLocked(mv.from); err != nil {
				return true, true, err
			}
			continue
		}
		// the destination's previous content is superseded
		if _, err := e.deleteLocked(mv.to); err != nil {
			return true, true, err
		}
		if err := e.store.RenameFile(mv.from, mv.to); err != nil {
			return true, true, e.abort(fmt.Errorf("%w: %w", types.ErrInvariant, err))
		}
		e.version++
		e.logger.Debug("file moved", "from", mv.from, "to", mv.to)
	}
	return true, true, nil
}

// indexPath re-indexes a file, or every indexable file under a directory
func (e *Engine) indexPath(ctx context.Context, rel string) (bool, error) {
	info, err := os.Stat(e.abs(rel))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	if !info.IsDir() {
		res, err := e.reindex(ctx, rel)
		return res.changed, err
	}

	files, err := e.discover(ctx, rel)
	if err != nil {
		return false, err
	}
	changed := false
	var errs []error
	for _, f := range files {
		res, err := e.reindex(ctx, f)
		changed = changed || res.changed
		if err != nil {
			if errors.Is(err, ErrSessionAborted) || ctx.Err() != nil {
				return changed, err
			}
			errs = append(errs, err)
		}
	}
	return changed, errors.Join(errs...)
}
