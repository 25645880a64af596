package storage

import (
	"fmt"
	"maps"
	"slices"
	"sort"
	"strings"

	"github.com/dshills/codelocal/pkg/types"
)

// Store holds the three metadata maps in memory: ordinal to chunk text, path
// to file record, and the reverse ordinal to owning path. The in-memory maps
// are authoritative; every mutation is journaled by key so a flush only
// writes what changed.
//
// Store is not safe for concurrent use. The index engine serializes access.
type Store struct {
	chunks map[types.Ordinal]string
	files  map[string]types.FileRecord
	owners map[types.Ordinal]string

	dirtyChunks map[types.Ordinal]struct{}
	dirtyFiles  map[string]struct{}
	full        bool
}

// NewStore returns an empty store
func NewStore() *Store {
	return &Store{
		chunks:      make(map[types.Ordinal]string),
		files:       make(map[string]types.FileRecord),
		owners:      make(map[types.Ordinal]string),
		dirtyChunks: make(map[types.Ordinal]struct{}),
		dirtyFiles:  make(map[string]struct{}),
	}
}

// Restore replaces the store content with state read from a backend and clears the journal.
// Records that break ownership rules are skipped and returned so the caller can re-index them.
func (s *Store) Restore(state *State) []string {
	*s = *NewStore()
	if state == nil {
		return nil
	}
	maps.Copy(s.chunks, state.Chunks)

	var rejected []string
	for _, rec := range state.Files {
		if err := s.PutFile(rec); err != nil {
			rejected = append(rejected, rec.Path)
		}
	}
	clear(s.dirtyFiles)
	// rejected paths are gone from memory so they must be removed from the backend too
	for _, p := range rejected {
		s.dirtyFiles[p] = struct{}{}
	}
	return rejected
}

// Reset empties the store and marks it for a full rewrite on the next commit
func (s *Store) Reset() {
	*s = *NewStore()
	s.full = true
}

// Chunk returns the text stored for an ordinal
func (s *Store) Chunk(ord types.Ordinal) (string, bool) {
	text, ok := s.chunks[ord]
	return text, ok
}

// PutChunk stores the text of a newly allocated ordinal. Chunks are
// immutable: storing an ordinal twice is an invariant violation.
func (s *Store) PutChunk(ord types.Ordinal, text string) error {
	if _, ok := s.chunks[ord]; ok {
		return fmt.Errorf("%w: ordinal %d", ErrChunkExists, ord)
	}
	s.chunks[ord] = text
	s.dirtyChunks[ord] = struct{}{}
	return nil
}

// DeleteChunk removes the text of an ordinal. Deleting an owned ordinal
// would leave its file record dangling and is refused.
func (s *Store) DeleteChunk(ord types.Ordinal) error {
	if owner, ok := s.owners[ord]; ok {
		return fmt.Errorf("%w: ordinal %d still owned by %s", types.ErrInvariant, ord, owner)
	}
	if _, ok := s.chunks[ord]; !ok {
		return nil
	}
	delete(s.chunks, ord)
	s.dirtyChunks[ord] = struct{}{}
	return nil
}

// ChunkOrdinals returns every ordinal that has stored text, ascending
func (s *Store) ChunkOrdinals() []types.Ordinal {
	ords := slices.Collect(maps.Keys(s.chunks))
	slices.Sort(ords)
	return ords
}

// ChunkCount returns the number of stored chunks
func (s *Store) ChunkCount() int {
	return len(s.chunks)
}

// File returns a copy of the record tracked for path
func (s *Store) File(path string) (types.FileRecord, bool) {
	rec, ok := s.files[path]
	if !ok {
		return types.FileRecord{}, false
	}
	return rec.Clone(), true
}

// PutFile creates or replaces the record for rec.Path. Every ordinal must
// have stored text and must not be owned by a different path.
func (s *Store) PutFile(rec types.FileRecord) error {
	if rec.Path == "" {
		return types.ErrMissingFileInfo
	}
	seen := make(map[types.Ordinal]struct{}, len(rec.Ordinals))
	for _, ord := range rec.Ordinals {
		if _, ok := s.chunks[ord]; !ok {
			return fmt.Errorf("%w: %s ordinal %d", ErrOrphanOrdinal, rec.Path, ord)
		}
		if owner, ok := s.owners[ord]; ok && owner != rec.Path {
			return fmt.Errorf("%w: %s ordinal %d held by %s", ErrOrdinalOwned, rec.Path, ord, owner)
		}
		if _, dup := seen[ord]; dup {
			return fmt.Errorf("%w: %s lists ordinal %d twice", types.ErrInvariant, rec.Path, ord)
		}
		seen[ord] = struct{}{}
	}

	if old, ok := s.files[rec.Path]; ok {
		for _, ord := range old.Ordinals {
			delete(s.owners, ord)
		}
	}
	rec = rec.Clone()
	for _, ord := range rec.Ordinals {
		s.owners[ord] = rec.Path
	}
	s.files[rec.Path] = rec
	s.dirtyFiles[rec.Path] = struct{}{}
	return nil
}

// DeleteFile removes the record for path and returns it
func (s *Store) DeleteFile(path string) (types.FileRecord, bool) {
	rec, ok := s.files[path]
	if !ok {
		return types.FileRecord{}, false
	}
	for _, ord := range rec.Ordinals {
		delete(s.owners, ord)
	}
	delete(s.files, path)
	s.dirtyFiles[path] = struct{}{}
	return rec, true
}

// RenameFile rewrites the key of a record. Ordinals and hash are untouched.
func (s *Store) RenameFile(oldPath, newPath string) error {
	rec, ok := s.files[oldPath]
	if !ok {
		return fmt.Errorf("rename %s: %w", oldPath, ErrNotFound)
	}
	if oldPath == newPath {
		return nil
	}
	if _, ok := s.files[newPath]; ok {
		return fmt.Errorf("rename to %s: %w", newPath, ErrAlreadyExists)
	}

	delete(s.files, oldPath)
	rec.Path = newPath
	s.files[newPath] = rec
	for _, ord := range rec.Ordinals {
		s.owners[ord] = newPath
	}
	s.dirtyFiles[oldPath] = struct{}{}
	s.dirtyFiles[newPath] = struct{}{}
	return nil
}

// Owner returns the path that owns ord
func (s *Store) Owner(ord types.Ordinal) (string, bool) {
	p, ok := s.owners[ord]
	return p, ok
}

// Files returns every tracked path, sorted
func (s *Store) Files() []string {
	paths := slices.Collect(maps.Keys(s.files))
	sort.Strings(paths)
	return paths
}

// FileCount returns the number of tracked files
func (s *Store) FileCount() int {
	return len(s.files)
}

// FilesUnder returns the tracked paths inside directory dir, sorted. An empty
// dir matches every path. Paths are slash separated.
func (s *Store) FilesUnder(dir string) []string {
	dir = strings.TrimSuffix(dir, "/")
	if dir == "" || dir == "." {
		return s.Files()
	}
	prefix := dir + "/"
	var paths []string
	for p := range s.files {
		if strings.HasPrefix(p, prefix) {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)
	return paths
}

// Dirty reports whether any change has not been captured yet
func (s *Store) Dirty() bool {
	return s.full || len(s.dirtyChunks) > 0 || len(s.dirtyFiles) > 0
}

// Capture returns the journaled changes with their current values and
// clears the journal. If the commit fails the changeset must be handed back
// through Requeue.
func (s *Store) Capture(generation uint64) *Changeset {
	cs := &Changeset{
		Full:       s.full,
		Chunks:     make(map[types.Ordinal]string),
		Generation: generation,
	}

	if s.full {
		maps.Copy(cs.Chunks, s.chunks)
		for _, p := range s.Files() {
			cs.Files = append(cs.Files, s.files[p].Clone())
		}
	} else {
		for ord := range s.dirtyChunks {
			if text, ok := s.chunks[ord]; ok {
				cs.Chunks[ord] = text
			} else {
				cs.DeletedChunks = append(cs.DeletedChunks, ord)
			}
		}
		slices.Sort(cs.DeletedChunks)

		paths := slices.Collect(maps.Keys(s.dirtyFiles))
		sort.Strings(paths)
		for _, p := range paths {
			if rec, ok := s.files[p]; ok {
				cs.Files = append(cs.Files, rec.Clone())
			} else {
				cs.DeletedFiles = append(cs.DeletedFiles, p)
			}
		}
	}

	s.full = false
	clear(s.dirtyChunks)
	clear(s.dirtyFiles)
	return cs
}

// Requeue marks the keys of a changeset that failed to commit dirty again.
// Values are re-read from the maps on the next Capture, so later changes to
// the same keys are not lost.
func (s *Store) Requeue(cs *Changeset) {
	if cs == nil {
		return
	}
	if cs.Full {
		s.full = true
	}
	for ord := range cs.Chunks {
		s.dirtyChunks[ord] = struct{}{}
	}
	for _, ord := range cs.DeletedChunks {
		s.dirtyChunks[ord] = struct{}{}
	}
	for _, rec := range cs.Files {
		s.dirtyFiles[rec.Path] = struct{}{}
	}
	for _, p := range cs.DeletedFiles {
		s.dirtyFiles[p] = struct{}{}
	}
}
