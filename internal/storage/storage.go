package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/dshills/codelocal/pkg/types"
)

var (
	// ErrNotFound is returned when a requested entity doesn't exist
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when trying to create a duplicate entity
	ErrAlreadyExists = errors.New("already exists")

	// ErrOrphanOrdinal is returned when a file record names an ordinal that has no chunk
	ErrOrphanOrdinal = fmt.Errorf("%w: ordinal has no chunk", types.ErrInvariant)
	// ErrOrdinalOwned is returned when an ordinal is claimed by a second file
	ErrOrdinalOwned = fmt.Errorf("%w: ordinal owned by another file", types.ErrInvariant)
	// ErrChunkExists is returned when a chunk is stored twice under one ordinal
	ErrChunkExists = fmt.Errorf("%w: chunk already stored", types.ErrInvariant)
)

// Backend persists the metadata maps. Apply must write a changeset
// atomically: either every change lands or none does.
type Backend interface {
	Load(ctx context.Context) (*State, error)
	Apply(ctx context.Context, cs *Changeset) error
	Close() error
}

// State is the full content of a backend as read at startup
type State struct {
	Chunks     map[types.Ordinal]string
	Files      []types.FileRecord
	Generation uint64
	// NextOrdinal is the allocation cursor at the last commit. It can be
	// above every stored ordinal when compaction removed the highest ones.
	NextOrdinal types.Ordinal
}

// Changeset is the set of keys changed since the previous successful commit,
// with their values as of Capture. A key in a Deleted list is absent from the
// matching put map.
type Changeset struct {
	Full          bool // Replace the backend content instead of patching it
	Chunks        map[types.Ordinal]string
	DeletedChunks []types.Ordinal
	Files         []types.FileRecord
	DeletedFiles  []string
	Generation    uint64
	NextOrdinal   types.Ordinal
}

// Empty reports whether applying the changeset would change nothing but the
// generation and the allocation cursor
func (c *Changeset) Empty() bool {
	return !c.Full && len(c.Chunks) == 0 && len(c.DeletedChunks) == 0 &&
		len(c.Files) == 0 && len(c.DeletedFiles) == 0
}

// Size is the number of keys the changeset touches
func (c *Changeset) Size() int {
	return len(c.Chunks) + len(c.DeletedChunks) + len(c.Files) + len(c.DeletedFiles)
}
