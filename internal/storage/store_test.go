package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/codelocal/internal/hasher"
	"github.com/dshills/codelocal/pkg/types"
)

func seedStore(t *testing.T) *Store {
	t.Helper()
	s := NewStore()
	require.NoError(t, s.PutChunk(0, "alpha"))
	require.NoError(t, s.PutChunk(1, "beta"))
	require.NoError(t, s.PutFile(types.FileRecord{
		Path:     "Foo.txt",
		Ordinals: []types.Ordinal{0, 1},
		Hash:     hasher.Sum([]byte("alpha\n\nbeta")),
	}))
	return s
}

func TestStore_PutAndGet(t *testing.T) {
	s := seedStore(t)

	rec, ok := s.File("Foo.txt")
	require.True(t, ok)
	assert.Equal(t, []types.Ordinal{0, 1}, rec.Ordinals)

	text, ok := s.Chunk(1)
	require.True(t, ok)
	assert.Equal(t, "beta", text)

	owner, ok := s.Owner(0)
	require.True(t, ok)
	assert.Equal(t, "Foo.txt", owner)

	// returned records are copies
	rec.Ordinals[0] = 99
	again, _ := s.File("Foo.txt")
	assert.Equal(t, types.Ordinal(0), again.Ordinals[0])
}

func TestStore_PutChunkTwice(t *testing.T) {
	s := seedStore(t)

	err := s.PutChunk(0, "other")
	assert.ErrorIs(t, err, ErrChunkExists)
	assert.ErrorIs(t, err, types.ErrInvariant)

	text, _ := s.Chunk(0)
	assert.Equal(t, "alpha", text)
}

func TestStore_PutFileInvariants(t *testing.T) {
	s := seedStore(t)
	require.NoError(t, s.PutChunk(2, "gamma"))

	tests := []struct {
		name string
		rec  types.FileRecord
		want error
	}{
		{"orphan ordinal", types.FileRecord{Path: "a.txt", Ordinals: []types.Ordinal{7}}, ErrOrphanOrdinal},
		{"ordinal owned elsewhere", types.FileRecord{Path: "a.txt", Ordinals: []types.Ordinal{1}}, ErrOrdinalOwned},
		{"repeated ordinal", types.FileRecord{Path: "a.txt", Ordinals: []types.Ordinal{2, 2}}, types.ErrInvariant},
		{"missing path", types.FileRecord{Ordinals: []types.Ordinal{2}}, types.ErrMissingFileInfo},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.PutFile(tt.rec)
			assert.ErrorIs(t, err, tt.want)
			_, ok := s.File("a.txt")
			assert.False(t, ok)
		})
	}
}

func TestStore_ReplaceReleasesOwnership(t *testing.T) {
	s := seedStore(t)
	require.NoError(t, s.PutChunk(2, "gamma"))

	require.NoError(t, s.PutFile(types.FileRecord{Path: "Foo.txt", Ordinals: []types.Ordinal{2}}))

	_, owned := s.Owner(0)
	assert.False(t, owned)
	owner, _ := s.Owner(2)
	assert.Equal(t, "Foo.txt", owner)

	require.NoError(t, s.DeleteChunk(0))
	require.NoError(t, s.DeleteChunk(1))
	assert.Equal(t, []types.Ordinal{2}, s.ChunkOrdinals())
}

func TestStore_DeleteOwnedChunk(t *testing.T) {
	s := seedStore(t)

	err := s.DeleteChunk(0)
	assert.ErrorIs(t, err, types.ErrInvariant)
	_, ok := s.Chunk(0)
	assert.True(t, ok)
}

func TestStore_DeleteFile(t *testing.T) {
	s := seedStore(t)

	rec, ok := s.DeleteFile("Foo.txt")
	require.True(t, ok)
	assert.Equal(t, []types.Ordinal{0, 1}, rec.Ordinals)
	assert.Equal(t, 0, s.FileCount())

	_, owned := s.Owner(1)
	assert.False(t, owned)

	_, ok = s.DeleteFile("Foo.txt")
	assert.False(t, ok)
}

func TestStore_RenameFile(t *testing.T) {
	s := seedStore(t)
	before, _ := s.File("Foo.txt")

	require.NoError(t, s.RenameFile("Foo.txt", "dir/Bar.txt"))

	_, ok := s.File("Foo.txt")
	assert.False(t, ok)
	after, ok := s.File("dir/Bar.txt")
	require.True(t, ok)
	assert.Equal(t, before.Ordinals, after.Ordinals)
	assert.Equal(t, before.Hash, after.Hash)

	owner, _ := s.Owner(0)
	assert.Equal(t, "dir/Bar.txt", owner)

	assert.ErrorIs(t, s.RenameFile("missing", "x"), ErrNotFound)

	require.NoError(t, s.PutChunk(5, "other"))
	require.NoError(t, s.PutFile(types.FileRecord{Path: "other.txt", Ordinals: []types.Ordinal{5}}))
	assert.ErrorIs(t, s.RenameFile("other.txt", "dir/Bar.txt"), ErrAlreadyExists)
}

func TestStore_FilesUnder(t *testing.T) {
	s := NewStore()
	for _, p := range []string{"a/x.go", "a/b/y.go", "ab/z.go", "c.go"} {
		require.NoError(t, s.PutFile(types.FileRecord{Path: p}))
	}

	assert.Equal(t, []string{"a/b/y.go", "a/x.go"}, s.FilesUnder("a"))
	assert.Equal(t, []string{"a/b/y.go"}, s.FilesUnder("a/b/"))
	assert.Len(t, s.FilesUnder(""), 4)
	assert.Empty(t, s.FilesUnder("missing"))
}

func TestStore_CaptureAndRequeue(t *testing.T) {
	s := seedStore(t)
	assert.True(t, s.Dirty())

	cs := s.Capture(1)
	assert.False(t, s.Dirty())
	assert.Equal(t, uint64(1), cs.Generation)
	assert.Equal(t, map[types.Ordinal]string{0: "alpha", 1: "beta"}, cs.Chunks)
	require.Len(t, cs.Files, 1)
	assert.Equal(t, "Foo.txt", cs.Files[0].Path)

	// a commit failed and the file changed meanwhile
	_, _ = s.DeleteFile("Foo.txt")
	s.Requeue(cs)
	require.True(t, s.Dirty())

	retry := s.Capture(2)
	assert.Equal(t, []string{"Foo.txt"}, retry.DeletedFiles)
	assert.Empty(t, retry.Files)
	assert.Len(t, retry.Chunks, 2)
}

func TestStore_CaptureDeletions(t *testing.T) {
	s := seedStore(t)
	s.Capture(1)

	_, _ = s.DeleteFile("Foo.txt")
	require.NoError(t, s.DeleteChunk(0))
	require.NoError(t, s.DeleteChunk(1))

	cs := s.Capture(2)
	assert.Equal(t, []types.Ordinal{0, 1}, cs.DeletedChunks)
	assert.Equal(t, []string{"Foo.txt"}, cs.DeletedFiles)
	assert.Empty(t, cs.Chunks)
	assert.Equal(t, 3, cs.Size())
}

func TestStore_ResetCapturesEverything(t *testing.T) {
	s := seedStore(t)
	s.Capture(1)
	assert.True(t, s.Capture(2).Empty())

	s.Reset()
	require.NoError(t, s.PutChunk(4, "delta"))
	cs := s.Capture(3)
	assert.True(t, cs.Full)
	assert.False(t, cs.Empty())
	assert.Equal(t, map[types.Ordinal]string{4: "delta"}, cs.Chunks)
	assert.False(t, s.Capture(4).Full)
}

func TestStore_Restore(t *testing.T) {
	s := NewStore()
	rejected := s.Restore(&State{
		Chunks: map[types.Ordinal]string{0: "alpha", 1: "beta"},
		Files: []types.FileRecord{
			{Path: "ok.txt", Ordinals: []types.Ordinal{0}},
			{Path: "orphan.txt", Ordinals: []types.Ordinal{9}},
			{Path: "clash.txt", Ordinals: []types.Ordinal{0}},
		},
		Generation: 4,
	})

	assert.ElementsMatch(t, []string{"orphan.txt", "clash.txt"}, rejected)
	assert.Equal(t, []string{"ok.txt"}, s.Files())
	assert.Equal(t, 2, s.ChunkCount())

	// only the rejected paths need to be written back
	cs := s.Capture(5)
	assert.Empty(t, cs.Chunks)
	assert.ElementsMatch(t, []string{"orphan.txt", "clash.txt"}, cs.DeletedFiles)
}
