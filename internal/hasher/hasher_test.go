package hasher

import (
	"crypto/sha256"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/codelocal/pkg/types"
)

func TestSum(t *testing.T) {
	t.Run("deterministic", func(t *testing.T) {
		assert.Equal(t, Sum([]byte("alpha")), Sum([]byte("alpha")))
	})

	t.Run("different content differs", func(t *testing.T) {
		assert.NotEqual(t, Sum([]byte("alpha")), Sum([]byte("beta")))
	})

	t.Run("matches sha256", func(t *testing.T) {
		want := sha256.Sum256([]byte("gamma"))
		assert.Equal(t, types.Digest(want), Sum([]byte("gamma")))
	})

	t.Run("empty content is not the zero digest", func(t *testing.T) {
		assert.False(t, Sum(nil).IsZero())
	})
}

func TestSumReader(t *testing.T) {
	d, err := SumReader(strings.NewReader("alpha"))
	require.NoError(t, err)
	assert.Equal(t, Sum([]byte("alpha")), d)
}

func TestReadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "Foo.txt")
	require.NoError(t, os.WriteFile(path, []byte("alpha\n\nbeta"), 0644))

	content, d, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "alpha\n\nbeta", string(content))
	assert.Equal(t, Sum(content), d)

	fd, err := File(path)
	require.NoError(t, err)
	assert.Equal(t, d, fd)
}

func TestReadFile_Missing(t *testing.T) {
	_, _, err := ReadFile(filepath.Join(t.TempDir(), "missing.txt"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}
