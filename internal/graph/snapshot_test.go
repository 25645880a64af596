package graph

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/codelocal/pkg/types"
)

func TestSnapshot_RoundTrip(t *testing.T) {
	for _, c := range []Compression{CompressionNone, CompressionLZ4, CompressionZstd} {
		t.Run(c.String(), func(t *testing.T) {
			g, vecs := buildGraph(t, 150)
			require.NoError(t, g.Tombstone(3))
			require.NoError(t, g.Tombstone(99))

			var buf bytes.Buffer
			saved, err := g.Save(&buf, c, 7)
			require.NoError(t, err)
			assert.Equal(t, buf.Len(), saved.Bytes)

			restored, info, err := Load(bytes.NewReader(buf.Bytes()), testDim, DefaultOptions())
			require.NoError(t, err)

			assert.Equal(t, uint64(7), info.Generation)
			assert.Equal(t, types.Ordinal(150), info.NextOrdinal)
			assert.Equal(t, 150, info.Nodes)
			assert.Equal(t, 2, info.Tombstones)
			assert.Equal(t, saved.Compression, info.Compression)

			assert.True(t, restored.IsTombstoned(3))
			assert.True(t, restored.IsTombstoned(99))
			assert.Equal(t, g.Ordinals(), restored.Ordinals())

			for _, q := range []types.Ordinal{0, 10, 42, 149} {
				want, err := g.Search(vecs[q], 10)
				require.NoError(t, err)
				got, err := restored.Search(vecs[q], 10)
				require.NoError(t, err)
				assert.Equal(t, want, got, "query %d", q)
			}

			next, err := restored.Space().Allocate(make([]float32, testDim))
			require.NoError(t, err)
			assert.Equal(t, types.Ordinal(150), next)
		})
	}
}

func TestSnapshot_PreservesNextOrdinalAfterCompaction(t *testing.T) {
	g, _ := buildGraph(t, 10)
	require.NoError(t, g.Tombstone(9))
	g.Compact()

	var buf bytes.Buffer
	_, err := g.Save(&buf, CompressionZstd, 1)
	require.NoError(t, err)

	restored, info, err := Load(&buf, testDim, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, types.Ordinal(10), info.NextOrdinal, "removed ordinal 9 must not be reused")
	assert.Equal(t, 9, restored.Len())
}

func TestSnapshot_Empty(t *testing.T) {
	g, _ := buildGraph(t, 0)

	var buf bytes.Buffer
	_, err := g.Save(&buf, CompressionLZ4, 0)
	require.NoError(t, err)

	restored, info, err := Load(&buf, testDim, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, 0, info.Nodes)
	assert.Equal(t, 0, restored.Len())

	hits, err := restored.Search(make([]float32, testDim), 3)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestLoad_Corruption(t *testing.T) {
	g, _ := buildGraph(t, 30)
	var buf bytes.Buffer
	_, err := g.Save(&buf, CompressionNone, 1)
	require.NoError(t, err)
	good := buf.Bytes()

	tests := []struct {
		name   string
		mutate func([]byte) []byte
	}{
		{"empty", func([]byte) []byte { return nil }},
		{"bad magic", func(b []byte) []byte { b[0] = 'X'; return b }},
		{"bad version", func(b []byte) []byte { b[4] = 9; return b }},
		{"truncated", func(b []byte) []byte { return b[:len(b)-10] }},
		{"flipped payload byte", func(b []byte) []byte { b[headerSize+40] ^= 0xFF; return b }},
		{"unknown compression", func(b []byte) []byte { b[6] = 77; return b }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := tt.mutate(append([]byte(nil), good...))
			_, _, err := Load(bytes.NewReader(data), testDim, DefaultOptions())
			assert.ErrorIs(t, err, ErrCorruptSnapshot)
		})
	}
}

func TestLoad_DimensionMismatch(t *testing.T) {
	g, _ := buildGraph(t, 5)
	var buf bytes.Buffer
	_, err := g.Save(&buf, CompressionZstd, 1)
	require.NoError(t, err)

	_, _, err = Load(&buf, testDim+1, DefaultOptions())
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}
