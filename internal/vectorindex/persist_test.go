package vectorindex

import (
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	idx := sampleIndex(t)
	path := filepath.Join(t.TempDir(), "movie_index.msgpack")
	require.NoError(t, idx.Save(path))

	loaded, err := LoadFlatIndex(path)
	require.NoError(t, err)
	assert.Equal(t, idx.Len(), loaded.Len())
	assert.Equal(t, idx.Dimension(), loaded.Dimension())

	query := []float32{0.2, 0.9}
	want, err := idx.Search(context.Background(), query, 4)
	require.NoError(t, err)
	got, err := loaded.Search(context.Background(), query, 4)
	require.NoError(t, err)

	require.Equal(t, positions(want), positions(got))
	for i := range want {
		assert.InDelta(t, want[i].Distance, got[i].Distance, 1e-5)
	}
}

func TestLoadRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.msgpack")
	require.NoError(t, os.WriteFile(path, []byte("not msgpack at all"), 0644))

	_, err := LoadFlatIndex(path)
	assert.ErrorIs(t, err, ErrCorruptIndex)
}

func TestVectorFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "movie_embeddings.vec")
	vectors := [][]float32{{0.1, 0.2, 0.3}, {-1, 0, 1}}
	require.NoError(t, WriteVectorFile(path, 3, vectors))

	dim, got, err := ReadVectorFile(path)
	require.NoError(t, err)
	assert.Equal(t, 3, dim)
	assert.Equal(t, vectors, got)
}

func TestVectorFileRejectsBadMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.vec")
	require.NoError(t, os.WriteFile(path, make([]byte, vecHeaderSize), 0644))

	_, _, err := ReadVectorFile(path)
	assert.ErrorIs(t, err, ErrCorruptIndex)
}

func TestVectorFileRejectsTruncatedRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.vec")
	require.NoError(t, WriteVectorFile(path, 2, [][]float32{{1, 2}, {3, 4}}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data[:len(data)-2], 0644))

	_, _, err = ReadVectorFile(path)
	assert.ErrorIs(t, err, ErrCorruptIndex)
}

func TestVectorFileRejectsOversizedCount(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.vec")
	require.NoError(t, WriteVectorFile(path, 2, [][]float32{{1, 2}}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	for _, count := range []uint64{^uint64(0), 1 << 40, 2} {
		binary.LittleEndian.PutUint64(data[12:], count)
		require.NoError(t, os.WriteFile(path, data, 0644))

		assert.NotPanics(t, func() {
			_, _, err = ReadVectorFile(path)
		})
		assert.ErrorIs(t, err, ErrCorruptIndex, "count %d", count)
	}
}
