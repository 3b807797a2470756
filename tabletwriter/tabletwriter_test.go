package tabletwriter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lakehouse-go/deltawriter/blobstore"
	"github.com/lakehouse-go/deltawriter/model"
)

func chunkOf(names []string, rows [][]any) *model.Chunk {
	c := model.NewChunk(names)
	for _, r := range rows {
		c.AppendRow(r)
	}
	return c
}

func TestGeneralWriterWriteFlush(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	cfg := Config{ColumnTypes: []model.ColumnType{model.ColumnTypeInt64, model.ColumnTypeString}, Codec: CodecZstd}
	w := NewGeneralWriter(store, 1, 100, cfg)

	require.NoError(t, w.Open(ctx))
	require.NoError(t, w.Write(ctx, chunkOf([]string{"id", "name"}, [][]any{{int64(1), "a"}, {int64(2), "b"}})))
	require.NoError(t, w.Flush(ctx))

	assert.Len(t, w.Files(), 1)
	assert.Equal(t, int64(2), w.NumRows())
	assert.Greater(t, w.DataSize(), int64(0))

	meta, ok := w.RowsetTxnMeta()
	assert.False(t, ok)
	assert.Nil(t, meta)

	isSeg, isDel, err := ClassifyFile(w.Files()[0])
	require.NoError(t, err)
	assert.True(t, isSeg)
	assert.False(t, isDel)
}

func TestGeneralWriterFlushDelFileOrdering(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	cfg := Config{ColumnTypes: []model.ColumnType{model.ColumnTypeInt64}, Codec: CodecNone}
	w := NewGeneralWriter(store, 1, 100, cfg)
	require.NoError(t, w.Open(ctx))

	require.NoError(t, w.FlushDelFile(ctx, chunkOf([]string{"id"}, [][]any{{int64(1)}})))
	require.NoError(t, w.Write(ctx, chunkOf([]string{"id"}, [][]any{{int64(2)}})))
	require.NoError(t, w.Flush(ctx))

	files := w.Files()
	require.Len(t, files, 2)
	isSeg, isDel, err := ClassifyFile(files[0])
	require.NoError(t, err)
	assert.False(t, isSeg)
	assert.True(t, isDel)

	isSeg, isDel, err = ClassifyFile(files[1])
	require.NoError(t, err)
	assert.True(t, isSeg)
	assert.False(t, isDel)
}

func TestGeneralWriterEmptyFlushIsNoop(t *testing.T) {
	ctx := context.Background()
	w := NewGeneralWriter(blobstore.NewMemoryStore(), 1, 100, Config{ColumnTypes: []model.ColumnType{model.ColumnTypeInt64}})
	require.NoError(t, w.Open(ctx))
	require.NoError(t, w.Flush(ctx))
	assert.Empty(t, w.Files())
	assert.Equal(t, int64(0), w.NumRows())
}

func TestPrimaryKeyWriterReportsPartialUpdateSeed(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	cfg := Config{ColumnTypes: []model.ColumnType{model.ColumnTypeInt64}, Codec: CodecLZ4}

	full := NewPrimaryKeyWriter(store, 1, 100, cfg, false)
	_, ok := full.RowsetTxnMeta()
	assert.True(t, ok)

	partial := NewPrimaryKeyWriter(store, 1, 101, cfg, true)
	meta, ok := partial.RowsetTxnMeta()
	require.True(t, ok)
	assert.NotNil(t, meta)

	require.NoError(t, partial.Open(ctx))
	require.NoError(t, partial.Write(ctx, chunkOf([]string{"id"}, [][]any{{int64(1)}})))
	require.NoError(t, partial.Finish(ctx))
	assert.Len(t, partial.Files(), 1)
}

func TestGenerateRewriteSegmentNamesUniquePerIndex(t *testing.T) {
	names := GenerateRewriteSegmentNames(42, 3)
	require.Len(t, names, 3)
	seen := map[string]bool{}
	for _, n := range names {
		assert.False(t, seen[n], "rewrite segment names must be unique")
		seen[n] = true
	}
}

func TestClassifyFileRejectsUnknown(t *testing.T) {
	_, _, err := ClassifyFile("not-a-known-file.txt")
	assert.Error(t, err)
}

func TestCodecRoundTrip(t *testing.T) {
	body := []byte("the quick brown fox jumps over the lazy dog, repeated many times for compressibility. " +
		"the quick brown fox jumps over the lazy dog, repeated many times for compressibility.")

	for _, codec := range []Codec{CodecNone, CodecZstd, CodecLZ4} {
		compressed, err := compress(codec, body)
		require.NoError(t, err, codec.String())
		decompressed, err := decompress(codec, compressed)
		require.NoError(t, err, codec.String())
		assert.Equal(t, body, decompressed, codec.String())
	}
}

func TestEncodeChunkRejectsColumnCountMismatch(t *testing.T) {
	c := chunkOf([]string{"a", "b"}, [][]any{{int64(1), "x"}})
	_, err := encodeChunk(c, []model.ColumnType{model.ColumnTypeInt64})
	assert.Error(t, err)
}

func TestEncodeChunkHandlesNulls(t *testing.T) {
	c := chunkOf([]string{"a"}, [][]any{{int64(1)}, {nil}, {int64(3)}})
	raw, err := encodeChunk(c, []model.ColumnType{model.ColumnTypeInt64})
	require.NoError(t, err)
	assert.NotEmpty(t, raw)
}
