package deltawriter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lakehouse-go/deltawriter/memtracker"
	"github.com/lakehouse-go/deltawriter/model"
	"github.com/lakehouse-go/deltawriter/tablet"
)

func chunkOf(columns []string, rows [][]any) *model.Chunk {
	c := model.NewChunk(columns)
	for _, row := range rows {
		c.AppendRow(row)
	}
	return c
}

func TestOpenIsAllowedFromNonBlockingContext(t *testing.T) {
	e := newTestEngine(t)
	mgr := newRegisteredManager(t, 1, dupKeysSchema())
	w, err := e.NewDeltaWriterBuilder(mgr).
		TabletID(1).TxnID(1).IndexID(1).
		MemTracker(memtracker.New("t", 0, nil)).
		Build()
	require.NoError(t, err)

	ctx := NonBlockingContext(context.Background())
	assert.NoError(t, w.Open(ctx))
}

func TestWriteFromNonBlockingContextIsRejected(t *testing.T) {
	e := newTestEngine(t)
	mgr := newRegisteredManager(t, 1, dupKeysSchema())
	w, err := e.NewDeltaWriterBuilder(mgr).
		TabletID(1).TxnID(1).IndexID(1).
		MemTracker(memtracker.New("t", 0, nil)).
		Build()
	require.NoError(t, err)

	require.NoError(t, w.Open(context.Background()))

	nb := NonBlockingContext(context.Background())
	err = w.Write(nb, chunkOf([]string{"id", "v"}, [][]any{{int64(1), "a"}}), nil)
	assert.ErrorIs(t, err, ErrBlockingFromNonBlockingContext)
}

func TestFinishAndCloseFromNonBlockingContextAreRejected(t *testing.T) {
	e := newTestEngine(t)
	mgr := newRegisteredManager(t, 1, dupKeysSchema())
	w, err := e.NewDeltaWriterBuilder(mgr).
		TabletID(1).TxnID(1).IndexID(1).
		MemTracker(memtracker.New("t", 0, nil)).
		Build()
	require.NoError(t, err)
	require.NoError(t, w.Open(context.Background()))

	nb := NonBlockingContext(context.Background())
	assert.ErrorIs(t, w.Finish(nb, model.WriteTxnLog), ErrBlockingFromNonBlockingContext)
	assert.ErrorIs(t, w.Close(nb), ErrBlockingFromNonBlockingContext)
}

func TestFullInsertDuplicateKeysTabletTwoChunksOneFlush(t *testing.T) {
	e := newTestEngine(t)
	mgr := newRegisteredManager(t, 1, dupKeysSchema())
	w, err := e.NewDeltaWriterBuilder(mgr).
		TabletID(1).TxnID(1).IndexID(1).
		MemTracker(memtracker.New("t", 0, nil)).
		MaxBufferSize(1). // tiny: forces a flush on every insert
		Build()
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, w.Open(ctx))

	rows1 := make([][]any, 1000)
	for i := range rows1 {
		rows1[i] = []any{int64(i), "a"}
	}
	require.NoError(t, w.Write(ctx, chunkOf([]string{"id", "v"}, rows1), nil))

	rows2 := make([][]any, 1000)
	for i := range rows2 {
		rows2[i] = []any{int64(1000 + i), "b"}
	}
	require.NoError(t, w.Write(ctx, chunkOf([]string{"id", "v"}, rows2), nil))

	require.NoError(t, w.Finish(ctx, model.WriteTxnLog))
	assert.Equal(t, int64(2000), w.NumRows())
	assert.True(t, w.DataSize() > 0)

	require.NoError(t, w.Close(ctx))
}

func TestTranslateErrorMapsTabletNotFoundToErrNotFound(t *testing.T) {
	e := newTestEngine(t)
	mgr := tablet.NewManager() // empty: tablet 999 is never registered
	w, err := e.NewDeltaWriterBuilder(mgr).
		TabletID(999).TxnID(1).IndexID(1).
		MemTracker(memtracker.New("t", 0, nil)).
		Build()
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, w.Open(ctx))
	err = w.Write(ctx, chunkOf([]string{"id", "v"}, [][]any{{int64(1), "a"}}), nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPartialUpdateWithMergeConditionSurfacesAsNotSupported(t *testing.T) {
	e := newTestEngine(t)
	s := &model.TabletSchema{
		KeysType: model.PrimaryKeys,
		Columns: []model.Column{
			{UniqueID: 1, Name: "id", Type: model.ColumnTypeInt64, IsKey: true},
			{UniqueID: 2, Name: "a", Type: model.ColumnTypeInt64},
			{UniqueID: 3, Name: "b", Type: model.ColumnTypeInt64},
		},
	}
	mgr := newRegisteredManager(t, 1, s)
	w, err := e.NewDeltaWriterBuilder(mgr).
		TabletID(1).TxnID(1).IndexID(1).
		MemTracker(memtracker.New("t", 0, nil)).
		Slots([]string{"id", "a"}).
		MergeCondition("b").
		Build()
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, w.Open(ctx))
	require.NoError(t, w.Write(ctx, chunkOf([]string{"id", "a"}, [][]any{{int64(1), int64(2)}}), nil))
	assert.ErrorIs(t, w.Finish(ctx, model.WriteTxnLog), ErrNotSupported)
}

func TestCloseIsIdempotentThroughFacade(t *testing.T) {
	e := newTestEngine(t)
	mgr := newRegisteredManager(t, 1, dupKeysSchema())
	w, err := e.NewDeltaWriterBuilder(mgr).
		TabletID(1).TxnID(1).IndexID(1).
		MemTracker(memtracker.New("t", 0, nil)).
		Build()
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, w.Open(ctx))
	require.NoError(t, w.Close(ctx))
	require.NoError(t, w.Close(ctx))
}

func TestIOThreadsExposesSharedPool(t *testing.T) {
	e := newTestEngine(t)
	assert.NotNil(t, e.IOThreads())
}

func TestMemTrackerAccessorExposesWritersOwnTracker(t *testing.T) {
	e := newTestEngine(t)
	mgr := newRegisteredManager(t, 1, dupKeysSchema())
	tracker := memtracker.New("t", 0, nil)
	w, err := e.NewDeltaWriterBuilder(mgr).
		TabletID(1).TxnID(1).IndexID(1).
		MemTracker(tracker).
		Build()
	require.NoError(t, err)
	assert.Same(t, tracker, w.MemTracker())
}

func TestMetricsObserverRecordsFlushAndThroughput(t *testing.T) {
	e := newTestEngine(t)
	mgr := newRegisteredManager(t, 1, dupKeysSchema())
	metrics := &BasicMetricsObserver{}
	w, err := e.NewDeltaWriterBuilder(mgr).
		TabletID(1).TxnID(1).IndexID(1).
		MemTracker(memtracker.New("t", 0, nil)).
		Metrics(metrics).
		Build()
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, w.Open(ctx))
	require.NoError(t, w.Write(ctx, chunkOf([]string{"id", "v"}, [][]any{{int64(1), "a"}}), nil))
	require.NoError(t, w.Flush(ctx))

	assert.True(t, metrics.FlushCount.Load() > 0)
	assert.True(t, metrics.ThroughputBytes.Load() > 0)
}
