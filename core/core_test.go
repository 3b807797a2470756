package core

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lakehouse-go/deltawriter/blobstore"
	"github.com/lakehouse-go/deltawriter/flushtoken"
	"github.com/lakehouse-go/deltawriter/memtracker"
	"github.com/lakehouse-go/deltawriter/model"
	"github.com/lakehouse-go/deltawriter/schema"
	"github.com/lakehouse-go/deltawriter/tablet"
)

func dupKeysSchema() *model.TabletSchema {
	return &model.TabletSchema{
		KeysType: model.DupKeys,
		Columns: []model.Column{
			{UniqueID: 1, Name: "id", Type: model.ColumnTypeInt64, IsKey: true},
			{UniqueID: 2, Name: "v", Type: model.ColumnTypeString},
		},
	}
}

func pkSchema() *model.TabletSchema {
	return &model.TabletSchema{
		KeysType: model.PrimaryKeys,
		Columns: []model.Column{
			{UniqueID: 1, Name: "id", Type: model.ColumnTypeInt64, IsKey: true},
			{UniqueID: 2, Name: "v", Type: model.ColumnTypeInt64},
			{UniqueID: 3, Name: "w", Type: model.ColumnTypeInt64},
		},
	}
}

func newTestCore(t *testing.T, tabletSchema *model.TabletSchema, overrides func(*Params)) (*Core, *tablet.Manager, *tablet.Handle) {
	t.Helper()
	mgr := tablet.NewManager()
	handle := tablet.NewHandle(1, 10, tabletSchema, blobstore.NewMemoryStore())
	mgr.RegisterTablet(handle)

	pool := flushtoken.NewPool(2)
	t.Cleanup(pool.Close)

	params := Params{
		TabletManager: mgr,
		TabletID:      1,
		TxnID:         100,
		PartitionID:   5,
		IndexID:       10,
		MemTracker:    memtracker.New("test", 0, nil),
		Pool:          pool,
		Reconciler:    schema.New(),
		Allocator:     &fakeAllocator{next: 1},
		UpdateProbe:   &fakeProbe{},
	}
	if overrides != nil {
		overrides(&params)
	}
	return New(params), mgr, handle
}

type fakeAllocator struct {
	next int64
}

func (a *fakeAllocator) NextIDs(_ context.Context, _ model.TableID, count uint64) (int64, error) {
	first := a.next
	a.next += int64(count)
	return first, nil
}

type fakeProbe struct{}

func (fakeProbe) GetRSRowIDs(_ context.Context, _ int64, pks []model.PrimaryKey) ([]model.RSRowID, error) {
	out := make([]model.RSRowID, len(pks))
	for i := range out {
		out[i] = model.UnassignedRSRowID
	}
	return out, nil
}

func chunkOf(columns []string, rows [][]any) *model.Chunk {
	c := model.NewChunk(columns)
	for _, row := range rows {
		c.AppendRow(row)
	}
	return c
}

func TestWriteBeforeOpenFails(t *testing.T) {
	c, _, _ := newTestCore(t, dupKeysSchema(), nil)
	err := c.Write(context.Background(), chunkOf([]string{"id", "v"}, [][]any{{int64(1), "a"}}), nil)
	assert.ErrorIs(t, err, ErrInvalidStateTransition)
}

func TestOpenWriteFinishGeneralWriterCommitsTxnLog(t *testing.T) {
	ctx := context.Background()
	c, _, handle := newTestCore(t, dupKeysSchema(), nil)

	require.NoError(t, c.Open(ctx))
	require.NoError(t, c.Write(ctx, chunkOf([]string{"id", "v"}, [][]any{
		{int64(1), "a"},
		{int64(2), "b"},
	}), nil))
	require.NoError(t, c.Finish(ctx, model.WriteTxnLog))

	logs := handle.TxnLogs()
	require.Len(t, logs, 1)
	assert.Equal(t, model.TabletID(1), logs[0].TabletID)
	assert.Equal(t, model.TxnID(100), logs[0].TxnID)
	assert.Equal(t, int64(2), logs[0].OpWrite.Rowset.NumRows)
	assert.Len(t, logs[0].OpWrite.Rowset.Segments, 1)
	assert.False(t, logs[0].OpWrite.Rowset.Overlapped)
	assert.Nil(t, logs[0].OpWrite.TxnMeta)

	require.NoError(t, c.Close(ctx))
	assert.Equal(t, StateClosed, c.State())
}

func TestFinishWithDontWriteTxnLogSkipsCommit(t *testing.T) {
	ctx := context.Background()
	c, _, handle := newTestCore(t, dupKeysSchema(), nil)

	require.NoError(t, c.Open(ctx))
	require.NoError(t, c.Write(ctx, chunkOf([]string{"id", "v"}, [][]any{{int64(1), "a"}}), nil))
	require.NoError(t, c.Finish(ctx, model.DontWriteTxnLog))

	assert.Empty(t, handle.TxnLogs())
}

func TestFinishTwiceIsRejected(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newTestCore(t, dupKeysSchema(), nil)
	require.NoError(t, c.Open(ctx))
	require.NoError(t, c.Finish(ctx, model.WriteTxnLog))
	assert.ErrorIs(t, c.Finish(ctx, model.WriteTxnLog), ErrInvalidStateTransition)
}

func TestCloseIsIdempotent(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newTestCore(t, dupKeysSchema(), nil)
	require.NoError(t, c.Open(ctx))
	require.NoError(t, c.Close(ctx))
	require.NoError(t, c.Close(ctx))
	assert.Equal(t, StateClosed, c.State())
}

func TestWriteAfterCloseFails(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newTestCore(t, dupKeysSchema(), nil)
	require.NoError(t, c.Open(ctx))
	require.NoError(t, c.Close(ctx))
	err := c.Write(ctx, chunkOf([]string{"id", "v"}, [][]any{{int64(1), "a"}}), nil)
	assert.ErrorIs(t, err, ErrInvalidStateTransition)
}

func TestWriteMissingTabletFails(t *testing.T) {
	ctx := context.Background()
	mgr := tablet.NewManager()
	pool := flushtoken.NewPool(1)
	t.Cleanup(pool.Close)

	c := New(Params{
		TabletManager: mgr,
		TabletID:      999,
		TxnID:         1,
		IndexID:       1,
		MemTracker:    memtracker.New("test", 0, nil),
		Pool:          pool,
		Reconciler:    schema.New(),
	})
	require.NoError(t, c.Open(ctx))
	err := c.Write(ctx, chunkOf([]string{"id"}, [][]any{{int64(1)}}), nil)
	assert.ErrorIs(t, err, ErrTabletNotFound)
}

func TestPrimaryKeyPartialUpdateWithSortKeyRejectsUpsert(t *testing.T) {
	ctx := context.Background()
	ts := &model.TabletSchema{
		KeysType: model.PrimaryKeys,
		Columns: []model.Column{
			{UniqueID: 1, Name: "id", Type: model.ColumnTypeInt64, IsKey: true},
			{UniqueID: 2, Name: "v", Type: model.ColumnTypeInt64, IsSortKey: true},
			{UniqueID: 3, Name: "w", Type: model.ColumnTypeInt64},
		},
	}
	c, _, _ := newTestCore(t, ts, func(p *Params) {
		p.Slots = []string{"id", "w", model.OpColumnName}
	})
	require.NoError(t, c.Open(ctx))

	chunk := chunkOf([]string{"id", "w", model.OpColumnName}, [][]any{
		{int64(1), int64(9), model.OpUpsert},
	})
	err := c.Write(ctx, chunk, nil)
	assert.ErrorIs(t, err, schema.ErrSortKeyPartialUpdateWrite)
}

func TestPrimaryKeyPartialUpdateWithSortKeyAllowsDeleteOnly(t *testing.T) {
	ctx := context.Background()
	ts := &model.TabletSchema{
		KeysType: model.PrimaryKeys,
		Columns: []model.Column{
			{UniqueID: 1, Name: "id", Type: model.ColumnTypeInt64, IsKey: true},
			{UniqueID: 2, Name: "v", Type: model.ColumnTypeInt64, IsSortKey: true},
			{UniqueID: 3, Name: "w", Type: model.ColumnTypeInt64},
		},
	}
	c, _, handle := newTestCore(t, ts, func(p *Params) {
		p.Slots = []string{"id", "w", model.OpColumnName}
	})
	require.NoError(t, c.Open(ctx))

	chunk := chunkOf([]string{"id", "w", model.OpColumnName}, [][]any{
		{int64(1), int64(9), model.OpDelete},
	})
	require.NoError(t, c.Write(ctx, chunk, nil))
	require.NoError(t, c.Finish(ctx, model.WriteTxnLog))

	logs := handle.TxnLogs()
	require.Len(t, logs, 1)
	require.NotNil(t, logs[0].OpWrite.TxnMeta)
	assert.Len(t, logs[0].OpWrite.RewriteSegments, len(logs[0].OpWrite.Rowset.Segments))
}

func TestPrimaryKeyFullWriteWithMergeConditionRecordsIt(t *testing.T) {
	ctx := context.Background()
	c, _, handle := newTestCore(t, pkSchema(), func(p *Params) {
		p.MergeCondition = "w"
	})
	require.NoError(t, c.Open(ctx))
	require.NoError(t, c.Write(ctx, chunkOf([]string{"id", "v", "w"}, [][]any{
		{int64(1), int64(2), int64(3)},
	}), nil))
	require.NoError(t, c.Finish(ctx, model.WriteTxnLog))

	logs := handle.TxnLogs()
	require.Len(t, logs, 1)
	require.NotNil(t, logs[0].OpWrite.TxnMeta)
	assert.Equal(t, "w", logs[0].OpWrite.TxnMeta.MergeCondition)
}

func TestPartialUpdateWithMergeConditionIsRejected(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newTestCore(t, pkSchema(), func(p *Params) {
		p.Slots = []string{"id", "w"}
		p.MergeCondition = "w"
	})
	require.NoError(t, c.Open(ctx))
	require.NoError(t, c.Write(ctx, chunkOf([]string{"id", "w"}, [][]any{
		{int64(1), int64(3)},
	}), nil))
	err := c.Finish(ctx, model.WriteTxnLog)
	assert.ErrorIs(t, err, ErrNotSupported)
}

func TestAutoIncrementFillingOnPartialUpdate(t *testing.T) {
	ctx := context.Background()
	ts := &model.TabletSchema{
		KeysType: model.PrimaryKeys,
		Columns: []model.Column{
			{UniqueID: 1, Name: "id", Type: model.ColumnTypeInt64, IsKey: true},
			{UniqueID: 2, Name: "gen_id", Type: model.ColumnTypeInt64, IsAutoIncrement: true},
			{UniqueID: 3, Name: "w", Type: model.ColumnTypeInt64},
		},
	}
	alloc := &fakeAllocator{next: 500}
	c, _, handle := newTestCore(t, ts, func(p *Params) {
		p.Slots = []string{"id", "w"}
		p.MissAutoIncrementColumn = true
		p.TableID = 42
		p.Allocator = alloc
	})
	require.NoError(t, c.Open(ctx))
	require.NoError(t, c.Write(ctx, chunkOf([]string{"id", "w"}, [][]any{
		{int64(1), int64(9)},
		{int64(2), int64(8)},
	}), nil))
	require.NoError(t, c.Finish(ctx, model.WriteTxnLog))

	logs := handle.TxnLogs()
	require.Len(t, logs, 1)
	require.NotNil(t, logs[0].OpWrite.TxnMeta)
	assert.True(t, logs[0].OpWrite.TxnMeta.HasAutoIncrementPartialUpdateColumnID)
	// gen_id is appended after id and w in the write schema, since the
	// caller's slots omitted it — see Reconcile's missAutoIncrementColumn
	// handling.
	assert.Equal(t, int32(2), logs[0].OpWrite.TxnMeta.AutoIncrementPartialUpdateColumnID)
	assert.NotEmpty(t, logs[0].OpWrite.RewriteSegments)
}

// TestAutoIncrementPartialUpdateWithOpColumnKeepsColumnsAligned covers §8
// scenario 5: slots (id, v, "__op") with miss_auto_increment_column=true.
// The write schema becomes [id, v, gen_id] (gen_id appended by Reconcile),
// so the memtable's buffer schema is [id, v, gen_id, __op] — gen_id sits
// in the middle, not at the end, relative to the caller's physical chunk
// [id, v, __op]. A positional Append would splice the op bytes into
// gen_id and leave __op nil, silently turning every delete into an
// upsert. This asserts both columns land correctly and the delete row is
// actually routed as a delete.
func TestAutoIncrementPartialUpdateWithOpColumnKeepsColumnsAligned(t *testing.T) {
	ctx := context.Background()
	ts := &model.TabletSchema{
		KeysType: model.PrimaryKeys,
		Columns: []model.Column{
			{UniqueID: 1, Name: "id", Type: model.ColumnTypeInt64, IsKey: true},
			{UniqueID: 2, Name: "v", Type: model.ColumnTypeInt64},
			{UniqueID: 3, Name: "gen_id", Type: model.ColumnTypeInt64, IsAutoIncrement: true},
		},
	}
	alloc := &fakeAllocator{next: 700}
	c, _, handle := newTestCore(t, ts, func(p *Params) {
		p.Slots = []string{"id", "v", model.OpColumnName}
		p.MissAutoIncrementColumn = true
		p.TableID = 42
		p.Allocator = alloc
	})
	require.NoError(t, c.Open(ctx))
	require.NoError(t, c.Write(ctx, chunkOf([]string{"id", "v", model.OpColumnName}, [][]any{
		{int64(1), int64(9), model.OpUpsert},
		{int64(2), int64(8), model.OpDelete},
	}), nil))
	require.NoError(t, c.Finish(ctx, model.WriteTxnLog))

	logs := handle.TxnLogs()
	require.Len(t, logs, 1)
	// The delete row must have been routed to the delete file, not
	// silently turned into an upsert by a misaligned op column.
	assert.Len(t, logs[0].OpWrite.Dels, 1)
	assert.Len(t, logs[0].OpWrite.RewriteSegments, len(logs[0].OpWrite.Rowset.Segments))
	require.NotNil(t, logs[0].OpWrite.TxnMeta)
	assert.True(t, logs[0].OpWrite.TxnMeta.HasAutoIncrementPartialUpdateColumnID)
	// gen_id is appended after id and v in the write schema.
	assert.Equal(t, int32(2), logs[0].OpWrite.TxnMeta.AutoIncrementPartialUpdateColumnID)
}

func TestSyncFlushOnMemTrackerLimitExceeded(t *testing.T) {
	ctx := context.Background()
	c, _, handle := newTestCore(t, dupKeysSchema(), func(p *Params) {
		p.MemTracker = memtracker.New("test", 1, nil) // tiny limit, trips immediately
	})
	require.NoError(t, c.Open(ctx))
	require.NoError(t, c.Write(ctx, chunkOf([]string{"id", "v"}, [][]any{{int64(1), "a"}}), nil))

	// A synchronous flush already ran inline; the tablet writer should
	// have produced a segment without an explicit Flush() call.
	assert.Greater(t, c.DataSize(), int64(0))
	assert.Zero(t, c.QueueingMemtableNum())

	require.NoError(t, c.Finish(ctx, model.DontWriteTxnLog))
	_ = handle
}

func TestImmutableAdmissionTripsOnCumulativeSize(t *testing.T) {
	ctx := context.Background()
	c, _, handle := newTestCore(t, dupKeysSchema(), func(p *Params) {
		p.ImmutableTabletSize = 1
	})
	require.NoError(t, c.Open(ctx))
	assert.False(t, c.IsImmutable())

	require.NoError(t, c.Write(ctx, chunkOf([]string{"id", "v"}, [][]any{{int64(1), "a"}}), nil))
	require.NoError(t, c.Flush(ctx))

	assert.True(t, c.IsImmutable())
	_ = handle
}

func TestCheckImmutableRefreshesWithoutFlush(t *testing.T) {
	ctx := context.Background()
	c, _, handle := newTestCore(t, dupKeysSchema(), func(p *Params) {
		p.ImmutableTabletSize = 1
	})
	require.NoError(t, c.Open(ctx))
	handle.SetDataSize(100)

	assert.False(t, c.IsImmutable())
	c.CheckImmutable()
	assert.True(t, c.IsImmutable())
}

func TestCloseRemovesInWritingSizeWhenImmutableTrackingEnabled(t *testing.T) {
	ctx := context.Background()
	c, mgr, _ := newTestCore(t, dupKeysSchema(), func(p *Params) {
		p.ImmutableTabletSize = 1_000_000
	})
	require.NoError(t, c.Open(ctx))
	require.NoError(t, c.Write(ctx, chunkOf([]string{"id", "v"}, [][]any{{int64(1), "a"}}), nil))
	require.NoError(t, c.Flush(ctx))
	assert.Greater(t, mgr.InWritingDataSize(1, 100), int64(0))

	require.NoError(t, c.Close(ctx))
	assert.Zero(t, mgr.InWritingDataSize(1, 100))
}

func TestObserversBeforeWriterBuiltReportZeroValues(t *testing.T) {
	c, _, _ := newTestCore(t, dupKeysSchema(), nil)
	assert.Equal(t, model.PartitionID(5), c.PartitionID())
	assert.Equal(t, model.TabletID(1), c.TabletID())
	assert.Equal(t, model.TxnID(100), c.TxnID())
	assert.Zero(t, c.DataSize())
	assert.Zero(t, c.NumRows())
	assert.Nil(t, c.Files())
	assert.Zero(t, c.QueueingMemtableNum())
	assert.Zero(t, c.LastWriteTS())
}

func TestEmptyWriterFinishEmitsEmptyRowset(t *testing.T) {
	ctx := context.Background()
	c, _, handle := newTestCore(t, dupKeysSchema(), nil)
	require.NoError(t, c.Open(ctx))
	require.NoError(t, c.Finish(ctx, model.WriteTxnLog))

	logs := handle.TxnLogs()
	require.Len(t, logs, 1)
	assert.Zero(t, logs[0].OpWrite.Rowset.NumRows)
	assert.Empty(t, logs[0].OpWrite.Rowset.Segments)
}

func TestFlushSurfacesStorageFaultFromSegmentUpload(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewFaultyStore(blobstore.NewMemoryStore())
	store.AddRule(".dat", blobstore.Fault{FailOnCreate: true})

	mgr := tablet.NewManager()
	handle := tablet.NewHandle(1, 10, dupKeysSchema(), store)
	mgr.RegisterTablet(handle)

	pool := flushtoken.NewPool(2)
	t.Cleanup(pool.Close)

	c := New(Params{
		TabletManager: mgr,
		TabletID:      1,
		TxnID:         100,
		IndexID:       10,
		MemTracker:    memtracker.New("test", 0, nil),
		Pool:          pool,
		Reconciler:    schema.New(),
	})

	require.NoError(t, c.Open(ctx))
	require.NoError(t, c.Write(ctx, chunkOf([]string{"id", "v"}, [][]any{{int64(1), "a"}}), nil))
	assert.Error(t, c.Flush(ctx))
}
