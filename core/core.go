package core

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lakehouse-go/deltawriter/autoincrement"
	"github.com/lakehouse-go/deltawriter/flushtoken"
	"github.com/lakehouse-go/deltawriter/memtable"
	"github.com/lakehouse-go/deltawriter/memtracker"
	"github.com/lakehouse-go/deltawriter/model"
	"github.com/lakehouse-go/deltawriter/schema"
	"github.com/lakehouse-go/deltawriter/tablet"
	"github.com/lakehouse-go/deltawriter/tabletwriter"
)

// Params are the validated, immutable inputs a Core is built from. The
// façade's builder (§6) is responsible for validating required fields
// before constructing Params; Core itself assumes they are already
// well-formed.
type Params struct {
	TabletManager *tablet.Manager
	TabletID      model.TabletID
	TxnID         model.TxnID
	PartitionID   model.PartitionID
	TableID       model.TableID
	IndexID       model.IndexID

	MemTracker *memtracker.Tracker

	// Slots are the caller-requested write-column names, optionally
	// ending in the synthetic "__op" pseudo-column. Empty means "every
	// tablet-schema column" (a full write).
	Slots                   []string
	MergeCondition          string
	MissAutoIncrementColumn bool

	// ImmutableTabletSize, MaxBufferSize and Codec default to the
	// engine-wide values the façade's Config/Option layer (§2A)
	// supplies; Core treats zero as "already resolved by the caller."
	ImmutableTabletSize int64
	MaxBufferSize       int64
	Codec               tabletwriter.Codec

	Pool        *flushtoken.Pool
	Reconciler  *schema.Reconciler
	Allocator   autoincrement.Allocator
	UpdateProbe autoincrement.UpdateStateProbe
	// Preloader warms the update-state cache after commit (§4.7 step
	// 8). Optional; a nil Preloader skips the step.
	Preloader Preloader

	Logger Logger
}

// Preloader mirrors update_mgr.preload_update_state: a best-effort,
// primary-key-only cache warm-up invoked after a txn log is built but
// before it is committed. Failures are tolerated by design (§4.7 step
// 8) — Core logs them and proceeds to commit regardless.
type Preloader interface {
	Preload(ctx context.Context, log model.TxnLog) error
}

// Core is the delta writer's orchestration layer: §4.2-§4.9 in full.
// The public façade package wraps one Core per writer, adding the
// thread-affinity precondition checks and the stable public error
// contract.
type Core struct {
	p  Params
	sm *stateMachine

	mu           sync.Mutex
	tabletHandle *tablet.Handle
	reconcile    schema.Result
	writer       tabletwriter.Writer
	sink         memtable.Sink
	mt           *memtable.Memtable
	token        *flushtoken.Token

	lastWriteTS atomic.Int64
	isImmutable atomic.Bool

	logger Logger
}

// New creates a Core in state New. It performs no I/O.
func New(p Params) *Core {
	if p.Logger == nil {
		p.Logger = NoopLogger
	}
	return &Core{p: p, sm: newStateMachine(), logger: p.Logger}
}

// Open creates the writer's flush token and transitions New -> Open.
// Per §5, open() must not perform I/O: the tablet writer and schema are
// built lazily on first Write or Finish (§4.2).
func (c *Core) Open(_ context.Context) error {
	if err := c.sm.open(); err != nil {
		return err
	}
	c.mu.Lock()
	c.token = flushtoken.New(c.p.Pool)
	c.mu.Unlock()
	return nil
}

// ensureBuilt implements §4.2. It mirrors the reference split between
// build_schema_and_writer() (build-once: tablet handle lookup, schema
// reconciliation, tablet writer construction) and reset_memtable()
// (rebuilt on every call where the current memtable is nil — once per
// flush cycle, not once per Core). The two are guarded independently:
// c.writer == nil gates the build-once half, c.mt == nil gates the
// per-cycle half. An earlier version guarded both together on c.mt ==
// nil, which meant every post-flush Write or Finish fell through and
// constructed a brand-new tablet writer on top of the tablet's
// already-flushed segments, discarding them — any writer that flushed
// more than once kept only its last memtable's segment.
func (c *Core) ensureBuilt(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.writer == nil {
		handle, ok := c.p.TabletManager.GetTablet(c.p.TabletID)
		if !ok {
			return fmt.Errorf("%w: tablet %d", ErrTabletNotFound, c.p.TabletID)
		}
		c.tabletHandle = handle

		tabletSchema, err := c.p.Reconciler.LoadTabletSchema(c.p.TabletID, c.p.IndexID, handle)
		if err != nil {
			return err
		}

		result, err := schema.Reconcile(tabletSchema, c.p.Slots, c.p.MissAutoIncrementColumn)
		if err != nil {
			return err
		}
		c.reconcile = result

		cfg := tabletwriter.Config{
			ColumnTypes: columnTypes(result.WriteSchema),
			Codec:       c.p.Codec,
		}

		var writer tabletwriter.Writer
		if tabletSchema.KeysType == model.PrimaryKeys {
			writer = tabletwriter.NewPrimaryKeyWriter(handle.Store(), c.p.TabletID, c.p.TxnID, cfg, result.IsPartialUpdate)
		} else {
			writer = tabletwriter.NewGeneralWriter(handle.Store(), c.p.TabletID, c.p.TxnID, cfg)
		}
		if err := writer.Open(ctx); err != nil {
			return fmt.Errorf("%w: open tablet writer: %v", ErrInternal, err)
		}
		c.writer = writer
		c.sink = memtable.NewTabletWriterSink(writer)
	}

	if c.mt == nil {
		keyColumns := 0
		if c.reconcile.TabletSchema.KeysType == model.PrimaryKeys {
			keyColumns = c.reconcile.WriteSchema.NumKeyColumns()
		}
		// The memtable schema mirrors the write schema but, per §4.2,
		// may additionally carry the synthetic "__op" column the
		// caller declared a trailing slot for; Memtable.SplitByOp
		// strips it again before data ever reaches the tablet writer.
		memColumnNames := columnNames(c.reconcile.WriteSchema)
		memColumnTypes := columnTypes(c.reconcile.WriteSchema)
		if hasOpColumn(c.p.Slots) {
			memColumnNames = append(memColumnNames, model.OpColumnName)
			memColumnTypes = append(memColumnTypes, model.ColumnTypeInt32)
		}
		c.mt = memtable.New(memColumnNames, memColumnTypes, keyColumns, c.p.MaxBufferSize)
	}
	return nil
}

func hasOpColumn(slots []string) bool {
	return len(slots) > 0 && slots[len(slots)-1] == model.OpColumnName
}

func columnNames(s *model.TabletSchema) []string {
	names := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		names[i] = c.Name
	}
	return names
}

func columnTypes(s *model.TabletSchema) []model.ColumnType {
	types := make([]model.ColumnType, len(s.Columns))
	for i, c := range s.Columns {
		types[i] = c.Type
	}
	return types
}

// Write implements §4.3.
func (c *Core) Write(ctx context.Context, chunk *model.Chunk, indexes []uint32) error {
	if err := c.sm.write(); err != nil {
		return err
	}
	if err := c.ensureBuilt(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	reconcile := c.reconcile
	c.mu.Unlock()
	if err := schema.CheckPartialUpdateWithSortKey(reconcile, chunk); err != nil {
		return err
	}

	c.lastWriteTS.Store(time.Now().Unix())

	c.mu.Lock()
	before := c.mt.BufferedSize()
	full := c.mt.Insert(chunk, indexes)
	added := c.mt.BufferedSize() - before
	c.mu.Unlock()
	c.p.MemTracker.Consume(added)

	switch {
	case c.p.MemTracker.LimitExceeded():
		return c.Flush(ctx)
	case c.p.MemTracker.Parent() != nil && c.p.MemTracker.Parent().LimitExceeded():
		return c.Flush(ctx)
	case full:
		return c.FlushAsync(ctx)
	default:
		return nil
	}
}

// FlushAsync implements §4.4's flush_async(): finalize, fill auto-
// increment ids if needed, and submit to the flush token without
// waiting for completion.
func (c *Core) FlushAsync(ctx context.Context) error {
	if err := c.sm.beginFlush(); err != nil {
		return err
	}
	defer c.sm.endFlush()
	return c.flushAsync(ctx)
}

// flushAsync is FlushAsync's body, factored out so Finish can drain
// pending flushes without going through the state machine a second
// time — finish() has already transitioned to Finished by the time it
// needs to flush, and Finished is not among beginFlush's permitted
// source states.
func (c *Core) flushAsync(ctx context.Context) error {
	c.mu.Lock()
	mt := c.mt
	sink := c.sink
	reconcile := c.reconcile
	token := c.token
	c.mu.Unlock()

	if mt == nil {
		return nil
	}

	result := mt.Finalize()
	if c.p.MissAutoIncrementColumn && result != nil && result.NumRows() > 0 {
		var metadata *model.TabletMetadataSnapshot
		var metadataOK bool
		if c.tabletHandle != nil {
			metadata, metadataOK = c.tabletHandle.LatestMetadata()
		}
		if err := autoincrement.Fill(ctx, reconcile.WriteSchema, result, c.p.TableID, metadata, metadataOK, c.p.UpdateProbe, c.p.Allocator); err != nil {
			return fmt.Errorf("%w: %w", ErrInternal, err)
		}
	}

	submitErr := token.Submit(ctx, func() error {
		// Read dataSizeBefore here, not on the caller's goroutine before
		// Submit: the token's FIFO chaining only guarantees this task
		// runs after its predecessor completes, not that it starts
		// before a second back-to-back async flush submits. Capturing
		// it outside the closure made the second of two back-to-back
		// async flushes see a stale (too-small) "before" size and
		// double-count the first flush's bytes into the in-writing
		// total.
		dataSizeBefore := c.writer.DataSize()
		upserts, deletes := mt.SplitByOp()
		if err := sink.FlushChunkWithDeletes(ctx, upserts, deletes); err != nil {
			return err
		}
		added := c.writer.DataSize() - dataSizeBefore
		if added > 0 {
			if err := c.p.Pool.Throttle(ctx, int(added)); err != nil {
				return err
			}
		}
		c.onSegmentFlushed(dataSizeBefore)
		return nil
	})
	if submitErr != nil {
		return submitErr
	}

	// The memtable's buffered bytes were consumed from MemTracker one
	// Write at a time (core.go, Write); releasing them here, once, when
	// the memtable this memory belonged to is actually dropped, is what
	// makes Consumption() track live buffer occupancy instead of
	// growing monotonically across the writer's lifetime. Without this,
	// a writer that flushes repeatedly eventually trips LimitExceeded
	// permanently and (via a shared parent tracker) starves siblings
	// that are already flushing fine.
	released := mt.BufferedSize()

	c.mu.Lock()
	c.mt = nil
	c.mu.Unlock()
	c.p.MemTracker.Release(released)
	c.lastWriteTS.Store(0)
	return nil
}

// onSegmentFlushed implements §4.4 step 4's on_segment callback. It
// runs on a flush-pool goroutine, so every error path is logged and
// swallowed rather than propagated.
func (c *Core) onSegmentFlushed(dataSizeBefore int64) {
	added := c.writer.DataSize() - dataSizeBefore
	if added <= 0 {
		return
	}
	inWriting := c.p.TabletManager.AddInWritingDataSize(c.p.TabletID, c.p.TxnID, added)

	if c.p.ImmutableTabletSize <= 0 {
		return
	}
	handle, ok := c.p.TabletManager.GetTablet(c.p.TabletID)
	if !ok {
		c.logger.Errorf("flush callback: tablet %d not found, skipping immutable check", c.p.TabletID)
		return
	}
	if handle.DataSize()+inWriting > c.p.ImmutableTabletSize {
		c.isImmutable.Store(true)
	}
}

// Flush implements §4.4's flush() = flush_async() + flush_token.wait().
func (c *Core) Flush(ctx context.Context) error {
	if err := c.sm.beginFlush(); err != nil {
		return err
	}
	defer c.sm.endFlush()
	return c.flush(ctx)
}

// flush is Flush's body, factored out for the same reason as
// flushAsync: Finish drains pending flushes after it has already
// transitioned past the states beginFlush permits.
func (c *Core) flush(ctx context.Context) error {
	if err := c.flushAsync(ctx); err != nil {
		return err
	}
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()
	return token.Wait()
}

// CheckImmutable implements §4.5's out-of-band refresh: re-reads the
// tablet's current size without flushing.
func (c *Core) CheckImmutable() {
	if c.p.ImmutableTabletSize <= 0 {
		return
	}
	handle, ok := c.p.TabletManager.GetTablet(c.p.TabletID)
	if !ok {
		return
	}
	inWriting := c.p.TabletManager.InWritingDataSize(c.p.TabletID, c.p.TxnID)
	if handle.DataSize()+inWriting > c.p.ImmutableTabletSize {
		c.isImmutable.Store(true)
	}
}

// IsImmutable reports the advisory immutable flag (§4.5), relaxed
// ordering: an atomic.Bool load is as strong as Go's memory model gets
// without an explicit fence, which is all the spec requires of it.
func (c *Core) IsImmutable() bool { return c.isImmutable.Load() }

// Finish implements §4.7.
func (c *Core) Finish(ctx context.Context, mode model.FinishMode) error {
	if err := c.sm.finish(); err != nil {
		return err
	}
	if err := c.ensureBuilt(ctx); err != nil {
		return err
	}
	if err := c.flush(ctx); err != nil {
		return err
	}
	if err := c.writer.Finish(ctx); err != nil {
		return fmt.Errorf("%w: finish tablet writer: %v", ErrInternal, err)
	}

	if mode == model.DontWriteTxnLog {
		return nil
	}
	if c.p.TxnID < 0 {
		return fmt.Errorf("%w: txn id %d must be non-negative", ErrInvalidArgument, c.p.TxnID)
	}

	c.mu.Lock()
	reconcile := c.reconcile
	writer := c.writer
	c.mu.Unlock()

	var segments, dels []string
	for _, f := range writer.Files() {
		isSegment, isDel, err := tabletwriter.ClassifyFile(f)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInternal, err)
		}
		if isSegment {
			segments = append(segments, f)
		}
		if isDel {
			dels = append(dels, f)
		}
	}

	if reconcile.IsPartialUpdate && c.p.MergeCondition != "" {
		return fmt.Errorf("%w: partial update with non-empty merge condition", ErrNotSupported)
	}

	opWrite := model.OpWrite{
		Rowset: model.Rowset{
			Segments:   segments,
			NumRows:    writer.NumRows(),
			DataSize:   writer.DataSize(),
			Overlapped: len(segments) > 1,
		},
		Dels: dels,
	}

	if meta, ok := writer.RowsetTxnMeta(); ok {
		var rewriteNames []string
		if reconcile.IsPartialUpdate {
			for _, tabletColID := range reconcile.WriteColumnIDs {
				meta.PartialUpdateColumnIDs = append(meta.PartialUpdateColumnIDs, int32(tabletColID))
				meta.PartialUpdateColumnUniqueIDs = append(meta.PartialUpdateColumnUniqueIDs, reconcile.TabletSchema.Column(tabletColID).UniqueID)
			}
			rewriteNames = tabletwriter.GenerateRewriteSegmentNames(c.p.TxnID, len(segments))
		}
		if c.p.MergeCondition != "" {
			meta.MergeCondition = c.p.MergeCondition
		}
		if c.p.MissAutoIncrementColumn {
			for i, wc := range reconcile.WriteSchema.Columns {
				if wc.IsAutoIncrement {
					meta.AutoIncrementPartialUpdateColumnID = int32(i)
					meta.HasAutoIncrementPartialUpdateColumnID = true
					break
				}
			}
			if rewriteNames == nil {
				rewriteNames = tabletwriter.GenerateRewriteSegmentNames(c.p.TxnID, len(segments))
			}
		}
		opWrite.TxnMeta = meta
		opWrite.RewriteSegments = rewriteNames
	}

	txnLog := model.TxnLog{
		TabletID: c.p.TabletID,
		TxnID:    c.p.TxnID,
		OpWrite:  opWrite,
	}

	if reconcile.TabletSchema.KeysType == model.PrimaryKeys && c.p.Preloader != nil {
		if err := c.p.Preloader.Preload(ctx, txnLog); err != nil {
			c.logger.Warnf("finish: preload update state for tablet %d failed (tolerated): %v", c.p.TabletID, err)
		}
	}

	c.mu.Lock()
	handle := c.tabletHandle
	c.mu.Unlock()
	return handle.PutTxnLog(ctx, txnLog)
}

// Close implements §4.8: idempotent, drains the flush token without
// propagating a wait failure, releases held collaborators, and removes
// the in-writing-size entry if immutable tracking was enabled.
func (c *Core) Close(ctx context.Context) error {
	if !c.sm.close() {
		return nil
	}

	c.mu.Lock()
	token := c.token
	writer := c.writer
	c.mu.Unlock()

	if token != nil {
		if err := token.Wait(); err != nil {
			c.logger.Warnf("close: flush token wait for tablet %d txn %d failed (tolerated): %v", c.p.TabletID, c.p.TxnID, err)
		}
	}
	if writer != nil {
		if err := writer.Finish(ctx); err != nil {
			c.logger.Warnf("close: finish tablet writer for tablet %d failed (tolerated): %v", c.p.TabletID, err)
		}
	}

	c.mu.Lock()
	c.writer = nil
	c.mt = nil
	c.sink = nil
	if c.token != nil {
		c.token.Close()
	}
	c.token = nil
	c.reconcile = schema.Result{}
	c.p.MergeCondition = ""
	c.mu.Unlock()

	if c.p.ImmutableTabletSize > 0 {
		c.p.TabletManager.RemoveInWritingDataSize(c.p.TabletID, c.p.TxnID)
	}
	return nil
}

// Observers, §6.

func (c *Core) PartitionID() model.PartitionID { return c.p.PartitionID }
func (c *Core) TabletID() model.TabletID       { return c.p.TabletID }
func (c *Core) TxnID() model.TxnID             { return c.p.TxnID }
func (c *Core) LastWriteTS() int64             { return c.lastWriteTS.Load() }
func (c *Core) State() State                   { return c.sm.current() }

func (c *Core) Files() []string {
	c.mu.Lock()
	writer := c.writer
	c.mu.Unlock()
	if writer == nil {
		return nil
	}
	return writer.Files()
}

func (c *Core) DataSize() int64 {
	c.mu.Lock()
	writer := c.writer
	c.mu.Unlock()
	if writer == nil {
		return 0
	}
	return writer.DataSize()
}

func (c *Core) NumRows() int64 {
	c.mu.Lock()
	writer := c.writer
	c.mu.Unlock()
	if writer == nil {
		return 0
	}
	return writer.NumRows()
}

func (c *Core) QueueingMemtableNum() int {
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()
	if token == nil {
		return 0
	}
	return token.QueueingMemtableNum()
}

// MemTracker exposes the writer's memory tracker for inspection by the
// façade's supplemented observers (§10).
func (c *Core) MemTracker() *memtracker.Tracker { return c.p.MemTracker }
