package deltawriter

import (
	"context"
	"time"

	"github.com/lakehouse-go/deltawriter/core"
	"github.com/lakehouse-go/deltawriter/flushtoken"
	"github.com/lakehouse-go/deltawriter/memtracker"
	"github.com/lakehouse-go/deltawriter/model"
)

// DeltaWriter coordinates writes to one tablet partition within one
// transaction (§1). Build one with an Engine's
// DeltaWriterBuilder. DeltaWriter wraps a core.Core, adding the
// thread-affinity precondition checks of §5 and translating internal
// errors into the stable public contract of §7.
type DeltaWriter struct {
	core    *core.Core
	logger  *Logger
	metrics MetricsObserver
}

// Open transitions the writer from New to Open and creates its flush
// token. Per §5, Open performs no I/O and may be called from a
// non-blocking execution context.
func (w *DeltaWriter) Open(ctx context.Context) error {
	return translateError(w.core.Open(ctx))
}

// Write buffers chunk's rows (optionally reordered/filtered by
// indexes) into the writer's memtable, then flushes synchronously if
// the memory tracker's limit is exceeded after the insert, or
// asynchronously if the memtable is full (§4.3). Must be called from a
// blocking execution context.
func (w *DeltaWriter) Write(ctx context.Context, chunk *model.Chunk, indexes []uint32) error {
	if err := AssertBlockingAllowed(ctx); err != nil {
		return err
	}
	start := time.Now()
	before := w.core.DataSize()
	err := translateError(w.core.Write(ctx, chunk, indexes))
	w.metrics.OnThroughput("write", w.core.DataSize()-before)
	if err != nil {
		w.logger.Errorf("write: tablet %d txn %d failed after %s: %v", w.core.TabletID(), w.core.TxnID(), time.Since(start), err)
	}
	return err
}

// FlushAsync finalizes the current memtable and submits it to the
// flush token without waiting for completion (§4.4). Must be called
// from a blocking execution context.
func (w *DeltaWriter) FlushAsync(ctx context.Context) error {
	if err := AssertBlockingAllowed(ctx); err != nil {
		return err
	}
	rows := w.core.NumRows()
	start := time.Now()
	err := translateError(w.core.FlushAsync(ctx))
	w.metrics.OnFlush(time.Since(start), w.core.NumRows()-rows, err)
	return err
}

// Flush is FlushAsync followed by a wait for the submitted flush to
// complete (§4.4). Must be called from a blocking execution context.
func (w *DeltaWriter) Flush(ctx context.Context) error {
	if err := AssertBlockingAllowed(ctx); err != nil {
		return err
	}
	rows := w.core.NumRows()
	before := w.core.DataSize()
	start := time.Now()
	err := translateError(w.core.Flush(ctx))
	w.metrics.OnFlush(time.Since(start), w.core.NumRows()-rows, err)
	w.metrics.OnThroughput("flush", w.core.DataSize()-before)
	if w.core.IsImmutable() {
		w.metrics.OnImmutableTrip(uint64(w.core.TabletID()))
	}
	return err
}

// CheckImmutable re-reads the tablet's current size and refreshes the
// advisory immutable flag without flushing (§4.5). Safe to call from
// any execution context — it performs no blocking I/O of its own
// beyond a tablet-manager map lookup.
func (w *DeltaWriter) CheckImmutable() {
	w.core.CheckImmutable()
	if w.core.IsImmutable() {
		w.metrics.OnImmutableTrip(uint64(w.core.TabletID()))
	}
}

// IsImmutable reports the advisory immutable flag (§4.5).
func (w *DeltaWriter) IsImmutable() bool { return w.core.IsImmutable() }

// Finish drains pending flushes, finalizes the tablet writer, and,
// unless mode is DontWriteTxnLog, commits a TxnLog (§4.7). Not
// idempotent: re-entry yields undefined behavior (§7). Must be called
// from a blocking execution context.
func (w *DeltaWriter) Finish(ctx context.Context, mode model.FinishMode) error {
	if err := AssertBlockingAllowed(ctx); err != nil {
		return err
	}
	return translateError(w.core.Finish(ctx, mode))
}

// Close releases the writer's collaborators (§4.8). Idempotent: a
// second call is a no-op. Must be called from a blocking execution
// context.
func (w *DeltaWriter) Close(ctx context.Context) error {
	if err := AssertBlockingAllowed(ctx); err != nil {
		return err
	}
	return translateError(w.core.Close(ctx))
}

// Observers, §6.

func (w *DeltaWriter) PartitionID() model.PartitionID { return w.core.PartitionID() }
func (w *DeltaWriter) TabletID() model.TabletID        { return w.core.TabletID() }
func (w *DeltaWriter) TxnID() model.TxnID              { return w.core.TxnID() }
func (w *DeltaWriter) Files() []string                 { return w.core.Files() }
func (w *DeltaWriter) DataSize() int64                 { return w.core.DataSize() }
func (w *DeltaWriter) NumRows() int64                  { return w.core.NumRows() }
func (w *DeltaWriter) QueueingMemtableNum() int         { return w.core.QueueingMemtableNum() }
func (w *DeltaWriter) LastWriteTS() int64              { return w.core.LastWriteTS() }
func (w *DeltaWriter) State() core.State               { return w.core.State() }

// MemTracker exposes the writer's own memory tracker for diagnostics,
// per §10's supplemented mem_tracker() accessor.
func (w *DeltaWriter) MemTracker() *memtracker.Tracker { return w.core.MemTracker() }

// IOThreads exposes the shared flush pool's underlying worker-pool
// handle, per §10's supplemented io_threads() accessor, so callers that
// want to submit unrelated background I/O can reuse the same pool
// rather than spinning up another one.
func (e *Engine) IOThreads() *flushtoken.Pool { return e.pool }
