// Package deltawriter coordinates writes to one tablet partition
// within one transaction in a lakehouse-style columnar storage engine.
//
// A DeltaWriter buffers incoming row chunks into an in-memory memtable,
// flushes the memtable to an immutable segment through a shared,
// process-wide worker pool, reconciles partial updates against the
// tablet's schema, fills auto-increment ids for rows new to the
// primary-key index, and commits a transaction log record at finish.
//
// # Quick Start
//
//	engine := deltawriter.NewEngine(
//	    deltawriter.WithDefaultMaxBufferSize(64 << 20),
//	    deltawriter.WithMetricsObserver(observer),
//	)
//	defer engine.Close()
//
//	w, err := engine.NewDeltaWriterBuilder(tabletMgr).
//	    TabletID(tabletID).
//	    TxnID(txnID).
//	    IndexID(indexID).
//	    MemTracker(memtracker.New("writer", 0, parentTracker)).
//	    Build()
//	if err != nil {
//	    return err
//	}
//
//	ctx := context.Background()
//	if err := w.Open(ctx); err != nil {
//	    return err
//	}
//	defer w.Close(ctx)
//
//	if err := w.Write(ctx, chunk, nil); err != nil {
//	    return err
//	}
//	return w.Finish(ctx, model.WriteTxnLog)
//
// # Thread Affinity
//
// Open may be called from a non-blocking execution context. Write,
// Flush, FlushAsync, Finish, and Close may block and must be called
// from a blocking one; call NonBlockingContext to tag a context as
// non-blocking and have these methods reject it with
// ErrBlockingFromNonBlockingContext.
//
// # Partial Updates and Auto-Increment
//
// Passing a subset of the tablet's columns via the builder's Slots
// reconciles to a partial update for primary-key tablets; listing every
// column reduces to a full update. Omitting the tablet's auto-increment
// column from Slots and setting MissAutoIncrementColumn(true) causes
// rows new to the primary-key index to have ids allocated and filled in
// automatically at flush time.
package deltawriter
