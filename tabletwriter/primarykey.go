package tabletwriter

import (
	"context"
	"sync"

	"github.com/lakehouse-go/deltawriter/blobstore"
	"github.com/lakehouse-go/deltawriter/model"
)

// PrimaryKeyWriter is the Writer variant used for PRIMARY_KEYS tablets.
// It reports a non-nil RowsetTxnMeta seed, for partial and full-column
// writes alike, that the core layers column-id/unique-id/merge-
// condition/auto-increment metadata on top of, per §4.7 step 7.
type PrimaryKeyWriter struct {
	store    blobstore.Store
	tabletID model.TabletID
	txnID    model.TxnID
	cfg      Config

	isPartialUpdate bool

	mu       sync.Mutex
	pending  *model.Chunk
	files    []string
	dataSize int64
	numRows  int64
}

// NewPrimaryKeyWriter creates a primary-key writer. isPartialUpdate must
// match the schema reconciler's determination (§4.1 step 4) for this
// write.
func NewPrimaryKeyWriter(store blobstore.Store, tabletID model.TabletID, txnID model.TxnID, cfg Config, isPartialUpdate bool) *PrimaryKeyWriter {
	return &PrimaryKeyWriter{store: store, tabletID: tabletID, txnID: txnID, cfg: cfg, isPartialUpdate: isPartialUpdate}
}

func (w *PrimaryKeyWriter) Open(_ context.Context) error { return nil }

func (w *PrimaryKeyWriter) Write(_ context.Context, chunk *model.Chunk) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pending == nil {
		w.pending = model.NewChunk(chunk.ColumnNames)
	}
	w.pending.Append(chunk)
	return nil
}

func (w *PrimaryKeyWriter) Flush(ctx context.Context) error {
	w.mu.Lock()
	pending := w.pending
	w.pending = nil
	w.mu.Unlock()

	if pending == nil || pending.NumRows() == 0 {
		return nil
	}

	raw, err := encodeChunk(pending, w.cfg.ColumnTypes)
	if err != nil {
		return err
	}
	w.mu.Lock()
	index := len(w.files)
	w.mu.Unlock()

	name := segmentName(w.txnID, index)
	size, err := uploadBody(ctx, w.store, name, w.cfg.Codec, raw)
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.files = append(w.files, name)
	w.dataSize += size
	w.numRows += int64(pending.NumRows())
	w.mu.Unlock()
	return nil
}

func (w *PrimaryKeyWriter) FlushDelFile(ctx context.Context, chunk *model.Chunk) error {
	if chunk == nil || chunk.NumRows() == 0 {
		return nil
	}
	raw, err := encodeChunk(chunk, w.cfg.ColumnTypes)
	if err != nil {
		return err
	}

	w.mu.Lock()
	index := len(w.files)
	w.mu.Unlock()

	name := delFileName(w.txnID, index)
	size, err := uploadBody(ctx, w.store, name, w.cfg.Codec, raw)
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.files = append(w.files, name)
	w.dataSize += size
	w.mu.Unlock()
	return nil
}

func (w *PrimaryKeyWriter) Finish(ctx context.Context) error {
	return w.Flush(ctx)
}

func (w *PrimaryKeyWriter) Files() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, len(w.files))
	copy(out, w.files)
	return out
}

func (w *PrimaryKeyWriter) DataSize() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dataSize
}

func (w *PrimaryKeyWriter) NumRows() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.numRows
}

// RowsetTxnMeta returns an empty TxnMeta seed for every primary-key
// writer, partial or full-column, so the core has a non-nil record to
// layer column ids, unique ids, merge condition, and auto-increment
// position onto (§4.7 step 7: "only for primary-key writers", not
// "only for partial-update primary-key writers" — a full-column
// condition update still needs somewhere to record merge_condition).
// GeneralWriter reports absent unconditionally, since non-primary-key
// tablets support neither partial nor condition updates.
func (w *PrimaryKeyWriter) RowsetTxnMeta() (*model.TxnMeta, bool) {
	return &model.TxnMeta{}, true
}
