package tabletwriter

import (
	"context"
	"sync"

	"github.com/lakehouse-go/deltawriter/blobstore"
	"github.com/lakehouse-go/deltawriter/model"
)

// GeneralWriter is the Writer variant used for DUP_KEYS, AGG_KEYS, and
// full-column UNIQUE_KEYS tablets — every non-primary-key keys_type.
// It has no partial-update concept: RowsetTxnMeta always reports absent.
type GeneralWriter struct {
	store   blobstore.Store
	tabletID model.TabletID
	txnID   model.TxnID
	cfg     Config

	mu       sync.Mutex
	pending  *model.Chunk
	files    []string
	dataSize int64
	numRows  int64
	opened   bool
}

// NewGeneralWriter creates a general writer for tabletID/txnID, uploading
// through store.
func NewGeneralWriter(store blobstore.Store, tabletID model.TabletID, txnID model.TxnID, cfg Config) *GeneralWriter {
	return &GeneralWriter{store: store, tabletID: tabletID, txnID: txnID, cfg: cfg}
}

func (w *GeneralWriter) Open(_ context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.opened = true
	return nil
}

func (w *GeneralWriter) Write(_ context.Context, chunk *model.Chunk) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pending == nil {
		w.pending = model.NewChunk(chunk.ColumnNames)
	}
	w.pending.Append(chunk)
	return nil
}

func (w *GeneralWriter) Flush(ctx context.Context) error {
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

func (w *GeneralWriter) FlushDelFile(ctx context.Context, chunk *model.Chunk) error {
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

func (w *GeneralWriter) Finish(ctx context.Context) error {
	return w.Flush(ctx)
}

func (w *GeneralWriter) Files() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, len(w.files))
	copy(out, w.files)
	return out
}

func (w *GeneralWriter) DataSize() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dataSize
}

func (w *GeneralWriter) NumRows() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.numRows
}

func (w *GeneralWriter) RowsetTxnMeta() (*model.TxnMeta, bool) {
	return nil, false
}
