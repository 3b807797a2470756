// Package tabletwriter implements the concrete, otherwise-external
// "black-box TabletWriter" §1 treats as out of scope for this repo's own
// invariants: encoding chunks to segment files and delete files and
// uploading them through blobstore.Store. Its two variants — general and
// primary-key — share the Writer contract §6 specifies: Open, Write,
// Flush, FlushDelFile, Finish, Files, DataSize, NumRows, RowsetTxnMeta.
package tabletwriter

import (
	"context"
	"fmt"

	"github.com/lakehouse-go/deltawriter/blobstore"
	"github.com/lakehouse-go/deltawriter/model"
)

// Writer is the contract the delta writer core drives. Segment bytes are
// opaque beyond the guarantees in §6: every name in Files() classifies
// as segment or delete, segment names are unique per commit, and
// rewrite-segment names are deterministic from the txn id.
type Writer interface {
	// Open prepares the writer for use; it must be called before Write.
	Open(ctx context.Context) error
	// Write buffers chunk for the next Flush. It does not upload.
	Write(ctx context.Context, chunk *model.Chunk) error
	// Flush encodes and uploads everything buffered since the last
	// Flush as one new segment file.
	Flush(ctx context.Context) error
	// FlushDelFile uploads chunk as a delete file immediately; callers
	// (the memtable sink) must call this before the corresponding
	// upsert Write+Flush to preserve delete-before-upsert ordering.
	FlushDelFile(ctx context.Context, chunk *model.Chunk) error
	// Finish finalizes the writer. After Finish, Files/DataSize/NumRows
	// reflect the writer's complete output.
	Finish(ctx context.Context) error
	// Files returns every segment and delete filename produced so far,
	// in the order they were flushed.
	Files() []string
	// DataSize returns the total uploaded byte count across all files.
	DataSize() int64
	// NumRows returns the total row count across all flushed upsert
	// segments (deletes are not counted).
	NumRows() int64
	// RowsetTxnMeta returns the writer-provided metadata seed for
	// primary-key writers, partial-update or full-column, or
	// (nil, false) for general writers. The core layers merge
	// condition, partial-update column ids, auto-increment column
	// position, and per-column unique ids on top of whatever this
	// returns.
	RowsetTxnMeta() (*model.TxnMeta, bool)
}

// Config configures a Writer's on-disk encoding and compression choice.
// These are writer-construction-time decisions, not per-write state.
type Config struct {
	ColumnTypes []model.ColumnType
	Codec       Codec
}

// classifyFile reports whether name is a segment file, a delete file,
// or neither — the §4.7 step-5 "is_segment / is_del / else internal
// error" classification. ClassifyFile wraps it for the core's Finish,
// so Writer.Files() output can be classified without reaching into this
// package's naming internals.
func classifyFile(name string) (isSegment, isDel bool) {
	return isSegmentFile(name), isDelFile(name)
}

// ClassifyFile is the exported form of classifyFile for use by core's
// txn-log construction.
func ClassifyFile(name string) (isSegment, isDel bool, err error) {
	isSegment, isDel = classifyFile(name)
	if !isSegment && !isDel {
		return false, false, fmt.Errorf("tabletwriter: file %q is neither a segment nor a delete file", name)
	}
	return isSegment, isDel, nil
}

func uploadBody(ctx context.Context, store blobstore.Store, name string, codec Codec, raw []byte) (int64, error) {
	body, err := compress(codec, raw)
	if err != nil {
		return 0, err
	}
	if err := store.Put(ctx, name, body); err != nil {
		return 0, fmt.Errorf("tabletwriter: upload %q: %w", name, err)
	}
	return int64(len(body)), nil
}
