package memtable

import (
	"context"

	"github.com/lakehouse-go/deltawriter/model"
	"github.com/lakehouse-go/deltawriter/tabletwriter"
)

// Sink is the bridge between a finalized memtable and the tablet writer,
// enforcing the delete-before-upsert ordering §4.2 requires.
type Sink interface {
	// FlushChunk writes and flushes a chunk with no deletes.
	FlushChunk(ctx context.Context, chunk *model.Chunk) error
	// FlushChunkWithDeletes flushes deletes before the upsert chunk.
	FlushChunkWithDeletes(ctx context.Context, upserts, deletes *model.Chunk) error
}

// TabletWriterSink adapts a tabletwriter.Writer into a Sink:
// FlushChunk performs Write then Flush; FlushChunkWithDeletes performs
// FlushDelFile before the upsert Write+Flush, per §4.2's writer-
// construction step describing the sink adapter.
type TabletWriterSink struct {
	writer tabletwriter.Writer
}

// NewTabletWriterSink creates a sink over writer.
func NewTabletWriterSink(writer tabletwriter.Writer) *TabletWriterSink {
	return &TabletWriterSink{writer: writer}
}

func (s *TabletWriterSink) FlushChunk(ctx context.Context, chunk *model.Chunk) error {
	if chunk == nil || chunk.NumRows() == 0 {
		return nil
	}
	if err := s.writer.Write(ctx, chunk); err != nil {
		return err
	}
	return s.writer.Flush(ctx)
}

func (s *TabletWriterSink) FlushChunkWithDeletes(ctx context.Context, upserts, deletes *model.Chunk) error {
	if deletes != nil && deletes.NumRows() > 0 {
		if err := s.writer.FlushDelFile(ctx, deletes); err != nil {
			return err
		}
	}
	return s.FlushChunk(ctx, upserts)
}
