// Package autoincrement implements §4.6's auto-increment id filling: for
// a primary-key partial update missing its auto-increment column,
// decide which rows are genuinely new and fill only those with freshly
// allocated ids.
package autoincrement

import (
	"context"
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/lakehouse-go/deltawriter/model"
)

// UnassignedRSRowID is a row-id that carries no rssid/rowid mapping, the
// 0xFFFFFFFF-upper-32-bits sentinel from the reference implementation
// exposed here as a convenience re-export for callers constructing test
// fixtures.
const UnassignedRSRowID = model.UnassignedRSRowID

// UpdateStateProbe mirrors update_mgr's rssid/rowid lookup used to tell
// already-indexed rows (which already have an auto-increment value) from
// genuinely new ones.
type UpdateStateProbe interface {
	// GetRSRowIDs returns, for each primary key in pks (in order), the
	// existing (rssid<<32)|rowid mapping at the given metadata version,
	// or UnassignedRSRowID if no mapping exists. An error means the
	// probe itself failed (e.g. the version is no longer cached); the
	// filler treats that the same as "no cached metadata" and assumes
	// every row is new.
	GetRSRowIDs(ctx context.Context, version int64, pks []model.PrimaryKey) ([]model.RSRowID, error)
}

// Allocator mirrors the cluster-global auto-increment id allocator,
// scoped by table id.
type Allocator interface {
	// NextIDs requests count contiguous ids for tableID and returns the
	// first of them; the filler fills ids [first, first+count).
	NextIDs(ctx context.Context, tableID model.TableID, count uint64) (first int64, err error)
}

// ErrNotInt64Column is returned when the write schema's auto-increment
// column is not an Int64 column — a programmer error per §4.6 step 5.
var ErrNotInt64Column = fmt.Errorf("autoincrement: auto increment column must be Int64")

// Fill implements §4.6 in full: construct the result chunk's primary key,
// probe cached metadata for existing rssid/rowid mappings, build a
// Roaring-bitmap filter of genuinely new rows, allocate that many ids
// from alloc, and fill them into the write schema's auto-increment
// column for the filtered rows.
//
// metadata is the tablet's best-effort cached snapshot (Handle.LatestMetadata
// in the tablet package); ok=false means "absent", matching the directive
// to treat an absent or failed probe as "every row is new."
func Fill(ctx context.Context, writeSchema *model.TabletSchema, result *model.Chunk, tableID model.TableID, metadata *model.TabletMetadataSnapshot, metadataOK bool, probe UpdateStateProbe, alloc Allocator) error {
	if result == nil || result.NumRows() == 0 {
		return nil
	}

	autoIncrementCol := -1
	for i, c := range writeSchema.Columns {
		if c.IsAutoIncrement {
			autoIncrementCol = i
			break
		}
	}
	if autoIncrementCol < 0 {
		return nil
	}
	if writeSchema.Columns[autoIncrementCol].Type != model.ColumnTypeInt64 {
		return ErrNotInt64Column
	}

	numKeyColumns := writeSchema.NumKeyColumns()
	keyCols := result.Columns[:numKeyColumns]
	numRows := result.NumRows()

	pks := make([]model.PrimaryKey, numRows)
	for row := 0; row < numRows; row++ {
		pks[row] = model.EncodePrimaryKey(keyCols, row)
	}

	var rowIDs []model.RSRowID
	if metadataOK && probe != nil {
		ids, err := probe.GetRSRowIDs(ctx, metadata.Version, pks)
		if err == nil {
			rowIDs = ids
		}
	}

	filter := roaring.New()
	if rowIDs == nil {
		for row := 0; row < numRows; row++ {
			filter.Add(uint32(row))
		}
	} else {
		for row, rowID := range rowIDs {
			if rowID.Unassigned() {
				filter.Add(uint32(row))
			}
		}
	}

	genNum := filter.GetCardinality()
	if genNum == 0 {
		return nil
	}

	firstID, err := alloc.NextIDs(ctx, tableID, genNum)
	if err != nil {
		return fmt.Errorf("autoincrement: allocate %d ids for table %d: %w", genNum, tableID, err)
	}

	nextID := firstID
	column := result.Columns[autoIncrementCol]
	it := filter.Iterator()
	for it.HasNext() {
		row := it.Next()
		column[row] = nextID
		nextID++
	}
	return nil
}
