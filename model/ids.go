// Package model defines the value types shared across the delta-writer
// packages: tablet schemas, chunks, identifiers, and the transaction log
// record emitted at commit.
package model

import "fmt"

// TabletID identifies a tablet, the smallest unit of partitioned, versioned
// storage owned by one node at a time.
type TabletID int64

// TxnID identifies the transaction a delta writer is operating under.
type TxnID int64

// PartitionID identifies the partition a tablet belongs to.
type PartitionID int64

// TableID identifies the logical table a tablet is part of. Only meaningful
// when the writer needs to allocate auto-increment ids, which are scoped
// per table rather than per tablet.
type TableID int64

// IndexID identifies a materialized index (rollup) of a table. Every tablet
// belongs to exactly one index.
type IndexID int64

// SegmentID identifies a segment file within a rowset.
type SegmentID uint64

// RowID is a dense, segment-local row identifier.
type RowID uint32

// Location pins a record to a specific segment and row within it.
type Location struct {
	SegmentID SegmentID
	RowID     RowID
}

func (l Location) String() string {
	return fmt.Sprintf("loc(%d:%d)", l.SegmentID, l.RowID)
}

// unassignedRSID is the sentinel upper-32-bits value the reference
// implementation uses to mark "no mapping found" when probing the primary
// key index: rss_rowid = (unassignedRSID << 32) | rowid.
const unassignedRSID = uint32(0xFFFFFFFF)

// RSRowID packs a (rowset/segment id, row id) pair the way the primary key
// index probe in the auto-increment filler expects: the upper 32 bits carry
// the segment id, the lower 32 bits the row id.
type RSRowID uint64

// Unassigned reports whether this RSRowID represents "no existing row",
// i.e. its upper 32 bits are the reference implementation's sentinel.
func (r RSRowID) Unassigned() bool {
	return uint32(r>>32) == unassignedRSID
}

// UnassignedRSRowID is the value the primary key index probe returns for a
// primary key it has no mapping for.
const UnassignedRSRowID = RSRowID(uint64(unassignedRSID) << 32)
