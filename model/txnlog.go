package model

// FinishMode selects whether Finish persists a transaction log record.
type FinishMode int

const (
	// WriteTxnLog persists a TxnLog at commit.
	WriteTxnLog FinishMode = iota
	// DontWriteTxnLog finishes the tablet writer without committing.
	DontWriteTxnLog
)

// Rowset describes the segments produced by one commit.
type Rowset struct {
	Segments []string `json:"segments"`
	NumRows  int64    `json:"num_rows"`
	DataSize int64    `json:"data_size"`
	// Overlapped is true iff more than one segment was produced; callers
	// downstream use this to decide whether a merge pass is required
	// before the rowset can be queried efficiently.
	Overlapped bool `json:"overlapped"`
}

// TxnMeta carries the partial-update / condition-update bookkeeping a
// primary-key tablet writer attaches to the op-write record.
type TxnMeta struct {
	// PartialUpdateColumnIDs are positional indexes into the tablet
	// schema for every column in the write schema (not just the
	// non-key ones — see DESIGN.md's note on this preserved reference
	// behavior).
	PartialUpdateColumnIDs []int32 `json:"partial_update_column_ids,omitempty"`
	// PartialUpdateColumnUniqueIDs are the corresponding tablet-schema
	// unique ids, in the same order.
	PartialUpdateColumnUniqueIDs []int64 `json:"partial_update_column_unique_ids,omitempty"`
	// MergeCondition names the column whose value gates whether an
	// incoming row replaces an existing one (condition/merge update).
	MergeCondition string `json:"merge_condition,omitempty"`
	// AutoIncrementPartialUpdateColumnID is the position of the
	// auto-increment column *within the write schema*, set only when
	// the writer filled missing auto-increment values for a partial
	// update.
	AutoIncrementPartialUpdateColumnID int32 `json:"auto_increment_partial_update_column_id,omitempty"`
	// HasAutoIncrementPartialUpdateColumnID disambiguates "column id is
	// 0" from "field unset", since 0 is JSON's int zero value too.
	HasAutoIncrementPartialUpdateColumnID bool `json:"has_auto_increment_partial_update_column_id,omitempty"`
}

// OpWrite is the body of a delta-writer commit: the rowset it produced,
// any delete files, rewrite-segment placeholders, and partial/condition
// update metadata.
type OpWrite struct {
	Rowset          Rowset   `json:"rowset"`
	Dels            []string `json:"dels,omitempty"`
	RewriteSegments []string `json:"rewrite_segments,omitempty"`
	TxnMeta         *TxnMeta `json:"txn_meta,omitempty"`
}

// TxnLog is the commit record linking segment files to a transaction.
// Persisting one via Tablet.PutTxnLog is the commit point described in
// §4.7 step 9.
type TxnLog struct {
	TabletID TabletID `json:"tablet_id"`
	TxnID    TxnID    `json:"txn_id"`
	OpWrite  OpWrite  `json:"op_write"`
}
