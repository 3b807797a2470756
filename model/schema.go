package model

import "sort"

// KeysType is the tablet's row-merge strategy, mirroring the four modes a
// lakehouse table can declare.
type KeysType int

const (
	// DupKeys tables keep every inserted row (append-only).
	DupKeys KeysType = iota
	// AggKeys tables aggregate rows sharing the same key columns.
	AggKeys
	// UniqueKeys tables keep the most recently written row per key.
	UniqueKeys
	// PrimaryKeys tables support true upsert/delete by primary key,
	// partial-column updates, and auto-increment columns.
	PrimaryKeys
)

func (k KeysType) String() string {
	switch k {
	case DupKeys:
		return "DUP_KEYS"
	case AggKeys:
		return "AGG_KEYS"
	case UniqueKeys:
		return "UNIQUE_KEYS"
	case PrimaryKeys:
		return "PRIMARY_KEYS"
	default:
		return "UNKNOWN_KEYS"
	}
}

// ColumnType is the physical type of a column's values.
type ColumnType int

const (
	ColumnTypeInt64 ColumnType = iota
	ColumnTypeInt32
	ColumnTypeString
	ColumnTypeFloat64
	ColumnTypeBool
	ColumnTypeBytes
)

// Column describes one column of a tablet schema.
type Column struct {
	// UniqueID is stable across schema-evolution generations; two columns
	// with the same name in different schema versions share a unique id.
	UniqueID int64
	Name     string
	Type     ColumnType
	Nullable bool
	// IsKey marks this column as part of the table's key prefix.
	IsKey bool
	// IsSortKey marks this column as part of the tablet's sort key set.
	IsSortKey bool
	// IsAutoIncrement marks a 64-bit column whose values are assigned by
	// the cluster-global id allocator rather than supplied by the writer.
	IsAutoIncrement bool
}

// TabletSchema is the immutable, ordered column list for a tablet, along
// with its merge strategy. Once loaded by a writer it is never mutated.
type TabletSchema struct {
	Columns  []Column
	KeysType KeysType
}

// NumColumns returns the number of columns in the schema.
func (s *TabletSchema) NumColumns() int {
	return len(s.Columns)
}

// Column returns the column at index i.
func (s *TabletSchema) Column(i int) Column {
	return s.Columns[i]
}

// FieldIndex returns the index of the column named name, or -1 if absent.
func (s *TabletSchema) FieldIndex(name string) int {
	for i, c := range s.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// NumKeyColumns returns the count of columns flagged IsKey. Primary-key
// tablets store key columns as a contiguous prefix, matching the reference
// encoder's assumption that the primary key can be built from the first
// NumKeyColumns() columns of a chunk projected onto this schema.
func (s *TabletSchema) NumKeyColumns() int {
	n := 0
	for _, c := range s.Columns {
		if c.IsKey {
			n++
		}
	}
	return n
}

// SortKeyIndexes returns the ascending-sorted indexes of columns flagged
// IsSortKey.
func (s *TabletSchema) SortKeyIndexes() []int {
	var idxs []int
	for i, c := range s.Columns {
		if c.IsSortKey {
			idxs = append(idxs, i)
		}
	}
	sort.Ints(idxs)
	return idxs
}

// Project returns a new schema containing only the columns at columnIDs,
// in the order given, preserving the parent's KeysType. This is how the
// write schema is derived from the tablet schema for a partial update.
func (s *TabletSchema) Project(columnIDs []int) *TabletSchema {
	cols := make([]Column, len(columnIDs))
	for i, id := range columnIDs {
		cols[i] = s.Columns[id]
	}
	return &TabletSchema{Columns: cols, KeysType: s.KeysType}
}

// includesAll reports whether sorted slice a contains every element of
// sorted slice b, mirroring std::includes used by the reference schema
// reconciliation to detect a partial update that drops a sort-key column.
func includesAll(a, b []int) bool {
	ai := 0
	for _, bv := range b {
		found := false
		for ai < len(a) {
			if a[ai] == bv {
				found = true
				ai++
				break
			}
			if a[ai] > bv {
				break
			}
			ai++
		}
		if !found {
			return false
		}
	}
	return true
}

// IncludesAll exposes includesAll for use by the schema reconciler.
func IncludesAll(a, b []int) bool {
	return includesAll(a, b)
}
