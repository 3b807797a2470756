package model

import (
	"fmt"
	"strings"
)

// OpType is the per-row operation carried by a chunk's trailing "__op"
// column, when present.
type OpType uint8

const (
	OpUpsert OpType = iota
	OpDelete
)

// OpColumnName is the reserved name of the trailing virtual op column a
// caller may append to a chunk (and declare via a trailing slot of the
// same name) to mix upserts and deletes within one write.
const OpColumnName = "__op"

// Chunk is a column-oriented row batch. Column values are stored as
// []any so the delta writer can remain agnostic to concrete Go types;
// the tablet writer (the component that actually encodes bytes) is the
// only place physical representation matters.
type Chunk struct {
	ColumnNames []string
	Columns     [][]any
}

// NewChunk creates an empty chunk with the given column names.
func NewChunk(columnNames []string) *Chunk {
	return &Chunk{
		ColumnNames: columnNames,
		Columns:     make([][]any, len(columnNames)),
	}
}

// NumColumns returns the number of columns in the chunk.
func (c *Chunk) NumColumns() int {
	return len(c.Columns)
}

// NumRows returns the number of rows in the chunk, taken from the first
// column (all columns are expected to have equal length).
func (c *Chunk) NumRows() int {
	if len(c.Columns) == 0 {
		return 0
	}
	return len(c.Columns[0])
}

// AppendRow appends one row's worth of column values. len(values) must
// equal NumColumns().
func (c *Chunk) AppendRow(values []any) {
	for i, v := range values {
		c.Columns[i] = append(c.Columns[i], v)
	}
}

// Append appends every row of other to c in place, matching columns by
// name rather than by position. other may be missing columns c has —
// the memtable buffer schema can run ahead of the caller's chunk when a
// column the caller's slots didn't request (the auto-increment column
// of a partial update missing it) is filled in later, after Finalize —
// in which case the missing columns are padded with nil for this
// batch's rows, regardless of where in c's column order they fall.
// Matching positionally here would misalign whenever the missing
// column isn't the caller's trailing one (e.g. a write schema of
// [id, v, auto_increment] with a caller chunk of [id, v, "__op"]: the
// buffer's auto_increment column, not __op, is the one missing).
func (c *Chunk) Append(other *Chunk) {
	n := other.NumRows()
	otherIndex := make(map[string]int, len(other.ColumnNames))
	for i, name := range other.ColumnNames {
		otherIndex[name] = i
	}
	for i, name := range c.ColumnNames {
		if oi, ok := otherIndex[name]; ok {
			c.Columns[i] = append(c.Columns[i], other.Columns[oi]...)
			continue
		}
		for j := 0; j < n; j++ {
			c.Columns[i] = append(c.Columns[i], nil)
		}
	}
}

// Select returns a new chunk containing only the rows at the given
// indexes, in order. A nil or empty indexes selects every row unchanged.
func (c *Chunk) Select(indexes []uint32) *Chunk {
	if len(indexes) == 0 {
		return c
	}
	out := NewChunk(c.ColumnNames)
	for ci, col := range c.Columns {
		sel := make([]any, len(indexes))
		for i, idx := range indexes {
			sel[i] = col[idx]
		}
		out.Columns[ci] = sel
	}
	return out
}

// Project returns a new chunk containing only the named columns, in the
// order requested. An unknown name yields a nil column at its position.
func (c *Chunk) Project(names []string) *Chunk {
	out := NewChunk(names)
	for oi, name := range names {
		for ci, n := range c.ColumnNames {
			if n == name {
				out.Columns[oi] = c.Columns[ci]
				break
			}
		}
	}
	return out
}

// OpColumn returns the per-row op bytes carried by the chunk's trailing
// "__op" column and true, or false if the chunk has no such column.
//
// The reference implementation indexes num_columns()-1 unconditionally
// whenever the caller declared a trailing "__op" slot, even if the chunk
// itself turns out to be shorter. This implementation instead checks that
// the chunk actually carries a column named OpColumnName before reading
// it, treating a mismatched chunk as having no op column rather than
// indexing blindly — see the Open Questions resolution in DESIGN.md.
func (c *Chunk) OpColumn() ([]OpType, bool) {
	if len(c.ColumnNames) == 0 || c.ColumnNames[len(c.ColumnNames)-1] != OpColumnName {
		return nil, false
	}
	raw := c.Columns[len(c.Columns)-1]
	ops := make([]OpType, len(raw))
	for i, v := range raw {
		switch t := v.(type) {
		case OpType:
			ops[i] = t
		case uint8:
			ops[i] = OpType(t)
		case int:
			ops[i] = OpType(t)
		default:
			ops[i] = OpUpsert
		}
	}
	return ops, true
}

// PrimaryKey is an opaque, comparable encoding of a row's key columns,
// suitable for use as a map key. The encoding itself is not part of this
// spec's contract (it stands in for the reference's PrimaryKeyEncoder);
// only that equal key-column tuples encode equally and distinct tuples
// (almost certainly) do not collide.
type PrimaryKey string

// EncodePrimaryKey concatenates the values of the given key columns for
// one row into a PrimaryKey, using a separator unlikely to appear in
// ordinary column values. This is the Go rendering of
// PrimaryKeyEncoder::encode from the reference implementation.
func EncodePrimaryKey(keyCols [][]any, row int) PrimaryKey {
	var b strings.Builder
	for i, col := range keyCols {
		if i > 0 {
			b.WriteByte(0x1f)
		}
		fmt.Fprintf(&b, "%v", col[row])
	}
	return PrimaryKey(b.String())
}
