// Package memtable implements the delta writer's in-memory row buffer:
// a bounded chunk accumulator that, for primary-key tablets, sorts and
// deduplicates on finalize to produce the "result chunk" the tablet
// writer actually flushes.
package memtable

import (
	"sort"

	"github.com/lakehouse-go/deltawriter/model"
)

// Memtable owns a chunk buffer bounded by maxBufferSize bytes: Insert
// reports full once the estimated buffered size reaches it. A zero or
// negative maxBufferSize never reports full. The core passes the
// engine default when the caller passes zero (§6), and that default is
// itself zero unless configured.
type Memtable struct {
	columnNames []string
	columnTypes []model.ColumnType
	keyColumns  int // number of leading primary-key columns; 0 for non-PK tablets
	maxBytes    int64

	buffer       *model.Chunk
	bufferedSize int64
	finalized    bool
	result       *model.Chunk
}

// New creates an empty memtable for a write schema with the given column
// names/types. keyColumns is the number of leading columns that form the
// primary key (pass 0 for non-primary-key tablets, disabling dedup/sort
// on Finalize).
func New(columnNames []string, columnTypes []model.ColumnType, keyColumns int, maxBufferSize int64) *Memtable {
	return &Memtable{
		columnNames: columnNames,
		columnTypes: columnTypes,
		keyColumns:  keyColumns,
		maxBytes:    maxBufferSize,
		buffer:      model.NewChunk(columnNames),
	}
}

// Insert appends chunk's rows (optionally reordered/filtered through
// indexes, as the "indexes[0..indexes_size)" selection array in §3's
// data model describes) to the buffer and reports whether the buffer is
// now full.
func (m *Memtable) Insert(chunk *model.Chunk, indexes []uint32) (full bool) {
	selected := chunk
	if len(indexes) > 0 {
		selected = chunk.Select(indexes)
	}
	m.buffer.Append(selected)
	m.bufferedSize += rowSetSize(selected, m.columnTypes)
	return m.maxBytes > 0 && m.bufferedSize >= m.maxBytes
}

// NumRows returns the number of rows currently buffered (pre-Finalize)
// or in the result chunk (post-Finalize).
func (m *Memtable) NumRows() int {
	if m.finalized {
		if m.result == nil {
			return 0
		}
		return m.result.NumRows()
	}
	return m.buffer.NumRows()
}

// BufferedSize returns the estimated byte size of the currently buffered
// (pre-Finalize) rows, used by the writer to decide flush policy.
func (m *Memtable) BufferedSize() int64 { return m.bufferedSize }

// Finalize closes the memtable to further inserts and produces its
// result chunk: for non-primary-key tablets this is simply the
// accumulated buffer; for primary-key tablets the buffer is deduplicated
// by primary key (last write wins, matching the original's
// "last value for a given key in a batch supersedes earlier ones" merge
// semantics) and sorted ascending by the primary key's encoded form
// (model.EncodePrimaryKey, compared as strings), which for integer keys
// is not numeric order: 10 sorts before 2.
func (m *Memtable) Finalize() *model.Chunk {
	if m.finalized {
		return m.result
	}
	m.finalized = true

	if m.keyColumns <= 0 {
		m.result = m.buffer
		m.buffer = nil
		return m.result
	}

	keyCols := m.buffer.Columns[:m.keyColumns]
	numRows := m.buffer.NumRows()

	lastForKey := make(map[model.PrimaryKey]int, numRows)
	for row := 0; row < numRows; row++ {
		lastForKey[model.EncodePrimaryKey(keyCols, row)] = row
	}

	order := make([]uint32, 0, len(lastForKey))
	for _, row := range lastForKey {
		order = append(order, uint32(row))
	}
	sort.Slice(order, func(i, j int) bool {
		return model.EncodePrimaryKey(keyCols, int(order[i])) < model.EncodePrimaryKey(keyCols, int(order[j]))
	})

	m.result = m.buffer.Select(order)
	m.buffer = nil
	return m.result
}

// Result returns the chunk produced by Finalize, or nil if Finalize has
// not been called yet.
func (m *Memtable) Result() *model.Chunk {
	return m.result
}

// SplitByOp partitions the finalized result chunk into an upsert chunk
// and a delete chunk using its trailing "__op" column, for the sink's
// delete-before-upsert ordering. If the result has no op column, every
// row is treated as an upsert and deletes is nil.
//
// The op column itself is never part of the tablet writer's on-disk
// data — it exists only to route rows to the upsert or delete path — so
// both returned chunks are projected down to the data columns that
// precede it.
func (m *Memtable) SplitByOp() (upserts, deletes *model.Chunk) {
	if m.result == nil {
		return nil, nil
	}
	ops, ok := m.result.OpColumn()
	if !ok {
		return m.result, nil
	}
	dataColumns := m.result.ColumnNames[:len(m.result.ColumnNames)-1]

	var upsertIdx, deleteIdx []uint32
	for i, op := range ops {
		if op == model.OpDelete {
			deleteIdx = append(deleteIdx, uint32(i))
		} else {
			upsertIdx = append(upsertIdx, uint32(i))
		}
	}

	if len(deleteIdx) == 0 {
		return m.result.Select(upsertIdx).Project(dataColumns), nil
	}
	if len(upsertIdx) == 0 {
		return nil, m.result.Select(deleteIdx).Project(dataColumns)
	}
	return m.result.Select(upsertIdx).Project(dataColumns), m.result.Select(deleteIdx).Project(dataColumns)
}

func rowSetSize(chunk *model.Chunk, columnTypes []model.ColumnType) int64 {
	fixedWidth := func(t model.ColumnType) int64 {
		switch t {
		case model.ColumnTypeInt64, model.ColumnTypeFloat64:
			return 8
		case model.ColumnTypeInt32:
			return 4
		case model.ColumnTypeBool:
			return 1
		default:
			return 16
		}
	}
	var total int64
	rows := int64(chunk.NumRows())
	for i := 0; i < chunk.NumColumns() && i < len(columnTypes); i++ {
		total += fixedWidth(columnTypes[i]) * rows
	}
	return total
}
