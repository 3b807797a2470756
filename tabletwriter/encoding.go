package tabletwriter

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/lakehouse-go/deltawriter/model"
)

// encodeChunk renders a chunk to a simple self-describing binary body:
// row count, then per column a type tag, a nullability bitmap, and the
// values themselves. This is the concrete, opaque-to-the-rest-of-the-
// spec encoding SPEC_FULL.md §4.2 describes the tablet writer as using;
// nothing outside this package interprets the bytes.
func encodeChunk(chunk *model.Chunk, columnTypes []model.ColumnType) ([]byte, error) {
	if len(columnTypes) != chunk.NumColumns() {
		return nil, fmt.Errorf("tabletwriter: chunk has %d columns, schema has %d", chunk.NumColumns(), len(columnTypes))
	}

	var buf bytes.Buffer
	numRows := uint32(chunk.NumRows())
	if err := binary.Write(&buf, binary.LittleEndian, numRows); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.LittleEndian, uint32(chunk.NumColumns())); err != nil {
		return nil, err
	}

	for colIdx, colType := range columnTypes {
		if err := buf.WriteByte(byte(colType)); err != nil {
			return nil, err
		}
		column := chunk.Columns[colIdx]

		nullBitmap := make([]byte, (numRows+7)/8)
		for row, v := range column {
			if v == nil {
				nullBitmap[row/8] |= 1 << (row % 8)
			}
		}
		buf.Write(nullBitmap)

		for _, v := range column {
			if v == nil {
				continue
			}
			if err := encodeValue(&buf, colType, v); err != nil {
				return nil, err
			}
		}
	}
	return buf.Bytes(), nil
}

func encodeValue(buf *bytes.Buffer, colType model.ColumnType, v any) error {
	switch colType {
	case model.ColumnTypeInt64:
		n, err := toInt64(v)
		if err != nil {
			return err
		}
		return binary.Write(buf, binary.LittleEndian, n)
	case model.ColumnTypeInt32:
		n, err := toInt64(v)
		if err != nil {
			return err
		}
		return binary.Write(buf, binary.LittleEndian, int32(n))
	case model.ColumnTypeFloat64:
		f, ok := v.(float64)
		if !ok {
			return fmt.Errorf("tabletwriter: value %v is not a float64", v)
		}
		return binary.Write(buf, binary.LittleEndian, math.Float64bits(f))
	case model.ColumnTypeBool:
		b, ok := v.(bool)
		if !ok {
			return fmt.Errorf("tabletwriter: value %v is not a bool", v)
		}
		if b {
			return buf.WriteByte(1)
		}
		return buf.WriteByte(0)
	case model.ColumnTypeString:
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("tabletwriter: value %v is not a string", v)
		}
		return writeBytesWithLen(buf, []byte(s))
	case model.ColumnTypeBytes:
		b, ok := v.([]byte)
		if !ok {
			return fmt.Errorf("tabletwriter: value %v is not []byte", v)
		}
		return writeBytesWithLen(buf, b)
	default:
		return fmt.Errorf("tabletwriter: unknown column type %d", colType)
	}
}

func writeBytesWithLen(buf *bytes.Buffer, b []byte) error {
	if err := binary.Write(buf, binary.LittleEndian, uint32(len(b))); err != nil {
		return err
	}
	_, err := buf.Write(b)
	return err
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int32:
		return int64(n), nil
	case int:
		return int64(n), nil
	default:
		return 0, fmt.Errorf("tabletwriter: value %v is not an integer", v)
	}
}

// estimatedSize returns a cheap upper-bound byte estimate for a chunk,
// used to size segment bodies and to feed memtracker accounting before
// the real encoded size is known.
func estimatedSize(chunk *model.Chunk, columnTypes []model.ColumnType) int64 {
	fixedWidth := func(t model.ColumnType) int64 {
		switch t {
		case model.ColumnTypeInt64, model.ColumnTypeFloat64:
			return 8
		case model.ColumnTypeInt32:
			return 4
		case model.ColumnTypeBool:
			return 1
		default:
			return 16 // rough average for variable-width values
		}
	}
	var total int64
	rows := int64(chunk.NumRows())
	for _, t := range columnTypes {
		total += fixedWidth(t) * rows
	}
	return total
}
