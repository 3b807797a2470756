package tabletwriter

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec identifies the compression applied to a segment or delete-file
// body before it is uploaded through the blobstore, a per-writer
// configuration choice rather than something the spec's invariants
// depend on.
type Codec uint8

const (
	// CodecNone stores the encoded chunk body uncompressed.
	CodecNone Codec = iota
	// CodecZstd compresses with zstd, favoring ratio — grounded on the
	// teacher's WAL compression path.
	CodecZstd
	// CodecLZ4 compresses with lz4, favoring speed.
	CodecLZ4
)

func (c Codec) String() string {
	switch c {
	case CodecZstd:
		return "zstd"
	case CodecLZ4:
		return "lz4"
	default:
		return "none"
	}
}

// compress returns body compressed with codec. CodecNone returns body
// unchanged (no copy).
func compress(codec Codec, body []byte) ([]byte, error) {
	switch codec {
	case CodecNone:
		return body, nil
	case CodecZstd:
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, fmt.Errorf("tabletwriter: create zstd encoder: %w", err)
		}
		defer enc.Close()
		return enc.EncodeAll(body, nil), nil
	case CodecLZ4:
		var buf bytes.Buffer
		w := lz4.NewWriter(&buf)
		if _, err := w.Write(body); err != nil {
			return nil, fmt.Errorf("tabletwriter: lz4 compress: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("tabletwriter: lz4 close: %w", err)
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("tabletwriter: unknown codec %d", codec)
	}
}

// decompress reverses compress.
func decompress(codec Codec, data []byte) ([]byte, error) {
	switch codec {
	case CodecNone:
		return data, nil
	case CodecZstd:
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("tabletwriter: create zstd decoder: %w", err)
		}
		defer dec.Close()
		return dec.DecodeAll(data, nil)
	case CodecLZ4:
		r := lz4.NewReader(bytes.NewReader(data))
		out, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("tabletwriter: lz4 decompress: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("tabletwriter: unknown codec %d", codec)
	}
}
