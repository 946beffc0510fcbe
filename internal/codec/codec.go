// Package codec implements the pluggable compression layer used to
// compress and decompress shard payloads.
package codec

import (
	"fmt"

	"github.com/pierrec/lz4/v4"
)

// ID identifies a codec variant on disk, persisted in the shard header
// (see spec §6) so a shard can be decompressed after process restart
// without the caller re-specifying which codec it used.
type ID byte

const (
	None    ID = 0
	General ID = 1
)

// Codec compresses and decompresses opaque byte buffers.
type Codec interface {
	ID() ID
	Compress(p []byte) ([]byte, error)
	Decompress(p []byte) ([]byte, error)
}

// CodecFailure wraps an underlying compression/decompression error.
type CodecFailure struct {
	Op  string
	Err error
}

func (e *CodecFailure) Error() string {
	return fmt.Sprintf("codec %s failed: %v", e.Op, e.Err)
}

func (e *CodecFailure) Unwrap() error { return e.Err }

// ByID returns the codec implementation for a persisted codec ID.
func ByID(id ID) (Codec, error) {
	switch id {
	case None:
		return NoneCodec{}, nil
	case General:
		return GeneralCodec{}, nil
	default:
		return nil, fmt.Errorf("codec: unknown codec id %d", id)
	}
}

// NoneCodec is the identity codec.
type NoneCodec struct{}

func (NoneCodec) ID() ID { return None }

func (NoneCodec) Compress(p []byte) ([]byte, error) {
	out := make([]byte, len(p))
	copy(out, p)
	return out, nil
}

func (NoneCodec) Decompress(p []byte) ([]byte, error) {
	out := make([]byte, len(p))
	copy(out, p)
	return out, nil
}

// GeneralCodec is the default general-purpose byte-stream compressor,
// LZ4 block format, following the teacher's CompressBlock/UncompressBlock
// usage rather than the frame format (the shard header already records
// the codec choice; neither it nor the block records the uncompressed
// length).
type GeneralCodec struct{}

func (GeneralCodec) ID() ID { return General }

func (GeneralCodec) Compress(p []byte) ([]byte, error) {
	if len(p) == 0 {
		return []byte{}, nil
	}
	buf := make([]byte, lz4.CompressBlockBound(len(p)))
	var hashTable [1 << 16]int
	n, err := lz4.CompressBlock(p, buf, hashTable[:])
	if err != nil {
		return nil, &CodecFailure{Op: "compress", Err: err}
	}
	if n == 0 {
		// Incompressible input; lz4 signals this by returning 0. Fall
		// back to storing the block uncompressed with a marker prefix
		// so Decompress can tell the two cases apart.
		out := make([]byte, len(p)+1)
		out[0] = rawMarker
		copy(out[1:], p)
		return out, nil
	}
	out := make([]byte, n+1)
	out[0] = compressedMarker
	copy(out[1:], buf[:n])
	return out, nil
}

func (GeneralCodec) Decompress(p []byte) ([]byte, error) {
	if len(p) == 0 {
		return []byte{}, nil
	}
	marker, body := p[0], p[1:]
	switch marker {
	case rawMarker:
		out := make([]byte, len(body))
		copy(out, body)
		return out, nil
	case compressedMarker:
		out := make([]byte, len(body)*4+64)
		for {
			n, err := lz4.UncompressBlock(body, out)
			if err == nil {
				return out[:n], nil
			}
			if len(out) >= maxDecompressBuffer {
				return nil, &CodecFailure{Op: "decompress", Err: fmt.Errorf("decompressed size exceeds %d bytes, input is likely corrupt: %w", maxDecompressBuffer, err)}
			}
			out = make([]byte, len(out)*2)
		}
	default:
		return nil, &CodecFailure{Op: "decompress", Err: fmt.Errorf("unknown block marker %d", marker)}
	}
}

const (
	rawMarker        = 0
	compressedMarker = 1
)

// maxDecompressBuffer bounds the doubling-buffer retry loop in
// GeneralCodec.Decompress. The block format carries no uncompressed
// length, so a corrupt compressedMarker payload would otherwise grow
// the buffer indefinitely before UncompressBlock finally errors;
// 256 MiB comfortably covers one shard's worth of documents while
// keeping a single corrupt payload's worst-case allocation bounded.
const maxDecompressBuffer = 256 << 20
