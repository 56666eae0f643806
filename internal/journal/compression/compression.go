// Package compression provides the codecs applied to journal entries before
// they hit the backing store.
package compression

import (
	"encoding/binary"
	"fmt"

	"github.com/pierrec/lz4"
)

// Compressor encodes and decodes journal entry payloads.
type Compressor interface {
	// Name identifies the codec in configuration.
	Name() string

	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
}

// ForName returns the compressor for a configuration name. The empty string
// and "none" select the pass-through codec.
func ForName(name string) (Compressor, error) {
	switch name {
	case "", "none":
		return &NoCompressor{}, nil
	case "lz4":
		return &LZ4Compressor{}, nil
	default:
		return nil, fmt.Errorf("unknown journal compression %q", name)
	}
}

// NoCompressor is a pass-through codec.
type NoCompressor struct{}

func (c *NoCompressor) Name() string { return "none" }

func (c *NoCompressor) Compress(data []byte) ([]byte, error) {
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (c *NoCompressor) Decompress(data []byte) ([]byte, error) {
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// LZ4Compressor compresses entries with LZ4 block compression.
type LZ4Compressor struct{}

func (c *LZ4Compressor) Name() string { return "lz4" }

func (c *LZ4Compressor) Compress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return []byte{}, nil
	}

	compressed := make([]byte, lz4.CompressBlockBound(len(data)))
	n, err := lz4.CompressBlock(data, compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 compression failed: %w", err)
	}
	if n == 0 {
		// Incompressible input; CompressBlock signals this with n == 0.
		// Store raw with a marker so Decompress can tell the difference.
		out := make([]byte, len(data)+1)
		out[0] = rawMarker
		copy(out[1:], data)
		return out, nil
	}

	// The uncompressed length follows the marker so Decompress can size
	// its buffer exactly.
	out := make([]byte, n+5)
	out[0] = lz4Marker
	binary.BigEndian.PutUint32(out[1:5], uint32(len(data)))
	copy(out[5:], compressed[:n])
	return out, nil
}

func (c *LZ4Compressor) Decompress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return []byte{}, nil
	}

	marker, payload := data[0], data[1:]
	if marker == rawMarker {
		out := make([]byte, len(payload))
		copy(out, payload)
		return out, nil
	}
	if marker != lz4Marker {
		return nil, fmt.Errorf("unknown journal compression marker 0x%02x", marker)
	}
	if len(payload) < 4 {
		return nil, fmt.Errorf("lz4 journal entry truncated")
	}

	size := binary.BigEndian.Uint32(payload[:4])
	decompressed := make([]byte, size)
	n, err := lz4.UncompressBlock(payload[4:], decompressed)
	if err != nil {
		return nil, fmt.Errorf("lz4 decompression failed: %w", err)
	}
	return decompressed[:n], nil
}

const (
	rawMarker byte = 0x00
	lz4Marker byte = 0x01
)
