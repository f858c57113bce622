package link

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// Compression names how a section's payload is stored.
type Compression string

const (
	// CompressionNone stores the section verbatim.
	CompressionNone Compression = "none"
	// CompressionZstd stores the section zstd-compressed.
	CompressionZstd Compression = "zstd"
)

// maxSectionSize bounds the decompressed size a header may claim.
const maxSectionSize = 256 << 20

// ParseCompression parses a compression name. The empty string means none.
func ParseCompression(name string) (Compression, error) {
	switch Compression(name) {
	case "", CompressionNone:
		return CompressionNone, nil
	case CompressionZstd:
		return CompressionZstd, nil
	default:
		return "", fmt.Errorf("unknown compression %q", name)
	}
}

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	// A single encoder goroutine keeps the output byte-for-byte stable.
	zstdEncoder, err = zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedDefault),
		zstd.WithEncoderConcurrency(1),
	)
	if err != nil {
		panic("link: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxSectionSize))
	if err != nil {
		panic("link: zstd decoder initialization failed: " + err.Error())
	}
}

// compress encodes data with want, falling back to none when compression
// does not shrink it.
func compress(data []byte, want Compression) ([]byte, Compression, error) {
	switch want {
	case "", CompressionNone:
		return data, CompressionNone, nil
	case CompressionZstd:
		out := zstdEncoder.EncodeAll(data, nil)
		if len(out) >= len(data) {
			return data, CompressionNone, nil
		}
		return out, CompressionZstd, nil
	default:
		return nil, "", fmt.Errorf("unknown compression %q", want)
	}
}

func decompress(stored []byte, c Compression, size uint64) ([]byte, error) {
	if size > maxSectionSize {
		return nil, fmt.Errorf("declared size %d exceeds limit", size)
	}
	switch c {
	case CompressionNone:
		if uint64(len(stored)) != size {
			return nil, fmt.Errorf("size %d does not match declared %d", len(stored), size)
		}
		return stored, nil
	case CompressionZstd:
		out, err := zstdDecoder.DecodeAll(stored, make([]byte, 0, size))
		if err != nil {
			return nil, fmt.Errorf("zstd: %w", err)
		}
		if uint64(len(out)) != size {
			return nil, fmt.Errorf("decompressed %d bytes, declared %d", len(out), size)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown compression %q", c)
	}
}
