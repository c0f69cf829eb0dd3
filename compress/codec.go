package compress

import (
	"fmt"

	"github.com/nanalysis/ringfit/format"
)

// Codec compresses and restores replicate archive payloads.
//
// Memory management:
//   - the returned slice is owned by the caller, except for the raw codec
//     which returns its input
//   - the input slice is not modified
//
// Implementations are safe for concurrent use.
type Codec interface {
	Compress(data []byte) ([]byte, error)
	// Decompress returns an error for corrupted input or data written by
	// another algorithm.
	Decompress(data []byte) ([]byte, error)
}

var codecs = map[format.CompressionType]Codec{
	format.CompressionNone: rawCodec{},
	format.CompressionZstd: zstdCodec{},
	format.CompressionS2:   s2Codec{},
	format.CompressionLZ4:  lz4Codec{},
}

// For returns the shared codec of a compression type.
func For(ct format.CompressionType) (Codec, error) {
	if c, ok := codecs[ct]; ok {
		return c, nil
	}

	return nil, fmt.Errorf("unsupported compression type: %s", ct)
}

// Ratio returns compressed/original, or 0 for an empty original.
func Ratio(original, compressed int) float64 {
	if original == 0 {
		return 0
	}

	return float64(compressed) / float64(original)
}
