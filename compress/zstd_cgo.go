//go:build cgo && gozstd

package compress

import (
	"fmt"

	"github.com/valyala/gozstd"
)

// archiveLevel is the libzstd level closest to the pure Go encoder's
// SpeedBetterCompression, so both builds write archives of similar size.
const archiveLevel = 7

// Replicate matrices are float64 columns that shuffle well; a decoded archive
// is usually several times its frame.
const expectedRatio = 4

func (zstdCodec) Compress(matrix []byte) ([]byte, error) {
	if len(matrix) == 0 {
		return nil, nil
	}

	return gozstd.CompressLevel(make([]byte, 0, len(matrix)/expectedRatio), matrix, archiveLevel), nil
}

func (zstdCodec) Decompress(frame []byte) ([]byte, error) {
	if len(frame) == 0 {
		return nil, nil
	}
	matrix, err := gozstd.Decompress(make([]byte, 0, len(frame)*expectedRatio), frame)
	if err != nil {
		return nil, fmt.Errorf("zstd: %w", err)
	}

	return matrix, nil
}
