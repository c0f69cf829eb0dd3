package compress

import (
	"errors"
	"sync"

	"github.com/klauspost/compress/s2"
	"github.com/pierrec/lz4/v4"
)

// rawCodec stores payloads as they are.
type rawCodec struct{}

func (rawCodec) Compress(data []byte) ([]byte, error)   { return data, nil }
func (rawCodec) Decompress(data []byte) ([]byte, error) { return data, nil }

// zstdCodec is the archive default; its methods live in zstd_pure.go or,
// with cgo and the gozstd tag, zstd_cgo.go.
type zstdCodec struct{}

type s2Codec struct{}

func (s2Codec) Compress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}

	return s2.EncodeBetter(nil, data), nil
}

func (s2Codec) Decompress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}

	return s2.Decode(nil, data)
}

// lz4Codec writes a single LZ4 block. The block does not record its
// original size, so Decompress grows its buffer until the block fits.
type lz4Codec struct{}

// maxLZ4Output bounds the decompression buffer growth.
const maxLZ4Output = 128 << 20

var lz4Compressors = sync.Pool{
	New: func() any { return new(lz4.Compressor) },
}

func (lz4Codec) Compress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}
	dst := make([]byte, lz4.CompressBlockBound(len(data)))

	lc, _ := lz4Compressors.Get().(*lz4.Compressor)
	defer lz4Compressors.Put(lc)

	n, err := lc.CompressBlock(data, dst)
	if err != nil {
		return nil, err
	}

	return dst[:n], nil
}

func (lz4Codec) Decompress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}
	for size := 4 * len(data); size <= maxLZ4Output; size *= 2 {
		buf := make([]byte, size)
		n, err := lz4.UncompressBlock(data, buf)
		if err == nil {
			return buf[:n], nil
		}
		if !errors.Is(err, lz4.ErrInvalidSourceShortBuffer) {
			return nil, err
		}
	}

	return nil, lz4.ErrInvalidSourceShortBuffer
}
