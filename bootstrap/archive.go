package bootstrap

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/nanalysis/ringfit/compress"
	"github.com/nanalysis/ringfit/endian"
	"github.com/nanalysis/ringfit/format"
	"github.com/nanalysis/ringfit/internal/hash"
	"github.com/nanalysis/ringfit/internal/options"
	"github.com/nanalysis/ringfit/internal/pool"
)

// Archive layout, header fields little-endian:
//
//	magic       [4]byte  "RFBA"
//	version     uint8
//	compression uint8    format.CompressionType
//	byteOrder   uint8    format.ByteOrder of the payload
//	flags       uint8    bit 0: payload bytes shuffled by value width
//	rows        uint32   parameters
//	cols        uint32   replicates
//	size        uint32   stored payload length
//	checksum    uint64   xxHash64 of the uncompressed payload
//
// The payload is the matrix row by row as float64 bits, byte shuffled
// (compress.Shuffle) unless the flag is clear, then compressed.
const (
	archiveMagic      = "RFBA"
	archiveVersion    = 1
	archiveHeaderSize = 28

	flagShuffled = 1 << 0
)

// ErrCorruptArchive reports a replicate archive that fails header or checksum
// validation.
var ErrCorruptArchive = errors.New("ringfit: corrupt replicate archive")

type archiveConfig struct {
	compression format.CompressionType
	engine      endian.EndianEngine
	shuffle     bool
}

// ArchiveOption configures WriteArchive and EncodeArchive.
type ArchiveOption = options.Option[*archiveConfig]

// WithCompression selects the payload codec. Zstd is the default.
func WithCompression(ct format.CompressionType) ArchiveOption {
	return options.New(func(c *archiveConfig) error {
		if _, err := compress.For(ct); err != nil {
			return err
		}
		c.compression = ct

		return nil
	})
}

// WithBigEndian writes the payload big-endian.
func WithBigEndian() ArchiveOption {
	return options.NoError(func(c *archiveConfig) {
		c.engine = endian.GetBigEndianEngine()
	})
}

// WithNativeOrder writes the payload in the host byte order.
func WithNativeOrder() ArchiveOption {
	return options.New(func(c *archiveConfig) error {
		engine, err := endian.Engine(endian.Native())
		if err != nil {
			return err
		}
		c.engine = engine

		return nil
	})
}

// WithShuffle toggles the byte shuffle applied before compression. It is on
// by default.
func WithShuffle(enabled bool) ArchiveOption {
	return options.NoError(func(c *archiveConfig) { c.shuffle = enabled })
}

// EncodeArchive serializes a parameters × replicates matrix. NaN entries of
// failed replicates are kept.
func EncodeArchive(matrix [][]float64, opts ...ArchiveOption) ([]byte, error) {
	cfg := &archiveConfig{compression: format.CompressionZstd, engine: endian.GetLittleEndianEngine(), shuffle: true}
	if err := options.Apply(cfg, opts...); err != nil {
		return nil, err
	}

	rows := len(matrix)
	cols := 0
	if rows > 0 {
		cols = len(matrix[0])
	}
	for i, row := range matrix {
		if len(row) != cols {
			return nil, fmt.Errorf("archive row %d has %d columns, want %d", i, len(row), cols)
		}
	}

	buf := pool.GetArchiveBuffer()
	defer pool.PutArchiveBuffer(buf)
	buf.Grow(8 * rows * cols)
	for _, row := range matrix {
		buf.B = endian.AppendFloat64s(cfg.engine, buf.B, row)
	}
	raw := buf.Bytes()
	sum := hash.Checksum(raw)

	var flags byte
	payload := raw
	if cfg.shuffle {
		shuf := pool.GetArchiveBuffer()
		defer pool.PutArchiveBuffer(shuf)
		shuffled, err := compress.Shuffle(shuf.B, raw, 8)
		if err != nil {
			return nil, err
		}
		shuf.B = shuffled
		payload = shuffled
		flags |= flagShuffled
	}

	codec, err := compress.For(cfg.compression)
	if err != nil {
		return nil, err
	}
	packed, err := codec.Compress(payload)
	if err != nil {
		return nil, fmt.Errorf("archive compression: %w", err)
	}

	le := binary.LittleEndian
	out := make([]byte, 0, archiveHeaderSize+len(packed))
	out = append(out, archiveMagic...)
	out = append(out, archiveVersion, byte(cfg.compression), byte(endian.Order(cfg.engine)), flags)
	out = le.AppendUint32(out, uint32(rows))
	out = le.AppendUint32(out, uint32(cols))
	out = le.AppendUint32(out, uint32(len(packed)))
	out = le.AppendUint64(out, sum)
	out = append(out, packed...)

	return out, nil
}

// DecodeArchive parses an archive produced by EncodeArchive.
//
// Returns ErrCorruptArchive for a bad magic, unknown version, truncated data
// or checksum mismatch.
func DecodeArchive(data []byte) ([][]float64, error) {
	if len(data) < archiveHeaderSize || string(data[:4]) != archiveMagic {
		return nil, fmt.Errorf("%w: missing header", ErrCorruptArchive)
	}
	if data[4] != archiveVersion {
		return nil, fmt.Errorf("%w: version %d", ErrCorruptArchive, data[4])
	}

	ct := format.CompressionType(data[5])
	engine, err := endian.Engine(format.ByteOrder(data[6]))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptArchive, err)
	}

	le := binary.LittleEndian
	rows := int(le.Uint32(data[8:]))
	cols := int(le.Uint32(data[12:]))
	size := int(le.Uint32(data[16:]))
	sum := le.Uint64(data[20:])

	body := data[archiveHeaderSize:]
	if len(body) != size {
		return nil, fmt.Errorf("%w: payload has %d bytes, header says %d", ErrCorruptArchive, len(body), size)
	}

	codec, err := compress.For(ct)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptArchive, err)
	}
	raw, err := codec.Decompress(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptArchive, err)
	}
	if len(raw) != 8*rows*cols {
		return nil, fmt.Errorf("%w: %d bytes for %dx%d values", ErrCorruptArchive, len(raw), rows, cols)
	}
	if data[7]&flagShuffled != 0 {
		if raw, err = compress.Unshuffle(nil, raw, 8); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptArchive, err)
		}
	}
	if hash.Checksum(raw) != sum {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorruptArchive)
	}

	matrix := make([][]float64, rows)
	for i := range matrix {
		matrix[i] = make([]float64, cols)
		if raw, err = endian.ReadFloat64s(engine, raw, matrix[i]); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptArchive, err)
		}
	}

	return matrix, nil
}

// WriteArchive encodes matrix to w.
func WriteArchive(w io.Writer, matrix [][]float64, opts ...ArchiveOption) error {
	data, err := EncodeArchive(matrix, opts...)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, bytes.NewReader(data))

	return err
}

// ReadArchive reads and decodes a whole archive from r.
func ReadArchive(r io.Reader) ([][]float64, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	return DecodeArchive(data)
}
