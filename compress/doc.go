// Package compress provides the codecs applied to bootstrap replicate archive
// payloads.
//
// A payload is a block of float64 values. Replicates of a converged fit are
// close to each other, so after Shuffle groups their bytes by significance the
// stream is dominated by runs and general purpose compressors shrink it well.
//
// Supported algorithms (format.CompressionType):
//   - None: payload stored as is
//   - Zstd: best ratio, the archive default
//   - S2: faster, moderate ratio
//   - LZ4: fastest decompression
//
// Zstd uses klauspost/compress by default. Building with cgo and the gozstd
// tag switches it to valyala/gozstd:
//
//	go build -tags gozstd ./...
//
// Usage:
//
//	codec, err := compress.For(format.CompressionZstd)
//	if err != nil {
//	    return err
//	}
//	shuffled, _ := compress.Shuffle(nil, payload, 8)
//	packed, err := codec.Compress(shuffled)
package compress
