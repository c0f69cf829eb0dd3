package compress

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nanalysis/ringfit/format"
)

// replicatePayload mimics a block of converged replicate values.
func replicatePayload(n int) []byte {
	buf := make([]byte, 0, 8*n)
	for i := 0; i < n; i++ {
		v := 500 + 0.01*math.Sin(float64(i))
		buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(v))
	}

	return buf
}

func TestCodecs(t *testing.T) {
	payload := replicatePayload(2048)
	shuffled, err := Shuffle(nil, payload, 8)
	require.NoError(t, err)

	for _, ct := range []format.CompressionType{format.CompressionNone, format.CompressionZstd, format.CompressionS2, format.CompressionLZ4} {
		t.Run(ct.String(), func(t *testing.T) {
			codec, err := For(ct)
			require.NoError(t, err)

			packed, err := codec.Compress(payload)
			require.NoError(t, err)
			out, err := codec.Decompress(packed)
			require.NoError(t, err)
			require.Equal(t, payload, out)

			if ct == format.CompressionNone {
				return
			}
			require.Less(t, Ratio(len(payload), len(packed)), 1.0)

			packedShuffled, err := codec.Compress(shuffled)
			require.NoError(t, err)
			require.Less(t, len(packedShuffled), len(packed))
		})
	}
}

func TestCodecEmptyInput(t *testing.T) {
	for _, ct := range []format.CompressionType{format.CompressionZstd, format.CompressionS2, format.CompressionLZ4} {
		codec, err := For(ct)
		require.NoError(t, err)

		packed, err := codec.Compress(nil)
		require.NoError(t, err)
		require.Empty(t, packed)

		out, err := codec.Decompress(nil)
		require.NoError(t, err)
		require.Empty(t, out)
	}
}

func TestCodecErrors(t *testing.T) {
	_, err := For(format.CompressionType(0x9))
	require.Error(t, err)

	zstd, _ := For(format.CompressionZstd)
	_, err = zstd.Decompress([]byte("not zstd at all"))
	require.Error(t, err)

	s2, _ := For(format.CompressionS2)
	_, err = s2.Decompress([]byte{0xff, 0xff, 0xff, 0xff, 0xff})
	require.Error(t, err)

	require.Equal(t, 0.0, Ratio(0, 10))
}

func TestShuffle(t *testing.T) {
	src := []byte{1, 2, 3, 4, 5, 6}

	t.Run("two byte values", func(t *testing.T) {
		out, err := Shuffle(nil, src, 2)
		require.NoError(t, err)
		require.Equal(t, []byte{1, 3, 5, 2, 4, 6}, out)

		back, err := Unshuffle(make([]byte, 0, 16), out, 2)
		require.NoError(t, err)
		require.Equal(t, src, back)
	})

	t.Run("float payload", func(t *testing.T) {
		payload := replicatePayload(100)
		out, err := Shuffle(nil, payload, 8)
		require.NoError(t, err)
		// The top byte of every value is the same.
		for _, b := range out[7*100:] {
			require.Equal(t, out[7*100], b)
		}
		back, err := Unshuffle(nil, out, 8)
		require.NoError(t, err)
		require.Equal(t, payload, back)
	})

	t.Run("invalid width", func(t *testing.T) {
		_, err := Shuffle(nil, src, 4)
		require.Error(t, err)
		_, err = Unshuffle(nil, src, 0)
		require.Error(t, err)
	})
}
