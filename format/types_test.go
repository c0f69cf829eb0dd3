package format

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCompressionType(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want CompressionType
	}{
		{"default", "", CompressionZstd},
		{"none", "none", CompressionNone},
		{"zstd", "ZSTD", CompressionZstd},
		{"s2", " s2 ", CompressionS2},
		{"lz4", "lz4", CompressionLZ4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCompression(tt.in)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}

	_, err := ParseCompression("gzip")
	require.Error(t, err)

	require.Equal(t, "LZ4", CompressionLZ4.String())
	require.Equal(t, "Unknown", CompressionType(0).String())
	require.Equal(t, "BigEndian", BigEndian.String())
}
