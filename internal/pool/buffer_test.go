package pool

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBufferGrow(t *testing.T) {
	t.Run("keeps content", func(t *testing.T) {
		b := &Buffer{B: make([]byte, 0, 8)}
		b.B = append(b.B, 1, 2, 3)
		b.Grow(4)
		require.Equal(t, 8, cap(b.B))

		b.Grow(100)
		require.Equal(t, 3+ArchiveBufferSize, cap(b.B))
		require.Equal(t, []byte{1, 2, 3}, b.Bytes())
	})

	t.Run("large buffers grow by a quarter", func(t *testing.T) {
		b := &Buffer{B: make([]byte, 8*ArchiveBufferSize)}
		b.Grow(1)
		require.Equal(t, 10*ArchiveBufferSize, cap(b.B))
	})

	t.Run("never less than requested", func(t *testing.T) {
		b := &Buffer{}
		b.Grow(3 * ArchiveBufferSize)
		require.GreaterOrEqual(t, cap(b.B), 3*ArchiveBufferSize)
		require.Empty(t, b.B)
	})
}

func TestBufferPool(t *testing.T) {
	p := NewBufferPool(16, 64)

	b := p.Get()
	require.Empty(t, b.Bytes())
	require.Equal(t, 16, cap(b.B))
	b.B = append(b.B, "RFBA"...)
	p.Put(b)
	require.Empty(t, p.Get().Bytes())

	p.Put(&Buffer{B: make([]byte, 0, 1024)})
	p.Put(nil)

	shared := GetArchiveBuffer()
	require.NotNil(t, shared)
	require.Empty(t, shared.Bytes())
	PutArchiveBuffer(shared)
}
