package pool

import "sync"

const (
	// ArchiveBufferSize is the initial capacity of archive buffers; it holds
	// a 10 parameter × 200 replicate payload.
	ArchiveBufferSize = 16 << 10
	// ArchiveBufferMaxRetained drops buffers that grew past it instead of
	// pooling them.
	ArchiveBufferMaxRetained = 1 << 20
)

// Buffer is a reusable byte slice for assembling archive payloads.
type Buffer struct {
	B []byte
}

// Bytes returns the buffered bytes.
func (b *Buffer) Bytes() []byte {
	return b.B
}

// Grow ensures room for n more bytes without changing the length. Small
// buffers grow by ArchiveBufferSize, larger ones by a quarter of their
// capacity, and never by less than n.
func (b *Buffer) Grow(n int) {
	if cap(b.B)-len(b.B) >= n {
		return
	}
	by := ArchiveBufferSize
	if cap(b.B) > 4*ArchiveBufferSize {
		by = cap(b.B) / 4
	}
	by = max(by, n)

	grown := make([]byte, len(b.B), len(b.B)+by)
	copy(grown, b.B)
	b.B = grown
}

// BufferPool recycles Buffers.
type BufferPool struct {
	pool        sync.Pool
	maxRetained int
}

// NewBufferPool creates a pool whose buffers start with size bytes of
// capacity. Put drops buffers larger than maxRetained; zero keeps all.
func NewBufferPool(size, maxRetained int) *BufferPool {
	return &BufferPool{
		pool: sync.Pool{
			New: func() any { return &Buffer{B: make([]byte, 0, size)} },
		},
		maxRetained: maxRetained,
	}
}

// Get returns an empty buffer.
func (p *BufferPool) Get() *Buffer {
	b, _ := p.pool.Get().(*Buffer)
	return b
}

// Put empties b and returns it to the pool.
func (p *BufferPool) Put(b *Buffer) {
	if b == nil || (p.maxRetained > 0 && cap(b.B) > p.maxRetained) {
		return
	}
	b.B = b.B[:0]
	p.pool.Put(b)
}

var archiveBuffers = NewBufferPool(ArchiveBufferSize, ArchiveBufferMaxRetained)

// GetArchiveBuffer takes a buffer from the shared archive pool.
func GetArchiveBuffer() *Buffer {
	return archiveBuffers.Get()
}

// PutArchiveBuffer returns a buffer to the shared archive pool.
func PutArchiveBuffer(b *Buffer) {
	archiveBuffers.Put(b)
}
