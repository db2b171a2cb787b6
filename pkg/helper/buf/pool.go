// Package buf provides a reusable byte-buffer pool, backed by
// bytebufferpool instead of a hand-rolled sync.Pool-per-size table.
package buf

import "github.com/valyala/bytebufferpool"

// Manager hands out pooled buffers for the digest sink, which receives
// many small writes and benefits from amortizing allocation.
type Manager struct {
	pool *bytebufferpool.Pool
}

// NewManager creates a buffer manager with its own pool.
func NewManager() *Manager {
	return &Manager{pool: &bytebufferpool.Pool{}}
}

// Buffer is a pooled, reusable byte buffer. Release returns it to the pool.
type Buffer struct {
	mgr *Manager
	bb  *bytebufferpool.ByteBuffer
}

// Get returns a zero-length buffer ready for writing.
func (m *Manager) Get() *Buffer {
	return &Buffer{mgr: m, bb: m.pool.Get()}
}

// Write appends p to the buffer.
func (b *Buffer) Write(p []byte) (int, error) {
	return b.bb.Write(p)
}

// Bytes returns the buffer's current contents. The slice is only valid
// until the next Write or Release.
func (b *Buffer) Bytes() []byte {
	return b.bb.Bytes()
}

// Len returns the number of bytes currently buffered.
func (b *Buffer) Len() int {
	return b.bb.Len()
}

// Reset discards the buffered bytes without returning the buffer to the pool.
func (b *Buffer) Reset() {
	b.bb.Reset()
}

// Release returns the buffer to the pool. The buffer must not be used afterward.
func (b *Buffer) Release() {
	b.mgr.pool.Put(b.bb)
	b.bb = nil
}
