// Package digest implements the write-only byte sink that every
// reference verification and signature generation digests through: it
// forwards writes to a streaming hash and remembers the final digest
// exactly once, after being closed.
package digest

import (
	"crypto/subtle"
	"hash"

	"xmlsecflow/pkg/helper/buf"
	"xmlsecflow/pkg/helper/errors"
)

// Sink is a write-only byte sink over a streaming hash.Hash. It wraps a
// small user-space buffer (backed by the shared buffer pool) so that
// per-byte updates emitted by canonicalization don't dominate the cost
// of hashing a subtree.
type Sink struct {
	h      hash.Hash
	buf    *buf.Buffer
	closed bool
	sum    []byte
}

const flushThreshold = 4096

// NewSink creates a digest sink over h. h must be freshly constructed
// (no prior writes) since Sink owns its entire lifetime.
func NewSink(mgr *buf.Manager, h hash.Hash) *Sink {
	return &Sink{h: h, buf: mgr.Get()}
}

// Write buffers p and flushes to the hash once the buffer grows past the
// flush threshold. Writing after Close returns an error.
func (s *Sink) Write(p []byte) (int, error) {
	if s.closed {
		return 0, errors.Newf("digest sink: write after close")
	}
	n, err := s.buf.Write(p)
	if err != nil {
		return n, err
	}
	if s.buf.Len() >= flushThreshold {
		s.flush()
	}
	return n, nil
}

func (s *Sink) flush() {
	if s.buf.Len() == 0 {
		return
	}
	_, _ = s.h.Write(s.buf.Bytes())
	s.buf.Reset()
}

// Close flushes any buffered bytes, computes the final digest, and
// releases the sink's pooled buffer. It is idempotent.
func (s *Sink) Close() error {
	if s.closed {
		return nil
	}
	s.flush()
	s.sum = s.h.Sum(nil)
	s.buf.Release()
	s.closed = true
	return nil
}

// Sum returns the final digest. It must only be called after Close.
func (s *Sink) Sum() []byte {
	return s.sum
}

// Equal performs a constant-time comparison between the sink's final
// digest and an expected digest, guarding against timing side-channels
// on the digest comparison itself.
func (s *Sink) Equal(expected []byte) bool {
	if len(s.sum) != len(expected) {
		return false
	}
	return subtle.ConstantTimeCompare(s.sum, expected) == 1
}
