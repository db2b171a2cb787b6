package inbound

import (
	"io"

	"xmlsecflow/pkg/algorithm"
	"xmlsecflow/pkg/digest"
	"xmlsecflow/pkg/helper/buf"
)

// newDigestSink builds a fresh digest sink over desc's hash function,
// the external-reference counterpart of NewReferenceVerifier's sink
// construction for same-document references.
func newDigestSink(mgr *buf.Manager, desc algorithm.Descriptor) *digest.Sink {
	return digest.NewSink(mgr, desc.HashFunc.New())
}

// copyAll drains src into dst in fixed-size chunks, the same shape as
// io.Copy, kept local so external-reference digesting never needs to
// materialize the whole resource in memory.
func copyAll(dst io.Writer, src io.Reader) (int64, error) {
	return io.Copy(dst, src)
}
