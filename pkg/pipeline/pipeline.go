// Package pipeline is the engine's entry point: BeginInbound and
// BeginOutbound wire the algorithm registry, resource resolvers, token
// model, event bus, and the input/output processor chains together the
// way a host application constructs them once per document.
package pipeline

import (
	"context"
	"io"

	"xmlsecflow/pkg/algorithm"
	"xmlsecflow/pkg/enckey"
	"xmlsecflow/pkg/helper/buf"
	"xmlsecflow/pkg/helper/log"
	"xmlsecflow/pkg/inbound"
	"xmlsecflow/pkg/metrics"
	"xmlsecflow/pkg/resolver"
	"xmlsecflow/pkg/secevent"
	"xmlsecflow/pkg/token"
	"xmlsecflow/pkg/xmlevent"
	"xmlsecflow/pkg/xmlio"
)

// DocumentContext is the per-document security context: the token
// provider registry and event bus one BeginInbound/BeginOutbound call
// shares across everything it wires together. Tokens, references, and
// providers live exactly as long as one DocumentContext — callers
// construct a fresh one per document, never share it across concurrent
// documents.
type DocumentContext struct {
	Registry  *algorithm.Registry
	Bus       *secevent.Bus
	Providers *token.Registry
	BufMgr    *buf.Manager
	Logger    log.Logger

	// Metrics, when set, is registered on Bus as a listener the first
	// time BeginInbound or BeginOutbound runs over this context, so
	// algorithm-used and verification-outcome events land in its
	// Prometheus series. The registry is normally process-wide and
	// shared across document contexts; the bus is not.
	Metrics *metrics.Registry

	metricsWired bool
}

// NewDocumentContext builds a fresh per-document context. reg is
// normally the one process-wide algorithm registry the host constructs
// once and shares across documents; logger may be nil. Assign Metrics
// before the first Begin call to feed a shared Prometheus registry.
func NewDocumentContext(reg *algorithm.Registry, logger log.Logger) *DocumentContext {
	if logger == nil {
		logger = log.NewBasicLogger(log.InfoLevel)
	}
	return &DocumentContext{
		Registry:  reg,
		Bus:       secevent.NewBus(),
		Providers: token.NewRegistry(),
		BufMgr:    buf.NewManager(),
		Logger:    logger,
	}
}

// VerifyOptions configures an inbound verification/decryption pass.
type VerifyOptions struct {
	Limits inbound.Limits

	// VerifyingToken supplies the key material SignatureValue is
	// checked against. A nil token skips SignatureValue verification;
	// reference digests are still computed and compared.
	VerifyingToken *token.Token

	// ExternalResolver fetches references outside the document. A nil
	// resolver refuses every external reference regardless of
	// Limits.AllowExternalReferences.
	ExternalResolver *resolver.ExternalRegistry

	// DecryptionResolver locates the wrapping token behind each
	// EncryptedKey. A nil resolver disables decryption entirely:
	// EncryptedData elements pass through to the caller undecrypted.
	DecryptionResolver enckey.WrappingTokenResolver
}

// Reader is the External API's inbound handle returned by
// BeginInbound: a decorated xmlevent.Reader plus access to the most
// recently completed signature's verification outcome.
type Reader struct {
	chain  *inbound.Chain
	header *inbound.SecurityHeaderHandler
}

// Next implements xmlevent.Reader, pulling the next post-processing
// event (decrypted, with signature verification running as a side
// effect) from the document.
func (r *Reader) Next() (xmlevent.Event, error) { return r.chain.Next() }

// LastOutcome returns the most recently completed <Signature>'s
// verification outcome: verified, per-reference statuses, and whether
// any signature has closed yet.
func (r *Reader) LastOutcome() (verified bool, statuses []secevent.ReferenceStatus, ok bool) {
	return r.header.LastOutcome()
}

// Append installs an additional handler at the end of the chain, for
// callers layering their own inbound processing on top of this one.
func (r *Reader) Append(h inbound.Handler) { r.chain.Append(h) }

// BeginInbound wraps src with the full inbound pipeline: decryption,
// signature-header parsing, reference verification. When
// opts.DecryptionResolver is set, EncryptedData elements are decrypted
// ahead of the input processor chain (so a sign-then-encrypt
// document's SignedInfo becomes visible to the chain only after
// decryption); the security header handler is always the chain's first
// handler so it observes every event before any handler appended later.
func BeginInbound(ctx context.Context, doc *DocumentContext, src io.Reader, opts VerifyOptions) *Reader {
	doc.wireMetrics()

	var rdr xmlevent.Reader = xmlio.NewReader(src)

	if opts.DecryptionResolver != nil {
		encHandler := enckey.NewHandler(doc.Registry, doc.Bus, opts.DecryptionResolver, doc.Logger)
		rdr = inbound.NewDecryptingReader(ctx, rdr, encHandler, doc.Providers)
	}

	chain := inbound.NewChain(rdr)

	var verifier inbound.SignatureValueVerifier
	if opts.VerifyingToken != nil {
		verifier = NewTokenSignatureValueVerifier(doc.Registry, opts.VerifyingToken)
	}

	header := inbound.NewSecurityHeaderHandler(ctx, chain, opts.Limits, doc.Registry, doc.Bus, opts.ExternalResolver, doc.BufMgr, verifier)

	return &Reader{chain: chain, header: header}
}

// wireMetrics registers the context's metrics registry as a bus
// listener, once, no matter how many Begin calls share the context.
func (d *DocumentContext) wireMetrics() {
	if d.Metrics == nil || d.metricsWired {
		return
	}
	d.Bus.Register(d.Metrics.Listener())
	d.metricsWired = true
}
