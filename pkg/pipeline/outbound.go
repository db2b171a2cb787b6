package pipeline

import (
	"context"
	"io"

	"xmlsecflow/pkg/algorithm"
	"xmlsecflow/pkg/outbound"
	"xmlsecflow/pkg/token"
	"xmlsecflow/pkg/xmlevent"
	"xmlsecflow/pkg/xmlio"
)

// Writer is the External API's outbound handle returned by
// BeginOutbound: writer.write(event), writer.close().
type Writer struct {
	chain *outbound.Chain
}

// Write implements xmlevent.Writer.
func (w *Writer) Write(ev xmlevent.Event) error { return w.chain.Write(ev) }

// Close implements xmlevent.Writer, closing the underlying sink.
func (w *Writer) Close() error { return w.chain.Close() }

// SignOptions configures an outbound SIGN action over the first
// start-element match matches.
type SignOptions struct {
	Match  func(xmlevent.Event) bool
	Params outbound.SignParams
	Signer *token.Token
}

// EncryptOptions configures an outbound ENCRYPT action over the first
// start-element match matches.
type EncryptOptions struct {
	Match     func(xmlevent.Event) bool
	Params    outbound.EncryptParams
	Transport *token.Token
}

// BeginOutbound wraps sink with the outbound processor chain. sign
// and/or encrypt may each be nil to skip that action; when both are
// set, signing runs first so the signature covers the plaintext
// element the encryption processor later replaces with ciphertext
// (sign-then-encrypt).
func BeginOutbound(ctx context.Context, doc *DocumentContext, sink io.Writer, sign *SignOptions, encrypt *EncryptOptions) *Writer {
	doc.wireMetrics()

	chain := outbound.NewChain(xmlio.NewWriter(sink))

	if sign != nil {
		params := sign.Params
		if params.SignatureAlgorithmURI == "" {
			if uri, err := algorithm.DefaultSignatureAlgorithmFor(signerKeyKind(sign.Signer)); err == nil {
				params.SignatureAlgorithmURI = uri
			}
		}
		chain.Append(outbound.NewSignatureOutputProcessor(ctx, sign.Match, params, doc.Registry, doc.BufMgr, sign.Signer))
	}

	if encrypt != nil {
		chain.Append(outbound.NewEncryptionOutputProcessor(ctx, encrypt.Match, encrypt.Params, doc.Registry, encrypt.Transport))
	}

	return &Writer{chain: chain}
}

// signerKeyKind maps a signing token's kind to the key-kind names
// algorithm.DefaultSignatureAlgorithmFor expects, so the SIGN action's
// signature-algorithm parameter can be derived from the key when the
// caller leaves it unset.
func signerKeyKind(signer *token.Token) string {
	if signer == nil {
		return ""
	}
	switch signer.Kind {
	case token.KindSymmetric:
		return "symmetric"
	case token.KindX509:
		return "RSA"
	default:
		return "RSA"
	}
}
