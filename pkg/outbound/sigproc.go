package outbound

import (
	"context"
	"crypto"
	"encoding/base64"

	"xmlsecflow/pkg/algorithm"
	"xmlsecflow/pkg/canon"
	"xmlsecflow/pkg/digest"
	"xmlsecflow/pkg/helper/buf"
	"xmlsecflow/pkg/helper/errors"
	"xmlsecflow/pkg/token"
	"xmlsecflow/pkg/xmlevent"
)

// SignParams holds the SIGN action's configuration, matching the
// outbound parameter table: signature algorithm, digest algorithm,
// canonicalization algorithm, and the key-identifier type used to
// render KeyInfo.
type SignParams struct {
	SignatureAlgorithmURI        string
	DigestAlgorithmURI           string
	CanonicalizationAlgorithmURI string
	Transforms                   []canon.TransformSpec
	KeyIdentifierType            KeyIdentifierType
	SignatureID                  string
}

// KeyIdentifierType selects how KeyInfo locates the verifying key.
type KeyIdentifierType int

const (
	KeyIdentifierX509IssuerSerial KeyIdentifierType = iota
	KeyIdentifierX509SubjectName
	KeyIdentifierKeyName
)

type sigState int

const (
	sigIdle sigState = iota
	sigActive
	sigDone
)

// SignatureOutputProcessor is the signing half of the outbound
// pipeline: it watches for a configured target start-element,
// side-digests everything in that subtree through the same transform
// chain pkg/canon gives the inbound verifier, and once the subtree
// closes, emits a finished <Signature> element immediately following it
// — an enveloping sibling rather than a nested enveloped child, since
// the element has already been written to the sink by the time the
// signature can be computed.
type SignatureOutputProcessor struct {
	ctx    context.Context
	match  func(ev xmlevent.Event) bool
	params SignParams
	reg    *algorithm.Registry
	bufMgr *buf.Manager
	signer *token.Token

	state    sigState
	openName xmlevent.QName
	depth    int
	targetID string

	sink          *digest.Sink
	eventChain    *canon.EventChain
	signedInfoBuf []xmlevent.Event
}

// NewSignatureOutputProcessor builds a processor that signs the first
// subtree whose start-element satisfies match. signer supplies the
// signing key: SecretKeyFor for an HMAC signature algorithm,
// PrivateKeyFor otherwise.
func NewSignatureOutputProcessor(ctx context.Context, match func(xmlevent.Event) bool, params SignParams, reg *algorithm.Registry, bufMgr *buf.Manager, signer *token.Token) *SignatureOutputProcessor {
	if params.CanonicalizationAlgorithmURI == "" {
		params.CanonicalizationAlgorithmURI = algorithm.CanonExclusiveC14N
	}
	if params.DigestAlgorithmURI == "" {
		params.DigestAlgorithmURI = algorithm.DigestSHA1
	}
	return &SignatureOutputProcessor{
		ctx:    ctx,
		match:  match,
		params: params,
		reg:    reg,
		bufMgr: bufMgr,
		signer: signer,
	}
}

func (p *SignatureOutputProcessor) Done() bool { return p.state == sigDone }

// HandleEvent implements outbound.Handler. It never drops or delays the
// original stream; it only appends a constructed <Signature> once the
// signed subtree closes.
func (p *SignatureOutputProcessor) HandleEvent(ev xmlevent.Event) ([]xmlevent.Event, error) {
	switch p.state {
	case sigIdle:
		if ev.Kind != xmlevent.StartElement || !p.match(ev) {
			return []xmlevent.Event{ev}, nil
		}
		id, ok := ev.ID()
		if !ok {
			return nil, errors.InvalidSecurityf("signed element has no Id attribute for the Reference to target")
		}
		p.targetID = id
		p.openName = ev.Name
		p.depth = 1
		p.state = sigActive

		desc, err := p.reg.Lookup(p.params.DigestAlgorithmURI)
		if err != nil {
			return nil, err
		}
		p.sink = digest.NewSink(p.bufMgr, desc.HashFunc.New())
		chain, err := canon.BuildEventChain(p.params.Transforms, p.reg, p.sink)
		if err != nil {
			return nil, err
		}
		p.eventChain = chain
		if err := p.eventChain.HandleEvent(ev); err != nil {
			return nil, err
		}
		return []xmlevent.Event{ev}, nil

	case sigActive:
		switch ev.Kind {
		case xmlevent.StartElement:
			p.depth++
		case xmlevent.EndElement:
			p.depth--
		}
		if err := p.eventChain.HandleEvent(ev); err != nil {
			return nil, err
		}
		if ev.Kind == xmlevent.EndElement && p.depth == 0 && ev.Name.Equal(p.openName) {
			sigEvents, err := p.finalize()
			if err != nil {
				return nil, err
			}
			p.state = sigDone
			return append([]xmlevent.Event{ev}, sigEvents...), nil
		}
		return []xmlevent.Event{ev}, nil
	}
	return []xmlevent.Event{ev}, nil
}

func (p *SignatureOutputProcessor) finalize() ([]xmlevent.Event, error) {
	if err := p.sink.Close(); err != nil {
		return nil, err
	}
	digestValue := p.sink.Sum()

	sigID := p.params.SignatureID
	if sigID == "" {
		sigID = "sig-" + p.targetID
	}

	var siBuf []xmlevent.Event
	emit := func(e xmlevent.Event) { siBuf = append(siBuf, e) }
	buildSignedInfoEvents(emit, p.params, digestValue, p.targetID)

	var canonOut byteCapture
	c14n, err := canon.NewCanonicalizer(p.params.CanonicalizationAlgorithmURI, nil, &canonOut)
	if err != nil {
		return nil, err
	}
	for _, e := range siBuf {
		if err := c14n.HandleEvent(e); err != nil {
			return nil, err
		}
	}

	sigDesc, err := p.reg.Lookup(p.params.SignatureAlgorithmURI)
	if err != nil {
		return nil, err
	}

	var secretKey []byte
	var privKey crypto.PrivateKey
	if sigDesc.Family == algorithm.FamilyHMAC {
		secretKey, err = p.signer.SecretKeyFor(p.ctx, p.params.SignatureAlgorithmURI, token.UsageSignature, sigID)
	} else {
		privKey, err = p.signer.PrivateKeyFor(p.ctx, p.params.SignatureAlgorithmURI, token.UsageSignature, sigID)
	}
	if err != nil {
		return nil, err
	}

	sigValue, err := computeSignatureValue(sigDesc, secretKey, privKey, canonOut.bytes)
	if err != nil {
		return nil, err
	}

	var out []xmlevent.Event
	emitOut := func(e xmlevent.Event) { out = append(out, e) }
	emitOut(startEl("Signature", attr("Id", sigID)))
	for _, e := range siBuf {
		emitOut(e)
	}
	emitOut(startEl("SignatureValue"))
	emitOut(textEl(base64.StdEncoding.EncodeToString(sigValue)))
	emitOut(endEl("SignatureValue"))
	emitOut(startEl("KeyInfo"))
	for _, e := range buildKeyInfoEvents(p.params.KeyIdentifierType, p.signer) {
		emitOut(e)
	}
	emitOut(endEl("KeyInfo"))
	emitOut(endEl("Signature"))
	return out, nil
}

// byteCapture is a minimal io.Writer that accumulates bytes, used to
// capture the canonical SignedInfo form for signing without routing it
// through a pooled digest.Sink (the SignedInfo canonicalization is
// small and single-shot, unlike the subtree digest above).
type byteCapture struct{ bytes []byte }

func (s *byteCapture) Write(p []byte) (int, error) {
	s.bytes = append(s.bytes, p...)
	return len(p), nil
}
