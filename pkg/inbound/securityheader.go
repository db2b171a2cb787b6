package inbound

import (
	"bytes"
	"context"
	"encoding/base64"
	"sort"
	"strings"

	"xmlsecflow/pkg/algorithm"
	"xmlsecflow/pkg/canon"
	"xmlsecflow/pkg/helper/buf"
	"xmlsecflow/pkg/helper/errors"
	"xmlsecflow/pkg/resolver"
	"xmlsecflow/pkg/secevent"
	"xmlsecflow/pkg/xmlevent"
)

var (
	signatureName  = xmlevent.QName{URI: canon.DSigNamespace, Local: "Signature"}
	algorithmAttr  = xmlevent.QName{Local: "Algorithm"}
	uriAttr        = xmlevent.QName{Local: "URI"}
	typeAttr       = xmlevent.QName{Local: "Type"}
	prefixListAttr = xmlevent.QName{Local: "PrefixList"}
)

// SignatureValueVerifier checks a SignatureValue against the canonical
// bytes of the SignedInfo that produced it. It is supplied by the
// caller (typically pkg/pipeline) rather than owned by this package:
// KeyInfo-to-token resolution belongs to the token layer, which this
// component only feeds events to, never resolves itself.
type SignatureValueVerifier interface {
	VerifySignatureValue(ctx context.Context, canonicalSignedInfo []byte, signatureAlgorithmURI string, signatureValue []byte) (bool, error)
}

// SecurityHeaderHandler is the input chain's resident watcher for
// <Signature> elements. It parses SignedInfo incrementally as events
// stream by, enforces the secure-processing limits before any
// cryptographic work, installs a ReferenceVerifier per matched
// same-document reference, and fetches/digests external references
// once the signature closes.
type SecurityHeaderHandler struct {
	chain  *Chain
	limits Limits
	reg    *algorithm.Registry
	bus    *secevent.Bus
	ext    *resolver.ExternalRegistry
	bufMgr *buf.Manager
	sigVal SignatureValueVerifier
	ctx    context.Context

	// preBuffer replays events from document start for the first
	// <Signature>'s same-document references whose target start-element
	// already streamed by before SignedInfo was fully parsed (the
	// enveloped-signature convention: the signed root opens before the
	// nested Signature element). Buffering stops permanently once the
	// first SignedInfo closes: a later, second <Signature> in the same
	// document may only reference elements occurring after that point.
	preBuffer []xmlevent.Event
	buffering bool

	pending map[string]*pendingRef // fragment -> reference awaiting a live match

	// fired records fragments whose verifier has already been created.
	// A later element carrying the same id means the reference would
	// fire twice, which is fatal at match time: ids are unique per
	// document, so a second carrier is an attack or a malformed input
	// either way.
	fired map[string]bool

	parsing     *sigParse
	lastOutcome *sigParse
}

type pendingRef struct {
	idx   int
	ref   Reference
	match *resolver.SameDocument
}

// indexedRef carries a Reference together with its SignedInfo sequence
// index, which the reported reference index must equal.
type indexedRef struct {
	idx int
	ref Reference
}

// sigParse is the incremental parse state for one <Signature>...</Signature>.
type sigParse struct {
	id string

	skipDepth int

	inSignedInfo     bool
	signedInfoEvents []xmlevent.Event

	curRef       *Reference
	curTransform *canon.TransformSpec

	capturingDigest bool
	capturingSigVal bool
	textBuf         strings.Builder

	signedInfo SignedInfo
	sigValue   []byte

	matchedFragments map[string]bool
	externalRefs     []indexedRef

	// outstanding counts verifiers still active in the chain; closed
	// records that </Signature> has streamed by. The outcome is only
	// finalized once both the signature has closed and every verifier
	// has resolved (an enveloped signature's verifier outlives the
	// Signature element that declared it).
	outstanding int
	closed      bool

	statuses []secevent.ReferenceStatus
	verified bool

	signedInfoCanonical []byte
}

// NewSecurityHeaderHandler constructs the handler and registers it as
// the first entry of chain. bus, ext, and sigVal may be nil: a nil bus
// disables event emission, a nil ext refuses any external reference
// regardless of limits.AllowExternalReferences, and a nil sigVal skips
// SignatureValue verification (reference digesting still runs).
func NewSecurityHeaderHandler(ctx context.Context, chain *Chain, limits Limits, reg *algorithm.Registry, bus *secevent.Bus, ext *resolver.ExternalRegistry, bufMgr *buf.Manager, sigVal SignatureValueVerifier) *SecurityHeaderHandler {
	h := &SecurityHeaderHandler{
		chain:     chain,
		limits:    limits,
		reg:       reg,
		bus:       bus,
		ext:       ext,
		bufMgr:    bufMgr,
		sigVal:    sigVal,
		ctx:       ctx,
		buffering: true,
		pending:   map[string]*pendingRef{},
		fired:     map[string]bool{},
	}
	chain.Append(h)
	return h
}

// Done is always false: the handler lives for the life of the document,
// ready to pick up a subsequent <Signature> element.
func (h *SecurityHeaderHandler) Done() bool { return false }

// HandleEvent implements Handler. It never replaces or drops events: it
// only observes them to drive SignedInfo parsing, reference matching,
// and signature finalization.
func (h *SecurityHeaderHandler) HandleEvent(ev xmlevent.Event) (xmlevent.Event, error) {
	if h.buffering {
		h.preBuffer = append(h.preBuffer, ev)
	}

	if ev.Kind == xmlevent.StartElement {
		if id, ok := ev.ID(); ok && h.fired[id] {
			return ev, errors.DuplicateReferencef("reference #%s matched more than once", id)
		}
	}

	if err := h.matchPending(ev); err != nil {
		return ev, err
	}

	if h.parsing == nil {
		if ev.Kind == xmlevent.StartElement && ev.Name.Equal(signatureName) {
			id, _ := ev.ID()
			h.parsing = &sigParse{id: id, matchedFragments: map[string]bool{}}
		}
		return ev, nil
	}

	if err := h.feedParse(ev); err != nil {
		return ev, err
	}
	return ev, nil
}

// matchPending tests every still-unmatched same-document reference
// against a live start-element (the common case for a reference
// declared before its target streams by).
func (h *SecurityHeaderHandler) matchPending(ev xmlevent.Event) error {
	if ev.Kind != xmlevent.StartElement || len(h.pending) == 0 {
		return nil
	}
	for frag, p := range h.pending {
		if !p.match.Matches(ev) {
			continue
		}
		delete(h.pending, frag)
		h.fired[frag] = true
		v, err := NewReferenceVerifier(p.ref, p.match, h.reg, h.bufMgr)
		if err != nil {
			return err
		}
		if _, err := v.HandleEvent(ev); err != nil {
			return err
		}
		h.chain.Append(v)
		h.trackVerifier(frag, v, p.idx)
	}
	return nil
}

// trackVerifier records the outcome of a same-document verifier once it
// finishes, by wrapping it so the chain's removal still reaches us.
// Rather than polling, we attach a completion observer: the simplest
// correct mechanism available is a second handler appended right after
// v that checks v.Done() on every event and reports once.
func (h *SecurityHeaderHandler) trackVerifier(fragment string, v *ReferenceVerifier, idx int) {
	sp := h.parsing
	sp.outstanding++
	reported := false
	observer := observerFunc(func(ev xmlevent.Event) (xmlevent.Event, error) {
		if !reported && v.Done() {
			reported = true
			sp.matchedFragments[fragment] = true
			status := secevent.ReferenceStatus{Index: idx, URI: v.ref.URI, Verified: v.Result()}
			if v.Err() != nil {
				status.Err = v.Err()
			}
			sp.statuses = append(sp.statuses, status)
			h.emitDigestUsed(v.ref, fragment)
			sp.outstanding--
			if sp.closed && sp.outstanding == 0 {
				return ev, h.finalizeSignature(sp)
			}
		}
		return ev, nil
	})
	h.chain.Append(observerHandler{fn: observer, done: &reported})
}

type observerFunc func(ev xmlevent.Event) (xmlevent.Event, error)

type observerHandler struct {
	fn   observerFunc
	done *bool
}

func (o observerHandler) HandleEvent(ev xmlevent.Event) (xmlevent.Event, error) { return o.fn(ev) }
func (o observerHandler) Done() bool                                            { return *o.done }

func (h *SecurityHeaderHandler) emitDigestUsed(ref Reference, correlationID string) {
	if h.bus == nil {
		return
	}
	h.bus.Dispatch(secevent.Event{
		Kind:          secevent.AlgorithmUsed,
		CorrelationID: correlationID,
		AlgorithmURI:  ref.DigestAlgorithmURI,
		Usage:         "digest",
	})
}

func (h *SecurityHeaderHandler) feedParse(ev xmlevent.Event) error {
	sp := h.parsing

	if sp.inSignedInfo {
		sp.signedInfoEvents = append(sp.signedInfoEvents, ev)
	}

	switch ev.Kind {
	case xmlevent.StartElement:
		return h.parseStart(ev)
	case xmlevent.EndElement:
		return h.parseEnd(ev)
	case xmlevent.Text:
		if sp.capturingDigest || sp.capturingSigVal {
			sp.textBuf.WriteString(ev.Data)
		}
	}
	return nil
}

func (h *SecurityHeaderHandler) parseStart(ev xmlevent.Event) error {
	sp := h.parsing

	if sp.skipDepth > 0 {
		sp.skipDepth++
		return nil
	}

	switch ev.Name.Local {
	case "Signature":
		// Nested <Signature> (e.g. counter-signatures) are not matched
		// against resolvers and treated as opaque: this engine supports
		// one signature at a time, matching the Non-goals' scope of
		// same-document and external references only.
		sp.skipDepth = 1
	case "SignedInfo":
		sp.inSignedInfo = true
		sp.signedInfoEvents = append(sp.signedInfoEvents, ev)
	case "CanonicalizationMethod":
		if sp.curRef == nil {
			if v, ok := ev.Attr(algorithmAttr); ok {
				sp.signedInfo.CanonicalizationAlgorithmURI = v
			}
		}
	case "SignatureMethod":
		if sp.curRef == nil {
			if v, ok := ev.Attr(algorithmAttr); ok {
				sp.signedInfo.SignatureAlgorithmURI = v
			}
		}
	case "Reference":
		if sp.inSignedInfo {
			uri, _ := ev.Attr(uriAttr)
			typeURI, _ := ev.Attr(typeAttr)
			sp.curRef = &Reference{URI: uri, TypeURI: typeURI}
		}
	case "Transform":
		if sp.curRef != nil {
			uri, _ := ev.Attr(algorithmAttr)
			sp.curTransform = &canon.TransformSpec{AlgorithmURI: uri}
		}
	case "InclusiveNamespaces":
		if sp.curTransform != nil {
			if v, ok := ev.Attr(prefixListAttr); ok && v != "" {
				sp.curTransform.InclusiveNamespacePrefixes = strings.Fields(v)
			}
		}
	case "DigestMethod":
		if sp.curRef != nil {
			if v, ok := ev.Attr(algorithmAttr); ok {
				sp.curRef.DigestAlgorithmURI = v
			}
		}
	case "DigestValue":
		if sp.curRef != nil {
			sp.capturingDigest = true
			sp.textBuf.Reset()
		}
	case "SignatureValue":
		if !sp.inSignedInfo {
			sp.capturingSigVal = true
			sp.textBuf.Reset()
		}
	case "KeyInfo":
		// KeyInfo-to-token resolution is delegated to the token layer;
		// this component only skips the subtree without losing its place.
		sp.skipDepth = 1
	default:
		if sp.curTransform != nil {
			// Unrecognized transform parameter element (e.g. an XPath
			// expression body): skip its subtree.
			sp.skipDepth = 1
		}
	}
	return nil
}

func (h *SecurityHeaderHandler) parseEnd(ev xmlevent.Event) error {
	sp := h.parsing

	if sp.skipDepth > 0 {
		sp.skipDepth--
		return nil
	}

	switch ev.Name.Local {
	case "DigestValue":
		if sp.capturingDigest {
			decoded, err := decodeBase64(sp.textBuf.String())
			if err != nil {
				return err
			}
			sp.curRef.DigestValue = decoded
			sp.capturingDigest = false
		}
	case "Transform":
		if sp.curRef != nil && sp.curTransform != nil {
			sp.curRef.Transforms = append(sp.curRef.Transforms, *sp.curTransform)
			sp.curTransform = nil
		}
	case "Reference":
		if sp.curRef != nil {
			if len(sp.curRef.Transforms) > h.limits.MaxTransformsPerReference {
				return errors.LimitExceededf("reference %s declares %d transforms, exceeding the limit of %d", sp.curRef.URI, len(sp.curRef.Transforms), h.limits.MaxTransformsPerReference)
			}
			sp.signedInfo.References = append(sp.signedInfo.References, *sp.curRef)
			sp.curRef = nil
		}
	case "SignedInfo":
		sp.inSignedInfo = false
		if err := h.onSignedInfoClosed(); err != nil {
			return err
		}
	case "SignatureValue":
		if sp.capturingSigVal {
			decoded, err := decodeBase64(sp.textBuf.String())
			if err != nil {
				return err
			}
			sp.sigValue = decoded
			sp.capturingSigVal = false
		}
	case "Signature":
		return h.onSignatureClosed()
	}
	return nil
}

func decodeBase64(s string) ([]byte, error) {
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, errors.InvalidSecurityf("malformed base64 content: %v", err)
	}
	return decoded, nil
}

// onSignedInfoClosed enforces the secure-processing limits, rejects
// manifests and disabled external references, and installs a reference verifier
// for every same-document reference whose target already streamed by
// (found in preBuffer) or arranges to match it live going forward.
func (h *SecurityHeaderHandler) onSignedInfoClosed() error {
	sp := h.parsing

	if len(sp.signedInfo.References) > h.limits.MaxReferencesPerManifest {
		return errors.LimitExceededf("signature declares %d references, exceeding the limit of %d", len(sp.signedInfo.References), h.limits.MaxReferencesPerManifest)
	}

	seenFragments := map[string]bool{}
	for _, ref := range sp.signedInfo.References {
		if ref.URI == "" {
			return errors.MissingRequiredElementf("reference has no URI")
		}
		if ref.TypeURI == algorithm.ManifestType && !h.limits.AllowManifests {
			return errors.InvalidSecurityf("manifest references are disabled")
		}
		if strings.HasPrefix(ref.URI, "#") {
			frag := strings.TrimPrefix(ref.URI, "#")
			if seenFragments[frag] {
				return errors.DuplicateReferencef("reference %s matched more than once", ref.URI)
			}
			seenFragments[frag] = true
		} else if !h.limits.AllowExternalReferences {
			return errors.InvalidSecurityf("external reference resolution disabled: %s", ref.URI)
		}
	}

	if err := h.buildSignedInfoCanonicalBytes(); err != nil {
		return err
	}

	for refIdx, ref := range sp.signedInfo.References {
		if !strings.HasPrefix(ref.URI, "#") {
			sp.externalRefs = append(sp.externalRefs, indexedRef{idx: refIdx, ref: ref})
			continue
		}
		frag := strings.TrimPrefix(ref.URI, "#")
		match, err := resolver.NewSameDocument(ref.URI)
		if err != nil {
			return err
		}
		if idx, found := findBufferedMatch(h.preBuffer, match); found {
			if _, dup := findBufferedMatchFrom(h.preBuffer, match, idx+1); dup {
				return errors.DuplicateReferencef("reference %s matched more than once", ref.URI)
			}
			h.fired[frag] = true
			v, err := NewReferenceVerifier(ref, match, h.reg, h.bufMgr)
			if err != nil {
				return err
			}
			for i := idx; i < len(h.preBuffer); i++ {
				if _, err := v.HandleEvent(h.preBuffer[i]); err != nil {
					return err
				}
				if v.Done() {
					break
				}
			}
			if v.Done() {
				sp.matchedFragments[frag] = true
				status := secevent.ReferenceStatus{Index: refIdx, URI: ref.URI, Verified: v.Result()}
				if v.Err() != nil {
					status.Err = v.Err()
				}
				sp.statuses = append(sp.statuses, status)
				h.emitDigestUsed(ref, frag)
			} else {
				// Target closes beyond the buffered prefix (e.g. an
				// enveloped signature's root): continue live from here
				// on, same as a forward reference.
				h.chain.Append(v)
				h.trackVerifier(frag, v, refIdx)
			}
		} else {
			h.pending[frag] = &pendingRef{idx: refIdx, ref: ref, match: match}
		}
	}

	h.buffering = false
	h.preBuffer = nil
	return nil
}

func findBufferedMatch(buffered []xmlevent.Event, match *resolver.SameDocument) (int, bool) {
	return findBufferedMatchFrom(buffered, match, 0)
}

func findBufferedMatchFrom(buffered []xmlevent.Event, match *resolver.SameDocument, from int) (int, bool) {
	for i := from; i < len(buffered); i++ {
		if match.Matches(buffered[i]) {
			return i, true
		}
	}
	return 0, false
}

// buildSignedInfoCanonicalBytes re-canonicalizes the buffered SignedInfo
// events with the declared canonicalization algorithm, producing the
// exact bytes a signature-value check must verify.
func (h *SecurityHeaderHandler) buildSignedInfoCanonicalBytes() error {
	sp := h.parsing
	canonURI := sp.signedInfo.CanonicalizationAlgorithmURI
	if canonURI == "" {
		canonURI = algorithm.CanonC14N10OmitComments
	}
	var out bytes.Buffer
	chain, err := canon.BuildEventChain([]canon.TransformSpec{{AlgorithmURI: canonURI}}, h.reg, &out)
	if err != nil {
		return err
	}
	for _, ev := range sp.signedInfoEvents {
		if err := chain.HandleEvent(ev); err != nil {
			return err
		}
	}
	sp.signedInfoCanonical = out.Bytes()
	return nil
}

// onSignatureClosed fetches and digests any external references, fails
// on any same-document reference that never matched, and finalizes the
// signature's outcome — unless a verifier is still active (an enveloped
// signature's verifier completes only when the signed root closes), in
// which case finalization is deferred to the last verifier's completion
// observer. Parse state is reset for the next <Signature> either way.
func (h *SecurityHeaderHandler) onSignatureClosed() error {
	sp := h.parsing

	for frag := range h.pending {
		delete(h.pending, frag)
		return errors.ReferenceUnprocessedf("same-document reference #%s never matched an element", frag)
	}

	for _, er := range sp.externalRefs {
		status, err := h.digestExternalReference(er.ref)
		if err != nil {
			return err
		}
		status.Index = er.idx
		sp.statuses = append(sp.statuses, status)
		h.emitDigestUsed(er.ref, er.ref.URI)
	}

	sp.closed = true
	h.parsing = nil
	if sp.outstanding > 0 {
		return nil
	}
	return h.finalizeSignature(sp)
}

// finalizeSignature computes the overall outcome once every reference
// has been resolved, verifies the SignatureValue if a verifier was
// supplied, and emits the verification-outcome event.
func (h *SecurityHeaderHandler) finalizeSignature(sp *sigParse) error {
	sort.Slice(sp.statuses, func(i, j int) bool { return sp.statuses[i].Index < sp.statuses[j].Index })

	overall := true
	for _, st := range sp.statuses {
		if !st.Verified || st.Err != nil {
			overall = false
		}
	}

	if overall && h.sigVal != nil && len(sp.sigValue) > 0 {
		ok, err := h.sigVal.VerifySignatureValue(h.ctx, sp.signedInfoCanonical, sp.signedInfo.SignatureAlgorithmURI, sp.sigValue)
		if err != nil {
			return err
		}
		overall = ok
	}
	sp.verified = overall

	if h.bus != nil {
		correlationID := sp.id
		if correlationID == "" {
			correlationID = secevent.NewCorrelationID()
		}
		h.bus.Dispatch(secevent.Event{
			Kind:              secevent.VerificationOutcome,
			CorrelationID:     correlationID,
			SignatureID:       sp.id,
			Verified:          sp.verified,
			ReferenceStatuses: sp.statuses,
		})
	}

	h.lastOutcome = sp
	return nil
}

func (h *SecurityHeaderHandler) digestExternalReference(ref Reference) (secevent.ReferenceStatus, error) {
	if h.ext == nil {
		return secevent.ReferenceStatus{}, errors.InvalidSecurityf("external reference resolution disabled: %s", ref.URI)
	}
	rc, err := h.ext.Resolve(h.ctx, ref.URI)
	if err != nil {
		return secevent.ReferenceStatus{}, err
	}
	defer rc.Close()

	desc, err := h.reg.Lookup(ref.DigestAlgorithmURI)
	if err != nil {
		return secevent.ReferenceStatus{}, err
	}
	sink := newDigestSink(h.bufMgr, desc)
	byteChain, err := canon.BuildByteChain(ref.Transforms, sink)
	if err != nil {
		return secevent.ReferenceStatus{}, err
	}
	if _, err := copyAll(byteChain, rc); err != nil {
		return secevent.ReferenceStatus{}, err
	}
	if err := byteChain.Close(); err != nil {
		return secevent.ReferenceStatus{}, err
	}
	if err := sink.Close(); err != nil {
		return secevent.ReferenceStatus{}, err
	}
	return secevent.ReferenceStatus{URI: ref.URI, Verified: sink.Equal(ref.DigestValue)}, nil
}

// LastOutcome returns the most recently completed signature's
// verification result: the boolean and the per-reference status array,
// sorted by SignedInfo sequence index. Valid only after the
// corresponding signature has fully resolved.
func (h *SecurityHeaderHandler) LastOutcome() (verified bool, statuses []secevent.ReferenceStatus, ok bool) {
	if h.lastOutcome == nil {
		return false, nil, false
	}
	return h.lastOutcome.verified, h.lastOutcome.statuses, true
}
