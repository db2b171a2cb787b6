package canon

import "xmlsecflow/pkg/xmlevent"

// DSigNamespace is the XML-DSig core namespace URI.
const DSigNamespace = "http://www.w3.org/2000/09/xmldsig#"

var signatureQName = xmlevent.QName{URI: DSigNamespace, Local: "Signature"}

// EnvelopedSignatureTransform implements the enveloped-signature
// transform: it drops the <Signature> element (and everything nested in
// it) from the stream it forwards, since a reference over the document
// containing its own signature must not digest that signature.
type EnvelopedSignatureTransform struct {
	next  EventStage
	depth int // >0 while inside a suppressed Signature subtree
}

// NewEnvelopedSignatureTransform creates the transform.
func NewEnvelopedSignatureTransform() *EnvelopedSignatureTransform {
	return &EnvelopedSignatureTransform{}
}

func (e *EnvelopedSignatureTransform) setNext(next EventStage) {
	e.next = next
}

// HandleEvent forwards every event except those inside a Signature
// subtree.
func (e *EnvelopedSignatureTransform) HandleEvent(ev xmlevent.Event) error {
	switch ev.Kind {
	case xmlevent.StartElement:
		if e.depth > 0 {
			e.depth++
			return nil
		}
		if ev.Name.Equal(signatureQName) {
			e.depth = 1
			return nil
		}
		return e.next.HandleEvent(ev)
	case xmlevent.EndElement:
		if e.depth > 0 {
			e.depth--
			return nil
		}
		return e.next.HandleEvent(ev)
	default:
		if e.depth > 0 {
			return nil
		}
		return e.next.HandleEvent(ev)
	}
}
