// Package xmlio adapts the standard library's encoding/xml tokenizer to
// the xmlevent.Reader interface and serializes events for the
// xmlevent.Writer interface, the two the streaming pipeline consumes.
//
// This is intentionally the thinnest possible shim: it tokenizes,
// tracks the ancestor stack xmlevent.Event.Path derives from, and
// re-emits. It performs no canonicalization, no cryptography, and no
// decision-making of its own — XML parsing proper is out of scope for
// the security pipeline and is assumed to be supplied by the host.
package xmlio

import (
	"encoding/xml"
	"io"

	"xmlsecflow/pkg/xmlevent"
)

// Reader pulls xmlevent.Events from an underlying io.Reader by
// tokenizing with encoding/xml.Decoder.
type Reader struct {
	dec     *xml.Decoder
	stack   []xmlevent.QName
	started bool
	ended   bool
}

// NewReader creates a Reader over r.
func NewReader(r io.Reader) *Reader {
	return &Reader{dec: xml.NewDecoder(r)}
}

func qnameOf(name xml.Name) xmlevent.QName {
	return xmlevent.QName{URI: name.Space, Local: name.Local}
}

func pathSnapshot(stack []xmlevent.QName) []xmlevent.QName {
	cp := make([]xmlevent.QName, len(stack))
	copy(cp, stack)
	return cp
}

// Next returns the next event. It returns io.EOF after DocumentEnd.
func (r *Reader) Next() (xmlevent.Event, error) {
	if !r.started {
		r.started = true
		return xmlevent.Event{Kind: xmlevent.DocumentStart}, nil
	}
	if r.ended {
		return xmlevent.Event{}, io.EOF
	}

	tok, err := r.dec.Token()
	if err == io.EOF {
		r.ended = true
		return xmlevent.Event{Kind: xmlevent.DocumentEnd}, nil
	}
	if err != nil {
		return xmlevent.Event{}, err
	}

	switch t := tok.(type) {
	case xml.StartElement:
		ev := xmlevent.Event{
			Kind: xmlevent.StartElement,
			Name: qnameOf(t.Name),
		}.WithPath(pathSnapshot(r.stack))
		for _, a := range t.Attr {
			switch {
			case a.Name.Space == "xmlns":
				ev.Namespaces = append(ev.Namespaces, xmlevent.NSDecl{Prefix: a.Name.Local, URI: a.Value})
			case a.Name.Space == "" && a.Name.Local == "xmlns":
				ev.Namespaces = append(ev.Namespaces, xmlevent.NSDecl{Prefix: "", URI: a.Value})
			default:
				ev.Attrs = append(ev.Attrs, xmlevent.Attr{Name: qnameOf(a.Name), Value: a.Value})
			}
		}
		r.stack = append(r.stack, ev.Name)
		return ev, nil

	case xml.EndElement:
		name := qnameOf(t.Name)
		if len(r.stack) > 0 {
			r.stack = r.stack[:len(r.stack)-1]
		}
		return xmlevent.Event{Kind: xmlevent.EndElement, Name: name}.WithPath(pathSnapshot(r.stack)), nil

	case xml.CharData:
		return xmlevent.Event{Kind: xmlevent.Text, Data: string(t)}.WithPath(pathSnapshot(r.stack)), nil

	case xml.Comment:
		return xmlevent.Event{Kind: xmlevent.Comment, Data: string(t)}.WithPath(pathSnapshot(r.stack)), nil

	case xml.ProcInst:
		return xmlevent.Event{Kind: xmlevent.ProcessingInstruction, Target: t.Target, Data: string(t.Inst)}.WithPath(pathSnapshot(r.stack)), nil

	default:
		// Directives and other token kinds carry no security-relevant
		// content; skip to the next token.
		return r.Next()
	}
}
