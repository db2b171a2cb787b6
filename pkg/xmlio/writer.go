package xmlio

import (
	"fmt"
	"io"

	"xmlsecflow/pkg/xmlevent"
)

// Writer pushes xmlevent.Events to an underlying io.Writer, serializing
// them as XML text. Events carry (namespace-URI, local-name) pairs with
// no lexical prefix, so namespaced elements are serialized with default
// xmlns declarations: the writer tracks the in-scope default namespace
// and declares a new one whenever an element's URI differs from it.
// It performs no canonicalization — that is the Canonical/Transform
// Chain's job (pkg/canon).
type Writer struct {
	w         io.Writer
	defaultNS []string
	err       error
}

// NewWriter creates a Writer over w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

func (w *Writer) writeString(s string) {
	if w.err != nil {
		return
	}
	_, w.err = io.WriteString(w.w, s)
}

func (w *Writer) currentDefaultNS() string {
	if len(w.defaultNS) == 0 {
		return ""
	}
	return w.defaultNS[len(w.defaultNS)-1]
}

// Write serializes a single event.
func (w *Writer) Write(ev xmlevent.Event) error {
	if w.err != nil {
		return w.err
	}
	switch ev.Kind {
	case xmlevent.DocumentStart, xmlevent.DocumentEnd:
		// No bytes correspond to document boundaries.
	case xmlevent.StartElement:
		w.writeString("<" + ev.Name.Local)
		newDefault := w.currentDefaultNS()
		declaredDefault := false
		for _, ns := range ev.Namespaces {
			if ns.Prefix == "" {
				w.writeString(fmt.Sprintf(` xmlns="%s"`, escapeAttr(ns.URI)))
				newDefault = ns.URI
				declaredDefault = true
			} else {
				w.writeString(fmt.Sprintf(` xmlns:%s="%s"`, ns.Prefix, escapeAttr(ns.URI)))
			}
		}
		if !declaredDefault && ev.Name.URI != w.currentDefaultNS() {
			w.writeString(fmt.Sprintf(` xmlns="%s"`, escapeAttr(ev.Name.URI)))
			newDefault = ev.Name.URI
		}
		for _, a := range ev.Attrs {
			w.writeString(fmt.Sprintf(` %s="%s"`, a.Name.Local, escapeAttr(a.Value)))
		}
		w.writeString(">")
		w.defaultNS = append(w.defaultNS, newDefault)
	case xmlevent.EndElement:
		w.writeString("</" + ev.Name.Local + ">")
		if len(w.defaultNS) > 0 {
			w.defaultNS = w.defaultNS[:len(w.defaultNS)-1]
		}
	case xmlevent.Text:
		w.writeString(escapeText(ev.Data))
	case xmlevent.Comment:
		w.writeString("<!--" + ev.Data + "-->")
	case xmlevent.ProcessingInstruction:
		w.writeString("<?" + ev.Target + " " + ev.Data + "?>")
	}
	return w.err
}

// Close flushes any buffered state. The underlying writer is not closed.
func (w *Writer) Close() error {
	return w.err
}

func escapeAttr(s string) string {
	return escapeText(s)
}

func escapeText(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '&':
			out = append(out, "&amp;"...)
		case '<':
			out = append(out, "&lt;"...)
		case '>':
			out = append(out, "&gt;"...)
		case '"':
			out = append(out, "&quot;"...)
		default:
			out = append(out, s[i])
		}
	}
	return string(out)
}
