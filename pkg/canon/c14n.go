package canon

import (
	"fmt"
	"io"
	"sort"

	"xmlsecflow/pkg/algorithm"
	"xmlsecflow/pkg/helper/errors"
	"xmlsecflow/pkg/xmlevent"
)

const xmlNamespaceURI = "http://www.w3.org/XML/1998/namespace"

// Canonicalizer is the terminal stage of an EventChain: it renders
// received events as canonical bytes and writes them to sink. It
// implements Canonical-XML 1.0/1.1 and Exclusive-XML-Canonicalization
// 1.0, selected by algorithm URI; the "omit comments" vs "with
// comments" variants are distinguished by the same switch.
//
// The event model carries (namespace-URI, local-name) pairs without the
// element's lexical prefix (see xmlevent.QName), so element names are
// rendered unprefixed with their namespace bound by default xmlns
// declarations, re-declared wherever the in-scope default changes. This
// is byte-identical to the reference algorithms for markup that binds
// namespaces through default declarations; prefixed source markup
// canonicalizes deterministically but not with its original prefix
// spellings. Attributes in the XML namespace use the reserved xml
// prefix; other namespaced attributes get synthetic prefixes assigned
// in first-seen order. Namespace declarations carried on events with a
// source prefix are rendered with that prefix (all of them for
// inclusive canonicalization, only the inclusive-prefix-list ones for
// exclusive). Node ordering follows the canonical algorithms exactly:
// namespace nodes first (sorted by prefix, the default declaration
// leading), then attributes sorted by namespace URI and local name.
type Canonicalizer struct {
	uri           string
	exclusive     bool
	withComments  bool
	inclusivePfxs map[string]bool

	sink io.Writer

	scopes   []nsScope
	assigned map[string]string
	nextPfx  int
}

// nsScope is the namespace context of one open element: the in-scope
// default namespace and the prefixed bindings rendered so far.
type nsScope struct {
	defaultNS string
	bindings  map[string]string
}

// NewCanonicalizer builds a canonicalizer for the given algorithm URI.
func NewCanonicalizer(uri string, inclusivePrefixes []string, sink io.Writer) (*Canonicalizer, error) {
	c := &Canonicalizer{
		uri:      uri,
		sink:     sink,
		assigned: map[string]string{},
	}
	switch uri {
	case algorithm.CanonC14N10OmitComments:
	case algorithm.CanonC14N10WithComments:
		c.withComments = true
	case algorithm.CanonExclusiveC14N:
		c.exclusive = true
	case algorithm.CanonExclusiveC14NComm:
		c.exclusive = true
		c.withComments = true
	case algorithm.CanonC14N11:
	default:
		return nil, errors.UnsupportedAlgorithmf("unsupported canonicalization algorithm: %s", uri)
	}
	if inclusivePrefixes != nil {
		c.inclusivePfxs = make(map[string]bool, len(inclusivePrefixes))
		for _, p := range inclusivePrefixes {
			c.inclusivePfxs[p] = true
		}
	}
	return c, nil
}

// prefixFor returns the synthetic prefix assigned to an attribute
// namespace URI, allocating one on first use.
func (c *Canonicalizer) prefixFor(uri string) string {
	if p, ok := c.assigned[uri]; ok {
		return p
	}
	p := fmt.Sprintf("n%d", c.nextPfx)
	c.nextPfx++
	c.assigned[uri] = p
	return p
}

func (c *Canonicalizer) attrQualified(n xmlevent.QName) string {
	switch n.URI {
	case "":
		return n.Local
	case xmlNamespaceURI:
		return "xml:" + n.Local
	default:
		return c.prefixFor(n.URI) + ":" + n.Local
	}
}

// HandleEvent renders one event as canonical bytes.
func (c *Canonicalizer) HandleEvent(ev xmlevent.Event) error {
	switch ev.Kind {
	case xmlevent.StartElement:
		return c.startElement(ev)
	case xmlevent.EndElement:
		return c.endElement(ev)
	case xmlevent.Text:
		return c.writeText(ev.Data)
	case xmlevent.Comment:
		if c.withComments {
			return c.write("<!--" + ev.Data + "-->")
		}
		return nil
	case xmlevent.ProcessingInstruction:
		return c.write("<?" + ev.Target + " " + ev.Data + "?>")
	default:
		return nil
	}
}

func (c *Canonicalizer) startElement(ev xmlevent.Event) error {
	parentDefault := ""
	bindings := map[string]string{}
	if n := len(c.scopes); n > 0 {
		parentDefault = c.scopes[n-1].defaultNS
		for p, u := range c.scopes[n-1].bindings {
			bindings[p] = u
		}
	}
	newDefault := parentDefault

	type nsDecl struct {
		prefix string
		uri    string
	}
	var decls []nsDecl

	if ev.Name.URI != parentDefault {
		decls = append(decls, nsDecl{prefix: "", uri: ev.Name.URI})
		newDefault = ev.Name.URI
	}

	// Source-prefixed declarations: superfluous re-declarations (same
	// binding already in scope) are dropped per the canonical
	// algorithms; exclusive canonicalization renders only prefixes named
	// in the inclusive-namespace list.
	for _, ns := range ev.Namespaces {
		if ns.Prefix == "" || ns.Prefix == "xml" {
			continue
		}
		if c.exclusive && !c.inclusivePfxs[ns.Prefix] {
			continue
		}
		if bindings[ns.Prefix] == ns.URI {
			continue
		}
		decls = append(decls, nsDecl{prefix: ns.Prefix, uri: ns.URI})
		bindings[ns.Prefix] = ns.URI
	}

	attrs := make([]xmlevent.Attr, len(ev.Attrs))
	copy(attrs, ev.Attrs)
	sort.Slice(attrs, func(i, j int) bool {
		if attrs[i].Name.URI != attrs[j].Name.URI {
			return attrs[i].Name.URI < attrs[j].Name.URI
		}
		return attrs[i].Name.Local < attrs[j].Name.Local
	})

	for _, a := range attrs {
		if a.Name.URI == "" || a.Name.URI == xmlNamespaceURI {
			continue
		}
		pfx := c.prefixFor(a.Name.URI)
		if bindings[pfx] == a.Name.URI {
			continue
		}
		decls = append(decls, nsDecl{prefix: pfx, uri: a.Name.URI})
		bindings[pfx] = a.Name.URI
	}

	sort.Slice(decls, func(i, j int) bool { return decls[i].prefix < decls[j].prefix })

	out := "<" + ev.Name.Local
	for _, d := range decls {
		if d.prefix == "" {
			out += fmt.Sprintf(` xmlns="%s"`, escapeAttrValue(d.uri))
		} else {
			out += fmt.Sprintf(` xmlns:%s="%s"`, d.prefix, escapeAttrValue(d.uri))
		}
	}
	c.scopes = append(c.scopes, nsScope{defaultNS: newDefault, bindings: bindings})

	for _, a := range attrs {
		out += fmt.Sprintf(` %s="%s"`, c.attrQualified(a.Name), escapeAttrValue(a.Value))
	}
	out += ">"
	return c.write(out)
}

func (c *Canonicalizer) endElement(ev xmlevent.Event) error {
	if len(c.scopes) > 0 {
		c.scopes = c.scopes[:len(c.scopes)-1]
	}
	return c.write("</" + ev.Name.Local + ">")
}

func (c *Canonicalizer) writeText(s string) error {
	return c.write(escapeCharData(s))
}

func (c *Canonicalizer) write(s string) error {
	_, err := io.WriteString(c.sink, s)
	return err
}

func escapeAttrValue(s string) string {
	return replaceAll(s, map[byte]string{
		'&': "&amp;", '<': "&lt;", '"': "&quot;", '\t': "&#x9;", '\n': "&#xA;", '\r': "&#xD;",
	})
}

func escapeCharData(s string) string {
	return replaceAll(s, map[byte]string{
		'&': "&amp;", '<': "&lt;", '>': "&gt;", '\r': "&#xD;",
	})
}

func replaceAll(s string, table map[byte]string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if rep, ok := table[s[i]]; ok {
			out = append(out, rep...)
		} else {
			out = append(out, s[i])
		}
	}
	return string(out)
}
