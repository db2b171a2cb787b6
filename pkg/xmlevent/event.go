// Package xmlevent defines the event-stream data model shared by every
// component of the streaming security pipeline: a Qualified Name, an
// Event carrying one of a fixed set of kinds, and the Reader/Writer
// interfaces that a host's XML parser and serializer must satisfy.
//
// Parsing and serialization themselves are out of scope here (see
// pkg/xmlio for the thin encoding/xml-backed adapter) — this package
// only fixes the shape both sides agree on.
package xmlevent

// QName is a namespace-qualified name. Two names are equal iff both
// parts are equal.
type QName struct {
	URI   string
	Local string
}

// Equal reports whether q and o name the same qualified name.
func (q QName) Equal(o QName) bool {
	return q.URI == o.URI && q.Local == o.Local
}

func (q QName) String() string {
	if q.URI == "" {
		return q.Local
	}
	return "{" + q.URI + "}" + q.Local
}

// Attr is an attribute on a start-element event.
type Attr struct {
	Name  QName
	Value string
}

// NSDecl is a namespace declaration in scope at a start-element event.
type NSDecl struct {
	Prefix string
	URI    string
}

// Kind discriminates the opaque values an Event can carry.
type Kind int

const (
	DocumentStart Kind = iota
	DocumentEnd
	StartElement
	EndElement
	Text
	Comment
	ProcessingInstruction
)

func (k Kind) String() string {
	switch k {
	case DocumentStart:
		return "DocumentStart"
	case DocumentEnd:
		return "DocumentEnd"
	case StartElement:
		return "StartElement"
	case EndElement:
		return "EndElement"
	case Text:
		return "Text"
	case Comment:
		return "Comment"
	case ProcessingInstruction:
		return "ProcessingInstruction"
	default:
		return "Unknown"
	}
}

// idAttrLocals are the local names treated as carrying an element's
// fragment-addressable identity, in the order they are tried. xml:id
// (URI-qualified) is checked first by Event.ID regardless of this list.
var idAttrLocals = []string{"Id", "ID", "id"}

const xmlNamespaceURI = "http://www.w3.org/XML/1998/namespace"

// Event is a single point in an XML infoset stream. Exactly one Kind
// applies; the other fields are meaningful only for that kind.
type Event struct {
	Kind       Kind
	Name       QName
	Attrs      []Attr
	Namespaces []NSDecl
	Data       string // Text/Comment content, or ProcessingInstruction data
	Target     string // ProcessingInstruction target

	// path is a snapshot of the ancestor chain (outermost first) taken
	// by the producing Reader at emission time — it is never built
	// eagerly per event by anything downstream of the reader.
	path []QName
}

// Path returns the event's ancestor chain, outermost element first. For
// a StartElement the event's own name is not included; for an
// EndElement it is the chain of the element being closed.
func (e Event) Path() []QName {
	return e.path
}

// WithPath returns a copy of e with its ancestor path set. Readers use
// this to stamp events as they maintain their element stack.
func (e Event) WithPath(path []QName) Event {
	e.path = path
	return e
}

// Attr looks up an attribute by qualified name.
func (e Event) Attr(name QName) (string, bool) {
	for _, a := range e.Attrs {
		if a.Name.Equal(name) {
			return a.Value, true
		}
	}
	return "", false
}

// ID returns the element's same-document identity, interpreting xml:id
// first and then the schema-defined Id/ID/id attributes in that order.
// Only meaningful for StartElement events.
func (e Event) ID() (string, bool) {
	if v, ok := e.Attr(QName{URI: xmlNamespaceURI, Local: "id"}); ok {
		return v, true
	}
	for _, local := range idAttrLocals {
		if v, ok := e.Attr(QName{Local: local}); ok {
			return v, true
		}
	}
	return "", false
}

// Reader is a pull source of Events, the inbound-side collaborator
// assumed by the streaming pipeline. Implementations wrap a real XML
// parser; pkg/xmlio provides one over encoding/xml.
type Reader interface {
	// Next returns the next event, or io.EOF once DocumentEnd has been
	// delivered and consumed.
	Next() (Event, error)
}

// Writer is a push sink of Events, the outbound-side collaborator.
// Implementations wrap a real XML serializer; pkg/xmlio provides a
// small hand-written one over an io.Writer.
type Writer interface {
	Write(Event) error
	Close() error
}
