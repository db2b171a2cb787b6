// Package outbound implements the output processor chain and the
// signature/encryption output processors: the symmetric, push-based
// counterpart of pkg/inbound. Handlers are stacked in emission order;
// each may forward, rewrite, buffer, or fan an incoming event out into
// several outgoing events before they reach the sink.
package outbound

import "xmlsecflow/pkg/xmlevent"

// Handler is one stage of the output processor chain. HandleEvent
// consumes one event and returns zero or more replacement events to
// forward to the next stage (or the sink, if this is the last stage).
// Returning zero events is how a handler buffers — e.g. the encryption
// processor holding an element's content until the element closes and
// it can emit the finished <EncryptedData> in its place.
// Done reports whether the handler has finished and should be spliced
// out of the chain.
type Handler interface {
	HandleEvent(ev xmlevent.Event) ([]xmlevent.Event, error)
	Done() bool
}

// Chain threads a pushed event through an ordered list of Handlers
// before writing whatever they produce to sink. Like pkg/inbound's
// Chain, this is a vector with a cursor rather than a true iterator: a
// handler appended mid-pass is only visited starting from the next
// Write call.
type Chain struct {
	sink     xmlevent.Writer
	handlers []Handler
}

// NewChain wraps sink with an initially empty handler chain.
func NewChain(sink xmlevent.Writer) *Chain {
	return &Chain{sink: sink}
}

// Append adds h to the end of the chain.
func (c *Chain) Append(h Handler) {
	c.handlers = append(c.handlers, h)
}

// Handlers returns the chain's current handlers, for inspection.
func (c *Chain) Handlers() []Handler {
	return c.handlers
}

// Write pushes ev through every handler in order, writing whatever
// event(s) emerge at the end to the sink.
func (c *Chain) Write(ev xmlevent.Event) error {
	events := []xmlevent.Event{ev}

	n := len(c.handlers)
	i := 0
	for i < n {
		h := c.handlers[i]
		var next []xmlevent.Event
		for _, e := range events {
			out, err := h.HandleEvent(e)
			if err != nil {
				return err
			}
			next = append(next, out...)
		}
		events = next
		if h.Done() {
			c.handlers = append(c.handlers[:i], c.handlers[i+1:]...)
			n--
			continue
		}
		i++
	}

	for _, e := range events {
		if err := c.sink.Write(e); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the underlying sink.
func (c *Chain) Close() error {
	return c.sink.Close()
}
