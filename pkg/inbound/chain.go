// Package inbound implements the input processor chain and the
// signature reference verifier: the ordered pipeline of handlers that
// a pulled event passes through on its way back to the caller, and the
// per-Reference live digester installed into that chain once a
// <Signature> element's SignedInfo is known.
package inbound

import "xmlsecflow/pkg/xmlevent"

// Handler is one stage of the input processor chain. HandleEvent may
// transform ev and return a replacement, or forward it unchanged. Done
// reports whether the handler has finished its work and should be
// removed from the chain after this call.
type Handler interface {
	HandleEvent(ev xmlevent.Event) (xmlevent.Event, error)
	Done() bool
}

// Chain is the mutable list of handlers events are threaded through, a
// vector with a cursor rather than a true iterator: a handler may
// append new handlers mid-pass, but they are only visited starting
// from the next call to Next, never the current one. A handler
// reporting Done() true is spliced out of the list once its
// HandleEvent call returns.
type Chain struct {
	src      xmlevent.Reader
	handlers []Handler
}

// NewChain wraps src with an initially empty handler chain.
func NewChain(src xmlevent.Reader) *Chain {
	return &Chain{src: src}
}

// Append adds h to the end of the chain. If called while Next is
// already threading an event through the chain (from within a
// handler's HandleEvent), h is not visited until the following call.
func (c *Chain) Append(h Handler) {
	c.handlers = append(c.handlers, h)
}

// Handlers returns the chain's current handlers, for inspection.
func (c *Chain) Handlers() []Handler {
	return c.handlers
}

// Next pulls the next raw event from src and threads it through the
// handler chain in order.
func (c *Chain) Next() (xmlevent.Event, error) {
	ev, err := c.src.Next()
	if err != nil {
		return ev, err
	}

	n := len(c.handlers)
	i := 0
	for i < n {
		h := c.handlers[i]
		out, err := h.HandleEvent(ev)
		if err != nil {
			return xmlevent.Event{}, err
		}
		ev = out
		if h.Done() {
			c.handlers = append(c.handlers[:i], c.handlers[i+1:]...)
			n--
			continue
		}
		i++
	}
	return ev, nil
}
