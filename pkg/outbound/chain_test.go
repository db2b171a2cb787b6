package outbound

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xmlsecflow/pkg/xmlevent"
)

type sinkRecorder struct {
	events []xmlevent.Event
	closed bool
}

func (s *sinkRecorder) Write(ev xmlevent.Event) error {
	s.events = append(s.events, ev)
	return nil
}

func (s *sinkRecorder) Close() error {
	s.closed = true
	return nil
}

// bufferingHandler holds text events until it sees an end-element, then
// releases everything at once — a handler that buffers by returning zero
// events and later flushes several.
type bufferingHandler struct {
	held []xmlevent.Event
	done bool
}

func (h *bufferingHandler) HandleEvent(ev xmlevent.Event) ([]xmlevent.Event, error) {
	if ev.Kind == xmlevent.EndElement {
		out := append(h.held, ev)
		h.held = nil
		h.done = true
		return out, nil
	}
	h.held = append(h.held, ev)
	return nil, nil
}

func (h *bufferingHandler) Done() bool { return h.done }

func TestChainForwardsToSink(t *testing.T) {
	sink := &sinkRecorder{}
	chain := NewChain(sink)

	ev := xmlevent.Event{Kind: xmlevent.Text, Data: "x"}
	require.NoError(t, chain.Write(ev))
	require.Len(t, sink.events, 1)
	assert.Equal(t, "x", sink.events[0].Data)

	require.NoError(t, chain.Close())
	assert.True(t, sink.closed)
}

func TestChainBufferingHandlerDelaysEmission(t *testing.T) {
	sink := &sinkRecorder{}
	chain := NewChain(sink)
	chain.Append(&bufferingHandler{})

	require.NoError(t, chain.Write(xmlevent.Event{Kind: xmlevent.Text, Data: "a"}))
	require.NoError(t, chain.Write(xmlevent.Event{Kind: xmlevent.Text, Data: "b"}))
	assert.Empty(t, sink.events, "buffered events must not reach the sink early")

	require.NoError(t, chain.Write(xmlevent.Event{Kind: xmlevent.EndElement, Name: xmlevent.QName{Local: "e"}}))
	require.Len(t, sink.events, 3)
	assert.Equal(t, "a", sink.events[0].Data)
	assert.Equal(t, "b", sink.events[1].Data)
	assert.Equal(t, xmlevent.EndElement, sink.events[2].Kind)
}

func TestChainRemovesDoneHandler(t *testing.T) {
	sink := &sinkRecorder{}
	chain := NewChain(sink)
	h := &bufferingHandler{}
	chain.Append(h)

	require.NoError(t, chain.Write(xmlevent.Event{Kind: xmlevent.EndElement, Name: xmlevent.QName{Local: "e"}}))
	assert.Empty(t, chain.Handlers(), "a Done handler must be spliced out")

	require.NoError(t, chain.Write(xmlevent.Event{Kind: xmlevent.Text, Data: "later"}))
	require.Len(t, sink.events, 2, "later events must bypass the removed handler")
}
