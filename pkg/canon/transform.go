// Package canon implements the canonicalization/transform chain: a set
// of composable, byte-producing transforms where the head of the chain
// consumes the producer's native shape (parse events for same-document
// references, raw bytes for external references) and the tail always
// writes canonical bytes to a digest sink.
package canon

import (
	"io"

	"xmlsecflow/pkg/algorithm"
	"xmlsecflow/pkg/helper/errors"
	"xmlsecflow/pkg/xmlevent"
)

// EventStage consumes xmlevent.Events. A non-terminal stage (like the
// enveloped-signature transform) forwards transformed events to the
// next stage; the terminal stage is always a Canonicalizer, which
// writes canonical bytes to a byte sink instead of forwarding events.
type EventStage interface {
	HandleEvent(ev xmlevent.Event) error
}

// ByteStage is a write-only transform of raw bytes, used for
// byte-consuming references (fully external, never parsed). It forwards
// transformed bytes to the next io.Writer in the chain; Close flushes
// anything buffered.
type ByteStage interface {
	io.Writer
	io.Closer
}

// TransformSpec names one declared Transform (algorithm URI plus any
// inline parameters, such as an inclusive-namespace prefix list).
type TransformSpec struct {
	AlgorithmURI               string
	InclusiveNamespacePrefixes []string // from a transform's child element; nil means empty list
}

// EventChain is a built chain of EventStages terminating at a byte sink.
// Build guarantees stages[len(stages)-1] is always a Canonicalizer.
type EventChain struct {
	stages []EventStage
}

// HandleEvent feeds ev into the head of the chain.
func (c *EventChain) HandleEvent(ev xmlevent.Event) error {
	return c.stages[0].HandleEvent(ev)
}

// BuildEventChain builds the transform chain for a same-document
// Reference, applying the two special-case rules verbatim:
//
//   - no declared transforms: default to Canonical-XML 1.0 omit-comments.
//   - the sole declared transform is enveloped-signature: append
//     Canonical-XML 1.0 omit-comments after it.
func BuildEventChain(specs []TransformSpec, reg *algorithm.Registry, sink io.Writer) (*EventChain, error) {
	specs = applySpecialCases(specs)

	stages := make([]EventStage, 0, len(specs))
	for i, spec := range specs {
		isLast := i == len(specs)-1
		stage, err := newEventStage(spec, reg, isLast, sink)
		if err != nil {
			return nil, err
		}
		stages = append(stages, stage)
	}
	if len(stages) == 0 {
		return nil, errors.TransformFailuref("transform chain produced no stages")
	}
	if _, ok := stages[len(stages)-1].(*Canonicalizer); !ok {
		return nil, errors.TransformFailuref("transform chain must terminate in a canonicalization transform")
	}

	// Wire forwarding: stage i forwards to stage i+1. Canonicalizer
	// (the last stage) already writes directly to sink and has no next.
	for i := 0; i < len(stages)-1; i++ {
		if f, ok := stages[i].(forwarder); ok {
			f.setNext(stages[i+1])
		} else {
			return nil, errors.TransformFailuref("non-terminal transform %s cannot forward events", specs[i].AlgorithmURI)
		}
	}

	return &EventChain{stages: stages}, nil
}

// forwarder is implemented by non-terminal EventStages so BuildEventChain
// can wire them to the following stage.
type forwarder interface {
	setNext(EventStage)
}

func applySpecialCases(specs []TransformSpec) []TransformSpec {
	if len(specs) == 0 {
		return []TransformSpec{{AlgorithmURI: algorithm.CanonC14N10OmitComments}}
	}
	if len(specs) == 1 && specs[0].AlgorithmURI == algorithm.TransformEnveloped {
		return []TransformSpec{specs[0], {AlgorithmURI: algorithm.CanonC14N10OmitComments}}
	}
	return specs
}

func newEventStage(spec TransformSpec, reg *algorithm.Registry, isLast bool, sink io.Writer) (EventStage, error) {
	desc, err := reg.Lookup(spec.AlgorithmURI)
	if err != nil {
		return nil, err
	}

	switch {
	case desc.Family == algorithm.FamilyCanon && isLast:
		return NewCanonicalizer(spec.AlgorithmURI, spec.InclusiveNamespacePrefixes, sink)
	case spec.AlgorithmURI == algorithm.TransformEnveloped:
		return NewEnvelopedSignatureTransform(), nil
	default:
		return nil, errors.UnsupportedAlgorithmf("transform %s cannot appear at this position in the chain", spec.AlgorithmURI)
	}
}

// ByteChain is a built chain of ByteStages for a fully external
// reference, terminating at a byte sink.
type ByteChain struct {
	head io.Writer
	tail io.Closer
}

func (c *ByteChain) Write(p []byte) (int, error) { return c.head.Write(p) }
func (c *ByteChain) Close() error                { return c.tail.Close() }
