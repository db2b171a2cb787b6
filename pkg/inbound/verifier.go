package inbound

import (
	"xmlsecflow/pkg/algorithm"
	"xmlsecflow/pkg/canon"
	"xmlsecflow/pkg/digest"
	"xmlsecflow/pkg/helper/buf"
	"xmlsecflow/pkg/helper/errors"
	"xmlsecflow/pkg/resolver"
	"xmlsecflow/pkg/xmlevent"
)

type verifierState int

const (
	stateIdle verifierState = iota
	stateActive
	stateDone
)

// ReferenceVerifier is the per-Reference live digester: once
// constructed on a matched start-element it becomes an active chain
// handler, forwards every event in the matched subtree through its
// transform chain, and finalizes on the matching end-element.
//
// State machine: idle (constructed) -> active (first event) -> active
// (nested events, depth tracked) -> done (depth returns to zero on the
// same qualified name that opened it). In done, no further events are
// delivered; the verifier reports Done() so Chain removes it.
type ReferenceVerifier struct {
	ref   Reference
	match *resolver.SameDocument

	state     verifierState
	openName  xmlevent.QName
	depth     int
	chain     *canon.EventChain
	sink      *digest.Sink
	result    bool
	verifyErr error
}

// NewReferenceVerifier builds a verifier for ref, whose transform chain
// terminates at a fresh digest sink over the algorithm named by ref's
// DigestAlgorithmURI.
func NewReferenceVerifier(ref Reference, match *resolver.SameDocument, reg *algorithm.Registry, bufMgr *buf.Manager) (*ReferenceVerifier, error) {
	desc, err := reg.Lookup(ref.DigestAlgorithmURI)
	if err != nil {
		return nil, err
	}
	if desc.Family != algorithm.FamilyDigest {
		return nil, errors.UnsupportedAlgorithmf("algorithm %s is not a digest algorithm", ref.DigestAlgorithmURI)
	}
	sink := digest.NewSink(bufMgr, desc.HashFunc.New())

	eventChain, err := canon.BuildEventChain(ref.Transforms, reg, sink)
	if err != nil {
		return nil, err
	}

	return &ReferenceVerifier{
		ref:   ref,
		match: match,
		chain: eventChain,
		sink:  sink,
	}, nil
}

// Done reports whether the verifier has finalized and should be
// spliced out of the chain.
func (v *ReferenceVerifier) Done() bool {
	return v.state == stateDone
}

// Result returns the comparison outcome. Only meaningful once Done.
func (v *ReferenceVerifier) Result() bool {
	return v.result
}

// Err returns any error raised while digesting. Only meaningful once Done.
func (v *ReferenceVerifier) Err() error {
	return v.verifyErr
}

// HandleEvent feeds ev through the transform chain while the verifier
// is active, and forwards ev unchanged so later handlers (and the
// caller) still see it.
func (v *ReferenceVerifier) HandleEvent(ev xmlevent.Event) (xmlevent.Event, error) {
	if v.state == stateDone {
		return ev, nil
	}

	switch v.state {
	case stateIdle:
		if ev.Kind != xmlevent.StartElement {
			return ev, errors.InvalidSecurityf("reference verifier must be constructed on a start-element")
		}
		v.state = stateActive
		v.openName = ev.Name
		v.depth = 1
		if err := v.chain.HandleEvent(ev); err != nil {
			v.fail(err)
			return ev, v.verifyErr
		}
		return ev, nil
	case stateActive:
		switch ev.Kind {
		case xmlevent.StartElement:
			v.depth++
		case xmlevent.EndElement:
			v.depth--
		}
		if err := v.chain.HandleEvent(ev); err != nil {
			v.fail(err)
			return ev, v.verifyErr
		}
		if ev.Kind == xmlevent.EndElement && v.depth == 0 && ev.Name.Equal(v.openName) {
			v.finalize()
		}
		return ev, nil
	}
	return ev, nil
}

func (v *ReferenceVerifier) finalize() {
	if err := v.sink.Close(); err != nil {
		v.fail(err)
		return
	}
	v.result = v.sink.Equal(v.ref.DigestValue)
	v.state = stateDone
}

func (v *ReferenceVerifier) fail(err error) {
	v.verifyErr = err
	v.state = stateDone
}
