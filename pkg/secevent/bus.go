// Package secevent implements the security event bus: a
// process-scoped fan-out of algorithm/token/verification events to
// registered listeners. Dispatch is synchronous and listener order is
// registration order; a listener that tries to (un)register another
// listener mid-dispatch has that mutation deferred until the current
// dispatch finishes.
package secevent

import (
	"reflect"
	"sync"
	"unsafe"

	"github.com/google/uuid"
)

// Kind discriminates the tagged Event record.
type Kind int

const (
	TokenObserved Kind = iota
	AlgorithmUsed
	VerificationOutcome
)

func (k Kind) String() string {
	switch k {
	case TokenObserved:
		return "TokenObserved"
	case AlgorithmUsed:
		return "AlgorithmUsed"
	case VerificationOutcome:
		return "VerificationOutcome"
	default:
		return "Unknown"
	}
}

// ReferenceStatus reports one Reference's verification outcome, indexed
// identically to its position in SignedInfo.
type ReferenceStatus struct {
	Index    int
	URI      string
	Verified bool
	Err      error
}

// Event is the tagged security event record. Every event carries a
// correlation id equal to the id of the element that triggered it.
type Event struct {
	Kind          Kind
	CorrelationID string

	// TokenObserved
	TokenID string

	// AlgorithmUsed
	AlgorithmURI  string
	Usage         string
	KeyLengthBits int

	// VerificationOutcome
	SignatureID       string
	Verified          bool
	ReferenceStatuses []ReferenceStatus
}

// NewCorrelationID generates a correlation id for an element with no
// usable id attribute.
func NewCorrelationID() string {
	return uuid.NewString()
}

// Listener receives dispatched security events.
type Listener interface {
	HandleSecurityEvent(Event)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(Event)

func (f ListenerFunc) HandleSecurityEvent(e Event) { f(e) }

// Bus fans security events out to registered listeners.
type Bus struct {
	mu          sync.Mutex
	listeners   []Listener
	dispatching bool
	pending     []func()
}

// NewBus creates an empty event bus.
func NewBus() *Bus {
	return &Bus{}
}

// Register adds a listener. If called during dispatch, the registration
// is deferred until dispatch completes.
func (b *Bus) Register(l Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.dispatching {
		b.pending = append(b.pending, func() { b.listeners = append(b.listeners, l) })
		return
	}
	b.listeners = append(b.listeners, l)
}

// Unregister removes a listener (by identity). If called during
// dispatch, the removal is deferred until dispatch completes.
func (b *Bus) Unregister(l Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	remove := func() {
		for i, cur := range b.listeners {
			if sameListener(cur, l) {
				b.listeners = append(b.listeners[:i], b.listeners[i+1:]...)
				return
			}
		}
	}
	if b.dispatching {
		b.pending = append(b.pending, remove)
		return
	}
	remove()
}

// sameListener reports listener identity without panicking on func
// values: a ListenerFunc compares by its function value's address.
func sameListener(a, b Listener) bool {
	fa, aFunc := a.(ListenerFunc)
	fb, bFunc := b.(ListenerFunc)
	if aFunc || bFunc {
		return aFunc && bFunc && *(*unsafe.Pointer)(unsafe.Pointer(&fa)) == *(*unsafe.Pointer)(unsafe.Pointer(&fb))
	}
	ta := reflect.TypeOf(a)
	if ta == nil || ta != reflect.TypeOf(b) || !ta.Comparable() {
		return false
	}
	return a == b
}

// Dispatch synchronously delivers ev to every currently registered
// listener, in registration order.
func (b *Bus) Dispatch(ev Event) {
	b.mu.Lock()
	b.dispatching = true
	snapshot := make([]Listener, len(b.listeners))
	copy(snapshot, b.listeners)
	b.mu.Unlock()

	for _, l := range snapshot {
		l.HandleSecurityEvent(ev)
	}

	b.mu.Lock()
	b.dispatching = false
	pending := b.pending
	b.pending = nil
	b.mu.Unlock()

	for _, fn := range pending {
		fn()
	}
}
