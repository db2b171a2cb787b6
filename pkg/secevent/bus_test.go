package secevent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusDispatchRegistrationOrder(t *testing.T) {
	bus := NewBus()
	var order []int
	bus.Register(ListenerFunc(func(e Event) { order = append(order, 1) }))
	bus.Register(ListenerFunc(func(e Event) { order = append(order, 2) }))
	bus.Register(ListenerFunc(func(e Event) { order = append(order, 3) }))

	bus.Dispatch(Event{Kind: TokenObserved, CorrelationID: "abc"})

	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestBusRegisterDuringDispatchIsDeferred(t *testing.T) {
	bus := NewBus()
	var calls int
	var late ListenerFunc = func(e Event) { calls++ }

	first := ListenerFunc(func(e Event) {
		bus.Register(late)
	})
	bus.Register(first)

	bus.Dispatch(Event{Kind: AlgorithmUsed})
	assert.Equal(t, 0, calls, "listener registered mid-dispatch must not see the in-flight event")

	bus.Dispatch(Event{Kind: AlgorithmUsed})
	assert.Equal(t, 1, calls, "listener registered mid-dispatch must see the next event")
}

func TestBusUnregisterDuringDispatchIsDeferred(t *testing.T) {
	bus := NewBus()
	var secondCalls int
	var second Listener = ListenerFunc(func(e Event) { secondCalls++ })

	first := ListenerFunc(func(e Event) {
		bus.Unregister(second)
	})
	bus.Register(first)
	bus.Register(second)

	bus.Dispatch(Event{Kind: VerificationOutcome})
	assert.Equal(t, 1, secondCalls, "unregister requested mid-dispatch must not affect the in-flight dispatch")

	bus.Dispatch(Event{Kind: VerificationOutcome})
	assert.Equal(t, 1, secondCalls, "listener must be gone on the next dispatch")
}

func TestNewCorrelationIDIsUnique(t *testing.T) {
	a := NewCorrelationID()
	b := NewCorrelationID()
	require.NotEmpty(t, a)
	require.NotEmpty(t, b)
	assert.NotEqual(t, a, b)
}
