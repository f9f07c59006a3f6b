package events

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusDispatchOrder(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	var order []int
	bus.Subscribe(BarsIngested, func(*Event) { order = append(order, 1) })
	bus.Subscribe(BarsIngested, func(*Event) { order = append(order, 2) })
	bus.Subscribe(BarsIngested, func(*Event) { order = append(order, 3) })

	bus.Emit(BarsIngested, "test", nil)

	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestBusOnlyMatchingTypeReceives(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	var got int
	bus.Subscribe(BarsIngested, func(*Event) { got++ })
	bus.Subscribe(QuoteUpdated, func(*Event) { t.Fatal("wrong type dispatched") })

	bus.Emit(BarsIngested, "test", map[string]interface{}{"count": 5})

	assert.Equal(t, 1, got)
}

func TestBusUnsubscribe(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	var calls []string
	bus.Subscribe(BarsIngested, func(*Event) { calls = append(calls, "first") })
	unsubscribe := bus.Subscribe(BarsIngested, func(*Event) { calls = append(calls, "second") })
	bus.Subscribe(BarsIngested, func(*Event) { calls = append(calls, "third") })

	require.Equal(t, 3, bus.ListenerCount(BarsIngested))

	unsubscribe()
	assert.Equal(t, 2, bus.ListenerCount(BarsIngested))

	bus.Emit(BarsIngested, "test", nil)
	assert.Equal(t, []string{"first", "third"}, calls)

	// A second call is a no-op.
	unsubscribe()
	assert.Equal(t, 2, bus.ListenerCount(BarsIngested))
}

func TestBusPanicIsolation(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	var reached bool
	bus.Subscribe(CorrectionDetected, func(*Event) { panic("listener bug") })
	bus.Subscribe(CorrectionDetected, func(*Event) { reached = true })

	assert.NotPanics(t, func() {
		bus.Emit(CorrectionDetected, "cache", nil)
	})
	assert.True(t, reached, "listeners after the panicking one still run")
}

func TestBusEmitWithoutListeners(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	assert.NotPanics(t, func() {
		bus.Emit(RefreshCompleted, "scheduler", nil)
	})
	assert.Equal(t, 0, bus.ListenerCount(RefreshCompleted))
}

func TestBusRemoveAll(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	bus.Subscribe(BarsIngested, func(*Event) { t.Fatal("should have been removed") })
	bus.Subscribe(QuoteUpdated, func(*Event) { t.Fatal("should have been removed") })

	bus.RemoveAll()

	assert.Equal(t, 0, bus.ListenerCount(BarsIngested))
	assert.Equal(t, 0, bus.ListenerCount(QuoteUpdated))
	bus.Emit(BarsIngested, "test", nil)
}
