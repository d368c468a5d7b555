package resqueue

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hemant/resqueue/internal/errors"
)

func TestEventBusTriggerInvokesInRegistrationOrder(t *testing.T) {
	bus := NewEventBus()
	var order []int
	bus.Listen("beforePerform", func(data interface{}) error {
		order = append(order, 1)
		return nil
	})
	bus.Listen("beforePerform", func(data interface{}) error {
		order = append(order, 2)
		return nil
	})

	require.NoError(t, bus.Trigger("beforePerform", nil))
	assert.Equal(t, []int{1, 2}, order)
}

func TestEventBusTriggerStopsOnFirstError(t *testing.T) {
	bus := NewEventBus()
	called := false
	bus.Listen("beforePerform", func(data interface{}) error {
		return fmt.Errorf("listener one failed")
	})
	bus.Listen("beforePerform", func(data interface{}) error {
		called = true
		return nil
	})

	err := bus.Trigger("beforePerform", nil)
	assert.Error(t, err)
	assert.False(t, called, "second listener must not run once an earlier one errors")
}

func TestEventBusTriggerWithNoListenersIsNoop(t *testing.T) {
	bus := NewEventBus()
	assert.NoError(t, bus.Trigger("afterEnqueue", nil))
}

// Listeners removed via StopListening are not invoked on subsequent
// triggers (spec.md §8, invariant 6).
func TestStopListeningRemovesOnlyThatRegistration(t *testing.T) {
	bus := NewEventBus()
	var fired []string
	h1 := bus.Listen("onFailure", func(data interface{}) error {
		fired = append(fired, "one")
		return nil
	})
	bus.Listen("onFailure", func(data interface{}) error {
		fired = append(fired, "two")
		return nil
	})

	bus.StopListening(h1)
	require.NoError(t, bus.Trigger("onFailure", nil))
	assert.Equal(t, []string{"two"}, fired)
}

func TestClearListenersRemovesEverything(t *testing.T) {
	bus := NewEventBus()
	called := false
	bus.Listen("afterPerform", func(data interface{}) error {
		called = true
		return nil
	})

	bus.ClearListeners()
	require.NoError(t, bus.Trigger("afterPerform", nil))
	assert.False(t, called)
}

func TestBeforePerformListenerCanSignalDontPerform(t *testing.T) {
	bus := NewEventBus()
	bus.Listen(EventBeforePerform, func(data interface{}) error {
		return errors.ErrDontPerform
	})

	err := bus.Trigger(EventBeforePerform, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.DontPerform))
}
