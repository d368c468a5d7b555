// Copyright 2020 Kentaro Hibino. All rights reserved.
// Use of this source code is governed by a MIT license
// that can be found in the LICENSE file.

package resqueue

import "sync"

// Event names for the canonical lifecycle hooks. afterEnqueue passes an
// AfterEnqueuePayload, onFailure an OnFailurePayload, beforeFirstFork the
// *Worker, and the other events the *Job.
const (
	EventAfterEnqueue    = "afterEnqueue"
	EventBeforeFirstFork = "beforeFirstFork"
	EventBeforeFork      = "beforeFork"
	EventAfterFork       = "afterFork"
	EventBeforePerform   = "beforePerform"
	EventAfterPerform    = "afterPerform"
	EventOnFailure       = "onFailure"
)

// Listener receives the payload for a triggered event. Returning a
// non-nil error from a beforePerform or SetUp listener that satisfies
// errors.Is(err, ErrDontPerform) short-circuits Job.Perform.
type Listener func(data interface{}) error

// listenerHandle makes a func value comparable so StopListening can
// remove a specific registration by identity, the same contract
// listen/stopListening has in the source.
type listenerHandle struct {
	id int
	fn Listener
}

// EventBus is a process-wide (or, for tests, per-Client/per-Worker)
// mapping from event name to an ordered list of listeners, invoked
// synchronously in registration order.
type EventBus struct {
	mu        sync.Mutex
	listeners map[string][]listenerHandle
	nextID    int
}

// NewEventBus returns an empty EventBus.
func NewEventBus() *EventBus {
	return &EventBus{listeners: make(map[string][]listenerHandle)}
}

// ListenerHandle identifies a registration returned by Listen, to be
// passed to StopListening.
type ListenerHandle struct {
	event string
	id    int
}

// Listen registers fn to run whenever event fires, returning a handle
// that can be passed to StopListening.
func (b *EventBus) Listen(event string, fn Listener) ListenerHandle {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.listeners[event] = append(b.listeners[event], listenerHandle{id: id, fn: fn})
	return ListenerHandle{event: event, id: id}
}

// StopListening removes the listener identified by h, if still
// registered. Only the first (and only) matching registration is
// removed.
func (b *EventBus) StopListening(h ListenerHandle) {
	b.mu.Lock()
	defer b.mu.Unlock()
	handles := b.listeners[h.event]
	for i, lh := range handles {
		if lh.id == h.id {
			b.listeners[h.event] = append(handles[:i], handles[i+1:]...)
			return
		}
	}
}

// Trigger invokes every listener registered for event, in insertion
// order, passing data to each. It stops and returns the first non-nil
// error a listener returns (used by beforePerform/SetUp to signal
// ErrDontPerform or a genuine failure).
func (b *EventBus) Trigger(event string, data interface{}) error {
	b.mu.Lock()
	handles := make([]listenerHandle, len(b.listeners[event]))
	copy(handles, b.listeners[event])
	b.mu.Unlock()

	for _, lh := range handles {
		if err := lh.fn(data); err != nil {
			return err
		}
	}
	return nil
}

// ClearListeners removes every registered listener for every event.
func (b *EventBus) ClearListeners() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = make(map[string][]listenerHandle)
}

// AfterEnqueuePayload is the payload passed to afterEnqueue listeners.
type AfterEnqueuePayload struct {
	Class string
	Args  map[string]any
	Queue string
}

// OnFailurePayload is the payload passed to onFailure listeners.
type OnFailurePayload struct {
	Exception error
	Job       *Job
}
