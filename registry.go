// Copyright 2020 Kentaro Hibino. All rights reserved.
// Use of this source code is governed by a MIT license
// that can be found in the LICENSE file.

package resqueue

import (
	"fmt"
	"sync"

	"github.com/hemant/resqueue/internal/errors"
)

// Handler processes a single job. It corresponds to the source's
// dynamically dispatched class instance; here a class name is bound to
// a Handler factory ahead of time via RegisterHandler (see spec.md §9,
// "Dynamic class dispatch").
type Handler interface {
	// Perform runs the job's business logic. args is the caller's
	// argument mapping supplied at enqueue time.
	Perform(job *Job, args map[string]any) error
}

// HandlerFunc adapts an ordinary function to the Handler interface.
type HandlerFunc func(job *Job, args map[string]any) error

// Perform calls fn(job, args).
func (fn HandlerFunc) Perform(job *Job, args map[string]any) error { return fn(job, args) }

// SetUpper is implemented by a Handler that needs to run setup logic
// before Perform. Returning an error satisfying errors.Is(err,
// DontPerform) skips the job cleanly, matching a beforePerform
// listener's DontPerform short-circuit.
type SetUpper interface {
	SetUp(job *Job) error
}

// TearDowner is implemented by a Handler that needs to run cleanup
// logic after Perform, whether or not Perform succeeded.
type TearDowner interface {
	TearDown(job *Job) error
}

// HandlerRegistry maps a job's class name to a Handler factory. It
// replaces the source's dynamic class dispatch: no reflection is
// required, and an unregistered class fails fast with
// errors.HandlerNotFound rather than at reflection time.
type HandlerRegistry struct {
	mu        sync.RWMutex
	factories map[string]func() Handler
}

// NewHandlerRegistry returns an empty HandlerRegistry.
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{factories: make(map[string]func() Handler)}
}

// Register binds class to a Handler factory. Registering the same class
// twice replaces the previous binding.
func (reg *HandlerRegistry) Register(class string, factory func() Handler) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.factories[class] = factory
}

// Resolve returns a fresh Handler instance for class, or
// errors.HandlerNotFound if no factory is registered for it.
func (reg *HandlerRegistry) Resolve(class string) (Handler, error) {
	reg.mu.RLock()
	factory, ok := reg.factories[class]
	reg.mu.RUnlock()
	if !ok {
		return nil, errors.E(errors.HandlerNotFound, fmt.Sprintf("no handler registered for class %q", class))
	}
	return factory(), nil
}

// DefaultRegistry is the process-default HandlerRegistry used by
// RegisterHandler and by any Client/Worker constructed without an
// explicit registry. Tests that need isolation should construct their
// own HandlerRegistry and pass it via Config instead of relying on this
// package-level convenience (spec.md §9, "Global mutable state").
var DefaultRegistry = NewHandlerRegistry()

// RegisterHandler binds class to a Handler factory on DefaultRegistry.
func RegisterHandler(class string, factory func() Handler) {
	DefaultRegistry.Register(class, factory)
}
