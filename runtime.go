// Copyright 2020 Kentaro Hibino. All rights reserved.
// Use of this source code is governed by a MIT license
// that can be found in the LICENSE file.

package resqueue

import (
	"github.com/hemant/resqueue/internal/log"
	"github.com/hemant/resqueue/internal/rdb"
	"github.com/hemant/resqueue/internal/timeutil"
)

// runtimeContext bundles everything Job, Client, and Worker need to
// talk to Redis and fire lifecycle hooks. It replaces the source's
// process-wide globals for backend configuration, event listeners, and
// failure backend selection (spec.md §9, "Global mutable state") with
// an explicit value threaded through every call, while still allowing a
// host to fall back to package-level defaults (DefaultRegistry) for
// convenience.
type runtimeContext struct {
	rdb      *rdb.RDB
	events   *EventBus
	failures FailureBackend
	registry *HandlerRegistry
	status   *StatusTracker
	logger   *log.Logger
	clock    timeutil.Clock
}

// newRuntimeContext builds a runtimeContext. A nil events bus gets a
// fresh, empty EventBus -- the normal case for Client/Worker, each of
// which owns its listeners exclusively. runChildProcessJob is the one
// caller that passes a non-nil bus: it is the only way a re-exec'd
// ChildIsolationProcess child can fire the beforePerform/afterPerform
// listeners the parent process registered, since those closures do not
// survive the re-exec on their own (see RunChildProcessWithEvents).
func newRuntimeContext(r *rdb.RDB, logger *log.Logger, registry *HandlerRegistry, failures FailureBackend, clock timeutil.Clock, events *EventBus) *runtimeContext {
	if registry == nil {
		registry = DefaultRegistry
	}
	if clock == nil {
		clock = timeutil.NewRealClock()
	}
	if failures == nil {
		failures = NewRedisFailureBackend(r, clock)
	}
	if events == nil {
		events = NewEventBus()
	}
	return &runtimeContext{
		rdb:      r,
		events:   events,
		failures: failures,
		registry: registry,
		status:   NewStatusTracker(r, clock),
		logger:   logger,
		clock:    clock,
	}
}
