// Copyright 2020 Kentaro Hibino. All rights reserved.
// Use of this source code is governed by a MIT license
// that can be found in the LICENSE file.

package resqueue

import (
	"context"
	"fmt"

	"github.com/hemant/resqueue/internal/base"
	"github.com/hemant/resqueue/internal/errors"
)

// Job is a job record: the envelope reserved off a queue plus enough
// context to perform it, report its status, and hand off a failure.
// Reserving a job (reserveJob) is effectively at-most-once (spec.md §7):
// if the worker dies between reserve and fork, the envelope is lost.
// Hosts needing at-least-once delivery must wrap the reservation in their
// own inflight list
// and reconcile on startup; that extension is deliberately outside the
// core.
type Job struct {
	rt *runtimeContext

	Queue    string
	Envelope base.Envelope

	// WorkerID is set by the worker while the job is executing, for
	// per-worker stat keys and the failure envelope's Worker field.
	// It is empty for jobs constructed outside of a worker's poll
	// loop (e.g. by a producer that never runs Perform).
	WorkerID string
}

// Class returns the job's handler class name.
func (j *Job) Class() string { return j.Envelope.Class }

// ID returns the job's identity string.
func (j *Job) ID() string { return j.Envelope.ID }

// Args returns the caller-supplied argument mapping.
func (j *Job) Args() map[string]any { return j.Envelope.UserArgs() }

// CreateOptions configures Job.Create / Client.Enqueue.
type CreateOptions struct {
	// TrackStatus requests a job:<id>:status record be maintained for
	// this job's lifetime.
	TrackStatus bool
}

// createJob builds and pushes a new envelope onto queue, returning its id.
// If args carries an "id" entry, that identity is reused and the push
// is treated as a recreation (spec.md §4.4); otherwise a fresh 128-bit
// hex id is minted. args must be nil or a map; anything else is
// InvalidArgument.
func (rt *runtimeContext) createJob(ctx context.Context, queue, class string, args map[string]any, opts CreateOptions) (string, error) {
	id, recreated := extractID(args)
	if id == "" {
		id = base.NewID()
	}

	cleanArgs := args
	if recreated {
		cleanArgs = cloneWithoutID(args)
	}

	env := base.Envelope{Class: class, ID: id}
	if cleanArgs != nil {
		env.Args = []map[string]any{cleanArgs}
	}

	if err := rt.rdb.Push(queue, env); err != nil {
		return "", err
	}

	if opts.TrackStatus {
		if recreated {
			tracking, err := rt.status.IsTracking(id)
			if err != nil {
				return "", err
			}
			if tracking {
				if err := rt.status.Update(id, base.StatusWaiting); err != nil {
					return "", err
				}
			} else if err := rt.status.Create(id); err != nil {
				return "", err
			}
		} else if err := rt.status.Create(id); err != nil {
			return "", err
		}
	}

	_ = rt.events.Trigger(EventAfterEnqueue, AfterEnqueuePayload{Class: class, Args: cleanArgs, Queue: queue})
	return id, nil
}

func extractID(args map[string]any) (id string, recreated bool) {
	if args == nil {
		return "", false
	}
	v, ok := args["id"]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

func cloneWithoutID(args map[string]any) map[string]any {
	out := make(map[string]any, len(args))
	for k, v := range args {
		if k == "id" {
			continue
		}
		out[k] = v
	}
	return out
}

// validateArgs enforces spec.md §4.4: args must be absent or a mapping.
func validateArgs(args interface{}) (map[string]any, error) {
	if args == nil {
		return nil, nil
	}
	m, ok := args.(map[string]any)
	if !ok {
		return nil, errors.E(errors.InvalidArgument, "args must be a mapping or nil")
	}
	return m, nil
}

// reserveJob pops the next envelope off queue and returns a bound Job.
// found is false when the queue is empty.
func (rt *runtimeContext) reserveJob(queue string) (job *Job, found bool, err error) {
	env, ok, err := rt.rdb.Pop(queue)
	if err != nil || !ok {
		return nil, ok, err
	}
	return &Job{rt: rt, Queue: queue, Envelope: env}, true, nil
}

// Perform resolves j's handler, runs the beforePerform/afterPerform
// hooks around it, and reports whether the handler ran. A false result
// with a nil error means a listener or the handler's SetUp raised
// ErrDontPerform: the job is considered cleanly skipped, not a
// failure and not a success (spec.md §4.4, §4.6).
func (j *Job) Perform() (ran bool, err error) {
	handler, herr := j.rt.registry.Resolve(j.Class())
	if herr != nil {
		return false, herr
	}

	if err := j.rt.events.Trigger(EventBeforePerform, j); err != nil {
		if errors.Is(err, errors.DontPerform) {
			return false, nil
		}
		return false, errors.Wrap(errors.HandlerError, "beforePerform listener failed", err)
	}

	if su, ok := handler.(SetUpper); ok {
		if err := su.SetUp(j); err != nil {
			if errors.Is(err, errors.DontPerform) {
				return false, nil
			}
			return false, errors.Wrap(errors.HandlerError, "SetUp failed", err)
		}
	}

	perr := handler.Perform(j, j.Args())

	if td, ok := handler.(TearDowner); ok {
		if terr := td.TearDown(j); terr != nil && perr == nil {
			perr = terr
		}
	}

	if perr != nil {
		return false, errors.Wrap(errors.HandlerError, fmt.Sprintf("handler %q failed", j.Class()), perr)
	}

	_ = j.rt.events.Trigger(EventAfterPerform, j)
	return true, nil
}

// Fail records exception as this job's failure: fires onFailure, marks
// the status FAILED, persists the failure envelope, and increments the
// failed counters (spec.md §4.4).
func (j *Job) Fail(exception error) error {
	_ = j.rt.events.Trigger(EventOnFailure, OnFailurePayload{Exception: exception, Job: j})

	if err := j.rt.status.Update(j.ID(), base.StatusFailed); err != nil {
		j.rt.logger.Errorf("could not update status for job %s: %v", j.ID(), err)
	}

	if err := j.rt.failures.Create(context.Background(), j.Envelope, exception, j.WorkerID, j.Queue); err != nil {
		return err
	}

	if err := j.rt.rdb.IncrStat("failed", 1); err != nil {
		return err
	}
	if j.WorkerID != "" {
		if err := j.rt.rdb.IncrStat("failed:"+j.WorkerID, 1); err != nil {
			return err
		}
	}
	return nil
}

// Recreate republishes the same class and args onto the same queue
// under a fresh id, re-establishing status tracking on the new id if
// the original job was tracked (spec.md §4.4).
func (j *Job) Recreate() (newID string, err error) {
	wasTracked, err := j.rt.status.IsTracking(j.ID())
	if err != nil {
		return "", err
	}
	return j.rt.createJob(context.Background(), j.Queue, j.Class(), j.Args(), CreateOptions{TrackStatus: wasTracked})
}

// GetStatus returns j's current status code, or ok=false if untracked.
func (j *Job) GetStatus() (code base.StatusCode, ok bool, err error) {
	return j.rt.status.Get(j.ID())
}

// UpdateStatus rewrites j's status record with code and a refreshed
// TTL.
func (j *Job) UpdateStatus(code base.StatusCode) error {
	return j.rt.status.Update(j.ID(), code)
}
