// Copyright 2022 Kentaro Hibino. All rights reserved.
// Use of this source code is governed by a MIT license
// that can be found in the LICENSE file.

package resqueue

import (
	"sync"
	"time"

	"github.com/hemant/resqueue/internal/base"
	"github.com/hemant/resqueue/internal/errors"
	"github.com/hemant/resqueue/internal/log"
	"github.com/hemant/resqueue/internal/rdb"
)

// reaper is responsible for pruning dead workers: entries in `workers`
// whose host matches this machine but whose pid is no longer alive
// (spec.md §4.8, "Dead-worker pruning"). It always runs once at
// startup; a non-zero interval also runs it periodically, to catch
// workers on this host that crash after this worker has started.
type reaper struct {
	logger   *log.Logger
	rdb      *rdb.RDB
	hostname string
	selfPID  int

	done chan struct{}

	interval time.Duration
}

type reaperParams struct {
	logger   *log.Logger
	rdb      *rdb.RDB
	hostname string
	selfPID  int
	interval time.Duration
}

func newReaper(params reaperParams) *reaper {
	return &reaper{
		logger:   params.logger,
		rdb:      params.rdb,
		hostname: params.hostname,
		selfPID:  params.selfPID,
		done:     make(chan struct{}),
		interval: params.interval,
	}
}

func (j *reaper) shutdown() {
	j.logger.Debug("Reaper shutting down...")
	j.done <- struct{}{}
}

func (j *reaper) start(wg *sync.WaitGroup) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		timer := time.NewTimer(j.interval)
		for {
			select {
			case <-j.done:
				j.logger.Debug("Reaper done")
				timer.Stop()
				return
			case <-timer.C:
				if err := j.pruneOnce(); err != nil {
					j.logger.Errorf("resqueue: prune sweep failed: %v", err)
				}
				timer.Reset(j.interval)
			}
		}
	}()
}

// pruneOnce implements pruneDeadWorkers (spec.md §4.8): for each entry
// in `workers`, parse <host>:<pid>:<queues>; skip entries from other
// hosts, entries whose pid is still alive, and this worker's own
// entry; everything else is unregistered on the dead worker's behalf.
func (j *reaper) pruneOnce() error {
	entries, err := j.rdb.Workers()
	if err != nil {
		return err
	}
	for _, id := range entries {
		host, pid, _, ok := base.ParseWorkerID(id)
		if !ok {
			continue
		}
		if host != j.hostname {
			continue
		}
		if pid == j.selfPID {
			continue
		}
		if base.ProcessAlive(pid) {
			continue
		}
		if err := j.unregisterDead(id); err != nil {
			j.logger.Errorf("resqueue: could not unregister dead worker %s: %v", id, err)
		}
	}
	return nil
}

// unregisterDead performs unregisterWorker on behalf of a worker this
// process has determined is dead: fail its in-flight job, if any, then
// strip every trace of it from Redis.
func (j *reaper) unregisterDead(id string) error {
	if payload, found, err := j.rdb.GetWorkingOn(id); err == nil && found {
		if err := j.failDeadJob(payload, id); err != nil {
			return err
		}
	}
	return j.rdb.UnregisterWorker(id)
}

// failDeadJob records a DirtyExitError for a job that was in-flight on
// a worker this reaper just determined is dead. It writes directly
// through rdb rather than via Job.Fail, since a reaper sweep may run
// before any runtimeContext for that worker exists in this process.
func (j *reaper) failDeadJob(payload base.WorkerPayload, workerID string) error {
	statusKey := j.rdb.Namespace().StatusKey(payload.Payload.ID)
	rec := base.StatusRecord{Status: base.StatusFailed, Updated: time.Now().Unix(), Started: time.Now().Unix()}
	if err := j.rdb.SetJSON(statusKey, rec, base.StatusTTL); err != nil {
		return err
	}

	failErr := errors.E(errors.DirtyExit, "worker vanished while job was in progress")
	failedRec := base.FailedRecord{
		FailedAt:  time.Now().Unix(),
		Payload:   payload.Payload,
		Exception: "resqueue.DirtyExitError",
		Error:     failErr.Error(),
		Backtrace: []string{failErr.Error()},
		Worker:    workerID,
		Queue:     payload.Queue,
	}
	if err := j.rdb.SetJSON(j.rdb.Namespace().FailedKey(payload.Payload.ID), failedRec, base.FailedTTL); err != nil {
		return err
	}

	if err := j.rdb.IncrStat("failed", 1); err != nil {
		return err
	}
	return j.rdb.IncrStat("failed:"+workerID, 1)
}
