// Copyright 2020 Kentaro Hibino. All rights reserved.
// Use of this source code is governed by a MIT license
// that can be found in the LICENSE file.

package resqueue

import (
	"github.com/hemant/resqueue/internal/base"
	"github.com/hemant/resqueue/internal/rdb"
	"github.com/hemant/resqueue/internal/timeutil"
)

// StatusTracker manages the optional per-job lifecycle state described
// in spec.md §4.5: WAITING -> RUNNING -> {COMPLETE, FAILED}, stored at
// job:<id>:status with a 24h TTL refreshed on every write. Observers
// must tolerate the record disappearing once the TTL elapses.
type StatusTracker struct {
	rdb   *rdb.RDB
	clock timeutil.Clock
}

// NewStatusTracker returns a StatusTracker backed by r.
func NewStatusTracker(r *rdb.RDB, clock timeutil.Clock) *StatusTracker {
	if clock == nil {
		clock = timeutil.NewRealClock()
	}
	return &StatusTracker{rdb: r, clock: clock}
}

// Create writes an initial WAITING record for id.
func (t *StatusTracker) Create(id string) error {
	now := t.clock.Now().Unix()
	rec := base.StatusRecord{Status: base.StatusWaiting, Updated: now, Started: now}
	return t.rdb.SetJSON(t.rdb.Namespace().StatusKey(id), rec, base.StatusTTL)
}

// Update rewrites id's status record with code and a refreshed TTL. It
// preserves the original Started timestamp when a prior record exists.
func (t *StatusTracker) Update(id string, code base.StatusCode) error {
	var existing base.StatusRecord
	found, err := t.rdb.GetJSON(t.rdb.Namespace().StatusKey(id), &existing)
	if err != nil {
		return err
	}
	now := t.clock.Now().Unix()
	rec := base.StatusRecord{Status: code, Updated: now, Started: now}
	if found {
		rec.Started = existing.Started
	}
	return t.rdb.SetJSON(t.rdb.Namespace().StatusKey(id), rec, base.StatusTTL)
}

// Get returns id's current status code. ok is false if the record is
// absent or has expired.
func (t *StatusTracker) Get(id string) (code base.StatusCode, ok bool, err error) {
	var rec base.StatusRecord
	found, err := t.rdb.GetJSON(t.rdb.Namespace().StatusKey(id), &rec)
	if err != nil || !found {
		return 0, found, err
	}
	return rec.Status, true, nil
}

// IsTracking reports whether id currently has a status record.
func (t *StatusTracker) IsTracking(id string) (bool, error) {
	_, ok, err := t.Get(id)
	return ok, err
}

// Stop deletes id's status record immediately, without waiting for the
// TTL.
func (t *StatusTracker) Stop(id string) error {
	return t.rdb.Del(t.rdb.Namespace().StatusKey(id))
}
