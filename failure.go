// Copyright 2020 Kentaro Hibino. All rights reserved.
// Use of this source code is governed by a MIT license
// that can be found in the LICENSE file.

package resqueue

import (
	"context"
	"fmt"

	"github.com/hemant/resqueue/internal/base"
	"github.com/hemant/resqueue/internal/rdb"
	"github.com/hemant/resqueue/internal/timeutil"
)

// FailureBackend persists a failed job's post-mortem. The default
// backend writes to Redis (failed:<id>, 14-day TTL); a host may supply
// a different backend -- e.g. one that forwards to a log pipeline --
// via Config.FailureBackend without touching the core (spec.md §4.7).
type FailureBackend interface {
	Create(ctx context.Context, payload base.Envelope, exception error, worker, queue string) error
}

// RedisFailureBackend is the default FailureBackend.
type RedisFailureBackend struct {
	rdb   *rdb.RDB
	clock timeutil.Clock
}

// NewRedisFailureBackend returns a RedisFailureBackend backed by r.
func NewRedisFailureBackend(r *rdb.RDB, clock timeutil.Clock) *RedisFailureBackend {
	if clock == nil {
		clock = timeutil.NewRealClock()
	}
	return &RedisFailureBackend{rdb: r, clock: clock}
}

// Create writes failed:<id> with a 14-day TTL.
func (b *RedisFailureBackend) Create(ctx context.Context, payload base.Envelope, exception error, worker, queue string) error {
	rec := base.FailedRecord{
		FailedAt:  b.clock.Now().Unix(),
		Payload:   payload,
		Exception: exceptionName(exception),
		Error:     exception.Error(),
		Backtrace: backtrace(exception),
		Worker:    worker,
		Queue:     queue,
	}
	return b.rdb.SetJSON(b.rdb.Namespace().FailedKey(payload.ID), rec, base.FailedTTL)
}

// exceptionName derives a short label for the exception field. Handler
// errors are free-form in Go (there is no exception class hierarchy to
// introspect), so this falls back to the error's dynamic type name,
// which is the closest Go analogue to Resque's exception class string.
func exceptionName(err error) string {
	return fmt.Sprintf("%T", err)
}

// backtrace returns a best-effort backtrace for the given error. Go
// errors do not carry a call stack unless the handler attached one, so
// this returns a single-line placeholder rather than fabricating
// frames; callers who want real stack traces should wrap their handler
// errors with a library that records one (e.g. pkg/errors) before
// returning them.
func backtrace(err error) []string {
	return []string{err.Error()}
}
