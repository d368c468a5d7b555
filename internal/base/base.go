// Copyright 2020 Kentaro Hibino. All rights reserved.
// Use of this source code is governed by a MIT license
// that can be found in the LICENSE file.

// Package base defines foundational types and constants used in the
// resqueue package: the Redis key layout, the job envelope, and the
// worker registry records. Keeping all of this in one package is what
// lets both the producer side and the worker side agree on the exact
// wire format without importing each other.
package base

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/spf13/cast"
)

// DefaultNamespace is the key prefix used when none is configured.
// It matches the original Resque default so dashboards built against
// that layout keep working unmodified.
const DefaultNamespace = "resque:"

// DefaultQueueName is the queue used when a producer does not specify one.
const DefaultQueueName = "default"

// Status codes stored in a job's status record.
type StatusCode int

const (
	StatusWaiting StatusCode = iota + 1
	StatusRunning
	StatusFailed
	StatusComplete
)

func (c StatusCode) String() string {
	switch c {
	case StatusWaiting:
		return "waiting"
	case StatusRunning:
		return "running"
	case StatusFailed:
		return "failed"
	case StatusComplete:
		return "complete"
	}
	return "unknown"
}

// StatusTTL bounds the storage growth of job:<id>:status records.
// Refreshed on every update, per the queue protocol.
const StatusTTL = 24 * time.Hour

// FailedTTL bounds the storage growth of failed:<id> records.
const FailedTTL = 14 * 24 * time.Hour

// Namespace holds the configured key prefix and builds fully qualified
// Redis keys. The zero value is not usable; use NewNamespace.
type Namespace struct {
	prefix string
}

// NewNamespace returns a Namespace for prefix, auto-appending a trailing
// colon if one is not already present. An empty prefix falls back to
// DefaultNamespace.
func NewNamespace(prefix string) Namespace {
	if prefix == "" {
		prefix = DefaultNamespace
	}
	if !strings.HasSuffix(prefix, ":") {
		prefix += ":"
	}
	return Namespace{prefix: prefix}
}

func (n Namespace) key(s string) string { return n.prefix + s }

// QueuesKey is the set of all known queue names.
func (n Namespace) QueuesKey() string { return n.key("queues") }

// QueueKey is the list holding the envelopes for the named queue.
func (n Namespace) QueueKey(qname string) string { return n.key("queue:" + qname) }

// QueueTempKey and QueueRequeueKey are the scratch keys used by the
// selective-dequeue drain/restore algorithm.
func (n Namespace) QueueTempKey(qname string, tag int64) string {
	return fmt.Sprintf("%s:temp:%d", n.QueueKey(qname), tag)
}

func (n Namespace) QueueRequeueKey(qname string, tag int64) string {
	return n.QueueTempKey(qname, tag) + ":requeue"
}

// StatusKey is the per-job lifecycle status record.
func (n Namespace) StatusKey(id string) string { return n.key("job:" + id + ":status") }

// WorkersKey is the set of all registered worker identities.
func (n Namespace) WorkersKey() string { return n.key("workers") }

// WorkerStartedKey holds a worker's human-readable start timestamp.
func (n Namespace) WorkerStartedKey(id string) string { return n.key("worker:" + id + ":started") }

// WorkerKey holds the job a worker is currently executing, if any.
func (n Namespace) WorkerKey(id string) string { return n.key("worker:" + id) }

// StatKey is a monotonic counter.
func (n Namespace) StatKey(name string) string { return n.key("stat:" + name) }

// FailedKey holds the persisted post-mortem for a failed job.
func (n Namespace) FailedKey(id string) string { return n.key("failed:" + id) }

// Envelope is the JSON record stored on a queue list: {class, args, id}.
// Args is always a one-element slice wrapping the caller's argument
// mapping, per the queue protocol.
type Envelope struct {
	Class string           `json:"class"`
	Args  []map[string]any `json:"args"`
	ID    string           `json:"id"`
}

// UserArgs returns the caller-supplied argument mapping, or nil if the
// envelope carries none.
func (e Envelope) UserArgs() map[string]any {
	if len(e.Args) == 0 {
		return nil
	}
	return e.Args[0]
}

// NewID mints a 128-bit random identity, hex-encoded with no separators,
// matching Resque's bare-hex job id format. The randomness comes from a
// v4 UUID; only its 16 raw bytes are kept, not the dashed string form.
func NewID() string {
	id, err := uuid.NewRandom()
	if err != nil {
		// Reading the system CSPRNG can only fail in practice if
		// /dev/urandom is unavailable, which is not a condition a
		// degraded fallback can usefully recover from; a
		// timestamp-derived id keeps NewID from panicking anyway.
		return hex.EncodeToString([]byte(fmt.Sprintf("%d", time.Now().UnixNano())))
	}
	raw := [16]byte(id)
	return hex.EncodeToString(raw[:])
}

// StatusRecord is the JSON mapping stored at job:<id>:status.
type StatusRecord struct {
	Status  StatusCode `json:"status"`
	Updated int64      `json:"updated"`
	Started int64      `json:"started"`
}

// WorkerPayload is the JSON record stored at worker:<id> while a job is
// being executed.
type WorkerPayload struct {
	Queue   string   `json:"queue"`
	RunAt   int64    `json:"run_at"`
	Payload Envelope `json:"payload"`
}

// FailedRecord is the JSON record stored at failed:<id>.
type FailedRecord struct {
	FailedAt  int64    `json:"failed_at"`
	Payload   Envelope `json:"payload"`
	Exception string   `json:"exception"`
	Error     string   `json:"error"`
	Backtrace []string `json:"backtrace"`
	Worker    string   `json:"worker"`
	Queue     string   `json:"queue"`
}

// WorkerID builds the stable identity string for a worker process:
// <hostname>:<pid>:<queues-csv>.
func WorkerID(hostname string, pid int, queues []string) string {
	return fmt.Sprintf("%s:%d:%s", hostname, pid, strings.Join(queues, ","))
}

// ParseWorkerID splits a worker identity string back into its parts.
// It returns ok=false if s is not in the <host>:<pid>:<queues> shape.
func ParseWorkerID(s string) (host string, pid int, queues []string, ok bool) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) != 3 {
		return "", 0, nil, false
	}
	p, err := strconv.Atoi(parts[1])
	if err != nil {
		return "", 0, nil, false
	}
	var qs []string
	if parts[2] != "" {
		qs = strings.Split(parts[2], ",")
	}
	return parts[0], p, qs, true
}

// ProcessAlive reports whether pid refers to a live process on this host.
// It uses a signal-0 probe (the POSIX idiom for "does this pid exist")
// rather than shelling out to ps, since the process table is directly
// reachable from Go via syscall.
func ProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	if pid == os.Getpid() {
		return true
	}
	err := syscall.Kill(pid, 0)
	if err == nil {
		return true
	}
	return err == syscall.EPERM
}

// MatchItem describes one entry of a selective-dequeue match spec. Class
// always matches on envelope.Class. At most one of ID or Args is set.
type MatchItem struct {
	Class string
	ID    string
	Args  map[string]any
}

// Matches reports whether env satisfies m, using the three match shapes
// from the queue protocol: bare class, class+id, or class+args-subset.
func (m MatchItem) Matches(env Envelope) bool {
	if env.Class != m.Class {
		return false
	}
	if m.ID != "" {
		return env.ID == m.ID
	}
	if len(m.Args) > 0 {
		return ArgsSubset(m.Args, env.UserArgs())
	}
	return true
}

// ArgsSubset implements the source's surprising "array_diff" semantics:
// it is a value-wise comparison, not a key-wise one. want's values must
// all appear somewhere among got's values (compared as strings via
// cast, so that a JSON number and its string form are considered equal).
// This is preserved verbatim even though a naive reading of "contains
// all key/value pairs" would suggest a key-wise subset check -- the
// source's matchesClassNameWithArgs really does a flat value diff, and
// callers rely on that.
func ArgsSubset(want map[string]any, got map[string]any) bool {
	if len(want) == 0 {
		return true
	}
	gotValues := make([]string, 0, len(got))
	for _, v := range got {
		gotValues = append(gotValues, cast.ToString(v))
	}
	for _, wv := range want {
		wantStr := cast.ToString(wv)
		found := false
		for i, gv := range gotValues {
			if gv == wantStr {
				gotValues = append(gotValues[:i], gotValues[i+1:]...)
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
