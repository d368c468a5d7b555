// Copyright 2020 Kentaro Hibino. All rights reserved.
// Use of this source code is governed by a MIT license
// that can be found in the LICENSE file.

package resqueue

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hemant/resqueue/internal/base"
	"github.com/hemant/resqueue/internal/errors"
	"github.com/hemant/resqueue/internal/log"
	"github.com/hemant/resqueue/internal/rdb"
)

// Logger supports logging at various log levels. A host can plug in
// logrus, zap, or anything else exposing this shape.
type Logger = log.Base

// LogLevel represents logging level.
type LogLevel int32

const (
	level_unspecified LogLevel = iota
	DebugLevel
	InfoLevel
	WarnLevel
	ErrorLevel
	FatalLevel
)

func toInternalLogLevel(l LogLevel) log.Level {
	switch l {
	case DebugLevel:
		return log.DebugLevel
	case InfoLevel:
		return log.InfoLevel
	case WarnLevel:
		return log.WarnLevel
	case ErrorLevel:
		return log.ErrorLevel
	case FatalLevel:
		return log.FatalLevel
	}
	return log.InfoLevel
}

// ChildIsolation selects how a Worker isolates a job's execution from
// the parent poll loop (spec.md §9, "Process forking").
type ChildIsolation int

const (
	// ChildIsolationGoroutine runs each job in its own goroutine behind
	// a panic-recovering boundary. This is the default: it needs no
	// re-exec cooperation from the host binary, at the cost of not
	// being able to forcibly interrupt a running handler (USR1/TERM
	// mark the child as dirty-exited but let the goroutine finish in
	// the background).
	ChildIsolationGoroutine ChildIsolation = iota
	// ChildIsolationProcess re-execs the current binary as a
	// subprocess for each job, passing the envelope in the child's
	// environment and reading the outcome back over a pipe (see
	// RunChildProcess). It gives true OS-level isolation and lets
	// USR1/TERM SIGKILL the child immediately, matching the source's
	// literal fork/wait semantics most closely, but requires the host
	// main() to call RunChildProcess at startup.
	ChildIsolationProcess
)

// ErrorHandler handles an error that occurred while performing a job.
// It is invoked after the job's own onFailure listeners, purely for
// host-side observability (metrics, alerting); it cannot change the
// outcome recorded in Redis.
type ErrorHandler interface {
	HandleError(job *Job, err error)
}

// ErrorHandlerFunc adapts a function to the ErrorHandler interface.
type ErrorHandlerFunc func(job *Job, err error)

// HandleError calls fn(job, err).
func (fn ErrorHandlerFunc) HandleError(job *Job, err error) { fn(job, err) }

// Config configures a Worker.
type Config struct {
	// Queues lists queue names in priority order. A single entry of
	// "*" resolves the active queue list from the `queues` set on
	// every poll, sorted alphabetically, so queues created after the
	// worker started are picked up (spec.md §4.8, "Construction").
	//
	// If empty, the worker processes only the "default" queue.
	Queues []string

	// Interval is the delay between polls when every queue was empty.
	// A value of exactly zero puts the worker in single-shot mode: it
	// returns as soon as one poll finds nothing, which is how the
	// end-to-end scenarios in spec.md §8 drain a fixture queue. A
	// negative value requests the package default of 5 seconds.
	Interval time.Duration

	// Namespace is the Redis key prefix. Defaults to "resque:".
	Namespace string

	// Registry resolves a job's class to a Handler. Defaults to
	// DefaultRegistry.
	Registry *HandlerRegistry

	// FailureBackend overrides the default Redis-backed failure sink.
	FailureBackend FailureBackend

	// ErrorHandler is notified after a job fails, for host-side
	// observability.
	ErrorHandler ErrorHandler

	// ChildIsolation selects how a job is isolated from the poll loop.
	ChildIsolation ChildIsolation

	// Logger and LogLevel configure the worker's logger.
	Logger   Logger
	LogLevel LogLevel

	// ShutdownTimeout is not read by the Worker. A QUIT shutdown waits
	// for the in-flight job to finish with no time limit; TERM/INT stop
	// waiting on it at once (see ChildIsolation for what happens to the
	// job itself).
	ShutdownTimeout time.Duration

	// PruneInterval is how often the reaper sweeps `workers` for dead
	// entries, beyond the mandatory sweep at startup. Zero disables
	// the periodic sweep (startup pruning still happens).
	PruneInterval time.Duration

	// HealthCheckFunc, if set, is called periodically with the result
	// of pinging Redis.
	HealthCheckFunc func(error)
	// HealthCheckInterval is the delay between health checks. Defaults
	// to 15 seconds.
	HealthCheckInterval time.Duration
}

const (
	defaultInterval            = 5 * time.Second
	defaultShutdownTimeout     = 8 * time.Second
	defaultHealthCheckInterval = 15 * time.Second
)

// Worker polls one or more queues in priority order, reserves jobs
// FIFO, executes each in an isolated child, reports status, counts
// statistics, and persists failures (spec.md §1, §4.8).
type Worker struct {
	rt   *runtimeContext
	conf Config

	id       string
	hostname string
	pid      int
	queues   []string
	wildcard bool

	sharedConnection bool

	shutdown atomic.Bool
	paused   atomic.Bool
	killCh   chan struct{}

	handler ErrorHandler

	healthchecker *healthchecker
	reaper        *reaper

	wg sync.WaitGroup
}

// NewWorker returns a new Worker given a redis connection option and
// worker configuration.
func NewWorker(r RedisConnOpt, cfg Config) *Worker {
	redisClient, ok := r.MakeRedisClient().(redis.UniversalClient)
	if !ok {
		panic(fmt.Sprintf("resqueue: unsupported RedisConnOpt type %T", r))
	}
	w := NewWorkerFromRedisClient(redisClient, cfg)
	w.sharedConnection = false
	return w
}

// NewWorkerFromRedisClient returns a new Worker using an existing
// redis.UniversalClient; the connection is not closed on shutdown.
func NewWorkerFromRedisClient(client redis.UniversalClient, cfg Config) *Worker {
	ns := base.NewNamespace(cfg.Namespace)
	store := rdb.NewRDB(client, ns, nil)

	logger := log.NewLogger(cfg.Logger)
	lvl := cfg.LogLevel
	if lvl == level_unspecified {
		lvl = InfoLevel
	}
	logger.SetLevel(toInternalLogLevel(lvl))

	rt := newRuntimeContext(store, logger, cfg.Registry, cfg.FailureBackend, nil, nil)

	queues, wildcard := normalizeQueues(cfg.Queues)
	hostname, _ := os.Hostname()
	pid := os.Getpid()
	id := base.WorkerID(hostname, pid, queues)
	if wildcard {
		id = base.WorkerID(hostname, pid, []string{"*"})
	}

	hcInterval := cfg.HealthCheckInterval
	if hcInterval <= 0 {
		hcInterval = defaultHealthCheckInterval
	}

	w := &Worker{
		rt:               rt,
		conf:             cfg,
		id:               id,
		hostname:         hostname,
		pid:              pid,
		queues:           queues,
		wildcard:         wildcard,
		sharedConnection: true,
		killCh:           make(chan struct{}, 1),
		handler:          cfg.ErrorHandler,
	}
	w.healthchecker = newHealthChecker(healthcheckerParams{
		logger:          logger,
		rdb:             store,
		interval:        hcInterval,
		healthcheckFunc: cfg.HealthCheckFunc,
	})
	w.reaper = newReaper(reaperParams{
		logger:   logger,
		rdb:      store,
		hostname: hostname,
		selfPID:  pid,
		interval: cfg.PruneInterval,
	})
	return w
}

// ID returns the worker's stable identity: <hostname>:<pid>:<queues>.
func (w *Worker) ID() string { return w.id }

// Events returns the Worker's event bus, for registering
// beforeFirstFork/beforeFork/afterFork/beforePerform/afterPerform/
// onFailure listeners.
func (w *Worker) Events() *EventBus { return w.rt.events }

func normalizeQueues(queues []string) (list []string, wildcard bool) {
	if len(queues) == 0 {
		return []string{base.DefaultQueueName}, false
	}
	for _, q := range queues {
		if q == "*" {
			return nil, true
		}
	}
	out := make([]string, len(queues))
	copy(out, queues)
	return out, false
}

// activeQueues returns the queues to poll this round, in priority
// order. For a wildcard worker this re-reads the `queues` set and sorts
// alphabetically, per spec.md §4.8's "Construction" note, so queues
// created after the worker started are still picked up.
func (w *Worker) activeQueues() ([]string, error) {
	if !w.wildcard {
		return w.queues, nil
	}
	all, err := w.rt.rdb.Queues()
	if err != nil {
		return nil, err
	}
	sort.Strings(all)
	return all, nil
}

// Work runs the poll loop until ctx is canceled, a shutdown signal is
// received, or (when interval is zero) a single poll finds no job
// anywhere -- the single-shot mode used by the end-to-end scenarios in
// spec.md §8.
func (w *Worker) Work(ctx context.Context) error {
	interval := w.conf.Interval
	if interval < 0 {
		interval = defaultInterval
	}

	if err := w.startup(); err != nil {
		return err
	}
	defer w.unregisterWorker()

	stopSignals := w.installSignalHandlers()
	defer stopSignals()

	w.healthchecker.start(&w.wg)
	defer w.healthchecker.shutdown()
	if w.reaper.interval > 0 {
		w.reaper.start(&w.wg)
		defer w.reaper.shutdown()
	}

	for {
		if ctx.Err() != nil {
			break
		}
		if w.shutdown.Load() {
			break
		}

		if w.paused.Load() {
			time.Sleep(200 * time.Millisecond)
			continue
		}

		job, err := w.reserveNext()
		if err != nil {
			w.rt.logger.Alert(fmt.Sprintf("resqueue: reserve failed: %v", err))
			job = nil
		}

		if job == nil {
			if interval == 0 {
				break
			}
			time.Sleep(interval)
			continue
		}

		w.processOne(job)
	}
	return nil
}

// reserveNext tries each active queue in priority order and returns the
// first envelope found. A TransportError on any single queue is logged
// and treated as "no job on that queue", per spec.md §4.8 step 2.
func (w *Worker) reserveNext() (*Job, error) {
	queues, err := w.activeQueues()
	if err != nil {
		return nil, err
	}
	for _, q := range queues {
		job, found, err := w.rt.reserveJob(q)
		if err != nil {
			if errors.Is(err, errors.Transport) {
				w.rt.logger.Alert(fmt.Sprintf("resqueue: transport error polling %q: %v", q, err))
				continue
			}
			return nil, err
		}
		if found {
			job.WorkerID = w.id
			return job, nil
		}
	}
	return nil, nil
}

func (w *Worker) startup() error {
	if err := w.reaper.pruneOnce(); err != nil {
		w.rt.logger.Errorf("resqueue: startup prune failed: %v", err)
	}
	_ = w.rt.events.Trigger(EventBeforeFirstFork, w)
	started := time.Now().Format(time.ANSIC)
	return w.rt.rdb.RegisterWorker(w.id, started)
}

// unregisterWorker matches the source's unregisterWorker: fail any
// in-flight job on this worker's behalf, then remove all traces of the
// worker from Redis.
func (w *Worker) unregisterWorker() {
	if payload, found, err := w.rt.rdb.GetWorkingOn(w.id); err == nil && found {
		job := &Job{rt: w.rt, Queue: payload.Queue, Envelope: payload.Payload, WorkerID: w.id}
		_ = job.Fail(errors.E(errors.DirtyExit, "worker exited while job was in progress"))
	}
	if err := w.rt.rdb.UnregisterWorker(w.id); err != nil {
		w.rt.logger.Errorf("resqueue: could not unregister worker %s: %v", w.id, err)
	}
}

// processOne runs the fork/wait cycle for a single job (spec.md §4.8
// steps 4-7).
func (w *Worker) processOne(job *Job) {
	_ = w.rt.events.Trigger(EventBeforeFork, job)

	payload := base.WorkerPayload{Queue: job.Queue, RunAt: time.Now().Unix(), Payload: job.Envelope}
	if err := w.rt.rdb.SetWorkingOn(w.id, payload); err != nil {
		w.rt.logger.Errorf("resqueue: could not record working-on for %s: %v", job.ID(), err)
	}
	if err := job.UpdateStatus(base.StatusRunning); err != nil {
		w.rt.logger.Errorf("resqueue: could not update status for %s: %v", job.ID(), err)
	}

	// A kill requested while no child was running has nothing to act
	// on; discard it so it does not hit this job.
	select {
	case <-w.killCh:
	default:
	}

	var result childResult
	switch w.conf.ChildIsolation {
	case ChildIsolationProcess:
		result = w.runChildProcess(job)
	default:
		result = w.runChildGoroutine(job)
	}

	if err := w.rt.rdb.ClearWorkingOn(w.id); err != nil {
		w.rt.logger.Errorf("resqueue: could not clear working-on for %s: %v", w.id, err)
	}

	switch {
	case result.err != nil:
		if err := job.Fail(result.err); err != nil {
			w.rt.logger.Errorf("resqueue: could not record failure for %s: %v", job.ID(), err)
		}
		if w.handler != nil {
			w.handler.HandleError(job, result.err)
		}
	case !result.ran:
		// DontPerform: cleanly skipped, neither processed nor failed.
	default:
		if err := job.UpdateStatus(base.StatusComplete); err != nil {
			w.rt.logger.Errorf("resqueue: could not update status for %s: %v", job.ID(), err)
		}
		if err := w.rt.rdb.IncrStat("processed", 1); err != nil {
			w.rt.logger.Errorf("resqueue: could not incr processed stat: %v", err)
		}
		if err := w.rt.rdb.IncrStat("processed:"+w.id, 1); err != nil {
			w.rt.logger.Errorf("resqueue: could not incr per-worker processed stat: %v", err)
		}
	}
}

// childResult is the fork/wait outcome: whether the handler ran, and
// any error to record as a failure.
type childResult struct {
	ran bool
	err error
}

// runChildGoroutine is the default ChildIsolationGoroutine rendition of
// spec.md §4.8's fork/wait step: the "child" is a goroutine behind a
// panic-recovering boundary so a job crash can never take the worker
// down with it.
func (w *Worker) runChildGoroutine(job *Job) childResult {
	resultCh := make(chan childResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				resultCh <- childResult{false, errors.Wrap(errors.DirtyExit, fmt.Sprintf("job %s panicked", job.ID()), fmt.Errorf("%v", r))}
			}
		}()
		_ = w.rt.events.Trigger(EventAfterFork, job)
		ran, err := job.Perform()
		resultCh <- childResult{ran, err}
	}()

	select {
	case res := <-resultCh:
		return res
	case <-w.killCh:
		// USR1/TERM: goroutine isolation cannot forcibly interrupt a
		// running handler, so the kill is recorded as a dirty exit and
		// the goroutine is left to finish in the background; its
		// result, if any, is discarded.
		return childResult{false, errors.E(errors.DirtyExit, fmt.Sprintf("job %s killed by signal", job.ID()))}
	}
}
