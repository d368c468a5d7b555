// Copyright 2020 Kentaro Hibino. All rights reserved.
// Use of this source code is governed by a MIT license
// that can be found in the LICENSE file.

//go:build !windows

package resqueue

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"

	"github.com/hemant/resqueue/internal/base"
	"github.com/hemant/resqueue/internal/errors"
)

// ChildIsolationProcess renders spec.md §4.8's fork/wait step as a real
// subprocess instead of a goroutine: the worker re-execs its own binary
// with the job envelope passed through an environment variable, and the
// child reports its outcome on a dedicated pipe fd. Killing the child is
// then a real SIGKILL instead of an abandoned goroutine, at the cost of
// requiring every handler class to be registered before main() hands
// control to RunChildProcess, and requiring RunChildProcessWithEvents
// instead of RunChildProcess when the host relies on lifecycle event
// listeners (see RunChildProcess's doc comment).
const (
	childJobEnvVar   = "RESQUEUE_CHILD_JOB"
	childQueueEnvVar = "RESQUEUE_CHILD_QUEUE"
	childResultFD    = 3
)

type childOutcome struct {
	Ran   bool   `json:"ran"`
	Error string `json:"error,omitempty"`
}

// runChildProcess implements ChildIsolationProcess: it re-execs the
// current binary with the job's envelope serialized into the
// environment, waits for it to exit, and reads the outcome back off a
// pipe inherited at fd 3. A non-zero exit with no outcome on the pipe
// (the process was killed, or crashed before reporting) is rendered as
// a DirtyExit error, mirroring what a real fork/wait loop observes when
// its child dies from a signal.
func (w *Worker) runChildProcess(job *Job) childResult {
	envelopeJSON, err := json.Marshal(job.Envelope)
	if err != nil {
		return childResult{false, errors.Wrap(errors.DirtyExit, "could not marshal job envelope for child process", err)}
	}

	pr, pw, err := os.Pipe()
	if err != nil {
		return childResult{false, errors.Wrap(errors.DirtyExit, "could not open result pipe", err)}
	}
	defer pr.Close()

	cmd := exec.Command(os.Args[0], os.Args[1:]...)
	cmd.Env = append(os.Environ(),
		childJobEnvVar+"="+string(envelopeJSON),
		childQueueEnvVar+"="+job.Queue,
	)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.ExtraFiles = []*os.File{pw}

	_ = w.rt.events.Trigger(EventAfterFork, job)

	if err := cmd.Start(); err != nil {
		pw.Close()
		return childResult{false, errors.Wrap(errors.DirtyExit, "could not start child process", err)}
	}
	pw.Close()

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var buf bytes.Buffer
	readDone := make(chan struct{})
	go func() {
		_, _ = buf.ReadFrom(pr)
		close(readDone)
	}()

	select {
	case waitErr := <-done:
		<-readDone
		return decodeChildOutcome(job, buf.Bytes(), waitErr)
	case <-w.killCh:
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		<-done
		<-readDone
		return childResult{false, errors.E(errors.DirtyExit, fmt.Sprintf("job %s killed by signal", job.ID()))}
	}
}

func decodeChildOutcome(job *Job, raw []byte, waitErr error) childResult {
	if len(raw) == 0 {
		reason := "child process exited without reporting a result"
		if waitErr != nil {
			reason = fmt.Sprintf("child process for job %s exited: %v", job.ID(), waitErr)
		}
		return childResult{false, errors.E(errors.DirtyExit, reason)}
	}
	var outcome childOutcome
	if err := json.Unmarshal(raw, &outcome); err != nil {
		return childResult{false, errors.Wrap(errors.DirtyExit, "could not decode child process result", err)}
	}
	if outcome.Error != "" {
		return childResult{outcome.Ran, errors.E(errors.HandlerError, outcome.Error)}
	}
	return childResult{outcome.Ran, nil}
}

// RunChildProcess is the child-side half of ChildIsolationProcess. A
// host that sets Config.ChildIsolation to ChildIsolationProcess must
// call RunChildProcess at the very top of main(), after registering
// every handler class the process will ever need: handler closures do
// not survive a re-exec, only the class name does, so any class the
// parent might dispatch to must already be in the registry by the time
// this runs. It reports false if the current process is not a
// re-exec'd child (the common case in the parent), so it is always
// safe to call unconditionally.
//
// RunChildProcess runs the job against a bare, listener-free EventBus:
// a beforePerform/afterPerform/onFailure listener registered on the
// parent Worker via Events().Listen never fires for a job executed
// this way, because that registration is in-memory state that does not
// survive the re-exec. A host that relies on those hooks under
// ChildIsolationProcess must call RunChildProcessWithEvents instead,
// registering the same listeners on the EventBus it passes in as it
// registers them on the parent Worker (main() runs from the top again
// in the re-exec'd child, so the registration code itself does survive
// even though the closures' captured state does not).
func RunChildProcess(registry *HandlerRegistry) (ranAsChild bool) {
	return RunChildProcessWithEvents(registry, nil)
}

// RunChildProcessWithEvents is RunChildProcess with an EventBus the
// host has populated with the same beforePerform/afterPerform/onFailure
// listeners it registered on the parent Worker, so those hooks still
// fire for jobs isolated with ChildIsolationProcess. Passing nil is
// equivalent to RunChildProcess.
func RunChildProcessWithEvents(registry *HandlerRegistry, events *EventBus) (ranAsChild bool) {
	envelopeJSON, ok := os.LookupEnv(childJobEnvVar)
	if !ok {
		return false
	}
	queue := os.Getenv(childQueueEnvVar)

	result := runChildProcessJob(registry, events, queue, envelopeJSON)

	out, err := json.Marshal(result)
	if err != nil {
		out = []byte(`{"ran":false,"error":"could not marshal child outcome"}`)
	}
	if f := os.NewFile(childResultFD, "resqueue-child-result"); f != nil {
		_, _ = f.Write(out)
		_ = f.Close()
	}

	if result.Error != "" {
		os.Exit(1)
	}
	os.Exit(0)
	return true
}

func runChildProcessJob(registry *HandlerRegistry, events *EventBus, queue, envelopeJSON string) childOutcome {
	var env base.Envelope
	if err := json.Unmarshal([]byte(envelopeJSON), &env); err != nil {
		return childOutcome{false, fmt.Sprintf("could not decode job envelope: %v", err)}
	}
	if registry == nil {
		registry = DefaultRegistry
	}
	rt := newRuntimeContext(nil, nil, registry, nil, nil, events)
	job := &Job{rt: rt, Queue: queue, Envelope: env}

	ran, err := job.Perform()
	if err != nil {
		return childOutcome{ran, err.Error()}
	}
	return childOutcome{ran, ""}
}
