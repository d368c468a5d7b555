// Copyright 2024 Hemant. All rights reserved.
// Use of this source code is governed by a MIT license
// that can be found in the LICENSE file.

/*
Package resqueue is a Resque-compatible background job queue and
worker runtime backed by Redis.

It speaks the same Redis key layout as Resque: jobs pushed by this
package can be picked up by a Ruby Resque worker, and jobs pushed by
Resque can be picked up by a Worker here, as long as both sides agree
on job class names.

# Quick Start

Client (enqueue jobs):

	client := resqueue.NewClient(resqueue.RedisClientOpt{
		Addr: "localhost:6379",
	}, resqueue.ClientConfig{})
	defer client.Close()

	info, err := client.Enqueue("default", "SendWelcomeEmail", map[string]any{
		"user_id": 42,
	})
	if err != nil {
		log.Fatal(err)
	}
	log.Printf("Enqueued: %s", info.ID)

Worker (perform jobs):

	resqueue.RegisterHandler("SendWelcomeEmail", func() resqueue.Handler {
		return resqueue.HandlerFunc(func(job *resqueue.Job, args map[string]any) error {
			log.Printf("welcoming user %v", args["user_id"])
			return nil
		})
	})

	w := resqueue.NewWorker(resqueue.RedisClientOpt{Addr: "localhost:6379"}, resqueue.Config{
		Queues: []string{"critical", "default", "low"},
	})
	if err := w.Work(context.Background()); err != nil {
		log.Fatal(err)
	}

# Handlers

A handler class is registered once with RegisterHandler and resolved
by name out of the job envelope at perform time, the same indirection
Resque gets for free from Ruby's dynamic `const_get`. A Handler may
also implement SetUp and TearDown, run immediately before and after
Perform. SetUp may return ErrDontPerform to skip the job without
marking it failed; any error from TearDown, ErrDontPerform included,
fails the job.

# Events

A Worker and Client each expose an EventBus with the canonical Resque
plugin hooks: afterEnqueue, beforeFirstFork, beforeFork, afterFork,
beforePerform, afterPerform, and onFailure. Hosts that need Resque's
hook-based plugin behavior (unique jobs, job logging, retry policies)
wire a Listener onto the relevant event instead of subclassing or
monkey-patching.

# Status tracking

Enqueue with the TrackStatus option to get a job:<id>:status record,
keyed by the ID in the JobInfo that Client.Enqueue returns; a running
job reads it with Job.GetStatus.
Status tracking is opt-in; most Resque deployments never query it.

# Child isolation

A Worker runs each job behind a panic-recovering boundary by default
(ChildIsolationGoroutine), the practical substitute for Resque's
fork(2) in a language without a portable fork. ChildIsolationProcess
re-execs the worker binary per job for true OS-level isolation, at the
cost of requiring every handler class to be registered before
RunChildProcess is called from main(). A re-exec'd child does not share
the parent Worker's EventBus, so beforePerform/afterPerform/onFailure
listeners need RunChildProcessWithEvents instead of RunChildProcess to
still fire under this isolation mode.

# Monitoring

resqueue includes a small web dashboard for browsing queues, in-flight
workers, and failures. Start it with:

	go run ./ui

Then visit http://localhost:8080.
*/
package resqueue
