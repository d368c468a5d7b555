// Copyright 2020 Kentaro Hibino. All rights reserved.
// Use of this source code is governed by a MIT license
// that can be found in the LICENSE file.

//go:build !windows

package resqueue

import (
	"os"
	"os/signal"

	"golang.org/x/sys/unix"
)

// installSignalHandlers wires the signal table from spec.md §4.8:
//
//	TERM, INT  -> shutdownNow: set shutdown, kill the current child
//	QUIT       -> shutdown: set the flag, let the current job finish
//	USR1       -> killChild: kill the child, keep working
//	USR2       -> pauseProcessing
//	CONT       -> unpauseProcessing
//	PIPE       -> reestablishRedisConnection
//
// Handlers only ever set flags or push to the (buffered, non-blocking)
// kill channel -- they never touch Redis directly, except for the PIPE
// handler's explicit reconnect, matching the "must not perform Redis
// calls themselves beyond the explicit reconnect" constraint in
// spec.md §4.8. NewWorker and NewWorkerFromRedisClient give their RDB no
// reconnect factory, so for those workers the PIPE handler's Reconnect
// call leaves the existing connection in place.
func (w *Worker) installSignalHandlers() (stop func()) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs,
		unix.SIGTERM, unix.SIGINT, unix.SIGQUIT,
		unix.SIGUSR1, unix.SIGUSR2, unix.SIGCONT, unix.SIGPIPE,
	)

	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case sig := <-sigs:
				w.handleSignal(sig)
			}
		}
	}()

	return func() {
		signal.Stop(sigs)
		close(done)
	}
}

func (w *Worker) handleSignal(sig os.Signal) {
	switch sig {
	case unix.SIGTERM, unix.SIGINT:
		w.shutdown.Store(true)
		w.requestKillChild()
	case unix.SIGQUIT:
		w.shutdown.Store(true)
	case unix.SIGUSR1:
		w.requestKillChild()
	case unix.SIGUSR2:
		w.paused.Store(true)
	case unix.SIGCONT:
		w.paused.Store(false)
	case unix.SIGPIPE:
		if err := w.rt.rdb.Reconnect(); err != nil {
			w.rt.logger.Errorf("resqueue: could not reestablish redis connection: %v", err)
		}
	}
}

// requestKillChild implements killChild (spec.md §4.8): if no child is
// currently running the request is discarded when the next job starts
// (there is nothing to kill); a non-blocking send means a second signal
// while one kill is already pending does not deadlock the handler
// goroutine.
func (w *Worker) requestKillChild() {
	select {
	case w.killCh <- struct{}{}:
	default:
	}
}
