// Copyright 2020 Kentaro Hibino. All rights reserved.
// Use of this source code is governed by a MIT license
// that can be found in the LICENSE file.

//go:build windows

package resqueue

import (
	"os"
	"os/signal"
	"syscall"
)

// installSignalHandlers provides the Windows rendition of spec.md
// §4.8's signal table. Windows has no POSIX USR1/USR2/CONT/PIPE, so
// only the portable subset is wired: Interrupt behaves like TERM/INT
// (shutdownNow), and pause/resume/kill-child are unavailable on this
// platform.
func (w *Worker) installSignalHandlers() (stop func()) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case <-sigs:
				w.shutdown.Store(true)
				w.requestKillChild()
			}
		}
	}()

	return func() {
		signal.Stop(sigs)
		close(done)
	}
}

func (w *Worker) requestKillChild() {
	select {
	case w.killCh <- struct{}{}:
	default:
	}
}
