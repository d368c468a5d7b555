// Copyright 2020 Kentaro Hibino. All rights reserved.
// Use of this source code is governed by a MIT license
// that can be found in the LICENSE file.

package resqueue

import (
	"sync"
	"time"

	"github.com/hemant/resqueue/internal/log"
	"github.com/hemant/resqueue/internal/rdb"
)

// healthchecker is responsible for periodically checking the health of
// the redis server and invoking a user-provided callback with the result
// of each check (nil when the ping succeeded).
// This is pure ambient observability: the queue protocol does not
// require it, but a long-running worker with no visibility into a dead
// Redis is operationally unworkable.
type healthchecker struct {
	logger *log.Logger
	rdb    *rdb.RDB

	// channel to communicate back to the long running "healthchecker" goroutine.
	done chan struct{}

	// interval between healthchecks.
	interval time.Duration

	// user provided callback to invoke with every ping result.
	healthcheckFunc func(error)
}

type healthcheckerParams struct {
	logger          *log.Logger
	rdb             *rdb.RDB
	interval        time.Duration
	healthcheckFunc func(error)
}

func newHealthChecker(params healthcheckerParams) *healthchecker {
	return &healthchecker{
		logger:          params.logger,
		rdb:             params.rdb,
		done:            make(chan struct{}),
		interval:        params.interval,
		healthcheckFunc: params.healthcheckFunc,
	}
}

func (hc *healthchecker) shutdown() {
	hc.logger.Debug("Healthchecker shutting down...")
	hc.done <- struct{}{}
}

func (hc *healthchecker) start(wg *sync.WaitGroup) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		timer := time.NewTimer(hc.interval)
		for {
			select {
			case <-hc.done:
				hc.logger.Debug("Healthchecker done")
				timer.Stop()
				return
			case <-timer.C:
				hc.exec()
				timer.Reset(hc.interval)
			}
		}
	}()
}

func (hc *healthchecker) exec() {
	err := hc.rdb.Ping()
	if hc.healthcheckFunc != nil {
		hc.healthcheckFunc(err)
	}
}
