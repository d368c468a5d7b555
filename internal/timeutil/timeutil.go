// Copyright 2020 Kentaro Hibino. All rights reserved.
// Use of this source code is governed by a MIT license
// that can be found in the LICENSE file.

// Package timeutil provides an injectable clock so tests can control
// time without sleeping, the same role base.Lease.Clock plays in the
// teacher's own Lease type.
package timeutil

import "time"

// Clock returns the current time. Production code uses RealClock;
// tests substitute SimulatedClock to pin timestamps deterministically.
type Clock interface {
	Now() time.Time
}

// RealClock is a Clock backed by time.Now.
type RealClock struct{}

// NewRealClock returns a RealClock.
func NewRealClock() RealClock { return RealClock{} }

// Now returns the current wall-clock time.
func (RealClock) Now() time.Time { return time.Now() }

// SimulatedClock is a Clock whose value is set explicitly, for tests.
type SimulatedClock struct {
	t time.Time
}

// NewSimulatedClock returns a SimulatedClock fixed at t.
func NewSimulatedClock(t time.Time) *SimulatedClock {
	return &SimulatedClock{t: t}
}

// Now returns the clock's current fixed value.
func (c *SimulatedClock) Now() time.Time { return c.t }

// Set moves the clock to t.
func (c *SimulatedClock) Set(t time.Time) { c.t = t }

// Advance moves the clock forward by d.
func (c *SimulatedClock) Advance(d time.Duration) { c.t = c.t.Add(d) }
