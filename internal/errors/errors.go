// Copyright 2020 Kentaro Hibino. All rights reserved.
// Use of this source code is governed by a MIT license
// that can be found in the LICENSE file.

// Package errors defines the tagged error kinds used throughout
// resqueue. Every error the core raises carries one of these codes so
// that callers (and the worker's own recovery policy) can branch on
// what kind of failure occurred without string matching.
package errors

import "fmt"

// Code classifies an Error.
type Code int

const (
	Unspecified Code = iota
	// Transport indicates Redis was unreachable or a protocol error
	// occurred. The worker treats this as "no job" at poll granularity.
	Transport
	// InvalidArgument indicates a non-mapping args value was passed to
	// an enqueue call.
	InvalidArgument
	// HandlerNotFound indicates a job's class could not be resolved to
	// a registered handler.
	HandlerNotFound
	// HandlerError wraps any error returned by a handler or its
	// SetUp/TearDown hooks.
	HandlerError
	// DontPerform is the sentinel a beforePerform listener or a
	// handler's SetUp can return to cleanly skip a job.
	DontPerform
	// DirtyExit indicates the child terminated non-zero, panicked, or
	// was killed, and the parent is recording the failure on its
	// behalf.
	DirtyExit
)

func (c Code) String() string {
	switch c {
	case Transport:
		return "transport_error"
	case InvalidArgument:
		return "invalid_argument"
	case HandlerNotFound:
		return "handler_not_found"
	case HandlerError:
		return "handler_error"
	case DontPerform:
		return "dont_perform"
	case DirtyExit:
		return "dirty_exit"
	}
	return "unspecified"
}

// Error is the concrete error type returned by the core. It carries a
// Code for programmatic branching and wraps an underlying cause.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// E constructs an *Error with the given code and message.
func E(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap constructs an *Error that wraps err under the given code.
func Wrap(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// Is reports whether err carries the given code, unwrapping as needed.
func Is(err error, code Code) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			if e.Code == code {
				return true
			}
			err = e.Err
			continue
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// ErrDontPerform is the canonical sentinel for the DontPerform code. A
// beforePerform listener or a handler's SetUp returns this (or anything
// satisfying Is(err, DontPerform)) to cleanly skip a job.
var ErrDontPerform = E(DontPerform, "job skipped by listener")
