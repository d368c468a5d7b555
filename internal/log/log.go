// Copyright 2020 Kentaro Hibino. All rights reserved.
// Use of this source code is governed by a MIT license
// that can be found in the LICENSE file.

// Package log exports a leveled logger used by the resqueue runtime.
// It fulfills the Logger/LogLevel contract declared in the top-level
// package (so a host can plug in logrus, zap, or anything else that
// exposes Debug/Info/Warn/Error/Fatal) while defaulting to a small
// wrapper around the standard library's log.Logger when the host
// doesn't provide one.
package log

import (
	"fmt"
	stdlog "log"
	"os"
	"sync"
)

// Level mirrors the severities a Base logger can be filtered at.
type Level int32

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
	FatalLevel
)

// Base is the interface a host-supplied logger must satisfy.
type Base interface {
	Debug(args ...interface{})
	Info(args ...interface{})
	Warn(args ...interface{})
	Error(args ...interface{})
	Fatal(args ...interface{})
}

// Logger wraps a Base logger with a settable minimum level. Every entry
// point in the worker and job pipeline logs through this type rather
// than calling a Base logger directly, so verbosity can be tuned in one
// place regardless of which backend a host has supplied.
type Logger struct {
	mu     sync.Mutex
	base   Base
	level  Level
}

// NewLogger returns a Logger wrapping base. If base is nil, a default
// logger writing to stderr via the standard library is used.
func NewLogger(base Base) *Logger {
	if base == nil {
		base = newDefaultLogger()
	}
	return &Logger{base: base, level: InfoLevel}
}

// SetLevel changes the minimum level that will be forwarded to the
// underlying Base logger.
func (l *Logger) SetLevel(lvl Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = lvl
}

func (l *Logger) enabled(lvl Level) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return lvl >= l.level
}

func (l *Logger) Debug(args ...interface{}) {
	if l.enabled(DebugLevel) {
		l.base.Debug(args...)
	}
}

func (l *Logger) Debugf(format string, args ...interface{}) {
	if l.enabled(DebugLevel) {
		l.base.Debug(fmt.Sprintf(format, args...))
	}
}

func (l *Logger) Info(args ...interface{}) {
	if l.enabled(InfoLevel) {
		l.base.Info(args...)
	}
}

func (l *Logger) Infof(format string, args ...interface{}) {
	if l.enabled(InfoLevel) {
		l.base.Info(fmt.Sprintf(format, args...))
	}
}

func (l *Logger) Warn(args ...interface{}) {
	if l.enabled(WarnLevel) {
		l.base.Warn(args...)
	}
}

func (l *Logger) Warnf(format string, args ...interface{}) {
	if l.enabled(WarnLevel) {
		l.base.Warn(fmt.Sprintf(format, args...))
	}
}

func (l *Logger) Error(args ...interface{}) {
	if l.enabled(ErrorLevel) {
		l.base.Error(args...)
	}
}

func (l *Logger) Errorf(format string, args ...interface{}) {
	if l.enabled(ErrorLevel) {
		l.base.Error(fmt.Sprintf(format, args...))
	}
}

// Alert logs at error severity; the queue protocol calls for transport
// errors to be logged "at ALERT", which this codebase treats as the
// highest non-fatal severity it has.
func (l *Logger) Alert(args ...interface{}) {
	l.Error(args...)
}

func (l *Logger) Fatal(args ...interface{}) {
	l.base.Fatal(args...)
}

type defaultLogger struct {
	l *stdlog.Logger
}

func newDefaultLogger() *defaultLogger {
	return &defaultLogger{l: stdlog.New(os.Stderr, "", stdlog.Ldate|stdlog.Ltime|stdlog.Lmicroseconds)}
}

func (l *defaultLogger) Debug(args ...interface{}) { l.log("DEBUG", args...) }
func (l *defaultLogger) Info(args ...interface{})  { l.log("INFO", args...) }
func (l *defaultLogger) Warn(args ...interface{})  { l.log("WARN", args...) }
func (l *defaultLogger) Error(args ...interface{}) { l.log("ERROR", args...) }
func (l *defaultLogger) Fatal(args ...interface{}) {
	l.log("FATAL", args...)
	os.Exit(1)
}

func (l *defaultLogger) log(level string, args ...interface{}) {
	l.l.Println(append([]interface{}{"[" + level + "]"}, args...)...)
}
