package main

import (
	"fmt"
	stdlog "log"
	"os"
)

// prefixedLogger implements resqueue.Logger (Debug/Info/Warn/Error/
// Fatal), tagging every line with PREFIX the way the Resque rake task
// tags worker output with the process name under a supervisor.
type prefixedLogger struct {
	prefix string
	l      *stdlog.Logger
}

func newPrefixedLogger(prefix string) *prefixedLogger {
	return &prefixedLogger{
		prefix: prefix,
		l:      stdlog.New(os.Stderr, "", stdlog.Ldate|stdlog.Ltime|stdlog.Lmicroseconds),
	}
}

func (p *prefixedLogger) log(level string, args ...interface{}) {
	msg := fmt.Sprint(args...)
	if p.prefix != "" {
		p.l.Printf("[%s] %s: %s", level, p.prefix, msg)
		return
	}
	p.l.Printf("[%s] %s", level, msg)
}

func (p *prefixedLogger) Debug(args ...interface{}) { p.log("DEBUG", args...) }
func (p *prefixedLogger) Info(args ...interface{})  { p.log("INFO", args...) }
func (p *prefixedLogger) Warn(args ...interface{})  { p.log("WARN", args...) }
func (p *prefixedLogger) Error(args ...interface{}) { p.log("ERROR", args...) }
func (p *prefixedLogger) Fatal(args ...interface{}) {
	p.log("FATAL", args...)
	os.Exit(1)
}
