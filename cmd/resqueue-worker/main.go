// Command resqueue-worker is the launcher a process supervisor
// (systemd, foreman, a container entrypoint) invokes directly, reading
// its configuration from the environment the way the Resque rake task
// does, instead of flags or a config file.
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hemant/resqueue"
)

// Environment variables read by this launcher, mirroring the Resque
// rake task's QUEUE/QUEUES/INTERVAL/APP_INCLUDE/REDIS_* conventions.
// A 9-variable launcher does not need a config framework (flags,
// viper, env struct tags): os.Getenv them directly and fail fast on a
// malformed one.
const (
	envQueue          = "QUEUE"           // comma-separated queue list, or "*"
	envCount          = "COUNT"           // number of worker processes to run (informational; see note below)
	envInterval       = "INTERVAL"        // poll delay in seconds when every queue is empty
	envAppInclude     = "APP_INCLUDE"     // comma-separated list of packages whose init() registers handlers
	envRedisBackend   = "REDIS_BACKEND"   // host:port or unix:/path
	envRedisDatabase  = "REDIS_DATABASE"  // numeric Redis DB index
	envRedisNamespace = "REDIS_NAMESPACE" // Redis key prefix
	envPrefix         = "PREFIX"          // log line prefix, e.g. the supervised process name
	envLogging        = "LOGGING"         // NONE|NORMAL|VERBOSE
)

func main() {
	if resqueue.RunChildProcess(resqueue.DefaultRegistry) {
		// Re-exec'd child for ChildIsolationProcess: RunChildProcess
		// reports the job outcome and exits the process itself.
		return
	}

	if include := os.Getenv(envAppInclude); include != "" {
		// APP_INCLUDE names packages whose init() registers handler
		// classes via resqueue.RegisterHandler. Unlike Ruby's `require`,
		// Go cannot load a package by name at runtime: the host binary
		// must blank-import every package named here at compile time.
		// This is logged so a misconfigured deployment is obvious rather
		// than silently running with no handlers.
		fmt.Fprintf(os.Stderr, "resqueue-worker: APP_INCLUDE=%s must be blank-imported at compile time; it is not dynamically loaded\n", include)
	}

	queues := parseQueues(os.Getenv(envQueue))
	interval, err := parseInterval(os.Getenv(envInterval))
	if err != nil {
		fatal(1, "invalid %s: %v", envInterval, err)
	}

	redisOpt := resqueue.RedisClientOpt{Addr: "localhost:6379"}
	if backend := os.Getenv(envRedisBackend); backend != "" {
		if rest, ok := strings.CutPrefix(backend, "unix:"); ok {
			redisOpt.Network = "unix"
			redisOpt.Addr = rest
		} else {
			redisOpt.Addr = backend
		}
	}
	if db := os.Getenv(envRedisDatabase); db != "" {
		n, err := strconv.Atoi(db)
		if err != nil {
			fatal(1, "invalid %s: %v", envRedisDatabase, err)
		}
		redisOpt.DB = n
	}

	logLevel := parseLogLevel(os.Getenv(envLogging))
	prefix := os.Getenv(envPrefix)

	if count := os.Getenv(envCount); count != "" {
		// COUNT historically tells resque-pool how many sibling worker
		// processes to fork under one supervisor. This launcher is a
		// single worker process; running COUNT of them is the
		// supervisor's job (N systemd instances, N container replicas),
		// so the value is accepted for compatibility but not acted on
		// here.
		if _, err := strconv.Atoi(count); err != nil {
			fatal(1, "invalid %s: %v", envCount, err)
		}
	}

	w := resqueue.NewWorker(redisOpt, resqueue.Config{
		Queues:    queues,
		Interval:  interval,
		Namespace: os.Getenv(envRedisNamespace),
		LogLevel:  logLevel,
		Logger:    newPrefixedLogger(prefix),
	})

	fmt.Fprintf(os.Stderr, "resqueue-worker: starting worker %s on queues %v\n", w.ID(), queues)
	if err := w.Work(context.Background()); err != nil {
		fatal(1, "worker exited with error: %v", err)
	}
}

func parseQueues(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	queues := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			queues = append(queues, p)
		}
	}
	return queues
}

// parseInterval returns a negative Duration (the package default, 5s)
// when INTERVAL is unset. An explicit "0" is single-shot mode, used by
// supervisors that want one poll-and-exit per invocation.
func parseInterval(raw string) (time.Duration, error) {
	if raw == "" {
		return -1, nil
	}
	seconds, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, err
	}
	return time.Duration(seconds * float64(time.Second)), nil
}

// parseLogLevel implements the LOGGING=<NONE|NORMAL|VERBOSE> vocabulary
// from spec.md §6. NONE maps to FatalLevel, the highest severity this
// codebase's own logging calls never reach (only a host-supplied
// logger's Fatal is ever fatal), so it effectively silences every
// worker log line. An unset or unrecognized value falls back to NORMAL.
func parseLogLevel(raw string) resqueue.LogLevel {
	switch strings.ToUpper(raw) {
	case "NONE":
		return resqueue.FatalLevel
	case "VERBOSE":
		return resqueue.DebugLevel
	case "NORMAL", "":
		return resqueue.InfoLevel
	default:
		return resqueue.InfoLevel
	}
}

func fatal(code int, format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "resqueue-worker: "+format+"\n", args...)
	os.Exit(code)
}
