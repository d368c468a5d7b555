// Package main provides a web-based monitoring UI for resqueue.
package main

import (
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hemant/resqueue/internal/base"
	"github.com/hemant/resqueue/internal/rdb"
)

// Inspector provides read-only access to a resqueue deployment's Redis
// state: the set of known queues, their depths, the registered
// workers and what each is currently running, and recent failures.
type Inspector struct {
	rdb *rdb.RDB
	ns  base.Namespace
}

// NewInspector creates a new Inspector with the given Redis client and
// key namespace.
func NewInspector(client redis.UniversalClient, namespace string) *Inspector {
	ns := base.NewNamespace(namespace)
	return &Inspector{rdb: rdb.NewRDB(client, ns, nil), ns: ns}
}

// QueueInfo holds information about a single queue.
type QueueInfo struct {
	Name string
	Size int64
}

// WorkerInfo holds information about a registered worker.
type WorkerInfo struct {
	ID       string
	Host     string
	PID      int
	Queues   []string
	Started  string
	Working  bool
	Queue    string
	JobClass string
	JobID    string
	RunAt    time.Time
}

// FailureInfo holds information about a single persisted failure.
type FailureInfo struct {
	ID        string
	Class     string
	Queue     string
	Worker    string
	Error     string
	FailedAt  time.Time
	Backtrace []string
}

// DashboardStats holds aggregated statistics for the landing page.
type DashboardStats struct {
	TotalQueues   int
	TotalPending  int64
	ActiveWorkers int
	IdleWorkers   int
	Processed     int64
	Failed        int64
}

// GetQueues returns every known queue with its current depth.
func (i *Inspector) GetQueues() ([]QueueInfo, error) {
	names, err := i.rdb.Queues()
	if err != nil {
		return nil, fmt.Errorf("could not list queues: %w", err)
	}

	queues := make([]QueueInfo, 0, len(names))
	for _, name := range names {
		size, err := i.rdb.Size(name)
		if err != nil {
			continue
		}
		queues = append(queues, QueueInfo{Name: name, Size: size})
	}

	sort.Slice(queues, func(a, b int) bool { return queues[a].Name < queues[b].Name })
	return queues, nil
}

// GetWorkers returns every registered worker and, for those currently
// executing a job, what they are working on.
func (i *Inspector) GetWorkers() ([]WorkerInfo, error) {
	ids, err := i.rdb.Workers()
	if err != nil {
		return nil, fmt.Errorf("could not list workers: %w", err)
	}

	workers := make([]WorkerInfo, 0, len(ids))
	for _, id := range ids {
		host, pid, queues, ok := base.ParseWorkerID(id)
		if !ok {
			continue
		}
		info := WorkerInfo{ID: id, Host: host, PID: pid, Queues: queues}

		if started, found, err := i.rdb.Get(i.ns.WorkerStartedKey(id)); err == nil && found {
			info.Started = started
		}

		if payload, found, err := i.rdb.GetWorkingOn(id); err == nil && found {
			info.Working = true
			info.Queue = payload.Queue
			info.JobClass = payload.Payload.Class
			info.JobID = payload.Payload.ID
			info.RunAt = time.Unix(payload.RunAt, 0)
		}

		workers = append(workers, info)
	}

	sort.Slice(workers, func(a, b int) bool { return workers[a].ID < workers[b].ID })
	return workers, nil
}

// GetFailures returns the persisted failure for each of the given job
// ids, skipping ids with no failed:<id> record. The caller supplies the
// ids, since the Redis key layout keeps no separate index of failure
// ids.
func (i *Inspector) GetFailures(ids []string) ([]FailureInfo, error) {
	var failures []FailureInfo
	for _, id := range ids {
		var rec base.FailedRecord
		found, err := i.rdb.GetJSON(i.ns.FailedKey(id), &rec)
		if err != nil || !found {
			continue
		}
		failures = append(failures, FailureInfo{
			ID:        id,
			Class:     rec.Payload.Class,
			Queue:     rec.Queue,
			Worker:    rec.Worker,
			Error:     rec.Error,
			FailedAt:  time.Unix(rec.FailedAt, 0),
			Backtrace: rec.Backtrace,
		})
	}
	return failures, nil
}

// GetDashboardStats returns aggregated counters for the landing page.
func (i *Inspector) GetDashboardStats() (DashboardStats, error) {
	queues, err := i.GetQueues()
	if err != nil {
		return DashboardStats{}, err
	}

	var stats DashboardStats
	stats.TotalQueues = len(queues)
	for _, q := range queues {
		stats.TotalPending += q.Size
	}

	workers, err := i.GetWorkers()
	if err != nil {
		return DashboardStats{}, err
	}
	for _, w := range workers {
		if w.Working {
			stats.ActiveWorkers++
		} else {
			stats.IdleWorkers++
		}
	}

	stats.Processed, _ = i.rdb.GetStat("processed")
	stats.Failed, _ = i.rdb.GetStat("failed")

	return stats, nil
}
