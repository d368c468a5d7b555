// Copyright 2020 Kentaro Hibino. All rights reserved.
// Use of this source code is governed by a MIT license
// that can be found in the LICENSE file.

package resqueue

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/hemant/resqueue/internal/base"
	"github.com/hemant/resqueue/internal/log"
	"github.com/hemant/resqueue/internal/rdb"
)

// ClientConfig configures a Client.
type ClientConfig struct {
	// Namespace is the Redis key prefix. Defaults to "resque:".
	Namespace string

	// Registry is stored on the client's runtimeContext but Enqueue never
	// resolves a handler through it; most callers can leave this nil.
	// afterEnqueue listeners live on the client's own EventBus (Events),
	// which is not shared with any Worker.
	Registry *HandlerRegistry

	// FailureBackend overrides the default Redis-backed failure sink.
	FailureBackend FailureBackend

	// Logger overrides the default logger.
	Logger log.Base
}

// Client enqueues jobs. Enqueue is cheap, synchronous, and crash-safe:
// the envelope is durable in Redis before Enqueue returns (spec.md §1).
type Client struct {
	rt               *runtimeContext
	sharedConnection bool
}

// NewClient returns a new Client given a redis connection option.
func NewClient(r RedisConnOpt, cfg ClientConfig) *Client {
	redisClient, ok := r.MakeRedisClient().(redis.UniversalClient)
	if !ok {
		panic(fmt.Sprintf("resqueue: unsupported RedisConnOpt type %T", r))
	}
	c := NewClientFromRedisClient(redisClient, cfg)
	c.sharedConnection = false
	return c
}

// NewClientFromRedisClient returns a new Client using an existing
// redis.UniversalClient; the connection is not closed by Client.Close.
func NewClientFromRedisClient(client redis.UniversalClient, cfg ClientConfig) *Client {
	ns := base.NewNamespace(cfg.Namespace)
	store := rdb.NewRDB(client, ns, nil)
	logger := log.NewLogger(cfg.Logger)
	rt := newRuntimeContext(store, logger, cfg.Registry, cfg.FailureBackend, nil, nil)
	return &Client{rt: rt, sharedConnection: true}
}

// Events returns the Client's event bus, for registering afterEnqueue
// listeners.
func (c *Client) Events() *EventBus { return c.rt.events }

// Close closes the underlying Redis connection, unless the Client was
// built from a caller-supplied client via NewClientFromRedisClient.
func (c *Client) Close() error {
	if c.sharedConnection {
		return nil
	}
	return c.rt.rdb.Close()
}

// JobInfo describes a freshly enqueued job.
type JobInfo struct {
	ID    string
	Queue string
	Class string
}

// Enqueue pushes a new job of the given class onto queue with args as
// its argument mapping. args must be nil or a map[string]any; anything
// else returns InvalidArgument. If args contains an "id" entry, that
// identity is reused (a recreation) rather than minting a fresh one.
func (c *Client) Enqueue(queue, class string, args interface{}, opts ...EnqueueOption) (*JobInfo, error) {
	m, err := validateArgs(args)
	if err != nil {
		return nil, err
	}
	if queue == "" {
		queue = base.DefaultQueueName
	}

	var options CreateOptions
	for _, o := range opts {
		o(&options)
	}

	id, err := c.rt.createJob(context.Background(), queue, class, m, options)
	if err != nil {
		return nil, err
	}
	return &JobInfo{ID: id, Queue: queue, Class: class}, nil
}

// EnqueueOption configures a single Enqueue call.
type EnqueueOption func(*CreateOptions)

// TrackStatus requests that a job:<id>:status record be maintained for
// the enqueued job's lifetime.
func TrackStatus() EnqueueOption {
	return func(o *CreateOptions) { o.TrackStatus = true }
}

// Dequeue removes every envelope on queue matching any of items,
// returning the number removed (spec.md §4.3). An empty items list
// deletes the queue outright and returns its prior length.
func (c *Client) Dequeue(queue string, items ...base.MatchItem) (int, error) {
	return c.rt.rdb.Dequeue(queue, items)
}

// Size returns the number of envelopes currently queued on queue.
func (c *Client) Size(queue string) (int64, error) {
	return c.rt.rdb.Size(queue)
}

// Queues returns every known queue name.
func (c *Client) Queues() ([]string, error) {
	return c.rt.rdb.Queues()
}

// Stat returns the current value of a named counter (0 if absent).
func (c *Client) Stat(name string) (int64, error) {
	return c.rt.rdb.GetStat(name)
}

// ClearStat resets a named counter to zero (deletes the key).
func (c *Client) ClearStat(name string) error {
	return c.rt.rdb.ClearStat(name)
}
