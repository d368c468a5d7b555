// Copyright 2020 Kentaro Hibino. All rights reserved.
// Use of this source code is governed by a MIT license
// that can be found in the LICENSE file.

// Package rdb encapsulates every interaction with Redis: the namespaced
// key/value primitives (C1), the stat counters (C2), and the queue
// store including selective dequeue (C3). Everything above this layer
// -- jobs, status tracking, failure persistence, the worker loop --
// goes through RDB rather than touching redis.UniversalClient directly.
package rdb

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/hemant/resqueue/internal/base"
	"github.com/hemant/resqueue/internal/errors"
)

// reconnectBurstWindow bounds how often the explicit, signal-triggered
// Reconnect can actually cycle the connection: a host whose process
// receives a storm of SIGPIPEs (a flapping network link) should not
// spend that whole storm opening and closing sockets. The pid-mismatch
// path in reconnectIfForked bypasses this limiter entirely, since a
// child holding its parent's fd after isolation must always reconnect.
const reconnectBurstWindow = 2 * time.Second

// RDB is a namespaced client to Redis. It is not safe to share a single
// RDB across a real fork(): call Reconnect (or let reconnectIfForked do
// it automatically) after isolating a child.
type RDB struct {
	ns        base.Namespace
	newClient func() redis.UniversalClient
	client    redis.UniversalClient
	openPID   int

	reconnectLimiter *rate.Limiter
}

// NewRDB wraps an already-constructed client. newClient, if non-nil, is
// used to build a replacement client when reconnectIfForked detects a
// pid change; if nil, reconnection is a no-op (appropriate when the
// caller is managing a single shared connection across the process
// lifetime and will never isolate a child via fork/exec).
func NewRDB(client redis.UniversalClient, ns base.Namespace, newClient func() redis.UniversalClient) *RDB {
	return &RDB{
		ns:               ns,
		newClient:        newClient,
		client:           client,
		openPID:          os.Getpid(),
		reconnectLimiter: rate.NewLimiter(rate.Every(reconnectBurstWindow), 1),
	}
}

// Namespace returns the configured key namespace.
func (r *RDB) Namespace() base.Namespace { return r.ns }

// Close closes the underlying Redis connection.
func (r *RDB) Close() error {
	return r.client.Close()
}

// Reconnect discards the current connection and opens a fresh one. It
// is the explicit entry point the worker calls from its SIGPIPE
// handler, throttled to at most one cycle per reconnectBurstWindow.
func (r *RDB) Reconnect() error {
	if r.newClient == nil {
		return nil
	}
	if !r.reconnectLimiter.Allow() {
		return errors.E(errors.Transport, "reconnect requested too soon after the last one, skipping")
	}
	return r.reconnect()
}

func (r *RDB) reconnect() error {
	_ = r.client.Close()
	r.client = r.newClient()
	r.openPID = os.Getpid()
	return nil
}

// reconnectIfForked discards and reopens the connection if the current
// process id has changed since it was opened -- guarding against a
// child reusing a parent-owned socket after isolation.
func (r *RDB) reconnectIfForked() {
	if os.Getpid() != r.openPID && r.newClient != nil {
		_ = r.reconnect()
	}
}

func wrapTransportErr(op string, err error) error {
	if err == nil || err == redis.Nil {
		return nil
	}
	return errors.Wrap(errors.Transport, fmt.Sprintf("redis %s failed", op), err)
}

// ---- C1: namespaced primitives ----

func (r *RDB) ctx() context.Context { return context.Background() }

func (r *RDB) SAdd(key, member string) error {
	r.reconnectIfForked()
	return wrapTransportErr("SADD", r.client.SAdd(r.ctx(), key, member).Err())
}

func (r *RDB) SRem(key, member string) error {
	r.reconnectIfForked()
	return wrapTransportErr("SREM", r.client.SRem(r.ctx(), key, member).Err())
}

func (r *RDB) SIsMember(key, member string) (bool, error) {
	r.reconnectIfForked()
	ok, err := r.client.SIsMember(r.ctx(), key, member).Result()
	return ok, wrapTransportErr("SISMEMBER", err)
}

func (r *RDB) SMembers(key string) ([]string, error) {
	r.reconnectIfForked()
	vals, err := r.client.SMembers(r.ctx(), key).Result()
	return vals, wrapTransportErr("SMEMBERS", err)
}

func (r *RDB) RPush(key, value string) error {
	r.reconnectIfForked()
	return wrapTransportErr("RPUSH", r.client.RPush(r.ctx(), key, value).Err())
}

// LPop returns ("", false, nil) when the list is empty.
func (r *RDB) LPop(key string) (string, bool, error) {
	r.reconnectIfForked()
	v, err := r.client.LPop(r.ctx(), key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	return v, err == nil, wrapTransportErr("LPOP", err)
}

func (r *RDB) LLen(key string) (int64, error) {
	r.reconnectIfForked()
	n, err := r.client.LLen(r.ctx(), key).Result()
	return n, wrapTransportErr("LLEN", err)
}

// RPopLPush returns ("", false, nil) when src is empty.
func (r *RDB) RPopLPush(src, dst string) (string, bool, error) {
	r.reconnectIfForked()
	v, err := r.client.RPopLPush(r.ctx(), src, dst).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	return v, err == nil, wrapTransportErr("RPOPLPUSH", err)
}

func (r *RDB) RPop(key string) (string, bool, error) {
	r.reconnectIfForked()
	v, err := r.client.RPop(r.ctx(), key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	return v, err == nil, wrapTransportErr("RPOP", err)
}

func (r *RDB) Get(key string) (string, bool, error) {
	r.reconnectIfForked()
	v, err := r.client.Get(r.ctx(), key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	return v, err == nil, wrapTransportErr("GET", err)
}

func (r *RDB) Set(key, value string) error {
	r.reconnectIfForked()
	return wrapTransportErr("SET", r.client.Set(r.ctx(), key, value, 0).Err())
}

func (r *RDB) SetEX(key, value string, ttl time.Duration) error {
	r.reconnectIfForked()
	return wrapTransportErr("SETEX", r.client.Set(r.ctx(), key, value, ttl).Err())
}

func (r *RDB) Del(keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	r.reconnectIfForked()
	return wrapTransportErr("DEL", r.client.Del(r.ctx(), keys...).Err())
}

func (r *RDB) IncrBy(key string, by int64) error {
	r.reconnectIfForked()
	return wrapTransportErr("INCRBY", r.client.IncrBy(r.ctx(), key, by).Err())
}

func (r *RDB) DecrBy(key string, by int64) error {
	r.reconnectIfForked()
	return wrapTransportErr("DECRBY", r.client.DecrBy(r.ctx(), key, by).Err())
}

func (r *RDB) HSet(key, field, value string) error {
	r.reconnectIfForked()
	return wrapTransportErr("HSET", r.client.HSet(r.ctx(), key, field, value).Err())
}

func (r *RDB) HGet(key, field string) (string, bool, error) {
	r.reconnectIfForked()
	v, err := r.client.HGet(r.ctx(), key, field).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	return v, err == nil, wrapTransportErr("HGET", err)
}

func (r *RDB) HDel(key, field string) error {
	r.reconnectIfForked()
	return wrapTransportErr("HDEL", r.client.HDel(r.ctx(), key, field).Err())
}

// Ping verifies connectivity to the Redis server.
func (r *RDB) Ping() error {
	r.reconnectIfForked()
	return wrapTransportErr("PING", r.client.Ping(r.ctx()).Err())
}

// ---- JSON convenience helpers used by the job/status/failure layers ----

func (r *RDB) SetJSON(key string, v interface{}, ttl time.Duration) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("resqueue: could not marshal value for %q: %w", key, err)
	}
	if ttl > 0 {
		return r.SetEX(key, string(b), ttl)
	}
	return r.Set(key, string(b))
}

// GetJSON decodes the value at key into v. found is false if the key is
// absent (expired or never set).
func (r *RDB) GetJSON(key string, v interface{}) (found bool, err error) {
	s, ok, err := r.Get(key)
	if err != nil || !ok {
		return ok, err
	}
	if err := json.Unmarshal([]byte(s), v); err != nil {
		return true, fmt.Errorf("resqueue: could not unmarshal value for %q: %w", key, err)
	}
	return true, nil
}

// ---- C2: stat counters ----

func (r *RDB) IncrStat(name string, by int64) error {
	return r.IncrBy(r.ns.StatKey(name), by)
}

func (r *RDB) DecrStat(name string, by int64) error {
	return r.DecrBy(r.ns.StatKey(name), by)
}

// GetStat returns the current value of a counter, or 0 if the key is
// absent.
func (r *RDB) GetStat(name string) (int64, error) {
	s, ok, err := r.Get(r.ns.StatKey(name))
	if err != nil || !ok {
		return 0, err
	}
	var n int64
	if _, err := fmt.Sscanf(s, "%d", &n); err != nil {
		return 0, fmt.Errorf("resqueue: stat %q has non-integer value %q", name, s)
	}
	return n, nil
}

func (r *RDB) ClearStat(name string) error {
	return r.Del(r.ns.StatKey(name))
}

// ---- C3: queue store ----

// Push adds qname to the set of known queues and appends env to the
// tail of its list.
func (r *RDB) Push(qname string, env base.Envelope) error {
	b, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("resqueue: could not marshal envelope: %w", err)
	}
	if err := r.SAdd(r.ns.QueuesKey(), qname); err != nil {
		return err
	}
	return r.RPush(r.ns.QueueKey(qname), string(b))
}

// Pop removes and returns the envelope at the head of qname's list.
// found is false when the queue is empty.
func (r *RDB) Pop(qname string) (env base.Envelope, found bool, err error) {
	s, ok, err := r.LPop(r.ns.QueueKey(qname))
	if err != nil || !ok {
		return base.Envelope{}, ok, err
	}
	if err := json.Unmarshal([]byte(s), &env); err != nil {
		return base.Envelope{}, true, fmt.Errorf("resqueue: could not decode envelope from queue %q: %w", qname, err)
	}
	return env, true, nil
}

// Size returns the number of envelopes currently on qname's list.
func (r *RDB) Size(qname string) (int64, error) {
	return r.LLen(r.ns.QueueKey(qname))
}

// Queues returns every known queue name.
func (r *RDB) Queues() ([]string, error) {
	return r.SMembers(r.ns.QueuesKey())
}

// Dequeue removes every envelope on qname matching any of items,
// preserving the relative order of survivors, and returns the count
// removed. An empty items slice deletes the whole queue and returns its
// prior length -- the "selective removal with no selector" fast path.
func (r *RDB) Dequeue(qname string, items []base.MatchItem) (int, error) {
	qkey := r.ns.QueueKey(qname)
	if len(items) == 0 {
		n, err := r.Size(qname)
		if err != nil {
			return 0, err
		}
		if err := r.Del(qkey); err != nil {
			return 0, err
		}
		return int(n), nil
	}

	tag := time.Now().UnixNano()
	tkey := r.ns.QueueTempKey(qname, tag)
	rkey := r.ns.QueueRequeueKey(qname, tag)
	removed := 0

	// Drain phase: move the queue, element by element, into a
	// timestamped scratch list, discarding matches and requeuing
	// survivors into a second scratch list as we go. This tolerates
	// concurrent producers appending to qkey's tail, which simply end
	// up processed in a later pass or left behind for the next drain.
	for {
		s, ok, err := r.RPopLPush(qkey, tkey)
		if err != nil {
			return removed, err
		}
		if !ok {
			break
		}
		var env base.Envelope
		if err := json.Unmarshal([]byte(s), &env); err != nil {
			// Corrupt entry: treat it as a non-match and requeue it
			// rather than losing it silently.
			if _, _, err := r.RPopLPush(tkey, rkey); err != nil {
				return removed, err
			}
			continue
		}
		matched := false
		for _, item := range items {
			if item.Matches(env) {
				matched = true
				break
			}
		}
		if matched {
			if _, _, err := r.RPop(tkey); err != nil {
				return removed, err
			}
			removed++
			continue
		}
		if _, _, err := r.RPopLPush(tkey, rkey); err != nil {
			return removed, err
		}
	}

	// Restore phase: move survivors back onto the original queue,
	// preserving the order they had when the drain began.
	for {
		_, ok, err := r.RPopLPush(rkey, qkey)
		if err != nil {
			return removed, err
		}
		if !ok {
			break
		}
	}

	// Defensive cleanup: both scratch lists should already be empty.
	if err := r.Del(rkey, tkey); err != nil {
		return removed, err
	}
	return removed, nil
}

// ---- worker registry (supports C8) ----

func (r *RDB) RegisterWorker(id string, startedAt string) error {
	if err := r.SAdd(r.ns.WorkersKey(), id); err != nil {
		return err
	}
	return r.Set(r.ns.WorkerStartedKey(id), startedAt)
}

func (r *RDB) UnregisterWorker(id string) error {
	if err := r.SRem(r.ns.WorkersKey(), id); err != nil {
		return err
	}
	if err := r.Del(r.ns.WorkerKey(id), r.ns.WorkerStartedKey(id)); err != nil {
		return err
	}
	if err := r.ClearStat("processed:" + id); err != nil {
		return err
	}
	return r.ClearStat("failed:" + id)
}

func (r *RDB) Workers() ([]string, error) {
	return r.SMembers(r.ns.WorkersKey())
}

func (r *RDB) SetWorkingOn(id string, payload base.WorkerPayload) error {
	return r.SetJSON(r.ns.WorkerKey(id), payload, 0)
}

func (r *RDB) ClearWorkingOn(id string) error {
	return r.Del(r.ns.WorkerKey(id))
}

func (r *RDB) GetWorkingOn(id string) (payload base.WorkerPayload, found bool, err error) {
	found, err = r.GetJSON(r.ns.WorkerKey(id), &payload)
	return
}
