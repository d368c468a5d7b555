// Copyright 2020 Kentaro Hibino. All rights reserved.
// Use of this source code is governed by a MIT license
// that can be found in the LICENSE file.

package resqueue

import (
	"crypto/tls"

	"github.com/redis/go-redis/v9"
)

// RedisConnOpt is an interface for a struct that holds connection option
// for redis server. It is implemented by RedisClientOpt,
// RedisFailoverClientOpt, and RedisClusterClientOpt.
type RedisConnOpt interface {
	// MakeRedisClient returns a new redis client instance.
	// Return value is intentionally opaque to hide the implementation detail
	// of redis client.
	MakeRedisClient() interface{}
}

// RedisClientOpt is used to create a redis client that connects
// to a redis server directly.
type RedisClientOpt struct {
	// Network type to use, either tcp or unix.
	// Default is tcp.
	Network string

	// Redis server address in "host:port" format.
	Addr string

	// Username to authenticate the current connection when Redis ACLs are used.
	Username string

	// Password to authenticate the current connection.
	Password string

	// Redis DB to select after connecting to a server.
	DB int

	// Maximum number of socket connections.
	PoolSize int

	// TLS Config used to connect to a server.
	// TLS will be negotiated only if this field is set.
	TLSConfig *tls.Config
}

// MakeRedisClient returns a redis.UniversalClient from the given RedisClientOpt.
func (opt RedisClientOpt) MakeRedisClient() interface{} {
	return redis.NewClient(&redis.Options{
		Network:   opt.Network,
		Addr:      opt.Addr,
		Username:  opt.Username,
		Password:  opt.Password,
		DB:        opt.DB,
		PoolSize:  opt.PoolSize,
		TLSConfig: opt.TLSConfig,
	})
}

// RedisFailoverClientOpt is used to creates a redis client that talks
// to a redis sentinel cluster for high-availability.
type RedisFailoverClientOpt struct {
	// Redis master name that monitored by sentinels.
	MasterName string

	// Addresses of sentinels in "host:port" format.
	SentinelAddrs []string

	// Redis sentinel password.
	SentinelPassword string

	Username string
	Password string
	DB       int
	PoolSize int

	TLSConfig *tls.Config
}

// MakeRedisClient returns a redis.UniversalClient from the given RedisFailoverClientOpt.
func (opt RedisFailoverClientOpt) MakeRedisClient() interface{} {
	return redis.NewFailoverClient(&redis.FailoverOptions{
		MasterName:       opt.MasterName,
		SentinelAddrs:    opt.SentinelAddrs,
		SentinelPassword: opt.SentinelPassword,
		Username:         opt.Username,
		Password:         opt.Password,
		DB:               opt.DB,
		PoolSize:         opt.PoolSize,
		TLSConfig:        opt.TLSConfig,
	})
}

// RedisClusterClientOpt is used to creates a redis client that connects to
// a redis cluster, per spec.md §6's "array for a cluster" address form.
type RedisClusterClientOpt struct {
	// A seed list of host:port addresses of cluster nodes.
	Addrs []string

	Username string
	Password string

	// Maximum number of socket connections per node.
	PoolSize int

	TLSConfig *tls.Config
}

// MakeRedisClient returns a redis.UniversalClient from the given RedisClusterClientOpt.
func (opt RedisClusterClientOpt) MakeRedisClient() interface{} {
	return redis.NewClusterClient(&redis.ClusterOptions{
		Addrs:     opt.Addrs,
		Username:  opt.Username,
		Password:  opt.Password,
		PoolSize:  opt.PoolSize,
		TLSConfig: opt.TLSConfig,
	})
}
