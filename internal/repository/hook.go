package repository

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/redis/go-redis/v9"
)

var commandKinds = map[string]string{
	"get": "read", "mget": "read", "exists": "read", "scard": "read", "smembers": "read",
	"sismember": "read", "hget": "read", "hgetall": "read", "lrange": "read", "llen": "read",
	"zrange": "read", "zcard": "read", "ttl": "read", "pttl": "read",

	"set": "write", "setex": "write", "mset": "write", "sadd": "write", "hset": "write",
	"incr": "write", "incrby": "write", "expire": "write", "pexpire": "write", "lpush": "write",
	"rpush": "write", "zadd": "write",

	"del": "delete", "unlink": "delete", "srem": "delete", "hdel": "delete", "zrem": "delete",
	"lrem": "delete", "zremrangebyscore": "delete",
}

// OperationHook is a go-redis hook that reports every data command as a storage
// operation. The collection is the key prefix before the first ':'. Commands that do
// not touch data, such as PING, are not reported.
type OperationHook struct {
	reporter OperationReporter
}

// NewOperationHook returns a hook reporting to r.
func NewOperationHook(r OperationReporter) *OperationHook {
	return &OperationHook{reporter: r}
}

func (h *OperationHook) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		return next(ctx, network, addr)
	}
}

func (h *OperationHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		err := next(ctx, cmd)
		h.observe(cmd, err)
		return err
	}
}

func (h *OperationHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		err := next(ctx, cmds)
		for _, cmd := range cmds {
			h.observe(cmd, cmd.Err())
		}
		return err
	}
}

func (h *OperationHook) observe(cmd redis.Cmder, err error) {
	if err != nil && !errors.Is(err, redis.Nil) {
		return
	}
	kind, collection, ok := classify(cmd.Args())
	if !ok {
		return
	}
	h.reporter.ReportStorageOperation(kind, collection)
}

func classify(args []interface{}) (kind, collection string, ok bool) {
	if len(args) < 2 {
		return "", "", false
	}
	name, _ := args[0].(string)
	kind, ok = commandKinds[strings.ToLower(name)]
	if !ok {
		return "", "", false
	}
	key, _ := args[1].(string)
	collection, _, _ = strings.Cut(key, ":")
	if collection == "" {
		return "", "", false
	}
	return kind, collection, true
}
