// Package redis keeps the daily upload counters in Redis. Each increment
// is a Lua script, so the ceiling check and the write are atomic on the
// server even with many API replicas.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRetention is how long a day's counter outlives the day.
const DefaultRetention = 48 * time.Hour

// Options configures the Redis connection.
type Options struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	Retention time.Duration
}

// Counter implements store.UploadCounters.
type Counter struct {
	rdb       redis.UniversalClient
	prefix    string
	retention time.Duration
}

// Dial connects and pings the server.
func Dial(ctx context.Context, opts Options) (*Counter, error) {
	const op = "redis.Dial"

	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return New(rdb, opts), nil
}

// New wraps an existing client.
func New(rdb redis.UniversalClient, opts Options) *Counter {
	prefix := opts.KeyPrefix
	if prefix == "" {
		prefix = "identity"
	}
	retention := opts.Retention
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Counter{rdb: rdb, prefix: prefix, retention: retention}
}

func (c *Counter) Close() error { return c.rdb.Close() }

func (c *Counter) Ping(ctx context.Context) error { return c.rdb.Ping(ctx).Err() }

func (c *Counter) counterKey(accountID, day string) string {
	return c.prefix + ":uploads:" + accountID + ":" + day
}

func (c *Counter) attemptKey(accountID, key string) string {
	return c.prefix + ":upload-attempt:" + accountID + ":" + key
}

// KEYS[1] counter, ARGV[1] limit, ARGV[2] ttl seconds.
// Returns the new count or -1 when the ceiling is reached.
var incrementScript = redis.NewScript(`
local limit = tonumber(ARGV[1])
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
if limit > 0 and current >= limit then
  return -1
end
local n = redis.call('INCR', KEYS[1])
redis.call('EXPIRE', KEYS[1], ARGV[2])
return n
`)

// KEYS[1] counter, KEYS[2] attempt, ARGV as above.
// Returns {count, replayed}; count is -1 when denied.
var incrementOnceScript = redis.NewScript(`
local prev = redis.call('GET', KEYS[2])
if prev then
  return {tonumber(prev), 1}
end
local limit = tonumber(ARGV[1])
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
if limit > 0 and current >= limit then
  return {-1, 0}
end
local n = redis.call('INCR', KEYS[1])
redis.call('EXPIRE', KEYS[1], ARGV[2])
redis.call('SET', KEYS[2], n, 'EX', ARGV[2])
return {n, 0}
`)

func (c *Counter) ttlSeconds() int64 {
	return int64(c.retention / time.Second)
}

func (c *Counter) TryIncrement(ctx context.Context, accountID, day string, limit int, _ time.Time) (int, bool, error) {
	if limit == 0 {
		return 0, false, nil
	}
	n, err := incrementScript.Run(ctx, c.rdb, []string{c.counterKey(accountID, day)}, limit, c.ttlSeconds()).Int()
	if err != nil {
		return 0, false, err
	}
	if n < 0 {
		return limit, false, nil
	}
	return n, true, nil
}

func (c *Counter) TryIncrementOnce(ctx context.Context, accountID, day, key string, limit int, _ time.Time) (int, bool, bool, error) {
	if limit == 0 {
		return 0, false, false, nil
	}
	res, err := incrementOnceScript.Run(ctx, c.rdb,
		[]string{c.counterKey(accountID, day), c.attemptKey(accountID, key)},
		limit, c.ttlSeconds()).Int64Slice()
	if err != nil {
		return 0, false, false, err
	}
	if len(res) != 2 {
		return 0, false, false, fmt.Errorf("redis: unexpected script reply %v", res)
	}
	if res[0] < 0 {
		return limit, false, false, nil
	}
	return int(res[0]), true, res[1] == 1, nil
}

func (c *Counter) Get(ctx context.Context, accountID, day string) (int, error) {
	v, err := c.rdb.Get(ctx, c.counterKey(accountID, day)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(v)
}

// DeleteBefore is a no-op: counters expire on their own.
func (c *Counter) DeleteBefore(context.Context, string) (int64, error) {
	return 0, nil
}
