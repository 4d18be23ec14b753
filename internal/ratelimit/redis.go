package ratelimit

import (
	"context"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
)

// fixedWindowScript increments KEYS[1], starts its window on the first hit
// and returns {count, remaining_ms}.
const fixedWindowScript = `
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {count, ttl}
`

// RedisStore keeps counters in Redis so every API instance shares them.
type RedisStore struct {
	client *redis.Client
	script *redis.Script
	prefix string
}

// NewRedisStore wraps an existing client. Keys are stored under prefix.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{
		client: client,
		script: redis.NewScript(fixedWindowScript),
		prefix: prefix,
	}
}

// NewRedisStoreFromURL parses a redis:// URL and connects a client.
func NewRedisStoreFromURL(ctx context.Context, url, prefix string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, eris.Wrap(err, "ratelimit: parse redis url")
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, eris.Wrap(err, "ratelimit: ping redis")
	}
	return NewRedisStore(client, prefix), nil
}

func (r *RedisStore) Incr(ctx context.Context, key string, window time.Duration) (Counter, error) {
	if r == nil || r.client == nil {
		return Counter{}, eris.New("ratelimit: redis store not configured")
	}
	ms := window.Milliseconds()
	if ms < 1 {
		ms = 1
	}
	res, err := r.script.Run(ctx, r.client, []string{r.prefix + key}, ms).Slice()
	if err != nil {
		return Counter{}, eris.Wrap(err, "ratelimit: redis incr")
	}
	return parseWindowReply(res)
}

// Close releases the underlying client.
func (r *RedisStore) Close() error {
	return eris.Wrap(r.client.Close(), "ratelimit: close redis")
}

// parseWindowReply converts the script's {count, remaining_ms} reply.
func parseWindowReply(res []any) (Counter, error) {
	if len(res) < 2 {
		return Counter{}, eris.Errorf("ratelimit: invalid script reply of length %d", len(res))
	}
	count, ok := castToInt(res[0])
	if !ok {
		return Counter{}, eris.Errorf("ratelimit: invalid count %v", res[0])
	}
	ttl, ok := castToInt(res[1])
	if !ok {
		return Counter{}, eris.Errorf("ratelimit: invalid ttl %v", res[1])
	}
	return Counter{Count: count, Remaining: time.Duration(ttl) * time.Millisecond}, nil
}

func castToInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		return i, err == nil
	default:
		return 0, false
	}
}
