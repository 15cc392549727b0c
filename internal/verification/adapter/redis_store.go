package adapter

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	redisclient "github.com/aelexs/verification-gateway/internal/redis"
)

// incrementScript atomically increments a counter and sets its TTL on the
// first write only, so later increments never extend the window. It avoids
// depending on PEXPIRE ... NX (Redis 7.0+).
const incrementScript = `
local count = redis.call('INCR', KEYS[1])
if count == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return count
`

// decrementScript lowers a counter without creating it or touching its TTL.
const decrementScript = `
local v = tonumber(redis.call('GET', KEYS[1]) or '0')
if v <= 0 then
  return 0
end
return redis.call('DECR', KEYS[1])
`

// RedisStore implements app.KVStore on Redis. Errors are returned unwrapped
// of any domain meaning; the caller classifies them.
type RedisStore struct {
	cmd redisclient.Cmdable
}

// NewRedisStore creates a RedisStore that uses cmd for Redis operations.
func NewRedisStore(cmd redisclient.Cmdable) *RedisStore {
	return &RedisStore{cmd: cmd}
}

func startSpan(ctx context.Context, name, op string) (context.Context, trace.Span) {
	ctx, span := tracer.Start(ctx, name)
	span.SetAttributes(
		attribute.String("db.system", "redis"),
		attribute.String("db.operation", op),
	)
	return ctx, span
}

func fail(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// SetWithTTL writes value under key, replacing any previous value and TTL.
func (s *RedisStore) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	ctx, span := startSpan(ctx, "redis.kv.set", "SET")
	defer span.End()

	if err := s.cmd.Set(ctx, key, value, ttl).Err(); err != nil {
		fail(span, err)
		return fmt.Errorf("set %q: %w", key, err)
	}
	return nil
}

// Get returns found=false when key does not exist.
func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	ctx, span := startSpan(ctx, "redis.kv.get", "GET")
	defer span.End()

	v, err := s.cmd.Get(ctx, key).Result()
	if redisclient.IsNil(err) {
		return "", false, nil
	}
	if err != nil {
		fail(span, err)
		return "", false, fmt.Errorf("get %q: %w", key, err)
	}
	return v, true, nil
}

// IncrementWithTTL increments key and returns the new count. The TTL is set
// only when this call created the key.
func (s *RedisStore) IncrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	ctx, span := startSpan(ctx, "redis.kv.incr", "EVAL")
	defer span.End()

	n, err := s.cmd.Eval(ctx, incrementScript, []string{key}, ttl.Milliseconds()).Int64()
	if err != nil {
		fail(span, err)
		return 0, fmt.Errorf("increment %q: %w", key, err)
	}
	return n, nil
}

// Decrement lowers key by one when it holds a positive count.
func (s *RedisStore) Decrement(ctx context.Context, key string) (int64, error) {
	ctx, span := startSpan(ctx, "redis.kv.decr", "EVAL")
	defer span.End()

	n, err := s.cmd.Eval(ctx, decrementScript, []string{key}).Int64()
	if err != nil {
		fail(span, err)
		return 0, fmt.Errorf("decrement %q: %w", key, err)
	}
	return n, nil
}

// Delete reports whether this call removed key. Two concurrent deletes of the
// same key see exactly one true.
func (s *RedisStore) Delete(ctx context.Context, key string) (bool, error) {
	ctx, span := startSpan(ctx, "redis.kv.del", "DEL")
	defer span.End()

	n, err := s.cmd.Del(ctx, key).Result()
	if err != nil {
		fail(span, err)
		return false, fmt.Errorf("delete %q: %w", key, err)
	}
	return n > 0, nil
}

// TTL returns the remaining lifetime of key, or zero when it is absent or
// has no expiry.
func (s *RedisStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	ctx, span := startSpan(ctx, "redis.kv.pttl", "PTTL")
	defer span.End()

	d, err := s.cmd.PTTL(ctx, key).Result()
	if err != nil {
		fail(span, err)
		return 0, fmt.Errorf("ttl %q: %w", key, err)
	}
	if d < 0 {
		return 0, nil
	}
	return d, nil
}
