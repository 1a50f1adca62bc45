package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-chi/httprate"
	"github.com/redis/go-redis/v9"
)

const redisTimeout = 500 * time.Millisecond

// NewRedis is a Window whose counters are shared by every API replica
// through Redis. Keys are stored under prefix.
func NewRedis(client redis.Cmdable, prefix string, limit int, duration time.Duration) (*Window, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if limit <= 0 || duration <= 0 {
		return nil, errors.New("limit and duration must be positive")
	}
	counter := &RedisCounter{client: client, prefix: prefix, window: duration}
	return NewWindow(limit, duration, httprate.WithLimitCounter(counter)), nil
}

// RedisCounter implements httprate.LimitCounter with one INCRBY key per
// client and window.
type RedisCounter struct {
	client redis.Cmdable
	prefix string
	window time.Duration
}

var _ httprate.LimitCounter = (*RedisCounter)(nil)

func (c *RedisCounter) Config(_ int, windowLength time.Duration) {
	c.window = windowLength
}

func (c *RedisCounter) Increment(key string, currentWindow time.Time) error {
	return c.IncrementBy(key, currentWindow, 1)
}

func (c *RedisCounter) IncrementBy(key string, currentWindow time.Time, amount int) error {
	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()

	k := c.key(key, currentWindow)
	// Two windows are read back, so the key must outlive the next one.
	_, err := c.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.IncrBy(ctx, k, int64(amount))
		p.Expire(ctx, k, 3*c.window)
		return nil
	})
	if err != nil {
		return fmt.Errorf("increment %s: %w", k, err)
	}
	return nil
}

func (c *RedisCounter) Get(key string, currentWindow, previousWindow time.Time) (int, int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()

	vals, err := c.client.MGet(ctx, c.key(key, currentWindow), c.key(key, previousWindow)).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("read counters: %w", err)
	}
	if len(vals) != 2 {
		return 0, 0, fmt.Errorf("read counters: got %d values", len(vals))
	}
	curr, err := counterValue(vals[0])
	if err != nil {
		return 0, 0, err
	}
	prev, err := counterValue(vals[1])
	if err != nil {
		return 0, 0, err
	}
	return curr, prev, nil
}

func (c *RedisCounter) key(key string, window time.Time) string {
	return c.prefix + strconv.FormatUint(httprate.LimitCounterKey(key, window), 10)
}

func counterValue(v any) (int, error) {
	switch s := v.(type) {
	case nil:
		return 0, nil
	case string:
		n, err := strconv.Atoi(s)
		if err != nil {
			return 0, fmt.Errorf("counter value %q: %w", s, err)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("counter value of type %T", v)
	}
}
