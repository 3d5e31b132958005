package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig holds Redis queue settings
type RedisConfig struct {
	Addr             string
	Password         string
	DB               int
	Key              string
	OperationTimeout time.Duration
	PollTimeout      time.Duration
}

// RedisQueue keeps ready jobs in a list and delayed jobs in a sorted set
// scored by due time, so retries survive API restarts.
type RedisQueue struct {
	client       *redis.Client
	readyKey     string
	delayedKey   string
	timeout      time.Duration
	pollTimeout  time.Duration
	promoteBatch int64
}

func wrapRedisError(operation string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s redis operation timed out: %w", operation, err)
	}
	return fmt.Errorf("%s redis operation failed: %w", operation, err)
}

// NewRedisQueue connects to Redis and verifies the connection
func NewRedisQueue(ctx context.Context, cfg RedisConfig) (*RedisQueue, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	q := NewRedisQueueWithClient(client, cfg)

	pingCtx, cancel := q.withTimeout(ctx)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return q, nil
}

// NewRedisQueueWithClient wraps an existing client
func NewRedisQueueWithClient(client *redis.Client, cfg RedisConfig) *RedisQueue {
	key := cfg.Key
	if key == "" {
		key = "inbound:webhook-deliveries"
	}
	timeout := cfg.OperationTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	poll := cfg.PollTimeout
	if poll <= 0 {
		poll = 2 * time.Second
	}
	return &RedisQueue{
		client:       client,
		readyKey:     key,
		delayedKey:   key + ":delayed",
		timeout:      timeout,
		pollTimeout:  poll,
		promoteBatch: 100,
	}
}

func (q *RedisQueue) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, q.timeout)
}

func (q *RedisQueue) Enqueue(ctx context.Context, job Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	opCtx, cancel := q.withTimeout(ctx)
	defer cancel()
	return wrapRedisError("LPUSH", q.client.LPush(opCtx, q.readyKey, data).Err())
}

func (q *RedisQueue) Schedule(ctx context.Context, job Job, at time.Time) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	opCtx, cancel := q.withTimeout(ctx)
	defer cancel()
	return wrapRedisError("ZADD", q.client.ZAdd(opCtx, q.delayedKey, redis.Z{
		Score:  float64(at.UnixMilli()),
		Member: data,
	}).Err())
}

// promote moves due delayed jobs onto the ready list. ZREM decides ownership
// so concurrent API instances never promote the same job twice.
func (q *RedisQueue) promote(ctx context.Context) error {
	opCtx, cancel := q.withTimeout(ctx)
	defer cancel()

	due, err := q.client.ZRangeByScore(opCtx, q.delayedKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(time.Now().UnixMilli(), 10),
		Count: q.promoteBatch,
	}).Result()
	if err != nil {
		return wrapRedisError("ZRANGEBYSCORE", err)
	}

	for _, member := range due {
		removed, err := q.client.ZRem(opCtx, q.delayedKey, member).Result()
		if err != nil {
			return wrapRedisError("ZREM", err)
		}
		if removed == 0 {
			continue
		}
		if err := q.client.LPush(opCtx, q.readyKey, member).Err(); err != nil {
			return wrapRedisError("LPUSH", err)
		}
	}
	return nil
}

func (q *RedisQueue) Dequeue(ctx context.Context) (Job, error) {
	if err := q.promote(ctx); err != nil {
		return Job{}, err
	}

	res, err := q.client.BRPop(ctx, q.pollTimeout, q.readyKey).Result()
	if errors.Is(err, redis.Nil) {
		return Job{}, ErrNoJob
	}
	if err != nil {
		if ctx.Err() != nil {
			return Job{}, ctx.Err()
		}
		return Job{}, wrapRedisError("BRPOP", err)
	}

	// BRPOP returns [key, value]
	var job Job
	if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
		return Job{}, fmt.Errorf("decode job: %w", err)
	}
	return job, nil
}

func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	opCtx, cancel := q.withTimeout(ctx)
	defer cancel()

	ready, err := q.client.LLen(opCtx, q.readyKey).Result()
	if err != nil {
		return 0, wrapRedisError("LLEN", err)
	}
	delayed, err := q.client.ZCard(opCtx, q.delayedKey).Result()
	if err != nil {
		return 0, wrapRedisError("ZCARD", err)
	}
	return ready + delayed, nil
}

func (q *RedisQueue) Backend() string { return "redis" }

func (q *RedisQueue) Healthy() bool {
	ctx, cancel := q.withTimeout(context.Background())
	defer cancel()
	return q.client.Ping(ctx).Err() == nil
}

func (q *RedisQueue) Close() error {
	return q.client.Close()
}
