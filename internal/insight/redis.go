package insight

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/medsum/platform/internal/shared/errors"
)

// RedisQueue shares the task queue between processes through a Redis list.
// Producers LPUSH and workers BRPOP, so each task reaches one worker.
type RedisQueue struct {
	client   *redis.Client
	key      string
	capacity int64
	poll     time.Duration
	closed   atomic.Bool
}

func NewRedisQueue(client *redis.Client, key string, capacity int) *RedisQueue {
	return &RedisQueue{
		client:   client,
		key:      key,
		capacity: int64(capacity),
		poll:     5 * time.Second,
	}
}

func (q *RedisQueue) Enqueue(ctx context.Context, task Task) error {
	if q.closed.Load() {
		return queueClosed()
	}
	payload, err := encodeTask(task)
	if err != nil {
		return err
	}

	if q.capacity > 0 {
		n, err := q.client.LLen(ctx, q.key).Result()
		if err != nil {
			return errors.Unavailable(fmt.Sprintf("generation queue unreachable: %v", err))
		}
		if n >= q.capacity {
			return errors.Unavailable("generation queue is full")
		}
	}

	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		return errors.Unavailable(fmt.Sprintf("generation queue unreachable: %v", err))
	}
	return nil
}

func (q *RedisQueue) Dequeue(ctx context.Context) (Task, error) {
	for {
		if q.closed.Load() {
			return Task{}, queueClosed()
		}
		res, err := q.client.BRPop(ctx, q.poll, q.key).Result()
		if err == redis.Nil {
			if ctx.Err() != nil {
				return Task{}, ctx.Err()
			}
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return Task{}, ctx.Err()
			}
			if errors.Is(err, redis.ErrClosed) {
				return Task{}, queueClosed()
			}
			return Task{}, fmt.Errorf("brpop %s: %w", q.key, err)
		}
		// BRPOP replies with [key, value]
		if len(res) != 2 {
			return Task{}, fmt.Errorf("brpop %s: unexpected reply length %d", q.key, len(res))
		}
		return decodeTask(res[1])
	}
}

// Close stops this queue handle. The client is owned by the caller and
// stays open.
func (q *RedisQueue) Close() error {
	q.closed.Store(true)
	return nil
}

func encodeTask(task Task) (string, error) {
	if task.DocumentID.IsZero() {
		return "", errors.BadRequest("task has no document id")
	}
	b, err := json.Marshal(task)
	if err != nil {
		return "", fmt.Errorf("encode task: %w", err)
	}
	return string(b), nil
}

func decodeTask(payload string) (Task, error) {
	var task Task
	if err := json.Unmarshal([]byte(payload), &task); err != nil {
		return Task{}, fmt.Errorf("decode task: %w", err)
	}
	if task.DocumentID.IsZero() {
		return Task{}, fmt.Errorf("decode task: missing document_id")
	}
	return task, nil
}

// RedisSink publishes generation fragments on a pub/sub channel so a UI
// can render insights as they stream.
type RedisSink struct {
	client  *redis.Client
	channel string
}

func NewRedisSink(client *redis.Client, channel string) *RedisSink {
	return &RedisSink{client: client, channel: channel}
}

type fragmentMessage struct {
	Stream   string `json:"stream"`
	Fragment string `json:"fragment"`
}

func (s *RedisSink) Fragment(ctx context.Context, streamKey, fragment string) error {
	b, err := json.Marshal(fragmentMessage{Stream: streamKey, Fragment: fragment})
	if err != nil {
		return err
	}
	return s.client.Publish(ctx, s.channel, b).Err()
}
