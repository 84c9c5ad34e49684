// Package queue implements the bounded Redis work queue between the read
// path and the enrichment workers. Delivery is at-least-once; consumers
// must make their writes idempotent.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrFull is returned by Enqueue when the queue is at capacity. Callers
// on the read path drop the unit instead of blocking.
var ErrFull = errors.New("work queue full")

const dequeueBlock = time.Second

// Job is one enrichment work unit. It carries everything the worker
// needs so processing never re-reads the revision.
type Job struct {
	RevisionID int64  `json:"revision_id"`
	Text       string `json:"text"`
	Stars      int    `json:"stars"`
	Attempt    int    `json:"attempt"`
}

// NewClient connects to Redis from a URL and verifies the connection.
func NewClient(redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return client, nil
}

// Queue is a FIFO list with a capacity bound and a dead-letter sibling
// list at <key>:dead.
type Queue struct {
	client   *redis.Client
	key      string
	capacity int64
}

func New(client *redis.Client, key string, capacity int) *Queue {
	return &Queue{client: client, key: key, capacity: int64(capacity)}
}

func (q *Queue) deadKey() string {
	return q.key + ":dead"
}

// Enqueue pushes a job unless the queue is at capacity.
func (q *Queue) Enqueue(ctx context.Context, job Job) error {
	if q.capacity > 0 {
		length, err := q.client.LLen(ctx, q.key).Result()
		if err != nil {
			return fmt.Errorf("queue length: %w", err)
		}
		if length >= q.capacity {
			return ErrFull
		}
	}

	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("enqueue job: %w", err)
	}
	return nil
}

// Dequeue blocks briefly for the next job. ok is false when the wait
// timed out with nothing pending; callers loop on their own context.
func (q *Queue) Dequeue(ctx context.Context) (Job, bool, error) {
	result, err := q.client.BRPop(ctx, dequeueBlock, q.key).Result()
	if errors.Is(err, redis.Nil) {
		return Job{}, false, nil
	}
	if err != nil {
		return Job{}, false, fmt.Errorf("dequeue job: %w", err)
	}
	// BRPOP yields [key, value].
	if len(result) != 2 {
		return Job{}, false, fmt.Errorf("dequeue job: unexpected reply of %d elements", len(result))
	}

	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		return Job{}, false, fmt.Errorf("unmarshal job: %w", err)
	}
	return job, true, nil
}

// DeadLetter parks a job that exhausted its attempts. The dead-letter
// list is unbounded; it exists for inspection, not reprocessing.
func (q *Queue) DeadLetter(ctx context.Context, job Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal dead job: %w", err)
	}
	if err := q.client.LPush(ctx, q.deadKey(), payload).Err(); err != nil {
		return fmt.Errorf("dead-letter job: %w", err)
	}
	return nil
}

func (q *Queue) Len(ctx context.Context) (int64, error) {
	length, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("queue length: %w", err)
	}
	return length, nil
}

func (q *Queue) DeadLetterLen(ctx context.Context) (int64, error) {
	length, err := q.client.LLen(ctx, q.deadKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("dead-letter length: %w", err)
	}
	return length, nil
}
