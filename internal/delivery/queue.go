// Package delivery queues webhook deliveries and posts them to user endpoints
// with signing, retries and bookkeeping.
package delivery

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNoJob is returned by Dequeue when nothing arrived before the poll timeout
var ErrNoJob = errors.New("no job available")

// Job points at a WebhookDelivery row to attempt
type Job struct {
	DeliveryID string `json:"deliveryId"`
}

// Queue carries delivery jobs between producers and dispatcher workers
type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	// Schedule makes the job available no earlier than at
	Schedule(ctx context.Context, job Job, at time.Time) error
	// Dequeue waits for a job, returning ErrNoJob when the poll window passes
	Dequeue(ctx context.Context) (Job, error)
	Len(ctx context.Context) (int64, error)
	Backend() string
	Healthy() bool
	Close() error
}

// MemoryQueue is a process-local queue used when Redis is not configured
type MemoryQueue struct {
	jobs         chan Job
	pollInterval time.Duration

	mu     sync.Mutex
	timers map[*time.Timer]struct{}
	closed bool
}

func NewMemoryQueue(capacity int) *MemoryQueue {
	if capacity <= 0 {
		capacity = 1024
	}
	return &MemoryQueue{
		jobs:         make(chan Job, capacity),
		pollInterval: time.Second,
		timers:       make(map[*time.Timer]struct{}),
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, job Job) error {
	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()
	if closed {
		return errors.New("queue closed")
	}

	select {
	case q.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *MemoryQueue) Schedule(ctx context.Context, job Job, at time.Time) error {
	delay := time.Until(at)
	if delay <= 0 {
		return q.Enqueue(ctx, job)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return errors.New("queue closed")
	}

	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		q.mu.Lock()
		delete(q.timers, timer)
		closed := q.closed
		q.mu.Unlock()
		if !closed {
			q.jobs <- job
		}
	})
	q.timers[timer] = struct{}{}
	return nil
}

func (q *MemoryQueue) Dequeue(ctx context.Context) (Job, error) {
	select {
	case job := <-q.jobs:
		return job, nil
	case <-time.After(q.pollInterval):
		return Job{}, ErrNoJob
	case <-ctx.Done():
		return Job{}, ctx.Err()
	}
}

func (q *MemoryQueue) Len(context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.jobs) + len(q.timers)), nil
}

func (q *MemoryQueue) Backend() string { return "memory" }

func (q *MemoryQueue) Healthy() bool { return true }

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	for t := range q.timers {
		t.Stop()
	}
	q.timers = map[*time.Timer]struct{}{}
	return nil
}
