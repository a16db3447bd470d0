// Package async owns the queue/worker boundary: the HTTP layer only
// enqueues job ids, and a bounded worker pool drives each job through the
// pipeline controller.
package async

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/dpmorr/llm-structured-extraction/internal/common"
)

// Runner executes one job to a terminal status.
type Runner interface {
	Run(ctx context.Context, jobID uuid.UUID) error
}

// Queue is an in-process job queue with a fixed concurrency bound. Losing
// the process loses queued entries; pending rows in the store are the
// durable record and can be re-enqueued at startup.
type Queue struct {
	log    *slog.Logger
	runner Runner

	jobs   chan uuid.UUID
	sem    *semaphore.Weighted
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	// mu serializes the closed check against close(jobs) so a concurrent
	// Enqueue can never send on a closed channel.
	mu     sync.RWMutex
	closed bool
}

func NewQueue(logger *slog.Logger, runner Runner, cfg common.QueueConfig) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	size := cfg.Size
	if size < 1 {
		size = 64
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		log:    logger,
		runner: runner,
		jobs:   make(chan uuid.UUID, size),
		sem:    semaphore.NewWeighted(int64(workers)),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start launches the dispatcher. Call once.
func (q *Queue) Start() {
	q.wg.Add(1)
	go q.dispatch()
}

// Enqueue hands a job id to the pool without blocking. Fails when the
// queue is full or shutting down; the job row stays pending either way.
func (q *Queue) Enqueue(jobID uuid.UUID) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return common.NewAppError("QUEUE_CLOSED", "queue is shutting down", common.ErrUnavailable)
	}
	select {
	case q.jobs <- jobID:
		q.log.Debug("queue.enqueued", "job_id", jobID, "depth", len(q.jobs))
		return nil
	default:
		return common.NewAppError("QUEUE_FULL", "queue is full", common.ErrUnavailable)
	}
}

// Shutdown stops intake and waits for in-flight jobs until ctx expires,
// then cancels them.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.jobs)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		q.cancel()
		return nil
	case <-ctx.Done():
		q.cancel()
		<-done
		return ctx.Err()
	}
}

func (q *Queue) dispatch() {
	defer q.wg.Done()
	for jobID := range q.jobs {
		if err := q.sem.Acquire(q.ctx, 1); err != nil {
			q.log.Warn("queue.drain", "job_id", jobID)
			continue
		}
		q.wg.Add(1)
		go func(id uuid.UUID) {
			defer q.wg.Done()
			defer q.sem.Release(1)
			start := time.Now()
			if err := q.runner.Run(q.ctx, id); err != nil {
				q.log.Error("queue.job.error", "job_id", id, "error", err,
					"elapsed_ms", time.Since(start).Milliseconds())
				return
			}
			q.log.Debug("queue.job.done", "job_id", id,
				"elapsed_ms", time.Since(start).Milliseconds())
		}(jobID)
	}
}
