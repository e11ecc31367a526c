package insight

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/medsum/platform/internal/shared/errors"
	"github.com/medsum/platform/internal/shared/logger"
	"github.com/medsum/platform/internal/shared/metrics"
	"github.com/medsum/platform/internal/shared/types"
)

// Task asks a worker to run RequestGeneration for a document.
type Task struct {
	DocumentID types.ID  `json:"document_id"`
	RequestID  string    `json:"request_id,omitempty"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Queue carries tasks from triggers to workers.
type Queue interface {
	// Enqueue must not block on a saturated queue; it fails with an
	// unavailable error instead.
	Enqueue(ctx context.Context, task Task) error
	// Dequeue blocks until a task is available or ctx is done.
	Dequeue(ctx context.Context) (Task, error)
	Close() error
}

// ErrQueueClosed is wrapped by queue operations after Close; workers stop on it.
var ErrQueueClosed = errors.New("generation queue is closed")

func queueClosed() error {
	err := errors.Unavailable("generation queue is closed")
	err.Err = fmt.Errorf("%w: %w", errors.ErrUnavailable, ErrQueueClosed)
	return err
}

// Runner executes one generation request.
type Runner interface {
	RequestGeneration(ctx context.Context, documentID types.ID) (Outcome, error)
}

// Dispatcher turns triggers into fire-and-forget work for a worker pool.
type Dispatcher struct {
	queue   Queue
	runner  Runner
	workers int
	log     *logger.Logger
}

func NewDispatcher(queue Queue, runner Runner, workers int, log *logger.Logger) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	return &Dispatcher{
		queue:   queue,
		runner:  runner,
		workers: workers,
		log:     log.With("component", "insight.dispatcher"),
	}
}

// Trigger schedules generation for a document and returns immediately.
// Callers observe progress only by polling the insight status.
func (d *Dispatcher) Trigger(ctx context.Context, documentID types.ID, requestID string) error {
	err := d.queue.Enqueue(ctx, Task{
		DocumentID: documentID,
		RequestID:  requestID,
		EnqueuedAt: time.Now().UTC(),
	})
	if err != nil {
		if errors.Is(err, errors.ErrUnavailable) {
			metrics.RecordQueueRejected()
		}
		d.log.Warn("failed to enqueue generation", "document_id", documentID, "error", err)
		return err
	}
	d.log.Debug("generation enqueued", "document_id", documentID, "request_id", requestID)
	return nil
}

// Run consumes the queue with the configured number of workers until ctx
// is cancelled. Tasks already taken off the queue run to completion.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.log.Info("starting dispatcher", "workers", d.workers)

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < d.workers; i++ {
		workerID := i + 1
		g.Go(func() error {
			d.runLoop(ctx, workerID)
			return nil
		})
	}
	err := g.Wait()
	d.log.Info("dispatcher stopped")
	return err
}

func (d *Dispatcher) runLoop(ctx context.Context, workerID int) {
	for {
		task, err := d.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, ErrQueueClosed) {
				d.log.Info("queue closed, worker exiting", "worker_id", workerID)
				return
			}
			d.log.Warn("dequeue failed", "worker_id", workerID, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		d.handle(ctx, workerID, task)
	}
}

func (d *Dispatcher) handle(ctx context.Context, workerID int, task Task) {
	metrics.TaskStarted()
	defer metrics.TaskFinished()

	log := d.log.With("worker_id", workerID, "document_id", task.DocumentID, "request_id", task.RequestID)
	defer func() {
		if r := recover(); r != nil {
			log.Error("generation panic", "panic", fmt.Sprint(r))
		}
	}()

	// A claimed pipeline has no cancellation path, so shutdown must not abort it.
	taskCtx := context.WithoutCancel(ctx)

	start := time.Now()
	outcome, err := d.runner.RequestGeneration(taskCtx, task.DocumentID)
	if err != nil {
		log.Error("generation request failed", "outcome", outcome, "error", err, "duration", time.Since(start))
		return
	}
	log.Info("generation request handled",
		"outcome", outcome,
		"duration", time.Since(start),
		"queued_for", start.Sub(task.EnqueuedAt),
	)
}

// MemoryQueue is a bounded in-process queue.
type MemoryQueue struct {
	tasks     chan Task
	closeOnce sync.Once
	done      chan struct{}
}

func NewMemoryQueue(capacity int) *MemoryQueue {
	if capacity < 1 {
		capacity = 1
	}
	return &MemoryQueue{
		tasks: make(chan Task, capacity),
		done:  make(chan struct{}),
	}
}

func (q *MemoryQueue) Enqueue(_ context.Context, task Task) error {
	select {
	case <-q.done:
		return queueClosed()
	default:
	}

	select {
	case q.tasks <- task:
		return nil
	default:
		return errors.Unavailable("generation queue is full")
	}
}

func (q *MemoryQueue) Dequeue(ctx context.Context) (Task, error) {
	select {
	case task := <-q.tasks:
		return task, nil
	case <-ctx.Done():
		return Task{}, ctx.Err()
	case <-q.done:
		return Task{}, queueClosed()
	}
}

// Len reports how many tasks are waiting.
func (q *MemoryQueue) Len() int {
	return len(q.tasks)
}

// Close stops accepting new tasks. Waiting tasks are dropped.
func (q *MemoryQueue) Close() error {
	q.closeOnce.Do(func() { close(q.done) })
	return nil
}
