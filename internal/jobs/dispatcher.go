package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"go.uber.org/atomic"

	"github.com/sevigo/pr-warden/internal/core"
)

// ErrQueueFull is returned by Dispatch when the task queue has no room.
var ErrQueueFull = errors.New("job queue is full")

// Stats is a snapshot of the dispatcher counters.
type Stats struct {
	Queued    int
	InFlight  int64
	Processed int64
	Failed    int64
}

// Dispatcher is a core.JobDispatcher that also reports its counters.
type Dispatcher interface {
	core.JobDispatcher
	Stats() Stats
}

// dispatcher implements core.JobDispatcher and manages a pool of worker goroutines
// that run review and chat tasks.
type dispatcher struct {
	handlers   map[core.TaskKind]core.Job // Job per task kind.
	jobQueue   chan *core.Task            // Queue of pending tasks.
	maxWorkers int                        // Number of concurrent workers.
	wg         sync.WaitGroup             // Tracks active workers for graceful shutdown.
	stopOnce   sync.Once
	inFlight   atomic.Int64
	processed  atomic.Int64
	failed     atomic.Int64
	logger     *slog.Logger
}

// NewDispatcher initializes a dispatcher with a worker pool.
// If maxWorkers or queueSize is 0 or negative, it defaults to 1 and 100.
func NewDispatcher(handlers map[core.TaskKind]core.Job, maxWorkers, queueSize int, logger *slog.Logger) Dispatcher {
	if maxWorkers <= 0 {
		maxWorkers = 1
	}
	if queueSize <= 0 {
		queueSize = 100
	}
	d := &dispatcher{
		handlers:   handlers,
		maxWorkers: maxWorkers,
		jobQueue:   make(chan *core.Task, queueSize),
		logger:     logger,
	}
	d.startWorkers()
	return d
}

// startWorkers launches maxWorkers goroutines to process jobs from the queue.
func (d *dispatcher) startWorkers() {
	for i := 0; i < d.maxWorkers; i++ {
		d.wg.Add(1)
		go d.startWorker(i)
	}
}

// startWorker processes tasks from the queue until it's closed.
func (d *dispatcher) startWorker(workerID int) {
	defer d.wg.Done()
	d.logger.Info("starting worker", "id", workerID)

	for task := range d.jobQueue {
		d.processTask(workerID, task)
	}

	d.logger.Info("shutting down worker", "id", workerID)
}

// processTask runs the job registered for the task's kind.
func (d *dispatcher) processTask(workerID int, task *core.Task) {
	d.inFlight.Inc()
	defer d.inFlight.Dec()
	defer d.processed.Inc()

	logger := d.logger.With("worker_id", workerID, "task_id", task.ID, "task", task.String())
	job, ok := d.handlers[task.Kind]
	if !ok {
		d.failed.Inc()
		logger.Error("no job registered for task kind")
		return
	}

	logger.Info("worker processing task")
	if err := d.run(job, task); err != nil {
		d.failed.Inc()
		logger.Error("task failed", "error", err)
	}
}

// run isolates a panicking job from the worker.
func (d *dispatcher) run(job core.Job, task *core.Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return job.Run(context.Background(), task)
}

// Dispatch queues a task for processing by a worker.
func (d *dispatcher) Dispatch(_ context.Context, task *core.Task) error {
	d.logger.Info("queuing task", "task_id", task.ID, "task", task.String())

	select {
	case d.jobQueue <- task:
		return nil
	default:
		return fmt.Errorf("%w: cannot accept %s", ErrQueueFull, task)
	}
}

// Stats returns the current counters.
func (d *dispatcher) Stats() Stats {
	return Stats{
		Queued:    len(d.jobQueue),
		InFlight:  d.inFlight.Load(),
		Processed: d.processed.Load(),
		Failed:    d.failed.Load(),
	}
}

// Stop gracefully shuts down the dispatcher, waiting for all workers to finish.
func (d *dispatcher) Stop() {
	d.stopOnce.Do(func() {
		d.logger.Info("stopping dispatcher and waiting for jobs to finish")
		close(d.jobQueue)
		d.wg.Wait()
		d.logger.Info("all jobs have finished")
	})
}
