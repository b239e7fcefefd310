package core

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"labos/pkg/domain"
)

const (
	defaultWorkerCount = 1
	defaultQueueDepth  = 16
)

// ErrQueueFull is returned by Enqueue when the job queue has no room.
var ErrQueueFull = errors.New("job queue full")

// Worker drains queued job ids and drives each through the module
// workflow. Jobs are enqueued pending; the pool claims them and advances
// the running/succeeded/failed lifecycle via Service.ExecuteJob.
type Worker struct {
	service *Service
	logger  domain.Logger
	queue   chan string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	workers int
}

// NewWorker sizes a pool over the service. Non-positive workers or depth
// fall back to the defaults.
func NewWorker(service *Service, workers, queueDepth int, logger domain.Logger) *Worker {
	if workers <= 0 {
		workers = defaultWorkerCount
	}
	if queueDepth <= 0 {
		queueDepth = defaultQueueDepth
	}
	if logger == nil {
		logger = domain.NopLogger{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		service: service,
		logger:  logger,
		queue:   make(chan string, queueDepth),
		ctx:     ctx,
		cancel:  cancel,
		workers: workers,
	}
}

// Start launches the pool goroutines.
func (w *Worker) Start() {
	for i := 0; i < w.workers; i++ {
		w.wg.Add(1)
		go w.loop()
	}
}

// Stop cancels the pool and waits for in-flight jobs, bounded by ctx.
func (w *Worker) Stop(ctx context.Context) error {
	w.cancel()
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("worker shutdown: %w", ctx.Err())
	}
}

// Enqueue hands a pending job id to the pool without blocking.
func (w *Worker) Enqueue(jobID string) error {
	if jobID == "" {
		return domain.ValidationError{Field: "job_id", Reason: "required"}
	}
	select {
	case w.queue <- jobID:
		return nil
	default:
		return ErrQueueFull
	}
}

// Pending reports how many job ids are waiting in the queue.
func (w *Worker) Pending() int { return len(w.queue) }

func (w *Worker) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case jobID := <-w.queue:
			result, err := w.service.ExecuteJob(w.ctx, jobID)
			switch {
			case err != nil:
				w.logger.Error("job execution failed", "job_id", jobID, "error", err.Error())
			case !result.Succeeded():
				w.logger.Warn("job finished with module error", "job_id", jobID, "error", result.Err)
			default:
				w.logger.Info("job finished", "job_id", jobID, "status", string(result.Job.Status))
			}
		}
	}
}
