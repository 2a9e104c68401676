package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/josedab/docsynth-sub010/internal/models"
)

// Handler processes one job. Returning nil acks the job; returning an error
// schedules a retry unless the error is marked Permanent or the attempt
// budget is exhausted.
type Handler func(ctx context.Context, job *JobContext) error

// consumer binds one named queue to a handler and a concurrency limit.
type consumer struct {
	queue       string
	concurrency int
	handler     Handler
}

// Runner owns one supervisor goroutine and one bounded worker pool per
// consumed queue. Cross-queue work never shares memory; the store is the
// only shared resource.
type Runner struct {
	q            *Queue
	logger       *slog.Logger
	pollInterval time.Duration
	lease        time.Duration

	mu        sync.Mutex
	consumers []consumer
	started   bool

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewRunner creates a Runner over the queue.
func NewRunner(q *Queue, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		q:            q,
		logger:       logger,
		pollInterval: 500 * time.Millisecond,
		lease:        defaultLease,
	}
}

// Consume registers a handler for a named queue. Must be called before Start.
func (r *Runner) Consume(queueName string, concurrency int, handler Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return fmt.Errorf("runner already started")
	}
	if concurrency < 1 {
		concurrency = 1
	}
	r.consumers = append(r.consumers, consumer{queue: queueName, concurrency: concurrency, handler: handler})
	return nil
}

// Start launches supervisors and worker pools. It returns immediately; use
// Stop (or cancel the context) to shut down.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return fmt.Errorf("runner already started")
	}
	r.started = true
	consumers := make([]consumer, len(r.consumers))
	copy(consumers, r.consumers)
	r.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	for _, c := range consumers {
		jobs := make(chan *models.QueueJob)

		for i := 0; i < c.concurrency; i++ {
			r.wg.Add(1)
			go r.worker(runCtx, c, i, jobs)
		}

		r.wg.Add(1)
		go r.supervise(runCtx, c, jobs)
	}
	return nil
}

// Stop cancels all supervisors and waits for in-flight handlers to finish.
func (r *Runner) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

// supervise polls one queue for due jobs and dispatches them to the pool.
func (r *Runner) supervise(ctx context.Context, c consumer, jobs chan<- *models.QueueJob) {
	defer r.wg.Done()
	defer close(jobs)

	logger := r.logger.With("queue", c.queue)
	logger.Debug("supervisor started", "concurrency", c.concurrency)

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	// Recover leases orphaned by a previous process before first dispatch.
	if n, err := r.q.store.RequeueExpiredLeases(ctx, c.queue); err == nil && n > 0 {
		logger.Info("requeued expired leases", "count", n)
	}

	for {
		select {
		case <-ctx.Done():
			logger.Debug("supervisor stopped")
			return
		case <-ticker.C:
		}

		if _, err := r.q.store.RequeueExpiredLeases(ctx, c.queue); err != nil {
			logger.Warn("requeue expired leases", "error", err)
		}

		leased, err := r.q.store.LeaseQueueJobs(ctx, c.queue, c.concurrency, r.lease)
		if err != nil {
			logger.Warn("lease jobs", "error", err)
			continue
		}

		for _, job := range leased {
			select {
			case jobs <- job:
			case <-ctx.Done():
				// Shutdown mid-dispatch: return the lease so the job is
				// redelivered instead of waiting out the lease timer.
				r.release(job)
				return
			}
		}
	}
}

// worker executes jobs from the pool channel.
func (r *Runner) worker(ctx context.Context, c consumer, workerID int, jobs <-chan *models.QueueJob) {
	defer r.wg.Done()

	logger := r.logger.With("queue", c.queue, "worker_id", workerID)

	for job := range jobs {
		select {
		case <-ctx.Done():
			r.release(job)
			return
		default:
		}

		start := time.Now()
		err := r.runOne(ctx, c, job)
		switch {
		case err == nil:
			logger.Debug("job succeeded", "job_id", job.ID, "duration_ms", time.Since(start).Milliseconds())
		case ctx.Err() != nil:
			// Worker shutdown mid-job: requeue for redelivery, do not count
			// the interrupted attempt against the budget.
			r.release(job)
			logger.Info("job requeued on shutdown", "job_id", job.ID)
		default:
			logger.Warn("job failed", "job_id", job.ID, "attempt", job.Attempts, "error", err)
		}
	}
}

// runOne invokes the handler and settles the job's terminal state for this
// attempt.
func (r *Runner) runOne(ctx context.Context, c consumer, job *models.QueueJob) error {
	jc := &JobContext{job: job, store: r.q.store}

	err := func() (handlerErr error) {
		defer func() {
			if rec := recover(); rec != nil {
				handlerErr = fmt.Errorf("handler panic: %v", rec)
			}
		}()
		return c.handler(ctx, jc)
	}()

	now := time.Now().UTC()
	if err == nil {
		job.Status = models.QueueJobSucceeded
		job.Progress = 100
		job.LeaseExpiresAt = nil
		job.LastError = ""
		job.CompletedAt = &now
		return r.q.store.UpdateQueueJob(ctx, job)
	}

	if ctx.Err() != nil {
		return err
	}

	job.LastError = err.Error()
	job.LeaseExpiresAt = nil

	if IsPermanent(err) || job.Attempts >= job.MaxAttempts {
		job.Status = models.QueueJobDead
		job.CompletedAt = &now
		if updateErr := r.q.store.UpdateQueueJob(ctx, job); updateErr != nil {
			return updateErr
		}
		return err
	}

	job.Status = models.QueueJobFailed
	job.Progress = 0
	job.NextRunAt = now.Add(backoffDelay(job.Attempts))
	if updateErr := r.q.store.UpdateQueueJob(ctx, job); updateErr != nil {
		return updateErr
	}
	return err
}

// release returns a leased job to the queue without consuming an attempt.
// Used on shutdown so interrupted work is redelivered promptly.
func (r *Runner) release(job *models.QueueJob) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	job.Status = models.QueueJobQueued
	job.Progress = 0
	job.LeaseExpiresAt = nil
	if job.Attempts > 0 {
		job.Attempts--
	}
	if err := r.q.store.UpdateQueueJob(ctx, job); err != nil {
		r.logger.Warn("release job", "job_id", job.ID, "error", err)
	}
}
