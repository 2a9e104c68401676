// Package queue provides durable named work queues on top of the store:
// at-least-once delivery, idempotent enqueue by job ID, bounded retry with
// exponential backoff, and per-job progress reporting.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/josedab/docsynth-sub010/internal/models"
	"github.com/josedab/docsynth-sub010/internal/store"
)

const (
	// DefaultMaxAttempts is the retry budget before a job is dead-lettered.
	DefaultMaxAttempts = 3

	// Lease duration for in-flight jobs. A worker that dies without acking
	// has its job redelivered once the lease expires.
	defaultLease = 5 * time.Minute

	backoffBase = 2 * time.Second
	backoffCap  = 5 * time.Minute
)

// permanentError wraps an error that must not be retried.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as non-retryable; the job moves straight to the dead
// set. Use for validation failures that retrying cannot fix.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// Options configures a single enqueue.
type Options struct {
	// JobID is the idempotency key. Two enqueues with the same JobID on the
	// same queue coalesce into one executable job. Auto-generated when empty.
	JobID       string
	Delay       time.Duration
	Priority    int
	MaxAttempts int
}

// JobHandle identifies an enqueued job.
type JobHandle struct {
	ID        string
	Queue     string
	JobID     string
	Coalesced bool // true when an existing job with the same JobID absorbed this enqueue
}

// JobState is the externally observable state of a job.
type JobState struct {
	State        models.QueueJobStatus
	Progress     int
	AttemptsMade int
	FailedReason string
}

// Queue is a durable named-queue facade over the store.
type Queue struct {
	store store.Store
}

// New creates a Queue backed by the given store.
func New(s store.Store) *Queue {
	return &Queue{store: s}
}

// Enqueue adds a job to the named queue. The payload must be JSON-serializable.
func (q *Queue) Enqueue(ctx context.Context, queueName string, payload any, opts Options) (*JobHandle, error) {
	if queueName == "" {
		return nil, fmt.Errorf("queue name is required")
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	jobID := opts.JobID
	if jobID == "" {
		jobID = uuid.NewString()
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	job := &models.QueueJob{
		ID:          uuid.NewString(),
		Queue:       queueName,
		Key:         jobID,
		Payload:     string(data),
		Priority:    opts.Priority,
		Status:      models.QueueJobQueued,
		MaxAttempts: maxAttempts,
		NextRunAt:   time.Now().UTC().Add(opts.Delay),
	}

	inserted, err := q.store.InsertQueueJob(ctx, job)
	if err != nil {
		return nil, fmt.Errorf("enqueue %s: %w", queueName, err)
	}

	handle := &JobHandle{Queue: queueName, JobID: jobID, Coalesced: !inserted}
	if inserted {
		handle.ID = job.ID
		return handle, nil
	}

	existing, err := q.store.GetQueueJobByKey(ctx, queueName, jobID)
	if err != nil {
		return nil, fmt.Errorf("resolve coalesced job: %w", err)
	}
	handle.ID = existing.ID
	return handle, nil
}

// Requeue returns a settled job to its queue for another run: attempts and
// progress reset, runnable immediately, keeping the original payload. Reports
// false when no job with that key exists.
func (q *Queue) Requeue(ctx context.Context, queueName, jobID string) (bool, error) {
	job, err := q.store.GetQueueJobByKey(ctx, queueName, jobID)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	job.Status = models.QueueJobQueued
	job.Attempts = 0
	job.Progress = 0
	job.LastError = ""
	job.NextRunAt = time.Now().UTC()
	job.LeaseExpiresAt = nil
	job.CompletedAt = nil
	if err := q.store.UpdateQueueJob(ctx, job); err != nil {
		return false, fmt.Errorf("requeue %s/%s: %w", queueName, jobID, err)
	}
	return true, nil
}

// Status returns the observable state of a job by handle ID.
func (q *Queue) Status(ctx context.Context, id string) (*JobState, error) {
	job, err := q.store.GetQueueJob(ctx, id)
	if err != nil {
		return nil, err
	}
	return &JobState{
		State:        job.Status,
		Progress:     job.Progress,
		AttemptsMade: job.Attempts,
		FailedReason: job.LastError,
	}, nil
}

// backoffDelay returns the retry delay after the given attempt count.
func backoffDelay(attempts int) time.Duration {
	d := backoffBase
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= backoffCap {
			return backoffCap
		}
	}
	if d > backoffCap {
		return backoffCap
	}
	return d
}

// JobContext is handed to handlers; it exposes the payload and progress
// reporting for the running job.
type JobContext struct {
	job   *models.QueueJob
	store store.Store
}

// ID returns the job's handle ID.
func (c *JobContext) ID() string { return c.job.ID }

// Queue returns the queue name.
func (c *JobContext) Queue() string { return c.job.Queue }

// Attempt returns the current attempt number, starting at 1.
func (c *JobContext) Attempt() int { return c.job.Attempts }

// Payload returns the raw JSON payload.
func (c *JobContext) Payload() []byte { return []byte(c.job.Payload) }

// Unmarshal decodes the payload into v.
func (c *JobContext) Unmarshal(v any) error {
	if err := json.Unmarshal([]byte(c.job.Payload), v); err != nil {
		return fmt.Errorf("decode %s payload: %w", c.job.Queue, err)
	}
	return nil
}

// UpdateProgress records job progress. Values are clamped to [0,100] and
// never move backward within an attempt.
func (c *JobContext) UpdateProgress(ctx context.Context, progress int) error {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	if progress <= c.job.Progress {
		return nil
	}
	c.job.Progress = progress
	return c.store.UpdateQueueJob(ctx, c.job)
}
