package models

import "time"

// QueueJobStatus represents the delivery state of a queued job.
type QueueJobStatus string

const (
	QueueJobQueued    QueueJobStatus = "queued"
	QueueJobLeased    QueueJobStatus = "leased"
	QueueJobSucceeded QueueJobStatus = "succeeded"
	QueueJobFailed    QueueJobStatus = "failed" // retryable, waiting for next_run_at
	QueueJobDead      QueueJobStatus = "dead"   // attempt budget exhausted
)

// QueueJob is one durable unit of work on a named queue.
type QueueJob struct {
	ID             string
	Queue          string
	Key            string // idempotency key; unique per queue
	Payload        string // JSON
	Priority       int    // higher dequeues first
	Status         QueueJobStatus
	Progress       int // 0-100, monotonically non-decreasing per attempt cycle
	Attempts       int
	MaxAttempts    int
	NextRunAt      time.Time
	LeaseExpiresAt *time.Time
	LastError      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	CompletedAt    *time.Time
}
