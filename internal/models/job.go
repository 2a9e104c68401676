package models

import "time"

// JobStatus represents the pipeline state of a generation job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "PENDING"
	JobStatusAnalyzing  JobStatus = "ANALYZING"
	JobStatusInferring  JobStatus = "INFERRING"
	JobStatusGenerating JobStatus = "GENERATING"
	JobStatusReviewing  JobStatus = "REVIEWING"
	JobStatusCompleted  JobStatus = "COMPLETED"
	JobStatusFailed     JobStatus = "FAILED"
)

// jobStatusRank orders the non-terminal pipeline stages. FAILED is reachable
// from any non-terminal state and has no rank.
var jobStatusRank = map[JobStatus]int{
	JobStatusPending:    0,
	JobStatusAnalyzing:  1,
	JobStatusInferring:  2,
	JobStatusGenerating: 3,
	JobStatusReviewing:  4,
	JobStatusCompleted:  5,
}

// Terminal reports whether the status is a terminal state.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// CanTransition reports whether a job may move from s to next. Forward-only
// along the stage ordering, except FAILED which any non-terminal state may
// enter.
func (s JobStatus) CanTransition(next JobStatus) bool {
	if s.Terminal() {
		return false
	}
	if next == JobStatusFailed {
		return true
	}
	from, ok1 := jobStatusRank[s]
	to, ok2 := jobStatusRank[next]
	return ok1 && ok2 && to > from
}

// GenerationJob tracks one documentation change request end-to-end.
type GenerationJob struct {
	ID               string
	RepositoryID     string
	PREventID        string
	PRNumber         int
	ChangeAnalysisID string
	IntentContextID  string
	Status           JobStatus
	Progress         int // 0-100, monotonically non-decreasing
	Error            string
	CreatedAt        time.Time
	StartedAt        *time.Time
	CompletedAt      *time.Time
}
