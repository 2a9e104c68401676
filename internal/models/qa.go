package models

import "time"

// QASessionStatus represents the review state of a QA session.
type QASessionStatus string

const (
	QASessionPending          QASessionStatus = "pending"
	QASessionReviewing        QASessionStatus = "reviewing"
	QASessionAwaitingResponse QASessionStatus = "awaiting_response"
	QASessionApproved         QASessionStatus = "approved"
	QASessionCompleted        QASessionStatus = "completed"
)

// Terminal reports whether the session is closed.
func (s QASessionStatus) Terminal() bool {
	return s == QASessionApproved || s == QASessionCompleted
}

// QASession tracks the quality review of one set of generated documents.
type QASession struct {
	ID              string
	RepositoryID    string
	JobID           string
	PRNumber        int
	Status          QASessionStatus
	ConfidenceScore int // 0-100
	AutoApproved    bool
	DocumentPaths   []string
	Notice          string // e.g. "manual review requested"
	Error           string // refinement error note, if any
	CreatedAt       time.Time
	UpdatedAt       time.Time
	CompletedAt     *time.Time
}

// QuestionType classifies what kind of clarification a question seeks.
type QuestionType string

const (
	QuestionAmbiguity      QuestionType = "ambiguity"
	QuestionMissingExample QuestionType = "missing_example"
	QuestionUnclearTerm    QuestionType = "unclear_term"
	QuestionVerification   QuestionType = "verification"
	QuestionEdgeCase       QuestionType = "edge_case"
)

// QuestionPriority represents the urgency of a QA question.
type QuestionPriority string

const (
	QuestionPriorityLow      QuestionPriority = "low"
	QuestionPriorityMedium   QuestionPriority = "medium"
	QuestionPriorityHigh     QuestionPriority = "high"
	QuestionPriorityCritical QuestionPriority = "critical"
)

// questionPriorityRank orders priorities for presentation, critical first.
var questionPriorityRank = map[QuestionPriority]int{
	QuestionPriorityCritical: 0,
	QuestionPriorityHigh:     1,
	QuestionPriorityMedium:   2,
	QuestionPriorityLow:      3,
}

// PresentationRank returns the sort rank of a priority tier (lower = sooner).
func (p QuestionPriority) PresentationRank() int {
	if r, ok := questionPriorityRank[p]; ok {
		return r
	}
	return len(questionPriorityRank)
}

// QuestionStatus represents the lifecycle state of a QA question.
type QuestionStatus string

const (
	QuestionPending  QuestionStatus = "pending"
	QuestionAnswered QuestionStatus = "answered"
	QuestionSkipped  QuestionStatus = "skipped"
	QuestionApplied  QuestionStatus = "applied"
)

// QAQuestion is one human-facing question raised by the QA gate.
type QAQuestion struct {
	ID           string
	SessionID    string
	DocumentPath string
	Type         QuestionType
	Category     string
	Priority     QuestionPriority
	Status       QuestionStatus
	Text         string
	Answer       string
	LineStart    int // 0 = no line range
	LineEnd      int
	Position     int // insertion order within the session
	CreatedAt    time.Time
	AnsweredAt   *time.Time
}
