package models

import "time"

// ContextSourceType identifies where a piece of intent context came from.
type ContextSourceType string

const (
	SourcePRDescription ContextSourceType = "pr_description"
	SourceLinkedIssue   ContextSourceType = "linked_issue"
	SourceTicket        ContextSourceType = "ticket"
	SourceChat          ContextSourceType = "chat"
)

// ContextSource is one piece of multi-source context gathered for a change.
type ContextSource struct {
	Type           ContextSourceType `json:"type"`
	Identifier     string            `json:"identifier"`
	Content        string            `json:"content"`
	RelevanceScore float64           `json:"relevanceScore"`
}

// IntentContext holds the inferred "why" behind a change. Created once per
// job by the intent inference stage; read-only downstream.
type IntentContext struct {
	ID                     string
	ChangeAnalysisID       string
	RepositoryID           string
	BusinessPurpose        string
	TechnicalApproach      string
	AlternativesConsidered []string
	TargetAudience         string
	KeyConcepts            []string
	Sources                []ContextSource
	Fallback               bool // true when the LLM was unavailable and a minimal result was substituted
	CreatedAt              time.Time
}
