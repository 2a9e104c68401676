package models

import "time"

// ChangeType represents how a file changed in a pull request.
type ChangeType string

const (
	ChangeTypeAdded    ChangeType = "added"
	ChangeTypeModified ChangeType = "modified"
	ChangeTypeDeleted  ChangeType = "deleted"
)

// Priority represents the documentation urgency of a change analysis.
type Priority string

const (
	PriorityCritical Priority = "CRITICAL"
	PriorityHigh     Priority = "HIGH"
	PriorityMedium   Priority = "MEDIUM"
	PriorityLow      Priority = "LOW"
	PriorityNone     Priority = "NONE"
)

// priorityRank orders priorities from NONE (0) to CRITICAL (4).
var priorityRank = map[Priority]int{
	PriorityNone:     0,
	PriorityLow:      1,
	PriorityMedium:   2,
	PriorityHigh:     3,
	PriorityCritical: 4,
}

// AtLeast reports whether p is at or above min.
func (p Priority) AtLeast(min Priority) bool {
	return priorityRank[p] >= priorityRank[min]
}

// SemanticKind classifies a structured semantic change descriptor.
type SemanticKind string

const (
	SemanticNewExport      SemanticKind = "new_exported_symbol"
	SemanticRemovedExport  SemanticKind = "removed_exported_symbol"
	SemanticModifiedExport SemanticKind = "modified_exported_symbol"
	SemanticNewEndpoint    SemanticKind = "new_endpoint"
	SemanticCLIChange      SemanticKind = "cli_change"
	SemanticConfigChange   SemanticKind = "config_change"
	SemanticInternal       SemanticKind = "internal"
)

// SemanticChange describes one structured change within a file, e.g. a new
// exported function or a removed endpoint.
type SemanticChange struct {
	Kind   SemanticKind `json:"kind"`
	Symbol string       `json:"symbol,omitempty"`
	Detail string       `json:"detail,omitempty"`
}

// FileChange describes one changed file with line stats, the unified diff as
// reported by the host, and semantic markers.
type FileChange struct {
	Path            string           `json:"path"`
	ChangeType      ChangeType       `json:"changeType"`
	AddedLines      int              `json:"addedLines"`
	RemovedLines    int              `json:"removedLines"`
	Patch           string           `json:"patch,omitempty"`
	SemanticChanges []SemanticChange `json:"semanticChanges,omitempty"`
}

// ChangeAnalysis holds the documentation-impact classification of one PR
// event. Immutable once created.
type ChangeAnalysis struct {
	ID                    string
	RepositoryID          string
	PREventID             string
	PRNumber              int
	Files                 []FileChange
	Priority              Priority
	RequiresDocumentation bool
	CreatedAt             time.Time
}
