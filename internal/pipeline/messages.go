package pipeline

// Queue names, one per pipeline stage. Stages communicate only through these
// queues; no stage calls the next one in-process.
const (
	QueueChangeAnalysis  = "change-analysis"
	QueueIntentInference = "intent-inference"
	QueueDocGeneration   = "doc-generation"
	QueueDocReview       = "doc-review"
	QueueSelfHealing     = "self-healing-auto"
)

// Self-healing actions.
const (
	ActionAssessDrift = "assess-drift"
	ActionRegenerate  = "regenerate"
	ActionCreatePR    = "create-pr"
)

// ChangeAnalysisMessage triggers the analysis stage for one PR event.
type ChangeAnalysisMessage struct {
	JobID          string `json:"jobId"`
	PREventID      string `json:"prEventId"`
	RepositoryID   string `json:"repositoryId"`
	InstallationID string `json:"installationId"`
	Owner          string `json:"owner"`
	Repo           string `json:"repo"`
	PRNumber       int    `json:"prNumber"`
}

// IntentInferenceMessage triggers intent inference over a stored analysis.
type IntentInferenceMessage struct {
	JobID            string `json:"jobId"`
	ChangeAnalysisID string `json:"changeAnalysisId"`
	RepositoryID     string `json:"repositoryId"`
	InstallationID   string `json:"installationId"`
}

// DocGenerationMessage triggers document generation.
type DocGenerationMessage struct {
	JobID            string `json:"jobId"`
	ChangeAnalysisID string `json:"changeAnalysisId"`
	IntentContextID  string `json:"intentContextId"`
	RepositoryID     string `json:"repositoryId"`
	InstallationID   string `json:"installationId"`
}

// DocReviewMessage triggers the QA gate over a generated document set.
type DocReviewMessage struct {
	JobID            string `json:"jobId"`
	SessionID        string `json:"sessionId"`
	ChangeAnalysisID string `json:"changeAnalysisId"`
	IntentContextID  string `json:"intentContextId"`
	RepositoryID     string `json:"repositoryId"`
	InstallationID   string `json:"installationId"`
}

// SelfHealingMessage triggers one self-healing action for a repository.
// Threshold fields override the defaults when non-zero.
type SelfHealingMessage struct {
	RepositoryID      string  `json:"repositoryId"`
	Action            string  `json:"action"`
	DriftThreshold    float64 `json:"driftThreshold,omitempty"`
	ConfidenceMinimum int     `json:"confidenceMinimum,omitempty"`
	MaxSectionsPerRun int     `json:"maxSectionsPerRun,omitempty"`
}
