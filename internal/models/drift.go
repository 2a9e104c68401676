package models

import "time"

// RiskLevel classifies a drift probability.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// DriftStatus represents the lifecycle state of a drift prediction.
type DriftStatus string

const (
	DriftOpen         DriftStatus = "open"
	DriftAcknowledged DriftStatus = "acknowledged"
	DriftDismissed    DriftStatus = "dismissed"
	DriftResolved     DriftStatus = "resolved"
)

// DriftSignals is the raw signal vector behind a drift prediction.
type DriftSignals struct {
	CodeChanges         int `json:"codeChanges"`
	APIChanges          int `json:"apiChanges"`
	DependencyChanges   int `json:"dependencyChanges"`
	TimeSinceUpdateDays int `json:"timeSinceUpdateDays"`
}

// DriftPrediction records the staleness risk of one document.
type DriftPrediction struct {
	ID               string
	RepositoryID     string
	DocumentID       string
	DriftProbability float64 // 0-1
	RiskLevel        RiskLevel
	Signals          DriftSignals
	Status           DriftStatus
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
