// Package drift scores existing documents for staleness risk and re-enters
// the pipeline to heal documents that have drifted from the code.
package drift

import (
	"context"
	"log/slog"
	"time"

	"github.com/josedab/docsynth-sub010/internal/models"
	"github.com/josedab/docsynth-sub010/internal/store"
)

// Signal weights. They sum to 1.0 so the probability stays in [0,1].
const (
	weightCodeChanges       = 0.35
	weightAPIChanges        = 0.30
	weightDependencyChanges = 0.15
	weightTimeSinceUpdate   = 0.20
)

// Risk classification boundaries.
const (
	highRiskBoundary   = 0.7
	mediumRiskBoundary = 0.4
)

// Thresholds normalize raw signals: a signal at or above its threshold
// contributes its full weight.
type Thresholds struct {
	CodeChanges         int
	APIChanges          int
	DependencyChanges   int
	TimeSinceUpdateDays int
}

// DefaultThresholds are the standard normalization thresholds.
var DefaultThresholds = Thresholds{
	CodeChanges:         20,
	APIChanges:          10,
	DependencyChanges:   5,
	TimeSinceUpdateDays: 60,
}

// Probability computes the weighted drift probability of a document from its
// signal vector. Each signal is clamped to [0,1] against its threshold
// before weighting.
func Probability(s models.DriftSignals, t Thresholds) float64 {
	return weightCodeChanges*normalize(s.CodeChanges, t.CodeChanges) +
		weightAPIChanges*normalize(s.APIChanges, t.APIChanges) +
		weightDependencyChanges*normalize(s.DependencyChanges, t.DependencyChanges) +
		weightTimeSinceUpdate*normalize(s.TimeSinceUpdateDays, t.TimeSinceUpdateDays)
}

func normalize(value, threshold int) float64 {
	if threshold <= 0 || value <= 0 {
		return 0
	}
	n := float64(value) / float64(threshold)
	if n > 1 {
		return 1
	}
	return n
}

// Classify maps a probability to a risk level.
func Classify(probability float64) models.RiskLevel {
	switch {
	case probability >= highRiskBoundary:
		return models.RiskHigh
	case probability >= mediumRiskBoundary:
		return models.RiskMedium
	default:
		return models.RiskLow
	}
}

// SignalSource gathers the raw drift signals for one document.
type SignalSource interface {
	SignalsFor(ctx context.Context, repo *models.Repository, doc *models.Document) (models.DriftSignals, error)
}

// AgeSignalSource derives only the time-since-update signal from the stored
// document row. It is the zero-dependency default; the source-control-backed
// source adds change-count signals.
type AgeSignalSource struct{}

func (AgeSignalSource) SignalsFor(_ context.Context, _ *models.Repository, doc *models.Document) (models.DriftSignals, error) {
	days := int(time.Since(doc.UpdatedAt).Hours() / 24)
	if days < 0 {
		days = 0
	}
	return models.DriftSignals{TimeSinceUpdateDays: days}, nil
}

// Monitor periodically evaluates repository documents and records drift
// predictions.
type Monitor struct {
	store      store.Store
	signals    SignalSource
	thresholds Thresholds
	logger     *slog.Logger
}

// NewMonitor creates a drift monitor over the given signal source.
func NewMonitor(s store.Store, signals SignalSource, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{store: s, signals: signals, thresholds: DefaultThresholds, logger: logger}
}

// ScanRepository refreshes drift predictions for every document in the
// repository. A signal failure for one document is logged and skipped; the
// scan never aborts mid-repository.
func (m *Monitor) ScanRepository(ctx context.Context, repositoryID string) ([]*models.DriftPrediction, error) {
	repo, err := m.store.GetRepository(ctx, repositoryID)
	if err != nil {
		return nil, err
	}
	docs, err := m.store.ListDocuments(ctx, repositoryID)
	if err != nil {
		return nil, err
	}

	var predictions []*models.DriftPrediction
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return predictions, err
		}
		p, err := m.ScanDocument(ctx, repo, doc)
		if err != nil {
			m.logger.Warn("drift scan failed for document", "document", doc.Path, "error", err)
			continue
		}
		predictions = append(predictions, p)
	}
	return predictions, nil
}

// ScanDocument computes and persists the drift prediction for one document.
func (m *Monitor) ScanDocument(ctx context.Context, repo *models.Repository, doc *models.Document) (*models.DriftPrediction, error) {
	signals, err := m.signals.SignalsFor(ctx, repo, doc)
	if err != nil {
		return nil, err
	}

	probability := Probability(signals, m.thresholds)
	p := &models.DriftPrediction{
		RepositoryID:     repo.ID,
		DocumentID:       doc.ID,
		DriftProbability: probability,
		RiskLevel:        Classify(probability),
		Signals:          signals,
		Status:           models.DriftOpen,
	}
	if err := m.store.UpsertDriftPrediction(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// TakeAction applies a human decision to a prediction.
func (m *Monitor) TakeAction(ctx context.Context, predictionID string, action models.DriftStatus) error {
	p, err := m.store.GetDriftPrediction(ctx, predictionID)
	if err != nil {
		return err
	}
	switch action {
	case models.DriftAcknowledged, models.DriftDismissed, models.DriftResolved:
		p.Status = action
	default:
		return &InvalidActionError{Action: string(action)}
	}
	return m.store.UpdateDriftPrediction(ctx, p)
}

// InvalidActionError reports an unknown takeAction verb.
type InvalidActionError struct {
	Action string
}

func (e *InvalidActionError) Error() string {
	return "invalid drift action: " + e.Action
}
