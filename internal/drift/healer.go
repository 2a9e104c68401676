package drift

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/josedab/docsynth-sub010/internal/docdiff"
	"github.com/josedab/docsynth-sub010/internal/llm"
	"github.com/josedab/docsynth-sub010/internal/models"
	"github.com/josedab/docsynth-sub010/internal/store"
)

// HealConfig bounds one healing pass.
type HealConfig struct {
	DriftThreshold    float64 // regenerate only above this probability
	ConfidenceMinimum int     // discard regenerations below this confidence
	MaxSectionsPerRun int     // blast-radius cap across the whole pass
}

// DefaultHealConfig is used when the queue message carries no overrides.
var DefaultHealConfig = HealConfig{
	DriftThreshold:    0.6,
	ConfidenceMinimum: 70,
	MaxSectionsPerRun: 12,
}

// Regenerator rewrites a stale document and reports its own confidence in
// the rewrite.
type Regenerator interface {
	Regenerate(ctx context.Context, doc *models.Document, signals models.DriftSignals) (content string, confidence int, err error)
}

// LLMRegenerator implements Regenerator over an LLM client.
type LLMRegenerator struct {
	llm llm.Client
}

// NewLLMRegenerator creates an LLM-backed regenerator.
func NewLLMRegenerator(client llm.Client) *LLMRegenerator {
	return &LLMRegenerator{llm: client}
}

type regeneratedDoc struct {
	Content    string `json:"content"`
	Confidence int    `json:"confidence"`
}

// Regenerate rewrites the document against its drift signals.
func (r *LLMRegenerator) Regenerate(ctx context.Context, doc *models.Document, signals models.DriftSignals) (string, int, error) {
	system := `You refresh stale developer documentation. Return ONLY a JSON object:
- "content": the complete updated markdown document
- "confidence": integer 0-100, your confidence that the update is accurate

Rules:
- Preserve sections that are still accurate; update only what the drift signals suggest has changed
- Return valid JSON only, no markdown fencing or explanation`

	var sb strings.Builder
	fmt.Fprintf(&sb, "Document %s (last updated %s):\n\n%s\n\n", doc.Path, doc.UpdatedAt.Format("2006-01-02"), doc.Content)
	fmt.Fprintf(&sb, "Drift signals since last update: %d code changes, %d API changes, %d dependency changes, %d days old\n",
		signals.CodeChanges, signals.APIChanges, signals.DependencyChanges, signals.TimeSinceUpdateDays)

	resp, err := r.llm.Generate(ctx, llm.Request{System: system, Prompt: sb.String(), MaxTokens: 8192})
	if err != nil {
		return "", 0, fmt.Errorf("regenerate %s: %w", doc.Path, err)
	}
	if resp.Provider == llm.ProviderFallback {
		return "", 0, fmt.Errorf("regenerate %s: provider unavailable", doc.Path)
	}

	var out regeneratedDoc
	if err := llm.ParseJSON(resp.Content, &out); err != nil {
		return "", 0, fmt.Errorf("regenerate %s: %w", doc.Path, err)
	}
	if strings.TrimSpace(out.Content) == "" {
		return "", 0, fmt.Errorf("regenerate %s: empty content", doc.Path)
	}
	return out.Content, out.Confidence, nil
}

// HealReport summarizes one healing pass.
type HealReport struct {
	Considered   int
	Regenerated  int
	SkippedLow   int // below confidence minimum
	SectionsUsed int
	Errors       int
}

// Healer runs the self-healing pass: regenerate documents whose drift
// probability exceeds the threshold, bounded by the per-run section cap.
type Healer struct {
	store       store.Store
	regenerator Regenerator
	logger      *slog.Logger
}

// NewHealer creates a Healer.
func NewHealer(s store.Store, regenerator Regenerator, logger *slog.Logger) *Healer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Healer{store: s, regenerator: regenerator, logger: logger}
}

// Heal processes the repository's open drift predictions in descending
// probability order. Success marks the prediction resolved; failures are
// logged and leave the prediction open for the next scheduled pass.
func (h *Healer) Heal(ctx context.Context, repositoryID string, cfg HealConfig) (*HealReport, error) {
	if cfg.MaxSectionsPerRun <= 0 {
		cfg.MaxSectionsPerRun = DefaultHealConfig.MaxSectionsPerRun
	}

	predictions, err := h.store.ListDriftPredictions(ctx, store.DriftFilter{
		RepositoryID: repositoryID,
		Status:       models.DriftOpen,
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(predictions, func(i, j int) bool {
		return predictions[i].DriftProbability > predictions[j].DriftProbability
	})

	report := &HealReport{}
	for _, p := range predictions {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if p.DriftProbability <= cfg.DriftThreshold {
			continue
		}
		report.Considered++

		if report.SectionsUsed >= cfg.MaxSectionsPerRun {
			h.logger.Info("healing pass section budget exhausted", "repository_id", repositoryID, "used", report.SectionsUsed)
			break
		}

		if err := h.healOne(ctx, p, cfg, report); err != nil {
			report.Errors++
			h.logger.Warn("healing failed, prediction stays open", "prediction_id", p.ID, "error", err)
		}
	}
	return report, nil
}

func (h *Healer) healOne(ctx context.Context, p *models.DriftPrediction, cfg HealConfig, report *HealReport) error {
	doc, err := h.store.GetDocument(ctx, p.DocumentID)
	if err != nil {
		return err
	}

	content, confidence, err := h.regenerator.Regenerate(ctx, doc, p.Signals)
	if err != nil {
		return err
	}
	if confidence < cfg.ConfidenceMinimum {
		report.SkippedLow++
		h.logger.Info("regeneration below confidence minimum, skipped",
			"document", doc.Path, "confidence", confidence, "minimum", cfg.ConfidenceMinimum)
		return nil
	}

	// Count touched sections against the pass budget before writing.
	diff := docdiff.Compute(doc.Content, content)
	touched := 0
	for _, sec := range diff.Sections {
		if sec.Kind != docdiff.SectionUnchanged {
			touched++
		}
	}
	if report.SectionsUsed+touched > cfg.MaxSectionsPerRun {
		h.logger.Info("regeneration exceeds section budget, deferred",
			"document", doc.Path, "sections", touched, "remaining", cfg.MaxSectionsPerRun-report.SectionsUsed)
		return nil
	}

	doc.Content = content
	if err := h.store.UpdateDocument(ctx, doc); err != nil {
		return err
	}

	report.SectionsUsed += touched
	report.Regenerated++

	p.Status = models.DriftResolved
	if err := h.store.UpdateDriftPrediction(ctx, p); err != nil {
		return err
	}
	return nil
}
