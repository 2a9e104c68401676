// Package qa scores generated documents, decides auto-approval versus human
// review, and manages the question/answer/refinement lifecycle.
package qa

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/josedab/docsynth-sub010/internal/generator"
	"github.com/josedab/docsynth-sub010/internal/llm"
	"github.com/josedab/docsynth-sub010/internal/models"
	"github.com/josedab/docsynth-sub010/internal/store"
)

// AutoApproveThreshold is the minimum confidence score for closing a session
// without human review.
const AutoApproveThreshold = 85

// fallbackConfidence is the conservative default when the scorer is
// unavailable: always below the auto-approve bar, so a human pass is
// guaranteed.
const fallbackConfidence = 50

// ManualReviewNotice is attached to sessions routed to human review despite
// having no questions. Absence of questions is not evidence of correctness.
const ManualReviewNotice = "manual review requested"

// AnalysisResult is the QA gate's verdict on a set of documents.
type AnalysisResult struct {
	Questions       []*models.QAQuestion
	ConfidenceScore int
	CanAutoApprove  bool
}

// CanAutoApprove reports whether a session clears the auto-approval bar:
// confidence at or above the threshold and zero critical questions.
func CanAutoApprove(confidenceScore, criticalQuestions int) bool {
	return confidenceScore >= AutoApproveThreshold && criticalQuestions == 0
}

// Gate runs QA analysis on generated documents and drives the session state
// machine to approved or awaiting_response.
type Gate struct {
	store  store.Store
	llm    llm.Client
	logger *slog.Logger
}

// NewGate creates a QA gate.
func NewGate(s store.Store, client llm.Client, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{store: s, llm: client, logger: logger}
}

// scoredAnalysis is the strict response schema expected from the scorer.
type scoredAnalysis struct {
	ConfidenceScore int  `json:"confidenceScore"`
	CanAutoApprove  bool `json:"canAutoApprove"`
	Questions       []struct {
		Document  string `json:"document"`
		Type      string `json:"type"`
		Category  string `json:"category"`
		Priority  string `json:"priority"`
		Text      string `json:"text"`
		LineStart int    `json:"lineStart"`
		LineEnd   int    `json:"lineEnd"`
	} `json:"questions"`
}

// Review scores the documents and settles the session: approved (terminal,
// auto) or awaiting_response with persisted questions. The session must be
// pending, or reviewing when a redelivered message resumes an interrupted
// review. Scorer failure degrades to a conservative default rather than
// blocking the pipeline.
func (g *Gate) Review(ctx context.Context, session *models.QASession, docs []generator.CandidateDoc, intent *models.IntentContext) (*AnalysisResult, error) {
	switch session.Status {
	case models.QASessionPending:
		session.Status = models.QASessionReviewing
		if err := g.store.UpdateQASession(ctx, session); err != nil {
			return nil, fmt.Errorf("start review: %w", err)
		}
	case models.QASessionReviewing:
		// A redelivered review message after a crash mid-review. Scoring is
		// idempotent, so the review simply runs again.
	default:
		return nil, fmt.Errorf("qa session %s is %s, expected %s", session.ID, session.Status, models.QASessionPending)
	}

	result := g.score(ctx, docs, intent)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	criticalCount := 0
	for _, q := range result.Questions {
		q.SessionID = session.ID
		if q.Priority == models.QuestionPriorityCritical {
			criticalCount++
		}
	}

	session.ConfidenceScore = result.ConfidenceScore

	if result.CanAutoApprove && CanAutoApprove(result.ConfidenceScore, criticalCount) {
		now := time.Now().UTC()
		session.Status = models.QASessionApproved
		session.AutoApproved = true
		session.CompletedAt = &now
		if err := g.store.UpdateQASession(ctx, session); err != nil {
			return nil, fmt.Errorf("approve session: %w", err)
		}
		return result, nil
	}

	// Below the bar, or critical questions remain: route to human review.
	// Zero questions below threshold gets an explicit notice instead of a
	// silent auto-approval.
	if len(result.Questions) == 0 {
		session.Notice = ManualReviewNotice
	}
	session.Status = models.QASessionAwaitingResponse

	if err := g.store.CreateQAQuestions(ctx, result.Questions); err != nil {
		return nil, fmt.Errorf("persist questions: %w", err)
	}
	if err := g.store.UpdateQASession(ctx, session); err != nil {
		return nil, fmt.Errorf("update session: %w", err)
	}
	return result, nil
}

// score runs the LLM scorer, falling back to a conservative default on any
// provider or parse failure.
func (g *Gate) score(ctx context.Context, docs []generator.CandidateDoc, intent *models.IntentContext) *AnalysisResult {
	conservative := &AnalysisResult{ConfidenceScore: fallbackConfidence, CanAutoApprove: false}

	system, prompt := buildScoringPrompt(docs, intent)
	resp, err := g.llm.Generate(ctx, llm.Request{System: system, Prompt: prompt, MaxTokens: 4096})
	if err != nil || resp.Provider == llm.ProviderFallback {
		g.logger.Warn("qa scorer unavailable, using conservative default", "error", err)
		return conservative
	}

	var scored scoredAnalysis
	if err := llm.ParseJSON(resp.Content, &scored); err != nil {
		g.logger.Warn("qa scorer response unparsable, using conservative default", "error", err)
		return conservative
	}

	if scored.ConfidenceScore < 0 {
		scored.ConfidenceScore = 0
	}
	if scored.ConfidenceScore > 100 {
		scored.ConfidenceScore = 100
	}

	result := &AnalysisResult{
		ConfidenceScore: scored.ConfidenceScore,
		CanAutoApprove:  scored.CanAutoApprove,
	}
	for _, q := range scored.Questions {
		result.Questions = append(result.Questions, &models.QAQuestion{
			DocumentPath: q.Document,
			Type:         parseQuestionType(q.Type),
			Category:     q.Category,
			Priority:     parseQuestionPriority(q.Priority),
			Status:       models.QuestionPending,
			Text:         q.Text,
			LineStart:    q.LineStart,
			LineEnd:      q.LineEnd,
		})
	}
	return result
}

func parseQuestionType(s string) models.QuestionType {
	switch models.QuestionType(s) {
	case models.QuestionAmbiguity, models.QuestionMissingExample, models.QuestionUnclearTerm,
		models.QuestionVerification, models.QuestionEdgeCase:
		return models.QuestionType(s)
	default:
		return models.QuestionVerification
	}
}

func parseQuestionPriority(s string) models.QuestionPriority {
	switch models.QuestionPriority(s) {
	case models.QuestionPriorityLow, models.QuestionPriorityMedium,
		models.QuestionPriorityHigh, models.QuestionPriorityCritical:
		return models.QuestionPriority(s)
	default:
		return models.QuestionPriorityMedium
	}
}

// buildScoringPrompt constructs the system and user prompts for QA scoring.
func buildScoringPrompt(docs []generator.CandidateDoc, intent *models.IntentContext) (system string, user string) {
	system = `You review generated developer documentation for correctness and completeness. Return ONLY a JSON object:
- "confidenceScore": integer 0-100 estimating correctness/completeness
- "canAutoApprove": boolean, true only if the documents are safe to publish without human review
- "questions": array of clarification questions a human should answer, each with:
  - "document": the document path the question concerns
  - "type": one of "ambiguity", "missing_example", "unclear_term", "verification", "edge_case"
  - "category": short topic label
  - "priority": one of "low", "medium", "high", "critical"
  - "text": the question
  - "lineStart"/"lineEnd": optional line range in the document (0 if not applicable)

Rules:
- Raise a critical question for anything that could mislead a reader
- Return valid JSON only, no markdown fencing or explanation`

	var sb strings.Builder
	if intent != nil {
		fmt.Fprintf(&sb, "Stated purpose: %s\nAudience: %s\n\n", intent.BusinessPurpose, intent.TargetAudience)
	}
	for _, d := range docs {
		fmt.Fprintf(&sb, "=== %s (%s) ===\n%s\n\n", d.Path, d.Title, d.Content)
	}
	return system, sb.String()
}
