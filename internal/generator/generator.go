// Package generator produces candidate document bodies from a change
// analysis and its inferred intent. Only the I/O contract matters to the
// pipeline; the LLM-backed implementation is one of several possible.
package generator

import (
	"context"
	"fmt"
	"strings"

	"github.com/josedab/docsynth-sub010/internal/llm"
	"github.com/josedab/docsynth-sub010/internal/models"
)

// CandidateDoc is one proposed document body.
type CandidateDoc struct {
	Path    string `json:"path"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// Generator is the document generation contract.
type Generator interface {
	Generate(ctx context.Context, analysis *models.ChangeAnalysis, intent *models.IntentContext) ([]CandidateDoc, error)
}

// LLMGenerator implements Generator over an LLM client.
type LLMGenerator struct {
	llm llm.Client
}

// NewLLMGenerator creates an LLM-backed generator.
func NewLLMGenerator(client llm.Client) *LLMGenerator {
	return &LLMGenerator{llm: client}
}

// Generate asks the LLM for candidate documents covering the change.
func (g *LLMGenerator) Generate(ctx context.Context, analysis *models.ChangeAnalysis, intent *models.IntentContext) ([]CandidateDoc, error) {
	system, prompt := buildPrompt(analysis, intent)

	result, err := g.llm.Generate(ctx, llm.Request{System: system, Prompt: prompt, MaxTokens: 8192})
	if err != nil {
		return nil, fmt.Errorf("generate documents: %w", err)
	}
	if result.Provider == llm.ProviderFallback {
		return fallbackDocs(analysis), nil
	}

	var docs []CandidateDoc
	if err := llm.ParseJSON(result.Content, &docs); err != nil {
		return nil, fmt.Errorf("generate documents: %w", err)
	}
	for i, d := range docs {
		if d.Path == "" || d.Content == "" {
			return nil, fmt.Errorf("generate documents: candidate %d missing path or content", i)
		}
	}
	return docs, nil
}

// fallbackDocs produces a deterministic change-notes stub when no provider
// is available. It always fails the QA confidence bar, so a human reviews it.
func fallbackDocs(analysis *models.ChangeAnalysis) []CandidateDoc {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Changes in pull request #%d\n\n", analysis.PRNumber)
	fmt.Fprintf(&sb, "## Changed files\n\n")
	for _, f := range analysis.Files {
		fmt.Fprintf(&sb, "- `%s` (%s, +%d/-%d)\n", f.Path, f.ChangeType, f.AddedLines, f.RemovedLines)
	}
	return []CandidateDoc{{
		Path:    fmt.Sprintf("docs/changes/pr-%d.md", analysis.PRNumber),
		Title:   fmt.Sprintf("Changes in pull request #%d", analysis.PRNumber),
		Content: sb.String(),
	}}
}

// buildPrompt constructs the system and user prompts for document generation.
func buildPrompt(analysis *models.ChangeAnalysis, intent *models.IntentContext) (system string, user string) {
	system = `You write developer documentation for a code change. Return ONLY a JSON array of objects with these fields:
- "path": documentation file path, e.g. "docs/api/auth.md"
- "title": document title
- "content": full markdown body, sectioned with # / ## / ### headings

Rules:
- One document per coherent topic; prefer fewer, fuller documents
- Every claim must follow from the supplied change summary and intent
- Return valid JSON only, no markdown fencing or explanation`

	var sb strings.Builder
	fmt.Fprintf(&sb, "Change priority: %s\n\nChanged files:\n", analysis.Priority)
	for _, f := range analysis.Files {
		fmt.Fprintf(&sb, "- %s (%s, +%d/-%d)\n", f.Path, f.ChangeType, f.AddedLines, f.RemovedLines)
		for _, sc := range f.SemanticChanges {
			fmt.Fprintf(&sb, "  - %s %s %s\n", sc.Kind, sc.Symbol, sc.Detail)
		}
	}

	if intent != nil {
		fmt.Fprintf(&sb, "\nBusiness purpose: %s\n", intent.BusinessPurpose)
		fmt.Fprintf(&sb, "Technical approach: %s\n", intent.TechnicalApproach)
		fmt.Fprintf(&sb, "Target audience: %s\n", intent.TargetAudience)
		if len(intent.KeyConcepts) > 0 {
			fmt.Fprintf(&sb, "Key concepts: %s\n", strings.Join(intent.KeyConcepts, ", "))
		}
	}

	return system, sb.String()
}
