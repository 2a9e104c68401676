// Package intent infers the "why" behind a code change by aggregating
// multi-source context and asking the LLM for a structured summary.
package intent

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/josedab/docsynth-sub010/internal/llm"
	"github.com/josedab/docsynth-sub010/internal/models"
)

// semanticBulletCap bounds the change list in the prompt; overflow is
// summarized as a "+N more" marker.
const semanticBulletCap = 10

// Input carries everything the engine needs for one inference.
type Input struct {
	Analysis *models.ChangeAnalysis
	PRTitle  string
	PRBody   string
}

// Engine aggregates context sources and asks the LLM for structured intent.
type Engine struct {
	llm       llm.Client
	providers []ContextProvider
	logger    *slog.Logger
}

// NewEngine creates an intent inference engine. Providers are optional.
func NewEngine(client llm.Client, providers []ContextProvider, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{llm: client, providers: providers, logger: logger}
}

// inferredIntent is the strict response schema expected from the LLM.
type inferredIntent struct {
	BusinessPurpose        string   `json:"businessPurpose"`
	TechnicalApproach      string   `json:"technicalApproach"`
	AlternativesConsidered []string `json:"alternativesConsidered"`
	TargetAudience         string   `json:"targetAudience"`
	KeyConcepts            []string `json:"keyConcepts"`
}

// Infer produces an IntentContext for the change. Provider and parse
// failures degrade to a deterministic minimal-context result instead of
// returning an error; the only error returned is context cancellation.
// Re-running with identical inputs is safe.
func (e *Engine) Infer(ctx context.Context, in Input) (*models.IntentContext, error) {
	if in.Analysis == nil {
		return nil, fmt.Errorf("intent inference requires a change analysis")
	}

	sources := e.gatherSources(ctx, in)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	system, prompt := buildPrompt(in, sources)
	result, err := e.llm.Generate(ctx, llm.Request{System: system, Prompt: prompt, MaxTokens: 2048})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		e.logger.Warn("intent inference degraded to fallback", "error", err)
		return e.fallback(in, sources), nil
	}
	if result.Provider == llm.ProviderFallback {
		return e.fallback(in, sources), nil
	}

	var inferred inferredIntent
	if err := llm.ParseJSON(result.Content, &inferred); err != nil {
		e.logger.Warn("intent inference response unparsable, using fallback", "error", err)
		return e.fallback(in, sources), nil
	}

	return &models.IntentContext{
		ChangeAnalysisID:       in.Analysis.ID,
		RepositoryID:           in.Analysis.RepositoryID,
		BusinessPurpose:        inferred.BusinessPurpose,
		TechnicalApproach:      inferred.TechnicalApproach,
		AlternativesConsidered: inferred.AlternativesConsidered,
		TargetAudience:         inferred.TargetAudience,
		KeyConcepts:            inferred.KeyConcepts,
		Sources:                sources,
	}, nil
}

// gatherSources collects context from the PR itself and all providers,
// ordered by descending relevance.
func (e *Engine) gatherSources(ctx context.Context, in Input) []models.ContextSource {
	sources := []models.ContextSource{}
	if in.PRBody != "" || in.PRTitle != "" {
		sources = append(sources, models.ContextSource{
			Type:           models.SourcePRDescription,
			Identifier:     fmt.Sprintf("pr-%d", in.Analysis.PRNumber),
			Content:        strings.TrimSpace(in.PRTitle + "\n\n" + in.PRBody),
			RelevanceScore: 1.0,
		})
	}

	for _, p := range e.providers {
		provided, err := p.GetContextForPR(ctx, in.PRTitle, in.PRBody)
		if err != nil {
			e.logger.Warn("context provider failed", "provider", p.Name(), "error", err)
			continue
		}
		sources = append(sources, provided...)
	}

	sort.SliceStable(sources, func(i, j int) bool {
		return sources[i].RelevanceScore > sources[j].RelevanceScore
	})
	return sources
}

// buildPrompt constructs the system and user prompts for intent inference.
func buildPrompt(in Input, sources []models.ContextSource) (system string, user string) {
	system = `You infer the intent behind a code change for a documentation system. Return ONLY a JSON object with these fields:
- "businessPurpose": why this change exists from the user's or business's perspective (1-3 sentences)
- "technicalApproach": how the change accomplishes it (1-3 sentences)
- "alternativesConsidered": array of plausible alternatives the authors likely weighed (may be empty)
- "targetAudience": who the resulting documentation should address
- "keyConcepts": array of domain terms a reader must understand

Rules:
- Ground every statement in the provided context; do not invent requirements
- Return valid JSON only, no markdown fencing or explanation`

	var sb strings.Builder
	sb.WriteString("Pull request title: ")
	sb.WriteString(in.PRTitle)
	sb.WriteString("\n")
	if in.PRBody != "" {
		sb.WriteString("\nPull request description:\n")
		sb.WriteString(in.PRBody)
		sb.WriteString("\n")
	}

	sb.WriteString("\nChanged files:\n")
	writeChangeSummary(&sb, in.Analysis.Files)

	if len(sources) > 0 {
		sb.WriteString("\nAdditional context:\n")
		for _, src := range sources {
			if src.Type == models.SourcePRDescription {
				continue
			}
			fmt.Fprintf(&sb, "- [%s] %s: %s\n", src.Type, src.Identifier, truncate(src.Content, 500))
		}
	}

	return system, sb.String()
}

// writeChangeSummary groups files by change type and lists semantic change
// bullets, capped with a "+N more" marker.
func writeChangeSummary(sb *strings.Builder, files []models.FileChange) {
	groups := map[models.ChangeType][]models.FileChange{}
	for _, f := range files {
		groups[f.ChangeType] = append(groups[f.ChangeType], f)
	}

	for _, ct := range []models.ChangeType{models.ChangeTypeAdded, models.ChangeTypeModified, models.ChangeTypeDeleted} {
		group := groups[ct]
		if len(group) == 0 {
			continue
		}
		fmt.Fprintf(sb, "%s (%d):\n", ct, len(group))
		for _, f := range group {
			fmt.Fprintf(sb, "  %s (+%d/-%d)\n", f.Path, f.AddedLines, f.RemovedLines)
		}
	}

	var bullets []string
	for _, f := range files {
		for _, sc := range f.SemanticChanges {
			bullet := string(sc.Kind)
			if sc.Symbol != "" {
				bullet += " " + sc.Symbol
			}
			if sc.Detail != "" {
				bullet += ": " + sc.Detail
			}
			bullets = append(bullets, bullet)
		}
	}
	if len(bullets) == 0 {
		return
	}

	sb.WriteString("Semantic changes:\n")
	shown := bullets
	if len(shown) > semanticBulletCap {
		shown = shown[:semanticBulletCap]
	}
	for _, b := range shown {
		fmt.Fprintf(sb, "  - %s\n", b)
	}
	if extra := len(bullets) - len(shown); extra > 0 {
		fmt.Fprintf(sb, "  - +%d more\n", extra)
	}
}

// fallback builds the deterministic minimal-context result used when the LLM
// is unavailable or returns garbage. It keeps the pipeline progressing at the
// cost of lower-quality downstream generation.
func (e *Engine) fallback(in Input, sources []models.ContextSource) *models.IntentContext {
	purpose := strings.TrimSpace(in.PRTitle)
	if purpose == "" {
		purpose = "Code change without stated purpose"
	}
	return &models.IntentContext{
		ChangeAnalysisID:  in.Analysis.ID,
		RepositoryID:      in.Analysis.RepositoryID,
		BusinessPurpose:   purpose,
		TechnicalApproach: fmt.Sprintf("Changes across %d file(s)", len(in.Analysis.Files)),
		TargetAudience:    "developers",
		Sources:           sources,
		Fallback:          true,
	}
}

// truncate cuts s to at most n bytes, backing up to a rune boundary so the
// result stays valid UTF-8.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "…"
}
