package qa

import (
	"context"
	"fmt"
	"strings"

	"github.com/josedab/docsynth-sub010/internal/llm"
	"github.com/josedab/docsynth-sub010/internal/models"
	"github.com/josedab/docsynth-sub010/internal/store"
)

// Refiner rewrites a stored document incorporating answered QA questions.
type Refiner struct {
	store store.Store
	llm   llm.Client
}

// NewRefiner creates a Refiner.
func NewRefiner(s store.Store, client llm.Client) *Refiner {
	return &Refiner{store: s, llm: client}
}

// refinedDoc is the strict response schema expected from the rewriter.
type refinedDoc struct {
	Content string `json:"content"`
}

// RefineDocument rewrites one document with the answered Q&A folded in. The
// stored content is only replaced after a successful rewrite; a failure
// leaves the document untouched.
func (r *Refiner) RefineDocument(ctx context.Context, repositoryID, docPath string, answered []*models.QAQuestion) error {
	doc, err := r.store.GetDocumentByPath(ctx, repositoryID, docPath)
	if err != nil {
		return err
	}

	system, prompt := buildRefinePrompt(doc, answered)
	resp, err := r.llm.Generate(ctx, llm.Request{System: system, Prompt: prompt, MaxTokens: 8192})
	if err != nil {
		return fmt.Errorf("refine %s: %w", docPath, err)
	}
	if resp.Provider == llm.ProviderFallback {
		return fmt.Errorf("refine %s: provider unavailable", docPath)
	}

	var refined refinedDoc
	if err := llm.ParseJSON(resp.Content, &refined); err != nil {
		return fmt.Errorf("refine %s: %w", docPath, err)
	}
	if strings.TrimSpace(refined.Content) == "" {
		return fmt.Errorf("refine %s: empty rewritten content", docPath)
	}

	doc.Content = refined.Content
	if err := r.store.UpdateDocument(ctx, doc); err != nil {
		return fmt.Errorf("refine %s: %w", docPath, err)
	}
	return nil
}

// buildRefinePrompt constructs the system and user prompts for refinement.
func buildRefinePrompt(doc *models.Document, answered []*models.QAQuestion) (system string, user string) {
	system = `You revise developer documentation by incorporating reviewer answers. Return ONLY a JSON object with one field:
- "content": the complete rewritten markdown document

Rules:
- Apply every answer below; do not drop sections that were not questioned
- Keep the document's heading structure unless an answer demands otherwise
- Return valid JSON only, no markdown fencing or explanation`

	var sb strings.Builder
	fmt.Fprintf(&sb, "Document %s:\n\n%s\n\nReviewer answers:\n", doc.Path, doc.Content)
	for _, q := range answered {
		fmt.Fprintf(&sb, "- Q (%s/%s): %s\n  A: %s\n", q.Type, q.Priority, q.Text, q.Answer)
	}
	return system, sb.String()
}
