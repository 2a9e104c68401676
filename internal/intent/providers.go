package intent

import (
	"context"
	"fmt"

	"github.com/josedab/docsynth-sub010/internal/models"
)

// ContextProvider supplies additional context for a PR from an external
// system (issue tracker, ticketing, chat). Providers are best-effort: a
// failing provider contributes nothing rather than failing inference.
type ContextProvider interface {
	Name() string
	GetContextForPR(ctx context.Context, title, body string) ([]models.ContextSource, error)
}

// IssueRefProvider turns regex-extracted issue references into context
// sources. It carries no issue content, only the linkage; a tracker-backed
// provider can replace it to fetch full issue bodies.
type IssueRefProvider struct {
	extractor IssueExtractor
}

// NewIssueRefProvider creates a provider over the given extractor.
func NewIssueRefProvider(extractor IssueExtractor) *IssueRefProvider {
	return &IssueRefProvider{extractor: extractor}
}

func (p *IssueRefProvider) Name() string { return "linked-issues" }

func (p *IssueRefProvider) GetContextForPR(_ context.Context, title, body string) ([]models.ContextSource, error) {
	refs := p.extractor.Extract(title, body)
	sources := make([]models.ContextSource, 0, len(refs))
	for _, n := range refs {
		sources = append(sources, models.ContextSource{
			Type:           models.SourceLinkedIssue,
			Identifier:     fmt.Sprintf("#%d", n),
			Content:        "referenced by pull request",
			RelevanceScore: 0.6,
		})
	}
	return sources, nil
}
