package intent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractClosingReferences(t *testing.T) {
	e := NewRegexIssueExtractor()

	assert.Equal(t, []int{12}, e.Extract("Fix pagination", "Closes #12"))
	assert.Equal(t, []int{7}, e.Extract("", "fixes: #7"))
	assert.Equal(t, []int{33}, e.Extract("", "Resolved #33 for good"))
}

func TestExtractBareReferences(t *testing.T) {
	e := NewRegexIssueExtractor()
	assert.Equal(t, []int{101}, e.Extract("See #101 for background", ""))
}

func TestExtractDedupesAndOrders(t *testing.T) {
	e := NewRegexIssueExtractor()

	// Closing refs come first, then bare refs, each in first-seen order,
	// without duplicates.
	got := e.Extract("Fixes #5", "Related to #9 and #5. Closes #2.")
	assert.Equal(t, []int{5, 2, 9}, got)
}

func TestExtractIgnoresJunk(t *testing.T) {
	e := NewRegexIssueExtractor()
	assert.Empty(t, e.Extract("No references here", "Just prose with a # sign"))
	assert.Empty(t, e.Extract("", "issue#abc"))
}

func TestIssueRefProvider(t *testing.T) {
	p := NewIssueRefProvider(NewRegexIssueExtractor())
	assert.Equal(t, "linked-issues", p.Name())

	sources, err := p.GetContextForPR(context.Background(), "Fixes #4", "")
	assert.NoError(t, err)
	assert.Len(t, sources, 1)
	assert.Equal(t, "#4", sources[0].Identifier)
}
