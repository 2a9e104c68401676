package intent

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josedab/docsynth-sub010/internal/llm"
	"github.com/josedab/docsynth-sub010/internal/models"
)

// scriptedClient returns a fixed response or error.
type scriptedClient struct {
	content string
	err     error
}

func (c *scriptedClient) Generate(_ context.Context, _ llm.Request) (*llm.Result, error) {
	if c.err != nil {
		return nil, c.err
	}
	return &llm.Result{Content: c.content, Provider: llm.ProviderAnthropic}, nil
}

func testAnalysis() *models.ChangeAnalysis {
	return &models.ChangeAnalysis{
		ID:           "ca-1",
		RepositoryID: "repo-1",
		PRNumber:     12,
		Files: []models.FileChange{
			{Path: "api/server.go", ChangeType: models.ChangeTypeModified, AddedLines: 50,
				SemanticChanges: []models.SemanticChange{{Kind: models.SemanticNewEndpoint, Symbol: "POST /v1/widgets"}}},
		},
		Priority:              models.PriorityHigh,
		RequiresDocumentation: true,
	}
}

func TestInferRequiresAnalysis(t *testing.T) {
	e := NewEngine(&scriptedClient{}, nil, nil)
	_, err := e.Infer(context.Background(), Input{})
	assert.Error(t, err)
}

func TestInferParsesStructuredResponse(t *testing.T) {
	client := &scriptedClient{content: `{
		"businessPurpose": "Let customers create widgets via the API",
		"technicalApproach": "Adds a POST handler with validation",
		"alternativesConsidered": ["batch import endpoint"],
		"targetAudience": "API consumers",
		"keyConcepts": ["widgets", "idempotency"]
	}`}
	e := NewEngine(client, nil, nil)

	got, err := e.Infer(context.Background(), Input{
		Analysis: testAnalysis(),
		PRTitle:  "Add widget creation endpoint",
		PRBody:   "Closes #9",
	})
	require.NoError(t, err)
	assert.False(t, got.Fallback)
	assert.Equal(t, "Let customers create widgets via the API", got.BusinessPurpose)
	assert.Equal(t, []string{"widgets", "idempotency"}, got.KeyConcepts)
	assert.Equal(t, "ca-1", got.ChangeAnalysisID)
}

func TestInferFallsBackOnError(t *testing.T) {
	e := NewEngine(&scriptedClient{err: errors.New("api down")}, nil, nil)

	got, err := e.Infer(context.Background(), Input{
		Analysis: testAnalysis(),
		PRTitle:  "Add widget creation endpoint",
	})
	require.NoError(t, err)
	assert.True(t, got.Fallback)
	assert.Equal(t, "Add widget creation endpoint", got.BusinessPurpose)
	assert.Equal(t, "developers", got.TargetAudience)
}

func TestInferFallsBackOnGarbage(t *testing.T) {
	e := NewEngine(&scriptedClient{content: "sorry, I can't do that"}, nil, nil)

	got, err := e.Infer(context.Background(), Input{Analysis: testAnalysis()})
	require.NoError(t, err)
	assert.True(t, got.Fallback)
	assert.Equal(t, "Code change without stated purpose", got.BusinessPurpose)
}

func TestInferFallsBackWithoutProvider(t *testing.T) {
	e := NewEngine(llm.FallbackClient{}, nil, nil)

	got, err := e.Infer(context.Background(), Input{
		Analysis: testAnalysis(),
		PRTitle:  "Add widget creation endpoint",
	})
	require.NoError(t, err)
	assert.True(t, got.Fallback)
}

func TestInferGathersProviderSources(t *testing.T) {
	client := &scriptedClient{content: `{"businessPurpose":"p","technicalApproach":"t","targetAudience":"a"}`}
	providers := []ContextProvider{NewIssueRefProvider(NewRegexIssueExtractor())}
	e := NewEngine(client, providers, nil)

	got, err := e.Infer(context.Background(), Input{
		Analysis: testAnalysis(),
		PRTitle:  "Add widget creation endpoint",
		PRBody:   "Closes #9",
	})
	require.NoError(t, err)

	// PR description ranks above the linked-issue source.
	require.Len(t, got.Sources, 2)
	assert.Equal(t, models.SourcePRDescription, got.Sources[0].Type)
	assert.Equal(t, models.SourceLinkedIssue, got.Sources[1].Type)
	assert.Equal(t, "#9", got.Sources[1].Identifier)
}

func TestInferCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e := NewEngine(&scriptedClient{err: errors.New("canceled")}, nil, nil)
	_, err := e.Infer(ctx, Input{Analysis: testAnalysis()})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTruncateKeepsRuneBoundaries(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 500))

	// 200 three-byte runes; a 500-byte cut lands mid-rune and must back up.
	got := truncate(strings.Repeat("€", 200), 500)
	assert.True(t, utf8.ValidString(got))
	assert.True(t, strings.HasSuffix(got, "…"))
}
