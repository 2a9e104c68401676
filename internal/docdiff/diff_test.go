package docdiff

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const storedDoc = `# Widgets

Intro paragraph.

## Creating widgets

POST /v1/widgets with a JSON body.

## Deleting widgets

DELETE /v1/widgets/{id}.
`

func TestComputeSelfDiffIsUnchanged(t *testing.T) {
	d := Compute(storedDoc, storedDoc)
	require.Len(t, d.Sections, 3)
	for _, sec := range d.Sections {
		assert.Equal(t, SectionUnchanged, sec.Kind)
		assert.Equal(t, 1.0, sec.Confidence)
	}
	assert.Equal(t, 1.0, d.OverallConfidence)
}

func TestComputeEmptyDocuments(t *testing.T) {
	d := Compute("", "")
	assert.Empty(t, d.Sections)
	assert.Equal(t, 1.0, d.OverallConfidence)
}

func TestComputeClassifiesKinds(t *testing.T) {
	proposed := `# Widgets

Intro paragraph.

## Creating widgets

POST /v1/widgets with a JSON body. Returns 201.

## Listing widgets

GET /v1/widgets.
`
	d := Compute(storedDoc, proposed)
	require.Len(t, d.Sections, 4)

	// Proposed order first.
	assert.Equal(t, SectionUnchanged, d.Sections[0].Kind)
	assert.Equal(t, "Widgets", d.Sections[0].Title)

	assert.Equal(t, SectionModification, d.Sections[1].Kind)
	assert.Equal(t, 0.80, d.Sections[1].Confidence)
	assert.Contains(t, d.Sections[1].OriginalContent, "JSON body.")
	assert.Contains(t, d.Sections[1].ProposedContent, "Returns 201.")

	assert.Equal(t, SectionAddition, d.Sections[2].Kind)
	assert.Equal(t, "Listing widgets", d.Sections[2].Title)
	assert.Equal(t, 0.85, d.Sections[2].Confidence)
	assert.Empty(t, d.Sections[2].OriginalContent)

	// Deletions come last.
	assert.Equal(t, SectionDeletion, d.Sections[3].Kind)
	assert.Equal(t, "Deleting widgets", d.Sections[3].Title)
	assert.Equal(t, 0.70, d.Sections[3].Confidence)
	assert.Empty(t, d.Sections[3].ProposedContent)

	want := (1.0 + 0.80 + 0.85 + 0.70) / 4
	assert.InDelta(t, want, d.OverallConfidence, 1e-9)
}

func TestComputeUntitledLeadingSection(t *testing.T) {
	stored := "Preamble without heading.\n\n# Title\n\nBody.\n"
	d := Compute(stored, stored)
	require.Len(t, d.Sections, 2)
	assert.Equal(t, "", d.Sections[0].Title)
	assert.Equal(t, SectionUnchanged, d.Sections[0].Kind)
}

func TestComputeDuplicateTitlesMatchFirstUnclaimed(t *testing.T) {
	stored := "## Notes\n\nFirst.\n\n## Notes\n\nSecond.\n"
	proposed := "## Notes\n\nFirst.\n\n## Notes\n\nRewritten.\n"
	d := Compute(stored, proposed)
	require.Len(t, d.Sections, 2)
	assert.Equal(t, SectionUnchanged, d.Sections[0].Kind)
	assert.Equal(t, SectionModification, d.Sections[1].Kind)
	assert.Contains(t, d.Sections[1].OriginalContent, "Second.")
}

func TestComputeIgnoresDeepHeadings(t *testing.T) {
	// Level-4 headings are content, not section boundaries.
	stored := "# Title\n\n#### Detail\n\nBody.\n"
	d := Compute(stored, stored)
	require.Len(t, d.Sections, 1)
	assert.Contains(t, d.Sections[0].OriginalContent, "#### Detail")
}

func TestParseSectionsPreservesBytes(t *testing.T) {
	sections := parseSections(storedDoc)
	var rebuilt string
	for _, s := range sections {
		rebuilt += s.content
	}
	assert.Equal(t, storedDoc, rebuilt)
}

func TestStagingAcceptAllReproducesProposed(t *testing.T) {
	proposed := `# Widgets

Intro paragraph.

## Creating widgets

POST /v1/widgets with a JSON body. Returns 201.

## Listing widgets

GET /v1/widgets.
`
	st := NewStaging(Compute(storedDoc, proposed))
	assert.Equal(t, proposed, st.Preview())
}

func TestStagingRejectAllRestoresOriginal(t *testing.T) {
	proposed := `# Widgets

Rewritten intro.

## Creating widgets

Rewritten body.
`
	diff := Compute(storedDoc, proposed)
	st := NewStaging(diff)
	for i := range diff.Sections {
		require.NoError(t, st.Decide(i, SectionDecision{Decision: DecisionRejected}))
	}
	// Every stored section survives rejection: modifications revert and the
	// deletion is restored.
	assert.Equal(t, storedDoc, st.Preview())
}

func TestStagingRejectedAdditionIsSkipped(t *testing.T) {
	proposed := storedDoc + "\n## Listing widgets\n\nGET /v1/widgets.\n"
	diff := Compute(storedDoc, proposed)

	additionIdx := -1
	for i, sec := range diff.Sections {
		if sec.Kind == SectionAddition {
			additionIdx = i
		}
	}
	require.GreaterOrEqual(t, additionIdx, 0)

	st := NewStaging(diff)
	require.NoError(t, st.Decide(additionIdx, SectionDecision{Decision: DecisionRejected}))
	assert.NotContains(t, st.Preview(), "Listing widgets")
}

func TestStagingEditedContent(t *testing.T) {
	diff := Compute(storedDoc, storedDoc)
	st := NewStaging(diff)

	edited := "## Creating widgets\n\nHand-tuned body.\n\n"
	require.NoError(t, st.Decide(1, SectionDecision{Decision: DecisionEdited, Content: edited}))
	assert.Contains(t, st.Preview(), "Hand-tuned body.")
	assert.NotContains(t, st.Preview(), "JSON body.")
}

func TestStagingDecideValidation(t *testing.T) {
	st := NewStaging(Compute(storedDoc, storedDoc))

	assert.Error(t, st.Decide(-1, SectionDecision{Decision: DecisionAccepted}))
	assert.Error(t, st.Decide(99, SectionDecision{Decision: DecisionAccepted}))
	assert.Error(t, st.Decide(0, SectionDecision{Decision: DecisionEdited}))
	assert.Error(t, st.Decide(0, SectionDecision{Decision: "maybe"}))

	// Undecided sections default to accepted.
	assert.Equal(t, DecisionAccepted, st.DecisionFor(0).Decision)
}
