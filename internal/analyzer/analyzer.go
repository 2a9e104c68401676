// Package analyzer classifies the documentation impact of a code change.
// It is a pure function of the change set: no network, no LLM calls.
package analyzer

import (
	"fmt"
	"strings"

	"github.com/josedab/docsynth-sub010/internal/models"
)

// ChangeSet is the raw input from source control: one entry per changed file.
type ChangeSet struct {
	RepositoryID string
	PREventID    string
	PRNumber     int
	Files        []models.FileChange
}

// Analyzer computes a ChangeAnalysis from a ChangeSet.
type Analyzer struct {
	extractor SemanticExtractor
}

// New returns an Analyzer using the patch-based semantic extractor.
func New() *Analyzer {
	return &Analyzer{extractor: NewPatchExtractor()}
}

// NewWithExtractor returns an Analyzer with a custom semantic extractor.
func NewWithExtractor(e SemanticExtractor) *Analyzer {
	return &Analyzer{extractor: e}
}

// Analyze validates the change set and classifies its documentation impact.
// Malformed input is rejected with an error; no file is silently dropped.
func (a *Analyzer) Analyze(cs ChangeSet) (*models.ChangeAnalysis, error) {
	if cs.RepositoryID == "" {
		return nil, fmt.Errorf("change set missing repository id")
	}
	for i, f := range cs.Files {
		if f.Path == "" {
			return nil, fmt.Errorf("change set file %d missing path", i)
		}
		switch f.ChangeType {
		case models.ChangeTypeAdded, models.ChangeTypeModified, models.ChangeTypeDeleted:
		default:
			return nil, fmt.Errorf("change set file %s: invalid change type %q", f.Path, f.ChangeType)
		}
		if f.AddedLines < 0 || f.RemovedLines < 0 {
			return nil, fmt.Errorf("change set file %s: negative line counts", f.Path)
		}
	}

	// Files arriving from the host carry raw diffs but no descriptors;
	// derive them so classification sees the exported-surface changes.
	for i, f := range cs.Files {
		if len(f.SemanticChanges) == 0 {
			cs.Files[i].SemanticChanges = a.extractor.Extract(f)
		}
	}

	priority := classify(cs.Files)
	requiresDocs := priority.AtLeast(models.PriorityMedium) || anyUserFacing(cs.Files)

	return &models.ChangeAnalysis{
		RepositoryID:          cs.RepositoryID,
		PREventID:             cs.PREventID,
		PRNumber:              cs.PRNumber,
		Files:                 cs.Files,
		Priority:              priority,
		RequiresDocumentation: requiresDocs,
	}, nil
}

// classify derives a priority from semantic markers and change volume.
// Deleted public API is CRITICAL, new public API is at least HIGH, and a pure
// internal refactor stays at NONE/LOW regardless of volume.
func classify(files []models.FileChange) models.Priority {
	priority := models.PriorityNone
	raise := func(p models.Priority) {
		if p.AtLeast(priority) {
			priority = p
		}
	}

	totalLines := 0
	touchedExports := false
	for _, f := range files {
		totalLines += f.AddedLines + f.RemovedLines
		for _, sc := range f.SemanticChanges {
			switch sc.Kind {
			case models.SemanticRemovedExport:
				raise(models.PriorityCritical)
				touchedExports = true
			case models.SemanticNewExport, models.SemanticNewEndpoint:
				raise(models.PriorityHigh)
				touchedExports = true
			case models.SemanticModifiedExport, models.SemanticCLIChange, models.SemanticConfigChange:
				raise(models.PriorityMedium)
				touchedExports = true
			}
		}
	}

	// Volume only matters when exported surface moved; a large internal
	// refactor with no exported-symbol change does not demand documentation.
	if !touchedExports {
		if totalLines > 500 {
			return models.PriorityLow
		}
		return models.PriorityNone
	}

	switch {
	case totalLines > 1000:
		raise(models.PriorityHigh)
	case totalLines > 200:
		raise(models.PriorityMedium)
	}
	return priority
}

// anyUserFacing reports whether any semantic change touches user-facing
// surface: API, CLI, or route-like paths.
func anyUserFacing(files []models.FileChange) bool {
	for _, f := range files {
		for _, sc := range f.SemanticChanges {
			switch sc.Kind {
			case models.SemanticNewEndpoint, models.SemanticCLIChange,
				models.SemanticNewExport, models.SemanticRemovedExport, models.SemanticModifiedExport:
				return true
			}
		}
		// Additions and edits on api/cli/route paths are user-facing on
		// their own; deletions surface through removed-export markers.
		if userFacingPath(f.Path) && f.ChangeType != models.ChangeTypeDeleted {
			return true
		}
	}
	return false
}

// userFacingPath is a best-effort heuristic over path segments.
func userFacingPath(path string) bool {
	lower := strings.ToLower(path)
	for _, marker := range []string{"api/", "cmd/", "cli/", "routes/", "handlers/", "endpoints/"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
