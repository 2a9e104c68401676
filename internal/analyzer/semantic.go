package analyzer

import (
	"regexp"
	"sort"
	"strings"

	"github.com/josedab/docsynth-sub010/internal/models"
)

// SemanticExtractor derives structured semantic change descriptors for one
// changed file. Implementations are best-effort heuristics behind this
// interface so a structured source (language server, AST diff) can replace
// them without touching the pipeline.
type SemanticExtractor interface {
	Extract(f models.FileChange) []models.SemanticChange
}

// PatchExtractor scans a unified diff for exported symbol declarations, HTTP
// route registrations, and CLI flag registrations.
type PatchExtractor struct{}

// NewPatchExtractor returns a PatchExtractor.
func NewPatchExtractor() *PatchExtractor {
	return &PatchExtractor{}
}

var (
	exportedDeclRe = regexp.MustCompile(`^(?:func(?:\s*\([^)]*\))?|type|var|const)\s+([A-Z][A-Za-z0-9_]*)`)
	endpointRe     = regexp.MustCompile(`\b(?:GET|POST|PUT|PATCH|DELETE)[(," ]*\s*(/[^"\s,)]+)`)
	flagRe         = regexp.MustCompile(`Flags\(\)\.[A-Za-z]+\(\s*"([^"]+)"`)
)

// Extract walks the added and removed lines of the diff. A symbol appearing
// on both sides is a modification; one-sided symbols are additions or
// removals. Endpoints and flags only count when added.
func (PatchExtractor) Extract(f models.FileChange) []models.SemanticChange {
	if f.Patch == "" {
		return nil
	}

	added := map[string]bool{}
	removed := map[string]bool{}
	endpoints := map[string]bool{}
	flags := map[string]bool{}

	for _, line := range strings.Split(f.Patch, "\n") {
		if len(line) < 2 || strings.HasPrefix(line, "+++") || strings.HasPrefix(line, "---") {
			continue
		}
		marker := line[0]
		if marker != '+' && marker != '-' {
			continue
		}
		body := strings.TrimSpace(line[1:])

		if m := exportedDeclRe.FindStringSubmatch(body); m != nil {
			if marker == '+' {
				added[m[1]] = true
			} else {
				removed[m[1]] = true
			}
		}
		if marker != '+' {
			continue
		}
		if m := endpointRe.FindStringSubmatch(body); m != nil {
			endpoints[m[1]] = true
		}
		if m := flagRe.FindStringSubmatch(body); m != nil {
			flags[m[1]] = true
		}
	}

	var out []models.SemanticChange
	for _, sym := range sortedKeys(added) {
		kind := models.SemanticNewExport
		if removed[sym] {
			kind = models.SemanticModifiedExport
		}
		out = append(out, models.SemanticChange{Kind: kind, Symbol: sym})
	}
	for _, sym := range sortedKeys(removed) {
		if added[sym] {
			continue
		}
		out = append(out, models.SemanticChange{Kind: models.SemanticRemovedExport, Symbol: sym})
	}
	for _, ep := range sortedKeys(endpoints) {
		out = append(out, models.SemanticChange{Kind: models.SemanticNewEndpoint, Symbol: ep})
	}
	for _, name := range sortedKeys(flags) {
		out = append(out, models.SemanticChange{Kind: models.SemanticCLIChange, Symbol: name, Detail: "flag"})
	}
	return out
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
