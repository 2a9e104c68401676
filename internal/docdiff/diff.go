// Package docdiff computes section-level diffs between a stored document and
// a proposed replacement, and composes final documents from per-section
// staging decisions. Everything here is pure and safe to recompute.
package docdiff

import (
	"regexp"
	"strings"
)

// SectionKind classifies one section of a diff.
type SectionKind string

const (
	SectionAddition     SectionKind = "addition"
	SectionDeletion     SectionKind = "deletion"
	SectionModification SectionKind = "modification"
	SectionUnchanged    SectionKind = "unchanged"
)

// Heuristic confidence defaults per kind, pending human override.
const (
	confidenceAddition     = 0.85
	confidenceModification = 0.80
	confidenceDeletion     = 0.70
	confidenceUnchanged    = 1.0
)

// Section is one heading-delimited comparison unit.
type Section struct {
	Title           string
	Kind            SectionKind
	OriginalContent string // raw text in the stored document ("" for additions)
	ProposedContent string // raw text in the proposed document ("" for deletions)
	Confidence      float64
}

// Diff is the section-level comparison of stored vs proposed content.
type Diff struct {
	Sections          []Section
	OverallConfidence float64
}

// headingPattern matches markdown headings level 1-3, the section boundary.
var headingPattern = regexp.MustCompile(`^(#{1,3})\s+(.*)$`)

// rawSection is a parsed slice of a document.
type rawSection struct {
	title   string
	content string
}

// parseSections splits a document into heading-delimited sections. Content
// before the first heading becomes an untitled leading section. Raw text is
// preserved byte-for-byte so concatenating all sections reproduces the
// document.
func parseSections(doc string) []rawSection {
	if doc == "" {
		return nil
	}

	lines := strings.SplitAfter(doc, "\n")
	var sections []rawSection
	var current *rawSection

	flush := func() {
		if current != nil {
			sections = append(sections, *current)
			current = nil
		}
	}

	for _, line := range lines {
		if m := headingPattern.FindStringSubmatch(strings.TrimRight(line, "\n")); m != nil {
			flush()
			current = &rawSection{title: strings.TrimSpace(m[2]), content: line}
			continue
		}
		if current == nil {
			current = &rawSection{title: "", content: ""}
		}
		current.content += line
	}
	flush()
	return sections
}

// Compute diffs the stored document against the proposed replacement.
// Sections appear in proposed order; deletions (titles only present in the
// stored document) follow in stored order.
func Compute(stored, proposed string) *Diff {
	storedSections := parseSections(stored)
	proposedSections := parseSections(proposed)

	// Index stored sections by title; duplicates match first-unclaimed.
	type indexed struct {
		section rawSection
		claimed bool
	}
	storedIdx := make([]*indexed, len(storedSections))
	byTitle := map[string][]*indexed{}
	for i, s := range storedSections {
		entry := &indexed{section: s}
		storedIdx[i] = entry
		byTitle[s.title] = append(byTitle[s.title], entry)
	}

	claim := func(title string) *indexed {
		for _, entry := range byTitle[title] {
			if !entry.claimed {
				entry.claimed = true
				return entry
			}
		}
		return nil
	}

	d := &Diff{}
	for _, p := range proposedSections {
		match := claim(p.title)
		if match == nil {
			d.Sections = append(d.Sections, Section{
				Title:           p.title,
				Kind:            SectionAddition,
				ProposedContent: p.content,
				Confidence:      confidenceAddition,
			})
			continue
		}
		kind := SectionModification
		confidence := confidenceModification
		if strings.TrimSpace(match.section.content) == strings.TrimSpace(p.content) {
			kind = SectionUnchanged
			confidence = confidenceUnchanged
		}
		d.Sections = append(d.Sections, Section{
			Title:           p.title,
			Kind:            kind,
			OriginalContent: match.section.content,
			ProposedContent: p.content,
			Confidence:      confidence,
		})
	}

	for _, entry := range storedIdx {
		if entry.claimed {
			continue
		}
		d.Sections = append(d.Sections, Section{
			Title:           entry.section.title,
			Kind:            SectionDeletion,
			OriginalContent: entry.section.content,
			Confidence:      confidenceDeletion,
		})
	}

	if len(d.Sections) > 0 {
		total := 0.0
		for _, s := range d.Sections {
			total += s.Confidence
		}
		d.OverallConfidence = total / float64(len(d.Sections))
	} else {
		d.OverallConfidence = confidenceUnchanged
	}
	return d
}
