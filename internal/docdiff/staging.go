package docdiff

import (
	"fmt"
	"strings"
)

// Decision is a human verdict on one diff section.
type Decision string

const (
	DecisionAccepted Decision = "accepted"
	DecisionRejected Decision = "rejected"
	DecisionEdited   Decision = "edited"
)

// SectionDecision pairs a verdict with replacement content for edits.
type SectionDecision struct {
	Decision Decision
	Content  string // only read when Decision is edited
}

// Staging collects per-section decisions against a diff and composes the
// final document. Undecided sections default to accepted.
type Staging struct {
	diff      *Diff
	decisions map[int]SectionDecision
}

// NewStaging creates a staging area over a computed diff.
func NewStaging(diff *Diff) *Staging {
	return &Staging{diff: diff, decisions: map[int]SectionDecision{}}
}

// Diff returns the underlying diff.
func (s *Staging) Diff() *Diff {
	return s.diff
}

// Decide records a verdict for the section at index. Edited decisions must
// carry non-empty content.
func (s *Staging) Decide(index int, d SectionDecision) error {
	if index < 0 || index >= len(s.diff.Sections) {
		return fmt.Errorf("section index %d out of range [0,%d)", index, len(s.diff.Sections))
	}
	switch d.Decision {
	case DecisionAccepted, DecisionRejected:
	case DecisionEdited:
		if strings.TrimSpace(d.Content) == "" {
			return fmt.Errorf("edited decision for section %d has no content", index)
		}
	default:
		return fmt.Errorf("unknown decision %q", d.Decision)
	}
	s.decisions[index] = d
	return nil
}

// DecisionFor returns the recorded verdict for a section, defaulting to
// accepted.
func (s *Staging) DecisionFor(index int) SectionDecision {
	if d, ok := s.decisions[index]; ok {
		return d
	}
	return SectionDecision{Decision: DecisionAccepted}
}

// Preview composes the document the current decisions would produce.
// Accepting everything reproduces the proposed content; rejecting everything
// restores the original content for each surviving section.
func (s *Staging) Preview() string {
	var sb strings.Builder
	for i, sec := range s.diff.Sections {
		d := s.DecisionFor(i)
		sb.WriteString(resolve(sec, d))
	}
	return sb.String()
}

// resolve picks the text one section contributes to the preview.
func resolve(sec Section, d SectionDecision) string {
	if d.Decision == DecisionEdited {
		return d.Content
	}
	switch sec.Kind {
	case SectionAddition:
		if d.Decision == DecisionRejected {
			return ""
		}
		return sec.ProposedContent
	case SectionDeletion:
		if d.Decision == DecisionRejected {
			return sec.OriginalContent
		}
		return ""
	case SectionModification:
		if d.Decision == DecisionRejected {
			return sec.OriginalContent
		}
		return sec.ProposedContent
	default:
		return sec.ProposedContent
	}
}
