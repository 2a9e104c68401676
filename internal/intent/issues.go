package intent

import (
	"regexp"
	"strconv"
)

// IssueExtractor finds linked issue numbers in PR text. The regex
// implementation is a best-effort heuristic; a structured issue-tracker
// integration can replace it without touching the pipeline.
type IssueExtractor interface {
	Extract(title, body string) []int
}

var (
	// closes #12 / fixes: #12 / resolved #12
	closingRefPattern = regexp.MustCompile(`(?i)\b(?:close[sd]?|fix(?:e[sd])?|resolve[sd]?)\s*:?\s+#(\d+)`)
	// bare #12 references
	bareRefPattern = regexp.MustCompile(`#(\d+)\b`)
)

// RegexIssueExtractor implements IssueExtractor over close/fix/resolve
// keywords and bare #N references.
type RegexIssueExtractor struct{}

// NewRegexIssueExtractor returns a new RegexIssueExtractor.
func NewRegexIssueExtractor() *RegexIssueExtractor {
	return &RegexIssueExtractor{}
}

// Extract returns the unique issue numbers referenced by the title and body,
// in first-seen order.
func (e *RegexIssueExtractor) Extract(title, body string) []int {
	text := title + "\n" + body

	seen := make(map[int]bool)
	var issues []int
	add := func(matches [][]string) {
		for _, m := range matches {
			n, err := strconv.Atoi(m[1])
			if err != nil || n <= 0 || seen[n] {
				continue
			}
			seen[n] = true
			issues = append(issues, n)
		}
	}

	add(closingRefPattern.FindAllStringSubmatch(text, -1))
	add(bareRefPattern.FindAllStringSubmatch(text, -1))
	return issues
}
