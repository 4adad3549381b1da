// Package pii detects and redacts personally identifiable information in
// returned snippets. It is a post-filter over search output, never part of
// ranking. Detection is regex-based with patterns held as data so rules
// can be swapped without touching control flow.
//
// Known gaps, documented rather than fixed: non-ASCII email addresses and
// bare currency values are not detected.
package pii

import "regexp"

// Match is one detected PII span.
type Match struct {
	Kind  string
	Value string
	Start int
	End   int
}

// Pattern pairs a PII kind with its detection regex and the replacement
// written over matches during redaction.
type Pattern struct {
	Kind        string
	Regex       *regexp.Regexp
	Replacement string
}

// DefaultPatterns are the built-in detection rules.
var DefaultPatterns = []Pattern{
	{
		Kind:        "email",
		Regex:       regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`),
		Replacement: "[EMAIL]",
	},
	{
		Kind:        "phone",
		Regex:       regexp.MustCompile(`\+?\d{1,3}[\s.\-]?\(?\d{2,4}\)?[\s.\-]?\d{3,4}[\s.\-]?\d{3,4}`),
		Replacement: "[PHONE]",
	},
	{
		Kind:        "ssn",
		Regex:       regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
		Replacement: "[SSN]",
	},
	{
		Kind:        "credit_card",
		Regex:       regexp.MustCompile(`\b(?:\d[ \-]?){13,16}\b`),
		Replacement: "[CARD]",
	},
	{
		Kind:        "ip_address",
		Regex:       regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`),
		Replacement: "[IP]",
	},
}

// Detector runs a pattern set over text.
type Detector struct {
	patterns []Pattern
}

// NewDetector builds a detector; nil patterns select DefaultPatterns.
func NewDetector(patterns []Pattern) *Detector {
	if patterns == nil {
		patterns = DefaultPatterns
	}
	return &Detector{patterns: patterns}
}

// Detect returns all PII spans found in text, in pattern order.
func (d *Detector) Detect(text string) []Match {
	var matches []Match
	for _, p := range d.patterns {
		for _, loc := range p.Regex.FindAllStringIndex(text, -1) {
			matches = append(matches, Match{
				Kind:  p.Kind,
				Value: text[loc[0]:loc[1]],
				Start: loc[0],
				End:   loc[1],
			})
		}
	}
	return matches
}

// Redact replaces every detected span with its pattern's placeholder and
// reports whether anything was replaced.
func (d *Detector) Redact(text string) (string, bool) {
	redacted := false
	for _, p := range d.patterns {
		if p.Regex.MatchString(text) {
			text = p.Regex.ReplaceAllString(text, p.Replacement)
			redacted = true
		}
	}
	return text, redacted
}
