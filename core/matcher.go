package core

import "strings"

// Matcher decides whether evidence text contains a term.
// Detectors only ever ask through this interface so that substring matching
// can be swapped for token or regex matching without touching detector logic.
type Matcher interface {
	// Contains reports whether term occurs in text
	Contains(text, term string) bool
	// FirstMatch returns the first term (in slice order) that occurs in text
	FirstMatch(text string, terms []string) (string, bool)
	// AllMatches returns every term that occurs in text, in slice order
	AllMatches(text string, terms []string) []string
}

// SubstringMatcher is case-insensitive substring matching.
// Text handed to it is expected to be lower-cased already; terms are lowered on the fly.
type SubstringMatcher struct{}

// NewSubstringMatcher returns the default matcher
func NewSubstringMatcher() SubstringMatcher {
	return SubstringMatcher{}
}

// Contains reports whether term occurs in text
func (SubstringMatcher) Contains(text, term string) bool {
	if term == "" {
		return false
	}
	return strings.Contains(text, strings.ToLower(term))
}

// FirstMatch returns the first term that occurs in text
func (m SubstringMatcher) FirstMatch(text string, terms []string) (string, bool) {
	for _, term := range terms {
		if m.Contains(text, term) {
			return term, true
		}
	}
	return "", false
}

// AllMatches returns every term that occurs in text
func (m SubstringMatcher) AllMatches(text string, terms []string) []string {
	var out []string
	for _, term := range terms {
		if m.Contains(text, term) {
			out = append(out, term)
		}
	}
	return out
}
