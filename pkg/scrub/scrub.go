// Package scrub detects and masks sensitive text fragments before they
// reach log output. Scrub is pure and deterministic: no I/O, no state.
//
// Masking is idempotent against its own detector: running Scrub over
// already-masked output produces no further matches, because the mask
// tokens contain none of the shapes the patterns look for.
package scrub

import (
	"regexp"
	"sort"
	"strings"
)

// Match describes one detected sensitive fragment in the original text.
type Match struct {
	Type  string `json:"type"`
	Start int    `json:"start"`
	End   int    `json:"end"`
}

// Detected categories
const (
	TypeEmail      = "email"
	TypePhone      = "phone"
	TypeSSN        = "ssn"
	TypeCreditCard = "credit_card"
	TypeAPIKey     = "api_key"
	TypeIPAddress  = "ip_address"
)

type pattern struct {
	category string
	re       *regexp.Regexp
}

// Order matters: longer, more specific shapes first so that a credit card
// number is not half-claimed by the phone pattern.
var patterns = []pattern{
	{TypeCreditCard, regexp.MustCompile(`\b\d{4}[- ]\d{4}[- ]\d{4}[- ]\d{4}\b`)},
	{TypeSSN, regexp.MustCompile(`\b\d{6}-[1-4]\d{6}\b|\b\d{3}-\d{2}-\d{4}\b`)},
	{TypePhone, regexp.MustCompile(`\b01[016789][-.\s]?\d{3,4}[-.\s]?\d{4}\b|\+\d{1,3}[- ]\d{1,4}[- ]\d{3,4}[- ]\d{4}`)},
	{TypeEmail, regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)},
	{TypeAPIKey, regexp.MustCompile(`(?i)(?:\b(?:sk|pk|api|key|token)[-_][A-Za-z0-9]{16,}\b|bearer\s+[A-Za-z0-9._\-+/=]{16,})`)},
	{TypeIPAddress, regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)},
}

// Scrub masks every sensitive fragment in text and reports the matches in
// order of appearance. Overlapping candidates are resolved in favor of the
// earliest (and, at equal start, the more specific) pattern. Duplicate
// categories are reported as-is; callers deduplicate for summaries.
func Scrub(text string) (string, []Match) {
	if text == "" {
		return text, nil
	}

	var candidates []Match
	for _, p := range patterns {
		for _, loc := range p.re.FindAllStringIndex(text, -1) {
			candidates = append(candidates, Match{Type: p.category, Start: loc[0], End: loc[1]})
		}
	}
	if len(candidates) == 0 {
		return text, nil
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Start != candidates[j].Start {
			return candidates[i].Start < candidates[j].Start
		}
		return candidates[i].End > candidates[j].End
	})

	// Drop candidates overlapping an already accepted span
	matches := candidates[:0]
	lastEnd := -1
	for _, m := range candidates {
		if m.Start < lastEnd {
			continue
		}
		matches = append(matches, m)
		lastEnd = m.End
	}

	var b strings.Builder
	b.Grow(len(text))
	prev := 0
	for _, m := range matches {
		b.WriteString(text[prev:m.Start])
		b.WriteString(maskToken(m.Type))
		prev = m.End
	}
	b.WriteString(text[prev:])

	return b.String(), matches
}

// Types returns the distinct match categories, sorted.
func Types(matches []Match) []string {
	seen := make(map[string]struct{}, len(matches))
	for _, m := range matches {
		seen[m.Type] = struct{}{}
	}
	types := make([]string, 0, len(seen))
	for t := range seen {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

func maskToken(category string) string {
	return "[" + strings.ToUpper(category) + "_MASKED]"
}
