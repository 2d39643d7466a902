package engine

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// placeholderPattern matches both Postgres-style positional placeholders
// ($1, $2, ...) and the bare "?" placeholders MySQL drivers use. The model
// is instructed to never emit these (see pkg/llmclient's query-generation
// prompt), so any occurrence reaching EngineDriver is a defensive fallback,
// not the expected path.
var placeholderPattern = regexp.MustCompile(`\$\d+|\?`)

// substitutePlaceholders replaces stray parameter placeholders in text with
// type-heuristic literal defaults, inferred from the identifier immediately
// preceding the placeholder. Returns the rewritten text and a human-readable
// note per substitution performed, suitable for appending to
// GeneratedQuery.Explanation.
func substitutePlaceholders(text string) (string, []string) {
	var notes []string
	n := 0
	out := placeholderPattern.ReplaceAllStringFunc(text, func(match string) string {
		n++
		preceding := precedingWord(text, match, n)
		literal, kind := defaultLiteralFor(preceding)
		notes = append(notes, fmt.Sprintf("note: substituted default value for placeholder %s (heuristic: %s)", match, kind))
		return literal
	})
	return out, notes
}

// precedingWord is a best-effort lookup of the identifier token immediately
// before the nth occurrence of a placeholder in text.
func precedingWord(text, match string, occurrence int) string {
	idx := -1
	count := 0
	for i := 0; i+len(match) <= len(text); i++ {
		if text[i:i+len(match)] == match {
			count++
			if count == occurrence {
				idx = i
				break
			}
		}
	}
	if idx <= 0 {
		return ""
	}
	before := strings.TrimRight(text[:idx], " \t=<>!")
	fields := strings.Fields(before)
	if len(fields) == 0 {
		return ""
	}
	return fields[len(fields)-1]
}

// defaultLiteralFor infers a defensive literal and its heuristic label from
// the identifier preceding a placeholder.
func defaultLiteralFor(identifier string) (literal, kind string) {
	lower := strings.ToLower(identifier)
	switch {
	case strings.Contains(lower, "amount"), strings.Contains(lower, "price"), strings.Contains(lower, "id"):
		return "0", "numeric"
	case strings.Contains(lower, "date"), strings.Contains(lower, "created"), strings.Contains(lower, "updated"):
		return "'" + time.Now().UTC().Format("2006-01-02") + "'", "ISO date"
	default:
		return "''", "quoted string"
	}
}
