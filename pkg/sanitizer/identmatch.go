package sanitizer

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	phoneticThreshold = 0.70
	fuzzyThreshold    = 0.85
)

// correctIdentifier attempts to resolve an unqualified identifier that does
// not exactly match any known table name to the single table name it most
// likely refers to, using Double Metaphone phonetic overlap followed by
// Jaro-Winkler ranking — the same two-stage algorithm this codebase's
// transcript phonetic matcher uses for entity correction.
//
// Returns the identifier unchanged with matched=false when no candidate
// clears the relevant threshold, which callers must treat as "ambiguous,
// leave unchanged" rather than a corrected result.
func correctIdentifier(identifier string, knownTables []string) (corrected string, matched bool) {
	word := strings.ToLower(strings.TrimSpace(identifier))
	if word == "" || len(knownTables) == 0 {
		return identifier, false
	}

	inputCodes := doubleMetaphoneCodes(word)

	var best string
	var bestScore float64
	var bestPhonetic bool

	for _, table := range knownTables {
		candidate := strings.ToLower(strings.TrimSpace(bareTableName(table)))
		if candidate == "" {
			continue
		}
		phoneticMatch := codesOverlap(inputCodes, doubleMetaphoneCodes(candidate))
		score := matchr.JaroWinkler(word, candidate, false)

		if phoneticMatch {
			if score >= phoneticThreshold && (!bestPhonetic || score > bestScore) {
				best, bestScore, bestPhonetic = table, score, true
			}
		} else if !bestPhonetic && score >= fuzzyThreshold && score > bestScore {
			best, bestScore = table, score
		}
	}

	if best == "" {
		return identifier, false
	}
	return best, true
}

// bareTableName strips a "{namespace}." prefix so phonetic comparison is
// against the table's own name, not its qualified identifier.
func bareTableName(tableID string) string {
	if i := strings.LastIndex(tableID, "."); i >= 0 {
		return tableID[i+1:]
	}
	return tableID
}

func doubleMetaphoneCodes(word string) map[string]struct{} {
	codes := make(map[string]struct{}, 2)
	p, s := matchr.DoubleMetaphone(word)
	if p != "" {
		codes[p] = struct{}{}
	}
	if s != "" {
		codes[s] = struct{}{}
	}
	return codes
}

func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}
