// Package sanitizer implements the QuerySanitizer (C10): validates a
// generated query's safety, strips model formatting artifacts, and enforces
// schema-qualified identifiers before a query is allowed to reach
// EngineDriver.
package sanitizer

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/gizmosoft/dbvybe/pkg/types"
)

// Blocked describes why a generated query was rejected.
type Blocked struct {
	Text   string
	Reason string
}

// dangerousTokens is the fixed DANGEROUS set from the specification.
// Document-engine write operators ($where, $eval, and any operator outside
// the allowed find/aggregate/count/distinct set) are rejected separately by
// the document-engine JSON-shape check.
var dangerousTokens = []string{
	"UPDATE", "DELETE", "DROP", "ALTER", "CREATE", "INSERT", "TRUNCATE",
	"REPLACE", "GRANT", "REVOKE", "FLUSH", "RESET", "SHUTDOWN", "LOAD DATA",
	"INTO OUTFILE", "LOAD_FILE", "CALL", "EXECUTE", "EXEC",
}

var allowedRelationalLeadTokens = map[string]bool{
	"SELECT": true, "SHOW": true, "DESCRIBE": true, "EXPLAIN": true, "WITH": true,
}

var allowedDocumentOperators = map[string]bool{
	"find": true, "aggregate": true, "count": true, "distinct": true,
}

var (
	fencePattern       = regexp.MustCompile("(?s)^```[a-zA-Z0-9_+-]*\\n?(.*?)\\n?```$")
	labelPrefixPattern = regexp.MustCompile(`(?i)^\s*(\*\*)?(query|explanation)(\*\*)?\s*:\s*`)
	boldMarkerPattern  = regexp.MustCompile(`\*\*`)
	sqlCommentPattern  = regexp.MustCompile(`(--|/\*)`)
	identifierRef      = regexp.MustCompile(`(?i)\b(FROM|JOIN|UPDATE|INTO)\s+("[^"]+"|` + "`[^`]+`" + `|'[^']+'|[A-Za-z_][A-Za-z0-9_.]*)`)
)

var explanatoryPrefixes = []string{"i'm", "i am", "i need", "could you", "sorry", "i cannot", "i can't"}

// Sanitize implements the QuerySanitizer pipeline. On success it returns the
// rewritten query text, which is the only query text the caller may pass to
// EngineDriver. On rejection it returns ("", Blocked). A nil schema skips
// identifier qualification and leaves relational text as validated.
func Sanitize(gq types.GeneratedQuery, schema *types.Schema) (sanitized string, blocked *Blocked) {
	text := strip(gq.Text)

	if text == "" {
		return "", &Blocked{Text: gq.Text, Reason: "empty generated query"}
	}
	if hasTrailingStatement(text) {
		return "", &Blocked{Text: text, Reason: "multiple statements are not allowed"}
	}

	if gq.Engine.IsRelational() {
		// Dangerous-keyword detection runs before the prose/lead-token
		// check: a statement like "DROP TABLE ..." has a lead token that
		// also fails the allowed-keyword check, but the DANGEROUS-set match
		// is the more specific and more useful rejection reason.
		if blocked := checkDangerousTokens(text); blocked != nil {
			return "", blocked
		}
		if looksExplanatory(text, gq.Engine) {
			return "", &Blocked{Text: text, Reason: "response looks like prose, not a query"}
		}
		if blocked := checkRelational(text); blocked != nil {
			return "", blocked
		}
		return enforceSchemaPrefixes(text, schema), nil
	}

	if looksExplanatory(text, gq.Engine) {
		return "", &Blocked{Text: text, Reason: "response looks like prose, not a query"}
	}
	if blocked := checkDocument(text); blocked != nil {
		return "", blocked
	}
	return text, nil
}

// strip removes surrounding fences, bold markers, and leading QUERY/EXPLANATION
// labels.
func strip(text string) string {
	text = strings.TrimSpace(text)
	if m := fencePattern.FindStringSubmatch(text); m != nil {
		text = strings.TrimSpace(m[1])
	}
	text = labelPrefixPattern.ReplaceAllString(text, "")
	text = boldMarkerPattern.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}

// hasTrailingStatement reports a ';' followed by non-whitespace, indicating
// more than one statement.
func hasTrailingStatement(text string) bool {
	i := strings.IndexByte(text, ';')
	if i < 0 {
		return false
	}
	return strings.TrimSpace(text[i+1:]) != ""
}

func looksExplanatory(text string, engine types.EngineKind) bool {
	lower := strings.ToLower(text)
	for _, p := range explanatoryPrefixes {
		if strings.HasPrefix(lower, p) {
			return true
		}
	}
	if engine.IsRelational() {
		firstWord := strings.ToUpper(firstToken(text))
		return !allowedRelationalLeadTokens[firstWord]
	}
	return false
}

func firstToken(text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return ""
	}
	return strings.Trim(fields[0], "(")
}

// checkDangerousTokens scans text for any token in the DANGEROUS set,
// independent of engine-specific structural validity — this must run before
// any "does this look like a query" heuristic so that an unambiguously
// dangerous statement is rejected with the dangerous-operation reason rather
// than a generic "looks like prose" one.
func checkDangerousTokens(text string) *Blocked {
	upper := strings.ToUpper(text)
	for _, tok := range dangerousTokens {
		if strings.Contains(upper, tok) {
			return &Blocked{Text: text, Reason: "dangerous operation: " + tok}
		}
	}
	return nil
}

func checkRelational(text string) *Blocked {
	firstWord := strings.ToUpper(firstToken(text))
	if !allowedRelationalLeadTokens[firstWord] {
		return &Blocked{Text: text, Reason: "statement does not begin with an allowed keyword"}
	}
	if sqlCommentPattern.MatchString(text) {
		return &Blocked{Text: text, Reason: "SQL comment markers are not allowed"}
	}
	return nil
}

func checkDocument(text string) *Blocked {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text), &doc); err != nil {
		return &Blocked{Text: text, Reason: "not valid JSON"}
	}
	var op string
	for k := range doc {
		if op != "" {
			return &Blocked{Text: text, Reason: "exactly one operator is required"}
		}
		op = k
	}
	if !allowedDocumentOperators[op] {
		return &Blocked{Text: text, Reason: "unsupported document operator: " + op}
	}
	if strings.Contains(text, "$where") || strings.Contains(text, "$eval") {
		return &Blocked{Text: text, Reason: "write/eval operators are not allowed"}
	}
	return nil
}

// enforceSchemaPrefixes rewrites every unqualified identifier following
// FROM|JOIN|UPDATE|INTO to its schema-qualified form. An identifier that
// already carries a namespace, or that does not match (even after phonetic
// correction) exactly one table, is left unchanged.
func enforceSchemaPrefixes(text string, schema *types.Schema) string {
	if schema == nil {
		return text
	}

	byBareName := map[string][]string{}
	var allIDs []string
	for _, tbl := range schema.Tables {
		id := tbl.ID()
		allIDs = append(allIDs, id)
		bare := strings.ToLower(bareTableName(id))
		byBareName[bare] = append(byBareName[bare], id)
	}

	return identifierRef.ReplaceAllStringFunc(text, func(match string) string {
		groups := identifierRef.FindStringSubmatch(match)
		keyword, ident := groups[1], groups[2]

		// A quoted identifier (e.g. a reserved word like "order") still
		// names a single bare table — respecting the quoting means reading
		// through it to the identifier it quotes, not skipping
		// qualification entirely. Qualifying drops the quotes, matching the
		// unquoted "{namespace}.{name}" form every other branch produces.
		bareIdent := ident
		if quoted(ident) {
			bareIdent = ident[1 : len(ident)-1]
		} else if strings.Contains(ident, ".") {
			return match
		}

		bare := strings.ToLower(bareIdent)
		candidates := byBareName[bare]
		if len(candidates) == 1 {
			return keyword + " " + candidates[0]
		}
		if len(candidates) > 1 {
			return match // ambiguous across namespaces, leave unchanged
		}

		if corrected, ok := correctIdentifier(bareIdent, allIDs); ok {
			return keyword + " " + corrected
		}
		return match
	})
}

func quoted(ident string) bool {
	if len(ident) < 2 {
		return false
	}
	first, last := ident[0], ident[len(ident)-1]
	return (first == '"' && last == '"') || (first == '`' && last == '`') || (first == '\'' && last == '\'')
}
