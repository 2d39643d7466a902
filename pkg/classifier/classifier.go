// Package classifier implements the QueryClassifier (C8): routes an incoming
// user message to one of three intents before the orchestrator decides how
// to handle it.
package classifier

import (
	"context"
	"regexp"
	"strings"

	"github.com/gizmosoft/dbvybe/pkg/knowledge"
)

// Intent is the classifier's three-way decision.
type Intent string

const (
	// Knowledge means the message asks about the connected database's
	// structure and can be answered from the cached Schema alone.
	Knowledge Intent = "KNOWLEDGE"
	// General means the message is ordinary conversation, unrelated to
	// running a query.
	General Intent = "GENERAL"
	// Query means the message is requesting data be retrieved, filtered,
	// or aggregated from the database.
	Query Intent = "QUERY"
)

// LLMClassifier is the narrow LLMClient surface this package depends on, so
// tests can substitute a stub without constructing a full client.
type LLMClassifier interface {
	IsQueryRequest(ctx context.Context, userQuery string) (bool, error)
}

var schemaMentionPattern = regexp.MustCompile(`(?i)\b(table|column|schema|relationship|database)\b`)

// queryKeywords is the fixed literal-pattern keyword set from the
// specification's decision order step 2.
var queryKeywords = []string{
	"select", "insert", "update", "delete", "create", "drop", "alter",
	"show", "describe", "explain", "find", "aggregate", "count", "sum",
	"avg", "group by", "order by", "where", "from", "join", "database",
	"table", "column", "record", "data", "query", "search", "filter", "sort",
}

// Classifier is the QueryClassifier component.
type Classifier struct {
	cache *knowledge.Cache
	llm   LLMClassifier
}

// New constructs a Classifier.
func New(cache *knowledge.Cache, llm LLMClassifier) *Classifier {
	return &Classifier{cache: cache, llm: llm}
}

// Classify decides the intent for userQuery against connectionID's cached
// schema. Decision order: KNOWLEDGE predicate, then the fixed keyword set,
// then (on both misses) a single LLM classification call that defaults to
// GENERAL on failure.
func (c *Classifier) Classify(ctx context.Context, userQuery, connectionID string) Intent {
	if schemaMentionPattern.MatchString(userQuery) {
		if _, ok := c.cache.Get(connectionID); ok {
			return Knowledge
		}
	}

	lower := strings.ToLower(userQuery)
	for _, kw := range queryKeywords {
		if strings.Contains(lower, kw) {
			return Query
		}
	}

	isQuery, err := c.llm.IsQueryRequest(ctx, userQuery)
	if err != nil {
		return General
	}
	if isQuery {
		return Query
	}
	return General
}
