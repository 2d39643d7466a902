package llmclient

import (
	"fmt"
	"strings"

	"github.com/gizmosoft/dbvybe/pkg/types"
)

const chatSystemPrompt = `You are a helpful assistant embedded in a database query tool. Answer the
user's question conversationally. Do not emit SQL, JSON queries, or any
other query language unless the user is explicitly asking to see one as an
example in a general explanation.`

const classifySystemPrompt = `You classify whether a user's message is asking to have a database query
executed on their behalf. Respond with exactly one word: "true" if the
message is requesting data retrieval, filtering, aggregation, or lookup
against a database; "false" otherwise. Do not explain your answer.`

const queryGenerationSystemPromptTemplate = `You translate a user's request into a single %s statement against the
database described below. Rules:

- Emit only statements valid for the %s engine.
- Use schema-qualified identifiers exactly as they appear in the provided
  context; never invent table or column names.
- Emit literal values directly in the statement; never use parameter
  placeholders such as $1, ?, or :name.
- Respond with the query on the first line(s), then one blank line, then a
  short plain-English explanation of what the query does.

Database: %s
Available tables:
%s
%s
%s`

// buildQueryGenerationPrompt renders the fixed query-generation system
// prompt, interpolating the assembled PromptContext.
func buildQueryGenerationPrompt(engine types.EngineKind, pc types.PromptContext) string {
	var tables strings.Builder
	for _, rt := range pc.RankedTables {
		fmt.Fprintf(&tables, "- %s: %s\n", rt.TableID, rt.Text)
	}

	var rel strings.Builder
	if len(pc.Relationships) > 0 {
		rel.WriteString("Relationships:\n")
		for _, fk := range pc.Relationships {
			fmt.Fprintf(&rel, "- %s references %s.%s\n", fk.Column, types.TableID(fk.RefNamespace, fk.RefTable), fk.RefColumn)
		}
	}

	var hints string
	if len(pc.JoinHints) > 0 {
		hints = "Join hints:\n- " + strings.Join(pc.JoinHints, "\n- ")
	}

	return fmt.Sprintf(queryGenerationSystemPromptTemplate, engine, engine, pc.DatabaseName, tables.String(), rel.String(), hints)
}
