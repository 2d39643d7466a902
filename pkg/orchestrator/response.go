package orchestrator

import (
	"github.com/gizmosoft/dbvybe/internal/dbvybeerr"
	"github.com/gizmosoft/dbvybe/pkg/types"
)

// ResponseKind tags which payload of a [Response] is populated.
type ResponseKind string

const (
	KindKnowledgeAnswer ResponseKind = "KNOWLEDGE_ANSWER"
	KindChat            ResponseKind = "CHAT"
	KindQuery           ResponseKind = "QUERY"
	KindBlocked         ResponseKind = "BLOCKED"
	KindError           ResponseKind = "ERROR"
)

// QueryPayload is the [Response] payload for [KindQuery]: the sanitized
// query that ran, its model-supplied explanation, and the normalized result.
type QueryPayload struct {
	Text        string
	Explanation string
	Result      types.QueryResult
}

// BlockedPayload is the [Response] payload for [KindBlocked]: the rejected
// text and the reason QuerySanitizer gave, so the caller can educate the
// user rather than silently failing.
type BlockedPayload struct {
	Text   string
	Reason string
}

// ErrorPayload is the [Response] payload for [KindError].
type ErrorPayload struct {
	Kind    dbvybeerr.Kind
	Message string
}

// Response is the single, always-well-formed tagged-union result of
// [Orchestrator.Handle]. Exactly one payload field is meaningful, selected
// by Kind — callers must switch on Kind before reading a payload. Never
// carries a stack trace or credential.
type Response struct {
	Kind ResponseKind

	// Text carries the answer text for [KindKnowledgeAnswer] and [KindChat].
	Text string

	Query   QueryPayload
	Blocked BlockedPayload
	Error   ErrorPayload
}

func knowledgeResponse(text string) Response {
	return Response{Kind: KindKnowledgeAnswer, Text: text}
}

func chatResponse(text string) Response {
	return Response{Kind: KindChat, Text: text}
}

func queryResponse(text, explanation string, result types.QueryResult) Response {
	return Response{Kind: KindQuery, Query: QueryPayload{Text: text, Explanation: explanation, Result: result}}
}

func blockedResponse(text, reason string) Response {
	return Response{Kind: KindBlocked, Blocked: BlockedPayload{Text: text, Reason: reason}}
}

func errorResponse(kind dbvybeerr.Kind, message string) Response {
	return Response{Kind: KindError, Error: ErrorPayload{Kind: kind, Message: message}}
}

// errorResponseFrom maps any error returned by a collaborator into an error
// Response, preferring the collaborator's own [dbvybeerr.Kind] when present
// and falling back to [dbvybeerr.Internal] otherwise.
func errorResponseFrom(err error, fallbackMessage string) Response {
	kind := dbvybeerr.KindOf(err)
	if kind == "" {
		kind = dbvybeerr.Internal
	}
	msg := fallbackMessage
	if msg == "" {
		msg = err.Error()
	}
	return errorResponse(kind, msg)
}
