// Package llmclient implements the LLMClient (C9): a stateless wrapper over
// an external chat model, adding fixed per-role system prompts and a bounded
// per-user conversation memory window.
package llmclient

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/gizmosoft/dbvybe/internal/dbvybeerr"
	"github.com/gizmosoft/dbvybe/pkg/provider/llm"
	"github.com/gizmosoft/dbvybe/pkg/types"
)

// Client is the LLMClient component.
type Client struct {
	provider    llm.Provider
	temperature float64
	maxTokens   int
	timeout     time.Duration
	mem         *memory
}

// New constructs a Client. timeout bounds every call made through it;
// callers should pass a context with remaining budget no larger than this.
func New(provider llm.Provider, temperature float64, maxTokens int, timeout time.Duration) *Client {
	return &Client{
		provider:    provider,
		temperature: temperature,
		maxTokens:   maxTokens,
		timeout:     timeout,
		mem:         newMemory(),
	}
}

func (c *Client) complete(ctx context.Context, systemPrompt string, history []types.Message, userText string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	msgs := make([]llm.Message, 0, len(history)+1)
	for _, m := range history {
		msgs = append(msgs, llm.Message{Role: m.Role, Content: m.Content})
	}
	msgs = append(msgs, llm.Message{Role: "user", Content: userText})

	resp, err := c.provider.Complete(ctx, llm.CompletionRequest{
		Messages:     msgs,
		Temperature:  c.temperature,
		MaxTokens:    c.maxTokens,
		SystemPrompt: systemPrompt,
	})
	if err != nil {
		return "", dbvybeerr.Wrap(dbvybeerr.LLMError, "completion request failed", err)
	}
	if resp == nil {
		return "", dbvybeerr.New(dbvybeerr.LLMError, "completion returned no response")
	}
	return resp.Content, nil
}

// Chat answers a general-purpose conversational message, recording the turn
// in memoryKey's bounded window.
func (c *Client) Chat(ctx context.Context, userQuery, memoryKey string) (string, error) {
	history := c.mem.history(memoryKey)
	reply, err := c.complete(ctx, chatSystemPrompt, history, userQuery)
	if err != nil {
		return "", err
	}
	c.mem.append(memoryKey, types.Message{Role: "user", Content: userQuery}, types.Message{Role: "assistant", Content: reply})
	return reply, nil
}

// IsQueryRequest asks the model a single true/false classification question.
// Callers should treat any error as a prompt to default to GENERAL, per the
// classifier's documented failure behavior — this method does not apply that
// default itself, since the caller owns the classification decision.
func (c *Client) IsQueryRequest(ctx context.Context, userQuery string) (bool, error) {
	reply, err := c.complete(ctx, classifySystemPrompt, nil, userQuery)
	if err != nil {
		return false, err
	}
	return strings.Contains(strings.ToLower(reply), "true"), nil
}

// GenerateQuery produces a candidate query for the target engine from the
// assembled prompt context, recording the turn in memoryKey's window.
func (c *Client) GenerateQuery(ctx context.Context, userQuery string, engine types.EngineKind, pc types.PromptContext, memoryKey string) (types.GeneratedQuery, error) {
	systemPrompt := buildQueryGenerationPrompt(engine, pc)
	history := c.mem.history(memoryKey)

	reply, err := c.complete(ctx, systemPrompt, history, userQuery)
	if err != nil {
		return types.GeneratedQuery{}, err
	}
	c.mem.append(memoryKey, types.Message{Role: "user", Content: userQuery}, types.Message{Role: "assistant", Content: reply})

	text, explanation := parseGeneratedResponse(reply)
	return types.GeneratedQuery{Engine: engine, Text: text, Explanation: explanation}, nil
}

var fencedBlock = regexp.MustCompile("(?s)```(?:[a-zA-Z0-9_+-]*\\n)?(.*?)```")

// parseGeneratedResponse splits a model response into query text and
// explanation: first by extracting a fenced code block (explanation is
// whatever precedes/follows the fence, joined), falling back to a
// blank-line-delimited first paragraph when no fence is present.
func parseGeneratedResponse(reply string) (text, explanation string) {
	reply = strings.TrimSpace(reply)

	if m := fencedBlock.FindStringSubmatchIndex(reply); m != nil {
		text = strings.TrimSpace(reply[m[2]:m[3]])
		before := strings.TrimSpace(reply[:m[0]])
		after := strings.TrimSpace(reply[m[1]:])
		explanation = strings.TrimSpace(strings.TrimSpace(before + "\n" + after))
		return text, explanation
	}

	parts := strings.SplitN(reply, "\n\n", 2)
	text = strings.TrimSpace(parts[0])
	if len(parts) > 1 {
		explanation = strings.TrimSpace(parts[1])
	}
	return text, explanation
}
