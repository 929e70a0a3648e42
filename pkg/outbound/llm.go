package outbound

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kadirpekel/taskorch/pkg/session"
)

// ChatMessage is one turn of a chat-completions request.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionsRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatCompletionsResponse struct {
	Choices []struct {
		Message ChatMessage `json:"message"`
	} `json:"choices"`
}

// LLMClient is a chat-completions client built on Client, used for
// MODE_SELECTION/TODO_PLANNING/DEV generation calls and as the
// validation pipeline's optional semantic checker (spec.md §4.3, §4.4,
// §6 LLM_API_ENDPOINT / MCP_LLM_API_KEY).
type LLMClient struct {
	client      *Client
	model       string
	temperature float64
	maxTokens   int
}

// NewLLMClient wraps client with the chat-completions shape.
func NewLLMClient(client *Client, model string, temperature float64, maxTokens int) *LLMClient {
	return &LLMClient{client: client, model: model, temperature: temperature, maxTokens: maxTokens}
}

// Generate sends a single-turn prompt and returns the model's reply.
func (c *LLMClient) Generate(ctx context.Context, prompt string) (string, error) {
	return c.Chat(ctx, []ChatMessage{{Role: "user", Content: prompt}})
}

// Chat sends a multi-turn conversation and returns the model's reply.
func (c *LLMClient) Chat(ctx context.Context, messages []ChatMessage) (string, error) {
	var resp chatCompletionsResponse
	err := c.client.Do(ctx, Request{
		Method: "POST",
		Path:   "/chat/completions",
		Body: chatCompletionsRequest{
			Model:       c.model,
			Messages:    messages,
			Temperature: c.temperature,
			MaxTokens:   c.maxTokens,
		},
		Priority: 0,
	}, &resp)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("llm response had no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// CheckToolCalls implements validate.SemanticChecker: asks the model
// whether any planned call looks unsafe or semantically wrong. Only the
// calls themselves are sent; the item's action is not part of the prompt.
func (c *LLMClient) CheckToolCalls(ctx context.Context, calls []session.ToolCall) ([]int, string, error) {
	if len(calls) == 0 {
		return nil, "", nil
	}

	payload, err := json.Marshal(calls)
	if err != nil {
		return nil, "", fmt.Errorf("marshal calls for semantic check: %w", err)
	}

	prompt := fmt.Sprintf(
		"Review the following planned tool calls for safety or semantic mistakes. "+
			"Reply with JSON {\"flagged\": [indices], \"reason\": \"...\"} and nothing else.\n%s",
		string(payload),
	)

	reply, err := c.Generate(ctx, prompt)
	if err != nil {
		return nil, "", err
	}

	var parsed struct {
		Flagged []int  `json:"flagged"`
		Reason  string `json:"reason"`
	}
	if err := json.Unmarshal([]byte(reply), &parsed); err != nil {
		// A reply that isn't valid JSON is a semantic-check miss, not a
		// pipeline failure; treat as "nothing flagged".
		return nil, "", nil
	}
	return parsed.Flagged, parsed.Reason, nil
}
