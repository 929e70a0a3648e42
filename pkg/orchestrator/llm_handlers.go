package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kadirpekel/taskorch/pkg/history"
	"github.com/kadirpekel/taskorch/pkg/outbound"
	"github.com/kadirpekel/taskorch/pkg/session"
	"github.com/kadirpekel/taskorch/pkg/workflow"
)

// llmClassifier implements workflow.ModeClassifier by asking the LLM
// to bucket the request into chat/task/dev (spec.md §4.1 MODE_SELECTION).
type llmClassifier struct {
	llm *outbound.LLMClient
}

func newClassifier(llm *outbound.LLMClient) *llmClassifier { return &llmClassifier{llm: llm} }

func (c *llmClassifier) Classify(ctx context.Context, input string) (workflow.Mode, error) {
	prompt := fmt.Sprintf(
		"Classify the following request as exactly one of: chat, task, dev.\n"+
			"chat: conversational, no tool use needed.\n"+
			"task: requires one or more external tool calls to accomplish.\n"+
			"dev: an iterative coding/debugging request.\n"+
			"Reply with JSON {\"mode\": \"chat|task|dev\"} and nothing else.\n\nRequest: %s",
		input,
	)
	reply, err := c.llm.Generate(ctx, prompt)
	if err != nil {
		return "", err
	}

	var parsed struct {
		Mode string `json:"mode"`
	}
	if err := json.Unmarshal([]byte(extractJSON(reply)), &parsed); err != nil {
		// A malformed classification reply degrades to task mode, the
		// most conservative bucket (always routes through validation).
		return workflow.ModeTask, nil
	}
	switch strings.ToLower(strings.TrimSpace(parsed.Mode)) {
	case string(workflow.ModeChat):
		return workflow.ModeChat, nil
	case string(workflow.ModeDev):
		return workflow.ModeDev, nil
	default:
		return workflow.ModeTask, nil
	}
}

// llmChatter implements workflow.Chatter directly off the LLM client.
type llmChatter struct {
	llm *outbound.LLMClient
}

func newChatter(llm *outbound.LLMClient) *llmChatter { return &llmChatter{llm: llm} }

func (c *llmChatter) Reply(ctx context.Context, input string) (string, error) {
	return c.llm.Chat(ctx, []outbound.ChatMessage{
		{Role: "system", Content: "You are a helpful assistant. Answer directly and concisely."},
		{Role: "user", Content: input},
	})
}

// llmDevRunner implements workflow.DevRunner. A DEV pass asks the model
// for the next step and whether more iteration is needed; the
// continuation signal is the model's own judgment, not an implicit
// retry (spec.md §9 Open Question 1).
type llmDevRunner struct {
	llm *outbound.LLMClient
}

func newDevRunner(llm *outbound.LLMClient) *llmDevRunner { return &llmDevRunner{llm: llm} }

func (d *llmDevRunner) RunDev(ctx context.Context, input string) (string, bool, error) {
	prompt := fmt.Sprintf(
		"You are iterating on a coding/debugging task. Given the request below, "+
			"produce the next concrete step's output and state whether another "+
			"iteration is still needed. Reply with JSON "+
			"{\"output\": \"...\", \"continue\": true|false} and nothing else.\n\nRequest: %s",
		input,
	)
	reply, err := d.llm.Generate(ctx, prompt)
	if err != nil {
		return "", false, err
	}

	var parsed struct {
		Output   string `json:"output"`
		Continue bool   `json:"continue"`
	}
	if err := json.Unmarshal([]byte(extractJSON(reply)), &parsed); err != nil {
		// Treat an unparsable reply as the final answer rather than
		// looping forever on malformed output.
		return reply, false, nil
	}
	return parsed.Output, parsed.Continue, nil
}

// llmEnricher implements workflow.ContextEnricher by folding the
// session's recent tool-call history into a small context map that
// TODO_PLANNING can hand the model alongside the request.
type llmEnricher struct {
	ring *history.Ring
}

func newEnricher(ring *history.Ring) *llmEnricher { return &llmEnricher{ring: ring} }

func (e *llmEnricher) Enrich(_ context.Context, sess *session.Session, input string) (map[string]any, error) {
	recent := e.ring.ForSession(sess.ID)
	summary := make([]string, 0, len(recent))
	for _, entry := range recent {
		status := "ok"
		if !entry.Success {
			status = "failed"
		}
		summary = append(summary, fmt.Sprintf("%s (%s)", entry.Tool, status))
	}
	return map[string]any{
		"request":       input,
		"recent_tools":  summary,
		"session_state": sess.CurrentState(),
	}, nil
}

// llmPlanner implements workflow.Planner, turning an enriched request
// into an ordered Todo (spec.md §4.1 TODO_PLANNING).
type llmPlanner struct {
	llm *outbound.LLMClient
}

func newPlanner(llm *outbound.LLMClient) *llmPlanner { return &llmPlanner{llm: llm} }

func (p *llmPlanner) Plan(ctx context.Context, input string, enrichment map[string]any) (*session.Todo, error) {
	enrichedJSON, _ := json.Marshal(enrichment)
	prompt := fmt.Sprintf(
		"Break the request into an ordered list of independent, concrete actions. "+
			"Reply with JSON {\"items\": [{\"action\": \"...\", \"depends_on\": [indices]}]} "+
			"and nothing else, where depends_on lists zero-based indices of prerequisite items.\n\n"+
			"Request: %s\nContext: %s",
		input, string(enrichedJSON),
	)
	reply, err := p.llm.Generate(ctx, prompt)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Items []struct {
			Action    string `json:"action"`
			DependsOn []int  `json:"depends_on"`
		} `json:"items"`
	}
	if err := json.Unmarshal([]byte(extractJSON(reply)), &parsed); err != nil || len(parsed.Items) == 0 {
		// A plan the model refuses to structure still needs to make
		// progress: fall back to a single catch-all item over the raw
		// request so ITEM_LOOP has something to execute.
		todo := session.NewTodo()
		todo.Append(session.NewItem(input))
		return todo, nil
	}

	items := make([]*session.Item, len(parsed.Items))
	for i, raw := range parsed.Items {
		items[i] = session.NewItem(raw.Action)
	}
	for i, raw := range parsed.Items {
		for _, depIdx := range raw.DependsOn {
			if depIdx >= 0 && depIdx < len(items) && depIdx != i {
				items[i].Dependencies[items[depIdx].ID] = struct{}{}
			}
		}
	}

	todo := session.NewTodo()
	todo.Append(items...)
	return todo, nil
}

// llmSelector implements workflow.ServerSelector. Absent a dedicated
// routing model, it offers every server currently in the catalog as a
// candidate and lets TOOL_PLANNING narrow the choice per item.
type llmSelector struct {
	catalog *Catalog
}

func newSelector(catalog *Catalog) *llmSelector { return &llmSelector{catalog: catalog} }

func (s *llmSelector) SelectServers(_ context.Context, item *session.Item) ([]string, []string, error) {
	servers := s.catalog.ServersOffering()
	return servers, nil, nil
}

// llmSummarizer implements workflow.Summarizer over the completed Todo.
type llmSummarizer struct {
	llm *outbound.LLMClient
}

func newSummarizer(llm *outbound.LLMClient) *llmSummarizer { return &llmSummarizer{llm: llm} }

func (s *llmSummarizer) Summarize(ctx context.Context, todo *session.Todo) (string, error) {
	if todo == nil {
		return "", nil
	}
	items := todo.Snapshot()
	lines := make([]string, 0, len(items))
	for _, it := range items {
		reason := ""
		if it.LastVerification != nil {
			reason = it.LastVerification.Reason
		}
		lines = append(lines, fmt.Sprintf("- [%s] %s (%s)", it.Status, it.Action, reason))
	}
	prompt := fmt.Sprintf(
		"Summarize the outcome of the following completed task items for the user, "+
			"in a short paragraph. Do not use JSON.\n\n%s",
		strings.Join(lines, "\n"),
	)
	return s.llm.Generate(ctx, prompt)
}

// extractJSON trims a model reply down to its outermost {...} span,
// tolerating replies wrapped in prose or markdown code fences.
func extractJSON(reply string) string {
	start := strings.IndexByte(reply, '{')
	end := strings.LastIndexByte(reply, '}')
	if start < 0 || end < start {
		return reply
	}
	return reply[start : end+1]
}
