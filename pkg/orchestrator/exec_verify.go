package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/kadirpekel/taskorch/pkg/history"
	"github.com/kadirpekel/taskorch/pkg/mcp"
	"github.com/kadirpekel/taskorch/pkg/outbound"
	"github.com/kadirpekel/taskorch/pkg/session"
	"github.com/kadirpekel/taskorch/pkg/toolname"
	"github.com/kadirpekel/taskorch/pkg/validate"
	"github.com/kadirpekel/taskorch/pkg/workflow"
)

// llmToolPlanner implements workflow.ToolPlanner: it asks the model for
// a candidate tool-call batch over the item's selected servers, then
// runs the batch through the validation pipeline so EXECUTION only
// ever sees accepted, possibly auto-corrected calls (spec.md §4.1
// TOOL_PLANNING, §4.3).
type llmToolPlanner struct {
	llm      *outbound.LLMClient
	catalog  *Catalog
	pipeline *validate.Pipeline
}

func newToolPlanner(llm *outbound.LLMClient, catalog *Catalog, pipeline *validate.Pipeline) *llmToolPlanner {
	return &llmToolPlanner{llm: llm, catalog: catalog, pipeline: pipeline}
}

func (p *llmToolPlanner) PlanTools(ctx context.Context, item *session.Item) ([]session.ToolCall, error) {
	entries := p.catalog.Entries()
	candidates := make([]mcp.CatalogEntry, 0, len(entries))
	allowed := make(map[string]bool, len(item.SelectedServers))
	for _, s := range item.SelectedServers {
		allowed[s] = true
	}
	for _, e := range entries {
		if len(allowed) == 0 || allowed[e.Server] {
			candidates = append(candidates, e)
		}
	}

	catalogJSON, _ := json.Marshal(candidates)
	prompt := fmt.Sprintf(
		"Given the available tools below, produce the tool call(s) needed to "+
			"accomplish the following action. Reply with JSON "+
			"{\"calls\": [{\"tool\": \"server__tool\", \"parameters\": {...}}]} and "+
			"nothing else. Use only tools from the list, naming them in "+
			"\"server__tool\" canonical form.\n\nAction: %s\nTools: %s",
		item.Action, string(catalogJSON),
	)
	reply, err := p.llm.Generate(ctx, prompt)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Calls []struct {
			Tool       string         `json:"tool"`
			Parameters map[string]any `json:"parameters"`
		} `json:"calls"`
	}
	if err := json.Unmarshal([]byte(extractJSON(reply)), &parsed); err != nil {
		return nil, fmt.Errorf("parse tool plan: %w", err)
	}

	calls := make([]session.ToolCall, 0, len(parsed.Calls))
	for _, c := range parsed.Calls {
		server, _, ok := toolname.Split(c.Tool)
		if !ok {
			server = firstOf(item.SelectedServers)
		}
		calls = append(calls, session.ToolCall{
			Server:     server,
			Tool:       c.Tool,
			Parameters: c.Parameters,
		})
	}

	report := p.pipeline.Validate(ctx, calls)
	if !report.Accepted() {
		return nil, validate.RejectionError(report)
	}
	return report.ToolCalls, nil
}

func firstOf(ss []string) string {
	if len(ss) == 0 {
		return ""
	}
	return ss[0]
}

// mcpExecutor implements workflow.Executor by dispatching each call to
// the MCP manager, recording it in the shared history ring, and
// publishing tool_started/tool_result frames to the sink attached to
// ctx (spec.md §4.1 EXECUTION, §6 event stream).
type mcpExecutor struct {
	mgr  *mcp.Manager
	ring *history.Ring
}

func newExecutor(mgr *mcp.Manager, ring *history.Ring) *mcpExecutor {
	return &mcpExecutor{mgr: mgr, ring: ring}
}

func (e *mcpExecutor) Execute(ctx context.Context, calls []session.ToolCall) ([]session.ExecutionRecord, error) {
	sink := sinkFromContext(ctx)
	records := make([]session.ExecutionRecord, 0, len(calls))

	for _, call := range calls {
		sink.Publish(Event{Type: EventToolStarted, Data: map[string]any{
			"tool": call.Tool, "server": call.Server, "parameters": call.Parameters,
		}})

		start := time.Now()
		output, err := e.mgr.Call(ctx, call.Server, call.Tool, call.Parameters)
		duration := time.Since(start)

		rec := session.ExecutionRecord{
			Call:      call,
			Success:   err == nil,
			Output:    output,
			Duration:  duration,
			Timestamp: start,
		}
		if err != nil {
			rec.Error = err.Error()
		}
		records = append(records, rec)

		e.ring.Add(history.Entry{
			Tool:      call.Tool,
			Params:    call.Parameters,
			Success:   rec.Success,
			Timestamp: rec.Timestamp,
		})

		sink.Publish(Event{Type: EventToolResult, Data: map[string]any{
			"tool": call.Tool, "success": rec.Success, "error": rec.Error, "duration_ms": duration.Milliseconds(),
		}})
	}

	return records, nil
}

// llmVerifier implements workflow.Verifier by asking the model whether
// an item's execution records satisfy its action (spec.md §4.1
// VERIFICATION).
type llmVerifier struct {
	llm *outbound.LLMClient
}

func newVerifier(llm *outbound.LLMClient) *llmVerifier { return &llmVerifier{llm: llm} }

func (v *llmVerifier) Verify(ctx context.Context, item *session.Item) (workflow.VerificationOutcome, string, error) {
	recordsJSON, _ := json.Marshal(item.LastExecution)
	prompt := fmt.Sprintf(
		"An agent attempted the following action using the tool results below. "+
			"Judge the outcome. Reply with JSON "+
			"{\"outcome\": \"succeeded|retry|replan|skip|failed\", \"reason\": \"...\"} "+
			"and nothing else.\n\nAction: %s\nResults: %s",
		item.Action, string(recordsJSON),
	)
	reply, err := v.llm.Generate(ctx, prompt)
	if err != nil {
		return "", "", err
	}

	var parsed struct {
		Outcome string `json:"outcome"`
		Reason  string `json:"reason"`
	}
	if err := json.Unmarshal([]byte(extractJSON(reply)), &parsed); err != nil {
		// An unparsable verdict is treated as a retry rather than a
		// silent success, so a bad reply never masks a failed item.
		return workflow.VerificationRetry, "unparsable verification reply", nil
	}

	switch strings.ToLower(strings.TrimSpace(parsed.Outcome)) {
	case string(workflow.VerificationSucceeded):
		return workflow.VerificationSucceeded, parsed.Reason, nil
	case string(workflow.VerificationRetry):
		return workflow.VerificationRetry, parsed.Reason, nil
	case string(workflow.VerificationReplan):
		return workflow.VerificationReplan, parsed.Reason, nil
	case string(workflow.VerificationSkip):
		return workflow.VerificationSkip, parsed.Reason, nil
	default:
		return workflow.VerificationFailed, parsed.Reason, nil
	}
}

// llmReplanner implements workflow.Replanner by asking the model for
// replacement items that route around the failing one (spec.md §4.1
// REPLAN).
type llmReplanner struct {
	llm *outbound.LLMClient
}

func newReplanner(llm *outbound.LLMClient) *llmReplanner { return &llmReplanner{llm: llm} }

func (r *llmReplanner) Replan(ctx context.Context, item *session.Item, reason string) ([]*session.Item, error) {
	prompt := fmt.Sprintf(
		"The following action failed verification and needs a replan. Produce "+
			"zero or more replacement actions that accomplish the same intent "+
			"differently. Reply with JSON {\"items\": [\"action\", ...]} and "+
			"nothing else; an empty list means give up on this item.\n\n"+
			"Action: %s\nFailure reason: %s",
		item.Action, reason,
	)
	reply, err := r.llm.Generate(ctx, prompt)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Items []string `json:"items"`
	}
	if err := json.Unmarshal([]byte(extractJSON(reply)), &parsed); err != nil {
		return nil, nil
	}

	out := make([]*session.Item, 0, len(parsed.Items))
	for _, action := range parsed.Items {
		out = append(out, session.NewItem(action))
	}
	return out, nil
}
