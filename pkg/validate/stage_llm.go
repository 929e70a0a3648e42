package validate

import (
	"context"
	"fmt"

	"github.com/kadirpekel/taskorch/pkg/session"
)

// SemanticChecker performs an external, model-backed safety/semantic
// check over a planned batch of tool calls. Implemented by the
// outbound LLM client; kept as a narrow interface here so the
// validation package never depends on transport concerns.
type SemanticChecker interface {
	CheckToolCalls(ctx context.Context, calls []session.ToolCall) (flagged []int, reason string, err error)
}

// LLMStage is the optional semantic/safety check (spec.md §4.3).
// Non-critical: transport failures and flags both downgrade to
// warnings rather than halting the pipeline, since the stage augments
// judgment rather than enforcing shape or sync.
type LLMStage struct {
	checker SemanticChecker
}

// NewLLMStage builds an LLMStage. A nil checker makes the stage a
// no-op, letting callers wire it in only when an external model is
// configured.
func NewLLMStage(checker SemanticChecker) *LLMStage {
	return &LLMStage{checker: checker}
}

func (s *LLMStage) Name() string   { return "LLM" }
func (s *LLMStage) Critical() bool { return false }

func (s *LLMStage) Validate(ctx context.Context, calls []session.ToolCall) StageResult {
	res := StageResult{Stage: s.Name()}
	if s.checker == nil {
		return res
	}

	flagged, reason, err := s.checker.CheckToolCalls(ctx, calls)
	if err != nil {
		res.Warnings = append(res.Warnings, fmt.Sprintf("semantic check unavailable: %v", err))
		return res
	}
	if len(flagged) > 0 {
		res.Warnings = append(res.Warnings, fmt.Sprintf("semantic check flagged calls %v: %s", flagged, reason))
	}
	return res
}
