package validate

import (
	"context"
	"fmt"

	"github.com/kadirpekel/taskorch/pkg/history"
	"github.com/kadirpekel/taskorch/pkg/session"
)

// HistoryStage blocks re-attempting tools with K+ repeated recent
// failures and warns on low success rate (spec.md §4.3). Non-critical:
// failures here downgrade to warnings except the repetition-after-failure
// guard, which the spec calls a block — but per the stage's own
// non-critical classification in the priority table, the pipeline
// still only halts on a *critical* stage, so this guard is reported as
// an Error and left to the pipeline's critical/non-critical wiring.
type HistoryStage struct {
	ring *history.Ring

	Window            int // N, default 100
	FailureThreshold  int // K, default 3
	LowSuccessRate    float64
}

// NewHistoryStage builds a HistoryStage over a shared ring with spec
// defaults (Window 100, FailureThreshold 3, LowSuccessRate 0.3).
func NewHistoryStage(ring *history.Ring) *HistoryStage {
	return &HistoryStage{ring: ring, Window: history.DefaultCapacity, FailureThreshold: 3, LowSuccessRate: 0.3}
}

func (s *HistoryStage) Name() string   { return "History" }
func (s *HistoryStage) Critical() bool { return false }

func (s *HistoryStage) Validate(_ context.Context, calls []session.ToolCall) StageResult {
	res := StageResult{Stage: s.Name()}

	for i, c := range calls {
		rep := s.ring.CheckRepetitionAfterFailure(c.Tool, c.Parameters, s.Window, s.FailureThreshold)
		if rep.Blocked {
			res.Errors = append(res.Errors, fmt.Sprintf("call %d: %s failed %d times recently, blocking retry", i, c.Tool, rep.Count))
			continue
		}

		if rate, total, ok := s.ring.SuccessRate(c.Tool); ok && total > 0 && rate < s.LowSuccessRate {
			res.Warnings = append(res.Warnings, fmt.Sprintf("call %d: %s has low success rate %.2f over %d calls", i, c.Tool, rate, total))
		}
	}

	return res
}
