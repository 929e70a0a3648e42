package validate

import (
	"context"
	"fmt"

	"github.com/kadirpekel/taskorch/pkg/session"
	"github.com/kadirpekel/taskorch/pkg/toolname"
)

// FormatStage checks shape: required fields present, tool-name
// well-formed, parameters is an object. Critical per spec.md §4.3.
type FormatStage struct{}

func NewFormatStage() *FormatStage { return &FormatStage{} }

func (s *FormatStage) Name() string   { return "Format" }
func (s *FormatStage) Critical() bool { return true }

func (s *FormatStage) Validate(_ context.Context, calls []session.ToolCall) StageResult {
	res := StageResult{Stage: s.Name()}
	corrected := make([]session.ToolCall, len(calls))

	for i, c := range calls {
		corrected[i] = c
		if c.Server == "" {
			res.Errors = append(res.Errors, fmt.Sprintf("call %d: missing server", i))
			continue
		}
		if c.Tool == "" {
			res.Errors = append(res.Errors, fmt.Sprintf("call %d: missing tool name", i))
			continue
		}
		if c.Parameters == nil {
			corrected[i].Parameters = map[string]any{}
		}
		if !toolname.IsCanonical(c.Tool) {
			corrected[i].Tool = toolname.Canonical(c.Server, c.Tool)
			res.Corrections = append(res.Corrections, Correction{
				Kind:    CorrectionToolPrefixAdded,
				Stage:   s.Name(),
				Detail:  fmt.Sprintf("%s -> %s", c.Tool, corrected[i].Tool),
				CallIdx: i,
			})
		}
	}

	res.Corrected = corrected
	return res
}
