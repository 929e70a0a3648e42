package validate

import (
	"context"
	"fmt"

	"github.com/kadirpekel/taskorch/pkg/session"
	"github.com/kadirpekel/taskorch/pkg/toolname"
)

// CatalogProvider exposes the live, canonical tool catalog the MCP-Sync
// stage checks planned calls against.
type CatalogProvider interface {
	// KnownTools returns every canonical "server__tool" name currently
	// advertised by connected servers.
	KnownTools() []string
}

// MCPSyncStage verifies each planned call names a tool that actually
// exists in the live catalog, auto-correcting via fuzzy match when it
// doesn't (spec.md §4.3). Critical.
type MCPSyncStage struct {
	catalog   CatalogProvider
	Threshold float64
}

// NewMCPSyncStage builds an MCPSyncStage with the default fuzzy
// threshold.
func NewMCPSyncStage(catalog CatalogProvider) *MCPSyncStage {
	return &MCPSyncStage{catalog: catalog, Threshold: DefaultFuzzyThreshold}
}

func (s *MCPSyncStage) Name() string   { return "MCP Sync" }
func (s *MCPSyncStage) Critical() bool { return true }

func (s *MCPSyncStage) Validate(_ context.Context, calls []session.ToolCall) StageResult {
	res := StageResult{Stage: s.Name()}
	corrected := make([]session.ToolCall, len(calls))
	known := s.catalog.KnownTools()
	knownSet := make(map[string]bool, len(known))
	for _, k := range known {
		knownSet[k] = true
	}

	for i, c := range calls {
		corrected[i] = c

		sameServer := wireNamesForServer(known, c.Server)
		canonical := toolname.Resolve(c.Server, c.Tool, sameServer)
		if knownSet[canonical] {
			corrected[i].Tool = canonical
			continue
		}

		// Score against the bare tool name within this server, not the
		// full canonical string: the server prefix is shared by every
		// candidate and dilutes the edit-distance/containment signal
		// that's supposed to catch near-miss tool names.
		_, bareTool, _ := toolname.Split(canonical)
		match, ok := BestFuzzyMatch(bareTool, sameServer)
		if ok && match.Score >= s.Threshold {
			corrected[i].Tool = toolname.Canonical(c.Server, match.Candidate)
			res.Corrections = append(res.Corrections, Correction{
				Kind:    CorrectionToolNameCorrected,
				Stage:   s.Name(),
				Detail:  fmt.Sprintf("%s -> %s (score %.2f)", canonical, corrected[i].Tool, match.Score),
				CallIdx: i,
			})
			continue
		}

		hint := ""
		if ok {
			hint = fmt.Sprintf(" (closest match %q, score %.2f below threshold)", toolname.Canonical(c.Server, match.Candidate), match.Score)
		}
		res.Errors = append(res.Errors, fmt.Sprintf("call %d: tool %q not found in live catalog%s", i, canonical, hint))
	}

	res.Corrected = corrected
	return res
}

func wireNamesForServer(known []string, server string) []string {
	var out []string
	for _, k := range known {
		if srv, tool, ok := toolname.Split(k); ok && srv == server {
			out = append(out, tool)
		}
	}
	return out
}
