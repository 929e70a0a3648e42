package validate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/taskorch/pkg/history"
	"github.com/kadirpekel/taskorch/pkg/session"
)

func TestSimilarityExactMatch(t *testing.T) {
	assert.Equal(t, 1.0, similarity("navigate", "navigate"))
}

func TestSimilaritySubstringContainment(t *testing.T) {
	s := similarity("navigate", "browser_navigate")
	assert.Greater(t, s, 0.7)
}

func TestBestFuzzyMatchPicksHighest(t *testing.T) {
	match, ok := BestFuzzyMatch("navigat", []string{"navigate", "click", "screenshot"})
	require.True(t, ok)
	assert.Equal(t, "navigate", match.Candidate)
}

func TestFormatStageAddsMissingPrefixAndErrors(t *testing.T) {
	stage := NewFormatStage()
	calls := []session.ToolCall{
		{Server: "fs", Tool: "list_directory", Parameters: nil},
		{Server: "", Tool: "x"},
	}
	res := stage.Validate(context.Background(), calls)

	require.Len(t, res.Corrected, 2)
	assert.Equal(t, "fs__list_directory", res.Corrected[0].Tool)
	assert.NotNil(t, res.Corrected[0].Parameters)
	require.Len(t, res.Errors, 1)
}

func TestHistoryStageBlocksRepeatedFailure(t *testing.T) {
	ring := history.New(100)
	params := map[string]any{"selector": "#x"}
	for i := 0; i < 3; i++ {
		ring.Add(history.Entry{Tool: "playwright__click", Params: params, Success: false})
	}

	stage := NewHistoryStage(ring)
	res := stage.Validate(context.Background(), []session.ToolCall{
		{Server: "playwright", Tool: "playwright__click", Parameters: params},
	})
	require.Len(t, res.Errors, 1)
}

func TestMCPSyncStageCorrectsByFuzzyMatch(t *testing.T) {
	stage := NewMCPSyncStage(staticCatalog{tools: []string{"playwright__browser_navigate"}})
	res := stage.Validate(context.Background(), []session.ToolCall{
		{Server: "playwright", Tool: "playwright__navigate"},
	})
	require.Len(t, res.Corrected, 1)
	assert.Equal(t, "playwright__browser_navigate", res.Corrected[0].Tool)
	require.Len(t, res.Corrections, 1)
	assert.Equal(t, CorrectionToolNameCorrected, res.Corrections[0].Kind)
}

func TestMCPSyncStageRejectsUnknownTool(t *testing.T) {
	stage := NewMCPSyncStage(staticCatalog{tools: []string{"fs__list_directory"}})
	res := stage.Validate(context.Background(), []session.ToolCall{
		{Server: "weather", Tool: "get_forecast"},
	})
	require.Len(t, res.Errors, 1)
}

type staticCatalog struct{ tools []string }

func (c staticCatalog) KnownTools() []string { return c.tools }

func TestPipelineHaltsOnCriticalStage(t *testing.T) {
	pipeline := NewPipeline(nil, NewFormatStage(), NewMCPSyncStage(staticCatalog{}))
	report := pipeline.Validate(context.Background(), []session.ToolCall{
		{Server: "", Tool: ""},
	})
	assert.False(t, report.Accepted())
	assert.Equal(t, "Format", report.RejectedAt)
	assert.Equal(t, []string{"Format"}, report.StagesExecuted)
}

func TestPipelineContinuesPastNonCriticalStage(t *testing.T) {
	ring := history.New(10)
	pipeline := NewPipeline(nil, NewHistoryStage(ring), NewMCPSyncStage(staticCatalog{tools: []string{"fs__list_directory"}}))
	report := pipeline.Validate(context.Background(), []session.ToolCall{
		{Server: "fs", Tool: "fs__list_directory", Parameters: map[string]any{}},
	})
	assert.True(t, report.Accepted())
	assert.Equal(t, []string{"History", "MCP Sync"}, report.StagesExecuted)
}

func TestPipelineMetricsTrackRuns(t *testing.T) {
	metrics := NewMetrics()
	pipeline := NewPipeline(metrics, NewFormatStage())
	pipeline.Validate(context.Background(), []session.ToolCall{{Server: "fs", Tool: "fs__list_directory"}})
	pipeline.Validate(context.Background(), []session.ToolCall{{Server: "", Tool: ""}})

	assert.Equal(t, 2, metrics.TotalRuns)
	assert.Equal(t, 1, metrics.TotalSuccess)
	assert.InDelta(t, 0.5, metrics.SuccessRate(), 0.0001)
}

func TestCoerceValueIntegerFromString(t *testing.T) {
	v, changed := coerceValue("42", "integer")
	assert.True(t, changed)
	assert.Equal(t, int64(42), v)
}

func TestCoerceValueLeavesNonStringAlone(t *testing.T) {
	v, changed := coerceValue(42, "integer")
	assert.False(t, changed)
	assert.Equal(t, 42, v)
}

type staticSchemaProvider struct{ schemas map[string]map[string]any }

func (p staticSchemaProvider) SchemaFor(tool string) (map[string]any, bool) {
	s, ok := p.schemas[tool]
	return s, ok
}

func TestSchemaStageRejectsMissingRequiredField(t *testing.T) {
	provider := staticSchemaProvider{schemas: map[string]map[string]any{
		"fs__write_file": {
			"type":       "object",
			"properties": map[string]any{"path": map[string]any{"type": "string"}, "content": map[string]any{"type": "string"}},
			"required":   []any{"path", "content"},
		},
	}}
	stage := NewSchemaStage(provider)
	res := stage.Validate(context.Background(), []session.ToolCall{
		{Server: "fs", Tool: "fs__write_file", Parameters: map[string]any{"path": "/tmp/x"}},
	})
	require.Len(t, res.Errors, 1)
}

func TestSchemaStageCoercesAndRenamesParams(t *testing.T) {
	provider := staticSchemaProvider{schemas: map[string]map[string]any{
		"fs__read_file": {
			"type":       "object",
			"properties": map[string]any{"path": map[string]any{"type": "string"}, "limit": map[string]any{"type": "integer"}},
		},
	}}
	stage := NewSchemaStage(provider)
	res := stage.Validate(context.Background(), []session.ToolCall{
		{Server: "fs", Tool: "fs__read_file", Parameters: map[string]any{"pat": "/tmp/x", "limit": "10"}},
	})
	require.Empty(t, res.Errors)
	require.Len(t, res.Corrected, 1)
	assert.Equal(t, "/tmp/x", res.Corrected[0].Parameters["path"])
	assert.Equal(t, int64(10), res.Corrected[0].Parameters["limit"])
}
