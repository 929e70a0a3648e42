package history

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingWrapsAtCapacity(t *testing.T) {
	r := New(3)
	r.Add(Entry{Tool: "a", Timestamp: time.Now()})
	r.Add(Entry{Tool: "b", Timestamp: time.Now()})
	r.Add(Entry{Tool: "c", Timestamp: time.Now()})
	r.Add(Entry{Tool: "d", Timestamp: time.Now()})

	snap := r.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, []string{"b", "c", "d"}, toolsOf(snap))
}

func toolsOf(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Tool
	}
	return out
}

func TestRepetitionInspectorConsecutiveDeny(t *testing.T) {
	r := New(10)
	params := map[string]any{"selector": "#submit"}
	for i := 0; i < 3; i++ {
		r.Add(Entry{Tool: "playwright__click", Params: params, Success: false})
	}

	ri := NewRepetitionInspector(r)
	ri.ConsecutiveWindow = 3
	got := ri.Inspect("s1", "playwright__click", params)
	assert.Equal(t, VerdictDeny, got.Verdict)
}

func TestRepetitionInspectorAllowsDistinctParams(t *testing.T) {
	r := New(10)
	r.Add(Entry{Tool: "playwright__click", Params: map[string]any{"selector": "#a"}})
	r.Add(Entry{Tool: "playwright__click", Params: map[string]any{"selector": "#b"}})
	r.Add(Entry{Tool: "playwright__click", Params: map[string]any{"selector": "#c"}})

	ri := NewRepetitionInspector(r)
	got := ri.Inspect("s1", "playwright__click", map[string]any{"selector": "#d"})
	assert.Equal(t, VerdictAllow, got.Verdict)
}

func TestRepetitionInspectorTotalRequiresApproval(t *testing.T) {
	r := New(20)
	for i := 0; i < 11; i++ {
		r.Add(Entry{Tool: "search__query", Params: map[string]any{"q": i}, Success: true})
	}

	ri := NewRepetitionInspector(r)
	ri.TotalLimit = 10
	got := ri.Inspect("s1", "search__query", map[string]any{"q": "new"})
	assert.Equal(t, VerdictRequireApproval, got.Verdict)
}

func TestCompositionDenyDominates(t *testing.T) {
	a := Inspection{Verdict: VerdictDeny, Reason: "loop"}
	b := Inspection{Verdict: VerdictRequireApproval, Reason: "count"}
	assert.Equal(t, VerdictDeny, dominant(a, b).Verdict)
	assert.Equal(t, VerdictDeny, dominant(b, a).Verdict)
}

func TestCheckRepetitionAfterFailure(t *testing.T) {
	r := New(100)
	params := map[string]any{"url": "https://example.com"}
	for i := 0; i < 3; i++ {
		r.Add(Entry{Tool: "fetch__get", Params: params, Success: false, Timestamp: time.Now()})
	}

	result := r.CheckRepetitionAfterFailure("fetch__get", params, 100, 3)
	assert.True(t, result.Blocked)
	assert.Equal(t, 3, result.Count)
}

func TestSuccessRateNoHistory(t *testing.T) {
	r := New(10)
	_, _, ok := r.SuccessRate("unknown__tool")
	assert.False(t, ok)
}

func TestSuccessRateComputed(t *testing.T) {
	r := New(10)
	r.Add(Entry{Tool: "a__b", Success: true})
	r.Add(Entry{Tool: "a__b", Success: false})

	rate, total, ok := r.SuccessRate("a__b")
	require.True(t, ok)
	assert.Equal(t, 2, total)
	assert.InDelta(t, 0.5, rate, 0.0001)
}

func TestParamsHashStableAcrossKeyOrder(t *testing.T) {
	h1 := ParamsHash(map[string]any{"a": 1, "b": 2})
	h2 := ParamsHash(map[string]any{"b": 2, "a": 1})
	assert.Equal(t, h1, h2)
}
