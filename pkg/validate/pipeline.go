// Package validate implements the staged tool-call validation pipeline
// (spec.md §4.3): Format, History, Schema, MCP-Sync, and an optional
// LLM stage, with auto-correction and per-stage metrics.
package validate

import (
	"context"
	"time"

	taskerrors "github.com/kadirpekel/taskorch/pkg/errors"
	"github.com/kadirpekel/taskorch/pkg/session"
)

// CorrectionKind names the shape of an auto-correction a stage applied.
type CorrectionKind string

const (
	CorrectionParameterRenamed  CorrectionKind = "parameter_renamed"
	CorrectionTypeCoerced       CorrectionKind = "type_coerced"
	CorrectionToolNameCorrected CorrectionKind = "tool_name_corrected"
	CorrectionToolPrefixAdded   CorrectionKind = "tool_prefix_added"
)

// Correction records one auto-correction applied to a call.
type Correction struct {
	Kind    CorrectionKind
	Stage   string
	Detail  string
	CallIdx int
}

// StageResult is what a single stage returns for one pipeline pass.
type StageResult struct {
	Stage       string
	Errors      []string
	Warnings    []string
	Corrections []Correction
	Corrected   []session.ToolCall // nil if the stage made no changes
	Duration    time.Duration
}

// Report is the pipeline's full output for one planned batch.
type Report struct {
	ToolCalls      []session.ToolCall // final, possibly-corrected calls
	StagesExecuted []string
	RejectedAt     string // "" if nothing critical rejected the batch
	Errors         []string
	Warnings       []string
	Corrections    []Correction
	TotalDuration  time.Duration
}

// Accepted reports whether the batch survived every critical stage.
func (r *Report) Accepted() bool { return r.RejectedAt == "" }

// Stage validates (and may correct) a batch of tool calls.
type Stage interface {
	Name() string
	Critical() bool
	Validate(ctx context.Context, calls []session.ToolCall) StageResult
}

// Metrics accumulates per-stage and per-pipeline counters (spec.md
// §4.3 Metrics).
type Metrics struct {
	StageCalls     map[string]int
	StageSuccesses map[string]int
	StageFailures  map[string]int
	StageDuration  map[string]time.Duration

	TotalRuns    int
	TotalSuccess int
	TotalDur     time.Duration

	// SlowThreshold flags stage durations exceeding it.
	SlowThreshold   time.Duration
	SlowBreaches    int
}

// NewMetrics creates a Metrics with the spec's default slow-validation
// threshold of 150ms (roughly the sum of the default per-stage
// budgets).
func NewMetrics() *Metrics {
	return &Metrics{
		StageCalls:     make(map[string]int),
		StageSuccesses: make(map[string]int),
		StageFailures:  make(map[string]int),
		StageDuration:  make(map[string]time.Duration),
		SlowThreshold:  150 * time.Millisecond,
	}
}

func (m *Metrics) recordStage(res StageResult) {
	m.StageCalls[res.Stage]++
	m.StageDuration[res.Stage] += res.Duration
	if len(res.Errors) == 0 {
		m.StageSuccesses[res.Stage]++
	} else {
		m.StageFailures[res.Stage]++
	}
	if res.Duration > m.SlowThreshold {
		m.SlowBreaches++
	}
}

func (m *Metrics) recordPipeline(r *Report) {
	m.TotalRuns++
	if r.Accepted() {
		m.TotalSuccess++
	}
	m.TotalDur += r.TotalDuration
}

// SuccessRate returns the pipeline-level acceptance rate.
func (m *Metrics) SuccessRate() float64 {
	if m.TotalRuns == 0 {
		return 0
	}
	return float64(m.TotalSuccess) / float64(m.TotalRuns)
}

// Pipeline runs stages in priority order, halting on the first
// critical-stage failure (spec.md §4.3).
type Pipeline struct {
	stages  []Stage
	metrics *Metrics
}

// NewPipeline builds a Pipeline from stages in execution-priority
// order.
func NewPipeline(metrics *Metrics, stages ...Stage) *Pipeline {
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &Pipeline{stages: stages, metrics: metrics}
}

// Metrics returns the pipeline's accumulated metrics.
func (p *Pipeline) Metrics() *Metrics { return p.metrics }

// Validate runs every stage over calls, threading corrections forward,
// and halting early on a critical-stage rejection.
func (p *Pipeline) Validate(ctx context.Context, calls []session.ToolCall) *Report {
	start := time.Now()
	report := &Report{ToolCalls: calls}

	current := calls
	for _, stage := range p.stages {
		stageStart := time.Now()
		res := stage.Validate(ctx, current)
		res.Duration = time.Since(stageStart)

		p.metrics.recordStage(res)
		report.StagesExecuted = append(report.StagesExecuted, stage.Name())
		report.Warnings = append(report.Warnings, res.Warnings...)
		report.Corrections = append(report.Corrections, res.Corrections...)

		if res.Corrected != nil {
			current = res.Corrected
		}

		if len(res.Errors) > 0 {
			report.Errors = append(report.Errors, res.Errors...)
			if stage.Critical() {
				report.RejectedAt = stage.Name()
				report.ToolCalls = current
				report.TotalDuration = time.Since(start)
				p.metrics.recordPipeline(report)
				return report
			}
		}
	}

	report.ToolCalls = current
	report.TotalDuration = time.Since(start)
	p.metrics.recordPipeline(report)
	return report
}

// RejectionError converts a rejected Report into a typed ValidationError.
func RejectionError(r *Report) error {
	if r.Accepted() {
		return nil
	}
	return taskerrors.NewValidationError(r.RejectedAt, r.StagesExecuted, r.Errors)
}
