// Package workflow implements the orchestrator's deterministic state
// machine (spec.md §4.1): a fixed transition table, typed timeouts,
// idempotent handlers, and a narrow MachineControl interface handed to
// them instead of the whole machine.
package workflow

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	taskerrors "github.com/kadirpekel/taskorch/pkg/errors"
	"github.com/kadirpekel/taskorch/pkg/session"
)

// State names every atomic state in the machine (spec.md §4.1).
type State string

const (
	WorkflowStart      State = "WORKFLOW_START"
	ModeSelection      State = "MODE_SELECTION"
	Chat               State = "CHAT"
	Dev                State = "DEV"
	Task               State = "TASK"
	ContextEnrichment  State = "CONTEXT_ENRICHMENT"
	TodoPlanning       State = "TODO_PLANNING"
	ItemLoop           State = "ITEM_LOOP"
	ServerSelection    State = "SERVER_SELECTION"
	ToolPlanning       State = "TOOL_PLANNING"
	Execution          State = "EXECUTION"
	Verification       State = "VERIFICATION"
	Replan             State = "REPLAN"
	FinalSummary       State = "FINAL_SUMMARY"
	WorkflowEnd        State = "WORKFLOW_END"
)

// transitionTable is the sole source of truth for legal transitions
// (spec.md §4.1). Any transition outside this table fails closed.
var transitionTable = map[State][]State{
	WorkflowStart:     {ModeSelection},
	ModeSelection:     {Chat, Task, Dev},
	Chat:              {WorkflowEnd},
	Dev:               {Dev, Task, WorkflowEnd},
	Task:              {ContextEnrichment},
	ContextEnrichment: {TodoPlanning},
	TodoPlanning:      {ItemLoop},
	ItemLoop:          {ServerSelection, FinalSummary},
	ServerSelection:   {ToolPlanning},
	ToolPlanning:      {Execution},
	Execution:         {Verification},
	Verification:      {ItemLoop, Replan},
	Replan:            {ItemLoop, FinalSummary},
	FinalSummary:      {WorkflowEnd},
}

// allowedNext returns the allowed next states from, as strings, for
// error reporting.
func allowedNext(from State) []string {
	next := transitionTable[from]
	out := make([]string, len(next))
	for i, s := range next {
		out[i] = string(s)
	}
	return out
}

// isAllowed reports whether from -> to is a legal transition.
func isAllowed(from, to State) bool {
	for _, s := range transitionTable[from] {
		if s == to {
			return true
		}
	}
	return false
}

// HandlerResult is what a state handler returns: a success flag, the
// next state it wants to move to, and arbitrary structured data
// (spec.md §4.1 Handlers).
type HandlerResult struct {
	Success bool
	Next    State
	Data    map[string]any
}

// Handler processes one state given the shared session and a narrow
// MachineControl — never the whole Machine (spec.md §9 Design Notes:
// break cyclic references via a narrow control interface).
type Handler func(ctx context.Context, sess *session.Session, ctl MachineControl) (HandlerResult, error)

// MachineControl is the narrow surface handlers get instead of the
// whole Machine.
type MachineControl interface {
	// SetContext stores a value under key in the session-scoped
	// blackboard, readable by later handlers in the same run.
	SetContext(key string, value any)

	// GetContext retrieves a value previously stored by SetContext.
	GetContext(key string) (any, bool)

	// ExecuteNested runs the handler for state from against the same
	// blackboard and returns its result. DEV's continuation loop does
	// not use it; it re-enters DEV by returning Next: Dev.
	ExecuteNested(ctx context.Context, sess *session.Session, from State) (HandlerResult, error)

	// BlockedCheckThreshold returns the configured number of blocked
	// ITEM_LOOP passes an item tolerates before being force-skipped.
	BlockedCheckThreshold() int

	// ItemPacingDelay returns the configured minimum delay between item
	// dispatches in ITEM_LOOP, also waited between ITEM_LOOP passes when
	// every pending item is still blocked.
	ItemPacingDelay() time.Duration

	// DefaultMaxAttempts returns the configured retry budget applied to
	// items that don't carry their own MaxAttempts.
	DefaultMaxAttempts() int
}

// Config tunes the machine's timeouts and ITEM_LOOP policy (spec.md
// §4.1, §6).
type Config struct {
	// HandlerTimeout / TransitionTimeout default to 30s each.
	HandlerTimeout    time.Duration
	TransitionTimeout time.Duration

	// ItemPacingDelay is the minimum delay enforced between items in
	// ITEM_LOOP (default 3s).
	ItemPacingDelay time.Duration

	// BlockedCheckThreshold is how many blocked passes an item tolerates
	// before being force-skipped (default 10).
	BlockedCheckThreshold int

	// DefaultMaxAttempts is an item's retry budget absent an explicit
	// MaxAttempts (default 1, per spec.md §4.1 REPLAN "up to max-attempts,
	// default 1").
	DefaultMaxAttempts int
}

func (c *Config) setDefaults() {
	if c.HandlerTimeout <= 0 {
		c.HandlerTimeout = 30 * time.Second
	}
	if c.TransitionTimeout <= 0 {
		c.TransitionTimeout = 30 * time.Second
	}
	if c.ItemPacingDelay <= 0 {
		c.ItemPacingDelay = 3 * time.Second
	}
	if c.BlockedCheckThreshold <= 0 {
		c.BlockedCheckThreshold = 10
	}
	if c.DefaultMaxAttempts <= 0 {
		c.DefaultMaxAttempts = 1
	}
}

// Machine is the deterministic coordinator: every request threads
// through the fixed transition graph (spec.md §4.1).
type Machine struct {
	cfg      Config
	handlers map[State]Handler
	log      *slog.Logger
	tracer   trace.Tracer
}

// NewMachine builds a Machine with the given handlers registered by
// state.
func NewMachine(cfg Config, handlers map[State]Handler, log *slog.Logger) *Machine {
	cfg.setDefaults()
	if log == nil {
		log = slog.Default()
	}
	return &Machine{
		cfg:      cfg,
		handlers: handlers,
		log:      log,
		tracer:   otel.Tracer("taskorch/workflow"),
	}
}

// blackboard is the per-run context handlers read and write through
// MachineControl.
type blackboard struct {
	values map[string]any
}

func newBlackboard() *blackboard { return &blackboard{values: make(map[string]any)} }

func (b *blackboard) SetContext(key string, value any) { b.values[key] = value }
func (b *blackboard) GetContext(key string) (any, bool) { v, ok := b.values[key]; return v, ok }

// control wires blackboard access and nested-execution into the
// MachineControl surface for one Machine run.
type control struct {
	*blackboard
	m *Machine
}

func (c *control) ExecuteNested(ctx context.Context, sess *session.Session, from State) (HandlerResult, error) {
	return c.m.step(ctx, sess, from, c.blackboard)
}

func (c *control) BlockedCheckThreshold() int     { return c.m.cfg.BlockedCheckThreshold }
func (c *control) ItemPacingDelay() time.Duration { return c.m.cfg.ItemPacingDelay }
func (c *control) DefaultMaxAttempts() int        { return c.m.cfg.DefaultMaxAttempts }

// Run drives sess from its current state (WORKFLOW_START if unset, or
// if an earlier run ended at WORKFLOW_END) until it reaches
// WORKFLOW_END or a fatal error occurs.
func (m *Machine) Run(ctx context.Context, sess *session.Session) error {
	current := State(sess.CurrentState())
	if current == "" || current == WorkflowEnd {
		current = WorkflowStart
	}

	bb := newBlackboard()
	for {
		if sess.IsCancelled() {
			return taskerrors.NewCancelledError(sess.ID)
		}

		result, err := m.step(ctx, sess, current, bb)
		if err != nil {
			return err
		}

		next := result.Next
		if next == "" {
			return taskerrors.NewHandlerError(string(current), "", context.DeadlineExceeded)
		}

		if !isAllowed(current, next) {
			return taskerrors.NewInvalidTransitionError(string(current), string(next), allowedNext(current))
		}

		sess.RecordTransition(string(current), string(next))
		if next == WorkflowEnd {
			return nil
		}
		current = next
	}
}

// step executes exactly one state's handler under its timeout, wrapped
// in an OpenTelemetry span (spec.md §9: span per transition).
func (m *Machine) step(ctx context.Context, sess *session.Session, state State, bb *blackboard) (HandlerResult, error) {
	handler, ok := m.handlers[state]
	if !ok {
		return HandlerResult{}, taskerrors.NewHandlerNotFoundError(string(state))
	}

	spanCtx, span := m.tracer.Start(ctx, "workflow.state",
		trace.WithAttributes(attribute.String("taskorch.state", string(state)), attribute.String("taskorch.session_id", sess.ID)))
	defer span.End()

	hctx, cancel := context.WithTimeout(spanCtx, m.cfg.HandlerTimeout)
	defer cancel()

	type outcome struct {
		result HandlerResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		ctl := &control{blackboard: bb, m: m}
		res, err := handler(hctx, sess, ctl)
		done <- outcome{res, err}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			m.log.Error("handler failed", "state", state, "error", o.err)
			return HandlerResult{}, taskerrors.NewHandlerError(string(state), "", o.err)
		}
		return o.result, nil
	case <-hctx.Done():
		return HandlerResult{}, taskerrors.NewHandlerTimeoutError(string(state), m.cfg.HandlerTimeout)
	}
}
