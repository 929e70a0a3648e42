package workflow

import (
	"context"
	"fmt"
	"time"

	taskerrors "github.com/kadirpekel/taskorch/pkg/errors"
	"github.com/kadirpekel/taskorch/pkg/session"
)

// Mode is MODE_SELECTION's chosen next state, kept typed rather than a
// bare string per spec.md §9 ("typed result values ... reserve
// exceptions for unrecoverable errors").
type Mode string

const (
	ModeChat Mode = "chat"
	ModeTask Mode = "task"
	ModeDev  Mode = "dev"
)

// ModeClassifier decides which mode a request belongs in.
type ModeClassifier interface {
	Classify(ctx context.Context, input string) (Mode, error)
}

// Chatter answers a CHAT-mode turn directly.
type Chatter interface {
	Reply(ctx context.Context, input string) (string, error)
}

// DevRunner executes one DEV-mode pass and reports whether execution
// should continue (spec.md §9 Open Question 1: DEV->DEV modeled as an
// explicit continuation signal, not an implicit retry).
type DevRunner interface {
	RunDev(ctx context.Context, input string) (output string, continueSignal bool, err error)
}

// ContextEnricher gathers session/background context before planning.
type ContextEnricher interface {
	Enrich(ctx context.Context, sess *session.Session, input string) (map[string]any, error)
}

// Planner turns an enriched request into a Todo (spec.md §4.1
// TODO_PLANNING).
type Planner interface {
	Plan(ctx context.Context, input string, enrichment map[string]any) (*session.Todo, error)
}

// ServerSelector picks candidate MCP servers/prompts for one item.
type ServerSelector interface {
	SelectServers(ctx context.Context, item *session.Item) (servers []string, prompts []string, err error)
}

// ToolPlanner produces the tool-call batch for one item, already
// validated by the time EXECUTION sees it.
type ToolPlanner interface {
	PlanTools(ctx context.Context, item *session.Item) ([]session.ToolCall, error)
}

// Executor runs a validated tool-call batch and returns per-call
// results.
type Executor interface {
	Execute(ctx context.Context, calls []session.ToolCall) ([]session.ExecutionRecord, error)
}

// VerificationOutcome is VERIFICATION's typed result (spec.md §9:
// "typed result values distinguishing Succeeded | Retry | Replan | Skip
// | Failed").
type VerificationOutcome string

const (
	VerificationSucceeded VerificationOutcome = "succeeded"
	VerificationRetry     VerificationOutcome = "retry"
	VerificationReplan    VerificationOutcome = "replan"
	VerificationSkip      VerificationOutcome = "skip"
	VerificationFailed    VerificationOutcome = "failed"
)

// Verifier judges whether an item's execution satisfied its action.
type Verifier interface {
	Verify(ctx context.Context, item *session.Item) (VerificationOutcome, string, error)
}

// Replanner produces replacement items for a failed item (spec.md
// §4.1 REPLAN).
type Replanner interface {
	Replan(ctx context.Context, item *session.Item, reason string) ([]*session.Item, error)
}

// Summarizer renders the FINAL_SUMMARY for a completed todo.
type Summarizer interface {
	Summarize(ctx context.Context, todo *session.Todo) (string, error)
}

// Dependencies is the composition root's bag of collaborators wired
// into the state handlers (spec.md §9: "container is a composition
// root, not a runtime registry" — handlers receive these as explicit
// constructor arguments, not a global lookup).
type Dependencies struct {
	Classifier ModeClassifier
	Chat       Chatter
	Dev        DevRunner
	Enricher   ContextEnricher
	Planner    Planner
	Selector   ServerSelector
	ToolPlan   ToolPlanner
	Exec       Executor
	Verify     Verifier
	Replan     Replanner
	Summarize  Summarizer
}

const ctxKeyInput = "input"
const ctxKeyEnrichment = "enrichment"
const ctxKeyDevOutput = "dev_output"
const ctxKeySummary = "summary"

// NewHandlers builds the full state->Handler map for a Machine from
// deps (spec.md §4.1 States).
func NewHandlers(deps Dependencies) map[State]Handler {
	return map[State]Handler{
		WorkflowStart:     handleWorkflowStart,
		ModeSelection:     handleModeSelection(deps.Classifier),
		Chat:              handleChat(deps.Chat),
		Dev:               handleDev(deps.Dev),
		Task:              handleTask,
		ContextEnrichment: handleContextEnrichment(deps.Enricher),
		TodoPlanning:      handleTodoPlanning(deps.Planner),
		ItemLoop:          handleItemLoop(),
		ServerSelection:   handleServerSelection(deps.Selector),
		ToolPlanning:      handleToolPlanning(deps.ToolPlan),
		Execution:         handleExecution(deps.Exec),
		Verification:      handleVerification(deps.Verify),
		Replan:            handleReplan(deps.Replan),
		FinalSummary:      handleFinalSummary(deps.Summarize),
	}
}

func handleWorkflowStart(_ context.Context, sess *session.Session, ctl MachineControl) (HandlerResult, error) {
	ctl.SetContext(ctxKeyInput, sess.Input)
	return HandlerResult{Success: true, Next: ModeSelection}, nil
}

func handleModeSelection(classifier ModeClassifier) Handler {
	return func(ctx context.Context, sess *session.Session, ctl MachineControl) (HandlerResult, error) {
		if classifier == nil {
			return HandlerResult{}, taskerrors.NewProcessorNotFoundError("ModeClassifier")
		}
		input, _ := ctl.GetContext(ctxKeyInput)
		inputStr, _ := input.(string)

		mode, err := classifier.Classify(ctx, inputStr)
		if err != nil {
			return HandlerResult{}, err
		}

		var next State
		switch mode {
		case ModeChat:
			next = Chat
		case ModeDev:
			next = Dev
		default:
			next = Task
		}
		return HandlerResult{Success: true, Next: next, Data: map[string]any{"mode": string(mode)}}, nil
	}
}

func handleChat(chatter Chatter) Handler {
	return func(ctx context.Context, sess *session.Session, ctl MachineControl) (HandlerResult, error) {
		if chatter == nil {
			return HandlerResult{}, taskerrors.NewProcessorNotFoundError("Chatter")
		}
		input, _ := ctl.GetContext(ctxKeyInput)
		inputStr, _ := input.(string)

		reply, err := chatter.Reply(ctx, inputStr)
		if err != nil {
			return HandlerResult{}, err
		}
		sess.LastAnalysis = reply
		return HandlerResult{Success: true, Next: WorkflowEnd, Data: map[string]any{"reply": reply}}, nil
	}
}

// handleDev implements the DEV->DEV self-loop as an explicit
// continuation signal (spec.md §9 Open Question 1): the handler keeps
// re-entering DEV only while DevRunner reports continueSignal=true.
func handleDev(dev DevRunner) Handler {
	return func(ctx context.Context, sess *session.Session, ctl MachineControl) (HandlerResult, error) {
		if dev == nil {
			return HandlerResult{}, taskerrors.NewProcessorNotFoundError("DevRunner")
		}
		input, _ := ctl.GetContext(ctxKeyInput)
		inputStr, _ := input.(string)

		output, cont, err := dev.RunDev(ctx, inputStr)
		if err != nil {
			return HandlerResult{}, err
		}
		ctl.SetContext(ctxKeyDevOutput, output)
		sess.LastAnalysis = output

		if cont {
			return HandlerResult{Success: true, Next: Dev, Data: map[string]any{"output": output}}, nil
		}
		return HandlerResult{Success: true, Next: WorkflowEnd, Data: map[string]any{"output": output}}, nil
	}
}

func handleTask(_ context.Context, _ *session.Session, _ MachineControl) (HandlerResult, error) {
	return HandlerResult{Success: true, Next: ContextEnrichment}, nil
}

func handleContextEnrichment(enricher ContextEnricher) Handler {
	return func(ctx context.Context, sess *session.Session, ctl MachineControl) (HandlerResult, error) {
		if enricher == nil {
			return HandlerResult{}, taskerrors.NewProcessorNotFoundError("ContextEnricher")
		}
		input, _ := ctl.GetContext(ctxKeyInput)
		inputStr, _ := input.(string)

		enrichment, err := enricher.Enrich(ctx, sess, inputStr)
		if err != nil {
			return HandlerResult{}, err
		}
		ctl.SetContext(ctxKeyEnrichment, enrichment)
		return HandlerResult{Success: true, Next: TodoPlanning}, nil
	}
}

func handleTodoPlanning(planner Planner) Handler {
	return func(ctx context.Context, sess *session.Session, ctl MachineControl) (HandlerResult, error) {
		if planner == nil {
			return HandlerResult{}, taskerrors.NewProcessorNotFoundError("Planner")
		}
		input, _ := ctl.GetContext(ctxKeyInput)
		inputStr, _ := input.(string)
		enrichment, _ := ctl.GetContext(ctxKeyEnrichment)
		enrichMap, _ := enrichment.(map[string]any)

		todo, err := planner.Plan(ctx, inputStr, enrichMap)
		if err != nil {
			return HandlerResult{}, err
		}
		sess.Todo = todo
		return HandlerResult{Success: true, Next: ItemLoop}, nil
	}
}

const ctxKeyCurrentItem = "current_item"
const ctxKeyReplanReason = "replan_reason"

// handleItemLoop implements spec.md §4.1's ITEM_LOOP policy: pick the
// next eligible item, force-skip items blocked past the threshold, and
// enforce inter-item pacing.
func handleItemLoop() Handler {
	return func(ctx context.Context, sess *session.Session, ctl MachineControl) (HandlerResult, error) {
		if sess.Todo == nil {
			return HandlerResult{Success: true, Next: FinalSummary}, nil
		}

		completed := sess.Todo.CompletedSet()
		items := sess.Todo.Snapshot()

		var next *session.Item
		for _, it := range items {
			switch it.Status {
			case session.ItemCompleted, session.ItemFailed, session.ItemSkipped, session.ItemReplanned:
				continue
			case session.ItemPending:
				if it.DependenciesSatisfied(completed) {
					next = it
				} else {
					it.BlockedCheckCount++
					if it.BlockedCheckCount >= ctl.BlockedCheckThreshold() {
						it.Status = session.ItemSkipped
					}
				}
			}
			if next != nil {
				break
			}
		}

		if next == nil {
			if sess.Todo.AllTerminal() {
				return HandlerResult{Success: true, Next: FinalSummary}, nil
			}
			// Every pending item is still blocked this pass; re-enter
			// ITEM_LOOP after the pacing delay rather than spinning.
			select {
			case <-time.After(ctl.ItemPacingDelay()):
			case <-ctx.Done():
				return HandlerResult{}, ctx.Err()
			}
			return HandlerResult{Success: true, Next: ItemLoop}, nil
		}

		// Pace consecutive item dispatches: every dispatch after the
		// first in this run waits out the pacing delay.
		if _, dispatched := ctl.GetContext(ctxKeyCurrentItem); dispatched {
			select {
			case <-time.After(ctl.ItemPacingDelay()):
			case <-ctx.Done():
				return HandlerResult{}, ctx.Err()
			}
		}

		next.Status = session.ItemInProgress
		next.AttemptCount++
		ctl.SetContext(ctxKeyCurrentItem, next)
		return HandlerResult{Success: true, Next: ServerSelection, Data: map[string]any{"item_id": next.ID}}, nil
	}
}

func currentItem(ctl MachineControl) (*session.Item, error) {
	v, ok := ctl.GetContext(ctxKeyCurrentItem)
	if !ok {
		return nil, fmt.Errorf("no current item in context")
	}
	item, ok := v.(*session.Item)
	if !ok {
		return nil, fmt.Errorf("current item has unexpected type %T", v)
	}
	return item, nil
}

func handleServerSelection(selector ServerSelector) Handler {
	return func(ctx context.Context, sess *session.Session, ctl MachineControl) (HandlerResult, error) {
		if selector == nil {
			return HandlerResult{}, taskerrors.NewProcessorNotFoundError("ServerSelector")
		}
		item, err := currentItem(ctl)
		if err != nil {
			return HandlerResult{}, taskerrors.NewHandlerError(string(ServerSelection), "", err)
		}

		servers, prompts, err := selector.SelectServers(ctx, item)
		if err != nil {
			return HandlerResult{}, err
		}
		item.SelectedServers = servers
		item.SelectedPrompts = prompts
		return HandlerResult{Success: true, Next: ToolPlanning}, nil
	}
}

func handleToolPlanning(planner ToolPlanner) Handler {
	return func(ctx context.Context, sess *session.Session, ctl MachineControl) (HandlerResult, error) {
		if planner == nil {
			return HandlerResult{}, taskerrors.NewProcessorNotFoundError("ToolPlanner")
		}
		item, err := currentItem(ctl)
		if err != nil {
			return HandlerResult{}, taskerrors.NewHandlerError(string(ToolPlanning), "", err)
		}

		calls, err := planner.PlanTools(ctx, item)
		if err != nil {
			return HandlerResult{}, err
		}
		item.LastPlan = calls
		return HandlerResult{Success: true, Next: Execution}, nil
	}
}

func handleExecution(executor Executor) Handler {
	return func(ctx context.Context, sess *session.Session, ctl MachineControl) (HandlerResult, error) {
		if executor == nil {
			return HandlerResult{}, taskerrors.NewProcessorNotFoundError("Executor")
		}
		item, err := currentItem(ctl)
		if err != nil {
			return HandlerResult{}, taskerrors.NewHandlerError(string(Execution), "", err)
		}

		records, err := executor.Execute(ctx, item.LastPlan)
		if err != nil {
			return HandlerResult{}, err
		}
		item.LastExecution = records
		return HandlerResult{Success: true, Next: Verification}, nil
	}
}

// handleVerification maps VerificationOutcome onto the transition
// table: Succeeded/Skip settle the item and return to ITEM_LOOP;
// Retry returns the item to pending and loops back to ITEM_LOOP while
// its attempt budget lasts, and marks it failed once the budget is
// spent; Replan and Failed hand the item to REPLAN.
func handleVerification(verifier Verifier) Handler {
	return func(ctx context.Context, sess *session.Session, ctl MachineControl) (HandlerResult, error) {
		if verifier == nil {
			return HandlerResult{}, taskerrors.NewProcessorNotFoundError("Verifier")
		}
		item, err := currentItem(ctl)
		if err != nil {
			return HandlerResult{}, taskerrors.NewHandlerError(string(Verification), "", err)
		}

		outcome, reason, err := verifier.Verify(ctx, item)
		if err != nil {
			return HandlerResult{}, err
		}
		item.LastVerification = &session.VerificationRecord{Verified: outcome == VerificationSucceeded, Reason: reason}

		switch outcome {
		case VerificationSucceeded:
			item.Status = session.ItemCompleted
			return HandlerResult{Success: true, Next: ItemLoop}, nil
		case VerificationSkip:
			item.Status = session.ItemSkipped
			return HandlerResult{Success: true, Next: ItemLoop}, nil
		case VerificationRetry:
			maxAttempts := item.MaxAttempts
			if maxAttempts <= 0 {
				maxAttempts = ctl.DefaultMaxAttempts()
			}
			if item.AttemptCount < maxAttempts {
				item.Status = session.ItemPending
				return HandlerResult{Success: true, Next: ItemLoop}, nil
			}
			item.Status = session.ItemFailed
			return HandlerResult{Success: true, Next: ItemLoop}, nil
		default: // VerificationReplan, VerificationFailed
			ctl.SetContext(ctxKeyReplanReason, reason)
			return HandlerResult{Success: true, Next: Replan, Data: map[string]any{"reason": reason}}, nil
		}
	}
}

// handleReplan implements spec.md §4.1 REPLAN: insert replacement
// items after the failing one (original marked replanned), or, when the
// Replanner returns none, put the item back to pending while its
// attempt budget lasts and mark it failed once the budget is spent.
// REPLAN never marks an item skipped.
func handleReplan(replanner Replanner) Handler {
	return func(ctx context.Context, sess *session.Session, ctl MachineControl) (HandlerResult, error) {
		if replanner == nil {
			return HandlerResult{}, taskerrors.NewProcessorNotFoundError("Replanner")
		}
		item, err := currentItem(ctl)
		if err != nil {
			return HandlerResult{}, taskerrors.NewHandlerError(string(Replan), "", err)
		}

		reasonVal, _ := ctl.GetContext(ctxKeyReplanReason)
		reason, _ := reasonVal.(string)

		replacements, err := replanner.Replan(ctx, item, reason)
		if err != nil {
			return HandlerResult{}, err
		}

		if len(replacements) == 0 {
			// No replan produced: exhaust the attempt budget before
			// failing outright (spec.md §4.1: "after exceeding attempts
			// with no replan, mark failed").
			maxAttempts := item.MaxAttempts
			if maxAttempts <= 0 {
				maxAttempts = ctl.DefaultMaxAttempts()
			}
			if item.AttemptCount < maxAttempts {
				item.Status = session.ItemPending
			} else {
				item.Status = session.ItemFailed
			}
			return HandlerResult{Success: true, Next: ItemLoop}, nil
		}

		parentID := item.ID
		for _, r := range replacements {
			r.ReplannedFrom = &parentID
			r.AttemptCount = 0
		}
		item.Status = session.ItemReplanned
		sess.Todo.InsertAfter(item.ID, replacements...)
		return HandlerResult{Success: true, Next: ItemLoop}, nil
	}
}

func handleFinalSummary(summarizer Summarizer) Handler {
	return func(ctx context.Context, sess *session.Session, ctl MachineControl) (HandlerResult, error) {
		if summarizer == nil {
			return HandlerResult{}, taskerrors.NewProcessorNotFoundError("Summarizer")
		}
		summary, err := summarizer.Summarize(ctx, sess.Todo)
		if err != nil {
			return HandlerResult{}, err
		}
		ctl.SetContext(ctxKeySummary, summary)
		sess.LastAnalysis = summary
		return HandlerResult{Success: true, Next: WorkflowEnd, Data: map[string]any{"summary": summary}}, nil
	}
}
