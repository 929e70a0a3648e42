package workflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	taskerrors "github.com/kadirpekel/taskorch/pkg/errors"
	"github.com/kadirpekel/taskorch/pkg/session"
)

func TestTransitionTableRejectsIllegalMove(t *testing.T) {
	assert.False(t, isAllowed(Chat, Task))
	assert.True(t, isAllowed(ModeSelection, Chat))
}

func TestAllowedNextListsOptions(t *testing.T) {
	assert.ElementsMatch(t, []string{"CHAT", "TASK", "DEV"}, allowedNext(ModeSelection))
}

type fixedClassifier struct{ mode Mode }

func (f fixedClassifier) Classify(context.Context, string) (Mode, error) { return f.mode, nil }

type echoChatter struct{}

func (echoChatter) Reply(_ context.Context, input string) (string, error) { return "echo:" + input, nil }

// testControl builds a control with default-populated Config, mirroring
// what NewMachine hands real handlers, for tests that invoke a Handler
// directly instead of through Machine.Run/step.
func testControl(bb *blackboard) *control {
	cfg := Config{}
	cfg.setDefaults()
	return &control{blackboard: bb, m: &Machine{cfg: cfg}}
}

func TestMachineRunsChatPath(t *testing.T) {
	deps := Dependencies{Classifier: fixedClassifier{mode: ModeChat}, Chat: echoChatter{}}
	m := NewMachine(Config{}, NewHandlers(deps), nil)

	sess := session.New("s1", 50)
	bb := newBlackboard()
	bb.SetContext(ctxKeyInput, "hello")
	// Run drives from sess.CurrentState(); seed it via a direct step
	// sequence since Run doesn't accept a pre-seeded blackboard.
	_, err := m.step(context.Background(), sess, WorkflowStart, bb)
	require.NoError(t, err)

	result, err := m.step(context.Background(), sess, ModeSelection, bb)
	require.NoError(t, err)
	assert.Equal(t, Chat, result.Next)

	result, err = m.step(context.Background(), sess, Chat, bb)
	require.NoError(t, err)
	assert.Equal(t, WorkflowEnd, result.Next)
}

func TestMachineInvalidTransitionFailsClosed(t *testing.T) {
	handlers := map[State]Handler{
		WorkflowStart: func(context.Context, *session.Session, MachineControl) (HandlerResult, error) {
			return HandlerResult{Success: true, Next: Execution}, nil
		},
	}
	m := NewMachine(Config{}, handlers, nil)
	sess := session.New("s2", 10)

	err := m.Run(context.Background(), sess)
	require.Error(t, err)
	var invalid *taskerrors.InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, []string{"MODE_SELECTION"}, invalid.Allowed)
	assert.Empty(t, sess.History())
}

type countingDev struct {
	calls int
}

func (d *countingDev) RunDev(_ context.Context, _ string) (string, bool, error) {
	d.calls++
	return "output", d.calls < 2, nil
}

func TestDevSelfLoopStopsOnContinuationSignalFalse(t *testing.T) {
	dev := &countingDev{}
	handler := handleDev(dev)
	sess := session.New("s3", 10)
	bb := newBlackboard()

	res, err := handler(context.Background(), sess, testControl(bb))
	require.NoError(t, err)
	assert.Equal(t, Dev, res.Next)

	res, err = handler(context.Background(), sess, testControl(bb))
	require.NoError(t, err)
	assert.Equal(t, WorkflowEnd, res.Next)
	assert.Equal(t, 2, dev.calls)
}

func TestItemLoopPicksEligibleItem(t *testing.T) {
	todo := session.NewTodo()
	blocked := session.NewItem("blocked", "dep-missing")
	ready := session.NewItem("ready")
	todo.Append(blocked, ready)

	sess := session.New("s4", 10)
	sess.Todo = todo
	bb := newBlackboard()

	handler := handleItemLoop()
	res, err := handler(context.Background(), sess, testControl(bb))
	require.NoError(t, err)
	assert.Equal(t, ServerSelection, res.Next)
	assert.Equal(t, session.ItemInProgress, ready.Status)
	assert.Equal(t, 1, blocked.BlockedCheckCount)
}

func TestItemLoopGoesToFinalSummaryWhenAllTerminal(t *testing.T) {
	todo := session.NewTodo()
	done := session.NewItem("done")
	done.Status = session.ItemCompleted
	todo.Append(done)

	sess := session.New("s5", 10)
	sess.Todo = todo
	bb := newBlackboard()

	handler := handleItemLoop()
	res, err := handler(context.Background(), sess, testControl(bb))
	require.NoError(t, err)
	assert.Equal(t, FinalSummary, res.Next)
}

func TestItemLoopForceSkipsAfterBlockedThreshold(t *testing.T) {
	todo := session.NewTodo()
	blocked := session.NewItem("blocked", "dep-missing")
	blocked.BlockedCheckCount = 10 - 1 // default BlockedCheckThreshold
	todo.Append(blocked)

	sess := session.New("s6", 10)
	sess.Todo = todo
	bb := newBlackboard()

	handler := handleItemLoop()
	_, err := handler(context.Background(), sess, testControl(bb))
	require.NoError(t, err)
	assert.Equal(t, session.ItemSkipped, blocked.Status)
}

type alwaysSucceedVerifier struct{}

func (alwaysSucceedVerifier) Verify(context.Context, *session.Item) (VerificationOutcome, string, error) {
	return VerificationSucceeded, "", nil
}

func TestVerificationSucceededCompletesItem(t *testing.T) {
	item := session.NewItem("do thing")
	bb := newBlackboard()
	bb.SetContext(ctxKeyCurrentItem, item)

	handler := handleVerification(alwaysSucceedVerifier{})
	sess := session.New("s7", 10)
	sess.Todo = session.NewTodo()
	sess.Todo.Append(item)

	res, err := handler(context.Background(), sess, testControl(bb))
	require.NoError(t, err)
	assert.Equal(t, ItemLoop, res.Next)
	assert.Equal(t, session.ItemCompleted, item.Status)
}

type alwaysReplanVerifier struct{}

func (alwaysReplanVerifier) Verify(context.Context, *session.Item) (VerificationOutcome, string, error) {
	return VerificationReplan, "tool failed", nil
}

type singleReplacementReplanner struct{}

func (singleReplacementReplanner) Replan(_ context.Context, item *session.Item, _ string) ([]*session.Item, error) {
	return []*session.Item{session.NewItem("retry step")}, nil
}

func TestReplanInsertsReplacementAndMarksOriginal(t *testing.T) {
	item := session.NewItem("do thing")
	sess := session.New("s8", 10)
	sess.Todo = session.NewTodo()
	sess.Todo.Append(item)

	bb := newBlackboard()
	bb.SetContext(ctxKeyCurrentItem, item)

	replanHandler := handleReplan(singleReplacementReplanner{})
	res, err := replanHandler(context.Background(), sess, testControl(bb))
	require.NoError(t, err)
	assert.Equal(t, ItemLoop, res.Next)
	assert.Equal(t, session.ItemReplanned, item.Status)

	snap := sess.Todo.Snapshot()
	require.Len(t, snap, 2)
	assert.NotNil(t, snap[1].ReplannedFrom)
	assert.Equal(t, item.ID, *snap[1].ReplannedFrom)
}
