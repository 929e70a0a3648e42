package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/taskorch/pkg/session"
	"github.com/kadirpekel/taskorch/pkg/workflow"
)

func TestFirstOfReturnsEmptyOnNoServers(t *testing.T) {
	assert.Equal(t, "", firstOf(nil))
	assert.Equal(t, "fs", firstOf([]string{"fs", "git"}))
}

func TestVerifierParsesSucceededOutcome(t *testing.T) {
	llm, closeFn := fakeChatServer(t, `{"outcome": "succeeded", "reason": "output matched"}`)
	defer closeFn()

	v := newVerifier(llm)
	item := session.NewItem("read the file")
	outcome, reason, err := v.Verify(context.Background(), item)
	require.NoError(t, err)
	assert.Equal(t, workflow.VerificationSucceeded, outcome)
	assert.Equal(t, "output matched", reason)
}

func TestVerifierDefaultsToRetryOnUnparsableReply(t *testing.T) {
	llm, closeFn := fakeChatServer(t, "not valid json")
	defer closeFn()

	v := newVerifier(llm)
	item := session.NewItem("read the file")
	outcome, _, err := v.Verify(context.Background(), item)
	require.NoError(t, err)
	assert.Equal(t, workflow.VerificationRetry, outcome)
}

func TestVerifierFallsBackToFailedOnUnknownOutcome(t *testing.T) {
	llm, closeFn := fakeChatServer(t, `{"outcome": "gibberish", "reason": "?"}`)
	defer closeFn()

	v := newVerifier(llm)
	item := session.NewItem("read the file")
	outcome, _, err := v.Verify(context.Background(), item)
	require.NoError(t, err)
	assert.Equal(t, workflow.VerificationFailed, outcome)
}

func TestReplannerParsesReplacementItems(t *testing.T) {
	llm, closeFn := fakeChatServer(t, `{"items": ["retry with a different path"]}`)
	defer closeFn()

	r := newReplanner(llm)
	item := session.NewItem("read the file")
	items, err := r.Replan(context.Background(), item, "file not found")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "retry with a different path", items[0].Action)
}

func TestReplannerReturnsNoItemsOnUnparsableReply(t *testing.T) {
	llm, closeFn := fakeChatServer(t, "give up")
	defer closeFn()

	r := newReplanner(llm)
	item := session.NewItem("read the file")
	items, err := r.Replan(context.Background(), item, "timed out")
	require.NoError(t, err)
	assert.Empty(t, items)
}
