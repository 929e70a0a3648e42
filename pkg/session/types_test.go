package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewItemDefaults(t *testing.T) {
	it := NewItem("open the file", "dep-1")
	assert.NotEmpty(t, it.ID)
	assert.Equal(t, ItemPending, it.Status)
	assert.Equal(t, 0, it.MaxAttempts)
	_, hasDep := it.Dependencies["dep-1"]
	assert.True(t, hasDep)
}

func TestDependenciesSatisfied(t *testing.T) {
	it := NewItem("write report", "a", "b")
	assert.False(t, it.DependenciesSatisfied(map[string]bool{"a": true}))
	assert.True(t, it.DependenciesSatisfied(map[string]bool{"a": true, "b": true}))
}

func TestTodoInsertAfter(t *testing.T) {
	todo := NewTodo()
	first := NewItem("first")
	last := NewItem("last")
	todo.Append(first, last)

	mid := NewItem("mid")
	ok := todo.InsertAfter(first.ID, mid)
	require.True(t, ok)

	snap := todo.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, first.ID, snap[0].ID)
	assert.Equal(t, mid.ID, snap[1].ID)
	assert.Equal(t, last.ID, snap[2].ID)
}

func TestTodoInsertAfterMissingID(t *testing.T) {
	todo := NewTodo()
	todo.Append(NewItem("only"))
	ok := todo.InsertAfter("nonexistent", NewItem("orphan"))
	assert.False(t, ok)
}

func TestTodoAllTerminal(t *testing.T) {
	todo := NewTodo()
	a := NewItem("a")
	b := NewItem("b")
	todo.Append(a, b)
	assert.False(t, todo.AllTerminal())

	a.Status = ItemCompleted
	assert.False(t, todo.AllTerminal())

	b.Status = ItemFailed
	assert.True(t, todo.AllTerminal())
}

func TestTodoCompletedSet(t *testing.T) {
	todo := NewTodo()
	a := NewItem("a")
	b := NewItem("b")
	a.Status = ItemCompleted
	todo.Append(a, b)

	completed := todo.CompletedSet()
	assert.True(t, completed[a.ID])
	assert.False(t, completed[b.ID])
}

func TestSessionRecordTransitionBoundedHistory(t *testing.T) {
	s := New("", 2)
	s.RecordTransition("", "WORKFLOW_START")
	s.RecordTransition("WORKFLOW_START", "MODE_SELECTION")
	s.RecordTransition("MODE_SELECTION", "TASK")

	hist := s.History()
	require.Len(t, hist, 2)
	assert.Equal(t, "WORKFLOW_START", hist[0].From)
	assert.Equal(t, "TASK", hist[1].To)
	assert.Equal(t, "TASK", s.CurrentState())
}

func TestSessionCancel(t *testing.T) {
	s := New("sess-1", 10)
	assert.False(t, s.IsCancelled())
	s.Cancel()
	assert.True(t, s.IsCancelled())

	select {
	case <-s.Cancelled():
	default:
		t.Fatal("expected cancelled channel to be closed")
	}

	// Cancel is idempotent.
	assert.NotPanics(t, func() { s.Cancel() })
}

func TestSessionAutoGeneratesID(t *testing.T) {
	s := New("", 10)
	assert.NotEmpty(t, s.ID)
}
