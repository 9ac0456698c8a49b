package engine

import (
	"context"
	"time"

	"faden/internal/chat"
)

// Intent is a tagged edit operation. The tag says what the caller wants done;
// the engine decides what that means for the turn's role instead of callers
// encoding the decision in magic values.
type Intent interface {
	isIntent()
}

// BeginEdit marks the turn at Index as under edit. It claims no dispatch
// slot; the client renders an editor while the engine stays idle.
type BeginEdit struct {
	Index int
}

// CancelEdit abandons the edit without touching the thread.
type CancelEdit struct{}

// CommitEdit replaces the content of the turn at Index. Committing a user
// turn discards every later turn and dispatches the truncated history for a
// fresh reply; committing an assistant turn rewrites it in place and only
// persists.
type CommitEdit struct {
	Index   int
	Content string
}

func (BeginEdit) isIntent()  {}
func (CancelEdit) isIntent() {}
func (CommitEdit) isIntent() {}

// Editing returns the index currently under edit, or -1.
func (e *Engine) Editing() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.editing
}

// Apply executes an edit intent against the thread.
func (e *Engine) Apply(ctx context.Context, intent Intent) (chat.Thread, error) {
	switch it := intent.(type) {
	case BeginEdit:
		return e.beginEdit(it.Index)
	case CancelEdit:
		return e.cancelEdit()
	case CommitEdit:
		return e.commitEdit(ctx, it)
	default:
		return e.Thread(), ErrInvalidIndex
	}
}

func (e *Engine) beginEdit(index int) (chat.Thread, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if index < 0 || index >= len(e.thread.Turns) {
		return *e.thread.Clone(), ErrInvalidIndex
	}
	if e.thread.Turns[index].Role == chat.RoleSystem {
		return *e.thread.Clone(), ErrSystemTurn
	}
	e.editing = index
	return *e.thread.Clone(), nil
}

func (e *Engine) cancelEdit() (chat.Thread, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.editing = -1
	return *e.thread.Clone(), nil
}

func (e *Engine) commitEdit(ctx context.Context, it CommitEdit) (chat.Thread, error) {
	if err := e.beginDispatch(); err != nil {
		return e.Thread(), err
	}
	defer e.endDispatch()

	e.mu.Lock()
	e.editing = -1
	if it.Index < 0 || it.Index >= len(e.thread.Turns) {
		e.mu.Unlock()
		return e.Thread(), ErrInvalidIndex
	}
	turn := e.thread.Turns[it.Index]
	if turn.Role == chat.RoleSystem {
		e.mu.Unlock()
		return e.Thread(), ErrSystemTurn
	}

	if turn.Role == chat.RoleAssistant {
		e.thread.Turns[it.Index].Content = it.Content
		turns := chat.CloneTurns(e.thread.Turns)
		e.mu.Unlock()
		e.persist(turns, "")
		return e.Thread(), nil
	}

	// User turn: everything after it was produced in reply to the old
	// content, so it goes too, and the truncated history is re-dispatched.
	e.thread.Turns = e.thread.Turns[:it.Index+1]
	e.thread.Turns[it.Index].Content = it.Content
	e.thread.Turns[it.Index].CreatedAt = time.Now().UTC()
	snapshot := chat.CloneTurns(e.thread.Turns)
	e.mu.Unlock()

	return e.dispatchAndSettle(ctx, snapshot, "", it.Content)
}
