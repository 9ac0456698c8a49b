// Package engine applies user-initiated operations to a thread: send, edit,
// delete, regenerate, star. It enforces at most one in-flight provider
// dispatch per thread, truncates downstream history on structural edits, and
// drives persistence and memory extraction.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"faden/internal/attach"
	"faden/internal/chat"
	"faden/internal/gateway"
	"faden/internal/memory"
)

// State is the engine's dispatch guard. Transitions are Idle → Dispatching →
// Idle; everything that would double-dispatch fails with ErrBusy instead of
// silently no-opping so callers can surface it.
type State string

const (
	StateIdle        State = "idle"
	StateDispatching State = "dispatching"
)

var (
	// ErrBusy is returned when an operation needs the dispatch slot while a
	// provider call is in flight.
	ErrBusy = errors.New("a request is already in flight for this thread")
	// ErrInvalidIndex is returned for operations on a turn that does not exist.
	ErrInvalidIndex = errors.New("no message at that index")
	// ErrNotRegenerable is returned when the trailing turn is not an
	// assistant turn with at least one prior turn.
	ErrNotRegenerable = errors.New("thread does not end in a regenerable assistant turn")
	// ErrSystemTurn is returned for edit/star operations aimed at the seeded
	// system turn, which is not a visible chat bubble.
	ErrSystemTurn = errors.New("the system turn cannot be modified")
)

// Store is the slice of the persistence adapter the engine drives.
type Store interface {
	Load(id string) (chat.Thread, error)
	Save(id string, turns []chat.Turn, title string) (chat.Thread, error)
	Create(title string) (chat.Thread, error)
}

// StarStore persists star annotations independently of message content.
type StarStore interface {
	ToggleStar(threadID string, index int) (bool, error)
}

// MemoryStore persists extracted facts.
type MemoryStore interface {
	SaveMemory(r memory.Record) (memory.Record, error)
	ListMemories() ([]memory.Record, error)
}

// Dispatcher is the gateway contract.
type Dispatcher interface {
	Complete(ctx context.Context, clientID string, req gateway.Request) (gateway.Result, error)
}

// Deps bundles the engine's collaborators.
type Deps struct {
	Store    Store
	Stars    StarStore
	Memories MemoryStore
	Gateway  Dispatcher
	// ClientID keys the rate-limit window for this session.
	ClientID string
}

// Input is the payload of a send operation.
type Input struct {
	Text   string
	Images []chat.Image
	Files  []chat.File
}

// Engine exclusively owns one in-memory thread during an editing session.
// The persistence adapter owns the durable copy.
type Engine struct {
	deps Deps

	mu      sync.Mutex
	thread  chat.Thread
	state   State
	editing int // index under edit, -1 when none
}

// Open loads an existing thread into a new engine session.
func Open(deps Deps, threadID string) (*Engine, error) {
	t, err := deps.Store.Load(threadID)
	if err != nil {
		return nil, err
	}
	return &Engine{deps: deps, thread: t, state: StateIdle, editing: -1}, nil
}

// StartThread creates a fresh thread. Stored memory records are summarized
// into a leading system turn that is sent to the provider but never rendered.
func StartThread(deps Deps) (*Engine, error) {
	t, err := deps.Store.Create("")
	if err != nil {
		return nil, err
	}

	if deps.Memories != nil {
		records, err := deps.Memories.ListMemories()
		if err != nil {
			slog.Warn("loading memories for thread seed failed", "error", err)
		} else if seed, ok := memory.SeedTurn(records); ok {
			seed.CreatedAt = time.Now().UTC()
			t, err = deps.Store.Save(t.ID, []chat.Turn{seed}, "")
			if err != nil {
				return nil, fmt.Errorf("seeding system turn: %w", err)
			}
		}
	}

	return &Engine{deps: deps, thread: t, state: StateIdle, editing: -1}, nil
}

// Thread returns a deep copy of the current thread.
func (e *Engine) Thread() chat.Thread {
	e.mu.Lock()
	defer e.mu.Unlock()
	return *e.thread.Clone()
}

// State reports the dispatch guard so callers can hide affordances while a
// request is in flight.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Busy reports whether a dispatch is in flight.
func (e *Engine) Busy() bool { return e.State() == StateDispatching }

// beginDispatch claims the dispatch slot.
func (e *Engine) beginDispatch() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateIdle {
		return ErrBusy
	}
	e.state = StateDispatching
	return nil
}

// endDispatch releases the dispatch slot. Always deferred right after a
// successful beginDispatch so failures cannot leave the engine stuck.
func (e *Engine) endDispatch() {
	e.mu.Lock()
	e.state = StateIdle
	e.mu.Unlock()
}

// Send appends a user turn and dispatches the full history for an assistant
// reply. On the thread's first user turn the title is derived from the text.
// On dispatch failure a synthetic assistant turn carries the sanitized error
// and the thread stays usable; the dispatch slot is always released.
func (e *Engine) Send(ctx context.Context, in Input) (chat.Thread, error) {
	if err := attach.Validate(in.Files); err != nil {
		return e.Thread(), err
	}
	if err := e.beginDispatch(); err != nil {
		return e.Thread(), err
	}
	defer e.endDispatch()

	e.mu.Lock()
	title := ""
	if e.thread.UserTurnCount() == 0 {
		title = chat.DeriveTitle(in.Text)
	}
	e.thread.Turns = append(e.thread.Turns, chat.Turn{
		Role:      chat.RoleUser,
		Content:   in.Text,
		Images:    in.Images,
		Files:     in.Files,
		CreatedAt: time.Now().UTC(),
	})
	snapshot := chat.CloneTurns(e.thread.Turns)
	e.mu.Unlock()

	return e.dispatchAndSettle(ctx, snapshot, title, in.Text)
}

// Regenerate discards the trailing assistant turn and requests a fresh reply
// for the remaining history. On failure the original trailing turn is
// restored so no partial state is ever visible.
func (e *Engine) Regenerate(ctx context.Context) (chat.Thread, error) {
	if err := e.beginDispatch(); err != nil {
		return e.Thread(), err
	}
	defer e.endDispatch()

	e.mu.Lock()
	n := len(e.thread.Turns)
	if n < 2 || e.thread.Turns[n-1].Role != chat.RoleAssistant {
		e.mu.Unlock()
		return e.Thread(), ErrNotRegenerable
	}
	removed := e.thread.Turns[n-1]
	e.thread.Turns = e.thread.Turns[:n-1]
	snapshot := chat.CloneTurns(e.thread.Turns)
	e.mu.Unlock()

	result, err := e.deps.Gateway.Complete(ctx, e.deps.ClientID, gateway.Request{Turns: e.foldForDispatch(snapshot)})
	if err != nil {
		e.mu.Lock()
		e.thread.Turns = append(e.thread.Turns, removed)
		e.mu.Unlock()
		return e.Thread(), err
	}

	e.mu.Lock()
	e.thread.Turns = append(e.thread.Turns, chat.Turn{
		Role:      chat.RoleAssistant,
		Content:   result.Content,
		CreatedAt: time.Now().UTC(),
	})
	turns := chat.CloneTurns(e.thread.Turns)
	e.mu.Unlock()

	e.persist(turns, "")
	return e.Thread(), nil
}

// DeleteMessage removes the turn at index. Deleting a user turn also removes
// everything after it, since assistant replies causally depend on it. The
// resulting list is persisted even when empty; the thread itself survives.
// The seeded system turn is immutable, like for edit and star.
func (e *Engine) DeleteMessage(index int) (chat.Thread, error) {
	if err := e.beginDispatch(); err != nil {
		return e.Thread(), err
	}
	defer e.endDispatch()

	e.mu.Lock()
	if index < 0 || index >= len(e.thread.Turns) {
		e.mu.Unlock()
		return e.Thread(), ErrInvalidIndex
	}
	if e.thread.Turns[index].Role == chat.RoleSystem {
		e.mu.Unlock()
		return e.Thread(), ErrSystemTurn
	}
	if e.thread.Turns[index].Role == chat.RoleUser {
		e.thread.Turns = e.thread.Turns[:index]
	} else {
		e.thread.Turns = append(e.thread.Turns[:index], e.thread.Turns[index+1:]...)
	}
	turns := chat.CloneTurns(e.thread.Turns)
	e.mu.Unlock()

	e.persist(turns, "")
	return e.Thread(), nil
}

// ToggleStar flips the star annotation for the turn at index. Stars are pure
// metadata: they do not participate in the dispatch guard and never trigger
// a dispatch.
func (e *Engine) ToggleStar(index int) (bool, error) {
	e.mu.Lock()
	if index < 0 || index >= len(e.thread.Turns) {
		e.mu.Unlock()
		return false, ErrInvalidIndex
	}
	if e.thread.Turns[index].Role == chat.RoleSystem {
		e.mu.Unlock()
		return false, ErrSystemTurn
	}
	threadID := e.thread.ID
	e.mu.Unlock()

	return e.deps.Stars.ToggleStar(threadID, index)
}

// dispatchAndSettle runs the gateway call for a send-shaped operation and
// merges the outcome: assistant turn plus persistence and memory extraction
// on success, a synthetic error turn on failure.
func (e *Engine) dispatchAndSettle(ctx context.Context, snapshot []chat.Turn, title, userText string) (chat.Thread, error) {
	result, err := e.deps.Gateway.Complete(ctx, e.deps.ClientID, gateway.Request{Turns: e.foldForDispatch(snapshot)})

	e.mu.Lock()
	if err != nil {
		e.thread.Turns = append(e.thread.Turns, chat.Turn{
			Role:      chat.RoleAssistant,
			Content:   gateway.UserMessage(err),
			CreatedAt: time.Now().UTC(),
		})
	} else {
		e.thread.Turns = append(e.thread.Turns, chat.Turn{
			Role:      chat.RoleAssistant,
			Content:   result.Content,
			CreatedAt: time.Now().UTC(),
		})
	}
	if title != "" {
		e.thread.Title = title
	}
	turns := chat.CloneTurns(e.thread.Turns)
	e.mu.Unlock()

	e.persist(turns, title)

	if err != nil {
		return e.Thread(), err
	}

	e.extractMemories(userText, result.Content)
	return e.Thread(), nil
}

// foldForDispatch builds the provider-bound history: file attachment text is
// folded into the turn content, the stored turns keep their original shape.
func (e *Engine) foldForDispatch(turns []chat.Turn) []chat.Turn {
	out := chat.CloneTurns(turns)
	for i := range out {
		if len(out[i].Files) == 0 {
			continue
		}
		folded, err := attach.Fold(out[i].Content, out[i].Files)
		if err != nil {
			slog.Warn("folding attachment text failed, sending plain content", "error", err)
			continue
		}
		out[i].Content = folded
		out[i].Files = nil
	}
	return out
}

// persist writes the turn list through the adapter. Persistence failures are
// logged, not surfaced: the adapter has already fallen back to the local
// cache by the time an error escapes it.
func (e *Engine) persist(turns []chat.Turn, title string) {
	e.mu.Lock()
	id := e.thread.ID
	e.mu.Unlock()

	saved, err := e.deps.Store.Save(id, turns, title)
	if err != nil {
		slog.Error("persisting thread failed", "thread", id, "error", err)
		return
	}

	e.mu.Lock()
	e.thread.Title = saved.Title
	e.thread.UpdatedAt = saved.UpdatedAt
	e.mu.Unlock()
}

// extractMemories runs the extraction pipeline over a completed turn pair and
// stores any candidates. Failures never affect the send result.
func (e *Engine) extractMemories(userText, assistantText string) {
	if e.deps.Memories == nil {
		return
	}
	for _, r := range memory.Extract(userText, assistantText) {
		if _, err := e.deps.Memories.SaveMemory(r); err != nil {
			slog.Warn("saving extracted memory failed", "key", r.Key, "error", err)
		}
	}
}
