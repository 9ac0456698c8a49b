package persist

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"faden/internal/chat"
	"faden/internal/storage"
)

// fakeRemote implements Remote with a switchable failure mode.
type fakeRemote struct {
	threads map[string]chat.Thread
	nextID  int
	down    bool
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{threads: make(map[string]chat.Thread)}
}

var errRemoteDown = errors.New("remote store unreachable")

func (r *fakeRemote) CreateThread(title string) (chat.Thread, error) {
	if r.down {
		return chat.Thread{}, errRemoteDown
	}
	r.nextID++
	t := chat.Thread{
		ID:        fmt.Sprintf("remote-%d", r.nextID),
		Title:     title,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	r.threads[t.ID] = t
	return t, nil
}

func (r *fakeRemote) GetThread(id string) (chat.Thread, error) {
	if r.down {
		return chat.Thread{}, errRemoteDown
	}
	t, ok := r.threads[id]
	if !ok {
		return chat.Thread{}, storage.ErrNotFound
	}
	return t, nil
}

func (r *fakeRemote) ListThreads() ([]chat.Thread, error) {
	if r.down {
		return nil, errRemoteDown
	}
	var out []chat.Thread
	for _, t := range r.threads {
		out = append(out, t)
	}
	return out, nil
}

func (r *fakeRemote) SaveThread(id string, turns []chat.Turn, title string) (chat.Thread, error) {
	if r.down {
		return chat.Thread{}, errRemoteDown
	}
	t, ok := r.threads[id]
	if !ok {
		return chat.Thread{}, storage.ErrNotFound
	}
	t.Turns = chat.CloneTurns(turns)
	if title != "" {
		t.Title = title
	}
	t.UpdatedAt = time.Now().UTC()
	r.threads[id] = t
	return t, nil
}

func (r *fakeRemote) DeleteThread(id string) error {
	if r.down {
		return errRemoteDown
	}
	if _, ok := r.threads[id]; !ok {
		return storage.ErrNotFound
	}
	delete(r.threads, id)
	return nil
}

func newTestAdapter(t *testing.T) (*Adapter, *fakeRemote) {
	t.Helper()
	cache, err := NewFileCache(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileCache failed: %v", err)
	}
	remote := newFakeRemote()
	return NewAdapter(remote, cache), remote
}

func TestAdapter_ConnectedRoundTrip(t *testing.T) {
	a, _ := newTestAdapter(t)

	created, err := a.Create("Hallo")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	turns := []chat.Turn{
		{Role: chat.RoleUser, Content: "Hallo"},
		{Role: chat.RoleAssistant, Content: "Hi"},
	}
	if _, err := a.Save(created.ID, turns, "Hallo"); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := a.Load(created.ID)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(got.Turns) != 2 {
		t.Fatalf("turn count = %d, want 2", len(got.Turns))
	}
	for i := range turns {
		if got.Turns[i].Role != turns[i].Role || got.Turns[i].Content != turns[i].Content {
			t.Errorf("turn %d = %+v, want %+v", i, got.Turns[i], turns[i])
		}
	}
	if a.Mode() != ModeConnected {
		t.Errorf("Mode() = %v, want connected", a.Mode())
	}
}

func TestAdapter_DegradesOnRemoteFailure(t *testing.T) {
	a, remote := newTestAdapter(t)

	created, _ := a.Create("t")
	a.Save(created.ID, []chat.Turn{{Role: chat.RoleUser, Content: "before outage"}}, "")

	remote.down = true

	// Load falls back to the cached copy and the adapter degrades.
	got, err := a.Load(created.ID)
	if err != nil {
		t.Fatalf("Load during outage failed: %v", err)
	}
	if len(got.Turns) != 1 || got.Turns[0].Content != "before outage" {
		t.Errorf("cached thread = %+v, want pre-outage state", got.Turns)
	}
	if a.Mode() != ModeDegraded {
		t.Errorf("Mode() = %v, want degraded", a.Mode())
	}
}

func TestAdapter_DegradedWritesStayLocal(t *testing.T) {
	a, remote := newTestAdapter(t)
	created, _ := a.Create("t")
	a.Save(created.ID, []chat.Turn{{Role: chat.RoleUser, Content: "v1"}}, "")

	remote.down = true
	a.Load(created.ID) // trigger degradation

	if _, err := a.Save(created.ID, []chat.Turn{{Role: chat.RoleUser, Content: "v2"}}, ""); err != nil {
		t.Fatalf("degraded Save failed: %v", err)
	}

	// The cache has the new data...
	got, _ := a.Load(created.ID)
	if got.Turns[0].Content != "v2" {
		t.Errorf("degraded load = %q, want v2", got.Turns[0].Content)
	}

	// ...and the remote never saw it, even after it comes back.
	remote.down = false
	remoteCopy := remote.threads[created.ID]
	if len(remoteCopy.Turns) != 1 || remoteCopy.Turns[0].Content != "v1" {
		t.Errorf("remote copy = %+v, want untouched v1", remoteCopy.Turns)
	}
	// No automatic reconciliation: the adapter stays degraded.
	if a.Mode() != ModeDegraded {
		t.Errorf("Mode() = %v, want still degraded", a.Mode())
	}
}

func TestAdapter_NotFoundDoesNotDegrade(t *testing.T) {
	a, _ := newTestAdapter(t)
	_, err := a.Load("missing")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Load(missing) = %v, want ErrNotFound", err)
	}
	if a.Mode() != ModeConnected {
		t.Errorf("Mode() = %v, want connected after plain not-found", a.Mode())
	}
}

func TestAdapter_LoadAllWarmsCache(t *testing.T) {
	a, remote := newTestAdapter(t)
	t1, _ := a.Create("eins")
	t2, _ := a.Create("zwei")
	a.Save(t1.ID, []chat.Turn{{Role: chat.RoleUser, Content: "x"}}, "")

	if _, err := a.LoadAll(); err != nil {
		t.Fatalf("LoadAll failed: %v", err)
	}

	remote.down = true
	threads, err := a.LoadAll()
	if err != nil {
		t.Fatalf("degraded LoadAll failed: %v", err)
	}
	if len(threads) != 2 {
		t.Fatalf("cached thread count = %d, want 2", len(threads))
	}
	ids := map[string]bool{}
	for _, th := range threads {
		ids[th.ID] = true
	}
	if !ids[t1.ID] || !ids[t2.ID] {
		t.Errorf("cache missing threads: got %v", ids)
	}
}

func TestAdapter_Delete(t *testing.T) {
	a, _ := newTestAdapter(t)
	created, _ := a.Create("t")

	if err := a.Delete(created.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := a.Load(created.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Load after delete = %v, want ErrNotFound", err)
	}
}
