package storage

import (
	"errors"
	"testing"

	"faden/internal/chat"
	"faden/internal/memory"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateAndGetThread(t *testing.T) {
	s := openTestStore(t)

	created, err := s.CreateThread("Hallo")
	if err != nil {
		t.Fatalf("CreateThread failed: %v", err)
	}
	if created.ID == "" {
		t.Fatal("CreateThread returned empty ID")
	}

	got, err := s.GetThread(created.ID)
	if err != nil {
		t.Fatalf("GetThread failed: %v", err)
	}
	if got.Title != "Hallo" {
		t.Errorf("Title = %q, want %q", got.Title, "Hallo")
	}
	if len(got.Turns) != 0 {
		t.Errorf("new thread has %d turns, want 0", len(got.Turns))
	}
}

func TestGetThread_NotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetThread("missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("GetThread(missing) = %v, want ErrNotFound", err)
	}
}

func TestSaveThread_RoundTrip(t *testing.T) {
	s := openTestStore(t)
	created, err := s.CreateThread("")
	if err != nil {
		t.Fatalf("CreateThread failed: %v", err)
	}

	turns := []chat.Turn{
		{Role: chat.RoleSystem, Content: "context"},
		{Role: chat.RoleUser, Content: "Hallo", Images: []chat.Image{{Data: "aGk=", MimeType: "image/png"}}},
		{Role: chat.RoleAssistant, Content: "Hi! Wie kann ich helfen?"},
	}

	if _, err := s.SaveThread(created.ID, turns, "Hallo"); err != nil {
		t.Fatalf("SaveThread failed: %v", err)
	}

	got, err := s.GetThread(created.ID)
	if err != nil {
		t.Fatalf("GetThread failed: %v", err)
	}
	if got.Title != "Hallo" {
		t.Errorf("Title = %q, want %q", got.Title, "Hallo")
	}
	if len(got.Turns) != 3 {
		t.Fatalf("turn count = %d, want 3", len(got.Turns))
	}
	for i := range turns {
		if got.Turns[i].Role != turns[i].Role || got.Turns[i].Content != turns[i].Content {
			t.Errorf("turn %d = %s/%q, want %s/%q",
				i, got.Turns[i].Role, got.Turns[i].Content, turns[i].Role, turns[i].Content)
		}
	}
	if len(got.Turns[1].Images) != 1 || got.Turns[1].Images[0].MimeType != "image/png" {
		t.Errorf("turn 1 images = %+v, want one png attachment", got.Turns[1].Images)
	}
}

func TestSaveThread_FullReplace(t *testing.T) {
	s := openTestStore(t)
	created, _ := s.CreateThread("t")

	first := []chat.Turn{
		{Role: chat.RoleUser, Content: "a"},
		{Role: chat.RoleAssistant, Content: "b"},
		{Role: chat.RoleUser, Content: "c"},
	}
	if _, err := s.SaveThread(created.ID, first, ""); err != nil {
		t.Fatalf("first SaveThread failed: %v", err)
	}

	// A shorter list fully replaces the old one.
	second := []chat.Turn{{Role: chat.RoleUser, Content: "only"}}
	if _, err := s.SaveThread(created.ID, second, ""); err != nil {
		t.Fatalf("second SaveThread failed: %v", err)
	}

	got, err := s.GetThread(created.ID)
	if err != nil {
		t.Fatalf("GetThread failed: %v", err)
	}
	if len(got.Turns) != 1 || got.Turns[0].Content != "only" {
		t.Errorf("turns = %+v, want single %q turn", got.Turns, "only")
	}
}

func TestSaveThread_EmptyList(t *testing.T) {
	s := openTestStore(t)
	created, _ := s.CreateThread("t")
	if _, err := s.SaveThread(created.ID, []chat.Turn{{Role: chat.RoleUser, Content: "x"}}, ""); err != nil {
		t.Fatal(err)
	}

	// Persisting an empty list keeps the thread row itself.
	if _, err := s.SaveThread(created.ID, nil, ""); err != nil {
		t.Fatalf("SaveThread(empty) failed: %v", err)
	}
	got, err := s.GetThread(created.ID)
	if err != nil {
		t.Fatalf("thread should survive an empty save: %v", err)
	}
	if len(got.Turns) != 0 {
		t.Errorf("turn count = %d, want 0", len(got.Turns))
	}
}

func TestSaveThread_UnknownThread(t *testing.T) {
	s := openTestStore(t)
	_, err := s.SaveThread("missing", nil, "")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("SaveThread(missing) = %v, want ErrNotFound", err)
	}
}

func TestDeleteThread(t *testing.T) {
	s := openTestStore(t)
	created, _ := s.CreateThread("t")
	s.SaveThread(created.ID, []chat.Turn{{Role: chat.RoleUser, Content: "x"}}, "")
	s.ToggleStar(created.ID, 0)

	if err := s.DeleteThread(created.ID); err != nil {
		t.Fatalf("DeleteThread failed: %v", err)
	}
	if _, err := s.GetThread(created.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetThread after delete = %v, want ErrNotFound", err)
	}
	if err := s.DeleteThread(created.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second DeleteThread = %v, want ErrNotFound", err)
	}
}

func TestListThreads(t *testing.T) {
	s := openTestStore(t)
	a, _ := s.CreateThread("a")
	b, _ := s.CreateThread("b")

	threads, err := s.ListThreads()
	if err != nil {
		t.Fatalf("ListThreads failed: %v", err)
	}
	if len(threads) != 2 {
		t.Fatalf("thread count = %d, want 2", len(threads))
	}
	ids := map[string]bool{threads[0].ID: true, threads[1].ID: true}
	if !ids[a.ID] || !ids[b.ID] {
		t.Errorf("ListThreads missing created ids: %v", ids)
	}
}

func TestMemories_UpsertByKey(t *testing.T) {
	s := openTestStore(t)

	first, err := s.SaveMemory(memory.Record{Key: "name", Value: "Anna", Category: memory.CategoryPersonal})
	if err != nil {
		t.Fatalf("SaveMemory failed: %v", err)
	}

	second, err := s.SaveMemory(memory.Record{Key: "name", Value: "Annabelle", Category: memory.CategoryPersonal})
	if err != nil {
		t.Fatalf("second SaveMemory failed: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("upsert changed ID: %q -> %q", first.ID, second.ID)
	}

	records, err := s.ListMemories()
	if err != nil {
		t.Fatalf("ListMemories failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("record count = %d, want 1", len(records))
	}
	if records[0].Value != "Annabelle" {
		t.Errorf("value = %q, want %q", records[0].Value, "Annabelle")
	}
}

func TestDeleteMemory(t *testing.T) {
	s := openTestStore(t)
	r, _ := s.SaveMemory(memory.Record{Key: "location", Value: "Berlin", Category: memory.CategoryContext})

	if err := s.DeleteMemory(r.ID); err != nil {
		t.Fatalf("DeleteMemory failed: %v", err)
	}
	if err := s.DeleteMemory(r.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second DeleteMemory = %v, want ErrNotFound", err)
	}
}

func TestToggleStar(t *testing.T) {
	s := openTestStore(t)
	created, _ := s.CreateThread("t")

	on, err := s.ToggleStar(created.ID, 2)
	if err != nil {
		t.Fatalf("ToggleStar failed: %v", err)
	}
	if !on {
		t.Error("first toggle = false, want true")
	}

	stars, err := s.ListStars(created.ID)
	if err != nil {
		t.Fatalf("ListStars failed: %v", err)
	}
	if len(stars) != 1 || stars[0] != 2 {
		t.Errorf("stars = %v, want [2]", stars)
	}

	off, err := s.ToggleStar(created.ID, 2)
	if err != nil {
		t.Fatalf("second ToggleStar failed: %v", err)
	}
	if off {
		t.Error("second toggle = true, want false")
	}
	stars, _ = s.ListStars(created.ID)
	if len(stars) != 0 {
		t.Errorf("stars after untoggle = %v, want empty", stars)
	}
}
