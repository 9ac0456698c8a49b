// Package persist layers a local fallback cache over the authoritative store.
// When the remote store fails, the adapter drops into degraded mode: the
// session continues against the cache only and is never reconciled back —
// callers surface the mode to the user instead of diverging silently.
package persist

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"faden/internal/chat"
	"faden/internal/storage"
)

func isNotFound(err error) bool {
	return errors.Is(err, storage.ErrNotFound)
}

// Mode is the adapter's two-state connectivity model.
type Mode string

const (
	ModeConnected Mode = "connected"
	ModeDegraded  Mode = "degraded"
)

// Remote is the authoritative store contract, implemented by storage.Store.
type Remote interface {
	CreateThread(title string) (chat.Thread, error)
	GetThread(id string) (chat.Thread, error)
	ListThreads() ([]chat.Thread, error)
	SaveThread(id string, turns []chat.Turn, title string) (chat.Thread, error)
	DeleteThread(id string) error
}

// Adapter routes thread persistence to the remote store while connected and
// to the file cache once degraded. Save is non-idempotent under concurrent
// access from multiple sessions on the same thread: the write pattern is a
// full replace and the last writer wins.
type Adapter struct {
	remote Remote
	cache  *FileCache

	mu   sync.RWMutex
	mode Mode
}

// NewAdapter starts in connected mode.
func NewAdapter(remote Remote, cache *FileCache) *Adapter {
	return &Adapter{remote: remote, cache: cache, mode: ModeConnected}
}

// Mode reports the current connectivity state.
func (a *Adapter) Mode() Mode {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.mode
}

// degrade flips to degraded mode once; the adapter never flips back on its
// own (degraded data is not merged into the remote store).
func (a *Adapter) degrade(op string, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.mode == ModeDegraded {
		return
	}
	a.mode = ModeDegraded
	slog.Warn("remote store unreachable, switching to local cache", "op", op, "error", err)
}

// Create makes a new empty thread.
func (a *Adapter) Create(title string) (chat.Thread, error) {
	if a.Mode() == ModeConnected {
		t, err := a.remote.CreateThread(title)
		if err == nil {
			if cerr := a.cache.Put(t); cerr != nil {
				slog.Warn("caching created thread failed", "thread", t.ID, "error", cerr)
			}
			return t, nil
		}
		a.degrade("create", err)
	}

	now := time.Now().UTC()
	t := chat.Thread{ID: uuid.New().String(), Title: title, CreatedAt: now, UpdatedAt: now}
	if err := a.cache.Put(t); err != nil {
		return chat.Thread{}, err
	}
	return t, nil
}

// Load fetches one thread, falling back to the cache on remote failure.
// A storage.ErrNotFound from a healthy remote is passed through unchanged;
// only transport/store failures trigger degradation.
func (a *Adapter) Load(id string) (chat.Thread, error) {
	if a.Mode() == ModeConnected {
		t, err := a.remote.GetThread(id)
		if err == nil {
			return t, nil
		}
		if isNotFound(err) {
			return chat.Thread{}, err
		}
		a.degrade("load", err)
	}
	return a.cache.Get(id)
}

// LoadAll fetches every thread. While connected the result also warms the
// fallback cache so a later outage starts from fresh data.
func (a *Adapter) LoadAll() ([]chat.Thread, error) {
	if a.Mode() == ModeConnected {
		threads, err := a.remote.ListThreads()
		if err == nil {
			a.warmCache(threads)
			return threads, nil
		}
		a.degrade("loadAll", err)
	}
	return a.cache.List()
}

// warmCache writes threads to the file cache concurrently. Failures are
// logged, not surfaced: the cache is best effort while the remote is healthy.
func (a *Adapter) warmCache(threads []chat.Thread) {
	var g errgroup.Group
	g.SetLimit(4)
	for _, t := range threads {
		g.Go(func() error {
			return a.cache.Put(t)
		})
	}
	if err := g.Wait(); err != nil {
		slog.Warn("warming fallback cache failed", "error", err)
	}
}

// Save replaces a thread's turn list (and optionally its title). In degraded
// mode the write lands in the cache only.
func (a *Adapter) Save(id string, turns []chat.Turn, title string) (chat.Thread, error) {
	if a.Mode() == ModeConnected {
		t, err := a.remote.SaveThread(id, turns, title)
		if err == nil {
			if cerr := a.cache.Put(t); cerr != nil {
				slog.Warn("refreshing cached thread failed", "thread", id, "error", cerr)
			}
			return t, nil
		}
		if isNotFound(err) {
			return chat.Thread{}, err
		}
		a.degrade("save", err)
	}

	t, err := a.cache.Get(id)
	if err != nil {
		return chat.Thread{}, err
	}
	t.Turns = chat.CloneTurns(turns)
	if title != "" {
		t.Title = title
	}
	t.UpdatedAt = time.Now().UTC()
	if err := a.cache.Put(t); err != nil {
		return chat.Thread{}, err
	}
	return t, nil
}

// Delete removes a thread from the active store and always clears the cache
// copy.
func (a *Adapter) Delete(id string) error {
	if a.Mode() == ModeConnected {
		err := a.remote.DeleteThread(id)
		if err != nil && !isNotFound(err) {
			a.degrade("delete", err)
		} else if err != nil {
			return err
		}
	}
	return a.cache.Delete(id)
}
