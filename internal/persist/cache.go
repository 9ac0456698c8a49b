package persist

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"faden/internal/chat"
	"faden/internal/storage"
)

// FileCache is the local fallback store: one JSON file per thread in a cache
// directory. It mirrors the remote store's shape so a degraded session reads
// and writes the same data model.
type FileCache struct {
	dir string
	mu  sync.Mutex
}

// NewFileCache creates the cache directory if needed.
func NewFileCache(dir string) (*FileCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}
	return &FileCache{dir: dir}, nil
}

func (c *FileCache) path(id string) string {
	return filepath.Join(c.dir, id+".json")
}

// Put writes a thread to the cache, replacing any previous copy.
func (c *FileCache) Put(t chat.Thread) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding thread %s: %w", t.ID, err)
	}

	tmp := c.path(t.ID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing thread %s: %w", t.ID, err)
	}
	return os.Rename(tmp, c.path(t.ID))
}

// Get reads a thread from the cache. Returns storage.ErrNotFound when the
// thread has no cached copy.
func (c *FileCache) Get(id string) (chat.Thread, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(c.path(id))
	if os.IsNotExist(err) {
		return chat.Thread{}, storage.ErrNotFound
	}
	if err != nil {
		return chat.Thread{}, fmt.Errorf("reading cached thread %s: %w", id, err)
	}

	var t chat.Thread
	if err := json.Unmarshal(data, &t); err != nil {
		return chat.Thread{}, fmt.Errorf("decoding cached thread %s: %w", id, err)
	}
	return t, nil
}

// List returns all cached threads. Corrupt entries are skipped rather than
// failing the whole listing.
func (c *FileCache) List() ([]chat.Thread, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return nil, fmt.Errorf("reading cache directory: %w", err)
	}

	var threads []chat.Thread
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(c.dir, entry.Name()))
		if err != nil {
			continue
		}
		var t chat.Thread
		if err := json.Unmarshal(data, &t); err != nil {
			continue
		}
		threads = append(threads, t)
	}
	return threads, nil
}

// Delete removes a cached thread. Missing entries are not an error.
func (c *FileCache) Delete(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	err := os.Remove(c.path(id))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
