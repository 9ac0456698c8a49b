// Package storage persists threads, messages, memory records, and star
// annotations in SQLite. It is the authoritative store; the persist package
// layers the degraded-mode fallback on top of it.
package storage

import (
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"faden/internal/chat"
	"faden/internal/memory"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database with methods for threads and memories.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending
// migrations. Pass ":memory:" as dataDir for an in-memory database (tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "faden.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't run yet.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// --- Threads ---

// CreateThread inserts an empty thread with the given title.
func (s *Store) CreateThread(title string) (chat.Thread, error) {
	now := time.Now().UTC()
	t := chat.Thread{
		ID:        uuid.New().String(),
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := s.db.Exec(`INSERT INTO threads (id, title, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		t.ID, t.Title, now.Format(time.RFC3339), now.Format(time.RFC3339))
	if err != nil {
		return chat.Thread{}, fmt.Errorf("inserting thread: %w", err)
	}
	return t, nil
}

// GetThread loads a thread with its full ordered turn list.
func (s *Store) GetThread(id string) (chat.Thread, error) {
	var t chat.Thread
	var createdAt, updatedAt string
	err := s.db.QueryRow(`SELECT id, title, created_at, updated_at FROM threads WHERE id = ?`, id).
		Scan(&t.ID, &t.Title, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return chat.Thread{}, ErrNotFound
	}
	if err != nil {
		return chat.Thread{}, err
	}
	if t.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return chat.Thread{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if t.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return chat.Thread{}, fmt.Errorf("parsing updated_at: %w", err)
	}

	turns, err := s.loadTurns(id)
	if err != nil {
		return chat.Thread{}, err
	}
	t.Turns = turns
	return t, nil
}

func (s *Store) loadTurns(threadID string) ([]chat.Turn, error) {
	rows, err := s.db.Query(`
		SELECT role, content, images, files, created_at
		FROM messages WHERE thread_id = ? ORDER BY position ASC`, threadID)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var turns []chat.Turn
	for rows.Next() {
		var turn chat.Turn
		var role, imagesJSON, filesJSON, createdAt string
		if err := rows.Scan(&role, &turn.Content, &imagesJSON, &filesJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		turn.Role = chat.Role(role)
		if err := json.Unmarshal([]byte(imagesJSON), &turn.Images); err != nil {
			return nil, fmt.Errorf("decoding images: %w", err)
		}
		if err := json.Unmarshal([]byte(filesJSON), &turn.Files); err != nil {
			return nil, fmt.Errorf("decoding files: %w", err)
		}
		if turn.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("parsing message created_at: %w", err)
		}
		turns = append(turns, turn)
	}
	return turns, rows.Err()
}

// ListThreads returns all threads with their turns, newest first.
func (s *Store) ListThreads() ([]chat.Thread, error) {
	rows, err := s.db.Query(`SELECT id FROM threads ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("querying threads: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var threads []chat.Thread
	for _, id := range ids {
		t, err := s.GetThread(id)
		if err != nil {
			return nil, err
		}
		threads = append(threads, t)
	}
	return threads, nil
}

// SaveThread replaces a thread's entire turn list in one transaction: delete
// all rows, bulk-insert the new list, bump updated_at. Concurrent saves to
// the same thread are not serialized beyond the transaction itself; the last
// writer wins. An optional non-empty title updates the thread title.
func (s *Store) SaveThread(id string, turns []chat.Turn, title string) (chat.Thread, error) {
	var exists int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM threads WHERE id = ?", id).Scan(&exists); err != nil {
		return chat.Thread{}, err
	}
	if exists == 0 {
		return chat.Thread{}, ErrNotFound
	}

	tx, err := s.db.Begin()
	if err != nil {
		return chat.Thread{}, fmt.Errorf("beginning save transaction: %w", err)
	}

	if _, err := tx.Exec(`DELETE FROM messages WHERE thread_id = ?`, id); err != nil {
		tx.Rollback()
		return chat.Thread{}, fmt.Errorf("clearing messages: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO messages (id, thread_id, role, content, images, files, position, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return chat.Thread{}, fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for i, turn := range turns {
		imagesJSON, err := json.Marshal(turn.Images)
		if err != nil {
			tx.Rollback()
			return chat.Thread{}, fmt.Errorf("encoding images: %w", err)
		}
		filesJSON, err := json.Marshal(turn.Files)
		if err != nil {
			tx.Rollback()
			return chat.Thread{}, fmt.Errorf("encoding files: %w", err)
		}
		createdAt := turn.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		if _, err := stmt.Exec(uuid.New().String(), id, string(turn.Role), turn.Content,
			string(imagesJSON), string(filesJSON), i, createdAt.Format(time.RFC3339Nano)); err != nil {
			tx.Rollback()
			return chat.Thread{}, fmt.Errorf("inserting message %d: %w", i, err)
		}
	}

	now := time.Now().UTC().Format(time.RFC3339)
	if title != "" {
		_, err = tx.Exec(`UPDATE threads SET title = ?, updated_at = ? WHERE id = ?`, title, now, id)
	} else {
		_, err = tx.Exec(`UPDATE threads SET updated_at = ? WHERE id = ?`, now, id)
	}
	if err != nil {
		tx.Rollback()
		return chat.Thread{}, fmt.Errorf("updating thread: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return chat.Thread{}, fmt.Errorf("committing save: %w", err)
	}

	return s.GetThread(id)
}

// DeleteThread removes a thread, its messages, and its star annotations.
func (s *Store) DeleteThread(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning delete transaction: %w", err)
	}

	res, err := tx.Exec(`DELETE FROM threads WHERE id = ?`, id)
	if err != nil {
		tx.Rollback()
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		tx.Rollback()
		return err
	}
	if n == 0 {
		tx.Rollback()
		return ErrNotFound
	}

	if _, err := tx.Exec(`DELETE FROM messages WHERE thread_id = ?`, id); err != nil {
		tx.Rollback()
		return err
	}
	if _, err := tx.Exec(`DELETE FROM stars WHERE thread_id = ?`, id); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit()
}

// --- Memories ---

// SaveMemory upserts a record by key. An existing record for the same key is
// replaced in place, keeping its ID.
func (s *Store) SaveMemory(r memory.Record) (memory.Record, error) {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`
		INSERT INTO memories (id, key, value, category, created_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, category = excluded.category`,
		r.ID, r.Key, r.Value, string(r.Category), r.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return memory.Record{}, fmt.Errorf("saving memory %q: %w", r.Key, err)
	}

	// The upsert may have kept the original row's ID; read it back.
	var id, createdAt string
	if err := s.db.QueryRow(`SELECT id, created_at FROM memories WHERE key = ?`, r.Key).Scan(&id, &createdAt); err != nil {
		return memory.Record{}, err
	}
	r.ID = id
	if r.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return memory.Record{}, fmt.Errorf("parsing memory created_at: %w", err)
	}
	return r, nil
}

// ListMemories returns all records ordered by creation time.
func (s *Store) ListMemories() ([]memory.Record, error) {
	rows, err := s.db.Query(`SELECT id, key, value, category, created_at FROM memories ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("querying memories: %w", err)
	}
	defer rows.Close()

	var records []memory.Record
	for rows.Next() {
		var r memory.Record
		var category, createdAt string
		if err := rows.Scan(&r.ID, &r.Key, &r.Value, &category, &createdAt); err != nil {
			return nil, err
		}
		r.Category = memory.Category(category)
		if r.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("parsing memory created_at: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// DeleteMemory removes a record by ID.
func (s *Store) DeleteMemory(id string) error {
	res, err := s.db.Exec(`DELETE FROM memories WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Stars ---

// ToggleStar flips the star annotation for (threadID, index) and returns the
// new state.
func (s *Store) ToggleStar(threadID string, index int) (bool, error) {
	res, err := s.db.Exec(`DELETE FROM stars WHERE thread_id = ? AND message_index = ?`, threadID, index)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		return false, nil
	}

	_, err = s.db.Exec(`INSERT INTO stars (thread_id, message_index, created_at) VALUES (?, ?, ?)`,
		threadID, index, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return false, fmt.Errorf("inserting star: %w", err)
	}
	return true, nil
}

// ListStars returns the starred message indexes for a thread in ascending order.
func (s *Store) ListStars(threadID string) ([]int, error) {
	rows, err := s.db.Query(`SELECT message_index FROM stars WHERE thread_id = ? ORDER BY message_index ASC`, threadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var indexes []int
	for rows.Next() {
		var idx int
		if err := rows.Scan(&idx); err != nil {
			return nil, err
		}
		indexes = append(indexes, idx)
	}
	return indexes, rows.Err()
}
