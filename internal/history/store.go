// Package history persists the call log and the contact list in a local
// SQLite database. Entries are append-only with in-place status updates
// keyed by entry id — never by position — and retention is capped.
package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// MaxEntries is the retention cap: after every insert the oldest entries
// beyond this count are evicted.
const MaxEntries = 50

// Call directions.
const (
	DirectionIncoming = "incoming"
	DirectionOutgoing = "outgoing"
)

// Entry statuses. A status is terminal once it reaches completed,
// missed, rejected, or failed.
const (
	StatusCalling   = "calling"
	StatusRinging   = "ringing"
	StatusConnected = "connected"
	StatusCompleted = "completed"
	StatusMissed    = "missed"
	StatusRejected  = "rejected"
	StatusFailed    = "failed"
)

// Entry is one call-history record.
type Entry struct {
	ID        string    `json:"id"`
	Peer      string    `json:"peer"`
	CallType  string    `json:"call_type"`
	Direction string    `json:"direction"`
	Status    string    `json:"status"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time,omitempty"`
	Duration  int64     `json:"duration"` // seconds, 0 unless completed
}

// Contact is one saved peer identity.
type Contact struct {
	ID      int64     `json:"id"`
	PubKey  string    `json:"pubkey"`
	Name    string    `json:"name,omitempty"`
	AddedAt time.Time `json:"added_at"`
}

// Store wraps the SQLite database holding history and contacts.
type Store struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
}

// Open opens or creates the store at dbPath, creating parent
// directories as needed.
func Open(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// WAL mode for concurrency between the call loop and history reads.
	if _, err := db.Exec(`
		PRAGMA foreign_keys = ON;
		PRAGMA journal_mode = WAL;
		PRAGMA busy_timeout = 5000;
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure database: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS call_history (
			id         TEXT PRIMARY KEY,
			peer       TEXT NOT NULL,
			call_type  TEXT NOT NULL,
			direction  TEXT NOT NULL,
			status     TEXT NOT NULL,
			start_time INTEGER NOT NULL,
			end_time   INTEGER DEFAULT 0,
			duration   INTEGER DEFAULT 0
		);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create history table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS contacts (
			id       INTEGER PRIMARY KEY AUTOINCREMENT,
			pubkey   TEXT NOT NULL UNIQUE,
			name     TEXT DEFAULT '',
			added_at INTEGER NOT NULL
		);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create contacts table: %w", err)
	}

	return &Store{db: db, path: dbPath}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Record inserts a new history entry and evicts anything beyond the
// retention cap, oldest first.
func (s *Store) Record(e Entry) error {
	if e.ID == "" {
		return fmt.Errorf("history: entry id is required")
	}
	if e.StartTime.IsZero() {
		e.StartTime = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(`
		INSERT INTO call_history (id, peer, call_type, direction, status, start_time, end_time, duration)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.Peer, e.CallType, e.Direction, e.Status, e.StartTime.UnixMilli(), unixOrZero(e.EndTime), e.Duration); err != nil {
		return fmt.Errorf("insert history entry: %w", err)
	}

	// Retention: keep only the MaxEntries most recent by start time.
	if _, err := s.db.Exec(`
		DELETE FROM call_history WHERE id NOT IN (
			SELECT id FROM call_history ORDER BY start_time DESC, id LIMIT ?
		)
	`, MaxEntries); err != nil {
		return fmt.Errorf("evict history entries: %w", err)
	}

	return nil
}

// UpdateStatus mutates the status of the entry with the given id.
func (s *Store) UpdateStatus(id, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`UPDATE call_history SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("update history status: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("history: entry %s not found", id)
	}
	return nil
}

// Finish stamps the terminal status and end time of an entry. Duration
// is end-start in whole seconds for completed calls and zero for every
// other terminal status; it is never negative.
func (s *Store) Finish(id, status string, end time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var startMillis int64
	if err := s.db.QueryRow(`SELECT start_time FROM call_history WHERE id = ?`, id).Scan(&startMillis); err != nil {
		if err == sql.ErrNoRows {
			return fmt.Errorf("history: entry %s not found", id)
		}
		return fmt.Errorf("finish history entry: %w", err)
	}

	var duration int64
	if status == StatusCompleted {
		duration = (end.UnixMilli() - startMillis) / 1000
		if duration < 0 {
			duration = 0
		}
	}

	if _, err := s.db.Exec(`
		UPDATE call_history SET status = ?, end_time = ?, duration = ? WHERE id = ?
	`, status, end.UnixMilli(), duration, id); err != nil {
		return fmt.Errorf("finish history entry: %w", err)
	}
	return nil
}

// Get returns a single entry by id.
func (s *Store) Get(id string) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRow(`
		SELECT id, peer, call_type, direction, status, start_time, end_time, duration
		FROM call_history WHERE id = ?
	`, id)
	e, err := scanEntry(row.Scan)
	if err == sql.ErrNoRows {
		return Entry{}, fmt.Errorf("history: entry %s not found", id)
	}
	return e, err
}

// List returns entries newest-first. limit <= 0 means all (at most the
// retention cap anyway).
func (s *Store) List(limit int) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		limit = MaxEntries
	}
	rows, err := s.db.Query(`
		SELECT id, peer, call_type, direction, status, start_time, end_time, duration
		FROM call_history ORDER BY start_time DESC, id LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Clear removes all history entries. Contacts are untouched.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`DELETE FROM call_history`)
	return err
}

// AddContact saves a peer identity, updating the display name if the
// pubkey already exists.
func (s *Store) AddContact(pubkey, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO contacts (pubkey, name, added_at) VALUES (?, ?, ?)
		ON CONFLICT(pubkey) DO UPDATE SET name = excluded.name
	`, pubkey, name, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("add contact: %w", err)
	}
	return nil
}

// ListContacts returns all contacts, most recently added first.
func (s *Store) ListContacts() ([]Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`SELECT id, pubkey, name, added_at FROM contacts ORDER BY added_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Contact
	for rows.Next() {
		var c Contact
		var added int64
		if err := rows.Scan(&c.ID, &c.PubKey, &c.Name, &added); err != nil {
			return nil, err
		}
		c.AddedAt = time.UnixMilli(added)
		out = append(out, c)
	}
	return out, rows.Err()
}

// RemoveContact deletes a contact by pubkey.
func (s *Store) RemoveContact(pubkey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`DELETE FROM contacts WHERE pubkey = ?`, pubkey)
	return err
}

func scanEntry(scan func(...any) error) (Entry, error) {
	var e Entry
	var start, end int64
	if err := scan(&e.ID, &e.Peer, &e.CallType, &e.Direction, &e.Status, &start, &end, &e.Duration); err != nil {
		return Entry{}, err
	}
	e.StartTime = time.UnixMilli(start)
	if end > 0 {
		e.EndTime = time.UnixMilli(end)
	}
	return e, nil
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}
