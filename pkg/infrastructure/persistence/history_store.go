package persistence

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/voicebridge/voicebridge/pkg/wire"
)

// HistoryStore is the durable, append-only message history behind the
// dashboard. Insertion order is arrival order at the drain; length only ever
// grows within a run.
type HistoryStore interface {
	// Append stores a drained batch, preserving its order.
	Append(events []wire.Event) error
	// Page returns events [offset, offset+limit) in insertion order.
	Page(offset, limit int) ([]StoredEvent, error)
	// Count returns the total number of stored events.
	Count() (int, error)
	// Close releases the store.
	Close() error
}

// StoredEvent is an event with its insertion sequence number.
type StoredEvent struct {
	Seq   int64      `json:"seq"`
	Event wire.Event `json:"event"`
}

// ---------------------------------------------------------------------------
// sqlite implementation
// ---------------------------------------------------------------------------

// SqliteHistoryStore persists the history in a sqlite database.
type SqliteHistoryStore struct {
	db *sql.DB
	mu sync.Mutex // serializes writers; sqlite allows one at a time
}

const historySchema = `
CREATE TABLE IF NOT EXISTS messages (
	seq       INTEGER PRIMARY KEY AUTOINCREMENT,
	kind      TEXT NOT NULL,
	timestamp TEXT NOT NULL,
	payload   TEXT NOT NULL
);`

// NewSqliteHistoryStore opens (creating if needed) the history database.
func NewSqliteHistoryStore(path string) (*SqliteHistoryStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("persistence: open history db %s: %w", path, err)
	}
	if _, err := db.Exec(historySchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("persistence: init history schema: %w", err)
	}
	return &SqliteHistoryStore{db: db}, nil
}

func (s *SqliteHistoryStore) Append(events []wire.Event) error {
	if len(events) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("persistence: append: %w", err)
	}
	stmt, err := tx.Prepare("INSERT INTO messages (kind, timestamp, payload) VALUES (?, ?, ?)")
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("persistence: append: %w", err)
	}
	defer stmt.Close()

	for _, ev := range events {
		payload, err := json.Marshal(ev.Payload)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("persistence: append: %w", err)
		}
		if _, err := stmt.Exec(string(ev.Kind), ev.Timestamp, string(payload)); err != nil {
			tx.Rollback()
			return fmt.Errorf("persistence: append: %w", err)
		}
	}
	return tx.Commit()
}

func (s *SqliteHistoryStore) Page(offset, limit int) ([]StoredEvent, error) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.Query(
		"SELECT seq, kind, timestamp, payload FROM messages ORDER BY seq LIMIT ? OFFSET ?",
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("persistence: page: %w", err)
	}
	defer rows.Close()

	out := make([]StoredEvent, 0, limit)
	for rows.Next() {
		var (
			seq              int64
			kind, ts, rawPay string
		)
		if err := rows.Scan(&seq, &kind, &ts, &rawPay); err != nil {
			return nil, fmt.Errorf("persistence: page: %w", err)
		}
		ev := wire.Event{Kind: wire.Kind(kind), Timestamp: ts}
		if err := json.Unmarshal([]byte(rawPay), &ev.Payload); err != nil {
			return nil, fmt.Errorf("persistence: page seq %d: %w", seq, err)
		}
		out = append(out, StoredEvent{Seq: seq, Event: ev})
	}
	return out, rows.Err()
}

func (s *SqliteHistoryStore) Count() (int, error) {
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM messages").Scan(&n); err != nil {
		return 0, fmt.Errorf("persistence: count: %w", err)
	}
	return n, nil
}

func (s *SqliteHistoryStore) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// in-memory implementation — console process and tests
// ---------------------------------------------------------------------------

// MemoryHistoryStore keeps the history in a slice. The console dashboard's
// history only needs to live as long as its session, matching the original
// UI's session-state model.
type MemoryHistoryStore struct {
	mu     sync.RWMutex
	events []StoredEvent
	next   int64
}

// NewMemoryHistoryStore creates an empty in-memory history.
func NewMemoryHistoryStore() *MemoryHistoryStore {
	return &MemoryHistoryStore{next: 1}
}

func (s *MemoryHistoryStore) Append(events []wire.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ev := range events {
		s.events = append(s.events, StoredEvent{Seq: s.next, Event: ev.Clone()})
		s.next++
	}
	return nil
}

func (s *MemoryHistoryStore) Page(offset, limit int) ([]StoredEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = 50
	}
	if offset >= len(s.events) {
		return []StoredEvent{}, nil
	}
	end := offset + limit
	if end > len(s.events) {
		end = len(s.events)
	}
	out := make([]StoredEvent, end-offset)
	copy(out, s.events[offset:end])
	return out, nil
}

func (s *MemoryHistoryStore) Count() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events), nil
}

func (s *MemoryHistoryStore) Close() error { return nil }

var (
	_ HistoryStore = (*SqliteHistoryStore)(nil)
	_ HistoryStore = (*MemoryHistoryStore)(nil)
)
