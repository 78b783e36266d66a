// Package history persists finished and in-flight loop state to SQLite so
// the server can answer for loops that outlive their process.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/martinemde/orbit/loop"
)

// ErrNotFound is returned when a loop id is not in the store.
var ErrNotFound = errors.New("loop not found")

// Store is a SQLite-backed archive of loop snapshots and their event
// streams. Safe for concurrent use; SQLite serializes the writes.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the store at the given path.
func New(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}

	db, err := sql.Open("sqlite3", "file:"+path+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open store db: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS loops (
			id             TEXT PRIMARY KEY,
			prompt         TEXT NOT NULL,
			status         TEXT NOT NULL,
			state          TEXT NOT NULL,
			steps          INTEGER NOT NULL DEFAULT 0,
			total_tokens   INTEGER NOT NULL DEFAULT 0,
			estimated_cost REAL NOT NULL DEFAULT 0,
			started_at     INTEGER NOT NULL,
			completed_at   INTEGER
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create loops table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS events (
			loop_id    TEXT NOT NULL REFERENCES loops(id) ON DELETE CASCADE,
			seq        INTEGER NOT NULL,
			kind       TEXT NOT NULL,
			step       INTEGER NOT NULL DEFAULT 0,
			payload    TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			PRIMARY KEY (loop_id, seq)
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create events table: %w", err)
	}

	return &Store{db: db}, nil
}

// Save upserts a loop snapshot. Called once when a loop starts and again
// on every state change, so the stored row always reflects the latest
// status.
func (s *Store) Save(ctx context.Context, state loop.State) error {
	blob, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	var completedAt any
	if state.CompletedAt != nil {
		completedAt = state.CompletedAt.UnixNano()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO loops (id, prompt, status, state, steps, total_tokens, estimated_cost, started_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			state = excluded.state,
			steps = excluded.steps,
			total_tokens = excluded.total_tokens,
			estimated_cost = excluded.estimated_cost,
			completed_at = excluded.completed_at`,
		state.ID, state.Prompt, string(state.Status), string(blob),
		len(state.Steps), state.Usage.TotalTokens, state.Usage.EstimatedCost,
		state.StartedAt.UnixNano(), completedAt,
	)
	return err
}

// Get returns the stored snapshot for one loop.
func (s *Store) Get(ctx context.Context, id string) (loop.State, error) {
	var blob string
	err := s.db.QueryRowContext(ctx, `SELECT state FROM loops WHERE id = ?`, id).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return loop.State{}, ErrNotFound
	}
	if err != nil {
		return loop.State{}, err
	}

	var state loop.State
	if err := json.Unmarshal([]byte(blob), &state); err != nil {
		return loop.State{}, fmt.Errorf("decode state: %w", err)
	}
	return state, nil
}

// Summary is one row of the loop listing.
type Summary struct {
	ID            string      `json:"id"`
	Prompt        string      `json:"prompt"`
	Status        loop.Status `json:"status"`
	Steps         int         `json:"steps"`
	TotalTokens   int         `json:"total_tokens"`
	EstimatedCost float64     `json:"estimated_cost"`
	StartedAt     time.Time   `json:"started_at"`
	CompletedAt   *time.Time  `json:"completed_at,omitempty"`
}

// List returns the most recently started loops, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]Summary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, prompt, status, steps, total_tokens, estimated_cost, started_at, completed_at
		 FROM loops ORDER BY started_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var sum Summary
		var startedAt int64
		var completedAt sql.NullInt64
		if err := rows.Scan(&sum.ID, &sum.Prompt, &sum.Status, &sum.Steps,
			&sum.TotalTokens, &sum.EstimatedCost, &startedAt, &completedAt); err != nil {
			return nil, err
		}
		sum.StartedAt = time.Unix(0, startedAt)
		if completedAt.Valid {
			t := time.Unix(0, completedAt.Int64)
			sum.CompletedAt = &t
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

// AppendEvent stores the next event for a loop. Events are numbered per
// loop in arrival order; the loop row must exist first.
func (s *Store) AppendEvent(ctx context.Context, ev loop.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO events (loop_id, seq, kind, step, payload, created_at)
		 VALUES (?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM events WHERE loop_id = ?), ?, ?, ?, ?)`,
		ev.LoopID, ev.LoopID, string(ev.Kind), ev.Step, string(payload), time.Now().UnixNano(),
	)
	return err
}

// Events returns a loop's stored events in arrival order.
func (s *Store) Events(ctx context.Context, loopID string) ([]loop.Event, error) {
	stored, err := s.EventsAfter(ctx, loopID, 0)
	if err != nil {
		return nil, err
	}
	out := make([]loop.Event, 0, len(stored))
	for _, se := range stored {
		out = append(out, se.Event)
	}
	return out, nil
}

// StoredEvent pairs an event with its per-loop sequence number so stream
// readers can resume from a cursor.
type StoredEvent struct {
	Seq   int64
	Event loop.Event
}

// EventsAfter returns the loop's events with seq greater than after, in
// order. An after of 0 reads the stream from the beginning.
func (s *Store) EventsAfter(ctx context.Context, loopID string, after int64) ([]StoredEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, payload FROM events WHERE loop_id = ? AND seq > ? ORDER BY seq`, loopID, after)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StoredEvent
	for rows.Next() {
		var (
			seq     int64
			payload string
		)
		if err := rows.Scan(&seq, &payload); err != nil {
			return nil, err
		}
		var ev loop.Event
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
		out = append(out, StoredEvent{Seq: seq, Event: ev})
	}
	return out, rows.Err()
}

func (s *Store) Close() error {
	return s.db.Close()
}
