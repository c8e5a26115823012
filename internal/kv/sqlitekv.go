package kv

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"
)

// pendingChange records a key's before/after value for post-commit
// notification.
type pendingChange struct {
	old []byte
	new []byte
}

// SQLiteStore persists versioned JSON blobs in a single-table sqlite
// database, keyed by the versioned key names of spec.md §6
// (schema_version, settings, tab_meta, window_state, active_time,
// bookmark_state). Chosen over an in-memory map because the core must
// survive host-process restarts (spec.md §1, §4.1, §6); chosen over a
// binary/custom format because spec.md §6 explicitly scopes "no on-disk
// binary format beyond JSON blobs in KV" — sqlite here is the storage
// engine, values remain opaque JSON.
//
// modernc.org/sqlite is a pure-Go, cgo-free driver; ajsharma-browser_tail
// itself has no storage dependency, so this is grounded on the pack's
// other tab-management repo (lotas-tabsordnung) and two further repos
// that use the identical driver for local persistence.
type SQLiteStore struct {
	db *sql.DB

	mu        sync.Mutex
	listeners []func(Change)
}

// OpenSQLiteStore opens (creating if necessary) a sqlite-backed Store at
// path. Use ":memory:" for an ephemeral database.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("kv: open %s: %w", path, err)
	}

	// The core never issues two concurrent writes to the same key
	// (spec.md §5), but sqlite itself only supports one writer at a time
	// across keys; force a single connection so the driver doesn't need
	// to coordinate across pooled connections.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value BLOB NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("kv: create table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Get(ctx context.Context, keys ...string) (map[string][]byte, error) {
	result := make(map[string][]byte, len(keys))
	if len(keys) == 0 {
		return result, nil
	}

	placeholders := make([]string, len(keys))
	args := make([]interface{}, len(keys))
	for i, k := range keys {
		placeholders[i] = "?"
		args[i] = k
	}

	query := "SELECT key, value FROM kv WHERE key IN (" + joinPlaceholders(placeholders) + ")"
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("kv: get: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var value []byte
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("kv: scan: %w", err)
		}
		result[key] = value
	}
	return result, rows.Err()
}

func (s *SQLiteStore) Set(ctx context.Context, values map[string][]byte) error {
	if len(values) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("kv: begin: %w", err)
	}
	defer tx.Rollback()

	changed := make(map[string]pendingChange, len(values))

	for key, value := range values {
		var old []byte
		err := tx.QueryRowContext(ctx, "SELECT value FROM kv WHERE key = ?", key).Scan(&old)
		if err != nil && err != sql.ErrNoRows {
			return fmt.Errorf("kv: read before write %s: %w", key, err)
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO kv (key, value) VALUES (?, ?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
			key, value); err != nil {
			return fmt.Errorf("kv: set %s: %w", key, err)
		}
		changed[key] = pendingChange{old: old, new: value}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("kv: commit: %w", err)
	}

	s.notify(changed)
	return nil
}

func (s *SQLiteStore) Remove(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("kv: begin: %w", err)
	}
	defer tx.Rollback()

	changed := make(map[string]pendingChange)

	for _, key := range keys {
		var old []byte
		err := tx.QueryRowContext(ctx, "SELECT value FROM kv WHERE key = ?", key).Scan(&old)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return fmt.Errorf("kv: read before remove %s: %w", key, err)
		}

		if _, err := tx.ExecContext(ctx, "DELETE FROM kv WHERE key = ?", key); err != nil {
			return fmt.Errorf("kv: remove %s: %w", key, err)
		}
		changed[key] = pendingChange{old: old, new: nil}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("kv: commit: %w", err)
	}

	s.notify(changed)
	return nil
}

func (s *SQLiteStore) notify(changed map[string]pendingChange) {
	s.mu.Lock()
	listeners := append([]func(Change){}, s.listeners...)
	s.mu.Unlock()

	for key, c := range changed {
		for _, l := range listeners {
			l(Change{Key: key, Old: c.old, New: c.new})
		}
	}
}

func (s *SQLiteStore) Subscribe(onChange func(Change)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, onChange)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func joinPlaceholders(ps []string) string {
	out := ps[0]
	for _, p := range ps[1:] {
		out += "," + p
	}
	return out
}
