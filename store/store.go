// Package store is the local key-value cache backed by SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver.
)

// ErrNotFound reports a missing key.
var ErrNotFound = errors.New("key not found")

// historyPrefix namespaces channel history snapshots.
const historyPrefix = "history/"

// Store wraps SQLite access for cached values.
type Store struct {
	db *sql.DB
}

// Open opens or creates the SQLite database and applies migrations.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One writer keeps SQLite from reporting SQLITE_BUSY under concurrent Puts.
	db.SetMaxOpenConns(1)
	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS kv (
			key TEXT PRIMARY KEY,
			value BLOB NOT NULL,
			updated_at TEXT NOT NULL
		);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Put stores value under key, replacing any previous value.
func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// Get returns the value stored under key and when it was written.
func (s *Store) Get(ctx context.Context, key string) ([]byte, time.Time, error) {
	var (
		value   []byte
		updated string
	)
	err := s.db.QueryRowContext(ctx, `SELECT value, updated_at FROM kv WHERE key = ?`, key).Scan(&value, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, time.Time{}, ErrNotFound
	}
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("get %s: %w", key, err)
	}
	ts, err := time.Parse(time.RFC3339Nano, updated)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("get %s: updated_at: %w", key, err)
	}
	return value, ts, nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// Keys lists the keys starting with prefix in lexical order.
func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key FROM kv WHERE substr(key, 1, ?) = ? ORDER BY key`, len(prefix), prefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// SaveHistory stores a JSON snapshot of a channel's history.
func (s *Store) SaveHistory(ctx context.Context, channel string, history any) error {
	data, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("encode %s history: %w", channel, err)
	}
	return s.Put(ctx, historyPrefix+channel, data)
}

// LoadHistory decodes the snapshot of channel into out.
func (s *Store) LoadHistory(ctx context.Context, channel string, out any) (time.Time, error) {
	data, ts, err := s.Get(ctx, historyPrefix+channel)
	if err != nil {
		return time.Time{}, err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return time.Time{}, fmt.Errorf("decode %s history: %w", channel, err)
	}
	return ts, nil
}

// HistoryChannels lists the channels that have a snapshot.
func (s *Store) HistoryChannels(ctx context.Context) ([]string, error) {
	keys, err := s.Keys(ctx, historyPrefix)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, strings.TrimPrefix(k, historyPrefix))
	}
	return out, nil
}
