// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package kvstore persists namespaced byte values. The document cache stores
// ready entries here and the session store writes checkpoints here, so both
// survive a process restart.
package kvstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Store is a namespaced key-value store. Implementations must be safe for
// concurrent use.
type Store interface {
	// Get returns the value for key in ns. The bool is false when absent.
	Get(ctx context.Context, ns, key string) ([]byte, bool, error)

	// Put inserts or replaces the value for key in ns.
	Put(ctx context.Context, ns, key string, value []byte) error

	// Delete removes key from ns. Deleting an absent key is not an error.
	Delete(ctx context.Context, ns, key string) error

	// List returns the keys in ns that start with prefix, sorted.
	List(ctx context.Context, ns, prefix string) ([]string, error)

	Close() error
}

// SQLiteStore implements Store on a single SQLite table.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens or creates the database at path, creating parent
// directories and the schema as needed.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS kv (
			ns TEXT NOT NULL,
			key TEXT NOT NULL,
			value BLOB NOT NULL,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (ns, key)
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}
	return nil
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, ns, key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE ns = ? AND key = ?`, ns, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading %s/%s: %w", ns, key, err)
	}
	return value, true, nil
}

// Put implements Store.
func (s *SQLiteStore) Put(ctx context.Context, ns, key string, value []byte) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO kv (ns, key, value, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(ns, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		ns, key, value, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("writing %s/%s: %w", ns, key, err)
	}
	return tx.Commit()
}

// Delete implements Store.
func (s *SQLiteStore) Delete(ctx context.Context, ns, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE ns = ? AND key = ?`, ns, key); err != nil {
		return fmt.Errorf("deleting %s/%s: %w", ns, key, err)
	}
	return nil
}

// List implements Store.
func (s *SQLiteStore) List(ctx context.Context, ns, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key FROM kv WHERE ns = ? AND substr(key, 1, ?) = ? ORDER BY key`,
		ns, len(prefix), prefix)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", ns, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scanning key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Close releases the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// MemoryStore implements Store in process memory. Values are copied on the
// way in and out.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]map[string][]byte
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]map[string][]byte)}
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, ns, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[ns][key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

// Put implements Store.
func (m *MemoryStore) Put(_ context.Context, ns, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data[ns] == nil {
		m.data[ns] = make(map[string][]byte)
	}
	m.data[ns][key] = append([]byte(nil), value...)
	return nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(_ context.Context, ns, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data[ns], key)
	return nil
}

// List implements Store.
func (m *MemoryStore) List(_ context.Context, ns, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var keys []string
	for k := range m.data[ns] {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Close implements Store.
func (m *MemoryStore) Close() error { return nil }
