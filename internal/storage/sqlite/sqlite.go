// Package sqlite is an embedded storage.Store backend on modernc.org/sqlite,
// for single-node deployments without a database server.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/dytto-app/dytto/internal/storage"
)

var _ storage.Store = (*Store)(nil)

// Store persists documents in a single sqlite table.
type Store struct {
	db *sql.DB
}

// Open creates or opens the database at path. ":memory:" is accepted.
func Open(ctx context.Context, path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// One shared connection: sqlite serializes writers anyway, and an
	// in-memory database exists only on the connection that created it.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.init(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init(ctx context.Context) error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA synchronous=NORMAL;`,
		`PRAGMA temp_store=MEMORY;`,
		`PRAGMA busy_timeout=5000;`,
		`CREATE TABLE IF NOT EXISTS documents (
			key TEXT PRIMARY KEY,
			scope TEXT NOT NULL,
			value TEXT NOT NULL,
			updated_at_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS documents_scope_idx ON documents(scope, key);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite: init schema: %w", err)
		}
	}
	return nil
}

// Get returns the document at key.
func (s *Store) Get(ctx context.Context, key string) (storage.Document, error) {
	var (
		d     storage.Document
		value string
		ms    int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT key, scope, value, updated_at_ms FROM documents WHERE key = ?`, key,
	).Scan(&d.Key, &d.Scope, &value, &ms)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.Document{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.Document{}, fmt.Errorf("sqlite: get %s: %w", key, err)
	}
	d.Value = []byte(value)
	d.UpdatedAt = time.UnixMilli(ms).UTC()
	return d, nil
}

// Put upserts doc.
func (s *Store) Put(ctx context.Context, doc storage.Document) error {
	if doc.Key == "" {
		return fmt.Errorf("sqlite: put: empty key")
	}
	updated := doc.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (key, scope, value, updated_at_ms) VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			scope = excluded.scope,
			value = excluded.value,
			updated_at_ms = excluded.updated_at_ms`,
		doc.Key, doc.Scope, string(doc.Value), updated.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("sqlite: put %s: %w", doc.Key, err)
	}
	return nil
}

// Query returns the documents in scope ordered by key.
func (s *Store) Query(ctx context.Context, scope string) ([]storage.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, scope, value, updated_at_ms FROM documents WHERE scope = ? ORDER BY key`, scope)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query %s: %w", scope, err)
	}
	defer func() { _ = rows.Close() }()

	docs := []storage.Document{}
	for rows.Next() {
		var (
			d     storage.Document
			value string
			ms    int64
		)
		if err := rows.Scan(&d.Key, &d.Scope, &value, &ms); err != nil {
			return nil, fmt.Errorf("sqlite: scan %s: %w", scope, err)
		}
		d.Value = []byte(value)
		d.UpdatedAt = time.UnixMilli(ms).UTC()
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// Ping checks the database handle.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *Store) Close(context.Context) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
