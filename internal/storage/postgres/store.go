package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/dytto-app/dytto/internal/storage"
)

var _ storage.Store = (*DB)(nil)

// Get returns the document at key.
func (db *DB) Get(ctx context.Context, key string) (storage.Document, error) {
	var d storage.Document
	err := db.pool.QueryRow(ctx,
		`SELECT key, scope, value, updated_at FROM documents WHERE key = $1`, key,
	).Scan(&d.Key, &d.Scope, &d.Value, &d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.Document{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.Document{}, fmt.Errorf("postgres: get %s: %w", key, err)
	}
	return d, nil
}

// Put upserts doc as a single row.
func (db *DB) Put(ctx context.Context, doc storage.Document) error {
	if doc.Key == "" {
		return fmt.Errorf("postgres: put: empty key")
	}
	if doc.UpdatedAt.IsZero() {
		doc.UpdatedAt = time.Now().UTC()
	}
	return db.retry.do(ctx, func() error {
		_, err := db.pool.Exec(ctx, `
			INSERT INTO documents (key, scope, value, updated_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (key) DO UPDATE
			SET scope = EXCLUDED.scope, value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
			doc.Key, doc.Scope, []byte(doc.Value), doc.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("postgres: put %s: %w", doc.Key, err)
		}
		return nil
	})
}

// Query returns every document in scope ordered by key.
func (db *DB) Query(ctx context.Context, scope string) ([]storage.Document, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT key, scope, value, updated_at FROM documents WHERE scope = $1 ORDER BY key`, scope)
	if err != nil {
		return nil, fmt.Errorf("postgres: query %s: %w", scope, err)
	}
	defer rows.Close()

	docs := []storage.Document{}
	for rows.Next() {
		var d storage.Document
		if err := rows.Scan(&d.Key, &d.Scope, &d.Value, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan %s: %w", scope, err)
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}
