// Package storage is the persistence boundary of Dytto.
//
// Every backend implements the same small document contract: single-key
// Get and Put, and a Query over all documents in a scope. There are no
// multi-key transactions; each write is an independent upsert, and the
// last writer wins. Repository layers typed access on top.
package storage

import (
	"context"
	"encoding/json"
	"time"
)

// Document is one stored value. Scope groups documents for Query; a document
// belongs to exactly one scope.
type Document struct {
	Key       string          `json:"key"`
	Scope     string          `json:"scope"`
	Value     json.RawMessage `json:"value"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Store is the storage collaborator.
type Store interface {
	// Get returns the document at key, or ErrNotFound.
	Get(ctx context.Context, key string) (Document, error)

	// Put upserts doc atomically, replacing any previous value at doc.Key.
	Put(ctx context.Context, doc Document) error

	// Query returns every document in scope ordered by key. An unknown scope
	// yields an empty slice.
	Query(ctx context.Context, scope string) ([]Document, error)

	// Ping checks connectivity.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close(ctx context.Context) error
}
