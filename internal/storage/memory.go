package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Memory is an in-process Store for tests and single-node development.
// Values are copied on the way in and out so callers cannot alias stored bytes.
type Memory struct {
	mu     sync.RWMutex
	docs   map[string]Document
	scopes map[string]map[string]struct{}
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		docs:   make(map[string]Document),
		scopes: make(map[string]map[string]struct{}),
	}
}

// Get returns the document at key.
func (m *Memory) Get(_ context.Context, key string) (Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.docs[key]
	if !ok {
		return Document{}, ErrNotFound
	}
	return clone(d), nil
}

// Put upserts doc.
func (m *Memory) Put(_ context.Context, doc Document) error {
	if doc.Key == "" {
		return fmt.Errorf("storage: put: empty key")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.docs[doc.Key]; ok && prev.Scope != doc.Scope {
		delete(m.scopes[prev.Scope], doc.Key)
	}
	m.docs[doc.Key] = clone(doc)
	set, ok := m.scopes[doc.Scope]
	if !ok {
		set = make(map[string]struct{})
		m.scopes[doc.Scope] = set
	}
	set[doc.Key] = struct{}{}
	return nil
}

// Query returns the documents in scope ordered by key.
func (m *Memory) Query(_ context.Context, scope string) ([]Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	set := m.scopes[scope]
	out := make([]Document, 0, len(set))
	for k := range set {
		out = append(out, clone(m.docs[k]))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Ping always succeeds.
func (m *Memory) Ping(context.Context) error { return nil }

// Close is a no-op.
func (m *Memory) Close(context.Context) error { return nil }

func clone(d Document) Document {
	d.Value = append([]byte(nil), d.Value...)
	return d
}
