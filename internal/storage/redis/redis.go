// Package redis is a storage.Store backend on Redis.
//
// Each document is a JSON string at dytto:doc:<key>. Each scope is a set of
// keys at dytto:scope:<scope>. A Put writes both in one MULTI/EXEC so a
// document is never visible without its scope entry.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/dytto-app/dytto/internal/storage"
)

const (
	docPrefix   = "dytto:doc:"
	scopePrefix = "dytto:scope:"
)

var _ storage.Store = (*Store)(nil)

// Store is a Redis-backed document store.
type Store struct {
	client *goredis.Client
	logger *slog.Logger
}

// Connect parses url (redis://...), configures the pool, and pings the server.
func Connect(ctx context.Context, url string, logger *slog.Logger) (*Store, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis: parse URL: %w", err)
	}
	opts.PoolSize = 10
	opts.MinIdleConns = 2
	opts.MaxRetries = 3
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := goredis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}

	logger.Info("redis: connected", "addr", opts.Addr, "db", opts.DB)
	return New(client, logger), nil
}

// New wraps an existing client.
func New(client *goredis.Client, logger *slog.Logger) *Store {
	return &Store{client: client, logger: logger}
}

// wire is the stored JSON form. Value stays raw so documents round-trip byte-for-byte.
type wire struct {
	Scope     string          `json:"scope"`
	Value     json.RawMessage `json:"value"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Get returns the document at key.
func (s *Store) Get(ctx context.Context, key string) (storage.Document, error) {
	raw, err := s.client.Get(ctx, docPrefix+key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return storage.Document{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.Document{}, fmt.Errorf("redis: get %s: %w", key, err)
	}
	return decode(key, raw)
}

// Put upserts doc and records it in its scope set. A document that changed
// scope is removed from the old set.
func (s *Store) Put(ctx context.Context, doc storage.Document) error {
	if doc.Key == "" {
		return fmt.Errorf("redis: put: empty key")
	}
	if doc.UpdatedAt.IsZero() {
		doc.UpdatedAt = time.Now().UTC()
	}
	b, err := json.Marshal(wire{Scope: doc.Scope, Value: doc.Value, UpdatedAt: doc.UpdatedAt})
	if err != nil {
		return fmt.Errorf("redis: encode %s: %w", doc.Key, err)
	}

	prev, err := s.Get(ctx, doc.Key)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Set(ctx, docPrefix+doc.Key, b, 0)
		pipe.SAdd(ctx, scopePrefix+doc.Scope, doc.Key)
		if prev.Key != "" && prev.Scope != doc.Scope {
			pipe.SRem(ctx, scopePrefix+prev.Scope, doc.Key)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: put %s: %w", doc.Key, err)
	}
	return nil
}

// Query returns the documents in scope ordered by key. Set members whose
// document has vanished are skipped.
func (s *Store) Query(ctx context.Context, scope string) ([]storage.Document, error) {
	keys, err := s.client.SMembers(ctx, scopePrefix+scope).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: members %s: %w", scope, err)
	}
	docs := []storage.Document{}
	if len(keys) == 0 {
		return docs, nil
	}
	sort.Strings(keys)

	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = docPrefix + k
	}
	vals, err := s.client.MGet(ctx, full...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: mget %s: %w", scope, err)
	}

	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			s.logger.Warn("redis: scope member without document", "scope", scope, "key", keys[i])
			continue
		}
		d, err := decode(keys[i], []byte(str))
		if err != nil {
			return nil, err
		}
		if d.Scope != scope {
			continue
		}
		docs = append(docs, d)
	}
	return docs, nil
}

// Client returns the underlying client so other components, such as the
// rate limiter, can share the connection pool.
func (s *Store) Client() *goredis.Client { return s.client }

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the client.
func (s *Store) Close(context.Context) error {
	return s.client.Close()
}

func decode(key string, raw []byte) (storage.Document, error) {
	var w wire
	if err := json.Unmarshal(raw, &w); err != nil {
		return storage.Document{}, fmt.Errorf("redis: decode %s: %w", key, err)
	}
	return storage.Document{Key: key, Scope: w.Scope, Value: w.Value, UpdatedAt: w.UpdatedAt}, nil
}
