// Package storetest is a conformance suite shared by every storage.Store
// backend. Each backend's tests call Run with a constructor for a fresh,
// empty store.
package storetest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dytto-app/dytto/internal/storage"
)

// Run exercises the Store contract against stores produced by newStore.
func Run(t *testing.T, newStore func(t *testing.T) storage.Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("GetMissing", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Get(ctx, "nope")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("PutThenGet", func(t *testing.T) {
		s := newStore(t)
		doc := storage.Document{Key: "k1", Scope: "a", Value: json.RawMessage(`{"n":1}`), UpdatedAt: time.Now().UTC()}
		require.NoError(t, s.Put(ctx, doc))

		got, err := s.Get(ctx, "k1")
		require.NoError(t, err)
		assert.Equal(t, "k1", got.Key)
		assert.Equal(t, "a", got.Scope)
		assert.JSONEq(t, `{"n":1}`, string(got.Value))
	})

	t.Run("PutOverwrites", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Put(ctx, storage.Document{Key: "k", Scope: "a", Value: json.RawMessage(`{"v":1}`)}))
		require.NoError(t, s.Put(ctx, storage.Document{Key: "k", Scope: "a", Value: json.RawMessage(`{"v":2}`)}))

		got, err := s.Get(ctx, "k")
		require.NoError(t, err)
		assert.JSONEq(t, `{"v":2}`, string(got.Value))

		docs, err := s.Query(ctx, "a")
		require.NoError(t, err)
		assert.Len(t, docs, 1)
	})

	t.Run("QueryByScopeOrderedByKey", func(t *testing.T) {
		s := newStore(t)
		for _, k := range []string{"c", "a", "b"} {
			require.NoError(t, s.Put(ctx, storage.Document{Key: k, Scope: "s1", Value: json.RawMessage(`{}`)}))
		}
		require.NoError(t, s.Put(ctx, storage.Document{Key: "z", Scope: "s2", Value: json.RawMessage(`{}`)}))

		docs, err := s.Query(ctx, "s1")
		require.NoError(t, err)
		require.Len(t, docs, 3)
		assert.Equal(t, []string{"a", "b", "c"}, []string{docs[0].Key, docs[1].Key, docs[2].Key})
	})

	t.Run("QueryUnknownScope", func(t *testing.T) {
		s := newStore(t)
		docs, err := s.Query(ctx, "empty")
		require.NoError(t, err)
		assert.Empty(t, docs)
	})

	t.Run("ConcurrentPuts", func(t *testing.T) {
		s := newStore(t)
		var wg sync.WaitGroup
		for i := range 20 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				v := json.RawMessage(fmt.Sprintf(`{"i":%d}`, i))
				assert.NoError(t, s.Put(ctx, storage.Document{Key: fmt.Sprintf("k%02d", i), Scope: "c", Value: v}))
			}()
		}
		wg.Wait()
		docs, err := s.Query(ctx, "c")
		require.NoError(t, err)
		assert.Len(t, docs, 20)
	})

	t.Run("Ping", func(t *testing.T) {
		assert.NoError(t, newStore(t).Ping(ctx))
	})
}
