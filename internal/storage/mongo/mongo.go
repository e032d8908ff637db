// Package mongo is a storage.Store backend on MongoDB. Documents live in one
// collection with the document key as _id.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/dytto-app/dytto/internal/storage"
)

// Collection is the collection holding every document.
const Collection = "documents"

var _ storage.Store = (*Store)(nil)

// Store is a MongoDB-backed document store.
type Store struct {
	client *mongo.Client
	coll   *mongo.Collection
	logger *slog.Logger
}

// record is the BSON form of a storage.Document. Value is kept as JSON text
// so it round-trips byte-for-byte.
type record struct {
	Key       string    `bson:"_id"`
	Scope     string    `bson:"scope"`
	Value     string    `bson:"value"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// Connect dials uri, pings the primary, and ensures the scope index on database.
func Connect(ctx context.Context, uri, database string, logger *slog.Logger) (*Store, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	opts := options.Client().
		ApplyURI(uri).
		SetMaxPoolSize(50).
		SetMinPoolSize(5).
		SetMaxConnIdleTime(30 * time.Second).
		SetServerSelectionTimeout(5 * time.Second).
		SetConnectTimeout(10 * time.Second)

	client, err := mongo.Connect(connectCtx, opts)
	if err != nil {
		return nil, fmt.Errorf("mongo: connect: %w", err)
	}
	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("mongo: ping: %w", err)
	}

	s := &Store{client: client, coll: client.Database(database).Collection(Collection), logger: logger}
	if err := s.initialize(connectCtx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	logger.Info("mongo: connected", "database", database)
	return s, nil
}

func (s *Store) initialize(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "scope", Value: 1}, {Key: "_id", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("mongo: create indexes: %w", err)
	}
	return nil
}

// Get returns the document at key.
func (s *Store) Get(ctx context.Context, key string) (storage.Document, error) {
	var r record
	err := s.coll.FindOne(ctx, bson.M{"_id": key}).Decode(&r)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return storage.Document{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.Document{}, fmt.Errorf("mongo: get %s: %w", key, err)
	}
	return r.document(), nil
}

// Put replaces the document at doc.Key, inserting it when absent.
func (s *Store) Put(ctx context.Context, doc storage.Document) error {
	if doc.Key == "" {
		return fmt.Errorf("mongo: put: empty key")
	}
	if doc.UpdatedAt.IsZero() {
		doc.UpdatedAt = time.Now().UTC()
	}
	r := record{Key: doc.Key, Scope: doc.Scope, Value: string(doc.Value), UpdatedAt: doc.UpdatedAt}
	_, err := s.coll.ReplaceOne(ctx, bson.M{"_id": doc.Key}, r, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("mongo: put %s: %w", doc.Key, err)
	}
	return nil
}

// Query returns the documents in scope ordered by key.
func (s *Store) Query(ctx context.Context, scope string) ([]storage.Document, error) {
	cur, err := s.coll.Find(ctx, bson.M{"scope": scope}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("mongo: query %s: %w", scope, err)
	}
	defer func() { _ = cur.Close(ctx) }()

	var recs []record
	if err := cur.All(ctx, &recs); err != nil {
		return nil, fmt.Errorf("mongo: decode %s: %w", scope, err)
	}
	docs := make([]storage.Document, 0, len(recs))
	for _, r := range recs {
		docs = append(docs, r.document())
	}
	return docs, nil
}

// Ping checks the primary is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

// Close disconnects the client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (r record) document() storage.Document {
	return storage.Document{Key: r.Key, Scope: r.Scope, Value: []byte(r.Value), UpdatedAt: r.UpdatedAt.UTC()}
}
