package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/dytto-app/dytto/internal/model"
)

// Scopes and key prefixes. Per-relationship scopes are suffixed with the
// relationship id so Query never has to filter.
const (
	ScopeRelationships = "relationships"
	ScopeProgress      = "progress"
	ScopeInsights      = "insights"

	scopeLogs        = "logs:"
	scopeQuests      = "quests:"
	scopeLevelEvents = "level_events:"
)

// Repository is typed access to the domain records kept in a Store.
// Every method is a single-key write or a single-scope read; nothing here
// spans records atomically.
type Repository struct {
	store Store
	now   func() time.Time
}

// NewRepository wraps store.
func NewRepository(store Store) *Repository {
	return &Repository{store: store, now: time.Now}
}

// Store returns the underlying document store.
func (r *Repository) Store() Store { return r.store }

// Ping checks the underlying store.
func (r *Repository) Ping(ctx context.Context) error { return r.store.Ping(ctx) }

// ---- relationships -------------------------------------------------------

func (r *Repository) PutRelationship(ctx context.Context, rel model.Relationship) error {
	return put(ctx, r, "relationship:"+rel.ID.String(), ScopeRelationships, rel)
}

func (r *Repository) GetRelationship(ctx context.Context, id uuid.UUID) (model.Relationship, error) {
	return get[model.Relationship](ctx, r.store, "relationship:"+id.String())
}

// ListRelationships returns all relationships ordered by creation time.
func (r *Repository) ListRelationships(ctx context.Context) ([]model.Relationship, error) {
	rels, err := query[model.Relationship](ctx, r.store, ScopeRelationships)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(rels, func(i, j int) bool {
		if !rels[i].CreatedAt.Equal(rels[j].CreatedAt) {
			return rels[i].CreatedAt.Before(rels[j].CreatedAt)
		}
		return rels[i].ID.String() < rels[j].ID.String()
	})
	return rels, nil
}

// ---- progress ------------------------------------------------------------

func (r *Repository) PutProgress(ctx context.Context, p model.RelationshipProgress) error {
	return put(ctx, r, "progress:"+p.RelationshipID.String(), ScopeProgress, p)
}

// GetProgress returns the stored progress, or the zero-state progress when
// the relationship has none yet.
func (r *Repository) GetProgress(ctx context.Context, relID uuid.UUID) (model.RelationshipProgress, error) {
	p, err := get[model.RelationshipProgress](ctx, r.store, "progress:"+relID.String())
	if errors.Is(err, ErrNotFound) {
		return model.NewProgress(relID), nil
	}
	return p, err
}

func (r *Repository) ListProgress(ctx context.Context) ([]model.RelationshipProgress, error) {
	return query[model.RelationshipProgress](ctx, r.store, ScopeProgress)
}

// ---- interaction logs ----------------------------------------------------

func (r *Repository) PutLog(ctx context.Context, l model.InteractionLog) error {
	return put(ctx, r, "log:"+l.ID.String(), scopeLogs+l.RelationshipID.String(), l)
}

func (r *Repository) GetLog(ctx context.Context, id uuid.UUID) (model.InteractionLog, error) {
	return get[model.InteractionLog](ctx, r.store, "log:"+id.String())
}

// ListLogs returns the history of one relationship, oldest first.
func (r *Repository) ListLogs(ctx context.Context, relID uuid.UUID) ([]model.InteractionLog, error) {
	logs, err := query[model.InteractionLog](ctx, r.store, scopeLogs+relID.String())
	if err != nil {
		return nil, err
	}
	SortLogs(logs)
	return logs, nil
}

// ListAllLogs returns the history of every relationship, oldest first.
func (r *Repository) ListAllLogs(ctx context.Context) ([]model.InteractionLog, error) {
	rels, err := r.ListRelationships(ctx)
	if err != nil {
		return nil, err
	}
	var all []model.InteractionLog
	for _, rel := range rels {
		logs, err := r.ListLogs(ctx, rel.ID)
		if err != nil {
			return nil, err
		}
		all = append(all, logs...)
	}
	SortLogs(all)
	return all, nil
}

// SortLogs orders logs by timestamp, breaking ties by id.
func SortLogs(logs []model.InteractionLog) {
	sort.SliceStable(logs, func(i, j int) bool {
		if !logs[i].Timestamp.Equal(logs[j].Timestamp) {
			return logs[i].Timestamp.Before(logs[j].Timestamp)
		}
		return logs[i].ID.String() < logs[j].ID.String()
	})
}

// ---- quests --------------------------------------------------------------

func (r *Repository) PutQuest(ctx context.Context, q model.Quest) error {
	return put(ctx, r, "quest:"+q.ID.String(), scopeQuests+q.RelationshipID.String(), q)
}

// ListQuests returns a relationship's quests ordered by creation time.
func (r *Repository) ListQuests(ctx context.Context, relID uuid.UUID) ([]model.Quest, error) {
	qs, err := query[model.Quest](ctx, r.store, scopeQuests+relID.String())
	if err != nil {
		return nil, err
	}
	sort.SliceStable(qs, func(i, j int) bool {
		if !qs[i].CreatedAt.Equal(qs[j].CreatedAt) {
			return qs[i].CreatedAt.Before(qs[j].CreatedAt)
		}
		return qs[i].ID.String() < qs[j].ID.String()
	})
	return qs, nil
}

// ---- insights ------------------------------------------------------------

func (r *Repository) PutInsight(ctx context.Context, ins model.Insight) error {
	return put(ctx, r, "insight:"+ins.Scope, ScopeInsights, ins)
}

func (r *Repository) GetInsight(ctx context.Context, scope string) (model.Insight, error) {
	return get[model.Insight](ctx, r.store, "insight:"+scope)
}

// ---- level events --------------------------------------------------------

// PutLevelEvent records a level transition. The key is derived from the
// interaction, so re-recording the same transition overwrites it.
func (r *Repository) PutLevelEvent(ctx context.Context, ev model.LevelEvent) error {
	key := fmt.Sprintf("level_event:%s:%s", ev.RelationshipID, ev.InteractionID)
	return put(ctx, r, key, scopeLevelEvents+ev.RelationshipID.String(), ev)
}

// ListLevelEvents returns a relationship's level history, oldest first.
func (r *Repository) ListLevelEvents(ctx context.Context, relID uuid.UUID) ([]model.LevelEvent, error) {
	evs, err := query[model.LevelEvent](ctx, r.store, scopeLevelEvents+relID.String())
	if err != nil {
		return nil, err
	}
	sort.SliceStable(evs, func(i, j int) bool { return evs[i].OccurredAt.Before(evs[j].OccurredAt) })
	return evs, nil
}

// ---- generic helpers -----------------------------------------------------

func put[T any](ctx context.Context, r *Repository, key, scope string, v T) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("storage: encode %s: %w", key, err)
	}
	doc := Document{Key: key, Scope: scope, Value: b, UpdatedAt: r.now().UTC()}
	if err := r.store.Put(ctx, doc); err != nil {
		return fmt.Errorf("storage: put %s: %w", key, err)
	}
	return nil
}

func get[T any](ctx context.Context, s Store, key string) (T, error) {
	var v T
	doc, err := s.Get(ctx, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return v, err
		}
		return v, fmt.Errorf("storage: get %s: %w", key, err)
	}
	if err := json.Unmarshal(doc.Value, &v); err != nil {
		return v, fmt.Errorf("storage: decode %s: %w", key, err)
	}
	return v, nil
}

func query[T any](ctx context.Context, s Store, scope string) ([]T, error) {
	docs, err := s.Query(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("storage: query %s: %w", scope, err)
	}
	out := make([]T, 0, len(docs))
	for _, d := range docs {
		var v T
		if err := json.Unmarshal(d.Value, &v); err != nil {
			return nil, fmt.Errorf("storage: decode %s: %w", d.Key, err)
		}
		out = append(out, v)
	}
	return out, nil
}
