package quests

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dytto-app/dytto/internal/config"
	"github.com/dytto-app/dytto/internal/model"
	"github.com/dytto-app/dytto/internal/service/patterns"
	"github.com/dytto-app/dytto/internal/storage"
)

// Service persists generator decisions. Every write is a single-quest
// upsert; a failure part-way leaves quests that the next call re-derives.
type Service struct {
	repo         *storage.Repository
	gen          *Generator
	patternRules config.PatternRules
	logger       *slog.Logger
	now          func() time.Time
}

// NewService creates a quest Service.
func NewService(repo *storage.Repository, gen *Generator, patternRules config.PatternRules, logger *slog.Logger) *Service {
	return &Service{repo: repo, gen: gen, patternRules: patternRules, logger: logger, now: time.Now}
}

// Generator returns the underlying rule engine.
func (s *Service) Generator() *Generator { return s.gen }

// List returns a relationship's quests, oldest first.
func (s *Service) List(ctx context.Context, relID uuid.UUID) ([]model.Quest, error) {
	qs, err := s.repo.ListQuests(ctx, relID)
	if err != nil {
		return nil, fmt.Errorf("quests: list: %w", err)
	}
	return qs, nil
}

// GenerateQuest refreshes the relationship's quests and issues the next
// quest its rules allow. It returns nil when nothing applies. Calling it
// again without new data issues nothing of the same template.
func (s *Service) GenerateQuest(ctx context.Context, relID uuid.UUID) (*model.Quest, error) {
	snap, err := s.snapshot(ctx, relID)
	if err != nil {
		return nil, err
	}
	snap, _, err = s.refresh(ctx, snap)
	if err != nil {
		return nil, err
	}
	q, ok := s.gen.Next(snap, s.now())
	if !ok {
		return nil, nil
	}
	if err := s.repo.PutQuest(ctx, q); err != nil {
		return nil, fmt.Errorf("quests: put: %w", err)
	}
	s.logger.Info("quests: issued", "relationship_id", relID, "template", q.Template, "quest_id", q.ID)
	return &q, nil
}

// Advance applies new progress to a relationship's quests: it completes,
// expires, and renews as needed, then issues the next quest if one applies.
// It returns every quest it wrote.
func (s *Service) Advance(ctx context.Context, rel model.Relationship, progress model.RelationshipProgress, ps model.Patterns) ([]model.Quest, error) {
	existing, err := s.repo.ListQuests(ctx, rel.ID)
	if err != nil {
		return nil, fmt.Errorf("quests: list: %w", err)
	}
	snap := Snapshot{Relationship: rel, Progress: progress, Patterns: ps, Quests: existing}

	snap, written, err := s.refresh(ctx, snap)
	if err != nil {
		return written, err
	}
	if q, ok := s.gen.Next(snap, s.now()); ok {
		if err := s.repo.PutQuest(ctx, q); err != nil {
			return written, fmt.Errorf("quests: put: %w", err)
		}
		written = append(written, q)
	}
	return written, nil
}

// refresh persists Generator.Refresh and returns the snapshot with the
// changes merged in.
func (s *Service) refresh(ctx context.Context, snap Snapshot) (Snapshot, []model.Quest, error) {
	changed := s.gen.Refresh(snap, s.now())
	if len(changed) == 0 {
		return snap, nil, nil
	}

	byID := make(map[uuid.UUID]int, len(snap.Quests))
	merged := append([]model.Quest(nil), snap.Quests...)
	for i, q := range merged {
		byID[q.ID] = i
	}
	for _, q := range changed {
		if err := s.repo.PutQuest(ctx, q); err != nil {
			return snap, nil, fmt.Errorf("quests: put: %w", err)
		}
		if i, ok := byID[q.ID]; ok {
			merged[i] = q
		} else {
			merged = append(merged, q)
		}
		s.logger.Debug("quests: status change", "quest_id", q.ID, "template", q.Template, "status", q.Status)
	}
	snap.Quests = merged
	return snap, changed, nil
}

func (s *Service) snapshot(ctx context.Context, relID uuid.UUID) (Snapshot, error) {
	rel, err := s.repo.GetRelationship(ctx, relID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("quests: relationship %s: %w", relID, err)
	}
	progress, err := s.repo.GetProgress(ctx, relID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("quests: progress: %w", err)
	}
	logs, err := s.repo.ListLogs(ctx, relID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("quests: logs: %w", err)
	}
	qs, err := s.repo.ListQuests(ctx, relID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("quests: list: %w", err)
	}
	return Snapshot{
		Relationship: rel,
		Progress:     progress,
		Patterns:     patterns.DetectPatterns(logs, s.patternRules),
		Quests:       qs,
	}, nil
}
