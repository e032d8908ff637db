// Package journal records interactions and runs every downstream effect:
// scoring, progress, evolution and quests.
//
// Each step is a single upsert. If the process dies between steps, calling
// Resume with the log ID re-derives the rest; scoring is skipped for logs
// that are already scored and progress is rebuilt from the scored logs.
package journal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dytto-app/dytto/internal/config"
	"github.com/dytto-app/dytto/internal/model"
	"github.com/dytto-app/dytto/internal/service/patterns"
	"github.com/dytto-app/dytto/internal/service/quests"
	"github.com/dytto-app/dytto/internal/service/scoring"
	"github.com/dytto-app/dytto/internal/storage"
)

// ErrInvalid marks a rejected interaction request.
var ErrInvalid = errors.New("journal: invalid interaction")

// Service orchestrates one interaction at a time per call. Safe for
// concurrent use; concurrent calls for the same relationship may race on
// progress, and Resume repairs the result.
type Service struct {
	repo         *storage.Repository
	scorer       *scoring.Calculator
	analyzer     *patterns.Analyzer
	quests       *quests.Service
	patternRules config.PatternRules
	logger       *slog.Logger
	now          func() time.Time
}

// New creates a journal Service.
func New(repo *storage.Repository, scorer *scoring.Calculator, analyzer *patterns.Analyzer, qs *quests.Service, patternRules config.PatternRules, logger *slog.Logger) *Service {
	return &Service{
		repo:         repo,
		scorer:       scorer,
		analyzer:     analyzer,
		quests:       qs,
		patternRules: patternRules,
		logger:       logger,
		now:          time.Now,
	}
}

// Record validates req, stores the log and applies its effects.
func (s *Service) Record(ctx context.Context, req model.CreateInteractionRequest) (model.RecordResult, error) {
	l, err := model.NewInteractionLog(req, s.now())
	if err != nil {
		return model.RecordResult{}, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	rel, err := s.repo.GetRelationship(ctx, l.RelationshipID)
	if err != nil {
		return model.RecordResult{}, fmt.Errorf("journal: load relationship: %w", err)
	}

	// Stored unscored first so the raw entry survives a failure below.
	if err := s.repo.PutLog(ctx, l); err != nil {
		return model.RecordResult{}, fmt.Errorf("journal: put log: %w", err)
	}
	progress, err := s.repo.GetProgress(ctx, rel.ID)
	if err != nil {
		return model.RecordResult{}, fmt.Errorf("journal: load progress: %w", err)
	}
	return s.apply(ctx, rel, l, progress)
}

// Resume re-runs the effects of a stored log. It awards XP at most once.
func (s *Service) Resume(ctx context.Context, logID uuid.UUID) (model.RecordResult, error) {
	l, err := s.repo.GetLog(ctx, logID)
	if err != nil {
		return model.RecordResult{}, fmt.Errorf("journal: load log: %w", err)
	}
	rel, err := s.repo.GetRelationship(ctx, l.RelationshipID)
	if err != nil {
		return model.RecordResult{}, fmt.Errorf("journal: load relationship: %w", err)
	}
	progress, err := s.Rebuild(ctx, rel.ID)
	if err != nil {
		return model.RecordResult{}, err
	}
	return s.apply(ctx, rel, l, progress)
}

func (s *Service) apply(ctx context.Context, rel model.Relationship, l model.InteractionLog, progress model.RelationshipProgress) (model.RecordResult, error) {
	res := model.RecordResult{ProcessResult: s.scorer.ProcessInteractionLog(ctx, l, progress)}
	if !res.Skipped {
		if err := s.repo.PutLog(ctx, res.Log); err != nil {
			return res, fmt.Errorf("journal: put scored log: %w", err)
		}
	}
	progress = res.Progress

	if res.LeveledUp {
		ev := model.LevelEvent{
			RelationshipID: rel.ID,
			InteractionID:  res.Log.ID,
			OldLevel:       res.OldLevel,
			NewLevel:       res.NewLevel,
			XPGained:       res.XPDelta,
			OccurredAt:     s.now().UTC(),
		}
		if err := s.repo.PutLevelEvent(ctx, ev); err != nil {
			return res, fmt.Errorf("journal: put level event: %w", err)
		}
	}

	history, err := s.repo.ListLogs(ctx, rel.ID)
	if err != nil {
		return res, fmt.Errorf("journal: load history: %w", err)
	}
	ps := patterns.DetectPatterns(history, s.patternRules)

	if stage, ok := s.analyzer.SuggestEvolution(progress, ps); ok {
		s.logger.Info("journal: stage advanced",
			"relationship_id", rel.ID,
			"from", progress.Stage,
			"to", stage)
		progress.Stage = stage
		res.StageAdvanced = true
	}
	if !res.Skipped || res.StageAdvanced {
		progress.UpdatedAt = s.now().UTC()
		if err := s.repo.PutProgress(ctx, progress); err != nil {
			return res, fmt.Errorf("journal: put progress: %w", err)
		}
	}
	res.Progress = progress

	written, err := s.quests.Advance(ctx, rel, progress, ps)
	if err != nil {
		return res, err
	}
	res.Quests = written
	if res.Quests == nil {
		res.Quests = []model.Quest{}
	}
	return res, nil
}

// Rebuild recomputes a relationship's progress counters from its scored
// logs and stores the result. The evolution stage is kept because stages
// never move backwards.
func (s *Service) Rebuild(ctx context.Context, relID uuid.UUID) (model.RelationshipProgress, error) {
	stored, err := s.repo.GetProgress(ctx, relID)
	if err != nil {
		return model.RelationshipProgress{}, fmt.Errorf("journal: load progress: %w", err)
	}
	logs, err := s.repo.ListLogs(ctx, relID)
	if err != nil {
		return model.RelationshipProgress{}, fmt.Errorf("journal: load history: %w", err)
	}

	p := model.NewProgress(relID)
	p.Stage = stored.Stage
	for _, l := range logs {
		if !l.Scored() {
			continue
		}
		p.XP += l.XPValue()
		p.InteractionCount++
		if l.SentimentLabel() == model.SentimentPositive {
			p.PositiveCount++
		}
		if p.LastInteractionAt == nil || l.Timestamp.After(*p.LastInteractionAt) {
			ts := l.Timestamp
			p.LastInteractionAt = &ts
		}
	}
	p.Level = s.scorer.Levels().CalculateLevel(p.XP)
	p.UpdatedAt = s.now().UTC()

	if err := s.repo.PutProgress(ctx, p); err != nil {
		return model.RelationshipProgress{}, fmt.Errorf("journal: put progress: %w", err)
	}
	if p.XP != stored.XP || p.InteractionCount != stored.InteractionCount {
		s.logger.Warn("journal: progress rebuilt",
			"relationship_id", relID,
			"stored_xp", stored.XP,
			"rebuilt_xp", p.XP)
	}
	return p, nil
}
