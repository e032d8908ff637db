// Package scoring derives sentiment and XP for interaction logs and applies
// the result to relationship progress.
package scoring

import (
	"context"
	"log/slog"
	"math"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/dytto-app/dytto/internal/config"
	"github.com/dytto-app/dytto/internal/model"
	"github.com/dytto-app/dytto/internal/service/analysis"
	"github.com/dytto-app/dytto/internal/service/leveling"
	"github.com/dytto-app/dytto/internal/telemetry"
)

// Calculator scores interaction logs. It holds no per-request state.
type Calculator struct {
	analysis *analysis.Client
	levels   *leveling.Table
	rules    config.XPRules
	version  string
	logger   *slog.Logger
	now      func() time.Time

	awarded metric.Int64Counter
}

// New creates a Calculator. version is stamped on every scored log.
func New(client *analysis.Client, levels *leveling.Table, rules config.XPRules, version string, logger *slog.Logger) *Calculator {
	meter := telemetry.Meter("dytto/scoring")
	awarded, _ := meter.Int64Counter("dytto.xp.awarded",
		metric.WithDescription("XP awarded to interaction logs"),
	)
	return &Calculator{
		analysis: client,
		levels:   levels,
		rules:    rules,
		version:  version,
		logger:   logger,
		now:      time.Now,
		awarded:  awarded,
	}
}

// Levels returns the leveling table used for progress updates.
func (c *Calculator) Levels() *leveling.Table { return c.levels }

// AnalyzeSentiment classifies text. It never fails: collaborator errors and
// timeouts yield model.NeutralFallback.
func (c *Calculator) AnalyzeSentiment(ctx context.Context, text string) model.Sentiment {
	return c.analysis.Classify(ctx, text)
}

// CalculateXP returns the XP a log earns given its sentiment and the progress
// of its relationship before the log. The result is deterministic in its
// inputs and always in [0, MaxPerLog].
func (c *Calculator) CalculateXP(log model.InteractionLog, s model.Sentiment, p model.RelationshipProgress) int {
	r := c.rules
	xp := r.Base

	if r.LengthUnit > 0 {
		xp += min(utf8.RuneCountInString(log.Content)/r.LengthUnit, r.LengthCap)
	}

	if s.Label == model.SentimentPositive {
		conf := min(max(s.Confidence, 0), 1)
		xp += int(math.Round(conf * r.SentimentWeight))
	}

	if novel(log, p, r.RecencyWindow) {
		xp += r.NoveltyBonus
	}

	if c.levels.CalculateLevel(p.XP) <= r.EarlyLevelMax {
		xp += r.EarlyLevelBonus
	}

	return min(max(xp, 0), r.MaxPerLog)
}

// novel reports whether the relationship had no interaction within window
// before the log.
func novel(log model.InteractionLog, p model.RelationshipProgress, window time.Duration) bool {
	if p.LastInteractionAt == nil {
		return true
	}
	return log.Timestamp.Sub(*p.LastInteractionAt) >= window
}

// ProcessInteractionLog scores log and applies the XP to progress.
//
// A log that already carries sentiment and XP is returned untouched with
// Skipped set and a zero delta, so processing the same log twice awards
// XP once.
func (c *Calculator) ProcessInteractionLog(ctx context.Context, log model.InteractionLog, progress model.RelationshipProgress) model.ProcessResult {
	if progress.RelationshipID == uuid.Nil {
		progress.RelationshipID = log.RelationshipID
	}
	oldLevel := c.levels.CalculateLevel(progress.XP)
	progress.Level = oldLevel

	if log.Scored() {
		return model.ProcessResult{
			Log:      log,
			Progress: progress,
			OldLevel: oldLevel,
			NewLevel: oldLevel,
			Skipped:  true,
		}
	}

	s := c.AnalyzeSentiment(ctx, log.Content)
	xp := c.CalculateXP(log, s, progress)

	now := c.now().UTC()
	label := s.Label
	log.Sentiment = &label
	log.SentimentConfidence = s.Confidence
	log.XP = &xp
	log.Topics = s.Topics
	log.Tone = s.Tone
	log.Fallback = s.Fallback
	log.AnalyzerVersion = c.version
	log.ScoredAt = &now

	progress.XP += xp
	progress.Level = c.levels.CalculateLevel(progress.XP)
	progress.InteractionCount++
	if label == model.SentimentPositive {
		progress.PositiveCount++
	}
	if progress.LastInteractionAt == nil || log.Timestamp.After(*progress.LastInteractionAt) {
		ts := log.Timestamp
		progress.LastInteractionAt = &ts
	}
	progress.UpdatedAt = now

	c.awarded.Add(ctx, int64(xp), metric.WithAttributes(
		attribute.String("sentiment", string(label)),
		attribute.Bool("fallback", s.Fallback),
	))

	res := model.ProcessResult{
		Log:       log,
		Progress:  progress,
		XPDelta:   xp,
		OldLevel:  oldLevel,
		NewLevel:  progress.Level,
		LeveledUp: progress.Level != oldLevel,
	}
	if res.LeveledUp {
		c.logger.Info("scoring: level up",
			"relationship_id", log.RelationshipID,
			"old_level", oldLevel,
			"new_level", progress.Level)
	}
	return res
}
