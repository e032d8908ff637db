package scoring

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dytto-app/dytto/internal/config"
	"github.com/dytto-app/dytto/internal/model"
	"github.com/dytto-app/dytto/internal/service/analysis"
	"github.com/dytto-app/dytto/internal/service/leveling"
	"github.com/dytto-app/dytto/internal/testutil"
)

var now = time.Date(2026, 6, 1, 18, 0, 0, 0, time.UTC)

func newCalculator(t *testing.T, p analysis.Provider, thresholds []int, rules config.XPRules) *Calculator {
	t.Helper()
	levels, err := leveling.New(thresholds, nil)
	require.NoError(t, err)
	client := analysis.NewClient(p, analysis.Options{Timeout: 50 * time.Millisecond}, testutil.TestLogger())
	c := New(client, levels, rules, "test-v1", testutil.TestLogger())
	c.now = func() time.Time { return now }
	return c
}

func defaults(t *testing.T, p analysis.Provider) *Calculator {
	r := config.DefaultRules()
	return newCalculator(t, p, r.LevelThresholds, r.XP)
}

func newLog(content string, ts time.Time) model.InteractionLog {
	return model.InteractionLog{ID: uuid.New(), RelationshipID: uuid.New(), Content: content, Timestamp: ts}
}

func TestCalculateXP(t *testing.T) {
	c := defaults(t, &analysis.Stub{})
	recent := now.Add(-24 * time.Hour)
	stale := now.Add(-30 * 24 * time.Hour)
	positive := model.Sentiment{Label: model.SentimentPositive, Confidence: 0.9}
	neutral := model.Sentiment{Label: model.SentimentNeutral, Confidence: 0.5}

	tests := []struct {
		name     string
		content  string
		s        model.Sentiment
		progress model.RelationshipProgress
		want     int
	}{
		{"short neutral, first ever, early level", "hi", neutral, model.RelationshipProgress{}, 3},
		{"short neutral, recent contact, early level", "hi", neutral, model.RelationshipProgress{LastInteractionAt: &recent}, 2},
		{"short neutral, recent contact, high level", "hi", neutral, model.RelationshipProgress{XP: 100, LastInteractionAt: &recent}, 1},
		{"long positive, stale contact, capped", strings.Repeat("a", 450), positive, model.RelationshipProgress{LastInteractionAt: &stale}, 5},
		{"length bonus capped at two", strings.Repeat("a", 900), neutral, model.RelationshipProgress{XP: 100, LastInteractionAt: &recent}, 3},
		{"low-confidence positive rounds down", "hi", model.Sentiment{Label: model.SentimentPositive, Confidence: 0.4}, model.RelationshipProgress{XP: 100, LastInteractionAt: &recent}, 1},
		{"fallback sentiment earns no bonus", "hi", model.NeutralFallback(), model.RelationshipProgress{XP: 100, LastInteractionAt: &recent}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.CalculateXP(newLog(tt.content, now), tt.s, tt.progress)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got, c.CalculateXP(newLog(tt.content, now), tt.s, tt.progress), "deterministic")
		})
	}
}

func TestCalculateXP_NeverNegative(t *testing.T) {
	c := newCalculator(t, &analysis.Stub{}, []int{0, 10}, config.XPRules{Base: -10, LengthUnit: 100, MaxPerLog: 5})
	assert.Equal(t, 0, c.CalculateXP(newLog("x", now), model.NeutralFallback(), model.RelationshipProgress{}))
}

func TestAnalyzeSentiment_FailingProvider(t *testing.T) {
	c := defaults(t, analysis.FailingStub())
	s := c.AnalyzeSentiment(context.Background(), "what a wonderful day")
	assert.Equal(t, model.SentimentNeutral, s.Label)
	assert.Zero(t, s.Confidence)
	assert.True(t, s.Fallback)

	xp := c.CalculateXP(newLog("what a wonderful day", now), s, model.NewProgress(uuid.New()))
	assert.GreaterOrEqual(t, xp, 0)
}

func TestAnalyzeSentiment_HangingProviderTimesOut(t *testing.T) {
	c := defaults(t, analysis.HangingStub())
	start := time.Now()
	s := c.AnalyzeSentiment(context.Background(), "hello")
	assert.True(t, s.Fallback)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestProcessInteractionLog_ScoresAndUpdatesProgress(t *testing.T) {
	c := defaults(t, &analysis.Stub{})
	log := newLog("Had a wonderful dinner, so happy we caught up", now.Add(-time.Hour))
	progress := model.NewProgress(log.RelationshipID)

	res := c.ProcessInteractionLog(context.Background(), log, progress)

	require.True(t, res.Log.Scored())
	assert.Equal(t, model.SentimentPositive, res.Log.SentimentLabel())
	assert.Equal(t, "test-v1", res.Log.AnalyzerVersion)
	require.NotNil(t, res.Log.ScoredAt)
	assert.Equal(t, now, *res.Log.ScoredAt)
	assert.False(t, res.Skipped)

	assert.Equal(t, res.XPDelta, res.Progress.XP)
	assert.Equal(t, 1, res.Progress.InteractionCount)
	assert.Equal(t, 1, res.Progress.PositiveCount)
	require.NotNil(t, res.Progress.LastInteractionAt)
	assert.Equal(t, log.Timestamp, *res.Progress.LastInteractionAt)
	assert.Equal(t, c.Levels().CalculateLevel(res.Progress.XP), res.Progress.Level)
}

func TestProcessInteractionLog_Idempotent(t *testing.T) {
	stub := &analysis.Stub{}
	c := defaults(t, stub)
	log := newLog("coffee chat", now)
	progress := model.NewProgress(log.RelationshipID)

	first := c.ProcessInteractionLog(context.Background(), log, progress)
	second := c.ProcessInteractionLog(context.Background(), first.Log, first.Progress)

	assert.True(t, second.Skipped)
	assert.Zero(t, second.XPDelta)
	assert.Equal(t, first.Progress.XP, second.Progress.XP)
	assert.Equal(t, first.Progress.InteractionCount, second.Progress.InteractionCount)
	assert.Equal(t, int64(1), stub.ClassifyCalls(), "scored log is not re-analyzed")
}

func TestProcessInteractionLog_LevelUpScenario(t *testing.T) {
	c := newCalculator(t, analysis.FailingStub(), []int{0, 40, 100}, config.XPRules{Base: 50, LengthUnit: 100, MaxPerLog: 100})
	log := newLog("a", now)

	res := c.ProcessInteractionLog(context.Background(), log, model.NewProgress(log.RelationshipID))
	assert.Equal(t, 50, res.XPDelta)
	assert.Equal(t, 50, res.Progress.XP)
	assert.Equal(t, 1, res.OldLevel)
	assert.Equal(t, 2, res.NewLevel)
	assert.True(t, res.LeveledUp)
}

func TestProcessInteractionLog_BackdatedLogKeepsLatestTimestamp(t *testing.T) {
	c := defaults(t, &analysis.Stub{})
	latest := now
	log := newLog("old memory", now.Add(-72*time.Hour))
	p := model.NewProgress(log.RelationshipID)
	p.LastInteractionAt = &latest
	p.InteractionCount = 4

	res := c.ProcessInteractionLog(context.Background(), log, p)
	assert.Equal(t, latest, *res.Progress.LastInteractionAt)
	assert.Equal(t, 5, res.Progress.InteractionCount)
}
