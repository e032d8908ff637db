package model_test

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dytto-app/dytto/internal/model"
)

// ptr is a convenience helper for pointer literals in test cases.
func ptr[T any](v T) *T { return &v }

var fixedNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

// ---- NewRelationship -----------------------------------------------------

func TestNewRelationship_HappyPath(t *testing.T) {
	r, err := model.NewRelationship(model.CreateRelationshipRequest{
		Name:       "  Ada  ",
		Categories: []string{"Friend", " ", "Business"},
	}, fixedNow)
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, r.ID)
	assert.Equal(t, "Ada", r.Name)
	assert.Equal(t, []string{"Friend", "Business"}, r.Categories)
	assert.Equal(t, fixedNow, r.CreatedAt)
}

func TestNewRelationship_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		req     model.CreateRelationshipRequest
		wantErr string
	}{
		{"empty name", model.CreateRelationshipRequest{Name: "   "}, "name is required"},
		{"long name", model.CreateRelationshipRequest{Name: strings.Repeat("x", model.MaxNameLen+1)}, "name exceeds"},
		{"long category", model.CreateRelationshipRequest{Name: "a", Categories: []string{strings.Repeat("c", model.MaxCategoryLen+1)}}, "categories[0]"},
		{"too many categories", model.CreateRelationshipRequest{Name: "a", Categories: make([]string, model.MaxCategoryCount+1)}, "at most"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := model.NewRelationship(tt.req, fixedNow)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestRelationship_HasCategoryCaseInsensitive(t *testing.T) {
	r := model.Relationship{Categories: []string{"Friend"}}
	assert.True(t, r.HasCategory("friend"))
	assert.False(t, r.HasCategory("Business"))
}

func TestRelationship_DisplayNameFallback(t *testing.T) {
	assert.Equal(t, "them", model.Relationship{}.DisplayName())
	assert.Equal(t, "Bo", model.Relationship{Name: "Bo"}.DisplayName())
}

// ---- NewInteractionLog ---------------------------------------------------

func TestNewInteractionLog_DefaultsTimestampToNow(t *testing.T) {
	l, err := model.NewInteractionLog(model.CreateInteractionRequest{
		RelationshipID: uuid.New(),
		Content:        "coffee",
	}, fixedNow)
	require.NoError(t, err)
	assert.Equal(t, fixedNow, l.Timestamp)
	assert.False(t, l.Scored())
	assert.Equal(t, model.SentimentNeutral, l.SentimentLabel())
	assert.Equal(t, 0, l.XPValue())
}

func TestNewInteractionLog_KeepsExplicitTimestamp(t *testing.T) {
	ts := fixedNow.Add(-48 * time.Hour)
	l, err := model.NewInteractionLog(model.CreateInteractionRequest{
		RelationshipID: uuid.New(),
		Content:        "dinner",
		Timestamp:      &ts,
	}, fixedNow)
	require.NoError(t, err)
	assert.Equal(t, ts, l.Timestamp)
}

func TestNewInteractionLog_Rejections(t *testing.T) {
	id := uuid.New()
	tests := []struct {
		name    string
		req     model.CreateInteractionRequest
		wantErr string
	}{
		{"missing relationship", model.CreateInteractionRequest{Content: "x"}, "relationship_id"},
		{"blank content", model.CreateInteractionRequest{RelationshipID: id, Content: "  "}, "content is required"},
		{"oversized content", model.CreateInteractionRequest{RelationshipID: id, Content: strings.Repeat("x", model.MaxContentLen+1)}, "maximum length"},
		{"invalid utf8", model.CreateInteractionRequest{RelationshipID: id, Content: "ok\xff"}, "UTF-8"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := model.NewInteractionLog(tt.req, fixedNow)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

// ---- Sentiment -----------------------------------------------------------

func TestParseSentimentLabel(t *testing.T) {
	assert.Equal(t, model.SentimentPositive, model.ParseSentimentLabel(" Positive\n"))
	assert.Equal(t, model.SentimentNegative, model.ParseSentimentLabel("NEGATIVE"))
	assert.Equal(t, model.SentimentNeutral, model.ParseSentimentLabel("ecstatic"))
}

func TestInteractionLog_SentimentLabelNormalizesStoredValue(t *testing.T) {
	bogus := model.SentimentLabel("ecstatic")
	assert.Equal(t, model.SentimentNeutral, model.InteractionLog{Sentiment: &bogus}.SentimentLabel())
	assert.Equal(t, model.SentimentNeutral, model.InteractionLog{}.SentimentLabel())

	pos := model.SentimentPositive
	assert.Equal(t, model.SentimentPositive, model.InteractionLog{Sentiment: &pos}.SentimentLabel())
}

func TestNeutralFallback(t *testing.T) {
	s := model.NeutralFallback()
	assert.Equal(t, model.SentimentNeutral, s.Label)
	assert.Zero(t, s.Confidence)
	assert.True(t, s.Fallback)
}

// ---- EvolutionStage ------------------------------------------------------

func TestEvolutionStage_JSONByName(t *testing.T) {
	p := model.NewProgress(uuid.New())
	p.Stage = model.StageYoungTree
	b, err := json.Marshal(p)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"stage":"young_tree"`)

	var back model.RelationshipProgress
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, model.StageYoungTree, back.Stage)
}

func TestEvolutionStage_UnknownNameDecodesToSeed(t *testing.T) {
	var s model.EvolutionStage = model.StageMatureTree
	require.NoError(t, s.UnmarshalText([]byte("redwood")))
	assert.Equal(t, model.StageSeed, s)
	assert.Equal(t, "unknown", model.EvolutionStage(42).String())
}

// ---- Quest ---------------------------------------------------------------

func TestQuest_SatisfiedAndRemaining(t *testing.T) {
	p := model.RelationshipProgress{Level: 3, InteractionCount: 7, PositiveCount: 4}
	tests := []struct {
		name      string
		q         model.Quest
		satisfied bool
		remaining int
	}{
		{"count met", model.Quest{Target: model.QuestTarget{Type: model.TargetInteractionCount, Value: 7}}, true, 0},
		{"count short", model.Quest{Target: model.QuestTarget{Type: model.TargetInteractionCount, Value: 10}}, false, 3},
		{"level short", model.Quest{Target: model.QuestTarget{Type: model.TargetReachLevel, Value: 5}}, false, 2},
		{"window uses baseline", model.Quest{Baseline: 5, Target: model.QuestTarget{Type: model.TargetInteractionsInWindow, Value: 3}}, false, 1},
		{"positive uses baseline", model.Quest{Baseline: 2, Target: model.QuestTarget{Type: model.TargetPositiveInteractions, Value: 2}}, true, 0},
		{"unknown type", model.Quest{Target: model.QuestTarget{Type: "bogus", Value: 1}}, false, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.satisfied, tt.q.Satisfied(p))
			assert.Equal(t, tt.remaining, tt.q.Remaining(p))
		})
	}
}

// ---- Insight -------------------------------------------------------------

func TestInsight_FreshFor(t *testing.T) {
	gen := fixedNow
	ins := model.Insight{Version: model.InsightVersion, GeneratedAt: gen, SourceCount: 3, ScoredCount: 3}
	stamp := func(count, scored int, latest *time.Time) model.SourceStamp {
		return model.SourceStamp{Count: count, Scored: scored, Latest: latest}
	}

	assert.True(t, ins.FreshFor(stamp(3, 3, ptr(gen.Add(-time.Minute)))))
	assert.False(t, ins.FreshFor(stamp(3, 3, ptr(gen))), "equal timestamps are not provably fresh")
	assert.False(t, ins.FreshFor(stamp(4, 4, ptr(gen.Add(-time.Minute)))), "back-dated log changes the count")

	empty := model.Insight{Version: model.InsightVersion, GeneratedAt: gen}
	assert.True(t, empty.FreshFor(stamp(0, 0, nil)))

	old := ins
	old.Version = model.InsightVersion - 1
	assert.False(t, old.FreshFor(stamp(3, 3, ptr(gen.Add(-time.Minute)))))

	partial := ins
	partial.ScoredCount = 2
	assert.False(t, partial.FreshFor(stamp(3, 3, ptr(gen.Add(-time.Minute)))), "a log scored after generation")
}

func TestStampOf(t *testing.T) {
	label := model.SentimentPositive
	xp := 2
	early, late := fixedNow.Add(-2*time.Hour), fixedNow.Add(-time.Hour)
	history := []model.InteractionLog{
		{Timestamp: late, Sentiment: &label, XP: &xp},
		{Timestamp: early},
	}

	s := model.StampOf(history)
	assert.Equal(t, 2, s.Count)
	assert.Equal(t, 1, s.Scored)
	require.NotNil(t, s.Latest)
	assert.Equal(t, late, *s.Latest)

	assert.Equal(t, model.SourceStamp{}, model.StampOf(nil))
}

func TestPatterns_HasAndHasTopic(t *testing.T) {
	ps := model.Patterns{
		{Kind: model.PatternRecurringTopic, Topic: "work"},
		{Kind: model.PatternFrequentContact},
	}
	assert.True(t, ps.Has(model.PatternFrequentContact))
	assert.False(t, ps.Has(model.PatternReconnection))
	assert.True(t, ps.HasTopic("work"))
	assert.False(t, ps.HasTopic("family"))
	assert.Equal(t, "recurring_topic:work", ps[0].Key())
	assert.Equal(t, "frequent_contact", ps[1].Key())
}
