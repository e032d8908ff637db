package model

import (
	"time"

	"github.com/google/uuid"
)

// InsightVersion is bumped whenever the Insight shape or its derivation changes.
// Stored insights with a different version are treated as stale.
const InsightVersion = 2

// GlobalScope is the insight scope that spans every relationship.
const GlobalScope = "global"

// ScopeFor returns the insight scope of one relationship.
func ScopeFor(relationshipID uuid.UUID) string {
	return relationshipID.String()
}

// PatternKind names a recurring behavioral signal in an interaction history.
type PatternKind string

const (
	PatternFrequentContact      PatternKind = "frequent_contact"
	PatternDecliningFrequency   PatternKind = "declining_frequency"
	PatternReconnection         PatternKind = "reconnection"
	PatternSentimentImproving   PatternKind = "sentiment_improving"
	PatternSentimentDeclining   PatternKind = "sentiment_declining"
	PatternConsistentlyPositive PatternKind = "consistently_positive"
	PatternRecurringTopic       PatternKind = "recurring_topic"
)

// PatternTag is one detected pattern. Topic is set only for recurring_topic.
type PatternTag struct {
	Kind     PatternKind `json:"kind"`
	Topic    string      `json:"topic,omitempty"`
	Count    int         `json:"count"`
	LastSeen time.Time   `json:"last_seen"`
}

// Key identifies the tag independent of its counters.
func (t PatternTag) Key() string {
	if t.Topic == "" {
		return string(t.Kind)
	}
	return string(t.Kind) + ":" + t.Topic
}

// Patterns is an ordered set of tags.
type Patterns []PatternTag

// Has reports whether a tag of kind k is present.
func (ps Patterns) Has(k PatternKind) bool {
	for _, p := range ps {
		if p.Kind == k {
			return true
		}
	}
	return false
}

// HasTopic reports whether a recurring_topic tag for topic is present.
func (ps Patterns) HasTopic(topic string) bool {
	for _, p := range ps {
		if p.Kind == PatternRecurringTopic && p.Topic == topic {
			return true
		}
	}
	return false
}

// Suggestion is a best-effort piece of generated text.
// Fallback is set when the text came from a template because generation failed.
type Suggestion struct {
	Text     string `json:"text"`
	Fallback bool   `json:"fallback"`
}

// TrendPoint is one bucket of the sentiment/activity series.
type TrendPoint struct {
	Date           time.Time `json:"date"`
	Interactions   int       `json:"interactions"`
	SentimentScore float64   `json:"sentiment_score"`
	XP             int       `json:"xp"`
}

// InteractionTrends summarizes activity over time.
type InteractionTrends struct {
	TotalInteractions int          `json:"total_interactions"`
	WeeklyFrequency   int          `json:"weekly_frequency"`
	MonthlyFrequency  int          `json:"monthly_frequency"`
	AverageXP         float64      `json:"average_xp"`
	Direction         string       `json:"direction"`
	Series            []TrendPoint `json:"series"`
	Insight           string       `json:"insight"`
}

// SentimentDistribution holds whole-number percentages per label.
type SentimentDistribution struct {
	Positive int `json:"positive"`
	Neutral  int `json:"neutral"`
	Negative int `json:"negative"`
}

// EmotionalSummary describes the emotional tone of a history.
type EmotionalSummary struct {
	CommonTone   string                `json:"common_tone"`
	Distribution SentimentDistribution `json:"distribution"`
	Keywords     []string              `json:"keywords"`
	Summary      Suggestion            `json:"summary"`
}

// Forecast is one projected path for a relationship.
type Forecast struct {
	Path       string `json:"path"`
	Confidence int    `json:"confidence"`
	Reasoning  string `json:"reasoning"`
}

// RelationshipForecast bundles forecasts with an overall confidence.
type RelationshipForecast struct {
	Forecasts  []Forecast `json:"forecasts"`
	Confidence int        `json:"confidence"`
	NextStage  string     `json:"next_stage,omitempty"`
}

// SmartSuggestion is an actionable recommendation.
type SmartSuggestion struct {
	Type     string `json:"type"`
	Content  string `json:"content"`
	Fallback bool   `json:"fallback,omitempty"`
}

// Insight is a cached composite snapshot for a scope.
type Insight struct {
	Scope       string               `json:"scope"`
	Version     int                  `json:"version"`
	GeneratedAt time.Time            `json:"generated_at"`
	SourceCount int                  `json:"source_count"`
	ScoredCount int                  `json:"scored_count"`
	LatestLogAt *time.Time           `json:"latest_log_at,omitempty"`
	Patterns    Patterns             `json:"patterns"`
	Trends      InteractionTrends    `json:"trends"`
	Emotional   EmotionalSummary     `json:"emotional"`
	Forecast    RelationshipForecast `json:"forecast"`
	Suggestions []SmartSuggestion    `json:"suggestions"`
}

// SourceStamp summarizes the history an insight is derived from. Scoring
// an interrupted log moves Scored while Count and Latest stay put.
type SourceStamp struct {
	Count  int
	Scored int
	Latest *time.Time
}

// StampOf summarizes history.
func StampOf(history []InteractionLog) SourceStamp {
	s := SourceStamp{Count: len(history)}
	for i := range history {
		if history[i].Scored() {
			s.Scored++
		}
		if ts := history[i].Timestamp; s.Latest == nil || ts.After(*s.Latest) {
			s.Latest = &ts
		}
	}
	return s
}

// FreshFor reports whether the insight can be served for a history with
// the given stamp.
func (i Insight) FreshFor(s SourceStamp) bool {
	if i.Version != InsightVersion || i.SourceCount != s.Count || i.ScoredCount != s.Scored {
		return false
	}
	if s.Latest == nil {
		return true
	}
	return i.GeneratedAt.After(*s.Latest)
}
