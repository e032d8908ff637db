package insights

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/dytto-app/dytto/internal/model"
	"github.com/dytto-app/dytto/internal/service/patterns"
)

// Trend directions.
const (
	DirectionInactive   = "inactive"
	DirectionIncreasing = "increasing"
	DirectionDecreasing = "decreasing"
	DirectionSteady     = "steady"
)

// InteractionTrends summarizes activity in history as of asOf. history must be
// ordered oldest first.
func (a *Aggregator) InteractionTrends(name string, history []model.InteractionLog, asOf time.Time) model.InteractionTrends {
	r := a.rules.Insights
	weekStart, monthStart := asOf.Add(-r.WeeklyWindow), asOf.Add(-r.MonthlyWindow)

	t := model.InteractionTrends{TotalInteractions: len(history), Series: []model.TrendPoint{}}
	var xp int
	for _, l := range history {
		xp += l.XPValue()
		if l.Timestamp.After(weekStart) && !l.Timestamp.After(asOf) {
			t.WeeklyFrequency++
		}
		if l.Timestamp.After(monthStart) && !l.Timestamp.After(asOf) {
			t.MonthlyFrequency++
		}
	}
	if len(history) > 0 {
		t.AverageXP = math.Round(float64(xp)/float64(len(history))*10) / 10
	}
	t.Direction = direction(t.WeeklyFrequency, t.MonthlyFrequency, r.WeeklyWindow, r.MonthlyWindow)
	t.Series = series(history, asOf, r.SeriesDays)
	t.Insight = trendInsight(name, t.WeeklyFrequency, t.MonthlyFrequency)
	return t
}

// direction compares the weekly count to the weekly rate implied by the
// monthly count.
func direction(weekly, monthly int, week, month time.Duration) string {
	if monthly == 0 {
		return DirectionInactive
	}
	expected := float64(monthly) * week.Hours() / month.Hours()
	switch w := float64(weekly); {
	case w > expected*1.25:
		return DirectionIncreasing
	case w < expected*0.75:
		return DirectionDecreasing
	default:
		return DirectionSteady
	}
}

// series buckets the last days days of history by UTC date. Days without
// activity are omitted.
func series(history []model.InteractionLog, asOf time.Time, days int) []model.TrendPoint {
	out := []model.TrendPoint{}
	if days <= 0 {
		return out
	}
	end := asOf.UTC().Truncate(24 * time.Hour)
	start := end.AddDate(0, 0, -(days - 1))

	type bucket struct {
		n, scored, xp int
		score         float64
	}
	buckets := make(map[time.Time]*bucket)
	for _, l := range history {
		d := l.Timestamp.UTC().Truncate(24 * time.Hour)
		if d.Before(start) || d.After(end) {
			continue
		}
		b, ok := buckets[d]
		if !ok {
			b = &bucket{}
			buckets[d] = b
		}
		b.n++
		b.xp += l.XPValue()
		if l.Sentiment != nil && !l.Fallback {
			b.scored++
			b.score += l.SentimentLabel().Score()
		}
	}
	for d, b := range buckets {
		p := model.TrendPoint{Date: d, Interactions: b.n, XP: b.xp}
		if b.scored > 0 {
			p.SentimentScore = math.Round(b.score/float64(b.scored)*100) / 100
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

func trendInsight(name string, weekly, monthly int) string {
	switch {
	case weekly == 0 && monthly == 0:
		return fmt.Sprintf("You haven't logged any interactions with %s recently. Consider reaching out!", name)
	case weekly > 2:
		return fmt.Sprintf("You're very active with %s this week! Your relationship is clearly thriving.", name)
	case monthly > weekly*3:
		return fmt.Sprintf("Your interactions with %s have been consistent this month. Great job maintaining the connection!", name)
	default:
		return fmt.Sprintf("You maintain a steady relationship with %s. Consider scheduling regular check-ins.", name)
	}
}

// Common tones.
const (
	TonePositive = "Positive"
	ToneNegative = "Negative"
	ToneBalanced = "Balanced"
)

// EmotionalSummary describes the emotional tone of history. The summary
// sentence is generated, with a template fallback.
func (a *Aggregator) EmotionalSummary(ctx context.Context, name string, history []model.InteractionLog) model.EmotionalSummary {
	var pos, neg, neu int
	for _, l := range history {
		if l.Sentiment == nil {
			continue
		}
		switch l.SentimentLabel() {
		case model.SentimentPositive:
			pos++
		case model.SentimentNegative:
			neg++
		default:
			neu++
		}
	}

	s := model.EmotionalSummary{CommonTone: ToneBalanced, Keywords: keywords(history, a.rules.Insights.KeywordLimit)}
	switch {
	case pos > neg && pos > neu:
		s.CommonTone = TonePositive
	case neg > pos && neg > neu:
		s.CommonTone = ToneNegative
	}
	if total := pos + neg + neu; total > 0 {
		s.Distribution = model.SentimentDistribution{
			Positive: percent(pos, total),
			Neutral:  percent(neu, total),
			Negative: percent(neg, total),
		}
	}

	fallback := summaryTemplate(name, s.CommonTone, len(history))
	if len(history) == 0 {
		s.Summary = model.Suggestion{Text: fallback, Fallback: true}
		return s
	}
	s.Summary = a.client.Generate(ctx, summaryPrompt(name, s, len(history)), fallback)
	return s
}

func percent(n, total int) int {
	return int(math.Round(float64(n) / float64(total) * 100))
}

// keywords collects distinct tones, most recent logs first.
func keywords(history []model.InteractionLog, limit int) []string {
	out := []string{}
	seen := make(map[string]bool)
	for i := len(history) - 1; i >= 0 && len(out) < limit; i-- {
		for _, t := range history[i].Tone {
			t = strings.ToLower(t)
			if t == "" || seen[t] {
				continue
			}
			seen[t] = true
			out = append(out, t)
			if len(out) == limit {
				break
			}
		}
	}
	return out
}

func summaryTemplate(name, tone string, count int) string {
	var kind string
	switch tone {
	case TonePositive:
		kind = "healthy and supportive"
	case ToneNegative:
		kind = "challenging but important"
	default:
		kind = "stable and balanced"
	}
	return fmt.Sprintf("Your relationship with %s shows a %s emotional pattern across %d interactions. This suggests a %s connection.",
		name, strings.ToLower(tone), count, kind)
}

func summaryPrompt(name string, s model.EmotionalSummary, count int) string {
	return fmt.Sprintf(
		"Write two warm sentences summarizing the emotional tone of a relationship with %s. "+
			"Across %d journal entries the sentiment was %d%% positive, %d%% neutral and %d%% negative. "+
			"Frequent tones: %s. Reply with the summary only.",
		name, count, s.Distribution.Positive, s.Distribution.Neutral, s.Distribution.Negative,
		strings.Join(s.Keywords, ", "))
}

// ForecastConfidence maps history size to an overall confidence percentage.
func ForecastConfidence(count int) int {
	switch {
	case count < 5:
		return 60
	case count < 10:
		return 75
	case count < 20:
		return 85
	default:
		return 95
	}
}

// RelationshipForecasts projects where a relationship is heading from its
// progress and patterns. It makes no collaborator calls.
func (a *Aggregator) RelationshipForecasts(rel model.Relationship, progress model.RelationshipProgress, ps model.Patterns) model.RelationshipForecast {
	var fs []model.Forecast
	if progress.InteractionCount > 0 && float64(progress.XP)/float64(progress.InteractionCount) > 2 {
		fs = append(fs, model.Forecast{
			Path:       "Deepening Connection",
			Confidence: 85,
			Reasoning:  "High-quality interactions suggest this relationship will continue to strengthen.",
		})
	}
	if progress.InteractionCount > 10 {
		fs = append(fs, model.Forecast{
			Path:       "Stable Friendship",
			Confidence: 90,
			Reasoning:  "Consistent interaction history indicates a reliable, long-term relationship.",
		})
	}
	if rel.HasCategory("Friend") && progress.Level >= 5 {
		fs = append(fs, model.Forecast{
			Path:       "Potential for Deeper Bond",
			Confidence: 70,
			Reasoning:  "Current level and friendship category suggest potential for closer connection.",
		})
	}
	if ps.Has(model.PatternSentimentDeclining) || ps.Has(model.PatternDecliningFrequency) {
		fs = append(fs, model.Forecast{
			Path:       "Needs Attention",
			Confidence: 65,
			Reasoning:  "Recent interactions are becoming less frequent or less positive.",
		})
	}
	if len(fs) == 0 {
		fs = append(fs, model.Forecast{
			Path:       "Continued Growth",
			Confidence: 75,
			Reasoning:  "Based on current interaction patterns, this relationship shows positive potential.",
		})
	}

	out := model.RelationshipForecast{Forecasts: fs, Confidence: ForecastConfidence(progress.InteractionCount)}
	if next := a.analyzer.NextEvolution(progress); next != nil {
		out.NextStage = next.To
	}
	return out
}

// Suggestion types.
const (
	SuggestReconnect = "Reconnection Nudge"
	SuggestNext      = "Next Interaction"
	SuggestGrowth    = "Growth Opportunity"
	SuggestMaintain  = "Maintenance"
	SuggestPersonal  = "Personal Connection"
)

// SmartSuggestions returns up to SuggestionLimit actionable suggestions for
// one relationship. history must be ordered oldest first.
func (a *Aggregator) SmartSuggestions(ctx context.Context, rel model.Relationship, progress model.RelationshipProgress, history []model.InteractionLog, ps model.Patterns, asOf time.Time) []model.SmartSuggestion {
	name := rel.DisplayName()
	var out []model.SmartSuggestion

	if n := len(history); n > 0 {
		idle := asOf.Sub(history[n-1].Timestamp)
		if idle > a.rules.Insights.ReconnectAfter {
			out = append(out, model.SmartSuggestion{
				Type:    SuggestReconnect,
				Content: fmt.Sprintf("It's been %d days since you logged an interaction with %s. How are they doing?", int(idle.Hours()/24), name),
			})
		}
	}

	next := a.analyzer.SuggestInteraction(ctx, rel, history, ps)
	out = append(out, model.SmartSuggestion{Type: SuggestNext, Content: next.Text, Fallback: next.Fallback})

	if progress.Level < 5 {
		out = append(out, model.SmartSuggestion{
			Type:    SuggestGrowth,
			Content: fmt.Sprintf("Try sharing something personal with %s to deepen your connection.", name),
		})
	} else {
		out = append(out, model.SmartSuggestion{
			Type:    SuggestMaintain,
			Content: fmt.Sprintf("Your relationship with %s is strong. Consider planning a meaningful activity together.", name),
		})
	}

	if recentTopic(history, "work", 5) {
		out = append(out, model.SmartSuggestion{
			Type:    SuggestPersonal,
			Content: fmt.Sprintf("You've been discussing work with %s. Try asking about their personal interests or hobbies.", name),
		})
	}

	if limit := a.rules.Insights.SuggestionLimit; len(out) > limit {
		out = out[:limit]
	}
	return out
}

func recentTopic(history []model.InteractionLog, topic string, lookback int) bool {
	for i := len(history) - 1; i >= 0 && i >= len(history)-lookback; i-- {
		for _, t := range patterns.LogTopics(history[i]) {
			if t == topic {
				return true
			}
		}
	}
	return false
}
