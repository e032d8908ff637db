// Package patterns detects behavioral signals in interaction histories and
// turns them into evolution and interaction suggestions.
package patterns

import (
	"sort"
	"strings"
	"time"

	"github.com/dytto-app/dytto/internal/config"
	"github.com/dytto-app/dytto/internal/model"
	"github.com/dytto-app/dytto/internal/service/analysis"
)

// DetectPatterns returns the patterns present in history. It is a pure
// function of its inputs: time is measured relative to the latest log, not
// the wall clock. Logs without a timestamp are ignored. Tags are ordered by
// LastSeen (most recent first), then Count (highest first), then Key.
func DetectPatterns(history []model.InteractionLog, rules config.PatternRules) model.Patterns {
	logs := make([]model.InteractionLog, 0, len(history))
	for _, l := range history {
		if !l.Timestamp.IsZero() {
			logs = append(logs, l)
		}
	}
	if len(logs) == 0 {
		return model.Patterns{}
	}
	sort.SliceStable(logs, func(i, j int) bool { return logs[i].Timestamp.Before(logs[j].Timestamp) })

	var out model.Patterns
	out = appendIf(out, frequentContact(logs, rules))
	out = appendIf(out, decliningFrequency(logs, rules))
	out = appendIf(out, reconnection(logs, rules))
	out = append(out, sentimentTags(logs, rules)...)
	out = append(out, recurringTopics(logs, rules)...)

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.LastSeen.Equal(b.LastSeen) {
			return a.LastSeen.After(b.LastSeen)
		}
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.Key() < b.Key()
	})
	return out
}

func appendIf(ps model.Patterns, tag *model.PatternTag) model.Patterns {
	if tag == nil {
		return ps
	}
	return append(ps, *tag)
}

func latest(logs []model.InteractionLog) time.Time {
	return logs[len(logs)-1].Timestamp
}

// frequentContact: at least FrequentMin logs within FrequentWindow of the latest log.
func frequentContact(logs []model.InteractionLog, r config.PatternRules) *model.PatternTag {
	end := latest(logs)
	start := end.Add(-r.FrequentWindow)
	n := 0
	for _, l := range logs {
		if !l.Timestamp.Before(start) {
			n++
		}
	}
	if n < r.FrequentMin {
		return nil
	}
	return &model.PatternTag{Kind: model.PatternFrequentContact, Count: n, LastSeen: end}
}

// decliningFrequency: the last three gaps are strictly increasing and the
// last one is at least DecliningMinGap.
func decliningFrequency(logs []model.InteractionLog, r config.PatternRules) *model.PatternTag {
	if len(logs) < 4 {
		return nil
	}
	gaps := make([]time.Duration, 3)
	for i := range gaps {
		j := len(logs) - 3 + i
		gaps[i] = logs[j].Timestamp.Sub(logs[j-1].Timestamp)
	}
	if !(gaps[0] < gaps[1] && gaps[1] < gaps[2]) || gaps[2] < r.DecliningMinGap {
		return nil
	}
	return &model.PatternTag{Kind: model.PatternDecliningFrequency, Count: len(gaps), LastSeen: latest(logs)}
}

// reconnection: the most recent log follows a silence longer than ReconnectGap.
// Count is how many such silences the history contains.
func reconnection(logs []model.InteractionLog, r config.PatternRules) *model.PatternTag {
	if len(logs) < 2 {
		return nil
	}
	last := logs[len(logs)-1].Timestamp.Sub(logs[len(logs)-2].Timestamp)
	if last <= r.ReconnectGap {
		return nil
	}
	n := 0
	for i := 1; i < len(logs); i++ {
		if logs[i].Timestamp.Sub(logs[i-1].Timestamp) > r.ReconnectGap {
			n++
		}
	}
	return &model.PatternTag{Kind: model.PatternReconnection, Count: n, LastSeen: latest(logs)}
}

// sentimentTags covers the trend and consistency patterns. Only logs with a
// real classification count; fallback scores carry no signal.
func sentimentTags(logs []model.InteractionLog, r config.PatternRules) model.Patterns {
	var scored []model.InteractionLog
	for _, l := range logs {
		if l.Sentiment != nil && !l.Fallback {
			scored = append(scored, l)
		}
	}

	var out model.Patterns
	if n := len(scored); n >= r.TrendMinScored && n >= 2 {
		first, second := mean(scored[:n/2]), mean(scored[n/2:])
		last := scored[n-1].Timestamp
		switch d := second - first; {
		case d >= r.TrendDelta:
			out = append(out, model.PatternTag{Kind: model.PatternSentimentImproving, Count: n, LastSeen: last})
		case d <= -r.TrendDelta:
			out = append(out, model.PatternTag{Kind: model.PatternSentimentDeclining, Count: n, LastSeen: last})
		}
	}

	if len(scored) >= r.PositiveMin {
		var positives int
		var lastPositive time.Time
		for _, l := range scored {
			if l.SentimentLabel() == model.SentimentPositive {
				positives++
				lastPositive = l.Timestamp
			}
		}
		if positives > 0 && float64(positives)/float64(len(scored)) >= r.PositiveRatio {
			out = append(out, model.PatternTag{Kind: model.PatternConsistentlyPositive, Count: positives, LastSeen: lastPositive})
		}
	}
	return out
}

func mean(logs []model.InteractionLog) float64 {
	var sum float64
	for _, l := range logs {
		sum += l.SentimentLabel().Score()
	}
	return sum / float64(len(logs))
}

// recurringTopics: topics present in at least TopicMin of the last
// TopicLookback logs. The catch-all topic never counts.
func recurringTopics(logs []model.InteractionLog, r config.PatternRules) model.Patterns {
	window := logs[max(len(logs)-r.TopicLookback, 0):]

	counts := make(map[string]int)
	seen := make(map[string]time.Time)
	for _, l := range window {
		for _, t := range LogTopics(l) {
			counts[t]++
			seen[t] = l.Timestamp
		}
	}

	var out model.Patterns
	for topic, n := range counts {
		if n >= r.TopicMin {
			out = append(out, model.PatternTag{Kind: model.PatternRecurringTopic, Topic: topic, Count: n, LastSeen: seen[topic]})
		}
	}
	return out
}

// LogTopics returns the distinct lowercase topics of a log, merging derived
// topics with user tags and dropping the catch-all topic.
func LogTopics(l model.InteractionLog) []string {
	var out []string
	dup := make(map[string]bool)
	for _, group := range [][]string{l.Topics, l.Tags} {
		for _, t := range group {
			t = strings.ToLower(strings.TrimSpace(t))
			if t == "" || t == analysis.GeneralTopic || dup[t] {
				continue
			}
			dup[t] = true
			out = append(out, t)
		}
	}
	return out
}
