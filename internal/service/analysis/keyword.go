package analysis

import (
	"context"
	"strings"
	"unicode"

	"github.com/dytto-app/dytto/internal/model"
)

// GeneralTopic is reported when no topic keyword matches.
const GeneralTopic = "general"

var (
	positiveWords = []string{
		"happy", "great", "amazing", "wonderful", "love",
		"excited", "fantastic", "awesome", "brilliant", "perfect",
	}
	negativeWords = []string{
		"sad", "angry", "frustrated", "disappointed", "terrible",
		"awful", "hate", "annoyed", "upset", "worried",
	}
)

type topicKeywords struct {
	topic    string
	keywords []string
}

// Ordered so Topics output is stable.
var topicTable = []topicKeywords{
	{"work", []string{"work", "job", "career", "office", "meeting", "project", "business"}},
	{"family", []string{"family", "parents", "kids", "children", "mom", "dad", "sister", "brother"}},
	{"hobbies", []string{"hobby", "music", "sports", "reading", "cooking", "travel", "art", "gaming"}},
	{"health", []string{"health", "exercise", "gym", "doctor", "medical", "fitness", "wellness"}},
	{"relationships", []string{"relationship", "dating", "marriage", "partner", "love", "friendship"}},
	{"goals", []string{"goal", "dream", "plan", "future", "ambition", "aspiration", "target"}},
}

var toneTable = map[model.SentimentLabel][]string{
	model.SentimentPositive: {"enthusiastic", "grateful", "optimistic", "excited", "content"},
	model.SentimentNegative: {"concerned", "frustrated", "disappointed", "anxious", "stressed"},
	model.SentimentNeutral:  {"reflective", "casual", "informative", "thoughtful", "balanced"},
}

// words lowercases text and splits it on anything that is not a letter or digit.
func words(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}

// hasAnyPrefix reports whether w starts with any of the keywords, so "loved"
// and "meetings" match while "whatever" does not match "hate".
func hasAnyPrefix(w string, keywords []string) bool {
	for _, k := range keywords {
		if strings.HasPrefix(w, k) {
			return true
		}
	}
	return false
}

// Topics returns the keyword topics mentioned in text in table order, or
// [GeneralTopic] when none match.
func Topics(text string) []string {
	ws := words(text)
	var out []string
	for _, tk := range topicTable {
		for _, w := range ws {
			if hasAnyPrefix(w, tk.keywords) {
				out = append(out, tk.topic)
				break
			}
		}
	}
	if len(out) == 0 {
		return []string{GeneralTopic}
	}
	return out
}

// Tones returns the two leading tone words for a label.
func Tones(label model.SentimentLabel) []string {
	t, ok := toneTable[label]
	if !ok {
		t = toneTable[model.SentimentNeutral]
	}
	return append([]string(nil), t[:2]...)
}

// ToneVocabulary returns every tone word for a label.
func ToneVocabulary(label model.SentimentLabel) []string {
	return append([]string(nil), toneTable[label]...)
}

// KeywordProvider classifies text by counting positive and negative words.
// It is deterministic and needs no network, so it backs the local setup and
// tests. It cannot generate text.
type KeywordProvider struct{}

// NewKeywordProvider creates a keyword classifier.
func NewKeywordProvider() *KeywordProvider {
	return &KeywordProvider{}
}

// Name returns "keyword".
func (p *KeywordProvider) Name() string { return "keyword" }

// Classify counts sentiment words. More positive than negative words is
// positive and vice versa; confidence grows with the margin.
func (p *KeywordProvider) Classify(_ context.Context, text string) (model.Sentiment, error) {
	var pos, neg int
	for _, w := range words(text) {
		if hasAnyPrefix(w, positiveWords) {
			pos++
		}
		if hasAnyPrefix(w, negativeWords) {
			neg++
		}
	}

	label := model.SentimentNeutral
	margin := 0
	switch {
	case pos > neg:
		label, margin = model.SentimentPositive, pos-neg
	case neg > pos:
		label, margin = model.SentimentNegative, neg-pos
	}

	confidence := 0.5
	if margin > 0 {
		confidence = 0.75 + 0.05*float64(min(margin, 4))
	}
	return model.Sentiment{
		Label:      label,
		Confidence: confidence,
		Topics:     Topics(text),
		Tone:       Tones(label),
	}, nil
}

// Generate is not supported.
func (p *KeywordProvider) Generate(context.Context, string) (string, error) {
	return "", ErrUnsupported
}
