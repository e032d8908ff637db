package analysis

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dytto-app/dytto/internal/model"
)

const classifyInstructions = `Classify the sentiment of this journal entry about a personal relationship.
Respond with only a JSON object of the form
{"sentiment":"positive|neutral|negative","confidence":0.0,"topics":["..."],"tone":["..."]}
where confidence is between 0 and 1, topics are short lowercase nouns, and
tone holds at most three adjectives.

Entry:
`

// ClassifyPrompt builds the classification prompt for text.
func ClassifyPrompt(text string) string {
	return classifyInstructions + text
}

type classification struct {
	Sentiment  string   `json:"sentiment"`
	Confidence float64  `json:"confidence"`
	Topics     []string `json:"topics"`
	Tone       []string `json:"tone"`
}

// parseClassification extracts the JSON object from a completion. Models
// sometimes wrap it in prose or code fences, so only the outermost braces
// are decoded.
func parseClassification(completion string) (model.Sentiment, error) {
	start := strings.IndexByte(completion, '{')
	end := strings.LastIndexByte(completion, '}')
	if start < 0 || end <= start {
		return model.Sentiment{}, fmt.Errorf("analysis: no JSON object in completion")
	}
	var c classification
	if err := json.Unmarshal([]byte(completion[start:end+1]), &c); err != nil {
		return model.Sentiment{}, fmt.Errorf("analysis: decode classification: %w", err)
	}
	label := model.SentimentLabel(strings.ToLower(strings.TrimSpace(c.Sentiment)))
	if !label.Valid() {
		return model.Sentiment{}, fmt.Errorf("analysis: unknown sentiment %q", c.Sentiment)
	}
	return model.Sentiment{
		Label:      label,
		Confidence: c.Confidence,
		Topics:     lower(c.Topics),
		Tone:       lower(c.Tone),
	}, nil
}

func lower(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// cleanCompletion trims whitespace and a single pair of wrapping quotes.
func cleanCompletion(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = strings.TrimSpace(s[1 : len(s)-1])
	}
	return s
}
