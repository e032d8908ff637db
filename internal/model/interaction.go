package model

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// MaxContentLen bounds the free-text content of a single log entry.
const MaxContentLen = 16 * 1024

// SentimentLabel is the coarse classification of an interaction's tone.
type SentimentLabel string

const (
	SentimentPositive SentimentLabel = "positive"
	SentimentNeutral  SentimentLabel = "neutral"
	SentimentNegative SentimentLabel = "negative"
)

// Valid reports whether l is one of the known labels.
func (l SentimentLabel) Valid() bool {
	switch l {
	case SentimentPositive, SentimentNeutral, SentimentNegative:
		return true
	}
	return false
}

// Score maps a label onto the numeric scale used by trend series.
func (l SentimentLabel) Score() float64 {
	switch l {
	case SentimentPositive:
		return 0.8
	case SentimentNegative:
		return -0.3
	default:
		return 0.1
	}
}

// ParseSentimentLabel normalizes free-form provider output into a label.
// Unknown values map to neutral.
func ParseSentimentLabel(s string) SentimentLabel {
	l := SentimentLabel(strings.ToLower(strings.TrimSpace(s)))
	if l.Valid() {
		return l
	}
	return SentimentNeutral
}

// Sentiment is the result of analyzing one piece of text.
// Fallback is set when the analysis collaborator failed and the value is
// the neutral default rather than a real classification.
type Sentiment struct {
	Label      SentimentLabel `json:"label"`
	Confidence float64        `json:"confidence"`
	Topics     []string       `json:"topics,omitempty"`
	Tone       []string       `json:"tone,omitempty"`
	Fallback   bool           `json:"fallback"`
}

// NeutralFallback is returned whenever sentiment analysis cannot complete.
func NeutralFallback() Sentiment {
	return Sentiment{Label: SentimentNeutral, Confidence: 0, Fallback: true}
}

// Relationship is a person the user journals about.
type Relationship struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	Categories []string  `json:"categories,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// HasCategory reports whether the relationship carries the named category (case-insensitive).
func (r Relationship) HasCategory(name string) bool {
	for _, c := range r.Categories {
		if strings.EqualFold(c, name) {
			return true
		}
	}
	return false
}

// DisplayName returns the name used in generated text.
func (r Relationship) DisplayName() string {
	if n := strings.TrimSpace(r.Name); n != "" {
		return n
	}
	return "them"
}

// InteractionLog is one journaled event.
//
// Sentiment and XP are nil until the log has been scored. Once set they are
// never recomputed, which is what makes re-processing a scored log a no-op.
type InteractionLog struct {
	ID             uuid.UUID `json:"id"`
	RelationshipID uuid.UUID `json:"relationship_id"`
	Content        string    `json:"content"`
	Tags           []string  `json:"tags,omitempty"`
	Timestamp      time.Time `json:"timestamp"`

	Sentiment           *SentimentLabel `json:"sentiment,omitempty"`
	SentimentConfidence float64         `json:"sentiment_confidence,omitempty"`
	XP                  *int            `json:"xp,omitempty"`
	Topics              []string        `json:"topics,omitempty"`
	Tone                []string        `json:"tone,omitempty"`
	Fallback            bool            `json:"fallback,omitempty"`
	AnalyzerVersion     string          `json:"analyzer_version,omitempty"`
	ScoredAt            *time.Time      `json:"scored_at,omitempty"`
}

// Scored reports whether both derived fields are present.
func (l InteractionLog) Scored() bool {
	return l.Sentiment != nil && l.XP != nil
}

// SentimentLabel returns the derived label, or neutral for unscored logs.
func (l InteractionLog) SentimentLabel() SentimentLabel {
	if l.Sentiment == nil {
		return SentimentNeutral
	}
	return ParseSentimentLabel(string(*l.Sentiment))
}

// XPValue returns the derived XP, or 0 for unscored logs.
func (l InteractionLog) XPValue() int {
	if l.XP == nil {
		return 0
	}
	return *l.XP
}

// CreateInteractionRequest is the request body for POST /v1/interactions.
type CreateInteractionRequest struct {
	RelationshipID uuid.UUID  `json:"relationship_id"`
	Content        string     `json:"content"`
	Tags           []string   `json:"tags,omitempty"`
	Timestamp      *time.Time `json:"timestamp,omitempty"`
}

// NewInteractionLog validates req and builds an unscored log.
func NewInteractionLog(req CreateInteractionRequest, now time.Time) (InteractionLog, error) {
	if req.RelationshipID == uuid.Nil {
		return InteractionLog{}, fmt.Errorf("relationship_id is required")
	}
	content := strings.TrimSpace(req.Content)
	if content == "" {
		return InteractionLog{}, fmt.Errorf("content is required")
	}
	if len(content) > MaxContentLen {
		return InteractionLog{}, fmt.Errorf("content exceeds maximum length of %d bytes", MaxContentLen)
	}
	if !utf8.ValidString(content) {
		return InteractionLog{}, fmt.Errorf("content must be valid UTF-8")
	}
	ts := now.UTC()
	if req.Timestamp != nil && !req.Timestamp.IsZero() {
		ts = req.Timestamp.UTC()
	}
	return InteractionLog{
		ID:             uuid.New(),
		RelationshipID: req.RelationshipID,
		Content:        content,
		Tags:           req.Tags,
		Timestamp:      ts,
	}, nil
}
