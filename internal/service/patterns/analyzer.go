package patterns

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dytto-app/dytto/internal/config"
	"github.com/dytto-app/dytto/internal/model"
	"github.com/dytto-app/dytto/internal/service/analysis"
)

// Analyzer holds the evolution rules and the generation collaborator.
type Analyzer struct {
	client    *analysis.Client
	evolution []config.EvolutionRule
	logger    *slog.Logger
}

// NewAnalyzer creates an Analyzer.
func NewAnalyzer(client *analysis.Client, evolution []config.EvolutionRule, logger *slog.Logger) *Analyzer {
	return &Analyzer{client: client, evolution: evolution, logger: logger}
}

// Evolution returns the stage rules in evaluation order.
func (a *Analyzer) Evolution() []config.EvolutionRule {
	return append([]config.EvolutionRule(nil), a.evolution...)
}

// SuggestEvolution returns the next stage when a rule for the current stage
// is satisfied. ok is false when the stage should not change. The returned
// stage is always later than progress.Stage.
func (a *Analyzer) SuggestEvolution(progress model.RelationshipProgress, ps model.Patterns) (stage model.EvolutionStage, ok bool) {
	for _, r := range a.evolution {
		if r.FromStage() != progress.Stage || r.ToStage() <= progress.Stage {
			continue
		}
		if progress.Level < r.MinLevel {
			continue
		}
		if !hasAll(ps, r.AllOf) || !hasAny(ps, r.AnyOf) {
			continue
		}
		return r.ToStage(), true
	}
	return progress.Stage, false
}

// NextEvolution describes the rule that would advance progress next, or
// nil at the final stage.
func (a *Analyzer) NextEvolution(progress model.RelationshipProgress) *config.EvolutionRule {
	for i, r := range a.evolution {
		if r.FromStage() == progress.Stage && r.ToStage() > progress.Stage {
			return &a.evolution[i]
		}
	}
	return nil
}

func hasAll(ps model.Patterns, kinds []model.PatternKind) bool {
	for _, k := range kinds {
		if !ps.Has(k) {
			return false
		}
	}
	return true
}

func hasAny(ps model.Patterns, kinds []model.PatternKind) bool {
	if len(kinds) == 0 {
		return true
	}
	for _, k := range kinds {
		if ps.Has(k) {
			return true
		}
	}
	return false
}

var fallbackSuggestions = map[model.SentimentLabel][]string{
	model.SentimentPositive: {
		"Continue building on this positive momentum with %s.",
		"Share more experiences like this together with %s.",
		"Express gratitude to %s for their support.",
	},
	model.SentimentNegative: {
		"Check in on how %s is feeling.",
		"Offer %s support or help if appropriate.",
		"Plan a positive activity together with %s.",
	},
	model.SentimentNeutral: {
		"Ask %s follow-up questions about their interests.",
		"Share something personal about yourself with %s.",
		"Suggest meeting up with %s soon.",
	},
}

// FallbackSuggestion is the template suggestion used when generation fails.
// It depends only on its inputs.
func FallbackSuggestion(rel model.Relationship, history []model.InteractionLog, ps model.Patterns) string {
	name := rel.DisplayName()
	if ps.Has(model.PatternReconnection) || ps.Has(model.PatternDecliningFrequency) {
		return fmt.Sprintf("It has been a while since you caught up with %s. Send a quick message to check in.", name)
	}
	label := model.SentimentNeutral
	if len(history) > 0 {
		label = history[len(history)-1].SentimentLabel()
	}
	opts := fallbackSuggestions[label]
	return fmt.Sprintf(opts[len(history)%len(opts)], name)
}

// SuggestInteraction recommends a next interaction. It asks the generation
// collaborator and falls back to FallbackSuggestion, so it always returns text.
func (a *Analyzer) SuggestInteraction(ctx context.Context, rel model.Relationship, history []model.InteractionLog, ps model.Patterns) model.Suggestion {
	return a.client.Generate(ctx, InteractionPrompt(rel, history, ps), FallbackSuggestion(rel, history, ps))
}

// recentLimit bounds how many log excerpts go into a prompt.
const recentLimit = 5

// InteractionPrompt builds the generation prompt for SuggestInteraction.
func InteractionPrompt(rel model.Relationship, history []model.InteractionLog, ps model.Patterns) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Suggest one short, concrete next interaction with %s.\n", rel.DisplayName())
	if len(rel.Categories) > 0 {
		fmt.Fprintf(&b, "Relationship: %s.\n", strings.Join(rel.Categories, ", "))
	}
	if len(ps) > 0 {
		keys := make([]string, len(ps))
		for i, p := range ps {
			keys[i] = p.Key()
		}
		fmt.Fprintf(&b, "Observed patterns: %s.\n", strings.Join(keys, ", "))
	}
	start := max(len(history)-recentLimit, 0)
	if start < len(history) {
		b.WriteString("Recent journal entries, oldest first:\n")
		for _, l := range history[start:] {
			fmt.Fprintf(&b, "- [%s, %s] %s\n", l.Timestamp.Format("2006-01-02"), l.SentimentLabel(), excerpt(l.Content, 200))
		}
	}
	b.WriteString("Reply with the suggestion only, in one sentence.")
	return b.String()
}

func excerpt(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
