// Package insights composes trend, emotional, forecast and suggestion views
// of an interaction history and caches the result per scope.
package insights

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/dytto-app/dytto/internal/config"
	"github.com/dytto-app/dytto/internal/model"
	"github.com/dytto-app/dytto/internal/service/analysis"
	"github.com/dytto-app/dytto/internal/service/patterns"
	"github.com/dytto-app/dytto/internal/storage"
	"github.com/dytto-app/dytto/internal/telemetry"
)

// globalName stands in for a person's name in global insight text.
const globalName = "your relationships"

// Aggregator builds and caches insights.
type Aggregator struct {
	repo     *storage.Repository
	analyzer *patterns.Analyzer
	client   *analysis.Client
	rules    config.Rules
	logger   *slog.Logger
	now      func() time.Time

	flight singleflight.Group
	cache  metric.Int64Counter
	tracer trace.Tracer
}

// New creates an Aggregator.
func New(repo *storage.Repository, analyzer *patterns.Analyzer, client *analysis.Client, rules config.Rules, logger *slog.Logger) *Aggregator {
	meter := telemetry.Meter("dytto/insights")
	cache, _ := meter.Int64Counter("dytto.insights.cache",
		metric.WithDescription("Insight cache lookups by result"),
	)
	return &Aggregator{
		repo:     repo,
		analyzer: analyzer,
		client:   client,
		rules:    rules,
		logger:   logger,
		now:      time.Now,
		cache:    cache,
		tracer:   telemetry.Tracer("dytto/insights"),
	}
}

// source is everything an insight is derived from.
type source struct {
	scope    string
	rel      model.Relationship
	progress model.RelationshipProgress
	history  []model.InteractionLog
	// others is set for the global scope only.
	others []model.Relationship
}

// load reads the source data for scope, which is model.GlobalScope or a
// relationship ID.
func (a *Aggregator) load(ctx context.Context, scope string) (source, error) {
	if scope == model.GlobalScope {
		return a.loadGlobal(ctx)
	}
	id, err := uuid.Parse(scope)
	if err != nil {
		return source{}, fmt.Errorf("insights: invalid scope %q: %w", scope, storage.ErrNotFound)
	}
	rel, err := a.repo.GetRelationship(ctx, id)
	if err != nil {
		return source{}, fmt.Errorf("insights: load relationship: %w", err)
	}
	progress, err := a.repo.GetProgress(ctx, id)
	if err != nil {
		return source{}, fmt.Errorf("insights: load progress: %w", err)
	}
	history, err := a.repo.ListLogs(ctx, id)
	if err != nil {
		return source{}, fmt.Errorf("insights: load logs: %w", err)
	}
	return source{scope: scope, rel: rel, progress: progress, history: history}, nil
}

// loadGlobal folds every relationship into one synthetic progress record.
func (a *Aggregator) loadGlobal(ctx context.Context) (source, error) {
	rels, err := a.repo.ListRelationships(ctx)
	if err != nil {
		return source{}, fmt.Errorf("insights: list relationships: %w", err)
	}
	history, err := a.repo.ListAllLogs(ctx)
	if err != nil {
		return source{}, fmt.Errorf("insights: load logs: %w", err)
	}
	all, err := a.repo.ListProgress(ctx)
	if err != nil {
		return source{}, fmt.Errorf("insights: list progress: %w", err)
	}

	combined := model.NewProgress(uuid.Nil)
	for _, p := range all {
		combined.XP += p.XP
		combined.InteractionCount += p.InteractionCount
		combined.PositiveCount += p.PositiveCount
		combined.Level = max(combined.Level, p.Level)
		combined.Stage = max(combined.Stage, p.Stage)
	}
	return source{
		scope:    model.GlobalScope,
		rel:      model.Relationship{Name: globalName},
		progress: combined,
		history:  history,
		others:   rels,
	}, nil
}

// GenerateCompleteInsights builds a fresh insight for scope without touching
// the cache.
func (a *Aggregator) GenerateCompleteInsights(ctx context.Context, scope string) (model.Insight, error) {
	src, err := a.load(ctx, scope)
	if err != nil {
		return model.Insight{}, err
	}
	return a.compose(ctx, src), nil
}

func (a *Aggregator) compose(ctx context.Context, src source) model.Insight {
	ctx, span := a.tracer.Start(ctx, "insights.compose", trace.WithAttributes(
		attribute.String("scope", src.scope),
		attribute.Int("source_count", len(src.history)),
	))
	defer span.End()

	now := a.now().UTC().Truncate(time.Microsecond)
	ps := patterns.DetectPatterns(src.history, a.rules.Patterns)
	name := src.rel.DisplayName()

	stamp := model.StampOf(src.history)
	ins := model.Insight{
		Scope:       src.scope,
		Version:     model.InsightVersion,
		SourceCount: stamp.Count,
		ScoredCount: stamp.Scored,
		LatestLogAt: stamp.Latest,
		Patterns:    ps,
		Trends:      a.InteractionTrends(name, src.history, now),
		Forecast:    a.RelationshipForecasts(src.rel, src.progress, ps),
	}

	// The two collaborator-backed views never fail; each degrades to a template.
	var g errgroup.Group
	g.Go(func() error {
		ins.Emotional = a.EmotionalSummary(ctx, name, src.history)
		return nil
	})
	g.Go(func() error {
		if src.scope == model.GlobalScope {
			ins.Suggestions = a.globalSuggestions(src, now)
			return nil
		}
		ins.Suggestions = a.SmartSuggestions(ctx, src.rel, src.progress, src.history, ps, now)
		return nil
	})
	_ = g.Wait()

	// Stamped last so that every log read above predates it.
	ins.GeneratedAt = a.now().UTC().Truncate(time.Microsecond)
	return ins
}

// globalSuggestions nudges toward relationships that have gone quiet.
func (a *Aggregator) globalSuggestions(src source, asOf time.Time) []model.SmartSuggestion {
	last := make(map[uuid.UUID]time.Time)
	for _, l := range src.history {
		if l.Timestamp.After(last[l.RelationshipID]) {
			last[l.RelationshipID] = l.Timestamp
		}
	}

	out := []model.SmartSuggestion{}
	limit := a.rules.Insights.SuggestionLimit
	for _, rel := range src.others {
		if len(out) == limit {
			break
		}
		ts, ok := last[rel.ID]
		if !ok {
			out = append(out, model.SmartSuggestion{
				Type:    SuggestReconnect,
				Content: fmt.Sprintf("You haven't logged any interactions with %s yet. Start with a quick hello.", rel.DisplayName()),
			})
			continue
		}
		if idle := asOf.Sub(ts); idle > a.rules.Insights.ReconnectAfter {
			out = append(out, model.SmartSuggestion{
				Type:    SuggestReconnect,
				Content: fmt.Sprintf("It's been %d days since you logged an interaction with %s. How are they doing?", int(idle.Hours()/24), rel.DisplayName()),
			})
		}
	}
	if len(out) == 0 && len(src.others) > 0 {
		out = append(out, model.SmartSuggestion{
			Type:    SuggestMaintain,
			Content: "You're keeping up with everyone. Consider planning something special for one of your closest connections.",
		})
	}
	return out
}

// GetStoredInsights returns the cached insight for scope if it is still fresh
// for the current history. Storage errors are logged and treated as a miss.
func (a *Aggregator) GetStoredInsights(ctx context.Context, scope string) (model.Insight, bool) {
	src, err := a.load(ctx, scope)
	if err != nil {
		a.logger.Warn("insights: load source failed", "scope", scope, "error", err)
		return model.Insight{}, false
	}
	ins, result := a.lookup(ctx, src)
	a.record(ctx, result)
	return ins, result == resultHit
}

const (
	resultHit   = "hit"
	resultMiss  = "miss"
	resultStale = "stale"
)

func (a *Aggregator) lookup(ctx context.Context, src source) (model.Insight, string) {
	ins, err := a.repo.GetInsight(ctx, src.scope)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			a.logger.Warn("insights: read cache failed", "scope", src.scope, "error", err)
		}
		return model.Insight{}, resultMiss
	}
	if !ins.FreshFor(model.StampOf(src.history)) {
		return model.Insight{}, resultStale
	}
	return ins, resultHit
}

func (a *Aggregator) record(ctx context.Context, result string) {
	a.cache.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// GenerateAndStoreInsights serves a fresh cached insight when one exists and
// otherwise composes, stores and returns a new one. Concurrent calls for the
// same scope share one generation.
func (a *Aggregator) GenerateAndStoreInsights(ctx context.Context, scope string) (model.Insight, error) {
	v, err, _ := a.flight.Do(scope, func() (any, error) {
		return a.generateAndStore(ctx, scope)
	})
	if err != nil {
		return model.Insight{}, err
	}
	return v.(model.Insight), nil
}

func (a *Aggregator) generateAndStore(ctx context.Context, scope string) (model.Insight, error) {
	src, err := a.load(ctx, scope)
	if err != nil {
		return model.Insight{}, err
	}

	cached, result := a.lookup(ctx, src)
	a.record(ctx, result)
	if result == resultHit {
		return cached, nil
	}

	ins, err := canonical(a.compose(ctx, src))
	if err != nil {
		return model.Insight{}, err
	}
	if err := a.repo.PutInsight(ctx, ins); err != nil {
		a.logger.Warn("insights: write cache failed", "scope", scope, "error", err)
	}
	a.logger.Info("insights: generated", "scope", scope, "source_count", ins.SourceCount, "cache", result)
	return ins, nil
}

// canonical passes ins through its stored encoding so a fresh result and a
// later cache hit compare equal.
func canonical(ins model.Insight) (model.Insight, error) {
	b, err := json.Marshal(ins)
	if err != nil {
		return model.Insight{}, fmt.Errorf("insights: encode: %w", err)
	}
	var out model.Insight
	if err := json.Unmarshal(b, &out); err != nil {
		return model.Insight{}, fmt.Errorf("insights: decode: %w", err)
	}
	return out, nil
}
