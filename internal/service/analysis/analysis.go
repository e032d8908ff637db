// Package analysis wraps the external text-analysis collaborator.
//
// A Provider classifies text and generates free text. Providers may fail or
// hang; Client bounds every call with a timeout and a client-side rate limit
// and turns failures into explicit fallback values, so callers never see an
// error from this package.
package analysis

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/dytto-app/dytto/internal/model"
	"github.com/dytto-app/dytto/internal/telemetry"
)

// ErrUnsupported is returned by providers that cannot perform an operation.
var ErrUnsupported = errors.New("analysis: operation not supported by provider")

// Provider is the text-analysis collaborator.
type Provider interface {
	// Classify returns the sentiment of text.
	Classify(ctx context.Context, text string) (model.Sentiment, error)

	// Generate completes prompt with free text.
	Generate(ctx context.Context, prompt string) (string, error)

	// Name identifies the provider in logs and metrics.
	Name() string
}

// Options bound provider calls.
type Options struct {
	Timeout time.Duration
	RPS     float64 // <= 0 disables client-side throttling
	Burst   int
}

// Client is the fallback-safe front of a Provider. Safe for concurrent use.
type Client struct {
	provider Provider
	timeout  time.Duration
	limiter  *rate.Limiter
	logger   *slog.Logger
	tracer   trace.Tracer

	duration  metric.Float64Histogram
	fallbacks metric.Int64Counter
}

// NewClient wraps p. A zero timeout defaults to 10s.
func NewClient(p Provider, opts Options, logger *slog.Logger) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RPS), max(opts.Burst, 1))
	}

	meter := telemetry.Meter("dytto/analysis")
	dur, _ := meter.Float64Histogram("dytto.analysis.duration",
		metric.WithDescription("Time spent in text-analysis provider calls (ms)"),
		metric.WithUnit("ms"),
	)
	fb, _ := meter.Int64Counter("dytto.analysis.fallbacks",
		metric.WithDescription("Provider calls that fell back to a default value"),
	)
	return &Client{
		provider:  p,
		timeout:   opts.Timeout,
		limiter:   limiter,
		logger:    logger,
		tracer:    telemetry.Tracer("dytto/analysis"),
		duration:  dur,
		fallbacks: fb,
	}
}

// ProviderName returns the wrapped provider's name.
func (c *Client) ProviderName() string {
	return c.provider.Name()
}

// Classify returns the sentiment of text. On provider failure or timeout it
// returns model.NeutralFallback.
func (c *Client) Classify(ctx context.Context, text string) model.Sentiment {
	var out model.Sentiment
	err := c.call(ctx, "classify", func(ctx context.Context) error {
		s, err := c.provider.Classify(ctx, text)
		if err != nil {
			return err
		}
		out = normalize(s, text)
		return nil
	})
	if err != nil {
		return model.NeutralFallback()
	}
	return out
}

// Generate completes prompt. On provider failure, timeout, or an empty
// completion it returns fallback with the Fallback marker set.
func (c *Client) Generate(ctx context.Context, prompt, fallback string) model.Suggestion {
	var out string
	err := c.call(ctx, "generate", func(ctx context.Context) error {
		text, err := c.provider.Generate(ctx, prompt)
		if err != nil {
			return err
		}
		out = cleanCompletion(text)
		if out == "" {
			return errors.New("analysis: empty completion")
		}
		return nil
	})
	if err != nil {
		return model.Suggestion{Text: fallback, Fallback: true}
	}
	return model.Suggestion{Text: out}
}

func (c *Client) call(ctx context.Context, op string, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	ctx, span := c.tracer.Start(ctx, "analysis."+op, trace.WithAttributes(
		attribute.String("dytto.analysis.provider", c.provider.Name()),
	))
	defer span.End()

	attrs := metric.WithAttributes(
		attribute.String("provider", c.provider.Name()),
		attribute.String("op", op),
	)

	start := time.Now()
	err := c.limiter.Wait(ctx)
	if err == nil {
		err = fn(ctx)
	}
	c.duration.Record(ctx, float64(time.Since(start).Milliseconds()), attrs)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, op+" fell back")
		c.fallbacks.Add(context.WithoutCancel(ctx), 1, attrs)
		c.logger.Warn("analysis: provider call failed, using fallback",
			"provider", c.provider.Name(), "op", op, "error", err)
	}
	return err
}

// normalize clamps provider output into the documented domain and fills
// topics and tone from the keyword tables when the provider left them out.
func normalize(s model.Sentiment, text string) model.Sentiment {
	if !s.Label.Valid() {
		s.Label = model.SentimentNeutral
	}
	s.Confidence = min(max(s.Confidence, 0), 1)
	if len(s.Topics) == 0 {
		s.Topics = Topics(text)
	}
	if len(s.Tone) == 0 {
		s.Tone = Tones(s.Label)
	}
	s.Fallback = false
	return s
}
