package ratelimit

import (
	"encoding/json"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/dytto-app/dytto/internal/model"
	"github.com/dytto-app/dytto/internal/telemetry"
)

// RetryAfterer is implemented by limiters that can tell a rejected caller
// how long to back off.
type RetryAfterer interface {
	RetryAfter() time.Duration
}

// Config configures Middleware.
type Config struct {
	// Key picks the bucket for a request. An empty key is not limited.
	// Defaults to IPKeyFunc.
	Key func(r *http.Request) string
	// RequestID fills meta.request_id in the 429 body.
	RequestID func(r *http.Request) string
	Logger    *slog.Logger
}

// Middleware rejects requests over the limit with 429 and a Retry-After
// header. A failing limiter is logged and the request is let through. A nil
// limiter disables the middleware.
func Middleware(limiter Limiter, cfg Config) func(http.Handler) http.Handler {
	if limiter == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	if cfg.Key == nil {
		cfg.Key = IPKeyFunc
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	decisions, _ := telemetry.Meter("dytto/ratelimit").Int64Counter("dytto.ratelimit.decisions",
		metric.WithDescription("Rate limit decisions by outcome"))
	record := func(r *http.Request, outcome string) {
		decisions.Add(r.Context(), 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}

	retryAfter := "1"
	if ra, ok := limiter.(RetryAfterer); ok {
		retryAfter = strconv.Itoa(max(1, int(math.Ceil(ra.RetryAfter().Seconds()))))
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := cfg.Key(r)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			ok, err := limiter.Allow(r.Context(), key)
			switch {
			case err != nil:
				record(r, "error")
				cfg.Logger.Warn("ratelimit: limiter error, allowing request", "error", err)
			case !ok:
				record(r, "rejected")
				var requestID string
				if cfg.RequestID != nil {
					requestID = cfg.RequestID(r)
				}
				w.Header().Set("Retry-After", retryAfter)
				writeRejection(w, requestID)
				return
			default:
				record(r, "allowed")
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeRejection(w http.ResponseWriter, requestID string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(model.APIError{
		Error: model.ErrorDetail{Code: model.ErrCodeRateLimited, Message: "too many requests"},
		Meta:  model.ResponseMeta{RequestID: requestID, Timestamp: time.Now().UTC()},
	})
}

// IPKeyFunc keys requests by the host part of RemoteAddr. X-Forwarded-For is
// ignored because any client can set it.
func IPKeyFunc(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
