package postgres

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// retryPolicy retries transient write failures with jittered exponential
// backoff. Attempts counts the first try.
type retryPolicy struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

var defaultRetry = retryPolicy{Attempts: 4, BaseDelay: 10 * time.Millisecond, MaxDelay: 250 * time.Millisecond}

// transient reports whether err is worth another attempt: serialization
// failures, deadlocks, and errors pgconn marks safe to retry because the
// statement never reached the server.
func transient(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return pgconn.SafeToRetry(err)
}

// do runs fn until it succeeds, fails permanently, runs out of attempts, or
// ctx ends. The last error is returned as is.
func (p retryPolicy) do(ctx context.Context, fn func() error) error {
	delay := p.BaseDelay
	var err error
	for attempt := 1; ; attempt++ {
		if err = fn(); err == nil || !transient(err) || attempt >= p.Attempts {
			return err
		}

		wait := delay
		if delay > 0 {
			wait += time.Duration(rand.Int64N(int64(delay))) //nolint:gosec // jitter only
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		delay = min(delay*2, p.MaxDelay)
	}
}
