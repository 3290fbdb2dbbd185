package portunhttp

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy is exponential without jitter: delay(n) = min(Base*2^n, Max).
type RetryPolicy struct {
	Base     time.Duration
	Max      time.Duration
	Attempts int
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Base: time.Second, Max: 10 * time.Second, Attempts: 3}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	def := DefaultRetryPolicy()
	if p.Base <= 0 {
		p.Base = def.Base
	}
	if p.Max <= 0 {
		p.Max = def.Max
	}
	if p.Max < p.Base {
		p.Max = p.Base
	}
	if p.Attempts <= 0 {
		p.Attempts = def.Attempts
	}
	return p
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Base
	b.MaxInterval = p.Max
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(p.Attempts-1)), ctx)
}

// run retries op until it succeeds, returns a backoff.Permanent error, or the
// attempts are spent. The last error is returned unchanged.
func (p RetryPolicy) run(ctx context.Context, op string, fn func() error) error {
	attempt := 0
	return backoff.RetryNotify(func() error {
		attempt++
		return fn()
	}, p.backOff(ctx), func(err error, d time.Duration) {
		slog.Warn("provider request failed, retrying",
			"op", op, "attempt", attempt, "delay", d.String(), "error", err.Error())
	})
}
