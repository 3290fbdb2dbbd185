// Package ratelimit guards outbound provider calls against self-inflicted
// throttling.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/BearBump/BoxSync/internal/apperr"
	"github.com/BearBump/BoxSync/internal/metrics"
)

const (
	DefaultLimit  = 100
	DefaultWindow = time.Minute
)

// Limiter admits or rejects one outbound call. A rejection is an
// apperr.ErrRateLimited error.
type Limiter interface {
	Admit(ctx context.Context) error
}

// FixedWindow counts admits in a window that restarts once now-windowStart
// reaches the window length.
type FixedWindow struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu          sync.Mutex
	count       int
	windowStart time.Time
}

func NewFixedWindow(limit int, window time.Duration) *FixedWindow {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &FixedWindow{limit: limit, window: window, now: time.Now}
}

func (l *FixedWindow) WithClock(now func() time.Time) *FixedWindow {
	l.now = now
	return l
}

func (l *FixedWindow) Admit(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if l.windowStart.IsZero() || now.Sub(l.windowStart) >= l.window {
		l.windowStart = now
		l.count = 0
	}
	if l.count >= l.limit {
		metrics.RateLimitRejectionsTotal.WithLabelValues("local").Inc()
		return apperr.New(apperr.KindRateLimited, "local rate limit of %d per %s reached", l.limit, l.window)
	}
	l.count++
	return nil
}

// Refund gives back one admit taken in the current window.
func (l *FixedWindow) Refund() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.count > 0 {
		l.count--
	}
}

func (l *FixedWindow) Remaining() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.windowStart.IsZero() || l.now().Sub(l.windowStart) >= l.window {
		return l.limit
	}
	return l.limit - l.count
}

type refunder interface {
	Refund()
}

// Chain admits only when every limiter admits. Limiters are consulted in
// order and the first rejection wins; earlier limiters that support Refund
// get their admit back so a rejected call costs nothing.
type Chain []Limiter

func (c Chain) Admit(ctx context.Context) error {
	for i, l := range c {
		if l == nil {
			continue
		}
		if err := l.Admit(ctx); err != nil {
			for _, prev := range c[:i] {
				if r, ok := prev.(refunder); ok {
					r.Refund()
				}
			}
			return err
		}
	}
	return nil
}
