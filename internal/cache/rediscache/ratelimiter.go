package rediscache

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/BearBump/BoxSync/internal/apperr"
	"github.com/BearBump/BoxSync/internal/metrics"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

type RateLimiter struct {
	c *redis.Client
}

func NewRateLimiter(addr string) *RateLimiter {
	return &RateLimiter{
		c: redis.NewClient(&redis.Options{Addr: addr}),
	}
}

// Allow increments the counter at key and sets its TTL in the same pipeline.
// It returns whether the count is still within limit, and the count.
func (rl *RateLimiter) Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error) {
	pipe := rl.c.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, window)
	_, err := pipe.Exec(ctx)
	if err != nil {
		return false, 0, errors.Wrap(err, "redis ratelimit")
	}
	n := incr.Val()
	return n <= limit, n, nil
}

func (rl *RateLimiter) Close() error {
	return rl.c.Close()
}

// WindowLimiter is a fixed window counted in redis, so the api and worker
// processes share one provider budget. Windows are aligned to multiples of
// the window length.
type WindowLimiter struct {
	rl     *RateLimiter
	prefix string
	limit  int64
	window time.Duration
	now    func() time.Time
}

func NewWindowLimiter(rl *RateLimiter, prefix string, limit int, window time.Duration) *WindowLimiter {
	if prefix == "" {
		prefix = "rl:provider"
	}
	if limit <= 0 {
		limit = 100
	}
	if window <= 0 {
		window = time.Minute
	}
	return &WindowLimiter{rl: rl, prefix: prefix, limit: int64(limit), window: window, now: time.Now}
}

func (w *WindowLimiter) WithClock(now func() time.Time) *WindowLimiter {
	w.now = now
	return w
}

// Admit fails open when redis is unreachable; the in-process window still
// applies in that case.
func (w *WindowLimiter) Admit(ctx context.Context) error {
	slot := w.now().UnixNano() / int64(w.window)
	key := w.prefix + ":" + strconv.FormatInt(slot, 10)
	ok, n, err := w.rl.Allow(ctx, key, w.limit, w.window)
	if err != nil {
		slog.Warn("shared rate limiter unavailable", "error", err.Error())
		return nil
	}
	if !ok {
		metrics.RateLimitRejectionsTotal.WithLabelValues("shared").Inc()
		return apperr.New(apperr.KindRateLimited, "shared rate limit of %d per %s reached (%d)", w.limit, w.window, n)
	}
	return nil
}
