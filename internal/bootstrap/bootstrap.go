// Package bootstrap assembles the sync core from configuration. Both binaries
// build the same object graph through it.
package bootstrap

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/BearBump/BoxSync/config"
	"github.com/BearBump/BoxSync/internal/broker/messages"
	"github.com/BearBump/BoxSync/internal/cache"
	"github.com/BearBump/BoxSync/internal/cache/rediscache"
	"github.com/BearBump/BoxSync/internal/integrations/tracking"
	"github.com/BearBump/BoxSync/internal/integrations/tracking/fake"
	"github.com/BearBump/BoxSync/internal/integrations/tracking/portunhttp"
	"github.com/BearBump/BoxSync/internal/models"
	"github.com/BearBump/BoxSync/internal/ratelimit"
	"github.com/BearBump/BoxSync/internal/services/lifecycle"
	"github.com/BearBump/BoxSync/internal/services/push"
	"github.com/BearBump/BoxSync/internal/services/reconciler"
	"github.com/BearBump/BoxSync/internal/services/shipments"
	"github.com/BearBump/BoxSync/internal/services/subscriptions"
	"github.com/BearBump/BoxSync/internal/services/syncer"
	"github.com/BearBump/BoxSync/internal/services/webhook"
	"github.com/BearBump/BoxSync/internal/storage/pgsync"
	"github.com/pkg/errors"
)

// Store is everything the services need from persistence. pgsync.Storage and
// memstore.Store both satisfy it.
type Store interface {
	reconciler.Repository
	syncer.Repository
	subscriptions.Repository
	push.Repository
	lifecycle.Repository
	shipments.Repository
	ListSyncLogs(ctx context.Context, job string, limit int) ([]*models.SyncLog, error)
}

var _ Store = (*pgsync.Storage)(nil)

const DefaultShipmentCacheTTL = 10 * time.Minute

// NewLogger installs a JSON slog handler as the process default.
func NewLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	l := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(l)
	return l
}

// OpenPostgresWithRetry keeps dialing until the database accepts the schema
// or wait runs out.
func OpenPostgresWithRetry(ctx context.Context, connString string, wait time.Duration) (*pgsync.Storage, error) {
	deadline := time.Now().Add(wait)
	var lastErr error
	for time.Now().Before(deadline) {
		st, err := pgsync.New(connString)
		if err == nil {
			return st, nil
		}
		lastErr = err
		slog.Warn("postgres not ready", "error", err.Error())
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Second):
		}
	}
	return nil, errors.Wrapf(lastErr, "postgres is not ready after %s", wait)
}

// NewLimiter is the provider request budget: a local fixed window, chained
// with a redis window shared by every process when shared is non-nil.
func NewLimiter(cfg *config.Config, shared *rediscache.RateLimiter) ratelimit.Limiter {
	limit := cfg.Provider.RateLimitPerMinute
	if limit <= 0 {
		limit = ratelimit.DefaultLimit
	}
	local := ratelimit.NewFixedWindow(limit, ratelimit.DefaultWindow)
	if shared == nil {
		return local
	}
	return ratelimit.Chain{local, rediscache.NewWindowLimiter(shared, "", limit, ratelimit.DefaultWindow)}
}

// NewProvider returns the provider client for cfg.Provider.Mode.
func NewProvider(cfg *config.Config, limiter ratelimit.Limiter) tracking.Client {
	if strings.EqualFold(cfg.Provider.Mode, "fake") {
		slog.Warn("using fake tracking provider")
		return fake.New()
	}
	p := cfg.Provider
	return portunhttp.New(portunhttp.Config{
		BaseURL:       p.BaseURL,
		AppID:         p.AppID,
		Secret:        p.AppSecret,
		AuthTimeout:   config.Seconds(p.AuthTimeoutSeconds, portunhttp.DefaultAuthTimeout),
		APITimeout:    config.Seconds(p.APITimeoutSeconds, portunhttp.DefaultAPITimeout),
		BatchTimeout:  config.Seconds(p.BatchTimeoutSeconds, portunhttp.DefaultBatchTimeout),
		TokenLifetime: config.Seconds(p.TokenLifetimeSeconds, portunhttp.DefaultTokenLifetime),
		RefreshBuffer: config.Seconds(p.RefreshBufferSeconds, portunhttp.DefaultRefreshBuffer),
		Retry: portunhttp.RetryPolicy{
			Base:     config.Millis(p.RetryBaseMillis, 0),
			Max:      config.Millis(p.RetryMaxMillis, 0),
			Attempts: p.RetryAttempts,
		},
	}, limiter)
}

// Deps are the external collaborators of the core. Producer and Cache may be
// nil.
type Deps struct {
	Store    Store
	Provider tracking.Client
	Producer reconciler.Producer
	Cache    cache.BytesCache
}

// Core is the assembled sync core.
type Core struct {
	Reconciler    *reconciler.Reconciler
	Syncer        *syncer.Syncer
	Subscriptions *subscriptions.Registry
	Push          *push.Service
	Webhook       *webhook.Ingestor
	Shipments     *shipments.Service
	Lifecycle     *lifecycle.Service
}

func NewCore(cfg *config.Config, d Deps) *Core {
	cacheTTL := config.Seconds(cfg.Redis.ShipmentCacheTTLSeconds, DefaultShipmentCacheTTL)
	topic := cfg.Kafka.ShipmentUpdatedTopicName
	if topic == "" {
		topic = messages.DefaultShipmentUpdatedTopic
	}

	rec := reconciler.New(d.Store)
	if d.Producer != nil {
		rec = rec.WithProducer(d.Producer, topic)
	}
	if d.Cache != nil {
		rec = rec.WithCache(d.Cache, cacheTTL)
	}

	s := cfg.Sync
	sy := syncer.New(d.Store, d.Provider, rec).WithSettings(
		config.Seconds(s.StaleAfterSeconds, syncer.DefaultStaleAfter),
		s.SweepLimit,
		s.BatchSize,
		s.Concurrency,
		config.Seconds(s.LeaseSeconds, syncer.DefaultLease),
		config.Millis(s.FullSweepDelayMillis, syncer.DefaultFullSweepDelay),
	)

	reg := subscriptions.New(d.Store, d.Provider, cfg.Webhook.CallbackBaseURL).
		WithResubscribe(s.ResubscribeLimit, config.Millis(s.ResubscribeDelayMillis, subscriptions.DefaultResubscribeDelay))

	pushSvc := push.New(d.Store, rec)
	wh := webhook.New(cfg.Webhook.Secret, pushSvc).
		WithTolerance(config.Seconds(cfg.Webhook.ToleranceSeconds, webhook.DefaultTolerance))

	return &Core{
		Reconciler:    rec,
		Syncer:        sy,
		Subscriptions: reg,
		Push:          pushSvc,
		Webhook:       wh,
		Shipments:     shipments.New(d.Store, d.Cache, cacheTTL),
		Lifecycle:     lifecycle.New(d.Store),
	}
}
