package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BearBump/BoxSync/config"
	"github.com/BearBump/BoxSync/internal/api/syncapi"
	"github.com/BearBump/BoxSync/internal/bootstrap"
	"github.com/BearBump/BoxSync/internal/broker/kafka"
	"github.com/BearBump/BoxSync/internal/broker/messages"
	"github.com/BearBump/BoxSync/internal/cache/rediscache"
	"github.com/pkg/errors"
)

const (
	defaultAPIAddr       = ":8080"
	defaultConsumerGroup = "track-api"
	postgresWait         = 60 * time.Second
)

type trackAPIApp struct {
	ctx       context.Context
	cancel    context.CancelFunc
	opts      trackAPIOpts
	handler   http.Handler
	shipments shipmentUpdater
	consumer  kafkaConsumer
	closers   []func()
}

func newHandler(cfg *config.Config, core *bootstrap.Core, ready func(*http.Request) error) http.Handler {
	return syncapi.New(syncapi.Services{
		Syncer:        core.Syncer,
		Shipments:     core.Shipments,
		Subscriptions: core.Subscriptions,
		Push:          core.Push,
		Webhook:       core.Webhook,
		Lifecycle:     core.Lifecycle,
	}, syncapi.Options{
		JWTSecret:      cfg.InternalAuth.JWTSecret,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		LookupTimeout:  config.Millis(cfg.HTTP.LookupTimeoutMillis, syncapi.DefaultLookupTimeout),
		Ready:          ready,
	}).Routes()
}

func bootstrapTrackAPI(ctx context.Context, cfg *config.Config) (*trackAPIApp, error) {
	app := &trackAPIApp{}

	st, err := bootstrap.OpenPostgresWithRetry(ctx, cfg.Database.ConnString(), postgresWait)
	if err != nil {
		return nil, err
	}
	app.closers = append(app.closers, st.Close)
	pings := []func(context.Context) error{st.Ping}

	deps := bootstrap.Deps{Store: st}

	var shared *rediscache.RateLimiter
	if cfg.Redis.Enabled() {
		rc := rediscache.New(cfg.Redis.Addr())
		deps.Cache = rc
		pings = append(pings, rc.Ping)
		app.closers = append(app.closers, func() { _ = rc.Close() })
		if cfg.Redis.SharedRateLimit {
			shared = rediscache.NewRateLimiter(cfg.Redis.Addr())
			app.closers = append(app.closers, func() { _ = shared.Close() })
		}
	}
	deps.Provider = bootstrap.NewProvider(cfg, bootstrap.NewLimiter(cfg, shared))

	app.opts = trackAPIOpts{
		httpAddr:    cfg.HTTP.APIAddr,
		swaggerPath: cfg.HTTP.SwaggerPath,
	}
	if app.opts.httpAddr == "" {
		app.opts.httpAddr = defaultAPIAddr
	}

	if cfg.Kafka.Enabled() {
		brokers := []string{cfg.Kafka.Broker()}
		producer := kafka.NewProducer(brokers)
		deps.Producer = producer
		app.closers = append(app.closers, func() { _ = producer.Close() })

		app.opts.topic = cfg.Kafka.ShipmentUpdatedTopicName
		if app.opts.topic == "" {
			app.opts.topic = messages.DefaultShipmentUpdatedTopic
		}
		app.opts.consumerGroup = cfg.Kafka.ConsumerGroup
		if app.opts.consumerGroup == "" {
			app.opts.consumerGroup = defaultConsumerGroup
		}
		consumer := kafka.NewConsumer(brokers, app.opts.topic, app.opts.consumerGroup)
		app.consumer = consumer
		app.closers = append(app.closers, func() { _ = consumer.Close() })
	}

	core := bootstrap.NewCore(cfg, deps)
	app.shipments = core.Shipments
	app.handler = newHandler(cfg, core, func(r *http.Request) error {
		for _, ping := range pings {
			if err := ping(r.Context()); err != nil {
				return errors.Wrap(err, "ping")
			}
		}
		return nil
	})
	return app, nil
}

func mustBootstrapTrackAPI() *trackAPIApp {
	cfgPath := os.Getenv("configPath")
	if cfgPath == "" {
		panic("configPath env var is required")
	}
	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		panic(errors.Wrap(err, "config parse error"))
	}
	bootstrap.NewLogger(cfg.Log.Level)
	if p := os.Getenv("swaggerPath"); p != "" {
		cfg.HTTP.SwaggerPath = p
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	app, err := bootstrapTrackAPI(ctx, cfg)
	if err != nil {
		cancel()
		panic(err)
	}
	app.ctx, app.cancel = ctx, cancel
	return app
}

func (a *trackAPIApp) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func (a *trackAPIApp) Run() error {
	return runTrackAPI(a.ctx, a.opts, a.handler, a.consumer, a.shipments)
}
