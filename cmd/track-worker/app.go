package main

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/BearBump/BoxSync/config"
	"github.com/BearBump/BoxSync/internal/bootstrap"
	"github.com/BearBump/BoxSync/internal/broker/kafka"
	"github.com/BearBump/BoxSync/internal/cache"
	"github.com/BearBump/BoxSync/internal/cache/rediscache"
	"github.com/BearBump/BoxSync/internal/integrations/tracking"
	"github.com/BearBump/BoxSync/internal/services/reconciler"
	"github.com/BearBump/BoxSync/internal/services/scheduler"
	"golang.org/x/sync/errgroup"
)

const (
	JobSweep       = "sweep"
	JobFullSweep   = "full_sweep"
	JobResubscribe = "resubscribe"

	defaultSweepInterval       = 5 * time.Minute
	defaultFullSweepAt         = 2 * time.Hour
	defaultResubscribeInterval = 15 * time.Minute
)

type workerFactories struct {
	newStorage  func(ctx context.Context, cfg *config.Config) (store bootstrap.Store, ping func(context.Context) error, closeFn func(), err error)
	newProducer func(cfg *config.Config) (reconciler.Producer, func())
	newCache    func(cfg *config.Config) (cache.BytesCache, func())
	newProvider func(cfg *config.Config) (tracking.Client, func())
}

func defaultWorkerFactories() workerFactories {
	return workerFactories{
		newStorage: func(ctx context.Context, cfg *config.Config) (bootstrap.Store, func(context.Context) error, func(), error) {
			st, err := bootstrap.OpenPostgresWithRetry(ctx, cfg.Database.ConnString(), 60*time.Second)
			if err != nil {
				return nil, nil, nil, err
			}
			return st, st.Ping, st.Close, nil
		},
		newProducer: func(cfg *config.Config) (reconciler.Producer, func()) {
			if !cfg.Kafka.Enabled() {
				return nil, nil
			}
			p := kafka.NewProducer([]string{cfg.Kafka.Broker()})
			return p, func() { _ = p.Close() }
		},
		newCache: func(cfg *config.Config) (cache.BytesCache, func()) {
			if !cfg.Redis.Enabled() {
				return nil, nil
			}
			rc := rediscache.New(cfg.Redis.Addr())
			return rc, func() { _ = rc.Close() }
		},
		newProvider: func(cfg *config.Config) (tracking.Client, func()) {
			if !cfg.Redis.Enabled() || !cfg.Redis.SharedRateLimit {
				return bootstrap.NewProvider(cfg, bootstrap.NewLimiter(cfg, nil)), nil
			}
			shared := rediscache.NewRateLimiter(cfg.Redis.Addr())
			return bootstrap.NewProvider(cfg, bootstrap.NewLimiter(cfg, shared)), func() { _ = shared.Close() }
		},
	}
}

// newScheduler registers the periodic sweep, the daily full sweep and the
// provider resubscribe job.
func newScheduler(cfg *config.Config, core *bootstrap.Core) (*scheduler.Scheduler, error) {
	s := cfg.Sync
	dailyAt, err := config.ParseClock(s.FullSweepAt, defaultFullSweepAt)
	if err != nil {
		return nil, err
	}
	loc := time.UTC
	if tz := strings.TrimSpace(s.Timezone); tz != "" {
		if loc, err = time.LoadLocation(tz); err != nil {
			return nil, err
		}
	}

	sched := scheduler.New().WithLocation(loc)
	sched.Add(scheduler.Job{
		Name:     JobSweep,
		Interval: config.Seconds(s.SweepIntervalSeconds, defaultSweepInterval),
		Run: func(ctx context.Context) error {
			_, err := core.Syncer.Sweep(ctx)
			return err
		},
	})
	sched.Add(scheduler.Job{
		Name:    JobFullSweep,
		DailyAt: dailyAt,
		Run: func(ctx context.Context) error {
			_, err := core.Syncer.FullSweep(ctx)
			return err
		},
	})
	sched.Add(scheduler.Job{
		Name:       JobResubscribe,
		Interval:   config.Seconds(s.ResubscribeIntervalSeconds, defaultResubscribeInterval),
		RunOnStart: true,
		Run: func(ctx context.Context) error {
			rep, err := core.Subscriptions.ReconcileExternalState(ctx)
			if rep != nil {
				slog.Info("resubscribe finished", "attempted", rep.Attempted, "succeeded", rep.Succeeded, "failed", rep.Failed)
			}
			return err
		},
	})
	return sched, nil
}

type workerRunOpts struct {
	httpAddr    string
	swaggerPath string
	onListen    func(httpAddr string)
}

func RunTrackWorker(ctx context.Context, cfg *config.Config, f workerFactories, opts workerRunOpts) error {
	store, ping, closeStore, err := f.newStorage(ctx, cfg)
	if err != nil {
		return err
	}
	if closeStore != nil {
		defer closeStore()
	}

	producer, closeProducer := f.newProducer(cfg)
	if closeProducer != nil {
		defer closeProducer()
	}
	c, closeCache := f.newCache(cfg)
	if closeCache != nil {
		defer closeCache()
	}

	provider, closeProvider := f.newProvider(cfg)
	if closeProvider != nil {
		defer closeProvider()
	}

	core := bootstrap.NewCore(cfg, bootstrap.Deps{
		Store:    store,
		Provider: provider,
		Producer: producer,
		Cache:    c,
	})
	sched, err := newScheduler(cfg, core)
	if err != nil {
		return err
	}

	if opts.httpAddr == "" {
		opts.httpAddr = cfg.HTTP.WorkerAddr
	}
	if opts.swaggerPath == "" {
		opts.swaggerPath = cfg.HTTP.SwaggerPath
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sched.Run(gctx)
	})
	g.Go(func() error {
		return runWorkerHTTPServer(gctx, workerHTTPOpts{
			httpAddr:    opts.httpAddr,
			swaggerPath: opts.swaggerPath,
			onListen:    opts.onListen,
			scheduler:   sched,
			syncer:      core.Syncer,
			logs:        store,
			ping:        ping,
			cfg:         cfg,
		})
	})
	slog.Info("track-worker started", "jobs", sched.Jobs())
	return g.Wait()
}
