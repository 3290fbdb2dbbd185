package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/BearBump/BoxSync/config"
	"github.com/BearBump/BoxSync/internal/apperr"
	"github.com/BearBump/BoxSync/internal/metrics"
	"github.com/BearBump/BoxSync/internal/models"
	"github.com/BearBump/BoxSync/internal/services/scheduler"
	"github.com/BearBump/BoxSync/internal/services/syncer"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	httpSwagger "github.com/swaggo/http-swagger"
)

const defaultSyncLogLimit = 50

type syncLogLister interface {
	ListSyncLogs(ctx context.Context, job string, limit int) ([]*models.SyncLog, error)
}

type workerHTTPOpts struct {
	httpAddr    string
	swaggerPath string
	onListen    func(httpAddr string)

	scheduler *scheduler.Scheduler
	syncer    *syncer.Syncer
	logs      syncLogLister
	ping      func(ctx context.Context) error
	cfg       *config.Config
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, err error) {
	writeJSON(w, apperr.HTTPStatus(err), map[string]string{"error": apperr.PublicMessage(err)})
}

func workerRouter(opts workerHTTPOpts) (http.Handler, error) {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if opts.ping != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := opts.ping(ctx); err != nil {
				slog.Warn("readiness check failed", "error", err.Error())
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})
	r.Handle("/metrics", metrics.Handler())

	r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
		out := map[string]any{}
		if opts.scheduler != nil {
			out["jobs"] = opts.scheduler.Stats()
		}
		if opts.syncer != nil {
			out["syncer"] = opts.syncer.Stats()
		}
		writeJSON(w, http.StatusOK, out)
	})

	r.Get("/config", func(w http.ResponseWriter, r *http.Request) {
		if opts.cfg == nil {
			writeJSON(w, http.StatusOK, map[string]any{})
			return
		}
		writeJSON(w, http.StatusOK, opts.cfg.Public())
	})

	r.Post("/trigger/{job}", func(w http.ResponseWriter, r *http.Request) {
		if opts.scheduler == nil {
			writeErr(w, apperr.New(apperr.KindInternal, "scheduler not wired"))
			return
		}
		job := chi.URLParam(r, "job")
		if err := opts.scheduler.Trigger(job); err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"job": job, "triggered": true})
	})

	r.Get("/sync-logs", func(w http.ResponseWriter, r *http.Request) {
		if opts.logs == nil {
			writeJSON(w, http.StatusOK, []*models.SyncLog{})
			return
		}
		limit := defaultSyncLogLimit
		if s := r.URL.Query().Get("limit"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n <= 0 {
				writeErr(w, apperr.New(apperr.KindInvalidInput, "limit must be a positive integer"))
				return
			}
			limit = n
		}
		items, err := opts.logs.ListSyncLogs(r.Context(), r.URL.Query().Get("job"), limit)
		if err != nil {
			writeErr(w, err)
			return
		}
		if items == nil {
			items = []*models.SyncLog{}
		}
		writeJSON(w, http.StatusOK, items)
	})

	if opts.swaggerPath != "" {
		fi, err := os.Stat(opts.swaggerPath)
		if err != nil {
			return nil, fmt.Errorf("worker swagger file not found: %s", opts.swaggerPath)
		}
		r.Get("/swagger.json", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Cache-Control", "no-store")
			http.ServeFile(w, r, opts.swaggerPath)
		})
		swaggerURL := fmt.Sprintf("/swagger.json?v=%d", fi.ModTime().Unix())
		r.Get("/docs/*", httpSwagger.Handler(httpSwagger.URL(swaggerURL)))
	}
	return r, nil
}

func runWorkerHTTPServer(ctx context.Context, opts workerHTTPOpts) error {
	if opts.httpAddr == "" {
		opts.httpAddr = ":8082"
	}
	h, err := workerRouter(opts)
	if err != nil {
		return err
	}

	lis, err := net.Listen("tcp", opts.httpAddr)
	if err != nil {
		return err
	}
	if opts.onListen != nil {
		opts.onListen(lis.Addr().String())
	}

	srv := &http.Server{Handler: h, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = lis.Close()
	}()

	if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
