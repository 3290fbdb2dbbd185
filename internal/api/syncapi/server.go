// Package syncapi is the HTTP surface of track-api: the provider webhook,
// the internal push and subscription endpoints, and the public shipment and
// order/bill routes.
package syncapi

import (
	"net/http"
	"time"

	"github.com/BearBump/BoxSync/internal/metrics"
	"github.com/BearBump/BoxSync/internal/services/lifecycle"
	"github.com/BearBump/BoxSync/internal/services/push"
	"github.com/BearBump/BoxSync/internal/services/shipments"
	"github.com/BearBump/BoxSync/internal/services/subscriptions"
	"github.com/BearBump/BoxSync/internal/services/syncer"
	"github.com/BearBump/BoxSync/internal/services/webhook"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

const DefaultLookupTimeout = 3 * time.Second

type Services struct {
	Syncer        *syncer.Syncer
	Shipments     *shipments.Service
	Subscriptions *subscriptions.Registry
	Push          *push.Service
	Webhook       *webhook.Ingestor
	Lifecycle     *lifecycle.Service
}

type Options struct {
	JWTSecret      string
	AllowedOrigins []string
	LookupTimeout  time.Duration
	// Ready reports whether backing stores are reachable.
	Ready func(r *http.Request) error
}

type API struct {
	svc      Services
	opts     Options
	validate *requestValidator
}

func New(svc Services, opts Options) *API {
	if opts.LookupTimeout <= 0 {
		opts.LookupTimeout = DefaultLookupTimeout
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	return &API{svc: svc, opts: opts, validate: newValidator()}
}

func (a *API) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: a.opts.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{
			"Accept", "Authorization", "Content-Type",
			webhook.SignatureHeader, webhook.TimestampHeader,
		},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", a.ready)
	r.Handle("/metrics", metrics.Handler())

	r.Post(subscriptions.CallbackPath, a.receiveWebhook)

	r.Route("/internal", func(r chi.Router) {
		r.Use(internalAuth(a.opts.JWTSecret))
		r.Post("/push/containers", a.pushContainers)
		r.Put("/subscriptions/batch", a.batchSubscriptions)
		r.Get("/subscriptions", a.listSubscriptions)
		r.Get("/push-records", a.listPushRecords)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/shipments", a.lookupShipments)
		r.Get("/shipments/bl/{blNo}", a.trackByBL)
		r.Get("/shipments/{containerNo}", a.getShipment)
		r.Post("/shipments/{containerNo}/sync", a.syncShipment)
		r.Get("/shipments/{containerNo}/nodes", a.listNodes)

		r.Post("/subscriptions", a.subscribe)
		r.Get("/subscriptions/{containerNo}", a.getSubscription)
		r.Patch("/subscriptions/{containerNo}", a.updateSubscription)
		r.Delete("/subscriptions/{containerNo}", a.unsubscribe)

		r.Post("/orders", a.createOrder)
		r.Get("/orders/{id}", a.getOrder)
		r.Post("/orders/{id}/transitions", a.transitionOrder)
		r.Get("/orders/{id}/history", a.orderHistory)

		r.Post("/bills", a.createBill)
		r.Get("/bills/{id}", a.getBill)
		r.Post("/bills/{id}/transitions", a.transitionBill)
		r.Get("/bills/{id}/history", a.billHistory)
	})
	return r
}

func (a *API) ready(w http.ResponseWriter, r *http.Request) {
	if a.opts.Ready != nil {
		if err := a.opts.Ready(r); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
