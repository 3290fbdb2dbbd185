// Package metrics holds the Prometheus metrics of both processes. Metrics are
// registered with the default registry on package init and exposed by
// Handler.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "boxsync"

// ProviderRequestsTotal counts provider calls by operation and outcome
// (ok, retry, auth_failed, rate_limited, client_error, exhausted).
var ProviderRequestsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "provider_requests_total",
		Help:      "Provider API attempts by operation and outcome.",
	},
	[]string{"op", "outcome"},
)

var ProviderRequestDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "provider_request_duration_seconds",
		Help:      "Latency of single provider HTTP round-trips.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	},
	[]string{"op"},
)

var TokenRefreshesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "provider_token_refreshes_total",
		Help:      "Credential refreshes by outcome.",
	},
	[]string{"outcome"},
)

// RateLimitRejectionsTotal counts admits refused before any network call.
// Label scope is "local" or "shared".
var RateLimitRejectionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rate_limit_rejections_total",
		Help:      "Outbound calls rejected by a rate limiter.",
	},
	[]string{"scope"},
)

var ReconcileTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reconcile_total",
		Help:      "Reconciler applications by provenance and result.",
	},
	[]string{"provenance", "result"},
)

// NodesUpsertedTotal counts node writes. Label result is inserted, updated or
// unchanged.
var NodesUpsertedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "nodes_upserted_total",
		Help:      "Tracking nodes merged by the reconciler.",
	},
	[]string{"result"},
)

var SyncBatchesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sync_batches_total",
		Help:      "Sweep batches by job and outcome.",
	},
	[]string{"job", "outcome"},
)

var SyncJobDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "sync_job_duration_seconds",
		Help:      "Wall time of one scheduled job run.",
		Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 300, 900},
	},
	[]string{"job"},
)

var EnsureFreshTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ensure_fresh_total",
		Help:      "On-demand lookups by result (fresh, refreshed, stale, not_found, forced, force_failed).",
	},
	[]string{"result"},
)

var WebhookRequestsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "webhook_requests_total",
		Help:      "Inbound webhook deliveries by outcome.",
	},
	[]string{"outcome"},
)

var PushRecordsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "push_records_total",
		Help:      "Finalized push records by source and status.",
	},
	[]string{"source", "status"},
)

var TransitionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "status_transitions_total",
		Help:      "Order and bill transition requests by entity and outcome.",
	},
	[]string{"entity", "outcome"},
)

func Handler() http.Handler {
	return promhttp.Handler()
}
