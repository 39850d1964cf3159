package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Reasons a secret stops existing.
const (
	ReasonViewed  = "viewed"
	ReasonExpired = "expired"
	ReasonLocked  = "locked" // too many wrong passwords
)

var (
	SecretsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "otv_secrets_created_total",
			Help: "Secrets created, by content type",
		},
		[]string{"content_type"},
	)

	SecretViews = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "otv_secret_views_total",
			Help: "Views granted, by content type",
		},
		[]string{"content_type"},
	)

	SecretsDestroyed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "otv_secrets_destroyed_total",
			Help: "Secrets removed, by reason",
		},
		[]string{"reason"},
	)

	RetrievalsDenied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "otv_retrievals_denied_total",
			Help: "Retrievals answered with not found, by cause",
		},
		[]string{"cause"},
	)

	Downloads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "otv_downloads_total",
			Help: "Download token redemptions, by result",
		},
		[]string{"result"},
	)

	FileDeleteErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "otv_file_delete_errors_total",
		Help: "Backing files that could not be deleted",
	})

	SweepRuns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "otv_sweep_runs_total",
		Help: "Completed expiry sweeps",
	})

	SweepRemoved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "otv_sweep_removed_total",
			Help: "Records removed by the expiry sweep",
		},
		[]string{"kind"},
	)

	SweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "otv_sweep_duration_seconds",
		Help:    "Duration of expiry sweeps",
		Buckets: prometheus.DefBuckets,
	})

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "otv_http_requests_total",
			Help: "HTTP requests, by route pattern and status",
		},
		[]string{"method", "pattern", "status"},
	)

	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "otv_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "pattern"},
	)
)
