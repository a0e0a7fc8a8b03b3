// Package metrics declares the service's Prometheus collectors. They are
// registered on the default registry at init and served by Handler.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequests counts finished requests.
	// Labels: method, status
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "journal",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total HTTP requests by method and status code",
	}, []string{"method", "status"})

	// HTTPDuration measures request latency.
	// Labels: method
	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "journal",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency in seconds",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}, []string{"method"})

	// TagsCreated counts tag rows created by reconciliation.
	TagsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "journal",
		Subsystem: "tags",
		Name:      "created_total",
		Help:      "Total tags created while reconciling entry tags",
	})

	// Reflections counts reflection requests.
	// Labels: result (ok, empty, rate_limited, provider_error)
	Reflections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "journal",
		Subsystem: "reflection",
		Name:      "requests_total",
		Help:      "Total reflection requests by result",
	}, []string{"result"})

	// SearchFallbacks counts searches served by PostgreSQL full-text search
	// because the primary index was unavailable.
	SearchFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "journal",
		Subsystem: "search",
		Name:      "fallbacks_total",
		Help:      "Total searches answered by the fallback engine",
	})
)

// ObserveRequest records one finished HTTP request.
func ObserveRequest(method string, status int, elapsed time.Duration) {
	HTTPRequests.WithLabelValues(method, strconv.Itoa(status)).Inc()
	HTTPDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}

func Handler() http.Handler {
	return promhttp.Handler()
}
