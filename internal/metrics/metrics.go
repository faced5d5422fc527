// Package metrics provides Prometheus metrics for the dependency pipeline.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rcliao/modeldeps/internal/backend"
	"github.com/rcliao/modeldeps/internal/model"
)

var (
	// Cache metrics
	cacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modeldeps_cache_lookups_total",
			Help: "Dependency cache lookups by result",
		},
		[]string{"result"},
	)

	cacheEvictionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "modeldeps_cache_evictions_total",
			Help: "Entries evicted to make room for new ones",
		},
	)

	cacheRejectedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "modeldeps_cache_rejected_total",
			Help: "Writes refused because the payload exceeded the item ceiling",
		},
	)

	// Resolution metrics
	resolutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modeldeps_resolutions_total",
			Help: "Dependency resolutions by the tier that matched",
		},
		[]string{"tier"},
	)

	// Backend metrics
	backendRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modeldeps_backend_requests_total",
			Help: "Storage backend requests",
		},
		[]string{"backend", "op", "status"},
	)

	backendRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "modeldeps_backend_request_duration_seconds",
			Help:    "Storage backend request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "op"},
	)

	// Load metrics
	loadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modeldeps_loads_total",
			Help: "Model loads by format and outcome",
		},
		[]string{"format", "outcome"},
	)

	dependenciesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modeldeps_dependencies_total",
			Help: "Dependencies attempted, by outcome",
		},
		[]string{"outcome"},
	)

	dependencyBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modeldeps_dependency_bytes_total",
			Help: "Dependency bytes delivered, by source",
		},
		[]string{"source"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordCacheLookup records a cache lookup: hit, miss, expired or error.
func RecordCacheLookup(result string) {
	cacheLookupsTotal.WithLabelValues(result).Inc()
}

// RecordEvictions records entries evicted by a single write.
func RecordEvictions(n int) {
	if n > 0 {
		cacheEvictionsTotal.Add(float64(n))
	}
}

// RecordCacheRejected records an oversize write.
func RecordCacheRejected() {
	cacheRejectedTotal.Inc()
}

// RecordResolution records the tier that resolved a name, or "missing".
func RecordResolution(tier string) {
	resolutionsTotal.WithLabelValues(tier).Inc()
}

// RecordBackendRequest records one storage request and its outcome.
func RecordBackendRequest(backendType, op string, duration time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = backend.StatusOf(err).String()
	}
	backendRequestsTotal.WithLabelValues(backendType, op, status).Inc()
	backendRequestDuration.WithLabelValues(backendType, op).Observe(duration.Seconds())
}

// RecordLoad records a finished load. outcome is loaded,
// loaded_with_missing or failed.
func RecordLoad(format, outcome string) {
	loadsTotal.WithLabelValues(format, outcome).Inc()
}

// RecordDependency records a delivered dependency and where it came from.
func RecordDependency(fromCache bool, size int) {
	source := "network"
	if fromCache {
		source = "cache"
	}
	dependenciesTotal.WithLabelValues("loaded").Inc()
	dependencyBytesTotal.WithLabelValues(source).Add(float64(size))
}

// RecordMissing records a dependency that could not be delivered.
func RecordMissing() {
	dependenciesTotal.WithLabelValues("missing").Inc()
}

type instrumented struct {
	name string
	next backend.Backend
}

// InstrumentBackend wraps b so every request is recorded under name.
func InstrumentBackend(name string, b backend.Backend) backend.Backend {
	return &instrumented{name: name, next: b}
}

func (i *instrumented) FindByPath(ctx context.Context, p string) (string, error) {
	start := time.Now()
	id, err := i.next.FindByPath(ctx, p)
	RecordBackendRequest(i.name, "find", time.Since(start), err)
	return id, err
}

func (i *instrumented) ListDirectory(ctx context.Context, p string, includeDescendants bool) (*model.Listing, error) {
	start := time.Now()
	l, err := i.next.ListDirectory(ctx, p, includeDescendants)
	RecordBackendRequest(i.name, "list", time.Since(start), err)
	return l, err
}

func (i *instrumented) FetchByID(ctx context.Context, id string) ([]byte, string, error) {
	start := time.Now()
	data, mimeType, err := i.next.FetchByID(ctx, id)
	RecordBackendRequest(i.name, "fetch", time.Since(start), err)
	return data, mimeType, err
}
