package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the client core. Components hold
// a *Metrics and bump the vectors; registration happens once at wiring time.
type Metrics struct {
	RequestsTotal     *prometheus.CounterVec
	RequestDuration   *prometheus.HistogramVec
	SyncOutcomes      *prometheus.CounterVec
	TileFetches       *prometheus.CounterVec
	ThumbnailFetches  *prometheus.CounterVec
	UploadChunksTotal prometheus.Counter
}

// New creates and registers all metrics against reg. Tests pass a private
// registry so parallel packages do not collide on the default one.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "slidehub_requests_total",
			Help: "Remote requests issued, by method and outcome.",
		}, []string{"method", "outcome"}),
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "slidehub_request_duration_seconds",
			Help:    "Remote request latency by method.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
		SyncOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "slidehub_sync_outcomes_total",
			Help: "Project sync attempts by outcome.",
		}, []string{"outcome"}),
		TileFetches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "slidehub_tile_fetches_total",
			Help: "Tile reads by outcome (ok, fallback, miss).",
		}, []string{"outcome"}),
		ThumbnailFetches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "slidehub_thumbnail_fetches_total",
			Help: "Thumbnail fetch attempts by outcome.",
		}, []string{"outcome"}),
		UploadChunksTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "slidehub_upload_chunks_total",
			Help: "Slide upload chunks transmitted.",
		}),
	}
}

// NewDiscard registers against a throwaway registry; used by tests that do
// not assert on metrics.
func NewDiscard() *Metrics {
	return New(prometheus.NewRegistry())
}
