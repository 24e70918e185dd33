package observability

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus metrics for the ingest service.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	uploadsInitiated prometheus.Counter
	uploadsCompleted prometheus.Counter
	uploadsFailed    *prometheus.CounterVec
	uploadsCancelled prometheus.Counter
	dedupHits        prometheus.Counter

	chunksReceived prometheus.Counter
	bytesIngested  prometheus.Counter

	sweeperStagingDeleted prometheus.Counter
	sweeperObjectsDeleted prometheus.Counter
	sweeperFreedBytes     prometheus.Counter
}

// NewMetrics creates and registers all metrics on a private registry so
// tests can instantiate it repeatedly.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := func(c prometheus.Collector) {
		reg.MustRegister(c)
	}

	m := &Metrics{
		registry: reg,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mediastash_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mediastash_http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path", "status"},
		),
		uploadsInitiated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mediastash_uploads_initiated_total",
			Help: "Upload sessions created",
		}),
		uploadsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mediastash_uploads_completed_total",
			Help: "Upload sessions finalized successfully",
		}),
		uploadsFailed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mediastash_uploads_failed_total",
				Help: "Upload sessions that failed at finalization",
			},
			[]string{"reason"},
		),
		uploadsCancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mediastash_uploads_cancelled_total",
			Help: "Upload sessions cancelled",
		}),
		dedupHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mediastash_dedup_hits_total",
			Help: "Initiations short-circuited by the dedup index",
		}),
		chunksReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mediastash_chunks_received_total",
			Help: "Chunks staged (excluding idempotent replays)",
		}),
		bytesIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mediastash_bytes_ingested_total",
			Help: "Chunk payload bytes written to staging",
		}),
		sweeperStagingDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mediastash_sweeper_staging_deleted_total",
			Help: "Expired staging directories removed by the sweeper",
		}),
		sweeperObjectsDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mediastash_sweeper_objects_deleted_total",
			Help: "Expired stored objects removed by the sweeper",
		}),
		sweeperFreedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mediastash_sweeper_freed_bytes_total",
			Help: "Bytes reclaimed by the object sweeper",
		}),
	}

	factory(m.httpRequestsTotal)
	factory(m.httpRequestDuration)
	factory(m.uploadsInitiated)
	factory(m.uploadsCompleted)
	factory(m.uploadsFailed)
	factory(m.uploadsCancelled)
	factory(m.dedupHits)
	factory(m.chunksReceived)
	factory(m.bytesIngested)
	factory(m.sweeperStagingDeleted)
	factory(m.sweeperObjectsDeleted)
	factory(m.sweeperFreedBytes)

	return m
}

// UploadInitiated records a new session.
func (m *Metrics) UploadInitiated() { m.uploadsInitiated.Inc() }

// UploadCompleted records a successful finalize.
func (m *Metrics) UploadCompleted() { m.uploadsCompleted.Inc() }

// UploadFailed records a finalize failure with its error code.
func (m *Metrics) UploadFailed(reason string) { m.uploadsFailed.WithLabelValues(reason).Inc() }

// UploadCancelled records a cancel.
func (m *Metrics) UploadCancelled() { m.uploadsCancelled.Inc() }

// DedupHit records a duplicate-suppressed initiate.
func (m *Metrics) DedupHit() { m.dedupHits.Inc() }

// ChunkReceived records a freshly staged chunk and its payload size.
func (m *Metrics) ChunkReceived(bytes int64) {
	m.chunksReceived.Inc()
	m.bytesIngested.Add(float64(bytes))
}

// SweeperStagingDeleted records staging directories removed.
func (m *Metrics) SweeperStagingDeleted(n int) {
	m.sweeperStagingDeleted.Add(float64(n))
}

// SweeperObjectsDeleted records objects removed and bytes reclaimed.
func (m *Metrics) SweeperObjectsDeleted(n int, freedBytes int64) {
	m.sweeperObjectsDeleted.Add(float64(n))
	m.sweeperFreedBytes.Add(float64(freedBytes))
}

// HTTPMiddleware returns a Fiber middleware that records request
// counters and latency per route.
func (m *Metrics) HTTPMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			if e, ok := err.(*fiber.Error); ok {
				status = e.Code
			}
		}

		path := c.Route().Path
		labels := []string{c.Method(), path, strconv.Itoa(status)}
		m.httpRequestsTotal.WithLabelValues(labels...).Inc()
		m.httpRequestDuration.WithLabelValues(labels...).Observe(time.Since(start).Seconds())

		return err
	}
}

// Handler returns the /metrics endpoint handler.
func (m *Metrics) Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
}
