package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/MeKo-Tech/omnishelf/internal/pipeline"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "omnishelf_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "omnishelf_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Detection metrics
	detectRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "omnishelf_detect_requests_total",
			Help: "Total number of detection requests",
		},
		[]string{"source", "status"}, // source: http, websocket
	)

	detectDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "omnishelf_detect_duration_seconds",
			Help:    "Detection run duration in seconds",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 25, 50, 100},
		},
		[]string{"source"},
	)

	stageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "omnishelf_stage_duration_seconds",
			Help:    "Pipeline stage duration in seconds",
			Buckets: []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"stage"},
	)

	proposalsPerImage = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "omnishelf_proposals_per_image",
			Help:    "Number of region proposals per image",
			Buckets: []float64{0, 10, 50, 100, 250, 500, 1000, 2500, 5000},
		},
	)

	detectionsPerImage = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "omnishelf_detections_per_image",
			Help:    "Number of product detections per image",
			Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 250},
		},
	)

	verificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "omnishelf_verifications_total",
			Help: "Verifier outcomes",
		},
		[]string{"outcome"}, // confirmed, corrected, failed
	)

	// Rate limiting metrics
	rateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "omnishelf_rate_limit_hits_total",
			Help: "Total number of rate limit hits",
		},
		[]string{"type"}, // rate, requests, data
	)

	// File upload metrics
	uploadSizeBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "omnishelf_upload_size_bytes",
			Help:    "Size of uploaded files in bytes",
			Buckets: []float64{1024, 10 * 1024, 100 * 1024, 1024 * 1024, 10 * 1024 * 1024, 50 * 1024 * 1024},
		},
	)

	// WebSocket metrics
	websocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "omnishelf_websocket_active_connections",
			Help: "Number of active WebSocket connections",
		},
	)

	websocketMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "omnishelf_websocket_messages_total",
			Help: "Total number of WebSocket messages",
		},
		[]string{"direction"}, // direction: sent, received
	)
)

// observeResult records per-run metrics.
func observeResult(source string, res *pipeline.Result) {
	detectRequestsTotal.WithLabelValues(source, "success").Inc()
	detectDuration.WithLabelValues(source).Observe(res.TotalDuration.Seconds())
	for stage, d := range res.Timings {
		stageDuration.WithLabelValues(stage).Observe(d.Seconds())
	}
	proposalsPerImage.Observe(float64(res.TotalProposals))
	detectionsPerImage.Observe(float64(len(res.Detections)))
	if res.Verification.Enabled {
		verificationsTotal.WithLabelValues("confirmed").Add(float64(res.Verification.Confirmed))
		verificationsTotal.WithLabelValues("corrected").Add(float64(res.Verification.Corrected))
		verificationsTotal.WithLabelValues("failed").Add(float64(res.Verification.Failed))
	}
}
