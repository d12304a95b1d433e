package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MeKo-Tech/omnishelf/internal/catalog"
	"github.com/MeKo-Tech/omnishelf/internal/pipeline"
	"github.com/MeKo-Tech/omnishelf/internal/store"
)

// detector defines the methods needed by the server from a pipeline.
type detector interface {
	DetectBytes(ctx context.Context, data []byte, obs pipeline.Observer) (*pipeline.Result, error)
	Catalog() *catalog.Catalog
	Info() map[string]any
	VerifierAvailable() bool
	Close()
}

// Server holds the HTTP server state and dependencies.
type Server struct {
	pipeline       detector
	store          *store.Store
	corsOrigin     string
	maxUploadMB    int64
	timeoutSec     int
	overlayEnabled bool
	rateLimiter    *RateLimiter
}

// RateLimitConfig configures per-client rate limiting.
type RateLimitConfig struct {
	Enabled           bool
	RequestsPerSecond float64
	Burst             int
	MaxRequestsPerDay int
	MaxDataPerDay     int64
}

// Config holds server configuration.
type Config struct {
	Host            string
	Port            int
	CORSOrigin      string
	MaxUploadMB     int64
	TimeoutSec      int
	ShutdownTimeout int
	OverlayEnabled  bool
	RateLimit       RateLimitConfig
	// StorePath enables scan persistence when non-empty.
	StorePath      string
	PipelineConfig pipeline.Config
}

// Response types for API endpoints.
type HealthResponse struct {
	Status   string            `json:"status"`
	Version  string            `json:"version,omitempty"`
	Time     string            `json:"time"`
	Verifier bool              `json:"verifier"`
	Store    bool              `json:"store"`
	Memory   pipeline.MemStats `json:"memory"`
}

type ProductsResponse struct {
	Products []catalog.Entry `json:"products"`
	Count    int             `json:"count"`
}

type DetectResponse struct {
	Success   bool             `json:"success"`
	RequestID string           `json:"request_id,omitempty"`
	SessionID string           `json:"session_id,omitempty"`
	Result    *pipeline.Result `json:"result,omitempty"`
	Error     string           `json:"error,omitempty"`
}

type StockSummaryResponse struct {
	Products   []store.ProductStock `json:"products"`
	Count      int                  `json:"count"`
	TotalValue float64              `json:"total_value"`
	LowStock   int                  `json:"low_stock"`
	OutOfStock int                  `json:"out_of_stock"`
}

type ScansResponse struct {
	Scans []store.Scan `json:"scans"`
	Count int          `json:"count"`
}

// NewServer builds the pipeline from config and opens the store.
func NewServer(config Config) (*Server, error) {
	pl, err := pipeline.NewFromConfig(config.PipelineConfig)
	if err != nil {
		return nil, err
	}

	var st *store.Store
	if config.StorePath != "" {
		st, err = store.Open(config.StorePath, pl.Catalog())
		if err != nil {
			pl.Close()
			return nil, fmt.Errorf("open store: %w", err)
		}
		slog.Info("scan store opened", "path", config.StorePath)
	}
	return New(pl, st, config), nil
}

// New wires a server around an existing pipeline and optional store.
func New(p detector, st *store.Store, config Config) *Server {
	s := &Server{
		pipeline:       p,
		store:          st,
		corsOrigin:     config.CORSOrigin,
		maxUploadMB:    config.MaxUploadMB,
		timeoutSec:     config.TimeoutSec,
		overlayEnabled: config.OverlayEnabled,
	}
	if s.maxUploadMB <= 0 {
		s.maxUploadMB = 50
	}
	if config.RateLimit.Enabled {
		rl := config.RateLimit
		s.rateLimiter = NewRateLimiter(rl.RequestsPerSecond, rl.Burst, rl.MaxRequestsPerDay, rl.MaxDataPerDay)
	}
	return s
}

// Close releases server resources.
func (s *Server) Close() error {
	if s.pipeline != nil {
		s.pipeline.Close()
	}
	if s.store != nil {
		return s.store.Close()
	}
	return nil
}

// SetupRoutes configures the HTTP routes.
func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", s.corsMiddleware(s.healthHandler))
	mux.HandleFunc("/products", s.corsMiddleware(s.productsHandler))
	mux.HandleFunc("/detect", s.corsMiddleware(s.requestIDMiddleware(s.rateLimitMiddleware(s.detectHandler))))
	mux.HandleFunc("/stock/summary", s.corsMiddleware(s.stockSummaryHandler))
	mux.HandleFunc("/scans", s.corsMiddleware(s.scansHandler))
	mux.HandleFunc("/ws/detect", s.requestIDMiddleware(s.rateLimitMiddleware(s.detectWebSocketHandler)))
	mux.Handle("/metrics", promhttp.Handler())
}
