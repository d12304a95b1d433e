package server

import (
	"context"
	"encoding/json"
	"errors"
	"image/png"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MeKo-Tech/omnishelf/internal/common"
	"github.com/MeKo-Tech/omnishelf/internal/pipeline"
	"github.com/MeKo-Tech/omnishelf/internal/store"
	"github.com/MeKo-Tech/omnishelf/internal/utils"
	"github.com/MeKo-Tech/omnishelf/internal/version"
)

const (
	formatJSON    = "json"
	formatCSV     = "csv"
	formatText    = "text"
	formatOverlay = "overlay"
)

// healthHandler returns server health status.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := HealthResponse{
		Status:   "healthy",
		Version:  version.Version,
		Time:     time.Now().UTC().Format(time.RFC3339),
		Verifier: s.pipeline.VerifierAvailable(),
		Store:    s.store != nil,
		Memory:   pipeline.GetMemStats(),
	}

	s.writeJSON(w, http.StatusOK, response)
}

// productsHandler lists the product catalog.
func (s *Server) productsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	entries := s.pipeline.Catalog().Entries()
	s.writeJSON(w, http.StatusOK, ProductsResponse{Products: entries, Count: len(entries)})
}

// detectHandler runs product detection on an uploaded shelf image.
func (s *Server) detectHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := s.maxUploadMB * 1024 * 1024
	if r.ContentLength > limit+1024*1024 {
		s.writeErrorResponse(w, "File too large", http.StatusRequestEntityTooLarge)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit+1024*1024)
	if err := r.ParseMultipartForm(limit); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			s.writeErrorResponse(w, "File too large", http.StatusRequestEntityTooLarge)
			return
		}
		s.writeErrorResponse(w, "Failed to parse form data", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		s.writeErrorResponse(w, "No image file provided", http.StatusBadRequest)
		return
	}
	defer func() { _ = file.Close() }()

	if header.Size > limit {
		s.writeErrorResponse(w, "File too large", http.StatusRequestEntityTooLarge)
		return
	}
	uploadSizeBytes.Observe(float64(header.Size))

	imageData, err := io.ReadAll(file)
	if err != nil {
		s.writeErrorResponse(w, "Failed to read image data", http.StatusInternalServerError)
		return
	}

	format := strings.ToLower(r.FormValue("format"))
	if format == "" {
		format = formatJSON
	}
	switch format {
	case formatJSON, formatCSV, formatText:
	case formatOverlay:
		if !s.overlayEnabled {
			s.writeErrorResponse(w, "Overlay output is disabled", http.StatusBadRequest)
			return
		}
	default:
		s.writeErrorResponse(w, "Unsupported format: "+format, http.StatusBadRequest)
		return
	}

	ctx, cancel := s.requestContext(r.Context())
	defer cancel()

	res, err := s.pipeline.DetectBytes(ctx, imageData, nil)
	if err != nil {
		detectRequestsTotal.WithLabelValues("http", "error").Inc()
		msg, code := classifyError(err)
		slog.Warn("detection failed", "request_id", requestIDFrom(r.Context()), "error", err)
		s.writeErrorResponse(w, msg, code)
		return
	}
	observeResult("http", res)

	var sessionID string
	if s.store != nil && parseBool(r.FormValue("save"), true) {
		scan, err := s.store.SaveScan(r.Context(), r.FormValue("shelf_id"), res.Detections, time.Now())
		if err != nil {
			slog.Error("failed to save scan", "error", err)
			s.writeErrorResponse(w, "Failed to save scan", http.StatusInternalServerError)
			return
		}
		sessionID = scan.SessionID
		w.Header().Set("X-Session-ID", sessionID)
	}

	switch format {
	case formatCSV:
		s.writeFormatted(w, "text/csv; charset=utf-8", res, pipeline.ToCSV)
	case formatText:
		s.writeFormatted(w, "text/plain; charset=utf-8", res, pipeline.ToText)
	case formatOverlay:
		s.writeOverlay(w, imageData, res)
	default:
		s.writeJSON(w, http.StatusOK, DetectResponse{
			Success:   true,
			RequestID: requestIDFrom(r.Context()),
			SessionID: sessionID,
			Result:    res,
		})
	}
}

// stockSummaryHandler returns per-product stock levels from the scan store.
func (s *Server) stockSummaryHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.store == nil {
		s.writeErrorResponse(w, "Scan store is disabled", http.StatusNotFound)
		return
	}

	summary, err := s.store.StockSummary(r.Context())
	if err != nil {
		slog.Error("stock summary failed", "error", err)
		s.writeErrorResponse(w, "Failed to compute stock summary", http.StatusInternalServerError)
		return
	}

	response := StockSummaryResponse{
		Products:   summary,
		Count:      len(summary),
		TotalValue: store.TotalValue(summary),
	}
	for _, p := range summary {
		switch p.Level {
		case store.LevelOut:
			response.OutOfStock++
		case store.LevelLow:
			response.LowStock++
		}
	}
	s.writeJSON(w, http.StatusOK, response)
}

// scansHandler lists recent scans, newest first.
func (s *Server) scansHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.store == nil {
		s.writeErrorResponse(w, "Scan store is disabled", http.StatusNotFound)
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeErrorResponse(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	scans, err := s.store.Scans(r.Context(), limit)
	if err != nil {
		slog.Error("listing scans failed", "error", err)
		s.writeErrorResponse(w, "Failed to list scans", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, ScansResponse{Scans: scans, Count: len(scans)})
}

func (s *Server) requestContext(parent context.Context) (context.Context, context.CancelFunc) {
	if s.timeoutSec > 0 {
		return context.WithTimeout(parent, time.Duration(s.timeoutSec)*time.Second)
	}
	return context.WithCancel(parent)
}

// classifyError maps a pipeline error to a client message and status code.
func classifyError(err error) (string, int) {
	var inputErr *common.InputError
	var modelErr *common.ModelUnavailableError
	switch {
	case errors.As(err, &inputErr):
		return inputErr.Error(), http.StatusBadRequest
	case errors.As(err, &modelErr):
		return "Model unavailable", http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return "Detection timed out", http.StatusGatewayTimeout
	default:
		return "Detection failed", http.StatusInternalServerError
	}
}

func (s *Server) writeFormatted(w http.ResponseWriter, contentType string, res *pipeline.Result, format func(*pipeline.Result) (string, error)) {
	out, err := format(res)
	if err != nil {
		s.writeErrorResponse(w, "Failed to format result", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", contentType)
	if _, err := io.WriteString(w, out); err != nil {
		slog.Error("failed to write response", "error", err)
	}
}

func (s *Server) writeOverlay(w http.ResponseWriter, imageData []byte, res *pipeline.Result) {
	img, _, err := utils.DecodeImage(imageData)
	if err != nil {
		s.writeErrorResponse(w, "Invalid image format", http.StatusBadRequest)
		return
	}
	overlay := pipeline.RenderOverlay(img, res.Detections)
	w.Header().Set("Content-Type", "image/png")
	if err := png.Encode(w, overlay); err != nil {
		slog.Error("failed to encode overlay", "error", err)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// writeErrorResponse writes an error response in JSON format.
func (s *Server) writeErrorResponse(w http.ResponseWriter, message string, statusCode int) {
	s.writeJSON(w, statusCode, DetectResponse{Success: false, Error: message})
}

func parseBool(v string, def bool) bool {
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
