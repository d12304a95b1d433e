package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/omnishelf/internal/config"
	"github.com/MeKo-Tech/omnishelf/internal/server"
	"github.com/MeKo-Tech/omnishelf/internal/version"
)

// serveCmd represents the serve command.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start HTTP server for the shelf detection API",
	Long: `Start an HTTP server that exposes shelf detection as a REST and WebSocket API.

The server provides the following endpoints:
  POST /detect         - Detect products on an uploaded image (json, csv, text, overlay)
  GET  /ws/detect      - WebSocket detection with streamed progress
  GET  /products       - List the product catalog
  GET  /stock/summary  - Per-product stock levels (requires the scan store)
  GET  /scans          - Recent saved scans (requires the scan store)
  GET  /health         - Health check endpoint
  GET  /metrics        - Prometheus metrics

Examples:
  omnishelf serve
  omnishelf serve --port 8080
  omnishelf serve --host 0.0.0.0 --port 3000 --store`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		applyServeOverrides(cmd, cfg)

		if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
			return fmt.Errorf("invalid port number: %d (must be between 1 and 65535)", cfg.Server.Port)
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		serverConfig, err := cfg.ToServerConfig()
		if err != nil {
			return fmt.Errorf("invalid server configuration: %w", err)
		}

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		shelfServer, err := server.NewServer(serverConfig)
		if err != nil {
			return fmt.Errorf("failed to initialize server: %w", err)
		}

		mux := http.NewServeMux()
		shelfServer.SetupRoutes(mux)

		timeout := time.Duration(serverConfig.TimeoutSec) * time.Second
		httpServer := &http.Server{
			Addr:              fmt.Sprintf("%s:%d", serverConfig.Host, serverConfig.Port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       timeout,
			// Responses may wait for a full detection run plus encoding.
			WriteTimeout: timeout + 10*time.Second,
		}

		go func() {
			slog.Info("Starting shelf detection server", "version", version.String(), "host", serverConfig.Host, "port", serverConfig.Port,
				"store", serverConfig.StorePath != "", "rate_limit", serverConfig.RateLimit.Enabled)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("Server error", "error", err)
				cancel()
			}
		}()

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
		defer signal.Stop(sigChan)

		select {
		case sig := <-sigChan:
			slog.Info("Received shutdown signal", "signal", sig.String())
		case <-ctx.Done():
			slog.Info("Context cancelled, initiating shutdown")
		}

		shutdownTimeout := time.Duration(serverConfig.ShutdownTimeout) * time.Second
		slog.Info("Starting graceful shutdown", "timeout", shutdownTimeout.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("HTTP server shutdown error", "error", err)
		} else {
			slog.Info("HTTP server shutdown completed")
		}

		if err := shelfServer.Close(); err != nil {
			slog.Error("Server cleanup error", "error", err)
		}

		slog.Info("Graceful shutdown completed")
		return nil
	},
}

// applyServeOverrides copies explicitly set flags over the loaded configuration.
func applyServeOverrides(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("host") {
		cfg.Server.Host, _ = flags.GetString("host")
	}
	if flags.Changed("port") {
		cfg.Server.Port, _ = flags.GetInt("port")
	}
	if flags.Changed("cors-origin") {
		cfg.Server.CORSOrigin, _ = flags.GetString("cors-origin")
	}
	if flags.Changed("max-upload-size") {
		cfg.Server.MaxUploadMB, _ = flags.GetInt("max-upload-size")
	}
	if flags.Changed("timeout") {
		cfg.Server.TimeoutSec, _ = flags.GetInt("timeout")
	}
	if flags.Changed("shutdown-timeout") {
		cfg.Server.ShutdownTimeout, _ = flags.GetInt("shutdown-timeout")
	}
	if flags.Changed("overlay-enable") {
		cfg.Server.OverlayEnabled, _ = flags.GetBool("overlay-enable")
	}

	// Rate limiting
	if flags.Changed("rate-limit-enabled") {
		cfg.Server.RateLimit.Enabled, _ = flags.GetBool("rate-limit-enabled")
	}
	if flags.Changed("requests-per-second") {
		cfg.Server.RateLimit.RequestsPerSecond, _ = flags.GetFloat64("requests-per-second")
	}
	if flags.Changed("burst") {
		cfg.Server.RateLimit.Burst, _ = flags.GetInt("burst")
	}
	if flags.Changed("max-requests-per-day") {
		cfg.Server.RateLimit.MaxRequestsPerDay, _ = flags.GetInt("max-requests-per-day")
	}
	if flags.Changed("max-data-per-day") {
		cfg.Server.RateLimit.MaxDataPerDayMB, _ = flags.GetInt64("max-data-per-day")
	}

	// Scan store
	if flags.Changed("store") {
		cfg.Store.Enabled, _ = flags.GetBool("store")
	}
	if flags.Changed("store-path") {
		cfg.Store.Path, _ = flags.GetString("store-path")
	}

	// Pipeline
	if flags.Changed("strategies") {
		cfg.Pipeline.Strategies, _ = flags.GetStringSlice("strategies")
	}
	if flags.Changed("confidence-floor") {
		cfg.Pipeline.Classifier.ConfidenceFloor, _ = flags.GetFloat64("confidence-floor")
	}
	if flags.Changed("nms-iou") {
		cfg.Pipeline.NMS.IoUThreshold, _ = flags.GetFloat64("nms-iou")
	}
	if flags.Changed("nms-mode") {
		cfg.Pipeline.NMS.Mode, _ = flags.GetString("nms-mode")
	}
	if flags.Changed("catalog") {
		cfg.Catalog.Path, _ = flags.GetString("catalog")
	}
	if flags.Changed("verify") {
		cfg.Verifier.Enabled, _ = flags.GetBool("verify")
	}
	if flags.Changed("workers") {
		cfg.Pipeline.MaxWorkers, _ = flags.GetInt("workers")
	}
	if flags.Changed("gpu") {
		cfg.Pipeline.GPU.Enabled, _ = flags.GetBool("gpu")
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringP("host", "H", "localhost", "server host")
	serveCmd.Flags().IntP("port", "p", 8080, "server port")
	serveCmd.Flags().String("cors-origin", "*", "CORS allowed origins")
	serveCmd.Flags().Int("max-upload-size", 50, "maximum upload size in MB")
	serveCmd.Flags().Int("timeout", 60, "detection timeout in seconds")
	serveCmd.Flags().Int("shutdown-timeout", 10, "shutdown timeout in seconds")
	serveCmd.Flags().Bool("overlay-enable", true, "enable overlay image responses")
	// Rate limiting flags
	serveCmd.Flags().Bool("rate-limit-enabled", false, "enable per-client rate limiting")
	serveCmd.Flags().Float64("requests-per-second", 2, "sustained requests per second per client")
	serveCmd.Flags().Int("burst", 5, "request burst size per client")
	serveCmd.Flags().Int("max-requests-per-day", 0, "maximum requests per day per client (0 = unlimited)")
	serveCmd.Flags().Int64("max-data-per-day", 0, "maximum upload volume per day per client in MB (0 = unlimited)")
	// Scan store flags
	serveCmd.Flags().Bool("store", false, "persist detections to the scan store")
	serveCmd.Flags().String("store-path", "omnishelf.db", "scan store database path")
	// Pipeline flags
	serveCmd.Flags().StringSlice("strategies", nil, "proposal strategies (sliding_window, contour_grid, generic_detector)")
	serveCmd.Flags().Float64("confidence-floor", 0.5, "minimum classification confidence (0..1)")
	serveCmd.Flags().Float64("nms-iou", 0.45, "IoU above which overlapping detections are suppressed")
	serveCmd.Flags().String("nms-mode", "class_aware", "deduplication mode (class_aware, class_agnostic)")
	serveCmd.Flags().String("catalog", "", "product catalog YAML (default: built-in catalog)")
	serveCmd.Flags().Bool("verify", false, "verify detections with a vision-language model")
	serveCmd.Flags().Int("workers", 0, "parallel classification workers (0 = number of CPUs)")
	serveCmd.Flags().Bool("gpu", false, "enable GPU acceleration using CUDA")
}
