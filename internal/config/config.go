package config

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/MeKo-Tech/omnishelf/internal/classifier"
	"github.com/MeKo-Tech/omnishelf/internal/models"
	"github.com/MeKo-Tech/omnishelf/internal/nms"
	"github.com/MeKo-Tech/omnishelf/internal/pipeline"
	"github.com/MeKo-Tech/omnishelf/internal/proposer"
	"github.com/MeKo-Tech/omnishelf/internal/server"
	"github.com/MeKo-Tech/omnishelf/internal/verifier"
)

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	sw := proposer.DefaultSlidingWindowConfig()
	sizes := make([]string, len(sw.Sizes))
	for i, s := range sw.Sizes {
		sizes[i] = s.String()
	}
	contour := proposer.DefaultContourGridConfig()
	generic := proposer.DefaultGenericDetectorConfig()
	cls := classifier.DefaultConfig()
	verify := verifier.DefaultConfig()
	pl := pipeline.DefaultConfig()

	return Config{
		ModelsDir: models.DefaultModelsDir,
		LogLevel:  "info",
		Verbose:   false,
		Pipeline: PipelineConfig{
			Strategies: []string{proposer.StrategyContourGrid},
			SlidingWindow: SlidingWindowConfig{
				Sizes:       sizes,
				StrideRatio: sw.StrideRatio,
			},
			Contour: ContourConfig{
				MinSide:     contour.MinSide,
				MaxSide:     contour.MaxSide,
				Padding:     contour.Padding,
				MaxAspect:   contour.MaxAspect,
				GridEnabled: contour.Grid.Enabled,
				GridSize:    contour.Grid.Size,
				GridOverlap: contour.Grid.Overlap,
				GridScales:  contour.Grid.Scales,
			},
			Generic: GenericConfig{
				Model:           models.GenericDetector,
				ConfidenceFloor: generic.ConfidenceFloor,
				Padding:         generic.Padding,
				AllowList:       generic.AllowList,
			},
			MergeThreshold: proposer.DefaultMergeThreshold,
			Classifier: ClassifierConfig{
				Model:           models.ProductDetector,
				ConfidenceFloor: cls.Floor,
				MinCropSize:     cls.MinCropSize,
			},
			NMS: NMSConfig{
				IoUThreshold: pl.NMS.IoUThreshold,
				Mode:         string(pl.NMS.Mode),
			},
			MaxWorkers: 0,
			GPU: GPUConfig{
				Enabled:  false,
				Device:   0,
				MemLimit: "auto",
			},
		},
		Verifier: VerifierConfig{
			Enabled:            false,
			Model:              verify.Model,
			TrustThreshold:     verify.TrustThreshold,
			OverrideConfidence: verify.OverrideConfidence,
			Timeout:            verify.Timeout,
			RetryBackoff:       verify.RetryBackoff,
			RatePerSecond:      verify.RatePerSecond,
			MaxConcurrency:     verify.MaxConcurrency,
		},
		Output: OutputConfig{
			Format: "text",
		},
		Server: ServerConfig{
			Host:            "localhost",
			Port:            8080,
			CORSOrigin:      "*",
			MaxUploadMB:     50,
			TimeoutSec:      60,
			ShutdownTimeout: 10,
			OverlayEnabled:  true,
			RateLimit: RateLimitConfig{
				Enabled:           false,
				RequestsPerSecond: 2,
				Burst:             5,
				MaxRequestsPerDay: 0,
				MaxDataPerDayMB:   0,
			},
		},
		Store: StoreConfig{
			Enabled: false,
			Path:    "omnishelf.db",
		},
	}
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !slices.Contains(validLogLevels, c.LogLevel) {
		return fmt.Errorf("invalid log level: %s (must be one of: %s)", c.LogLevel, strings.Join(validLogLevels, ", "))
	}

	validFormats := []string{"text", "json", "csv"}
	if c.Output.Format != "" && !slices.Contains(validFormats, c.Output.Format) {
		return fmt.Errorf("invalid output format: %s (must be one of: %s)", c.Output.Format, strings.Join(validFormats, ", "))
	}

	thresholds := []struct {
		name  string
		value float64
	}{
		{"pipeline.merge_threshold", c.Pipeline.MergeThreshold},
		{"pipeline.classifier.confidence_floor", c.Pipeline.Classifier.ConfidenceFloor},
		{"pipeline.generic.confidence_floor", c.Pipeline.Generic.ConfidenceFloor},
		{"pipeline.nms.iou_threshold", c.Pipeline.NMS.IoUThreshold},
		{"pipeline.sliding_window.stride_ratio", c.Pipeline.SlidingWindow.StrideRatio},
		{"verifier.override_confidence", c.Verifier.OverrideConfidence},
	}
	for _, th := range thresholds {
		if err := validateThreshold(th.value, th.name); err != nil {
			return err
		}
	}
	if c.Pipeline.SlidingWindow.StrideRatio == 0 && slices.Contains(c.Pipeline.Strategies, proposer.StrategySlidingWindow) {
		return fmt.Errorf("invalid pipeline.sliding_window.stride_ratio: must be positive")
	}

	if len(c.Pipeline.Strategies) == 0 {
		return fmt.Errorf("pipeline.strategies must name at least one strategy")
	}
	for _, s := range c.Pipeline.Strategies {
		switch s {
		case proposer.StrategySlidingWindow, proposer.StrategyContourGrid, proposer.StrategyGenericDetector:
		default:
			return fmt.Errorf("invalid proposal strategy: %s", s)
		}
	}
	if _, err := proposer.ParseSizes(c.Pipeline.SlidingWindow.Sizes); err != nil {
		return fmt.Errorf("invalid pipeline.sliding_window.sizes: %w", err)
	}
	if _, err := nms.ParseMode(c.Pipeline.NMS.Mode); err != nil {
		return fmt.Errorf("invalid pipeline.nms.mode: %w", err)
	}
	if c.Pipeline.Contour.MinSide <= 0 || c.Pipeline.Contour.MaxSide < c.Pipeline.Contour.MinSide {
		return fmt.Errorf("invalid contour side limits: min %d, max %d", c.Pipeline.Contour.MinSide, c.Pipeline.Contour.MaxSide)
	}
	if c.Pipeline.MaxWorkers < 0 {
		return fmt.Errorf("invalid pipeline max workers: %d (must be >= 0)", c.Pipeline.MaxWorkers)
	}
	if c.Verifier.TrustThreshold < 0 {
		return fmt.Errorf("invalid verifier.trust_threshold: %.2f (must be >= 0)", c.Verifier.TrustThreshold)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be between 1 and 65535)", c.Server.Port)
	}
	if c.Server.MaxUploadMB <= 0 {
		return fmt.Errorf("invalid max upload size: %d (must be positive)", c.Server.MaxUploadMB)
	}
	if c.Server.TimeoutSec <= 0 {
		return fmt.Errorf("invalid timeout: %d (must be positive)", c.Server.TimeoutSec)
	}
	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerSecond < 0 {
		return fmt.Errorf("invalid rate limit: %.2f requests/s", c.Server.RateLimit.RequestsPerSecond)
	}

	if c.Store.Enabled && c.Store.Path == "" {
		return fmt.Errorf("store.path is required when the store is enabled")
	}

	if err := validateMemoryLimit(c.Pipeline.GPU.MemLimit); err != nil {
		return fmt.Errorf("invalid GPU memory limit: %w", err)
	}

	return nil
}

// ToPipelineConfig converts the config to the internal pipeline configuration format.
func (c *Config) ToPipelineConfig() (pipeline.Config, error) {
	cfg := pipeline.DefaultConfig()
	cfg.ModelsDir = c.ModelsDir
	cfg.Strategies = slices.Clone(c.Pipeline.Strategies)
	cfg.CatalogPath = c.Catalog.Path
	cfg.ReportUnmatched = c.Pipeline.ReportUnmatched
	cfg.MergeThreshold = c.Pipeline.MergeThreshold

	sizes, err := proposer.ParseSizes(c.Pipeline.SlidingWindow.Sizes)
	if err != nil {
		return cfg, err
	}
	if len(sizes) > 0 {
		cfg.SlidingWindow.Sizes = sizes
	}
	cfg.SlidingWindow.StrideRatio = c.Pipeline.SlidingWindow.StrideRatio

	cfg.Contour.MinSide = c.Pipeline.Contour.MinSide
	cfg.Contour.MaxSide = c.Pipeline.Contour.MaxSide
	cfg.Contour.Padding = c.Pipeline.Contour.Padding
	cfg.Contour.MaxAspect = c.Pipeline.Contour.MaxAspect
	cfg.Contour.Grid.Enabled = c.Pipeline.Contour.GridEnabled
	cfg.Contour.Grid.Size = c.Pipeline.Contour.GridSize
	cfg.Contour.Grid.Overlap = c.Pipeline.Contour.GridOverlap
	cfg.Contour.Grid.Scales = slices.Clone(c.Pipeline.Contour.GridScales)

	cfg.Generic.ModelPath = c.Pipeline.Generic.Model
	cfg.Generic.ConfidenceFloor = c.Pipeline.Generic.ConfidenceFloor
	cfg.Generic.Padding = c.Pipeline.Generic.Padding
	if len(c.Pipeline.Generic.AllowList) > 0 {
		cfg.Generic.AllowList = slices.Clone(c.Pipeline.Generic.AllowList)
	}
	cfg.Generic.NumThreads = c.Pipeline.Generic.NumThreads

	cfg.Classifier.ModelPath = c.Pipeline.Classifier.Model
	cfg.Classifier.LabelsPath = c.Pipeline.Classifier.Labels
	cfg.Classifier.Floor = c.Pipeline.Classifier.ConfidenceFloor
	cfg.Classifier.MinCropSize = c.Pipeline.Classifier.MinCropSize
	cfg.Classifier.NumThreads = c.Pipeline.Classifier.NumThreads

	mode, err := nms.ParseMode(c.Pipeline.NMS.Mode)
	if err != nil {
		return cfg, err
	}
	cfg.NMS = pipeline.NMSConfig{IoUThreshold: c.Pipeline.NMS.IoUThreshold, Mode: mode}

	if c.Pipeline.MaxWorkers > 0 {
		cfg.Parallel.MaxWorkers = c.Pipeline.MaxWorkers
	}

	memLimit, err := parseMemoryLimit(c.Pipeline.GPU.MemLimit)
	if err != nil {
		return cfg, err
	}
	cfg.GPU.UseGPU = c.Pipeline.GPU.Enabled
	cfg.GPU.DeviceID = c.Pipeline.GPU.Device
	cfg.GPU.GPUMemLimit = memLimit

	v := c.Verifier
	cfg.Verification.Enabled = v.Enabled
	cfg.Verification.APIKey = v.APIKey
	cfg.Verification.Model = v.Model
	cfg.Verification.BaseURL = v.BaseURL
	cfg.Verification.TrustThreshold = v.TrustThreshold
	cfg.Verification.OverrideConfidence = v.OverrideConfidence
	cfg.Verification.Timeout = v.Timeout
	cfg.Verification.RetryBackoff = v.RetryBackoff
	cfg.Verification.RatePerSecond = v.RatePerSecond
	cfg.Verification.MaxConcurrency = v.MaxConcurrency

	return cfg, nil
}

// ToServerConfig converts the config to the HTTP server configuration.
func (c *Config) ToServerConfig() (server.Config, error) {
	pl, err := c.ToPipelineConfig()
	if err != nil {
		return server.Config{}, err
	}
	s := c.Server
	cfg := server.Config{
		Host:            s.Host,
		Port:            s.Port,
		CORSOrigin:      s.CORSOrigin,
		MaxUploadMB:     int64(s.MaxUploadMB),
		TimeoutSec:      s.TimeoutSec,
		ShutdownTimeout: s.ShutdownTimeout,
		OverlayEnabled:  s.OverlayEnabled,
		RateLimit: server.RateLimitConfig{
			Enabled:           s.RateLimit.Enabled,
			RequestsPerSecond: s.RateLimit.RequestsPerSecond,
			Burst:             s.RateLimit.Burst,
			MaxRequestsPerDay: s.RateLimit.MaxRequestsPerDay,
			MaxDataPerDay:     s.RateLimit.MaxDataPerDayMB * 1024 * 1024,
		},
		PipelineConfig: pl,
	}
	if c.Store.Enabled {
		cfg.StorePath = c.Store.Path
	}
	return cfg, nil
}

// validateThreshold validates that a value is between 0.0 and 1.0.
func validateThreshold(value float64, name string) error {
	if value < 0.0 || value > 1.0 {
		return fmt.Errorf("invalid %s: %.2f (must be between 0.0 and 1.0)", name, value)
	}
	return nil
}

var memoryUnits = []struct {
	suffix string
	scale  float64
}{
	// Longest suffixes first so "MB" is not read as "B".
	{"KB", 1 << 10},
	{"MB", 1 << 20},
	{"GB", 1 << 30},
	{"B", 1},
}

// validateMemoryLimit validates GPU memory limit format (e.g., "1GB", "512MB").
func validateMemoryLimit(limit string) error {
	_, err := parseMemoryLimit(limit)
	return err
}

// parseMemoryLimit converts a limit such as "512MB" to bytes. Empty and
// "auto" mean no limit.
func parseMemoryLimit(limit string) (uint64, error) {
	limit = strings.ToUpper(strings.TrimSpace(limit))
	if limit == "" || limit == "AUTO" {
		return 0, nil
	}
	for _, unit := range memoryUnits {
		if !strings.HasSuffix(limit, unit.suffix) {
			continue
		}
		numStr := strings.TrimSpace(strings.TrimSuffix(limit, unit.suffix))
		n, err := strconv.ParseFloat(numStr, 64)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid number in memory limit: %s", limit)
		}
		return uint64(n * unit.scale), nil
	}
	return 0, fmt.Errorf("memory limit must end with one of: B, KB, MB, GB")
}
