//nolint:lll
package config

import "time"

// Config represents the complete configuration for the omnishelf application.
// It includes settings for all commands (detect, serve, catalog) and
// supports loading from configuration files, environment variables, and command-line flags.
type Config struct {
	// Global settings
	ModelsDir string `mapstructure:"models_dir" yaml:"models_dir" json:"models_dir"`
	LogLevel  string `mapstructure:"log_level" yaml:"log_level" json:"log_level"`
	Verbose   bool   `mapstructure:"verbose" yaml:"verbose" json:"verbose"`

	// Pipeline configuration
	Pipeline PipelineConfig `mapstructure:"pipeline" yaml:"pipeline" json:"pipeline"`

	// External verification
	Verifier VerifierConfig `mapstructure:"verifier" yaml:"verifier" json:"verifier"`

	// Product catalog
	Catalog CatalogConfig `mapstructure:"catalog" yaml:"catalog" json:"catalog"`

	// Output configuration
	Output OutputConfig `mapstructure:"output" yaml:"output" json:"output"`

	// Server configuration (for serve command)
	Server ServerConfig `mapstructure:"server" yaml:"server" json:"server"`

	// Scan persistence
	Store StoreConfig `mapstructure:"store" yaml:"store" json:"store"`
}

// PipelineConfig contains shelf pipeline settings.
type PipelineConfig struct {
	Strategies     []string            `mapstructure:"strategies" yaml:"strategies" json:"strategies"`
	SlidingWindow  SlidingWindowConfig `mapstructure:"sliding_window" yaml:"sliding_window" json:"sliding_window"`
	Contour        ContourConfig       `mapstructure:"contour" yaml:"contour" json:"contour"`
	Generic        GenericConfig       `mapstructure:"generic" yaml:"generic" json:"generic"`
	MergeThreshold float64             `mapstructure:"merge_threshold" yaml:"merge_threshold" json:"merge_threshold"`

	Classifier      ClassifierConfig `mapstructure:"classifier" yaml:"classifier" json:"classifier"`
	ReportUnmatched bool             `mapstructure:"report_unmatched" yaml:"report_unmatched" json:"report_unmatched"`

	NMS NMSConfig `mapstructure:"nms" yaml:"nms" json:"nms"`

	MaxWorkers int       `mapstructure:"max_workers" yaml:"max_workers" json:"max_workers"`
	GPU        GPUConfig `mapstructure:"gpu" yaml:"gpu" json:"gpu"`
}

// SlidingWindowConfig contains sliding window proposal settings.
type SlidingWindowConfig struct {
	Sizes       []string `mapstructure:"sizes" yaml:"sizes" json:"sizes"`
	StrideRatio float64  `mapstructure:"stride_ratio" yaml:"stride_ratio" json:"stride_ratio"`
}

// ContourConfig contains contour and grid proposal settings.
type ContourConfig struct {
	MinSide     int       `mapstructure:"min_side" yaml:"min_side" json:"min_side"`
	MaxSide     int       `mapstructure:"max_side" yaml:"max_side" json:"max_side"`
	Padding     int       `mapstructure:"padding" yaml:"padding" json:"padding"`
	MaxAspect   float64   `mapstructure:"max_aspect" yaml:"max_aspect" json:"max_aspect"`
	GridEnabled bool      `mapstructure:"grid_enabled" yaml:"grid_enabled" json:"grid_enabled"`
	GridSize    int       `mapstructure:"grid_size" yaml:"grid_size" json:"grid_size"`
	GridOverlap float64   `mapstructure:"grid_overlap" yaml:"grid_overlap" json:"grid_overlap"`
	GridScales  []float64 `mapstructure:"grid_scales" yaml:"grid_scales" json:"grid_scales"`
}

// GenericConfig contains generic object detector proposal settings.
type GenericConfig struct {
	Model           string  `mapstructure:"model" yaml:"model" json:"model"`
	ConfidenceFloor float64 `mapstructure:"confidence_floor" yaml:"confidence_floor" json:"confidence_floor"`
	Padding         int     `mapstructure:"padding" yaml:"padding" json:"padding"`
	AllowList       []int   `mapstructure:"allow_list" yaml:"allow_list" json:"allow_list"`
	NumThreads      int     `mapstructure:"num_threads" yaml:"num_threads" json:"num_threads"`
}

// ClassifierConfig contains product classifier settings.
type ClassifierConfig struct {
	Model           string  `mapstructure:"model" yaml:"model" json:"model"`
	Labels          string  `mapstructure:"labels" yaml:"labels" json:"labels"`
	ConfidenceFloor float64 `mapstructure:"confidence_floor" yaml:"confidence_floor" json:"confidence_floor"`
	MinCropSize     int     `mapstructure:"min_crop_size" yaml:"min_crop_size" json:"min_crop_size"`
	NumThreads      int     `mapstructure:"num_threads" yaml:"num_threads" json:"num_threads"`
}

// NMSConfig contains deduplication settings.
type NMSConfig struct {
	IoUThreshold float64 `mapstructure:"iou_threshold" yaml:"iou_threshold" json:"iou_threshold"`
	Mode         string  `mapstructure:"mode" yaml:"mode" json:"mode"`
}

// GPUConfig contains GPU acceleration settings.
type GPUConfig struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Device   int    `mapstructure:"device" yaml:"device" json:"device"`
	MemLimit string `mapstructure:"mem_limit" yaml:"mem_limit" json:"mem_limit"`
}

// VerifierConfig contains vision-language verifier settings.
type VerifierConfig struct {
	Enabled            bool          `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	APIKey             string        `mapstructure:"api_key" yaml:"api_key,omitempty" json:"-"`
	Model              string        `mapstructure:"model" yaml:"model" json:"model"`
	BaseURL            string        `mapstructure:"base_url" yaml:"base_url,omitempty" json:"base_url,omitempty"`
	TrustThreshold     float64       `mapstructure:"trust_threshold" yaml:"trust_threshold" json:"trust_threshold"`
	OverrideConfidence float64       `mapstructure:"override_confidence" yaml:"override_confidence" json:"override_confidence"`
	Timeout            time.Duration `mapstructure:"timeout" yaml:"timeout" json:"timeout"`
	RetryBackoff       time.Duration `mapstructure:"retry_backoff" yaml:"retry_backoff" json:"retry_backoff"`
	RatePerSecond      float64       `mapstructure:"rate_per_second" yaml:"rate_per_second" json:"rate_per_second"`
	MaxConcurrency     int           `mapstructure:"max_concurrency" yaml:"max_concurrency" json:"max_concurrency"`
}

// CatalogConfig points at a product catalog file.
type CatalogConfig struct {
	Path string `mapstructure:"path" yaml:"path" json:"path"`
}

// OutputConfig contains output formatting settings.
type OutputConfig struct {
	Format     string `mapstructure:"format" yaml:"format" json:"format"`
	File       string `mapstructure:"file" yaml:"file" json:"file"`
	OverlayDir string `mapstructure:"overlay_dir" yaml:"overlay_dir" json:"overlay_dir"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host            string          `mapstructure:"host" yaml:"host" json:"host"`
	Port            int             `mapstructure:"port" yaml:"port" json:"port"`
	CORSOrigin      string          `mapstructure:"cors_origin" yaml:"cors_origin" json:"cors_origin"`
	MaxUploadMB     int             `mapstructure:"max_upload_mb" yaml:"max_upload_mb" json:"max_upload_mb"`
	TimeoutSec      int             `mapstructure:"timeout_sec" yaml:"timeout_sec" json:"timeout_sec"`
	ShutdownTimeout int             `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" json:"shutdown_timeout"`
	OverlayEnabled  bool            `mapstructure:"overlay_enabled" yaml:"overlay_enabled" json:"overlay_enabled"`
	RateLimit       RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit" json:"rate_limit"`
}

// RateLimitConfig contains per-client request limits.
type RateLimitConfig struct {
	Enabled           bool    `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second" yaml:"requests_per_second" json:"requests_per_second"`
	Burst             int     `mapstructure:"burst" yaml:"burst" json:"burst"`
	MaxRequestsPerDay int     `mapstructure:"max_requests_per_day" yaml:"max_requests_per_day" json:"max_requests_per_day"`
	MaxDataPerDayMB   int64   `mapstructure:"max_data_per_day_mb" yaml:"max_data_per_day_mb" json:"max_data_per_day_mb"`
}

// StoreConfig contains scan persistence settings.
type StoreConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Path    string `mapstructure:"path" yaml:"path" json:"path"`
}
