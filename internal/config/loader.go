package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	// ConfigFileName is the base name for configuration files (without extension).
	ConfigFileName = "omnishelf"

	// EnvPrefix is the prefix for environment variables.
	EnvPrefix = "OMNISHELF"
)

// Loader handles loading configuration from various sources.
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	// Use the global viper instance to ensure flag bindings work
	return &Loader{v: viper.GetViper()}
}

// NewLoaderWithViper creates a loader around a dedicated viper instance.
func NewLoaderWithViper(v *viper.Viper) *Loader {
	return &Loader{v: v}
}

// Load loads configuration from files, environment variables, and defaults,
// then validates it.
func (l *Loader) Load() (*Config, error) {
	return l.load("", true)
}

// LoadWithoutValidation is Load without the validation step.
func (l *Loader) LoadWithoutValidation() (*Config, error) {
	return l.load("", false)
}

// LoadWithFile loads configuration from a specific file path.
func (l *Loader) LoadWithFile(configFile string) (*Config, error) {
	return l.load(configFile, true)
}

// LoadWithFileWithoutValidation loads configuration from a specific file path without validation.
func (l *Loader) LoadWithFileWithoutValidation(configFile string) (*Config, error) {
	return l.load(configFile, false)
}

func (l *Loader) load(configFile string, validate bool) (*Config, error) {
	if configFile != "" {
		if _, err := os.Stat(configFile); os.IsNotExist(err) {
			return nil, fmt.Errorf("config file does not exist: %s", configFile)
		}
		l.v.SetConfigFile(configFile)
	} else {
		l.v.SetConfigName(ConfigFileName)
		l.v.SetConfigType("yaml")
		l.addConfigPaths()
	}

	l.setupEnvironmentVariables()
	l.setDefaults()

	if err := l.v.ReadInConfig(); err != nil {
		// A missing config file is fine when searching; defaults and env vars apply.
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := l.v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if validate {
		if err := config.Validate(); err != nil {
			return nil, fmt.Errorf("configuration validation failed: %w", err)
		}
	}

	return &config, nil
}

// Get returns a value from the configuration.
func (l *Loader) Get(key string) any {
	return l.v.Get(key)
}

// GetString returns a string value from the configuration.
func (l *Loader) GetString(key string) string {
	return l.v.GetString(key)
}

// Set sets a value in the configuration.
func (l *Loader) Set(key string, value any) {
	l.v.Set(key, value)
}

// GetConfigFileUsed returns the path of the config file used.
func (l *Loader) GetConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

// GetViper returns the underlying viper instance for advanced usage.
func (l *Loader) GetViper() *viper.Viper {
	return l.v
}

// addConfigPaths adds the standard configuration search paths.
func (l *Loader) addConfigPaths() {
	for _, p := range GetConfigSearchPaths() {
		l.v.AddConfigPath(p)
	}
}

// setupEnvironmentVariables configures environment variable handling.
func (l *Loader) setupEnvironmentVariables() {
	l.v.SetEnvPrefix(EnvPrefix)
	l.v.AutomaticEnv()
	// pipeline.nms.mode -> OMNISHELF_PIPELINE_NMS_MODE
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
}

// setDefaults sets default values for all configuration options.
func (l *Loader) setDefaults() {
	defaults := DefaultConfig()

	// Global settings
	l.v.SetDefault("models_dir", defaults.ModelsDir)
	l.v.SetDefault("log_level", defaults.LogLevel)
	l.v.SetDefault("verbose", defaults.Verbose)

	// Pipeline defaults
	p := defaults.Pipeline
	l.v.SetDefault("pipeline.strategies", p.Strategies)
	l.v.SetDefault("pipeline.sliding_window.sizes", p.SlidingWindow.Sizes)
	l.v.SetDefault("pipeline.sliding_window.stride_ratio", p.SlidingWindow.StrideRatio)
	l.v.SetDefault("pipeline.contour.min_side", p.Contour.MinSide)
	l.v.SetDefault("pipeline.contour.max_side", p.Contour.MaxSide)
	l.v.SetDefault("pipeline.contour.padding", p.Contour.Padding)
	l.v.SetDefault("pipeline.contour.max_aspect", p.Contour.MaxAspect)
	l.v.SetDefault("pipeline.contour.grid_enabled", p.Contour.GridEnabled)
	l.v.SetDefault("pipeline.contour.grid_size", p.Contour.GridSize)
	l.v.SetDefault("pipeline.contour.grid_overlap", p.Contour.GridOverlap)
	l.v.SetDefault("pipeline.contour.grid_scales", p.Contour.GridScales)
	l.v.SetDefault("pipeline.generic.model", p.Generic.Model)
	l.v.SetDefault("pipeline.generic.confidence_floor", p.Generic.ConfidenceFloor)
	l.v.SetDefault("pipeline.generic.padding", p.Generic.Padding)
	l.v.SetDefault("pipeline.generic.allow_list", p.Generic.AllowList)
	l.v.SetDefault("pipeline.generic.num_threads", p.Generic.NumThreads)
	l.v.SetDefault("pipeline.merge_threshold", p.MergeThreshold)
	l.v.SetDefault("pipeline.classifier.model", p.Classifier.Model)
	l.v.SetDefault("pipeline.classifier.labels", p.Classifier.Labels)
	l.v.SetDefault("pipeline.classifier.confidence_floor", p.Classifier.ConfidenceFloor)
	l.v.SetDefault("pipeline.classifier.min_crop_size", p.Classifier.MinCropSize)
	l.v.SetDefault("pipeline.classifier.num_threads", p.Classifier.NumThreads)
	l.v.SetDefault("pipeline.report_unmatched", p.ReportUnmatched)
	l.v.SetDefault("pipeline.nms.iou_threshold", p.NMS.IoUThreshold)
	l.v.SetDefault("pipeline.nms.mode", p.NMS.Mode)
	l.v.SetDefault("pipeline.max_workers", p.MaxWorkers)
	l.v.SetDefault("pipeline.gpu.enabled", p.GPU.Enabled)
	l.v.SetDefault("pipeline.gpu.device", p.GPU.Device)
	l.v.SetDefault("pipeline.gpu.mem_limit", p.GPU.MemLimit)

	// Verifier defaults
	v := defaults.Verifier
	l.v.SetDefault("verifier.enabled", v.Enabled)
	l.v.SetDefault("verifier.api_key", v.APIKey)
	l.v.SetDefault("verifier.model", v.Model)
	l.v.SetDefault("verifier.base_url", v.BaseURL)
	l.v.SetDefault("verifier.trust_threshold", v.TrustThreshold)
	l.v.SetDefault("verifier.override_confidence", v.OverrideConfidence)
	l.v.SetDefault("verifier.timeout", v.Timeout)
	l.v.SetDefault("verifier.retry_backoff", v.RetryBackoff)
	l.v.SetDefault("verifier.rate_per_second", v.RatePerSecond)
	l.v.SetDefault("verifier.max_concurrency", v.MaxConcurrency)

	l.v.SetDefault("catalog.path", defaults.Catalog.Path)

	// Output defaults
	l.v.SetDefault("output.format", defaults.Output.Format)
	l.v.SetDefault("output.file", defaults.Output.File)
	l.v.SetDefault("output.overlay_dir", defaults.Output.OverlayDir)

	// Server defaults
	s := defaults.Server
	l.v.SetDefault("server.host", s.Host)
	l.v.SetDefault("server.port", s.Port)
	l.v.SetDefault("server.cors_origin", s.CORSOrigin)
	l.v.SetDefault("server.max_upload_mb", s.MaxUploadMB)
	l.v.SetDefault("server.timeout_sec", s.TimeoutSec)
	l.v.SetDefault("server.shutdown_timeout", s.ShutdownTimeout)
	l.v.SetDefault("server.overlay_enabled", s.OverlayEnabled)
	l.v.SetDefault("server.rate_limit.enabled", s.RateLimit.Enabled)
	l.v.SetDefault("server.rate_limit.requests_per_second", s.RateLimit.RequestsPerSecond)
	l.v.SetDefault("server.rate_limit.burst", s.RateLimit.Burst)
	l.v.SetDefault("server.rate_limit.max_requests_per_day", s.RateLimit.MaxRequestsPerDay)
	l.v.SetDefault("server.rate_limit.max_data_per_day_mb", s.RateLimit.MaxDataPerDayMB)

	// Store defaults
	l.v.SetDefault("store.enabled", defaults.Store.Enabled)
	l.v.SetDefault("store.path", defaults.Store.Path)
}

// GetResolvedConfig returns the current resolved configuration for debugging.
func (l *Loader) GetResolvedConfig() map[string]any {
	return l.v.AllSettings()
}

// GenerateDefaultConfigFile writes the default configuration as YAML.
func GenerateDefaultConfigFile(filename string) error {
	if filename == "" {
		filename = ConfigFileName + ".yaml"
	}

	data, err := MarshalYAML(DefaultConfig())
	if err != nil {
		return err
	}
	if dir := filepath.Dir(filename); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	return os.WriteFile(filename, data, 0o600)
}

// MarshalYAML renders cfg as YAML with two-space indentation.
func MarshalYAML(cfg Config) ([]byte, error) {
	var sb strings.Builder
	enc := yaml.NewEncoder(&sb)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return []byte(sb.String()), nil
}

// GetConfigSearchPaths returns the paths where configuration files are searched.
func GetConfigSearchPaths() []string {
	paths := []string{"."}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, home)
		paths = append(paths, filepath.Join(home, ".config", "omnishelf"))
	}

	if configDir, exists := os.LookupEnv("XDG_CONFIG_HOME"); exists {
		paths = append(paths, filepath.Join(configDir, "omnishelf"))
	}

	paths = append(paths, "/etc/omnishelf")

	return paths
}
