package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/omnishelf/internal/testutil"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	return testutil.WriteFile(t, "omnishelf.yaml", []byte(body))
}

func TestLoadWithFile(t *testing.T) {
	path := writeConfig(t, `
log_level: debug
pipeline:
  strategies: [sliding_window, contour_grid]
  sliding_window:
    sizes: ["120x180"]
  nms:
    iou_threshold: 0.5
verifier:
  enabled: true
  timeout: 3s
store:
  enabled: true
  path: /tmp/scans.db
server:
  port: 9090
  rate_limit:
    enabled: true
    burst: 10
`)

	cfg, err := NewLoaderWithViper(viper.New()).LoadWithFile(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, []string{"sliding_window", "contour_grid"}, cfg.Pipeline.Strategies)
	assert.Equal(t, []string{"120x180"}, cfg.Pipeline.SlidingWindow.Sizes)
	assert.InDelta(t, 0.5, cfg.Pipeline.NMS.IoUThreshold, 1e-9)
	assert.True(t, cfg.Verifier.Enabled)
	assert.Equal(t, 3*time.Second, cfg.Verifier.Timeout)
	assert.True(t, cfg.Store.Enabled)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 10, cfg.Server.RateLimit.Burst)

	// Unset keys fall back to defaults.
	defaults := DefaultConfig()
	assert.Equal(t, defaults.Pipeline.Contour.MinSide, cfg.Pipeline.Contour.MinSide)
	assert.Equal(t, defaults.Server.Host, cfg.Server.Host)
	assert.InDelta(t, defaults.Verifier.OverrideConfidence, cfg.Verifier.OverrideConfidence, 1e-9)
}

func TestLoadWithFileMissing(t *testing.T) {
	_, err := NewLoaderWithViper(viper.New()).LoadWithFile(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not exist")
}

func TestLoadWithFileValidation(t *testing.T) {
	path := writeConfig(t, "pipeline:\n  nms:\n    mode: sideways\n")

	_, err := NewLoaderWithViper(viper.New()).LoadWithFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configuration validation failed")

	cfg, err := NewLoaderWithViper(viper.New()).LoadWithFileWithoutValidation(path)
	require.NoError(t, err)
	assert.Equal(t, "sideways", cfg.Pipeline.NMS.Mode)
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeConfig(t, "pipeline: [unclosed\n")
	_, err := NewLoaderWithViper(viper.New()).LoadWithFile(path)
	assert.Error(t, err)
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("OMNISHELF_LOG_LEVEL", "warn")
	t.Setenv("OMNISHELF_PIPELINE_CLASSIFIER_CONFIDENCE_FLOOR", "0.65")
	t.Setenv("OMNISHELF_VERIFIER_TRUST_THRESHOLD", "0.8")
	t.Setenv("OMNISHELF_SERVER_PORT", "7070")

	path := writeConfig(t, "log_level: debug\n")
	cfg, err := NewLoaderWithViper(viper.New()).LoadWithFile(path)
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.LogLevel)
	assert.InDelta(t, 0.65, cfg.Pipeline.Classifier.ConfidenceFloor, 1e-9)
	assert.InDelta(t, 0.8, cfg.Verifier.TrustThreshold, 1e-9)
	assert.Equal(t, 7070, cfg.Server.Port)
}

func TestLoadWithoutConfigFileUsesDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("HOME", dir)
	t.Setenv("XDG_CONFIG_HOME", dir)

	cfg, err := NewLoaderWithViper(viper.New()).Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Server.Port, cfg.Server.Port)
	assert.Equal(t, DefaultConfig().Pipeline.Strategies, cfg.Pipeline.Strategies)
}

func TestGenerateDefaultConfigFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "omnishelf.yaml")
	require.NoError(t, GenerateDefaultConfigFile(path))
	assert.True(t, testutil.DirExists(filepath.Dir(path)))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "strategies:")
	assert.Contains(t, string(data), "timeout: 8s")
	assert.NotContains(t, string(data), "api_key")

	cfg, err := NewLoaderWithViper(viper.New()).LoadWithFile(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), *cfg)
}

func TestGetConfigSearchPaths(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	paths := GetConfigSearchPaths()
	assert.Equal(t, ".", paths[0])
	assert.Contains(t, paths, "/xdg/omnishelf")
	assert.Equal(t, "/etc/omnishelf", paths[len(paths)-1])
}

func TestLoaderAccessors(t *testing.T) {
	l := NewLoaderWithViper(viper.New())
	l.Set("output.format", "csv")
	assert.Equal(t, "csv", l.GetString("output.format"))
	assert.Equal(t, "csv", l.Get("output.format"))
	assert.NotNil(t, l.GetViper())

	path := writeConfig(t, "verbose: true\n")
	_, err := l.LoadWithFile(path)
	require.NoError(t, err)
	assert.Equal(t, path, l.GetConfigFileUsed())
	assert.Contains(t, l.GetResolvedConfig(), "pipeline")
}
