package pipeline

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/MeKo-Tech/omnishelf/internal/classifier"
	"github.com/MeKo-Tech/omnishelf/internal/models"
	"github.com/MeKo-Tech/omnishelf/internal/nms"
	"github.com/MeKo-Tech/omnishelf/internal/onnx"
	"github.com/MeKo-Tech/omnishelf/internal/proposer"
	"github.com/MeKo-Tech/omnishelf/internal/verifier"
)

// GenericConfig configures the generic detector proposer and its model.
type GenericConfig struct {
	proposer.GenericDetectorConfig
	ModelPath  string
	NumThreads int
}

// ClassifierConfig configures the product classifier and its model.
type ClassifierConfig struct {
	classifier.Config
	ModelPath  string
	LabelsPath string
	NumThreads int
}

// NMSConfig configures deduplication.
type NMSConfig struct {
	IoUThreshold float64
	Mode         nms.Mode
}

// ParallelConfig holds configuration for parallel classification.
type ParallelConfig struct {
	MaxWorkers int // Number of parallel workers (0 = runtime.NumCPU())
}

// Config holds configuration for the shelf pipeline and its components.
type Config struct {
	ModelsDir  string
	Strategies []string

	SlidingWindow  proposer.SlidingWindowConfig
	Contour        proposer.ContourGridConfig
	Generic        GenericConfig
	MergeThreshold float64

	Classifier      ClassifierConfig
	ReportUnmatched bool

	NMS          NMSConfig
	Verification verifier.Config

	Parallel ParallelConfig
	GPU      onnx.GPUConfig

	// CatalogPath is a YAML catalog; empty uses the built-in catalog.
	CatalogPath string
}

// DefaultConfig returns a default pipeline config with component defaults.
func DefaultConfig() Config {
	verify := verifier.DefaultConfig()
	verify.Enabled = false
	return Config{
		ModelsDir:      models.GetModelsDir(""),
		Strategies:     []string{proposer.StrategyContourGrid},
		SlidingWindow:  proposer.DefaultSlidingWindowConfig(),
		Contour:        proposer.DefaultContourGridConfig(),
		Generic:        GenericConfig{GenericDetectorConfig: proposer.DefaultGenericDetectorConfig()},
		MergeThreshold: proposer.DefaultMergeThreshold,
		Classifier:     ClassifierConfig{Config: classifier.DefaultConfig()},
		NMS:            NMSConfig{IoUThreshold: 0.45, Mode: nms.ClassAware},
		Verification:   verify,
		Parallel:       ParallelConfig{MaxWorkers: runtime.NumCPU()},
		GPU:            onnx.DefaultGPUConfig(),
	}
}

// Validate checks thresholds and strategy names.
func (c Config) Validate() error {
	if len(c.Strategies) == 0 {
		return errors.New("at least one proposal strategy is required")
	}
	seen := make(map[string]bool, len(c.Strategies))
	for _, s := range c.Strategies {
		switch s {
		case proposer.StrategySlidingWindow, proposer.StrategyContourGrid, proposer.StrategyGenericDetector:
		default:
			return fmt.Errorf("unknown proposal strategy %q", s)
		}
		if seen[s] {
			return fmt.Errorf("duplicate proposal strategy %q", s)
		}
		seen[s] = true
	}
	if err := checkUnit("merge threshold", c.MergeThreshold); err != nil {
		return err
	}
	if err := checkUnit("classification confidence floor", c.Classifier.Floor); err != nil {
		return err
	}
	if err := checkUnit("generic detector confidence floor", c.Generic.ConfidenceFloor); err != nil {
		return err
	}
	if err := checkUnit("nms iou threshold", c.NMS.IoUThreshold); err != nil {
		return err
	}
	if _, err := nms.ParseMode(string(c.NMS.Mode)); err != nil {
		return err
	}
	if c.Verification.TrustThreshold < 0 {
		return fmt.Errorf("verification trust threshold %.2f must be >= 0", c.Verification.TrustThreshold)
	}
	if c.Parallel.MaxWorkers < 0 {
		return fmt.Errorf("max workers %d must be >= 0", c.Parallel.MaxWorkers)
	}
	return nil
}

// HasStrategy reports whether name is enabled.
func (c Config) HasStrategy(name string) bool {
	for _, s := range c.Strategies {
		if s == name {
			return true
		}
	}
	return false
}

// ClassifierModelPath resolves the classifier weights path.
func (c Config) ClassifierModelPath() string {
	return models.GetClassifierModelPath(c.ModelsDir, c.Classifier.ModelPath)
}

// GenericModelPath resolves the generic detector weights path.
func (c Config) GenericModelPath() string {
	return models.GetDetectorModelPath(c.ModelsDir, c.Generic.ModelPath)
}

func checkUnit(name string, v float64) error {
	if v < 0 || v > 1 {
		return fmt.Errorf("%s %.2f out of range [0, 1]", name, v)
	}
	return nil
}
