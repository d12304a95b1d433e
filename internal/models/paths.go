// Package models resolves model weight and label files on disk.
package models

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Model file names.
const (
	// ProductDetector is the per-product YOLOv8 model trained on Grozi-120.
	ProductDetector = "grozi120_yolov8.onnx"
	// GenericDetector is the COCO-pretrained YOLOv8 nano model.
	GenericDetector = "yolov8n_coco.onnx"

	ProductLabels = "grozi120_labels.txt"
	GenericLabels = "coco_labels.txt"
)

// Model type directories.
const (
	TypeClassifier = "classifier"
	TypeDetector   = "detector"
	TypeLabels     = "labels"
)

// DefaultModelsDir is the models directory relative to the project root.
const DefaultModelsDir = "models"

// EnvModelsDir overrides the models directory.
const EnvModelsDir = "OMNISHELF_MODELS_DIR"

// ModelInfo describes a model known to the CLI.
type ModelInfo struct {
	Name        string
	Type        string
	Description string
	Filename    string
}

func findProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", errors.New("could not find project root (go.mod not found)")
}

// GetModelsDir returns the models directory.
// Priority: 1. explicit modelsDir, 2. environment variable, 3. project root + default.
func GetModelsDir(modelsDir string) string {
	if modelsDir != "" {
		return modelsDir
	}
	if envDir := os.Getenv(EnvModelsDir); envDir != "" {
		return envDir
	}
	if projectRoot, err := findProjectRoot(); err == nil {
		return filepath.Join(projectRoot, DefaultModelsDir)
	}
	return DefaultModelsDir
}

// ResolveModelPath prefers <dir>/<type>/<file> and falls back to <dir>/<file>.
// Absolute filenames are returned unchanged.
func ResolveModelPath(modelsDir, modelType, filename string) string {
	if filepath.IsAbs(filename) {
		return filename
	}
	baseDir := GetModelsDir(modelsDir)
	if modelType != "" {
		organized := filepath.Join(baseDir, modelType, filename)
		if _, err := os.Stat(organized); err == nil {
			return organized
		}
	}
	return filepath.Join(baseDir, filename)
}

// GetClassifierModelPath returns the product classifier weights path.
func GetClassifierModelPath(modelsDir, filename string) string {
	if filename == "" {
		filename = ProductDetector
	}
	return ResolveModelPath(modelsDir, TypeClassifier, filename)
}

// GetDetectorModelPath returns the generic detector weights path.
func GetDetectorModelPath(modelsDir, filename string) string {
	if filename == "" {
		filename = GenericDetector
	}
	return ResolveModelPath(modelsDir, TypeDetector, filename)
}

// GetLabelsPath returns a labels file path, or "" when filename is empty.
func GetLabelsPath(modelsDir, filename string) string {
	if filename == "" {
		return ""
	}
	return ResolveModelPath(modelsDir, TypeLabels, filename)
}

// ValidateModelExists checks if a model file exists at the given path.
func ValidateModelExists(modelPath string) error {
	if _, err := os.Stat(modelPath); err != nil {
		return fmt.Errorf("model file not found: %s: %w", modelPath, err)
	}
	return nil
}

// ListAvailableModels returns the models the pipeline can use.
func ListAvailableModels() []ModelInfo {
	return []ModelInfo{
		{
			Name:        "grozi120-yolov8",
			Type:        TypeClassifier,
			Description: "Per-product detector for 120 Grozi grocery products",
			Filename:    ProductDetector,
		},
		{
			Name:        "yolov8n-coco",
			Type:        TypeDetector,
			Description: "COCO general object detector for region proposals",
			Filename:    GenericDetector,
		},
	}
}
