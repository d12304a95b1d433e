package proposer

import (
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/MeKo-Tech/omnishelf/internal/detection"
	"github.com/MeKo-Tech/omnishelf/internal/yolo"
)

// ObjectDetector is the subset of yolo.Model used for generic proposals.
type ObjectDetector interface {
	Predict(ctx context.Context, img image.Image) ([]yolo.Prediction, error)
}

// DefaultGenericAllowList holds the COCO class ids that can be shelf
// products: containers (bottle through bowl), food (banana through cake),
// cell phone and the small household objects (book through toothbrush).
func DefaultGenericAllowList() []int {
	ids := make([]int, 0, 25)
	for id := 39; id <= 55; id++ {
		ids = append(ids, id)
	}
	ids = append(ids, 67)
	for id := 73; id <= 79; id++ {
		ids = append(ids, id)
	}
	return ids
}

// GenericDetectorConfig configures the generic detector strategy.
type GenericDetectorConfig struct {
	ConfidenceFloor float64
	AllowList       []int
	Padding         int
}

// DefaultGenericDetectorConfig returns the coarse floor, COCO allow-list and padding.
func DefaultGenericDetectorConfig() GenericDetectorConfig {
	return GenericDetectorConfig{
		ConfidenceFloor: 0.3,
		AllowList:       DefaultGenericAllowList(),
		Padding:         20,
	}
}

// GenericDetector turns a general-purpose object detector's boxes into proposals.
type GenericDetector struct {
	detector ObjectDetector
	cfg      GenericDetectorConfig
	allowed  map[int]struct{}
}

// NewGenericDetector wraps detector.
func NewGenericDetector(detector ObjectDetector, cfg GenericDetectorConfig) (*GenericDetector, error) {
	if detector == nil {
		return nil, errors.New("generic detector: nil detector")
	}
	if cfg.ConfidenceFloor < 0 || cfg.ConfidenceFloor > 1 {
		return nil, fmt.Errorf("generic detector: confidence floor %.2f out of range", cfg.ConfidenceFloor)
	}
	if cfg.Padding < 0 {
		return nil, fmt.Errorf("generic detector: negative padding %d", cfg.Padding)
	}
	allowed := make(map[int]struct{}, len(cfg.AllowList))
	for _, id := range cfg.AllowList {
		allowed[id] = struct{}{}
	}
	return &GenericDetector{detector: detector, cfg: cfg, allowed: allowed}, nil
}

// Name implements Proposer.
func (g *GenericDetector) Name() string { return StrategyGenericDetector }

// Propose implements Proposer. An empty allow-list admits every class.
func (g *GenericDetector) Propose(ctx context.Context, img image.Image) ([]detection.Region, error) {
	b := img.Bounds()
	imgW, imgH := b.Dx(), b.Dy()
	if imgW <= 0 || imgH <= 0 {
		return nil, nil
	}

	preds, err := g.detector.Predict(ctx, img)
	if err != nil {
		return nil, fmt.Errorf("generic detector: %w", err)
	}

	var regions []detection.Region
	for _, p := range preds {
		if p.Score < g.cfg.ConfidenceFloor {
			continue
		}
		if len(g.allowed) > 0 {
			if _, ok := g.allowed[p.ClassID]; !ok {
				continue
			}
		}
		box := p.Box.Pad(float64(g.cfg.Padding)).Clamp(imgW, imgH)
		if box.Area() <= 0 {
			continue
		}
		regions = append(regions, detection.Region{
			ID:     len(regions),
			Box:    box,
			Method: detection.MethodGenericDetector,
			Score:  p.Score,
		})
	}
	return regions, nil
}
