// Package classifier assigns catalog product codes to proposed image regions.
package classifier

import (
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/MeKo-Tech/omnishelf/internal/detection"
	"github.com/MeKo-Tech/omnishelf/internal/yolo"
)

// Default thresholds.
const (
	DefaultConfidenceFloor = 0.5
	DefaultMinCropSize     = 20
)

// Prediction is the classification of one crop. Classified is false when no
// product cleared the floor, in which case Code and Confidence are zero.
type Prediction struct {
	Code       string
	Confidence float64
	Classified bool
}

// Unclassified is the result for crops that matched nothing.
func Unclassified() Prediction {
	return Prediction{Code: detection.UnclassifiedCode}
}

// Classifier labels a single crop. Implementations must be safe for concurrent use.
type Classifier interface {
	Classify(ctx context.Context, crop image.Image) (Prediction, error)
}

// Predictor is a trained product model. yolo.Model implements it.
type Predictor interface {
	Predict(ctx context.Context, img image.Image) ([]yolo.Prediction, error)
}

// Config configures an Adapter.
type Config struct {
	// Floor is the minimum confidence for a prediction to count.
	Floor float64
	// MinCropSize skips crops narrower or shorter than this many pixels.
	MinCropSize int
}

// DefaultConfig returns the standard floor and minimum crop size.
func DefaultConfig() Config {
	return Config{Floor: DefaultConfidenceFloor, MinCropSize: DefaultMinCropSize}
}

// Adapter turns raw model predictions into a single best product per crop.
type Adapter struct {
	model Predictor
	cfg   Config
}

// NewAdapter wraps model.
func NewAdapter(model Predictor, cfg Config) (*Adapter, error) {
	if model == nil {
		return nil, errors.New("classifier: nil model")
	}
	if cfg.Floor < 0 || cfg.Floor > 1 {
		return nil, fmt.Errorf("classifier: confidence floor %.2f out of range [0, 1]", cfg.Floor)
	}
	if cfg.MinCropSize < 0 {
		return nil, fmt.Errorf("classifier: negative min crop size %d", cfg.MinCropSize)
	}
	return &Adapter{model: model, cfg: cfg}, nil
}

// Config returns the adapter configuration.
func (a *Adapter) Config() Config { return a.cfg }

// Classify implements Classifier. Crops below MinCropSize in either
// dimension are unclassified without running the model.
func (a *Adapter) Classify(ctx context.Context, crop image.Image) (Prediction, error) {
	b := crop.Bounds()
	if b.Dx() < a.cfg.MinCropSize || b.Dy() < a.cfg.MinCropSize {
		return Unclassified(), nil
	}
	preds, err := a.model.Predict(ctx, crop)
	if err != nil {
		return Prediction{}, fmt.Errorf("classify: %w", err)
	}
	return Best(preds, a.cfg.Floor), nil
}

// Best returns the highest scoring prediction at or above floor. Ties keep
// the first prediction encountered.
func Best(preds []yolo.Prediction, floor float64) Prediction {
	best := -1
	for i, p := range preds {
		if p.Score < floor {
			continue
		}
		if best < 0 || p.Score > preds[best].Score {
			best = i
		}
	}
	if best < 0 {
		return Unclassified()
	}
	return Prediction{Code: preds[best].Label, Confidence: preds[best].Score, Classified: true}
}
