package proposer

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"

	"github.com/MeKo-Tech/omnishelf/internal/detection"
	"github.com/MeKo-Tech/omnishelf/internal/utils"
)

// EdgeConfig configures the edge pipeline feeding contour extraction.
type EdgeConfig struct {
	// Bilateral filter diameter and sigmas.
	BilateralDiameter int
	SigmaColor        float64
	SigmaSpace        float64
	// Hysteresis thresholds on the L1 Sobel gradient magnitude.
	CannyLow  float64
	CannyHigh float64
	// Square dilation kernel side and repeat count.
	DilateKernel     int
	DilateIterations int
}

// DefaultEdgeConfig returns the standard edge pipeline parameters.
func DefaultEdgeConfig() EdgeConfig {
	return EdgeConfig{
		BilateralDiameter: 9,
		SigmaColor:        75,
		SigmaSpace:        75,
		CannyLow:          30,
		CannyHigh:         100,
		DilateKernel:      5,
		DilateIterations:  2,
	}
}

// EdgeBackend extracts bounding rectangles of external contours.
type EdgeBackend interface {
	Name() string
	ContourRects(ctx context.Context, img image.Image, cfg EdgeConfig) ([]image.Rectangle, error)
}

// GridConfig configures the fixed grid that complements contour proposals.
type GridConfig struct {
	Enabled bool
	Size    int
	Overlap float64
	// Scales multiply Size to add smaller and larger grids.
	Scales []float64
}

// ContourGridConfig configures the contour+grid strategy.
type ContourGridConfig struct {
	MinSide   int
	MaxSide   int
	Padding   int
	MaxAspect float64
	Edge      EdgeConfig
	Grid      GridConfig
}

// DefaultContourGridConfig returns the standard contour and grid parameters.
func DefaultContourGridConfig() ContourGridConfig {
	return ContourGridConfig{
		MinSide:   50,
		MaxSide:   400,
		Padding:   10,
		MaxAspect: 4,
		Edge:      DefaultEdgeConfig(),
		Grid: GridConfig{
			Enabled: true,
			Size:    150,
			Overlap: 0.3,
			Scales:  []float64{0.7, 1.3},
		},
	}
}

// Validate checks the configuration.
func (c ContourGridConfig) Validate() error {
	if c.MinSide <= 0 || c.MaxSide < c.MinSide {
		return fmt.Errorf("contour: invalid size bounds [%d, %d]", c.MinSide, c.MaxSide)
	}
	if c.Padding < 0 {
		return fmt.Errorf("contour: negative padding %d", c.Padding)
	}
	if c.MaxAspect < 1 {
		return fmt.Errorf("contour: max aspect %.2f must be >= 1", c.MaxAspect)
	}
	if c.Grid.Enabled {
		if c.Grid.Size <= 0 {
			return fmt.Errorf("contour: invalid grid size %d", c.Grid.Size)
		}
		if c.Grid.Overlap < 0 || c.Grid.Overlap >= 1 {
			return fmt.Errorf("contour: invalid grid overlap %.2f (must be in [0, 1))", c.Grid.Overlap)
		}
		for _, s := range c.Grid.Scales {
			if s <= 0 {
				return fmt.Errorf("contour: invalid grid scale %.2f", s)
			}
		}
	}
	return nil
}

// ContourGrid proposes regions around edge-bounded blobs plus a fixed grid.
type ContourGrid struct {
	cfg     ContourGridConfig
	backend EdgeBackend
}

// NewContourGrid returns the strategy using backend, or the build's default
// edge backend when backend is nil.
func NewContourGrid(cfg ContourGridConfig, backend EdgeBackend) (*ContourGrid, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if backend == nil {
		backend = newDefaultEdgeBackend()
	}
	if backend == nil {
		return nil, errors.New("contour: no edge backend")
	}
	return &ContourGrid{cfg: cfg, backend: backend}, nil
}

// Name implements Proposer.
func (c *ContourGrid) Name() string { return StrategyContourGrid }

// Backend returns the edge backend name.
func (c *ContourGrid) Backend() string { return c.backend.Name() }

// Propose implements Proposer. No emitted region has an aspect ratio above
// MaxAspect.
func (c *ContourGrid) Propose(ctx context.Context, img image.Image) ([]detection.Region, error) {
	b := img.Bounds()
	imgW, imgH := b.Dx(), b.Dy()
	if imgW <= 0 || imgH <= 0 {
		return nil, nil
	}

	rects, err := c.backend.ContourRects(ctx, img, c.cfg.Edge)
	if err != nil {
		return nil, fmt.Errorf("edge extraction (%s): %w", c.backend.Name(), err)
	}

	var regions []detection.Region
	emit := func(box utils.Box, method string) {
		if box.AspectRatio() > c.cfg.MaxAspect {
			return
		}
		regions = append(regions, detection.Region{ID: len(regions), Box: box, Method: method})
	}

	for _, r := range rects {
		w, h := r.Dx(), r.Dy()
		if w < c.cfg.MinSide || h < c.cfg.MinSide || w > c.cfg.MaxSide || h > c.cfg.MaxSide {
			continue
		}
		if utils.BoxFromRect(r).AspectRatio() > c.cfg.MaxAspect {
			continue
		}
		box := utils.BoxFromRect(r.Sub(b.Min)).Pad(float64(c.cfg.Padding)).Clamp(imgW, imgH)
		emit(box, detection.MethodContour)
	}

	if c.cfg.Grid.Enabled {
		for _, box := range GridBoxes(imgW, imgH, c.cfg.Grid) {
			emit(box, detection.MethodGrid)
		}
	}
	return regions, nil
}

// GridBoxes tiles the image with square windows of every configured size.
// Only windows fully inside the image are produced.
func GridBoxes(imgW, imgH int, cfg GridConfig) []utils.Box {
	sizes := []int{cfg.Size}
	for _, s := range cfg.Scales {
		sizes = append(sizes, int(float64(cfg.Size)*s))
	}

	var boxes []utils.Box
	for _, size := range sizes {
		if size <= 0 {
			continue
		}
		stride := int(math.Max(1, float64(size)*(1-cfg.Overlap)))
		for y := 0; y+size <= imgH; y += stride {
			for x := 0; x+size <= imgW; x += stride {
				boxes = append(boxes, utils.NewBox(float64(x), float64(y), float64(x+size), float64(y+size)))
			}
		}
	}
	return boxes
}
