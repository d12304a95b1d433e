package proposer

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strconv"
	"strings"

	"github.com/MeKo-Tech/omnishelf/internal/detection"
	"github.com/MeKo-Tech/omnishelf/internal/utils"
)

// Size is a window width and height in pixels.
type Size struct {
	W int
	H int
}

func (s Size) String() string { return fmt.Sprintf("%dx%d", s.W, s.H) }

// ParseSize parses "WxH".
func ParseSize(s string) (Size, error) {
	parts := strings.Split(strings.ToLower(strings.TrimSpace(s)), "x")
	if len(parts) != 2 {
		return Size{}, fmt.Errorf("invalid window size %q (want WxH)", s)
	}
	w, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return Size{}, fmt.Errorf("invalid window width in %q: %w", s, err)
	}
	h, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return Size{}, fmt.Errorf("invalid window height in %q: %w", s, err)
	}
	if w <= 0 || h <= 0 {
		return Size{}, fmt.Errorf("window size %q must be positive", s)
	}
	return Size{W: w, H: h}, nil
}

// ParseSizes parses a list of "WxH" strings.
func ParseSizes(list []string) ([]Size, error) {
	out := make([]Size, 0, len(list))
	for _, s := range list {
		sz, err := ParseSize(s)
		if err != nil {
			return nil, err
		}
		out = append(out, sz)
	}
	return out, nil
}

// DefaultWindowSizes mirror typical packaged product proportions.
func DefaultWindowSizes() []Size {
	return []Size{
		{W: 200, H: 300},
		{W: 250, H: 250},
		{W: 300, H: 200},
		{W: 150, H: 200},
		{W: 350, H: 350},
	}
}

// SlidingWindowConfig configures the sliding window strategy.
type SlidingWindowConfig struct {
	Sizes []Size
	// StrideRatio is the step as a fraction of the window size.
	StrideRatio float64
}

// DefaultSlidingWindowConfig returns the default window set with half-window stride.
func DefaultSlidingWindowConfig() SlidingWindowConfig {
	return SlidingWindowConfig{Sizes: DefaultWindowSizes(), StrideRatio: 0.5}
}

// SlidingWindow exhaustively tiles the image with fixed-size windows.
type SlidingWindow struct {
	cfg SlidingWindowConfig
}

// NewSlidingWindow validates cfg and returns the proposer.
func NewSlidingWindow(cfg SlidingWindowConfig) (*SlidingWindow, error) {
	if len(cfg.Sizes) == 0 {
		return nil, errors.New("sliding window: no window sizes configured")
	}
	if cfg.StrideRatio <= 0 || cfg.StrideRatio > 1 {
		return nil, fmt.Errorf("sliding window: invalid stride ratio %.2f (must be in (0, 1])", cfg.StrideRatio)
	}
	for _, s := range cfg.Sizes {
		if s.W <= 0 || s.H <= 0 {
			return nil, fmt.Errorf("sliding window: invalid size %s", s)
		}
	}
	return &SlidingWindow{cfg: cfg}, nil
}

// Name implements Proposer.
func (s *SlidingWindow) Name() string { return StrategySlidingWindow }

// Propose emits one region per window position per size. Windows larger than
// the image are clipped to it.
func (s *SlidingWindow) Propose(ctx context.Context, img image.Image) ([]detection.Region, error) {
	b := img.Bounds()
	imgW, imgH := b.Dx(), b.Dy()
	if imgW <= 0 || imgH <= 0 {
		return nil, nil
	}

	var regions []detection.Region
	for _, size := range s.cfg.Sizes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for _, y := range positions(imgH, size.H, s.cfg.StrideRatio) {
			for _, x := range positions(imgW, size.W, s.cfg.StrideRatio) {
				box := utils.NewBox(float64(x), float64(y), float64(x+size.W), float64(y+size.H)).Clamp(imgW, imgH)
				regions = append(regions, detection.Region{
					ID:     len(regions),
					Box:    box,
					Method: detection.MethodSlidingWindow,
				})
			}
		}
	}
	return regions, nil
}

// positions returns window start offsets along one axis of length n.
func positions(n, win int, ratio float64) []int {
	if win >= n {
		return []int{0}
	}
	stride := int(float64(win) * ratio)
	if stride < 1 {
		stride = 1
	}
	out := make([]int, 0, (n-win)/stride+1)
	for p := 0; p <= n-win; p += stride {
		out = append(out, p)
	}
	return out
}
