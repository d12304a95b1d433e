//go:build gocv

package proposer

import (
	"context"
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

// GoCVEdgeBackend runs the edge pipeline through OpenCV.
type GoCVEdgeBackend struct{}

func newDefaultEdgeBackend() EdgeBackend { return GoCVEdgeBackend{} }

// Name implements EdgeBackend.
func (GoCVEdgeBackend) Name() string { return "opencv" }

// ContourRects implements EdgeBackend.
func (GoCVEdgeBackend) ContourRects(ctx context.Context, img image.Image, cfg EdgeConfig) ([]image.Rectangle, error) {
	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, fmt.Errorf("image to mat: %w", err)
	}
	defer mat.Close()
	if mat.Empty() {
		return nil, nil
	}

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(mat, &gray, gocv.ColorRGBToGray)

	smooth := gocv.NewMat()
	defer smooth.Close()
	gocv.BilateralFilter(gray, &smooth, cfg.BilateralDiameter, cfg.SigmaColor, cfg.SigmaSpace)

	edges := gocv.NewMat()
	defer edges.Close()
	gocv.Canny(smooth, &edges, float32(cfg.CannyLow), float32(cfg.CannyHigh))

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Pt(cfg.DilateKernel, cfg.DilateKernel))
	defer kernel.Close()
	for range cfg.DilateIterations {
		if err := gocv.Dilate(edges, &edges, kernel); err != nil {
			return nil, fmt.Errorf("dilate: %w", err)
		}
	}

	contours := gocv.FindContours(edges, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	origin := img.Bounds().Min
	rects := make([]image.Rectangle, 0, contours.Size())
	for i := 0; i < contours.Size(); i++ {
		rects = append(rects, gocv.BoundingRect(contours.At(i)).Add(origin))
	}
	return rects, nil
}
