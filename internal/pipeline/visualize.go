package pipeline

import (
	"image"
	"image/color"
	"image/draw"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/MeKo-Tech/omnishelf/internal/detection"
	"github.com/MeKo-Tech/omnishelf/internal/utils"
)

// Overlay colours per verification status.
var (
	ColorUnverified   = color.RGBA{R: 255, G: 200, A: 255}
	ColorConfirmed    = color.RGBA{G: 200, A: 255}
	ColorCorrected    = color.RGBA{R: 230, G: 60, B: 200, A: 255}
	ColorUnclassified = color.RGBA{R: 128, G: 128, B: 128, A: 255}
)

func overlayColor(d detection.Detection) color.Color {
	if !d.Classified() {
		return ColorUnclassified
	}
	switch d.VerificationStatus {
	case detection.StatusConfirmed:
		return ColorConfirmed
	case detection.StatusCorrected:
		return ColorCorrected
	default:
		return ColorUnverified
	}
}

// RenderOverlay draws detection boxes and labels over a copy of img.
func RenderOverlay(img image.Image, dets []detection.Detection) *image.RGBA {
	if img == nil {
		return nil
	}
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)

	for _, d := range dets {
		rect := d.Region.Box.ToRect(dst.Bounds())
		if rect.Empty() {
			continue
		}
		col := overlayColor(d)
		utils.DrawRect(dst, rect, col, 2)
		drawLabel(dst, rect.Min, d.DisplayName, col)
	}
	return dst
}

// drawLabel writes text on a filled strip above pt, or inside the box when
// there is no room above.
func drawLabel(dst *image.RGBA, pt image.Point, text string, bg color.Color) {
	if text == "" {
		return
	}
	face := basicfont.Face7x13
	w := font.MeasureString(face, text).Ceil() + 4
	h := face.Metrics().Height.Ceil() + 2
	top := pt.Y - h
	if top < 0 {
		top = pt.Y
	}
	strip := image.Rect(pt.X, top, pt.X+w, top+h).Intersect(dst.Bounds())
	draw.Draw(dst, strip, image.NewUniform(bg), image.Point{}, draw.Src)
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(color.Black),
		Face: face,
		Dot:  fixed.P(pt.X+2, top+face.Metrics().Ascent.Ceil()+1),
	}
	d.DrawString(text)
}
