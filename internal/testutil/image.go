package testutil

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// ImageSize represents common image dimensions.
type ImageSize struct {
	Width  int
	Height int
}

var (
	// Common test image sizes.
	SmallSize  = ImageSize{320, 240}
	MediumSize = ImageSize{640, 480}
)

// Product is one packaged item drawn on a synthetic shelf.
type Product struct {
	Rect  image.Rectangle
	Color color.Color
	Label string
}

// ShelfConfig describes a synthetic shelf photograph.
type ShelfConfig struct {
	Size       ImageSize
	Background color.Color
	// ShelfLines are y coordinates of horizontal shelf edges.
	ShelfLines []int
	Products   []Product
}

// DefaultShelfConfig returns a small shelf with three well separated products.
func DefaultShelfConfig() ShelfConfig {
	return ShelfConfig{
		Size:       MediumSize,
		Background: color.White,
		ShelfLines: []int{300},
		Products: []Product{
			{Rect: image.Rect(60, 120, 160, 280), Color: color.RGBA{200, 30, 30, 255}, Label: "COLA"},
			{Rect: image.Rect(240, 100, 360, 280), Color: color.RGBA{30, 120, 200, 255}, Label: "CHIPS"},
			{Rect: image.Rect(440, 140, 530, 280), Color: color.RGBA{40, 160, 60, 255}, Label: "PASTA"},
		},
	}
}

// GenerateShelfImage draws products as filled rectangles with a text label.
func GenerateShelfImage(cfg ShelfConfig) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, cfg.Size.Width, cfg.Size.Height))
	bg := cfg.Background
	if bg == nil {
		bg = color.White
	}
	draw.Draw(img, img.Bounds(), &image.Uniform{bg}, image.Point{}, draw.Src)

	for _, y := range cfg.ShelfLines {
		line := image.Rect(0, y, cfg.Size.Width, y+4)
		draw.Draw(img, line, &image.Uniform{color.Gray{Y: 90}}, image.Point{}, draw.Src)
	}

	for _, p := range cfg.Products {
		draw.Draw(img, p.Rect, &image.Uniform{p.Color}, image.Point{}, draw.Src)
		if p.Label == "" {
			continue
		}
		drawer := &font.Drawer{
			Dst:  img,
			Src:  &image.Uniform{color.White},
			Face: basicfont.Face7x13,
		}
		textWidth := font.MeasureString(basicfont.Face7x13, p.Label).Ceil()
		x := p.Rect.Min.X + (p.Rect.Dx()-textWidth)/2
		y := p.Rect.Min.Y + p.Rect.Dy()/2
		drawer.Dot = fixed.P(x, y)
		drawer.DrawString(p.Label)
	}
	return img
}

// CreateTestImage creates a simple test image with the specified dimensions and color.
func CreateTestImage(width, height int, backgroundColor color.Color) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), &image.Uniform{backgroundColor}, image.Point{}, draw.Src)
	return img
}

// EncodeImage encodes img as PNG, or JPEG when format is "jpeg"/"jpg".
func EncodeImage(t *testing.T, img image.Image, format string) []byte {
	t.Helper()

	var buf bytes.Buffer
	switch strings.ToLower(format) {
	case "jpg", "jpeg":
		require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}))
	default:
		require.NoError(t, png.Encode(&buf, img))
	}
	return buf.Bytes()
}

// SaveImage writes img to path, picking the encoder from the extension.
func SaveImage(t *testing.T, img image.Image, path string) {
	t.Helper()

	require.NoError(t, EnsureDir(filepath.Dir(path)))
	format := strings.TrimPrefix(filepath.Ext(path), ".")
	require.NoError(t, os.WriteFile(path, EncodeImage(t, img, format), 0o600))
}

// WriteShelfImage saves the default synthetic shelf into a temp dir and returns its path.
func WriteShelfImage(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "shelf.png")
	SaveImage(t, GenerateShelfImage(DefaultShelfConfig()), path)
	return path
}
