package utils

import (
	"image"
	"math"
)

// Box represents an axis-aligned bounding box in float coordinates.
type Box struct {
	MinX float64 `json:"x1"`
	MinY float64 `json:"y1"`
	MaxX float64 `json:"x2"`
	MaxY float64 `json:"y2"`
}

// NewBox constructs a Box from min/max coordinates ensuring ordering.
func NewBox(x1, y1, x2, y2 float64) Box {
	if x1 > x2 {
		x1, x2 = x2, x1
	}
	if y1 > y2 {
		y1, y2 = y2, y1
	}
	return Box{MinX: x1, MinY: y1, MaxX: x2, MaxY: y2}
}

// BoxFromRect converts an integer rectangle into a Box.
func BoxFromRect(r image.Rectangle) Box {
	return NewBox(float64(r.Min.X), float64(r.Min.Y), float64(r.Max.X), float64(r.Max.Y))
}

// Width returns the box width.
func (b Box) Width() float64 { return b.MaxX - b.MinX }

// Height returns the box height.
func (b Box) Height() float64 { return b.MaxY - b.MinY }

// Area returns the box area, zero for degenerate boxes.
func (b Box) Area() float64 {
	w, h := b.Width(), b.Height()
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// AspectRatio returns max(w/h, h/w). Degenerate boxes report +Inf.
func (b Box) AspectRatio() float64 {
	w, h := b.Width(), b.Height()
	if w <= 0 || h <= 0 {
		return math.Inf(1)
	}
	return math.Max(w/h, h/w)
}

// Intersect returns the overlapping part of two boxes. The result is
// degenerate (zero area) when they do not overlap.
func (b Box) Intersect(o Box) Box {
	r := Box{
		MinX: math.Max(b.MinX, o.MinX),
		MinY: math.Max(b.MinY, o.MinY),
		MaxX: math.Min(b.MaxX, o.MaxX),
		MaxY: math.Min(b.MaxY, o.MaxY),
	}
	if r.MaxX < r.MinX {
		r.MaxX = r.MinX
	}
	if r.MaxY < r.MinY {
		r.MaxY = r.MinY
	}
	return r
}

// Contains reports whether o lies fully inside b.
func (b Box) Contains(o Box) bool {
	return o.MinX >= b.MinX && o.MinY >= b.MinY && o.MaxX <= b.MaxX && o.MaxY <= b.MaxY
}

// Pad grows the box by margin on every side.
func (b Box) Pad(margin float64) Box {
	return Box{MinX: b.MinX - margin, MinY: b.MinY - margin, MaxX: b.MaxX + margin, MaxY: b.MaxY + margin}
}

// Clamp restricts the box to [0,width]x[0,height].
func (b Box) Clamp(width, height int) Box {
	w, h := float64(width), float64(height)
	return Box{
		MinX: clampFloat(b.MinX, 0, w),
		MinY: clampFloat(b.MinY, 0, h),
		MaxX: clampFloat(b.MaxX, 0, w),
		MaxY: clampFloat(b.MaxY, 0, h),
	}
}

// Scale multiplies all coordinates by sx, sy.
func (b Box) Scale(sx, sy float64) Box {
	return NewBox(b.MinX*sx, b.MinY*sy, b.MaxX*sx, b.MaxY*sy)
}

// ToRect converts a Box to an image.Rectangle, clamped to image bounds.
func (b Box) ToRect(bounds image.Rectangle) image.Rectangle {
	x1 := clampInt(int(math.Floor(b.MinX)), bounds.Min.X, bounds.Max.X)
	y1 := clampInt(int(math.Floor(b.MinY)), bounds.Min.Y, bounds.Max.Y)
	x2 := clampInt(int(math.Ceil(b.MaxX)), bounds.Min.X, bounds.Max.X)
	y2 := clampInt(int(math.Ceil(b.MaxY)), bounds.Min.Y, bounds.Max.Y)
	if x2 < x1 {
		x2 = x1
	}
	if y2 < y1 {
		y2 = y1
	}
	return image.Rect(x1, y1, x2, y2)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
