package utils

import (
	"image"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewBoxOrdersCoordinates(t *testing.T) {
	b := NewBox(10, 20, 0, 5)
	assert.Equal(t, Box{MinX: 0, MinY: 5, MaxX: 10, MaxY: 20}, b)
	assert.InDelta(t, 10.0, b.Width(), 1e-9)
	assert.InDelta(t, 15.0, b.Height(), 1e-9)
	assert.InDelta(t, 150.0, b.Area(), 1e-9)
}

func TestBoxAspectRatio(t *testing.T) {
	assert.InDelta(t, 4.0, NewBox(0, 0, 40, 10).AspectRatio(), 1e-9)
	assert.InDelta(t, 4.0, NewBox(0, 0, 10, 40).AspectRatio(), 1e-9)
	assert.True(t, math.IsInf(NewBox(0, 0, 0, 10).AspectRatio(), 1))
}

func TestBoxIntersect(t *testing.T) {
	a := NewBox(0, 0, 10, 10)
	b := NewBox(5, 5, 15, 15)
	assert.Equal(t, NewBox(5, 5, 10, 10), a.Intersect(b))

	c := NewBox(20, 20, 30, 30)
	assert.Zero(t, a.Intersect(c).Area())
}

func TestBoxPadClamp(t *testing.T) {
	b := NewBox(5, 5, 95, 45).Pad(10).Clamp(100, 50)
	assert.Equal(t, Box{MinX: 0, MinY: 0, MaxX: 100, MaxY: 50}, b)
}

func TestBoxContains(t *testing.T) {
	outer := NewBox(0, 0, 100, 100)
	assert.True(t, outer.Contains(NewBox(10, 10, 20, 20)))
	assert.False(t, outer.Contains(NewBox(90, 90, 110, 110)))
}

func TestBoxToRect(t *testing.T) {
	bounds := image.Rect(0, 0, 50, 50)
	r := NewBox(-5.5, 2.2, 60.1, 10.8).ToRect(bounds)
	assert.Equal(t, image.Rect(0, 2, 50, 11), r)
	assert.Equal(t, NewBox(0, 2, 50, 11), BoxFromRect(r))
}
