package proposer

import (
	"context"
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/MeKo-Tech/omnishelf/internal/detection"
	"github.com/MeKo-Tech/omnishelf/internal/testutil"
	"github.com/MeKo-Tech/omnishelf/internal/utils"
	"github.com/MeKo-Tech/omnishelf/internal/yolo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func blank(w, h int) image.Image {
	return testutil.CreateTestImage(w, h, color.White)
}

func TestParseSize(t *testing.T) {
	s, err := ParseSize("200x300")
	require.NoError(t, err)
	assert.Equal(t, Size{W: 200, H: 300}, s)
	assert.Equal(t, "200x300", s.String())

	s, err = ParseSize(" 50X60 ")
	require.NoError(t, err)
	assert.Equal(t, Size{W: 50, H: 60}, s)

	for _, bad := range []string{"", "200", "ax3", "0x10", "10x-1", "1x2x3"} {
		_, err := ParseSize(bad)
		assert.Error(t, err, bad)
	}

	sizes, err := ParseSizes([]string{"10x20", "30x40"})
	require.NoError(t, err)
	assert.Len(t, sizes, 2)
	_, err = ParseSizes([]string{"10x20", "nope"})
	assert.Error(t, err)
}

func TestSlidingWindowPositions(t *testing.T) {
	sw, err := NewSlidingWindow(SlidingWindowConfig{Sizes: []Size{{W: 100, H: 100}}, StrideRatio: 0.5})
	require.NoError(t, err)

	regions, err := sw.Propose(context.Background(), blank(300, 200))
	require.NoError(t, err)

	// x: 0,50,100,150,200 ; y: 0,50,100
	require.Len(t, regions, 15)
	for i, r := range regions {
		assert.Equal(t, i, r.ID)
		assert.Equal(t, detection.MethodSlidingWindow, r.Method)
		assert.InDelta(t, 100, r.Box.Width(), 1e-9)
		assert.InDelta(t, 100, r.Box.Height(), 1e-9)
		assert.LessOrEqual(t, r.Box.MaxX, 300.0)
		assert.LessOrEqual(t, r.Box.MaxY, 200.0)
	}
	assert.Equal(t, utils.NewBox(200, 100, 300, 200), regions[len(regions)-1].Box)
}

func TestSlidingWindowClipsOversizedWindows(t *testing.T) {
	sw, err := NewSlidingWindow(SlidingWindowConfig{Sizes: []Size{{W: 500, H: 80}}, StrideRatio: 0.5})
	require.NoError(t, err)

	regions, err := sw.Propose(context.Background(), blank(200, 100))
	require.NoError(t, err)

	// One x position clipped to the image width; stride 40 leaves only y=0.
	require.Len(t, regions, 1)
	assert.Equal(t, utils.NewBox(0, 0, 200, 80), regions[0].Box)
}

func TestNewSlidingWindowValidation(t *testing.T) {
	_, err := NewSlidingWindow(SlidingWindowConfig{StrideRatio: 0.5})
	assert.Error(t, err)
	_, err = NewSlidingWindow(SlidingWindowConfig{Sizes: DefaultWindowSizes(), StrideRatio: 0})
	assert.Error(t, err)
	_, err = NewSlidingWindow(SlidingWindowConfig{Sizes: DefaultWindowSizes(), StrideRatio: 1.5})
	assert.Error(t, err)
	_, err = NewSlidingWindow(SlidingWindowConfig{Sizes: []Size{{W: 0, H: 10}}, StrideRatio: 0.5})
	assert.Error(t, err)
}

func TestGridBoxes(t *testing.T) {
	boxes := GridBoxes(300, 150, GridConfig{Enabled: true, Size: 150, Overlap: 0.3})
	// stride 105: x 0,105 ; y 0
	require.Len(t, boxes, 2)
	assert.Equal(t, utils.NewBox(105, 0, 255, 150), boxes[1])

	scaled := GridBoxes(300, 150, GridConfig{Enabled: true, Size: 150, Overlap: 0.3, Scales: []float64{2}})
	assert.Len(t, scaled, 2, "windows larger than the image are not produced")

	for _, b := range GridBoxes(640, 480, DefaultContourGridConfig().Grid) {
		assert.GreaterOrEqual(t, b.MinX, 0.0)
		assert.LessOrEqual(t, b.MaxX, 640.0)
		assert.LessOrEqual(t, b.MaxY, 480.0)
		assert.InDelta(t, b.Width(), b.Height(), 1e-9)
	}
}

func TestContourGridConfigValidate(t *testing.T) {
	require.NoError(t, DefaultContourGridConfig().Validate())

	mutate := []func(*ContourGridConfig){
		func(c *ContourGridConfig) { c.MinSide = 0 },
		func(c *ContourGridConfig) { c.MaxSide = 10 },
		func(c *ContourGridConfig) { c.Padding = -1 },
		func(c *ContourGridConfig) { c.MaxAspect = 0.5 },
		func(c *ContourGridConfig) { c.Grid.Size = 0 },
		func(c *ContourGridConfig) { c.Grid.Overlap = 1 },
		func(c *ContourGridConfig) { c.Grid.Scales = []float64{-1} },
	}
	for i, m := range mutate {
		cfg := DefaultContourGridConfig()
		m(&cfg)
		assert.Error(t, cfg.Validate(), "case %d", i)
	}
}

type stubBackend struct {
	rects []image.Rectangle
	err   error
}

func (s stubBackend) Name() string { return "stub" }

func (s stubBackend) ContourRects(context.Context, image.Image, EdgeConfig) ([]image.Rectangle, error) {
	return s.rects, s.err
}

func TestContourGridFilters(t *testing.T) {
	cfg := DefaultContourGridConfig()
	cfg.Grid.Enabled = false
	backend := stubBackend{rects: []image.Rectangle{
		image.Rect(100, 100, 200, 250), // kept
		image.Rect(0, 0, 30, 30),       // too small
		image.Rect(0, 0, 450, 100),     // too wide
		image.Rect(10, 10, 310, 70),    // aspect 5
		image.Rect(580, 400, 640, 480), // kept, padding clamped at the border
	}}
	cg, err := NewContourGrid(cfg, backend)
	require.NoError(t, err)
	assert.Equal(t, "stub", cg.Backend())

	regions, err := cg.Propose(context.Background(), blank(640, 480))
	require.NoError(t, err)
	require.Len(t, regions, 2)

	assert.Equal(t, utils.NewBox(90, 90, 210, 260), regions[0].Box)
	assert.Equal(t, utils.NewBox(570, 390, 640, 480), regions[1].Box)
	for _, r := range regions {
		assert.Equal(t, detection.MethodContour, r.Method)
	}
}

func TestContourGridBackendError(t *testing.T) {
	cg, err := NewContourGrid(DefaultContourGridConfig(), stubBackend{err: errors.New("boom")})
	require.NoError(t, err)
	_, err = cg.Propose(context.Background(), blank(100, 100))
	assert.ErrorContains(t, err, "boom")
}

func TestContourGridTagsGridRegions(t *testing.T) {
	cg, err := NewContourGrid(DefaultContourGridConfig(), stubBackend{})
	require.NoError(t, err)

	regions, err := cg.Propose(context.Background(), blank(320, 240))
	require.NoError(t, err)
	require.NotEmpty(t, regions)
	for _, r := range regions {
		assert.Equal(t, detection.MethodGrid, r.Method)
	}
}

func TestPureEdgeBackendFindsProducts(t *testing.T) {
	shelf := testutil.DefaultShelfConfig()
	shelf.ShelfLines = nil
	img := testutil.GenerateShelfImage(shelf)

	cfg := DefaultContourGridConfig()
	cfg.Grid.Enabled = false
	cg, err := NewContourGrid(cfg, PureEdgeBackend{})
	require.NoError(t, err)

	regions, err := cg.Propose(context.Background(), img)
	require.NoError(t, err)

	for _, p := range shelf.Products {
		want := utils.BoxFromRect(p.Rect)
		found := false
		for _, r := range regions {
			if r.Box.Contains(want) && detection.IoU(r.Box, want) > 0.5 {
				found = true
				break
			}
		}
		assert.True(t, found, "no contour region around %v", p.Rect)
	}
}

func TestPureEdgeBackendBlankImage(t *testing.T) {
	rects, err := PureEdgeBackend{}.ContourRects(context.Background(), blank(120, 80), DefaultEdgeConfig())
	require.NoError(t, err)
	assert.Empty(t, rects)
}

func TestExternalRectsDropsNested(t *testing.T) {
	outer := image.Rect(0, 0, 100, 100)
	inner := image.Rect(10, 10, 50, 50)
	other := image.Rect(120, 0, 150, 40)
	assert.Equal(t, []image.Rectangle{outer, other}, externalRects([]image.Rectangle{outer, inner, other}))
}

func TestMergeKeepsLarger(t *testing.T) {
	small := detection.Region{ID: 0, Box: utils.NewBox(0, 0, 100, 100), Method: detection.MethodSlidingWindow}
	large := detection.Region{ID: 1, Box: utils.NewBox(0, 0, 100, 110), Method: detection.MethodContour}
	apart := detection.Region{ID: 2, Box: utils.NewBox(300, 300, 400, 400), Method: detection.MethodGrid}

	merged := Merge([]detection.Region{small, large, apart}, DefaultMergeThreshold)
	require.Len(t, merged, 2)
	assert.Equal(t, detection.MethodContour, merged[0].Method)
	assert.Equal(t, detection.MethodGrid, merged[1].Method)

	// Below the threshold both survive.
	half := detection.Region{Box: utils.NewBox(50, 0, 150, 100)}
	assert.Len(t, Merge([]detection.Region{small, half}, DefaultMergeThreshold), 2)
}

type fixedProposer struct {
	name    string
	regions []detection.Region
	err     error
}

func (f fixedProposer) Name() string { return f.name }

func (f fixedProposer) Propose(context.Context, image.Image) ([]detection.Region, error) {
	out := make([]detection.Region, len(f.regions))
	copy(out, f.regions)
	return out, f.err
}

func TestMultiMergesAndRenumbers(t *testing.T) {
	a := fixedProposer{name: "a", regions: []detection.Region{
		{ID: 7, Box: utils.NewBox(0, 0, 100, 100), Method: detection.MethodSlidingWindow},
	}}
	b := fixedProposer{name: "b", regions: []detection.Region{
		{ID: 3, Box: utils.NewBox(1, 1, 101, 101), Method: detection.MethodContour},
		{ID: 4, Box: utils.NewBox(200, 200, 260, 260), Method: detection.MethodGrid},
	}}
	m := NewMulti(DefaultMergeThreshold, a, b)
	assert.Equal(t, "a+b", m.Name())

	regions, err := m.Propose(context.Background(), blank(300, 300))
	require.NoError(t, err)
	require.Len(t, regions, 2)
	for i, r := range regions {
		assert.Equal(t, i, r.ID)
	}

	failing := NewMulti(DefaultMergeThreshold, a, fixedProposer{name: "bad", err: errors.New("broken")})
	_, err = failing.Propose(context.Background(), blank(300, 300))
	assert.ErrorContains(t, err, "bad proposer")
}

func TestMultiSingleProposerIsNotMerged(t *testing.T) {
	dup := fixedProposer{name: "a", regions: []detection.Region{
		{Box: utils.NewBox(0, 0, 100, 100)},
		{Box: utils.NewBox(0, 0, 100, 100)},
	}}
	regions, err := NewMulti(DefaultMergeThreshold, dup).Propose(context.Background(), blank(200, 200))
	require.NoError(t, err)
	assert.Len(t, regions, 2)
}

type stubDetector struct {
	preds []yolo.Prediction
	err   error
}

func (s stubDetector) Predict(context.Context, image.Image) ([]yolo.Prediction, error) {
	return s.preds, s.err
}

func TestGenericDetectorFiltersAndPads(t *testing.T) {
	det := stubDetector{preds: []yolo.Prediction{
		{ClassID: 39, Score: 0.8, Box: utils.NewBox(100, 100, 150, 200)}, // bottle
		{ClassID: 0, Score: 0.9, Box: utils.NewBox(10, 10, 60, 60)},      // person
		{ClassID: 46, Score: 0.2, Box: utils.NewBox(200, 10, 260, 60)},   // below floor
		{ClassID: 67, Score: 0.5, Box: utils.NewBox(0, 0, 40, 40)},       // padded into the corner
	}}
	g, err := NewGenericDetector(det, DefaultGenericDetectorConfig())
	require.NoError(t, err)
	assert.Equal(t, StrategyGenericDetector, g.Name())

	regions, err := g.Propose(context.Background(), blank(300, 300))
	require.NoError(t, err)
	require.Len(t, regions, 2)

	assert.Equal(t, utils.NewBox(80, 80, 170, 220), regions[0].Box)
	assert.InDelta(t, 0.8, regions[0].Score, 1e-9)
	assert.Equal(t, detection.MethodGenericDetector, regions[0].Method)
	assert.Equal(t, utils.NewBox(0, 0, 60, 60), regions[1].Box)
	assert.Equal(t, 1, regions[1].ID)
}

func TestGenericDetectorErrors(t *testing.T) {
	_, err := NewGenericDetector(nil, DefaultGenericDetectorConfig())
	assert.Error(t, err)

	cfg := DefaultGenericDetectorConfig()
	cfg.ConfidenceFloor = 2
	_, err = NewGenericDetector(stubDetector{}, cfg)
	assert.Error(t, err)

	g, err := NewGenericDetector(stubDetector{err: errors.New("onnx failed")}, DefaultGenericDetectorConfig())
	require.NoError(t, err)
	_, err = g.Propose(context.Background(), blank(50, 50))
	assert.ErrorContains(t, err, "onnx failed")
}

func TestDefaultGenericAllowList(t *testing.T) {
	ids := DefaultGenericAllowList()
	assert.Len(t, ids, 25)
	assert.Contains(t, ids, 39)
	assert.Contains(t, ids, 55)
	assert.Contains(t, ids, 67)
	assert.Contains(t, ids, 79)
	assert.NotContains(t, ids, 56)
	assert.NotContains(t, ids, 0)
}
