package proposer

import (
	"context"
	"image"
	"math"

	"github.com/MeKo-Tech/omnishelf/internal/utils"
)

// PureEdgeBackend implements the edge pipeline without native dependencies.
type PureEdgeBackend struct{}

// Name implements EdgeBackend.
func (PureEdgeBackend) Name() string { return "pure-go" }

// ContourRects runs grayscale, bilateral smoothing, Canny edges and dilation,
// then returns the bounding rectangles of the outermost 8-connected blobs.
func (PureEdgeBackend) ContourRects(ctx context.Context, img image.Image, cfg EdgeConfig) ([]image.Rectangle, error) {
	gray, w, h := utils.Grayscale(img)
	if w == 0 || h == 0 {
		return nil, nil
	}
	smooth := bilateralFilter(gray, w, h, cfg.BilateralDiameter, cfg.SigmaColor, cfg.SigmaSpace)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	edges := canny(smooth, w, h, cfg.CannyLow, cfg.CannyHigh)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for range cfg.DilateIterations {
		edges = dilateMask(edges, w, h, cfg.DilateKernel)
	}
	rects := componentRects(edges, w, h)
	origin := img.Bounds().Min
	out := externalRects(rects)
	for i := range out {
		out[i] = out[i].Add(origin)
	}
	return out, nil
}

// bilateralFilter smooths gray while keeping strong intensity edges.
func bilateralFilter(gray []uint8, w, h, diameter int, sigmaColor, sigmaSpace float64) []float32 {
	out := make([]float32, w*h)
	radius := diameter / 2
	if radius < 1 || sigmaColor <= 0 || sigmaSpace <= 0 {
		for i, v := range gray {
			out[i] = float32(v)
		}
		return out
	}

	var colorWeight [256]float64
	cc := -0.5 / (sigmaColor * sigmaColor)
	for i := range colorWeight {
		colorWeight[i] = math.Exp(float64(i*i) * cc)
	}

	type tap struct {
		dx, dy int
		w      float64
	}
	sc := -0.5 / (sigmaSpace * sigmaSpace)
	taps := make([]tap, 0, (2*radius+1)*(2*radius+1))
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			r2 := float64(dx*dx + dy*dy)
			if r2 > float64(radius*radius) {
				continue
			}
			taps = append(taps, tap{dx: dx, dy: dy, w: math.Exp(r2 * sc)})
		}
	}

	for y := range h {
		for x := range w {
			center := int(gray[y*w+x])
			var sum, norm float64
			for _, t := range taps {
				nx := clampIndex(x+t.dx, w)
				ny := clampIndex(y+t.dy, h)
				v := int(gray[ny*w+nx])
				d := v - center
				if d < 0 {
					d = -d
				}
				wt := t.w * colorWeight[d]
				sum += wt * float64(v)
				norm += wt
			}
			out[y*w+x] = float32(sum / norm)
		}
	}
	return out
}

func clampIndex(v, n int) int {
	if v < 0 {
		return 0
	}
	if v >= n {
		return n - 1
	}
	return v
}

// canny returns an edge mask using 3x3 Sobel gradients, non-maximum
// suppression and hysteresis.
func canny(src []float32, w, h int, low, high float64) []bool {
	mag := make([]float64, w*h)
	dir := make([]uint8, w*h)
	at := func(x, y int) float64 { return float64(src[clampIndex(y, h)*w+clampIndex(x, w)]) }

	for y := range h {
		for x := range w {
			gx := at(x+1, y-1) + 2*at(x+1, y) + at(x+1, y+1) - at(x-1, y-1) - 2*at(x-1, y) - at(x-1, y+1)
			gy := at(x-1, y+1) + 2*at(x, y+1) + at(x+1, y+1) - at(x-1, y-1) - 2*at(x, y-1) - at(x+1, y-1)
			i := y*w + x
			mag[i] = math.Abs(gx) + math.Abs(gy)
			dir[i] = quantizeDirection(gx, gy)
		}
	}

	const (
		none = iota
		weak
		strong
	)
	state := make([]uint8, w*h)
	var stack []int
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			i := y*w + x
			m := mag[i]
			if m <= low {
				continue
			}
			var a, b float64
			switch dir[i] {
			case 0:
				a, b = mag[i-1], mag[i+1]
			case 1:
				a, b = mag[i-w+1], mag[i+w-1]
			case 2:
				a, b = mag[i-w], mag[i+w]
			default:
				a, b = mag[i-w-1], mag[i+w+1]
			}
			if m < a || m <= b {
				continue
			}
			if m > high {
				state[i] = strong
				stack = append(stack, i)
			} else {
				state[i] = weak
			}
		}
	}

	edges := make([]bool, w*h)
	for len(stack) > 0 {
		i := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if edges[i] {
			continue
		}
		edges[i] = true
		x, y := i%w, i/w
		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				nx, ny := x+dx, y+dy
				if nx < 0 || ny < 0 || nx >= w || ny >= h {
					continue
				}
				n := ny*w + nx
				if !edges[n] && state[n] == weak {
					stack = append(stack, n)
				}
			}
		}
	}
	return edges
}

// quantizeDirection maps a gradient to 0 (horizontal), 1 (45°), 2 (vertical)
// or 3 (135°).
func quantizeDirection(gx, gy float64) uint8 {
	angle := math.Atan2(gy, gx) * 180 / math.Pi
	if angle < 0 {
		angle += 180
	}
	switch {
	case angle < 22.5 || angle >= 157.5:
		return 0
	case angle < 67.5:
		return 1
	case angle < 112.5:
		return 2
	default:
		return 3
	}
}

// dilateMask applies a square max filter of side k, separably.
func dilateMask(mask []bool, w, h, k int) []bool {
	if k <= 1 {
		return mask
	}
	half := k / 2
	tmp := make([]bool, w*h)
	for y := range h {
		row := mask[y*w : (y+1)*w]
		for x := range w {
			for dx := -half; dx <= half; dx++ {
				nx := x + dx
				if nx >= 0 && nx < w && row[nx] {
					tmp[y*w+x] = true
					break
				}
			}
		}
	}
	out := make([]bool, w*h)
	for y := range h {
		for x := range w {
			for dy := -half; dy <= half; dy++ {
				ny := y + dy
				if ny >= 0 && ny < h && tmp[ny*w+x] {
					out[y*w+x] = true
					break
				}
			}
		}
	}
	return out
}

// componentRects returns the bounding rectangle of every 8-connected
// foreground component.
func componentRects(mask []bool, w, h int) []image.Rectangle {
	visited := make([]bool, w*h)
	var rects []image.Rectangle
	var queue []int
	for start, fg := range mask {
		if !fg || visited[start] {
			continue
		}
		minX, minY := start%w, start/w
		maxX, maxY := minX, minY
		queue = append(queue[:0], start)
		visited[start] = true
		for len(queue) > 0 {
			i := queue[len(queue)-1]
			queue = queue[:len(queue)-1]
			x, y := i%w, i/w
			minX, maxX = min(minX, x), max(maxX, x)
			minY, maxY = min(minY, y), max(maxY, y)
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					nx, ny := x+dx, y+dy
					if nx < 0 || ny < 0 || nx >= w || ny >= h {
						continue
					}
					n := ny*w + nx
					if mask[n] && !visited[n] {
						visited[n] = true
						queue = append(queue, n)
					}
				}
			}
		}
		rects = append(rects, image.Rect(minX, minY, maxX+1, maxY+1))
	}
	return rects
}

// externalRects drops rectangles nested inside another component's
// rectangle, approximating outer-contour-only retrieval.
func externalRects(rects []image.Rectangle) []image.Rectangle {
	out := make([]image.Rectangle, 0, len(rects))
	for i, r := range rects {
		nested := false
		for j, o := range rects {
			if i != j && r.In(o) && r != o {
				nested = true
				break
			}
		}
		if !nested {
			out = append(out, r)
		}
	}
	return out
}
