package yolo

import (
	"fmt"
	"math"

	"github.com/MeKo-Tech/omnishelf/internal/nms"
	"github.com/MeKo-Tech/omnishelf/internal/onnx"
	"github.com/MeKo-Tech/omnishelf/internal/utils"
)

// Prediction is one decoded model output.
type Prediction struct {
	ClassID int
	Label   string
	Score   float64
	// Box is in original image coordinates. Classification-only outputs
	// cover the whole input.
	Box utils.Box
}

// DecodeOptions controls output decoding.
type DecodeOptions struct {
	// MinScore drops candidates before NMS.
	MinScore float64
	// IoUThreshold for class-agnostic NMS over raw boxes. Zero disables NMS.
	IoUThreshold float64
	// Input is the model input size the boxes refer to.
	InputW, InputH int
	// Original is the size of the image that was resized into the input.
	OrigW, OrigH int
}

// Decode turns a raw output tensor into predictions.
//
// Supported layouts:
//   - [1, 4+nc, N] YOLOv8 heads (xc, yc, w, h followed by class scores), also
//     the transposed [1, N, 4+nc] form;
//   - [1, nc] classification scores, softmaxed when they are not already
//     probabilities.
func Decode(out onnx.Output, labels Labels, opts DecodeOptions) ([]Prediction, error) {
	dims := out.Dims()
	switch len(dims) {
	case 2:
		return decodeScores(out.Data, dims, labels, opts)
	case 3:
		return decodeBoxes(out.Data, dims, labels, opts)
	default:
		return nil, fmt.Errorf("unexpected output shape %v", out.Shape)
	}
}

func decodeScores(data []float32, dims []int, labels Labels, opts DecodeOptions) ([]Prediction, error) {
	if dims[0] != 1 || dims[1] <= 0 || len(data) < dims[1] {
		return nil, fmt.Errorf("unexpected classification output shape %v", dims)
	}
	probs := toProbabilities(data[:dims[1]])
	full := utils.NewBox(0, 0, float64(opts.OrigW), float64(opts.OrigH))
	preds := make([]Prediction, 0, len(probs))
	for i, p := range probs {
		if p < opts.MinScore {
			continue
		}
		preds = append(preds, Prediction{ClassID: i, Label: labels.Name(i), Score: p, Box: full})
	}
	return preds, nil
}

func decodeBoxes(data []float32, dims []int, labels Labels, opts DecodeOptions) ([]Prediction, error) {
	if dims[0] != 1 {
		return nil, fmt.Errorf("batched output not supported: %v", dims)
	}
	channels, anchors := dims[1], dims[2]
	transposed := false
	if channels > anchors {
		channels, anchors = anchors, channels
		transposed = true
	}
	if channels < 5 || len(data) < channels*anchors {
		return nil, fmt.Errorf("unexpected detection output shape %v", dims)
	}
	at := func(c, i int) float64 {
		if transposed {
			return float64(data[i*channels+c])
		}
		return float64(data[c*anchors+i])
	}

	sx, sy := 1.0, 1.0
	if opts.InputW > 0 && opts.InputH > 0 {
		sx = float64(opts.OrigW) / float64(opts.InputW)
		sy = float64(opts.OrigH) / float64(opts.InputH)
	}

	numClasses := channels - 4
	preds := make([]Prediction, 0, 64)
	for i := range anchors {
		classID, best := 0, math.Inf(-1)
		for c := range numClasses {
			if s := at(4+c, i); s > best {
				best, classID = s, c
			}
		}
		if best < opts.MinScore {
			continue
		}
		xc, yc, w, h := at(0, i), at(1, i), at(2, i), at(3, i)
		box := utils.NewBox(xc-w/2, yc-h/2, xc+w/2, yc+h/2).Scale(sx, sy)
		if opts.OrigW > 0 && opts.OrigH > 0 {
			box = box.Clamp(opts.OrigW, opts.OrigH)
		}
		if box.Area() <= 0 {
			continue
		}
		preds = append(preds, Prediction{ClassID: classID, Label: labels.Name(classID), Score: best, Box: box})
	}

	if opts.IoUThreshold <= 0 || len(preds) < 2 {
		return preds, nil
	}
	boxes := make([]utils.Box, len(preds))
	scores := make([]float64, len(preds))
	for i, p := range preds {
		boxes[i] = p.Box
		scores[i] = p.Score
	}
	keep := nms.SuppressBoxes(boxes, scores, opts.IoUThreshold)
	out := make([]Prediction, len(keep))
	for i, k := range keep {
		out[i] = preds[k]
	}
	return out, nil
}

// toProbabilities passes through values that already form a distribution and
// softmaxes raw logits otherwise.
func toProbabilities(scores []float32) []float64 {
	out := make([]float64, len(scores))
	sum := 0.0
	isProb := true
	for i, s := range scores {
		v := float64(s)
		out[i] = v
		sum += v
		if v < 0 || v > 1 {
			isProb = false
		}
	}
	if isProb && math.Abs(sum-1) < 1e-3 {
		return out
	}
	maxV := math.Inf(-1)
	for _, v := range out {
		maxV = math.Max(maxV, v)
	}
	total := 0.0
	for i, v := range out {
		out[i] = math.Exp(v - maxV)
		total += out[i]
	}
	for i := range out {
		out[i] /= total
	}
	return out
}
