package yolo

import (
	"path/filepath"
	"testing"

	"github.com/MeKo-Tech/omnishelf/internal/common"
	"github.com/MeKo-Tech/omnishelf/internal/onnx"
	"github.com/MeKo-Tech/omnishelf/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// yoloOutput builds a [1, 4+nc, n] tensor from per-anchor rows of
// (xc, yc, w, h, scores...).
func yoloOutput(rows [][]float32) onnx.Output {
	channels := len(rows[0])
	n := len(rows)
	data := make([]float32, channels*n)
	for i, r := range rows {
		for c, v := range r {
			data[c*n+i] = v
		}
	}
	return onnx.Output{Data: data, Shape: []int64{1, int64(channels), int64(n)}}
}

func TestDecodeBoxes(t *testing.T) {
	out := yoloOutput([][]float32{
		{100, 100, 50, 50, 0.1, 0.8},
		{300, 300, 40, 40, 0.9, 0.2},
		{500, 500, 40, 40, 0.01, 0.02},
		{0, 0, 0, 0, 0, 0},
		{0, 0, 0, 0, 0, 0},
		{0, 0, 0, 0, 0, 0},
		{0, 0, 0, 0, 0, 0},
	})
	labels := Labels{Names: []string{"a", "b"}}
	preds, err := Decode(out, labels, DecodeOptions{
		MinScore: 0.25, InputW: 640, InputH: 640, OrigW: 1280, OrigH: 640,
	})
	require.NoError(t, err)
	require.Len(t, preds, 2)

	assert.Equal(t, 1, preds[0].ClassID)
	assert.Equal(t, "b", preds[0].Label)
	assert.InDelta(t, 0.8, preds[0].Score, 1e-6)
	assert.InDelta(t, 150.0, preds[0].Box.MinX, 1e-6)
	assert.InDelta(t, 75.0, preds[0].Box.MinY, 1e-6)
	assert.InDelta(t, 250.0, preds[0].Box.MaxX, 1e-6)

	assert.Equal(t, "a", preds[1].Label)
}

func TestDecodeBoxesTransposedAndNMS(t *testing.T) {
	rows := [][]float32{
		{100, 100, 50, 50, 0.9},
		{102, 100, 50, 50, 0.7},
		{400, 400, 50, 50, 0.6},
	}
	// [1, n, 5] layout
	data := make([]float32, 0, 15)
	for _, r := range rows {
		data = append(data, r...)
	}
	// Pad anchors so that anchors > channels.
	for range 3 {
		data = append(data, 0, 0, 0, 0, 0)
	}
	out := onnx.Output{Data: data, Shape: []int64{1, 6, 5}}

	preds, err := Decode(out, Labels{Prefix: "grozi_"}, DecodeOptions{
		MinScore: 0.5, IoUThreshold: 0.5, InputW: 640, InputH: 640, OrigW: 640, OrigH: 640,
	})
	require.NoError(t, err)
	require.Len(t, preds, 2)
	assert.InDelta(t, 0.9, preds[0].Score, 1e-6)
	assert.InDelta(t, 0.6, preds[1].Score, 1e-6)
	assert.Equal(t, "grozi_0", preds[0].Label)
}

func TestDecodeScores(t *testing.T) {
	probs := onnx.Output{Data: []float32{0.1, 0.7, 0.2}, Shape: []int64{1, 3}}
	preds, err := Decode(probs, Labels{Prefix: "grozi_"}, DecodeOptions{MinScore: 0.15, OrigW: 32, OrigH: 48})
	require.NoError(t, err)
	require.Len(t, preds, 2)
	assert.Equal(t, "grozi_1", preds[0].Label)
	assert.InDelta(t, 0.7, preds[0].Score, 1e-6)
	assert.InDelta(t, 48.0, preds[0].Box.MaxY, 1e-9)

	logits := onnx.Output{Data: []float32{2, 0, -1}, Shape: []int64{1, 3}}
	preds, err = Decode(logits, Labels{}, DecodeOptions{})
	require.NoError(t, err)
	require.Len(t, preds, 3)
	sum := 0.0
	for _, p := range preds {
		sum += p.Score
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
	assert.Greater(t, preds[0].Score, preds[1].Score)
}

func TestDecodeRejectsBadShapes(t *testing.T) {
	_, err := Decode(onnx.Output{Data: []float32{1}, Shape: []int64{1}}, Labels{}, DecodeOptions{})
	require.Error(t, err)

	_, err = Decode(onnx.Output{Data: make([]float32, 8), Shape: []int64{1, 4, 2}}, Labels{}, DecodeOptions{})
	require.Error(t, err)

	_, err = Decode(onnx.Output{Data: make([]float32, 20), Shape: []int64{2, 5, 2}}, Labels{}, DecodeOptions{})
	require.Error(t, err)
}

func TestLabels(t *testing.T) {
	path := testutil.WriteFile(t, "labels.txt", []byte("\uFEFFgrozi_1\n\ngrozi_3\n\n"))

	l, err := LoadLabels(path, "grozi_")
	require.NoError(t, err)
	assert.Equal(t, []string{"grozi_1", "", "grozi_3"}, l.Names)
	assert.Equal(t, "grozi_1", l.Name(0))
	assert.Equal(t, "grozi_1", l.Name(1))
	assert.Equal(t, "grozi_3", l.Name(2))
	assert.Equal(t, "grozi_7", l.Name(7))
	assert.Equal(t, 2, l.IndexOf("grozi_3"))
	assert.Equal(t, -1, l.IndexOf("x"))

	_, err = LoadLabels("", "")
	require.Error(t, err)
	empty := testutil.WriteFile(t, "empty.txt", []byte("\n\n"))
	_, err = LoadLabels(empty, "")
	require.Error(t, err)
}

func TestCOCOLabels(t *testing.T) {
	assert.Len(t, COCOLabels.Names, 80)
	assert.Equal(t, "bottle", COCOLabels.Name(39))
	assert.Equal(t, "toothbrush", COCOLabels.Name(79))
}

func TestNewModelMissingWeights(t *testing.T) {
	_, err := NewModel(DefaultConfig("classifier", filepath.Join(t.TempDir(), "missing.onnx")))
	var mu *common.ModelUnavailableError
	require.ErrorAs(t, err, &mu)
	assert.Equal(t, "classifier", mu.Model)
}
