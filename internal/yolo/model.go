// Package yolo runs YOLOv8-style ONNX models and decodes their outputs. It
// backs both the generic object detector used for region proposals and the
// per-product classifier.
package yolo

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"sync"

	"github.com/MeKo-Tech/omnishelf/internal/common"
	"github.com/MeKo-Tech/omnishelf/internal/onnx"
	"github.com/MeKo-Tech/omnishelf/internal/utils"
)

// DefaultInputSize is used when the model declares dynamic spatial dims.
const DefaultInputSize = 640

// Config configures a Model.
type Config struct {
	// Name identifies the model in errors and logs.
	Name       string
	ModelPath  string
	LabelsPath string
	// LabelPrefix names classes missing from the labels file.
	LabelPrefix string
	// DefaultLabels are used when LabelsPath is empty.
	DefaultLabels *Labels
	InputSize     int
	// MinScore is the decode floor; stage-specific floors are applied by callers.
	MinScore     float64
	IoUThreshold float64
	NumThreads   int
	GPU          onnx.GPUConfig
}

// DefaultConfig returns defaults for a detector at path.
func DefaultConfig(name, path string) Config {
	return Config{
		Name:         name,
		ModelPath:    path,
		InputSize:    DefaultInputSize,
		MinScore:     0.05,
		IoUThreshold: 0.45,
		GPU:          onnx.DefaultGPUConfig(),
	}
}

// Model is a loaded YOLO model. Safe for concurrent use.
type Model struct {
	cfg     Config
	session *onnx.Session
	labels  Labels
	inH     int
	inW     int
	bufPool sync.Pool
}

// NewModel loads the weights and labels. Failures are reported as
// ModelUnavailableError.
func NewModel(cfg Config) (*Model, error) {
	unavailable := func(err error) error {
		return &common.ModelUnavailableError{Model: cfg.Name, Path: cfg.ModelPath, Err: err}
	}

	labels := Labels{Prefix: cfg.LabelPrefix}
	switch {
	case cfg.LabelsPath != "":
		l, err := LoadLabels(cfg.LabelsPath, cfg.LabelPrefix)
		if err != nil {
			return nil, unavailable(err)
		}
		labels = l
	case cfg.DefaultLabels != nil:
		labels = *cfg.DefaultLabels
	}

	sess, err := onnx.NewSession(onnx.SessionConfig{
		ModelPath:  cfg.ModelPath,
		NumThreads: cfg.NumThreads,
		GPU:        cfg.GPU,
	})
	if err != nil {
		return nil, unavailable(err)
	}

	fallback := cfg.InputSize
	if fallback <= 0 {
		fallback = DefaultInputSize
	}
	inH, inW := sess.InputSize(fallback)
	slog.Info("model loaded", "model", cfg.Name, "path", cfg.ModelPath,
		"input", fmt.Sprintf("%dx%d", inW, inH), "labels", len(labels.Names))

	return &Model{cfg: cfg, session: sess, labels: labels, inH: inH, inW: inW}, nil
}

// Labels returns the model's class names.
func (m *Model) Labels() Labels { return m.labels }

// InputSize returns the model input width and height.
func (m *Model) InputSize() (int, int) { return m.inW, m.inH }

// Predict runs the model on img and returns decoded predictions in img
// coordinates (relative to img.Bounds().Min).
func (m *Model) Predict(ctx context.Context, img image.Image) ([]Prediction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b := img.Bounds()
	resized, err := utils.ResizeExact(img, m.inW, m.inH)
	if err != nil {
		return nil, err
	}

	var buf []float32
	if v, ok := m.bufPool.Get().(*[]float32); ok {
		buf = *v
	}
	data, w, h, err := utils.NormalizeImageIntoBuffer(resized, buf)
	if err != nil {
		return nil, err
	}
	defer m.bufPool.Put(&data)

	tensor, err := onnx.NewImageTensor(data, 3, h, w)
	if err != nil {
		return nil, err
	}
	out, err := m.session.Run(tensor)
	if err != nil {
		return nil, fmt.Errorf("%s inference: %w", m.cfg.Name, err)
	}

	return Decode(out, m.labels, DecodeOptions{
		MinScore:     m.cfg.MinScore,
		IoUThreshold: m.cfg.IoUThreshold,
		InputW:       m.inW,
		InputH:       m.inH,
		OrigW:        b.Dx(),
		OrigH:        b.Dy(),
	})
}

// Close releases the session.
func (m *Model) Close() {
	if m.session != nil {
		m.session.Close()
	}
}
