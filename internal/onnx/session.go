// Package onnx wraps ONNX Runtime session setup and tensor plumbing for the
// detection and classification models.
package onnx

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	onnxrt "github.com/yalue/onnxruntime_go"
)

// SessionConfig configures a model session.
type SessionConfig struct {
	ModelPath  string
	NumThreads int
	GPU        GPUConfig
}

// Session is a single-input single-output model session. Run is serialized
// so one Session can be shared by concurrent callers.
type Session struct {
	mu         sync.Mutex
	path       string
	session    *onnxrt.DynamicAdvancedSession
	inputInfo  onnxrt.InputOutputInfo
	outputInfo onnxrt.InputOutputInfo
	inH, inW   int
}

// NewSession validates the model file and opens an inference session.
func NewSession(cfg SessionConfig) (*Session, error) {
	if err := validateModelPath(cfg.ModelPath); err != nil {
		return nil, err
	}
	if err := ValidateGPUConfig(cfg.GPU); err != nil {
		return nil, err
	}
	if err := InitEnvironment(cfg.GPU.UseGPU); err != nil {
		return nil, err
	}

	inputs, outputs, err := onnxrt.GetInputOutputInfo(cfg.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("io info: %w", err)
	}
	in, out, err := validateModelIO(inputs, outputs)
	if err != nil {
		return nil, err
	}

	opts, err := createSessionOptions(cfg)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := opts.Destroy(); err != nil {
			slog.Warn("failed to destroy session options", "error", err)
		}
	}()

	sess, err := onnxrt.NewDynamicAdvancedSession(cfg.ModelPath, []string{in.Name}, []string{out.Name}, opts)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}

	s := &Session{path: cfg.ModelPath, session: sess, inputInfo: in, outputInfo: out}
	if h := in.Dimensions[2]; h > 0 {
		s.inH = int(h)
	}
	if w := in.Dimensions[3]; w > 0 {
		s.inW = int(w)
	}
	slog.Debug("onnx session created",
		"model", cfg.ModelPath, "input", in.Name, "output", out.Name,
		"input_h", s.inH, "input_w", s.inW)
	return s, nil
}

func validateModelPath(modelPath string) error {
	if modelPath == "" {
		return errors.New("empty model path")
	}
	if _, err := os.Stat(modelPath); err != nil {
		return err
	}
	return nil
}

func validateModelIO(inputs, outputs []onnxrt.InputOutputInfo) (onnxrt.InputOutputInfo, onnxrt.InputOutputInfo, error) {
	if len(inputs) != 1 || len(outputs) < 1 {
		return onnxrt.InputOutputInfo{}, onnxrt.InputOutputInfo{},
			fmt.Errorf("unexpected io (in:%d out:%d)", len(inputs), len(outputs))
	}
	in := inputs[0]
	if len(in.Dimensions) != 4 {
		return onnxrt.InputOutputInfo{}, onnxrt.InputOutputInfo{},
			fmt.Errorf("expected 4D input, got %dD", len(in.Dimensions))
	}
	return in, outputs[0], nil
}

func createSessionOptions(cfg SessionConfig) (*onnxrt.SessionOptions, error) {
	opts, err := onnxrt.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("session opts: %w", err)
	}
	if err := ConfigureSessionForGPU(opts, cfg.GPU); err != nil {
		slog.Warn("GPU unavailable, falling back to CPU", "error", err)
	}
	if cfg.NumThreads > 0 {
		if err := opts.SetIntraOpNumThreads(cfg.NumThreads); err != nil {
			slog.Warn("failed to set intra-op threads", "threads", cfg.NumThreads, "error", err)
		}
	}
	return opts, nil
}

// InputSize returns the fixed input height and width, or the fallback when the
// model declares dynamic dimensions.
func (s *Session) InputSize(fallback int) (int, int) {
	h, w := s.inH, s.inW
	if h <= 0 {
		h = fallback
	}
	if w <= 0 {
		w = fallback
	}
	return h, w
}

// Path returns the model file the session was loaded from.
func (s *Session) Path() string { return s.path }

// Run executes the model on one NCHW tensor and copies the first output.
func (s *Session) Run(t Tensor) (Output, error) {
	if err := VerifyImageTensor(t); err != nil {
		return Output{}, err
	}
	input, err := onnxrt.NewTensor(onnxrt.NewShape(t.Shape...), t.Data)
	if err != nil {
		return Output{}, fmt.Errorf("tensor: %w", err)
	}
	defer func() {
		if err := input.Destroy(); err != nil {
			slog.Warn("failed to destroy input tensor", "error", err)
		}
	}()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return Output{}, errors.New("session closed")
	}

	outputs := []onnxrt.Value{nil}
	if err := s.session.Run([]onnxrt.Value{input}, outputs); err != nil {
		return Output{}, fmt.Errorf("run: %w", err)
	}
	defer func() {
		for _, o := range outputs {
			if o == nil {
				continue
			}
			if err := o.Destroy(); err != nil {
				slog.Warn("failed to destroy output tensor", "error", err)
			}
		}
	}()

	ot, ok := outputs[0].(*onnxrt.Tensor[float32])
	if !ok {
		return Output{}, fmt.Errorf("unexpected output type %T", outputs[0])
	}
	shape := ot.GetShape()
	data := ot.GetData()
	out := Output{
		Data:  make([]float32, len(data)),
		Shape: make([]int64, len(shape)),
	}
	copy(out.Data, data)
	copy(out.Shape, shape)
	return out, nil
}

// Close releases the session.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session != nil {
		if err := s.session.Destroy(); err != nil {
			slog.Warn("failed to destroy session", "error", err)
		}
		s.session = nil
	}
}
