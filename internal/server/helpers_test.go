package server

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/MeKo-Tech/omnishelf/internal/catalog"
	"github.com/MeKo-Tech/omnishelf/internal/common"
	"github.com/MeKo-Tech/omnishelf/internal/detection"
	"github.com/MeKo-Tech/omnishelf/internal/pipeline"
	"github.com/MeKo-Tech/omnishelf/internal/utils"
)

// mockPipeline returns a fixed shelf result and replays a short state sequence
// to the observer.
type mockPipeline struct {
	mu       sync.Mutex
	err      error
	verifier bool
	calls    int
	closed   bool
}

func (m *mockPipeline) DetectBytes(ctx context.Context, data []byte, obs pipeline.Observer) (*pipeline.Result, error) {
	m.mu.Lock()
	m.calls++
	err := m.err
	m.mu.Unlock()

	img, _, decErr := utils.DecodeImage(data)
	if decErr != nil {
		return nil, &common.InputError{Err: decErr}
	}
	if err != nil {
		return nil, err
	}
	if obs != nil {
		obs.OnStateChange(pipeline.StateProposing)
		obs.OnStateChange(pipeline.StateClassifying)
		obs.OnProgress("classify", 2, 2)
		obs.OnStateChange(pipeline.StateDone)
	}
	return mockResult(img.Bounds().Dx(), img.Bounds().Dy()), nil
}

func (m *mockPipeline) Catalog() *catalog.Catalog { return catalog.Default() }

func (m *mockPipeline) Info() map[string]any {
	return map[string]any{"proposer": "mock"}
}

func (m *mockPipeline) VerifierAvailable() bool { return m.verifier }

func (m *mockPipeline) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
}

func mockResult(w, h int) *pipeline.Result {
	dets := []detection.Detection{
		{
			Region:             detection.Region{ID: 0, Box: utils.NewBox(10, 10, 40, 60), Method: detection.MethodContour, Score: 1},
			ProductCode:        "grozi_31",
			DisplayName:        "Pringles Original",
			Category:           "Snacks",
			Confidence:         0.91,
			SourceMethod:       detection.MethodContour,
			VerificationStatus: detection.StatusUnverified,
		},
		{
			Region:             detection.Region{ID: 1, Box: utils.NewBox(50, 10, 80, 60), Method: detection.MethodContour, Score: 1},
			ProductCode:        "grozi_33",
			DisplayName:        "Doritos Nacho Cheese",
			Category:           "Snacks",
			Confidence:         0.82,
			SourceMethod:       detection.MethodContour,
			VerificationStatus: detection.StatusUnverified,
		},
	}
	return &pipeline.Result{
		ImageWidth:      w,
		ImageHeight:     h,
		TotalProposals:  5,
		TotalClassified: 2,
		Detections:      dets,
		ProductCounts:   detection.CountProducts(dets),
		Timings:         map[string]time.Duration{"propose": time.Millisecond, "classify": 2 * time.Millisecond},
		TotalDuration:   3 * time.Millisecond,
	}
}

// createTestImage creates a simple test image with the specified dimensions.
func createTestImage(width, height int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := range height {
		for x := range width {
			img.Set(x, y, color.RGBA{R: 240, G: 240, B: 240, A: 255})
		}
	}
	return img
}

func encodeImageToPNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	err := png.Encode(&buf, img)
	return buf.Bytes(), err
}

// createMultipartFormRequest creates a POST /detect request carrying an image.
func createMultipartFormRequest(imageData []byte, filename string, extraFields map[string]string) (*http.Request, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("image", filename)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(imageData); err != nil {
		return nil, err
	}

	for key, value := range extraFields {
		if err := writer.WriteField(key, value); err != nil {
			return nil, err
		}
	}

	if err := writer.Close(); err != nil {
		return nil, err
	}

	req := httptest.NewRequest(http.MethodPost, "/detect", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req, nil
}
