package support

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/MeKo-Tech/omnishelf/internal/catalog"
	"github.com/MeKo-Tech/omnishelf/internal/common"
	"github.com/MeKo-Tech/omnishelf/internal/detection"
	"github.com/MeKo-Tech/omnishelf/internal/pipeline"
	"github.com/MeKo-Tech/omnishelf/internal/server"
	"github.com/MeKo-Tech/omnishelf/internal/store"
	"github.com/MeKo-Tech/omnishelf/internal/utils"
)

// MockPipeline returns a fixed shelf result for any decodable image.
type MockPipeline struct {
	mu       sync.Mutex
	Calls    int
	FailWith error
}

// DetectBytes decodes data and returns two catalog products.
func (m *MockPipeline) DetectBytes(ctx context.Context, data []byte, obs pipeline.Observer) (*pipeline.Result, error) {
	m.mu.Lock()
	m.Calls++
	failWith := m.FailWith
	m.mu.Unlock()

	img, _, err := utils.DecodeImage(data)
	if err != nil {
		return nil, &common.InputError{Err: err}
	}
	if failWith != nil {
		return nil, failWith
	}
	if obs == nil {
		obs = pipeline.NoOpObserver{}
	}
	obs.OnStateChange(pipeline.StateProposing)
	obs.OnStateChange(pipeline.StateClassifying)
	obs.OnProgress("classify", 2, 2)
	obs.OnStateChange(pipeline.StateDone)

	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	dets := []detection.Detection{
		mockDetection(0, utils.NewBox(60, 120, 160, 280), "grozi_19", "Coca Cola", "Beverages", 0.93),
		mockDetection(1, utils.NewBox(240, 100, 360, 280), "grozi_32", "Lay's Classic Chips", "Snacks", 0.88),
	}
	for i := range dets {
		dets[i].Region.Box = dets[i].Region.Box.Clamp(w, h)
	}
	return &pipeline.Result{
		ImageWidth:      w,
		ImageHeight:     h,
		TotalProposals:  6,
		TotalClassified: len(dets),
		Detections:      dets,
		ProductCounts:   detection.CountProducts(dets),
		Timings:         map[string]time.Duration{"propose": time.Millisecond, "classify": time.Millisecond},
		TotalDuration:   2 * time.Millisecond,
	}, nil
}

func mockDetection(id int, box utils.Box, code, name, category string, conf float64) detection.Detection {
	return detection.Detection{
		Region:             detection.Region{ID: id, Box: box, Method: detection.MethodContour},
		ProductCode:        code,
		DisplayName:        name,
		Category:           category,
		Confidence:         conf,
		SourceMethod:       detection.MethodContour,
		VerificationStatus: detection.StatusUnverified,
	}
}

// Catalog returns the built-in catalog.
func (m *MockPipeline) Catalog() *catalog.Catalog { return catalog.Default() }

// Info describes the mock.
func (m *MockPipeline) Info() map[string]any { return map[string]any{"proposer": "mock"} }

// VerifierAvailable is always false for the mock.
func (m *MockPipeline) VerifierAvailable() bool { return false }

// Close is a no-op for the mock pipeline.
func (m *MockPipeline) Close() {}

// startTestHTTPServer serves the real handlers over httptest with a mock
// pipeline, optionally backed by a scan store.
func (testCtx *TestContext) startTestHTTPServer(withStore bool, cfg server.Config) error {
	testCtx.stopTestHTTPServer()

	mock := &MockPipeline{}
	var st *store.Store
	if withStore {
		testCtx.StorePath = testCtx.TempPath("scans.db")
		var err error
		st, err = store.Open(testCtx.StorePath, mock.Catalog())
		if err != nil {
			return fmt.Errorf("failed to open scan store: %w", err)
		}
	}

	srv := server.New(mock, st, cfg)
	mux := http.NewServeMux()
	srv.SetupRoutes(mux)

	testCtx.MockPipeline = mock
	testCtx.APIServer = srv
	testCtx.HTTPServer = httptest.NewServer(mux)
	return nil
}

func (testCtx *TestContext) stopTestHTTPServer() {
	if testCtx.HTTPServer == nil {
		return
	}
	testCtx.HTTPServer.Close()
	testCtx.HTTPServer = nil
	if testCtx.APIServer != nil {
		_ = testCtx.APIServer.Close()
		testCtx.APIServer = nil
	}
}

func (testCtx *TestContext) serverURL(path string) (string, error) {
	if testCtx.HTTPServer == nil {
		return "", errors.New("no test server is running")
	}
	return testCtx.HTTPServer.URL + path, nil
}
