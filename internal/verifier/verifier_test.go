package verifier

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MeKo-Tech/omnishelf/internal/catalog"
	"github.com/MeKo-Tech/omnishelf/internal/common"
	"github.com/MeKo-Tech/omnishelf/internal/detection"
	"github.com/MeKo-Tech/omnishelf/internal/testutil"
	"github.com/MeKo-Tech/omnishelf/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAgrees(t *testing.T) {
	cases := []struct {
		predicted, answer string
		want              bool
	}{
		{"Lay's Classic", "Lay's Classic Potato Chips", true},
		{"Pringles", "Doritos Nacho Cheese", false},
		{"Pringles Original", "pringles", true},
		{"Doritos Nacho Cheese", "Doritos Cool Ranch", true},
		{"Coca Cola", "Pepsi", false},
		{"Pringles", "", false},
		{"Pringles", "   ", false},
		{"", "Pringles", false},
		{"Lay’s Classic", "LAY'S CLASSIC", true},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Agrees(tc.predicted, tc.answer), "%q vs %q", tc.predicted, tc.answer)
	}
}

func TestLookupCodeFirstMatchWins(t *testing.T) {
	cases := map[string]string{
		"Pringles Sour Cream & Onion": "grozi_35",
		"Pringles":                    "grozi_36",
		"Lay's Classic Potato Chips":  "grozi_51",
		"Coca-Cola":                   "grozi_54",
		"Diet Coke":                   "grozi_54",
		"Kit Kat":                     "grozi_30",
		"Chips Ahoy":                  "grozi_107",
	}
	for answer, want := range cases {
		got, ok := LookupCode(answer)
		require.True(t, ok, answer)
		assert.Equal(t, want, got, answer)
	}

	_, ok := LookupCode("Unknown Product")
	assert.False(t, ok)
	_, ok = LookupCode("")
	assert.False(t, ok)
}

func TestBuildPrompt(t *testing.T) {
	p := BuildPrompt("Pringles Original", 0.734)
	assert.Contains(t, p, `"Pringles Original"`)
	assert.Contains(t, p, "73.4%")
	assert.Contains(t, p, "Chips Ahoy, Unknown Product")
	assert.True(t, strings.HasSuffix(p, "Respond with ONLY the product name, nothing else."))
}

type stubClient struct {
	mu      sync.Mutex
	answers map[string]string
	fail    int32
	calls   atomic.Int32
	prompts []string
}

func (s *stubClient) Identify(ctx context.Context, _ []byte, prompt string) (string, error) {
	n := s.calls.Add(1)
	if n <= s.fail {
		return "", errors.New("upstream 503")
	}
	s.mu.Lock()
	s.prompts = append(s.prompts, prompt)
	s.mu.Unlock()
	for key, answer := range s.answers {
		if strings.Contains(prompt, strconv.Quote(key)) {
			return answer, nil
		}
	}
	return "", ctx.Err()
}

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.RetryBackoff = time.Millisecond
	cfg.RatePerSecond = 0
	return cfg
}

func classified(code, name string, conf float64, box utils.Box) detection.Detection {
	return detection.Detection{
		Region:             detection.Region{Box: box, Method: detection.MethodSlidingWindow},
		ProductCode:        code,
		DisplayName:        name,
		Category:           "Snacks",
		Confidence:         conf,
		VerificationStatus: detection.StatusUnverified,
	}
}

func TestVerifyConfirmsAndCorrects(t *testing.T) {
	img := testutil.CreateTestImage(300, 200, color.White)
	client := &stubClient{answers: map[string]string{
		"Pringles Original":    "Pringles Original",
		"Doritos Nacho Cheese": "Coca-Cola",
	}}
	v := New(fastConfig(), client, catalog.Default())
	require.True(t, v.Available())

	unknown := detection.Detection{
		Region:      detection.Region{Box: utils.NewBox(0, 0, 50, 50)},
		ProductCode: detection.UnclassifiedCode,
		DisplayName: detection.UnclassifiedName,
	}
	in := []detection.Detection{
		classified("grozi_31", "Pringles Original", 0.9, utils.NewBox(0, 0, 100, 100)),
		classified("grozi_33", "Doritos Nacho Cheese", 0.6, utils.NewBox(100, 0, 200, 100)),
		unknown,
	}
	out, stats := v.Verify(context.Background(), img, in)

	assert.Equal(t, Stats{Enabled: true, Attempted: 2, Confirmed: 1, Corrected: 1}, stats)
	assert.Equal(t, int32(2), client.calls.Load())

	assert.Equal(t, detection.StatusConfirmed, out[0].VerificationStatus)
	assert.Equal(t, "grozi_31", out[0].ProductCode)
	assert.InDelta(t, 0.9, out[0].Confidence, 1e-9)

	assert.Equal(t, detection.StatusCorrected, out[1].VerificationStatus)
	assert.Equal(t, "Coca-Cola", out[1].DisplayName)
	assert.Equal(t, "grozi_54", out[1].ProductCode)
	assert.Equal(t, catalog.Default().Category("grozi_54"), out[1].Category)
	assert.InDelta(t, 0.85, out[1].Confidence, 1e-9)
	assert.Equal(t, "Coca-Cola", out[1].VerifierLabel)

	assert.Equal(t, unknown, out[2])

	// The input slice is not modified.
	assert.Equal(t, detection.StatusUnverified, in[1].VerificationStatus)
}

type cropRecorder struct {
	mu    sync.Mutex
	sizes []image.Point
}

func (c *cropRecorder) Identify(_ context.Context, data []byte, _ string) (string, error) {
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	c.mu.Lock()
	c.sizes = append(c.sizes, img.Bounds().Size())
	c.mu.Unlock()
	return "Pringles Original", nil
}

func TestVerifySendsRegionCrop(t *testing.T) {
	img := testutil.CreateTestImage(300, 200, color.White)
	rec := &cropRecorder{}
	v := New(fastConfig(), rec, catalog.Default())

	in := []detection.Detection{
		classified("grozi_31", "Pringles Original", 0.7, utils.NewBox(40, 20, 120, 170)),
	}
	out, stats := v.Verify(context.Background(), img, in)

	require.Len(t, rec.sizes, 1)
	assert.Equal(t, image.Pt(80, 150), rec.sizes[0])
	assert.Equal(t, 1, stats.Confirmed)
	assert.Equal(t, detection.StatusConfirmed, out[0].VerificationStatus)
}

func TestVerifyRetriesOnce(t *testing.T) {
	img := testutil.CreateTestImage(100, 100, color.White)
	client := &stubClient{fail: 1, answers: map[string]string{"Twix": "Twix"}}
	v := New(fastConfig(), client, nil)

	out, stats := v.Verify(context.Background(), img, []detection.Detection{
		classified("grozi_11", "Twix", 0.7, utils.NewBox(10, 10, 90, 90)),
	})
	assert.Equal(t, 1, stats.Confirmed)
	assert.Equal(t, int32(2), client.calls.Load())
	assert.Equal(t, detection.StatusConfirmed, out[0].VerificationStatus)
}

func TestVerifyFailureLeavesDetectionUnverified(t *testing.T) {
	img := testutil.CreateTestImage(100, 100, color.White)
	client := &stubClient{fail: 10}
	v := New(fastConfig(), client, nil)

	in := classified("grozi_11", "Twix", 0.7, utils.NewBox(10, 10, 90, 90))
	out, stats := v.Verify(context.Background(), img, []detection.Detection{in})

	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, int32(2), client.calls.Load(), "one call plus one retry")
	assert.Equal(t, detection.StatusUnverified, out[0].VerificationStatus)
	assert.Contains(t, out[0].VerificationError, "upstream 503")
	assert.Equal(t, in.ProductCode, out[0].ProductCode)
	assert.InDelta(t, in.Confidence, out[0].Confidence, 1e-9)
}

func TestTrustThreshold(t *testing.T) {
	img := testutil.CreateTestImage(100, 100, color.White)
	cfg := fastConfig()
	cfg.TrustThreshold = 0.8
	client := &stubClient{answers: map[string]string{"Twix": "Twix", "Snickers": "Snickers"}}
	v := New(cfg, client, nil)

	_, stats := v.Verify(context.Background(), img, []detection.Detection{
		classified("grozi_11", "Twix", 0.95, utils.NewBox(0, 0, 50, 50)),
		classified("grozi_12", "Snickers", 0.6, utils.NewBox(50, 50, 100, 100)),
	})
	assert.Equal(t, 1, stats.Attempted)
	assert.Equal(t, int32(1), client.calls.Load())
}

func TestDisabledVerifier(t *testing.T) {
	t.Setenv(EnvAPIKey, "")

	cfg := DefaultConfig()
	v, err := NewFromConfig(cfg, nil)
	var unavailable *common.VerifierUnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.False(t, v.Available())

	in := []detection.Detection{classified("grozi_11", "Twix", 0.7, utils.NewBox(0, 0, 50, 50))}
	out, stats := v.Verify(context.Background(), testutil.CreateTestImage(60, 60, color.White), in)
	assert.Equal(t, in, out)
	assert.Equal(t, Stats{}, stats)

	cfg.Enabled = false
	_, err = NewFromConfig(cfg, nil)
	require.ErrorAs(t, err, &unavailable)
	assert.Contains(t, unavailable.Reason, "disabled")
}

func TestOpenAIClientIdentify(t *testing.T) {
	var gotAuth, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		buf := new(strings.Builder)
		_, _ = io.Copy(buf, r.Body)
		gotBody = buf.String()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"chatcmpl-1","object":"chat.completion","created":1,"model":"gpt-4o",` +
			`"choices":[{"index":0,"message":{"role":"assistant","content":" Pringles Original \n"},"finish_reason":"stop"}],` +
			`"usage":{"prompt_tokens":10,"completion_tokens":3,"total_tokens":13}}`))
	}))
	defer srv.Close()

	client, err := NewOpenAIClient("sk-test", "", srv.URL)
	require.NoError(t, err)
	assert.Equal(t, DefaultModel, client.Model())

	answer, err := client.Identify(context.Background(), []byte{0xff, 0xd8}, "what is this?")
	require.NoError(t, err)
	assert.Equal(t, "Pringles Original", answer)
	assert.Equal(t, "Bearer sk-test", gotAuth)
	assert.Contains(t, gotBody, "data:image/jpeg;base64,")
	assert.Contains(t, gotBody, "what is this?")
	assert.Contains(t, gotBody, `"role":"user"`)

	_, err = NewOpenAIClient("", "", "")
	assert.Error(t, err)
}
