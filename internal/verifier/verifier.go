// Package verifier cross-checks classified detections with an external
// vision-language model and corrects the ones it disagrees with.
package verifier

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/MeKo-Tech/omnishelf/internal/catalog"
	"github.com/MeKo-Tech/omnishelf/internal/common"
	"github.com/MeKo-Tech/omnishelf/internal/detection"
	"github.com/MeKo-Tech/omnishelf/internal/utils"
)

// EnvAPIKey is consulted when no API key is configured.
const EnvAPIKey = "OPENAI_API_KEY"

// Config configures a Verifier.
type Config struct {
	Enabled bool
	APIKey  string
	Model   string
	BaseURL string
	// TrustThreshold limits verification to detections below this
	// confidence. Values >= 1 verify every classified detection.
	TrustThreshold float64
	// OverrideConfidence is assigned to corrected detections.
	OverrideConfidence float64
	Timeout            time.Duration
	RetryBackoff       time.Duration
	MaxRetries         int
	RatePerSecond      float64
	MaxConcurrency     int
	JPEGQuality        int
}

// DefaultConfig returns the default verifier settings.
func DefaultConfig() Config {
	return Config{
		Enabled:            true,
		Model:              DefaultModel,
		TrustThreshold:     1.0,
		OverrideConfidence: 0.85,
		Timeout:            8 * time.Second,
		RetryBackoff:       500 * time.Millisecond,
		MaxRetries:         1,
		RatePerSecond:      5,
		MaxConcurrency:     4,
		JPEGQuality:        90,
	}
}

// Stats summarizes one verification pass.
type Stats struct {
	Enabled   bool `json:"enabled"`
	Attempted int  `json:"attempted"`
	Confirmed int  `json:"confirmed"`
	Corrected int  `json:"corrected"`
	Failed    int  `json:"failed"`
}

// Verifier confirms or corrects detections. A Verifier without a client is
// disabled and leaves detections untouched.
type Verifier struct {
	client  VisionClient
	catalog *catalog.Catalog
	cfg     Config
	limiter *rate.Limiter
}

// New creates a verifier around client. A nil client yields a disabled verifier.
func New(cfg Config, client VisionClient, cat *catalog.Catalog) *Verifier {
	if cat == nil {
		cat = catalog.Default()
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 1
	}
	if cfg.JPEGQuality <= 0 {
		cfg.JPEGQuality = 90
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	return &Verifier{
		client:  client,
		catalog: cat,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, cfg.MaxConcurrency),
	}
}

// NewFromConfig builds an OpenAI-backed verifier. When verification is
// disabled or no credential is available it returns a disabled verifier
// together with a VerifierUnavailableError.
func NewFromConfig(cfg Config, cat *catalog.Catalog) (*Verifier, error) {
	if !cfg.Enabled {
		return New(cfg, nil, cat), &common.VerifierUnavailableError{Reason: "disabled by configuration"}
	}
	key := cfg.APIKey
	if key == "" {
		key = os.Getenv(EnvAPIKey)
	}
	if key == "" {
		return New(cfg, nil, cat), &common.VerifierUnavailableError{Reason: "no API key (set " + EnvAPIKey + ")"}
	}
	client, err := NewOpenAIClient(key, cfg.Model, cfg.BaseURL)
	if err != nil {
		return New(cfg, nil, cat), &common.VerifierUnavailableError{Reason: "client setup failed", Err: err}
	}
	return New(cfg, client, cat), nil
}

// Available reports whether the verifier can make calls.
func (v *Verifier) Available() bool { return v != nil && v.client != nil }

// ShouldVerify reports whether d is eligible for verification.
func (v *Verifier) ShouldVerify(d detection.Detection) bool {
	if !d.Classified() {
		return false
	}
	return v.cfg.TrustThreshold >= 1 || d.Confidence < v.cfg.TrustThreshold
}

// Verify checks every eligible detection and returns an updated copy of
// dets. img must be the image the detection boxes refer to. Per-detection
// failures leave that detection unverified with VerificationError set.
func (v *Verifier) Verify(ctx context.Context, img image.Image, dets []detection.Detection) ([]detection.Detection, Stats) {
	out := make([]detection.Detection, len(dets))
	copy(out, dets)
	stats := Stats{Enabled: v.Available()}
	if !v.Available() {
		return out, stats
	}

	var idx []int
	for i, d := range out {
		if v.ShouldVerify(d) {
			idx = append(idx, i)
		}
	}
	stats.Attempted = len(idx)
	if len(idx) == 0 {
		return out, stats
	}

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		sem = make(chan struct{}, v.cfg.MaxConcurrency)
	)
	for _, i := range idx {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()

			d, err := v.verifyOne(ctx, img, out[i])
			if err != nil {
				verr := &common.PerDetectionVerificationError{Index: i, Code: out[i].ProductCode, Err: err}
				slog.Warn("verification failed", "index", i, "code", out[i].ProductCode, "error", verr)
				d = out[i]
				d.VerificationStatus = detection.StatusUnverified
				d.VerificationError = err.Error()
			}

			mu.Lock()
			defer mu.Unlock()
			out[i] = d
			switch d.VerificationStatus {
			case detection.StatusConfirmed:
				stats.Confirmed++
			case detection.StatusCorrected:
				stats.Corrected++
			default:
				stats.Failed++
			}
		}(i)
	}
	wg.Wait()

	slog.Debug("verification complete", "attempted", stats.Attempted,
		"confirmed", stats.Confirmed, "corrected", stats.Corrected, "failed", stats.Failed)
	return out, stats
}

func (v *Verifier) verifyOne(ctx context.Context, img image.Image, d detection.Detection) (detection.Detection, error) {
	crop := utils.CropImageBox(img, d.Region.Box)
	if crop.Bounds().Empty() {
		return d, errors.New("empty crop")
	}
	jpeg, err := utils.EncodeJPEG(crop, v.cfg.JPEGQuality)
	if err != nil {
		return d, err
	}

	predicted := d.DisplayName
	if predicted == "" {
		predicted = v.catalog.DisplayName(d.ProductCode)
	}
	answer, err := v.identify(ctx, jpeg, BuildPrompt(predicted, d.Confidence))
	if err != nil {
		return d, err
	}
	return v.apply(d, predicted, answer), nil
}

// apply folds a verifier answer into d.
func (v *Verifier) apply(d detection.Detection, predicted, answer string) detection.Detection {
	d.VerifierLabel = answer
	d.VerificationError = ""
	if Agrees(predicted, answer) {
		d.VerificationStatus = detection.StatusConfirmed
		return d
	}
	d.VerificationStatus = detection.StatusCorrected
	d.DisplayName = answer
	d.Confidence = v.cfg.OverrideConfidence
	if code, ok := LookupCode(answer); ok {
		d.ProductCode = code
		d.Category = v.catalog.Category(code)
	}
	return d
}

// identify calls the client with rate limiting, a per-attempt timeout and
// retries with exponential backoff.
func (v *Verifier) identify(ctx context.Context, jpeg []byte, prompt string) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= v.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := v.cfg.RetryBackoff * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
		if err := v.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("rate limiter error: %w", err)
		}

		answer, err := v.call(ctx, jpeg, prompt)
		if err == nil {
			return answer, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
	}
	return "", fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (v *Verifier) call(ctx context.Context, jpeg []byte, prompt string) (string, error) {
	if v.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.cfg.Timeout)
		defer cancel()
	}
	answer, err := v.client.Identify(ctx, jpeg, prompt)
	if err != nil {
		return "", err
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return "", errors.New("empty answer")
	}
	return answer, nil
}
