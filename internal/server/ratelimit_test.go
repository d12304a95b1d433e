package server

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newClockedLimiter(rps float64, burst, reqs int, data int64) (*RateLimiter, *fakeClock) {
	rl := NewRateLimiter(rps, burst, reqs, data)
	clock := &fakeClock{t: time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)}
	rl.now = clock.now
	return rl, clock
}

func TestRateLimiterTokenBucket(t *testing.T) {
	rl, clock := newClockedLimiter(1, 2, 0, 0)

	require.NoError(t, rl.CheckRateLimit("a", 0))
	require.NoError(t, rl.CheckRateLimit("a", 0))

	err := rl.CheckRateLimit("a", 0)
	var rlErr *RateLimitError
	require.ErrorAs(t, err, &rlErr)
	assert.Equal(t, "rate", rlErr.Type)
	assert.InDelta(t, 1.0, rlErr.Limit, 1e-9)
	assert.Positive(t, rlErr.RetryAfter)

	// Other clients have their own bucket.
	require.NoError(t, rl.CheckRateLimit("b", 0))

	clock.advance(time.Second)
	require.NoError(t, rl.CheckRateLimit("a", 0))
	assert.Equal(t, 3, rl.RequestsToday("a"))
}

func TestRateLimiterRequestQuota(t *testing.T) {
	rl, clock := newClockedLimiter(0, 1, 2, 0)

	require.NoError(t, rl.CheckRateLimit("a", 0))
	require.NoError(t, rl.CheckRateLimit("a", 0))

	err := rl.CheckRateLimit("a", 0)
	var qErr *QuotaExceededError
	require.ErrorAs(t, err, &qErr)
	assert.Equal(t, "requests", qErr.Type)
	assert.Equal(t, int64(2), qErr.Used)
	assert.Equal(t, time.Date(2026, 5, 5, 0, 0, 0, 0, time.UTC), qErr.Resets)

	clock.advance(24 * time.Hour)
	require.NoError(t, rl.CheckRateLimit("a", 0))
	assert.Equal(t, 1, rl.RequestsToday("a"))
}

func TestRateLimiterDataQuota(t *testing.T) {
	rl, _ := newClockedLimiter(0, 1, 0, 100)

	require.NoError(t, rl.CheckRateLimit("a", 60))
	err := rl.CheckRateLimit("a", 60)
	var qErr *QuotaExceededError
	require.ErrorAs(t, err, &qErr)
	assert.Equal(t, "data", qErr.Type)
	assert.Equal(t, int64(60), qErr.Used)
	require.NoError(t, rl.CheckRateLimit("a", 40))
}

func TestRateLimiterPrune(t *testing.T) {
	rl, clock := newClockedLimiter(0, 1, 0, 0)
	require.NoError(t, rl.CheckRateLimit("old", 0))
	clock.advance(2 * time.Hour)
	require.NoError(t, rl.CheckRateLimit("new", 0))

	assert.Equal(t, 1, rl.Prune(time.Hour))
	assert.Equal(t, 0, rl.RequestsToday("old"))
	assert.Equal(t, 1, rl.RequestsToday("new"))
}

func TestErrorMessages(t *testing.T) {
	rlErr := &RateLimitError{Type: "rate", Limit: 2, RetryAfter: time.Second}
	assert.Contains(t, rlErr.Error(), "2.00/s")

	qErr := &QuotaExceededError{Type: "data", Limit: 10, Used: 11, Resets: time.Unix(0, 0).UTC()}
	assert.Contains(t, qErr.Error(), "quota exceeded for data")
}

func TestRateLimitMiddleware(t *testing.T) {
	s := &Server{rateLimiter: NewRateLimiter(0, 1, 1, 0)}
	calls := 0
	h := s.rateLimitMiddleware(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/detect", nil)
	req.Header.Set("X-Forwarded-For", "10.0.0.1, 10.0.0.2")

	rec := httptest.NewRecorder()
	h(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "requests", rec.Header().Get("X-Quota-Type"))
	assert.Equal(t, "1", rec.Header().Get("X-Quota-Used"))
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, s.rateLimiter.RequestsToday("10.0.0.1"))
}

func TestHandleRateLimitErrorHeaders(t *testing.T) {
	s := &Server{}

	rec := httptest.NewRecorder()
	s.handleRateLimitError(rec, &RateLimitError{Type: "rate", Limit: 0.5, RetryAfter: 1500 * time.Millisecond})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("Retry-After"))
	assert.Equal(t, "0.5", rec.Header().Get("X-RateLimit-Limit"))

	rec = httptest.NewRecorder()
	s.handleRateLimitError(rec, errors.New("boom"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
