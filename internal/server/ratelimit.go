package server

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter enforces a per-client token bucket plus daily quotas.
type RateLimiter struct {
	mu sync.Mutex

	limit rate.Limit
	burst int

	maxRequestsPerDay int
	maxDataPerDay     int64 // in bytes

	clients map[string]*clientUsage
	now     func() time.Time
}

// clientUsage tracks usage for one client.
type clientUsage struct {
	limiter       *rate.Limiter
	requestsToday int
	dataToday     int64
	dayStart      time.Time
	lastSeen      time.Time
}

// NewRateLimiter creates a limiter. requestsPerSecond <= 0 disables the
// token bucket and zero quotas are unlimited.
func NewRateLimiter(requestsPerSecond float64, burst, maxRequestsPerDay int, maxDataPerDay int64) *RateLimiter {
	limit := rate.Inf
	if requestsPerSecond > 0 {
		limit = rate.Limit(requestsPerSecond)
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		limit:             limit,
		burst:             burst,
		maxRequestsPerDay: maxRequestsPerDay,
		maxDataPerDay:     maxDataPerDay,
		clients:           make(map[string]*clientUsage),
		now:               time.Now,
	}
}

// CheckRateLimit checks whether a request from clientID is allowed and, if so,
// records it.
func (rl *RateLimiter) CheckRateLimit(clientID string, dataSize int64) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	usage := rl.client(clientID, now)

	if !sameDay(now, usage.dayStart) {
		usage.requestsToday = 0
		usage.dataToday = 0
		usage.dayStart = now
	}

	if err := rl.checkDailyQuotas(usage, dataSize, now); err != nil {
		return err
	}

	r := usage.limiter.ReserveN(now, 1)
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return &RateLimitError{Type: "rate", Limit: float64(rl.limit), RetryAfter: delay}
	}

	usage.requestsToday++
	usage.dataToday += dataSize
	usage.lastSeen = now
	return nil
}

func (rl *RateLimiter) checkDailyQuotas(usage *clientUsage, dataSize int64, now time.Time) error {
	resets := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, now.Location())
	if rl.maxRequestsPerDay > 0 && usage.requestsToday >= rl.maxRequestsPerDay {
		return &QuotaExceededError{
			Type:   "requests",
			Limit:  int64(rl.maxRequestsPerDay),
			Used:   int64(usage.requestsToday),
			Resets: resets,
		}
	}
	if rl.maxDataPerDay > 0 && usage.dataToday+dataSize > rl.maxDataPerDay {
		return &QuotaExceededError{
			Type:   "data",
			Limit:  rl.maxDataPerDay,
			Used:   usage.dataToday,
			Resets: resets,
		}
	}
	return nil
}

func (rl *RateLimiter) client(id string, now time.Time) *clientUsage {
	usage, ok := rl.clients[id]
	if !ok {
		usage = &clientUsage{
			limiter:  rate.NewLimiter(rl.limit, rl.burst),
			dayStart: now,
			lastSeen: now,
		}
		rl.clients[id] = usage
	}
	return usage
}

// Prune forgets clients idle for longer than idle.
func (rl *RateLimiter) Prune(idle time.Duration) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-idle)
	removed := 0
	for id, u := range rl.clients {
		if u.lastSeen.Before(cutoff) {
			delete(rl.clients, id)
			removed++
		}
	}
	return removed
}

// RequestsToday returns the number of accepted requests for clientID today.
func (rl *RateLimiter) RequestsToday(clientID string) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if u, ok := rl.clients[clientID]; ok {
		return u.requestsToday
	}
	return 0
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// RateLimitError represents a rate limit violation.
type RateLimitError struct {
	Type       string
	Limit      float64 // requests per second
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded (limit: %.2f/s, retry after: %v)", e.Limit, e.RetryAfter)
}

// QuotaExceededError represents a quota violation.
type QuotaExceededError struct {
	Type   string    // "requests" or "data"
	Limit  int64     // the limit that was exceeded
	Used   int64     // current usage
	Resets time.Time // when the quota resets
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("quota exceeded for %s (used: %d, limit: %d, resets: %s)",
		e.Type, e.Used, e.Limit, e.Resets.Format(time.RFC3339))
}
