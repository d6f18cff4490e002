package polar

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"polar-fitness-sync/internal/metrics"
)

// RateLimitTracker records the AccessLink quota reported on each response.
// AccessLink reports a short-term (15 minute) and a long-term (24 hour) window.
type RateLimitTracker struct {
	mu          sync.RWMutex
	limitShort  int
	usageShort  int
	limitLong   int
	usageLong   int
	resetShort  time.Duration
	resetLong   time.Duration
	lastUpdated time.Time
}

// RateLimitStatus is a snapshot of the tracked quota
type RateLimitStatus struct {
	LimitShortTerm    int
	UsageShortTerm    int
	LimitLongTerm     int
	UsageLongTerm     int
	UsageShortTermPct float64
	UsageLongTermPct  float64
	ResetShortTerm    time.Duration
	ResetLongTerm     time.Duration
	LastUpdated       time.Time
}

// NewRateLimitTracker creates a tracker with no observations
func NewRateLimitTracker() *RateLimitTracker {
	return &RateLimitTracker{}
}

// Observe parses the RateLimit-* headers, ignoring responses that lack them
func (rl *RateLimitTracker) Observe(headers http.Header) bool {
	limits := splitPair(headers.Get("RateLimit-Limit"))
	usages := splitPair(headers.Get("RateLimit-Usage"))
	if limits == nil || usages == nil {
		return false
	}

	resets := splitPair(headers.Get("RateLimit-Reset"))

	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.limitShort, rl.limitLong = limits[0], limits[1]
	rl.usageShort, rl.usageLong = usages[0], usages[1]
	if resets != nil {
		rl.resetShort = time.Duration(resets[0]) * time.Second
		rl.resetLong = time.Duration(resets[1]) * time.Second
	}
	rl.lastUpdated = time.Now()

	metrics.PolarRateLimitUsage.WithLabelValues(metrics.WindowShortTerm, metrics.BucketLimit).Set(float64(rl.limitShort))
	metrics.PolarRateLimitUsage.WithLabelValues(metrics.WindowShortTerm, metrics.BucketUsage).Set(float64(rl.usageShort))
	metrics.PolarRateLimitUsage.WithLabelValues(metrics.WindowLongTerm, metrics.BucketLimit).Set(float64(rl.limitLong))
	metrics.PolarRateLimitUsage.WithLabelValues(metrics.WindowLongTerm, metrics.BucketUsage).Set(float64(rl.usageLong))

	return true
}

// Status returns the current rate limit status
func (rl *RateLimitTracker) Status() RateLimitStatus {
	rl.mu.RLock()
	defer rl.mu.RUnlock()

	return RateLimitStatus{
		LimitShortTerm:    rl.limitShort,
		UsageShortTerm:    rl.usageShort,
		LimitLongTerm:     rl.limitLong,
		UsageLongTerm:     rl.usageLong,
		UsageShortTermPct: percent(rl.usageShort, rl.limitShort),
		UsageLongTermPct:  percent(rl.usageLong, rl.limitLong),
		ResetShortTerm:    rl.resetShort,
		ResetLongTerm:     rl.resetLong,
		LastUpdated:       rl.lastUpdated,
	}
}

// IsNearLimit returns true if either window is at or above threshold percent
func (rl *RateLimitTracker) IsNearLimit(threshold float64) bool {
	status := rl.Status()
	return status.UsageShortTermPct >= threshold || status.UsageLongTermPct >= threshold
}

func percent(usage, limit int) float64 {
	if limit <= 0 {
		return 0
	}
	return float64(usage) / float64(limit) * 100
}

// splitPair parses "a, b" into two ints, returning nil when malformed
func splitPair(header string) []int {
	if header == "" {
		return nil
	}
	parts := strings.Split(header, ",")
	if len(parts) != 2 {
		return nil
	}
	out := make([]int, 2)
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil
		}
		out[i] = v
	}
	return out
}
