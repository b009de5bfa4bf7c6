package httpapi

import (
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// FloodLimiter is a coarse per-IP token bucket sitting in front of the
// API. It damps raw request floods at the transport; the admission
// gate's sliding windows remain the authoritative per-identity policy.
type FloodLimiter struct {
	limiters sync.Map // key → *floodEntry
	r        rate.Limit
	burst    int
}

type floodEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewFloodLimiter creates a limiter allowing perSecond requests with
// the given burst per key. perSecond <= 0 disables it.
func NewFloodLimiter(perSecond float64, burst int) *FloodLimiter {
	if burst <= 0 {
		burst = 10
	}
	r := rate.Limit(0)
	if perSecond > 0 {
		r = rate.Limit(perSecond)
	}
	fl := &FloodLimiter{r: r, burst: burst}
	go fl.cleanupLoop()
	return fl
}

// Allow reports whether a request from key may proceed.
func (fl *FloodLimiter) Allow(key string) bool {
	if fl.r == 0 {
		return true
	}
	entry := fl.getOrCreate(key)
	if !entry.limiter.Allow() {
		slog.Warn("http.flood_limited", "key", key)
		return false
	}
	entry.lastSeen = time.Now()
	return true
}

func (fl *FloodLimiter) getOrCreate(key string) *floodEntry {
	if v, ok := fl.limiters.Load(key); ok {
		return v.(*floodEntry)
	}
	entry := &floodEntry{
		limiter:  rate.NewLimiter(fl.r, fl.burst),
		lastSeen: time.Now(),
	}
	actual, _ := fl.limiters.LoadOrStore(key, entry)
	return actual.(*floodEntry)
}

func (fl *FloodLimiter) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		fl.cleanup()
	}
}

func (fl *FloodLimiter) cleanup() {
	cutoff := time.Now().Add(-10 * time.Minute)
	fl.limiters.Range(func(key, value any) bool {
		if value.(*floodEntry).lastSeen.Before(cutoff) {
			fl.limiters.Delete(key)
		}
		return true
	})
}
